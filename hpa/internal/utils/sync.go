package utils

import (
	"sync"
)

// OptionalMutex is a mutex that can be switched off for owners that are externally synchronized
type OptionalMutex struct {
	Mutex    sync.Mutex
	UseMutex bool
}

func (m *OptionalMutex) Lock() {
	if m.UseMutex {
		m.Mutex.Lock()
	}
}

func (m *OptionalMutex) Unlock() {
	if m.UseMutex {
		m.Mutex.Unlock()
	}
}

// Unlocked releases the mutex for the duration of fn. The caller must hold the mutex.
func (m *OptionalMutex) Unlocked(fn func()) {
	m.Unlock()
	defer m.Lock()

	fn()
}
