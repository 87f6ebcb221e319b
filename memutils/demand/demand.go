// Package demand tracks the peak number of active pages over a sliding window of time.
//
// The window is divided into NBuckets epochs. Each epoch records the largest active page count
// reported during it, and the peak over the window is the largest value across all epochs
// still in the ring.
package demand

import (
	"time"
)

const (
	lgBuckets = 4
	// NBuckets is the number of epochs the window is divided into
	NBuckets = 1 << lgBuckets
)

type Tracker struct {
	// epoch increases monotonically; epoch % NBuckets indexes activeMax
	epoch         uint64
	epochInterval uint64
	activeMax     [NBuckets]int
}

// New creates a Tracker that reports the peak over the provided window
func New(window time.Duration) *Tracker {
	tracker := &Tracker{}
	tracker.Init(window)
	return tracker
}

// Init resets the tracker to an empty window of the provided length
func (t *Tracker) Init(window time.Duration) {
	if window <= 0 {
		panic("demand window must be positive")
	}
	t.epoch = 0
	t.epochInterval = uint64(window) / NBuckets
	if t.epochInterval == 0 {
		t.epochInterval = 1
	}
	t.activeMax = [NBuckets]int{}
}

func (t *Tracker) epochIndex() uint64 {
	return t.epoch % NBuckets
}

func (t *Tracker) maybeAdvanceEpoch(now uint64) {
	nextEpochAdvance := (t.epoch + 1) * t.epochInterval
	if now < nextEpochAdvance {
		return
	}

	nextEpoch := now / t.epochInterval
	delta := nextEpoch - t.epoch

	// Each bucket only needs clearing once no matter how many epochs were skipped
	if delta > NBuckets {
		delta = NBuckets
	}
	for ; delta > 0; delta-- {
		t.epoch++
		t.activeMax[t.epochIndex()] = 0
	}
	t.epoch = nextEpoch
}

// Update records the active page count observed at now, which is measured from an arbitrary
// fixed origin and must never decrease between calls
func (t *Tracker) Update(now time.Duration, nactive int) {
	if now < 0 {
		panic("demand timestamps must not be negative")
	}
	t.maybeAdvanceEpoch(uint64(now))

	index := t.epochIndex()
	if nactive > t.activeMax[index] {
		t.activeMax[index] = nactive
	}
}

// NActiveMax returns the peak active page count in the sliding window
func (t *Tracker) NActiveMax() int {
	activeMax := t.activeMax[0]
	for i := 1; i < NBuckets; i++ {
		activeMax = max(activeMax, t.activeMax[i])
	}
	return activeMax
}
