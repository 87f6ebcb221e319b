package hpa

import (
	"fmt"
	"math/bits"
	"strings"
)

// CreateFlags indicate specific shard behaviors to activate or deactivate
type CreateFlags int32

var createFlagNames = map[CreateFlags]string{}

func (f CreateFlags) Register(str string) {
	if bits.OnesCount32(uint32(f)) != 1 {
		panic(fmt.Sprintf("attempted to register a name for %#x, which is not a single flag", uint32(f)))
	}
	createFlagNames[f] = str
}

func (f CreateFlags) String() string {
	if f == 0 {
		return "None"
	}

	var names []string
	for remaining := uint32(f); remaining != 0; remaining &= remaining - 1 {
		flag := CreateFlags(remaining & -remaining)
		name, ok := createFlagNames[flag]
		if !ok {
			name = fmt.Sprintf("UnknownFlag(%#x)", uint32(flag))
		}
		names = append(names, name)
	}

	return strings.Join(names, "|")
}

const (
	// CreateExternallySynchronized ensures that shards created with this flag are not
	// synchronized internally. The consumer must guarantee that each shard is used from only one
	// goroutine at a time or is synchronized by some other mechanism. Pool-wide passes still run
	// shards in parallel, so a pool created with this flag must not be used while Purge or Hugify
	// is running.
	CreateExternallySynchronized CreateFlags = 1 << iota
	// CreateNeverHugify prevents slabs from ever being queued for hugepage promotion
	CreateNeverHugify
	// CreateNeverPurge prevents PurgePass from returning dirty pages to the backend. Empty slabs
	// are still released.
	CreateNeverPurge
)

func init() {
	CreateExternallySynchronized.Register("CreateExternallySynchronized")
	CreateNeverHugify.Register("CreateNeverHugify")
	CreateNeverPurge.Register("CreateNeverPurge")
}
