package hpa

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/pageslab/memutils"
)

const (
	// defaultDirtyMultiplier is the DirtyMultiplier used when none is provided via CreateOptions
	defaultDirtyMultiplier float64 = 0.25
	// defaultHugifyThreshold is the HugifyThreshold used when none is provided via CreateOptions.
	// It is 95% of a slab's pages.
	defaultHugifyThreshold int = memutils.HugePagePages * 95 / 100
	// defaultPeakDemandWindow is the PeakDemandWindow used when none is provided via CreateOptions
	defaultPeakDemandWindow time.Duration = 5 * time.Second
)

// CreateOptions contains optional settings when creating a shard or pool. It is valid to leave
// all the fields blank.
type CreateOptions struct {
	// Flags indicates specific shard behaviors to activate or deactivate
	Flags CreateFlags

	// SlabLimit is the largest number of page slabs a single shard may have mapped at once. Alloc
	// returns memutils.OutOfSlabsError when it would need to map more. Zero means no limit.
	SlabLimit int

	// DirtyMultiplier bounds the number of dirty pages a shard keeps after a purge pass, as a
	// fraction of its peak active page count over PeakDemandWindow. Zero selects the default of
	// 0.25. Negative values purge every dirty page.
	DirtyMultiplier float64

	// HugifyThreshold is the number of active pages at which a slab is queued for hugepage
	// promotion. Zero selects 95% of a slab.
	HugifyThreshold int

	// PeakDemandWindow is the length of the sliding window used to track peak demand. Zero
	// selects five seconds.
	PeakDemandWindow time.Duration

	// RetainEmpty is the number of empty, fully purged slabs a shard keeps mapped at the end of a
	// purge pass. The rest are unmapped.
	RetainEmpty int

	// Now returns a monotonic timestamp measured from any fixed origin. It is used for peak
	// demand tracking. When nil, time elapsed since the shard was created is used.
	Now func() time.Duration
}

type shardOptions struct {
	useMutex        bool
	neverHugify     bool
	neverPurge      bool
	slabLimit       int
	dirtyMultiplier float64
	hugifyThreshold int
	demandWindow    time.Duration
	retainEmpty     int
	now             func() time.Duration
}

func (o CreateOptions) resolve() (shardOptions, error) {
	resolved := shardOptions{
		useMutex:        o.Flags&CreateExternallySynchronized == 0,
		neverHugify:     o.Flags&CreateNeverHugify != 0,
		neverPurge:      o.Flags&CreateNeverPurge != 0,
		slabLimit:       o.SlabLimit,
		dirtyMultiplier: o.DirtyMultiplier,
		hugifyThreshold: o.HugifyThreshold,
		demandWindow:    o.PeakDemandWindow,
		retainEmpty:     o.RetainEmpty,
		now:             o.Now,
	}

	if resolved.slabLimit < 0 {
		return resolved, errors.Newf("hpa.CreateOptions.SlabLimit must not be negative, but was %d", o.SlabLimit)
	}
	if resolved.retainEmpty < 0 {
		return resolved, errors.Newf("hpa.CreateOptions.RetainEmpty must not be negative, but was %d", o.RetainEmpty)
	}
	if resolved.hugifyThreshold < 0 || resolved.hugifyThreshold > memutils.HugePagePages {
		return resolved, errors.Newf("hpa.CreateOptions.HugifyThreshold must be between 0 and %d pages, but was %d", memutils.HugePagePages, o.HugifyThreshold)
	}
	if resolved.demandWindow < 0 {
		return resolved, errors.Newf("hpa.CreateOptions.PeakDemandWindow must not be negative, but was %s", o.PeakDemandWindow)
	}

	if resolved.dirtyMultiplier == 0 {
		resolved.dirtyMultiplier = defaultDirtyMultiplier
	}
	if resolved.hugifyThreshold == 0 {
		resolved.hugifyThreshold = defaultHugifyThreshold
	}
	if resolved.demandWindow == 0 {
		resolved.demandWindow = defaultPeakDemandWindow
	}
	if resolved.now == nil {
		start := time.Now()
		resolved.now = func() time.Duration {
			return time.Since(start)
		}
	}

	return resolved, nil
}
