package hpa

import (
	"context"
	"fmt"
	"slices"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/pageslab/hpa/internal/utils"
	"github.com/vkngwrapper/pageslab/memutils"
	"github.com/vkngwrapper/pageslab/memutils/demand"
	"github.com/vkngwrapper/pageslab/memutils/hist"
	"github.com/vkngwrapper/pageslab/memutils/hpdata"
	"github.com/vkngwrapper/pageslab/memutils/psset"
	"golang.org/x/exp/slog"
)

// Shard owns a set of page slabs and serves page-granular allocations out of them. It maps new
// slabs from its Backend as needed, and periodic calls to PurgePass and HugifyPass return dirty
// pages to the backend and promote densely used slabs to hugepages.
type Shard struct {
	logger  *slog.Logger
	backend Backend
	options shardOptions

	mutex   utils.OptionalMutex
	set     psset.Set
	slabs   *swiss.Map[uintptr, *hpdata.PageSlab]
	nextAge uint64

	demand     demand.Tracker
	allocSizes hist.Histogram

	npurgePasses uint64
	npurgedPages uint64
	nhugifies    uint64
	ndehugifies  uint64
}

type dirtyRange struct {
	addr uintptr
	size int
}

// NewShard creates a new Shard
//
// backend - The Backend that page slabs will be mapped from
//
// options - Optional parameters: it is valid to leave all the fields blank
func NewShard(logger *slog.Logger, backend Backend, options CreateOptions) (*Shard, error) {
	if backend == nil {
		return nil, errors.New("a shard cannot be created without a backend")
	}

	resolved, err := options.resolve()
	if err != nil {
		return nil, err
	}

	shard := &Shard{
		logger:  logger,
		backend: backend,
		options: resolved,
		mutex:   utils.OptionalMutex{UseMutex: resolved.useMutex},
		slabs:   swiss.NewMap[uintptr, *hpdata.PageSlab](42),
	}
	shard.set.Init()
	shard.demand.Init(resolved.demandWindow)

	return shard, nil
}

// updateEligibility recomputes whether ps may be purged or hugified. Slabs with a purge or
// hugify in flight are neither.
func (s *Shard) updateEligibility(ps *hpdata.PageSlab) {
	if ps.ChangingState() {
		ps.SetPurgeAllowed(false)
		ps.SetHugifyAllowed(false)
		return
	}

	ps.SetPurgeAllowed(!s.options.neverPurge && ps.NDirty() > 0)
	ps.SetHugifyAllowed(!s.options.neverHugify && !ps.Huge() && ps.NActive() >= s.options.hugifyThreshold)
}

func (s *Shard) updateDemandAfterLock() {
	s.demand.Update(s.options.now(), s.set.NActive())
}

// dirtyLimitAfterLock is the number of dirty pages the shard may hold once a purge pass completes
func (s *Shard) dirtyLimitAfterLock() int {
	if s.options.dirtyMultiplier < 0 {
		return 0
	}

	peak := max(s.set.NActive(), s.demand.NActiveMax())
	return int(float64(peak) * s.options.dirtyMultiplier)
}

func (s *Shard) mapSlabAfterLock() (*hpdata.PageSlab, error) {
	if s.options.slabLimit > 0 && s.slabs.Count() >= s.options.slabLimit {
		return nil, errors.Wrapf(memutils.OutOfSlabsError, "the shard already has %d page slabs mapped", s.slabs.Count())
	}

	addr, err := s.backend.Map(memutils.HugePageSize)
	if err != nil {
		s.logger.LogAttrs(context.Background(), slog.LevelError, "failed to map a page slab", slog.Any("error", err))
		return nil, err
	}

	if memutils.HugePageBase(addr) != addr {
		unmapErr := s.backend.Unmap(addr, memutils.HugePageSize)
		return nil, errors.CombineErrors(
			errors.Newf("the backend mapped a page slab at %#x, which is not hugepage aligned", addr),
			unmapErr,
		)
	}

	if _, exists := s.slabs.Get(addr); exists {
		panic(fmt.Sprintf("the backend mapped a page slab at %#x, which is already mapped", addr))
	}

	ps := hpdata.New(addr, s.nextAge)
	s.nextAge++
	s.updateEligibility(ps)

	s.slabs.Put(addr, ps)
	s.set.Insert(ps)

	s.logger.Debug("  Mapped page slab", slog.Uint64("Address", uint64(addr)), slog.Int("SlabCount", s.slabs.Count()))
	return ps, nil
}

// Alloc reserves size bytes of contiguous pages and returns the address of the first one. size
// must be page aligned and no larger than a hugepage.
func (s *Shard) Alloc(size int) (uintptr, error) {
	s.logger.Debug("Shard::Alloc", slog.Int("Size", size))

	err := memutils.CheckSlabSize(size, "size")
	if err != nil {
		return 0, err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	ps := s.set.PickAlloc(size)
	if ps == nil {
		ps, err = s.mapSlabAfterLock()
		if err != nil {
			return 0, err
		}
	}

	var addr uintptr
	s.set.Update(ps, func(ps *hpdata.PageSlab) {
		addr = ps.ReserveAlloc(size)
		s.updateEligibility(ps)
	})

	s.allocSizes.Add(uint64(size))
	s.updateDemandAfterLock()

	return addr, nil
}

// Free returns pages previously handed out by Alloc. The range may be part of an allocation but
// must lie within a single page slab, and every page in it must be allocated.
func (s *Shard) Free(addr uintptr, size int) error {
	s.logger.Debug("Shard::Free", slog.Uint64("Address", uint64(addr)), slog.Int("Size", size))

	err := memutils.CheckSlabSize(size, "size")
	if err != nil {
		return err
	}
	err = memutils.CheckPageAligned(uint(addr), "addr")
	if err != nil {
		return err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	ps, ok := s.slabs.Get(memutils.HugePageBase(addr))
	if !ok {
		return errors.Wrapf(memutils.UnknownAddressError, "cannot free %d bytes at %#x", size, addr)
	}
	if int(addr-ps.Addr())+size > memutils.HugePageSize {
		return errors.Wrapf(memutils.SizeRangeError, "range of %d bytes at %#x overruns page slab %#x", size, addr, ps.Addr())
	}

	if !ps.RangeActive(addr, size) {
		return errors.Wrapf(memutils.UnallocatedRangeError, "cannot free %d bytes at %#x", size, addr)
	}

	s.set.Update(ps, func(ps *hpdata.PageSlab) {
		ps.Unreserve(addr, size)
		s.updateEligibility(ps)
	})

	s.updateDemandAfterLock()
	return nil
}

// PurgePass returns dirty pages to the backend until the shard is within its dirty page limit,
// then unmaps empty slabs beyond CreateOptions.RetainEmpty. It returns the number of pages
// purged. The shard's lock is released while the backend purges, and slabs being purged do not
// serve allocations.
func (s *Shard) PurgePass() (int, error) {
	s.logger.Debug("Shard::PurgePass")

	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.npurgePasses++
	s.updateDemandAfterLock()

	npurged := 0
	for s.set.NDirty() > s.dirtyLimitAfterLock() {
		ps := s.set.PickPurge()
		if ps == nil {
			break
		}

		slabPurged, err := s.purgeSlabAfterLock(ps)
		npurged += slabPurged
		if err != nil {
			return npurged, err
		}
	}

	return npurged, s.releaseEmptyAfterLock()
}

func (s *Shard) purgeSlabAfterLock(ps *hpdata.PageSlab) (int, error) {
	dehugify := ps.Huge()

	var ranges []dirtyRange
	s.set.Update(ps, func(ps *hpdata.PageSlab) {
		ps.SetMidPurge(true)
		ps.SetAllocAllowed(false)
		s.updateEligibility(ps)

		_ = ps.VisitDirtyRanges(func(addr uintptr, size int) error {
			ranges = append(ranges, dirtyRange{addr: addr, size: size})
			return nil
		})
	})

	s.logger.Debug("  Purging page slab",
		slog.Uint64("Address", uint64(ps.Addr())),
		slog.Int("DirtyPages", ps.NDirty()),
		slog.Int("RangeCount", len(ranges)),
		slog.Bool("Dehugify", dehugify))

	var dehugified bool
	var purgedRanges int
	var err error
	s.mutex.Unlocked(func() {
		dehugified, purgedRanges, err = s.purgeRanges(ps.Addr(), dehugify, ranges)
	})

	npurged := 0
	s.set.Update(ps, func(ps *hpdata.PageSlab) {
		if dehugified {
			ps.Dehugify()
		}
		for _, r := range ranges[:purgedRanges] {
			npurged += ps.PurgeRange(r.addr, r.size)
		}

		ps.SetMidPurge(false)
		ps.SetAllocAllowed(true)
		s.updateEligibility(ps)
	})

	if dehugified {
		s.ndehugifies++
	}
	s.npurgedPages += uint64(npurged)

	if err != nil {
		s.logger.LogAttrs(context.Background(), slog.LevelError, "failed to purge page slab",
			slog.Uint64("Address", uint64(ps.Addr())),
			slog.Any("error", err))
	}
	return npurged, err
}

// purgeRanges runs without the shard's lock
func (s *Shard) purgeRanges(slabAddr uintptr, dehugify bool, ranges []dirtyRange) (dehugified bool, purgedRanges int, err error) {
	if dehugify {
		err = s.backend.Dehugify(slabAddr, memutils.HugePageSize)
		if err != nil {
			return false, 0, err
		}
		dehugified = true
	}

	for _, r := range ranges {
		err = s.backend.Purge(r.addr, r.size)
		if err != nil {
			return dehugified, purgedRanges, err
		}
		purgedRanges++
	}

	return dehugified, purgedRanges, nil
}

// releaseEmptyAfterLock unmaps every empty, fully purged slab beyond the oldest RetainEmpty
func (s *Shard) releaseEmptyAfterLock() error {
	var empty []*hpdata.PageSlab
	s.slabs.Iter(func(addr uintptr, ps *hpdata.PageSlab) bool {
		if ps.Empty() && ps.NTouched() == 0 && !ps.ChangingState() {
			empty = append(empty, ps)
		}
		return false
	})
	if len(empty) <= s.options.retainEmpty {
		return nil
	}

	slices.SortFunc(empty, func(left, right *hpdata.PageSlab) int {
		if left.Age() < right.Age() {
			return -1
		} else if left.Age() > right.Age() {
			return 1
		}
		return 0
	})

	for _, ps := range empty[s.options.retainEmpty:] {
		err := s.unmapSlabAfterLock(ps)
		if err != nil {
			return err
		}
	}

	return nil
}

func (s *Shard) unmapSlabAfterLock(ps *hpdata.PageSlab) error {
	err := s.backend.Unmap(ps.Addr(), memutils.HugePageSize)
	if err != nil {
		s.logger.LogAttrs(context.Background(), slog.LevelError, "failed to unmap page slab",
			slog.Uint64("Address", uint64(ps.Addr())),
			slog.Any("error", err))
		return err
	}

	s.set.Remove(ps)
	s.slabs.Delete(ps.Addr())

	s.logger.Debug("  Unmapped page slab", slog.Uint64("Address", uint64(ps.Addr())), slog.Int("SlabCount", s.slabs.Count()))
	return nil
}

// HugifyPass asks the backend to back every queued slab with a hugepage, in the order the slabs
// became eligible, and returns the number of slabs hugified. The shard's lock is released while
// the backend works.
func (s *Shard) HugifyPass() (int, error) {
	s.logger.Debug("Shard::HugifyPass")

	s.mutex.Lock()
	defer s.mutex.Unlock()

	nhugified := 0
	for {
		ps := s.set.PickHugify()
		if ps == nil {
			return nhugified, nil
		}

		s.set.Update(ps, func(ps *hpdata.PageSlab) {
			ps.SetMidHugify(true)
			s.updateEligibility(ps)
		})

		var err error
		s.mutex.Unlocked(func() {
			err = s.backend.Hugify(ps.Addr(), memutils.HugePageSize)
		})

		s.set.Update(ps, func(ps *hpdata.PageSlab) {
			if err == nil {
				ps.Hugify()
			}
			ps.SetMidHugify(false)
			s.updateEligibility(ps)
		})

		if err != nil {
			s.logger.LogAttrs(context.Background(), slog.LevelError, "failed to hugify page slab",
				slog.Uint64("Address", uint64(ps.Addr())),
				slog.Any("error", err))
			return nhugified, err
		}

		s.logger.Debug("  Hugified page slab", slog.Uint64("Address", uint64(ps.Addr())), slog.Int("ActivePages", ps.NActive()))
		s.nhugifies++
		nhugified++
	}
}

// Stats returns a snapshot of the shard's slab set and activity counters
func (s *Shard) Stats() Statistics {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return Statistics{
		PageSlabs:    s.set.Stats(),
		MappedSlabs:  s.slabs.Count(),
		PeakDemand:   s.demand.NActiveMax(),
		NPurgePasses: s.npurgePasses,
		NPurgedPages: s.npurgedPages,
		NHugifies:    s.nhugifies,
		NDehugifies:  s.ndehugifies,
		AllocSizes:   s.allocSizes,
	}
}

// AllocSizes returns a histogram of the byte sizes of every allocation the shard has served
func (s *Shard) AllocSizes() hist.Histogram {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.allocSizes
}

// Validate verifies that the shard's registry agrees with its slab set, then validates the set
func (s *Shard) Validate() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	var err error
	s.slabs.Iter(func(addr uintptr, ps *hpdata.PageSlab) bool {
		if ps.Addr() != addr {
			err = errors.Newf("page slab %#x is registered at %#x", ps.Addr(), addr)
		} else if !ps.InSet() {
			err = errors.Newf("page slab %#x is registered but not in the slab set", addr)
		}
		return err != nil
	})
	if err != nil {
		return err
	}

	if s.slabs.Count() != s.set.NPageSlabs() {
		return errors.Newf("the shard has %d page slabs registered but the slab set counts %d", s.slabs.Count(), s.set.NPageSlabs())
	}

	return s.set.Validate()
}

// BuildStatsString writes the shard's counters and slab set statistics
func (s *Shard) BuildStatsString(writer *jwriter.Writer) {
	obj := writer.Object()
	defer obj.End()

	s.buildStatsObject(&obj)
}

func (s *Shard) buildStatsObject(obj *jwriter.ObjectState) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	obj.Name("MappedSlabs").Int(s.slabs.Count())
	obj.Name("PeakDemand").Int(s.demand.NActiveMax())
	obj.Name("PurgePasses").Int(int(s.npurgePasses))
	obj.Name("PurgedPages").Int(int(s.npurgedPages))
	obj.Name("Hugifies").Int(int(s.nhugifies))
	obj.Name("Dehugifies").Int(int(s.ndehugifies))

	sizes := obj.Name("AllocSizes").Object()
	s.allocSizes.BuildStatsString(&sizes)
	sizes.End()

	s.set.BuildStatsString(obj.Name("PageSlabs"))
}

// Destroy unmaps every page slab. It fails if any pages are still allocated.
func (s *Shard) Destroy() error {
	s.logger.Debug("Shard::Destroy")

	s.mutex.Lock()
	defer s.mutex.Unlock()

	memutils.DebugValidate(&s.set)
	if s.set.NActive() > 0 {
		return errors.Errorf("the shard still has %d active pages that remain unfreed", s.set.NActive())
	}

	var slabs []*hpdata.PageSlab
	s.slabs.Iter(func(addr uintptr, ps *hpdata.PageSlab) bool {
		slabs = append(slabs, ps)
		return false
	})

	for _, ps := range slabs {
		if ps.ChangingState() {
			return errors.Newf("page slab %#x cannot be unmapped while a purge or hugify is in flight", ps.Addr())
		}
		err := s.unmapSlabAfterLock(ps)
		if err != nil {
			return err
		}
	}

	return nil
}
