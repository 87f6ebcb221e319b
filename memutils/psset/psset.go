// Package psset implements the page slab set: the index a hugepage-aware allocator uses to decide
// which slab should serve an allocation, which slab should be purged, and which slab should be
// promoted to hugepage backing.
//
// A Set holds several views of the same slabs: allocation bins keyed by the size class of each
// slab's longest free range, a list of empty slabs, purge queues keyed by the size class of each
// slab's dirty page count, and a hugify queue. Any change to a resident slab's metadata must be
// bracketed by UpdateBegin and UpdateEnd (or made inside Update) so that every view can be kept
// consistent.
//
// A Set performs no synchronization. Misuse, such as updating a slab that is not in the set, is a
// programming error and panics.
package psset

import (
	"fmt"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/pageslab/memutils"
	"github.com/vkngwrapper/pageslab/memutils/fb"
	"github.com/vkngwrapper/pageslab/memutils/hpdata"
	"github.com/vkngwrapper/pageslab/memutils/internal/membership"
	"github.com/vkngwrapper/pageslab/memutils/sz"
)

const (
	// NPSizes is one more than the largest size class index a Set will bin slabs by
	NPSizes = sz.NPSizes
	// NHuge is the number of hugeness tiers: index 0 holds slabs backed by base pages, index 1
	// holds hugified slabs
	NHuge = 2

	// emptyPurgeIndex is the purge queue reserved for slabs with no active pages
	emptyPurgeIndex = NPSizes - 1

	bitmapGroups = (NPSizes + fb.GroupBits - 1) / fb.GroupBits
)

type Set struct {
	// Slabs bucketed by the size class of their longest free range
	pageSlabs      [NHuge][NPSizes]hpdata.AgeHeap
	pageSlabBitmap [NHuge][bitmapGroups]uint64

	stats Stats

	// Slabs with no active pages that may still serve allocations
	empty hpdata.EmptyList

	// Slabs with dirty pages; higher indices are purged first
	toPurge     [NHuge][NPSizes]hpdata.PurgeList
	purgeBitmap [NHuge][bitmapGroups]uint64

	// Slabs that may be backed by a hugepage, in the order they became eligible
	toHugify hpdata.HugifyList
}

var _ memutils.Validatable = &Set{}

// New creates an empty Set
func New() *Set {
	s := &Set{}
	s.Init()
	return s
}

// Init empties every bin, bitmap, list and counter in the set. Slabs previously held by the set
// are abandoned with their membership flags untouched.
func (s *Set) Init() {
	*s = Set{}
}

func hugeIndex(ps *hpdata.PageSlab) int {
	if ps.Huge() {
		return 1
	}
	return 0
}

func heapIndex(ps *hpdata.PageSlab) int {
	if ps.Full() || ps.Empty() {
		panic(fmt.Sprintf("page slab %#x has no allocation bin: full or empty slabs are not binned", ps.Addr()))
	}

	pind := sz.PagesFloorIndex(ps.LongestFreeRange())
	if pind >= NPSizes {
		panic(fmt.Sprintf("page slab %#x has an out of range free size class %d", ps.Addr(), pind))
	}
	return pind
}

func purgeIndex(ps *hpdata.PageSlab) int {
	ndirty := ps.NDirty()
	if ndirty <= 0 {
		panic(fmt.Sprintf("page slab %#x is purgeable but has no dirty pages", ps.Addr()))
	}

	// Empty slabs are the least likely to be reused and can purge every dirty page at once, so
	// they get the highest priority queue
	if ps.NActive() == 0 {
		return emptyPurgeIndex
	}

	return sz.PagesFloorIndex(ndirty)
}

// NPageSlabs returns the number of slabs in the set
func (s *Set) NPageSlabs() int { return s.stats.Merged.PageSlabs }

// NActive returns the number of active pages across every slab in the set
func (s *Set) NActive() int { return s.stats.Merged.Active }

// NDirty returns the number of dirty pages across every slab in the set
func (s *Set) NDirty() int { return s.stats.Merged.Dirty }

// Stats returns a snapshot of the set's counters. Slabs mid-update are not counted.
func (s *Set) Stats() Stats {
	return s.stats
}

func (s *Set) heapInsert(ps *hpdata.PageSlab) {
	huge := hugeIndex(ps)
	pind := heapIndex(ps)
	heap := &s.pageSlabs[huge][pind]
	if heap.Empty() {
		fb.Set(s.pageSlabBitmap[huge][:], NPSizes, pind)
	}
	heap.Insert(ps)
}

func (s *Set) heapRemove(ps *hpdata.PageSlab) {
	huge := hugeIndex(ps)
	pind := heapIndex(ps)
	heap := &s.pageSlabs[huge][pind]
	heap.Remove(ps)
	if heap.Empty() {
		fb.Unset(s.pageSlabBitmap[huge][:], NPSizes, pind)
	}
}

func (s *Set) allocContainerInsert(ps *hpdata.PageSlab) {
	if ps.InAllocContainer() {
		panic(fmt.Sprintf("page slab %#x is already in an allocation container", ps.Addr()))
	}
	membership.Of(ps).InAllocContainer = true

	if ps.Empty() {
		// Prepending here and taking the head in PickAlloc makes the empty list LIFO
		s.empty.Prepend(ps)
	} else if ps.Full() {
		// Full slabs can never serve an allocation, so they are not tracked anywhere
	} else {
		s.heapInsert(ps)
	}
}

func (s *Set) allocContainerRemove(ps *hpdata.PageSlab) {
	if !ps.InAllocContainer() {
		panic(fmt.Sprintf("page slab %#x is not in an allocation container", ps.Addr()))
	}
	membership.Of(ps).InAllocContainer = false

	if ps.Empty() {
		s.empty.Remove(ps)
	} else if ps.Full() {
		// Nothing to remove from
	} else {
		s.heapRemove(ps)
	}
}

func (s *Set) maybeInsertPurgeList(ps *hpdata.PageSlab) {
	if !ps.PurgeAllowed() {
		return
	}

	huge := hugeIndex(ps)
	ind := purgeIndex(ps)
	purgeList := &s.toPurge[huge][ind]
	if purgeList.Empty() {
		fb.Set(s.purgeBitmap[huge][:], NPSizes, ind)
	}
	purgeList.Append(ps)
	membership.Of(ps).InPurgeContainer = true
}

// maybeRemovePurgeList takes ps out of its purge queue. A slab that returns to the same queue in
// UpdateEnd goes to the back, so each queue purges its least recently updated slab first.
func (s *Set) maybeRemovePurgeList(ps *hpdata.PageSlab) {
	if !ps.PurgeAllowed() {
		if ps.InPurgeContainer() {
			panic(fmt.Sprintf("page slab %#x is in a purge queue but does not allow purging", ps.Addr()))
		}
		return
	}

	huge := hugeIndex(ps)
	ind := purgeIndex(ps)
	purgeList := &s.toPurge[huge][ind]
	purgeList.Remove(ps)
	if purgeList.Empty() {
		fb.Unset(s.purgeBitmap[huge][:], NPSizes, ind)
	}
	membership.Of(ps).InPurgeContainer = false
}

func (s *Set) hugifyListInsert(ps *hpdata.PageSlab) {
	membership.Of(ps).InHugifyContainer = true
	s.toHugify.Append(ps)
}

func (s *Set) hugifyListRemove(ps *hpdata.PageSlab) {
	membership.Of(ps).InHugifyContainer = false
	s.toHugify.Remove(ps)
}

// Insert adds ps to the set, placing it in every container its metadata makes it eligible for
func (s *Set) Insert(ps *hpdata.PageSlab) {
	if ps.InSet() {
		panic(fmt.Sprintf("page slab %#x is already in a set", ps.Addr()))
	}
	if ps.Updating() {
		panic(fmt.Sprintf("page slab %#x cannot be inserted mid-update", ps.Addr()))
	}
	memutils.DebugValidate(ps)

	membership.Of(ps).InSet = true
	s.stats.insert(ps)
	if ps.AllocAllowed() {
		s.allocContainerInsert(ps)
	}
	s.maybeInsertPurgeList(ps)

	if ps.HugifyAllowed() {
		s.hugifyListInsert(ps)
	}
}

// Remove takes ps out of the set and every container that holds it. After Remove returns the
// set holds no reference to ps.
func (s *Set) Remove(ps *hpdata.PageSlab) {
	if !ps.InSet() {
		panic(fmt.Sprintf("page slab %#x is not in the set", ps.Addr()))
	}
	if ps.Updating() {
		panic(fmt.Sprintf("page slab %#x cannot be removed mid-update", ps.Addr()))
	}

	membership.Of(ps).InSet = false
	s.stats.remove(ps)
	if ps.InAllocContainer() {
		s.allocContainerRemove(ps)
	}
	s.maybeRemovePurgeList(ps)

	if ps.InHugifyContainer() {
		s.hugifyListRemove(ps)
	}
}

// UpdateBegin detaches ps from the statistics, allocation and purge containers so that its
// metadata can be changed. The slab stays in the hugify queue so that queue remains FIFO across
// unrelated metadata changes. The slab will not be returned from PickAlloc or PickPurge until
// UpdateEnd is called.
func (s *Set) UpdateBegin(ps *hpdata.PageSlab) {
	if !ps.InSet() {
		panic(fmt.Sprintf("page slab %#x is not in the set", ps.Addr()))
	}
	if ps.Updating() {
		panic(fmt.Sprintf("page slab %#x is already being updated", ps.Addr()))
	}
	memutils.DebugValidate(ps)

	membership.Of(ps).Updating = true
	s.stats.remove(ps)
	if ps.InAllocContainer() {
		// The slab's allocation eligibility may only change inside an update
		if !ps.AllocAllowed() {
			panic(fmt.Sprintf("page slab %#x is in an allocation container but does not allow allocations", ps.Addr()))
		}
		s.allocContainerRemove(ps)
	}
	s.maybeRemovePurgeList(ps)
}

// UpdateEnd reattaches ps to every container its new metadata makes it eligible for, and adds or
// removes it from the hugify queue if its hugify eligibility changed
func (s *Set) UpdateEnd(ps *hpdata.PageSlab) {
	if !ps.InSet() {
		panic(fmt.Sprintf("page slab %#x is not in the set", ps.Addr()))
	}
	if !ps.Updating() {
		panic(fmt.Sprintf("page slab %#x is not being updated", ps.Addr()))
	}
	if ps.InAllocContainer() {
		panic(fmt.Sprintf("page slab %#x was left in an allocation container during its update", ps.Addr()))
	}
	memutils.DebugValidate(ps)

	membership.Of(ps).Updating = false
	s.stats.insert(ps)
	if ps.AllocAllowed() {
		s.allocContainerInsert(ps)
	}
	s.maybeInsertPurgeList(ps)

	if ps.HugifyAllowed() && !ps.InHugifyContainer() {
		s.hugifyListInsert(ps)
	} else if !ps.HugifyAllowed() && ps.InHugifyContainer() {
		s.hugifyListRemove(ps)
	}
}

// Update calls update between UpdateBegin and UpdateEnd. The slab is reattached even if update
// panics.
func (s *Set) Update(ps *hpdata.PageSlab, update func(ps *hpdata.PageSlab)) {
	s.UpdateBegin(ps)
	defer s.UpdateEnd(ps)

	update(ps)
}

// PickAlloc returns a slab whose longest free range can hold size bytes, or nil if there is none.
// size must be page aligned and no larger than a hugepage.
//
// Hugified slabs are preferred, then the smallest adequate size class, then the oldest slab in
// that class. Empty slabs are only used when no partially used slab fits.
func (s *Set) PickAlloc(size int) *hpdata.PageSlab {
	err := memutils.CheckSlabSize(size, "size")
	if err != nil {
		panic(err)
	}
	memutils.DebugValidate(s)

	minPind := sz.PSize2Index(sz.PSizeQuantizeCeil(size))

	for huge := NHuge - 1; huge >= 0; huge-- {
		pind := fb.FFS(s.pageSlabBitmap[huge][:], NPSizes, minPind)
		if pind == NPSizes {
			continue
		}

		ps := s.pageSlabs[huge][pind].First()
		if ps == nil {
			panic(fmt.Sprintf("allocation bin %d of hugeness %d is marked non-empty but holds no slabs", pind, huge))
		}
		return ps
	}

	return s.empty.First()
}

// PickPurge returns the slab that should be purged next, or nil if no slab is waiting to be
// purged.
//
// Empty hugified slabs come first, since they are fully dirty and purging them frees contiguous
// physical memory, then empty non-hugified slabs. After those, non-hugified slabs are preferred
// over hugified ones, and within a tier the slab with the most dirty pages wins.
func (s *Set) PickPurge() *hpdata.PageSlab {
	for huge := NHuge - 1; huge >= 0; huge-- {
		if !fb.Get(s.purgeBitmap[huge][:], NPSizes, emptyPurgeIndex) {
			continue
		}

		ps := s.toPurge[huge][emptyPurgeIndex].First()
		if ps == nil {
			panic(fmt.Sprintf("empty purge queue of hugeness %d is marked non-empty but holds no slabs", huge))
		}
		return ps
	}

	for huge := 0; huge < NHuge; huge++ {
		ind := fb.FLS(s.purgeBitmap[huge][:], NPSizes, emptyPurgeIndex-1)
		if ind < 0 {
			continue
		}

		ps := s.toPurge[huge][ind].First()
		if ps == nil {
			panic(fmt.Sprintf("purge queue %d of hugeness %d is marked non-empty but holds no slabs", ind, huge))
		}
		return ps
	}

	return nil
}

// PickHugify returns the slab that has waited longest to be hugified, or nil
func (s *Set) PickHugify() *hpdata.PageSlab {
	return s.toHugify.First()
}

// BuildStatsString writes the set's counters along with the length of its queues
func (s *Set) BuildStatsString(writer *jwriter.Writer) {
	obj := writer.Object()
	s.stats.BuildStatsString(&obj)
	obj.Name("EmptyListLength").Int(s.empty.Len())
	obj.Name("HugifyQueueLength").Int(s.toHugify.Len())

	purgeLength := 0
	for huge := 0; huge < NHuge; huge++ {
		for ind := 0; ind < NPSizes; ind++ {
			purgeLength += s.toPurge[huge][ind].Len()
		}
	}
	obj.Name("PurgeQueueLength").Int(purgeLength)
	obj.End()
}
