// Package hpdata contains the per-slab metadata record used by psset, along with the containers
// psset indexes slabs with.
//
// A PageSlab describes one hugepage-sized region of address space divided into base pages. It
// tracks which pages are active (handed out to callers) and which are touched (backed by memory
// that has not been returned to the operating system). Touched pages that are not active are dirty.
package hpdata

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/vkngwrapper/pageslab/memutils"
	"github.com/vkngwrapper/pageslab/memutils/fb"
	"github.com/vkngwrapper/pageslab/memutils/internal/membership"
)

const pageGroups = memutils.HugePagePages / fb.GroupBits

type PageSlab struct {
	addr uintptr
	age  uint64

	huge bool

	allocAllowed  bool
	purgeAllowed  bool
	hugifyAllowed bool

	// Set by the owner while a purge or hugify of this slab is in flight
	midPurge  bool
	midHugify bool

	// Written only by the psset holding this slab
	containers membership.Flags

	nactive          int
	ntouched         int
	longestFreeRange int

	active  [pageGroups]uint64
	touched [pageGroups]uint64

	links [numLinkKinds]listLink
}

var _ memutils.Validatable = &PageSlab{}

func init() {
	membership.Of = func(slab any) *membership.Flags {
		return &slab.(*PageSlab).containers
	}
}

// New creates a PageSlab for the hugepage-aligned region beginning at addr. age orders slabs within
// psset's allocation bins; lower ages are older and preferred. A new slab has no active or
// touched pages and may serve allocations.
func New(addr uintptr, age uint64) *PageSlab {
	ps := &PageSlab{}
	ps.Init(addr, age)
	return ps
}

// Init resets ps to describe a fresh, untouched region beginning at addr
func (ps *PageSlab) Init(addr uintptr, age uint64) {
	if uint(addr)&memutils.HugePageMask != 0 {
		panic(fmt.Sprintf("page slab address %#x is not hugepage aligned", addr))
	}

	*ps = PageSlab{
		addr:             addr,
		age:              age,
		allocAllowed:     true,
		longestFreeRange: memutils.HugePagePages,
	}
}

func (ps *PageSlab) Addr() uintptr         { return ps.addr }
func (ps *PageSlab) Age() uint64           { return ps.age }
func (ps *PageSlab) Huge() bool            { return ps.huge }
func (ps *PageSlab) NActive() int          { return ps.nactive }
func (ps *PageSlab) NTouched() int         { return ps.ntouched }
func (ps *PageSlab) NDirty() int           { return ps.ntouched - ps.nactive }
func (ps *PageSlab) LongestFreeRange() int { return ps.longestFreeRange }

// Empty returns true if no pages in the slab are active
func (ps *PageSlab) Empty() bool { return ps.nactive == 0 }

// Full returns true if every page in the slab is active
func (ps *PageSlab) Full() bool { return ps.nactive == memutils.HugePagePages }

// Contains returns true if addr falls within the slab
func (ps *PageSlab) Contains(addr uintptr) bool {
	return addr >= ps.addr && addr < ps.addr+uintptr(memutils.HugePageSize)
}

func (ps *PageSlab) AllocAllowed() bool  { return ps.allocAllowed }
func (ps *PageSlab) PurgeAllowed() bool  { return ps.purgeAllowed }
func (ps *PageSlab) HugifyAllowed() bool { return ps.hugifyAllowed }

func (ps *PageSlab) SetAllocAllowed(allowed bool)  { ps.allocAllowed = allowed }
func (ps *PageSlab) SetPurgeAllowed(allowed bool)  { ps.purgeAllowed = allowed }
func (ps *PageSlab) SetHugifyAllowed(allowed bool) { ps.hugifyAllowed = allowed }

func (ps *PageSlab) MidPurge() bool        { return ps.midPurge }
func (ps *PageSlab) MidHugify() bool       { return ps.midHugify }
func (ps *PageSlab) ChangingState() bool   { return ps.midPurge || ps.midHugify }
func (ps *PageSlab) SetMidPurge(mid bool)  { ps.midPurge = mid }
func (ps *PageSlab) SetMidHugify(mid bool) { ps.midHugify = mid }

// Container membership is maintained by the psset holding the slab

func (ps *PageSlab) InSet() bool             { return ps.containers.InSet }
func (ps *PageSlab) InAllocContainer() bool  { return ps.containers.InAllocContainer }
func (ps *PageSlab) InPurgeContainer() bool  { return ps.containers.InPurgeContainer }
func (ps *PageSlab) InHugifyContainer() bool { return ps.containers.InHugifyContainer }
func (ps *PageSlab) Updating() bool          { return ps.containers.Updating }

func (ps *PageSlab) pageIndex(addr uintptr) int {
	if !ps.Contains(addr) {
		panic(fmt.Sprintf("address %#x does not belong to page slab %#x", addr, ps.addr))
	}
	return memutils.BytesToPages(int(addr - ps.addr))
}

// ReserveAlloc marks size bytes of pages active and returns the address of the first one. The
// lowest-addressed free run that can fit the request is used. The slab's longest free range
// must be able to hold the request.
func (ps *PageSlab) ReserveAlloc(size int) uintptr {
	memutils.DebugCheckPageAligned(size, "size")
	npages := memutils.BytesToPages(size)
	if !ps.allocAllowed {
		panic(fmt.Sprintf("page slab %#x does not allow allocations", ps.addr))
	}
	if npages <= 0 || npages > ps.longestFreeRange {
		panic(fmt.Sprintf("page slab %#x cannot fit %d pages; its longest free range is %d pages", ps.addr, npages, ps.longestFreeRange))
	}

	start := 0
	for {
		begin, length, found := fb.URange(ps.active[:], memutils.HugePagePages, start)
		if !found {
			panic(fmt.Sprintf("page slab %#x reported a longest free range of %d pages but no free range could hold %d pages", ps.addr, ps.longestFreeRange, npages))
		}

		if length >= npages {
			start = begin
			break
		}
		start = begin + length
	}

	fb.SetRange(ps.active[:], memutils.HugePagePages, start, npages)
	ps.nactive += npages

	newlyTouched := npages - fb.CountRange(ps.touched[:], memutils.HugePagePages, start, npages)
	fb.SetRange(ps.touched[:], memutils.HugePagePages, start, npages)
	ps.ntouched += newlyTouched

	ps.longestFreeRange = fb.LongestURange(ps.active[:], memutils.HugePagePages)

	return ps.addr + uintptr(memutils.PagesToBytes(start))
}

// RangeActive returns true if every page in the size bytes beginning at addr is active. The range
// must lie within the slab.
func (ps *PageSlab) RangeActive(addr uintptr, size int) bool {
	start := ps.pageIndex(addr)
	npages := memutils.BytesToPages(size)
	if npages <= 0 || start+npages > memutils.HugePagePages {
		panic(fmt.Sprintf("range of %d pages at %#x overruns page slab %#x", npages, addr, ps.addr))
	}
	return fb.CountRange(ps.active[:], memutils.HugePagePages, start, npages) == npages
}

// Unreserve returns a range previously handed out by ReserveAlloc. The pages become dirty.
func (ps *PageSlab) Unreserve(addr uintptr, size int) {
	memutils.DebugCheckPageAligned(size, "size")
	start := ps.pageIndex(addr)
	npages := memutils.BytesToPages(size)
	if npages <= 0 || start+npages > memutils.HugePagePages {
		panic(fmt.Sprintf("range of %d pages at %#x overruns page slab %#x", npages, addr, ps.addr))
	}
	if fb.CountRange(ps.active[:], memutils.HugePagePages, start, npages) != npages {
		panic(fmt.Sprintf("range of %d pages at %#x is not fully active", npages, addr))
	}

	fb.UnsetRange(ps.active[:], memutils.HugePagePages, start, npages)
	ps.nactive -= npages
	ps.longestFreeRange = fb.LongestURange(ps.active[:], memutils.HugePagePages)
}

func (ps *PageSlab) dirtyBitmap() [pageGroups]uint64 {
	var dirty [pageGroups]uint64
	for i := range dirty {
		dirty[i] = ps.touched[i] &^ ps.active[i]
	}
	return dirty
}

// VisitDirtyRanges calls visit for each maximal run of dirty pages, in address order
func (ps *PageSlab) VisitDirtyRanges(visit func(addr uintptr, size int) error) error {
	dirty := ps.dirtyBitmap()
	start := 0
	for {
		begin, length, found := fb.SRange(dirty[:], memutils.HugePagePages, start)
		if !found {
			return nil
		}

		err := visit(ps.addr+uintptr(memutils.PagesToBytes(begin)), memutils.PagesToBytes(length))
		if err != nil {
			return err
		}
		start = begin + length
	}
}

// PurgeAll marks every dirty page as returned to the operating system and returns how many
// pages were purged
func (ps *PageSlab) PurgeAll() int {
	purged := ps.NDirty()
	ps.touched = ps.active
	ps.ntouched = ps.nactive
	return purged
}

// PurgeRange marks the dirty pages in a range as returned to the operating system and returns
// how many pages were purged. Active pages in the range are left alone, so a range collected by
// VisitDirtyRanges may be purged after pages inside it were reused.
func (ps *PageSlab) PurgeRange(addr uintptr, size int) int {
	memutils.DebugCheckPageAligned(size, "size")
	start := ps.pageIndex(addr)
	npages := memutils.BytesToPages(size)
	if npages <= 0 || start+npages > memutils.HugePagePages {
		panic(fmt.Sprintf("range of %d pages at %#x overruns page slab %#x", npages, addr, ps.addr))
	}

	purged := 0
	for page := start; page < start+npages; page++ {
		if fb.Get(ps.touched[:], memutils.HugePagePages, page) && !fb.Get(ps.active[:], memutils.HugePagePages, page) {
			fb.Unset(ps.touched[:], memutils.HugePagePages, page)
			purged++
		}
	}
	ps.ntouched -= purged
	return purged
}

// Hugify records that the slab is now backed by a hugepage. Every page in a hugepage is
// resident, so every page becomes touched.
func (ps *PageSlab) Hugify() {
	ps.huge = true
	fb.SetRange(ps.touched[:], memutils.HugePagePages, 0, memutils.HugePagePages)
	ps.ntouched = memutils.HugePagePages
}

// Dehugify records that the slab is no longer backed by a hugepage
func (ps *PageSlab) Dehugify() {
	ps.huge = false
}

// Validate recounts the slab's page bitmaps and verifies the cached counters match
func (ps *PageSlab) Validate() error {
	nactive := fb.Count(ps.active[:], memutils.HugePagePages)
	if nactive != ps.nactive {
		return errors.Errorf("page slab %#x has %d active pages but reports %d", ps.addr, nactive, ps.nactive)
	}

	ntouched := fb.Count(ps.touched[:], memutils.HugePagePages)
	if ntouched != ps.ntouched {
		return errors.Errorf("page slab %#x has %d touched pages but reports %d", ps.addr, ntouched, ps.ntouched)
	}

	for i := range ps.active {
		if ps.active[i]&^ps.touched[i] != 0 {
			return errors.Errorf("page slab %#x has active pages that are not touched", ps.addr)
		}
	}

	longest := fb.LongestURange(ps.active[:], memutils.HugePagePages)
	if longest != ps.longestFreeRange {
		return errors.Errorf("page slab %#x has a longest free range of %d pages but reports %d", ps.addr, longest, ps.longestFreeRange)
	}

	return nil
}
