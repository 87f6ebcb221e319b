package psset_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/pageslab/memutils"
	"github.com/vkngwrapper/pageslab/memutils/hpdata"
	"github.com/vkngwrapper/pageslab/memutils/psset"
)

func pages(n int) int {
	return memutils.PagesToBytes(n)
}

func newSlab(age uint64) *hpdata.PageSlab {
	return hpdata.New(uintptr(age+1)*uintptr(memutils.HugePageSize), age)
}

func refreshEligibility(ps *hpdata.PageSlab) {
	ps.SetPurgeAllowed(ps.NDirty() > 0)
}

// buildSlab creates a slab that has had activePages+dirtyPages pages allocated, after which the
// first dirtyPages of them were freed again
func buildSlab(age uint64, activePages, dirtyPages int, huge bool) *hpdata.PageSlab {
	ps := newSlab(age)
	if activePages+dirtyPages > 0 {
		addr := ps.ReserveAlloc(pages(activePages + dirtyPages))
		if dirtyPages > 0 {
			ps.Unreserve(addr, pages(dirtyPages))
		}
	}
	if huge {
		ps.Hugify()
	}
	refreshEligibility(ps)
	return ps
}

func requireValid(t *testing.T, set *psset.Set) {
	t.Helper()
	require.NoError(t, set.Validate())
}

func allocPages(set *psset.Set, ps *hpdata.PageSlab, npages int) uintptr {
	var addr uintptr
	set.Update(ps, func(ps *hpdata.PageSlab) {
		addr = ps.ReserveAlloc(pages(npages))
		refreshEligibility(ps)
	})
	return addr
}

func freePages(set *psset.Set, ps *hpdata.PageSlab, addr uintptr, npages int) {
	set.Update(ps, func(ps *hpdata.PageSlab) {
		ps.Unreserve(addr, pages(npages))
		refreshEligibility(ps)
	})
}
