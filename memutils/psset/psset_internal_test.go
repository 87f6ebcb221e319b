package psset

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/pageslab/memutils"
	"github.com/vkngwrapper/pageslab/memutils/hpdata"
)

func TestInsertRemoveRestoresIndexes(t *testing.T) {
	set := New()

	var slabs []*hpdata.PageSlab
	for i := 0; i < 6; i++ {
		ps := hpdata.New(uintptr(i+1)*uintptr(memutils.HugePageSize), uint64(i))
		if i > 0 {
			addr := ps.ReserveAlloc(memutils.PagesToBytes(i * 80))
			ps.Unreserve(addr, memutils.PagesToBytes(i*10))
		}
		if i%2 == 1 {
			ps.Hugify()
		}
		ps.SetPurgeAllowed(ps.NDirty() > 0)
		ps.SetHugifyAllowed(!ps.Huge())
		slabs = append(slabs, ps)
		set.Insert(ps)
	}
	require.NoError(t, set.Validate())
	require.NotEqual(t, [NHuge][bitmapGroups]uint64{}, set.pageSlabBitmap)
	require.NotEqual(t, [NHuge][bitmapGroups]uint64{}, set.purgeBitmap)

	for _, ps := range slabs {
		set.Remove(ps)
		require.False(t, ps.InSet())
		require.False(t, ps.InAllocContainer())
		require.False(t, ps.InPurgeContainer())
		require.False(t, ps.InHugifyContainer())
	}

	require.Equal(t, Stats{}, set.stats)
	require.Equal(t, [NHuge][bitmapGroups]uint64{}, set.pageSlabBitmap)
	require.Equal(t, [NHuge][bitmapGroups]uint64{}, set.purgeBitmap)
	require.True(t, set.empty.Empty())
	require.True(t, set.toHugify.Empty())
	for huge := 0; huge < NHuge; huge++ {
		for pind := 0; pind < NPSizes; pind++ {
			require.True(t, set.pageSlabs[huge][pind].Empty())
			require.True(t, set.toPurge[huge][pind].Empty())
		}
	}
	require.NoError(t, set.Validate())
}

func TestPurgeIndex(t *testing.T) {
	ps := hpdata.New(uintptr(memutils.HugePageSize), 0)
	require.Panics(t, func() { purgeIndex(ps) })

	addr := ps.ReserveAlloc(memutils.PagesToBytes(64))
	ps.Unreserve(addr, memutils.PagesToBytes(16))
	require.Equal(t, 16, ps.NDirty())
	require.Less(t, purgeIndex(ps), emptyPurgeIndex)

	ps.Unreserve(addr+uintptr(memutils.PagesToBytes(16)), memutils.PagesToBytes(48))
	require.Equal(t, emptyPurgeIndex, purgeIndex(ps))
}

func TestHeapIndexRejectsEmptyAndFull(t *testing.T) {
	ps := hpdata.New(uintptr(memutils.HugePageSize), 0)
	require.Panics(t, func() { heapIndex(ps) })

	ps.ReserveAlloc(memutils.HugePageSize)
	require.Panics(t, func() { heapIndex(ps) })
}
