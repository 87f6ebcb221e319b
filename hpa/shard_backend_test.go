package hpa_test

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/pageslab/hpa"
	"github.com/vkngwrapper/pageslab/hpa/mocks"
	"github.com/vkngwrapper/pageslab/memutils"
	"go.uber.org/mock/gomock"
)

const mockSlabAddr uintptr = 16 * uintptr(memutils.HugePageSize)

func readyMockShard(t *testing.T, options hpa.CreateOptions) (*mocks.MockBackend, *hpa.Shard) {
	ctrl := gomock.NewController(t)
	backend := mocks.NewMockBackend(ctrl)

	shard, err := hpa.NewShard(testLogger(), backend, options)
	require.NoError(t, err)

	return backend, shard
}

func TestShardBackend_MapFailure(t *testing.T) {
	backend, shard := readyMockShard(t, hpa.CreateOptions{})

	mapErr := errors.New("out of address space")
	backend.EXPECT().Map(memutils.HugePageSize).Return(uintptr(0), mapErr)

	_, err := shard.Alloc(pages(1))
	require.ErrorIs(t, err, mapErr)
	require.Equal(t, 0, shard.Stats().MappedSlabs)
}

func TestShardBackend_MisalignedMap(t *testing.T) {
	backend, shard := readyMockShard(t, hpa.CreateOptions{})

	backend.EXPECT().Map(memutils.HugePageSize).Return(mockSlabAddr+uintptr(memutils.PageSize), nil)
	backend.EXPECT().Unmap(mockSlabAddr+uintptr(memutils.PageSize), memutils.HugePageSize).Return(nil)

	_, err := shard.Alloc(pages(1))
	require.Error(t, err)
	require.Equal(t, 0, shard.Stats().MappedSlabs)
}

func TestShardBackend_PurgeOrder(t *testing.T) {
	backend, shard := readyMockShard(t, hpa.CreateOptions{DirtyMultiplier: -1})

	backend.EXPECT().Map(memutils.HugePageSize).Return(mockSlabAddr, nil)
	addr, err := shard.Alloc(pages(500))
	require.NoError(t, err)

	backend.EXPECT().Hugify(mockSlabAddr, memutils.HugePageSize).Return(nil)
	nhugified, err := shard.HugifyPass()
	require.NoError(t, err)
	require.Equal(t, 1, nhugified)

	require.NoError(t, shard.Free(addr+uintptr(pages(100)), pages(100)))

	// Pages 100-199 and 500-511 are dirty once the slab is hugified
	gomock.InOrder(
		backend.EXPECT().Dehugify(mockSlabAddr, memutils.HugePageSize).Return(nil),
		backend.EXPECT().Purge(mockSlabAddr+uintptr(pages(100)), pages(100)).Return(nil),
		backend.EXPECT().Purge(mockSlabAddr+uintptr(pages(500)), pages(12)).Return(nil),
	)

	npurged, err := shard.PurgePass()
	require.NoError(t, err)
	require.Equal(t, 112, npurged)

	stats := shard.Stats()
	require.Equal(t, 0, stats.PageSlabs.Slabs[1].PageSlabs)
	require.Equal(t, 400, stats.PageSlabs.Slabs[0].Active)
	require.Equal(t, 0, stats.PageSlabs.Merged.Dirty)
	require.NoError(t, shard.Validate())
}

func TestShardBackend_PurgeFailure(t *testing.T) {
	backend, shard := readyMockShard(t, hpa.CreateOptions{DirtyMultiplier: -1})

	backend.EXPECT().Map(memutils.HugePageSize).Return(mockSlabAddr, nil).Times(1)
	first, err := shard.Alloc(pages(8))
	require.NoError(t, err)
	_, err = shard.Alloc(pages(8))
	require.NoError(t, err)
	require.NoError(t, shard.Free(first, pages(8)))

	purgeErr := errors.New("madvise failed")
	backend.EXPECT().Purge(mockSlabAddr, pages(8)).Return(purgeErr)

	npurged, err := shard.PurgePass()
	require.ErrorIs(t, err, purgeErr)
	require.Equal(t, 0, npurged)
	require.Equal(t, 8, shard.Stats().PageSlabs.Merged.Dirty)

	// The slab serves allocations again once the failed purge has been rolled back
	addr, err := shard.Alloc(pages(4))
	require.NoError(t, err)
	require.Equal(t, first, addr)
	require.NoError(t, shard.Validate())
}

func TestShardBackend_DehugifyFailure(t *testing.T) {
	backend, shard := readyMockShard(t, hpa.CreateOptions{DirtyMultiplier: -1})

	backend.EXPECT().Map(memutils.HugePageSize).Return(mockSlabAddr, nil)
	addr, err := shard.Alloc(memutils.HugePageSize)
	require.NoError(t, err)

	backend.EXPECT().Hugify(mockSlabAddr, memutils.HugePageSize).Return(nil)
	_, err = shard.HugifyPass()
	require.NoError(t, err)
	require.NoError(t, shard.Free(addr, pages(1)))

	dehugifyErr := errors.New("khugepaged refused")
	backend.EXPECT().Dehugify(mockSlabAddr, memutils.HugePageSize).Return(dehugifyErr)

	_, err = shard.PurgePass()
	require.ErrorIs(t, err, dehugifyErr)

	stats := shard.Stats()
	require.Equal(t, 1, stats.PageSlabs.Slabs[1].PageSlabs)
	require.Equal(t, 1, stats.PageSlabs.Merged.Dirty)
	require.Equal(t, uint64(0), stats.NDehugifies)
	require.NoError(t, shard.Validate())
}

func TestShardBackend_HugifyFailure(t *testing.T) {
	backend, shard := readyMockShard(t, hpa.CreateOptions{})

	backend.EXPECT().Map(memutils.HugePageSize).Return(mockSlabAddr, nil)
	_, err := shard.Alloc(memutils.HugePageSize)
	require.NoError(t, err)

	hugifyErr := errors.New("no hugepages available")
	backend.EXPECT().Hugify(mockSlabAddr, memutils.HugePageSize).Return(hugifyErr)
	nhugified, err := shard.HugifyPass()
	require.ErrorIs(t, err, hugifyErr)
	require.Equal(t, 0, nhugified)
	require.Equal(t, 0, shard.Stats().PageSlabs.Slabs[1].PageSlabs)

	// The slab is queued again
	backend.EXPECT().Hugify(mockSlabAddr, memutils.HugePageSize).Return(nil)
	nhugified, err = shard.HugifyPass()
	require.NoError(t, err)
	require.Equal(t, 1, nhugified)
	require.Equal(t, 1, shard.Stats().PageSlabs.Slabs[1].PageSlabs)
}

func TestShardBackend_UnmapFailure(t *testing.T) {
	backend, shard := readyMockShard(t, hpa.CreateOptions{})

	backend.EXPECT().Map(memutils.HugePageSize).Return(mockSlabAddr, nil)
	addr, err := shard.Alloc(pages(1))
	require.NoError(t, err)
	require.NoError(t, shard.Free(addr, pages(1)))

	unmapErr := errors.New("munmap failed")
	backend.EXPECT().Unmap(mockSlabAddr, memutils.HugePageSize).Return(unmapErr)
	require.ErrorIs(t, shard.Destroy(), unmapErr)
	require.Equal(t, 1, shard.Stats().MappedSlabs)

	backend.EXPECT().Unmap(mockSlabAddr, memutils.HugePageSize).Return(nil)
	require.NoError(t, shard.Destroy())
	require.Equal(t, 0, shard.Stats().MappedSlabs)
}
