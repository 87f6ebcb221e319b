package sz_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/pageslab/memutils"
	"github.com/vkngwrapper/pageslab/memutils/sz"
)

func TestClassSizes(t *testing.T) {
	expectedPages := []int{1, 2, 3, 4, 5, 6, 7, 8, 10, 12, 14, 16, 20, 24, 28, 32}
	for index, pages := range expectedPages {
		require.Equal(t, memutils.PagesToBytes(pages), sz.PIndex2Size(index), "class %d", index)
	}

	require.Equal(t, memutils.HugePageSize, sz.PIndex2Size(31))
	require.Equal(t, 31, sz.PSize2Index(memutils.HugePageSize))
	require.Equal(t, 512*1024*1024, sz.MaxPSize)
}

func TestRoundTrip(t *testing.T) {
	for index := 0; index < sz.NPSizes; index++ {
		size := sz.PIndex2Size(index)
		require.Equal(t, index, sz.PSize2Index(size))
		require.Equal(t, size, sz.PSizeQuantizeFloor(size))
		require.Equal(t, size, sz.PSizeQuantizeCeil(size))
	}
}

func TestPSize2IndexRoundsUp(t *testing.T) {
	require.Equal(t, 0, sz.PSize2Index(1))
	require.Equal(t, 8, sz.PSize2Index(memutils.PagesToBytes(9)))
	require.Equal(t, sz.NPSizes, sz.PSize2Index(sz.MaxPSize+1))
}

func TestQuantize(t *testing.T) {
	testCases := []struct {
		pages int
		floor int
		ceil  int
	}{
		{pages: 1, floor: 1, ceil: 1},
		{pages: 4, floor: 4, ceil: 4},
		{pages: 9, floor: 8, ceil: 10},
		{pages: 11, floor: 10, ceil: 12},
		{pages: 17, floor: 16, ceil: 20},
		{pages: 511, floor: 448, ceil: 512},
	}

	for _, testCase := range testCases {
		size := memutils.PagesToBytes(testCase.pages)
		require.Equal(t, memutils.PagesToBytes(testCase.floor), sz.PSizeQuantizeFloor(size), "floor of %d pages", testCase.pages)
		require.Equal(t, memutils.PagesToBytes(testCase.ceil), sz.PSizeQuantizeCeil(size), "ceil of %d pages", testCase.pages)
	}
}

func TestPageIndexes(t *testing.T) {
	require.Equal(t, 7, sz.PagesFloorIndex(9))
	require.Equal(t, 8, sz.PagesCeilIndex(9))
	require.Equal(t, 30, sz.PagesFloorIndex(511))
	require.Equal(t, 31, sz.PagesCeilIndex(511))
	require.Equal(t, 31, sz.PagesFloorIndex(memutils.HugePagePages))
}

func TestInvalidIndexPanics(t *testing.T) {
	require.Panics(t, func() { sz.PIndex2Size(sz.NPSizes) })
	require.Panics(t, func() { sz.PSize2Index(0) })
}
