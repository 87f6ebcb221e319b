// Package sz maps page-multiple sizes onto page size classes. Classes come four to a doubling:
// 1, 2, 3, 4 pages, then 5, 6, 7, 8, then 10, 12, 14, 16, and so on.
package sz

import (
	"math/bits"

	"github.com/vkngwrapper/pageslab/memutils"
)

const (
	// LgNGroup is the base-2 logarithm of the number of classes per size doubling
	LgNGroup = 2
	// NGroup is the number of classes per size doubling
	NGroup = 1 << LgNGroup

	// NPSizes is the number of page size classes that can be indexed. Sizes above MaxPSize map to
	// NPSizes, which is never a valid index.
	NPSizes = 64
)

// MaxPSize is the largest size in bytes that has a page size class
var MaxPSize = PIndex2Size(NPSizes - 1)

func lgFloor(x uint64) uint {
	return uint(63 - bits.LeadingZeros64(x))
}

// PSize2Index returns the index of the smallest page size class that can hold size bytes.
// size must be greater than zero.
func PSize2Index(size int) int {
	if size <= 0 {
		panic("page size class requested for a non-positive size")
	}
	if size > MaxPSize {
		return NPSizes
	}

	psz := uint64(size)
	x := lgFloor((psz << 1) - 1)

	var shift uint
	if x >= LgNGroup+memutils.LgPage {
		shift = x - (LgNGroup + memutils.LgPage)
	}
	grp := shift << LgNGroup

	lgDelta := uint(memutils.LgPage)
	if x >= LgNGroup+memutils.LgPage+1 {
		lgDelta = x - LgNGroup - 1
	}

	deltaInverseMask := ^uint64(0) << lgDelta
	mod := (((psz - 1) & deltaInverseMask) >> lgDelta) & (NGroup - 1)

	return int(grp) + int(mod)
}

// PIndex2Size returns the size in bytes of the page size class at index
func PIndex2Size(index int) int {
	if index < 0 || index >= NPSizes {
		panic("page size class index out of range")
	}

	grp := uint(index) >> LgNGroup
	mod := uint(index) & (NGroup - 1)

	var grpSize uint64
	if grp != 0 {
		grpSize = (uint64(1) << (memutils.LgPage + LgNGroup - 1)) << grp
	}

	shift := grp
	if grp == 0 {
		shift = 1
	}
	lgDelta := shift + memutils.LgPage - 1
	modSize := uint64(mod+1) << lgDelta

	return int(grpSize + modSize)
}

// PSizeQuantizeFloor rounds a page-aligned size down to the nearest page size class
func PSizeQuantizeFloor(size int) int {
	memutils.DebugCheckPageAligned(size, "size")

	index := PSize2Index(size + 1)
	if index == 0 {
		// Trivially quantized
		return size
	}

	return PIndex2Size(index - 1)
}

// PSizeQuantizeCeil rounds a page-aligned size up to the nearest page size class
func PSizeQuantizeCeil(size int) int {
	ret := PSizeQuantizeFloor(size)
	if ret < size {
		ret = PIndex2Size(PSize2Index(ret + 1))
	}

	return ret
}

// PagesFloorIndex returns the index of the largest page size class no larger than npages pages
func PagesFloorIndex(npages int) int {
	return PSize2Index(PSizeQuantizeFloor(memutils.PagesToBytes(npages)))
}

// PagesCeilIndex returns the index of the smallest page size class no smaller than npages pages
func PagesCeilIndex(npages int) int {
	return PSize2Index(PSizeQuantizeCeil(memutils.PagesToBytes(npages)))
}
