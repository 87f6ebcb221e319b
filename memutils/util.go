package memutils

import (
	cerrors "github.com/cockroachdb/errors"
)

const (
	// LgPage is the base-2 logarithm of PageSize
	LgPage = 12
	// PageSize is the size in bytes of a single base page
	PageSize int = 1 << LgPage
	// PageMask masks the offset of an address within its page
	PageMask uint = uint(PageSize) - 1

	// LgHugePage is the base-2 logarithm of HugePageSize
	LgHugePage = 21
	// HugePageSize is the size in bytes of a hugepage, and therefore of a single page slab
	HugePageSize int = 1 << LgHugePage
	// HugePageMask masks the offset of an address within its hugepage
	HugePageMask uint = uint(HugePageSize) - 1
	// HugePagePages is the number of base pages in a single page slab
	HugePagePages int = HugePageSize / PageSize
)

// Validatable is implemented by structures that can recompute their cached state and report any
// disagreement. DebugValidate acts upon it.
type Validatable interface {
	Validate() error
}

type Number interface {
	~int | ~uint
}

// CheckPageAligned returns PageAlignmentError if size is not a multiple of PageSize
func CheckPageAligned[T Number](size T, name string) error {
	if uint(size)&PageMask != 0 {
		return cerrors.Wrapf(PageAlignmentError, "%s is %d", name, size)
	}
	return nil
}

// CheckSlabSize returns an error unless size is a page-aligned, non-zero request that fits in a single page slab
func CheckSlabSize(size int, name string) error {
	if size <= 0 || size > HugePageSize {
		return cerrors.Wrapf(SizeRangeError, "%s is %d", name, size)
	}
	return CheckPageAligned(size, name)
}

// HugePageBase returns the address of the page slab containing addr
func HugePageBase(addr uintptr) uintptr {
	return addr &^ uintptr(HugePageMask)
}

// PagesToBytes converts a page count to a byte size
func PagesToBytes(pages int) int {
	return pages << LgPage
}

// BytesToPages converts a page-aligned byte size to a page count
func BytesToPages(size int) int {
	return size >> LgPage
}
