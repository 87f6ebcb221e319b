package memutils

import "github.com/pkg/errors"

// PageAlignmentError is the error returned from CheckPageAligned or other methods if a size or address
// is not a multiple of PageSize
var PageAlignmentError error = errors.New("value must be page aligned")

// SizeRangeError is the error returned when a requested size is zero or larger than a single page slab
var SizeRangeError error = errors.New("size must be greater than zero and no larger than a hugepage")

// OutOfSlabsError is returned when an allocation needs a new page slab but the slab limit has been reached
var OutOfSlabsError error = errors.New("no more page slabs may be mapped")

// UnknownAddressError is returned when an address does not belong to any page slab that is currently mapped
var UnknownAddressError error = errors.New("address does not belong to a mapped page slab")

// UnallocatedRangeError is returned when a range being freed contains pages that are not allocated
var UnallocatedRangeError error = errors.New("range contains pages that are not allocated")
