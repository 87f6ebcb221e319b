package hpa

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/pageslab/memutils"
)

//go:generate mockgen -source backend.go -destination ./mocks/backend.go -package mocks

// Backend provides and manages the address space that shards carve page slabs out of. Every
// method receives hugepage-aligned addresses and page-aligned sizes. Shards release their lock
// while calling Purge, Hugify and Dehugify, so a backend shared between shards must be safe for
// concurrent use.
type Backend interface {
	// Map reserves size bytes of address space and returns its hugepage-aligned base address
	Map(size int) (uintptr, error)
	// Unmap releases a range previously returned from Map
	Unmap(addr uintptr, size int) error
	// Purge returns the memory backing a range to the operating system. The range stays mapped.
	Purge(addr uintptr, size int) error
	// Hugify requests that a range be backed by hugepages
	Hugify(addr uintptr, size int) error
	// Dehugify requests that a range be backed by base pages
	Dehugify(addr uintptr, size int) error
}

type virtualRange struct {
	size int
	huge bool
}

// VirtualBackend is a Backend that hands out hugepage-aligned ranges of a fictional address
// space without touching the operating system. It is useful for callers that only need the
// slab bookkeeping of a shard, such as sub-allocating a large region that is managed elsewhere.
type VirtualBackend struct {
	mutex sync.Mutex

	base     uintptr
	next     uintptr
	released []uintptr
	mapped   *swiss.Map[uintptr, *virtualRange]

	npurged     int
	nhugifies   int
	ndehugifies int
}

var _ Backend = &VirtualBackend{}

// NewVirtualBackend creates a VirtualBackend whose address space begins at base, which must be
// hugepage aligned and non-zero
func NewVirtualBackend(base uintptr) (*VirtualBackend, error) {
	if base == 0 || memutils.HugePageBase(base) != base {
		return nil, errors.Newf("virtual address space base %#x must be non-zero and hugepage aligned", base)
	}

	return &VirtualBackend{
		base:   base,
		next:   base,
		mapped: swiss.NewMap[uintptr, *virtualRange](42),
	}, nil
}

func (b *VirtualBackend) Map(size int) (uintptr, error) {
	if size != memutils.HugePageSize {
		return 0, errors.Wrapf(memutils.SizeRangeError, "virtual backend maps exactly one hugepage at a time, but %d bytes were requested", size)
	}

	b.mutex.Lock()
	defer b.mutex.Unlock()

	var addr uintptr
	if len(b.released) > 0 {
		addr = b.released[len(b.released)-1]
		b.released = b.released[:len(b.released)-1]
	} else {
		if b.next+uintptr(size) < b.next {
			return 0, errors.New("virtual address space is exhausted")
		}
		addr = b.next
		b.next += uintptr(size)
	}

	b.mapped.Put(addr, &virtualRange{size: size})
	return addr, nil
}

func (b *VirtualBackend) Unmap(addr uintptr, size int) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	r, err := b.findAfterLock(addr, size)
	if err != nil {
		return err
	}
	if addr != memutils.HugePageBase(addr) || size != r.size {
		return errors.Newf("unmap of %d bytes at %#x does not cover a whole mapped range", size, addr)
	}

	b.mapped.Delete(addr)
	b.released = append(b.released, addr)
	return nil
}

func (b *VirtualBackend) Purge(addr uintptr, size int) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	r, err := b.findAfterLock(addr, size)
	if err != nil {
		return err
	}

	if r.huge {
		return errors.Newf("cannot purge %d bytes at %#x while the range is backed by a hugepage", size, addr)
	}

	b.npurged += memutils.BytesToPages(size)
	return nil
}

func (b *VirtualBackend) Hugify(addr uintptr, size int) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	r, err := b.findAfterLock(addr, size)
	if err != nil {
		return err
	}
	if r.huge {
		return errors.Newf("range at %#x is already backed by a hugepage", addr)
	}

	r.huge = true
	b.nhugifies++
	return nil
}

func (b *VirtualBackend) Dehugify(addr uintptr, size int) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	r, err := b.findAfterLock(addr, size)
	if err != nil {
		return err
	}

	r.huge = false
	b.ndehugifies++
	return nil
}

func (b *VirtualBackend) findAfterLock(addr uintptr, size int) (*virtualRange, error) {
	err := memutils.CheckPageAligned(uint(addr), "addr")
	if err != nil {
		return nil, err
	}
	err = memutils.CheckPageAligned(size, "size")
	if err != nil {
		return nil, err
	}

	base := memutils.HugePageBase(addr)
	r, ok := b.mapped.Get(base)
	if !ok {
		return nil, errors.Wrapf(memutils.UnknownAddressError, "virtual backend has nothing mapped at %#x", addr)
	}
	if size <= 0 || int(addr-base)+size > r.size {
		return nil, errors.Wrapf(memutils.SizeRangeError, "range of %d bytes at %#x overruns its mapping", size, addr)
	}

	return r, nil
}

// MappedCount returns the number of ranges currently mapped
func (b *VirtualBackend) MappedCount() int {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	return b.mapped.Count()
}

// IsHuge reports whether the range mapped at addr has been hugified
func (b *VirtualBackend) IsHuge(addr uintptr) bool {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	r, ok := b.mapped.Get(memutils.HugePageBase(addr))
	return ok && r.huge
}

// PurgedPages returns the number of pages purged across every range over the backend's lifetime
func (b *VirtualBackend) PurgedPages() int {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	return b.npurged
}

// HugifyCount returns the number of successful Hugify calls
func (b *VirtualBackend) HugifyCount() int {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	return b.nhugifies
}

// DehugifyCount returns the number of successful Dehugify calls
func (b *VirtualBackend) DehugifyCount() int {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	return b.ndehugifies
}
