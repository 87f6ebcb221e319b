package hpdata

import (
	"fmt"

	"github.com/tidwall/btree"
)

func ageLess(left, right *PageSlab) bool {
	if left.age != right.age {
		return left.age < right.age
	}
	return left.addr < right.addr
}

// AgeHeap orders slabs by age, oldest first. Ties are broken by address. The zero value is an
// empty heap ready for use. AgeHeap is not safe for concurrent use.
type AgeHeap struct {
	tree *btree.BTreeG[*PageSlab]
}

func (h *AgeHeap) init() {
	if h.tree == nil {
		h.tree = btree.NewBTreeGOptions[*PageSlab](ageLess, btree.Options{NoLocks: true})
	}
}

func (h *AgeHeap) Insert(ps *PageSlab) {
	h.init()
	_, replaced := h.tree.Set(ps)
	if replaced {
		panic(fmt.Sprintf("page slab %#x with age %d is already in the heap", ps.addr, ps.age))
	}
}

func (h *AgeHeap) Remove(ps *PageSlab) {
	if h.tree == nil {
		panic(fmt.Sprintf("page slab %#x is not in the heap", ps.addr))
	}

	removed, found := h.tree.Delete(ps)
	if !found || removed != ps {
		panic(fmt.Sprintf("page slab %#x is not in the heap", ps.addr))
	}
}

// First returns the oldest slab in the heap, or nil if it is empty
func (h *AgeHeap) First() *PageSlab {
	if h.tree == nil {
		return nil
	}

	ps, found := h.tree.Min()
	if !found {
		return nil
	}
	return ps
}

func (h *AgeHeap) Empty() bool {
	return h.Len() == 0
}

func (h *AgeHeap) Len() int {
	if h.tree == nil {
		return 0
	}
	return h.tree.Len()
}

// Each visits the slabs in the heap from oldest to youngest until visit returns false
func (h *AgeHeap) Each(visit func(ps *PageSlab) bool) {
	if h.tree == nil {
		return
	}
	h.tree.Scan(visit)
}
