package hpdata

import "fmt"

type linkKind int

const (
	emptyLink linkKind = iota
	purgeLink
	hugifyLink
	numLinkKinds
)

type listLink struct {
	prev *PageSlab
	next *PageSlab
}

// slabList is an intrusive doubly-linked list threaded through one of a PageSlab's links
type slabList struct {
	head  *PageSlab
	tail  *PageSlab
	count int
}

func (l *slabList) contains(kind linkKind, ps *PageSlab) bool {
	return ps.links[kind].prev != nil || l.head == ps
}

func (l *slabList) prepend(kind linkKind, ps *PageSlab) {
	if l.contains(kind, ps) {
		panic(fmt.Sprintf("page slab %#x is already in the list", ps.addr))
	}

	ps.links[kind] = listLink{next: l.head}
	if l.head != nil {
		l.head.links[kind].prev = ps
	} else {
		l.tail = ps
	}
	l.head = ps
	l.count++
}

func (l *slabList) append(kind linkKind, ps *PageSlab) {
	if l.contains(kind, ps) {
		panic(fmt.Sprintf("page slab %#x is already in the list", ps.addr))
	}

	ps.links[kind] = listLink{prev: l.tail}
	if l.tail != nil {
		l.tail.links[kind].next = ps
	} else {
		l.head = ps
	}
	l.tail = ps
	l.count++
}

func (l *slabList) remove(kind linkKind, ps *PageSlab) {
	if !l.contains(kind, ps) {
		panic(fmt.Sprintf("page slab %#x is not in the list", ps.addr))
	}

	link := ps.links[kind]
	if link.prev != nil {
		link.prev.links[kind].next = link.next
	} else {
		l.head = link.next
	}

	if link.next != nil {
		link.next.links[kind].prev = link.prev
	} else {
		l.tail = link.prev
	}

	ps.links[kind] = listLink{}
	l.count--
}

func (l *slabList) each(kind linkKind, visit func(ps *PageSlab) bool) {
	for ps := l.head; ps != nil; ps = ps.links[kind].next {
		if !visit(ps) {
			return
		}
	}
}

// EmptyList holds slabs with no active pages. Slabs are prepended, so First returns the most
// recently inserted slab.
type EmptyList struct {
	list slabList
}

func (l *EmptyList) Prepend(ps *PageSlab)               { l.list.prepend(emptyLink, ps) }
func (l *EmptyList) Remove(ps *PageSlab)                { l.list.remove(emptyLink, ps) }
func (l *EmptyList) First() *PageSlab                   { return l.list.head }
func (l *EmptyList) Empty() bool                        { return l.list.head == nil }
func (l *EmptyList) Len() int                           { return l.list.count }
func (l *EmptyList) Each(visit func(ps *PageSlab) bool) { l.list.each(emptyLink, visit) }

// PurgeList is a FIFO queue of slabs waiting to be purged
type PurgeList struct {
	list slabList
}

func (l *PurgeList) Append(ps *PageSlab)                { l.list.append(purgeLink, ps) }
func (l *PurgeList) Remove(ps *PageSlab)                { l.list.remove(purgeLink, ps) }
func (l *PurgeList) First() *PageSlab                   { return l.list.head }
func (l *PurgeList) Empty() bool                        { return l.list.head == nil }
func (l *PurgeList) Len() int                           { return l.list.count }
func (l *PurgeList) Each(visit func(ps *PageSlab) bool) { l.list.each(purgeLink, visit) }

// HugifyList is a FIFO queue of slabs waiting to be backed by a hugepage
type HugifyList struct {
	list slabList
}

func (l *HugifyList) Append(ps *PageSlab)                { l.list.append(hugifyLink, ps) }
func (l *HugifyList) Remove(ps *PageSlab)                { l.list.remove(hugifyLink, ps) }
func (l *HugifyList) First() *PageSlab                   { return l.list.head }
func (l *HugifyList) Empty() bool                        { return l.list.head == nil }
func (l *HugifyList) Len() int                           { return l.list.count }
func (l *HugifyList) Each(visit func(ps *PageSlab) bool) { l.list.each(hugifyLink, visit) }
