package hpdata_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/pageslab/memutils"
	"github.com/vkngwrapper/pageslab/memutils/hpdata"
)

func slabs(count int) []*hpdata.PageSlab {
	result := make([]*hpdata.PageSlab, count)
	for i := range result {
		result[i] = hpdata.New(uintptr(i+1)*uintptr(memutils.HugePageSize), uint64(i))
	}
	return result
}

func listOrder(each func(visit func(ps *hpdata.PageSlab) bool)) []*hpdata.PageSlab {
	var order []*hpdata.PageSlab
	each(func(ps *hpdata.PageSlab) bool {
		order = append(order, ps)
		return true
	})
	return order
}

func TestEmptyListIsLIFO(t *testing.T) {
	s := slabs(3)
	var list hpdata.EmptyList
	require.True(t, list.Empty())
	require.Nil(t, list.First())

	for _, ps := range s {
		list.Prepend(ps)
	}
	require.Equal(t, 3, list.Len())
	require.Same(t, s[2], list.First())

	list.Remove(s[1])
	require.Equal(t, []*hpdata.PageSlab{s[2], s[0]}, listOrder(list.Each))

	list.Remove(s[2])
	require.Same(t, s[0], list.First())
	list.Remove(s[0])
	require.True(t, list.Empty())

	require.Panics(t, func() { list.Remove(s[0]) })
}

func TestPurgeListIsFIFO(t *testing.T) {
	s := slabs(3)
	var list hpdata.PurgeList
	for _, ps := range s {
		list.Append(ps)
	}
	require.Same(t, s[0], list.First())

	list.Remove(s[0])
	list.Append(s[0])
	require.Equal(t, []*hpdata.PageSlab{s[1], s[2], s[0]}, listOrder(list.Each))

	require.Panics(t, func() { list.Append(s[1]) })
}

func TestListsAreIndependent(t *testing.T) {
	s := slabs(2)
	var purge hpdata.PurgeList
	var hugify hpdata.HugifyList
	var empty hpdata.EmptyList

	purge.Append(s[0])
	purge.Append(s[1])
	hugify.Append(s[1])
	hugify.Append(s[0])
	empty.Prepend(s[0])

	purge.Remove(s[0])
	require.Equal(t, []*hpdata.PageSlab{s[1], s[0]}, listOrder(hugify.Each))
	require.Equal(t, []*hpdata.PageSlab{s[1]}, listOrder(purge.Each))
	require.Same(t, s[0], empty.First())
	require.Equal(t, 2, hugify.Len())
}

func TestAgeHeap(t *testing.T) {
	s := slabs(4)
	var heap hpdata.AgeHeap
	require.True(t, heap.Empty())
	require.Nil(t, heap.First())

	heap.Insert(s[2])
	heap.Insert(s[0])
	heap.Insert(s[3])
	heap.Insert(s[1])
	require.Equal(t, 4, heap.Len())
	require.Same(t, s[0], heap.First())

	heap.Remove(s[0])
	require.Same(t, s[1], heap.First())
	require.Equal(t, []*hpdata.PageSlab{s[1], s[2], s[3]}, listOrder(heap.Each))

	require.Panics(t, func() { heap.Insert(s[1]) })
	require.Panics(t, func() { heap.Remove(s[0]) })
}
