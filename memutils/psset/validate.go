package psset

import (
	"github.com/pkg/errors"
	"github.com/vkngwrapper/pageslab/memutils/fb"
	"github.com/vkngwrapper/pageslab/memutils/hpdata"
)

func validateResident(ps *hpdata.PageSlab) error {
	if !ps.InSet() {
		return errors.Errorf("page slab %#x is indexed but not marked as in the set", ps.Addr())
	}
	if ps.Updating() {
		return errors.Errorf("page slab %#x is indexed while it is being updated", ps.Addr())
	}
	return ps.Validate()
}

func (s *Set) validateAllocContainers() error {
	for huge := 0; huge < NHuge; huge++ {
		for pind := 0; pind < NPSizes; pind++ {
			heap := &s.pageSlabs[huge][pind]
			if heap.Empty() == fb.Get(s.pageSlabBitmap[huge][:], NPSizes, pind) {
				return errors.Errorf("allocation bitmap of hugeness %d disagrees with bin %d, which holds %d slabs", huge, pind, heap.Len())
			}
			if heap.Len() > s.stats.NonFullSlabs[pind][huge].PageSlabs {
				return errors.Errorf("allocation bin %d of hugeness %d holds %d slabs but only %d are counted", pind, huge, heap.Len(), s.stats.NonFullSlabs[pind][huge].PageSlabs)
			}

			var err error
			heap.Each(func(ps *hpdata.PageSlab) bool {
				err = validateResident(ps)
				if err == nil && (!ps.InAllocContainer() || !ps.AllocAllowed()) {
					err = errors.Errorf("page slab %#x is in allocation bin %d without being allocatable", ps.Addr(), pind)
				}
				if err == nil && (hugeIndex(ps) != huge || ps.Empty() || ps.Full() || heapIndex(ps) != pind) {
					err = errors.Errorf("page slab %#x is in allocation bin %d of hugeness %d but belongs elsewhere", ps.Addr(), pind, huge)
				}
				return err == nil
			})
			if err != nil {
				return err
			}
		}
	}

	emptyCount := s.stats.EmptySlabs[0].PageSlabs + s.stats.EmptySlabs[1].PageSlabs
	if s.empty.Len() > emptyCount {
		return errors.Errorf("the empty list holds %d slabs but only %d empty slabs are counted", s.empty.Len(), emptyCount)
	}

	var err error
	s.empty.Each(func(ps *hpdata.PageSlab) bool {
		err = validateResident(ps)
		if err == nil && (!ps.Empty() || !ps.InAllocContainer() || !ps.AllocAllowed()) {
			err = errors.Errorf("page slab %#x is in the empty list but is not an allocatable empty slab", ps.Addr())
		}
		return err == nil
	})
	return err
}

func (s *Set) validatePurgeContainers() error {
	for huge := 0; huge < NHuge; huge++ {
		for ind := 0; ind < NPSizes; ind++ {
			list := &s.toPurge[huge][ind]
			if list.Empty() == fb.Get(s.purgeBitmap[huge][:], NPSizes, ind) {
				return errors.Errorf("purge bitmap of hugeness %d disagrees with queue %d, which holds %d slabs", huge, ind, list.Len())
			}

			var err error
			list.Each(func(ps *hpdata.PageSlab) bool {
				err = validateResident(ps)
				if err == nil && (!ps.InPurgeContainer() || !ps.PurgeAllowed() || ps.NDirty() == 0) {
					err = errors.Errorf("page slab %#x is in purge queue %d without being purgeable", ps.Addr(), ind)
				}
				if err == nil && (hugeIndex(ps) != huge || purgeIndex(ps) != ind) {
					err = errors.Errorf("page slab %#x is in purge queue %d of hugeness %d but belongs elsewhere", ps.Addr(), ind, huge)
				}
				return err == nil
			})
			if err != nil {
				return err
			}
		}
	}

	return nil
}

func (s *Set) validateHugifyContainer() error {
	var err error
	s.toHugify.Each(func(ps *hpdata.PageSlab) bool {
		if !ps.InSet() || !ps.InHugifyContainer() {
			err = errors.Errorf("page slab %#x is in the hugify queue without being marked resident there", ps.Addr())
		}
		return err == nil
	})
	return err
}

// Validate performs a full consistency check of the set: the statistics decomposition, the
// agreement of every presence bitmap with its bins, and the placement and flags of every indexed
// slab. It is expensive and intended for tests and debug builds.
func (s *Set) Validate() error {
	err := s.stats.Validate()
	if err != nil {
		return err
	}

	err = s.validateAllocContainers()
	if err != nil {
		return err
	}

	err = s.validatePurgeContainers()
	if err != nil {
		return err
	}

	return s.validateHugifyContainer()
}
