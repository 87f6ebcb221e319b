package psset

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"
	"github.com/vkngwrapper/pageslab/memutils"
	"github.com/vkngwrapper/pageslab/memutils/hpdata"
)

// Stats holds the page slab counters of a Set, both merged and broken down by hugeness and fullness.
// Every resident slab contributes to Merged, to Slabs for its hugeness, and to exactly one of
// FullSlabs, EmptySlabs, or the NonFullSlabs bin for its longest free range.
type Stats struct {
	// Merged covers every slab in the set
	Merged memutils.BinStats

	// Slabs is indexed by hugeness: 0 for slabs backed by base pages, 1 for hugified slabs
	Slabs [NHuge]memutils.BinStats

	// NonFullSlabs is indexed by the size class of the longest free range, then hugeness
	NonFullSlabs [NPSizes][NHuge]memutils.BinStats

	FullSlabs  [NHuge]memutils.BinStats
	EmptySlabs [NHuge]memutils.BinStats
}

var _ memutils.Validatable = &Stats{}

func (s *Stats) Clear() {
	*s = Stats{}
}

// Accumulate folds every counter in src into s. It is used to combine snapshots taken from
// several sets into one.
func (s *Stats) Accumulate(src *Stats) {
	s.Merged.AddStatistics(&src.Merged)
	for huge := 0; huge < NHuge; huge++ {
		s.Slabs[huge].AddStatistics(&src.Slabs[huge])
		s.FullSlabs[huge].AddStatistics(&src.FullSlabs[huge])
		s.EmptySlabs[huge].AddStatistics(&src.EmptySlabs[huge])
	}
	for pind := 0; pind < NPSizes; pind++ {
		s.NonFullSlabs[pind][0].AddStatistics(&src.NonFullSlabs[pind][0])
		s.NonFullSlabs[pind][1].AddStatistics(&src.NonFullSlabs[pind][1])
	}
}

// binFor returns the fullness bin a slab's contribution belongs in
func (s *Stats) binFor(ps *hpdata.PageSlab) *memutils.BinStats {
	huge := hugeIndex(ps)
	if ps.Empty() {
		return &s.EmptySlabs[huge]
	} else if ps.Full() {
		return &s.FullSlabs[huge]
	}

	return &s.NonFullSlabs[heapIndex(ps)][huge]
}

func (s *Stats) insert(ps *hpdata.PageSlab) {
	nactive, ndirty := ps.NActive(), ps.NDirty()

	s.Merged.AddSlab(nactive, ndirty)
	s.Slabs[hugeIndex(ps)].AddSlab(nactive, ndirty)
	s.binFor(ps).AddSlab(nactive, ndirty)

	memutils.DebugValidate(s)
}

func (s *Stats) remove(ps *hpdata.PageSlab) {
	nactive, ndirty := ps.NActive(), ps.NDirty()

	s.Merged.RemoveSlab(nactive, ndirty)
	s.Slabs[hugeIndex(ps)].RemoveSlab(nactive, ndirty)
	s.binFor(ps).RemoveSlab(nactive, ndirty)

	memutils.DebugValidate(s)
}

// Validate rebuilds the per-hugeness totals out of the fullness bins and verifies that they
// agree with Slabs and Merged
func (s *Stats) Validate() error {
	var check [NHuge]memutils.BinStats
	for huge := 0; huge < NHuge; huge++ {
		check[huge].AddStatistics(&s.FullSlabs[huge])
		check[huge].AddStatistics(&s.EmptySlabs[huge])
		for pind := 0; pind < NPSizes; pind++ {
			check[huge].AddStatistics(&s.NonFullSlabs[pind][huge])
		}
	}

	for huge := 0; huge < NHuge; huge++ {
		if check[huge] != s.Slabs[huge] {
			return errors.Errorf("hugeness %d totals %+v do not match the sum of their bins %+v", huge, s.Slabs[huge], check[huge])
		}
	}

	var merged memutils.BinStats
	merged.AddStatistics(&check[0])
	merged.AddStatistics(&check[1])
	if merged != s.Merged {
		return errors.Errorf("merged totals %+v do not match the sum of all bins %+v", s.Merged, merged)
	}

	return nil
}

func writeBinStats(json *jwriter.ObjectState, name string, stats *memutils.BinStats) {
	obj := json.Name(name).Object()
	obj.Name("PageSlabs").Int(stats.PageSlabs)
	obj.Name("Active").Int(stats.Active)
	obj.Name("Dirty").Int(stats.Dirty)
	obj.End()
}

var hugeNames = [NHuge]string{"NonHuge", "Huge"}

// BuildStatsString writes the merged totals and the per-hugeness breakdown. Non-full bins with no
// slabs are omitted.
func (s *Stats) BuildStatsString(json *jwriter.ObjectState) {
	writeBinStats(json, "Merged", &s.Merged)

	for huge := 0; huge < NHuge; huge++ {
		hugeObj := json.Name(hugeNames[huge]).Object()
		writeBinStats(&hugeObj, "Total", &s.Slabs[huge])
		writeBinStats(&hugeObj, "Full", &s.FullSlabs[huge])
		writeBinStats(&hugeObj, "Empty", &s.EmptySlabs[huge])

		nonFull := hugeObj.Name("NonFull").Array()
		for pind := 0; pind < NPSizes; pind++ {
			bin := &s.NonFullSlabs[pind][huge]
			if bin.PageSlabs == 0 {
				continue
			}

			binObj := nonFull.Object()
			binObj.Name("SizeClass").Int(pind)
			binObj.Name("PageSlabs").Int(bin.PageSlabs)
			binObj.Name("Active").Int(bin.Active)
			binObj.Name("Dirty").Int(bin.Dirty)
			binObj.End()
		}
		nonFull.End()

		hugeObj.End()
	}
}
