package hpa

import (
	"github.com/vkngwrapper/pageslab/memutils/hist"
	"github.com/vkngwrapper/pageslab/memutils/psset"
)

// Statistics is a snapshot of one or more shards
type Statistics struct {
	// PageSlabs breaks down resident slabs by hugeness and fullness
	PageSlabs psset.Stats
	// MappedSlabs counts slabs currently mapped from the backend, including any mid-update
	MappedSlabs int
	// PeakDemand is the largest active page count seen during the peak demand window. For
	// accumulated snapshots it is the sum of each shard's peak.
	PeakDemand int

	NPurgePasses uint64
	NPurgedPages uint64
	NHugifies    uint64
	NDehugifies  uint64

	AllocSizes hist.Histogram
}

// Accumulate folds other into s
func (s *Statistics) Accumulate(other *Statistics) {
	s.PageSlabs.Accumulate(&other.PageSlabs)
	s.MappedSlabs += other.MappedSlabs
	s.PeakDemand += other.PeakDemand
	s.NPurgePasses += other.NPurgePasses
	s.NPurgedPages += other.NPurgedPages
	s.NHugifies += other.NHugifies
	s.NDehugifies += other.NDehugifies
	s.AllocSizes.Merge(&other.AllocSizes)
}
