package memutils

// BinStats counts the page slabs in some grouping, along with how many of their pages
// are active and how many are dirty
type BinStats struct {
	PageSlabs int
	Active    int
	Dirty     int
}

// AddStatistics folds other into s
func (s *BinStats) AddStatistics(other *BinStats) {
	s.PageSlabs += other.PageSlabs
	s.Active += other.Active
	s.Dirty += other.Dirty
}

// AddSlab adds a single page slab's contribution to s
func (s *BinStats) AddSlab(nactive, ndirty int) {
	s.PageSlabs++
	s.Active += nactive
	s.Dirty += ndirty
}

// RemoveSlab subtracts a single page slab's contribution from s
func (s *BinStats) RemoveSlab(nactive, ndirty int) {
	s.PageSlabs--
	s.Active -= nactive
	s.Dirty -= ndirty
}
