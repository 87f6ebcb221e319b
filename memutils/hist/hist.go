// Package hist implements a histogram with power-of-two bins. Values 0 and 1 fall into bin 0;
// every other value falls into the bin numbered after the position of its most significant bit,
// so bin 1 holds [2, 4), bin 2 holds [4, 8) and bin 63 holds [2^63, 2^64).
package hist

import (
	"fmt"
	"math"
	"math/bits"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// NBins is the number of bins in a Histogram
const NBins = 64

type Histogram struct {
	bins [NBins]uint64
}

func binIndex(val uint64) int {
	if val == 0 {
		return 0
	}
	return 63 - bits.LeadingZeros64(val)
}

// Clear zeroes every bin
func (h *Histogram) Clear() {
	h.bins = [NBins]uint64{}
}

func (h *Histogram) Add(val uint64) {
	h.bins[binIndex(val)]++
}

// Remove undoes a previous Add of the same value
func (h *Histogram) Remove(val uint64) {
	bin := binIndex(val)
	if h.bins[bin] == 0 {
		panic(fmt.Sprintf("attempted to remove value %d from empty histogram bin %d", val, bin))
	}
	h.bins[bin]--
}

// Get returns the number of values in a bin
func (h *Histogram) Get(bin int) uint64 {
	if bin < 0 || bin >= NBins {
		panic(fmt.Sprintf("histogram bin %d out of range", bin))
	}
	return h.bins[bin]
}

// Merge adds the counts in other to this histogram
func (h *Histogram) Merge(other *Histogram) {
	for bin := 0; bin < NBins; bin++ {
		h.bins[bin] += other.bins[bin]
	}
}

// BinRange formats the range of values that fall into a bin. The first and last bins are closed
// intervals, the rest are half-open.
func BinRange(bin int) string {
	if bin < 0 || bin >= NBins {
		panic(fmt.Sprintf("histogram bin %d out of range", bin))
	}

	if bin == 0 {
		return "[0, 1]"
	}

	begin := uint64(1) << bin
	if bin == NBins-1 {
		return fmt.Sprintf("[%d, %d]", begin, uint64(math.MaxUint64))
	}

	return fmt.Sprintf("[%d, %d)", begin, uint64(1)<<(bin+1))
}

// BuildStatsString writes every non-empty bin as a field keyed by its range
func (h *Histogram) BuildStatsString(json *jwriter.ObjectState) {
	for bin := 0; bin < NBins; bin++ {
		if h.bins[bin] == 0 {
			continue
		}
		json.Name(BinRange(bin)).Int(int(h.bins[bin]))
	}
}
