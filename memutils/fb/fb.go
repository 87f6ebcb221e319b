// Package fb implements flat bitmaps: fixed-width bit sets stored in groups of 64 bits, with
// find-first and find-last searches for set and unset bits.
//
// Every function receives the group slice along with the number of bits it holds, which
// allows callers to keep bitmaps in fixed-size arrays embedded in their own structures.
package fb

import (
	"fmt"
	"math/bits"
)

const (
	// GroupBits is the number of bits in a single bitmap group
	GroupBits   = 64
	lgGroupBits = 6
)

// NGroups returns the number of groups needed to store nbits bits
func NGroups(nbits int) int {
	return (nbits + GroupBits - 1) >> lgGroupBits
}

func checkBit(nbits, bit int) {
	if bit < 0 || bit >= nbits {
		panic(fmt.Sprintf("bit %d is out of range for a bitmap of %d bits", bit, nbits))
	}
}

func checkRange(nbits, start, count int) {
	if start < 0 || count < 0 || start+count > nbits {
		panic(fmt.Sprintf("range [%d, %d) is out of range for a bitmap of %d bits", start, start+count, nbits))
	}
}

// Init clears every bit in fb
func Init(fb []uint64) {
	for i := range fb {
		fb[i] = 0
	}
}

// Empty returns true if no bit is set
func Empty(fb []uint64, nbits int) bool {
	for i := 0; i < NGroups(nbits); i++ {
		if fb[i] != 0 {
			return false
		}
	}
	return true
}

// Full returns true if every bit is set
func Full(fb []uint64, nbits int) bool {
	return Count(fb, nbits) == nbits
}

func Get(fb []uint64, nbits, bit int) bool {
	checkBit(nbits, bit)
	return fb[bit>>lgGroupBits]&(uint64(1)<<(bit&(GroupBits-1))) != 0
}

func Set(fb []uint64, nbits, bit int) {
	checkBit(nbits, bit)
	fb[bit>>lgGroupBits] |= uint64(1) << (bit & (GroupBits - 1))
}

func Unset(fb []uint64, nbits, bit int) {
	checkBit(nbits, bit)
	fb[bit>>lgGroupBits] &^= uint64(1) << (bit & (GroupBits - 1))
}

// visitRange calls visit once per group touched by [start, start+count) with the mask of
// bits in that group that fall inside the range
func visitRange(start, count int, visit func(group int, mask uint64)) {
	for count > 0 {
		bit := start & (GroupBits - 1)
		n := min(GroupBits-bit, count)
		mask := (^uint64(0) >> (GroupBits - n)) << bit
		visit(start>>lgGroupBits, mask)

		start += n
		count -= n
	}
}

// SetRange sets the count bits beginning at start
func SetRange(fb []uint64, nbits, start, count int) {
	checkRange(nbits, start, count)
	visitRange(start, count, func(group int, mask uint64) {
		fb[group] |= mask
	})
}

// UnsetRange clears the count bits beginning at start
func UnsetRange(fb []uint64, nbits, start, count int) {
	checkRange(nbits, start, count)
	visitRange(start, count, func(group int, mask uint64) {
		fb[group] &^= mask
	})
}

// Count returns the number of set bits
func Count(fb []uint64, nbits int) int {
	return CountRange(fb, nbits, 0, nbits)
}

// CountRange returns the number of set bits among the count bits beginning at start
func CountRange(fb []uint64, nbits, start, count int) int {
	checkRange(nbits, start, count)
	total := 0
	visitRange(start, count, func(group int, mask uint64) {
		total += bits.OnesCount64(fb[group] & mask)
	})
	return total
}

func group(fb []uint64, index int, val bool) uint64 {
	if val {
		return fb[index]
	}
	return ^fb[index]
}

func findForward(fb []uint64, nbits, start int, val bool) int {
	if start < 0 {
		panic(fmt.Sprintf("search start %d is negative", start))
	}
	if start >= nbits {
		return nbits
	}

	index := start >> lgGroupBits
	g := group(fb, index, val) & (^uint64(0) << (start & (GroupBits - 1)))
	for g == 0 {
		index++
		if index >= NGroups(nbits) {
			return nbits
		}
		g = group(fb, index, val)
	}

	// Padding bits past nbits read as set when searching for unset bits
	return min(index<<lgGroupBits+bits.TrailingZeros64(g), nbits)
}

func findBackward(fb []uint64, nbits, start int, val bool) int {
	if start >= nbits {
		panic(fmt.Sprintf("search start %d is out of range for a bitmap of %d bits", start, nbits))
	}
	if start < 0 {
		return -1
	}

	index := start >> lgGroupBits
	g := group(fb, index, val) & (^uint64(0) >> (GroupBits - 1 - (start & (GroupBits - 1))))
	for g == 0 {
		index--
		if index < 0 {
			return -1
		}
		g = group(fb, index, val)
	}

	return index<<lgGroupBits + GroupBits - 1 - bits.LeadingZeros64(g)
}

// FFS returns the index of the first set bit at or after start, or nbits if there is none
func FFS(fb []uint64, nbits, start int) int {
	return findForward(fb, nbits, start, true)
}

// FFU returns the index of the first unset bit at or after start, or nbits if there is none
func FFU(fb []uint64, nbits, start int) int {
	return findForward(fb, nbits, start, false)
}

// FLS returns the index of the last set bit at or before start, or -1 if there is none
func FLS(fb []uint64, nbits, start int) int {
	return findBackward(fb, nbits, start, true)
}

// FLU returns the index of the last unset bit at or before start, or -1 if there is none
func FLU(fb []uint64, nbits, start int) int {
	return findBackward(fb, nbits, start, false)
}

func findRange(fb []uint64, nbits, start int, val bool) (begin int, length int, found bool) {
	begin = findForward(fb, nbits, start, val)
	if begin >= nbits {
		return nbits, 0, false
	}

	end := findForward(fb, nbits, begin, !val)
	return begin, end - begin, true
}

// SRange finds the first maximal run of set bits that begins at or after start
func SRange(fb []uint64, nbits, start int) (begin int, length int, found bool) {
	return findRange(fb, nbits, start, true)
}

// URange finds the first maximal run of unset bits that begins at or after start
func URange(fb []uint64, nbits, start int) (begin int, length int, found bool) {
	return findRange(fb, nbits, start, false)
}

// LongestURange returns the length of the longest run of unset bits
func LongestURange(fb []uint64, nbits int) int {
	longest := 0
	start := 0
	for {
		begin, length, found := URange(fb, nbits, start)
		if !found {
			return longest
		}

		longest = max(longest, length)
		start = begin + length
	}
}
