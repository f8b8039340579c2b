package seqview

import (
	"sort"
)

// positioning for derived sequences.
//
// without an orderer the derived sequence preserves source relative order:
// a new element belongs after every included element whose backing source
// index is less than its own.
//
// with an orderer the derived sequence is kept sorted by that orderer, so
// the slot can be found with a binary search. ties go after existing equal
// elements, which keeps insertion stable.

func positionForSourceIndex(sourceIndexes []int, sourceIndex int) int {
	position := 0
	for _, otherIndex := range sourceIndexes {
		if otherIndex < sourceIndex {
			position += 1
		}
	}
	return position
}

func positionForValue[D any](length int, at func(index int) D, value D, orderer func(a D, b D) int) int {
	return sort.Search(length, func(i int) bool {
		return 0 < orderer(at(i), value)
	})
}
