package seqview

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestPositionForSourceIndex(t *testing.T) {
	// empty sequence
	assert.Equal(t, 0, positionForSourceIndex([]int{}, 5))

	// single element
	assert.Equal(t, 0, positionForSourceIndex([]int{7}, 3))
	assert.Equal(t, 1, positionForSourceIndex([]int{2}, 3))

	// the slot equals the count of included elements with a smaller
	// source index, regardless of map order
	assert.Equal(t, 2, positionForSourceIndex([]int{0, 2, 4, 6}, 3))
	assert.Equal(t, 2, positionForSourceIndex([]int{6, 2, 0, 4}, 3))
	assert.Equal(t, 4, positionForSourceIndex([]int{0, 2, 4, 6}, 100))
}

func TestPositionForValue(t *testing.T) {
	orderer := func(a int, b int) int {
		return a - b
	}
	at := func(items []int) func(index int) int {
		return func(index int) int {
			return items[index]
		}
	}

	// empty sequence
	assert.Equal(t, 0, positionForValue(0, at([]int{}), 5, orderer))

	// single element
	assert.Equal(t, 0, positionForValue(1, at([]int{7}), 3, orderer))
	assert.Equal(t, 1, positionForValue(1, at([]int{2}), 3, orderer))

	items := []int{1, 3, 3, 5, 9}
	assert.Equal(t, 0, positionForValue(len(items), at(items), 0, orderer))
	assert.Equal(t, 1, positionForValue(len(items), at(items), 2, orderer))
	// ties go after existing equal elements
	assert.Equal(t, 3, positionForValue(len(items), at(items), 3, orderer))
	assert.Equal(t, 5, positionForValue(len(items), at(items), 10, orderer))
}
