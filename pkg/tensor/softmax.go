package tensor

import (
	"math"

	"golang.org/x/exp/constraints"
)

// SoftmaxInPlace overwrites row with its softmax. The row maximum is
// subtracted before exponentiating. A row whose entries are all -Inf
// becomes all zeros.
func SoftmaxInPlace[T constraints.Float](row []T) {
	if len(row) == 0 {
		return
	}

	maxVal := row[0]
	for _, v := range row[1:] {
		if v > maxVal {
			maxVal = v
		}
	}
	if math.IsInf(float64(maxVal), -1) {
		for i := range row {
			row[i] = 0
		}
		return
	}

	var sum T
	for i, v := range row {
		e := T(math.Exp(float64(v - maxVal)))
		row[i] = e
		sum += e
	}
	for i := range row {
		row[i] /= sum
	}
}

// ArgMax returns the index of the largest value, preferring the lowest
// index on ties. It returns -1 for an empty slice.
func ArgMax[T constraints.Float](row []T) int {
	if len(row) == 0 {
		return -1
	}
	best := 0
	for i := 1; i < len(row); i++ {
		if row[i] > row[best] {
			best = i
		}
	}
	return best
}
