package tensor

import "math"

// RandSource is the random generator consumed by initializers and samplers.
// *rand.Rand from math/rand satisfies it.
type RandSource interface {
	Float64() float64
	NormFloat64() float64
}

// XavierUniform returns a (rows×cols) matrix drawn from U[-L, L] with
// L = sqrt(6 / (rows + cols)).
func XavierUniform(rows, cols int, rng RandSource) *Tensor {
	t := NewTensor([]int{rows, cols})
	if rows+cols == 0 {
		return t
	}
	limit := math.Sqrt(6.0 / float64(rows+cols))
	for i := range t.Data {
		t.Data[i] = float32(rng.Float64()*2*limit - limit)
	}
	return t
}

// NormalInit returns a tensor of the given shape with values drawn from
// N(0, std^2).
func NormalInit(shape []int, std float64, rng RandSource) *Tensor {
	t := NewTensor(shape)
	for i := range t.Data {
		t.Data[i] = float32(rng.NormFloat64() * std)
	}
	return t
}

// Full returns a tensor of the given shape filled with value.
func Full(shape []int, value float32) *Tensor {
	t := NewTensor(shape)
	for i := range t.Data {
		t.Data[i] = value
	}
	return t
}
