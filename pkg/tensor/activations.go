package tensor

import "math"

// GELU approximation constants.
const (
	sqrt2OverPi = 0.7978845608028654 // sqrt(2/π)
	geluCoeff   = 0.044715
)

// GELUScalar evaluates the tanh approximation of the Gaussian Error Linear
// Unit:
//
//	GELU(x) = 0.5 * x * (1 + tanh(sqrt(2/π) * (x + 0.044715 * x^3)))
func GELUScalar(x float64) float64 {
	return 0.5 * x * (1 + math.Tanh(sqrt2OverPi*(x+geluCoeff*x*x*x)))
}

// GELU applies GELU element-wise and returns a new tensor of the same shape.
//
// Reference: https://arxiv.org/abs/1606.08415
func (t *Tensor) GELU() *Tensor {
	result := NewTensor(t.Shape)
	for i, x := range t.Data {
		result.Data[i] = float32(GELUScalar(float64(x)))
	}
	return result
}

// GELU is a standalone function that applies GELU to a tensor.
func GELU(t *Tensor) *Tensor {
	return t.GELU()
}
