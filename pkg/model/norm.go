package model

import (
	"fmt"
	"math"

	"decodelm/pkg/tensor"
)

// LayerNorm implements layer normalization with learnable scale and shift.
//
// LayerNorm normalizes every feature vector (the last dimension) on its own
// and applies a learned scale (gamma) and shift (beta).
//
// Formula:
//
//	mean = mean(v)
//	var = mean((v - mean)^2)
//	out = (v - mean) / sqrt(var + eps) * scale + shift
//
// The variance is the population variance (divisor d_model).
type LayerNorm struct {
	Scale *tensor.Tensor // (d_model,) - gamma parameter
	Shift *tensor.Tensor // (d_model,) - beta parameter
	Eps   float32        // Small constant for numerical stability
}

// NewLayerNorm creates a LayerNorm with scale=1 and shift=0.
func NewLayerNorm(dModel int, eps float32) *LayerNorm {
	return &LayerNorm{
		Scale: tensor.Full([]int{dModel}, 1),
		Shift: tensor.NewTensor([]int{dModel}),
		Eps:   eps,
	}
}

// Dim returns the normalized feature width.
func (ln *LayerNorm) Dim() int { return ln.Scale.Shape[0] }

// Forward normalizes a (seq, d_model) matrix.
func (ln *LayerNorm) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if len(x.Shape) != 2 {
		return nil, &tensor.DimensionError{
			Op: "layer norm", Left: x.Shape, Right: ln.Scale.Shape,
			Detail: fmt.Sprintf("expected 2D input, got %dD", len(x.Shape)),
		}
	}
	return ln.normalize(x)
}

// ForwardBatch normalizes a (batch, seq, d_model) tensor.
func (ln *LayerNorm) ForwardBatch(x *tensor.Tensor) (*tensor.Tensor, error) {
	if len(x.Shape) != 3 {
		return nil, &tensor.DimensionError{
			Op: "layer norm", Left: x.Shape, Right: ln.Scale.Shape,
			Detail: fmt.Sprintf("expected 3D input, got %dD", len(x.Shape)),
		}
	}
	return ln.normalize(x)
}

func (ln *LayerNorm) normalize(x *tensor.Tensor) (*tensor.Tensor, error) {
	sliceSize := x.Shape[len(x.Shape)-1]
	if sliceSize != ln.Dim() {
		return nil, &tensor.DimensionError{
			Op: "layer norm", Left: x.Shape, Right: ln.Scale.Shape,
			Detail: fmt.Sprintf("input width %d doesn't match norm width %d", sliceSize, ln.Dim()),
		}
	}

	result := tensor.NewTensor(x.Shape)
	if sliceSize == 0 {
		return result, nil
	}
	numSlices := x.Size() / sliceSize

	for sliceIdx := 0; sliceIdx < numSlices; sliceIdx++ {
		offset := sliceIdx * sliceSize
		v := x.Data[offset : offset+sliceSize]

		var mean float64
		for _, e := range v {
			mean += float64(e)
		}
		mean /= float64(sliceSize)

		var variance float64
		for _, e := range v {
			diff := float64(e) - mean
			variance += diff * diff
		}
		variance /= float64(sliceSize)

		invStd := 1.0 / math.Sqrt(variance+float64(ln.Eps))

		for i, e := range v {
			xNorm := (float64(e) - mean) * invStd
			result.Data[offset+i] = float32(xNorm)*ln.Scale.Data[i] + ln.Shift.Data[i]
		}
	}

	return result, nil
}

// SetParams replaces gamma and beta with copies of the given vectors.
// Both are checked before either is assigned.
func (ln *LayerNorm) SetParams(scale, shift *tensor.Tensor) error {
	if !scale.ShapeEquals(ln.Scale) {
		return &tensor.DimensionError{Op: "set layer norm scale", Left: ln.Scale.Shape, Right: scale.Shape}
	}
	if !shift.ShapeEquals(ln.Shift) {
		return &tensor.DimensionError{Op: "set layer norm shift", Left: ln.Shift.Shape, Right: shift.Shape}
	}
	ln.Scale = scale.Clone()
	ln.Shift = shift.Clone()
	return nil
}

// NumParams returns 2 * d_model.
func (ln *LayerNorm) NumParams() int {
	return ln.Scale.Size() + ln.Shift.Size()
}
