package model

import (
	"fmt"

	"decodelm/pkg/tensor"
)

// FeedForward implements the position-wise feed-forward network used in GPT-2.
//
// Architecture:
//  1. Linear projection: x @ FC1 + B1 -> (seq, d_ff)
//  2. GELU activation
//  3. Linear projection: @ FC2 + B2 -> (seq, d_model)
//
// Each row is transformed on its own; positions never interact.
type FeedForward struct {
	FC1 *tensor.Tensor // (d_model, d_ff)
	B1  *tensor.Tensor // (d_ff,)
	FC2 *tensor.Tensor // (d_ff, d_model)
	B2  *tensor.Tensor // (d_model,)
}

// NewFeedForward creates a feed-forward layer with Xavier-uniform weights
// and zero biases.
func NewFeedForward(dModel, dFF int, rng tensor.RandSource) *FeedForward {
	return &FeedForward{
		FC1: tensor.XavierUniform(dModel, dFF, rng),
		B1:  tensor.NewTensor([]int{dFF}),
		FC2: tensor.XavierUniform(dFF, dModel, rng),
		B2:  tensor.NewTensor([]int{dModel}),
	}
}

// Forward computes GELU(x @ FC1 + B1) @ FC2 + B2.
//
// Input shape: (seq, d_model)
// Output shape: (seq, d_model)
func (ff *FeedForward) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if len(x.Shape) < 2 {
		return nil, &tensor.DimensionError{
			Op: "feed forward", Left: x.Shape, Right: ff.FC1.Shape,
			Detail: fmt.Sprintf("expected at least 2D input, got %dD", len(x.Shape)),
		}
	}

	// x: (seq, d_model) @ FC1: (d_model, d_ff) -> (seq, d_ff)
	hidden, err := tensor.Matmul(x, ff.FC1)
	if err != nil {
		return nil, fmt.Errorf("failed to compute FC1 projection: %w", err)
	}
	hidden, err = tensor.Add(hidden, ff.B1)
	if err != nil {
		return nil, fmt.Errorf("failed to add FC1 bias: %w", err)
	}

	activated := hidden.GELU()

	// activated: (seq, d_ff) @ FC2: (d_ff, d_model) -> (seq, d_model)
	output, err := tensor.Matmul(activated, ff.FC2)
	if err != nil {
		return nil, fmt.Errorf("failed to compute FC2 projection: %w", err)
	}
	output, err = tensor.Add(output, ff.B2)
	if err != nil {
		return nil, fmt.Errorf("failed to add FC2 bias: %w", err)
	}

	return output, nil
}

// SetWeights replaces all four parameters with copies. Every shape is
// checked before anything is assigned.
func (ff *FeedForward) SetWeights(w1, b1, w2, b2 *tensor.Tensor) error {
	checks := []struct {
		name     string
		got, cur *tensor.Tensor
	}{
		{"fc1", w1, ff.FC1},
		{"b1", b1, ff.B1},
		{"fc2", w2, ff.FC2},
		{"b2", b2, ff.B2},
	}
	for _, c := range checks {
		if !c.got.ShapeEquals(c.cur) {
			return &tensor.DimensionError{Op: "set feed forward " + c.name, Left: c.cur.Shape, Right: c.got.Shape}
		}
	}

	ff.FC1 = w1.Clone()
	ff.B1 = b1.Clone()
	ff.FC2 = w2.Clone()
	ff.B2 = b2.Clone()
	return nil
}

// NumParams returns 2*d_model*d_ff + d_ff + d_model.
func (ff *FeedForward) NumParams() int {
	return ff.FC1.Size() + ff.B1.Size() + ff.FC2.Size() + ff.B2.Size()
}
