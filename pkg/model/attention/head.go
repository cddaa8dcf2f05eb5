// Package attention implements the self-attention sublayer and the
// transformer block that wraps it.
//
// This package provides:
//   - Head: one scaled dot-product attention head with its own projections
//   - MultiHeadAttention: independent heads concatenated and projected (GPT-2 style)
//   - TransformerBlock: pre-norm block with two residual connections
package attention

import (
	"fmt"
	"math"

	"decodelm/pkg/tensor"
)

// Head implements a single scaled dot-product self-attention head.
//
// Each head owns its Query, Key and Value projections that map the model
// width down to the head width (dK = dV = d_model / num_heads).
type Head struct {
	WQuery *tensor.Tensor // (d_model, head_dim)
	WKey   *tensor.Tensor // (d_model, head_dim)
	WValue *tensor.Tensor // (d_model, head_dim)
}

// NewHead creates a head with Xavier-uniform projections.
func NewHead(dModel, headDim int, rng tensor.RandSource) *Head {
	return &Head{
		WQuery: tensor.XavierUniform(dModel, headDim, rng),
		WKey:   tensor.XavierUniform(dModel, headDim, rng),
		WValue: tensor.XavierUniform(dModel, headDim, rng),
	}
}

// Dim returns the head width.
func (h *Head) Dim() int { return h.WQuery.Shape[1] }

// AttentionWeights returns the (seq, seq) matrix of attention weights for x.
//
// Steps:
//  1. Q = x @ WQuery, K = x @ WKey
//  2. scores = Q @ K^T / sqrt(head_dim)
//  3. Add the causal mask when causal is true
//  4. Row-wise softmax
func (h *Head) AttentionWeights(x *tensor.Tensor, causal bool) (*tensor.Tensor, error) {
	if len(x.Shape) != 2 {
		return nil, &tensor.DimensionError{
			Op: "attention head", Left: x.Shape, Right: h.WQuery.Shape,
			Detail: fmt.Sprintf("expected 2D input (seq, d_model), got %dD", len(x.Shape)),
		}
	}

	// Q = x @ WQuery: (seq, d_model) @ (d_model, head_dim) -> (seq, head_dim)
	q, err := tensor.Matmul(x, h.WQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to compute Q: %w", err)
	}
	k, err := tensor.Matmul(x, h.WKey)
	if err != nil {
		return nil, fmt.Errorf("failed to compute K: %w", err)
	}

	kt, err := tensor.Transpose2D(k)
	if err != nil {
		return nil, fmt.Errorf("failed to transpose K: %w", err)
	}

	// scores: (seq, head_dim) @ (head_dim, seq) -> (seq, seq)
	scores, err := tensor.Matmul(q, kt)
	if err != nil {
		return nil, fmt.Errorf("failed to compute attention scores: %w", err)
	}
	scores = scores.Scale(float32(1.0 / math.Sqrt(float64(h.Dim()))))

	if causal {
		scores, err = tensor.ApplyMask(scores, tensor.CausalMask(x.Shape[0]))
		if err != nil {
			return nil, fmt.Errorf("failed to apply causal mask: %w", err)
		}
	}

	return tensor.SoftmaxRows(scores), nil
}

// Forward computes the head output.
//
// Input shape: (seq, d_model)
// Output shape: (seq, head_dim)
func (h *Head) Forward(x *tensor.Tensor, causal bool) (*tensor.Tensor, error) {
	weights, err := h.AttentionWeights(x, causal)
	if err != nil {
		return nil, err
	}

	v, err := tensor.Matmul(x, h.WValue)
	if err != nil {
		return nil, fmt.Errorf("failed to compute V: %w", err)
	}

	// weights: (seq, seq) @ V: (seq, head_dim) -> (seq, head_dim)
	output, err := tensor.Matmul(weights, v)
	if err != nil {
		return nil, fmt.Errorf("failed to compute attention output: %w", err)
	}
	return output, nil
}

// NumParams returns 3 * d_model * head_dim.
func (h *Head) NumParams() int {
	return h.WQuery.Size() + h.WKey.Size() + h.WValue.Size()
}
