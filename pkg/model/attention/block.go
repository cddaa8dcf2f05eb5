package attention

import (
	"fmt"

	"decodelm/pkg/tensor"
)

// FeedForward is an interface for feed-forward layers
type FeedForward interface {
	Forward(x *tensor.Tensor) (*tensor.Tensor, error)
}

// LayerNorm is an interface for layer normalization
type LayerNorm interface {
	Forward(x *tensor.Tensor) (*tensor.Tensor, error)
}

// TransformerBlock implements a single transformer block for GPT-2.
//
// Architecture (per block):
//  1. a = x + Attn(Norm1(x), causal)
//  2. y = a + FF(Norm2(a))
//
// GPT-2 uses LayerNorm before attention and FFN (pre-norm). Every block
// owns its own instances; nothing is shared between blocks.
type TransformerBlock struct {
	Attn  *MultiHeadAttention
	FF    FeedForward
	Norm1 LayerNorm // Pre-attention
	Norm2 LayerNorm // Pre-FFN
}

// NewTransformerBlock creates a new transformer block.
func NewTransformerBlock(attn *MultiHeadAttention, ff FeedForward, norm1, norm2 LayerNorm) *TransformerBlock {
	return &TransformerBlock{
		Attn:  attn,
		FF:    ff,
		Norm1: norm1,
		Norm2: norm2,
	}
}

// Forward computes one transformer block.
//
// Input shape: (seq, d_model)
// Output shape: (seq, d_model)
func (b *TransformerBlock) Forward(x *tensor.Tensor, causal bool) (*tensor.Tensor, error) {
	normed, err := b.Norm1.Forward(x)
	if err != nil {
		return nil, fmt.Errorf("failed to apply Norm1: %w", err)
	}

	attnOut, err := b.Attn.Forward(normed, causal)
	if err != nil {
		return nil, fmt.Errorf("failed to compute attention: %w", err)
	}

	if !attnOut.ShapeEquals(x) {
		return nil, &tensor.DimensionError{Op: "attention residual", Left: x.Shape, Right: attnOut.Shape}
	}
	a, err := tensor.Add(x, attnOut)
	if err != nil {
		return nil, fmt.Errorf("failed to add attention residual: %w", err)
	}

	normed, err = b.Norm2.Forward(a)
	if err != nil {
		return nil, fmt.Errorf("failed to apply Norm2: %w", err)
	}

	ffOut, err := b.FF.Forward(normed)
	if err != nil {
		return nil, fmt.Errorf("failed to compute feed-forward: %w", err)
	}

	if !ffOut.ShapeEquals(a) {
		return nil, &tensor.DimensionError{Op: "feed-forward residual", Left: a.Shape, Right: ffOut.Shape}
	}
	output, err := tensor.Add(a, ffOut)
	if err != nil {
		return nil, fmt.Errorf("failed to add feed-forward residual: %w", err)
	}

	return output, nil
}
