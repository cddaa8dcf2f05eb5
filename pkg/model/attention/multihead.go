package attention

import (
	"fmt"

	"decodelm/pkg/tensor"
)

// MultiHeadAttentionConfig holds the dimensions of a MultiHeadAttention layer.
type MultiHeadAttentionConfig struct {
	NumHeads int
	DModel   int
}

// HeadDim returns DModel / NumHeads.
func (c MultiHeadAttentionConfig) HeadDim() int {
	return c.DModel / c.NumHeads
}

// MultiHeadAttention implements GPT-2 multi-head self-attention.
//
// Architecture:
//   - Each head has its own Q, K, V projections of width head_dim
//   - Head outputs are concatenated in head order (head 0 first)
//   - OutProj maps the concatenation back to d_model
type MultiHeadAttention struct {
	Heads   []*Head
	OutProj *tensor.Tensor // (d_model, d_model)
}

// NewMultiHeadAttention creates a multi-head attention layer. DModel must
// be divisible by NumHeads.
func NewMultiHeadAttention(config MultiHeadAttentionConfig, rng tensor.RandSource) (*MultiHeadAttention, error) {
	if config.NumHeads <= 0 || config.DModel <= 0 {
		return nil, fmt.Errorf("num_heads (%d) and d_model (%d) must be positive", config.NumHeads, config.DModel)
	}
	if config.DModel%config.NumHeads != 0 {
		return nil, fmt.Errorf("d_model (%d) must be divisible by num_heads (%d)", config.DModel, config.NumHeads)
	}

	heads := make([]*Head, config.NumHeads)
	for i := range heads {
		heads[i] = NewHead(config.DModel, config.HeadDim(), rng)
	}
	return &MultiHeadAttention{
		Heads:   heads,
		OutProj: tensor.XavierUniform(config.DModel, config.DModel, rng),
	}, nil
}

// NumHeads returns the number of heads.
func (m *MultiHeadAttention) NumHeads() int { return len(m.Heads) }

// DModel returns the model width.
func (m *MultiHeadAttention) DModel() int { return m.OutProj.Shape[0] }

// Forward computes multi-head attention.
//
// Input shape: (seq, d_model)
// Output shape: (seq, d_model)
//
// When causal is false every position attends to every other position.
func (m *MultiHeadAttention) Forward(x *tensor.Tensor, causal bool) (*tensor.Tensor, error) {
	outputs := make([]*tensor.Tensor, len(m.Heads))
	for i, h := range m.Heads {
		out, err := h.Forward(x, causal)
		if err != nil {
			return nil, fmt.Errorf("head %d: %w", i, err)
		}
		outputs[i] = out
	}

	// (seq, num_heads * head_dim) = (seq, d_model)
	concat, err := tensor.ConcatLastDim(outputs)
	if err != nil {
		return nil, fmt.Errorf("failed to concatenate heads: %w", err)
	}

	output, err := tensor.Matmul(concat, m.OutProj)
	if err != nil {
		return nil, fmt.Errorf("failed to apply output projection: %w", err)
	}
	return output, nil
}

// SetWeights replaces every projection with copies of the given tensors.
// wq, wk and wv hold one matrix per head. Every shape is checked before
// anything is assigned.
func (m *MultiHeadAttention) SetWeights(wq, wk, wv []*tensor.Tensor, wo *tensor.Tensor) error {
	n := len(m.Heads)
	if len(wq) != n || len(wk) != n || len(wv) != n {
		return &tensor.DimensionError{
			Op: "set attention weights", Left: []int{n}, Right: []int{len(wq), len(wk), len(wv)},
			Detail: "one matrix per head required",
		}
	}
	for i, h := range m.Heads {
		for _, pair := range [][2]*tensor.Tensor{{h.WQuery, wq[i]}, {h.WKey, wk[i]}, {h.WValue, wv[i]}} {
			if !pair[1].ShapeEquals(pair[0]) {
				return &tensor.DimensionError{
					Op: "set attention weights", Left: pair[0].Shape, Right: pair[1].Shape,
					Detail: fmt.Sprintf("head %d", i),
				}
			}
		}
	}
	if !wo.ShapeEquals(m.OutProj) {
		return &tensor.DimensionError{Op: "set attention output projection", Left: m.OutProj.Shape, Right: wo.Shape}
	}

	for i, h := range m.Heads {
		h.WQuery = wq[i].Clone()
		h.WKey = wk[i].Clone()
		h.WValue = wv[i].Clone()
	}
	m.OutProj = wo.Clone()
	return nil
}

// NumParams returns num_heads * 3 * d_model * head_dim + d_model^2.
func (m *MultiHeadAttention) NumParams() int {
	total := m.OutProj.Size()
	for _, h := range m.Heads {
		total += h.NumParams()
	}
	return total
}
