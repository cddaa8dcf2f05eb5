package model

import (
	"decodelm/pkg/tensor"
)

// embeddingStd is the standard deviation used for random embedding tables.
const embeddingStd = 0.02

// TokenEmbedding maps token ids to rows of a (vocab_size, d_model) table.
type TokenEmbedding struct {
	Weight *tensor.Tensor // (vocab_size, d_model)
}

// NewTokenEmbedding creates an embedding table drawn from N(0, 0.02^2).
func NewTokenEmbedding(vocabSize, dModel int, rng tensor.RandSource) *TokenEmbedding {
	return &TokenEmbedding{
		Weight: tensor.NormalInit([]int{vocabSize, dModel}, embeddingStd, rng),
	}
}

// VocabSize returns the number of rows in the table.
func (e *TokenEmbedding) VocabSize() int { return e.Weight.Shape[0] }

// Dim returns the embedding width.
func (e *TokenEmbedding) Dim() int { return e.Weight.Shape[1] }

// Forward looks up every id and returns a (len(ids), d_model) matrix.
// Rows are copies, so callers may modify the result freely.
func (e *TokenEmbedding) Forward(ids []int) (*tensor.Tensor, error) {
	vocab, dim := e.VocabSize(), e.Dim()
	out := tensor.NewTensor([]int{len(ids), dim})
	for pos, id := range ids {
		if id < 0 || id >= vocab {
			return nil, &TokenOutOfRangeError{Position: pos, Token: id, VocabSize: vocab}
		}
		copy(out.Data[pos*dim:(pos+1)*dim], e.Weight.Data[id*dim:(id+1)*dim])
	}
	return out, nil
}

// SetEmbedding replaces the table with a copy of w, which must have the
// same shape as the current table.
func (e *TokenEmbedding) SetEmbedding(w *tensor.Tensor) error {
	if !w.ShapeEquals(e.Weight) {
		return &tensor.DimensionError{Op: "set token embedding", Left: e.Weight.Shape, Right: w.Shape}
	}
	e.Weight = w.Clone()
	return nil
}

// NumParams returns vocab_size * d_model.
func (e *TokenEmbedding) NumParams() int { return e.Weight.Size() }
