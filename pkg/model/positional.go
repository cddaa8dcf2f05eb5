package model

import (
	"fmt"
	"math"

	"decodelm/pkg/tensor"
)

// sinusoidalBase is the wavelength base of the sinusoidal encoding.
const sinusoidalBase = 10000.0

// PositionalEncoding produces one position vector per sequence index.
type PositionalEncoding interface {
	// Forward returns a (seqLen, d_model) matrix for positions 0..seqLen-1.
	Forward(seqLen int) (*tensor.Tensor, error)
	// NumParams returns the number of learnable parameters.
	NumParams() int
	// MaxSeqLen returns the longest sequence the encoding supports.
	MaxSeqLen() int
}

// NewPositionalEncoding builds the encoding selected by cfg.Positional.
func NewPositionalEncoding(cfg Config, rng tensor.RandSource) (PositionalEncoding, error) {
	switch cfg.Positional {
	case PositionalLearned, "":
		return NewLearnedPositionalEncoding(cfg.MaxSeqLen, cfg.DModel, rng), nil
	case PositionalSinusoidal:
		return NewSinusoidalPositionalEncoding(cfg.MaxSeqLen, cfg.DModel), nil
	default:
		return nil, &ConfigurationError{Field: "positional", Value: cfg.Positional, Reason: "must be learned or sinusoidal"}
	}
}

// LearnedPositionalEncoding is a trainable (max_seq_len, d_model) table.
type LearnedPositionalEncoding struct {
	Weight *tensor.Tensor // (max_seq_len, d_model)
}

// NewLearnedPositionalEncoding creates a table drawn from N(0, 0.02^2).
func NewLearnedPositionalEncoding(maxSeqLen, dModel int, rng tensor.RandSource) *LearnedPositionalEncoding {
	return &LearnedPositionalEncoding{
		Weight: tensor.NormalInit([]int{maxSeqLen, dModel}, embeddingStd, rng),
	}
}

// Forward returns a copy of the first seqLen rows.
func (p *LearnedPositionalEncoding) Forward(seqLen int) (*tensor.Tensor, error) {
	if err := checkSeqLen(seqLen, p.MaxSeqLen()); err != nil {
		return nil, err
	}
	return tensor.SliceRows(p.Weight, 0, seqLen)
}

// SetEmbedding replaces the table with a copy of w of identical shape.
func (p *LearnedPositionalEncoding) SetEmbedding(w *tensor.Tensor) error {
	if !w.ShapeEquals(p.Weight) {
		return &tensor.DimensionError{Op: "set positional embedding", Left: p.Weight.Shape, Right: w.Shape}
	}
	p.Weight = w.Clone()
	return nil
}

func (p *LearnedPositionalEncoding) NumParams() int { return p.Weight.Size() }

func (p *LearnedPositionalEncoding) MaxSeqLen() int { return p.Weight.Shape[0] }

// SinusoidalPositionalEncoding holds the fixed table
//
//	PE[pos, i] = sin(pos / 10000^(i/d_model))      for even i
//	PE[pos, i] = cos(pos / 10000^((i-1)/d_model))  for odd i
//
// computed once at construction.
type SinusoidalPositionalEncoding struct {
	table *tensor.Tensor // (max_seq_len, d_model)
}

// NewSinusoidalPositionalEncoding precomputes the table for every position.
func NewSinusoidalPositionalEncoding(maxSeqLen, dModel int) *SinusoidalPositionalEncoding {
	table := tensor.NewTensor([]int{maxSeqLen, dModel})
	for pos := 0; pos < maxSeqLen; pos++ {
		for i := 0; i < dModel; i++ {
			var v float64
			if i%2 == 0 {
				v = math.Sin(float64(pos) / math.Pow(sinusoidalBase, float64(i)/float64(dModel)))
			} else {
				v = math.Cos(float64(pos) / math.Pow(sinusoidalBase, float64(i-1)/float64(dModel)))
			}
			table.Data[pos*dModel+i] = float32(v)
		}
	}
	return &SinusoidalPositionalEncoding{table: table}
}

// Forward returns a copy of the first seqLen rows of the table.
func (p *SinusoidalPositionalEncoding) Forward(seqLen int) (*tensor.Tensor, error) {
	if err := checkSeqLen(seqLen, p.MaxSeqLen()); err != nil {
		return nil, err
	}
	return tensor.SliceRows(p.table, 0, seqLen)
}

// NumParams is always zero: the table is not learned.
func (p *SinusoidalPositionalEncoding) NumParams() int { return 0 }

func (p *SinusoidalPositionalEncoding) MaxSeqLen() int { return p.table.Shape[0] }

func checkSeqLen(seqLen, maxSeqLen int) error {
	if seqLen < 0 {
		return fmt.Errorf("negative sequence length %d", seqLen)
	}
	if seqLen > maxSeqLen {
		return &SequenceTooLongError{Length: seqLen, MaxSeqLen: maxSeqLen}
	}
	return nil
}
