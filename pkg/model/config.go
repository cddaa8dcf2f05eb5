// Package model provides the decoder-only transformer for GPT-2 style
// inference.
//
// GPT-2 Key Features:
//   - LayerNorm with scale (gamma) and shift (beta), applied before each sublayer
//   - GELU activation in the feed-forward sublayer
//   - Multi-Head Attention with an independent projection per head
//   - Learned positional embeddings (sinusoidal encodings are also available)
package model

import "fmt"

// PositionalKind selects the positional encoding variant.
type PositionalKind string

const (
	PositionalLearned    PositionalKind = "learned"
	PositionalSinusoidal PositionalKind = "sinusoidal"
)

// DefaultLayerNormEps is the epsilon used by every LayerNorm unless the
// configuration overrides it.
const DefaultLayerNormEps = 1e-5

// Config holds the model hyperparameters. Zero-valued optional fields are
// filled in by Resolve.
type Config struct {
	// VocabSize is the size of the token vocabulary (50257 for GPT-2)
	VocabSize int `yaml:"vocab_size" json:"vocab_size"`

	// DModel is the width of every hidden state (768 for GPT-2 124M)
	DModel int `yaml:"d_model" json:"d_model"`

	// NumLayers is the number of transformer blocks (12 for GPT-2 124M)
	NumLayers int `yaml:"num_layers" json:"num_layers"`

	// NumHeads is the number of attention heads (12 for GPT-2 124M)
	NumHeads int `yaml:"num_heads" json:"num_heads"`

	// DFF is the feed-forward inner width. Defaults to 4 * DModel.
	DFF int `yaml:"d_ff,omitempty" json:"d_ff,omitempty"`

	// MaxSeqLen is the longest sequence a forward pass accepts (1024 for GPT-2)
	MaxSeqLen int `yaml:"max_seq_len" json:"max_seq_len"`

	// Dropout is accepted for compatibility and never applied.
	Dropout float32 `yaml:"dropout,omitempty" json:"dropout,omitempty"`

	// Positional selects learned or sinusoidal position vectors. Defaults to learned.
	Positional PositionalKind `yaml:"positional,omitempty" json:"positional,omitempty"`

	// LayerNormEps defaults to DefaultLayerNormEps.
	LayerNormEps float32 `yaml:"layer_norm_eps,omitempty" json:"layer_norm_eps,omitempty"`
}

// DefaultGPT2Config returns a configuration for the GPT-2 124M model.
func DefaultGPT2Config() Config {
	return Config{
		VocabSize:    50257,
		DModel:       768,
		NumLayers:    12,
		NumHeads:     12,
		DFF:          3072, // 4 * 768
		MaxSeqLen:    1024,
		Dropout:      0.1,
		Positional:   PositionalLearned,
		LayerNormEps: DefaultLayerNormEps,
	}
}

// Presets are named configurations selectable from the command line.
var Presets = map[string]Config{
	"tiny": {
		VocabSize: 100,
		DModel:    4,
		NumLayers: 2,
		NumHeads:  2,
		DFF:       8,
		MaxSeqLen: 10,
	},
	"small": {
		VocabSize: 512,
		DModel:    64,
		NumLayers: 4,
		NumHeads:  4,
		MaxSeqLen: 128,
	},
	"gpt2-small": DefaultGPT2Config(),
}

// Resolve returns a copy of c with every optional field set to its default.
func (c Config) Resolve() Config {
	if c.DFF == 0 {
		c.DFF = 4 * c.DModel
	}
	if c.Positional == "" {
		c.Positional = PositionalLearned
	}
	if c.LayerNormEps == 0 {
		c.LayerNormEps = DefaultLayerNormEps
	}
	return c
}

// Validate checks if the configuration is valid and consistent.
// Every failure is a *ConfigurationError.
func (c Config) Validate() error {
	positive := []struct {
		field string
		value int
	}{
		{"vocab_size", c.VocabSize},
		{"d_model", c.DModel},
		{"num_layers", c.NumLayers},
		{"num_heads", c.NumHeads},
		{"d_ff", c.DFF},
		{"max_seq_len", c.MaxSeqLen},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return &ConfigurationError{Field: p.field, Value: p.value, Reason: "must be positive"}
		}
	}

	if c.DModel%c.NumHeads != 0 {
		return &ConfigurationError{
			Field:  "d_model",
			Value:  c.DModel,
			Reason: fmt.Sprintf("must be divisible by num_heads (%d)", c.NumHeads),
		}
	}
	if c.Dropout < 0 || c.Dropout >= 1 {
		return &ConfigurationError{Field: "dropout", Value: c.Dropout, Reason: "must be in [0, 1)"}
	}
	switch c.Positional {
	case PositionalLearned, PositionalSinusoidal:
	default:
		return &ConfigurationError{Field: "positional", Value: c.Positional, Reason: "must be learned or sinusoidal"}
	}
	if c.LayerNormEps <= 0 {
		return &ConfigurationError{Field: "layer_norm_eps", Value: c.LayerNormEps, Reason: "must be positive"}
	}
	return nil
}

// HeadDimension returns the dimension per attention head (dK = dV).
func (c Config) HeadDimension() int {
	return c.DModel / c.NumHeads
}

// ParameterCount returns the closed-form number of parameters a model
// built from c owns.
func (c Config) ParameterCount() int {
	c = c.Resolve()
	d, v, ff := c.DModel, c.VocabSize, c.DFF

	count := v * d // token embedding
	if c.Positional == PositionalLearned {
		count += c.MaxSeqLen * d
	}

	attn := c.NumHeads*3*d*c.HeadDimension() + d*d
	ffn := d*ff + ff + ff*d + d
	norms := 2 * (2 * d)
	count += c.NumLayers * (attn + ffn + norms)

	count += 2 * d   // final norm
	count += d*v + v // output projection and bias
	return count
}
