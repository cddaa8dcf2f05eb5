package model

import (
	"fmt"

	"decodelm/pkg/model/attention"
	"decodelm/pkg/tensor"
)

// GPT2Model implements the complete GPT-2 transformer model.
//
// Architecture:
//  1. Token embeddings: lookup table (vocab_size, d_model)
//  2. Positional encoding: learned (max_seq_len, d_model) or sinusoidal
//  3. Transformer blocks: stack of NumLayers pre-norm blocks
//  4. Final layer norm
//  5. Output projection: (d_model, vocab_size) plus bias
//
// A forward pass only reads the weights, so a model may serve any number of
// sequential calls. Replacing weights is done through LoadWeights.
type GPT2Model struct {
	Config    Config
	TokEmb    *TokenEmbedding
	PosEnc    PositionalEncoding
	Blocks    []*attention.TransformerBlock
	FinalNorm *LayerNorm
	OutHead   *tensor.Tensor // (d_model, vocab_size)
	OutBias   *tensor.Tensor // (vocab_size,)

	// layers keeps the concrete sublayers of each block for weight access.
	layers []blockLayers
}

type blockLayers struct {
	norm1, norm2 *LayerNorm
	ff           *FeedForward
}

// Output is the result of a forward pass.
type Output struct {
	// Logits has shape (seq, vocab_size).
	Logits *tensor.Tensor
	// HiddenStates are the final-norm outputs, shape (seq, d_model).
	HiddenStates *tensor.Tensor
	// Probabilities is the row-wise softmax of Logits. Only set when the
	// caller did not ask for logits alone.
	Probabilities *tensor.Tensor
}

// New creates a GPT-2 model with random weights drawn from rng.
//
// The configuration is resolved (defaults filled in) and validated first;
// an invalid configuration returns a *ConfigurationError.
func New(config Config, rng tensor.RandSource) (*GPT2Model, error) {
	config = config.Resolve()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if rng == nil {
		return nil, fmt.Errorf("model construction requires a random source")
	}

	posEnc, err := NewPositionalEncoding(config, rng)
	if err != nil {
		return nil, err
	}

	m := &GPT2Model{
		Config: config,
		TokEmb: NewTokenEmbedding(config.VocabSize, config.DModel, rng),
		PosEnc: posEnc,
		Blocks: make([]*attention.TransformerBlock, config.NumLayers),
		layers: make([]blockLayers, config.NumLayers),
	}

	attnConfig := attention.MultiHeadAttentionConfig{
		NumHeads: config.NumHeads,
		DModel:   config.DModel,
	}
	for i := 0; i < config.NumLayers; i++ {
		attn, err := attention.NewMultiHeadAttention(attnConfig, rng)
		if err != nil {
			return nil, &ConfigurationError{Field: "num_heads", Value: config.NumHeads, Reason: err.Error()}
		}
		layers := blockLayers{
			norm1: NewLayerNorm(config.DModel, config.LayerNormEps),
			norm2: NewLayerNorm(config.DModel, config.LayerNormEps),
			ff:    NewFeedForward(config.DModel, config.DFF, rng),
		}
		m.layers[i] = layers
		m.Blocks[i] = attention.NewTransformerBlock(attn, layers.ff, layers.norm1, layers.norm2)
	}

	m.FinalNorm = NewLayerNorm(config.DModel, config.LayerNormEps)
	m.OutHead = tensor.XavierUniform(config.DModel, config.VocabSize, rng)
	m.OutBias = tensor.NewTensor([]int{config.VocabSize})

	return m, nil
}

// Forward computes the causal forward pass for one token sequence.
//
// Steps:
//  1. Check 1 <= len(ids) <= MaxSeqLen
//  2. x = TokEmb(ids) + PosEnc(len(ids))
//  3. For each block: x = block.Forward(x, causal=true)
//  4. h = FinalNorm(x)
//  5. logits = h @ OutHead + OutBias
//
// When returnLogits is false the row-wise softmax of the logits is also
// returned in Output.Probabilities.
func (m *GPT2Model) Forward(ids []int, returnLogits bool) (*Output, error) {
	return m.forward(ids, true, !returnLogits)
}

// ForwardNonCausal runs the same pipeline with masking disabled, so every
// position attends to every other position.
func (m *GPT2Model) ForwardNonCausal(ids []int) (*Output, error) {
	return m.forward(ids, false, false)
}

func (m *GPT2Model) forward(ids []int, causal, withProbs bool) (*Output, error) {
	seqLen := len(ids)
	if seqLen == 0 {
		return nil, ErrEmptySequence
	}
	if seqLen > m.Config.MaxSeqLen {
		return nil, &SequenceTooLongError{Length: seqLen, MaxSeqLen: m.Config.MaxSeqLen}
	}

	tokEmbeds, err := m.TokEmb.Forward(ids)
	if err != nil {
		return nil, fmt.Errorf("failed to lookup token embeddings: %w", err)
	}
	posEmbeds, err := m.PosEnc.Forward(seqLen)
	if err != nil {
		return nil, fmt.Errorf("failed to compute positional encoding: %w", err)
	}

	x, err := tensor.Add(tokEmbeds, posEmbeds)
	if err != nil {
		return nil, fmt.Errorf("failed to add embeddings: %w", err)
	}

	for i, block := range m.Blocks {
		x, err = block.Forward(x, causal)
		if err != nil {
			return nil, fmt.Errorf("failed in transformer block %d: %w", i, err)
		}
	}

	hidden, err := m.FinalNorm.Forward(x)
	if err != nil {
		return nil, fmt.Errorf("failed to apply final layer norm: %w", err)
	}

	// hidden: (seq, d_model) @ OutHead: (d_model, vocab_size) -> (seq, vocab_size)
	logits, err := tensor.Matmul(hidden, m.OutHead)
	if err != nil {
		return nil, fmt.Errorf("failed to compute output logits: %w", err)
	}
	logits, err = tensor.Add(logits, m.OutBias)
	if err != nil {
		return nil, fmt.Errorf("failed to add output bias: %w", err)
	}

	out := &Output{Logits: logits, HiddenStates: hidden}
	if withProbs {
		out.Probabilities = tensor.SoftmaxRows(logits)
	}
	return out, nil
}

// ParameterCount returns the number of parameters the model owns: both
// embedding tables (no table for sinusoidal positions), every block's
// attention, feed-forward and norms, the final norm, and the output head
// with its bias.
func (m *GPT2Model) ParameterCount() int {
	total := m.TokEmb.NumParams() + m.PosEnc.NumParams()
	for i, block := range m.Blocks {
		l := m.layers[i]
		total += block.Attn.NumParams() + l.ff.NumParams() + l.norm1.NumParams() + l.norm2.NumParams()
	}
	total += m.FinalNorm.NumParams()
	total += m.OutHead.Size() + m.OutBias.Size()
	return total
}
