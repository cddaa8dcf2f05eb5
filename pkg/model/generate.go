package model

import (
	"context"
	"fmt"

	"decodelm/pkg/sampling"
)

// GenerateOptions configures GenerateContext.
type GenerateOptions struct {
	// Temperature divides the logits before sampling. Must be > 0 unless
	// Greedy is set.
	Temperature float64
	// TopK restricts sampling to the K highest logits. Zero disables it.
	TopK int
	// Rand supplies the uniform draws for sampling.
	Rand sampling.Source
	// Greedy always picks the highest logit and ignores the other fields.
	Greedy bool
	// OnToken, if set, is called after every sampled token.
	OnToken func(step, token int)
}

// GenerateNextToken predicts the token that follows ids.
//
// Steps:
//  1. Run Forward and keep the last row of the logits
//  2. Divide by temperature (must be > 0)
//  3. If 0 < topK < vocab_size keep only the topK highest logits
//  4. Softmax
//  5. Inverse-CDF draw with one uniform value from rng
func (m *GPT2Model) GenerateNextToken(ids []int, temperature float64, topK int, rng sampling.Source) (int, error) {
	sampler, err := sampling.NewSampler(sampling.Config{Temperature: temperature, TopK: topK}, rng)
	if err != nil {
		return 0, err
	}
	return m.nextToken(ids, sampler)
}

func (m *GPT2Model) nextToken(ids []int, sampler *sampling.Sampler) (int, error) {
	out, err := m.Forward(ids, true)
	if err != nil {
		return 0, err
	}
	last := out.Logits.Row(out.Logits.Shape[0] - 1)
	return sampler.Sample(last), nil
}

// Generate extends initial by exactly maxLength sampled tokens and returns
// the whole sequence, initial tokens included.
//
// Once the sequence is longer than MaxSeqLen only the most recent MaxSeqLen
// tokens are fed to the model. There is no end-of-sequence token: the loop
// always runs maxLength steps.
func (m *GPT2Model) Generate(initial []int, maxLength int, temperature float64, topK int, rng sampling.Source) ([]int, error) {
	return m.GenerateContext(context.Background(), initial, maxLength, GenerateOptions{
		Temperature: temperature,
		TopK:        topK,
		Rand:        rng,
	})
}

// GenerateContext is Generate with cancellation checked between steps. On
// cancellation it returns the tokens produced so far together with ctx.Err().
func (m *GPT2Model) GenerateContext(ctx context.Context, initial []int, maxLength int, opts GenerateOptions) ([]int, error) {
	if maxLength < 0 {
		return nil, fmt.Errorf("max length must be non-negative, got %d", maxLength)
	}
	if len(initial) == 0 {
		return nil, ErrEmptySequence
	}

	var sampler *sampling.Sampler
	if opts.Greedy {
		sampler = sampling.Greedy()
	} else {
		var err error
		sampler, err = sampling.NewSampler(sampling.Config{Temperature: opts.Temperature, TopK: opts.TopK}, opts.Rand)
		if err != nil {
			return nil, err
		}
	}

	tokens := make([]int, len(initial), len(initial)+maxLength)
	copy(tokens, initial)

	for step := 0; step < maxLength; step++ {
		if err := ctx.Err(); err != nil {
			return tokens, err
		}

		next, err := m.nextToken(m.window(tokens), sampler)
		if err != nil {
			return nil, fmt.Errorf("generation step %d: %w", step, err)
		}
		tokens = append(tokens, next)

		if opts.OnToken != nil {
			opts.OnToken(step, next)
		}
	}

	return tokens, nil
}

// window returns the trailing MaxSeqLen tokens.
func (m *GPT2Model) window(tokens []int) []int {
	if n := m.Config.MaxSeqLen; len(tokens) > n {
		return tokens[len(tokens)-n:]
	}
	return tokens
}
