// Package sampling turns a vector of logits into a single token index.
package sampling

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"

	"decodelm/pkg/tensor"
)

// ErrInvalidTemperature is returned when the temperature is not strictly
// positive.
var ErrInvalidTemperature = errors.New("temperature must be positive")

// Source is the uniform random generator consumed by Sample.
// *rand.Rand and tensor.RandSource both satisfy it.
type Source interface {
	Float64() float64
}

// Config configures the behaviour of a Sampler.
type Config struct {
	// Temperature divides every logit before normalization. Must be > 0.
	Temperature float64
	// TopK keeps only the K highest logits. Zero or negative disables it.
	TopK int
}

// Sampler draws indices from logits. A Sampler is not safe for concurrent use.
type Sampler struct {
	cfg    Config
	rng    Source
	greedy bool
}

// NewSampler returns a sampler with the provided configuration.
func NewSampler(cfg Config, rng Source) (*Sampler, error) {
	if !(cfg.Temperature > 0) || math.IsInf(cfg.Temperature, 1) {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidTemperature, cfg.Temperature)
	}
	if rng == nil {
		return nil, errors.New("sampler requires a random source")
	}
	return &Sampler{cfg: cfg, rng: rng}, nil
}

// Greedy returns a sampler that always picks the highest logit.
func Greedy() *Sampler {
	return &Sampler{cfg: Config{Temperature: 1, TopK: 1}, greedy: true}
}

// Config returns the sampler configuration.
func (s *Sampler) Config() Config {
	return s.cfg
}

// Sample draws a single index from the provided logits vector:
//
//  1. Every logit is divided by the temperature.
//  2. When 0 < TopK < len(logits), all but the TopK highest are set to -Inf.
//  3. A softmax turns the scores into probabilities.
//  4. A value r is drawn from [0,1) and the first index whose cumulative
//     probability reaches r is returned.
//
// logits is not modified. Sample panics on an empty vector.
func (s *Sampler) Sample(logits []float32) int {
	if len(logits) == 0 {
		panic("sampling: empty logits")
	}
	if s.greedy {
		return Argmax(logits)
	}

	scores := ApplyTemperature(logits, s.cfg.Temperature)
	scores = TopKFilter(scores, s.cfg.TopK)
	tensor.SoftmaxInPlace(scores)
	return SampleIndex(scores, s.rng.Float64())
}

// ApplyTemperature returns (logits - max) / temperature, widened to
// float64. Shifting by the maximum leaves the softmax unchanged and keeps
// the top entry at 0, so a tiny temperature drives the others to -Inf
// instead of overflowing.
func ApplyTemperature(logits []float32, temperature float64) []float64 {
	out := make([]float64, len(logits))
	if len(logits) == 0 {
		return out
	}
	maxVal := float64(logits[tensor.ArgMax(logits)])
	if math.IsInf(maxVal, -1) {
		maxVal = 0
	}
	for i, l := range logits {
		out[i] = (float64(l) - maxVal) / temperature
	}
	return out
}

// TopKFilter returns a copy of scores where every entry outside the k
// highest is -Inf. Ties are broken toward the lower index so exactly k
// entries survive. k <= 0 or k >= len(scores) returns an unmodified copy.
func TopKFilter(scores []float64, k int) []float64 {
	out := slices.Clone(scores)
	if k <= 0 || k >= len(scores) {
		return out
	}

	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		switch {
		case scores[a] > scores[b]:
			return -1
		case scores[a] < scores[b]:
			return 1
		}
		return 0
	})

	negInf := math.Inf(-1)
	for _, idx := range order[k:] {
		out[idx] = negInf
	}
	return out
}

// SampleIndex performs inverse-CDF sampling over probs with the uniform
// draw r: it returns the first index with non-zero probability whose
// cumulative sum reaches r. When rounding leaves the total short of r the
// last index with non-zero probability is returned. Falling back to the
// plain last index instead could return an entry masked out by top-K.
func SampleIndex(probs []float64, r float64) int {
	if len(probs) == 0 {
		return -1
	}
	cdf := make([]float64, len(probs))
	floats.CumSum(cdf, probs)

	last := len(probs) - 1
	found := false
	for i, p := range probs {
		if p <= 0 {
			continue
		}
		if cdf[i] >= r {
			return i
		}
		last = i
		found = true
	}
	if !found {
		return len(probs) - 1
	}
	return last
}

// Argmax returns the index of the largest logit, preferring the lowest
// index on ties.
func Argmax(logits []float32) int {
	return tensor.ArgMax(logits)
}
