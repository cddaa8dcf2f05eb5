package attention

import (
	"math"
	"math/rand"
	"testing"

	"decodelm/pkg/tensor"
)

func newRand() *rand.Rand { return rand.New(rand.NewSource(1)) }

func identity(n int) *tensor.Tensor {
	m := tensor.NewTensor([]int{n, n})
	for i := 0; i < n; i++ {
		m.Set(1, i, i)
	}
	return m
}

// patternInput returns a (seq, d) input with distinct rows.
func patternInput(seq, d int) *tensor.Tensor {
	x := tensor.NewTensor([]int{seq, d})
	for s := 0; s < seq; s++ {
		for j := 0; j < d; j++ {
			x.Set(float32((s+1)*(j+2))*0.1-0.3, s, j)
		}
	}
	return x
}

// TestHead_IdentityProjections tests basic causal attention with identity projections.
func TestHead_IdentityProjections(t *testing.T) {
	const dModel, seqLen = 4, 3
	h := &Head{WQuery: identity(dModel), WKey: identity(dModel), WValue: identity(dModel)}

	input := patternInput(seqLen, dModel)
	output, err := h.Forward(input, true)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}

	if !output.HasShape(seqLen, dModel) {
		t.Fatalf("Expected shape [%d %d], got %v", seqLen, dModel, output.Shape)
	}

	// Position 0 can only attend to itself, so its output is its own value row.
	for j := 0; j < dModel; j++ {
		if math.Abs(float64(output.Get(0, j)-input.Get(0, j))) > 1e-6 {
			t.Errorf("output[0,%d] = %v, expected %v", j, output.Get(0, j), input.Get(0, j))
		}
	}
}

// TestHead_ScaledScores checks the 1/sqrt(head_dim) scaling of the scores.
func TestHead_ScaledScores(t *testing.T) {
	h := &Head{WQuery: identity(2), WKey: identity(2), WValue: identity(2)}
	x := identity(2)

	weights, err := h.AttentionWeights(x, false)
	if err != nil {
		t.Fatalf("AttentionWeights failed: %v", err)
	}

	// scores = [[1, 0], [0, 1]] / sqrt(2)
	expected := 1 / (1 + math.Exp(-1/math.Sqrt(2)))
	if math.Abs(float64(weights.Get(0, 0))-expected) > 1e-6 {
		t.Errorf("weights[0,0] = %v, expected %v", weights.Get(0, 0), expected)
	}
	if math.Abs(float64(weights.Get(1, 1))-expected) > 1e-6 {
		t.Errorf("weights[1,1] = %v, expected %v", weights.Get(1, 1), expected)
	}
}

// TestHead_CausalMasking tests that no position attends to a later one.
func TestHead_CausalMasking(t *testing.T) {
	const dModel, headDim, seqLen = 8, 4, 5
	h := NewHead(dModel, headDim, newRand())

	weights, err := h.AttentionWeights(patternInput(seqLen, dModel), true)
	if err != nil {
		t.Fatalf("AttentionWeights failed: %v", err)
	}

	for i := 0; i < seqLen; i++ {
		var sum float32
		for j := 0; j < seqLen; j++ {
			w := weights.Get(i, j)
			if j > i && w != 0 {
				t.Errorf("weights[%d,%d] = %v, expected 0", i, j, w)
			}
			sum += w
		}
		if math.Abs(float64(sum-1)) > 1e-5 {
			t.Errorf("row %d sums to %v, expected 1", i, sum)
		}
	}
}

// TestHead_FutureTokensDoNotLeak changes the last position and checks that
// earlier outputs only move when masking is off.
func TestHead_FutureTokensDoNotLeak(t *testing.T) {
	const dModel, headDim, seqLen = 6, 3, 4
	h := NewHead(dModel, headDim, newRand())

	a := patternInput(seqLen, dModel)
	b := a.Clone()
	for j := 0; j < dModel; j++ {
		b.Set(5, seqLen-1, j)
	}

	for _, causal := range []bool{true, false} {
		outA, err := h.Forward(a, causal)
		if err != nil {
			t.Fatal(err)
		}
		outB, err := h.Forward(b, causal)
		if err != nil {
			t.Fatal(err)
		}

		same := true
		for j := 0; j < headDim; j++ {
			if outA.Get(0, j) != outB.Get(0, j) {
				same = false
			}
		}
		if causal && !same {
			t.Errorf("causal head: position 0 changed when a later token changed")
		}
		if !causal && same {
			t.Errorf("non-causal head: position 0 should see the later token")
		}
	}
}

// TestMultiHeadAttention_ParallelHeads tests that the width splits evenly across heads.
func TestMultiHeadAttention_ParallelHeads(t *testing.T) {
	config := MultiHeadAttentionConfig{NumHeads: 4, DModel: 64}

	attn, err := NewMultiHeadAttention(config, newRand())
	if err != nil {
		t.Fatalf("NewMultiHeadAttention failed: %v", err)
	}

	if attn.NumHeads() != config.NumHeads {
		t.Fatalf("Expected %d heads, got %d", config.NumHeads, attn.NumHeads())
	}
	width := 0
	for i, h := range attn.Heads {
		if h.Dim() != config.HeadDim() {
			t.Errorf("head %d: expected head_dim %d, got %d", i, config.HeadDim(), h.Dim())
		}
		if !h.WValue.HasShape(config.DModel, config.HeadDim()) {
			t.Errorf("head %d: unexpected WValue shape %v", i, h.WValue.Shape)
		}
		width += h.Dim()
	}
	if width != config.DModel {
		t.Errorf("Concatenated width %d, expected %d", width, config.DModel)
	}

	output, err := attn.Forward(patternInput(8, config.DModel), true)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	if !output.HasShape(8, config.DModel) {
		t.Errorf("Expected shape [8 %d], got %v", config.DModel, output.Shape)
	}
}

func TestNewMultiHeadAttention_Indivisible(t *testing.T) {
	_, err := NewMultiHeadAttention(MultiHeadAttentionConfig{NumHeads: 4, DModel: 6}, newRand())
	if err == nil {
		t.Fatal("Expected error for d_model=6, num_heads=4")
	}
}

// TestMultiHeadAttention_ConcatOrder checks that head 0 fills the first columns.
func TestMultiHeadAttention_ConcatOrder(t *testing.T) {
	config := MultiHeadAttentionConfig{NumHeads: 2, DModel: 4}
	attn, err := NewMultiHeadAttention(config, newRand())
	if err != nil {
		t.Fatal(err)
	}
	attn.OutProj = identity(config.DModel)

	x := patternInput(3, config.DModel)
	output, err := attn.Forward(x, true)
	if err != nil {
		t.Fatal(err)
	}

	for h, head := range attn.Heads {
		headOut, err := head.Forward(x, true)
		if err != nil {
			t.Fatal(err)
		}
		for s := 0; s < 3; s++ {
			for j := 0; j < config.HeadDim(); j++ {
				got := output.Get(s, h*config.HeadDim()+j)
				if math.Abs(float64(got-headOut.Get(s, j))) > 1e-6 {
					t.Errorf("head %d pos %d col %d: got %v, expected %v", h, s, j, got, headOut.Get(s, j))
				}
			}
		}
	}
}

// TestMultiHeadAttention_ShapeValidation tests shape validation.
func TestMultiHeadAttention_ShapeValidation(t *testing.T) {
	config := MultiHeadAttentionConfig{NumHeads: 4, DModel: 16}
	attn, err := NewMultiHeadAttention(config, newRand())
	if err != nil {
		t.Fatal(err)
	}

	testCases := []struct {
		name      string
		input     *tensor.Tensor
		wantError bool
	}{
		{name: "valid_2d_input", input: tensor.NewTensor([]int{8, config.DModel})},
		{name: "wrong_input_dim", input: tensor.NewTensor([]int{8, 12}), wantError: true},
		{name: "3d_input", input: tensor.NewTensor([]int{2, 8, config.DModel}), wantError: true},
		{name: "1d_input", input: tensor.NewTensor([]int{config.DModel}), wantError: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := attn.Forward(tc.input, true)
			if tc.wantError && err == nil {
				t.Errorf("Expected error for %s, got none", tc.name)
			}
			if !tc.wantError && err != nil {
				t.Errorf("Unexpected error for %s: %v", tc.name, err)
			}
		})
	}
}

func TestMultiHeadAttention_SetWeights(t *testing.T) {
	config := MultiHeadAttentionConfig{NumHeads: 2, DModel: 4}
	attn, err := NewMultiHeadAttention(config, newRand())
	if err != nil {
		t.Fatal(err)
	}

	mk := func() []*tensor.Tensor {
		return []*tensor.Tensor{
			tensor.Full([]int{4, 2}, 0.5),
			tensor.Full([]int{4, 2}, 0.5),
		}
	}

	t.Run("rejects mismatch without partial writes", func(t *testing.T) {
		before := attn.Heads[0].WQuery.Clone()
		bad := mk()
		bad[1] = tensor.NewTensor([]int{4, 3})
		if err := attn.SetWeights(mk(), mk(), bad, identity(4)); err == nil {
			t.Fatal("Expected error for mismatched WValue")
		}
		if !attn.Heads[0].WQuery.Equals(before, 0) {
			t.Error("WQuery changed after a rejected SetWeights")
		}
	})

	t.Run("assigns copies", func(t *testing.T) {
		wq := mk()
		if err := attn.SetWeights(wq, mk(), mk(), identity(4)); err != nil {
			t.Fatalf("SetWeights failed: %v", err)
		}
		wq[0].Data[0] = 99
		if attn.Heads[0].WQuery.Data[0] != 0.5 {
			t.Error("SetWeights aliased the caller's tensor")
		}
	})

	if got, want := attn.NumParams(), 2*3*4*2+4*4; got != want {
		t.Errorf("NumParams = %d, expected %d", got, want)
	}
}

type passThrough struct{}

func (passThrough) Forward(x *tensor.Tensor) (*tensor.Tensor, error) { return x.Clone(), nil }

type zeroFF struct{}

func (zeroFF) Forward(x *tensor.Tensor) (*tensor.Tensor, error) { return tensor.NewTensor(x.Shape), nil }

// TestTransformerBlock_Residual checks both residual paths.
func TestTransformerBlock_Residual(t *testing.T) {
	config := MultiHeadAttentionConfig{NumHeads: 2, DModel: 4}
	attn, err := NewMultiHeadAttention(config, newRand())
	if err != nil {
		t.Fatal(err)
	}
	x := patternInput(3, config.DModel)

	attn.OutProj = tensor.NewTensor([]int{4, 4})
	block := NewTransformerBlock(attn, zeroFF{}, passThrough{}, passThrough{})
	out, err := block.Forward(x, true)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	if !out.Equals(x, 0) {
		t.Errorf("zero sublayers should return the input, got %v", out)
	}

	attn.OutProj = identity(4)
	out, err = block.Forward(x, true)
	if err != nil {
		t.Fatal(err)
	}
	attnOut, err := attn.Forward(x, true)
	if err != nil {
		t.Fatal(err)
	}
	want, err := tensor.Add(x, attnOut)
	if err != nil {
		t.Fatal(err)
	}
	if !out.Equals(want, 1e-6) {
		t.Errorf("expected x + attn(x), got %v", out)
	}
}

// BenchmarkMultiHeadAttention benchmarks multi-head attention.
func BenchmarkMultiHeadAttention(b *testing.B) {
	config := MultiHeadAttentionConfig{NumHeads: 12, DModel: 768}
	attn, err := NewMultiHeadAttention(config, newRand())
	if err != nil {
		b.Fatal(err)
	}
	input := tensor.NewTensor([]int{128, config.DModel})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := attn.Forward(input, true); err != nil {
			b.Fatal(err)
		}
	}
}
