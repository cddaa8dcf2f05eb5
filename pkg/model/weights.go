package model

import (
	"fmt"

	"decodelm/pkg/tensor"
)

// BlockWeights holds the parameters of one transformer block.
type BlockWeights struct {
	Norm1Scale *tensor.Tensor   `json:"norm1_scale"`
	Norm1Shift *tensor.Tensor   `json:"norm1_shift"`
	WQuery     []*tensor.Tensor `json:"w_query"` // one (d_model, head_dim) per head
	WKey       []*tensor.Tensor `json:"w_key"`
	WValue     []*tensor.Tensor `json:"w_value"`
	OutProj    *tensor.Tensor   `json:"out_proj"`
	Norm2Scale *tensor.Tensor   `json:"norm2_scale"`
	Norm2Shift *tensor.Tensor   `json:"norm2_shift"`
	FC1        *tensor.Tensor   `json:"fc1"`
	B1         *tensor.Tensor   `json:"b1"`
	FC2        *tensor.Tensor   `json:"fc2"`
	B2         *tensor.Tensor   `json:"b2"`
}

// Weights is a complete set of model parameters.
type Weights struct {
	TokenEmbedding *tensor.Tensor `json:"token_embedding"`
	// PositionEmbedding is nil for sinusoidal encodings.
	PositionEmbedding *tensor.Tensor `json:"position_embedding,omitempty"`
	Blocks            []BlockWeights `json:"blocks"`
	FinalNormScale    *tensor.Tensor `json:"final_norm_scale"`
	FinalNormShift    *tensor.Tensor `json:"final_norm_shift"`
	OutHead           *tensor.Tensor `json:"out_head"`
	OutBias           *tensor.Tensor `json:"out_bias"`
}

type namedTensor struct {
	name string
	t    *tensor.Tensor
}

// named lists every tensor in a fixed order. Nil entries are kept so that
// validation can report them.
func (w *Weights) named() []namedTensor {
	list := []namedTensor{{"token_embedding", w.TokenEmbedding}}
	if w.PositionEmbedding != nil {
		list = append(list, namedTensor{"position_embedding", w.PositionEmbedding})
	}
	for i, b := range w.Blocks {
		prefix := fmt.Sprintf("blocks.%d.", i)
		list = append(list,
			namedTensor{prefix + "norm1.scale", b.Norm1Scale},
			namedTensor{prefix + "norm1.shift", b.Norm1Shift},
		)
		for h := range b.WQuery {
			list = append(list, namedTensor{fmt.Sprintf("%sattn.heads.%d.w_query", prefix, h), b.WQuery[h]})
		}
		for h := range b.WKey {
			list = append(list, namedTensor{fmt.Sprintf("%sattn.heads.%d.w_key", prefix, h), b.WKey[h]})
		}
		for h := range b.WValue {
			list = append(list, namedTensor{fmt.Sprintf("%sattn.heads.%d.w_value", prefix, h), b.WValue[h]})
		}
		list = append(list,
			namedTensor{prefix + "attn.out_proj", b.OutProj},
			namedTensor{prefix + "norm2.scale", b.Norm2Scale},
			namedTensor{prefix + "norm2.shift", b.Norm2Shift},
			namedTensor{prefix + "ff.fc1", b.FC1},
			namedTensor{prefix + "ff.b1", b.B1},
			namedTensor{prefix + "ff.fc2", b.FC2},
			namedTensor{prefix + "ff.b2", b.B2},
		)
	}
	return append(list,
		namedTensor{"final_norm.scale", w.FinalNormScale},
		namedTensor{"final_norm.shift", w.FinalNormShift},
		namedTensor{"out_head", w.OutHead},
		namedTensor{"out_bias", w.OutBias},
	)
}

// NumParams returns the total number of scalars in w.
func (w *Weights) NumParams() int {
	total := 0
	for _, n := range w.named() {
		if n.t != nil {
			total += n.t.Size()
		}
	}
	return total
}

// Weights returns a deep copy of every model parameter.
func (m *GPT2Model) Weights() *Weights {
	return m.snapshot((*tensor.Tensor).Clone)
}

// snapshot collects the model tensors, passing each through cp.
func (m *GPT2Model) snapshot(cp func(*tensor.Tensor) *tensor.Tensor) *Weights {
	w := &Weights{
		TokenEmbedding: cp(m.TokEmb.Weight),
		Blocks:         make([]BlockWeights, len(m.Blocks)),
		FinalNormScale: cp(m.FinalNorm.Scale),
		FinalNormShift: cp(m.FinalNorm.Shift),
		OutHead:        cp(m.OutHead),
		OutBias:        cp(m.OutBias),
	}
	if learned, ok := m.PosEnc.(*LearnedPositionalEncoding); ok {
		w.PositionEmbedding = cp(learned.Weight)
	}

	for i, block := range m.Blocks {
		l := m.layers[i]
		bw := BlockWeights{
			Norm1Scale: cp(l.norm1.Scale),
			Norm1Shift: cp(l.norm1.Shift),
			OutProj:    cp(block.Attn.OutProj),
			Norm2Scale: cp(l.norm2.Scale),
			Norm2Shift: cp(l.norm2.Shift),
			FC1:        cp(l.ff.FC1),
			B1:         cp(l.ff.B1),
			FC2:        cp(l.ff.FC2),
			B2:         cp(l.ff.B2),
		}
		for _, h := range block.Attn.Heads {
			bw.WQuery = append(bw.WQuery, cp(h.WQuery))
			bw.WKey = append(bw.WKey, cp(h.WKey))
			bw.WValue = append(bw.WValue, cp(h.WValue))
		}
		w.Blocks[i] = bw
	}
	return w
}

// LoadWeights replaces every model parameter with copies from w.
//
// All shapes are validated against the current model before anything is
// assigned, so a rejected call leaves the model unchanged.
func (m *GPT2Model) LoadWeights(w *Weights) error {
	if w == nil {
		return fmt.Errorf("load weights: nil weights")
	}
	if err := m.validateWeights(w); err != nil {
		return fmt.Errorf("load weights: %w", err)
	}

	// Shapes are known to match, so none of the setters below can fail.
	if err := m.TokEmb.SetEmbedding(w.TokenEmbedding); err != nil {
		return err
	}
	if learned, ok := m.PosEnc.(*LearnedPositionalEncoding); ok {
		if err := learned.SetEmbedding(w.PositionEmbedding); err != nil {
			return err
		}
	}
	for i, block := range m.Blocks {
		bw := w.Blocks[i]
		l := m.layers[i]
		if err := l.norm1.SetParams(bw.Norm1Scale, bw.Norm1Shift); err != nil {
			return err
		}
		if err := block.Attn.SetWeights(bw.WQuery, bw.WKey, bw.WValue, bw.OutProj); err != nil {
			return err
		}
		if err := l.norm2.SetParams(bw.Norm2Scale, bw.Norm2Shift); err != nil {
			return err
		}
		if err := l.ff.SetWeights(bw.FC1, bw.B1, bw.FC2, bw.B2); err != nil {
			return err
		}
	}
	if err := m.FinalNorm.SetParams(w.FinalNormScale, w.FinalNormShift); err != nil {
		return err
	}
	m.OutHead = w.OutHead.Clone()
	m.OutBias = w.OutBias.Clone()
	return nil
}

func (m *GPT2Model) validateWeights(w *Weights) error {
	if len(w.Blocks) != len(m.Blocks) {
		return fmt.Errorf("got %d blocks, model has %d", len(w.Blocks), len(m.Blocks))
	}
	_, learned := m.PosEnc.(*LearnedPositionalEncoding)
	if learned && w.PositionEmbedding == nil {
		return fmt.Errorf("missing position_embedding for learned positional encoding")
	}
	if !learned && w.PositionEmbedding != nil {
		return fmt.Errorf("position_embedding given for sinusoidal positional encoding")
	}
	for i, b := range w.Blocks {
		heads := len(m.Blocks[i].Attn.Heads)
		if len(b.WQuery) != heads || len(b.WKey) != heads || len(b.WValue) != heads {
			return fmt.Errorf("blocks.%d: expected %d attention heads", i, heads)
		}
	}

	want := m.snapshot(func(t *tensor.Tensor) *tensor.Tensor { return t }).named()
	got := w.named()
	if len(got) != len(want) {
		return fmt.Errorf("got %d tensors, model has %d", len(got), len(want))
	}
	for i, g := range got {
		if g.t == nil {
			return fmt.Errorf("%s: missing tensor", g.name)
		}
		if !g.t.HasShape(want[i].t.Shape...) {
			return &tensor.DimensionError{Op: "load " + g.name, Left: want[i].t.Shape, Right: g.t.Shape}
		}
		if len(g.t.Data) != g.t.Size() {
			return fmt.Errorf("%s: data length %d does not match shape %v", g.name, len(g.t.Data), g.t.Shape)
		}
	}
	return nil
}
