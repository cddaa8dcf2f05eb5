// Package tensor provides the dense math kernel used by the decoder.
// Tensors are row-major float32 arrays; every operation allocates a fresh
// result and leaves its operands untouched.
package tensor

import (
	"fmt"
	"math"
	"strings"
)

// Tensor represents a multi-dimensional array of float32 values.
// It stores data in a flat slice with shape information for indexing.
type Tensor struct {
	Data    []float32 // Flattened data storage
	Shape   []int     // Dimensions (e.g., [seq, d_model])
	Strides []int     // Precomputed strides for indexing
}

// NewTensor creates a new tensor with the given shape, initialized to zeros.
func NewTensor(shape []int) *Tensor {
	return &Tensor{
		Data:    make([]float32, shapeSize(shape)),
		Shape:   copyShape(shape),
		Strides: computeStrides(shape),
	}
}

// FromSlice creates a tensor from existing data with the given shape.
// The data is copied. Returns an error if data size doesn't match the shape.
func FromSlice(data []float32, shape []int) (*Tensor, error) {
	for _, dim := range shape {
		if dim < 0 {
			return nil, fmt.Errorf("invalid dimension %d in shape %v", dim, shape)
		}
	}
	if expected := shapeSize(shape); len(data) != expected {
		return nil, fmt.Errorf("data size %d does not match shape %v (expected %d elements)",
			len(data), shape, expected)
	}

	t := NewTensor(shape)
	copy(t.Data, data)
	return t, nil
}

// FromRows builds a 2D tensor from a slice of equally sized rows.
func FromRows(rows [][]float32) (*Tensor, error) {
	if len(rows) == 0 {
		return NewTensor([]int{0, 0}), nil
	}
	cols := len(rows[0])
	t := NewTensor([]int{len(rows), cols})
	for i, row := range rows {
		if len(row) != cols {
			return nil, fmt.Errorf("row %d has %d columns, expected %d", i, len(row), cols)
		}
		copy(t.Data[i*cols:(i+1)*cols], row)
	}
	return t, nil
}

// View returns a new tensor with a different shape but sharing the same underlying data.
func (t *Tensor) View(newShape []int) (*Tensor, error) {
	for _, dim := range newShape {
		if dim < 0 {
			return nil, fmt.Errorf("invalid dimension %d in shape %v", dim, newShape)
		}
	}
	if newSize := shapeSize(newShape); newSize != len(t.Data) {
		return nil, fmt.Errorf("cannot view tensor of size %d as shape %v (total size %d)",
			len(t.Data), newShape, newSize)
	}

	return &Tensor{
		Data:    t.Data,
		Shape:   copyShape(newShape),
		Strides: computeStrides(newShape),
	}, nil
}

// Transpose exchanges two dimensions of the tensor and returns a copy.
func (t *Tensor) Transpose(dim1, dim2 int) (*Tensor, error) {
	if dim1 < 0 || dim1 >= len(t.Shape) || dim2 < 0 || dim2 >= len(t.Shape) {
		return nil, fmt.Errorf("invalid transpose dimensions %d and %d for tensor with %d dimensions",
			dim1, dim2, len(t.Shape))
	}
	if dim1 == dim2 {
		return t.Clone(), nil
	}

	newShape := copyShape(t.Shape)
	newShape[dim1], newShape[dim2] = newShape[dim2], newShape[dim1]
	result := NewTensor(newShape)

	// Walk the source in row-major order, writing each element to its
	// swapped destination index.
	idx := make([]int, len(t.Shape))
	for src := range t.Data {
		dst := 0
		for d := range idx {
			switch d {
			case dim1:
				dst += idx[d] * result.Strides[dim2]
			case dim2:
				dst += idx[d] * result.Strides[dim1]
			default:
				dst += idx[d] * result.Strides[d]
			}
		}
		result.Data[dst] = t.Data[src]

		for d := len(idx) - 1; d >= 0; d-- {
			idx[d]++
			if idx[d] < t.Shape[d] {
				break
			}
			idx[d] = 0
		}
	}

	return result, nil
}

// Transpose2D returns the (c×r) transpose of an (r×c) matrix.
func Transpose2D(m *Tensor) (*Tensor, error) {
	if len(m.Shape) != 2 {
		return nil, fmt.Errorf("transpose2d: expected 2D tensor, got shape %v", m.Shape)
	}
	rows, cols := m.Shape[0], m.Shape[1]
	result := NewTensor([]int{cols, rows})
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			result.Data[j*rows+i] = m.Data[i*cols+j]
		}
	}
	return result, nil
}

// Size returns the total number of elements in the tensor.
func (t *Tensor) Size() int {
	return shapeSize(t.Shape)
}

// FlatIndex converts multi-dimensional indices to a flat index.
func (t *Tensor) FlatIndex(indices []int) int {
	if len(indices) != len(t.Shape) {
		panic(fmt.Sprintf("indices length %d does not match shape dimensions %d",
			len(indices), len(t.Shape)))
	}

	idx := 0
	for i := range t.Shape {
		if indices[i] < 0 || indices[i] >= t.Shape[i] {
			panic(fmt.Sprintf("index %d out of bounds for dimension %d with size %d",
				indices[i], i, t.Shape[i]))
		}
		idx += indices[i] * t.Strides[i]
	}
	return idx
}

// Get retrieves a value at the specified indices.
func (t *Tensor) Get(indices ...int) float32 {
	return t.Data[t.FlatIndex(indices)]
}

// Set sets a value at the specified indices.
func (t *Tensor) Set(value float32, indices ...int) {
	t.Data[t.FlatIndex(indices)] = value
}

// Row returns the i-th row of a 2D tensor. The slice aliases the tensor.
func (t *Tensor) Row(i int) []float32 {
	cols := t.Shape[len(t.Shape)-1]
	return t.Data[i*cols : (i+1)*cols]
}

// Clone creates a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	c := NewTensor(t.Shape)
	copy(c.Data, t.Data)
	return c
}

// ShapeEquals checks if two tensors have the same shape.
func (t *Tensor) ShapeEquals(other *Tensor) bool {
	return shapeEqual(t.Shape, other.Shape)
}

// HasShape reports whether the tensor has exactly the given shape.
func (t *Tensor) HasShape(shape ...int) bool {
	return shapeEqual(t.Shape, shape)
}

// Equals checks if two tensors have the same shape and approximately equal values.
func (t *Tensor) Equals(other *Tensor, tolerance float32) bool {
	if !t.ShapeEquals(other) {
		return false
	}
	for i := range t.Data {
		if math.Abs(float64(t.Data[i]-other.Data[i])) > float64(tolerance) {
			return false
		}
	}
	return true
}

// SliceRows returns a copy of rows [start, end) of a 2D tensor.
func SliceRows(t *Tensor, start, end int) (*Tensor, error) {
	if len(t.Shape) != 2 {
		return nil, fmt.Errorf("slice rows: expected 2D tensor, got shape %v", t.Shape)
	}
	if start < 0 || end > t.Shape[0] || start > end {
		return nil, fmt.Errorf("invalid row range [%d, %d) for tensor with %d rows",
			start, end, t.Shape[0])
	}
	cols := t.Shape[1]
	result := NewTensor([]int{end - start, cols})
	copy(result.Data, t.Data[start*cols:end*cols])
	return result, nil
}

// Matmul performs matrix multiplication on the last two dimensions.
//
// Supported forms:
//   - (m, n) @ (n, p) -> (m, p)
//   - (..., m, n) @ (n, p) -> (..., m, p), the right operand is broadcast
//   - (..., m, n) @ (..., n, p) -> (..., m, p) with identical batch dimensions
func Matmul(a, b *Tensor) (*Tensor, error) {
	if len(a.Shape) < 2 || len(b.Shape) < 2 {
		return nil, dimErr("matmul", a.Shape, b.Shape, "requires at least 2D tensors")
	}

	m := a.Shape[len(a.Shape)-2]
	n := a.Shape[len(a.Shape)-1]
	n2 := b.Shape[len(b.Shape)-2]
	p := b.Shape[len(b.Shape)-1]
	if n != n2 {
		return nil, dimErr("matmul", a.Shape, b.Shape, "inner dimensions %d and %d don't match", n, n2)
	}

	batchDims := a.Shape[:len(a.Shape)-2]
	broadcastB := len(b.Shape) == 2
	if !broadcastB && !shapeEqual(batchDims, b.Shape[:len(b.Shape)-2]) {
		return nil, dimErr("matmul", a.Shape, b.Shape, "batch dimensions differ")
	}

	resultShape := append(copyShape(batchDims), m, p)
	result := NewTensor(resultShape)
	batchSize := shapeSize(batchDims)

	for batch := 0; batch < batchSize; batch++ {
		aOffset := batch * m * n
		bOffset := batch * n * p
		if broadcastB {
			bOffset = 0
		}
		rOffset := batch * m * p

		for i := 0; i < m; i++ {
			for k := 0; k < p; k++ {
				sum := float32(0)
				for j := 0; j < n; j++ {
					sum += a.Data[aOffset+i*n+j] * b.Data[bOffset+j*p+k]
				}
				result.Data[rOffset+i*p+k] = sum
			}
		}
	}

	return result, nil
}

// Scale multiplies all elements by a scalar.
func Scale(t *Tensor, scalar float32) *Tensor {
	result := NewTensor(t.Shape)
	for i, v := range t.Data {
		result.Data[i] = v * scalar
	}
	return result
}

// Scale multiplies all elements by a scalar (method form).
func (t *Tensor) Scale(s float32) *Tensor {
	return Scale(t, s)
}

// SoftmaxRows applies a numerically stabilized softmax to every row of the
// last dimension.
func SoftmaxRows(t *Tensor) *Tensor {
	result := t.Clone()
	if len(t.Shape) == 0 {
		return result
	}
	width := t.Shape[len(t.Shape)-1]
	if width == 0 {
		return result
	}
	for off := 0; off < len(result.Data); off += width {
		SoftmaxInPlace(result.Data[off : off+width])
	}
	return result
}

// Add performs element-wise addition with broadcasting.
func Add(a, b *Tensor) (*Tensor, error) {
	return elementWiseOp("add", a, b, func(x, y float32) float32 { return x + y })
}

// Mul performs element-wise multiplication with broadcasting.
func Mul(a, b *Tensor) (*Tensor, error) {
	return elementWiseOp("mul", a, b, func(x, y float32) float32 { return x * y })
}

// elementWiseOp performs an element-wise operation with broadcasting.
func elementWiseOp(op string, a, b *Tensor, fn func(float32, float32) float32) (*Tensor, error) {
	if shapeEqual(a.Shape, b.Shape) {
		result := NewTensor(a.Shape)
		for i := range a.Data {
			result.Data[i] = fn(a.Data[i], b.Data[i])
		}
		return result, nil
	}

	outShape, err := broadcastShapes(a.Shape, b.Shape)
	if err != nil {
		return nil, dimErr(op, a.Shape, b.Shape, "%v", err)
	}

	result := NewTensor(outShape)
	aStrides := broadcastStrides(a.Shape, outShape)
	bStrides := broadcastStrides(b.Shape, outShape)

	idx := make([]int, len(outShape))
	for out := range result.Data {
		aIdx, bIdx := 0, 0
		for d := range idx {
			aIdx += idx[d] * aStrides[d]
			bIdx += idx[d] * bStrides[d]
		}
		result.Data[out] = fn(a.Data[aIdx], b.Data[bIdx])

		for d := len(idx) - 1; d >= 0; d-- {
			idx[d]++
			if idx[d] < outShape[d] {
				break
			}
			idx[d] = 0
		}
	}

	return result, nil
}

// broadcastShapes computes the broadcasted shape of two shapes.
func broadcastShapes(a, b []int) ([]int, error) {
	maxLen := max(len(a), len(b))
	result := make([]int, maxLen)

	for i := 0; i < maxLen; i++ {
		dimA := 1
		if i < len(a) {
			dimA = a[len(a)-1-i]
		}
		dimB := 1
		if i < len(b) {
			dimB = b[len(b)-1-i]
		}

		if dimA != dimB && dimA != 1 && dimB != 1 {
			return nil, fmt.Errorf("incompatible dimensions %d and %d", dimA, dimB)
		}
		result[maxLen-1-i] = max(dimA, dimB)
	}

	return result, nil
}

// broadcastStrides returns strides of in aligned to out, with zero stride
// on every broadcast dimension.
func broadcastStrides(in, out []int) []int {
	strides := make([]int, len(out))
	inStrides := computeStrides(in)
	diff := len(out) - len(in)
	for i := range in {
		if in[i] != 1 {
			strides[i+diff] = inStrides[i]
		}
	}
	return strides
}

// Concatenate concatenates tensors along a dimension. All other
// dimensions must match.
func Concatenate(tensors []*Tensor, dim int) (*Tensor, error) {
	if len(tensors) == 0 {
		return nil, fmt.Errorf("cannot concatenate empty list of tensors")
	}
	first := tensors[0]
	if dim < 0 || dim >= len(first.Shape) {
		return nil, fmt.Errorf("invalid dimension %d for tensor with %d dimensions", dim, len(first.Shape))
	}

	outShape := copyShape(first.Shape)
	outShape[dim] = 0
	for i, t := range tensors {
		if len(t.Shape) != len(first.Shape) {
			return nil, dimErr("concatenate", first.Shape, t.Shape, "tensor %d has rank %d", i, len(t.Shape))
		}
		for d := range t.Shape {
			if d != dim && t.Shape[d] != first.Shape[d] {
				return nil, dimErr("concatenate", first.Shape, t.Shape, "tensor %d differs at dimension %d", i, d)
			}
		}
		outShape[dim] += t.Shape[dim]
	}

	result := NewTensor(outShape)
	outer := shapeSize(first.Shape[:dim])
	inner := shapeSize(first.Shape[dim+1:])

	dst := 0
	for o := 0; o < outer; o++ {
		for _, t := range tensors {
			chunk := t.Shape[dim] * inner
			copy(result.Data[dst:dst+chunk], t.Data[o*chunk:(o+1)*chunk])
			dst += chunk
		}
	}

	return result, nil
}

// ConcatLastDim concatenates tensors along their feature (last) axis in
// argument order.
func ConcatLastDim(tensors []*Tensor) (*Tensor, error) {
	if len(tensors) == 0 {
		return nil, fmt.Errorf("cannot concatenate empty list of tensors")
	}
	return Concatenate(tensors, len(tensors[0].Shape)-1)
}

// CausalMask creates the additive causal mask of shape (n, n): entry (i, j)
// is 0 when j <= i and -Inf when j > i.
func CausalMask(n int) *Tensor {
	mask := NewTensor([]int{n, n})
	negInf := float32(math.Inf(-1))
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			mask.Data[i*n+j] = negInf
		}
	}
	return mask
}

// ApplyMask adds an additive mask to scores. The mask is broadcast over any
// leading dimensions of scores.
func ApplyMask(scores, mask *Tensor) (*Tensor, error) {
	if len(mask.Shape) > len(scores.Shape) {
		return nil, dimErr("apply mask", scores.Shape, mask.Shape, "mask has higher rank than scores")
	}
	tail := scores.Shape[len(scores.Shape)-len(mask.Shape):]
	if !shapeEqual(tail, mask.Shape) {
		return nil, dimErr("apply mask", scores.Shape, mask.Shape, "")
	}
	return Add(scores, mask)
}

// String returns a string representation of the tensor.
func (t *Tensor) String() string {
	var sb strings.Builder
	sb.WriteString("Tensor[")
	for i, dim := range t.Shape {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%d", dim)
	}
	sb.WriteString("]: ")
	sb.WriteString(formatData(t.Shape, t.Data, 0))
	return sb.String()
}

// formatData recursively formats tensor data, eliding long dimensions.
func formatData(shape []int, data []float32, offset int) string {
	if len(shape) == 0 {
		if len(data) == 0 {
			return "[]"
		}
		return fmt.Sprintf("%g", data[offset])
	}

	var sb strings.Builder
	sb.WriteString("[")
	if len(shape) == 1 {
		for i := 0; i < shape[0] && i < 6; i++ {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "%g", data[offset+i])
		}
		if shape[0] > 6 {
			sb.WriteString(", ...")
		}
	} else {
		subSize := shapeSize(shape[1:])
		for i := 0; i < shape[0] && i < 3; i++ {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(formatData(shape[1:], data, offset+i*subSize))
		}
		if shape[0] > 3 {
			sb.WriteString(", ...")
		}
	}
	sb.WriteString("]")
	return sb.String()
}

func shapeSize(shape []int) int {
	size := 1
	for _, dim := range shape {
		size *= dim
	}
	return size
}

func computeStrides(shape []int) []int {
	strides := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= shape[i]
	}
	return strides
}

func shapeEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// copyShape creates a copy of a shape slice
func copyShape(shape []int) []int {
	result := make([]int, len(shape))
	copy(result, shape)
	return result
}
