package backend

import "fmt"

// DType is the element type of a Tensor.
type DType string

const (
	Int32   DType = "int32"
	Float32 DType = "float32"
)

// Tensor is a dense row-major tensor. Exactly one of Int32 or Float32 holds
// the data, matching DType.
type Tensor struct {
	DType   DType
	Shape   []int
	Int32   []int32
	Float32 []float32
}

// FromInt32Rows builds a [len(rows), len(rows[0])] int32 tensor. Rows must be
// non-empty and rectangular.
func FromInt32Rows(rows [][]int32) (*Tensor, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("empty batch")
	}
	width := len(rows[0])
	if width == 0 {
		return nil, fmt.Errorf("row 0 is empty")
	}
	data := make([]int32, 0, len(rows)*width)
	for i, r := range rows {
		if len(r) != width {
			return nil, fmt.Errorf("row %d has length %d, want %d", i, len(r), width)
		}
		data = append(data, r...)
	}
	return &Tensor{DType: Int32, Shape: []int{len(rows), width}, Int32: data}, nil
}

// NewFloat32 wraps data with the given shape.
func NewFloat32(shape []int, data []float32) (*Tensor, error) {
	if n := numElements(shape); n != len(data) {
		return nil, fmt.Errorf("shape %v needs %d elements, got %d", shape, n, len(data))
	}
	return &Tensor{DType: Float32, Shape: append([]int(nil), shape...), Float32: data}, nil
}

// Len returns the number of elements.
func (t *Tensor) Len() int { return numElements(t.Shape) }

// Squeeze returns a view of t with every size-1 dimension removed. Data is shared.
func (t *Tensor) Squeeze() *Tensor {
	shape := make([]int, 0, len(t.Shape))
	for _, d := range t.Shape {
		if d != 1 {
			shape = append(shape, d)
		}
	}
	return &Tensor{DType: t.DType, Shape: shape, Int32: t.Int32, Float32: t.Float32}
}

// BatchRows squeezes t and reads it out as exactly n rows of float32 scores.
// A squeeze that collapsed the batch axis (n == 1) or a singleton sequence
// axis (the remaining axis is the batch) is undone by re-wrapping into n rows.
// Any other rank-1 result is rejected rather than guessed at.
func (t *Tensor) BatchRows(n int) ([][]float32, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("output dtype %s, want %s", t.DType, Float32)
	}
	if n <= 0 {
		return nil, fmt.Errorf("batch size %d", n)
	}
	sq := t.Squeeze()
	data := t.Float32
	switch len(sq.Shape) {
	case 0:
		if n != 1 || len(data) != 1 {
			return nil, fmt.Errorf("scalar output for batch of %d", n)
		}
		return [][]float32{{data[0]}}, nil
	case 1:
		switch {
		case n == 1:
			return splitRows(data, 1, sq.Shape[0]), nil
		case sq.Shape[0] == n:
			return splitRows(data, n, 1), nil
		default:
			return nil, fmt.Errorf("output shape %v does not hold %d rows", t.Shape, n)
		}
	case 2:
		if sq.Shape[0] != n {
			return nil, fmt.Errorf("output has %d rows, want %d", sq.Shape[0], n)
		}
		return splitRows(data, n, sq.Shape[1]), nil
	default:
		return nil, fmt.Errorf("output shape %v has rank %d after squeeze", t.Shape, len(sq.Shape))
	}
}

func splitRows(data []float32, n, width int) [][]float32 {
	out := make([][]float32, n)
	for i := range out {
		row := make([]float32, width)
		copy(row, data[i*width:(i+1)*width])
		out[i] = row
	}
	return out
}

func numElements(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}
