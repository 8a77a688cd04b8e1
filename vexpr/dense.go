package vexpr

import (
	"fmt"
	"slices"
)

// Dense is an in-memory N-dimensional float64 array stored in row-major order.
// The leading dimension counts rows.
type Dense struct {
	shape []int
	data  []float64
}

// NewDense wraps data with the given shape. A nil data allocates zeros.
func NewDense(shape []int, data []float64) (*Dense, error) {
	n, err := shapeSize(shape)
	if err != nil {
		return nil, err
	}
	if data == nil {
		data = make([]float64, n)
	} else if len(data) != n {
		return nil, fmt.Errorf("%w: shape %v holds %d elements, got %d", ErrShapeMismatch, shape, n, len(data))
	}
	return &Dense{shape: slices.Clone(shape), data: data}, nil
}

// Zeros allocates a zero-filled array. Panics on a negative dimension.
func Zeros(shape ...int) *Dense {
	d, err := NewDense(shape, nil)
	if err != nil {
		panic(err)
	}
	return d
}

func shapeSize(shape []int) (int, error) {
	if len(shape) == 0 {
		return 0, fmt.Errorf("%w: empty shape", ErrShapeMismatch)
	}
	n := 1
	for _, d := range shape {
		if d < 0 {
			return 0, fmt.Errorf("%w: negative dimension in %v", ErrShapeMismatch, shape)
		}
		n *= d
	}
	return n, nil
}

func (d *Dense) Shape() []int { return slices.Clone(d.shape) }
func (d *Dense) Data() []float64 { return d.data }
func (d *Dense) Len() int { return len(d.data) }
func (d *Dense) Rows() int { return d.shape[0] }
func (d *Dense) RowShape() []int { return slices.Clone(d.shape[1:]) }
func (d *Dense) SameShape(o *Dense) bool { return slices.Equal(d.shape, o.shape) }

// RowLen is the number of elements in one row.
func (d *Dense) RowLen() int {
	n := 1
	for _, v := range d.shape[1:] {
		n *= v
	}
	return n
}

func (d *Dense) offset(idx []int) int {
	if len(idx) != len(d.shape) {
		panic(fmt.Errorf("index %v does not match shape %v", idx, d.shape))
	}
	off := 0
	for i, v := range idx {
		if v < 0 || v >= d.shape[i] {
			panic(fmt.Errorf("index %v out of range for shape %v", idx, d.shape))
		}
		off = off*d.shape[i] + v
	}
	return off
}

func (d *Dense) At(idx ...int) float64 {
	return d.data[d.offset(idx)]
}

func (d *Dense) Set(v float64, idx ...int) {
	d.data[d.offset(idx)] = v
}

// Slice returns rows [start, stop) sharing the underlying data.
func (d *Dense) Slice(start, stop int) *Dense {
	if start < 0 || stop > d.shape[0] || start > stop {
		panic(fmt.Errorf("row range [%d, %d) out of range for %d rows", start, stop, d.shape[0]))
	}
	rl := d.RowLen()
	shape := slices.Clone(d.shape)
	shape[0] = stop - start
	return &Dense{shape: shape, data: d.data[start*rl : stop*rl]}
}

// Concat stacks arrays along the leading dimension. All arrays must share the
// row shape.
func Concat(arrays ...*Dense) (*Dense, error) {
	if len(arrays) == 0 {
		return nil, fmt.Errorf("%w: nothing to concatenate", ErrShapeMismatch)
	}
	rowShape := arrays[0].shape[1:]
	rows, n := 0, 0
	for _, a := range arrays {
		if !slices.Equal(a.shape[1:], rowShape) {
			return nil, fmt.Errorf("%w: row shape %v vs %v", ErrShapeMismatch, a.shape[1:], rowShape)
		}
		rows += a.shape[0]
		n += len(a.data)
	}
	data := make([]float64, 0, n)
	for _, a := range arrays {
		data = append(data, a.data...)
	}
	shape := append([]int{rows}, rowShape...)
	return &Dense{shape: shape, data: data}, nil
}
