package coltab

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// vector holds the values of one column, in whichever slice matches typ.
type vector struct {
	typ ColumnType
	i32 []int32
	f64 []float64
	str []string
}

func newVector(typ ColumnType, capacity int) *vector {
	v := &vector{typ: typ}
	switch typ {
	case Int32:
		v.i32 = make([]int32, 0, capacity)
	case Float64:
		v.f64 = make([]float64, 0, capacity)
	case Text:
		v.str = make([]string, 0, capacity)
	}
	return v
}

func (v *vector) Len() int {
	switch v.typ {
	case Int32:
		return len(v.i32)
	case Float64:
		return len(v.f64)
	default:
		return len(v.str)
	}
}

// push appends a value already normalized by normalizeValue.
func (v *vector) push(x any) {
	switch v.typ {
	case Int32:
		v.i32 = append(v.i32, x.(int32))
	case Float64:
		v.f64 = append(v.f64, x.(float64))
	default:
		v.str = append(v.str, x.(string))
	}
}

func (v *vector) pushVector(o *vector) {
	v.i32 = append(v.i32, o.i32...)
	v.f64 = append(v.f64, o.f64...)
	v.str = append(v.str, o.str...)
}

// truncate keeps the first n values.
func (v *vector) truncate(n int) {
	switch v.typ {
	case Int32:
		v.i32 = v.i32[:n]
	case Float64:
		v.f64 = v.f64[:n]
	default:
		v.str = v.str[:n]
	}
}

func (v *vector) at(i int) any {
	switch v.typ {
	case Int32:
		return v.i32[i]
	case Float64:
		return v.f64[i]
	default:
		return v.str[i]
	}
}

// slice returns a view of rows [i, j).
func (v *vector) slice(i, j int) *vector {
	o := &vector{typ: v.typ}
	switch v.typ {
	case Int32:
		o.i32 = v.i32[i:j:j]
	case Float64:
		o.f64 = v.f64[i:j:j]
	default:
		o.str = v.str[i:j:j]
	}
	return o
}

// values returns the underlying typed slice.
func (v *vector) values() any {
	switch v.typ {
	case Int32:
		return v.i32
	case Float64:
		return v.f64
	default:
		return v.str
	}
}

func (v *vector) float64s(dst []float64) []float64 {
	switch v.typ {
	case Int32:
		for _, x := range v.i32 {
			dst = append(dst, float64(x))
		}
	case Float64:
		dst = append(dst, v.f64...)
	}
	return dst
}

// encodeVector produces the raw fixed-width column image: little-endian
// numbers, NUL-padded text.
func encodeVector(c Column, v *vector) []byte {
	bb := bytesBuilder{Buf: make([]byte, 0, v.Len()*c.Width())}
	switch c.Type {
	case Int32:
		for _, x := range v.i32 {
			bb.AppendUint32LE(uint32(x))
		}
	case Float64:
		for _, x := range v.f64 {
			bb.AppendUint64LE(math.Float64bits(x))
		}
	case Text:
		for _, s := range v.str {
			off := bb.Grow(c.Size)
			copy(bb.Buf[off:], s)
		}
	}
	return bb.Buf
}

func decodeVector(c Column, raw []byte) (*vector, error) {
	w := c.Width()
	if len(raw)%w != 0 {
		return nil, dataErrf(raw, 0, nil, "column %s: %d bytes is not a multiple of width %d", c.Name, len(raw), w)
	}
	n := len(raw) / w
	v := &vector{typ: c.Type}
	switch c.Type {
	case Int32:
		v.i32 = make([]int32, n)
		for i := range v.i32 {
			v.i32[i] = int32(binary.LittleEndian.Uint32(raw[i*4:]))
		}
	case Float64:
		v.f64 = make([]float64, n)
		for i := range v.f64 {
			v.f64[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[i*8:]))
		}
	case Text:
		v.str = make([]string, n)
		for i := range v.str {
			v.str[i] = strings.TrimRight(string(raw[i*w:(i+1)*w]), "\x00")
		}
	}
	return v, nil
}

// vectorFromArray converts a caller-supplied column for the bulk writer.
func vectorFromArray(c Column, arr any) (*vector, error) {
	v := &vector{typ: c.Type}
	switch c.Type {
	case Int32:
		switch a := arr.(type) {
		case []int32:
			v.i32 = a
		case []int:
			v.i32 = make([]int32, len(a))
			for i, x := range a {
				y, ok := asInt32(x)
				if !ok {
					return nil, rowErrf(i, "value %d out of int32 range", x)
				}
				v.i32[i] = y
			}
		case []int64:
			v.i32 = make([]int32, len(a))
			for i, x := range a {
				y, ok := asInt32(x)
				if !ok {
					return nil, rowErrf(i, "value %d out of int32 range", x)
				}
				v.i32[i] = y
			}
		default:
			return nil, rowErrf(-1, "%T cannot hold an int32 column", arr)
		}
	case Float64:
		switch a := arr.(type) {
		case []float64:
			v.f64 = a
		case []float32:
			v.f64 = make([]float64, len(a))
			for i, x := range a {
				v.f64[i] = float64(x)
			}
		default:
			return nil, rowErrf(-1, "%T cannot hold a float64 column", arr)
		}
	case Text:
		a, ok := arr.([]string)
		if !ok {
			return nil, rowErrf(-1, "%T cannot hold a text column", arr)
		}
		for i, s := range a {
			if _, err := normalizeValue(c, s); err != nil {
				return nil, rowErrf(i, "%v", err)
			}
		}
		v.str = a
	}
	return v, nil
}

// rowError carries the failing element index out of vectorFromArray.
type rowError struct {
	row int
	msg string
}

func (e *rowError) Error() string { return e.msg }

func rowErrf(row int, format string, args ...any) error {
	return &rowError{row, fmt.Sprintf(format, args...)}
}
