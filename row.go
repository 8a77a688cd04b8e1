package coltab

import (
	"fmt"
	"math"
	"slices"
	"strings"
)

// Row is an immutable record. Rows built with NewRow carry raw values that
// Append validates against the table schema; rows returned from reads and
// queries are bound to their schema and hold int32, float64 or string values.
type Row struct {
	schema *Schema
	vals   []any
	cols   []int // schema column indexes of vals, nil means all in order
}

// NewRow builds a row from values listed in column position order.
func NewRow(values ...any) Row {
	return Row{vals: slices.Clone(values)}
}

func (r Row) Len() int { return len(r.vals) }

// At returns the i-th value of the row.
func (r Row) At(i int) any { return r.vals[i] }

// Values returns a copy of the row's values.
func (r Row) Values() []any { return slices.Clone(r.vals) }

// Field returns the value of the named column, or nil if the row is unbound,
// has no such column, or the column was not fetched.
func (r Row) Field(name string) any {
	if r.schema == nil {
		return nil
	}
	ci := r.schema.ColumnIndex(name)
	if ci < 0 {
		return nil
	}
	if r.cols == nil {
		return r.vals[ci]
	}
	for i, c := range r.cols {
		if c == ci {
			return r.vals[i]
		}
	}
	return nil
}

func (r Row) Int32(name string) int32 {
	v, _ := r.Field(name).(int32)
	return v
}

func (r Row) Float64(name string) float64 {
	v, _ := r.Field(name).(float64)
	return v
}

func (r Row) Text(name string) string {
	v, _ := r.Field(name).(string)
	return v
}

func (r Row) String() string {
	var buf strings.Builder
	buf.WriteByte('(')
	for i, v := range r.vals {
		if i > 0 {
			buf.WriteString(", ")
		}
		if r.schema != nil {
			ci := i
			if r.cols != nil {
				ci = r.cols[i]
			}
			buf.WriteString(r.schema.cols[ci].Name)
			buf.WriteByte('=')
		}
		if s, ok := v.(string); ok {
			fmt.Fprintf(&buf, "%q", s)
		} else {
			fmt.Fprint(&buf, v)
		}
	}
	buf.WriteByte(')')
	return buf.String()
}

// normalizeRow converts r's values to the canonical Go types of scm.
func normalizeRow(scm *Schema, r Row) ([]any, error) {
	if len(r.vals) != len(scm.cols) {
		return nil, fmt.Errorf("got %d values for %d columns", len(r.vals), len(scm.cols))
	}
	out := make([]any, len(r.vals))
	for i, c := range scm.cols {
		v, err := normalizeValue(c, r.vals[i])
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func normalizeValue(c Column, v any) (any, error) {
	switch c.Type {
	case Int32:
		x, ok := asInt32(v)
		if !ok {
			return nil, fmt.Errorf("column %s: %T(%v) is not a 32-bit integer", c.Name, v, v)
		}
		return x, nil
	case Float64:
		x, ok := asFloat64(v)
		if !ok {
			return nil, fmt.Errorf("column %s: %T(%v) is not a float", c.Name, v, v)
		}
		return x, nil
	case Text:
		var s string
		switch v := v.(type) {
		case string:
			s = v
		case []byte:
			s = string(v)
		default:
			return nil, fmt.Errorf("column %s: %T is not text", c.Name, v)
		}
		if len(s) > c.Size {
			return nil, fmt.Errorf("column %s: text of %d bytes exceeds size %d", c.Name, len(s), c.Size)
		}
		if strings.HasSuffix(s, "\x00") {
			return nil, fmt.Errorf("column %s: text must not end with NUL", c.Name)
		}
		return s, nil
	default:
		panic("unreachable")
	}
}

func asInt32(v any) (int32, bool) {
	switch x := v.(type) {
	case int32:
		return x, true
	case int:
		if x < math.MinInt32 || x > math.MaxInt32 {
			return 0, false
		}
		return int32(x), true
	case int64:
		if x < math.MinInt32 || x > math.MaxInt32 {
			return 0, false
		}
		return int32(x), true
	case int16:
		return int32(x), true
	case int8:
		return int32(x), true
	case uint16:
		return int32(x), true
	case uint8:
		return int32(x), true
	default:
		return 0, false
	}
}

func asFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int32:
		return float64(x), true
	case int:
		return float64(x), true
	default:
		return 0, false
	}
}
