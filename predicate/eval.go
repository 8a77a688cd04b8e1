package predicate

import (
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"
)

// Batch is a set of equally long column vectors, typically one storage chunk.
// Column returns []int32, []float64 (numeric) or []string (text), and is only
// called for columns the predicate references.
type Batch interface {
	Len() int
	Column(name string) (any, error)
}

// EvalBatch returns the offsets within b of the rows that satisfy p.
func (p *Predicate) EvalBatch(b Batch) (*roaring.Bitmap, error) {
	if !p.bound {
		return nil, fmt.Errorf("predicate %q is not bound", p.src)
	}
	return evalNode(p.root, b, b.Len())
}

func evalNode(n Node, b Batch, size int) (*roaring.Bitmap, error) {
	switch n := n.(type) {
	case *Compare:
		return n.evalBatch(b, size)
	case *And:
		l, err := evalNode(n.Left, b, size)
		if err != nil || l.IsEmpty() {
			return l, err
		}
		r, err := evalNode(n.Right, b, size)
		if err != nil {
			return nil, err
		}
		l.And(r)
		return l, nil
	case *Or:
		l, err := evalNode(n.Left, b, size)
		if err != nil {
			return nil, err
		}
		if l.GetCardinality() == uint64(size) {
			return l, nil
		}
		r, err := evalNode(n.Right, b, size)
		if err != nil {
			return nil, err
		}
		l.Or(r)
		return l, nil
	case *Not:
		x, err := evalNode(n.X, b, size)
		if err != nil {
			return nil, err
		}
		return roaring.Flip(x, 0, uint64(size)), nil
	default:
		panic(fmt.Errorf("unknown node %T", n))
	}
}

type numVec struct {
	f64    []float64
	i32    []int32
	scalar float64
	isVec  bool
}

func (v numVec) at(i int) float64 {
	switch {
	case !v.isVec:
		return v.scalar
	case v.f64 != nil:
		return v.f64[i]
	default:
		return float64(v.i32[i])
	}
}

func numericOperand(b Batch, o Operand) (numVec, error) {
	if !o.IsColumn() {
		return numVec{scalar: o.Num}, nil
	}
	raw, err := b.Column(o.Column)
	if err != nil {
		return numVec{}, err
	}
	switch vals := raw.(type) {
	case []float64:
		return numVec{f64: vals, isVec: true}, nil
	case []int32:
		return numVec{i32: vals, isVec: true}, nil
	default:
		return numVec{}, fmt.Errorf("column %s: got %T, wanted a numeric vector", o.Column, raw)
	}
}

func textOperand(b Batch, o Operand) ([]string, string, error) {
	if !o.IsColumn() {
		return nil, o.Str, nil
	}
	raw, err := b.Column(o.Column)
	if err != nil {
		return nil, "", err
	}
	vals, ok := raw.([]string)
	if !ok {
		return nil, "", fmt.Errorf("column %s: got %T, wanted a text vector", o.Column, raw)
	}
	return vals, "", nil
}

func (c *Compare) evalBatch(b Batch, size int) (*roaring.Bitmap, error) {
	bm := roaring.New()
	if c.kind == Text {
		lv, ls, err := textOperand(b, c.Left)
		if err != nil {
			return nil, err
		}
		rv, rs, err := textOperand(b, c.Right)
		if err != nil {
			return nil, err
		}
		for i := 0; i < size; i++ {
			l, r := ls, rs
			if lv != nil {
				l = lv[i]
			}
			if rv != nil {
				r = rv[i]
			}
			if compareText(c.Op, l, r) {
				bm.Add(uint32(i))
			}
		}
		return bm, nil
	}

	l, err := numericOperand(b, c.Left)
	if err != nil {
		return nil, err
	}
	r, err := numericOperand(b, c.Right)
	if err != nil {
		return nil, err
	}
	switch {
	case l.isVec && !r.isVec:
		matchScalar(bm, l, c.Op, r.scalar)
	case !l.isVec && r.isVec:
		matchScalar(bm, r, c.Op.flip(), l.scalar)
	case !l.isVec && !r.isVec:
		if compareNum(c.Op, l.scalar, r.scalar) {
			bm.AddRange(0, uint64(size))
		}
	default:
		for i := 0; i < size; i++ {
			if compareNum(c.Op, l.at(i), r.at(i)) {
				bm.Add(uint32(i))
			}
		}
	}
	return bm, nil
}

func matchScalar(bm *roaring.Bitmap, v numVec, op Op, x float64) {
	if v.f64 != nil {
		matchTyped(bm, v.f64, op, x)
	} else {
		matchTyped(bm, v.i32, op, x)
	}
}

func matchTyped[T int32 | float64](bm *roaring.Bitmap, vals []T, op Op, x float64) {
	var hits []uint32
	switch op {
	case Lt:
		for i, v := range vals {
			if float64(v) < x {
				hits = append(hits, uint32(i))
			}
		}
	case Gt:
		for i, v := range vals {
			if float64(v) > x {
				hits = append(hits, uint32(i))
			}
		}
	case Le:
		for i, v := range vals {
			if float64(v) <= x {
				hits = append(hits, uint32(i))
			}
		}
	case Ge:
		for i, v := range vals {
			if float64(v) >= x {
				hits = append(hits, uint32(i))
			}
		}
	case Eq:
		for i, v := range vals {
			if float64(v) == x {
				hits = append(hits, uint32(i))
			}
		}
	case Ne:
		for i, v := range vals {
			if float64(v) != x {
				hits = append(hits, uint32(i))
			}
		}
	}
	bm.AddMany(hits)
}

// MatchRow evaluates p against a single row by walking the tree. get returns
// the row's value for a column as int32, float64 or string.
func (p *Predicate) MatchRow(get func(column string) any) bool {
	return matchNode(p.root, get)
}

func matchNode(n Node, get func(string) any) bool {
	switch n := n.(type) {
	case *Compare:
		l, r := rowValue(n.Left, get), rowValue(n.Right, get)
		if ls, ok := l.(string); ok {
			rs, _ := r.(string)
			return compareText(n.Op, ls, rs)
		}
		return compareNum(n.Op, toFloat(l), toFloat(r))
	case *And:
		return matchNode(n.Left, get) && matchNode(n.Right, get)
	case *Or:
		return matchNode(n.Left, get) || matchNode(n.Right, get)
	case *Not:
		return !matchNode(n.X, get)
	default:
		panic(fmt.Errorf("unknown node %T", n))
	}
}

func rowValue(o Operand, get func(string) any) any {
	switch o.typ {
	case columnOperand:
		return get(o.Column)
	case numberOperand:
		return o.Num
	default:
		return o.Str
	}
}

func toFloat(v any) float64 {
	switch v := v.(type) {
	case float64:
		return v
	case int32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case float32:
		return float64(v)
	default:
		panic(fmt.Errorf("not a number: %T", v))
	}
}
