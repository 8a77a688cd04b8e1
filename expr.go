package coltab

import (
	"fmt"
	"slices"
	"time"

	"github.com/andreyvit/coltab/vexpr"
)

// ExprInput is a disk-resident operand of a bound expression: a
// *GrowableArray or a numeric table column from Table.Column.
type ExprInput interface {
	exprLen() int64
	exprRowShape() []int
	exprChunkRows() int
	readFloat64(op string, start, stop int64) ([]float64, int64, error)
}

func (a *GrowableArray) exprLen() int64 { return a.Len() }
func (a *GrowableArray) exprRowShape() []int { return a.rowShape }
func (a *GrowableArray) exprChunkRows() int { return a.chunkRows }

// ColumnRef is a numeric table column used as an expression input.
type ColumnRef struct {
	table *Table
	name  string
}

// Column refers to a column for use with Bind. The column is checked by Bind.
func (t *Table) Column(name string) *ColumnRef {
	return &ColumnRef{table: t, name: name}
}

func (cr *ColumnRef) exprLen() int64 { return cr.table.NRows() }
func (cr *ColumnRef) exprRowShape() []int { return nil }
func (cr *ColumnRef) exprChunkRows() int { return cr.table.chunkRows }

func (cr *ColumnRef) check() error {
	c, ok := cr.table.schema.Column(cr.name)
	if !ok {
		return fmt.Errorf("no column %s in %s", cr.name, cr.table.path)
	}
	if c.Type == Text {
		return fmt.Errorf("column %s of %s is not numeric", cr.name, cr.table.path)
	}
	return nil
}

func (cr *ColumnRef) readFloat64(op string, start, stop int64) ([]float64, int64, error) {
	ci := cr.table.schema.ColumnIndex(cr.name)
	vecs, err := cr.table.readColumns(op, []int{ci}, start, stop)
	if err != nil {
		return nil, 0, err
	}
	return vecs[0].float64s(nil), int64(vecs[0].Len()), nil
}

type EvalMode uint8

const (
	// AppendMode adds the results after the existing rows of the output.
	AppendMode EvalMode = iota
	// OverwriteMode empties the output before evaluating.
	OverwriteMode
)

func (m EvalMode) String() string {
	switch m {
	case AppendMode:
		return "append"
	case OverwriteMode:
		return "overwrite"
	default:
		return fmt.Sprintf("EvalMode(%d)", uint8(m))
	}
}

type BindOption func(be *BoundExpr)

// WithThreads evaluates each block on up to n goroutines.
func WithThreads(n int) BindOption {
	return func(be *BoundExpr) { be.evaluator = vexpr.NewEvaluator(n) }
}

func WithEvaluator(ev *vexpr.Evaluator) BindOption {
	return func(be *BoundExpr) { be.evaluator = ev }
}

// WithBlockRows sets how many leading-dimension rows are read, evaluated and
// appended at a time.
func WithBlockRows(n int) BindOption {
	return func(be *BoundExpr) { be.blockRows = n }
}

// BoundExpr is an expression tied to its disk-resident inputs and output.
type BoundExpr struct {
	expr      *vexpr.Expr
	vars      []string
	inputs    []ExprInput
	rowShape  []int
	out       *GrowableArray
	mode      EvalMode
	evaluator *vexpr.Evaluator
	blockRows int
}

// Bind prepares expression for chunked evaluation over inputs into out.
// Every variable of the expression must be an input; all inputs referenced
// must have the same length and row shape, and out must share the row shape.
func Bind(expression string, inputs map[string]ExprInput, out *GrowableArray, mode EvalMode, opts ...BindOption) (*BoundExpr, error) {
	if out == nil {
		return nil, writeErrf("", -1, nil, "nil output array")
	}
	if mode != AppendMode && mode != OverwriteMode {
		return nil, queryErrf(out.path, expression, nil, "unknown mode %v", mode)
	}
	e, err := vexpr.Parse(expression)
	if err != nil {
		return nil, queryErrf(out.path, expression, err, "")
	}
	vars := e.Vars()
	if len(vars) == 0 {
		return nil, queryErrf(out.path, expression, nil, "expression references no inputs")
	}

	be := &BoundExpr{
		expr:      e,
		vars:      vars,
		out:       out,
		mode:      mode,
		evaluator: vexpr.NewEvaluator(1),
	}
	for _, name := range vars {
		in, ok := inputs[name]
		if !ok || in == nil {
			return nil, queryErrf(out.path, expression, &vexpr.UnboundVariableError{Name: name}, "")
		}
		if cr, ok := in.(*ColumnRef); ok {
			if err := cr.check(); err != nil {
				return nil, queryErrf(out.path, expression, err, "")
			}
		}
		if a, ok := in.(*GrowableArray); ok && a == out && mode == OverwriteMode {
			return nil, writeErrf(out.path, -1, nil, "output %s is also input %s in overwrite mode", out.path, name)
		}
		be.inputs = append(be.inputs, in)
	}
	for _, opt := range opts {
		opt(be)
	}
	if be.blockRows <= 0 {
		be.blockRows = be.inputs[0].exprChunkRows()
	}

	be.rowShape = be.inputs[0].exprRowShape()
	if _, err := be.length(); err != nil {
		return nil, err
	}
	if !slices.Equal(out.rowShape, be.rowShape) {
		return nil, writeErrf(out.path, -1, vexpr.ErrShapeMismatch, "output rows have shape %v, inputs %v", out.rowShape, be.rowShape)
	}
	return be, nil
}

// length checks that every input has the same row shape and length.
func (be *BoundExpr) length() (int64, error) {
	n := be.inputs[0].exprLen()
	for i, in := range be.inputs[1:] {
		if !slices.Equal(in.exprRowShape(), be.rowShape) {
			return 0, writeErrf(be.out.path, -1, vexpr.ErrShapeMismatch, "input %s has rows of shape %v, %s has %v", be.vars[i+1], in.exprRowShape(), be.vars[0], be.rowShape)
		}
		if m := in.exprLen(); m != n {
			return 0, writeErrf(be.out.path, -1, vexpr.ErrShapeMismatch, "input %s has %d rows, %s has %d", be.vars[i+1], m, be.vars[0], n)
		}
	}
	return n, nil
}

func (be *BoundExpr) Expr() *vexpr.Expr { return be.expr }
func (be *BoundExpr) Mode() EvalMode { return be.mode }

// Eval walks the inputs in blocks of rows, evaluates each block and appends
// the results to the output, which is flushed at the end.
func (be *BoundExpr) Eval() error {
	const op = "eval"
	n, err := be.length()
	if err != nil {
		return err
	}
	if be.mode == OverwriteMode {
		if err := be.out.Truncate(0); err != nil {
			return err
		}
	}

	started := time.Now()
	rowLen := 1
	for _, d := range be.rowShape {
		rowLen *= d
	}
	block := int64(be.blockRows)
	vars := make(map[string][]float64, len(be.vars))
	var result []float64
	for start := int64(0); start < n; start += block {
		stop := min(start+block, n)
		for i, name := range be.vars {
			data, _, err := be.inputs[i].readFloat64(op, start, stop)
			if err != nil {
				return err
			}
			vars[name] = data
		}
		m := int(stop-start) * rowLen
		result = slices.Grow(result[:0], m)[:m]
		if err := be.evaluator.EvaluateInto(be.expr, vars, result); err != nil {
			return writeErrf(be.out.path, start, err, "")
		}
		if err := be.out.appendFlat(result, int(stop-start)); err != nil {
			return err
		}
	}
	if err := be.out.Flush(); err != nil {
		return err
	}
	be.out.conn.logger.Debug("coltab: evaluated", "expr", be.expr.Source(), "out", be.out.path, "rows", n, "threads", be.evaluator.Threads(), "ms", time.Since(started).Milliseconds())
	return nil
}
