package vexpr

import (
	"errors"
	"fmt"
	"runtime"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"
)

// BlockSize is the number of elements evaluated per step. Block boundaries do
// not depend on the thread count, so results are identical for any setting.
const BlockSize = 4096

var ErrShapeMismatch = errors.New("shape mismatch")

// UnboundVariableError is returned when an expression references a variable
// that has no input.
type UnboundVariableError struct {
	Name string
}

func (e *UnboundVariableError) Error() string {
	return fmt.Sprintf("variable %s has no input", e.Name)
}

type env struct {
	vars    [][]float64
	scratch [][]float64
}

func (e *env) alloc(n int) []float64 {
	if k := len(e.scratch); k > 0 {
		buf := e.scratch[k-1]
		e.scratch = e.scratch[:k-1]
		return buf[:n]
	}
	return make([]float64, n, max(n, BlockSize))
}

func (e *env) free(buf []float64) {
	e.scratch = append(e.scratch, buf[:cap(buf)])
}

var envPool = sync.Pool{
	New: func() any { return new(env) },
}

// Evaluator evaluates expressions over in-memory arrays using up to Threads
// goroutines.
type Evaluator struct {
	threads int
}

// NewEvaluator returns an evaluator that uses up to threads goroutines.
// threads <= 0 means GOMAXPROCS.
func NewEvaluator(threads int) *Evaluator {
	if threads <= 0 {
		threads = runtime.GOMAXPROCS(0)
	}
	return &Evaluator{threads: threads}
}

func (ev *Evaluator) Threads() int { return ev.threads }

// Evaluate parses src and evaluates it over vars.
func Evaluate(src string, vars map[string]*Dense, threads int) (*Dense, error) {
	e, err := Parse(src)
	if err != nil {
		return nil, err
	}
	return NewEvaluator(threads).Evaluate(e, vars)
}

// Evaluate computes e elementwise over vars, which must all share one shape.
// The result has that shape.
func (ev *Evaluator) Evaluate(e *Expr, vars map[string]*Dense) (*Dense, error) {
	var shape []int
	flat := make(map[string][]float64, len(e.vars))
	for _, name := range e.vars {
		d := vars[name]
		if d == nil {
			return nil, &UnboundVariableError{Name: name}
		}
		if shape == nil {
			shape = d.shape
		} else if !equalShape(shape, d.shape) {
			return nil, fmt.Errorf("%w: %s has shape %v, wanted %v", ErrShapeMismatch, name, d.shape, shape)
		}
		flat[name] = d.data
	}
	if shape == nil {
		return nil, fmt.Errorf("%w: expression %q references no arrays", ErrShapeMismatch, e.src)
	}
	out, err := NewDense(shape, nil)
	if err != nil {
		return nil, err
	}
	if err := ev.EvaluateInto(e, flat, out.data); err != nil {
		return nil, err
	}
	return out, nil
}

func equalShape(a, b []int) bool {
	return slices.Equal(a, b)
}

// EvaluateInto computes e over flat inputs of len(out) elements each and
// writes the result to out.
func (ev *Evaluator) EvaluateInto(e *Expr, vars map[string][]float64, out []float64) error {
	n := len(out)
	inputs := make([][]float64, len(e.vars))
	for i, name := range e.vars {
		v, ok := vars[name]
		if !ok {
			return &UnboundVariableError{Name: name}
		}
		if len(v) != n {
			return fmt.Errorf("%w: %s has %d elements, wanted %d", ErrShapeMismatch, name, len(v), n)
		}
		inputs[i] = v
	}

	blocks := (n + BlockSize - 1) / BlockSize
	if ev.threads <= 1 || blocks <= 1 {
		en := envPool.Get().(*env)
		defer envPool.Put(en)
		for b := range blocks {
			evalBlock(e.root, en, inputs, out, b)
		}
		return nil
	}

	var g errgroup.Group
	g.SetLimit(ev.threads)
	for b := range blocks {
		g.Go(func() error {
			en := envPool.Get().(*env)
			evalBlock(e.root, en, inputs, out, b)
			envPool.Put(en)
			return nil
		})
	}
	return g.Wait()
}

func evalBlock(root node, en *env, inputs [][]float64, out []float64, b int) {
	start := b * BlockSize
	end := min(start+BlockSize, len(out))
	if cap(en.vars) < len(inputs) {
		en.vars = make([][]float64, len(inputs))
	}
	en.vars = en.vars[:len(inputs)]
	for i, in := range inputs {
		en.vars[i] = in[start:end]
	}
	dst := out[start:end]
	res := root.eval(en, dst)
	if len(res) > 0 && &res[0] != &dst[0] {
		copy(dst, res)
	}
	clear(en.vars)
}
