package vexpr

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

type node interface {
	// eval computes the node over one block. The result is either dst or a
	// read-only view of an input; scalar nodes never reach eval (see scalar).
	eval(env *env, dst []float64) []float64
	// scalar reports whether the node is a constant and its value.
	scalar() (float64, bool)
	String() string
}

type numNode struct {
	v float64
}

type varNode struct {
	name string
	idx  int
}

type negNode struct {
	x node
}

type binNode struct {
	op   byte // + - * / % ^
	l, r node
}

type callNode struct {
	fn   *function
	args []node
}

func (n *numNode) scalar() (float64, bool) { return n.v, true }
func (n *varNode) scalar() (float64, bool) { return 0, false }
func (n *negNode) scalar() (float64, bool) { return 0, false }
func (n *binNode) scalar() (float64, bool) { return 0, false }
func (n *callNode) scalar() (float64, bool) { return 0, false }

func (n *numNode) String() string { return strconv.FormatFloat(n.v, 'g', -1, 64) }
func (n *varNode) String() string { return n.name }
func (n *negNode) String() string { return "(-" + n.x.String() + ")" }
func (n *binNode) String() string {
	op := string(n.op)
	if n.op == '^' {
		op = "**"
	}
	return "(" + n.l.String() + " " + op + " " + n.r.String() + ")"
}
func (n *callNode) String() string {
	args := make([]string, len(n.args))
	for i, a := range n.args {
		args[i] = a.String()
	}
	return n.fn.name + "(" + strings.Join(args, ", ") + ")"
}

func (n *numNode) eval(env *env, dst []float64) []float64 {
	for i := range dst {
		dst[i] = n.v
	}
	return dst
}

func (n *varNode) eval(env *env, dst []float64) []float64 {
	return env.vars[n.idx]
}

func (n *negNode) eval(env *env, dst []float64) []float64 {
	x := n.x.eval(env, dst)
	for i, v := range x {
		dst[i] = -v
	}
	return dst
}

func applyBinary(op byte, a, b float64) float64 {
	switch op {
	case '+':
		return a + b
	case '-':
		return a - b
	case '*':
		return a * b
	case '/':
		return a / b
	case '%':
		return math.Mod(a, b)
	case '^':
		return math.Pow(a, b)
	default:
		panic(fmt.Errorf("unknown operator %q", op))
	}
}

func (n *binNode) eval(env *env, dst []float64) []float64 {
	if c, ok := n.r.scalar(); ok {
		l := n.l.eval(env, dst)
		binaryVecScalar(n.op, l, c, dst)
		return dst
	}
	if c, ok := n.l.scalar(); ok {
		r := n.r.eval(env, dst)
		for i, v := range r {
			dst[i] = applyBinary(n.op, c, v)
		}
		return dst
	}
	l := n.l.eval(env, dst)
	tmp := env.alloc(len(dst))
	r := n.r.eval(env, tmp)
	binaryVecVec(n.op, l, r, dst)
	env.free(tmp)
	return dst
}

func binaryVecScalar(op byte, l []float64, c float64, dst []float64) {
	switch op {
	case '+':
		for i, v := range l {
			dst[i] = v + c
		}
	case '-':
		for i, v := range l {
			dst[i] = v - c
		}
	case '*':
		for i, v := range l {
			dst[i] = v * c
		}
	case '/':
		for i, v := range l {
			dst[i] = v / c
		}
	default:
		for i, v := range l {
			dst[i] = applyBinary(op, v, c)
		}
	}
}

func binaryVecVec(op byte, l, r, dst []float64) {
	switch op {
	case '+':
		for i, v := range l {
			dst[i] = v + r[i]
		}
	case '-':
		for i, v := range l {
			dst[i] = v - r[i]
		}
	case '*':
		for i, v := range l {
			dst[i] = v * r[i]
		}
	case '/':
		for i, v := range l {
			dst[i] = v / r[i]
		}
	default:
		for i, v := range l {
			dst[i] = applyBinary(op, v, r[i])
		}
	}
}

func (n *callNode) eval(env *env, dst []float64) []float64 {
	if n.fn.arity == 1 {
		x := n.args[0].eval(env, dst)
		f := n.fn.f1
		for i, v := range x {
			dst[i] = f(v)
		}
		return dst
	}
	f := n.fn.f2
	if c, ok := n.args[1].scalar(); ok {
		a := n.args[0].eval(env, dst)
		for i, v := range a {
			dst[i] = f(v, c)
		}
		return dst
	}
	a := n.args[0].eval(env, dst)
	tmp := env.alloc(len(dst))
	b := n.args[1].eval(env, tmp)
	for i, v := range a {
		dst[i] = f(v, b[i])
	}
	env.free(tmp)
	return dst
}

type function struct {
	name  string
	arity int
	f1    func(float64) float64
	f2    func(float64, float64) float64
}

var functions = map[string]*function{}

func init() {
	unary := map[string]func(float64) float64{
		"sin":    math.Sin,
		"cos":    math.Cos,
		"tan":    math.Tan,
		"arcsin": math.Asin,
		"arccos": math.Acos,
		"arctan": math.Atan,
		"sinh":   math.Sinh,
		"cosh":   math.Cosh,
		"tanh":   math.Tanh,
		"sqrt":   math.Sqrt,
		"abs":    math.Abs,
		"exp":    math.Exp,
		"expm1":  math.Expm1,
		"log":    math.Log,
		"log10":  math.Log10,
		"log1p":  math.Log1p,
		"floor":  math.Floor,
		"ceil":   math.Ceil,
	}
	for name, f := range unary {
		functions[name] = &function{name: name, arity: 1, f1: f}
	}
	functions["arctan2"] = &function{name: "arctan2", arity: 2, f2: math.Atan2}
	functions["pow"] = &function{name: "pow", arity: 2, f2: math.Pow}
}

// Functions lists the supported function names.
func Functions() []string {
	names := make([]string, 0, len(functions))
	for name := range functions {
		names = append(names, name)
	}
	return names
}
