package vexpr

import (
	"errors"
	"fmt"
	"slices"

	"github.com/andreyvit/coltab/internal/lex"
)

// SyntaxError reports a malformed expression or an unknown function.
type SyntaxError struct {
	Src string
	Pos int
	Msg string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at offset %d in %q: %s", e.Pos, e.Src, e.Msg)
}

// Expr is a parsed elementwise arithmetic formula.
type Expr struct {
	src  string
	root node
	vars []string
}

// Parse parses an arithmetic expression such as `3 * sin(x) + sqrt(abs(x))`.
func Parse(src string) (*Expr, error) {
	toks, err := lex.Tokenize(src)
	if err != nil {
		return nil, syntaxErr(src, err)
	}
	p := &parser{s: lex.NewStream(toks), varIdx: make(map[string]int)}
	root, err := p.parseSum()
	if err != nil {
		return nil, syntaxErr(src, err)
	}
	if t := p.s.Peek(); t.Kind != lex.EOF {
		return nil, &SyntaxError{Src: src, Pos: t.Pos, Msg: fmt.Sprintf("unexpected %v", t)}
	}
	return &Expr{src: src, root: root, vars: p.vars}, nil
}

// MustParse is like Parse but panics on error.
func MustParse(src string) *Expr {
	e, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return e
}

func syntaxErr(src string, err error) error {
	var lerr *lex.Error
	if errors.As(err, &lerr) {
		return &SyntaxError{Src: src, Pos: lerr.Pos, Msg: lerr.Msg}
	}
	return &SyntaxError{Src: src, Msg: err.Error()}
}

func (e *Expr) Source() string { return e.src }
func (e *Expr) String() string { return e.root.String() }

// Vars lists variable names in order of first appearance.
func (e *Expr) Vars() []string { return slices.Clone(e.vars) }

type parser struct {
	s      *lex.Stream
	vars   []string
	varIdx map[string]int
}

func (p *parser) parseSum() (node, error) {
	left, err := p.parseProduct()
	if err != nil {
		return nil, err
	}
	for {
		var op byte
		switch {
		case p.s.Accept("+"):
			op = '+'
		case p.s.Accept("-"):
			op = '-'
		default:
			return left, nil
		}
		right, err := p.parseProduct()
		if err != nil {
			return nil, err
		}
		left = fold(&binNode{op: op, l: left, r: right})
	}
}

func (p *parser) parseProduct() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		var op byte
		switch {
		case p.s.Accept("*"):
			op = '*'
		case p.s.Accept("/"):
			op = '/'
		case p.s.Accept("%"):
			op = '%'
		default:
			return left, nil
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = fold(&binNode{op: op, l: left, r: right})
	}
}

func (p *parser) parseUnary() (node, error) {
	if p.s.Accept("-") {
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		if c, ok := x.scalar(); ok {
			return &numNode{v: -c}, nil
		}
		return &negNode{x: x}, nil
	}
	if p.s.Accept("+") {
		return p.parseUnary()
	}
	return p.parsePower()
}

// ** is right-associative and binds tighter than unary minus on its left.
func (p *parser) parsePower() (node, error) {
	base, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	if p.s.Accept("**") {
		exp, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return fold(&binNode{op: '^', l: base, r: exp}), nil
	}
	return base, nil
}

func (p *parser) parsePrimary() (node, error) {
	t := p.s.Next()
	switch t.Kind {
	case lex.Number:
		return &numNode{v: t.Num}, nil
	case lex.Ident:
		if p.s.Accept("(") {
			return p.parseCall(t)
		}
		idx, ok := p.varIdx[t.Text]
		if !ok {
			idx = len(p.vars)
			p.vars = append(p.vars, t.Text)
			p.varIdx[t.Text] = idx
		}
		return &varNode{name: t.Text, idx: idx}, nil
	case lex.Op:
		if t.Text == "(" {
			x, err := p.parseSum()
			if err != nil {
				return nil, err
			}
			if err := p.s.Expect(")"); err != nil {
				return nil, err
			}
			return x, nil
		}
	}
	return nil, lex.Errorf(t.Pos, "expected number, variable or '(', got %v", t)
}

func (p *parser) parseCall(name lex.Token) (node, error) {
	fn := functions[name.Text]
	if fn == nil {
		return nil, lex.Errorf(name.Pos, "unknown function %s", name.Text)
	}
	var args []node
	if !p.s.Accept(")") {
		for {
			arg, err := p.parseSum()
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if p.s.Accept(")") {
				break
			}
			if err := p.s.Expect(","); err != nil {
				return nil, err
			}
		}
	}
	if len(args) != fn.arity {
		return nil, lex.Errorf(name.Pos, "%s takes %d argument(s), got %d", fn.name, fn.arity, len(args))
	}
	call := &callNode{fn: fn, args: args}
	if allScalar(args) {
		if fn.arity == 1 {
			c, _ := args[0].scalar()
			return &numNode{v: fn.f1(c)}, nil
		}
		a, _ := args[0].scalar()
		b, _ := args[1].scalar()
		return &numNode{v: fn.f2(a, b)}, nil
	}
	return call, nil
}

func allScalar(nodes []node) bool {
	for _, n := range nodes {
		if _, ok := n.scalar(); !ok {
			return false
		}
	}
	return true
}

func fold(n *binNode) node {
	a, aok := n.l.scalar()
	b, bok := n.r.scalar()
	if aok && bok {
		return &numNode{v: applyBinary(n.op, a, b)}
	}
	return n
}
