package predicate

import (
	"errors"
	"fmt"

	"github.com/andreyvit/coltab/internal/lex"
)

// SyntaxError reports malformed predicate text.
type SyntaxError struct {
	Src string
	Pos int
	Msg string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at offset %d in %q: %s", e.Pos, e.Src, e.Msg)
}

// BindError reports a reference to an unknown column or a comparison between
// incompatible kinds.
type BindError struct {
	Column string
	Msg    string
}

func (e *BindError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("column %s: %s", e.Column, e.Msg)
	}
	return e.Msg
}

// Predicate is a parsed row condition.
type Predicate struct {
	src   string
	root  Node
	cols  []string
	bound bool
}

// Parse parses src. It does not check that the referenced columns exist;
// see Bind.
func Parse(src string) (*Predicate, error) {
	toks, err := lex.Tokenize(src)
	if err != nil {
		return nil, syntaxErr(src, err)
	}
	p := &parser{s: lex.NewStream(toks)}
	root, err := p.parseOr()
	if err != nil {
		return nil, syntaxErr(src, err)
	}
	if t := p.s.Peek(); t.Kind != lex.EOF {
		return nil, &SyntaxError{Src: src, Pos: t.Pos, Msg: fmt.Sprintf("unexpected %v", t)}
	}

	pred := &Predicate{src: src, root: root}
	seen := make(map[string]bool)
	root.walk(func(n Node) {
		if c, ok := n.(*Compare); ok {
			for _, o := range []Operand{c.Left, c.Right} {
				if o.IsColumn() && !seen[o.Column] {
					seen[o.Column] = true
					pred.cols = append(pred.cols, o.Column)
				}
			}
		}
	})
	return pred, nil
}

func syntaxErr(src string, err error) error {
	var lerr *lex.Error
	if errors.As(err, &lerr) {
		return &SyntaxError{Src: src, Pos: lerr.Pos, Msg: lerr.Msg}
	}
	return &SyntaxError{Src: src, Msg: err.Error()}
}

// Source returns the text the predicate was parsed from.
func (p *Predicate) Source() string { return p.src }

// String returns a fully parenthesized rendition of the predicate.
func (p *Predicate) String() string { return p.root.String() }

// Root returns the top-level node.
func (p *Predicate) Root() Node { return p.root }

// Columns lists referenced column names in order of first appearance.
func (p *Predicate) Columns() []string {
	return append([]string(nil), p.cols...)
}

// Bind resolves column kinds and checks that every comparison is between
// operands of the same kind. It must be called before evaluation.
func (p *Predicate) Bind(kindOf func(column string) (Kind, bool)) error {
	var err error
	p.root.walk(func(n Node) {
		c, ok := n.(*Compare)
		if !ok || err != nil {
			return
		}
		for _, o := range []*Operand{&c.Left, &c.Right} {
			if !o.IsColumn() {
				continue
			}
			k, found := kindOf(o.Column)
			if !found {
				err = &BindError{Column: o.Column, Msg: "no such column"}
				return
			}
			o.kind = k
		}
		lk, rk := c.Left.valueKind(), c.Right.valueKind()
		if lk != rk {
			err = &BindError{Msg: fmt.Sprintf("cannot compare %s %v with %s %v", lk, c.Left, rk, c.Right)}
			return
		}
		c.kind = lk
	})
	if err != nil {
		return err
	}
	p.bound = true
	return nil
}

func (o Operand) valueKind() Kind {
	if o.IsColumn() {
		return o.kind
	}
	return o.literalKind()
}

type parser struct {
	s *lex.Stream
}

func (p *parser) parseOr() (Node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.s.Accept("|") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &Or{Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.s.Accept("&") {
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &And{Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (Node, error) {
	if p.s.Accept("~") {
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &Not{X: x}, nil
	}
	if p.s.Accept("(") {
		x, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if err := p.s.Expect(")"); err != nil {
			return nil, err
		}
		return x, nil
	}
	return p.parseCompare()
}

var compareOps = map[string]Op{"<": Lt, ">": Gt, "<=": Le, ">=": Ge, "==": Eq, "!=": Ne}

func (p *parser) parseCompare() (Node, error) {
	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	t := p.s.Next()
	op, ok := compareOps[t.Text]
	if t.Kind != lex.Op || !ok {
		return nil, lex.Errorf(t.Pos, "expected comparison operator after %v, got %v", left, t)
	}
	right, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	if t := p.s.Peek(); t.Kind == lex.Op {
		if _, chained := compareOps[t.Text]; chained {
			return nil, lex.Errorf(t.Pos, "chained comparisons are not supported, use &")
		}
	}
	return &Compare{Op: op, Left: left, Right: right}, nil
}

func (p *parser) parseOperand() (Operand, error) {
	t := p.s.Next()
	switch t.Kind {
	case lex.Ident:
		return Operand{typ: columnOperand, Column: t.Text, Pos: t.Pos}, nil
	case lex.Number:
		return Operand{typ: numberOperand, Num: t.Num, Pos: t.Pos}, nil
	case lex.String:
		return Operand{typ: stringOperand, Str: t.Text, Pos: t.Pos}, nil
	case lex.Op:
		if t.Text == "-" || t.Text == "+" {
			n := p.s.Next()
			if n.Kind != lex.Number {
				return Operand{}, lex.Errorf(n.Pos, "expected number after %q, got %v", t.Text, n)
			}
			v := n.Num
			if t.Text == "-" {
				v = -v
			}
			return Operand{typ: numberOperand, Num: v, Pos: t.Pos}, nil
		}
	}
	return Operand{}, lex.Errorf(t.Pos, "expected column name or literal, got %v", t)
}
