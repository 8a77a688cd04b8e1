package predicate

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind is the value domain of a column or literal.
type Kind uint8

const (
	Numeric Kind = iota + 1
	Text
)

func (k Kind) String() string {
	switch k {
	case Numeric:
		return "numeric"
	case Text:
		return "text"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

type Op uint8

const (
	Lt Op = iota + 1
	Gt
	Le
	Ge
	Eq
	Ne
)

var opText = map[Op]string{Lt: "<", Gt: ">", Le: "<=", Ge: ">=", Eq: "==", Ne: "!="}

func (op Op) String() string {
	return opText[op]
}

// flip returns the operator to use when the operands are swapped.
func (op Op) flip() Op {
	switch op {
	case Lt:
		return Gt
	case Gt:
		return Lt
	case Le:
		return Ge
	case Ge:
		return Le
	default:
		return op
	}
}

func compareNum(op Op, a, b float64) bool {
	switch op {
	case Lt:
		return a < b
	case Gt:
		return a > b
	case Le:
		return a <= b
	case Ge:
		return a >= b
	case Eq:
		return a == b
	case Ne:
		return a != b
	default:
		panic("invalid op")
	}
}

func compareText(op Op, a, b string) bool {
	c := strings.Compare(a, b)
	switch op {
	case Lt:
		return c < 0
	case Gt:
		return c > 0
	case Le:
		return c <= 0
	case Ge:
		return c >= 0
	case Eq:
		return c == 0
	case Ne:
		return c != 0
	default:
		panic("invalid op")
	}
}

type operandType uint8

const (
	columnOperand operandType = iota + 1
	numberOperand
	stringOperand
)

// Operand is one side of a comparison.
type Operand struct {
	typ    operandType
	Column string
	Num    float64
	Str    string
	Pos    int

	kind Kind // set by Bind for columns
}

func (o Operand) IsColumn() bool { return o.typ == columnOperand }

func (o Operand) String() string {
	switch o.typ {
	case columnOperand:
		return o.Column
	case numberOperand:
		return strconv.FormatFloat(o.Num, 'g', -1, 64)
	default:
		return strconv.Quote(o.Str)
	}
}

func (o Operand) literalKind() Kind {
	if o.typ == stringOperand {
		return Text
	}
	return Numeric
}

// Node is a boolean expression over a row.
type Node interface {
	String() string
	walk(f func(n Node))
}

type Compare struct {
	Op          Op
	Left, Right Operand
	kind        Kind
}

type And struct {
	Left, Right Node
}

type Or struct {
	Left, Right Node
}

type Not struct {
	X Node
}

func (c *Compare) String() string {
	return "(" + c.Left.String() + " " + c.Op.String() + " " + c.Right.String() + ")"
}

func (n *And) String() string { return "(" + n.Left.String() + " & " + n.Right.String() + ")" }
func (n *Or) String() string { return "(" + n.Left.String() + " | " + n.Right.String() + ")" }
func (n *Not) String() string { return "~" + n.X.String() }

func (c *Compare) walk(f func(n Node)) { f(c) }
func (n *And) walk(f func(n Node)) { f(n); n.Left.walk(f); n.Right.walk(f) }
func (n *Or) walk(f func(n Node)) { f(n); n.Left.walk(f); n.Right.walk(f) }
func (n *Not) walk(f func(n Node)) { f(n); n.X.walk(f) }
