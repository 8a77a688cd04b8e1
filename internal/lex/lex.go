// Package lex tokenizes the small expression languages used by coltab:
// row predicates and elementwise arithmetic.
package lex

import (
	"fmt"
	"strconv"
	"strings"
)

type Kind uint8

const (
	EOF Kind = iota
	Ident
	Number
	String
	Op
)

func (k Kind) String() string {
	switch k {
	case EOF:
		return "end of input"
	case Ident:
		return "identifier"
	case Number:
		return "number"
	case String:
		return "string"
	case Op:
		return "operator"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

type Token struct {
	Kind Kind
	Text string
	Num  float64
	Pos  int
}

func (t Token) String() string {
	switch t.Kind {
	case EOF:
		return "end of input"
	case String:
		return strconv.Quote(t.Text)
	default:
		return fmt.Sprintf("%q", t.Text)
	}
}

// Is reports whether t is the operator op.
func (t Token) Is(op string) bool {
	return t.Kind == Op && t.Text == op
}

// Error is a tokenizing or parsing failure at a byte offset of the source.
type Error struct {
	Pos int
	Msg string
}

func (e *Error) Error() string {
	return fmt.Sprintf("at offset %d: %s", e.Pos, e.Msg)
}

func Errorf(pos int, format string, args ...any) *Error {
	return &Error{Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

// longest first
var operators = []string{
	"**", "<=", ">=", "==", "!=",
	"<", ">", "&", "|", "~", "(", ")", ",", "+", "-", "*", "/", "%",
}

// Tokenize splits src into tokens. The result always ends with an EOF token.
func Tokenize(src string) ([]Token, error) {
	var toks []Token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case isIdentStart(c):
			start := i
			for i < len(src) && isIdentPart(src[i]) {
				i++
			}
			toks = append(toks, Token{Kind: Ident, Text: src[start:i], Pos: start})
		case isDigit(c) || (c == '.' && i+1 < len(src) && isDigit(src[i+1])):
			tok, n, err := scanNumber(src, i)
			if err != nil {
				return nil, err
			}
			toks = append(toks, tok)
			i += n
		case c == '\'' || c == '"':
			tok, n, err := scanString(src, i)
			if err != nil {
				return nil, err
			}
			toks = append(toks, tok)
			i += n
		default:
			op := matchOperator(src[i:])
			if op == "" {
				return nil, Errorf(i, "unexpected character %q", c)
			}
			toks = append(toks, Token{Kind: Op, Text: op, Pos: i})
			i += len(op)
		}
	}
	toks = append(toks, Token{Kind: EOF, Pos: len(src)})
	return toks, nil
}

func matchOperator(s string) string {
	for _, op := range operators {
		if strings.HasPrefix(s, op) {
			return op
		}
	}
	return ""
}

func scanNumber(src string, start int) (Token, int, error) {
	i := start
	for i < len(src) && isDigit(src[i]) {
		i++
	}
	if i < len(src) && src[i] == '.' {
		i++
		for i < len(src) && isDigit(src[i]) {
			i++
		}
	}
	if i < len(src) && (src[i] == 'e' || src[i] == 'E') {
		j := i + 1
		if j < len(src) && (src[j] == '+' || src[j] == '-') {
			j++
		}
		if j < len(src) && isDigit(src[j]) {
			for j < len(src) && isDigit(src[j]) {
				j++
			}
			i = j
		} else {
			return Token{}, 0, Errorf(start, "malformed exponent in number %q", src[start:j])
		}
	}
	if i < len(src) && isIdentStart(src[i]) {
		return Token{}, 0, Errorf(start, "malformed number %q", src[start:i+1])
	}
	text := src[start:i]
	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return Token{}, 0, Errorf(start, "malformed number %q", text)
	}
	return Token{Kind: Number, Text: text, Num: v, Pos: start}, i - start, nil
}

func scanString(src string, start int) (Token, int, error) {
	quote := src[start]
	var buf strings.Builder
	i := start + 1
	for i < len(src) {
		c := src[i]
		switch {
		case c == quote:
			return Token{Kind: String, Text: buf.String(), Pos: start}, i + 1 - start, nil
		case c == '\\' && i+1 < len(src):
			buf.WriteByte(src[i+1])
			i += 2
		default:
			buf.WriteByte(c)
			i++
		}
	}
	return Token{}, 0, Errorf(start, "unterminated string")
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || isDigit(c)
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// IsIdent reports whether s is a valid identifier.
func IsIdent(s string) bool {
	if s == "" || !isIdentStart(s[0]) {
		return false
	}
	for i := 1; i < len(s); i++ {
		if !isIdentPart(s[i]) {
			return false
		}
	}
	return true
}

// Stream is a cursor over a token slice used by the recursive-descent parsers.
type Stream struct {
	toks []Token
	pos  int
}

func NewStream(toks []Token) *Stream {
	return &Stream{toks: toks}
}

func (s *Stream) Peek() Token {
	return s.toks[s.pos]
}

func (s *Stream) Next() Token {
	t := s.toks[s.pos]
	if t.Kind != EOF {
		s.pos++
	}
	return t
}

// Accept consumes the next token if it is the operator op.
func (s *Stream) Accept(op string) bool {
	if s.Peek().Is(op) {
		s.pos++
		return true
	}
	return false
}

// Expect consumes the operator op or fails.
func (s *Stream) Expect(op string) error {
	t := s.Peek()
	if !t.Is(op) {
		return Errorf(t.Pos, "expected %q, got %v", op, t)
	}
	s.pos++
	return nil
}
