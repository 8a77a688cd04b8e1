package coltab

import (
	"fmt"
	"slices"
	"strings"

	"github.com/andreyvit/coltab/internal/lex"
	"github.com/andreyvit/coltab/predicate"
)

type ColumnType uint8

const (
	Text ColumnType = iota + 1
	Int32
	Float64
)

func (t ColumnType) String() string {
	switch t {
	case Text:
		return "text"
	case Int32:
		return "int32"
	case Float64:
		return "float64"
	default:
		return fmt.Sprintf("ColumnType(%d)", uint8(t))
	}
}

func (t ColumnType) valid() bool {
	return t >= Text && t <= Float64
}

func (t ColumnType) predicateKind() predicate.Kind {
	if t == Text {
		return predicate.Text
	}
	return predicate.Numeric
}

// Column describes one fixed-width field of a row. Size is the maximum byte
// length of a Text column and must be zero for other types. Pos is the
// 1-based ordinal of the column.
type Column struct {
	Name string     `msgpack:"n"`
	Type ColumnType `msgpack:"t"`
	Size int        `msgpack:"s,omitempty"`
	Pos  int        `msgpack:"p"`
}

// Width is the number of bytes one value occupies on disk.
func (c Column) Width() int {
	switch c.Type {
	case Int32:
		return 4
	case Float64:
		return 8
	default:
		return c.Size
	}
}

func (c Column) String() string {
	if c.Type == Text {
		return fmt.Sprintf("%s:text(%d)@%d", c.Name, c.Size, c.Pos)
	}
	return fmt.Sprintf("%s:%v@%d", c.Name, c.Type, c.Pos)
}

// Schema is an immutable ordered set of columns.
type Schema struct {
	cols   []Column
	byName map[string]int
	width  int
}

// DefineSchema validates cols and returns them as a schema ordered by Pos.
// If every Pos is zero, positions are assigned in list order.
func DefineSchema(cols []Column) (*Schema, error) {
	if len(cols) == 0 {
		return nil, schemaErrf("", nil, "no columns")
	}
	cols = slices.Clone(cols)

	autoPos := true
	for _, c := range cols {
		if c.Pos != 0 {
			autoPos = false
			break
		}
	}
	if autoPos {
		for i := range cols {
			cols[i].Pos = i + 1
		}
	}

	scm := &Schema{byName: make(map[string]int, len(cols))}
	seenPos := make(map[int]string, len(cols))
	for _, c := range cols {
		if c.Name == "" {
			return nil, schemaErrf("", nil, "empty column name at position %d", c.Pos)
		}
		if !lex.IsIdent(c.Name) {
			return nil, schemaErrf(c.Name, nil, "name must be an identifier")
		}
		if strings.HasPrefix(c.Name, "_") {
			return nil, schemaErrf(c.Name, nil, "names starting with _ are reserved")
		}
		if _, dup := scm.byName[c.Name]; dup {
			return nil, schemaErrf(c.Name, nil, "duplicate column name")
		}
		scm.byName[c.Name] = -1
		if !c.Type.valid() {
			return nil, schemaErrf(c.Name, nil, "unknown type %v", c.Type)
		}
		if c.Type == Text && c.Size <= 0 {
			return nil, schemaErrf(c.Name, nil, "text column needs a positive size, got %d", c.Size)
		}
		if c.Type != Text && c.Size != 0 {
			return nil, schemaErrf(c.Name, nil, "size is only allowed for text columns")
		}
		if c.Pos <= 0 {
			return nil, schemaErrf(c.Name, nil, "position must be positive when any position is given, got %d", c.Pos)
		}
		if other, dup := seenPos[c.Pos]; dup {
			return nil, schemaErrf(c.Name, nil, "position %d already used by %s", c.Pos, other)
		}
		seenPos[c.Pos] = c.Name
	}

	slices.SortFunc(cols, func(a, b Column) int { return a.Pos - b.Pos })
	for i, c := range cols {
		if c.Pos != i+1 {
			return nil, schemaErrf(c.Name, nil, "positions must be contiguous from 1, got %d at index %d", c.Pos, i)
		}
		scm.byName[c.Name] = i
		scm.width += c.Width()
	}
	scm.cols = cols
	return scm, nil
}

// MustDefineSchema is like DefineSchema but panics on error. Intended for
// package-level schema variables.
func MustDefineSchema(cols ...Column) *Schema {
	return must(DefineSchema(cols))
}

func (scm *Schema) Columns() []Column {
	return slices.Clone(scm.cols)
}

func (scm *Schema) NumColumns() int {
	return len(scm.cols)
}

// Column returns the named column.
func (scm *Schema) Column(name string) (Column, bool) {
	i, ok := scm.byName[name]
	if !ok {
		return Column{}, false
	}
	return scm.cols[i], true
}

// ColumnIndex returns the 0-based index of the named column, or -1.
func (scm *Schema) ColumnIndex(name string) int {
	i, ok := scm.byName[name]
	if !ok {
		return -1
	}
	return i
}

// RowWidth is the number of bytes one row occupies uncompressed.
func (scm *Schema) RowWidth() int {
	return scm.width
}

func (scm *Schema) String() string {
	parts := make([]string, len(scm.cols))
	for i, c := range scm.cols {
		parts[i] = c.String()
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func (scm *Schema) predicateKind(name string) (predicate.Kind, bool) {
	c, ok := scm.Column(name)
	if !ok {
		return 0, false
	}
	return c.Type.predicateKind(), true
}
