package coltab

import (
	"errors"
	"testing"
)

func TestDefineSchema(t *testing.T) {
	scm := must(DefineSchema([]Column{
		{Name: "b", Type: Float64, Pos: 2},
		{Name: "a", Type: Int32, Pos: 1},
		{Name: "c", Type: Text, Size: 5, Pos: 3},
	}))
	deepEqual(t, scm.NumColumns(), 3)
	deepEqual(t, scm.Columns()[0].Name, "a")
	deepEqual(t, scm.ColumnIndex("c"), 2)
	deepEqual(t, scm.ColumnIndex("z"), -1)
	deepEqual(t, scm.RowWidth(), 4+8+5)
	deepEqual(t, scm.String(), "{a:int32@1, b:float64@2, c:text(5)@3}")

	auto := MustDefineSchema(Column{Name: "x", Type: Int32}, Column{Name: "y", Type: Int32})
	deepEqual(t, auto.Columns()[1].Pos, 2)
}

func TestDefineSchema_Errors(t *testing.T) {
	tests := []struct {
		name string
		cols []Column
	}{
		{"empty", nil},
		{"empty name", []Column{{Type: Int32}}},
		{"bad name", []Column{{Name: "a b", Type: Int32}}},
		{"reserved name", []Column{{Name: "_a", Type: Int32}}},
		{"duplicate", []Column{{Name: "a", Type: Int32}, {Name: "a", Type: Float64}}},
		{"unknown type", []Column{{Name: "a", Type: ColumnType(99)}}},
		{"text without size", []Column{{Name: "a", Type: Text}}},
		{"size on number", []Column{{Name: "a", Type: Int32, Size: 4}}},
		{"duplicate position", []Column{{Name: "a", Type: Int32, Pos: 1}, {Name: "b", Type: Int32, Pos: 1}}},
		{"gap in positions", []Column{{Name: "a", Type: Int32, Pos: 1}, {Name: "b", Type: Int32, Pos: 3}}},
		{"missing position", []Column{{Name: "a", Type: Int32, Pos: 1}, {Name: "b", Type: Int32}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DefineSchema(tt.cols)
			var serr *SchemaError
			if !errors.As(err, &serr) {
				t.Fatalf("DefineSchema = %v, wanted *SchemaError", err)
			}
		})
	}
}

func TestRow_Accessors(t *testing.T) {
	c := setupMem(t)
	tbl := must(c.CreateTable("/t", readingSchema, TableOptions{}))
	ensure(tbl.Append(NewRow("d1", int64(7), uint8(2), float32(0.5), 3)))
	rows := must(tbl.Read())
	r := rows[0]
	deepEqual(t, r.Len(), 5)
	deepEqual(t, r.Text("Date"), "d1")
	deepEqual(t, r.Int32("No1"), int32(7))
	deepEqual(t, r.Int32("No2"), int32(2))
	deepEqual(t, r.Float64("No3"), 0.5)
	deepEqual(t, r.Float64("No4"), 3.0)
	deepEqual(t, r.Field("Nope"), any(nil))
	deepEqual(t, r.String(), `(Date="d1", No1=7, No2=2, No3=0.5, No4=3)`)
}
