package coltab

import (
	"errors"
	"math"
	"testing"

	"github.com/andreyvit/coltab/vexpr"
)

func TestBind_AgreesWithInMemoryEvaluation(t *testing.T) {
	const expr = "3*sin(x)+sqrt(abs(x))"
	eachBackend(t, func(t *testing.T, c *Conn) {
		x := must(c.CreateArray("/x", ElemFloat64, []int{5}, ArrayOptions{ChunkRows: 100}))
		in := vexpr.Zeros(1037, 5)
		for i := range in.Data() {
			in.Data()[i] = math.Sin(float64(i)*0.37) * float64(i%97)
		}
		ensure(x.Append(in))

		expected := must(vexpr.Evaluate(expr, map[string]*vexpr.Dense{"x": in}, 1))

		for _, threads := range []int{1, 4} {
			out := must(c.CreateArray("/out", ElemFloat64, []int{5}, ArrayOptions{}))
			be := must(Bind(expr, map[string]ExprInput{"x": x}, out, AppendMode, WithThreads(threads)))
			ensure(be.Eval())

			got := must(out.Read())
			deepEqual(t, got.Shape(), expected.Shape())
			for i, v := range got.Data() {
				if math.Abs(v-expected.Data()[i]) > 1e-9 {
					t.Fatalf("threads=%d: element %d = %v, wanted %v", threads, i, v, expected.Data()[i])
				}
			}
			ensure(c.Remove("/out", false))
		}
	})
}

func TestBind_Modes(t *testing.T) {
	c := setupMem(t)
	a := must(c.CreateArray("/a", ElemFloat64, nil, ArrayOptions{ChunkRows: 3}))
	b := must(c.CreateArray("/b", ElemFloat64, nil, ArrayOptions{}))
	ensure(a.Append(ramp(1, 10)))
	ensure(b.Append(ramp(100, 10)))
	out := must(c.CreateArray("/out", ElemFloat64, nil, ArrayOptions{}))
	inputs := map[string]ExprInput{"a": a, "b": b}

	be := must(Bind("a + b*2", inputs, out, AppendMode, WithBlockRows(4)))
	ensure(be.Eval())
	ensure(be.Eval())
	deepEqual(t, out.Len(), int64(20))

	be = must(Bind("b - a", inputs, out, OverwriteMode))
	ensure(be.Eval())
	deepEqual(t, must(out.Read()).Data(), []float64{99, 99, 99, 99, 99, 99, 99, 99, 99, 99})

	// appending to one of the inputs only reads the rows present at the start
	be = must(Bind("a * 10", inputs, a, AppendMode))
	ensure(be.Eval())
	deepEqual(t, a.Len(), int64(20))
	deepEqual(t, must(a.ReadRange(10, 12)).Data(), []float64{10, 20})

	_, err := Bind("a * 10", inputs, a, OverwriteMode)
	var werr *WriteError
	if !errors.As(err, &werr) {
		t.Fatalf("Bind overwriting an input = %v, wanted *WriteError", err)
	}
}

func TestBind_TableColumns(t *testing.T) {
	c := setupMem(t)
	tbl := must(c.CreateTable("/t", readingSchema, TableOptions{ChunkRows: 64}))
	appendReadings(t, tbl, 200)
	out := must(c.CreateArray("/sum", ElemFloat64, nil, ArrayOptions{}))

	be := must(Bind("No1 + No3", map[string]ExprInput{"No1": tbl.Column("No1"), "No3": tbl.Column("No3")}, out, OverwriteMode))
	ensure(be.Eval())
	got := must(out.Read()).Data()
	deepEqual(t, len(got), 200)
	for i, v := range got {
		if want := float64(i) + float64(i)*0.25; v != want {
			t.Fatalf("element %d = %v, wanted %v", i, v, want)
		}
	}

	var qerr *QueryError
	_, err := Bind("d * 2", map[string]ExprInput{"d": tbl.Column("Date")}, out, OverwriteMode)
	if !errors.As(err, &qerr) {
		t.Errorf("Bind over a text column = %v, wanted *QueryError", err)
	}
	_, err = Bind("d * 2", map[string]ExprInput{"d": tbl.Column("Nope")}, out, OverwriteMode)
	if !errors.As(err, &qerr) {
		t.Errorf("Bind over a missing column = %v, wanted *QueryError", err)
	}
}

func TestBind_Errors(t *testing.T) {
	c := setupMem(t)
	x := must(c.CreateArray("/x", ElemFloat64, []int{2}, ArrayOptions{}))
	y := must(c.CreateArray("/y", ElemFloat64, []int{2}, ArrayOptions{}))
	z := must(c.CreateArray("/z", ElemFloat64, []int{3}, ArrayOptions{}))
	out := must(c.CreateArray("/out", ElemFloat64, []int{2}, ArrayOptions{}))
	ensure(x.Append(ramp(0, 4, 2)))
	ensure(y.Append(ramp(0, 3, 2)))
	ensure(z.Append(ramp(0, 4, 3)))

	var qerr *QueryError
	for _, src := range []string{"x +", "sin(x", "frobnicate(x)", "x + w", "1 + 2"} {
		_, err := Bind(src, map[string]ExprInput{"x": x}, out, AppendMode)
		if !errors.As(err, &qerr) {
			t.Errorf("Bind(%q) = %v, wanted *QueryError", src, err)
		}
	}

	for _, tt := range []struct {
		src    string
		inputs map[string]ExprInput
		out    *GrowableArray
	}{
		{"x + y", map[string]ExprInput{"x": x, "y": y}, out},
		{"x + z", map[string]ExprInput{"x": x, "z": z}, out},
		{"z * 2", map[string]ExprInput{"z": z}, out},
	} {
		_, err := Bind(tt.src, tt.inputs, tt.out, AppendMode)
		if !errors.Is(err, vexpr.ErrShapeMismatch) {
			t.Errorf("Bind(%q) = %v, wanted ErrShapeMismatch", tt.src, err)
		}
		var werr *WriteError
		if !errors.As(err, &werr) {
			t.Errorf("Bind(%q) = %T, wanted *WriteError", tt.src, err)
		}
	}

	// lengths are checked again at evaluation time
	be := must(Bind("x * 2", map[string]ExprInput{"x": x}, out, AppendMode))
	ensure(x.Append(ramp(0, 1, 2)))
	ensure(be.Eval())
	deepEqual(t, out.Len(), int64(5))
}
