package vexpr

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"
)

func randomDense(t *testing.T, seed uint64, shape ...int) *Dense {
	t.Helper()
	rnd := rand.New(rand.NewPCG(seed, seed+1))
	d := Zeros(shape...)
	for i := range d.Data() {
		d.Data()[i] = rnd.NormFloat64()
	}
	return d
}

func TestParseAndString(t *testing.T) {
	tests := []struct {
		src  string
		want string
		vars []string
	}{
		{"3 * sin(ear) + sqrt(abs(ear))", "((3 * sin(ear)) + sqrt(abs(ear)))", []string{"ear"}},
		{"-x**2", "(-(x ** 2))", []string{"x"}},
		{"2**3**2", "512", nil},
		{"a - b - c", "((a - b) - c)", []string{"a", "b", "c"}},
		{"a / (b + 1) % 2", "((a / (b + 1)) % 2)", []string{"a", "b"}},
		{"arctan2(y, x) + +1", "(arctan2(y, x) + 1)", []string{"y", "x"}},
		{"sqrt(4) * x", "(2 * x)", []string{"x"}},
		{"-(3)", "-3", nil},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			e, err := Parse(tt.src)
			require.NoError(t, err)
			require.Equal(t, tt.want, e.String())
			if tt.vars == nil {
				require.Empty(t, e.Vars())
			} else {
				require.Equal(t, tt.vars, e.Vars())
			}
		})
	}
}

func TestParseErrors(t *testing.T) {
	for _, src := range []string{
		"",
		"3 *",
		"sin(x",
		"nosuch(x)",
		"sin(x, y)",
		"arctan2(x)",
		"x y",
		"x > 1",
		"(x))",
	} {
		t.Run(src, func(t *testing.T) {
			_, err := Parse(src)
			var serr *SyntaxError
			require.ErrorAs(t, err, &serr)
		})
	}
}

func TestEvaluateMatchesScalarMath(t *testing.T) {
	x := randomDense(t, 7, 37, 11)
	y := randomDense(t, 8, 37, 11)
	out, err := Evaluate("3 * sin(x) + sqrt(abs(x)) - y**2 / (1 + abs(y)) + arctan2(y, x) + exp(-abs(x)) % 0.3", map[string]*Dense{"x": x, "y": y}, 1)
	require.NoError(t, err)
	require.Equal(t, []int{37, 11}, out.Shape())
	for i, xv := range x.Data() {
		yv := y.Data()[i]
		want := 3*math.Sin(xv) + math.Sqrt(math.Abs(xv)) - math.Pow(yv, 2)/(1+math.Abs(yv)) + math.Atan2(yv, xv) + math.Mod(math.Exp(-math.Abs(xv)), 0.3)
		require.InDelta(t, want, out.Data()[i], 1e-12)
	}
}

func TestThreadCountDoesNotChangeResult(t *testing.T) {
	x := randomDense(t, 42, 3*BlockSize+17, 3)
	e := MustParse("3 * sin(x) + sqrt(abs(x))")
	single, err := NewEvaluator(1).Evaluate(e, map[string]*Dense{"x": x})
	require.NoError(t, err)
	for _, threads := range []int{2, 4, 0} {
		multi, err := NewEvaluator(threads).Evaluate(e, map[string]*Dense{"x": x})
		require.NoError(t, err)
		require.Equal(t, single.Data(), multi.Data(), "threads=%d", threads)
	}
}

func TestEvaluateVariableOnly(t *testing.T) {
	x := randomDense(t, 1, 5)
	out, err := Evaluate("x", map[string]*Dense{"x": x}, 2)
	require.NoError(t, err)
	require.Equal(t, x.Data(), out.Data())
	out.Data()[0] = 1000
	require.NotEqual(t, 1000.0, x.Data()[0])
}

func TestEvaluateErrors(t *testing.T) {
	x := Zeros(4, 2)
	y := Zeros(2, 4)

	_, err := Evaluate("x + y", map[string]*Dense{"x": x, "y": y}, 1)
	require.ErrorIs(t, err, ErrShapeMismatch)

	_, err = Evaluate("x + z", map[string]*Dense{"x": x}, 1)
	var uerr *UnboundVariableError
	require.ErrorAs(t, err, &uerr)
	require.Equal(t, "z", uerr.Name)

	_, err = Evaluate("1 + 2", nil, 1)
	require.ErrorIs(t, err, ErrShapeMismatch)

	err = NewEvaluator(1).EvaluateInto(MustParse("x * 2"), map[string][]float64{"x": {1, 2}}, make([]float64, 3))
	require.ErrorIs(t, err, ErrShapeMismatch)
}

func TestEvaluateIntoEmpty(t *testing.T) {
	err := NewEvaluator(4).EvaluateInto(MustParse("x * 2"), map[string][]float64{"x": {}}, nil)
	require.NoError(t, err)
}

func TestDense(t *testing.T) {
	d, err := NewDense([]int{2, 3}, []float64{1, 2, 3, 4, 5, 6})
	require.NoError(t, err)
	require.Equal(t, 2, d.Rows())
	require.Equal(t, 3, d.RowLen())
	require.Equal(t, []int{3}, d.RowShape())
	require.Equal(t, 6.0, d.At(1, 2))
	d.Set(9, 0, 1)
	require.Equal(t, 9.0, d.At(0, 1))

	s := d.Slice(1, 2)
	require.Equal(t, []int{1, 3}, s.Shape())
	require.Equal(t, []float64{4, 5, 6}, s.Data())

	c, err := Concat(d, s)
	require.NoError(t, err)
	require.Equal(t, []int{3, 3}, c.Shape())
	require.Equal(t, []float64{1, 9, 3, 4, 5, 6, 4, 5, 6}, c.Data())

	_, err = NewDense([]int{2, 2}, []float64{1})
	require.ErrorIs(t, err, ErrShapeMismatch)
	_, err = Concat(d, Zeros(1, 2))
	require.ErrorIs(t, err, ErrShapeMismatch)

	require.Panics(t, func() { d.At(2, 0) })
	require.Panics(t, func() { d.Slice(1, 3) })
}
