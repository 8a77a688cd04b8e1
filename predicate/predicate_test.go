package predicate

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"
)

type testBatch struct {
	n    int
	cols map[string]any
	hits map[string]int
}

func (b *testBatch) Len() int { return b.n }

func (b *testBatch) Column(name string) (any, error) {
	if b.hits != nil {
		b.hits[name]++
	}
	v, ok := b.cols[name]
	if !ok {
		return nil, errors.New("missing " + name)
	}
	return v, nil
}

func (b *testBatch) get(i int) func(string) any {
	return func(name string) any {
		switch vals := b.cols[name].(type) {
		case []int32:
			return vals[i]
		case []float64:
			return vals[i]
		case []string:
			return vals[i]
		}
		return nil
	}
}

var exampleKinds = map[string]Kind{
	"Date": Text,
	"No1":  Numeric,
	"No2":  Numeric,
	"No3":  Numeric,
	"No4":  Numeric,
}

func kindOf(name string) (Kind, bool) {
	k, ok := exampleKinds[name]
	return k, ok
}

func exampleBatch() *testBatch {
	return &testBatch{
		n: 3,
		cols: map[string]any{
			"Date": []string{"d1", "d2", "d3"},
			"No1":  []int32{1, 3, 5},
			"No2":  []int32{2, 4, 6},
			"No3":  []float64{0.1, 0.6, -0.6},
			"No4":  []float64{-0.2, 1.5, -2.0},
		},
	}
}

func mustBind(t *testing.T, src string) *Predicate {
	t.Helper()
	p, err := Parse(src)
	require.NoError(t, err)
	require.NoError(t, p.Bind(kindOf))
	return p
}

func TestEvalBatch(t *testing.T) {
	tests := []struct {
		src  string
		want []uint32
	}{
		{"No3>0.5 & No4>1", []uint32{1}},
		{"((No3 < -0.5) | (No3 > 0.5)) & ((No4 < -1) | (No4 > 1))", []uint32{1, 2}},
		{"No1 >= 3", []uint32{1, 2}},
		{"3 <= No1", []uint32{1, 2}},
		{"No1 == 5 | No2 == 2", []uint32{0, 2}},
		{"~(No1 == 5)", []uint32{0, 1}},
		{"No1 != 3", []uint32{0, 2}},
		{"No1 < No2", []uint32{0, 1, 2}},
		{"No3 > No4", []uint32{0, 2}},
		{"Date == 'd2'", []uint32{1}},
		{"Date > \"d1\"", []uint32{1, 2}},
		{"1 < 2", []uint32{0, 1, 2}},
		{"2 < 1", nil},
		{"No1 > 100 & No2 > 0", nil},
		{"No4 <= -2", []uint32{2}},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			p := mustBind(t, tt.src)
			b := exampleBatch()
			bm, err := p.EvalBatch(b)
			require.NoError(t, err)
			got := bm.ToArray()
			if tt.want == nil {
				require.Empty(t, got)
			} else {
				require.Equal(t, tt.want, got)
			}
			for i := 0; i < b.n; i++ {
				require.Equal(t, bm.Contains(uint32(i)), p.MatchRow(b.get(i)), "row %d", i)
			}
		})
	}
}

func TestAndShortCircuitSkipsColumns(t *testing.T) {
	p := mustBind(t, "No1 > 100 & No3 > 0")
	b := exampleBatch()
	b.hits = make(map[string]int)
	bm, err := p.EvalBatch(b)
	require.NoError(t, err)
	require.True(t, bm.IsEmpty())
	require.Equal(t, map[string]int{"No1": 1}, b.hits)
}

func TestParseErrors(t *testing.T) {
	tests := []string{
		"",
		"No3 >",
		"No3 > 0.5 &",
		"(No3 > 0.5",
		"No3 > 0.5)",
		"No3 0.5",
		"-0.5 < No3 < 0.5",
		"No3 > -x",
		"No3 = 1",
		"No3 > 0.5 && No4 > 1",
		"No3 + 1 > 2",
	}
	for _, src := range tests {
		t.Run(src, func(t *testing.T) {
			_, err := Parse(src)
			var serr *SyntaxError
			require.ErrorAs(t, err, &serr)
			require.Equal(t, src, serr.Src)
		})
	}
}

func TestBindErrors(t *testing.T) {
	tests := []struct {
		src    string
		column string
	}{
		{"No9 > 1", "No9"},
		{"No1 > 1 & Nope < 2", "Nope"},
		{"Date > 1", ""},
		{"No1 == 'x'", ""},
		{"Date == No1", ""},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			p, err := Parse(tt.src)
			require.NoError(t, err)
			err = p.Bind(kindOf)
			var berr *BindError
			require.ErrorAs(t, err, &berr)
			require.Equal(t, tt.column, berr.Column)
		})
	}
}

func TestUnboundEval(t *testing.T) {
	p, err := Parse("No1 > 1")
	require.NoError(t, err)
	_, err = p.EvalBatch(exampleBatch())
	require.Error(t, err)
}

func TestColumnsAndString(t *testing.T) {
	p, err := Parse("((No3 < -0.5) | (No3 > 0.5)) & ~(No4 == 1e3) & Date != 'x'")
	require.NoError(t, err)
	require.Equal(t, []string{"No3", "No4", "Date"}, p.Columns())
	require.Equal(t, `((((No3 < -0.5) | (No3 > 0.5)) & ~(No4 == 1000)) & (Date != "x"))`, p.String())

	again, err := Parse(p.String())
	require.NoError(t, err)
	require.Equal(t, p.String(), again.String())
}

func TestBatchMatchesRowEvaluation(t *testing.T) {
	rnd := rand.New(rand.NewPCG(1, 2))
	const n = 2000
	no1 := make([]int32, n)
	no2 := make([]int32, n)
	no3 := make([]float64, n)
	no4 := make([]float64, n)
	dates := make([]string, n)
	for i := range n {
		no1[i] = rnd.Int32N(10000)
		no2[i] = rnd.Int32N(10000)
		no3[i] = rnd.NormFloat64()
		no4[i] = rnd.NormFloat64()
		dates[i] = fmt.Sprintf("2024-01-%02d", 1+i%28)
	}
	b := &testBatch{n: n, cols: map[string]any{"Date": dates, "No1": no1, "No2": no2, "No3": no3, "No4": no4}}

	preds := []string{
		"((No3 < -0.5) | (No3 > 0.5)) & ((No4 < -1) | (No4 > 1))",
		"((No1 > 9800) | (No1 < 200)) & ((No2 > 4500) & (No2 < 5500))",
		"~(No1 < No2) | Date == '2024-01-07'",
		"No3 >= No4 & ~(No2 != 17)",
	}
	for _, src := range preds {
		p := mustBind(t, src)
		bm, err := p.EvalBatch(b)
		require.NoError(t, err)
		var want []uint32
		for i := range n {
			if p.MatchRow(b.get(i)) {
				want = append(want, uint32(i))
			}
		}
		got := bm.ToArray()
		if len(want) == 0 {
			require.Empty(t, got, src)
		} else {
			require.Equal(t, want, got, src)
		}
	}
}
