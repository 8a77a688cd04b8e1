package main

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	"github.com/andreyvit/coltab"
	"github.com/andreyvit/coltab/vexpr"
)

const (
	floatQuery = "((No3 < -0.5) | (No3 > 0.5)) & ((No4 < -1) | (No4 > 1))"
	intQuery   = "((No1 > 9800) | (No1 < 200)) & ((No2 > 4500) & (No2 < 5500))"

	// dateLayout renders 26 characters, the width of the Date column.
	dateLayout = "2006-01-02 15:04:05.000000"
)

var readingSchema = coltab.MustDefineSchema(
	coltab.Column{Name: "Date", Type: coltab.Text, Size: 26, Pos: 1},
	coltab.Column{Name: "No1", Type: coltab.Int32, Pos: 2},
	coltab.Column{Name: "No2", Type: coltab.Int32, Pos: 3},
	coltab.Column{Name: "No3", Type: coltab.Float64, Pos: 4},
	coltab.Column{Name: "No4", Type: coltab.Float64, Pos: 5},
)

type bench struct {
	cfg *Config
	log *slog.Logger
	dir string
	rng *rand.Rand
}

func run(cfg *Config, logger *slog.Logger) error {
	b := &bench{
		cfg: cfg,
		log: logger,
		dir: cfg.Dir,
		rng: rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
	}
	if !cfg.InMemory && b.dir == "" {
		dir, err := os.MkdirTemp("", "coltabbench")
		if err != nil {
			return err
		}
		defer os.RemoveAll(dir)
		b.dir = dir
	}
	if err := b.runTables(); err != nil {
		return err
	}
	return b.runArrays()
}

func (b *bench) open(name string) (*coltab.Conn, error) {
	opt := coltab.Options{
		InMemory: b.cfg.InMemory,
		NoSync:   b.cfg.NoSync,
		Logger:   b.log,
	}
	path := name
	if !b.cfg.InMemory {
		path = filepath.Join(b.dir, name+".db")
	}
	return coltab.Open(path, opt)
}

// phase times f and logs its elapsed time together with the attributes it
// returns.
func (b *bench) phase(name string, f func() ([]any, error)) error {
	start := time.Now()
	attrs, err := f()
	elapsed := time.Since(start)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	b.log.Info(name, append([]any{"elapsed", elapsed}, attrs...)...)
	return nil
}

type readings struct {
	ints   [][2]int32
	floats [][2]float64
}

func (b *bench) randomReadings(n int) *readings {
	r := &readings{
		ints:   make([][2]int32, n),
		floats: make([][2]float64, n),
	}
	for i := range n {
		r.ints[i] = [2]int32{b.rng.Int32N(10000), b.rng.Int32N(10000)}
		r.floats[i] = [2]float64{round4(b.rng.NormFloat64()), round4(b.rng.NormFloat64())}
	}
	return r
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}

func (r *readings) columns() map[string]any {
	n := len(r.ints)
	dates := make([]string, n)
	no1 := make([]int32, n)
	no2 := make([]int32, n)
	no3 := make([]float64, n)
	no4 := make([]float64, n)
	for i := range n {
		dates[i] = time.Now().Format(dateLayout)
		no1[i], no2[i] = r.ints[i][0], r.ints[i][1]
		no3[i], no4[i] = r.floats[i][0], r.floats[i][1]
	}
	return map[string]any{"Date": dates, "No1": no1, "No2": no2, "No3": no3, "No4": no4}
}

func (b *bench) runTables() error {
	rows := b.cfg.Table.Rows
	c, err := b.open("pytab")
	if err != nil {
		return err
	}
	defer c.Close()

	tab, err := c.CreateTable("/ints_floats", readingSchema, coltab.TableOptions{
		Title:        "Integers and Floats",
		ExpectedRows: int64(rows),
	})
	if err != nil {
		return err
	}
	data := b.randomReadings(rows)

	err = b.phase("row append write", func() ([]any, error) {
		for i := range rows {
			row := coltab.NewRow(time.Now().Format(dateLayout), data.ints[i][0], data.ints[i][1], data.floats[i][0], data.floats[i][1])
			if err := tab.Append(row); err != nil {
				return nil, err
			}
		}
		return []any{"rows", rows}, tab.Flush()
	})
	if err != nil {
		return err
	}

	var arrays map[string]any
	err = b.phase("structured fill", func() ([]any, error) {
		arrays = data.columns()
		return nil, nil
	})
	if err != nil {
		return err
	}

	err = b.phase("bulk create and remove", func() ([]any, error) {
		const path = "/ints_floats_from_array"
		_, err := c.CreateTableFromArrays(path, readingSchema, arrays, coltab.TableOptions{Title: "Integers and Floats"})
		if err != nil {
			return nil, err
		}
		return nil, c.Remove(path, false)
	})
	if err != nil {
		return err
	}

	if err := b.phase("query floats", queryPhase(tab, floatQuery, "No3", "No4")); err != nil {
		return err
	}

	err = b.phase("column stats", func() ([]any, error) {
		values, err := coltab.ReadColumn[float64](tab, "No3")
		if err != nil {
			return nil, err
		}
		st := describe(values)
		return []any{"column", "No3", "max", st.Max, "mean", st.Mean, "min", st.Min, "std", st.Std}, nil
	})
	if err != nil {
		return err
	}

	if err := b.phase("query ints", queryPhase(tab, intQuery, "No1", "No2")); err != nil {
		return err
	}

	filter, err := b.cfg.filter()
	if err != nil {
		return err
	}
	cc, err := b.open("pytabc")
	if err != nil {
		return err
	}
	defer cc.Close()
	tabc, err := cc.CreateTableFromArrays("/ints_floats", readingSchema, arrays, coltab.TableOptions{
		Title:  "Integers and Floats",
		Filter: filter,
	})
	if err != nil {
		return err
	}
	if err := b.phase("query floats (compressed)", queryPhase(tabc, floatQuery, "No3", "No4")); err != nil {
		return err
	}

	if err := b.phase("read table", readPhase(c, tab)); err != nil {
		return err
	}
	if err := b.phase("read table (compressed)", readPhase(cc, tabc)); err != nil {
		return err
	}
	if err := cc.Close(); err != nil {
		return err
	}

	if err := b.storeRandomArrays(c, data); err != nil {
		return err
	}
	return c.Close()
}

func queryPhase(tab *coltab.Table, pred string, fields ...string) func() ([]any, error) {
	return func() ([]any, error) {
		qc, err := tab.Where(pred, fields...)
		if err != nil {
			return nil, err
		}
		defer qc.Close()
		var res [][2]any
		for qc.Next() {
			r := qc.Row()
			res = append(res, [2]any{r.At(0), r.At(1)})
		}
		if err := qc.Err(); err != nil {
			return nil, err
		}
		return []any{"table", tab.Path(), "matches", len(res), "chunks_read", qc.ChunksRead, "chunks_fetched", qc.ChunksFetched}, nil
	}
}

func readPhase(c *coltab.Conn, tab *coltab.Table) func() ([]any, error) {
	return func() ([]any, error) {
		rows, err := tab.Read()
		if err != nil {
			return nil, err
		}
		st, err := c.Stats(tab.Path())
		if err != nil {
			return nil, err
		}
		return []any{
			"rows", len(rows),
			"filter", tab.Filter(),
			"size_on_disk", tab.SizeOnDisk(),
			"nbytes", tab.NBytes(),
			"ratio", st.CompressionRatio(),
			"file_size", c.Size(),
		}, nil
	}
}

// storeRandomArrays keeps the random source data next to the table.
func (b *bench) storeRandomArrays(c *coltab.Conn, data *readings) error {
	n := len(data.ints)
	ints := vexpr.Zeros(n, 2)
	floats := vexpr.Zeros(n, 2)
	for i := range n {
		ints.Set(float64(data.ints[i][0]), i, 0)
		ints.Set(float64(data.ints[i][1]), i, 1)
		floats.Set(data.floats[i][0], i, 0)
		floats.Set(data.floats[i][1], i, 1)
	}
	for _, a := range []struct {
		path string
		elem coltab.ElemType
		data *vexpr.Dense
	}{
		{"/integers", coltab.ElemInt32, ints},
		{"/floats", coltab.ElemFloat64, floats},
	} {
		arr, err := c.CreateArray(a.path, a.elem, []int{2}, coltab.ArrayOptions{})
		if err != nil {
			return err
		}
		if err := arr.Append(a.data); err != nil {
			return err
		}
		if err := arr.Flush(); err != nil {
			return err
		}
	}
	return nil
}

func (b *bench) runArrays() error {
	c, err := b.open("earray")
	if err != nil {
		return err
	}
	defer c.Close()

	shape := b.cfg.Array.BlockShape
	rowShape := shape[1:]
	ear, err := c.CreateArray("/ear", coltab.ElemFloat64, rowShape, coltab.ArrayOptions{})
	if err != nil {
		return err
	}
	block := vexpr.Zeros(shape...)
	for i := range block.Data() {
		block.Data()[i] = b.rng.NormFloat64()
	}

	err = b.phase("array append", func() ([]any, error) {
		for range b.cfg.Array.Appends {
			if err := ear.Append(block); err != nil {
				return nil, err
			}
		}
		if err := ear.Flush(); err != nil {
			return nil, err
		}
		return []any{"shape", ear.Shape(), "size_on_disk", ear.SizeOnDisk()}, nil
	})
	if err != nil {
		return err
	}

	out, err := c.CreateArray("/out", coltab.ElemFloat64, rowShape, coltab.ArrayOptions{})
	if err != nil {
		return err
	}
	b.log.Info("output array created", "size_on_disk", out.SizeOnDisk())

	expr, err := vexpr.Parse(b.cfg.Array.Expr)
	if err != nil {
		return err
	}
	inputs := make(map[string]coltab.ExprInput)
	for _, name := range expr.Vars() {
		inputs[name] = ear
	}
	be, err := coltab.Bind(b.cfg.Array.Expr, inputs, out, coltab.AppendMode)
	if err != nil {
		return err
	}
	err = b.phase("chunked eval", func() ([]any, error) {
		if err := be.Eval(); err != nil {
			return nil, err
		}
		return []any{"expr", expr.Source(), "size_on_disk", out.SizeOnDisk()}, nil
	})
	if err != nil {
		return err
	}

	var loaded *vexpr.Dense
	err = b.phase("read output array", func() ([]any, error) {
		loaded, err = out.Read()
		if err != nil {
			return nil, err
		}
		return []any{"shape", loaded.Shape()}, nil
	})
	if err != nil {
		return err
	}

	vars := make(map[string]*vexpr.Dense)
	for _, name := range expr.Vars() {
		vars[name] = loaded
	}
	for _, threads := range b.cfg.Array.Threads {
		ev := vexpr.NewEvaluator(threads)
		err = b.phase("in-memory eval", func() ([]any, error) {
			res, err := ev.Evaluate(expr, vars)
			if err != nil {
				return nil, err
			}
			head := res.Data()[:min(10, res.Len())]
			return []any{"threads", ev.Threads(), "head", head}, nil
		})
		if err != nil {
			return err
		}
	}
	return c.Close()
}
