package coltab

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"testing"
)

var readingSchema = MustDefineSchema(
	Column{Name: "Date", Type: Text, Size: 26},
	Column{Name: "No1", Type: Int32},
	Column{Name: "No2", Type: Int32},
	Column{Name: "No3", Type: Float64},
	Column{Name: "No4", Type: Float64},
)

func init() {
	slog.SetLogLoggerLevel(slog.LevelDebug)
}

func TestConn_Namespace(t *testing.T) {
	eachBackend(t, func(t *testing.T, c *Conn) {
		ensure(c.CreateGroup("/detector"))
		ensure(c.CreateGroup("/detector/raw"))
		must(c.CreateTable("/detector/readout", readingSchema, TableOptions{Title: "Readout example"}))
		must(c.CreateArray("/detector/raw/adc", ElemFloat64, []int{4}, ArrayOptions{}))

		infos := must(c.List("/detector"))
		deepEqual(t, names(infos), []string{"raw", "readout"})
		deepEqual(t, infos[0].Kind, GroupNode)
		deepEqual(t, infos[1].Kind, TableNode)
		deepEqual(t, infos[1].Title, "Readout example")
		deepEqual(t, infos[1].Path, "/detector/readout")

		info := must(c.Stat("/detector/raw/adc"))
		deepEqual(t, info.Kind, ArrayNode)
		deepEqual(t, info.Name, "adc")

		deepEqual(t, must(c.Exists("/detector/raw")), true)
		deepEqual(t, must(c.Exists("/detector/cooked")), false)

		deepEqual(t, names(must(c.List("/"))), []string{"detector"})
	})
}

func TestConn_CreateErrors(t *testing.T) {
	eachBackend(t, func(t *testing.T, c *Conn) {
		ensure(c.CreateGroup("/g"))
		must(c.CreateTable("/g/t", readingSchema, TableOptions{}))

		err := c.CreateGroup("/g")
		isStorageErr(t, err, ErrExists)

		_, err = c.CreateTable("/g/t", readingSchema, TableOptions{})
		isStorageErr(t, err, ErrExists)

		err = c.CreateGroup("/missing/child")
		isStorageErr(t, err, ErrNotFound)

		_, err = c.CreateArray("/g/t/a", ElemFloat64, nil, ArrayOptions{})
		isStorageErr(t, err, ErrKind)

		for _, p := range []string{"g", "/g/_x", "/g/../t", "/g//t"} {
			if err := c.CreateGroup(p); err == nil {
				t.Errorf("CreateGroup(%q) succeeded, wanted error", p)
			}
		}

		_, err = c.OpenArray("/g/t")
		isStorageErr(t, err, ErrKind)
		_, err = c.OpenTable("/g/nope")
		isStorageErr(t, err, ErrNotFound)
	})
}

func TestConn_Remove(t *testing.T) {
	eachBackend(t, func(t *testing.T, c *Conn) {
		ensure(c.CreateGroup("/g"))
		tbl := must(c.CreateTable("/g/t", readingSchema, TableOptions{}))
		ensure(tbl.Append(NewRow("d1", 1, 2, 0.1, -0.2)))

		err := c.Remove("/g", false)
		isStorageErr(t, err, ErrNotEmpty)

		err = c.Remove("/", true)
		if err == nil {
			t.Fatalf("Remove(/) succeeded, wanted error")
		}

		ensure(c.Remove("/g", true))
		deepEqual(t, must(c.Exists("/g")), false)
		deepEqual(t, must(c.Exists("/g/t")), false)

		err = tbl.Append(NewRow("d2", 1, 2, 0.1, -0.2))
		if !errors.Is(err, ErrRemoved) {
			t.Fatalf("Append after Remove = %v, wanted ErrRemoved", err)
		}

		// the path can be reused
		ensure(c.CreateGroup("/g"))
		tbl2 := must(c.CreateTable("/g/t", readingSchema, TableOptions{}))
		deepEqual(t, tbl2.NRows(), int64(0))
	})
}

func TestConn_RemoveBusy(t *testing.T) {
	c := setupMem(t)
	tbl := must(c.CreateTable("/t", readingSchema, TableOptions{}))
	appendReadings(t, tbl, 10)
	qc := must(tbl.Where("No1 >= 0"))
	err := c.Remove("/t", false)
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("Remove with open cursor = %v, wanted ErrBusy", err)
	}
	qc.Close()
	ensure(c.Remove("/t", false))
}

func TestConn_Reopen(t *testing.T) {
	path := tempDBPath(t)

	err := WithConn(path, Options{NoSync: true}, func(c *Conn) error {
		ensure(c.CreateGroup("/runs"))
		tbl := must(c.CreateTable("/runs/r1", readingSchema, TableOptions{Title: "Run 1", ChunkRows: 4}))
		appendReadings(t, tbl, 10)
		arr := must(c.CreateArray("/runs/a", ElemInt32, []int{2}, ArrayOptions{}))
		ensure(arr.Append(must(denseOf([]int{3, 2}, 1, 2, 3, 4, 5, 6))))
		// Close flushes the staged rows of both
		return nil
	})
	ensure(err)

	err = WithConn(path, Options{NoSync: true}, func(c *Conn) error {
		tbl := must(c.OpenTable("/runs/r1"))
		deepEqual(t, tbl.NRows(), int64(10))
		deepEqual(t, tbl.Title(), "Run 1")
		deepEqual(t, tbl.ChunkRows(), 4)
		deepEqual(t, tbl.Schema().Columns(), readingSchema.Columns())
		rows := must(tbl.Read())
		deepEqual(t, rowValues(rows), readingValues(10))

		arr := must(c.OpenArray("/runs/a"))
		deepEqual(t, arr.Elem(), ElemInt32)
		deepEqual(t, arr.Shape(), []int{3, 2})
		deepEqual(t, must(arr.Read()).Data(), []float64{1, 2, 3, 4, 5, 6})
		return nil
	})
	ensure(err)
}

func TestConn_OpenReturnsSameHandle(t *testing.T) {
	c := setupMem(t)
	tbl := must(c.CreateTable("/t", readingSchema, TableOptions{}))
	if tbl2 := must(c.OpenTable("/t")); tbl2 != tbl {
		t.Fatalf("OpenTable returned a different handle")
	}
}

func TestConn_Close(t *testing.T) {
	c := must(Open("scratch", Options{InMemory: true}))
	tbl := must(c.CreateTable("/t", readingSchema, TableOptions{}))
	ensure(c.Close())
	ensure(c.Close())

	err := tbl.Append(NewRow("d1", 1, 2, 0.1, -0.2))
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("Append after Close = %v, wanted ErrClosed", err)
	}
	_, err = c.List("/")
	isStorageErr(t, err, ErrClosed)
}

func TestWithConn_ReportsErrors(t *testing.T) {
	boom := errors.New("boom")
	err := WithConn("scratch", Options{InMemory: true}, func(c *Conn) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithConn = %v, wanted boom", err)
	}
}

func tempDBPath(t testing.TB) string {
	t.Helper()
	dbFile := must(os.CreateTemp("", "coltab_test_*.db"))
	t.Logf("DB: %s", dbFile.Name())
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })
	return dbFile.Name()
}

func setup(t testing.TB) *Conn {
	t.Helper()
	c := must(Open(tempDBPath(t), Options{NoSync: true}))
	t.Cleanup(func() { c.Close() })
	return c
}

func setupMem(t testing.TB) *Conn {
	t.Helper()
	c := must(Open(t.Name(), Options{InMemory: true}))
	t.Cleanup(func() { c.Close() })
	return c
}

func eachBackend(t *testing.T, f func(t *testing.T, c *Conn)) {
	t.Run("bolt", func(t *testing.T) { f(t, setup(t)) })
	t.Run("mem", func(t *testing.T) { f(t, setupMem(t)) })
}

// readingValue returns the values of row i of a readingSchema test table.
func readingValue(i int) []any {
	return []any{
		fmt.Sprintf("2024-01-%02d", i%28+1),
		int32(i),
		int32(i * i % 7),
		float64(i) * 0.25,
		float64(i%5) - 2,
	}
}

func readingValues(n int) [][]any {
	out := make([][]any, n)
	for i := range out {
		out[i] = readingValue(i)
	}
	return out
}

func appendReadings(t testing.TB, tbl *Table, n int) {
	t.Helper()
	start := int(tbl.NRows())
	for i := start; i < start+n; i++ {
		ensure(tbl.Append(NewRow(readingValue(i)...)))
	}
}

func rowValues(rows []Row) [][]any {
	out := make([][]any, len(rows))
	for i, r := range rows {
		out[i] = r.Values()
	}
	return out
}

func names(infos []NodeInfo) []string {
	out := make([]string, len(infos))
	for i, info := range infos {
		out[i] = info.Name
	}
	return out
}

func deepEqual[T any](t testing.TB, a, e T) {
	if !reflect.DeepEqual(a, e) {
		t.Helper()
		t.Errorf("** got %v, wanted %v", a, e)
	}
}

func isStorageErr(t testing.TB, err, target error) {
	t.Helper()
	var se *StorageError
	if !errors.As(err, &se) {
		t.Errorf("** got %v (%T), wanted *StorageError", err, err)
		return
	}
	if !errors.Is(err, target) {
		t.Errorf("** got %v, wanted %v", err, target)
	}
}
