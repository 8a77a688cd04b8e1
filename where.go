package coltab

import (
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/andreyvit/coltab/predicate"
)

// compile parses and binds a predicate against the table schema.
func (t *Table) compile(src string) (*predicate.Predicate, error) {
	p, err := predicate.Parse(src)
	if err != nil {
		return nil, queryErrf(t.path, src, err, "")
	}
	if err := p.Bind(t.schema.predicateKind); err != nil {
		return nil, queryErrf(t.path, src, err, "")
	}
	return p, nil
}

// projection resolves field names to schema indexes; no fields means all.
func (t *Table) projection(src string, fields []string) ([]int, error) {
	if len(fields) == 0 {
		return nil, nil
	}
	cols := make([]int, len(fields))
	for i, name := range fields {
		ci := t.schema.ColumnIndex(name)
		if ci < 0 {
			return nil, queryErrf(t.path, src, nil, "no column %s to fetch", name)
		}
		cols[i] = ci
	}
	return cols, nil
}

// Where starts a lazy query returning the rows that satisfy pred, in table
// order. With fields given, rows hold only those columns. The table rejects
// writes until the cursor is closed or exhausted.
func (t *Table) Where(pred string, fields ...string) (*QueryCursor, error) {
	p, err := t.compile(pred)
	if err != nil {
		return nil, err
	}
	proj, err := t.projection(pred, fields)
	if err != nil {
		return nil, err
	}
	nrows, err := t.prepareRead("where")
	if err != nil {
		return nil, err
	}

	fetch := proj
	if fetch == nil {
		fetch = t.allColumns()
	}

	t.readers.Add(1)
	return &QueryCursor{
		table: t,
		pred:  p,
		nrows: nrows,
		fetch: fetch,
		proj:  proj,
		chunk: -1,
	}, nil
}

// QueryCursor walks a table one chunk at a time. Each chunk is read in its
// own short transaction: first the predicate columns, then, if anything
// matched, the fetched columns.
type QueryCursor struct {
	table *Table
	pred  *predicate.Predicate
	nrows int64
	fetch []int
	proj  []int

	chunk   int64
	base    int64
	vecs    []*vector
	matches []uint32
	pos     int

	row    Row
	index  int64
	err    error
	closed bool

	// ChunksRead counts chunks whose predicate columns were loaded, and
	// ChunksFetched those that had matches.
	ChunksRead    int
	ChunksFetched int
}

func (qc *QueryCursor) Next() bool {
	if qc.closed {
		return false
	}
	for qc.pos >= len(qc.matches) {
		if !qc.loadNextChunk() {
			qc.Close()
			return false
		}
	}
	off := qc.matches[qc.pos]
	qc.pos++
	vals := make([]any, len(qc.vecs))
	for i, v := range qc.vecs {
		vals[i] = v.at(int(off))
	}
	qc.index = qc.base + int64(off)
	qc.row = Row{schema: qc.table.schema, vals: vals, cols: qc.proj}
	return true
}

func (qc *QueryCursor) loadNextChunk() bool {
	t := qc.table
	cr := int64(t.chunkRows)
	qc.matches, qc.pos, qc.vecs = nil, 0, nil
	qc.chunk++
	qc.base = qc.chunk * cr
	if qc.base >= qc.nrows {
		return false
	}
	if t.conn.closed.Load() {
		qc.err = &StorageError{t.path, "where", ErrClosed}
		return false
	}

	err := t.conn.view(func(tx *dbTx) error {
		b, _, err := tx.loadNodeOfKind(t.path, t.bpath, TableNode)
		if err != nil {
			return err
		}
		chunks, err := chunksOf(b)
		if err != nil {
			return err
		}
		n := int(min(cr, qc.nrows-qc.base))
		batch := &chunkBatch{chunks: chunks, scm: t.schema, chunk: qc.chunk, n: n}
		bm, err := qc.pred.EvalBatch(batch)
		if err != nil {
			return err
		}
		qc.ChunksRead++
		if bm.IsEmpty() {
			return nil
		}
		qc.ChunksFetched++
		qc.vecs, err = batch.load(qc.fetch)
		if err != nil {
			return err
		}
		qc.matches = bm.ToArray()
		return nil
	})
	if err != nil {
		qc.err = storageErr(t.path, "where", err)
		return false
	}
	return true
}

// Row returns the current row.
func (qc *QueryCursor) Row() Row { return qc.row }

// Index returns the table coordinate of the current row.
func (qc *QueryCursor) Index() int64 { return qc.index }

func (qc *QueryCursor) Err() error { return qc.err }

// Close releases the table for writing. It is safe to call more than once.
func (qc *QueryCursor) Close() {
	if qc.closed {
		return
	}
	qc.closed = true
	qc.vecs, qc.matches = nil, nil
	qc.table.readers.Add(-1)
}

// Collect drains the cursor.
func (qc *QueryCursor) Collect() ([]Row, error) {
	defer qc.Close()
	var rows []Row
	for qc.Next() {
		rows = append(rows, qc.Row())
	}
	return rows, qc.Err()
}

// chunkBatch serves one chunk's columns to the predicate evaluator, decoding
// each column at most once.
type chunkBatch struct {
	chunks storageBucket
	scm    *Schema
	chunk  int64
	n      int
	cache  map[int]*vector
}

func (b *chunkBatch) Len() int { return b.n }

func (b *chunkBatch) Column(name string) (any, error) {
	ci := b.scm.ColumnIndex(name)
	if ci < 0 {
		return nil, fmt.Errorf("no column %s", name)
	}
	vecs, err := b.load([]int{ci})
	if err != nil {
		return nil, err
	}
	return vecs[0].values(), nil
}

func (b *chunkBatch) load(colIdx []int) ([]*vector, error) {
	if b.cache == nil {
		b.cache = make(map[int]*vector)
	}
	result := make([]*vector, len(colIdx))
	var missing []int
	for i, ci := range colIdx {
		if v := b.cache[ci]; v != nil {
			result[i] = v
		} else {
			missing = append(missing, ci)
		}
	}
	if len(missing) > 0 {
		vecs, err := readTableChunk(b.chunks, b.scm, b.chunk, missing)
		if err != nil {
			return nil, err
		}
		for i, ci := range missing {
			if vecs[i].Len() < b.n {
				return nil, dataErrf(nil, 0, nil, "chunk %d of column %s holds %d rows, wanted %d", b.chunk, b.scm.cols[ci].Name, vecs[i].Len(), b.n)
			}
			b.cache[ci] = vecs[i].slice(0, b.n)
		}
		for i, ci := range colIdx {
			result[i] = b.cache[ci]
		}
	}
	return result, nil
}

// ReadWhere returns all rows satisfying pred.
func (t *Table) ReadWhere(pred string, fields ...string) ([]Row, error) {
	qc, err := t.Where(pred, fields...)
	if err != nil {
		return nil, err
	}
	return qc.Collect()
}

// WhereList returns the coordinates of the rows satisfying pred.
func (t *Table) WhereList(pred string) ([]int64, error) {
	bm, err := t.matchSet(pred)
	if err != nil {
		return nil, err
	}
	coords := make([]int64, 0, bm.GetCardinality())
	it := bm.Iterator()
	for it.HasNext() {
		coords = append(coords, int64(it.Next()))
	}
	return coords, nil
}

// Count returns the number of rows satisfying pred.
func (t *Table) Count(pred string) (int64, error) {
	bm, err := t.matchSet(pred)
	if err != nil {
		return 0, err
	}
	return int64(bm.GetCardinality()), nil
}

// matchSet evaluates pred over the whole table into one bitmap of row
// coordinates. Tables beyond 2^32 rows need Where instead.
func (t *Table) matchSet(pred string) (*roaring.Bitmap, error) {
	p, err := t.compile(pred)
	if err != nil {
		return nil, err
	}
	nrows, err := t.prepareRead("where")
	if err != nil {
		return nil, err
	}
	if nrows > 1<<32 {
		return nil, queryErrf(t.path, pred, nil, "%d rows do not fit a match set", nrows)
	}
	cr := int64(t.chunkRows)
	all := roaring.New()
	for chunk := int64(0); chunk*cr < nrows; chunk++ {
		if err := t.conn.check("where", t.path); err != nil {
			return nil, err
		}
		err := t.conn.view(func(tx *dbTx) error {
			b, _, err := tx.loadNodeOfKind(t.path, t.bpath, TableNode)
			if err != nil {
				return err
			}
			chunks, err := chunksOf(b)
			if err != nil {
				return err
			}
			n := int(min(cr, nrows-chunk*cr))
			bm, err := p.EvalBatch(&chunkBatch{chunks: chunks, scm: t.schema, chunk: chunk, n: n})
			if err != nil {
				return err
			}
			base := uint64(chunk * cr)
			for it := bm.Iterator(); it.HasNext(); {
				all.Add(uint32(base + uint64(it.Next())))
			}
			return nil
		})
		if err != nil {
			return nil, storageErr(t.path, "where", err)
		}
	}
	return all, nil
}
