package coltab

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

type TableOptions struct {
	Title  string
	Filter Filter
	// ExpectedRows tunes the chunk size: small tables get a single chunk,
	// very large ones get bigger chunks.
	ExpectedRows int64
	// ChunkRows overrides the computed chunk size.
	ChunkRows int
}

const (
	targetChunkBytes  = 256 << 10
	maxChunkBytes     = 1 << 30
	minTableChunkRows = 64
	maxTableChunkRows = 1 << 20
)

func tableChunkRows(scm *Schema, opt TableOptions) (int, error) {
	if opt.ChunkRows < 0 {
		return 0, schemaErrf("", nil, "chunk rows must not be negative, got %d", opt.ChunkRows)
	}
	if opt.ChunkRows > 0 {
		if int64(opt.ChunkRows)*int64(scm.RowWidth()) > maxChunkBytes {
			return 0, schemaErrf("", nil, "chunk of %d rows exceeds %d bytes", opt.ChunkRows, maxChunkBytes)
		}
		return opt.ChunkRows, nil
	}
	rows := int64(targetChunkBytes / scm.RowWidth())
	if opt.ExpectedRows > 0 {
		if opt.ExpectedRows < rows {
			rows = opt.ExpectedRows
		} else if opt.ExpectedRows*int64(scm.RowWidth()) > maxChunkBytes {
			rows *= 4
		}
	}
	rows = min(max(rows, minTableChunkRows), maxTableChunkRows, maxChunkBytes/int64(scm.RowWidth()))
	if rows < 1 {
		return 0, schemaErrf("", nil, "row of %d bytes exceeds %d bytes", scm.RowWidth(), maxChunkBytes)
	}
	return int(rows), nil
}

// Table is a handle to a persisted table. Rows are appended one at a time
// and staged in memory until a chunk fills up or Flush is called.
type Table struct {
	conn      *Conn
	path      string
	bpath     []string
	schema    *Schema
	filter    Filter
	title     string
	chunkRows int
	created   time.Time

	readers atomic.Int32

	mu      sync.Mutex
	err     error
	nrows   int64
	stored  int64
	staged  []*vector
	nstaged int
}

func newTable(c *Conn, path string, bpath []string, scm *Schema, st *nodeState) *Table {
	t := &Table{
		conn:      c,
		path:      path,
		bpath:     bpath,
		schema:    scm,
		filter:    st.Filter,
		title:     st.Title,
		chunkRows: st.ChunkRows,
		created:   st.Created,
		nrows:     st.Rows,
		stored:    st.StoredBytes,
	}
	t.resetStaged()
	return t
}

func (t *Table) resetStaged() {
	t.staged = make([]*vector, len(t.schema.cols))
	for i, c := range t.schema.cols {
		t.staged[i] = newVector(c.Type, 0)
	}
	t.nstaged = 0
}

// CreateTable creates an empty table. The parent group must exist.
func (c *Conn) CreateTable(path string, scm *Schema, opt TableOptions) (*Table, error) {
	const op = "create table"
	if err := c.check(op, path); err != nil {
		return nil, err
	}
	return c.createTable(op, path, scm, opt, nil)
}

func (c *Conn) createTable(op, path string, scm *Schema, opt TableOptions, cols []*vector) (*Table, error) {
	if scm == nil {
		return nil, schemaErrf("", nil, "nil schema")
	}
	if err := opt.Filter.validate(); err != nil {
		return nil, err
	}
	chunkRows, err := tableChunkRows(scm, opt)
	if err != nil {
		return nil, err
	}
	path, bpath, err := splitPath(path)
	if err != nil {
		return nil, storageErr(path, op, err)
	}

	st := &nodeState{
		Kind:      TableNode,
		Title:     opt.Title,
		Created:   time.Now(),
		Columns:   scm.Columns(),
		Filter:    opt.Filter,
		ChunkRows: chunkRows,
	}
	err = c.update(func(tx *dbTx) error {
		b, err := tx.createNode(path, bpath, st)
		if err != nil {
			return err
		}
		if len(cols) == 0 || cols[0].Len() == 0 {
			return nil
		}
		chunks, err := chunksOf(b)
		if err != nil {
			return err
		}
		stored, err := writeTableRows(chunks, scm, st.Filter, chunkRows, 0, cols)
		if err != nil {
			return err
		}
		st.Rows = int64(cols[0].Len())
		st.StoredBytes = stored
		return tx.saveNode(b, st)
	})
	if err != nil {
		return nil, storageErr(path, op, err)
	}

	t := newTable(c, path, bpath, scm, st)
	if _, err := c.register(t); err != nil {
		return nil, storageErr(path, op, err)
	}
	c.logger.Info("coltab: created table", "path", path, "rows", st.Rows, "chunk_rows", chunkRows, "filter", st.Filter)
	return t, nil
}

// OpenTable returns the handle of an existing table. Opening the same path
// twice returns the same handle.
func (c *Conn) OpenTable(path string) (*Table, error) {
	const op = "open table"
	if err := c.check(op, path); err != nil {
		return nil, err
	}
	path, bpath, err := splitPath(path)
	if err != nil {
		return nil, storageErr(path, op, err)
	}
	if h := c.lookupHandle(path); h != nil {
		t, ok := h.(*Table)
		if !ok {
			return nil, storageErr(path, op, fmt.Errorf("%w: not a table", ErrKind))
		}
		return t, nil
	}

	var st *nodeState
	err = c.view(func(tx *dbTx) error {
		_, st, err = tx.loadNodeOfKind(path, bpath, TableNode)
		return err
	})
	if err != nil {
		return nil, storageErr(path, op, err)
	}
	scm, err := DefineSchema(st.Columns)
	if err != nil {
		return nil, storageErr(path, op, err)
	}
	h, err := c.register(newTable(c, path, bpath, scm, st))
	if err != nil {
		return nil, storageErr(path, op, err)
	}
	t, ok := h.(*Table)
	if !ok {
		return nil, storageErr(path, op, fmt.Errorf("%w: not a table", ErrKind))
	}
	return t, nil
}

func (t *Table) Path() string { return t.path }
func (t *Table) Schema() *Schema { return t.schema }
func (t *Table) Filter() Filter { return t.filter }
func (t *Table) Title() string { return t.title }
func (t *Table) ChunkRows() int { return t.chunkRows }
func (t *Table) Created() time.Time { return t.created }

// NRows counts persisted and staged rows.
func (t *Table) NRows() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.nrows + int64(t.nstaged)
}

// SizeOnDisk is the number of stored (possibly compressed) chunk bytes.
func (t *Table) SizeOnDisk() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stored
}

// NBytes is the uncompressed size of all rows.
func (t *Table) NBytes() int64 {
	return t.NRows() * int64(t.schema.RowWidth())
}

func (t *Table) String() string {
	return fmt.Sprintf("%s %v (%d rows, filter %v)", t.path, t.schema, t.NRows(), t.filter)
}

func (t *Table) usable(op string) error {
	if t.err != nil {
		return &StorageError{t.path, op, t.err}
	}
	return t.conn.check(op, t.path)
}

func (t *Table) rows() int64 {
	return t.NRows()
}

func (t *Table) busy() bool {
	return t.readers.Load() > 0
}

func (t *Table) lockForWrite(op string) error {
	t.mu.Lock()
	if err := t.usable(op); err != nil {
		t.mu.Unlock()
		return err
	}
	if t.busy() {
		t.mu.Unlock()
		return writeErrf(t.path, -1, ErrBusy, "cannot %s while a query is open", op)
	}
	return nil
}

// Append validates row against the schema and stages it. Staged rows are
// written out whenever they complete a chunk.
func (t *Table) Append(row Row) error {
	vals, normErr := normalizeRow(t.schema, row)
	if err := t.lockForWrite("append"); err != nil {
		return err
	}
	defer t.mu.Unlock()
	if normErr != nil {
		return writeErrf(t.path, t.nrows+int64(t.nstaged), normErr, "")
	}
	for i, v := range vals {
		t.staged[i].push(v)
	}
	t.nstaged++
	if (t.nrows+int64(t.nstaged))%int64(t.chunkRows) == 0 {
		if err := t.flushLocked(); err != nil {
			t.unstage(t.nstaged - 1)
			return err
		}
	}
	return nil
}

// unstage drops staged rows past the first n.
func (t *Table) unstage(n int) {
	for _, v := range t.staged {
		v.truncate(n)
	}
	t.nstaged = n
}

// Flush writes the staged rows in one transaction. Without staged rows it
// does nothing.
func (t *Table) Flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.usable("flush"); err != nil {
		return err
	}
	return t.flushLocked()
}

func (t *Table) flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return nil
	}
	return t.flushLocked()
}

func (t *Table) invalidate(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.err = err
	t.resetStaged()
}

func (t *Table) flushLocked() error {
	if t.nstaged == 0 {
		return nil
	}
	start := time.Now()
	var st *nodeState
	err := t.conn.update(func(tx *dbTx) error {
		var b storageBucket
		var err error
		b, st, err = tx.loadNodeOfKind(t.path, t.bpath, TableNode)
		if err != nil {
			return err
		}
		if st.Rows != t.nrows {
			return dataErrf(nil, 0, nil, "%s holds %d rows, handle expected %d", t.path, st.Rows, t.nrows)
		}
		chunks, err := chunksOf(b)
		if err != nil {
			return err
		}
		delta, err := writeTableRows(chunks, t.schema, t.filter, t.chunkRows, t.nrows, t.staged)
		if err != nil {
			return err
		}
		st.Rows += int64(t.nstaged)
		st.StoredBytes += delta
		return tx.saveNode(b, st)
	})
	if err != nil {
		return storageErr(t.path, "flush", err)
	}
	t.conn.logger.Debug("coltab: flushed", "path", t.path, "rows", t.nstaged, "total", st.Rows, "ms", time.Since(start).Milliseconds())
	t.nrows = st.Rows
	t.stored = st.StoredBytes
	t.resetStaged()
	return nil
}

// writeTableRows stores cols as rows [start, start+n) and returns the change
// in stored bytes. A partially filled last chunk is extended in place.
func writeTableRows(chunks storageBucket, scm *Schema, f Filter, chunkRows int, start int64, cols []*vector) (int64, error) {
	n := cols[0].Len()
	var delta int64
	for done := 0; done < n; {
		row := start + int64(done)
		chunk := row / int64(chunkRows)
		off := int(row % int64(chunkRows))
		take := min(chunkRows-off, n-done)
		for ci, c := range scm.cols {
			key := tableChunkKey(chunk, c.Pos)
			raw := encodeVector(c, cols[ci].slice(done, done+take))
			if off > 0 {
				old := chunks.Get(key)
				if old == nil {
					return 0, dataErrf(key, 0, nil, "missing chunk %d of column %s", chunk, c.Name)
				}
				prev, err := decodeBlock(old)
				if err != nil {
					return 0, err
				}
				if len(prev) != off*c.Width() {
					return 0, dataErrf(old, 0, nil, "chunk %d of column %s holds %d bytes, wanted %d", chunk, c.Name, len(prev), off*c.Width())
				}
				raw = append(prev, raw...)
				delta -= int64(len(old))
			}
			block, err := encodeBlock(f, raw, shuffleWidth(c))
			if err != nil {
				return 0, err
			}
			if err := chunks.Put(key, block); err != nil {
				return 0, err
			}
			delta += int64(len(block))
		}
		done += take
	}
	return delta, nil
}

func shuffleWidth(c Column) int {
	if c.Type == Text {
		return 1
	}
	return c.Width()
}

// readTableChunk loads the given columns (schema indexes) of one chunk.
func readTableChunk(chunks storageBucket, scm *Schema, chunk int64, colIdx []int) ([]*vector, error) {
	vecs := make([]*vector, len(colIdx))
	for i, ci := range colIdx {
		c := scm.cols[ci]
		block := chunks.Get(tableChunkKey(chunk, c.Pos))
		if block == nil {
			return nil, dataErrf(nil, 0, nil, "missing chunk %d of column %s", chunk, c.Name)
		}
		raw, err := decodeBlock(block)
		if err != nil {
			return nil, err
		}
		vecs[i], err = decodeVector(c, raw)
		if err != nil {
			return nil, err
		}
	}
	return vecs, nil
}

// prepareRead flushes staged rows and returns the row count readers may see.
func (t *Table) prepareRead(op string) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.usable(op); err != nil {
		return 0, err
	}
	if err := t.flushLocked(); err != nil {
		return 0, err
	}
	return t.nrows, nil
}

// readColumns returns rows [start, stop) of the given columns.
func (t *Table) readColumns(op string, colIdx []int, start, stop int64) ([]*vector, error) {
	nrows, err := t.prepareRead(op)
	if err != nil {
		return nil, err
	}
	if stop < 0 {
		stop = nrows
	}
	if start < 0 || start > stop || stop > nrows {
		return nil, queryErrf(t.path, "", nil, "range [%d, %d) is outside of %d rows", start, stop, nrows)
	}
	result := make([]*vector, len(colIdx))
	for i, ci := range colIdx {
		result[i] = newVector(t.schema.cols[ci].Type, int(stop-start))
	}
	if start == stop || len(colIdx) == 0 {
		return result, nil
	}

	cr := int64(t.chunkRows)
	err = t.conn.view(func(tx *dbTx) error {
		b, _, err := tx.loadNodeOfKind(t.path, t.bpath, TableNode)
		if err != nil {
			return err
		}
		chunks, err := chunksOf(b)
		if err != nil {
			return err
		}
		for chunk := start / cr; chunk*cr < stop; chunk++ {
			vecs, err := readTableChunk(chunks, t.schema, chunk, colIdx)
			if err != nil {
				return err
			}
			base := chunk * cr
			lo := int(max(start-base, 0))
			hi := int(min(stop-base, int64(vecs[0].Len())))
			if hi < lo {
				return dataErrf(nil, 0, nil, "chunk %d is short: %d rows", chunk, vecs[0].Len())
			}
			for i, v := range vecs {
				result[i].pushVector(v.slice(lo, hi))
			}
		}
		return nil
	})
	if err != nil {
		return nil, storageErr(t.path, op, err)
	}
	if n := result[0].Len(); int64(n) != stop-start {
		return nil, storageErr(t.path, op, dataErrf(nil, 0, nil, "read %d rows, wanted %d", n, stop-start))
	}
	return result, nil
}

func (t *Table) allColumns() []int {
	idx := make([]int, len(t.schema.cols))
	for i := range idx {
		idx[i] = i
	}
	return idx
}

// Read returns every row in append order.
func (t *Table) Read() ([]Row, error) {
	return t.ReadRange(0, -1)
}

// ReadRange returns rows [start, stop); stop < 0 means up to the end.
func (t *Table) ReadRange(start, stop int64) ([]Row, error) {
	vecs, err := t.readColumns("read", t.allColumns(), start, stop)
	if err != nil {
		return nil, err
	}
	return t.rowsOf(vecs, nil), nil
}

// rowsOf turns column vectors into bound rows; cols lists schema indexes of
// a projection, nil meaning all columns.
func (t *Table) rowsOf(vecs []*vector, cols []int) []Row {
	if len(vecs) == 0 {
		return nil
	}
	n := vecs[0].Len()
	rows := make([]Row, n)
	for r := range rows {
		vals := make([]any, len(vecs))
		for i, v := range vecs {
			vals[i] = v.at(r)
		}
		rows[r] = Row{schema: t.schema, vals: vals, cols: cols}
	}
	return rows
}

// ReadColumn returns all values of one column. T must match the column type:
// int32, float64 or string.
func ReadColumn[T int32 | float64 | string](t *Table, name string) ([]T, error) {
	ci := t.schema.ColumnIndex(name)
	if ci < 0 {
		return nil, queryErrf(t.path, "", nil, "no column %s", name)
	}
	typ := t.schema.cols[ci].Type
	if _, ok := newVector(typ, 0).values().([]T); !ok {
		var zero T
		return nil, queryErrf(t.path, "", nil, "column %s is %v, cannot read it as %T", name, typ, zero)
	}
	vecs, err := t.readColumns("read column", []int{ci}, 0, -1)
	if err != nil {
		return nil, err
	}
	return slices.Clip(vecs[0].values().([]T)), nil
}
