package coltab

import (
	"encoding/binary"
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/andreyvit/coltab/vexpr"
)

// ElemType is the stored element type of a GrowableArray. Values are always
// exchanged as float64.
type ElemType uint8

const (
	ElemFloat64 ElemType = iota + 1
	ElemInt32
)

func (e ElemType) String() string {
	switch e {
	case ElemFloat64:
		return "float64"
	case ElemInt32:
		return "int32"
	default:
		return fmt.Sprintf("ElemType(%d)", uint8(e))
	}
}

func (e ElemType) Width() int {
	if e == ElemInt32 {
		return 4
	}
	return 8
}

func (e ElemType) valid() bool {
	return e == ElemFloat64 || e == ElemInt32
}

type ArrayOptions struct {
	Title  string
	Filter Filter
	// ChunkRows overrides the number of leading-dimension rows per chunk.
	ChunkRows int
}

const maxArrayChunkRows = 1 << 20

func arrayChunkRows(rowBytes int, opt ArrayOptions) (int, error) {
	if opt.ChunkRows < 0 {
		return 0, schemaErrf("", nil, "chunk rows must not be negative, got %d", opt.ChunkRows)
	}
	if opt.ChunkRows > 0 {
		if int64(opt.ChunkRows)*int64(rowBytes) > maxChunkBytes {
			return 0, schemaErrf("", nil, "chunk of %d rows exceeds %d bytes", opt.ChunkRows, maxChunkBytes)
		}
		return opt.ChunkRows, nil
	}
	if rowBytes > maxChunkBytes {
		return 0, schemaErrf("", nil, "row of %d bytes exceeds %d bytes", rowBytes, maxChunkBytes)
	}
	return min(max(targetChunkBytes/rowBytes, 1), maxArrayChunkRows), nil
}

// GrowableArray is an N-dimensional array whose leading dimension grows as
// chunks of rows are appended.
type GrowableArray struct {
	conn      *Conn
	path      string
	bpath     []string
	elem      ElemType
	rowShape  []int
	rowLen    int
	filter    Filter
	title     string
	chunkRows int

	mu      sync.Mutex
	err     error
	nrows   int64
	stored  int64
	staged  []float64
	nstaged int
}

func newArray(c *Conn, path string, bpath []string, st *nodeState) *GrowableArray {
	rowLen := 1
	for _, d := range st.RowShape {
		rowLen *= d
	}
	return &GrowableArray{
		conn:      c,
		path:      path,
		bpath:     bpath,
		elem:      st.Elem,
		rowShape:  slices.Clone(st.RowShape),
		rowLen:    rowLen,
		filter:    st.Filter,
		title:     st.Title,
		chunkRows: st.ChunkRows,
		nrows:     st.Rows,
		stored:    st.StoredBytes,
	}
}

// CreateArray creates an empty array with rows of the given shape. An empty
// rowShape makes a one-dimensional array.
func (c *Conn) CreateArray(path string, elem ElemType, rowShape []int, opt ArrayOptions) (*GrowableArray, error) {
	const op = "create array"
	if err := c.check(op, path); err != nil {
		return nil, err
	}
	if !elem.valid() {
		return nil, schemaErrf("", nil, "unknown element type %v", elem)
	}
	rowLen := 1
	for _, d := range rowShape {
		if d <= 0 {
			return nil, schemaErrf("", nil, "row shape %v: dimensions must be positive", rowShape)
		}
		if rowLen > maxChunkBytes/d {
			return nil, schemaErrf("", nil, "row shape %v is too large", rowShape)
		}
		rowLen *= d
	}
	if err := opt.Filter.validate(); err != nil {
		return nil, err
	}
	chunkRows, err := arrayChunkRows(rowLen*elem.Width(), opt)
	if err != nil {
		return nil, err
	}
	path, bpath, err := splitPath(path)
	if err != nil {
		return nil, storageErr(path, op, err)
	}

	st := &nodeState{
		Kind:      ArrayNode,
		Title:     opt.Title,
		Created:   time.Now(),
		Elem:      elem,
		RowShape:  slices.Clone(rowShape),
		Filter:    opt.Filter,
		ChunkRows: chunkRows,
	}
	err = c.update(func(tx *dbTx) error {
		_, err := tx.createNode(path, bpath, st)
		return err
	})
	if err != nil {
		return nil, storageErr(path, op, err)
	}
	a := newArray(c, path, bpath, st)
	if _, err := c.register(a); err != nil {
		return nil, storageErr(path, op, err)
	}
	c.logger.Info("coltab: created array", "path", path, "elem", elem, "row_shape", rowShape, "chunk_rows", chunkRows, "filter", st.Filter)
	return a, nil
}

// OpenArray returns the handle of an existing array. Opening the same path
// twice returns the same handle.
func (c *Conn) OpenArray(path string) (*GrowableArray, error) {
	const op = "open array"
	if err := c.check(op, path); err != nil {
		return nil, err
	}
	path, bpath, err := splitPath(path)
	if err != nil {
		return nil, storageErr(path, op, err)
	}
	h := c.lookupHandle(path)
	if h == nil {
		var st *nodeState
		err = c.view(func(tx *dbTx) error {
			_, st, err = tx.loadNodeOfKind(path, bpath, ArrayNode)
			return err
		})
		if err != nil {
			return nil, storageErr(path, op, err)
		}
		h, err = c.register(newArray(c, path, bpath, st))
		if err != nil {
			return nil, storageErr(path, op, err)
		}
	}
	a, ok := h.(*GrowableArray)
	if !ok {
		return nil, storageErr(path, op, fmt.Errorf("%w: not an array", ErrKind))
	}
	return a, nil
}

func (a *GrowableArray) Path() string { return a.path }
func (a *GrowableArray) Elem() ElemType { return a.elem }
func (a *GrowableArray) Filter() Filter { return a.filter }
func (a *GrowableArray) Title() string { return a.title }
func (a *GrowableArray) ChunkRows() int { return a.chunkRows }

// RowShape is the shape of one leading-dimension row.
func (a *GrowableArray) RowShape() []int { return slices.Clone(a.rowShape) }

// Len is the length of the leading dimension, staged rows included.
func (a *GrowableArray) Len() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.nrows + int64(a.nstaged)
}

func (a *GrowableArray) Shape() []int {
	return append([]int{int(a.Len())}, a.rowShape...)
}

// SizeOnDisk is the number of stored (possibly compressed) chunk bytes.
func (a *GrowableArray) SizeOnDisk() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stored
}

// NBytes is the uncompressed size of all elements.
func (a *GrowableArray) NBytes() int64 {
	return a.Len() * int64(a.rowLen*a.elem.Width())
}

func (a *GrowableArray) String() string {
	return fmt.Sprintf("%s %v%v (filter %v)", a.path, a.elem, a.Shape(), a.filter)
}

func (a *GrowableArray) rows() int64 { return a.Len() }

func (a *GrowableArray) busy() bool { return false }

func (a *GrowableArray) usable(op string) error {
	if a.err != nil {
		return &StorageError{a.path, op, a.err}
	}
	return a.conn.check(op, a.path)
}

// Append adds the rows of chunk, whose shape must be (k, rowShape...).
func (a *GrowableArray) Append(chunk *vexpr.Dense) error {
	if chunk == nil {
		return writeErrf(a.path, -1, nil, "nil chunk")
	}
	shape := chunk.Shape()
	if len(shape) != len(a.rowShape)+1 || !slices.Equal(shape[1:], a.rowShape) {
		return writeErrf(a.path, -1, vexpr.ErrShapeMismatch, "chunk shape %v does not fit rows of shape %v", shape, a.rowShape)
	}
	return a.appendFlat(chunk.Data(), shape[0])
}

func (a *GrowableArray) appendFlat(data []float64, k int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.usable("append"); err != nil {
		return err
	}
	if a.elem == ElemInt32 {
		for i, x := range data {
			if x != math.Trunc(x) || x < math.MinInt32 || x > math.MaxInt32 {
				return writeErrf(a.path, a.nrows+int64(a.nstaged+i/a.rowLen), nil, "%v is not a 32-bit integer", x)
			}
		}
	}
	prev := a.nstaged
	a.staged = append(a.staged, data...)
	a.nstaged += k
	if err := a.flushLocked(false); err != nil {
		a.staged, a.nstaged = a.staged[:prev*a.rowLen], prev
		return err
	}
	return nil
}

// Flush writes the staged rows in one transaction. Without staged rows it
// does nothing.
func (a *GrowableArray) Flush() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.usable("flush"); err != nil {
		return err
	}
	return a.flushLocked(true)
}

func (a *GrowableArray) flush() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return nil
	}
	return a.flushLocked(true)
}

func (a *GrowableArray) invalidate(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.err = err
	a.staged, a.nstaged = nil, 0
}

// flushLocked writes staged rows; unless all is set, only rows that complete
// a chunk are written and the tail stays staged.
func (a *GrowableArray) flushLocked(all bool) error {
	k := a.nstaged
	if !all {
		cr := int64(a.chunkRows)
		end := (a.nrows + int64(a.nstaged)) / cr * cr
		k = int(max(end-a.nrows, 0))
	}
	if k == 0 {
		return nil
	}
	start := time.Now()
	data := a.staged[:k*a.rowLen]
	var st *nodeState
	err := a.conn.update(func(tx *dbTx) error {
		var b storageBucket
		var err error
		b, st, err = tx.loadNodeOfKind(a.path, a.bpath, ArrayNode)
		if err != nil {
			return err
		}
		if st.Rows != a.nrows {
			return dataErrf(nil, 0, nil, "%s holds %d rows, handle expected %d", a.path, st.Rows, a.nrows)
		}
		chunks, err := chunksOf(b)
		if err != nil {
			return err
		}
		delta, err := a.writeRows(chunks, a.nrows, data)
		if err != nil {
			return err
		}
		st.Rows += int64(k)
		st.StoredBytes += delta
		return tx.saveNode(b, st)
	})
	if err != nil {
		return storageErr(a.path, "flush", err)
	}
	a.conn.logger.Debug("coltab: flushed", "path", a.path, "rows", k, "total", st.Rows, "ms", time.Since(start).Milliseconds())
	a.nrows = st.Rows
	a.stored = st.StoredBytes
	a.staged = slices.Clone(a.staged[k*a.rowLen:])
	a.nstaged -= k
	return nil
}

func (a *GrowableArray) writeRows(chunks storageBucket, start int64, data []float64) (int64, error) {
	n := len(data) / a.rowLen
	w := a.elem.Width()
	var delta int64
	for done := 0; done < n; {
		row := start + int64(done)
		chunk := row / int64(a.chunkRows)
		off := int(row % int64(a.chunkRows))
		take := min(a.chunkRows-off, n-done)
		key := arrayChunkKey(chunk)
		raw := a.encode(data[done*a.rowLen : (done+take)*a.rowLen])
		if off > 0 {
			old := chunks.Get(key)
			if old == nil {
				return 0, dataErrf(key, 0, nil, "missing chunk %d", chunk)
			}
			prev, err := decodeBlock(old)
			if err != nil {
				return 0, err
			}
			if len(prev) != off*a.rowLen*w {
				return 0, dataErrf(old, 0, nil, "chunk %d holds %d bytes, wanted %d", chunk, len(prev), off*a.rowLen*w)
			}
			raw = append(prev, raw...)
			delta -= int64(len(old))
		}
		block, err := encodeBlock(a.filter, raw, w)
		if err != nil {
			return 0, err
		}
		if err := chunks.Put(key, block); err != nil {
			return 0, err
		}
		delta += int64(len(block))
		done += take
	}
	return delta, nil
}

func (a *GrowableArray) encode(data []float64) []byte {
	bb := bytesBuilder{Buf: make([]byte, 0, len(data)*a.elem.Width())}
	if a.elem == ElemInt32 {
		for _, x := range data {
			bb.AppendUint32LE(uint32(int32(x)))
		}
	} else {
		for _, x := range data {
			bb.AppendUint64LE(math.Float64bits(x))
		}
	}
	return bb.Buf
}

func (a *GrowableArray) decodeInto(dst []float64, raw []byte) []float64 {
	w := a.elem.Width()
	n := len(raw) / w
	if a.elem == ElemInt32 {
		for i := 0; i < n; i++ {
			dst = append(dst, float64(int32(binary.LittleEndian.Uint32(raw[i*w:]))))
		}
	} else {
		for i := 0; i < n; i++ {
			dst = append(dst, math.Float64frombits(binary.LittleEndian.Uint64(raw[i*w:])))
		}
	}
	return dst
}

// Read returns the whole array.
func (a *GrowableArray) Read() (*vexpr.Dense, error) {
	return a.ReadRange(0, -1)
}

// ReadRange returns leading-dimension rows [start, stop); stop < 0 means up
// to the end.
func (a *GrowableArray) ReadRange(start, stop int64) (*vexpr.Dense, error) {
	data, n, err := a.readFloat64("read", start, stop)
	if err != nil {
		return nil, err
	}
	d, err := vexpr.NewDense(append([]int{int(n)}, a.rowShape...), data)
	if err != nil {
		return nil, storageErr(a.path, "read", err)
	}
	return d, nil
}

// readFloat64 flushes staged rows and returns rows [start, stop) flattened.
func (a *GrowableArray) readFloat64(op string, start, stop int64) ([]float64, int64, error) {
	a.mu.Lock()
	err := a.usable(op)
	if err == nil {
		err = a.flushLocked(true)
	}
	nrows := a.nrows
	a.mu.Unlock()
	if err != nil {
		return nil, 0, err
	}

	if stop < 0 {
		stop = nrows
	}
	if start < 0 || start > stop || stop > nrows {
		return nil, 0, queryErrf(a.path, "", nil, "range [%d, %d) is outside of %d rows", start, stop, nrows)
	}
	data := make([]float64, 0, int(stop-start)*a.rowLen)
	if start == stop {
		return data, 0, nil
	}

	cr := int64(a.chunkRows)
	rowBytes := a.rowLen * a.elem.Width()
	err = a.conn.view(func(tx *dbTx) error {
		b, _, err := tx.loadNodeOfKind(a.path, a.bpath, ArrayNode)
		if err != nil {
			return err
		}
		chunks, err := chunksOf(b)
		if err != nil {
			return err
		}
		for chunk := start / cr; chunk*cr < stop; chunk++ {
			block := chunks.Get(arrayChunkKey(chunk))
			if block == nil {
				return dataErrf(nil, 0, nil, "missing chunk %d", chunk)
			}
			raw, err := decodeBlock(block)
			if err != nil {
				return err
			}
			base := chunk * cr
			lo := max(start-base, 0)
			hi := min(stop-base, int64(len(raw)/rowBytes))
			if hi < lo {
				return dataErrf(nil, 0, nil, "chunk %d is short: %d bytes", chunk, len(raw))
			}
			data = a.decodeInto(data, raw[lo*int64(rowBytes):hi*int64(rowBytes)])
		}
		return nil
	})
	if err != nil {
		return nil, 0, storageErr(a.path, op, err)
	}
	if int64(len(data)) != (stop-start)*int64(a.rowLen) {
		return nil, 0, storageErr(a.path, op, dataErrf(nil, 0, nil, "read %d elements, wanted %d", len(data), (stop-start)*int64(a.rowLen)))
	}
	return data, stop - start, nil
}

// Truncate shrinks the leading dimension to n rows.
func (a *GrowableArray) Truncate(n int64) error {
	const op = "truncate"
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.usable(op); err != nil {
		return err
	}
	total := a.nrows + int64(a.nstaged)
	if n < 0 || n > total {
		return writeErrf(a.path, n, nil, "cannot truncate %d rows to %d", total, n)
	}
	if n >= a.nrows {
		keep := int(n - a.nrows)
		a.staged = a.staged[:keep*a.rowLen]
		a.nstaged = keep
		return nil
	}

	cr := int64(a.chunkRows)
	var st *nodeState
	err := a.conn.update(func(tx *dbTx) error {
		var b storageBucket
		var err error
		b, st, err = tx.loadNodeOfKind(a.path, a.bpath, ArrayNode)
		if err != nil {
			return err
		}
		chunks, err := chunksOf(b)
		if err != nil {
			return err
		}
		firstDropped := (n + cr - 1) / cr
		var delta int64
		c := chunks.Cursor()
		for k, v := c.Seek(arrayChunkKey(firstDropped)); k != nil; k, v = c.Next() {
			delta -= int64(len(v))
		}
		if err := deleteFrom(chunks, arrayChunkKey(firstDropped)); err != nil {
			return err
		}
		if off := n % cr; off != 0 {
			chunk := n / cr
			key := arrayChunkKey(chunk)
			old := chunks.Get(key)
			if old == nil {
				return dataErrf(nil, 0, nil, "missing chunk %d", chunk)
			}
			raw, err := decodeBlock(old)
			if err != nil {
				return err
			}
			block, err := encodeBlock(a.filter, raw[:off*int64(a.rowLen*a.elem.Width())], a.elem.Width())
			if err != nil {
				return err
			}
			if err := chunks.Put(key, block); err != nil {
				return err
			}
			delta += int64(len(block) - len(old))
		}
		st.Rows = n
		st.StoredBytes += delta
		return tx.saveNode(b, st)
	})
	if err != nil {
		return storageErr(a.path, op, err)
	}
	a.nrows = st.Rows
	a.stored = st.StoredBytes
	a.staged, a.nstaged = nil, 0
	return nil
}
