package coltab

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrClosed   = errors.New("connection closed")
	ErrBroken   = errors.New("connection unusable after a failed flush")
	ErrExists   = errors.New("node already exists")
	ErrNotFound = errors.New("node not found")
	ErrNotEmpty = errors.New("group not empty")
	ErrBusy     = errors.New("table is being read")
	ErrKind     = errors.New("node has a different kind")
	ErrRemoved  = errors.New("node was removed")
)

// DataError reports stored bytes that cannot be decoded.
type DataError struct {
	Data []byte
	Off  int
	Err  error
	Msg  string
}

func dataErrf(data []byte, off int, err error, format string, args ...any) error {
	return &DataError{data, off, err, fmt.Sprintf(format, args...)}
}

func (e *DataError) Unwrap() error {
	return e.Err
}

func (e *DataError) Error() string {
	const prefixLen = 64
	const suffixLen = 32
	n := len(e.Data)
	if n <= prefixLen+suffixLen {
		if e.Err != nil {
			return fmt.Sprintf("%s: %v: (%d) %x", e.Msg, e.Err, n, e.Data)
		} else {
			return fmt.Sprintf("%s: (%d) %x", e.Msg, n, e.Data)
		}
	} else {
		p, s := e.Data[:prefixLen], e.Data[n-suffixLen:]
		if e.Err != nil {
			return fmt.Sprintf("%s: %v: (%d) %x...%x", e.Msg, e.Err, n, p, s)
		} else {
			return fmt.Sprintf("%s: (%d) %x...%x", e.Msg, n, p, s)
		}
	}
}

// SchemaError reports an invalid or conflicting column definition, or an
// invalid node definition (shape, filter).
type SchemaError struct {
	Column string
	Msg    string
	Err    error
}

func schemaErrf(column string, err error, format string, args ...any) error {
	return &SchemaError{column, fmt.Sprintf(format, args...), err}
}

func (e *SchemaError) Unwrap() error {
	return e.Err
}

func (e *SchemaError) Error() string {
	var buf strings.Builder
	buf.WriteString("schema")
	if e.Column != "" {
		buf.WriteString(": column ")
		buf.WriteString(e.Column)
	}
	writeMsgErr(&buf, e.Msg, e.Err)
	return buf.String()
}

// WriteError reports data that does not fit the target: a field type
// mismatch, an array shape mismatch, or a write attempted while the target is
// busy. Row is -1 when not applicable.
type WriteError struct {
	Path string
	Row  int64
	Msg  string
	Err  error
}

func writeErrf(path string, row int64, err error, format string, args ...any) error {
	return &WriteError{path, row, fmt.Sprintf(format, args...), err}
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

func (e *WriteError) Error() string {
	var buf strings.Builder
	buf.WriteString(e.Path)
	if e.Row >= 0 {
		fmt.Fprintf(&buf, "[%d]", e.Row)
	}
	writeMsgErr(&buf, e.Msg, e.Err)
	return buf.String()
}

// QueryError reports a malformed predicate or expression, or a reference to an
// undefined column or variable.
type QueryError struct {
	Path string
	Expr string
	Msg  string
	Err  error
}

func queryErrf(path, expr string, err error, format string, args ...any) error {
	return &QueryError{path, expr, fmt.Sprintf(format, args...), err}
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

func (e *QueryError) Error() string {
	var buf strings.Builder
	buf.WriteString(e.Path)
	if e.Expr != "" {
		fmt.Fprintf(&buf, " where %q", e.Expr)
	}
	writeMsgErr(&buf, e.Msg, e.Err)
	return buf.String()
}

// StorageError reports a failure of the backing file or of the namespace
// (path collisions, missing parents).
type StorageError struct {
	Path string
	Op   string
	Err  error
}

func storageErr(path, op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{path, op, err}
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func (e *StorageError) Error() string {
	var buf strings.Builder
	buf.WriteString(e.Op)
	if e.Path != "" {
		buf.WriteByte(' ')
		buf.WriteString(e.Path)
	}
	buf.WriteString(": ")
	buf.WriteString(e.Err.Error())
	return buf.String()
}

func writeMsgErr(buf *strings.Builder, msg string, err error) {
	if msg != "" {
		buf.WriteString(": ")
		buf.WriteString(msg)
		if err != nil {
			buf.WriteString(": ")
			buf.WriteString(err.Error())
		}
	} else if err != nil {
		buf.WriteString(": ")
		buf.WriteString(err.Error())
	}
}
