package coltab

import (
	"errors"
	"slices"
)

// CreateTableFromArrays creates a table and fills it from whole columns in a
// single transaction, so a failure leaves nothing behind.
//
// arrays maps every column name to its values: []int32, []int or []int64 for
// Int32 columns, []float64 or []float32 for Float64, []string for Text. All
// arrays must have the same length.
func (c *Conn) CreateTableFromArrays(path string, scm *Schema, arrays map[string]any, opt TableOptions) (*Table, error) {
	const op = "create table"
	if err := c.check(op, path); err != nil {
		return nil, err
	}
	if scm == nil {
		return nil, schemaErrf("", nil, "nil schema")
	}

	for name := range arrays {
		if scm.ColumnIndex(name) < 0 {
			return nil, writeErrf(path, -1, nil, "no column %s in schema", name)
		}
	}
	cols := make([]*vector, len(scm.cols))
	n := -1
	for i, col := range scm.cols {
		arr, ok := arrays[col.Name]
		if !ok {
			return nil, writeErrf(path, -1, nil, "missing array for column %s", col.Name)
		}
		v, err := vectorFromArray(col, arr)
		if err != nil {
			var re *rowError
			if errors.As(err, &re) && re.row >= 0 {
				return nil, writeErrf(path, int64(re.row), nil, "column %s: %s", col.Name, re.msg)
			}
			return nil, writeErrf(path, -1, nil, "column %s: %v", col.Name, err)
		}
		if n >= 0 && v.Len() != n {
			return nil, writeErrf(path, -1, nil, "column %s has %d values, %s has %d", col.Name, v.Len(), scm.cols[0].Name, n)
		}
		n = v.Len()
		cols[i] = v
	}

	if opt.ExpectedRows == 0 {
		opt.ExpectedRows = int64(n)
	}
	t, err := c.createTable(op, path, scm, opt, cols)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// AppendArrays appends whole columns to a table in one transaction, after
// any staged rows.
func (t *Table) AppendArrays(arrays map[string]any) error {
	scm := t.schema
	cols := make([]*vector, len(scm.cols))
	n := -1
	for i, col := range scm.cols {
		arr, ok := arrays[col.Name]
		if !ok {
			return writeErrf(t.path, -1, nil, "missing array for column %s", col.Name)
		}
		v, err := vectorFromArray(col, arr)
		if err != nil {
			return writeErrf(t.path, -1, nil, "column %s: %v", col.Name, err)
		}
		if n >= 0 && v.Len() != n {
			return writeErrf(t.path, -1, nil, "column %s has %d values, %s has %d", col.Name, v.Len(), scm.cols[0].Name, n)
		}
		n = v.Len()
		cols[i] = v
	}
	if len(arrays) != len(scm.cols) {
		names := slices.Sorted(func(yield func(string) bool) {
			for name := range arrays {
				if scm.ColumnIndex(name) < 0 && !yield(name) {
					return
				}
			}
		})
		return writeErrf(t.path, -1, nil, "no columns %v in schema", names)
	}

	if err := t.lockForWrite("append"); err != nil {
		return err
	}
	defer t.mu.Unlock()
	prev := t.nstaged
	for i, v := range cols {
		t.staged[i].pushVector(v)
	}
	t.nstaged += n
	if err := t.flushLocked(); err != nil {
		t.unstage(prev)
		return err
	}
	return nil
}
