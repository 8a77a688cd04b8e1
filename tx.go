package coltab

import (
	"fmt"
	"runtime/debug"
)

// dbTx is one storage transaction as seen by the node, table and array code.
type dbTx struct {
	conn *Conn
	stx  storageTx
}

// view runs f in a read-only transaction. Transactions are kept short: the
// query cursor opens one per chunk.
func (c *Conn) view(f func(tx *dbTx) error) error {
	stx, err := c.store.BeginTx(false)
	if err != nil {
		return fmt.Errorf("begin read: %w", err)
	}
	defer stx.Rollback()
	c.ReadCount.Add(1)
	return safelyCall(f, &dbTx{c, stx})
}

// update runs f in a write transaction and commits if f succeeds. A failed
// commit leaves the connection broken.
func (c *Conn) update(f func(tx *dbTx) error) error {
	if err := c.brokenErr(); err != nil {
		return err
	}
	c.PendingWriterCount.Add(1)
	stx, err := c.store.BeginTx(true)
	c.PendingWriterCount.Add(-1)
	if err != nil {
		return fmt.Errorf("begin write: %w", err)
	}
	c.WriteCount.Add(1)

	err = safelyCall(f, &dbTx{c, stx})
	if err != nil {
		stx.Rollback()
		return err
	}
	size := stx.Size()
	if err := stx.Commit(); err != nil {
		stx.Rollback()
		c.markBroken(err)
		return fmt.Errorf("commit: %w", err)
	}
	c.lastSize.Store(size)
	return nil
}

type panicked struct {
	reason interface{}
	stack  string
}

func (p panicked) Error() string {
	return fmt.Sprintf("panic: %v\n\n%s", p.reason, p.stack)
}

func safelyCall(fn func(*dbTx) error, tx *dbTx) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = panicked{p, string(debug.Stack())}
		}
	}()
	return fn(tx)
}
