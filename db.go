package coltab

import (
	"cmp"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// Conn is a session on one store file. It owns every table and array handle
// opened through it; Close flushes them and invalidates them.
type Conn struct {
	path   string
	store  storage
	logger *slog.Logger

	mu      sync.Mutex
	handles map[string]handle

	closed atomic.Bool
	broken atomic.Pointer[error]

	lastSize           atomic.Int64
	ReadCount          atomic.Uint64
	WriteCount         atomic.Uint64
	PendingWriterCount atomic.Int64
}

type Options struct {
	// InMemory keeps everything in a transient in-memory store; path is only
	// used in messages.
	InMemory bool
	// NoSync skips fsync on commit. Meant for tests and benchmarks.
	NoSync   bool
	MmapSize int
	Logger   *slog.Logger
}

// handle is an open table or array.
type handle interface {
	Path() string
	rows() int64
	busy() bool
	flush() error
	invalidate(err error)
}

func Open(path string, opt Options) (*Conn, error) {
	logger := opt.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Conn{
		path:    path,
		logger:  logger,
		handles: make(map[string]handle),
	}
	if opt.InMemory {
		c.store = newMemStorage()
	} else {
		bs, err := openBoltStorage(path, opt)
		if err != nil {
			return nil, storageErr(path, "open", err)
		}
		c.store = bs
	}

	err := c.update(func(tx *dbTx) error {
		return tx.ensureRoot(time.Now())
	})
	if err != nil {
		c.store.Close()
		return nil, storageErr(path, "open", err)
	}
	logger.Debug("coltab: opened", "path", path, "in_memory", opt.InMemory)
	return c, nil
}

// WithConn opens a connection, runs f and always closes the connection,
// reporting the errors of both.
func WithConn(path string, opt Options, f func(c *Conn) error) (err error) {
	c, err := Open(path, opt)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, c.Close())
	}()
	return f(c)
}

func (c *Conn) Path() string {
	return c.path
}

func (c *Conn) Logger() *slog.Logger {
	return c.logger
}

// Size is the size of the store after the last committed write.
func (c *Conn) Size() int64 {
	return c.lastSize.Load()
}

// Flush writes the staged rows of every open handle.
func (c *Conn) Flush() error {
	if err := c.check("flush", c.path); err != nil {
		return err
	}
	var errs []error
	for _, h := range c.openHandles() {
		errs = append(errs, h.flush())
	}
	return errors.Join(errs...)
}

// Close flushes every open handle, invalidates it and closes the store.
// Closing twice is a no-op.
func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	hs := c.openHandles()
	c.mu.Lock()
	c.handles = nil
	c.mu.Unlock()

	var errs []error
	for _, h := range hs {
		if c.broken.Load() == nil {
			errs = append(errs, h.flush())
		}
		h.invalidate(ErrClosed)
	}
	if err := c.store.Close(); err != nil {
		errs = append(errs, storageErr(c.path, "close", err))
	}
	if c.broken.Load() != nil {
		errs = append(errs, &StorageError{c.path, "close", c.brokenErr()})
	}
	c.logger.Debug("coltab: closed", "path", c.path)
	return errors.Join(errs...)
}

func (c *Conn) openHandles() []handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	hs := slices.Collect(maps.Values(c.handles))
	slices.SortFunc(hs, func(a, b handle) int { return cmp.Compare(a.Path(), b.Path()) })
	return hs
}

// check fails once the connection is closed or broken.
func (c *Conn) check(op, path string) error {
	if c.closed.Load() {
		return &StorageError{path, op, ErrClosed}
	}
	if err := c.brokenErr(); err != nil {
		return &StorageError{path, op, err}
	}
	return nil
}

func (c *Conn) markBroken(cause error) {
	if c.broken.CompareAndSwap(nil, &cause) {
		c.logger.Warn("coltab: connection is broken", "path", c.path, "err", cause)
	}
}

func (c *Conn) brokenErr() error {
	if p := c.broken.Load(); p != nil {
		return fmt.Errorf("%w: %w", ErrBroken, *p)
	}
	return nil
}

func (c *Conn) lookupHandle(path string) handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handles[path]
}

// register stores h unless another handle got there first, in which case the
// existing one is returned.
func (c *Conn) register(h handle) (handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handles == nil {
		return nil, ErrClosed
	}
	if existing := c.handles[h.Path()]; existing != nil {
		return existing, nil
	}
	c.handles[h.Path()] = h
	return h, nil
}

// CreateGroup adds an empty group. The parent group must exist.
func (c *Conn) CreateGroup(path string) error {
	const op = "create group"
	if err := c.check(op, path); err != nil {
		return err
	}
	path, bpath, err := splitPath(path)
	if err != nil {
		return storageErr(path, op, err)
	}
	err = c.update(func(tx *dbTx) error {
		_, err := tx.createNode(path, bpath, &nodeState{Kind: GroupNode, Created: time.Now()})
		return err
	})
	if err != nil {
		return storageErr(path, op, err)
	}
	c.logger.Info("coltab: created group", "path", path)
	return nil
}

func (c *Conn) Exists(path string) (bool, error) {
	_, err := c.Stat(path)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Stat describes the node at path. Rows include rows staged in an open handle.
func (c *Conn) Stat(path string) (NodeInfo, error) {
	const op = "stat"
	if err := c.check(op, path); err != nil {
		return NodeInfo{}, err
	}
	path, bpath, err := splitPath(path)
	if err != nil {
		return NodeInfo{}, storageErr(path, op, err)
	}
	var info NodeInfo
	err = c.view(func(tx *dbTx) error {
		_, st, err := tx.loadNode(path, bpath)
		if err != nil {
			return err
		}
		info = st.info(path)
		return nil
	})
	if err != nil {
		return NodeInfo{}, storageErr(path, op, err)
	}
	if h := c.lookupHandle(path); h != nil {
		info.Rows = h.rows()
	}
	return info, nil
}

// List describes the children of a group in name order.
func (c *Conn) List(path string) ([]NodeInfo, error) {
	const op = "list"
	if err := c.check(op, path); err != nil {
		return nil, err
	}
	path, bpath, err := splitPath(path)
	if err != nil {
		return nil, storageErr(path, op, err)
	}
	var result []NodeInfo
	err = c.view(func(tx *dbTx) error {
		b, _, err := tx.loadNodeOfKind(path, bpath, GroupNode)
		if err != nil {
			return err
		}
		for _, name := range children(b) {
			childPath := joinPath(path, name)
			_, st, err := tx.loadNode(childPath, append(slices.Clone(bpath), name))
			if err != nil {
				return err
			}
			result = append(result, st.info(childPath))
		}
		return nil
	})
	if err != nil {
		return nil, storageErr(path, op, err)
	}
	return result, nil
}

// Remove deletes a node. A non-empty group is only removed when recursive is
// set. Open handles of removed nodes fail with ErrRemoved afterwards.
func (c *Conn) Remove(path string, recursive bool) error {
	const op = "remove"
	if err := c.check(op, path); err != nil {
		return err
	}
	path, bpath, err := splitPath(path)
	if err != nil {
		return storageErr(path, op, err)
	}
	if path == "/" {
		return storageErr(path, op, errors.New("cannot remove the root group"))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	var affected []handle
	for p, h := range c.handles {
		if isWithin(p, path) {
			if h.busy() {
				return writeErrf(p, -1, ErrBusy, "cannot remove while a query is open")
			}
			affected = append(affected, h)
		}
	}

	var kind NodeKind
	err = c.update(func(tx *dbTx) error {
		b, st, err := tx.loadNode(path, bpath)
		if err != nil {
			return err
		}
		kind = st.Kind
		if st.Kind == GroupNode && !recursive && len(children(b)) > 0 {
			return ErrNotEmpty
		}
		return tx.stx.DeleteBucket(bpath...)
	})
	if err != nil {
		return storageErr(path, op, err)
	}
	for _, h := range affected {
		h.invalidate(ErrRemoved)
		delete(c.handles, h.Path())
	}
	c.logger.Info("coltab: removed", "path", path, "kind", kind)
	return nil
}
