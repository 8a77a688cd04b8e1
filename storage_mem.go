package coltab

import (
	"bytes"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
)

// memStorage is a transient in-memory storage intended for tests.
//
// Committed buckets are never modified. A write transaction copies the buckets
// it touches along their path from the root, and Commit swaps the root.
// Read transactions therefore just hold on to the root they started with.
type memStorage struct {
	mu     sync.Mutex
	cond   *sync.Cond
	root   *memBucket
	closed bool
	writer bool
}

func newMemStorage() *memStorage {
	s := &memStorage{root: &memBucket{}}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *memStorage) BeginTx(writable bool) (storageTx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("storage closed")
	}
	if writable {
		for s.writer && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			return nil, fmt.Errorf("storage closed")
		}
		s.writer = true
	}
	tx := &memTx{
		base:     s,
		writable: writable,
		root:     s.root,
	}
	if writable {
		tx.owned = make(map[*memBucket]bool)
	}
	return tx, nil
}

func (s *memStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.root = nil
	s.cond.Broadcast()
	return nil
}

type memTx struct {
	base     *memStorage
	writable bool
	root     *memBucket
	owned    map[*memBucket]bool
	closed   bool
}

func (tx *memTx) Writable() bool { return tx.writable }

func (tx *memTx) closeLocked() {
	if tx.closed {
		return
	}
	tx.closed = true
	if tx.writable {
		tx.base.writer = false
		tx.base.cond.Broadcast()
	}
}

func (tx *memTx) lookup(path []string) *memBucket {
	if tx.closed {
		panic("tx is closed")
	}
	b := tx.root
	for _, name := range path {
		b = b.children[name]
		if b == nil {
			return nil
		}
	}
	return b
}

// own returns a copy of b that belongs to this transaction.
func (tx *memTx) own(b *memBucket) *memBucket {
	if tx.owned[b] {
		return b
	}
	c := &memBucket{
		items:    slices.Clone(b.items),
		children: maps.Clone(b.children),
	}
	tx.owned[c] = true
	return c
}

// mutable returns the writable copy of the bucket at path, copying its ancestors.
func (tx *memTx) mutable(path []string) (*memBucket, error) {
	if tx.closed {
		panic("tx is closed")
	}
	if !tx.writable {
		return nil, fmt.Errorf("tx not writable")
	}
	tx.root = tx.own(tx.root)
	b := tx.root
	for _, name := range path {
		child := b.children[name]
		if child == nil {
			return nil, ErrBucketNotFound
		}
		child = tx.own(child)
		b.children[name] = child
		b = child
	}
	return b, nil
}

func (tx *memTx) Bucket(path ...string) storageBucket {
	if len(path) == 0 || tx.lookup(path) == nil {
		return nil
	}
	return &memBucketHandle{tx: tx, path: slices.Clone(path)}
}

func (tx *memTx) CreateBucket(path ...string) (storageBucket, error) {
	if len(path) == 0 {
		return nil, ErrBucketNotFound
	}
	if _, err := tx.mutable(nil); err != nil {
		return nil, err
	}
	for i := range path {
		parent, err := tx.mutable(path[:i])
		if err != nil {
			return nil, err
		}
		if parent.children[path[i]] == nil {
			parent.setChild(path[i], tx.newBucket())
		}
	}
	return &memBucketHandle{tx: tx, path: slices.Clone(path)}, nil
}

func (tx *memTx) DeleteBucket(path ...string) error {
	if len(path) == 0 {
		return ErrBucketNotFound
	}
	if tx.lookup(path) == nil {
		return ErrBucketNotFound
	}
	parent, err := tx.mutable(path[:len(path)-1])
	if err != nil {
		return err
	}
	delete(parent.children, path[len(path)-1])
	return nil
}

func (tx *memTx) newBucket() *memBucket {
	b := &memBucket{}
	tx.owned[b] = true
	return b
}

func (tx *memTx) Commit() error {
	if tx.closed {
		return nil
	}
	if !tx.writable {
		return fmt.Errorf("tx not writable")
	}
	tx.base.mu.Lock()
	defer tx.base.mu.Unlock()
	if tx.base.closed {
		tx.closeLocked()
		return fmt.Errorf("storage closed")
	}
	tx.base.root = tx.root
	tx.closeLocked()
	return nil
}

func (tx *memTx) Rollback() error {
	tx.base.mu.Lock()
	defer tx.base.mu.Unlock()
	tx.closeLocked()
	return nil
}

func (tx *memTx) Size() int64 {
	if tx.root == nil {
		return 0
	}
	return tx.root.stats().LeafInuse
}

type memBucket struct {
	items    []memKV // sorted by key
	children map[string]*memBucket
}

func (b *memBucket) setChild(name string, child *memBucket) {
	if b.children == nil {
		b.children = make(map[string]*memBucket)
	}
	b.children[name] = child
}

func (b *memBucket) stats() bucketStats {
	var s bucketStats
	s.KeyN = len(b.items)
	for _, kv := range b.items {
		s.LeafInuse += int64(len(kv.key) + len(kv.value))
	}
	for name, child := range b.children {
		cs := child.stats()
		s.KeyN += cs.KeyN
		s.BucketN += cs.BucketN + 1
		s.LeafInuse += cs.LeafInuse + int64(len(name))
	}
	s.LeafAlloc = s.LeafInuse
	return s
}

func (b *memBucket) find(key []byte) (idx int, ok bool) {
	items := b.items
	i := sort.Search(len(items), func(i int) bool {
		return bytes.Compare(items[i].key, key) >= 0
	})
	if i < len(items) && bytes.Equal(items[i].key, key) {
		return i, true
	}
	return i, false
}

type memKV struct {
	key   []byte
	value []byte
}

// memBucketHandle resolves its path on every call, so handles stay valid
// after the transaction copies the bucket.
type memBucketHandle struct {
	tx   *memTx
	path []string
}

func (h *memBucketHandle) bucket() *memBucket {
	b := h.tx.lookup(h.path)
	if b == nil {
		panic(fmt.Sprintf("bucket %v was deleted", h.path))
	}
	return b
}

func (h *memBucketHandle) Get(key []byte) []byte {
	b := h.bucket()
	i, ok := b.find(key)
	if !ok {
		return nil
	}
	return b.items[i].value
}

func (h *memBucketHandle) Put(key, value []byte) error {
	b, err := h.tx.mutable(h.path)
	if err != nil {
		return err
	}
	key = slices.Clone(key)
	value = slices.Clone(value)

	i, ok := b.find(key)
	if ok {
		b.items[i].value = value
		return nil
	}
	b.items = slices.Insert(b.items, i, memKV{key: key, value: value})
	return nil
}

func (h *memBucketHandle) Delete(key []byte) error {
	if _, ok := h.bucket().find(key); !ok {
		return nil
	}
	b, err := h.tx.mutable(h.path)
	if err != nil {
		return err
	}
	i, _ := b.find(key)
	b.items = slices.Delete(b.items, i, i+1)
	return nil
}

func (h *memBucketHandle) Cursor() storageCursor {
	return &memCursor{items: h.bucket().items, pos: -1}
}

func (h *memBucketHandle) Bucket(name string) storageBucket {
	if h.bucket().children[name] == nil {
		return nil
	}
	return &memBucketHandle{tx: h.tx, path: append(slices.Clone(h.path), name)}
}

func (h *memBucketHandle) CreateBucket(name string) (storageBucket, error) {
	return h.tx.CreateBucket(append(slices.Clone(h.path), name)...)
}

func (h *memBucketHandle) DeleteBucket(name string) error {
	return h.tx.DeleteBucket(append(slices.Clone(h.path), name)...)
}

func (h *memBucketHandle) Buckets() []string {
	return slices.Sorted(maps.Keys(h.bucket().children))
}

func (h *memBucketHandle) Stats() bucketStats {
	return h.bucket().stats()
}

// memCursor iterates over a snapshot of the items taken when it was created.
type memCursor struct {
	items []memKV
	pos   int
}

func (c *memCursor) at(i int) ([]byte, []byte) {
	c.pos = i
	if i < 0 || i >= len(c.items) {
		return nil, nil
	}
	kv := c.items[i]
	return kv.key, kv.value
}

func (c *memCursor) First() ([]byte, []byte) { return c.at(0) }

func (c *memCursor) Last() ([]byte, []byte) { return c.at(len(c.items) - 1) }

func (c *memCursor) Seek(seek []byte) ([]byte, []byte) {
	items := c.items
	i := sort.Search(len(items), func(i int) bool {
		return bytes.Compare(items[i].key, seek) >= 0
	})
	return c.at(i)
}

func (c *memCursor) Next() ([]byte, []byte) {
	if c.pos >= len(c.items) {
		return nil, nil
	}
	return c.at(c.pos + 1)
}

func (c *memCursor) Prev() ([]byte, []byte) {
	if c.pos < 0 {
		return nil, nil
	}
	return c.at(c.pos - 1)
}
