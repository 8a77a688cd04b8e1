package coltab

import (
	"errors"
	"time"
	"unsafe"

	"go.etcd.io/bbolt"
)

type boltStorage struct {
	bdb *bbolt.DB
}

func openBoltStorage(path string, opt Options) (*boltStorage, error) {
	bopt := *bbolt.DefaultOptions
	bopt.Timeout = 10 * time.Second
	if opt.NoSync {
		bopt.NoSync = true
		bopt.NoFreelistSync = true
	} else {
		bopt.FreelistType = bbolt.FreelistMapType
	}
	if opt.MmapSize != 0 {
		bopt.InitialMmapSize = opt.MmapSize
	}
	bdb, err := bbolt.Open(path, 0666, &bopt)
	if err != nil {
		return nil, err
	}
	return &boltStorage{bdb: bdb}, nil
}

func (s *boltStorage) BeginTx(writable bool) (storageTx, error) {
	btx, err := s.bdb.Begin(writable)
	if err != nil {
		return nil, err
	}
	return &boltStorageTx{btx: btx}, nil
}

func (s *boltStorage) Close() error {
	return s.bdb.Close()
}

type boltStorageTx struct {
	btx *bbolt.Tx
}

func (tx *boltStorageTx) Writable() bool { return tx.btx.Writable() }

func (tx *boltStorageTx) Bucket(path ...string) storageBucket {
	if len(path) == 0 {
		return nil
	}
	b := tx.btx.Bucket(unsafeBytesFromString(path[0]))
	for _, name := range path[1:] {
		if b == nil {
			return nil
		}
		b = b.Bucket(unsafeBytesFromString(name))
	}
	if b == nil {
		return nil
	}
	return boltBucket{b: b}
}

func (tx *boltStorageTx) CreateBucket(path ...string) (storageBucket, error) {
	if len(path) == 0 {
		return nil, ErrBucketNotFound
	}
	b, err := tx.btx.CreateBucketIfNotExists([]byte(path[0]))
	if err != nil {
		return nil, err
	}
	for _, name := range path[1:] {
		b, err = b.CreateBucketIfNotExists([]byte(name))
		if err != nil {
			return nil, err
		}
	}
	return boltBucket{b: b}, nil
}

func (tx *boltStorageTx) DeleteBucket(path ...string) error {
	switch len(path) {
	case 0:
		return ErrBucketNotFound
	case 1:
		return boltBucketErr(tx.btx.DeleteBucket(unsafeBytesFromString(path[0])))
	}
	parent := tx.Bucket(path[:len(path)-1]...)
	if parent == nil {
		return ErrBucketNotFound
	}
	return parent.DeleteBucket(path[len(path)-1])
}

func (tx *boltStorageTx) Commit() error { return tx.btx.Commit() }

func (tx *boltStorageTx) Rollback() error {
	err := tx.btx.Rollback()
	if errors.Is(err, bbolt.ErrTxClosed) {
		return nil
	}
	return err
}

func (tx *boltStorageTx) Size() int64 { return tx.btx.Size() }

type boltBucket struct {
	b *bbolt.Bucket
}

func (b boltBucket) Get(key []byte) []byte { return b.b.Get(key) }

func (b boltBucket) Put(key, value []byte) error { return b.b.Put(key, value) }

func (b boltBucket) Delete(key []byte) error { return b.b.Delete(key) }

func (b boltBucket) Cursor() storageCursor { return boltCursor{c: b.b.Cursor()} }

func (b boltBucket) Bucket(name string) storageBucket {
	child := b.b.Bucket(unsafeBytesFromString(name))
	if child == nil {
		return nil
	}
	return boltBucket{b: child}
}

func (b boltBucket) CreateBucket(name string) (storageBucket, error) {
	child, err := b.b.CreateBucketIfNotExists([]byte(name))
	if err != nil {
		return nil, err
	}
	return boltBucket{b: child}, nil
}

func (b boltBucket) DeleteBucket(name string) error {
	return boltBucketErr(b.b.DeleteBucket(unsafeBytesFromString(name)))
}

func (b boltBucket) Buckets() []string {
	var names []string
	c := b.b.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		if v == nil {
			names = append(names, string(k))
		}
	}
	return names
}

func (b boltBucket) Stats() bucketStats {
	s := b.b.Stats()
	return bucketStats{
		KeyN:        s.KeyN,
		BucketN:     s.BucketN,
		LeafInuse:   int64(s.LeafInuse),
		LeafAlloc:   int64(s.LeafAlloc),
		BranchAlloc: int64(s.BranchAlloc),
	}
}

func boltBucketErr(err error) error {
	if errors.Is(err, bbolt.ErrBucketNotFound) {
		return ErrBucketNotFound
	}
	return err
}

// boltCursor hides nested buckets, which Bolt reports as keys with nil values.
type boltCursor struct {
	c *bbolt.Cursor
}

func (c boltCursor) First() ([]byte, []byte) { return c.skipFwd(c.c.First()) }

func (c boltCursor) Last() ([]byte, []byte) { return c.skipBack(c.c.Last()) }

func (c boltCursor) Seek(seek []byte) ([]byte, []byte) { return c.skipFwd(c.c.Seek(seek)) }

func (c boltCursor) Next() ([]byte, []byte) { return c.skipFwd(c.c.Next()) }

func (c boltCursor) Prev() ([]byte, []byte) { return c.skipBack(c.c.Prev()) }

func (c boltCursor) skipFwd(k, v []byte) ([]byte, []byte) {
	for k != nil && v == nil {
		k, v = c.c.Next()
	}
	return k, v
}

func (c boltCursor) skipBack(k, v []byte) ([]byte, []byte) {
	for k != nil && v == nil {
		k, v = c.c.Prev()
	}
	return k, v
}

func unsafeBytesFromString(s string) []byte {
	return unsafe.Slice(unsafe.StringData(s), len(s))
}
