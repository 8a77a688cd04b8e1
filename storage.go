package coltab

import "errors"

// ErrBucketNotFound is returned by DeleteBucket when the bucket doesn't exist.
var ErrBucketNotFound = errors.New("bucket not found")

// storage represents a key-value storage backend with nested buckets (Bolt or in-memory).
type storage interface {
	// BeginTx starts a new transaction.
	BeginTx(writable bool) (storageTx, error)
	// Close closes the storage.
	Close() error
}

// storageTx represents a storage transaction.
type storageTx interface {
	// Writable returns true if this is a writable transaction.
	Writable() bool

	// Bucket returns the bucket at the given path of nested bucket names.
	// Returns nil if any bucket along the path doesn't exist.
	Bucket(path ...string) storageBucket

	// CreateBucket creates every missing bucket along the path.
	CreateBucket(path ...string) (storageBucket, error)

	// DeleteBucket deletes the last bucket of the path with all its contents.
	DeleteBucket(path ...string) error

	// Commit commits the transaction.
	Commit() error

	// Rollback aborts the transaction. It should be safe to call multiple times.
	Rollback() error

	// Size returns the database size in bytes.
	Size() int64
}

// storageBucket represents a bucket (sorted key-value collection plus child buckets).
type storageBucket interface {
	// Get retrieves a value by key. Returns nil if not found.
	Get(key []byte) []byte

	// Put stores a key-value pair.
	Put(key, value []byte) error

	// Delete removes a key.
	Delete(key []byte) error

	// Cursor iterates over the key-value pairs; child buckets are skipped.
	Cursor() storageCursor

	// Bucket returns a child bucket, or nil.
	Bucket(name string) storageBucket

	// CreateBucket creates a child bucket if it doesn't exist.
	CreateBucket(name string) (storageBucket, error)

	// DeleteBucket deletes a child bucket recursively.
	DeleteBucket(name string) error

	// Buckets returns the names of the child buckets in key order.
	Buckets() []string

	// Stats returns storage-specific statistics, child buckets included.
	// Backends that don't track allocation sizes may return zero values except KeyN and LeafInuse.
	Stats() bucketStats
}

type bucketStats struct {
	KeyN        int
	BucketN     int
	LeafInuse   int64
	LeafAlloc   int64
	BranchAlloc int64
}

func (s bucketStats) TotalAlloc() int64 { return s.BranchAlloc + s.LeafAlloc }

// storageCursor iterates over a sorted bucket.
type storageCursor interface {
	// First moves to the first key-value pair.
	First() (key, value []byte)

	// Last moves to the last key-value pair.
	Last() (key, value []byte)

	// Seek moves to the first key >= seek.
	Seek(seek []byte) (key, value []byte)

	// Next moves to the next key-value pair.
	Next() (key, value []byte)

	// Prev moves to the previous key-value pair.
	Prev() (key, value []byte)
}

// deleteFrom deletes every key >= start.
func deleteFrom(b storageBucket, start []byte) error {
	var keys [][]byte
	c := b.Cursor()
	for k, _ := c.Seek(start); k != nil; k, _ = c.Next() {
		keys = append(keys, append([]byte(nil), k...))
	}
	for _, k := range keys {
		if err := b.Delete(k); err != nil {
			return err
		}
	}
	return nil
}
