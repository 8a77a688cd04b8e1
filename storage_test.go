package coltab

import (
	"errors"
	"testing"
)

func eachStorage(t *testing.T, f func(t *testing.T, s storage)) {
	t.Run("bolt", func(t *testing.T) {
		s := must(openBoltStorage(tempDBPath(t), Options{NoSync: true}))
		t.Cleanup(func() { s.Close() })
		f(t, s)
	})
	t.Run("mem", func(t *testing.T) {
		s := newMemStorage()
		t.Cleanup(func() { s.Close() })
		f(t, s)
	})
}

func cursorKeys(c storageCursor) []string {
	var keys []string
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		keys = append(keys, string(k))
	}
	return keys
}

func TestStorage_NestedBuckets(t *testing.T) {
	eachStorage(t, func(t *testing.T, s storage) {
		wtx := must(s.BeginTx(true))
		b := must(wtx.CreateBucket("root", "g", "t"))
		ensure(b.Put([]byte("b"), []byte("2")))
		ensure(b.Put([]byte("a"), []byte("1")))
		ensure(b.Put([]byte("d"), []byte("4")))
		must(b.CreateBucket("c"))
		must(wtx.CreateBucket("root", "g", "u"))
		ensure(wtx.Commit())

		rtx := must(s.BeginTx(false))
		defer rtx.Rollback()
		if rtx.Writable() {
			t.Errorf("read tx is writable")
		}
		rb := rtx.Bucket("root", "g", "t")
		if rb == nil {
			t.Fatalf("bucket root/g/t not found")
		}
		deepEqual(t, string(rb.Get([]byte("a"))), "1")
		deepEqual(t, rb.Get([]byte("zz")) == nil, true)
		// nested buckets are not listed as keys
		deepEqual(t, cursorKeys(rb.Cursor()), []string{"a", "b", "d"})
		deepEqual(t, rb.Buckets(), []string{"c"})
		deepEqual(t, rtx.Bucket("root", "g").Buckets(), []string{"t", "u"})
		deepEqual(t, rtx.Bucket("root", "nope", "t") == nil, true)

		c := rb.Cursor()
		k, _ := c.Seek([]byte("bb"))
		deepEqual(t, string(k), "d")
		k, _ = c.Prev()
		deepEqual(t, string(k), "b")
		k, _ = c.Last()
		deepEqual(t, string(k), "d")
		k, _ = c.Next()
		deepEqual(t, k == nil, true)

		deepEqual(t, rb.Stats().KeyN >= 3, true)
	})
}

func TestStorage_DeleteBucketAndRange(t *testing.T) {
	eachStorage(t, func(t *testing.T, s storage) {
		wtx := must(s.BeginTx(true))
		b := must(wtx.CreateBucket("root", "x"))
		for _, k := range []string{"k1", "k2", "k3", "k4"} {
			ensure(b.Put([]byte(k), []byte(k)))
		}
		ensure(deleteFrom(b, []byte("k3")))
		deepEqual(t, cursorKeys(b.Cursor()), []string{"k1", "k2"})

		ensure(wtx.DeleteBucket("root", "x"))
		err := wtx.DeleteBucket("root", "x")
		if !errors.Is(err, ErrBucketNotFound) {
			t.Errorf("DeleteBucket(missing) = %v, wanted ErrBucketNotFound", err)
		}
		ensure(wtx.Commit())

		rtx := must(s.BeginTx(false))
		defer rtx.Rollback()
		deepEqual(t, rtx.Bucket("root", "x") == nil, true)
		deepEqual(t, rtx.Bucket("root") != nil, true)
	})
}

func TestStorage_Rollback(t *testing.T) {
	eachStorage(t, func(t *testing.T, s storage) {
		wtx := must(s.BeginTx(true))
		ensure(must(wtx.CreateBucket("root")).Put([]byte("k"), []byte("v")))
		ensure(wtx.Commit())

		wtx = must(s.BeginTx(true))
		ensure(wtx.Bucket("root").Put([]byte("k"), []byte("changed")))
		must(wtx.CreateBucket("root", "new"))
		ensure(wtx.Rollback())
		ensure(wtx.Rollback())

		rtx := must(s.BeginTx(false))
		defer rtx.Rollback()
		deepEqual(t, string(rtx.Bucket("root").Get([]byte("k"))), "v")
		deepEqual(t, rtx.Bucket("root", "new") == nil, true)
	})
}

func TestMemStorage_ReadersSeeCommittedState(t *testing.T) {
	s := newMemStorage()
	defer s.Close()

	wtx := must(s.BeginTx(true))
	ensure(must(wtx.CreateBucket("root")).Put([]byte("k"), []byte("v1")))
	ensure(wtx.Commit())

	rtx := must(s.BeginTx(false))
	defer rtx.Rollback()

	wtx = must(s.BeginTx(true))
	ensure(wtx.Bucket("root").Put([]byte("k"), []byte("v2")))
	deepEqual(t, string(rtx.Bucket("root").Get([]byte("k"))), "v1")
	ensure(wtx.Commit())

	deepEqual(t, string(rtx.Bucket("root").Get([]byte("k"))), "v1")
	rtx2 := must(s.BeginTx(false))
	defer rtx2.Rollback()
	deepEqual(t, string(rtx2.Bucket("root").Get([]byte("k"))), "v2")
}
