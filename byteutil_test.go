package coltab

import (
	"bytes"
	"reflect"
	"testing"
)

func TestBytesBuilder_Basics(t *testing.T) {
	var bb bytesBuilder
	off := bb.Grow(3)
	copy(bb.Buf[off:], []byte{1, 2, 3})
	_ = bb.WriteByte(4)
	bb.AppendUint32LE(0x08070605)
	bb.AppendUint64LE(0x100f0e0d0c0b0a09)
	_, _ = bb.Write([]byte{0x11})

	want := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17}
	if !reflect.DeepEqual(bb.Buf, want) {
		t.Fatalf("bb.Buf = %x, wanted %x", bb.Buf, want)
	}
}

func TestByteUtil_AppendHelpers(t *testing.T) {
	src := []byte{0xAA, 0xBB, 0xCC}
	buf := appendRaw(nil, src)
	if !reflect.DeepEqual(buf, src) {
		t.Fatalf("appendRaw = %x, wanted %x", buf, src)
	}

	buf = ensureCapacity([]byte{1, 2}, 100)
	if cap(buf) < 100 || !reflect.DeepEqual(buf, []byte{1, 2}) {
		t.Fatalf("ensureCapacity = %x (cap %d), wanted 0102 with cap >= 100", buf, cap(buf))
	}
}

func TestChunkKeys(t *testing.T) {
	k1 := tableChunkKey(1, 2)
	k2 := tableChunkKey(1, 10)
	k3 := tableChunkKey(2, 1)
	if bytes.Compare(k1, k2) >= 0 || bytes.Compare(k2, k3) >= 0 {
		t.Fatalf("table chunk keys do not sort by chunk, then position: %x %x %x", k1, k2, k3)
	}
	if bytes.Compare(arrayChunkKey(255), arrayChunkKey(256)) >= 0 {
		t.Fatalf("array chunk keys do not sort numerically")
	}

	chunk, pos, ok := parseChunkKey(k2)
	if !ok || chunk != 1 || pos != 10 {
		t.Fatalf("parseChunkKey(%x) = (%d, %d, %v), wanted (1, 10, true)", k2, chunk, pos, ok)
	}
	chunk, pos, ok = parseChunkKey(arrayChunkKey(77))
	if !ok || chunk != 77 || pos != 0 {
		t.Fatalf("parseChunkKey(array) = (%d, %d, %v), wanted (77, 0, true)", chunk, pos, ok)
	}
	if _, _, ok := parseChunkKey([]byte{1, 2, 3}); ok {
		t.Fatalf("parseChunkKey(short) = ok")
	}
}
