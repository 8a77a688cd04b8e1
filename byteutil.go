package coltab

import (
	"encoding/binary"
	"io"
)

func ensureCapacity(buf []byte, minCap int) []byte {
	c := cap(buf)
	if minCap > c {
		if c < 16 {
			c = 16
		}
		for minCap > c {
			c <<= 1
		}
		old := buf
		buf = make([]byte, len(old), c)
		copy(buf, old)
	}
	return buf
}

func grow(buf []byte, n int) (int, []byte) {
	off := len(buf)
	newLen := off + n
	buf = ensureCapacity(buf, newLen)
	return off, buf[:newLen]
}

func appendRaw(buf []byte, chunk []byte) []byte {
	n := len(chunk)
	off, buf := grow(buf, n)
	copy(buf[off:], chunk)
	return buf
}

type bytesBuilder struct {
	Buf []byte
}

var _ io.Writer = (*bytesBuilder)(nil)

func (bb *bytesBuilder) Grow(n int) (off int) {
	off, bb.Buf = grow(bb.Buf, n)
	return
}

func (bb *bytesBuilder) Write(b []byte) (int, error) {
	bb.Buf = appendRaw(bb.Buf, b)
	return len(b), nil
}

func (bb *bytesBuilder) WriteByte(v byte) error {
	off := bb.Grow(1)
	bb.Buf[off] = v
	return nil
}

func (bb *bytesBuilder) AppendUint32LE(v uint32) {
	off := bb.Grow(4)
	binary.LittleEndian.PutUint32(bb.Buf[off:], v)
}

func (bb *bytesBuilder) AppendUint64LE(v uint64) {
	off := bb.Grow(8)
	binary.LittleEndian.PutUint64(bb.Buf[off:], v)
}

// Chunk keys sort by chunk number, then by column position.

func tableChunkKey(chunk int64, pos int) []byte {
	var k [10]byte
	binary.BigEndian.PutUint64(k[:], uint64(chunk))
	binary.BigEndian.PutUint16(k[8:], uint16(pos))
	return k[:]
}

func arrayChunkKey(chunk int64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], uint64(chunk))
	return k[:]
}

func parseChunkKey(k []byte) (chunk int64, pos int, ok bool) {
	switch len(k) {
	case 8:
		return int64(binary.BigEndian.Uint64(k)), 0, true
	case 10:
		return int64(binary.BigEndian.Uint64(k)), int(binary.BigEndian.Uint16(k[8:])), true
	default:
		return 0, 0, false
	}
}
