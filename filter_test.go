package coltab

import (
	"bytes"
	"errors"
	"math"
	"testing"
)

func TestBlock_RoundTrip(t *testing.T) {
	raw := make([]byte, 0, 8*4096)
	for i := range 4096 {
		raw = appendFloat(raw, math.Floor(float64(i)/8)*0.5)
	}
	noise := make([]byte, 1000)
	for i := range noise {
		noise[i] = byte(i*7919 + i*i*31)
	}

	filters := []Filter{
		{},
		{Level: 0, Codec: CodecZstd},
		{Level: 1, Codec: CodecLZ4},
		{Level: 9, Codec: CodecLZ4, Shuffle: true},
		{Level: 5, Codec: CodecZlib},
		{Level: 3, Codec: CodecZstd, Shuffle: true},
		{Level: 9, Codec: CodecZstd},
	}
	for _, f := range filters {
		t.Run(f.String(), func(t *testing.T) {
			for _, data := range [][]byte{raw, noise, nil, {1, 2, 3}} {
				block := must(encodeBlock(f, data, 8))
				got := must(decodeBlock(block))
				if !bytes.Equal(got, data) {
					t.Fatalf("decodeBlock(encodeBlock(%d bytes)) returned %d different bytes", len(data), len(got))
				}
				if len(block) > blockHeaderSize+len(data) {
					t.Errorf("block of %d bytes is larger than raw %d plus header", len(block), len(data))
				}
				deepEqual(t, blockRawLen(block), len(data))
			}
			if f.Enabled() {
				block := must(encodeBlock(f, raw, 8))
				if len(block) >= len(raw) {
					t.Errorf("%v: compressed %d bytes into %d", f, len(raw), len(block))
				}
			}
		})
	}
}

func appendFloat(buf []byte, v float64) []byte {
	bb := bytesBuilder{Buf: buf}
	bb.AppendUint64LE(math.Float64bits(v))
	return bb.Buf
}

func TestBlock_Corruption(t *testing.T) {
	data := bytes.Repeat([]byte("columnar "), 100)
	for _, f := range []Filter{{}, {Level: 5, Codec: CodecLZ4}, {Level: 5, Codec: CodecZlib}, {Level: 5, Codec: CodecZstd}} {
		block := must(encodeBlock(f, data, 1))

		flipped := bytes.Clone(block)
		flipped[len(flipped)-1] ^= 0x55
		_, err := decodeBlock(flipped)
		var derr *DataError
		if !errors.As(err, &derr) {
			t.Errorf("%v: decodeBlock(corrupted) = %v, wanted *DataError", f, err)
		}

		_, err = decodeBlock(block[:len(block)-1])
		if !errors.As(err, &derr) {
			t.Errorf("%v: decodeBlock(truncated) = %v, wanted *DataError", f, err)
		}
	}
	_, err := decodeBlock([]byte{1, 2, 3})
	var derr *DataError
	if !errors.As(err, &derr) {
		t.Errorf("decodeBlock(short) = %v, wanted *DataError", err)
	}
}

func TestShuffle(t *testing.T) {
	raw := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}
	s := shuffle(nil, raw, 4)
	deepEqual(t, s, []byte{1, 5, 2, 6, 3, 7, 4, 8, 9, 10, 11})
	deepEqual(t, unshuffle(s, 4), raw)
}

func TestParseCodec(t *testing.T) {
	for in, want := range map[string]Codec{"": CodecNone, "none": CodecNone, "LZ4": CodecLZ4, "blosc": CodecLZ4, "zlib": CodecZlib, " zstd ": CodecZstd} {
		deepEqual(t, must(ParseCodec(in)), want)
	}
	if _, err := ParseCodec("bzip2"); err == nil {
		t.Errorf("ParseCodec(bzip2) succeeded, wanted error")
	}
}

func TestFilter_Validate(t *testing.T) {
	for _, f := range []Filter{{Level: -1, Codec: CodecZlib}, {Level: 10, Codec: CodecLZ4}, {Level: 1, Codec: Codec(42)}} {
		var serr *SchemaError
		if err := f.validate(); !errors.As(err, &serr) {
			t.Errorf("%#v.validate() = %v, wanted *SchemaError", f, err)
		}
	}
	ensure(Filter{Level: 9, Codec: CodecZstd, Shuffle: true}.validate())
}

func TestTable_CompressionIsTransparent(t *testing.T) {
	eachBackend(t, func(t *testing.T, c *Conn) {
		const n = 5000
		var sizes []int64
		for _, f := range []Filter{{}, {Level: 5, Codec: CodecLZ4, Shuffle: true}, {Level: 5, Codec: CodecZlib, Shuffle: true}, {Level: 3, Codec: CodecZstd}} {
			tbl := must(c.CreateTable("/t_"+f.Codec.String(), readingSchema, TableOptions{Filter: f, ExpectedRows: n}))
			appendReadings(t, tbl, n)
			deepEqual(t, rowValues(must(tbl.Read())), readingValues(n))
			sizes = append(sizes, tbl.SizeOnDisk())

			stats := must(c.Stats(tbl.Path()))
			deepEqual(t, stats.Rows, int64(n))
			deepEqual(t, stats.RawBytes, int64(n*readingSchema.RowWidth()))
			deepEqual(t, stats.StoredBytes, tbl.SizeOnDisk())
		}
		for i, size := range sizes[1:] {
			if size >= sizes[0] {
				t.Errorf("filter #%d stored %d bytes, wanted less than unfiltered %d", i+1, size, sizes[0])
			}
		}
	})
}
