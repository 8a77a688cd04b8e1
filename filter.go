package coltab

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zlib"
	"github.com/pierrec/lz4/v4"
)

// Codec selects the block compressor of a Filter.
type Codec uint8

const (
	CodecNone Codec = iota
	// CodecLZ4 is the fast, blosc-like codec.
	CodecLZ4
	CodecZlib
	CodecZstd
)

var codecNames = []string{"none", "lz4", "zlib", "zstd"}

func (c Codec) String() string {
	if int(c) < len(codecNames) {
		return codecNames[c]
	}
	return fmt.Sprintf("Codec(%d)", uint8(c))
}

// ParseCodec accepts none, lz4, blosc (an alias of lz4), zlib and zstd.
func ParseCodec(s string) (Codec, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "", "none":
		return CodecNone, nil
	case "lz4", "blosc":
		return CodecLZ4, nil
	case "zlib":
		return CodecZlib, nil
	case "zstd":
		return CodecZstd, nil
	default:
		return 0, fmt.Errorf("unknown codec %q", s)
	}
}

// Filter is the compression policy of a table or array, fixed at creation.
// Readers never need to know it: every stored block describes itself.
type Filter struct {
	Level   int   `msgpack:"l"`
	Codec   Codec `msgpack:"c"`
	Shuffle bool  `msgpack:"s,omitempty"`
}

// Enabled reports whether blocks are compressed at all.
func (f Filter) Enabled() bool {
	return f.Level > 0 && f.Codec != CodecNone
}

func (f Filter) String() string {
	if !f.Enabled() {
		return "none"
	}
	s := fmt.Sprintf("%v:%d", f.Codec, f.Level)
	if f.Shuffle {
		s += "+shuffle"
	}
	return s
}

func (f Filter) validate() error {
	if f.Level < 0 || f.Level > 9 {
		return schemaErrf("", nil, "compression level must be within 0..9, got %d", f.Level)
	}
	if int(f.Codec) >= len(codecNames) {
		return schemaErrf("", nil, "unknown codec %v", f.Codec)
	}
	return nil
}

// Block format: codec u8 | shuffle width u8 | raw length u32 | stored length u32 |
// xxhash64 of the raw bytes u64 | stored bytes. Blocks that do not shrink are
// stored raw with codec none.
const blockHeaderSize = 18

func encodeBlock(f Filter, raw []byte, elemWidth int) ([]byte, error) {
	codec := CodecNone
	var stored []byte
	var shuffleWidth int
	if f.Enabled() && len(raw) > 0 {
		src := raw
		if f.Shuffle && elemWidth > 1 && elemWidth < 256 {
			scratch := getScratch(len(raw))
			defer releaseScratch(scratch)
			src = shuffle(scratch, raw, elemWidth)
			shuffleWidth = elemWidth
		}
		compressed, err := compress(f, src)
		if err != nil {
			return nil, err
		}
		if compressed != nil && len(compressed) < len(raw) {
			codec = f.Codec
			stored = compressed
		} else {
			shuffleWidth = 0
		}
	}
	if codec == CodecNone {
		stored = raw
	}

	bb := bytesBuilder{Buf: make([]byte, 0, blockHeaderSize+len(stored))}
	bb.WriteByte(byte(codec))
	bb.WriteByte(byte(shuffleWidth))
	bb.AppendUint32LE(uint32(len(raw)))
	bb.AppendUint32LE(uint32(len(stored)))
	bb.AppendUint64LE(xxhash.Sum64(raw))
	bb.Write(stored)
	return bb.Buf, nil
}

// blockRawLen is the decoded size recorded in a block header.
func blockRawLen(block []byte) int {
	return int(binary.LittleEndian.Uint32(block[2:]))
}

func decodeBlock(block []byte) ([]byte, error) {
	if len(block) < blockHeaderSize {
		return nil, dataErrf(block, 0, nil, "block too short for header")
	}
	codec := Codec(block[0])
	shuffleWidth := int(block[1])
	rawLen := int(binary.LittleEndian.Uint32(block[2:]))
	storedLen := int(binary.LittleEndian.Uint32(block[6:]))
	sum := binary.LittleEndian.Uint64(block[10:])
	if len(block) != blockHeaderSize+storedLen {
		return nil, dataErrf(block, 2, nil, "block holds %d bytes, header says %d", len(block)-blockHeaderSize, storedLen)
	}
	stored := block[blockHeaderSize:]

	var raw []byte
	var err error
	switch codec {
	case CodecNone:
		raw = bytes.Clone(stored)
	case CodecLZ4:
		raw = make([]byte, rawLen)
		var n int
		n, err = lz4.UncompressBlock(stored, raw)
		if err == nil && n != rawLen {
			err = fmt.Errorf("lz4: decompressed %d bytes, wanted %d", n, rawLen)
		}
	case CodecZlib:
		var r io.ReadCloser
		r, err = zlib.NewReader(bytes.NewReader(stored))
		if err == nil {
			raw = make([]byte, rawLen)
			_, err = io.ReadFull(r, raw)
			r.Close()
		}
	case CodecZstd:
		dec := getZstdDecoder()
		raw, err = dec.DecodeAll(stored, make([]byte, 0, rawLen))
		putZstdDecoder(dec)
		if err == nil && len(raw) != rawLen {
			err = fmt.Errorf("zstd: decompressed %d bytes, wanted %d", len(raw), rawLen)
		}
	default:
		return nil, dataErrf(block, 0, nil, "unknown codec %d", codec)
	}
	if err != nil {
		return nil, dataErrf(block, blockHeaderSize, err, "cannot decompress %v block", codec)
	}
	if shuffleWidth > 1 {
		raw = unshuffle(raw, shuffleWidth)
	}
	if xxhash.Sum64(raw) != sum {
		return nil, dataErrf(block, 10, nil, "checksum mismatch")
	}
	return raw, nil
}

// compress returns nil when the codec declines to compress the input.
func compress(f Filter, src []byte) ([]byte, error) {
	switch f.Codec {
	case CodecLZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(src)))
		var n int
		var err error
		if f.Level >= 6 {
			n, err = lz4.CompressBlockHC(src, dst, lz4Levels[f.Level-1], nil, nil)
		} else {
			n, err = lz4.CompressBlock(src, dst, nil)
		}
		if err != nil {
			return nil, fmt.Errorf("lz4: %w", err)
		}
		if n == 0 {
			return nil, nil
		}
		return dst[:n], nil
	case CodecZlib:
		var buf bytes.Buffer
		w, err := zlib.NewWriterLevel(&buf, f.Level)
		if err != nil {
			return nil, fmt.Errorf("zlib: %w", err)
		}
		if _, err := w.Write(src); err != nil {
			return nil, fmt.Errorf("zlib: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("zlib: %w", err)
		}
		return buf.Bytes(), nil
	case CodecZstd:
		enc, err := getZstdEncoder(f.Level)
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		out := enc.EncodeAll(src, nil)
		putZstdEncoder(f.Level, enc)
		return out, nil
	default:
		return nil, nil
	}
}

var lz4Levels = [9]lz4.CompressionLevel{
	lz4.Level1, lz4.Level2, lz4.Level3, lz4.Level4, lz4.Level5,
	lz4.Level6, lz4.Level7, lz4.Level8, lz4.Level9,
}

// shuffle groups the i-th byte of every element together, which makes runs
// of similar numbers far more compressible.
func shuffle(dst, raw []byte, width int) []byte {
	n := len(raw) / width
	out := ensureCapacity(dst[:0], len(raw))[:len(raw)]
	for i := 0; i < n; i++ {
		for j := 0; j < width; j++ {
			out[j*n+i] = raw[i*width+j]
		}
	}
	copy(out[n*width:], raw[n*width:])
	return out
}

func unshuffle(data []byte, width int) []byte {
	n := len(data) / width
	out := make([]byte, len(data))
	for i := 0; i < n; i++ {
		for j := 0; j < width; j++ {
			out[i*width+j] = data[j*n+i]
		}
	}
	copy(out[n*width:], data[n*width:])
	return out
}
