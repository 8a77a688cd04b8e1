package coltab

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

var scratchPool = &sync.Pool{
	New: func() any {
		return make([]byte, 0, 65536)
	},
}

// getScratch returns a pooled buffer of zero length and at least n capacity.
func getScratch(n int) []byte {
	return ensureCapacity(scratchPool.Get().([]byte)[:0], n)
}

func releaseScratch(b []byte) {
	if cap(b) > maxChunkBytes/16 {
		return
	}
	scratchPool.Put(b[:0])
}

// Encoders hold per-level state, so each level has its own pool.
var (
	zstdEncoderPools [10]sync.Pool
	zstdDecoderPool  sync.Pool
)

func getZstdEncoder(level int) (*zstd.Encoder, error) {
	if v := zstdEncoderPools[level].Get(); v != nil {
		return v.(*zstd.Encoder), nil
	}
	return zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)), zstd.WithEncoderConcurrency(1))
}

func putZstdEncoder(level int, enc *zstd.Encoder) {
	zstdEncoderPools[level].Put(enc)
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		panic(fmt.Errorf("zstd: %w", err))
	}
	return dec
}

func putZstdDecoder(dec *zstd.Decoder) {
	zstdDecoderPool.Put(dec)
}
