/*
Package coltab implements a hierarchical columnar store for numeric and
fixed-width text data, on top of a key-value store (Bolt, or an in-memory
equivalent for tests and scratch work).

We implement:

1. Groups, a namespace of slash-separated paths like /detector/readout.

2. Tables, fixed-schema records appended a row at a time (staged in memory
and flushed a chunk at a time) or written whole from column arrays.

3. Predicate queries over tables, like `(pressure < 1e3) & (flag != 0)`,
evaluated a chunk at a time so that only the columns the predicate names
are decoded for chunks without matches.

4. Growable arrays, N-dimensional float64 or int32 arrays extended along
their first dimension, and expressions over them like `3*sin(x)+sqrt(abs(x))`
evaluated block by block without loading whole operands.

# Technical Details

**Buckets.**
Each node is a Bolt bucket nested under its parent group, starting from the
root bucket. The node's metadata lives under the _node key as msgpack; tables
and arrays keep their data blocks in a nested _chunks bucket. Names starting
with an underscore are reserved.

**Chunks.**
A table is split into chunks of ChunkRows rows, and each chunk stores one
block per column, keyed by chunk number (uint64 BE) and column position
(uint16 BE), so a chunk's columns are adjacent and chunks sort in order.
Arrays store one block per chunk of leading-dimension rows.

## Block format

1. Codec (1 byte): none, lz4, zlib or zstd.
2. Shuffle width (1 byte): element width if bytes were shuffled, else 0.
3. Raw length (uint32 LE).
4. Stored length (uint32 LE).
5. xxhash64 of the raw bytes (uint64 LE).
6. Stored bytes.

A block is stored raw when compression does not make it smaller.

**Values.** Int32 and Float64 are little-endian; Text is NUL-padded to the
column size, so text values cannot end in NUL.

**Staging.** Rows appended one at a time are staged and written once a chunk
fills up, on Flush, and before any read. NRows counts staged rows.
*/
package coltab
