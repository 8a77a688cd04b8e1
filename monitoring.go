package coltab

import "bytes"

// NodeStats reports the physical storage of a table or array.
type NodeStats struct {
	Path   string
	Kind   NodeKind
	Rows   int64
	Chunks int
	Blocks int

	// StoredBytes is the size of the compressed blocks; RawBytes what
	// they decode to.
	StoredBytes int64
	RawBytes    int64

	DataSize  int64
	DataAlloc int64
}

// CompressionRatio is RawBytes/StoredBytes, or 1 for an empty node.
func (ns *NodeStats) CompressionRatio() float64 {
	if ns.StoredBytes == 0 {
		return 1
	}
	return float64(ns.RawBytes) / float64(ns.StoredBytes)
}

// Stats walks the chunk blocks of a table or array. Staged rows are flushed
// first.
func (c *Conn) Stats(path string) (NodeStats, error) {
	const op = "stats"
	if err := c.check(op, path); err != nil {
		return NodeStats{}, err
	}
	canon, bpath, err := splitPath(path)
	if err != nil {
		return NodeStats{}, &StorageError{path, op, err}
	}
	if h := c.lookupHandle(canon); h != nil {
		if err := h.flush(); err != nil {
			return NodeStats{}, err
		}
	}

	var result NodeStats
	err = c.view(func(tx *dbTx) error {
		b, st, err := tx.loadNode(canon, bpath)
		if err != nil {
			return err
		}
		result = NodeStats{Path: canon, Kind: st.Kind, Rows: st.Rows, StoredBytes: st.StoredBytes}
		if st.Kind == GroupNode {
			return nil
		}
		chunks, err := chunksOf(b)
		if err != nil {
			return err
		}
		bs := chunks.Stats()
		result.DataSize = bs.LeafInuse
		result.DataAlloc = bs.TotalAlloc()

		var last []byte
		cur := chunks.Cursor()
		for k, v := cur.First(); k != nil; k, v = cur.Next() {
			chunk, _, ok := parseChunkKey(k)
			if !ok {
				return dataErrf(k, 0, nil, "bad chunk key")
			}
			if last == nil || !bytes.Equal(last, arrayChunkKey(chunk)) {
				last = arrayChunkKey(chunk)
				result.Chunks++
			}
			result.Blocks++
			if len(v) >= blockHeaderSize {
				result.RawBytes += int64(blockRawLen(v))
			}
		}
		return nil
	})
	if err != nil {
		return NodeStats{}, storageErr(canon, op, err)
	}
	return result, nil
}
