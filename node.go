package coltab

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// NodeKind tells groups, tables and arrays apart.
type NodeKind uint8

const (
	GroupNode NodeKind = iota + 1
	TableNode
	ArrayNode
)

func (k NodeKind) String() string {
	switch k {
	case GroupNode:
		return "group"
	case TableNode:
		return "table"
	case ArrayNode:
		return "array"
	default:
		return fmt.Sprintf("NodeKind(%d)", uint8(k))
	}
}

// NodeInfo describes one node of the namespace.
type NodeInfo struct {
	Path        string
	Name        string
	Kind        NodeKind
	Title       string
	Rows        int64
	StoredBytes int64
	Created     time.Time
}

// nodeState is the document stored under _node in every node bucket.
type nodeState struct {
	Kind    NodeKind  `msgpack:"k"`
	Title   string    `msgpack:"ti,omitempty"`
	Created time.Time `msgpack:"ct"`

	Columns []Column `msgpack:"cols,omitempty"`

	Elem     ElemType `msgpack:"e,omitempty"`
	RowShape []int    `msgpack:"rs,omitempty"`

	Filter      Filter `msgpack:"f"`
	ChunkRows   int    `msgpack:"cr,omitempty"`
	Rows        int64  `msgpack:"n"`
	StoredBytes int64  `msgpack:"sb"`
}

func (st *nodeState) info(path string) NodeInfo {
	return NodeInfo{
		Path:        path,
		Name:        baseName(path),
		Kind:        st.Kind,
		Title:       st.Title,
		Rows:        st.Rows,
		StoredBytes: st.StoredBytes,
		Created:     st.Created,
	}
}

const (
	rootBucket   = "root"
	chunksBucket = "_chunks"
)

var nodeStateKey = []byte("_node")

var errInvalidPath = errors.New("invalid path")

// splitPath validates an absolute slash-separated path and returns its
// canonical form along with the bucket path that stores it.
func splitPath(p string) (string, []string, error) {
	if !strings.HasPrefix(p, "/") {
		return p, nil, fmt.Errorf("%w %q: must start with /", errInvalidPath, p)
	}
	p = strings.TrimRight(p, "/")
	if p == "" {
		return "/", []string{rootBucket}, nil
	}
	parts := strings.Split(p[1:], "/")
	bpath := make([]string, 0, len(parts)+1)
	bpath = append(bpath, rootBucket)
	for _, name := range parts {
		if err := checkNodeName(name); err != nil {
			return p, nil, fmt.Errorf("%w %q: %v", errInvalidPath, p, err)
		}
		bpath = append(bpath, name)
	}
	return p, bpath, nil
}

func checkNodeName(name string) error {
	switch {
	case name == "":
		return errors.New("empty name")
	case name == "." || name == "..":
		return fmt.Errorf("name %q is not allowed", name)
	case strings.HasPrefix(name, "_"):
		return fmt.Errorf("names starting with _ are reserved")
	case strings.ContainsRune(name, 0):
		return fmt.Errorf("name contains NUL")
	}
	return nil
}

func parentPath(p string) string {
	i := strings.LastIndexByte(p, '/')
	if i <= 0 {
		return "/"
	}
	return p[:i]
}

func baseName(p string) string {
	if p == "/" {
		return "/"
	}
	return p[strings.LastIndexByte(p, '/')+1:]
}

func joinPath(parent, name string) string {
	if parent == "/" {
		return "/" + name
	}
	return parent + "/" + name
}

// isWithin reports whether p is dir itself or lies below it.
func isWithin(p, dir string) bool {
	if dir == "/" || p == dir {
		return true
	}
	return strings.HasPrefix(p, dir+"/")
}

func (tx *dbTx) loadNode(path string, bpath []string) (storageBucket, *nodeState, error) {
	b := tx.stx.Bucket(bpath...)
	if b == nil {
		return nil, nil, ErrNotFound
	}
	raw := b.Get(nodeStateKey)
	if raw == nil {
		return nil, nil, dataErrf(nil, 0, nil, "%s has no node state", path)
	}
	st := new(nodeState)
	if err := decodeState(raw, st); err != nil {
		return nil, nil, err
	}
	return b, st, nil
}

func (tx *dbTx) loadNodeOfKind(path string, bpath []string, kind NodeKind) (storageBucket, *nodeState, error) {
	b, st, err := tx.loadNode(path, bpath)
	if err != nil {
		return nil, nil, err
	}
	if st.Kind != kind {
		return nil, nil, fmt.Errorf("%w: %s is a %v, not a %v", ErrKind, path, st.Kind, kind)
	}
	return b, st, nil
}

func (tx *dbTx) saveNode(b storageBucket, st *nodeState) error {
	return b.Put(nodeStateKey, encodeState(nil, st))
}

// createNode adds a node under an existing group.
func (tx *dbTx) createNode(path string, bpath []string, st *nodeState) (storageBucket, error) {
	if path == "/" {
		return nil, ErrExists
	}
	parent := parentPath(path)
	_, pst, err := tx.loadNode(parent, bpath[:len(bpath)-1])
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: parent group %s", ErrNotFound, parent)
	} else if err != nil {
		return nil, err
	}
	if pst.Kind != GroupNode {
		return nil, fmt.Errorf("%w: parent %s is a %v", ErrKind, parent, pst.Kind)
	}
	if tx.stx.Bucket(bpath...) != nil {
		return nil, ErrExists
	}
	b, err := tx.stx.CreateBucket(bpath...)
	if err != nil {
		return nil, err
	}
	if st.Kind != GroupNode {
		if _, err := b.CreateBucket(chunksBucket); err != nil {
			return nil, err
		}
	}
	if err := tx.saveNode(b, st); err != nil {
		return nil, err
	}
	return b, nil
}

func chunksOf(b storageBucket) (storageBucket, error) {
	c := b.Bucket(chunksBucket)
	if c == nil {
		return nil, dataErrf(nil, 0, nil, "node has no chunk bucket")
	}
	return c, nil
}

// children lists the child node names of a group bucket.
func children(b storageBucket) []string {
	names := b.Buckets()
	return slices.DeleteFunc(names, func(name string) bool {
		return strings.HasPrefix(name, "_")
	})
}

// ensureRoot creates the root group on first use.
func (tx *dbTx) ensureRoot(now time.Time) error {
	if tx.stx.Bucket(rootBucket) != nil {
		return nil
	}
	b, err := tx.stx.CreateBucket(rootBucket)
	if err != nil {
		return err
	}
	return tx.saveNode(b, &nodeState{Kind: GroupNode, Created: now})
}
