// Package mst implements a Merkle Search Tree: a deterministic,
// persistent, ordered index from record key to value CID, stored as
// immutable content-addressed nodes in a block store.
//
// An entry's layer (distance from the leaves) is a pure function of a
// hash of its key, so the tree converges to the same shape -- and the
// same root CID -- for a given key/value set no matter what sequence of
// inserts, updates and deletes produced it. Equal subtree CIDs imply
// equal contents, which is what makes diffing and sync proofs cheap.
//
// The layer rule is an interoperability constant fixed by the protocol:
// count the leading 2-bit zero groups of SHA-256(key), giving 4-way
// fanout per layer. Deviating from it silently breaks CID compatibility
// with every peer, so it is not configurable.
package mst

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/ipfs/go-cid"

	"github.com/rookery-social/rookery/blockstore"
	"github.com/rookery-social/rookery/codec"
)

var (
	// ErrDuplicateKey is returned by Add when the key is already present.
	ErrDuplicateKey = errors.New("key already present in tree")
	// ErrKeyNotFound is returned by Update and Delete when the key is absent.
	ErrKeyNotFound = errors.New("key not present in tree")
	// ErrInvalidKey is returned for keys the tree will not index.
	ErrInvalidKey = errors.New("invalid key")
)

// MaxKeyLen bounds record keys; longer keys are rejected, not truncated.
const MaxKeyLen = 1024

// NodeData is the wire form of a tree node: the leftmost subtree pointer
// and the ordered leaf entries, each with an optional right subtree.
// Keys are prefix-compressed against the previous leaf in the node.
type NodeData struct {
	Entries []TreeEntry `cborgen:"e"`
	Left    *cid.Cid    `cborgen:"l"`
}

// TreeEntry is one leaf in a node's wire form.
type TreeEntry struct {
	KeySuffix []byte   `cborgen:"k"`
	PrefixLen int64    `cborgen:"p"`
	Tree      *cid.Cid `cborgen:"t"`
	Val       cid.Cid  `cborgen:"v"`
}

// Leaf is a key/value pair materialized out of the tree.
type Leaf struct {
	Key string
	Val cid.Cid
}

// Tree is a handle over one snapshot of a Merkle Search Tree. Mutating
// operations construct new nodes in the block store and move the handle
// to the new root; nodes reachable from older roots are never touched,
// so concurrent readers holding those roots need no coordination.
type Tree struct {
	bs   blockstore.Store
	root cid.Cid
}

// New stores an empty tree and returns a handle positioned at its root.
func New(ctx context.Context, bs blockstore.Store) (*Tree, error) {
	c, err := storeNode(ctx, bs, &node{})
	if err != nil {
		return nil, fmt.Errorf("store empty node: %w", err)
	}
	return &Tree{bs: bs, root: c}, nil
}

// Load returns a handle over an existing root. The root is not read
// until first use.
func Load(bs blockstore.Store, root cid.Cid) *Tree {
	return &Tree{bs: bs, root: root}
}

// Root returns the CID identifying the current snapshot.
func (t *Tree) Root() cid.Cid { return t.root }

// layer computation: leading 2-bit zero groups of SHA-256(key).
func leadingZeros(key []byte) int {
	h := sha256.Sum256(key)
	total := 0
	for _, b := range h {
		if b == 0 {
			total += 4
			continue
		}
		if b&0xc0 != 0 {
			return total
		}
		total++
		if b&0x30 != 0 {
			return total
		}
		total++
		if b&0x0c != 0 {
			return total
		}
		return total + 1
	}
	return total
}

func validateKey(key string) ([]byte, error) {
	if key == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	if len(key) > MaxKeyLen {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrInvalidKey, len(key), MaxKeyLen)
	}
	for i := 0; i < len(key); i++ {
		if key[i] == 0 {
			return nil, fmt.Errorf("%w: NUL byte at offset %d", ErrInvalidKey, i)
		}
	}
	return []byte(key), nil
}

// In-memory node form: an ordered sequence of entries, each either a
// subtree pointer or a leaf. Pointers appear at most once between
// consecutive leaves, and at the edges.
type entryKind uint8

const (
	entryTree entryKind = iota
	entryLeaf
)

type nodeEntry struct {
	kind entryKind
	key  []byte
	val  cid.Cid
	tree cid.Cid
}

type node struct {
	entries []nodeEntry
}

func leafEntry(key []byte, val cid.Cid) nodeEntry {
	return nodeEntry{kind: entryLeaf, key: key, val: val}
}

func treeEntry(c cid.Cid) nodeEntry {
	return nodeEntry{kind: entryTree, tree: c}
}

func (n *node) clone() *node {
	return &node{entries: append([]nodeEntry(nil), n.entries...)}
}

func (n *node) empty() bool { return len(n.entries) == 0 }

// passThrough reports a node holding no leaves of its own, only a
// subtree pointer. Such nodes occur wherever a key's layer is more than
// one below the node above it.
func (n *node) passThrough() bool {
	if len(n.entries) == 0 {
		return false
	}
	for _, e := range n.entries {
		if e.kind == entryLeaf {
			return false
		}
	}
	return true
}

// findGteLeaf returns the index of the first leaf entry whose key is >=
// the given key, or len(entries) if there is none. The entry directly
// before that index, if it is a pointer, roots the subtree bracketing
// the key.
func (n *node) findGteLeaf(key []byte) int {
	for i, e := range n.entries {
		if e.kind == entryLeaf && bytes.Compare(e.key, key) >= 0 {
			return i
		}
	}
	return len(n.entries)
}

func (n *node) firstLeaf() *nodeEntry {
	for i := range n.entries {
		if n.entries[i].kind == entryLeaf {
			return &n.entries[i]
		}
	}
	return nil
}

func nodeFromData(nd *NodeData) (*node, error) {
	n := &node{}
	if nd.Left != nil {
		n.entries = append(n.entries, treeEntry(*nd.Left))
	}
	var prev []byte
	for i, e := range nd.Entries {
		if e.PrefixLen < 0 || int(e.PrefixLen) > len(prev) {
			return nil, fmt.Errorf("entry %d: prefix length %d out of range", i, e.PrefixLen)
		}
		key := make([]byte, 0, int(e.PrefixLen)+len(e.KeySuffix))
		key = append(key, prev[:e.PrefixLen]...)
		key = append(key, e.KeySuffix...)
		if len(key) == 0 {
			return nil, fmt.Errorf("entry %d: empty key", i)
		}
		if prev != nil && bytes.Compare(key, prev) <= 0 {
			return nil, fmt.Errorf("entry %d: key out of order", i)
		}
		if !e.Val.Defined() {
			return nil, fmt.Errorf("entry %d: undefined value", i)
		}
		n.entries = append(n.entries, leafEntry(key, e.Val))
		if e.Tree != nil {
			n.entries = append(n.entries, treeEntry(*e.Tree))
		}
		prev = key
	}
	return n, nil
}

func (n *node) data() (*NodeData, error) {
	nd := &NodeData{Entries: []TreeEntry{}}
	i := 0
	if len(n.entries) > 0 && n.entries[0].kind == entryTree {
		c := n.entries[0].tree
		nd.Left = &c
		i = 1
	}
	var prev []byte
	for ; i < len(n.entries); i++ {
		e := n.entries[i]
		if e.kind != entryLeaf {
			return nil, fmt.Errorf("adjacent subtree pointers at entry %d", i)
		}
		p := sharedPrefixLen(prev, e.key)
		te := TreeEntry{
			PrefixLen: int64(p),
			KeySuffix: append([]byte(nil), e.key[p:]...),
			Val:       e.val,
		}
		if i+1 < len(n.entries) && n.entries[i+1].kind == entryTree {
			c := n.entries[i+1].tree
			te.Tree = &c
			i++
		}
		nd.Entries = append(nd.Entries, te)
		prev = e.key
	}
	return nd, nil
}

func sharedPrefixLen(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}

func readNode(ctx context.Context, src blockstore.Source, c cid.Cid) (*node, error) {
	data, err := src.Get(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("load node %s: %w", c, err)
	}
	var nd NodeData
	if err := codec.Decode(data, &nd); err != nil {
		return nil, fmt.Errorf("parse node %s: %w", c, err)
	}
	n, err := nodeFromData(&nd)
	if err != nil {
		return nil, fmt.Errorf("node %s: %w", c, err)
	}
	return n, nil
}

func storeNode(ctx context.Context, bs blockstore.Store, n *node) (cid.Cid, error) {
	nd, err := n.data()
	if err != nil {
		return cid.Undef, err
	}
	var buf bytes.Buffer
	if err := nd.MarshalCBOR(&buf); err != nil {
		return cid.Undef, fmt.Errorf("marshal node: %w", err)
	}
	c, err := bs.Put(ctx, buf.Bytes())
	if err != nil {
		return cid.Undef, fmt.Errorf("store node: %w", err)
	}
	return c, nil
}

// layerOf determines the node's layer. A node with a leaf takes that
// leaf's key layer; a pass-through node sits one above its child; the
// empty root is layer 0.
func layerOf(ctx context.Context, src blockstore.Source, n *node) (int, error) {
	if leaf := n.firstLeaf(); leaf != nil {
		return leadingZeros(leaf.key), nil
	}
	if len(n.entries) == 0 {
		return 0, nil
	}
	child, err := readNode(ctx, src, n.entries[0].tree)
	if err != nil {
		return 0, err
	}
	l, err := layerOf(ctx, src, child)
	if err != nil {
		return 0, err
	}
	return l + 1, nil
}

func spliceEntries(es []nodeEntry, i, del int, repl ...nodeEntry) []nodeEntry {
	out := make([]nodeEntry, 0, len(es)-del+len(repl))
	out = append(out, es[:i]...)
	out = append(out, repl...)
	out = append(out, es[i+del:]...)
	return out
}
