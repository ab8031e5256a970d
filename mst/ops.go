package mst

import (
	"bytes"
	"context"
	"fmt"

	"github.com/ipfs/go-cid"

	"github.com/rookery-social/rookery/blockstore"
)

// Get returns the value CID for key, or false if absent. The walk is
// purely structural: O(depth) node reads, no layer computation.
func (t *Tree) Get(ctx context.Context, key string) (cid.Cid, bool, error) {
	k, err := validateKey(key)
	if err != nil {
		return cid.Undef, false, err
	}
	return lookup(ctx, t.bs, t.root, k)
}

// Add inserts a new key. It fails with ErrDuplicateKey if the key is
// already present; use Update to replace a value. Returns the new root.
func (t *Tree) Add(ctx context.Context, key string, val cid.Cid) (cid.Cid, error) {
	k, err := validateKey(key)
	if err != nil {
		return cid.Undef, err
	}
	if !val.Defined() {
		return cid.Undef, fmt.Errorf("add %q: undefined value CID", key)
	}
	root, err := readNode(ctx, t.bs, t.root)
	if err != nil {
		return cid.Undef, err
	}
	keyLayer := leadingZeros(k)

	var newRoot *node
	if root.empty() {
		newRoot = &node{entries: []nodeEntry{leafEntry(k, val)}}
	} else {
		rootLayer, err := layerOf(ctx, t.bs, root)
		if err != nil {
			return cid.Undef, err
		}
		switch {
		case keyLayer > rootLayer:
			newRoot, err = t.growAbove(ctx, root, rootLayer, k, val, keyLayer)
		default:
			newRoot, err = t.addAt(ctx, root, rootLayer, k, val, keyLayer)
		}
		if err != nil {
			return cid.Undef, fmt.Errorf("add %q: %w", key, err)
		}
	}
	c, err := storeNode(ctx, t.bs, newRoot)
	if err != nil {
		return cid.Undef, err
	}
	t.root = c
	return c, nil
}

// Update replaces the value of an existing key; ErrKeyNotFound if absent.
func (t *Tree) Update(ctx context.Context, key string, val cid.Cid) (cid.Cid, error) {
	k, err := validateKey(key)
	if err != nil {
		return cid.Undef, err
	}
	if !val.Defined() {
		return cid.Undef, fmt.Errorf("update %q: undefined value CID", key)
	}
	root, err := readNode(ctx, t.bs, t.root)
	if err != nil {
		return cid.Undef, err
	}
	newRoot, err := t.updateAt(ctx, root, k, val)
	if err != nil {
		return cid.Undef, fmt.Errorf("update %q: %w", key, err)
	}
	c, err := storeNode(ctx, t.bs, newRoot)
	if err != nil {
		return cid.Undef, err
	}
	t.root = c
	return c, nil
}

// Delete removes a key; ErrKeyNotFound if absent. Subtrees left adjacent
// by the removal are merged and a pass-through top is trimmed away, so
// the resulting shape matches what building the remaining set from
// scratch would produce.
func (t *Tree) Delete(ctx context.Context, key string) (cid.Cid, error) {
	k, err := validateKey(key)
	if err != nil {
		return cid.Undef, err
	}
	root, err := readNode(ctx, t.bs, t.root)
	if err != nil {
		return cid.Undef, err
	}
	newRoot, err := t.deleteAt(ctx, root, k)
	if err != nil {
		return cid.Undef, fmt.Errorf("delete %q: %w", key, err)
	}
	for len(newRoot.entries) == 1 && newRoot.entries[0].kind == entryTree {
		newRoot, err = readNode(ctx, t.bs, newRoot.entries[0].tree)
		if err != nil {
			return cid.Undef, err
		}
	}
	c, err := storeNode(ctx, t.bs, newRoot)
	if err != nil {
		return cid.Undef, err
	}
	t.root = c
	return c, nil
}

func lookup(ctx context.Context, src blockstore.Source, root cid.Cid, k []byte) (cid.Cid, bool, error) {
	cur := root
	for {
		n, err := readNode(ctx, src, cur)
		if err != nil {
			return cid.Undef, false, err
		}
		i := n.findGteLeaf(k)
		if i < len(n.entries) && bytes.Equal(n.entries[i].key, k) {
			return n.entries[i].val, true, nil
		}
		if i > 0 && n.entries[i-1].kind == entryTree {
			cur = n.entries[i-1].tree
			continue
		}
		return cid.Undef, false, nil
	}
}

// growAbove raises the tree so the new key lands at its mandated layer
// above the current root: the existing tree is split around the key and
// each half re-rooted with pass-through parents up to one layer below
// the key.
func (t *Tree) growAbove(ctx context.Context, root *node, rootLayer int, k []byte, val cid.Cid, keyLayer int) (*node, error) {
	left, right, err := t.splitAround(ctx, root, k)
	if err != nil {
		return nil, err
	}
	for l := rootLayer + 1; l < keyLayer; l++ {
		left, err = t.parentOf(ctx, left)
		if err != nil {
			return nil, err
		}
		right, err = t.parentOf(ctx, right)
		if err != nil {
			return nil, err
		}
	}
	entries := []nodeEntry{}
	if left != nil {
		c, err := storeNode(ctx, t.bs, left)
		if err != nil {
			return nil, err
		}
		entries = append(entries, treeEntry(c))
	}
	entries = append(entries, leafEntry(k, val))
	if right != nil {
		c, err := storeNode(ctx, t.bs, right)
		if err != nil {
			return nil, err
		}
		entries = append(entries, treeEntry(c))
	}
	return &node{entries: entries}, nil
}

// parentOf wraps a node in a pass-through parent one layer up. nil stays
// nil so empty halves never materialize.
func (t *Tree) parentOf(ctx context.Context, n *node) (*node, error) {
	if n == nil {
		return nil, nil
	}
	c, err := storeNode(ctx, t.bs, n)
	if err != nil {
		return nil, err
	}
	return &node{entries: []nodeEntry{treeEntry(c)}}, nil
}

func (t *Tree) addAt(ctx context.Context, n *node, nLayer int, k []byte, val cid.Cid, keyLayer int) (*node, error) {
	n = n.clone()
	i := n.findGteLeaf(k)
	if keyLayer == nLayer {
		if i < len(n.entries) && bytes.Equal(n.entries[i].key, k) {
			return nil, ErrDuplicateKey
		}
		if i > 0 && n.entries[i-1].kind == entryTree {
			// the bracketing subtree straddles the new key
			child, err := readNode(ctx, t.bs, n.entries[i-1].tree)
			if err != nil {
				return nil, err
			}
			left, right, err := t.splitAround(ctx, child, k)
			if err != nil {
				return nil, err
			}
			repl := []nodeEntry{}
			if left != nil {
				c, err := storeNode(ctx, t.bs, left)
				if err != nil {
					return nil, err
				}
				repl = append(repl, treeEntry(c))
			}
			repl = append(repl, leafEntry(k, val))
			if right != nil {
				c, err := storeNode(ctx, t.bs, right)
				if err != nil {
					return nil, err
				}
				repl = append(repl, treeEntry(c))
			}
			n.entries = spliceEntries(n.entries, i-1, 1, repl...)
			return n, nil
		}
		n.entries = spliceEntries(n.entries, i, 0, leafEntry(k, val))
		return n, nil
	}

	// keyLayer < nLayer: the key lives somewhere below
	if i > 0 && n.entries[i-1].kind == entryTree {
		child, err := readNode(ctx, t.bs, n.entries[i-1].tree)
		if err != nil {
			return nil, err
		}
		newChild, err := t.addAt(ctx, child, nLayer-1, k, val, keyLayer)
		if err != nil {
			return nil, err
		}
		c, err := storeNode(ctx, t.bs, newChild)
		if err != nil {
			return nil, err
		}
		n.entries[i-1].tree = c
		return n, nil
	}

	// no bracketing subtree: hang a fresh chain down to the key's layer
	sub := &node{entries: []nodeEntry{leafEntry(k, val)}}
	var err error
	for l := keyLayer; l < nLayer-1; l++ {
		sub, err = t.parentOf(ctx, sub)
		if err != nil {
			return nil, err
		}
	}
	c, err := storeNode(ctx, t.bs, sub)
	if err != nil {
		return nil, err
	}
	n.entries = spliceEntries(n.entries, i, 0, treeEntry(c))
	return n, nil
}

// splitAround partitions a subtree into the part strictly left of key
// and the part strictly right, recursing into the one child that
// straddles it. Either side may come back nil.
func (t *Tree) splitAround(ctx context.Context, n *node, k []byte) (*node, *node, error) {
	i := n.findGteLeaf(k)
	le := append([]nodeEntry(nil), n.entries[:i]...)
	re := append([]nodeEntry(nil), n.entries[i:]...)
	if len(le) > 0 && le[len(le)-1].kind == entryTree {
		child, err := readNode(ctx, t.bs, le[len(le)-1].tree)
		if err != nil {
			return nil, nil, err
		}
		subLeft, subRight, err := t.splitAround(ctx, child, k)
		if err != nil {
			return nil, nil, err
		}
		le = le[:len(le)-1]
		if subLeft != nil {
			c, err := storeNode(ctx, t.bs, subLeft)
			if err != nil {
				return nil, nil, err
			}
			le = append(le, treeEntry(c))
		}
		if subRight != nil {
			c, err := storeNode(ctx, t.bs, subRight)
			if err != nil {
				return nil, nil, err
			}
			re = append([]nodeEntry{treeEntry(c)}, re...)
		}
	}
	var left, right *node
	if len(le) > 0 {
		left = &node{entries: le}
	}
	if len(re) > 0 {
		right = &node{entries: re}
	}
	return left, right, nil
}

func (t *Tree) updateAt(ctx context.Context, n *node, k []byte, val cid.Cid) (*node, error) {
	n = n.clone()
	i := n.findGteLeaf(k)
	if i < len(n.entries) && bytes.Equal(n.entries[i].key, k) {
		n.entries[i].val = val
		return n, nil
	}
	if i > 0 && n.entries[i-1].kind == entryTree {
		child, err := readNode(ctx, t.bs, n.entries[i-1].tree)
		if err != nil {
			return nil, err
		}
		newChild, err := t.updateAt(ctx, child, k, val)
		if err != nil {
			return nil, err
		}
		c, err := storeNode(ctx, t.bs, newChild)
		if err != nil {
			return nil, err
		}
		n.entries[i-1].tree = c
		return n, nil
	}
	return nil, ErrKeyNotFound
}

func (t *Tree) deleteAt(ctx context.Context, n *node, k []byte) (*node, error) {
	n = n.clone()
	i := n.findGteLeaf(k)
	if i < len(n.entries) && bytes.Equal(n.entries[i].key, k) {
		prevTree := i > 0 && n.entries[i-1].kind == entryTree
		nextTree := i+1 < len(n.entries) && n.entries[i+1].kind == entryTree
		if prevTree && nextTree {
			// removal makes the neighbors adjacent; merge them or the
			// final shape would depend on operation order
			left, err := readNode(ctx, t.bs, n.entries[i-1].tree)
			if err != nil {
				return nil, err
			}
			right, err := readNode(ctx, t.bs, n.entries[i+1].tree)
			if err != nil {
				return nil, err
			}
			merged, err := t.mergeNodes(ctx, left, right)
			if err != nil {
				return nil, err
			}
			c, err := storeNode(ctx, t.bs, merged)
			if err != nil {
				return nil, err
			}
			n.entries = spliceEntries(n.entries, i-1, 3, treeEntry(c))
		} else {
			n.entries = spliceEntries(n.entries, i, 1)
		}
		return n, nil
	}
	if i > 0 && n.entries[i-1].kind == entryTree {
		child, err := readNode(ctx, t.bs, n.entries[i-1].tree)
		if err != nil {
			return nil, err
		}
		newChild, err := t.deleteAt(ctx, child, k)
		if err != nil {
			return nil, err
		}
		if newChild.empty() {
			n.entries = spliceEntries(n.entries, i-1, 1)
			return n, nil
		}
		c, err := storeNode(ctx, t.bs, newChild)
		if err != nil {
			return nil, err
		}
		n.entries[i-1].tree = c
		return n, nil
	}
	return nil, ErrKeyNotFound
}

func (t *Tree) mergeNodes(ctx context.Context, a, b *node) (*node, error) {
	entries := append([]nodeEntry(nil), a.entries...)
	rest := b.entries
	if len(entries) > 0 && entries[len(entries)-1].kind == entryTree &&
		len(rest) > 0 && rest[0].kind == entryTree {
		left, err := readNode(ctx, t.bs, entries[len(entries)-1].tree)
		if err != nil {
			return nil, err
		}
		right, err := readNode(ctx, t.bs, rest[0].tree)
		if err != nil {
			return nil, err
		}
		merged, err := t.mergeNodes(ctx, left, right)
		if err != nil {
			return nil, err
		}
		c, err := storeNode(ctx, t.bs, merged)
		if err != nil {
			return nil, err
		}
		entries[len(entries)-1] = treeEntry(c)
		rest = rest[1:]
	}
	entries = append(entries, rest...)
	return &node{entries: entries}, nil
}
