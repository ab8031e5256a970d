package mst

import (
	"context"
	"errors"

	"github.com/ipfs/go-cid"

	"github.com/rookery-social/rookery/blockstore"
	"github.com/rookery-social/rookery/codec"
)

// ErrStopIteration aborts a walk early without surfacing an error to the
// caller.
var ErrStopIteration = errors.New("stop iteration")

// ForEach calls fn for every leaf in key order. Returning
// ErrStopIteration from fn ends the walk cleanly.
func (t *Tree) ForEach(ctx context.Context, fn func(key string, val cid.Cid) error) error {
	err := walkLeaves(ctx, t.bs, t.root, fn)
	if errors.Is(err, ErrStopIteration) {
		return nil
	}
	return err
}

// Leaves materializes the whole tree as an ordered slice.
func (t *Tree) Leaves(ctx context.Context) ([]Leaf, error) {
	var out []Leaf
	err := t.ForEach(ctx, func(key string, val cid.Cid) error {
		out = append(out, Leaf{Key: key, Val: val})
		return nil
	})
	return out, err
}

// Len counts the leaves. It walks the whole tree.
func (t *Tree) Len(ctx context.Context) (int, error) {
	n := 0
	err := t.ForEach(ctx, func(string, cid.Cid) error {
		n++
		return nil
	})
	return n, err
}

func walkLeaves(ctx context.Context, src blockstore.Source, root cid.Cid, fn func(string, cid.Cid) error) error {
	n, err := readNode(ctx, src, root)
	if err != nil {
		return err
	}
	for _, e := range n.entries {
		switch e.kind {
		case entryTree:
			if err := walkLeaves(ctx, src, e.tree, fn); err != nil {
				return err
			}
		case entryLeaf:
			if err := fn(string(e.key), e.val); err != nil {
				return err
			}
		}
	}
	return nil
}

// PathForKey returns, from an arbitrary Source, the node CIDs on the
// search path for key, top down, plus the leaf if the key is present.
// The path is exactly the block set a verifier needs to check the key's
// presence or absence against the root.
func PathForKey(ctx context.Context, src blockstore.Source, root cid.Cid, key string) ([]cid.Cid, *Leaf, error) {
	k, err := validateKey(key)
	if err != nil {
		return nil, nil, err
	}
	var path []cid.Cid
	cur := root
	for {
		path = append(path, cur)
		n, err := readNode(ctx, src, cur)
		if err != nil {
			return nil, nil, err
		}
		i := n.findGteLeaf(k)
		if i < len(n.entries) && string(n.entries[i].key) == key {
			return path, &Leaf{Key: key, Val: n.entries[i].val}, nil
		}
		if i > 0 && n.entries[i-1].kind == entryTree {
			cur = n.entries[i-1].tree
			continue
		}
		return path, nil, nil
	}
}

// WalkReachable visits every block reachable from root: tree nodes and
// the value blocks their leaves point at, each exactly once. fn receives
// nil data for value blocks the source does not hold; node blocks must
// be present or the walk fails.
func WalkReachable(ctx context.Context, src blockstore.Source, root cid.Cid, fn func(c cid.Cid, data []byte) error) error {
	seen := make(map[cid.Cid]struct{})
	return walkReachable(ctx, src, root, seen, fn)
}

func walkReachable(ctx context.Context, src blockstore.Source, c cid.Cid, seen map[cid.Cid]struct{}, fn func(cid.Cid, []byte) error) error {
	if _, ok := seen[c]; ok {
		return nil
	}
	seen[c] = struct{}{}
	data, err := src.Get(ctx, c)
	if err != nil {
		return err
	}
	if err := fn(c, data); err != nil {
		return err
	}
	var nd NodeData
	if err := codec.Decode(data, &nd); err != nil {
		return err
	}
	n, err := nodeFromData(&nd)
	if err != nil {
		return err
	}
	for _, e := range n.entries {
		switch e.kind {
		case entryTree:
			if err := walkReachable(ctx, src, e.tree, seen, fn); err != nil {
				return err
			}
		case entryLeaf:
			if _, ok := seen[e.val]; ok {
				continue
			}
			seen[e.val] = struct{}{}
			vdata, err := src.Get(ctx, e.val)
			if err != nil {
				if errors.Is(err, blockstore.ErrMissingBlock) {
					vdata = nil
				} else {
					return err
				}
			}
			if err := fn(e.val, vdata); err != nil {
				return err
			}
		}
	}
	return nil
}
