package mst

import (
	"bytes"
	"context"
	"fmt"

	"github.com/ipfs/go-cid"

	"github.com/rookery-social/rookery/blockstore"
)

// Change records one key whose mapping differs between two snapshots.
// Old is undefined for additions, New for deletions.
type Change struct {
	Key string
	Old cid.Cid
	New cid.Cid
}

// Diff is the delta between two tree snapshots. Changes are in key
// order. NewBlocks are blocks reachable from the new root but not the
// old one; RemovedBlocks the converse. RemovedBlocks may overcount when
// a block is shared through a subtree the walk pruned, so treat it as a
// garbage-collection hint, not a precise refcount.
type Diff struct {
	Added   []Change
	Updated []Change
	Deleted []Change

	NewBlocks     []cid.Cid
	RemovedBlocks []cid.Cid
}

// diff cursors hold a mixed stack of unexpanded subtree links and
// leaves, leftmost on top, so the two sides advance through their key
// spaces in lock step.
type diffItem struct {
	link cid.Cid // defined for links
	key  []byte  // set for leaves
	val  cid.Cid
}

func (it *diffItem) isLink() bool { return it.link.Defined() }

type diffStack struct {
	items []diffItem
	seen  map[cid.Cid]struct{}
}

func newDiffStack(root cid.Cid) *diffStack {
	s := &diffStack{seen: make(map[cid.Cid]struct{})}
	if root.Defined() {
		s.items = []diffItem{{link: root}}
	}
	return s
}

func (s *diffStack) top() *diffItem {
	if len(s.items) == 0 {
		return nil
	}
	return &s.items[len(s.items)-1]
}

func (s *diffStack) pop() diffItem {
	it := s.items[len(s.items)-1]
	s.items = s.items[:len(s.items)-1]
	return it
}

// expand replaces the top link with its node's entries, leftmost on top,
// and marks the node CID as visited on this side.
func (s *diffStack) expand(ctx context.Context, src blockstore.Source, nodes map[cid.Cid]*node) error {
	it := s.pop()
	s.seen[it.link] = struct{}{}
	n, ok := nodes[it.link]
	if !ok {
		var err error
		n, err = readNode(ctx, src, it.link)
		if err != nil {
			return err
		}
		nodes[it.link] = n
	}
	for i := len(n.entries) - 1; i >= 0; i-- {
		e := n.entries[i]
		if e.kind == entryTree {
			s.items = append(s.items, diffItem{link: e.tree})
		} else {
			s.items = append(s.items, diffItem{key: e.key, val: e.val})
		}
	}
	return nil
}

// DiffTrees computes the delta from oldRoot to newRoot, both readable
// from src. An undefined oldRoot diffs against the empty set. Equal
// subtree CIDs are pruned without loading, so the cost scales with the
// size of the change, not the size of the tree.
func DiffTrees(ctx context.Context, src blockstore.Source, oldRoot, newRoot cid.Cid) (*Diff, error) {
	if oldRoot.Defined() && oldRoot.Equals(newRoot) {
		return &Diff{}, nil
	}
	old := newDiffStack(oldRoot)
	fresh := newDiffStack(newRoot)
	nodes := make(map[cid.Cid]*node)
	d := &Diff{}

	for len(old.items) > 0 || len(fresh.items) > 0 {
		a, b := old.top(), fresh.top()
		switch {
		case a != nil && b != nil && a.isLink() && b.isLink() && a.link.Equals(b.link):
			// identical subtrees: skip, and count the root for both
			// sides so it never shows up in either block delta
			old.seen[a.link] = struct{}{}
			fresh.seen[b.link] = struct{}{}
			old.pop()
			fresh.pop()
		case a != nil && a.isLink():
			if err := old.expand(ctx, src, nodes); err != nil {
				return nil, fmt.Errorf("diff old side: %w", err)
			}
		case b != nil && b.isLink():
			if err := fresh.expand(ctx, src, nodes); err != nil {
				return nil, fmt.Errorf("diff new side: %w", err)
			}
		case a == nil:
			it := fresh.pop()
			fresh.seen[it.val] = struct{}{}
			d.Added = append(d.Added, Change{Key: string(it.key), New: it.val})
		case b == nil:
			it := old.pop()
			old.seen[it.val] = struct{}{}
			d.Deleted = append(d.Deleted, Change{Key: string(it.key), Old: it.val})
		default:
			switch bytes.Compare(a.key, b.key) {
			case 0:
				if !a.val.Equals(b.val) {
					d.Updated = append(d.Updated, Change{Key: string(a.key), Old: a.val, New: b.val})
				}
				old.seen[a.val] = struct{}{}
				fresh.seen[b.val] = struct{}{}
				old.pop()
				fresh.pop()
			case -1:
				it := old.pop()
				old.seen[it.val] = struct{}{}
				d.Deleted = append(d.Deleted, Change{Key: string(it.key), Old: it.val})
			default:
				it := fresh.pop()
				fresh.seen[it.val] = struct{}{}
				d.Added = append(d.Added, Change{Key: string(it.key), New: it.val})
			}
		}
	}

	for c := range fresh.seen {
		if _, ok := old.seen[c]; !ok {
			d.NewBlocks = append(d.NewBlocks, c)
		}
	}
	for c := range old.seen {
		if _, ok := fresh.seen[c]; !ok {
			d.RemovedBlocks = append(d.RemovedBlocks, c)
		}
	}
	return d, nil
}
