// Package proof builds and checks Merkle proofs against commit roots.
// An inclusion proof is the minimal bundle of blocks a verifier needs
// to confirm that a key maps to a value under a commit; an absence
// proof confirms a key is unbound. Verification is sound against
// adversarial bundles: every block is re-hashed, and a missing block
// fails the check rather than proving anything.
package proof

import (
	"context"
	"errors"
	"fmt"

	"github.com/ipfs/go-cid"

	"github.com/rookery-social/rookery/blockstore"
	"github.com/rookery-social/rookery/car"
	"github.com/rookery-social/rookery/codec"
	"github.com/rookery-social/rookery/mst"
	"github.com/rookery-social/rookery/repo"
)

var (
	// ErrProofInvalid is returned when a proof bundle does not establish
	// the claimed fact.
	ErrProofInvalid = errors.New("proof does not establish claim")
	// ErrIncomplete is returned when a bundle is missing blocks the
	// verification path needs.
	ErrIncomplete = errors.New("proof bundle incomplete")
)

// verifying re-hashes every fetched block, so a tampered bundle fails
// closed before its contents are interpreted.
type verifying struct {
	src blockstore.Source
}

func (v verifying) Get(ctx context.Context, c cid.Cid) ([]byte, error) {
	data, err := v.src.Get(ctx, c)
	if err != nil {
		return nil, err
	}
	if err := codec.Verify(c, data); err != nil {
		return nil, err
	}
	return data, nil
}

func (v verifying) Has(ctx context.Context, c cid.Cid) (bool, error) {
	return v.src.Has(ctx, c)
}

func (v verifying) GetBlocks(ctx context.Context, cids []cid.Cid) (map[cid.Cid][]byte, []cid.Cid, error) {
	found := make(map[cid.Cid][]byte, len(cids))
	var missing []cid.Cid
	for _, c := range cids {
		data, err := v.Get(ctx, c)
		if err != nil {
			if errors.Is(err, blockstore.ErrMissingBlock) {
				missing = append(missing, c)
				continue
			}
			return nil, nil, err
		}
		found[c] = data
	}
	return found, missing, nil
}

// BuildInclusion assembles the proof bundle for one key under the
// commit at head: the commit block, the tree nodes on the key's search
// path, and the record block when the key is bound. The same bundle
// proves absence when it is not.
func BuildInclusion(ctx context.Context, src blockstore.Source, head cid.Cid, key string) (*car.Bundle, error) {
	view, err := repo.OpenReadable(ctx, src, head)
	if err != nil {
		return nil, err
	}
	b := car.NewBundle(head)
	commitData, err := src.Get(ctx, head)
	if err != nil {
		return nil, err
	}
	b.Add(head, commitData)

	path, leaf, err := mst.PathForKey(ctx, src, view.DataRoot(), key)
	if err != nil {
		return nil, fmt.Errorf("walk path for %q: %w", key, err)
	}
	for _, c := range path {
		data, err := src.Get(ctx, c)
		if err != nil {
			return nil, err
		}
		b.Add(c, data)
	}
	if leaf != nil {
		data, err := src.Get(ctx, leaf.Val)
		if err != nil {
			return nil, fmt.Errorf("load record block for %q: %w", key, err)
		}
		b.Add(leaf.Val, data)
	}
	return b, nil
}

// VerifyInclusion checks that bundle proves key -> want under the
// commit the caller trusts. root anchors the whole check: a bundle
// whose declared root differs is rejected outright, so a prover cannot
// substitute a commit of its own choosing. Any missing or mismatched
// block fails the proof; absence of the key fails it too.
func VerifyInclusion(ctx context.Context, root cid.Cid, bundle *car.Bundle, key string, want cid.Cid) error {
	leaf, err := provenLeaf(ctx, root, bundle, key)
	if err != nil {
		return err
	}
	if leaf == nil {
		return fmt.Errorf("%w: key %q is absent", ErrProofInvalid, key)
	}
	if !leaf.Val.Equals(want) {
		return fmt.Errorf("%w: key %q maps to %s, not %s", ErrProofInvalid, key, leaf.Val, want)
	}
	return nil
}

// VerifyAbsence checks that bundle proves key is unbound under the
// commit the caller trusts, identified by root. A bundle missing path
// blocks proves nothing and fails with ErrIncomplete.
func VerifyAbsence(ctx context.Context, root cid.Cid, bundle *car.Bundle, key string) error {
	leaf, err := provenLeaf(ctx, root, bundle, key)
	if err != nil {
		return err
	}
	if leaf != nil {
		return fmt.Errorf("%w: key %q is bound to %s", ErrProofInvalid, key, leaf.Val)
	}
	return nil
}

func provenLeaf(ctx context.Context, root cid.Cid, bundle *car.Bundle, key string) (*mst.Leaf, error) {
	if err := checkRoot(root, bundle); err != nil {
		return nil, err
	}
	src := verifying{bundle}
	view, err := repo.OpenReadable(ctx, src, root)
	if err != nil {
		return nil, verifyErr(err)
	}
	_, leaf, err := mst.PathForKey(ctx, src, view.DataRoot(), key)
	if err != nil {
		return nil, verifyErr(err)
	}
	return leaf, nil
}

// checkRoot pins a bundle to the commit the verifier already trusts.
func checkRoot(root cid.Cid, bundle *car.Bundle) error {
	if !root.Defined() {
		return fmt.Errorf("%w: no trusted root given", ErrProofInvalid)
	}
	if len(bundle.Roots) != 1 {
		return fmt.Errorf("%w: want exactly one root, got %d", ErrProofInvalid, len(bundle.Roots))
	}
	if !bundle.Roots[0].Equals(root) {
		return fmt.Errorf("%w: bundle is rooted at %s, not the trusted %s", ErrProofInvalid, bundle.Roots[0], root)
	}
	return nil
}

// verifyErr folds block-level failures into the proof error taxonomy:
// gaps are ErrIncomplete, tampering stays an UnexpectedObject error.
func verifyErr(err error) error {
	if errors.Is(err, blockstore.ErrMissingBlock) {
		return fmt.Errorf("%w: %v", ErrIncomplete, err)
	}
	return err
}

// BuildSnapshot assembles a full-repository bundle for the commit at
// head: the commit, every tree node, and every record block. A record
// block missing from src fails the build; a snapshot must be complete.
func BuildSnapshot(ctx context.Context, src blockstore.Source, head cid.Cid) (*car.Bundle, error) {
	view, err := repo.OpenReadable(ctx, src, head)
	if err != nil {
		return nil, err
	}
	b := car.NewBundle(head)
	commitData, err := src.Get(ctx, head)
	if err != nil {
		return nil, err
	}
	b.Add(head, commitData)
	err = mst.WalkReachable(ctx, src, view.DataRoot(), func(c cid.Cid, data []byte) error {
		if data == nil {
			return fmt.Errorf("record block %s: %w", c, blockstore.ErrMissingBlock)
		}
		b.Add(c, data)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk snapshot: %w", err)
	}
	return b, nil
}

// VerifySnapshot checks a snapshot bundle end to end against the commit
// the caller trusts: the bundle must be rooted at root, the commit
// parses, every reachable block is present and hashes to its CID, and
// the tree decodes as a well-formed ordered index. On success it
// returns a read-only view over the bundle.
func VerifySnapshot(ctx context.Context, root cid.Cid, bundle *car.Bundle) (*repo.ReadableRepo, error) {
	if err := checkRoot(root, bundle); err != nil {
		return nil, err
	}
	src := verifying{bundle}
	view, err := repo.OpenReadable(ctx, src, root)
	if err != nil {
		return nil, verifyErr(err)
	}
	err = mst.WalkReachable(ctx, src, view.DataRoot(), func(c cid.Cid, data []byte) error {
		if data == nil {
			return fmt.Errorf("record block %s: %w", c, blockstore.ErrMissingBlock)
		}
		return nil
	})
	if err != nil {
		return nil, verifyErr(err)
	}
	return view, nil
}
