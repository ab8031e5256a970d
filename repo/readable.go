package repo

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/ipfs/go-cid"

	"github.com/rookery-social/rookery/blockstore"
	"github.com/rookery-social/rookery/codec"
	"github.com/rookery-social/rookery/mst"
)

// ErrBadSignature is returned when a commit's signature does not cover
// its unsigned bytes.
var ErrBadSignature = errors.New("commit signature verification failed")

// ReadableRepo is a read-only view of one commit: the snapshot of an
// account's records as of that commit. It works over any block Source,
// including a received archive bundle.
type ReadableRepo struct {
	src    blockstore.Source
	head   cid.Cid
	commit *Commit
}

// OpenReadable loads the commit at head from src and returns a view
// over its record tree.
func OpenReadable(ctx context.Context, src blockstore.Source, head cid.Cid) (*ReadableRepo, error) {
	if !head.Defined() {
		return nil, errors.New("repo: undefined head")
	}
	data, err := src.Get(ctx, head)
	if err != nil {
		return nil, fmt.Errorf("load commit %s: %w", head, err)
	}
	if err := codec.Verify(head, data); err != nil {
		return nil, err
	}
	var commit Commit
	if err := codec.Decode(data, &commit); err != nil {
		return nil, fmt.Errorf("parse commit %s: %w", head, err)
	}
	if commit.Version != CommitVersion {
		return nil, fmt.Errorf("commit %s: unsupported version %d", head, commit.Version)
	}
	return &ReadableRepo{src: src, head: head, commit: &commit}, nil
}

// Head returns the commit CID this view was opened at.
func (r *ReadableRepo) Head() cid.Cid { return r.head }

// DID returns the account identity named by the commit.
func (r *ReadableRepo) DID() string { return r.commit.DID }

// Rev returns the commit's revision string.
func (r *ReadableRepo) Rev() string { return r.commit.Rev }

// Prev returns the previous commit link, or nil for the first commit.
func (r *ReadableRepo) Prev() *cid.Cid { return r.commit.Prev }

// DataRoot returns the record tree root the commit points at.
func (r *ReadableRepo) DataRoot() cid.Cid { return r.commit.Data }

// VerifySignature checks the commit signature against an ed25519 public
// key.
func (r *ReadableRepo) VerifySignature(pub ed25519.PublicKey) error {
	payload, err := r.commit.Unsigned().SigningBytes()
	if err != nil {
		return err
	}
	if !ed25519.Verify(pub, payload, r.commit.Sig) {
		return fmt.Errorf("commit %s: %w", r.head, ErrBadSignature)
	}
	return nil
}

// GetRecord returns a record's value CID and bytes, or ok=false if the
// key is absent.
func (r *ReadableRepo) GetRecord(ctx context.Context, key string) (cid.Cid, []byte, bool, error) {
	_, leaf, err := mst.PathForKey(ctx, r.src, r.commit.Data, key)
	if err != nil {
		return cid.Undef, nil, false, err
	}
	if leaf == nil {
		return cid.Undef, nil, false, nil
	}
	data, err := r.src.Get(ctx, leaf.Val)
	if err != nil {
		return cid.Undef, nil, false, fmt.Errorf("load record %q: %w", key, err)
	}
	return leaf.Val, data, true, nil
}

// ForEachRecord visits every record in key order.
func (r *ReadableRepo) ForEachRecord(ctx context.Context, fn func(key string, val cid.Cid) error) error {
	return mst.Load(readOnly{r.src}, r.commit.Data).ForEach(ctx, fn)
}

// readOnly lifts a Source into the Store interface for components that
// only ever read. The write methods must be unreachable.
type readOnly struct {
	blockstore.Source
}

func (readOnly) Put(context.Context, []byte) (cid.Cid, error) {
	return cid.Undef, errors.New("store is read-only")
}

func (readOnly) Delete(context.Context, cid.Cid) error {
	return errors.New("store is read-only")
}

func (readOnly) Entries(context.Context, func(cid.Cid, []byte) error) error {
	return errors.New("store is read-only")
}

func (readOnly) Len() int { return 0 }
