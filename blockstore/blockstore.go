// Package blockstore provides content-addressed block storage: an
// in-memory staging store, a durable bbolt-backed store, an S3-backed
// store, and the narrow capability interfaces the repository engine is
// written against.
//
// Blocks are immutable (CID, bytes) pairs. A store never fabricates
// content and never mutates a block in place; storing identical bytes
// twice is a no-op that yields the same CID.
package blockstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ipfs/go-cid"
)

// Source is the read capability over a set of blocks.
type Source interface {
	// Get returns the bytes stored for c, or an error unwrapping to
	// ErrMissingBlock if the block is absent.
	Get(ctx context.Context, c cid.Cid) ([]byte, error)
	// Has reports whether the block is present without fetching it.
	Has(ctx context.Context, c cid.Cid) (bool, error)
	// GetBlocks fetches a batch, returning what was found and which
	// CIDs were missing. Absence of some blocks is not an error here;
	// callers decide whether missing is fatal.
	GetBlocks(ctx context.Context, cids []cid.Cid) (found map[cid.Cid][]byte, missing []cid.Cid, err error)
}

// Store is the read/write capability over a set of blocks.
type Store interface {
	Source
	// Put computes the canonical CID for data, stores it idempotently,
	// and returns the CID.
	Put(ctx context.Context, data []byte) (cid.Cid, error)
	// Delete removes a block if present. It is the caller's
	// responsibility to ensure the block is unreferenced.
	Delete(ctx context.Context, c cid.Cid) error
	// Entries invokes fn for every stored block, in unspecified order.
	// Iteration stops at the first error, which is returned.
	Entries(ctx context.Context, fn func(c cid.Cid, data []byte) error) error
	// Len returns the number of stored blocks.
	Len() int
}

// HeadStore holds the per-account head commit pointer. AdvanceHead is the
// only contended operation in the engine and must be atomic.
type HeadStore interface {
	// GetHead returns the CID of the account's latest commit, or
	// cid.Undef if the account has no commits.
	GetHead(ctx context.Context, did string) (cid.Cid, error)
	// AdvanceHead moves the head from expectedPrev to next, atomically.
	// cid.Undef for expectedPrev asserts that no head exists yet. If the
	// stored head does not match expectedPrev, AdvanceHead returns an
	// error unwrapping to ErrHeadConflict and changes nothing.
	AdvanceHead(ctx context.Context, did string, expectedPrev, next cid.Cid) error
}

// RepoStorage is the full storage capability a repository commits against.
type RepoStorage interface {
	Store
	HeadStore
}

// ErrMissingBlock matches any missing-block failure, via errors.Is.
var ErrMissingBlock = errors.New("missing block")

// ErrHeadConflict is returned by AdvanceHead when the stored head does not
// match the caller's expectation. The caller must re-read the head and
// retry; nothing was changed.
var ErrHeadConflict = errors.New("head pointer conflict")

// MissingBlocksError reports one or more referenced CIDs that were absent
// from the supplied block set.
type MissingBlocksError struct {
	Cids []cid.Cid
}

func (e *MissingBlocksError) Error() string {
	if len(e.Cids) == 1 {
		return fmt.Sprintf("missing block %s", e.Cids[0])
	}
	strs := make([]string, len(e.Cids))
	for i, c := range e.Cids {
		strs[i] = c.String()
	}
	return fmt.Sprintf("missing %d blocks: %s", len(e.Cids), strings.Join(strs, ", "))
}

func (e *MissingBlocksError) Unwrap() error { return ErrMissingBlock }
