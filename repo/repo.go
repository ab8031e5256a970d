// Package repo implements the signed commit log over a Merkle Search
// Tree: each account's records live in one tree, and every mutation
// produces a new signed commit object whose adoption is guarded by a
// compare-and-swap on the account's head pointer.
package repo

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/ipfs/go-cid"

	"github.com/rookery-social/rookery/blockstore"
	"github.com/rookery-social/rookery/car"
	"github.com/rookery-social/rookery/codec"
	"github.com/rookery-social/rookery/mst"
)

// CommitVersion is the commit object format version this engine writes.
const CommitVersion = 3

// Commit is the signed head object: the account identity, the record
// tree root, a strictly increasing revision, an optional link to the
// previous commit, and a signature over the unsigned form.
type Commit struct {
	DID     string   `cborgen:"did"`
	Rev     string   `cborgen:"rev"`
	Sig     []byte   `cborgen:"sig"`
	Data    cid.Cid  `cborgen:"data"`
	Prev    *cid.Cid `cborgen:"prev"`
	Version int64    `cborgen:"version"`
}

// UnsignedCommit is the byte-exact signing payload: Commit minus Sig.
type UnsignedCommit struct {
	DID     string   `cborgen:"did"`
	Rev     string   `cborgen:"rev"`
	Data    cid.Cid  `cborgen:"data"`
	Prev    *cid.Cid `cborgen:"prev"`
	Version int64    `cborgen:"version"`
}

// Unsigned strips the signature for verification.
func (c *Commit) Unsigned() *UnsignedCommit {
	return &UnsignedCommit{
		DID:     c.DID,
		Rev:     c.Rev,
		Data:    c.Data,
		Prev:    c.Prev,
		Version: c.Version,
	}
}

// SigningBytes returns the bytes a signature must cover.
func (u *UnsignedCommit) SigningBytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := u.MarshalCBOR(&buf); err != nil {
		return nil, fmt.Errorf("marshal unsigned commit: %w", err)
	}
	return buf.Bytes(), nil
}

// ErrCommitConflict is returned when the head moved between reading it
// and attempting to advance it. The caller's writes were not adopted;
// re-read and retry.
var ErrCommitConflict = errors.New("commit conflict: head advanced concurrently")

// InvalidRecordError rejects a single write before any commit is built.
type InvalidRecordError struct {
	Key    string
	Reason string
}

func (e *InvalidRecordError) Error() string {
	return fmt.Sprintf("invalid record %q: %s", e.Key, e.Reason)
}

// RecordSwapError is returned when a write's SwapRecord precondition did
// not match the record's current value. Expected or Actual may be nil,
// meaning "absent".
type RecordSwapError struct {
	Key      string
	Expected *cid.Cid
	Actual   *cid.Cid
}

func (e *RecordSwapError) Error() string {
	return fmt.Sprintf("record swap conflict on %q: expected %s, found %s",
		e.Key, cidOrAbsent(e.Expected), cidOrAbsent(e.Actual))
}

func cidOrAbsent(c *cid.Cid) string {
	if c == nil {
		return "(absent)"
	}
	return c.String()
}

// SignFunc signs the unsigned-commit bytes.
type SignFunc func(ctx context.Context, unsigned []byte) ([]byte, error)

// Ed25519Signer adapts an ed25519 private key to SignFunc.
func Ed25519Signer(priv ed25519.PrivateKey) SignFunc {
	return func(_ context.Context, unsigned []byte) ([]byte, error) {
		return ed25519.Sign(priv, unsigned), nil
	}
}

// WriteOp is the kind of a single record mutation.
type WriteOp int

const (
	WriteCreate WriteOp = iota
	WriteUpdate
	WriteDelete
)

func (op WriteOp) String() string {
	switch op {
	case WriteCreate:
		return "create"
	case WriteUpdate:
		return "update"
	case WriteDelete:
		return "delete"
	default:
		return fmt.Sprintf("writeop(%d)", int(op))
	}
}

// Write is one record mutation inside a commit. Record holds the
// record's canonical encoded bytes (unused for deletes). SwapRecord, if
// set, requires the record's current value CID to match before the
// write applies; for creates it must be nil.
type Write struct {
	Op         WriteOp
	Key        string
	Record     []byte
	SwapRecord *cid.Cid
}

// EventOp mirrors one applied Write in the emitted event.
type EventOp struct {
	Action string
	Key    string
	Cid    *cid.Cid // nil for deletes
}

// Event describes one adopted commit: its sequence number in this
// process, the commit itself, and a bundle holding every block the
// commit introduced, rooted at the commit CID. Subscribers can apply
// the bundle directly without refetching.
type Event struct {
	Seq    int64
	DID    string
	Commit cid.Cid
	Rev    string
	Prev   *cid.Cid
	Ops    []EventOp
	Blocks *car.Bundle
}

// Config assembles a repository.
type Config struct {
	DID     string
	Storage blockstore.RepoStorage
	Sign    SignFunc
	// Logger defaults to slog's package default.
	Logger *slog.Logger
	// OnCommit, if set, is called synchronously after every adopted
	// commit, in adoption order.
	OnCommit func(context.Context, *Event)
	// ClockID distinguishes concurrent writers in revision strings.
	ClockID uint32
}

// Repo is a single account's commit log. It is safe for concurrent use;
// local writers are serialized, and the storage-level head CAS guards
// against writers in other processes.
type Repo struct {
	did      string
	storage  blockstore.RepoStorage
	sign     SignFunc
	log      *slog.Logger
	clock    *tidClock
	onCommit func(context.Context, *Event)

	mu  sync.Mutex
	seq atomic.Int64
}

// Open validates the configuration and returns a repository handle. The
// account may or may not already have commits in storage.
func Open(cfg Config) (*Repo, error) {
	if cfg.DID == "" {
		return nil, errors.New("repo: DID is required")
	}
	if cfg.Storage == nil {
		return nil, errors.New("repo: storage is required")
	}
	if cfg.Sign == nil {
		return nil, errors.New("repo: signing function is required")
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Repo{
		did:      cfg.DID,
		storage:  cfg.Storage,
		sign:     cfg.Sign,
		log:      log.With("did", cfg.DID),
		clock:    newTIDClock(cfg.ClockID),
		onCommit: cfg.OnCommit,
	}, nil
}

// DID returns the account identity this repository commits for.
func (r *Repo) DID() string { return r.did }

// Head returns the current head commit CID, or cid.Undef before the
// first commit.
func (r *Repo) Head(ctx context.Context) (cid.Cid, error) {
	return r.storage.GetHead(ctx, r.did)
}

// ApplyWrites applies a batch of record mutations as one commit. The
// batch is atomic: either every write lands in the new commit or the
// repository is unchanged. If swapCommit is non-nil, the commit only
// applies while the head still equals *swapCommit (cid.Undef meaning
// "no commits yet"); either way a concurrent head advance during the
// attempt surfaces as ErrCommitConflict.
func (r *Repo) ApplyWrites(ctx context.Context, writes []Write, swapCommit *cid.Cid) (*Event, error) {
	if len(writes) == 0 {
		return nil, errors.New("repo: empty write batch")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	head, err := r.storage.GetHead(ctx, r.did)
	if err != nil {
		return nil, fmt.Errorf("read head: %w", err)
	}
	if swapCommit != nil && !swapCommit.Equals(head) {
		return nil, fmt.Errorf("%w: head is %s, caller expected %s",
			ErrCommitConflict, cidOrNone(head), cidOrNone(*swapCommit))
	}

	// Stage everything in an overlay; nothing touches durable storage
	// until the whole batch has applied cleanly.
	staging := blockstore.NewOverlay(r.storage)

	var (
		oldRoot cid.Cid
		prev    *cid.Cid
		tree    *mst.Tree
	)
	if head.Defined() {
		prevCommit, err := r.loadCommit(ctx, head)
		if err != nil {
			return nil, err
		}
		r.clock.observe(prevCommit.Rev)
		oldRoot = prevCommit.Data
		h := head
		prev = &h
		tree = mst.Load(staging, oldRoot)
	} else {
		tree, err = mst.New(ctx, staging)
		if err != nil {
			return nil, err
		}
	}

	ops := make([]EventOp, 0, len(writes))
	for _, w := range writes {
		op, err := r.applyWrite(ctx, staging, tree, w)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}

	rev := r.clock.next()
	unsigned := &UnsignedCommit{
		DID:     r.did,
		Rev:     rev,
		Data:    tree.Root(),
		Prev:    prev,
		Version: CommitVersion,
	}
	payload, err := unsigned.SigningBytes()
	if err != nil {
		return nil, err
	}
	sig, err := r.sign(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("sign commit: %w", err)
	}
	commit := &Commit{
		DID:     unsigned.DID,
		Rev:     unsigned.Rev,
		Sig:     sig,
		Data:    unsigned.Data,
		Prev:    unsigned.Prev,
		Version: unsigned.Version,
	}
	commitCid, commitBytes, err := codec.Encode(commit)
	if err != nil {
		return nil, fmt.Errorf("encode commit: %w", err)
	}

	diff, err := mst.DiffTrees(ctx, staging, oldRoot, tree.Root())
	if err != nil {
		return nil, fmt.Errorf("diff trees: %w", err)
	}

	blocks := car.NewBundle(commitCid)
	blocks.Add(commitCid, commitBytes)
	for _, c := range diff.NewBlocks {
		data, err := staging.Get(ctx, c)
		if err != nil {
			return nil, fmt.Errorf("collect new block %s: %w", c, err)
		}
		blocks.Add(c, data)
	}

	// Durable block writes precede the head swap. If the swap loses, the
	// orphaned blocks are unreachable and harmless; storage-level sweeps
	// can reclaim them.
	err = blocks.Each(func(c cid.Cid, data []byte) error {
		if _, err := r.storage.Put(ctx, data); err != nil {
			return fmt.Errorf("persist block %s: %w", c, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := r.storage.AdvanceHead(ctx, r.did, head, commitCid); err != nil {
		if errors.Is(err, blockstore.ErrHeadConflict) {
			return nil, fmt.Errorf("%w: %v", ErrCommitConflict, err)
		}
		return nil, fmt.Errorf("advance head: %w", err)
	}

	ev := &Event{
		Seq:    r.seq.Add(1),
		DID:    r.did,
		Commit: commitCid,
		Rev:    rev,
		Prev:   prev,
		Ops:    ops,
		Blocks: blocks,
	}
	r.log.Info("commit adopted",
		"commit", commitCid.String(),
		"rev", rev,
		"writes", len(writes),
		"new_blocks", blocks.Len(),
	)
	if r.onCommit != nil {
		r.onCommit(ctx, ev)
	}
	return ev, nil
}

func (r *Repo) applyWrite(ctx context.Context, staging blockstore.Store, tree *mst.Tree, w Write) (EventOp, error) {
	none := EventOp{}
	switch w.Op {
	case WriteCreate:
		if len(w.Record) == 0 {
			return none, &InvalidRecordError{Key: w.Key, Reason: "create with empty record"}
		}
		if w.SwapRecord != nil {
			return none, &InvalidRecordError{Key: w.Key, Reason: "create cannot carry a swap precondition"}
		}
		recCid, err := staging.Put(ctx, w.Record)
		if err != nil {
			return none, fmt.Errorf("store record %q: %w", w.Key, err)
		}
		if _, err := tree.Add(ctx, w.Key, recCid); err != nil {
			if errors.Is(err, mst.ErrDuplicateKey) {
				cur, _, _ := tree.Get(ctx, w.Key)
				return none, &RecordSwapError{Key: w.Key, Actual: &cur}
			}
			return none, wrapWriteErr(w.Key, err)
		}
		return EventOp{Action: "create", Key: w.Key, Cid: &recCid}, nil

	case WriteUpdate:
		if len(w.Record) == 0 {
			return none, &InvalidRecordError{Key: w.Key, Reason: "update with empty record"}
		}
		if err := r.checkSwap(ctx, tree, w); err != nil {
			return none, err
		}
		recCid, err := staging.Put(ctx, w.Record)
		if err != nil {
			return none, fmt.Errorf("store record %q: %w", w.Key, err)
		}
		if _, err := tree.Update(ctx, w.Key, recCid); err != nil {
			return none, wrapWriteErr(w.Key, err)
		}
		return EventOp{Action: "update", Key: w.Key, Cid: &recCid}, nil

	case WriteDelete:
		if err := r.checkSwap(ctx, tree, w); err != nil {
			return none, err
		}
		if _, err := tree.Delete(ctx, w.Key); err != nil {
			return none, wrapWriteErr(w.Key, err)
		}
		return EventOp{Action: "delete", Key: w.Key}, nil

	default:
		return none, &InvalidRecordError{Key: w.Key, Reason: fmt.Sprintf("unknown operation %d", w.Op)}
	}
}

// checkSwap enforces a write's SwapRecord precondition against the
// record's current value.
func (r *Repo) checkSwap(ctx context.Context, tree *mst.Tree, w Write) error {
	if w.SwapRecord == nil {
		return nil
	}
	cur, ok, err := tree.Get(ctx, w.Key)
	if err != nil {
		return fmt.Errorf("read record %q: %w", w.Key, err)
	}
	if !ok {
		return &RecordSwapError{Key: w.Key, Expected: w.SwapRecord}
	}
	if !cur.Equals(*w.SwapRecord) {
		return &RecordSwapError{Key: w.Key, Expected: w.SwapRecord, Actual: &cur}
	}
	return nil
}

func wrapWriteErr(key string, err error) error {
	if errors.Is(err, mst.ErrKeyNotFound) {
		return &InvalidRecordError{Key: key, Reason: "record does not exist"}
	}
	if errors.Is(err, mst.ErrInvalidKey) {
		return &InvalidRecordError{Key: key, Reason: err.Error()}
	}
	return err
}

func (r *Repo) loadCommit(ctx context.Context, c cid.Cid) (*Commit, error) {
	data, err := r.storage.Get(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("load commit %s: %w", c, err)
	}
	var commit Commit
	if err := codec.Decode(data, &commit); err != nil {
		return nil, fmt.Errorf("parse commit %s: %w", c, err)
	}
	if commit.Version != CommitVersion {
		return nil, fmt.Errorf("commit %s: unsupported version %d", c, commit.Version)
	}
	return &commit, nil
}

func cidOrNone(c cid.Cid) string {
	if !c.Defined() {
		return "(none)"
	}
	return c.String()
}
