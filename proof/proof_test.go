package proof

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rookery-social/rookery/blockstore"
	"github.com/rookery-social/rookery/car"
	"github.com/rookery-social/rookery/codec"
	"github.com/rookery-social/rookery/mst"
	"github.com/rookery-social/rookery/repo"
)

// seedRepo commits n records and returns the storage and head.
func seedRepo(t *testing.T, n int) (blockstore.RepoStorage, cid.Cid) {
	t.Helper()
	storage := blockstore.NewMemory()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	r, err := repo.Open(repo.Config{
		DID:     "did:example:carol",
		Storage: storage,
		Sign:    repo.Ed25519Signer(priv),
	})
	require.NoError(t, err)

	writes := make([]repo.Write, 0, n)
	for i := 0; i < n; i++ {
		writes = append(writes, repo.Write{
			Op:     repo.WriteCreate,
			Key:    fmt.Sprintf("app.feed.post/%04d", i),
			Record: []byte(fmt.Sprintf(`{"n":%d}`, i)),
		})
	}
	ev, err := r.ApplyWrites(context.Background(), writes, nil)
	require.NoError(t, err)
	return storage, ev.Commit
}

func TestInclusionProofRoundTrip(t *testing.T) {
	t.Parallel()
	storage, head := seedRepo(t, 100)
	ctx := context.Background()

	view, err := repo.OpenReadable(ctx, storage, head)
	require.NoError(t, err)
	want, _, ok, err := view.GetRecord(ctx, "app.feed.post/0042")
	require.NoError(t, err)
	require.True(t, ok)

	bundle, err := BuildInclusion(ctx, storage, head, "app.feed.post/0042")
	require.NoError(t, err)
	// a proof is far smaller than the repository
	assert.Less(t, bundle.Len(), storage.Len())

	require.NoError(t, VerifyInclusion(ctx, head, bundle, "app.feed.post/0042", want))

	// wrong value claim fails
	other, err := codec.Sum([]byte("not the record"))
	require.NoError(t, err)
	assert.ErrorIs(t, VerifyInclusion(ctx, head, bundle, "app.feed.post/0042", other), ErrProofInvalid)
}

func TestProofSurvivesSerialization(t *testing.T) {
	t.Parallel()
	storage, head := seedRepo(t, 50)
	ctx := context.Background()

	view, err := repo.OpenReadable(ctx, storage, head)
	require.NoError(t, err)
	want, _, ok, err := view.GetRecord(ctx, "app.feed.post/0007")
	require.NoError(t, err)
	require.True(t, ok)

	bundle, err := BuildInclusion(ctx, storage, head, "app.feed.post/0007")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, bundle.Write(&buf))
	received, err := car.Read(&buf)
	require.NoError(t, err)

	require.NoError(t, VerifyInclusion(ctx, head, received, "app.feed.post/0007", want))
}

func TestAbsenceProof(t *testing.T) {
	t.Parallel()
	storage, head := seedRepo(t, 100)
	ctx := context.Background()

	bundle, err := BuildInclusion(ctx, storage, head, "app.feed.post/nope")
	require.NoError(t, err)
	require.NoError(t, VerifyAbsence(ctx, head, bundle, "app.feed.post/nope"))

	// a present key must not verify as absent
	present, err := BuildInclusion(ctx, storage, head, "app.feed.post/0001")
	require.NoError(t, err)
	assert.ErrorIs(t, VerifyAbsence(ctx, head, present, "app.feed.post/0001"), ErrProofInvalid)
}

func TestForeignRootedBundleRejected(t *testing.T) {
	t.Parallel()
	_, headA := seedRepo(t, 40)
	storageB, headB := seedRepo(t, 60)
	require.False(t, headA.Equals(headB))
	ctx := context.Background()

	view, err := repo.OpenReadable(ctx, storageB, headB)
	require.NoError(t, err)
	want, _, ok, err := view.GetRecord(ctx, "app.feed.post/0005")
	require.NoError(t, err)
	require.True(t, ok)

	// a proof built from B must not verify for a caller trusting A's head
	bundle, err := BuildInclusion(ctx, storageB, headB, "app.feed.post/0005")
	require.NoError(t, err)
	assert.ErrorIs(t, VerifyInclusion(ctx, headA, bundle, "app.feed.post/0005", want), ErrProofInvalid)
	assert.ErrorIs(t, VerifyAbsence(ctx, headA, bundle, "app.feed.post/nope"), ErrProofInvalid)

	snap, err := BuildSnapshot(ctx, storageB, headB)
	require.NoError(t, err)
	_, err = VerifySnapshot(ctx, headA, snap)
	assert.ErrorIs(t, err, ErrProofInvalid)

	// an undefined trusted root never verifies either
	assert.ErrorIs(t, VerifyInclusion(ctx, cid.Undef, bundle, "app.feed.post/0005", want), ErrProofInvalid)
}

func TestMissingBlocksProveNothing(t *testing.T) {
	t.Parallel()
	storage, head := seedRepo(t, 100)
	ctx := context.Background()

	full, err := BuildInclusion(ctx, storage, head, "app.feed.post/0042")
	require.NoError(t, err)

	// rebuild the bundle without the deepest tree node on the path
	view, err := repo.OpenReadable(ctx, storage, head)
	require.NoError(t, err)
	path, leaf, err := mst.PathForKey(ctx, storage, view.DataRoot(), "app.feed.post/0042")
	require.NoError(t, err)
	require.NotNil(t, leaf)
	drop := path[len(path)-1]

	gutted := car.NewBundle(full.Roots...)
	require.NoError(t, full.Each(func(c cid.Cid, data []byte) error {
		if c.Equals(drop) {
			return nil
		}
		gutted.Add(c, data)
		return nil
	}))

	err = VerifyAbsence(ctx, head, gutted, "app.feed.post/0042")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIncomplete)
	assert.NotErrorIs(t, err, ErrProofInvalid)
}

func TestTamperedBlockRejected(t *testing.T) {
	t.Parallel()
	storage, head := seedRepo(t, 20)
	ctx := context.Background()

	view, err := repo.OpenReadable(ctx, storage, head)
	require.NoError(t, err)
	want, _, _, err := view.GetRecord(ctx, "app.feed.post/0003")
	require.NoError(t, err)

	bundle, err := BuildInclusion(ctx, storage, head, "app.feed.post/0003")
	require.NoError(t, err)

	// copy the bundle, flipping one byte in one non-root block
	tampered := car.NewBundle(bundle.Roots...)
	flipped := false
	require.NoError(t, bundle.Each(func(c cid.Cid, data []byte) error {
		if !flipped && !c.Equals(bundle.Roots[0]) {
			data = append([]byte(nil), data...)
			data[0] ^= 0x80
			flipped = true
		}
		tampered.Add(c, data)
		return nil
	}))
	require.True(t, flipped)

	err = VerifyInclusion(ctx, head, tampered, "app.feed.post/0003", want)
	require.Error(t, err)
	assert.ErrorIs(t, err, codec.ErrUnexpectedObject)
}

func TestSnapshotRoundTrip(t *testing.T) {
	t.Parallel()
	storage, head := seedRepo(t, 75)
	ctx := context.Background()

	snap, err := BuildSnapshot(ctx, storage, head)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, snap.Write(&buf))
	received, err := car.Read(&buf)
	require.NoError(t, err)

	view, err := VerifySnapshot(ctx, head, received)
	require.NoError(t, err)
	assert.Equal(t, "did:example:carol", view.DID())

	count := 0
	require.NoError(t, view.ForEachRecord(ctx, func(key string, _ cid.Cid) error {
		count++
		return nil
	}))
	assert.Equal(t, 75, count)
}

func TestIncompleteSnapshotRejected(t *testing.T) {
	t.Parallel()
	storage, head := seedRepo(t, 30)
	ctx := context.Background()

	snap, err := BuildSnapshot(ctx, storage, head)
	require.NoError(t, err)

	// drop one non-root block
	gutted := car.NewBundle(snap.Roots...)
	dropped := false
	require.NoError(t, snap.Each(func(c cid.Cid, data []byte) error {
		if !dropped && !c.Equals(snap.Roots[0]) {
			dropped = true
			return nil
		}
		gutted.Add(c, data)
		return nil
	}))
	require.True(t, dropped)

	_, err = VerifySnapshot(ctx, head, gutted)
	require.Error(t, err)
}
