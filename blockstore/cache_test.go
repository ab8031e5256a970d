package blockstore

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingSource counts Get calls that reach the backend.
type countingSource struct {
	Source
	gets atomic.Int64
}

func (s *countingSource) Get(ctx context.Context, c cid.Cid) ([]byte, error) {
	s.gets.Add(1)
	return s.Source.Get(ctx, c)
}

func TestCachedAvoidsRepeatFetches(t *testing.T) {
	t.Parallel()
	base := NewMemory()
	ctx := context.Background()
	c, err := base.Put(ctx, []byte("popular block"))
	require.NoError(t, err)

	counting := &countingSource{Source: base}
	cached, err := NewCached(counting, 16)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		data, err := cached.Get(ctx, c)
		require.NoError(t, err)
		assert.Equal(t, []byte("popular block"), data)
	}
	assert.Equal(t, int64(1), counting.gets.Load())

	ok, err := cached.Has(ctx, c)
	require.NoError(t, err)
	assert.True(t, ok)
}

// faultySource fails every read with the same error.
type faultySource struct {
	err error
}

func (s faultySource) Get(ctx context.Context, c cid.Cid) ([]byte, error) {
	return nil, s.err
}

func (s faultySource) Has(ctx context.Context, c cid.Cid) (bool, error) {
	return false, s.err
}

func (s faultySource) GetBlocks(ctx context.Context, cids []cid.Cid) (map[cid.Cid][]byte, []cid.Cid, error) {
	return nil, nil, s.err
}

func TestCachedGetBlocksPropagatesBackendFault(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	boom := errors.New("backend unavailable")
	cached, err := NewCached(faultySource{err: boom}, 16)
	require.NoError(t, err)

	c, err := NewMemory().Put(ctx, []byte("whatever"))
	require.NoError(t, err)

	// a backend fault is not a missing block
	_, missing, err := cached.GetBlocks(ctx, []cid.Cid{c})
	require.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrMissingBlock)
	assert.Empty(t, missing)
}

func TestCachedDoesNotCacheMisses(t *testing.T) {
	t.Parallel()
	base := NewMemory()
	ctx := context.Background()
	counting := &countingSource{Source: base}
	cached, err := NewCached(counting, 16)
	require.NoError(t, err)

	data := []byte("late arrival")
	c, err := base.Put(ctx, data) // compute the CID without exposing it yet
	require.NoError(t, err)
	require.NoError(t, base.Delete(ctx, c))

	_, err = cached.Get(ctx, c)
	assert.ErrorIs(t, err, ErrMissingBlock)

	// once the block lands in the backend, the cache must see it
	_, err = base.Put(ctx, data)
	require.NoError(t, err)
	got, err := cached.Get(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}
