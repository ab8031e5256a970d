package car

import (
	"bytes"
	"context"
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rookery-social/rookery/blockstore"
	"github.com/rookery-social/rookery/codec"
)

func mkBlock(t *testing.T, s string) (cid.Cid, []byte) {
	t.Helper()
	data := []byte(s)
	c, err := codec.Sum(data)
	require.NoError(t, err)
	return c, data
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()
	c1, d1 := mkBlock(t, "first block")
	c2, d2 := mkBlock(t, "second block")
	c3, d3 := mkBlock(t, "third block")

	b := NewBundle(c1)
	b.Add(c1, d1)
	b.Add(c2, d2)
	b.Add(c3, d3)

	var buf bytes.Buffer
	require.NoError(t, b.Write(&buf))

	got, err := Read(&buf)
	require.NoError(t, err)
	require.Len(t, got.Roots, 1)
	assert.True(t, got.Roots[0].Equals(c1))
	assert.Equal(t, 3, got.Len())

	data, err := got.Get(context.Background(), c2)
	require.NoError(t, err)
	assert.Equal(t, d2, data)
}

func TestBlockOrderPreserved(t *testing.T) {
	t.Parallel()
	c1, d1 := mkBlock(t, "aa")
	c2, d2 := mkBlock(t, "bb")

	b := NewBundle(c2)
	b.Add(c2, d2)
	b.Add(c1, d1)
	b.Add(c2, d2) // duplicate, ignored

	var buf bytes.Buffer
	require.NoError(t, b.Write(&buf))
	got, err := Read(&buf)
	require.NoError(t, err)
	require.Equal(t, 2, got.Len())

	var order []cid.Cid
	require.NoError(t, got.Each(func(c cid.Cid, _ []byte) error {
		order = append(order, c)
		return nil
	}))
	assert.True(t, order[0].Equals(c2))
	assert.True(t, order[1].Equals(c1))
}

func TestDeterministicBytes(t *testing.T) {
	t.Parallel()
	c1, d1 := mkBlock(t, "x")
	c2, d2 := mkBlock(t, "y")

	write := func() []byte {
		b := NewBundle(c1)
		b.Add(c1, d1)
		b.Add(c2, d2)
		var buf bytes.Buffer
		require.NoError(t, b.Write(&buf))
		return buf.Bytes()
	}
	assert.Equal(t, write(), write())
}

func TestCorruptBlockRejected(t *testing.T) {
	t.Parallel()
	c1, d1 := mkBlock(t, "payload to corrupt")
	b := NewBundle(c1)
	b.Add(c1, d1)
	var buf bytes.Buffer
	require.NoError(t, b.Write(&buf))

	// flip one bit in the last byte, which is block payload
	raw := buf.Bytes()
	raw[len(raw)-1] ^= 0x01

	_, err := Read(bytes.NewReader(raw))
	require.Error(t, err)
	assert.ErrorIs(t, err, codec.ErrUnexpectedObject)
}

func TestTruncatedArchiveRejected(t *testing.T) {
	t.Parallel()
	c1, d1 := mkBlock(t, "some block data here")
	b := NewBundle(c1)
	b.Add(c1, d1)
	var buf bytes.Buffer
	require.NoError(t, b.Write(&buf))

	raw := buf.Bytes()
	_, err := Read(bytes.NewReader(raw[:len(raw)-5]))
	require.Error(t, err)
}

func TestEmptyRootsRejected(t *testing.T) {
	t.Parallel()
	b := NewBundle()
	var buf bytes.Buffer
	assert.ErrorIs(t, b.Write(&buf), ErrNoRoots)
}

func TestBundleIsASource(t *testing.T) {
	t.Parallel()
	c1, d1 := mkBlock(t, "visible")
	c2, _ := mkBlock(t, "never added")

	b := NewBundle(c1)
	b.Add(c1, d1)

	ok, err := b.Has(context.Background(), c1)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = b.Get(context.Background(), c2)
	assert.ErrorIs(t, err, blockstore.ErrMissingBlock)

	found, missing, err := b.GetBlocks(context.Background(), []cid.Cid{c1, c2})
	require.NoError(t, err)
	assert.Len(t, found, 1)
	require.Len(t, missing, 1)
	assert.True(t, missing[0].Equals(c2))
}
