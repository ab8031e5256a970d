// Package car reads and writes content-addressed archive bundles: a
// dag-cbor header naming the roots, followed by varint-length-prefixed
// (CID, bytes) frames. Bundles carry commit snapshots and proofs
// between peers; every frame is re-hashed on read so a bundle can never
// smuggle bytes under the wrong CID.
package car

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-varint"

	"github.com/rookery-social/rookery/blockstore"
	"github.com/rookery-social/rookery/codec"
)

// Version is the only archive version this package produces or accepts.
const Version = 1

var (
	// ErrNoRoots is returned when a bundle header names no roots.
	ErrNoRoots = errors.New("archive has no roots")
	// ErrBadVersion is returned for archive versions other than 1.
	ErrBadVersion = errors.New("unsupported archive version")
)

// Bundle is an in-memory archive: ordered blocks plus the roots that
// anchor them. It implements blockstore.Source so proofs and imports
// can read straight out of a received bundle.
type Bundle struct {
	Roots []cid.Cid

	order  []cid.Cid
	blocks map[cid.Cid][]byte
}

var _ blockstore.Source = (*Bundle)(nil)

// NewBundle returns an empty bundle anchored at the given roots.
func NewBundle(roots ...cid.Cid) *Bundle {
	return &Bundle{
		Roots:  roots,
		blocks: make(map[cid.Cid][]byte),
	}
}

// Add appends a block. Re-adding a CID is a no-op, preserving the
// position of the first occurrence.
func (b *Bundle) Add(c cid.Cid, data []byte) {
	if _, ok := b.blocks[c]; ok {
		return
	}
	b.order = append(b.order, c)
	b.blocks[c] = data
}

// Len returns the number of blocks in the bundle.
func (b *Bundle) Len() int { return len(b.order) }

// Get implements blockstore.Source.
func (b *Bundle) Get(_ context.Context, c cid.Cid) ([]byte, error) {
	data, ok := b.blocks[c]
	if !ok {
		return nil, fmt.Errorf("bundle: %w: %s", blockstore.ErrMissingBlock, c)
	}
	return data, nil
}

// Has implements blockstore.Source.
func (b *Bundle) Has(_ context.Context, c cid.Cid) (bool, error) {
	_, ok := b.blocks[c]
	return ok, nil
}

// GetBlocks implements blockstore.Source.
func (b *Bundle) GetBlocks(_ context.Context, cids []cid.Cid) (map[cid.Cid][]byte, []cid.Cid, error) {
	found := make(map[cid.Cid][]byte)
	var missing []cid.Cid
	for _, c := range cids {
		if data, ok := b.blocks[c]; ok {
			found[c] = data
		} else {
			missing = append(missing, c)
		}
	}
	return found, missing, nil
}

// Each visits the blocks in insertion order.
func (b *Bundle) Each(fn func(c cid.Cid, data []byte) error) error {
	for _, c := range b.order {
		if err := fn(c, b.blocks[c]); err != nil {
			return err
		}
	}
	return nil
}

// Write serializes the bundle: varint-prefixed header, then one
// varint-prefixed frame per block in insertion order.
func (b *Bundle) Write(w io.Writer) error {
	if len(b.Roots) == 0 {
		return ErrNoRoots
	}
	hdr, err := marshalHeader(b.Roots)
	if err != nil {
		return fmt.Errorf("encode header: %w", err)
	}
	if err := writeChunk(w, hdr); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	return b.Each(func(c cid.Cid, data []byte) error {
		frame := make([]byte, 0, len(c.Bytes())+len(data))
		frame = append(frame, c.Bytes()...)
		frame = append(frame, data...)
		if err := writeChunk(w, frame); err != nil {
			return fmt.Errorf("write block %s: %w", c, err)
		}
		return nil
	})
}

func writeChunk(w io.Writer, data []byte) error {
	if _, err := w.Write(varint.ToUvarint(uint64(len(data)))); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

// maxChunk bounds a single frame so a corrupt length prefix cannot
// trigger an enormous allocation.
const maxChunk = 32 << 20

// Read parses a serialized bundle. Every block's bytes are hashed and
// checked against the frame's CID; a mismatch fails the whole read with
// an error unwrapping to codec.ErrUnexpectedObject.
func Read(r io.Reader) (*Bundle, error) {
	br := bufio.NewReader(r)
	hdr, err := readChunk(br)
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	roots, version, err := unmarshalHeader(hdr)
	if err != nil {
		return nil, fmt.Errorf("parse header: %w", err)
	}
	if version != Version {
		return nil, fmt.Errorf("%w: %d", ErrBadVersion, version)
	}
	if len(roots) == 0 {
		return nil, ErrNoRoots
	}
	b := NewBundle(roots...)
	for {
		frame, err := readChunk(br)
		if errors.Is(err, io.EOF) {
			return b, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read block %d: %w", b.Len(), err)
		}
		n, c, err := cid.CidFromBytes(frame)
		if err != nil {
			return nil, fmt.Errorf("block %d: parse cid: %w", b.Len(), err)
		}
		data := bytes.Clone(frame[n:])
		if err := codec.Verify(c, data); err != nil {
			return nil, fmt.Errorf("block %d: %w", b.Len(), err)
		}
		b.Add(c, data)
	}
}

func readChunk(br *bufio.Reader) ([]byte, error) {
	n, err := varint.ReadUvarint(br)
	if err != nil {
		return nil, err
	}
	if n > maxChunk {
		return nil, fmt.Errorf("chunk length %d exceeds limit", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(br, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("truncated chunk: %w", io.ErrUnexpectedEOF)
		}
		return nil, err
	}
	return buf, nil
}
