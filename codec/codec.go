// Package codec implements the content identifier layer: canonical
// DAG-CBOR encoding of structured values and the CID rules every other
// package relies on.
//
// The encoding is deterministic (definite lengths, map keys ordered
// shortest-first then bytewise), so two semantically-equal values always
// serialize to byte-identical output and therefore the same CID. CIDs are
// CIDv1, dag-cbor codec, SHA2-256 multihash; the constants are fixed by
// the protocol and must not be changed without breaking compatibility
// with every peer.
package codec

import (
	"bytes"
	"fmt"
	"io"

	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
)

// Marshaler is implemented by types with a canonical CBOR form.
type Marshaler interface {
	MarshalCBOR(w io.Writer) error
}

// Unmarshaler is implemented by types that can decode themselves from CBOR.
type Unmarshaler interface {
	UnmarshalCBOR(r io.Reader) error
}

var prefix = cid.Prefix{
	Version:  1,
	Codec:    cid.DagCBOR,
	MhType:   mh.SHA2_256,
	MhLength: 32,
}

// Sum computes the canonical CID for the given encoded bytes.
func Sum(data []byte) (cid.Cid, error) {
	c, err := prefix.Sum(data)
	if err != nil {
		return cid.Undef, fmt.Errorf("sum: %w", err)
	}
	return c, nil
}

// Encode serializes v to its canonical bytes and returns them with their CID.
func Encode(v Marshaler) (cid.Cid, []byte, error) {
	var buf bytes.Buffer
	if err := v.MarshalCBOR(&buf); err != nil {
		return cid.Undef, nil, fmt.Errorf("marshal: %w", err)
	}
	c, err := Sum(buf.Bytes())
	if err != nil {
		return cid.Undef, nil, err
	}
	return c, buf.Bytes(), nil
}

// Decode parses canonical bytes into v.
func Decode(data []byte, v Unmarshaler) error {
	if err := v.UnmarshalCBOR(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	return nil
}

// Verify recomputes the hash of the candidate bytes under the CID's own
// prefix and compares. A mismatch is corruption or tampering and is always
// a hard failure; callers must never continue with the bytes.
func Verify(c cid.Cid, data []byte) error {
	p := c.Prefix()
	got, err := p.Sum(data)
	if err != nil {
		return fmt.Errorf("verify %s: %w", c, err)
	}
	if !got.Equals(c) {
		return &UnexpectedObjectError{Expected: c, Actual: got}
	}
	return nil
}
