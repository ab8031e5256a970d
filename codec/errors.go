package codec

import (
	"errors"
	"fmt"

	"github.com/ipfs/go-cid"
)

// ErrUnexpectedObject matches any verification failure, via errors.Is.
var ErrUnexpectedObject = errors.New("unexpected object")

// UnexpectedObjectError reports a block whose recomputed hash does not
// match the CID it was presented under.
type UnexpectedObjectError struct {
	Expected cid.Cid
	Actual   cid.Cid
}

func (e *UnexpectedObjectError) Error() string {
	return fmt.Sprintf("unexpected object: content hashes to %s, not %s", e.Actual, e.Expected)
}

func (e *UnexpectedObjectError) Unwrap() error { return ErrUnexpectedObject }
