package blockstore

import (
	"fmt"

	"github.com/ipfs/go-cid"
)

func headConflict(did string, expected, actual cid.Cid) error {
	return fmt.Errorf("advance head for %s: expected %s, found %s: %w",
		did, cidOrNone(expected), cidOrNone(actual), ErrHeadConflict)
}

func cidOrNone(c cid.Cid) string {
	if !c.Defined() {
		return "(none)"
	}
	return c.String()
}
