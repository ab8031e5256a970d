package blockstore

import (
	"context"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru"
	"github.com/ipfs/go-cid"
)

// Cached wraps a Source with an ARC cache of raw blocks. Blocks are
// immutable, so cached bytes never go stale; one cache can sit in front
// of any number of trees reading from the same backend.
type Cached struct {
	src Source
	arc *lru.ARCCache
}

var _ Source = (*Cached)(nil)

// NewCached returns a caching wrapper around src holding up to size blocks.
func NewCached(src Source, size int) (*Cached, error) {
	arc, err := lru.NewARC(size)
	if err != nil {
		return nil, fmt.Errorf("arc: %w", err)
	}
	return &Cached{src: src, arc: arc}, nil
}

func (cs *Cached) Get(ctx context.Context, c cid.Cid) ([]byte, error) {
	if v, ok := cs.arc.Get(c); ok {
		return v.([]byte), nil
	}
	data, err := cs.src.Get(ctx, c)
	if err != nil {
		return nil, err
	}
	cs.arc.Add(c, data)
	return data, nil
}

func (cs *Cached) Has(ctx context.Context, c cid.Cid) (bool, error) {
	if cs.arc.Contains(c) {
		return true, nil
	}
	return cs.src.Has(ctx, c)
}

func (cs *Cached) GetBlocks(ctx context.Context, cids []cid.Cid) (map[cid.Cid][]byte, []cid.Cid, error) {
	found := make(map[cid.Cid][]byte, len(cids))
	var missing []cid.Cid
	for _, c := range cids {
		data, err := cs.Get(ctx, c)
		if err != nil {
			// only absence counts as missing; a backend fault propagates
			if errors.Is(err, ErrMissingBlock) {
				missing = append(missing, c)
				continue
			}
			return nil, nil, err
		}
		found[c] = data
	}
	return found, missing, nil
}
