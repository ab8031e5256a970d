package blockstore

import (
	"context"
	"errors"
	"sync"

	"github.com/ipfs/go-cid"

	"github.com/rookery-social/rookery/codec"
)

// Memory is a mutex-guarded in-memory block store. It doubles as the
// staging area for uncommitted mutations: reads not satisfied locally
// fall through to an optional backing Source, while writes stay local
// until the caller copies them out.
type Memory struct {
	mu       sync.Mutex
	blocks   map[cid.Cid][]byte
	heads    map[string]cid.Cid
	fallback Source
}

var _ RepoStorage = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		blocks: make(map[cid.Cid][]byte),
		heads:  make(map[string]cid.Cid),
	}
}

// NewOverlay returns an in-memory store whose reads fall through to base.
// Writes never reach base.
func NewOverlay(base Source) *Memory {
	m := NewMemory()
	m.fallback = base
	return m
}

func (m *Memory) Put(ctx context.Context, data []byte) (cid.Cid, error) {
	c, err := codec.Sum(data)
	if err != nil {
		return cid.Undef, err
	}
	m.mu.Lock()
	if _, ok := m.blocks[c]; !ok {
		m.blocks[c] = append([]byte(nil), data...)
	}
	m.mu.Unlock()
	return c, nil
}

func (m *Memory) Get(ctx context.Context, c cid.Cid) ([]byte, error) {
	m.mu.Lock()
	data, ok := m.blocks[c]
	m.mu.Unlock()
	if ok {
		return data, nil
	}
	if m.fallback != nil {
		return m.fallback.Get(ctx, c)
	}
	return nil, &MissingBlocksError{Cids: []cid.Cid{c}}
}

func (m *Memory) Has(ctx context.Context, c cid.Cid) (bool, error) {
	m.mu.Lock()
	_, ok := m.blocks[c]
	m.mu.Unlock()
	if ok || m.fallback == nil {
		return ok, nil
	}
	return m.fallback.Has(ctx, c)
}

func (m *Memory) GetBlocks(ctx context.Context, cids []cid.Cid) (map[cid.Cid][]byte, []cid.Cid, error) {
	found := make(map[cid.Cid][]byte, len(cids))
	var missing []cid.Cid
	for _, c := range cids {
		data, err := m.Get(ctx, c)
		if err != nil {
			// only absence counts as missing; a fallback fault propagates
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

func (m *Memory) Delete(ctx context.Context, c cid.Cid) error {
	m.mu.Lock()
	delete(m.blocks, c)
	m.mu.Unlock()
	return nil
}

// Entries iterates local blocks only, not the fallback's.
func (m *Memory) Entries(ctx context.Context, fn func(c cid.Cid, data []byte) error) error {
	m.mu.Lock()
	snapshot := make(map[cid.Cid][]byte, len(m.blocks))
	for c, data := range m.blocks {
		snapshot[c] = data
	}
	m.mu.Unlock()
	for c, data := range snapshot {
		if err := fn(c, data); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.blocks)
}

func (m *Memory) GetHead(ctx context.Context, did string) (cid.Cid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.heads[did], nil
}

func (m *Memory) AdvanceHead(ctx context.Context, did string, expectedPrev, next cid.Cid) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := m.heads[did]
	if !cur.Equals(expectedPrev) {
		return headConflict(did, expectedPrev, cur)
	}
	m.heads[did] = next
	return nil
}
