package blockstore

import (
	"context"
	"fmt"
	"time"

	"github.com/ipfs/go-cid"
	bolt "go.etcd.io/bbolt"

	"github.com/rookery-social/rookery/codec"
)

var (
	bucketBlocks = []byte("blocks")
	bucketHeads  = []byte("heads")
)

// Bolt is a durable RepoStorage on a single bbolt file. Head advancement
// runs inside one update transaction, which gives the compare-and-swap
// its atomicity.
type Bolt struct {
	db *bolt.DB
}

var _ RepoStorage = (*Bolt)(nil)

// OpenBolt opens (creating if needed) a block store at the given path.
func OpenBolt(path string) (*Bolt, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketBlocks); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketHeads)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}
	return &Bolt{db: db}, nil
}

// Close releases the underlying file.
func (b *Bolt) Close() error { return b.db.Close() }

func (b *Bolt) Put(ctx context.Context, data []byte) (cid.Cid, error) {
	c, err := codec.Sum(data)
	if err != nil {
		return cid.Undef, err
	}
	err = b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketBlocks)
		if bkt.Get(c.Bytes()) != nil {
			return nil
		}
		return bkt.Put(c.Bytes(), data)
	})
	if err != nil {
		return cid.Undef, fmt.Errorf("put %s: %w", c, err)
	}
	return c, nil
}

func (b *Bolt) Get(ctx context.Context, c cid.Cid) ([]byte, error) {
	var data []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketBlocks).Get(c.Bytes())
		if v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", c, err)
	}
	if data == nil {
		return nil, &MissingBlocksError{Cids: []cid.Cid{c}}
	}
	return data, nil
}

func (b *Bolt) Has(ctx context.Context, c cid.Cid) (bool, error) {
	var ok bool
	err := b.db.View(func(tx *bolt.Tx) error {
		ok = tx.Bucket(bucketBlocks).Get(c.Bytes()) != nil
		return nil
	})
	return ok, err
}

func (b *Bolt) GetBlocks(ctx context.Context, cids []cid.Cid) (map[cid.Cid][]byte, []cid.Cid, error) {
	found := make(map[cid.Cid][]byte, len(cids))
	var missing []cid.Cid
	err := b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketBlocks)
		for _, c := range cids {
			v := bkt.Get(c.Bytes())
			if v == nil {
				missing = append(missing, c)
				continue
			}
			found[c] = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return found, missing, nil
}

func (b *Bolt) Delete(ctx context.Context, c cid.Cid) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBlocks).Delete(c.Bytes())
	})
}

func (b *Bolt) Entries(ctx context.Context, fn func(c cid.Cid, data []byte) error) error {
	return b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBlocks).ForEach(func(k, v []byte) error {
			c, err := cid.Cast(k)
			if err != nil {
				return fmt.Errorf("corrupt block key: %w", err)
			}
			return fn(c, v)
		})
	})
}

func (b *Bolt) Len() int {
	n := 0
	b.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketBlocks).Stats().KeyN
		return nil
	})
	return n
}

func (b *Bolt) GetHead(ctx context.Context, did string) (cid.Cid, error) {
	head := cid.Undef
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketHeads).Get([]byte(did))
		if v == nil {
			return nil
		}
		c, err := cid.Cast(v)
		if err != nil {
			return fmt.Errorf("corrupt head for %s: %w", did, err)
		}
		head = c
		return nil
	})
	if err != nil {
		return cid.Undef, err
	}
	return head, nil
}

func (b *Bolt) AdvanceHead(ctx context.Context, did string, expectedPrev, next cid.Cid) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketHeads)
		cur := cid.Undef
		if v := bkt.Get([]byte(did)); v != nil {
			c, err := cid.Cast(v)
			if err != nil {
				return fmt.Errorf("corrupt head for %s: %w", did, err)
			}
			cur = c
		}
		if !cur.Equals(expectedPrev) {
			return headConflict(did, expectedPrev, cur)
		}
		return bkt.Put([]byte(did), next.Bytes())
	})
}
