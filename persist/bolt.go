package persist

import (
	"context"
	"fmt"

	"go.etcd.io/bbolt"
)

var (
	snapshotBucket = []byte("snapshots")
)

// Bolt is a Store implementation backed by a bbolt file. Slot distinguishes
// multiple facade instances sharing one file.
type Bolt struct {
	db   *bbolt.DB
	slot []byte
}

// NewBolt opens (or creates) the bbolt database at path and prepares the
// snapshot bucket. slot must be non-empty and stable across runs.
func NewBolt(path, slot string) (*Bolt, error) {
	if slot == "" {
		return nil, fmt.Errorf("persist: slot is required")
	}
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(snapshotBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create snapshot bucket: %w", err)
	}

	return &Bolt{db: db, slot: []byte(slot)}, nil
}

func (b *Bolt) Load(_ context.Context) ([]byte, bool, error) {
	var out []byte
	err := b.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(snapshotBucket).Get(b.slot)
		if v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, out != nil, nil
}

func (b *Bolt) Save(_ context.Context, data []byte) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(snapshotBucket).Put(b.slot, data)
	})
}

func (b *Bolt) Close(_ context.Context) error {
	return b.db.Close()
}
