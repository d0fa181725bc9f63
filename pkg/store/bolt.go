package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// DefaultBoltBucket is the bucket BoltStore keeps documents in.
const DefaultBoltBucket = "documents"

// BoltStore keeps snapshots in a local bbolt database file.
// It is suitable for single-node deployments that need durability
// without an external database.
type BoltStore struct {
	db     *bolt.DB
	bucket []byte
}

// BoltStoreOption configures BoltStore behavior.
type BoltStoreOption func(*boltStoreConfig)

type boltStoreConfig struct {
	bucket      string
	openTimeout time.Duration
}

// WithBoltBucket sets the bucket name.
// Default: "documents".
func WithBoltBucket(name string) BoltStoreOption {
	return func(c *boltStoreConfig) {
		c.bucket = name
	}
}

// WithBoltOpenTimeout sets how long Open waits for the file lock.
// Default: 1 second.
func WithBoltOpenTimeout(d time.Duration) BoltStoreOption {
	return func(c *boltStoreConfig) {
		c.openTimeout = d
	}
}

// OpenBoltStore opens (creating if needed) the database at path.
func OpenBoltStore(path string, opts ...BoltStoreOption) (*BoltStore, error) {
	cfg := &boltStoreConfig{
		bucket:      DefaultBoltBucket,
		openTimeout: time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: cfg.openTimeout})
	if err != nil {
		return nil, fmt.Errorf("store: open bolt %s: %w", path, err)
	}

	bucket := []byte(cfg.bucket)
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create bucket %q: %w", cfg.bucket, err)
	}

	return &BoltStore{db: db, bucket: bucket}, nil
}

// LoadSnapshot reads and decodes the record for documentID.
func (b *BoltStore) LoadSnapshot(ctx context.Context, documentID string) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var snap *Snapshot
	err := b.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(b.bucket).Get([]byte(documentID))
		if data == nil {
			return nil
		}
		// DecodeRecord copies out of data, which is only valid inside the tx.
		s, err := DecodeRecord(data)
		if err != nil {
			return err
		}
		snap = s
		return nil
	})
	if err != nil {
		if errors.Is(err, bolt.ErrDatabaseNotOpen) {
			return nil, ErrStoreClosed
		}
		return nil, err
	}
	return snap, nil
}

// SaveSnapshot writes the record for documentID in its own transaction.
func (b *BoltStore) SaveSnapshot(ctx context.Context, documentID string, snap Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	record := EncodeRecord(snap)
	err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(b.bucket).Put([]byte(documentID), record)
	})
	if errors.Is(err, bolt.ErrDatabaseNotOpen) {
		return ErrStoreClosed
	}
	return err
}

// DocumentIDs lists every stored document in key order.
func (b *BoltStore) DocumentIDs() ([]string, error) {
	var ids []string
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(b.bucket).ForEach(func(k, _ []byte) error {
			ids = append(ids, string(k))
			return nil
		})
	})
	return ids, err
}

// Close closes the database file.
func (b *BoltStore) Close() error {
	return b.db.Close()
}
