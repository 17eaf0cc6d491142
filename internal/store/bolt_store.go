package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"erpsync/internal/model"
)

const (
	boltFileName   = "orders.db"
	boltBucketName = "orders"
)

// BoltStore implements Store on a single bbolt file inside dir.
type BoltStore struct {
	db *bolt.DB
}

func NewBoltStore(dir string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Clean(dir), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir bolt dir: %w", err)
	}
	db, err := bolt.Open(filepath.Join(dir, boltFileName), 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("bolt open: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(boltBucketName))
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func (b *BoltStore) Close() error { return b.db.Close() }

func (b *BoltStore) Put(o model.Order) error {
	if err := checkOrder(o); err != nil {
		return fmt.Errorf("put: %w", err)
	}
	val, err := encodeOrder(o)
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(boltBucketName)).Put([]byte(o.Key), val)
	})
}

func (b *BoltStore) Get(key string) (model.Order, bool) {
	var (
		o  model.Order
		ok bool
	)
	_ = b.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(boltBucketName)).Get([]byte(key))
		if len(data) == 0 {
			return nil
		}
		dec, err := decodeOrder(data)
		if err != nil {
			return err
		}
		o, ok = dec, true
		return nil
	})
	return o, ok
}

// Range walks the bucket cursor in key order.
func (b *BoltStore) Range(fn func(key string, o model.Order) error) error {
	return b.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(boltBucketName)).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			o, err := decodeOrder(v)
			if err != nil {
				return fmt.Errorf("decode %s: %w", k, err)
			}
			if err := fn(string(k), o); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadAll drops and recreates the bucket in one transaction.
func (b *BoltStore) LoadAll(all map[string]model.Order) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket([]byte(boltBucketName)); err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		bucket, err := tx.CreateBucket([]byte(boltBucketName))
		if err != nil {
			return err
		}
		for k, o := range all {
			val, err := encodeOrder(o)
			if err != nil {
				return fmt.Errorf("encode %s: %w", k, err)
			}
			if err := bucket.Put([]byte(k), val); err != nil {
				return err
			}
		}
		return nil
	})
}
