package store

import (
	"fmt"
	"path/filepath"

	badger "github.com/dgraph-io/badger/v4"

	"erpsync/internal/model"
)

// BadgerStore implements Store using BadgerDB.
type BadgerStore struct {
	db *badger.DB
}

func NewBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(filepath.Clean(dir)).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger open: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func (b *BadgerStore) Close() error { return b.db.Close() }

func (b *BadgerStore) Put(o model.Order) error {
	if err := checkOrder(o); err != nil {
		return fmt.Errorf("put: %w", err)
	}
	val, err := encodeOrder(o)
	if err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(o.Key), val)
	})
}

func (b *BadgerStore) Get(key string) (model.Order, bool) {
	var o model.Order
	err := b.db.View(func(txn *badger.Txn) error {
		item, e := txn.Get([]byte(key))
		if e != nil {
			return e
		}
		v, e := item.ValueCopy(nil)
		if e != nil {
			return e
		}
		var dErr error
		o, dErr = decodeOrder(v)
		return dErr
	})
	if err != nil {
		return model.Order{}, false
	}
	return o, true
}

func (b *BadgerStore) Range(fn func(key string, o model.Order) error) error {
	return b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			k := item.KeyCopy(nil)
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			o, err := decodeOrder(v)
			if err != nil {
				return err
			}
			if err := fn(string(k), o); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadAll replaces all keys in one transaction.
func (b *BadgerStore) LoadAll(all map[string]model.Order) error {
	return b.db.Update(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		var keysToDelete [][]byte
		for it.Rewind(); it.Valid(); it.Next() {
			keysToDelete = append(keysToDelete, it.Item().KeyCopy(nil))
		}
		it.Close()
		for _, k := range keysToDelete {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		for k, o := range all {
			val, err := encodeOrder(o)
			if err != nil {
				return err
			}
			if err := txn.Set([]byte(k), val); err != nil {
				return err
			}
		}
		return nil
	})
}
