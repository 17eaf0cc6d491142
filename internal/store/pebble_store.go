package store

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/cockroachdb/pebble"

	"erpsync/internal/model"
)

// PebbleStore implements Store using PebbleDB.
type PebbleStore struct {
	db *pebble.DB
}

func NewPebbleStore(dir string) (*PebbleStore, error) {
	opts := &pebble.Options{
		MemTableSize:          64 << 20,
		L0CompactionThreshold: 4,
		L0StopWritesThreshold: 8,
		WALBytesPerSync:       1 << 20,
	}
	d, err := pebble.Open(filepath.Clean(dir), opts)
	if err != nil {
		return nil, fmt.Errorf("pebble open: %w", err)
	}
	return &PebbleStore{db: d}, nil
}

func (p *PebbleStore) Close() error { return p.db.Close() }

func (p *PebbleStore) Put(o model.Order) error {
	if err := checkOrder(o); err != nil {
		return fmt.Errorf("put: %w", err)
	}
	b, err := encodeOrder(o)
	if err != nil {
		return err
	}
	return p.db.Set([]byte(o.Key), b, pebble.Sync)
}

func (p *PebbleStore) Get(key string) (model.Order, bool) {
	v, closer, err := p.db.Get([]byte(key))
	if err != nil {
		return model.Order{}, false
	}
	defer closer.Close()
	o, e := decodeOrder(v)
	if e != nil {
		return model.Order{}, false
	}
	return o, true
}

func (p *PebbleStore) Range(fn func(key string, o model.Order) error) error {
	it, err := p.db.NewIter(nil)
	if err != nil {
		return fmt.Errorf("pebble iter: %w", err)
	}
	defer it.Close()
	for it.First(); it.Valid(); it.Next() {
		k := string(it.Key())
		o, err := decodeOrder(append([]byte(nil), it.Value()...))
		if err != nil {
			return fmt.Errorf("decode %s: %w", k, err)
		}
		if err := fn(k, o); err != nil {
			return err
		}
	}
	return it.Error()
}

// LoadAll deletes every key and writes all in a single batch.
func (p *PebbleStore) LoadAll(all map[string]model.Order) error {
	var toDelete [][]byte
	it, err := p.db.NewIter(nil)
	if err != nil {
		return fmt.Errorf("pebble iter: %w", err)
	}
	for it.First(); it.Valid(); it.Next() {
		toDelete = append(toDelete, append([]byte(nil), it.Key()...))
	}
	if err := it.Close(); err != nil {
		return err
	}
	wb := p.db.NewBatch()
	defer wb.Close()
	var errs []error
	for _, k := range toDelete {
		errs = append(errs, wb.Delete(k, nil))
	}
	for k, o := range all {
		b, err := encodeOrder(o)
		if err != nil {
			return fmt.Errorf("encode %s: %w", k, err)
		}
		errs = append(errs, wb.Set([]byte(k), b, nil))
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	return wb.Commit(pebble.Sync)
}
