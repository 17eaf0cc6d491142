package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"erpsync/internal/model"
)

// Store keeps the latest assembled order per key.
type Store interface {
	Put(o model.Order) error
	Get(key string) (model.Order, bool)
	Range(fn func(key string, o model.Order) error) error
	// LoadAll replaces the store contents with all.
	LoadAll(all map[string]model.Order) error
}

// ReplaceAll makes the orders of one run the whole store content, so a
// snapshot taken afterwards holds that run and nothing older.
func ReplaceAll(st Store, orders []*model.Order) error {
	all := make(map[string]model.Order, len(orders))
	for _, o := range orders {
		if err := checkOrder(*o); err != nil {
			return fmt.Errorf("replace %s: %w", o.Key, err)
		}
		all[o.Key] = *o
	}
	return st.LoadAll(all)
}

// checkOrder rejects orders that cannot round-trip through the JSON encoding.
func checkOrder(o model.Order) error {
	if o.Key == "" {
		return errors.New("empty order key")
	}
	if o.CreatedDate.IsZero() {
		return errors.New("zero created date")
	}
	return nil
}

// Dump copies the store into a map.
func Dump(st Store) (map[string]model.Order, error) {
	out := make(map[string]model.Order)
	err := st.Range(func(key string, o model.Order) error {
		out[key] = o
		return nil
	})
	return out, err
}

// InMemoryStore is a simple thread-safe map store.
type InMemoryStore struct {
	mu   sync.RWMutex
	data map[string]model.Order
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{data: make(map[string]model.Order)}
}

func (s *InMemoryStore) Put(o model.Order) error {
	if err := checkOrder(o); err != nil {
		return fmt.Errorf("put: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[o.Key] = o
	return nil
}

func (s *InMemoryStore) Get(key string) (model.Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.data[key]
	return o, ok
}

// Range visits keys in sorted order.
func (s *InMemoryStore) Range(fn func(key string, o model.Order) error) error {
	s.mu.RLock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	snapshot := make(map[string]model.Order, len(s.data))
	for k, v := range s.data {
		snapshot[k] = v
	}
	s.mu.RUnlock()
	sort.Strings(keys)
	for _, k := range keys {
		if err := fn(k, snapshot[k]); err != nil {
			return fmt.Errorf("range callback failed: %w", err)
		}
	}
	return nil
}

func (s *InMemoryStore) LoadAll(all map[string]model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[string]model.Order, len(all))
	for k, v := range all {
		s.data[k] = v
	}
	return nil
}

// Open picks a backend by name: memory, pebble, badger or bolt. The returned close
// func is a no-op for memory.
func Open(backend, dir string) (Store, func() error, error) {
	switch backend {
	case "", "memory":
		return NewInMemoryStore(), func() error { return nil }, nil
	case "pebble":
		s, err := NewPebbleStore(dir)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case "badger":
		s, err := NewBadgerStore(dir)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case "bolt":
		s, err := NewBoltStore(dir)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown store backend %q", backend)
}

func encodeOrder(o model.Order) ([]byte, error) { return json.Marshal(o) }
func decodeOrder(val []byte) (model.Order, error) {
	var o model.Order
	if err := json.Unmarshal(val, &o); err != nil {
		return model.Order{}, err
	}
	return o, nil
}
