package store

import (
	"fmt"
	"sync"
	"testing"
)

func TestInMemoryStore_ConcurrentPutsDifferentKeys(t *testing.T) {
	s := NewInMemoryStore()
	var wg sync.WaitGroup
	writers, iters := 4, 500

	for w := 0; w < writers; w++ {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < iters; i++ {
				if err := s.Put(order(fmt.Sprintf("w%d-%d", w, i), float64(i))); err != nil {
					t.Errorf("put err: %v", err)
					return
				}
				_, _ = s.Get(fmt.Sprintf("w%d-%d", w, i/2))
			}
		}()
	}
	wg.Wait()

	dump, err := Dump(s)
	if err != nil {
		t.Fatalf("dump: %v", err)
	}
	if len(dump) != writers*iters {
		t.Fatalf("want %d orders, got %d", writers*iters, len(dump))
	}
	if o := dump["w3-7"]; o.Weight != 7 {
		t.Fatalf("bad order: %+v", o)
	}
}
