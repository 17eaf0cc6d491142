package aggregate

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"erpsync/internal/model"
)

// ErrOrphanLineItems is returned under OrphanFail when line items reference
// orders that were not fetched.
var ErrOrphanLineItems = errors.New("line items reference unknown orders")

// OrderSet keeps orders by key in first-seen order. Later duplicates are dropped.
type OrderSet struct {
	keys       []string
	orders     map[string]*model.Order
	duplicates int
}

func NewOrderSet() *OrderSet {
	return &OrderSet{orders: make(map[string]*model.Order)}
}

// Add stores o under key unless the key is already present. It reports whether o was kept.
func (s *OrderSet) Add(key string, o model.Order) bool {
	if _, ok := s.orders[key]; ok {
		s.duplicates++
		return false
	}
	o.Key = key
	s.keys = append(s.keys, key)
	s.orders[key] = &o
	return true
}

// Keys returns order keys in first-seen order.
func (s *OrderSet) Keys() []string { return append([]string(nil), s.keys...) }

func (s *OrderSet) Get(key string) (*model.Order, bool) {
	o, ok := s.orders[key]
	return o, ok
}

func (s *OrderSet) Len() int        { return len(s.keys) }
func (s *OrderSet) Duplicates() int { return s.duplicates }

// Map exposes the orders keyed by natural key. The orders are shared, not copied.
func (s *OrderSet) Map() map[string]*model.Order {
	out := make(map[string]*model.Order, len(s.orders))
	for k, v := range s.orders {
		out[k] = v
	}
	return out
}

// Keyed is a line item with the order key it belongs to.
type Keyed struct {
	Key  string
	Item model.LineItem
}

// LineItemIndex groups line items by order key.
type LineItemIndex map[string][]model.LineItem

// GroupLineItems groups items by key keeping their input order.
func GroupLineItems(items []Keyed) LineItemIndex {
	idx := make(LineItemIndex)
	for _, it := range items {
		idx[it.Key] = append(idx[it.Key], it.Item)
	}
	return idx
}

// MergeFirstSeen copies groups from src whose key is not yet in dst and
// returns how many keys were already present and therefore ignored.
func MergeFirstSeen(dst, src LineItemIndex) int {
	collisions := 0
	for k, items := range src {
		if _, ok := dst[k]; ok {
			collisions++
			continue
		}
		dst[k] = items
	}
	return collisions
}

// OrphanPolicy decides what happens to line items whose order is unknown.
type OrphanPolicy int

const (
	OrphanDrop OrphanPolicy = iota
	OrphanFail
)

func (p OrphanPolicy) String() string {
	if p == OrphanFail {
		return "fail"
	}
	return "drop"
}

func ParseOrphanPolicy(s string) (OrphanPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "drop":
		return OrphanDrop, nil
	case "fail":
		return OrphanFail, nil
	}
	return 0, fmt.Errorf("unknown orphan policy %q", s)
}

// Outcome summarises one aggregation.
type Outcome struct {
	Attached    int
	OrphanKeys  []string
	OrphanItems int
	TotalWeight float64
}

// Aggregate attaches items to every order in orders (an empty list when none
// were fetched) and sets each order weight to the sum of its item weights.
// Groups with no matching order are reported in the outcome and never become orders.
func Aggregate(orders *OrderSet, items LineItemIndex, policy OrphanPolicy) (Outcome, error) {
	var out Outcome
	for k, group := range items {
		if _, ok := orders.orders[k]; !ok {
			out.OrphanKeys = append(out.OrphanKeys, k)
			out.OrphanItems += len(group)
		}
	}
	sort.Strings(out.OrphanKeys)
	if len(out.OrphanKeys) > 0 && policy == OrphanFail {
		return out, fmt.Errorf("%w: %d keys (%d items)", ErrOrphanLineItems, len(out.OrphanKeys), out.OrphanItems)
	}
	for _, k := range orders.keys {
		o := orders.orders[k]
		group := items[k]
		o.Attach(append([]model.LineItem(nil), group...))
		out.Attached += len(group)
		out.TotalWeight += o.Weight
	}
	return out, nil
}
