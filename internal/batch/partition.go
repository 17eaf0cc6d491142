package batch

import (
	"fmt"

	"erpsync/internal/odata"
)

// DefaultSize keeps a key-disjunction filter well under common URL limits.
const DefaultSize = 100

// Partition splits items into consecutive batches of at most size elements.
// Order is preserved and the last batch may be shorter; no items means no batches.
func Partition[T any](items []T, size int) ([][]T, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: batch size %d", odata.ErrInvalidArgument, size)
	}
	out := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		out = append(out, items[start:end:end])
	}
	return out, nil
}
