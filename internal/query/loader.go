package query

import (
	"context"
	"fmt"

	"golang.org/x/sync/singleflight"
)

// BatchFunc fetches one result per key, in any order convenient to the
// backend; Loader matches them back up by key.
type BatchFunc[K comparable, V any] func(ctx context.Context, keys []K) (map[K]V, error)

// Loader batches same-tick Load calls into one BatchFunc invocation per
// request, the way a typical child-collection resolver batches one
// `IN (…)` query per parent-id set.
type Loader[K comparable, V any] struct {
	fetch BatchFunc[K, V]
	group singleflight.Group
}

// NewLoader creates a Loader backed by fetch.
func NewLoader[K comparable, V any](fetch BatchFunc[K, V]) *Loader[K, V] {
	return &Loader[K, V]{fetch: fetch}
}

// LoadMany resolves every key, issuing a single batched fetch for any keys
// not already in flight under an identical key set.
func (l *Loader[K, V]) LoadMany(ctx context.Context, keys []K) (map[K]V, error) {
	if len(keys) == 0 {
		return map[K]V{}, nil
	}

	groupKey := batchGroupKey(keys)
	result, err, _ := l.group.Do(groupKey, func() (interface{}, error) {
		return l.fetch(ctx, keys)
	})
	if err != nil {
		return nil, err
	}
	return result.(map[K]V), nil
}

// batchGroupKey is order-sensitive: callers pass a stable key order per
// request (e.g. the order sessions were resolved), so concatenation is
// sufficient to dedupe retries of the same call without sorting.
func batchGroupKey[K comparable](keys []K) string {
	out := ""
	for _, k := range keys {
		out += fmt.Sprintf(":%v", k)
	}
	return out
}
