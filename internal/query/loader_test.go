package query

import (
	"context"
	"sync/atomic"
	"testing"
)

func TestLoader_LoadMany_SingleFetch(t *testing.T) {
	var calls int32
	loader := NewLoader(func(ctx context.Context, keys []string) (map[string]int, error) {
		atomic.AddInt32(&calls, 1)
		out := make(map[string]int, len(keys))
		for i, k := range keys {
			out[k] = i
		}
		return out, nil
	})

	got, err := loader.LoadMany(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d results", len(got))
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected 1 fetch call, got %d", calls)
	}
}

func TestLoader_LoadMany_EmptyKeys(t *testing.T) {
	loader := NewLoader(func(ctx context.Context, keys []string) (map[string]int, error) {
		t.Fatal("fetch should not be called for empty keys")
		return nil, nil
	})
	got, err := loader.LoadMany(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty result, got %v", got)
	}
}
