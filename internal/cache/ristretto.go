package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// Ristretto is a cost-bounded memory tier for high-volume values such as
// embedding vectors. Admission is probabilistic, so a Set may be dropped.
type Ristretto[V any] struct {
	cache *ristretto.Cache[string, V]
	ttl   time.Duration
	cost  func(V) int64
}

// NewRistretto sizes the cache for roughly maxItems entries of cost 1 each
// unless cost is provided.
func NewRistretto[V any](maxItems int64, ttl time.Duration, cost func(V) int64) (*Ristretto[V], error) {
	if maxItems <= 0 {
		maxItems = 1000
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, V]{
		NumCounters: maxItems * 10,
		MaxCost:     maxItems,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create ristretto cache: %w", err)
	}
	if cost == nil {
		cost = func(V) int64 { return 1 }
	}
	return &Ristretto[V]{cache: c, ttl: ttl, cost: cost}, nil
}

func (r *Ristretto[V]) Get(_ context.Context, key string) (V, bool, error) {
	v, ok := r.cache.Get(key)
	return v, ok, nil
}

func (r *Ristretto[V]) Set(_ context.Context, key string, value V) error {
	if r.ttl > 0 {
		r.cache.SetWithTTL(key, value, r.cost(value), r.ttl)
	} else {
		r.cache.Set(key, value, r.cost(value))
	}
	r.cache.Wait()
	return nil
}

func (r *Ristretto[V]) Delete(_ context.Context, key string) error {
	r.cache.Del(key)
	return nil
}

func (r *Ristretto[V]) Close() {
	r.cache.Close()
}
