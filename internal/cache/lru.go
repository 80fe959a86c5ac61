package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// LRU is a memory tier with a fixed capacity and a sliding per-entry TTL:
// every hit starts the TTL again. Reads and writes give read-your-writes
// consistency within the process.
type LRU[K comparable, V any] struct {
	lru *expirable.LRU[K, V]
}

// NewLRU returns an LRU tier. capacity <= 0 means 1; ttl <= 0 disables expiry.
func NewLRU[K comparable, V any](capacity int, ttl time.Duration) *LRU[K, V] {
	if capacity <= 0 {
		capacity = 1
	}
	return &LRU[K, V]{lru: expirable.NewLRU[K, V](capacity, nil, ttl)}
}

func (c *LRU[K, V]) Get(_ context.Context, key K) (V, bool, error) {
	v, ok := c.lru.Get(key)
	if ok {
		// Re-adding moves the entry to the front and extends its expiry.
		c.lru.Add(key, v)
	}
	return v, ok, nil
}

func (c *LRU[K, V]) Set(_ context.Context, key K, value V) error {
	c.lru.Add(key, value)
	return nil
}

func (c *LRU[K, V]) Delete(_ context.Context, key K) error {
	c.lru.Remove(key)
	return nil
}

// Len reports the number of live and not yet collected entries.
func (c *LRU[K, V]) Len() int {
	return c.lru.Len()
}

// Purge drops every entry.
func (c *LRU[K, V]) Purge() {
	c.lru.Purge()
}
