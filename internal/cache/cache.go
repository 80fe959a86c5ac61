// Package cache provides a two-tier cache: a bounded in-process memory tier in
// front of a durable tier.
//
// Staleness rules:
//   - The durable tier is the source of truth. Set writes the durable tier
//     first and only then the memory tier, so memory never holds a value that
//     failed to persist. Caches of recomputable values opt out with
//     BestEffortDurable: memory is filled even when the durable write fails.
//   - Memory entries expire after their TTL and are evicted least recently
//     used beyond capacity. An expired or evicted entry is re-read from the
//     durable tier on the next Get.
//   - Writes made by other processes become visible here once the local entry
//     expires, so cross-process staleness is bounded by the memory TTL.
//   - Concurrent writers of the same key must serialize outside the cache.
package cache

import (
	"context"
	"fmt"
)

// Tier is one level of a TwoTier cache.
type Tier[K comparable, V any] interface {
	Get(ctx context.Context, key K) (V, bool, error)
	Set(ctx context.Context, key K, value V) error
	Delete(ctx context.Context, key K) error
}

// TwoTier composes a memory tier with an optional durable tier.
type TwoTier[K comparable, V any] struct {
	memory     Tier[K, V]
	durable    Tier[K, V]
	bestEffort bool
}

// NewTwoTier builds a cache. durable may be nil for a memory-only cache.
func NewTwoTier[K comparable, V any](memory, durable Tier[K, V]) *TwoTier[K, V] {
	return &TwoTier[K, V]{memory: memory, durable: durable}
}

// Get looks in memory, then in the durable tier. A durable hit refreshes the
// memory tier.
func (c *TwoTier[K, V]) Get(ctx context.Context, key K) (V, bool, error) {
	if v, ok, _ := c.memory.Get(ctx, key); ok {
		return v, true, nil
	}

	var zero V
	if c.durable == nil {
		return zero, false, nil
	}

	v, ok, err := c.durable.Get(ctx, key)
	if err != nil {
		return zero, false, fmt.Errorf("durable tier get: %w", err)
	}
	if !ok {
		return zero, false, nil
	}
	_ = c.memory.Set(ctx, key, v)
	return v, true, nil
}

// BestEffortDurable makes Set keep the value in memory when the durable
// write fails. The durable error is still returned.
func (c *TwoTier[K, V]) BestEffortDurable() *TwoTier[K, V] {
	c.bestEffort = true
	return c
}

// Set is write-through: durable first, memory second.
func (c *TwoTier[K, V]) Set(ctx context.Context, key K, value V) error {
	if c.durable != nil {
		if err := c.durable.Set(ctx, key, value); err != nil {
			if c.bestEffort {
				_ = c.memory.Set(ctx, key, value)
			}
			return fmt.Errorf("durable tier set: %w", err)
		}
	}
	return c.memory.Set(ctx, key, value)
}

// Delete always drops the memory entry, then the durable one.
func (c *TwoTier[K, V]) Delete(ctx context.Context, key K) error {
	_ = c.memory.Delete(ctx, key)
	if c.durable == nil {
		return nil
	}
	if err := c.durable.Delete(ctx, key); err != nil {
		return fmt.Errorf("durable tier delete: %w", err)
	}
	return nil
}

// Evict drops the memory entry only.
func (c *TwoTier[K, V]) Evict(ctx context.Context, key K) {
	_ = c.memory.Delete(ctx, key)
}
