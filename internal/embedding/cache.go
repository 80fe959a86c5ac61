package embedding

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/blake2b"

	"document-chat-platform/internal/cache"
)

// VectorCache maps CacheKey values to vectors.
type VectorCache = cache.TwoTier[string, []float32]

// CacheKey is the BLAKE2b-256 digest of model and text. Vectors from
// different models never share a key.
func CacheKey(model, text string) string {
	sum := blake2b.Sum256([]byte(model + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

// NewVectorCache builds the ristretto memory tier and, when rdb is non-nil,
// the Redis tier behind it. Vectors stay cached in memory while Redis is down.
func NewVectorCache(maxItems int64, ttl time.Duration, rdb redis.Cmdable) (*VectorCache, error) {
	memTTL := ttl
	if memTTL <= 0 || memTTL > time.Hour {
		memTTL = time.Hour
	}
	mem, err := cache.NewRistretto[[]float32](maxItems, memTTL, nil)
	if err != nil {
		return nil, err
	}
	var durable cache.Tier[string, []float32]
	if rdb != nil {
		durable = cache.NewRedis[[]float32](rdb, "emb:", ttl)
	}
	return cache.NewTwoTier[string, []float32](mem, durable).BestEffortDurable(), nil
}

// lookup treats tier errors as misses.
func (g *Generator) lookup(ctx context.Context, key string) ([]float32, bool) {
	if g.cache == nil {
		return nil, false
	}
	v, ok, err := g.cache.Get(ctx, key)
	if err != nil {
		g.log.Debug("embedding cache read failed", "error", err)
		return nil, false
	}
	if ok && len(v) != g.embedder.Dimensions() {
		return nil, false
	}
	g.metrics.RecordCacheLookup("embedding", ok)
	return v, ok
}

func (g *Generator) remember(ctx context.Context, key string, v []float32) {
	if g.cache == nil {
		return
	}
	if err := g.cache.Set(ctx, key, v); err != nil {
		g.log.Debug("embedding cache write failed", "error", err)
	}
}
