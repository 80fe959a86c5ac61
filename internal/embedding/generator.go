// Package embedding turns chunks into stored vectors and embeds queries.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"document-chat-platform/internal/ai"
	"document-chat-platform/internal/apperr"
	"document-chat-platform/internal/chunking"
	"document-chat-platform/internal/retry"
	"document-chat-platform/internal/store"
	"document-chat-platform/internal/telemetry"
	"document-chat-platform/models"
)

// Options tune batch fan-out.
type Options struct {
	BatchSize   int
	Concurrency int
	Retry       retry.Policy
}

// Generator embeds chunks in parallel batches and upserts the vectors.
type Generator struct {
	embedder ai.Embedder
	cache    *VectorCache
	store    store.EmbeddingStore
	opts     Options
	metrics  *telemetry.Metrics
	log      *slog.Logger
	now      func() time.Time
}

func NewGenerator(embedder ai.Embedder, vc *VectorCache, st store.EmbeddingStore, opts Options, metrics *telemetry.Metrics, log *slog.Logger) *Generator {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 32
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if log == nil {
		log = slog.Default()
	}
	return &Generator{
		embedder: embedder,
		cache:    vc,
		store:    st,
		opts:     opts,
		metrics:  metrics,
		log:      log.With("component", "embedding"),
		now:      time.Now,
	}
}

// Model is the embedding model name recorded on every vector.
func (g *Generator) Model() string { return g.embedder.Model() }

// ChunkFailure records a chunk left out of the index.
type ChunkFailure struct {
	Index int
	Err   error
}

// Result summarizes one Generate call.
type Result struct {
	Embedded     int
	CacheHits    int
	BilledTokens int
	Failed       []ChunkFailure
}

// EstimateTokens approximates provider tokens as one per four characters.
func EstimateTokens(text string) int {
	return (utf8.RuneCountInString(text) + 3) / 4
}

// Generate embeds chunks of one document. Failed chunks are reported in the
// result and the rest are stored. An error is returned only when nothing
// could be embedded or the store write failed.
func (g *Generator) Generate(ctx context.Context, documentHash, owner string, chunks []chunking.Chunk) (*Result, error) {
	res := &Result{}
	if len(chunks) == 0 {
		return res, nil
	}

	model := g.embedder.Model()
	vectors := make([][]float32, len(chunks))

	// Identical texts are embedded once; sharing maps each distinct key to
	// every chunk position carrying that text.
	var pending []string
	sharing := make(map[string][]int)
	texts := make(map[string]string)
	for i, ch := range chunks {
		key := CacheKey(model, ch.Text)
		if idxs, ok := sharing[key]; ok {
			sharing[key] = append(idxs, i)
			continue
		}
		if v, ok := g.lookup(ctx, key); ok {
			vectors[i] = v
			res.CacheHits++
			continue
		}
		sharing[key] = []int{i}
		texts[key] = ch.Text
		pending = append(pending, key)
	}

	var mu sync.Mutex
	var eg errgroup.Group
	eg.SetLimit(g.opts.Concurrency)

	for start := 0; start < len(pending); start += g.opts.BatchSize {
		batch := pending[start:min(start+g.opts.BatchSize, len(pending))]
		eg.Go(func() error {
			batchTexts := make([]string, len(batch))
			for j, key := range batch {
				batchTexts[j] = texts[key]
			}

			got, errs := g.embedBatch(ctx, batchTexts)
			for j, key := range batch {
				if errs[j] == nil {
					g.remember(ctx, key, got[j])
				}
			}

			mu.Lock()
			defer mu.Unlock()
			for j, key := range batch {
				for _, idx := range sharing[key] {
					if errs[j] != nil {
						res.Failed = append(res.Failed, ChunkFailure{Index: chunks[idx].Index, Err: errs[j]})
						continue
					}
					vectors[idx] = got[j]
				}
				if errs[j] == nil {
					res.BilledTokens += EstimateTokens(batchTexts[j])
				}
			}
			return nil
		})
	}
	_ = eg.Wait()

	if err := ctx.Err(); err != nil {
		return res, err
	}

	now := g.now().UTC()
	records := make([]models.ChunkEmbedding, 0, len(chunks))
	for i, ch := range chunks {
		if vectors[i] == nil {
			continue
		}
		records = append(records, models.ChunkEmbedding{
			DocumentHash: documentHash,
			ChunkIndex:   ch.Index,
			Owner:        owner,
			Page:         ch.Page,
			Text:         ch.Text,
			Vector:       vectors[i],
			Model:        model,
			CreatedAt:    now,
		})
	}

	slices.SortFunc(res.Failed, func(a, b ChunkFailure) int { return a.Index - b.Index })
	for _, f := range res.Failed {
		g.log.Warn("chunk embedding failed", "document", documentHash, "chunk_index", f.Index, "error", f.Err)
	}

	if len(records) == 0 {
		return res, apperr.Wrap(apperr.ErrEmbeddingFailure, "embed document",
			fmt.Errorf("all %d chunks failed", len(chunks)))
	}
	if err := g.store.UpsertEmbeddings(ctx, records); err != nil {
		return res, err
	}
	res.Embedded = len(records)

	g.log.Info("document embedded",
		"document", documentHash,
		"chunks", len(chunks),
		"embedded", res.Embedded,
		"cache_hits", res.CacheHits,
		"failed", len(res.Failed),
	)
	return res, nil
}

// embedBatch embeds texts as one request under the retry policy. When the
// batch still fails every text is retried on its own so one bad input cannot
// sink its neighbours.
func (g *Generator) embedBatch(ctx context.Context, texts []string) ([][]float32, []error) {
	errs := make([]error, len(texts))

	vecs, err := g.embed(ctx, texts)
	if err == nil {
		return vecs, errs
	}
	if ctx.Err() != nil {
		for i := range errs {
			errs[i] = ctx.Err()
		}
		return nil, errs
	}
	if len(texts) == 1 {
		errs[0] = err
		return nil, errs
	}

	g.log.Warn("embedding batch failed, retrying per chunk", "batch_size", len(texts), "error", err)
	vecs = make([][]float32, len(texts))
	for i, t := range texts {
		one, err := g.embed(ctx, []string{t})
		if err != nil {
			errs[i] = err
			continue
		}
		vecs[i] = one[0]
	}
	return vecs, errs
}

var errDimension = errors.New("vector dimension mismatch")

func (g *Generator) embed(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := retry.Do(ctx, g.opts.Retry, func(ctx context.Context) ([][]float32, error) {
		return g.embedder.EmbedTexts(ctx, texts)
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrEmbeddingFailure, "embed batch", err)
	}
	if len(vecs) != len(texts) {
		return nil, apperr.Wrap(apperr.ErrEmbeddingFailure, "embed batch",
			fmt.Errorf("got %d vectors for %d texts", len(vecs), len(texts)))
	}
	want := g.embedder.Dimensions()
	for _, v := range vecs {
		if len(v) != want {
			return nil, apperr.Wrap(apperr.ErrEmbeddingFailure, "embed batch",
				fmt.Errorf("%w: got %d want %d", errDimension, len(v), want))
		}
	}
	return vecs, nil
}

// EmbedQuery embeds a single query through the cache.
func (g *Generator) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	key := CacheKey(g.embedder.Model(), text)
	if v, ok := g.lookup(ctx, key); ok {
		return v, nil
	}
	vecs, err := g.embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	g.remember(ctx, key, vecs[0])
	return vecs[0], nil
}
