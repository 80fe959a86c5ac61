// Package retrieval selects the chunks that ground a chat answer.
package retrieval

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"document-chat-platform/internal/apperr"
	"document-chat-platform/internal/store"
	"document-chat-platform/models"
)

// QueryEmbedder embeds a single query with the document embedding model.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// DocumentRef names a candidate document; order is the session's active
// document order.
type DocumentRef struct {
	Hash     string
	Filename string
}

type Request struct {
	Owner     string
	Query     string
	Documents []DocumentRef
}

// Strategy names how the result set was chosen.
const (
	StrategySimilarity = "similarity"
	StrategyPage       = "page"
	StrategyBestChunk  = "best_chunk"
	StrategyLexical    = "lexical"
	StrategyNone       = "none"
)

// ScoredChunk is a chunk with its raw similarity and boosted score.
type ScoredChunk struct {
	models.ChunkEmbedding
	Filename   string
	DocOrder   int
	Similarity float64
	Score      float64
}

type Result struct {
	Context    string
	UsedHashes []string
	Chunks     []ScoredChunk
	Strategy   string
}

// Retriever ranks stored chunks against a query.
type Retriever struct {
	embedder    QueryEmbedder
	chunks      store.EmbeddingStore
	threshold   float64
	smallCorpus int
	log         *slog.Logger
}

func NewRetriever(embedder QueryEmbedder, chunks store.EmbeddingStore, threshold float64, smallCorpus int, log *slog.Logger) *Retriever {
	if log == nil {
		log = slog.Default()
	}
	return &Retriever{
		embedder:    embedder,
		chunks:      chunks,
		threshold:   threshold,
		smallCorpus: smallCorpus,
		log:         log.With("component", "retrieval"),
	}
}

// Retrieve returns provenance-tagged context for the query. When the query
// cannot be embedded it returns an empty result with ErrRetrievalFailure and
// the caller answers ungrounded.
func (r *Retriever) Retrieve(ctx context.Context, req Request) (*Result, error) {
	empty := &Result{Strategy: StrategyNone}
	if len(req.Documents) == 0 {
		return empty, nil
	}

	hashes := make([]string, len(req.Documents))
	names := make(map[string]string, len(req.Documents))
	order := make(map[string]int, len(req.Documents))
	for i, d := range req.Documents {
		hashes[i] = d.Hash
		names[d.Hash] = d.Filename
		if _, ok := order[d.Hash]; !ok {
			order[d.Hash] = i
		}
	}

	stored, err := r.chunks.ChunksForDocuments(ctx, req.Owner, hashes)
	if err != nil {
		return empty, apperr.Wrap(apperr.ErrRetrievalFailure, "load chunks", err)
	}
	if len(stored) == 0 {
		return empty, nil
	}

	candidates := make([]ScoredChunk, len(stored))
	for i, c := range stored {
		candidates[i] = ScoredChunk{ChunkEmbedding: c, Filename: names[c.DocumentHash], DocOrder: order[c.DocumentHash]}
	}

	if page, ok := PageQuery(req.Query); ok {
		var onPage []ScoredChunk
		for _, c := range candidates {
			if c.Page == page {
				onPage = append(onPage, c)
			}
		}
		if len(onPage) > 0 {
			return r.result(onPage, StrategyPage), nil
		}
	}

	qvec, err := r.embedder.EmbedQuery(ctx, req.Query)
	if err != nil {
		r.log.Warn("query embedding failed, answering without context", "error", err)
		return empty, apperr.Wrap(apperr.ErrRetrievalFailure, "embed query", err)
	}

	keywords := Keywords(req.Query)
	for i := range candidates {
		c := &candidates[i]
		c.Similarity = CosineSimilarity(qvec, c.Vector)
		c.Score = clamp01(c.Similarity + Boost(c.Text, keywords))
	}
	slices.SortStableFunc(candidates, byRank)

	k := TopK(req.Query)
	var picked []ScoredChunk
	for _, c := range candidates {
		if c.Similarity >= r.threshold {
			picked = append(picked, c)
			if len(picked) == k {
				break
			}
		}
	}
	if len(picked) > 0 {
		return r.result(picked, StrategySimilarity), nil
	}

	if len(req.Documents) == 1 {
		return r.result(candidates[:1], StrategyBestChunk), nil
	}

	if len(candidates) <= r.smallCorpus {
		if lex := lexical(candidates, keywords, k); len(lex) > 0 {
			return r.result(lex, StrategyLexical), nil
		}
	}
	return empty, nil
}

// byRank orders by score, then raw similarity, then document order, then
// chunk index.
func byRank(a, b ScoredChunk) int {
	if c := cmp.Compare(b.Score, a.Score); c != 0 {
		return c
	}
	if c := cmp.Compare(b.Similarity, a.Similarity); c != 0 {
		return c
	}
	if c := cmp.Compare(a.DocOrder, b.DocOrder); c != 0 {
		return c
	}
	return cmp.Compare(a.ChunkIndex, b.ChunkIndex)
}

// lexical ranks chunks by keyword hits for corpora too small for the
// similarity threshold to be meaningful.
func lexical(candidates []ScoredChunk, keywords []string, k int) []ScoredChunk {
	if len(keywords) == 0 {
		return nil
	}
	type hit struct {
		c ScoredChunk
		n int
	}
	var hits []hit
	for _, c := range candidates {
		if n := keywordHits(c.Text, keywords); n > 0 {
			hits = append(hits, hit{c, n})
		}
	}
	slices.SortStableFunc(hits, func(a, b hit) int {
		if c := cmp.Compare(b.n, a.n); c != 0 {
			return c
		}
		if c := cmp.Compare(a.c.DocOrder, b.c.DocOrder); c != 0 {
			return c
		}
		return cmp.Compare(a.c.ChunkIndex, b.c.ChunkIndex)
	})
	out := make([]ScoredChunk, 0, min(k, len(hits)))
	for _, h := range hits[:min(k, len(hits))] {
		out = append(out, h.c)
	}
	return out
}

func (r *Retriever) result(chunks []ScoredChunk, strategy string) *Result {
	res := &Result{Chunks: chunks, Strategy: strategy}
	seen := make(map[string]struct{})
	parts := make([]string, len(chunks))
	for i, c := range chunks {
		parts[i] = Provenance(c) + "\n" + c.Text
		if _, ok := seen[c.DocumentHash]; !ok {
			seen[c.DocumentHash] = struct{}{}
			res.UsedHashes = append(res.UsedHashes, c.DocumentHash)
		}
	}
	res.Context = strings.Join(parts, "\n\n---\n\n")
	r.log.Debug("retrieved context", "strategy", strategy, "chunks", len(chunks), "documents", len(res.UsedHashes))
	return res
}

// Provenance is the source tag placed above each chunk in the context.
// Unpaged chunks omit the page.
func Provenance(c ScoredChunk) string {
	short := c.DocumentHash
	if len(short) > 8 {
		short = short[:8]
	}
	name := c.Filename
	if name == "" {
		name = "unknown"
	}
	if c.Page > 0 {
		return fmt.Sprintf("[Source: %s (%s), page %d, chunk %d]", short, name, c.Page, c.ChunkIndex)
	}
	return fmt.Sprintf("[Source: %s (%s), chunk %d]", short, name, c.ChunkIndex)
}
