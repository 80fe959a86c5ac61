package retrieval

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"document-chat-platform/internal/ai/mock"
	"document-chat-platform/internal/apperr"
	"document-chat-platform/internal/chunking"
	"document-chat-platform/internal/store"
	"document-chat-platform/models"
)

const dim = 16

type queryEmbedder struct {
	err     error
	vectors map[string][]float32
}

func (q *queryEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	if q.err != nil {
		return nil, q.err
	}
	if v, ok := q.vectors[text]; ok {
		return v, nil
	}
	return mock.Vector(text, dim), nil
}

func seed(t *testing.T, st *store.MemoryStore, hash string, pages ...string) {
	t.Helper()
	chunks := chunking.New(1000, 200).Chunk(chunking.JoinPages(pages))
	records := make([]models.ChunkEmbedding, len(chunks))
	for i, c := range chunks {
		records[i] = models.ChunkEmbedding{
			DocumentHash: hash,
			ChunkIndex:   c.Index,
			Owner:        "owner",
			Page:         c.Page,
			Text:         c.Text,
			Vector:       mock.Vector(c.Text, dim),
			CreatedAt:    time.Now(),
		}
	}
	require.NoError(t, st.UpsertEmbeddings(context.Background(), records))
}

func TestRetrieve_SelfSimilarity(t *testing.T) {
	st := store.NewMemoryStore()
	seed(t, st, "aaaaaaaaaaaa", "Invoices are due within thirty days.", "Refunds are processed weekly.", "Shipping takes five days.")
	r := NewRetriever(&queryEmbedder{}, st, 0.5, 40, nil)

	res, err := r.Retrieve(context.Background(), Request{
		Owner:     "owner",
		Query:     "Refunds are processed weekly.",
		Documents: []DocumentRef{{Hash: "aaaaaaaaaaaa", Filename: "policy.pdf"}},
	})
	require.NoError(t, err)

	require.NotEmpty(t, res.Chunks)
	assert.Equal(t, StrategySimilarity, res.Strategy)
	assert.Equal(t, "Refunds are processed weekly.", res.Chunks[0].Text)
	assert.InDelta(t, 1.0, res.Chunks[0].Similarity, 1e-6)
	assert.Equal(t, []string{"aaaaaaaaaaaa"}, res.UsedHashes)
	assert.True(t, strings.HasPrefix(res.Context, "[Source: aaaaaaaa (policy.pdf), page 2, chunk 1]\n"))
}

func TestRetrieve_PageQuery(t *testing.T) {
	st := store.NewMemoryStore()
	seed(t, st, "doc1", "first page content", "second page content", "third page content")
	r := NewRetriever(&queryEmbedder{err: errors.New("unused")}, st, 0.5, 40, nil)

	res, err := r.Retrieve(context.Background(), Request{
		Owner:     "owner",
		Query:     "what is on page 2?",
		Documents: []DocumentRef{{Hash: "doc1", Filename: "a.pdf"}},
	})
	require.NoError(t, err)

	assert.Equal(t, StrategyPage, res.Strategy)
	require.Len(t, res.Chunks, 1)
	assert.Equal(t, 2, res.Chunks[0].Page)
	assert.Contains(t, res.Context, "second page content")
	assert.NotContains(t, res.Context, "first page")
	assert.NotContains(t, res.Context, "third page")
}

func TestRetrieve_SingleDocumentNeverEmpty(t *testing.T) {
	st := store.NewMemoryStore()
	seed(t, st, "doc1", "alpha", "beta")
	r := NewRetriever(&queryEmbedder{}, st, 0.999, 40, nil)

	res, err := r.Retrieve(context.Background(), Request{
		Owner:     "owner",
		Query:     "something unrelated entirely",
		Documents: []DocumentRef{{Hash: "doc1"}},
	})
	require.NoError(t, err)
	assert.Equal(t, StrategyBestChunk, res.Strategy)
	assert.Len(t, res.Chunks, 1)
	assert.NotEmpty(t, res.Context)
}

func TestRetrieve_SmallCorpusLexicalFallback(t *testing.T) {
	st := store.NewMemoryStore()
	seed(t, st, "doc1", "The warranty covers parts.")
	seed(t, st, "doc2", "Nothing relevant here.")
	r := NewRetriever(&queryEmbedder{}, st, 0.999, 40, nil)

	res, err := r.Retrieve(context.Background(), Request{
		Owner:     "owner",
		Query:     "warranty terms",
		Documents: []DocumentRef{{Hash: "doc1"}, {Hash: "doc2"}},
	})
	require.NoError(t, err)
	assert.Equal(t, StrategyLexical, res.Strategy)
	require.Len(t, res.Chunks, 1)
	assert.Equal(t, "doc1", res.Chunks[0].DocumentHash)
}

func TestRetrieve_EmbeddingFailure(t *testing.T) {
	st := store.NewMemoryStore()
	seed(t, st, "doc1", "text")
	r := NewRetriever(&queryEmbedder{err: errors.New("provider down")}, st, 0.5, 40, nil)

	res, err := r.Retrieve(context.Background(), Request{Owner: "owner", Query: "hello", Documents: []DocumentRef{{Hash: "doc1"}}})
	assert.ErrorIs(t, err, apperr.ErrRetrievalFailure)
	assert.Empty(t, res.Context)
	assert.Empty(t, res.UsedHashes)
}

func TestRetrieve_NoDocuments(t *testing.T) {
	r := NewRetriever(&queryEmbedder{}, store.NewMemoryStore(), 0.5, 40, nil)
	res, err := r.Retrieve(context.Background(), Request{Owner: "owner", Query: "hi"})
	require.NoError(t, err)
	assert.Equal(t, StrategyNone, res.Strategy)
}

func TestRetrieve_TieBreaksByDocumentOrder(t *testing.T) {
	st := store.NewMemoryStore()
	seed(t, st, "second", "identical text")
	seed(t, st, "first", "identical text")
	r := NewRetriever(&queryEmbedder{}, st, 0.5, 40, nil)

	res, err := r.Retrieve(context.Background(), Request{
		Owner:     "owner",
		Query:     "identical text",
		Documents: []DocumentRef{{Hash: "first"}, {Hash: "second"}},
	})
	require.NoError(t, err)
	require.Len(t, res.Chunks, 2)
	assert.Equal(t, "first", res.Chunks[0].DocumentHash)
	assert.Equal(t, []string{"first", "second"}, res.UsedHashes)
	assert.Contains(t, res.Context, "\n\n---\n\n")
}
