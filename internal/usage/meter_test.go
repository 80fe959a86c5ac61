package usage

import (
	"context"
	"testing"
	"time"

	"document-chat-platform/internal/apperr"
	"document-chat-platform/internal/store"
	"document-chat-platform/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMeter(t *testing.T) (*Meter, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	return NewMeter(st, st, DefaultPrices(), nil), st
}

func TestPrices(t *testing.T) {
	p := DefaultPrices()
	assert.InDelta(t, 0.15+0.60, p.ChatCost(1_000_000, 1_000_000), 1e-9)
	assert.InDelta(t, 0.13, p.EmbeddingCost(1_000_000), 1e-9)
	assert.InDelta(t, 0.025, p.OCRCost(10), 1e-9)
	assert.Zero(t, p.ExtractionCost(40))
}

func TestMeter_RecordExtractionSplitsMethods(t *testing.T) {
	ctx := context.Background()
	m, st := newTestMeter(t)

	require.NoError(t, m.RecordExtraction(ctx, "alice", "h1", 3, 2))

	recs, err := st.UsageRecords(ctx, "alice", time.Time{})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, models.OpExtraction, recs[0].Operation)
	assert.Equal(t, 3, recs[0].Pages)
	assert.Zero(t, recs[0].Cost)
	assert.Equal(t, models.OpOCRPage, recs[1].Operation)
	assert.InDelta(t, 0.005, recs[1].Cost, 1e-9)
	assert.NotEqual(t, recs[0].ID, recs[1].ID)
	assert.False(t, recs[1].CreatedAt.IsZero())
}

func TestMeter_ZeroQuantitiesWriteNothing(t *testing.T) {
	ctx := context.Background()
	m, st := newTestMeter(t)

	require.NoError(t, m.RecordExtraction(ctx, "alice", "h1", 0, 0))
	require.NoError(t, m.RecordEmbedding(ctx, "alice", "h1", 0))
	require.NoError(t, m.RecordChat(ctx, "alice", "s1", 0, 0))

	recs, _ := st.UsageRecords(ctx, "alice", time.Time{})
	assert.Empty(t, recs)
}

func TestMeter_ReuseIsFreeButPriced(t *testing.T) {
	ctx := context.Background()
	m, st := newTestMeter(t)

	doc := &models.Document{
		ContentHash:    "h1",
		Owner:          "alice",
		ExtractionType: models.ExtractionOCR,
		PageCount:      4,
		TokenCount:     2_000_000,
	}
	require.NoError(t, m.RecordReuse(ctx, doc))

	recs, _ := st.UsageRecords(ctx, "alice", time.Time{})
	require.Len(t, recs, 1)
	assert.Equal(t, models.OpReuse, recs[0].Operation)
	assert.Zero(t, recs[0].Cost)
	assert.InDelta(t, 0.26+0.01, recs[0].WouldBeCost, 1e-9)
}

func TestMeter_Summary(t *testing.T) {
	ctx := context.Background()
	m, st := newTestMeter(t)

	require.NoError(t, m.RecordChat(ctx, "alice", "s1", 1000, 500))
	require.NoError(t, m.RecordChat(ctx, "alice", "s1", 1000, 500))
	require.NoError(t, m.RecordEmbedding(ctx, "alice", "h1", 4000))
	require.NoError(t, m.RecordReuse(ctx, &models.Document{ContentHash: "h1", Owner: "alice", PageCount: 2, TokenCount: 4000}))
	require.NoError(t, m.RecordChat(ctx, "bob", "s2", 1000, 500))
	require.NoError(t, st.ArchiveDeleted(ctx, &models.DeletedDocument{ContentHash: "h0", Owner: "alice", PageCount: 7, DeletedAt: time.Now()}))

	sum, err := m.Summary(ctx, "alice", time.Now().Add(-time.Hour))
	require.NoError(t, err)

	ops := map[string]models.UsageLine{}
	for _, l := range sum.Lines {
		ops[l.Operation] = l
	}
	assert.Equal(t, 2, ops[models.OpChatCompletion].Records)
	assert.Equal(t, 3000, ops[models.OpChatCompletion].Quantity)

	chat := 2 * DefaultPrices().ChatCost(1000, 500)
	emb := DefaultPrices().EmbeddingCost(4000)
	assert.InDelta(t, chat+emb, sum.TotalCost, 1e-12)
	assert.InDelta(t, emb, sum.SavedCost, 1e-12)
	assert.Equal(t, 1, sum.DeletedDocuments)
	assert.Equal(t, 7, sum.DeletedPages)
}

func TestMeter_WriteFailureSurfaces(t *testing.T) {
	m, st := newTestMeter(t)
	st.FailWrites = true

	err := m.RecordChat(context.Background(), "alice", "s1", 10, 10)
	assert.ErrorIs(t, err, apperr.ErrPersistenceFailure)
}
