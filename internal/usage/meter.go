package usage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"document-chat-platform/internal/store"
	"document-chat-platform/models"
)

// Meter appends one ledger record per metered operation. Records are never
// updated or deleted.
type Meter struct {
	usage  store.UsageStore
	docs   store.DocumentStore
	prices Prices
	log    *slog.Logger
	now    func() time.Time
}

// NewMeter builds a meter. docs is only read by Summary and may be nil.
func NewMeter(usage store.UsageStore, docs store.DocumentStore, prices Prices, log *slog.Logger) *Meter {
	if log == nil {
		log = slog.Default()
	}
	return &Meter{usage: usage, docs: docs, prices: prices, log: log.With("component", "usage"), now: time.Now}
}

func (m *Meter) Prices() Prices { return m.prices }

func (m *Meter) append(ctx context.Context, r *models.UsageRecord) error {
	r.ID = uuid.NewString()
	r.CreatedAt = m.now().UTC()
	if err := m.usage.AppendUsage(ctx, r); err != nil {
		m.log.Error("usage record not written", "operation", r.Operation, "owner", r.Owner, "error", err)
		return fmt.Errorf("record %s usage: %w", r.Operation, err)
	}
	return nil
}

// RecordExtraction meters digital pages and OCR pages of one document as
// separate records. Zero counts write nothing.
func (m *Meter) RecordExtraction(ctx context.Context, owner, hash string, digitalPages, ocrPages int) error {
	if digitalPages > 0 {
		if err := m.append(ctx, &models.UsageRecord{
			Owner:        owner,
			Operation:    models.OpExtraction,
			Quantity:     digitalPages,
			Unit:         models.UnitPages,
			Pages:        digitalPages,
			Cost:         m.prices.ExtractionCost(digitalPages),
			DocumentHash: hash,
		}); err != nil {
			return err
		}
	}
	if ocrPages > 0 {
		return m.append(ctx, &models.UsageRecord{
			Owner:        owner,
			Operation:    models.OpOCRPage,
			Quantity:     ocrPages,
			Unit:         models.UnitPages,
			Pages:        ocrPages,
			Cost:         m.prices.OCRCost(ocrPages),
			DocumentHash: hash,
		})
	}
	return nil
}

func (m *Meter) RecordEmbedding(ctx context.Context, owner, hash string, tokens int) error {
	if tokens <= 0 {
		return nil
	}
	return m.append(ctx, &models.UsageRecord{
		Owner:        owner,
		Operation:    models.OpEmbedding,
		Quantity:     tokens,
		Unit:         models.UnitTokens,
		InputTokens:  tokens,
		Cost:         m.prices.EmbeddingCost(tokens),
		DocumentHash: hash,
	})
}

func (m *Meter) RecordChat(ctx context.Context, owner, sessionID string, inputTokens, outputTokens int) error {
	if inputTokens <= 0 && outputTokens <= 0 {
		return nil
	}
	return m.append(ctx, &models.UsageRecord{
		Owner:        owner,
		Operation:    models.OpChatCompletion,
		Quantity:     inputTokens + outputTokens,
		Unit:         models.UnitTokens,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		Cost:         m.prices.ChatCost(inputTokens, outputTokens),
		SessionID:    sessionID,
	})
}

// WouldBeCost is what ingesting doc from scratch costs at current prices.
func (m *Meter) WouldBeCost(doc *models.Document) float64 {
	cost := m.prices.EmbeddingCost(doc.TokenCount)
	if doc.ExtractionType == models.ExtractionOCR {
		return cost + m.prices.OCRCost(doc.PageCount)
	}
	return cost + m.prices.ExtractionCost(doc.PageCount)
}

// RecordReuse meters a deduplicated upload: zero cost, with the cost of a
// fresh ingest kept for reporting.
func (m *Meter) RecordReuse(ctx context.Context, doc *models.Document) error {
	return m.append(ctx, &models.UsageRecord{
		Owner:        doc.Owner,
		Operation:    models.OpReuse,
		Quantity:     doc.PageCount,
		Unit:         models.UnitPages,
		Pages:        doc.PageCount,
		InputTokens:  doc.TokenCount,
		Cost:         0,
		WouldBeCost:  m.WouldBeCost(doc),
		DocumentHash: doc.ContentHash,
	})
}

// Summary aggregates the owner's ledger since the given time.
func (m *Meter) Summary(ctx context.Context, owner string, since time.Time) (*models.UsageSummary, error) {
	lines, err := m.usage.UsageByOperation(ctx, owner, since)
	if err != nil {
		return nil, fmt.Errorf("aggregate usage: %w", err)
	}
	sum := &models.UsageSummary{Owner: owner, Since: since, Lines: lines}
	for _, l := range lines {
		sum.TotalCost += l.Cost
		if l.Operation == models.OpReuse {
			sum.SavedCost += l.WouldBeCost
		}
	}
	if m.docs != nil {
		deleted, err := m.docs.DeletedSince(ctx, owner, since)
		if err != nil {
			return nil, fmt.Errorf("load deleted documents: %w", err)
		}
		sum.DeletedDocuments = len(deleted)
		for _, d := range deleted {
			sum.DeletedPages += d.PageCount
		}
	}
	return sum, nil
}

// Records lists raw ledger entries.
func (m *Meter) Records(ctx context.Context, owner string, since time.Time) ([]models.UsageRecord, error) {
	recs, err := m.usage.UsageRecords(ctx, owner, since)
	if err != nil {
		return nil, fmt.Errorf("load usage records: %w", err)
	}
	return recs, nil
}
