package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"document-chat-platform/internal/apperr"
	"document-chat-platform/internal/store"
	"document-chat-platform/models"
)

// ReuseRecorder meters a deduplicated upload.
type ReuseRecorder interface {
	RecordReuse(ctx context.Context, doc *models.Document) error
}

// Gate answers whether an owner already has a completed document with the
// given content hash.
type Gate struct {
	docs  store.DocumentStore
	meter ReuseRecorder
	log   *slog.Logger
	now   func() time.Time
}

func NewGate(docs store.DocumentStore, meter ReuseRecorder, log *slog.Logger) *Gate {
	if log == nil {
		log = slog.Default()
	}
	return &Gate{docs: docs, meter: meter, log: log.With("component", "dedup"), now: time.Now}
}

// Check returns the existing document on a hit. Only completed documents
// count; failed or in-flight ones are re-ingested. A hit touches
// last_used_at and writes a zero-cost reuse record, and neither failure
// turns the hit into a miss.
func (g *Gate) Check(ctx context.Context, hash, owner string) (*models.Document, bool, error) {
	doc, err := g.docs.FindDocument(ctx, hash, owner)
	if errors.Is(err, apperr.ErrDocumentNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("dedup lookup: %w", err)
	}
	if doc.Status != models.StatusCompleted {
		return nil, false, nil
	}

	now := g.now().UTC()
	if err := g.docs.TouchDocument(ctx, hash, owner, now); err != nil {
		g.log.Warn("failed to touch reused document", "hash", hash, "owner", owner, "error", err)
	} else {
		doc.LastUsedAt = now
	}
	if g.meter != nil {
		if err := g.meter.RecordReuse(ctx, doc); err != nil {
			g.log.Warn("failed to meter document reuse", "hash", hash, "owner", owner, "error", err)
		}
	}
	g.log.Info("document reused", "hash", hash, "owner", owner, "pages", doc.PageCount)
	return doc, true, nil
}
