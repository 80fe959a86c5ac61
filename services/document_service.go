package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"document-chat-platform/internal/apperr"
	"document-chat-platform/internal/chunking"
	"document-chat-platform/internal/embedding"
	"document-chat-platform/internal/extraction"
	"document-chat-platform/internal/ingest"
	"document-chat-platform/internal/store"
	"document-chat-platform/internal/usage"
	"document-chat-platform/models"
	"document-chat-platform/utils"
)

const sampleLength = 200

// DocumentStore is what the document service needs from persistence.
type DocumentStore interface {
	store.DocumentStore
	store.EmbeddingStore
}

// DocumentService runs uploads through dedup, extraction, chunking and
// embedding, and manages the stored documents.
type DocumentService struct {
	store     DocumentStore
	gate      *ingest.Gate
	pipeline  *extraction.Pipeline
	chunker   *chunking.Chunker
	generator *embedding.Generator
	meter     *usage.Meter
	log       *slog.Logger
	now       func() time.Time
}

func NewDocumentService(
	st DocumentStore,
	pipeline *extraction.Pipeline,
	chunker *chunking.Chunker,
	generator *embedding.Generator,
	meter *usage.Meter,
	log *slog.Logger,
) *DocumentService {
	if log == nil {
		log = slog.Default()
	}
	return &DocumentService{
		store:     st,
		gate:      ingest.NewGate(st, meter, log),
		pipeline:  pipeline,
		chunker:   chunker,
		generator: generator,
		meter:     meter,
		log:       log.With("component", "documents"),
		now:       time.Now,
	}
}

// IngestOutcome describes one processed upload.
type IngestOutcome struct {
	Hash         string
	Filename     string
	Reused       bool
	Pages        int
	Chunks       int
	FailedChunks int
}

// Ingest stores the document and returns its content hash. Identical bytes
// from the same owner are processed once.
func (s *DocumentService) Ingest(ctx context.Context, data []byte, filename, owner string) (string, error) {
	out, err := s.IngestDocument(ctx, data, filename, owner)
	if err != nil {
		return "", err
	}
	return out.Hash, nil
}

func (s *DocumentService) IngestDocument(ctx context.Context, data []byte, filename, owner string) (*IngestOutcome, error) {
	if owner == "" {
		return nil, apperr.ErrMissingOwner
	}
	if len(data) == 0 {
		return nil, apperr.Wrap(apperr.ErrEmptyFile, "ingest "+filename, nil)
	}

	src := extraction.Source{Data: data, Filename: filename}
	if _, err := s.pipeline.Resolve(&src); err != nil {
		return nil, err
	}

	hash := ingest.HashBytes(data)
	log := s.log.With("hash", hash, "owner", owner, "filename", filename)

	if out, hit, err := s.reuse(ctx, hash, owner); err != nil || hit {
		return out, err
	}

	now := s.now().UTC()
	doc := &models.Document{
		ContentHash: hash,
		Owner:       owner,
		Filename:    filename,
		Status:      models.StatusProcessing,
		SizeBytes:   int64(len(data)),
		CreatedAt:   now,
		LastUsedAt:  now,
	}
	written, err := s.store.UpsertIncompleteDocument(ctx, doc)
	if err != nil {
		return nil, err
	}
	if !written {
		// A concurrent upload of the same bytes completed after the gate.
		return s.reuseOrFail(ctx, hash, owner, errors.New("document completed concurrently"))
	}

	res, err := s.pipeline.Extract(ctx, src)
	if err != nil {
		return s.fail(ctx, doc, err)
	}
	doc.ContentType = res.ContentType
	doc.ExtractionType = res.Method
	doc.PageCount = res.Pages
	if err := s.meter.RecordExtraction(ctx, owner, hash, res.DigitalPages, res.OCRPages); err != nil {
		log.Warn("extraction usage not recorded", "error", err)
	}

	chunks := s.chunker.Chunk(res.Text)
	if len(chunks) == 0 {
		return s.fail(ctx, doc, apperr.Wrap(apperr.ErrExtractionFailure, "chunk "+filename, errors.New("no text to index")))
	}
	for _, ch := range chunks {
		doc.TokenCount += embedding.EstimateTokens(ch.Text)
	}

	emb, err := s.generator.Generate(ctx, hash, owner, chunks)
	if err != nil {
		return s.fail(ctx, doc, err)
	}
	if err := s.meter.RecordEmbedding(ctx, owner, hash, emb.BilledTokens); err != nil {
		log.Warn("embedding usage not recorded", "error", err)
	}

	blob, algo, err := utils.CompressText(res.Text)
	if err != nil {
		return nil, fmt.Errorf("compress extracted text: %w", err)
	}
	doc.TextBlob = blob
	doc.TextEncoding = string(algo)
	doc.ChunkCount = len(chunks)
	doc.FailedChunks = len(emb.Failed)
	doc.Status = models.StatusCompleted
	doc.LastUsedAt = s.now().UTC()
	if err := s.store.UpsertDocument(ctx, doc); err != nil {
		return nil, err
	}

	log.Info("document ingested",
		"method", res.Method,
		"pages", res.Pages,
		"chunks", len(chunks),
		"failed_chunks", len(emb.Failed),
		"cache_hits", emb.CacheHits,
	)
	return &IngestOutcome{
		Hash:         hash,
		Filename:     filename,
		Pages:        res.Pages,
		Chunks:       len(chunks),
		FailedChunks: len(emb.Failed),
	}, nil
}

// reuse answers an upload from an already completed document.
func (s *DocumentService) reuse(ctx context.Context, hash, owner string) (*IngestOutcome, bool, error) {
	existing, hit, err := s.gate.Check(ctx, hash, owner)
	if err != nil || !hit {
		return nil, false, err
	}
	return &IngestOutcome{
		Hash:         hash,
		Filename:     existing.Filename,
		Reused:       true,
		Pages:        existing.PageCount,
		Chunks:       existing.ChunkCount,
		FailedChunks: existing.FailedChunks,
	}, true, nil
}

func (s *DocumentService) reuseOrFail(ctx context.Context, hash, owner string, cause error) (*IngestOutcome, error) {
	out, hit, err := s.reuse(ctx, hash, owner)
	if err != nil {
		return nil, err
	}
	if !hit {
		return nil, cause
	}
	return out, nil
}

// fail records the failure unless another upload completed the document in
// the meantime, in which case that document answers this upload.
func (s *DocumentService) fail(ctx context.Context, doc *models.Document, cause error) (*IngestOutcome, error) {
	doc.Status = models.StatusFailed
	doc.Error = cause.Error()
	written, err := s.store.UpsertIncompleteDocument(ctx, doc)
	if err != nil {
		s.log.Error("failed to record failed document", "hash", doc.ContentHash, "owner", doc.Owner, "error", err)
	}
	if err == nil && !written {
		s.log.Info("ingest failed but a concurrent upload completed the document",
			"hash", doc.ContentHash, "owner", doc.Owner, "error", cause)
		return s.reuseOrFail(ctx, doc.ContentHash, doc.Owner, cause)
	}
	s.log.Warn("document ingest failed", "hash", doc.ContentHash, "owner", doc.Owner, "filename", doc.Filename, "error", cause)
	return nil, cause
}

// Get returns the document with a short sample of its extracted text.
func (s *DocumentService) Get(ctx context.Context, hash, owner string) (*models.DocumentInfo, error) {
	doc, err := s.store.FindDocument(ctx, hash, owner)
	if err != nil {
		return nil, err
	}
	info := &models.DocumentInfo{Document: *doc}
	if len(doc.TextBlob) > 0 {
		text, err := utils.DecompressText(doc.TextBlob, utils.CompressionAlgorithm(doc.TextEncoding))
		if err != nil {
			s.log.Warn("stored text unreadable", "hash", hash, "error", err)
		} else {
			info.Sample = sample(text)
		}
	}
	info.TextBlob = nil
	return info, nil
}

// Text returns the full extracted text of a document.
func (s *DocumentService) Text(ctx context.Context, hash, owner string) (string, error) {
	doc, err := s.store.FindDocument(ctx, hash, owner)
	if err != nil {
		return "", err
	}
	return utils.DecompressText(doc.TextBlob, utils.CompressionAlgorithm(doc.TextEncoding))
}

func (s *DocumentService) List(ctx context.Context, owner string) ([]models.Document, error) {
	docs, err := s.store.ListDocuments(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	if docs == nil {
		docs = []models.Document{}
	}
	return docs, nil
}

// Delete removes the document and its chunks. Its billing facts are archived
// first so usage reports still account for it.
func (s *DocumentService) Delete(ctx context.Context, hash, owner string) error {
	doc, err := s.store.FindDocument(ctx, hash, owner)
	if err != nil {
		return err
	}
	if err := s.store.ArchiveDeleted(ctx, &models.DeletedDocument{
		ContentHash:    doc.ContentHash,
		Owner:          doc.Owner,
		Filename:       doc.Filename,
		ExtractionType: doc.ExtractionType,
		PageCount:      doc.PageCount,
		TokenCount:     doc.TokenCount,
		CreatedAt:      doc.CreatedAt,
		DeletedAt:      s.now().UTC(),
	}); err != nil {
		return err
	}
	if err := s.store.DeleteEmbeddings(ctx, hash, owner); err != nil {
		return err
	}
	if err := s.store.DeleteDocument(ctx, hash, owner); err != nil {
		return err
	}
	s.log.Info("document deleted", "hash", hash, "owner", owner)
	return nil
}

// Describe resolves hashes to retrieval candidates, dropping documents the
// owner does not have in completed state.
func (s *DocumentService) Describe(ctx context.Context, owner string, hashes []string) ([]models.Document, error) {
	out := make([]models.Document, 0, len(hashes))
	for _, h := range hashes {
		doc, err := s.store.FindDocument(ctx, h, owner)
		if errors.Is(err, apperr.ErrDocumentNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if doc.Status != models.StatusCompleted {
			continue
		}
		doc.TextBlob = nil
		out = append(out, *doc)
	}
	return out, nil
}

func sample(text string) string {
	text = strings.TrimSpace(text)
	r := []rune(text)
	if len(r) <= sampleLength {
		return text
	}
	return string(r[:sampleLength]) + "..."
}
