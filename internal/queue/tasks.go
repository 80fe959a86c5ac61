package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"document-chat-platform/internal/apperr"
	"document-chat-platform/internal/blob"
)

const TaskIngestDocument = "document:ingest"

type IngestPayload struct {
	Owner    string `json:"owner"`
	BlobKey  string `json:"blob_key"`
	Filename string `json:"filename"`
}

func NewIngestTask(owner, blobKey, filename string) (*asynq.Task, error) {
	payload, err := json.Marshal(IngestPayload{
		Owner:    owner,
		BlobKey:  blobKey,
		Filename: filename,
	})
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(
		TaskIngestDocument,
		payload,
		asynq.MaxRetry(3),
		asynq.Timeout(30*time.Minute),
		asynq.Queue("critical"),
	), nil
}

// Ingester is the document ingestion entry point the worker drives.
type Ingester interface {
	Ingest(ctx context.Context, data []byte, filename, owner string) (string, error)
}

type TaskProcessor struct {
	documents Ingester
	blobs     blob.Store
	log       *slog.Logger
}

func NewTaskProcessor(documents Ingester, blobs blob.Store, log *slog.Logger) *TaskProcessor {
	if log == nil {
		log = slog.Default()
	}
	return &TaskProcessor{
		documents: documents,
		blobs:     blobs,
		log:       log.With("component", "queue"),
	}
}

// ProcessIngest loads the uploaded bytes and runs them through ingestion.
// The blob is removed once the outcome is final; retryable failures keep it
// for the next attempt.
func (p *TaskProcessor) ProcessIngest(ctx context.Context, t *asynq.Task) error {
	var payload IngestPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal failed: %w", asynq.SkipRetry)
	}

	p.log.Info("processing document", "owner", payload.Owner, "filename", payload.Filename, "blob", payload.BlobKey)

	data, err := p.blobs.Get(ctx, payload.BlobKey)
	if errors.Is(err, blob.ErrNotFound) {
		return fmt.Errorf("blob %s: %w", payload.BlobKey, asynq.SkipRetry)
	}
	if err != nil {
		return fmt.Errorf("load blob: %w", err)
	}

	hash, err := p.documents.Ingest(ctx, data, payload.Filename, payload.Owner)
	if err != nil && apperr.Retryable(err) {
		return err
	}
	if delErr := p.blobs.Delete(ctx, payload.BlobKey); delErr != nil {
		p.log.Warn("failed to delete processed blob", "blob", payload.BlobKey, "error", delErr)
	}
	if err != nil {
		p.log.Error("document ingestion failed", "filename", payload.Filename, "error", err)
		return fmt.Errorf("ingest %s: %v: %w", payload.Filename, err, asynq.SkipRetry)
	}

	p.log.Info("document processed", "hash", hash, "filename", payload.Filename)
	return nil
}

// Register binds every task handler to mux.
func (p *TaskProcessor) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TaskIngestDocument, p.ProcessIngest)
}
