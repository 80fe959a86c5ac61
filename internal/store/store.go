// Package store persists documents, chunk embeddings, chat sessions and the
// usage ledger. MongoStore is the production backend; MemoryStore backs tests
// and local runs.
package store

import (
	"cmp"
	"context"
	"slices"
	"time"

	"document-chat-platform/models"
)

// Collection names
const (
	DocumentsCollection        = "documents"
	EmbeddingsCollection       = "embeddings"
	SessionsCollection         = "chat_sessions"
	UsageCollection            = "usage_records"
	DeletedDocumentsCollection = "deleted_documents"
)

type DocumentStore interface {
	// FindDocument returns apperr.ErrDocumentNotFound on a miss.
	FindDocument(ctx context.Context, hash, owner string) (*models.Document, error)
	// UpsertDocument writes the document keyed by (content_hash, owner).
	UpsertDocument(ctx context.Context, doc *models.Document) error
	// UpsertIncompleteDocument writes doc unless a completed document already
	// holds (content_hash, owner), and reports whether it wrote.
	UpsertIncompleteDocument(ctx context.Context, doc *models.Document) (bool, error)
	TouchDocument(ctx context.Context, hash, owner string, at time.Time) error
	ListDocuments(ctx context.Context, owner string) ([]models.Document, error)
	DeleteDocument(ctx context.Context, hash, owner string) error
	ArchiveDeleted(ctx context.Context, doc *models.DeletedDocument) error
	DeletedSince(ctx context.Context, owner string, since time.Time) ([]models.DeletedDocument, error)
}

type EmbeddingStore interface {
	// UpsertEmbeddings writes records keyed by (document_hash, chunk_index, owner).
	UpsertEmbeddings(ctx context.Context, records []models.ChunkEmbedding) error
	// ChunksForDocuments returns the chunks of the given documents ordered by
	// the position of their hash in hashes, then by chunk index.
	ChunksForDocuments(ctx context.Context, owner string, hashes []string) ([]models.ChunkEmbedding, error)
	DeleteEmbeddings(ctx context.Context, hash, owner string) error
}

type SessionStore interface {
	// LoadSession returns apperr.ErrSessionNotFound on a miss.
	LoadSession(ctx context.Context, sessionID, owner string) (*models.ChatSession, error)
	SaveSession(ctx context.Context, session *models.ChatSession) error
	DeleteSession(ctx context.Context, sessionID, owner string) error
	// ListSessions returns sessions active since the given time, newest first.
	ListSessions(ctx context.Context, owner string, since time.Time) ([]models.ChatSession, error)
	DeleteSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type UsageStore interface {
	AppendUsage(ctx context.Context, record *models.UsageRecord) error
	UsageRecords(ctx context.Context, owner string, since time.Time) ([]models.UsageRecord, error)
	UsageByOperation(ctx context.Context, owner string, since time.Time) ([]models.UsageLine, error)
}

// Store aggregates every collection the engine needs.
type Store interface {
	DocumentStore
	EmbeddingStore
	SessionStore
	UsageStore
}

// sortChunks orders chunks by the position of their document in hashes and
// then by chunk index.
func sortChunks(chunks []models.ChunkEmbedding, hashes []string) {
	pos := make(map[string]int, len(hashes))
	for i, h := range hashes {
		if _, ok := pos[h]; !ok {
			pos[h] = i
		}
	}
	slices.SortStableFunc(chunks, func(a, b models.ChunkEmbedding) int {
		if c := cmp.Compare(pos[a.DocumentHash], pos[b.DocumentHash]); c != 0 {
			return c
		}
		return cmp.Compare(a.ChunkIndex, b.ChunkIndex)
	})
}
