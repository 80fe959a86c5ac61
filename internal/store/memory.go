package store

import (
	"context"
	"errors"
	"slices"
	"strconv"
	"sync"
	"time"

	"document-chat-platform/internal/apperr"
	"document-chat-platform/models"
)

// MemoryStore is a process-local Store. Values are copied on the way in and
// out so callers never share state with the store.
type MemoryStore struct {
	mu         sync.RWMutex
	documents  map[string]models.Document
	deleted    []models.DeletedDocument
	embeddings map[string]models.ChunkEmbedding
	sessions   map[string]*models.ChatSession
	usage      []models.UsageRecord

	// FailWrites makes every write return ErrPersistenceFailure.
	FailWrites bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		documents:  make(map[string]models.Document),
		embeddings: make(map[string]models.ChunkEmbedding),
		sessions:   make(map[string]*models.ChatSession),
	}
}

var _ Store = (*MemoryStore)(nil)

var errStoreUnavailable = errors.New("memory store unavailable")

func docKey(hash, owner string) string { return owner + "\x00" + hash }

func chunkKey(hash, owner string, index int) string {
	return owner + "\x00" + hash + "\x00" + strconv.Itoa(index)
}

func (m *MemoryStore) writeErr(op string) error {
	if m.FailWrites {
		return apperr.Wrap(apperr.ErrPersistenceFailure, op, errStoreUnavailable)
	}
	return nil
}

func (m *MemoryStore) FindDocument(ctx context.Context, hash, owner string) (*models.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.documents[docKey(hash, owner)]
	if !ok {
		return nil, apperr.ErrDocumentNotFound
	}
	d.TextBlob = slices.Clone(d.TextBlob)
	return &d, nil
}

func (m *MemoryStore) UpsertDocument(ctx context.Context, doc *models.Document) error {
	if err := m.writeErr("upsert document"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	d := *doc
	d.TextBlob = slices.Clone(doc.TextBlob)
	m.documents[docKey(doc.ContentHash, doc.Owner)] = d
	return nil
}

func (m *MemoryStore) UpsertIncompleteDocument(ctx context.Context, doc *models.Document) (bool, error) {
	if err := m.writeErr("upsert document"); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := docKey(doc.ContentHash, doc.Owner)
	if cur, ok := m.documents[key]; ok && cur.Status == models.StatusCompleted {
		return false, nil
	}
	d := *doc
	d.TextBlob = slices.Clone(doc.TextBlob)
	m.documents[key] = d
	return true, nil
}

func (m *MemoryStore) TouchDocument(ctx context.Context, hash, owner string, at time.Time) error {
	if err := m.writeErr("touch document"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := docKey(hash, owner)
	d, ok := m.documents[key]
	if !ok {
		return apperr.ErrDocumentNotFound
	}
	d.LastUsedAt = at
	m.documents[key] = d
	return nil
}

func (m *MemoryStore) ListDocuments(ctx context.Context, owner string) ([]models.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Document
	for _, d := range m.documents {
		if d.Owner == owner {
			d.TextBlob = nil
			out = append(out, d)
		}
	}
	slices.SortFunc(out, func(a, b models.Document) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return out, nil
}

func (m *MemoryStore) DeleteDocument(ctx context.Context, hash, owner string) error {
	if err := m.writeErr("delete document"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := docKey(hash, owner)
	if _, ok := m.documents[key]; !ok {
		return apperr.ErrDocumentNotFound
	}
	delete(m.documents, key)
	return nil
}

func (m *MemoryStore) ArchiveDeleted(ctx context.Context, doc *models.DeletedDocument) error {
	if err := m.writeErr("archive deleted document"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, *doc)
	return nil
}

func (m *MemoryStore) DeletedSince(ctx context.Context, owner string, since time.Time) ([]models.DeletedDocument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.DeletedDocument
	for _, d := range m.deleted {
		if d.Owner == owner && !d.DeletedAt.Before(since) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *MemoryStore) UpsertEmbeddings(ctx context.Context, records []models.ChunkEmbedding) error {
	if err := m.writeErr("upsert embeddings"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		r.Vector = slices.Clone(r.Vector)
		m.embeddings[chunkKey(r.DocumentHash, r.Owner, r.ChunkIndex)] = r
	}
	return nil
}

func (m *MemoryStore) ChunksForDocuments(ctx context.Context, owner string, hashes []string) ([]models.ChunkEmbedding, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.ChunkEmbedding
	for _, r := range m.embeddings {
		if r.Owner == owner && slices.Contains(hashes, r.DocumentHash) {
			r.Vector = slices.Clone(r.Vector)
			out = append(out, r)
		}
	}
	sortChunks(out, hashes)
	return out, nil
}

func (m *MemoryStore) DeleteEmbeddings(ctx context.Context, hash, owner string) error {
	if err := m.writeErr("delete embeddings"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, r := range m.embeddings {
		if r.DocumentHash == hash && r.Owner == owner {
			delete(m.embeddings, k)
		}
	}
	return nil
}

func (m *MemoryStore) LoadSession(ctx context.Context, sessionID, owner string) (*models.ChatSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[docKey(sessionID, owner)]
	if !ok {
		return nil, apperr.ErrSessionNotFound
	}
	return s.Clone(), nil
}

func (m *MemoryStore) SaveSession(ctx context.Context, session *models.ChatSession) error {
	if err := m.writeErr("save session"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[docKey(session.SessionID, session.Owner)] = session.Clone()
	return nil
}

func (m *MemoryStore) DeleteSession(ctx context.Context, sessionID, owner string) error {
	if err := m.writeErr("delete session"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, docKey(sessionID, owner))
	return nil
}

func (m *MemoryStore) ListSessions(ctx context.Context, owner string, since time.Time) ([]models.ChatSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.ChatSession
	for _, s := range m.sessions {
		if s.Owner == owner && !s.LastActivity.Before(since) {
			out = append(out, *s.Clone())
		}
	}
	slices.SortFunc(out, func(a, b models.ChatSession) int { return b.LastActivity.Compare(a.LastActivity) })
	return out, nil
}

func (m *MemoryStore) DeleteSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := m.writeErr("expire sessions"); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, s := range m.sessions {
		if s.LastActivity.Before(cutoff) {
			delete(m.sessions, k)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) AppendUsage(ctx context.Context, record *models.UsageRecord) error {
	if err := m.writeErr("append usage"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usage = append(m.usage, *record)
	return nil
}

func (m *MemoryStore) UsageRecords(ctx context.Context, owner string, since time.Time) ([]models.UsageRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.UsageRecord
	for _, r := range m.usage {
		if r.Owner == owner && !r.CreatedAt.Before(since) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *MemoryStore) UsageByOperation(ctx context.Context, owner string, since time.Time) ([]models.UsageLine, error) {
	records, _ := m.UsageRecords(ctx, owner, since)
	lines := map[string]*models.UsageLine{}
	var order []string
	for _, r := range records {
		l, ok := lines[r.Operation]
		if !ok {
			l = &models.UsageLine{Operation: r.Operation}
			lines[r.Operation] = l
			order = append(order, r.Operation)
		}
		l.Records++
		l.Quantity += r.Quantity
		l.Pages += r.Pages
		l.Cost += r.Cost
		l.WouldBeCost += r.WouldBeCost
	}
	slices.Sort(order)
	out := make([]models.UsageLine, 0, len(order))
	for _, op := range order {
		out = append(out, *lines[op])
	}
	return out, nil
}
