// Package session owns the chat session lifecycle: creation, turn appends,
// history, listing, ending and retention.
//
// Sessions live in a two-tier cache. The Mongo-backed store is authoritative;
// the in-process LRU tier only saves reads. Writes to one session are
// serialized by a per-session lock, so different sessions never contend.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"document-chat-platform/internal/apperr"
	"document-chat-platform/internal/cache"
	"document-chat-platform/internal/store"
	"document-chat-platform/models"
)

const (
	previewRunes   = 70
	defaultPreview = "New Conversation"
)

type Options struct {
	CacheSize  int
	CacheTTL   time.Duration
	ListWindow time.Duration
}

type Manager struct {
	cache      *cache.TwoTier[Key, *models.ChatSession]
	memory     *cache.LRU[Key, *models.ChatSession]
	store      store.SessionStore
	locks      *keyedMutex
	listWindow time.Duration
	log        *slog.Logger

	now   func() time.Time
	newID func() string
}

func NewManager(st store.SessionStore, opts Options, log *slog.Logger) *Manager {
	if opts.CacheSize <= 0 {
		opts.CacheSize = 1000
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 30 * time.Minute
	}
	if opts.ListWindow <= 0 {
		opts.ListWindow = 15 * 24 * time.Hour
	}
	if log == nil {
		log = slog.Default()
	}
	mem := cache.NewLRU[Key, *models.ChatSession](opts.CacheSize, opts.CacheTTL)
	return &Manager{
		cache:      cache.NewTwoTier[Key, *models.ChatSession](mem, storeTier{st}),
		memory:     mem,
		store:      st,
		locks:      newKeyedMutex(),
		listWindow: opts.ListWindow,
		log:        log.With("component", "session"),
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

// TurnInput is one exchange to append.
type TurnInput struct {
	Prompt         string
	Response       string
	DocumentHashes []string
	InputTokens    int
	OutputTokens   int
	Interrupted    bool
	Task           string
}

// GetOrCreate returns the session, creating and persisting it when it does
// not exist. An empty sessionID always creates a new session. The returned
// value is a copy.
func (m *Manager) GetOrCreate(ctx context.Context, owner, sessionID string) (*models.ChatSession, bool, error) {
	if owner == "" {
		return nil, false, apperr.Wrap(apperr.ErrMissingOwner, "get session", nil)
	}
	if sessionID == "" {
		sessionID = m.newID()
	}
	key := Key{Owner: owner, SessionID: sessionID}

	unlock := m.locks.Lock(key)
	defer unlock()

	s, err := m.load(ctx, key)
	if err == nil {
		return s.Clone(), false, nil
	}
	if !errors.Is(err, apperr.ErrSessionNotFound) {
		return nil, false, err
	}

	now := m.now().UTC()
	s = &models.ChatSession{
		SessionID:       sessionID,
		Owner:           owner,
		CreatedAt:       now,
		LastActivity:    now,
		ActiveDocuments: []string{},
		Turns:           []models.Turn{},
	}
	if err := m.save(ctx, key, s); err != nil {
		return nil, false, err
	}
	m.log.Info("session created", "session_id", sessionID, "owner", owner)
	return s.Clone(), true, nil
}

// Get returns the session or ErrSessionNotFound.
func (m *Manager) Get(ctx context.Context, owner, sessionID string) (*models.ChatSession, error) {
	s, err := m.load(ctx, Key{Owner: owner, SessionID: sessionID})
	if err != nil {
		return nil, err
	}
	return s.Clone(), nil
}

// AddMessage appends a turn. A turn with blank prompt and response changes
// nothing. The updated snapshot is persisted before the memory tier changes;
// on a failed write the session is left as it was and ErrPersistenceFailure
// is returned.
func (m *Manager) AddMessage(ctx context.Context, owner, sessionID string, in TurnInput) (*models.ChatSession, error) {
	key := Key{Owner: owner, SessionID: sessionID}
	unlock := m.locks.Lock(key)
	defer unlock()

	current, err := m.load(ctx, key)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Prompt) == "" && strings.TrimSpace(in.Response) == "" {
		return current.Clone(), nil
	}

	now := m.now().UTC()
	next := current.Clone()
	turnHashes := mergeHashes(nil, in.DocumentHashes)
	next.Turns = append(next.Turns, models.Turn{
		Prompt:         in.Prompt,
		Response:       in.Response,
		DocumentHashes: turnHashes,
		InputTokens:    in.InputTokens,
		OutputTokens:   in.OutputTokens,
		Interrupted:    in.Interrupted,
		Task:           in.Task,
		Timestamp:      now,
	})
	next.ActiveDocuments = mergeHashes(next.ActiveDocuments, turnHashes)
	next.LastActivity = now
	next.Metrics.MessageCount++
	next.Metrics.InputTokens += in.InputTokens
	next.Metrics.OutputTokens += in.OutputTokens

	if err := m.save(ctx, key, next); err != nil {
		return nil, err
	}
	return next.Clone(), nil
}

// History returns up to limit most recent turns in chronological order.
// limit <= 0 returns every turn.
func (m *Manager) History(ctx context.Context, owner, sessionID string, limit int) ([]models.Turn, error) {
	s, err := m.Get(ctx, owner, sessionID)
	if err != nil {
		return nil, err
	}
	return RecentTurns(s, limit), nil
}

// End removes the session from both tiers. Ending an unknown session is not
// an error.
func (m *Manager) End(ctx context.Context, owner, sessionID string) error {
	key := Key{Owner: owner, SessionID: sessionID}
	unlock := m.locks.Lock(key)
	defer unlock()

	if err := m.cache.Delete(ctx, key); err != nil {
		return persistErr("end session", err)
	}
	m.log.Info("session ended", "session_id", sessionID, "owner", owner)
	return nil
}

// List summarizes the owner's sessions active within the list window,
// newest first.
func (m *Manager) List(ctx context.Context, owner string) ([]models.SessionSummary, error) {
	since := m.now().Add(-m.listWindow)
	sessions, err := m.store.ListSessions(ctx, owner, since)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	out := make([]models.SessionSummary, 0, len(sessions))
	for i := range sessions {
		out = append(out, Summarize(&sessions[i]))
	}
	return out, nil
}

// Expire deletes sessions idle for longer than olderThan.
func (m *Manager) Expire(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := m.now().Add(-olderThan)
	n, err := m.store.DeleteSessionsBefore(ctx, cutoff)
	if err != nil {
		return 0, persistErr("expire sessions", err)
	}
	if n > 0 {
		m.memory.Purge()
	}
	m.log.Info("expired idle sessions", "deleted", n, "cutoff", cutoff)
	return n, nil
}

// EvictCached drops the memory tier entry of a session. The next read comes
// from the store.
func (m *Manager) EvictCached(ctx context.Context, owner, sessionID string) {
	m.cache.Evict(ctx, Key{Owner: owner, SessionID: sessionID})
}

func (m *Manager) load(ctx context.Context, key Key) (*models.ChatSession, error) {
	s, ok, err := m.cache.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if !ok {
		return nil, apperr.Wrap(apperr.ErrSessionNotFound, "load session", nil)
	}
	return s, nil
}

func (m *Manager) save(ctx context.Context, key Key, s *models.ChatSession) error {
	if err := m.cache.Set(ctx, key, s); err != nil {
		return persistErr("save session", err)
	}
	return nil
}

func persistErr(op string, err error) error {
	if errors.Is(err, apperr.ErrPersistenceFailure) {
		return err
	}
	return apperr.Wrap(apperr.ErrPersistenceFailure, op, err)
}

// mergeHashes appends hashes not already present, keeping first-seen order.
func mergeHashes(dst, hashes []string) []string {
	seen := make(map[string]struct{}, len(dst)+len(hashes))
	out := make([]string, 0, len(dst)+len(hashes))
	for _, h := range dst {
		if _, ok := seen[h]; ok || h == "" {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, h)
	}
	for _, h := range hashes {
		if _, ok := seen[h]; ok || h == "" {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, h)
	}
	return out
}

// RecentTurns returns the last limit turns of s, oldest first.
func RecentTurns(s *models.ChatSession, limit int) []models.Turn {
	turns := s.Turns
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return append([]models.Turn(nil), turns...)
}

// Summarize builds the list view of a session.
func Summarize(s *models.ChatSession) models.SessionSummary {
	return models.SessionSummary{
		SessionID:     s.SessionID,
		Preview:       Preview(s),
		CreatedAt:     s.CreatedAt,
		LastActivity:  s.LastActivity,
		DocumentCount: len(s.ActiveDocuments),
		MessageCount:  s.Metrics.MessageCount,
	}
}

// Preview is the first prompt, else the first response, cut to 70 runes.
func Preview(s *models.ChatSession) string {
	text := ""
	for _, t := range s.Turns {
		if p := strings.TrimSpace(t.Prompt); p != "" {
			text = p
			break
		}
	}
	if text == "" {
		for _, t := range s.Turns {
			if r := strings.TrimSpace(t.Response); r != "" {
				text = r
				break
			}
		}
	}
	if text == "" {
		return defaultPreview
	}
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) > previewRunes {
		return string([]rune(text)[:previewRunes]) + "..."
	}
	return text
}
