package session

import (
	"context"
	"fmt"
	"slices"
	"time"

	"document-chat-platform/models"
)

// Memories returns the owner's most recent turns across every stored
// session, newest first. limit <= 0 returns all of them.
func (m *Manager) Memories(ctx context.Context, owner string, limit int) ([]models.MemoryEntry, error) {
	entries, err := m.ownerTurns(ctx, owner, time.Time{}, "")
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	slices.Reverse(entries)
	return entries, nil
}

// Recall picks up to limit turns from the owner's other recent sessions to
// carry into a new conversation, oldest first. Turns that referenced any of
// hashes are preferred. The remainder is filled with the latest turns.
func (m *Manager) Recall(ctx context.Context, owner, currentSession string, hashes []string, limit int) ([]models.MemoryEntry, error) {
	if limit <= 0 {
		return nil, nil
	}
	entries, err := m.ownerTurns(ctx, owner, m.now().Add(-m.listWindow), currentSession)
	if err != nil {
		return nil, err
	}

	want := make(map[string]struct{}, len(hashes))
	for _, h := range hashes {
		want[h] = struct{}{}
	}
	picked := make([]bool, len(entries))
	n := 0
	for i := len(entries) - 1; i >= 0 && n < limit && len(want) > 0; i-- {
		for _, h := range entries[i].DocumentHashes {
			if _, ok := want[h]; ok {
				picked[i] = true
				n++
				break
			}
		}
	}
	for i := len(entries) - 1; i >= 0 && n < limit; i-- {
		if !picked[i] {
			picked[i] = true
			n++
		}
	}

	out := make([]models.MemoryEntry, 0, n)
	for i, e := range entries {
		if picked[i] {
			out = append(out, e)
		}
	}
	return out, nil
}

// Forget ends every session of the owner and reports how many sessions and
// turns were removed.
func (m *Manager) Forget(ctx context.Context, owner string) (sessions, turns int, err error) {
	list, err := m.store.ListSessions(ctx, owner, time.Time{})
	if err != nil {
		return 0, 0, fmt.Errorf("list sessions: %w", err)
	}
	for i := range list {
		if err := m.End(ctx, owner, list[i].SessionID); err != nil {
			return sessions, turns, err
		}
		sessions++
		turns += len(list[i].Turns)
	}
	m.log.Info("owner memory cleared", "owner", owner, "sessions", sessions, "turns", turns)
	return sessions, turns, nil
}

// ownerTurns flattens the owner's sessions active since the given time into
// chronological order, skipping one session.
func (m *Manager) ownerTurns(ctx context.Context, owner string, since time.Time, skip string) ([]models.MemoryEntry, error) {
	list, err := m.store.ListSessions(ctx, owner, since)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	entries := []models.MemoryEntry{}
	for i := range list {
		s := &list[i]
		if s.SessionID == skip {
			continue
		}
		for _, t := range s.Turns {
			entries = append(entries, models.MemoryEntry{
				SessionID:      s.SessionID,
				Prompt:         t.Prompt,
				Response:       t.Response,
				Task:           t.Task,
				DocumentHashes: append([]string{}, t.DocumentHashes...),
				Timestamp:      t.Timestamp,
			})
		}
	}
	slices.SortStableFunc(entries, func(a, b models.MemoryEntry) int { return a.Timestamp.Compare(b.Timestamp) })
	return entries, nil
}
