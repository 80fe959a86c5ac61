package session

import (
	"context"
	"errors"

	"document-chat-platform/internal/apperr"
	"document-chat-platform/internal/store"
	"document-chat-platform/models"
)

// Key identifies a session. Sessions of different owners never share a key
// even when their ids collide.
type Key struct {
	Owner     string
	SessionID string
}

// storeTier adapts a SessionStore to the durable tier of the session cache.
type storeTier struct {
	store store.SessionStore
}

func (t storeTier) Get(ctx context.Context, key Key) (*models.ChatSession, bool, error) {
	s, err := t.store.LoadSession(ctx, key.SessionID, key.Owner)
	if errors.Is(err, apperr.ErrSessionNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return s, true, nil
}

func (t storeTier) Set(ctx context.Context, _ Key, s *models.ChatSession) error {
	return t.store.SaveSession(ctx, s)
}

func (t storeTier) Delete(ctx context.Context, key Key) error {
	return t.store.DeleteSession(ctx, key.SessionID, key.Owner)
}
