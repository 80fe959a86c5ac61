package session

import "document-chat-platform/models"

// Snapshot is the conversation context of one chat request. It is built
// per request and passed explicitly; nothing about a conversation is held
// in package state.
type Snapshot struct {
	SessionID       string
	Owner           string
	ActiveDocuments []string
	History         []models.Turn
}

// NewSnapshot copies the parts of s a chat turn reads.
func NewSnapshot(s *models.ChatSession, historyLimit int) Snapshot {
	return Snapshot{
		SessionID:       s.SessionID,
		Owner:           s.Owner,
		ActiveDocuments: append([]string(nil), s.ActiveDocuments...),
		History:         RecentTurns(s, historyLimit),
	}
}

// WithDocuments returns the active documents followed by hashes not yet
// active, in order.
func (s Snapshot) WithDocuments(hashes []string) []string {
	return mergeHashes(s.ActiveDocuments, hashes)
}
