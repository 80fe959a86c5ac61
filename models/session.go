package models

import "time"

// Turn is one prompt/response exchange. Immutable once appended.
type Turn struct {
	Prompt         string    `bson:"prompt" json:"prompt"`
	Response       string    `bson:"response" json:"response"`
	DocumentHashes []string  `bson:"document_hashes" json:"document_hashes"`
	InputTokens    int       `bson:"input_tokens" json:"input_tokens"`
	OutputTokens   int       `bson:"output_tokens" json:"output_tokens"`
	Interrupted    bool      `bson:"interrupted,omitempty" json:"interrupted,omitempty"`
	Task           string    `bson:"task,omitempty" json:"task,omitempty"`
	Timestamp      time.Time `bson:"timestamp" json:"timestamp"`
}

// SessionMetrics accumulates per-session counters.
type SessionMetrics struct {
	MessageCount int `bson:"message_count" json:"message_count"`
	InputTokens  int `bson:"input_tokens" json:"input_tokens"`
	OutputTokens int `bson:"output_tokens" json:"output_tokens"`
}

// ChatSession is identified by (session_id, owner).
type ChatSession struct {
	SessionID       string         `bson:"session_id" json:"session_id"`
	Owner           string         `bson:"owner" json:"owner"`
	CreatedAt       time.Time      `bson:"created_at" json:"created_at"`
	LastActivity    time.Time      `bson:"last_activity" json:"last_activity"`
	ActiveDocuments []string       `bson:"active_documents" json:"active_documents"`
	Turns           []Turn         `bson:"turns" json:"turns"`
	Metrics         SessionMetrics `bson:"metrics" json:"metrics"`
}

// Clone returns a deep copy so cached sessions never alias caller state.
func (s *ChatSession) Clone() *ChatSession {
	if s == nil {
		return nil
	}
	c := *s
	c.ActiveDocuments = append([]string(nil), s.ActiveDocuments...)
	c.Turns = make([]Turn, len(s.Turns))
	for i, t := range s.Turns {
		t.DocumentHashes = append([]string(nil), t.DocumentHashes...)
		c.Turns[i] = t
	}
	return &c
}

// SessionSummary is the list view of a session.
type SessionSummary struct {
	SessionID     string    `json:"session_id"`
	Preview       string    `json:"preview"`
	CreatedAt     time.Time `json:"created_at"`
	LastActivity  time.Time `json:"last_activity"`
	DocumentCount int       `json:"document_count"`
	MessageCount  int       `json:"message_count"`
}

// MemoryEntry is one turn seen across all of an owner's sessions.
type MemoryEntry struct {
	SessionID      string    `json:"session_id"`
	Prompt         string    `json:"prompt"`
	Response       string    `json:"response"`
	Task           string    `json:"task,omitempty"`
	DocumentHashes []string  `json:"document_hashes"`
	Timestamp      time.Time `json:"timestamp"`
}
