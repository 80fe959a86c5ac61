package models

import "time"

// ChatEvent is streamed to clients during a chat turn.
type ChatEvent struct {
	Type  string `json:"type"` // token | warning | error | done
	Token string `json:"token,omitempty"`
	Text  string `json:"text,omitempty"`
}

// Stream event types
const (
	EventToken   = "token"
	EventWarning = "warning"
	EventError   = "error"
	EventDone    = "done"
)

// ChatTurnResponse is the final metadata of a chat turn.
type ChatTurnResponse struct {
	SessionID      string    `json:"session_id"`
	Response       string    `json:"response"`
	DocumentHashes []string  `json:"document_hashes"`
	UsedHashes     []string  `json:"used_hashes"`
	Warnings       []string  `json:"warnings,omitempty"`
	Task           string    `json:"task"`
	InputTokens    int       `json:"input_tokens"`
	OutputTokens   int       `json:"output_tokens"`
	Interrupted    bool      `json:"interrupted"`
	Timestamp      time.Time `json:"timestamp"`
}

// IngestResponse is returned by the document upload endpoint.
type IngestResponse struct {
	ContentHash  string `json:"content_hash"`
	Filename     string `json:"filename"`
	Reused       bool   `json:"reused"`
	Pages        int    `json:"pages,omitempty"`
	Chunks       int    `json:"chunks,omitempty"`
	FailedChunks int    `json:"failed_chunks,omitempty"`
	Queued       bool   `json:"queued,omitempty"`
	TaskID       string `json:"task_id,omitempty"`
}
