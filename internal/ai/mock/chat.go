package mock

import (
	"context"
	"strings"
	"sync"

	"document-chat-platform/internal/ai"
)

// Chat is a test double for ai.ChatModel. By default it streams Answer one
// word at a time and reports token counts from word counts.
type Chat struct {
	StreamFunc func(ctx context.Context, req ai.ChatRequest, onToken func(string) error) (ai.ChatUsage, error)
	Answer     string

	mu       sync.Mutex
	requests []ai.ChatRequest
}

func NewChat(answer string) *Chat { return &Chat{Answer: answer} }

func (m *Chat) Model() string { return "mock-chat" }

func (m *Chat) StreamChat(ctx context.Context, req ai.ChatRequest, onToken func(string) error) (ai.ChatUsage, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	fn := m.StreamFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, req, onToken)
	}

	words := strings.Fields(m.Answer)
	for i, w := range words {
		if i > 0 {
			w = " " + w
		}
		if err := onToken(w); err != nil {
			return ai.ChatUsage{}, err
		}
	}
	in := len(strings.Fields(req.System)) + len(strings.Fields(req.Prompt))
	for _, h := range req.History {
		in += len(strings.Fields(h.Text))
	}
	return ai.ChatUsage{InputTokens: in, OutputTokens: len(words)}, nil
}

// Requests returns every request received so far.
func (m *Chat) Requests() []ai.ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ai.ChatRequest(nil), m.requests...)
}
