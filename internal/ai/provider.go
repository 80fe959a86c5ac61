// Package ai wraps the generative AI provider used for embeddings, page OCR
// and streamed chat completions.
package ai

import "context"

// Embedder turns texts into fixed-dimension vectors. The result has one
// vector per input text, in input order.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
	Dimensions() int
}

// VisionOCR transcribes the text of a single rendered page image.
type VisionOCR interface {
	RecognizeImage(ctx context.Context, mimeType string, image []byte) (string, error)
}

// Role of a chat message in the provider conversation.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

type ChatMessage struct {
	Role Role
	Text string
}

// ChatRequest is one grounded completion: a system instruction carrying the
// retrieved context, prior turns, and the new prompt.
type ChatRequest struct {
	System  string
	History []ChatMessage
	Prompt  string
}

// ChatUsage reports the provider's token accounting for a completion.
type ChatUsage struct {
	InputTokens  int
	OutputTokens int
}

// ChatModel streams a completion. onToken is called for every text fragment
// in order; an error from onToken stops the stream and is returned as is.
type ChatModel interface {
	StreamChat(ctx context.Context, req ChatRequest, onToken func(string) error) (ChatUsage, error)
	Model() string
}
