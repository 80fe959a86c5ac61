package ai

import (
	"context"
	"os"
	"testing"

	"document-chat-platform/internal/config"
)

func TestGeminiEmbedTexts_Live(t *testing.T) {
	if os.Getenv("GEMINI_API_KEY") == "" {
		t.Skip("GEMINI_API_KEY not set")
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		t.Skipf("config load failed: %v", err)
	}
	gc, err := NewGeminiClient(context.Background(), cfg, nil, nil)
	if err != nil {
		t.Fatalf("client error: %v", err)
	}
	defer gc.Close()

	vecs, err := gc.EmbedTexts(context.Background(), []string{"hello world", "goodbye world"})
	if err != nil {
		t.Fatalf("embedding error: %v", err)
	}
	if len(vecs) != 2 || len(vecs[0]) != gc.Dimensions() {
		t.Fatalf("unexpected embedding shape: %d vectors", len(vecs))
	}
}
