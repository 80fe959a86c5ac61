package mock

import (
	"context"
	"sync"
)

// OCR is a test double for ai.VisionOCR.
type OCR struct {
	RecognizeFunc func(ctx context.Context, mimeType string, image []byte) (string, error)

	mu        sync.Mutex
	callCount int
}

func NewOCR() *OCR { return &OCR{} }

func (m *OCR) RecognizeImage(ctx context.Context, mimeType string, image []byte) (string, error) {
	m.mu.Lock()
	m.callCount++
	fn := m.RecognizeFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, mimeType, image)
	}
	return "recognized text from " + mimeType + " image", nil
}

func (m *OCR) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}
