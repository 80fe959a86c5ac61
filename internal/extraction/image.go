package extraction

import (
	"context"
	"strings"

	"document-chat-platform/internal/ai"
	"document-chat-platform/internal/apperr"
	"document-chat-platform/internal/chunking"
	"document-chat-platform/models"
)

// ImageOCR transcribes a single uploaded image as a one page document.
type ImageOCR struct {
	vision ai.VisionOCR
}

func NewImageOCR(vision ai.VisionOCR) *ImageOCR {
	return &ImageOCR{vision: vision}
}

func (i *ImageOCR) Supports(contentType string) bool {
	return strings.HasPrefix(contentType, "image/")
}

func (i *ImageOCR) Extract(ctx context.Context, src Source) (*Result, error) {
	text, err := i.vision.RecognizeImage(ctx, src.ContentType, src.Data)
	if err != nil {
		if apperr.Retryable(err) || ctx.Err() != nil {
			return nil, err
		}
		return nil, apperr.Wrap(apperr.ErrExtractionFailure, "image ocr", err)
	}
	return &Result{
		Text:     chunking.JoinPages([]string{strings.TrimSpace(text)}),
		Method:   models.ExtractionOCR,
		Pages:    1,
		OCRPages: 1,
	}, nil
}
