package extraction

import (
	"bytes"
	"context"
	"fmt"

	"code.sajari.com/docconv"

	"document-chat-platform/models"
)

// WordDocument extracts .docx files. Word files carry no reliable page
// breaks, so the result is unpaged.
type WordDocument struct{}

func NewWordDocument() *WordDocument { return &WordDocument{} }

func (w *WordDocument) Supports(contentType string) bool {
	return contentType == TypeDOCX
}

func (w *WordDocument) Extract(_ context.Context, src Source) (*Result, error) {
	body, _, err := docconv.ConvertDocx(bytes.NewReader(src.Data))
	if err != nil {
		return nil, fmt.Errorf("convert docx: %w", err)
	}
	return &Result{Text: body, Method: models.ExtractionText, Pages: 1, DigitalPages: 1}, nil
}
