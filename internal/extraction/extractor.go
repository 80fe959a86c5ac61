// Package extraction turns uploaded bytes into page-marked plain text.
//
// Every format is served by one Extractor. PDFs try the embedded text layer
// first and fall back to rendering each page and sending it to the vision
// model when the text layer is too thin.
package extraction

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"document-chat-platform/internal/apperr"
	"document-chat-platform/internal/chunking"
)

// Content types handled by the pipeline.
const (
	TypePDF      = "application/pdf"
	TypeText     = "text/plain"
	TypeMarkdown = "text/markdown"
	TypeHTML     = "text/html"
	TypeXLSX     = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	TypeDOCX     = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	TypePNG      = "image/png"
	TypeJPEG     = "image/jpeg"
	TypeWEBP     = "image/webp"
)

// Source is one uploaded file.
type Source struct {
	Data        []byte
	Filename    string
	ContentType string
}

// Result is extracted text with page markers plus what it cost to get it.
type Result struct {
	Text         string
	ContentType  string
	Method       string // models.ExtractionText or models.ExtractionOCR
	Pages        int
	DigitalPages int
	OCRPages     int
	FailedPages  int
}

// Extractor is implemented by every format family.
type Extractor interface {
	Extract(ctx context.Context, src Source) (*Result, error)
	Supports(contentType string) bool
}

var extensionHints = map[string]string{
	".pdf":  TypePDF,
	".txt":  TypeText,
	".md":   TypeMarkdown,
	".html": TypeHTML,
	".htm":  TypeHTML,
	".xlsx": TypeXLSX,
	".docx": TypeDOCX,
	".png":  TypePNG,
	".jpg":  TypeJPEG,
	".jpeg": TypeJPEG,
	".webp": TypeWEBP,
}

// DetectContentType sniffs data. The filename extension only refines generic
// results such as text/plain or zip containers.
func DetectContentType(data []byte, filename string) string {
	detected := mimetype.Detect(data)
	base := detected.String()
	if i := strings.IndexByte(base, ';'); i >= 0 {
		base = base[:i]
	}

	hint := extensionHints[strings.ToLower(filepath.Ext(filename))]
	switch {
	case detected.Is(TypePDF), detected.Is(TypeHTML), detected.Is(TypeXLSX), detected.Is(TypeDOCX),
		detected.Is(TypePNG), detected.Is(TypeJPEG), detected.Is(TypeWEBP):
		return base
	case hint != "" && (detected.Is("application/zip") || detected.Is("application/octet-stream")):
		return hint
	case detected.Is(TypeText):
		if hint == TypeMarkdown || hint == TypeHTML {
			return hint
		}
		return TypeText
	}
	if hint != "" && hint != TypePDF {
		return hint
	}
	return base
}

// textLength counts the non-whitespace characters of text outside markers.
func textLength(text string) int {
	n := 0
	for _, p := range chunking.SplitPages(text) {
		n += len([]rune(strings.Join(strings.Fields(p.Text), " ")))
	}
	return n
}

func unsupported(contentType string) error {
	return apperr.Wrap(apperr.ErrUnsupportedType, "extract", fmt.Errorf("content type %q", contentType))
}
