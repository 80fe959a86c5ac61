package extraction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"document-chat-platform/internal/apperr"
	"document-chat-platform/internal/telemetry"
)

// minUsableText is the least text, spaces collapsed, that counts as a
// successful extraction.
const minUsableText = 5

// Pipeline resolves the content type of an upload and dispatches it to the
// first Extractor that supports it.
type Pipeline struct {
	extractors []Extractor
	metrics    *telemetry.Metrics
	log        *slog.Logger
}

func NewPipeline(metrics *telemetry.Metrics, log *slog.Logger, extractors ...Extractor) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{extractors: extractors, metrics: metrics, log: log.With("component", "extraction")}
}

// Resolve picks the extractor for src, filling in ContentType when empty.
func (p *Pipeline) Resolve(src *Source) (Extractor, error) {
	if src.ContentType == "" {
		src.ContentType = DetectContentType(src.Data, src.Filename)
	}
	for _, e := range p.extractors {
		if e.Supports(src.ContentType) {
			return e, nil
		}
	}
	return nil, unsupported(src.ContentType)
}

// Extract runs the resolved extractor and rejects results without text.
func (p *Pipeline) Extract(ctx context.Context, src Source) (*Result, error) {
	if len(src.Data) == 0 {
		return nil, apperr.Wrap(apperr.ErrEmptyFile, "extract", nil)
	}

	ext, err := p.Resolve(&src)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	res, err := ext.Extract(ctx, src)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		p.metrics.RecordExtraction(elapsed, "", "failed", 0)
		if !errors.Is(err, apperr.ErrExtractionFailure) && !apperr.Retryable(err) && ctx.Err() == nil &&
			!errors.Is(err, apperr.ErrUnsupportedType) {
			err = apperr.Wrap(apperr.ErrExtractionFailure, "extract "+src.ContentType, err)
		}
		p.log.Warn("extraction failed", "filename", src.Filename, "content_type", src.ContentType, "error", err)
		return nil, err
	}

	if textLength(res.Text) < minUsableText {
		p.metrics.RecordExtraction(elapsed, res.Method, "empty", res.Pages)
		return nil, apperr.Wrap(apperr.ErrExtractionFailure, "extract "+src.ContentType, fmt.Errorf("near-empty text (%d chars)", textLength(res.Text)))
	}

	res.ContentType = src.ContentType
	p.metrics.RecordExtraction(elapsed, res.Method, "success", res.Pages)
	p.log.Info("extraction complete",
		"filename", src.Filename,
		"content_type", src.ContentType,
		"method", res.Method,
		"pages", res.Pages,
		"ocr_pages", res.OCRPages,
		"failed_pages", res.FailedPages,
		"seconds", elapsed,
	)
	return res, nil
}
