package extraction

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"document-chat-platform/internal/ai"
	"document-chat-platform/internal/apperr"
	"document-chat-platform/internal/chunking"
	"document-chat-platform/models"
)

// PDFOCR renders every page of a PDF and transcribes it with the vision
// model. Pages run in batches with a pause between batches; within a batch
// the render pool bounds local work and the provider client bounds remote
// calls.
type PDFOCR struct {
	renderer   PageRenderer
	vision     ai.VisionOCR
	pool       *ants.Pool
	batchPages int
	pause      time.Duration
	log        *slog.Logger
}

func NewPDFOCR(renderer PageRenderer, vision ai.VisionOCR, workers, batchPages int, pause time.Duration, log *slog.Logger) (*PDFOCR, error) {
	if workers < 1 {
		workers = 1
	}
	if batchPages < 1 {
		batchPages = 50
	}
	if log == nil {
		log = slog.Default()
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, fmt.Errorf("create render pool: %w", err)
	}
	return &PDFOCR{
		renderer:   renderer,
		vision:     vision,
		pool:       pool,
		batchPages: batchPages,
		pause:      pause,
		log:        log,
	}, nil
}

// Release stops the render pool.
func (o *PDFOCR) Release() {
	o.pool.Release()
}

// Extract transcribes data. knownPages may be 0 when the text layer reader
// could not count pages.
func (o *PDFOCR) Extract(ctx context.Context, data []byte, knownPages int) (*Result, error) {
	f, err := os.CreateTemp("", "ocr-*.pdf")
	if err != nil {
		return nil, fmt.Errorf("create temp pdf: %w", err)
	}
	defer os.Remove(f.Name())
	if _, err := f.Write(data); err != nil {
		f.Close()
		return nil, fmt.Errorf("write temp pdf: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("write temp pdf: %w", err)
	}

	total := knownPages
	if total <= 0 {
		if total, err = o.renderer.PageCount(ctx, f.Name()); err != nil {
			return nil, apperr.Wrap(apperr.ErrExtractionFailure, "ocr page count", err)
		}
	}

	pages := make([]string, total)
	failed := 0
	var mu sync.Mutex

	for start := 0; start < total; start += o.batchPages {
		if start > 0 && o.pause > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(o.pause):
			}
		}

		end := min(start+o.batchPages, total)
		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			page := i + 1
			wg.Add(1)
			submitErr := o.pool.Submit(func() {
				defer wg.Done()
				text, err := o.page(ctx, f.Name(), page)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					failed++
					o.log.Warn("ocr page failed", "page", page, "error", err)
					return
				}
				pages[page-1] = text
			})
			if submitErr != nil {
				wg.Done()
				mu.Lock()
				failed++
				mu.Unlock()
				o.log.Warn("ocr page not scheduled", "page", page, "error", submitErr)
			}
		}
		wg.Wait()

		if err := ctx.Err(); err != nil {
			return nil, err
		}
		o.log.Info("ocr batch done", "from", start+1, "to", end, "total", total)
	}

	text := chunking.JoinPages(pages)
	if textLength(text) == 0 {
		return nil, apperr.Wrap(apperr.ErrExtractionFailure, "ocr", fmt.Errorf("%d pages produced no text", total))
	}

	return &Result{
		Text:        text,
		Method:      models.ExtractionOCR,
		Pages:       total,
		OCRPages:    total - failed,
		FailedPages: failed,
	}, nil
}

func (o *PDFOCR) page(ctx context.Context, path string, page int) (string, error) {
	img, err := o.renderer.RenderPage(ctx, path, page)
	if err != nil {
		return "", fmt.Errorf("render: %w", err)
	}
	text, err := o.vision.RecognizeImage(ctx, TypePNG, img)
	if err != nil {
		return "", fmt.Errorf("recognize: %w", err)
	}
	return strings.TrimSpace(text), nil
}
