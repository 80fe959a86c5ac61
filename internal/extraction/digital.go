package extraction

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"
	"golang.org/x/net/html/charset"

	"document-chat-platform/internal/apperr"
	"document-chat-platform/internal/chunking"
	"document-chat-platform/models"
)

// DigitalText extracts documents that carry their text: PDFs with a text
// layer, plain text, markdown, HTML and spreadsheets.
type DigitalText struct {
	minDirectChars int
	ocr            *PDFOCR
	log            *slog.Logger
}

// NewDigitalText builds the extractor. ocr may be nil, in which case scanned
// PDFs fail extraction.
func NewDigitalText(minDirectChars int, ocr *PDFOCR, log *slog.Logger) *DigitalText {
	if log == nil {
		log = slog.Default()
	}
	return &DigitalText{minDirectChars: minDirectChars, ocr: ocr, log: log}
}

func (d *DigitalText) Supports(contentType string) bool {
	switch contentType {
	case TypePDF, TypeText, TypeMarkdown, TypeHTML, TypeXLSX:
		return true
	}
	return false
}

func (d *DigitalText) Extract(ctx context.Context, src Source) (*Result, error) {
	switch src.ContentType {
	case TypePDF:
		return d.extractPDF(ctx, src.Data)
	case TypeHTML:
		return d.extractHTML(src.Data)
	case TypeXLSX:
		return d.extractSheets(src.Data)
	case TypeText, TypeMarkdown:
		text, err := decodeText(src.Data, src.ContentType)
		if err != nil {
			return nil, err
		}
		return &Result{Text: text, Method: models.ExtractionText, Pages: 1, DigitalPages: 1}, nil
	}
	return nil, unsupported(src.ContentType)
}

func (d *DigitalText) extractPDF(ctx context.Context, data []byte) (*Result, error) {
	pages, err := directPDFText(data)
	if err != nil {
		d.log.Warn("pdf text layer unreadable", "error", err)
	}

	direct := &Result{
		Text:         chunking.JoinPages(pages),
		Method:       models.ExtractionText,
		Pages:        len(pages),
		DigitalPages: len(pages),
	}
	directChars := textLength(direct.Text)
	if directChars > d.minDirectChars {
		return direct, nil
	}

	if d.ocr == nil {
		if directChars > 0 {
			return direct, nil
		}
		return nil, apperr.Wrap(apperr.ErrExtractionFailure, "extract pdf", fmt.Errorf("no text layer and OCR disabled"))
	}

	d.log.Info("pdf text layer below threshold, falling back to OCR",
		"direct_chars", directChars, "threshold", d.minDirectChars, "pages", len(pages))

	ocrResult, err := d.ocr.Extract(ctx, data, len(pages))
	if err != nil {
		if directChars > 0 && ctx.Err() == nil {
			d.log.Warn("ocr fallback failed, keeping sparse text layer", "error", err)
			return direct, nil
		}
		return nil, err
	}
	if textLength(ocrResult.Text) < directChars {
		return direct, nil
	}
	return ocrResult, nil
}

// directPDFText reads the text layer page by page. A page that fails to
// decode yields empty text.
func directPDFText(data []byte) (pages []string, err error) {
	defer func() {
		// ledongthuc/pdf panics on some malformed inputs.
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf reader panic: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to create PDF reader: %w", err)
	}

	n := reader.NumPage()
	pages = make([]string, n)
	for i := 1; i <= n; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		fonts := make(map[string]*pdf.Font)
		text, perr := page.GetPlainText(fonts)
		if perr != nil {
			continue
		}
		pages[i-1] = strings.TrimSpace(text)
	}
	return pages, nil
}

var htmlBlocks = "h1, h2, h3, h4, h5, h6, p, li, pre, blockquote, td, th, dt, dd"

func (d *DigitalText) extractHTML(data []byte) (*Result, error) {
	r, err := charset.NewReader(bytes.NewReader(data), "text/html")
	if err != nil {
		return nil, fmt.Errorf("decode html charset: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	doc.Find("script, style, noscript, nav, footer, header, aside").Remove()

	var sb strings.Builder
	doc.Find(htmlBlocks).Each(func(_ int, s *goquery.Selection) {
		// Nested blocks are emitted by their innermost element only.
		if s.Find(htmlBlocks).Length() > 0 {
			return
		}
		text := strings.Join(strings.Fields(s.Text()), " ")
		if text == "" {
			return
		}
		if tag := goquery.NodeName(s); len(tag) == 2 && tag[0] == 'h' && tag[1] >= '1' && tag[1] <= '6' {
			sb.WriteString(strings.Repeat("#", int(tag[1]-'0')) + " ")
		}
		sb.WriteString(text)
		sb.WriteString("\n\n")
	})

	text := strings.TrimSpace(sb.String())
	if text == "" {
		text = strings.Join(strings.Fields(doc.Find("body").Text()), " ")
	}
	return &Result{Text: text, Method: models.ExtractionText, Pages: 1, DigitalPages: 1}, nil
}

// extractSheets renders one page per worksheet, one line per row.
func (d *DigitalText) extractSheets(data []byte) (*Result, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	var pages []string
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			d.log.Warn("skipping unreadable sheet", "sheet", sheet, "error", err)
			pages = append(pages, "")
			continue
		}
		var sb strings.Builder
		sb.WriteString("# " + sheet + "\n")
		for _, row := range rows {
			line := strings.TrimSpace(strings.Join(row, " | "))
			if strings.Trim(line, "| ") == "" {
				continue
			}
			sb.WriteString(line)
			sb.WriteByte('\n')
		}
		pages = append(pages, sb.String())
	}

	return &Result{
		Text:         chunking.JoinPages(pages),
		Method:       models.ExtractionText,
		Pages:        len(pages),
		DigitalPages: len(pages),
	}, nil
}

// decodeText returns data as UTF-8, transcoding legacy encodings.
func decodeText(data []byte, contentType string) (string, error) {
	if utf8.Valid(data) {
		return string(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))), nil
	}
	enc, name, _ := charset.DetermineEncoding(data, contentType)
	out, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return "", fmt.Errorf("decode %s text: %w", name, err)
	}
	return string(out), nil
}
