// Package extractiontest builds document fixtures for extraction tests.
package extractiontest

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
)

// BuildPDF returns a minimal valid PDF with one page per entry of pages. An
// empty entry produces a page with no text layer, like a scanned page.
func BuildPDF(pages []string) []byte {
	var buf bytes.Buffer
	var offsets []int

	obj := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets), body)
	}

	buf.WriteString("%PDF-1.4\n")

	// 1 catalog, 2 page tree, 3 font, then page/content pairs.
	kids := make([]string, len(pages))
	for i := range pages {
		kids[i] = fmt.Sprintf("%d 0 R", 4+2*i)
	}
	obj("<< /Type /Catalog /Pages 2 0 R >>")
	obj(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(pages)))
	obj("<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>")

	for i, text := range pages {
		content := ""
		if text != "" {
			content = fmt.Sprintf("BT /F1 12 Tf 72 720 Td (%s) Tj ET", escape(text))
		}
		obj(fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>", 5+2*i))
		obj(fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content))
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(offsets)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xref)
	return buf.Bytes()
}

func escape(s string) string {
	return strings.NewReplacer(`\`, `\\`, "(", `\(`, ")", `\)`).Replace(s)
}

// Renderer is a PageRenderer that "renders" page n as the bytes "page-n".
// Pages listed in Fail return an error.
type Renderer struct {
	Pages int
	Fail  map[int]bool

	mu       sync.Mutex
	rendered []int
}

func (r *Renderer) PageCount(context.Context, string) (int, error) { return r.Pages, nil }

func (r *Renderer) RenderPage(_ context.Context, _ string, page int) ([]byte, error) {
	r.mu.Lock()
	r.rendered = append(r.rendered, page)
	r.mu.Unlock()
	if r.Fail[page] {
		return nil, fmt.Errorf("render page %d: boom", page)
	}
	return []byte(fmt.Sprintf("page-%d", page)), nil
}

// Rendered lists rendered page numbers in call order.
func (r *Renderer) Rendered() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.rendered...)
}
