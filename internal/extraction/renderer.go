package extraction

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"time"
)

// PageRenderer rasterizes single PDF pages.
type PageRenderer interface {
	PageCount(ctx context.Context, pdfPath string) (int, error)
	RenderPage(ctx context.Context, pdfPath string, page int) ([]byte, error)
}

// Poppler renders pages with the pdftoppm and pdfinfo binaries.
type Poppler struct {
	DPI     int
	Timeout time.Duration
}

func NewPoppler(dpi int) *Poppler {
	if dpi <= 0 {
		dpi = 300
	}
	return &Poppler{DPI: dpi, Timeout: 2 * time.Minute}
}

// Available reports whether pdftoppm is on PATH.
func (p *Poppler) Available() bool {
	_, err := exec.LookPath("pdftoppm")
	return err == nil
}

var pdfinfoPagesRe = regexp.MustCompile(`(?m)^Pages:\s+(\d+)`)

func (p *Poppler) PageCount(ctx context.Context, pdfPath string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, "pdfinfo", pdfPath).Output()
	if err != nil {
		return 0, fmt.Errorf("pdfinfo failed: %w", err)
	}
	m := pdfinfoPagesRe.FindSubmatch(out)
	if m == nil {
		return 0, fmt.Errorf("pdfinfo reported no page count")
	}
	return strconv.Atoi(string(m[1]))
}

func (p *Poppler) RenderPage(ctx context.Context, pdfPath string, page int) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	dir, err := os.MkdirTemp("", "render-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	prefix := filepath.Join(dir, "page")
	n := strconv.Itoa(page)
	cmd := exec.CommandContext(ctx, "pdftoppm",
		"-r", strconv.Itoa(p.DPI), "-png", "-singlefile",
		"-f", n, "-l", n,
		pdfPath, prefix,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("pdftoppm page %d failed: %v, stderr: %s", page, err, stderr.String())
	}

	return os.ReadFile(prefix + ".png")
}
