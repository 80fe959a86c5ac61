// Package chunking splits extracted document text into bounded, overlapping
// chunks that follow the document's own structure where it has one.
package chunking

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Chunk is one unit of indexed text. Index is contiguous over the document.
type Chunk struct {
	Index int
	Page  int
	Text  string
}

// Chunker is pure: the same input and settings always yield the same chunks.
type Chunker struct {
	MaxSize int
	Overlap int
}

func New(maxSize, overlap int) *Chunker {
	if maxSize <= 0 {
		maxSize = 1000
	}
	if overlap < 0 || overlap >= maxSize {
		overlap = maxSize / 5
	}
	return &Chunker{MaxSize: maxSize, Overlap: overlap}
}

type strategy struct {
	name  string
	split func(string) []string
	sep   string
}

var strategies = []strategy{
	{"headings", splitHeadings, "\n\n"},
	{"paragraphs", splitParagraphs, "\n\n"},
	{"lines", splitLines, "\n"},
	{"sentences", splitSentences, " "},
}

// Chunk normalizes text, splits it per page and packs each page's segments.
func (c *Chunker) Chunk(text string) []Chunk {
	var chunks []Chunk
	for _, page := range SplitPages(text) {
		body := Normalize(page.Text)
		if body == "" {
			continue
		}
		for _, t := range c.chunkPage(body) {
			chunks = append(chunks, Chunk{Index: len(chunks), Page: page.Number, Text: t})
		}
	}
	return chunks
}

func (c *Chunker) chunkPage(text string) []string {
	for _, s := range strategies {
		if segs := s.split(text); len(segs) >= 2 {
			return c.pack(segs, s.sep)
		}
	}
	return c.pack([]string{text}, "")
}

// pack greedily merges segments up to MaxSize runes; an oversized segment is
// cut into overlapping windows.
func (c *Chunker) pack(segs []string, sep string) []string {
	var out []string
	var cur strings.Builder
	curLen := 0
	sepLen := utf8.RuneCountInString(sep)

	flush := func() {
		if curLen > 0 {
			out = append(out, cur.String())
			cur.Reset()
			curLen = 0
		}
	}

	for _, seg := range segs {
		n := utf8.RuneCountInString(seg)
		if n > c.MaxSize {
			flush()
			out = append(out, c.windows(seg)...)
			continue
		}
		if curLen > 0 && curLen+sepLen+n > c.MaxSize {
			flush()
		}
		if curLen > 0 {
			cur.WriteString(sep)
			curLen += sepLen
		}
		cur.WriteString(seg)
		curLen += n
	}
	flush()
	return out
}

// windows cuts text into pieces of at most MaxSize runes. Each piece after
// the first starts with at most Overlap runes of the previous piece's tail.
// Cuts prefer whitespace in the second half of the window.
func (c *Chunker) windows(text string) []string {
	runes := []rune(text)
	var out []string
	start := 0
	for start < len(runes) {
		end := min(start+c.MaxSize, len(runes))
		if end < len(runes) {
			for i := end; i > start+c.MaxSize/2; i-- {
				if unicode.IsSpace(runes[i-1]) {
					end = i
					break
				}
			}
		}

		if piece := strings.TrimSpace(string(runes[start:end])); piece != "" {
			out = append(out, piece)
		}
		if end >= len(runes) {
			break
		}

		next := end - c.Overlap
		// Start the overlap on a word boundary when one is close.
		for i := next; i < end && i > start; i++ {
			if unicode.IsSpace(runes[i-1]) {
				next = i
				break
			}
		}
		if next <= start {
			next = end
		}
		start = next
	}
	return out
}

var (
	markdownHeadingRe = regexp.MustCompile(`^#{1,6}\s+\S`)
	numberedHeadingRe = regexp.MustCompile(`^\d+(\.\d+)*[.)]?\s+\p{Lu}`)
	sentenceEndRe     = regexp.MustCompile(`([.!?])\s+`)
)

// IsHeading reports whether a single line looks like a section heading.
func IsHeading(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" || utf8.RuneCountInString(line) > 100 {
		return false
	}
	if markdownHeadingRe.MatchString(line) {
		return true
	}
	if numberedHeadingRe.MatchString(line) && utf8.RuneCountInString(line) <= 80 {
		return true
	}
	return isAllCaps(line)
}

func isAllCaps(line string) bool {
	letters := 0
	for _, r := range line {
		if unicode.IsLower(r) {
			return false
		}
		if unicode.IsLetter(r) {
			letters++
		}
	}
	return letters >= 3 && utf8.RuneCountInString(line) <= 80
}

func splitHeadings(text string) []string {
	lines := strings.Split(text, "\n")
	var segs []string
	var cur []string
	headings := 0
	for _, l := range lines {
		if IsHeading(l) {
			headings++
			if seg := strings.TrimSpace(strings.Join(cur, "\n")); seg != "" {
				segs = append(segs, seg)
			}
			cur = cur[:0]
		}
		cur = append(cur, l)
	}
	if seg := strings.TrimSpace(strings.Join(cur, "\n")); seg != "" {
		segs = append(segs, seg)
	}
	if headings == 0 {
		return nil
	}
	return segs
}

func splitParagraphs(text string) []string {
	return nonEmpty(strings.Split(text, "\n\n"))
}

func splitLines(text string) []string {
	return nonEmpty(strings.Split(text, "\n"))
}

func splitSentences(text string) []string {
	flat := strings.Join(strings.Fields(text), " ")
	marked := sentenceEndRe.ReplaceAllString(flat, "$1\x00")
	return nonEmpty(strings.Split(marked, "\x00"))
}

func nonEmpty(parts []string) []string {
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
