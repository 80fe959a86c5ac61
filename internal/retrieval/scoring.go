package retrieval

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"document-chat-platform/internal/chunking"
)

// Boost weights applied on top of cosine similarity.
const (
	maxKeywordBoost = 0.10
	headerBoost     = 0.05
	answerBoost     = 0.05
	shortChunkRunes = 300
)

// CosineSimilarity returns 0 for empty or mismatched vectors.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "but": {}, "not": {}, "you": {}, "all": {},
	"any": {}, "can": {}, "was": {}, "his": {}, "her": {}, "has": {}, "had": {}, "how": {},
	"what": {}, "when": {}, "where": {}, "which": {}, "who": {}, "why": {}, "with": {},
	"this": {}, "that": {}, "these": {}, "those": {}, "from": {}, "into": {}, "about": {},
	"does": {}, "did": {}, "there": {}, "their": {}, "them": {}, "they": {}, "will": {},
	"would": {}, "should": {}, "could": {}, "have": {}, "been": {}, "being": {}, "were": {},
	"tell": {}, "please": {}, "give": {}, "show": {}, "document": {}, "documents": {},
	"file": {}, "page": {}, "its": {}, "our": {}, "your": {}, "than": {}, "then": {},
}

// Keywords returns the distinct lowercase content words of query, in order.
func Keywords(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]struct{}, len(fields))
	var out []string
	for _, f := range fields {
		if utf8.RuneCountInString(f) < 3 {
			continue
		}
		if _, stop := stopwords[f]; stop {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

// keywordHits counts how many keywords occur in text.
func keywordHits(text string, keywords []string) int {
	lower := strings.ToLower(text)
	n := 0
	for _, k := range keywords {
		if strings.Contains(lower, k) {
			n++
		}
	}
	return n
}

var answerShapeRe = regexp.MustCompile(`(?m)(:\s|\d|^\s*[-*•]\s)`)

// Boost returns the heuristic bonus of a chunk for the given keywords.
func Boost(text string, keywords []string) float64 {
	var b float64
	hits := keywordHits(text, keywords)
	if len(keywords) > 0 {
		b += maxKeywordBoost * float64(hits) / float64(len(keywords))
	}

	firstLine, _, _ := strings.Cut(strings.TrimSpace(text), "\n")
	if chunking.IsHeading(firstLine) {
		b += headerBoost
	}

	if hits > 0 && utf8.RuneCountInString(text) < shortChunkRunes && answerShapeRe.MatchString(text) {
		b += answerBoost
	}
	return b
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

var (
	broadQueryRe = regexp.MustCompile(`(?i)\b(compare|comparison|difference|differences|versus|vs\.?|summar\w*|overview|list|every|all|each|explain|describe)\b`)
)

// TopK sizes the result set from query complexity: longer, multi-part or
// comparative questions get more chunks. The result is within [3, 15].
func TopK(query string) int {
	words := len(strings.Fields(query))
	k := 3
	switch {
	case words > 25:
		k = 10
	case words > 12:
		k = 7
	case words > 6:
		k = 5
	}
	if strings.Count(query, "?") > 1 {
		k += 2
	}
	if broadQueryRe.MatchString(query) {
		k += 3
	}
	return min(max(k, 3), 15)
}

var pageQueryRe = regexp.MustCompile(`(?i)\b(?:page|pg\.?|p\.)\s*(\d{1,5})\b`)

// PageQuery extracts the page number of queries like "page 2" or "p. 2".
func PageQuery(query string) (int, bool) {
	m := pageQueryRe.FindStringSubmatch(query)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	return n, err == nil && n > 0
}
