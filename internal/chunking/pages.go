package chunking

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var pageMarkerRe = regexp.MustCompile(`(?m)^--- PAGE (\d+) ---[ \t]*$`)

// Page is the text of one source page. Number 0 means the text carried no
// page information.
type Page struct {
	Number int
	Text   string
}

// PageMarker is the line placed before the text of page n.
func PageMarker(n int) string {
	return fmt.Sprintf("--- PAGE %d ---", n)
}

// JoinPages renders pages (1-based, in order) with a marker line before each.
func JoinPages(pages []string) string {
	var sb strings.Builder
	for i, p := range pages {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(PageMarker(i + 1))
		sb.WriteByte('\n')
		sb.WriteString(p)
	}
	return sb.String()
}

// SplitPages reverses JoinPages. Text without markers becomes a single page 0;
// non-blank text before the first marker is kept as page 0 as well.
func SplitPages(text string) []Page {
	locs := pageMarkerRe.FindAllStringSubmatchIndex(text, -1)
	if len(locs) == 0 {
		return []Page{{Number: 0, Text: text}}
	}

	var pages []Page
	if lead := text[:locs[0][0]]; strings.TrimSpace(lead) != "" {
		pages = append(pages, Page{Number: 0, Text: lead})
	}
	for i, loc := range locs {
		n, _ := strconv.Atoi(text[loc[2]:loc[3]])
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		body := strings.TrimPrefix(text[loc[1]:end], "\n")
		pages = append(pages, Page{Number: n, Text: body})
	}
	return pages
}

// CountPages returns the number of marked pages, or 1 for unmarked text.
func CountPages(text string) int {
	if n := len(pageMarkerRe.FindAllStringIndex(text, -1)); n > 0 {
		return n
	}
	return 1
}
