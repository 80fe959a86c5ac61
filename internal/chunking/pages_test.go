package chunking

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitPages_RoundTrip(t *testing.T) {
	text := JoinPages([]string{"first", "second\nline", ""})
	pages := SplitPages(text)

	require.Len(t, pages, 3)
	assert.Equal(t, 1, pages[0].Number)
	assert.Equal(t, "first\n\n", pages[0].Text)
	assert.Equal(t, 2, pages[1].Number)
	assert.Contains(t, pages[1].Text, "second\nline")
	assert.Equal(t, 3, CountPages(text))
}

func TestSplitPages_Unmarked(t *testing.T) {
	pages := SplitPages("plain text")
	require.Len(t, pages, 1)
	assert.Equal(t, 0, pages[0].Number)
	assert.Equal(t, 1, CountPages("plain text"))
}

func TestSplitPages_MarkerMustOwnLine(t *testing.T) {
	pages := SplitPages("see --- PAGE 2 --- inline")
	require.Len(t, pages, 1)
	assert.Equal(t, 0, pages[0].Number)
}

func TestSplitPages_LeadingText(t *testing.T) {
	pages := SplitPages("preface\n" + PageMarker(1) + "\nbody")
	require.Len(t, pages, 2)
	assert.Equal(t, 0, pages[0].Number)
	assert.Equal(t, 1, pages[1].Number)
	assert.Equal(t, "body", pages[1].Text)
}
