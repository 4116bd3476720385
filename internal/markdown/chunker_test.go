package markdown

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pageDoc(pages int, bodySize int) string {
	var b strings.Builder
	b.WriteString("# Test Document\n\n")
	for p := 1; p <= pages; p++ {
		fmt.Fprintf(&b, "## Page %d\n\n", p)
		b.WriteString(strings.Repeat("x", bodySize))
		b.WriteString("\n\n---\n\n")
	}
	return b.String()
}

func TestSplitByHeadingsSmallDocumentStaysWhole(t *testing.T) {
	doc := pageDoc(3, 100)
	chunks := SplitByHeadings(doc, 10_000)
	require.Len(t, chunks, 1)
	assert.Equal(t, doc, chunks[0])
}

func TestSplitByHeadingsBreaksAtSectionBoundaries(t *testing.T) {
	doc := pageDoc(6, 500)
	chunks := SplitByHeadings(doc, 1500)
	require.Greater(t, len(chunks), 1)

	// Chunks reassemble to the original byte for byte.
	assert.Equal(t, doc, strings.Join(chunks, ""))

	// No page body is cut: every chunk past the first starts at a heading.
	for i, c := range chunks {
		if i == 0 {
			continue
		}
		assert.True(t, strings.HasPrefix(c, "## Page "), "chunk %d starts mid-section: %q", i, c[:20])
	}
}

func TestSplitByHeadingsOversizedSectionStaysIntact(t *testing.T) {
	doc := pageDoc(2, 5000)
	chunks := SplitByHeadings(doc, 1000)

	assert.Equal(t, doc, strings.Join(chunks, ""))
	for _, c := range chunks {
		// A single section may exceed the limit but must never be split.
		assert.LessOrEqual(t, strings.Count(c, "## Page"), 1)
	}
}

func TestSplitByHeadingsNoHeadings(t *testing.T) {
	doc := strings.Repeat("plain text without headings\n", 200)
	chunks := SplitByHeadings(doc, 100)
	require.Len(t, chunks, 1)
	assert.Equal(t, doc, chunks[0])
}

func TestSplitByHeadingsZeroLimit(t *testing.T) {
	doc := pageDoc(3, 100)
	chunks := SplitByHeadings(doc, 0)
	require.Len(t, chunks, 1)
}
