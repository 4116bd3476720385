package markdown

import (
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// SplitByHeadings cuts a markdown document into chunks of at most maxBytes,
// breaking only at top-level h1/h2 boundaries so no page section is split
// mid-body. A document that fits in one chunk comes back whole. A single
// section larger than maxBytes becomes its own oversized chunk rather than
// being cut mid-section.
func SplitByHeadings(source string, maxBytes int) []string {
	if maxBytes <= 0 || len(source) <= maxBytes {
		return []string{source}
	}

	src := []byte(source)
	boundaries := headingOffsets(src)
	if len(boundaries) == 0 {
		return []string{source}
	}

	// Segment the source at heading offsets, then pack segments greedily.
	segments := make([]string, 0, len(boundaries)+1)
	prev := 0
	for _, off := range boundaries {
		if off > prev {
			segments = append(segments, source[prev:off])
		}
		prev = off
	}
	segments = append(segments, source[prev:])

	var chunks []string
	var current string
	for _, seg := range segments {
		if current != "" && len(current)+len(seg) > maxBytes {
			chunks = append(chunks, current)
			current = ""
		}
		current += seg
	}
	if current != "" {
		chunks = append(chunks, current)
	}
	return chunks
}

// headingOffsets returns source offsets of top-level level-1/2 headings.
func headingOffsets(src []byte) []int {
	md := goldmark.New()
	doc := md.Parser().Parse(text.NewReader(src))

	var offsets []int
	for node := doc.FirstChild(); node != nil; node = node.NextSibling() {
		heading, ok := node.(*ast.Heading)
		if !ok || heading.Level > 2 {
			continue
		}
		lines := heading.Lines()
		if lines.Len() == 0 {
			continue
		}
		start := lines.At(0).Start
		// Back up over the "#" marker and leading spaces the segment skips.
		for start > 0 && src[start-1] != '\n' {
			start--
		}
		offsets = append(offsets, start)
	}
	return offsets
}
