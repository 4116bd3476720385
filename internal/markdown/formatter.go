package markdown

import (
	"fmt"
	"sort"
	"strings"

	"github.com/yifanzh/structpdf/internal/models"
)

// Assemble builds the final markdown document from per-page sections.
// Sections are emitted strictly in increasing page order regardless of the
// order they were produced in. Degraded pages render an inline error
// marker; empty pages a placeholder.
func Assemble(title string, sections []models.PageSection) *models.MarkdownDocument {
	ordered := make([]models.PageSection, len(sections))
	copy(ordered, sections)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].Page < ordered[j].Page
	})

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", title)

	for _, s := range ordered {
		fmt.Fprintf(&b, "## Page %d\n\n", s.Page)
		switch {
		case s.Err != "":
			fmt.Fprintf(&b, "*Error extracting text: %s*\n\n", s.Err)
		case strings.TrimSpace(s.Body) == "":
			b.WriteString("*No text extracted*\n\n")
		default:
			b.WriteString(strings.TrimSpace(s.Body))
			b.WriteString("\n\n")
		}
		b.WriteString("---\n\n")
	}

	return &models.MarkdownDocument{
		Title:    title,
		Sections: ordered,
		Content:  b.String(),
	}
}

// TitleFromFilename derives a document title the way the upload surface
// names things: strip the extension, underscores to spaces, words
// capitalized.
func TitleFromFilename(filename string) string {
	name := filename
	if i := strings.LastIndex(name, "."); i > 0 {
		name = name[:i]
	}
	name = strings.ReplaceAll(name, "_", " ")
	name = strings.ReplaceAll(name, "-", " ")

	words := strings.Fields(name)
	if len(words) == 0 {
		return "Document"
	}
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
