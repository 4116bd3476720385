package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/yifanzh/structpdf/internal/models"
	"github.com/yifanzh/structpdf/internal/schema"
)

// Request is one extraction call. PriorViolations and PriorCandidate are
// set only on repair attempts and hold the most recent attempt's outcome,
// never the cumulative history, to keep prompts bounded.
type Request struct {
	Markdown        string
	Target          *schema.Target
	Attempt         int
	PriorViolations []models.SchemaViolation
	PriorCandidate  map[string]any
}

// Extractor submits markdown plus a target schema to an external language
// model and returns the candidate structured document. Unparseable model
// output comes back as an attempt whose Candidate is nil and whose
// Violations carry a synthetic parse failure; only transport-level errors
// are returned as errors.
type Extractor interface {
	Extract(ctx context.Context, req Request) (*models.ExtractionAttempt, error)
}

// ParseCandidate best-effort-parses model output into a JSON object. The
// model sometimes wraps JSON in code fences or prose; strip down to the
// outermost object before decoding.
func ParseCandidate(raw string) (map[string]any, error) {
	cleaned := stripFences(raw)

	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("%w: no JSON object found", models.ErrParse)
	}

	var candidate map[string]any
	if err := json.Unmarshal([]byte(cleaned[start:end+1]), &candidate); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrParse, err)
	}
	return candidate, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if idx := strings.Index(s, "\n"); idx >= 0 {
		s = s[idx+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// attemptFromRaw builds the attempt record for raw model output, degrading
// a parse failure to a synthetic violation for the repair loop.
func attemptFromRaw(attempt int, raw string) *models.ExtractionAttempt {
	result := &models.ExtractionAttempt{
		Attempt: attempt,
		Raw:     raw,
	}
	candidate, err := ParseCandidate(raw)
	if err != nil {
		result.Violations = []models.SchemaViolation{{
			Path:    "",
			Message: fmt.Sprintf("output was not parseable as JSON: %v", err),
		}}
		return result
	}
	result.Candidate = candidate
	return result
}

// BuildPrompt renders the extraction instruction. On repair attempts the
// previous candidate and its violations are included so the model can fix
// rather than regenerate from scratch.
func BuildPrompt(req Request) string {
	var b strings.Builder

	b.WriteString("Convert the following markdown document into a single JSON object conforming exactly to this JSON schema:\n\n")
	b.WriteString(req.Target.Description())
	b.WriteString("\n\n")
	b.WriteString("Rules:\n")
	b.WriteString("- Output only the JSON object, no surrounding prose and no code fences.\n")
	b.WriteString("- Every required property must be present.\n")
	b.WriteString("- Do not invent content that is not in the document.\n")
	b.WriteString("- Page sections marked with an extraction error contribute no content.\n\n")

	if len(req.PriorViolations) > 0 {
		b.WriteString("A previous attempt produced output that failed validation. ")
		b.WriteString("Fix these violations and return the corrected JSON object:\n")
		for i, v := range req.PriorViolations {
			if v.Path != "" {
				fmt.Fprintf(&b, "%d. at %s: %s\n", i+1, v.Path, v.Message)
			} else {
				fmt.Fprintf(&b, "%d. %s\n", i+1, v.Message)
			}
		}
		if req.PriorCandidate != nil {
			if prev, err := json.Marshal(req.PriorCandidate); err == nil {
				b.WriteString("\nPrevious attempt:\n")
				b.Write(prev)
				b.WriteString("\n")
			}
		}
		b.WriteString("\n")
	}

	b.WriteString("Markdown document:\n\n")
	b.WriteString(req.Markdown)

	return b.String()
}
