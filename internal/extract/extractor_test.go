package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yifanzh/structpdf/internal/models"
	"github.com/yifanzh/structpdf/internal/schema"
)

func TestParseCandidate(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    map[string]any
		wantErr bool
	}{
		{
			name: "bare object",
			raw:  `{"title": "Doc"}`,
			want: map[string]any{"title": "Doc"},
		},
		{
			name: "fenced json",
			raw:  "```json\n{\"title\": \"Doc\"}\n```",
			want: map[string]any{"title": "Doc"},
		},
		{
			name: "fenced without language tag",
			raw:  "```\n{\"title\": \"Doc\"}\n```",
			want: map[string]any{"title": "Doc"},
		},
		{
			name: "object wrapped in prose",
			raw:  "Here is the result:\n{\"title\": \"Doc\"}\nHope that helps!",
			want: map[string]any{"title": "Doc"},
		},
		{
			name:    "no object at all",
			raw:     "I cannot extract anything from this document.",
			wantErr: true,
		},
		{
			name:    "malformed json",
			raw:     `{"title": "Doc",}`,
			wantErr: true,
		},
		{
			name:    "empty string",
			raw:     "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCandidate(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, models.ErrParse)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAttemptFromRawDegradesParseFailure(t *testing.T) {
	att := attemptFromRaw(2, "not json")
	assert.Equal(t, 2, att.Attempt)
	assert.Nil(t, att.Candidate)
	require.Len(t, att.Violations, 1)
	assert.Contains(t, att.Violations[0].Message, "not parseable")
}

func TestBuildPromptFirstAttempt(t *testing.T) {
	target := testTarget(t)

	prompt := BuildPrompt(Request{
		Markdown: "# Quiz\n\n## Page 1\n\nWhat is 2+2?",
		Target:   target,
		Attempt:  1,
	})

	assert.Contains(t, prompt, "What is 2+2?")
	assert.Contains(t, prompt, target.Description())
	assert.NotContains(t, prompt, "previous attempt")
}

func TestBuildPromptRepairAttempt(t *testing.T) {
	target := testTarget(t)

	prompt := BuildPrompt(Request{
		Markdown: "# Quiz",
		Target:   target,
		Attempt:  2,
		PriorViolations: []models.SchemaViolation{
			{Path: "/questions", Message: "missing required property"},
		},
		PriorCandidate: map[string]any{"title": "Quiz"},
	})

	assert.Contains(t, prompt, "failed validation")
	assert.Contains(t, prompt, "/questions")
	assert.Contains(t, prompt, `"title":"Quiz"`)
}

func testTarget(t *testing.T) *schema.Target {
	t.Helper()
	reg, err := schema.NewRegistry()
	require.NoError(t, err)
	target, err := reg.Get("question_bank")
	require.NoError(t, err)
	return target
}
