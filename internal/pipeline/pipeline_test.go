package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yifanzh/structpdf/internal/models"
	"github.com/yifanzh/structpdf/internal/schema"
	"github.com/yifanzh/structpdf/pkg/logger"
)

func TestMergeCandidateConcatenatesArrays(t *testing.T) {
	dst := map[string]any{
		"title":     "Quiz",
		"questions": []any{map[string]any{"number": 1.0}},
	}
	mergeCandidate(dst, map[string]any{
		"title":     "Quiz (continued)",
		"questions": []any{map[string]any{"number": 2.0}, map[string]any{"number": 3.0}},
	})

	assert.Equal(t, "Quiz", dst["title"])
	assert.Len(t, dst["questions"], 3)
}

func TestMergeCandidateFillsMissingKeys(t *testing.T) {
	dst := map[string]any{"title": "Quiz"}
	mergeCandidate(dst, map[string]any{"subject": "Algebra"})

	assert.Equal(t, "Quiz", dst["title"])
	assert.Equal(t, "Algebra", dst["subject"])
}

func TestMergeCandidateReplacesEmptyScalars(t *testing.T) {
	dst := map[string]any{"title": ""}
	mergeCandidate(dst, map[string]any{"title": "Found Later"})

	assert.Equal(t, "Found Later", dst["title"])
}

// Splits into three chunks at ChunkBytes 10: the title line and one chunk
// per page section.
const chunkedContent = "# Doc\n\n## Page 1\n\nalpha\n\n## Page 2\n\nbeta\n\n"

func chunkedPipeline(t *testing.T, ext *scriptedExtractor, schemaID string) (*Pipeline, *schema.Target) {
	t.Helper()
	reg, err := schema.NewRegistry()
	require.NoError(t, err)
	target, err := reg.Get(schemaID)
	require.NoError(t, err)

	p := New(nil, ext, reg, logger.NewTestLogger(), Config{
		ChunkBytes:        10,
		MaxRepairAttempts: 3,
		SchemaID:          schemaID,
	})
	return p, target
}

func TestExtractStructuredMergesChunks(t *testing.T) {
	ext := &scriptedExtractor{outputs: []string{
		`{"title": "Doc", "questions": []}`,
		`{"title": "Doc", "questions": [{"number": 1, "question": "A"}]}`,
		`{"title": "Doc", "questions": [{"number": 2, "question": "B"}]}`,
	}}
	p, target := chunkedPipeline(t, ext, "question_bank")

	res := &Result{}
	p.extractStructured(context.Background(), chunkedContent, target, res)

	require.Len(t, ext.requests, 3)
	assert.Equal(t, models.StateDone, res.Status)
	assert.Equal(t, "Doc", res.Data["title"])
	assert.Len(t, res.Data["questions"], 2)
}

func TestExtractStructuredRevalidatesMergedDocument(t *testing.T) {
	// Each chunk candidate validates on its own, but the concatenated
	// question list exceeds the schema's item cap.
	ext := &scriptedExtractor{outputs: []string{
		`{"title": "Doc", "questions": []}`,
		`{"title": "Doc", "questions": [{"number": 1, "question": "A"}]}`,
		`{"title": "Doc", "questions": [{"number": 2, "question": "B"}]}`,
	}}
	p, target := chunkedPipeline(t, ext, "question_bank")

	capped := `{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"type": "object",
		"properties": {
			"title": {"type": "string"},
			"questions": {
				"type": "array",
				"maxItems": 1,
				"items": {
					"type": "object",
					"properties": {
						"number": {"type": "integer"},
						"question": {"type": "string"}
					},
					"required": ["number", "question"],
					"additionalProperties": false
				}
			}
		},
		"required": ["title", "questions"],
		"additionalProperties": false
	}`
	require.NoError(t, p.registry.Register("capped", []byte(capped)))
	target, err := p.registry.Get("capped")
	require.NoError(t, err)

	res := &Result{}
	p.extractStructured(context.Background(), chunkedContent, target, res)

	require.Len(t, ext.requests, 3)
	assert.Equal(t, models.StateFailed, res.Status)
	assert.Equal(t, StageValidate, res.Stage)
	assert.NotEmpty(t, res.Violations)
	// The merged best-effort data is still surfaced.
	assert.Len(t, res.Data["questions"], 2)
}

func TestMergeCandidateMergesNestedMaps(t *testing.T) {
	dst := map[string]any{
		"metadata": map[string]any{"author": "Smith"},
	}
	mergeCandidate(dst, map[string]any{
		"metadata": map[string]any{"year": 2024.0},
	})

	meta := dst["metadata"].(map[string]any)
	assert.Equal(t, "Smith", meta["author"])
	assert.Equal(t, 2024.0, meta["year"])
}
