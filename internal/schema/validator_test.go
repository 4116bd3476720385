package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func registryTarget(t *testing.T, id string) *Target {
	t.Helper()
	reg, err := NewRegistry()
	require.NoError(t, err)
	target, err := reg.Get(id)
	require.NoError(t, err)
	return target
}

func TestRegistryLoadsEmbeddedSchemas(t *testing.T) {
	reg, err := NewRegistry()
	require.NoError(t, err)
	assert.Contains(t, reg.IDs(), "question_bank")
	assert.Contains(t, reg.IDs(), "generic_document")

	_, err = reg.Get("nonexistent")
	assert.Error(t, err)
}

func TestValidateAcceptsConformingDocument(t *testing.T) {
	target := registryTarget(t, "question_bank")

	result := target.Validate(map[string]any{
		"title": "Algebra Quiz",
		"questions": []any{
			map[string]any{"number": float64(1), "question": "What is 2+2?"},
		},
	})

	assert.True(t, result.Valid)
	assert.Empty(t, result.Violations)
}

func TestValidateNamesMissingRequiredProperties(t *testing.T) {
	target := registryTarget(t, "question_bank")

	result := target.Validate(map[string]any{
		"title": "Algebra Quiz",
	})

	require.False(t, result.Valid)

	var paths []string
	for _, v := range result.Violations {
		paths = append(paths, v.Path)
	}
	assert.Contains(t, paths, "/questions")
}

func TestValidateRejectsUnknownProperties(t *testing.T) {
	target := registryTarget(t, "question_bank")

	result := target.Validate(map[string]any{
		"title": "Quiz",
		"questions": []any{
			map[string]any{"number": float64(1), "question": "Q"},
		},
		"publisher": "unexpected",
	})

	assert.False(t, result.Valid)
	assert.NotEmpty(t, result.Violations)
}

func TestValidateNilCandidate(t *testing.T) {
	target := registryTarget(t, "question_bank")

	result := target.Validate(nil)
	require.False(t, result.Valid)
	require.Len(t, result.Violations, 1)
	assert.Contains(t, result.Violations[0].Message, "empty")
}

func TestRegisterRejectsMalformedSchema(t *testing.T) {
	reg, err := NewRegistry()
	require.NoError(t, err)

	err = reg.Register("broken", []byte(`{"type": 42}`))
	assert.Error(t, err)
}
