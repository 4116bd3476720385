package schema

import (
	"github.com/yifanzh/structpdf/internal/models"
)

// Validate checks a candidate document against the target. The result is
// only used to drive the repair loop; validating an already-passing
// candidate is side-effect free and yields the same result every time.
func (t *Target) Validate(candidate any) models.ValidationResult {
	if candidate == nil {
		return models.ValidationResult{
			Violations: []models.SchemaViolation{{
				Path:    "",
				Message: "candidate is empty",
			}},
		}
	}

	err := t.resolved.Validate(candidate)
	if err == nil {
		return models.ValidationResult{Valid: true}
	}

	violations := []models.SchemaViolation{{
		Path:    "",
		Message: err.Error(),
	}}

	// Missing required top-level properties are the most common LLM
	// failure; name them each explicitly so the repair prompt carries
	// more signal than a single validator message.
	if obj, ok := candidate.(map[string]any); ok {
		for _, key := range t.requiredTop {
			if _, present := obj[key]; !present {
				violations = append(violations, models.SchemaViolation{
					Path:    "/" + key,
					Message: "missing required property",
				})
			}
		}
	}

	return models.ValidationResult{Violations: violations}
}
