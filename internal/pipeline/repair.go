package pipeline

import (
	"context"

	"github.com/yifanzh/structpdf/internal/extract"
	"github.com/yifanzh/structpdf/internal/models"
	"github.com/yifanzh/structpdf/internal/schema"
	"github.com/yifanzh/structpdf/pkg/logger"
)

// FinalResult is the terminal outcome of the repair loop.
type FinalResult struct {
	OK           bool                     `json:"ok"`
	Candidate    map[string]any           `json:"candidate,omitempty"`
	Violations   []models.SchemaViolation `json:"violations,omitempty"`
	AttemptsUsed int                      `json:"attemptsUsed"`
}

// RepairLoop runs extraction until the candidate validates or maxAttempts
// extraction calls have been made. Each repair attempt is fed only the most
// recent attempt's violations, keeping prompts bounded. Unparseable model
// output counts as a failed attempt with a synthetic violation. The loop is
// strictly sequential; only transport-level extractor errors escalate.
func RepairLoop(
	ctx context.Context,
	extractor extract.Extractor,
	md string,
	target *schema.Target,
	maxAttempts int,
	log logger.Logger,
) (*FinalResult, error) {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	var prior []models.SchemaViolation
	var priorCandidate map[string]any
	var last *models.ExtractionAttempt

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		att, err := extractor.Extract(ctx, extract.Request{
			Markdown:        md,
			Target:          target,
			Attempt:         attempt,
			PriorViolations: prior,
			PriorCandidate:  priorCandidate,
		})
		if err != nil {
			return nil, err
		}
		last = att

		if att.Candidate == nil {
			// Parse failure; the attempt already carries its synthetic
			// violation and the loop continues.
			log.Warn("Extraction output not parseable, repairing",
				logger.Int("attempt", attempt),
			)
			prior = att.Violations
			priorCandidate = nil
			continue
		}

		result := target.Validate(att.Candidate)
		if result.Valid {
			log.Info("Candidate validated",
				logger.Int("attemptsUsed", attempt),
			)
			return &FinalResult{
				OK:           true,
				Candidate:    att.Candidate,
				AttemptsUsed: attempt,
			}, nil
		}

		log.Warn("Candidate failed validation, repairing",
			logger.Int("attempt", attempt),
			logger.Int("violations", len(result.Violations)),
		)
		att.Violations = result.Violations
		prior = result.Violations
		priorCandidate = att.Candidate
	}

	return &FinalResult{
		Candidate:    last.Candidate,
		Violations:   last.Violations,
		AttemptsUsed: maxAttempts,
	}, nil
}
