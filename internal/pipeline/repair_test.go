package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yifanzh/structpdf/internal/extract"
	"github.com/yifanzh/structpdf/internal/models"
	"github.com/yifanzh/structpdf/internal/schema"
	"github.com/yifanzh/structpdf/pkg/logger"
)

// scriptedExtractor replays a fixed sequence of raw model outputs.
type scriptedExtractor struct {
	outputs  []string
	requests []extract.Request
	err      error
}

func (s *scriptedExtractor) Extract(ctx context.Context, req extract.Request) (*models.ExtractionAttempt, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.requests = append(s.requests, req)
	raw := s.outputs[len(s.requests)-1]

	att := &models.ExtractionAttempt{Attempt: req.Attempt, Raw: raw}
	candidate, err := extract.ParseCandidate(raw)
	if err != nil {
		att.Violations = []models.SchemaViolation{{Message: err.Error()}}
		return att, nil
	}
	att.Candidate = candidate
	return att, nil
}

func questionBankTarget(t *testing.T) *schema.Target {
	t.Helper()
	reg, err := schema.NewRegistry()
	require.NoError(t, err)
	target, err := reg.Get("question_bank")
	require.NoError(t, err)
	return target
}

const validDoc = `{"title": "Algebra Quiz", "questions": [{"number": 1, "question": "What is 2+2?"}]}`

func TestRepairLoopSucceedsFirstAttempt(t *testing.T) {
	ext := &scriptedExtractor{outputs: []string{validDoc}}

	final, err := RepairLoop(context.Background(), ext, "# Doc", questionBankTarget(t), 3, logger.NewTestLogger())
	require.NoError(t, err)

	assert.True(t, final.OK)
	assert.Equal(t, 1, final.AttemptsUsed)
	assert.Equal(t, "Algebra Quiz", final.Candidate["title"])
	assert.Len(t, ext.requests, 1)
	assert.Empty(t, ext.requests[0].PriorViolations)
}

func TestRepairLoopRecoversFromUnparseableOutput(t *testing.T) {
	ext := &scriptedExtractor{outputs: []string{
		"I could not produce JSON, sorry",
		validDoc,
	}}

	final, err := RepairLoop(context.Background(), ext, "# Doc", questionBankTarget(t), 3, logger.NewTestLogger())
	require.NoError(t, err)

	assert.True(t, final.OK)
	assert.Equal(t, 2, final.AttemptsUsed)
	require.Len(t, ext.requests, 2)

	// The second request carries the parse failure but no candidate.
	assert.NotEmpty(t, ext.requests[1].PriorViolations)
	assert.Nil(t, ext.requests[1].PriorCandidate)
}

func TestRepairLoopRecoversFromValidationFailure(t *testing.T) {
	ext := &scriptedExtractor{outputs: []string{
		`{"title": "Algebra Quiz"}`,
		validDoc,
	}}

	final, err := RepairLoop(context.Background(), ext, "# Doc", questionBankTarget(t), 3, logger.NewTestLogger())
	require.NoError(t, err)

	assert.True(t, final.OK)
	assert.Equal(t, 2, final.AttemptsUsed)
	require.Len(t, ext.requests, 2)

	// The repair request carries the failed candidate plus its violations.
	assert.NotEmpty(t, ext.requests[1].PriorViolations)
	assert.Equal(t, "Algebra Quiz", ext.requests[1].PriorCandidate["title"])
}

func TestRepairLoopExhaustsAttempts(t *testing.T) {
	bad := `{"title": "Algebra Quiz"}`
	ext := &scriptedExtractor{outputs: []string{bad, bad, bad}}

	final, err := RepairLoop(context.Background(), ext, "# Doc", questionBankTarget(t), 3, logger.NewTestLogger())
	require.NoError(t, err)

	assert.False(t, final.OK)
	assert.Equal(t, 3, final.AttemptsUsed)
	assert.Len(t, ext.requests, 3)
	assert.NotEmpty(t, final.Violations)
	assert.Equal(t, "Algebra Quiz", final.Candidate["title"])
}

func TestRepairLoopCarriesOnlyMostRecentViolations(t *testing.T) {
	ext := &scriptedExtractor{outputs: []string{
		"no json here",
		`{"title": "Algebra Quiz"}`,
		validDoc,
	}}

	final, err := RepairLoop(context.Background(), ext, "# Doc", questionBankTarget(t), 3, logger.NewTestLogger())
	require.NoError(t, err)
	assert.True(t, final.OK)
	require.Len(t, ext.requests, 3)

	// Attempt 3 sees only attempt 2's violations, not the parse failure.
	for _, v := range ext.requests[2].PriorViolations {
		assert.NotContains(t, v.Message, "parseable")
	}
}

func TestRepairLoopPropagatesTransportErrors(t *testing.T) {
	transport := errors.New("dial tcp: connection refused")
	ext := &scriptedExtractor{err: transport}

	final, err := RepairLoop(context.Background(), ext, "# Doc", questionBankTarget(t), 3, logger.NewTestLogger())
	require.Error(t, err)
	assert.Nil(t, final)
	assert.ErrorIs(t, err, transport)
}

func TestValidationIsIdempotent(t *testing.T) {
	target := questionBankTarget(t)
	candidate, err := extract.ParseCandidate(validDoc)
	require.NoError(t, err)

	first := target.Validate(candidate)
	second := target.Validate(candidate)
	assert.True(t, first.Valid)
	assert.Equal(t, first, second)
}
