package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/yifanzh/structpdf/internal/extract"
	"github.com/yifanzh/structpdf/internal/markdown"
	"github.com/yifanzh/structpdf/internal/models"
	"github.com/yifanzh/structpdf/internal/ocr"
	"github.com/yifanzh/structpdf/internal/orchestrator"
	"github.com/yifanzh/structpdf/internal/raster"
	"github.com/yifanzh/structpdf/internal/schema"
	"github.com/yifanzh/structpdf/pkg/logger"
)

// Stage names used in failure envelopes.
const (
	StageRaster   = "rasterize"
	StageOCR      = "ocr"
	StageExtract  = "extract"
	StageValidate = "validate"
)

// Config is the explicit pipeline configuration handed to New; the
// pipeline never reads ambient state.
type Config struct {
	BatchSize         int
	Concurrency       int
	DPI               float64
	MaxDimension      int
	MaxRepairAttempts int
	SchemaID          string
	ChunkBytes        int
	Timeout           time.Duration // overall deadline per document; 0 disables
}

// Result is the structured envelope for one document run. A Failed or
// Cancelled run still carries whatever markdown and candidate data had been
// assembled; callers decide whether partial output is acceptable.
type Result struct {
	Status       models.DocumentState     `json:"status"`
	Stage        string                   `json:"stage,omitempty"`
	Error        string                   `json:"error,omitempty"`
	Document     models.Document          `json:"document"`
	Markdown     string                   `json:"markdown,omitempty"`
	Data         map[string]any           `json:"data,omitempty"`
	AttemptsUsed int                      `json:"attemptsUsed,omitempty"`
	Violations   []models.SchemaViolation `json:"violations,omitempty"`
}

// Pipeline wires rasterizer, OCR gateway, extractor and schema registry
// into the full document flow. One Pipeline serves many documents; each
// Run owns its document state exclusively.
type Pipeline struct {
	rasterizer *raster.Rasterizer
	gateway    ocr.Gateway
	extractor  extract.Extractor
	registry   *schema.Registry
	logger     logger.Logger
	cfg        Config
}

func New(
	gateway ocr.Gateway,
	extractor extract.Extractor,
	registry *schema.Registry,
	log logger.Logger,
	cfg Config,
) *Pipeline {
	return &Pipeline{
		rasterizer: raster.New(log, raster.Options{
			DPI:          cfg.DPI,
			MaxDimension: cfg.MaxDimension,
		}),
		gateway:   gateway,
		extractor: extractor,
		registry:  registry,
		logger:    log,
		cfg:       cfg,
	}
}

// Markdown runs the document through rasterization and OCR only, returning
// the assembled markdown. On OCR exhaustion or cancellation the markdown
// assembled so far is returned along with the error.
func (p *Pipeline) Markdown(ctx context.Context, filename string, data []byte) (*models.MarkdownDocument, error) {
	stream, err := p.rasterizer.Open(data)
	if err != nil {
		return nil, err
	}

	orch := orchestrator.New(p.gateway, p.logger, orchestrator.Config{
		BatchSize:   p.cfg.BatchSize,
		Concurrency: p.cfg.Concurrency,
	}, orchestrator.WithProgress(func(progress models.Progress) {
		p.logger.Info("Pipeline progress",
			logger.Int("pagesCompleted", progress.PagesCompleted),
			logger.Int("totalPages", progress.TotalPages),
			logger.Int("batchIndex", progress.BatchIndex),
			logger.Int("totalBatches", progress.TotalBatches),
		)
	}))

	sections, runErr := orch.Run(ctx, stream)
	md := markdown.Assemble(markdown.TitleFromFilename(filename), sections)
	return md, runErr
}

// Run executes the full pipeline: PDF → images → OCR → markdown →
// structured extraction → validated JSON. Format rejection is the only
// error returned directly; every other failure is reported inside the
// result envelope with the failing stage named.
func (p *Pipeline) Run(ctx context.Context, filename string, data []byte) (*Result, error) {
	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}

	doc, err := raster.Metadata(data, filename)
	if err != nil {
		return nil, err
	}

	res := &Result{Document: doc}

	md, runErr := p.Markdown(ctx, filename, data)
	if md == nil {
		res.Status = models.StateFailed
		res.Stage = StageRaster
		res.Error = runErr.Error()
		return res, nil
	}
	res.Markdown = md.Content

	if runErr != nil {
		res.Status = models.StateFailed
		if errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded) {
			res.Status = models.StateCancelled
		}
		res.Stage = StageOCR
		res.Error = runErr.Error()
		return res, nil
	}

	target, err := p.registry.Get(p.cfg.SchemaID)
	if err != nil {
		return nil, err
	}

	p.extractStructured(ctx, md.Content, target, res)
	return res, nil
}

// extractStructured runs chunked extraction over the assembled markdown and
// fills in the terminal fields of res. Multi-chunk candidates are merged
// and the merged document validated once more, since per-chunk validity
// does not imply merged validity for schemas with count or cross-field
// constraints.
func (p *Pipeline) extractStructured(ctx context.Context, content string, target *schema.Target, res *Result) {
	res.Status = models.StateExtracting

	p.logger.Info("Markdown assembled, extracting",
		logger.String("schema", target.ID),
		logger.Int("markdownBytes", len(content)),
	)

	chunks := markdown.SplitByHeadings(content, p.cfg.ChunkBytes)
	merged := make(map[string]any)
	attemptsUsed := 0
	var lastViolations []models.SchemaViolation
	exhausted := false

	for i, chunk := range chunks {
		final, err := RepairLoop(ctx, p.extractor, chunk, target, p.cfg.MaxRepairAttempts, p.logger)
		if err != nil {
			res.Status = models.StateFailed
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				res.Status = models.StateCancelled
			}
			res.Stage = StageExtract
			res.Error = err.Error()
			res.Data = merged
			res.AttemptsUsed = attemptsUsed
			return
		}

		if final.AttemptsUsed > attemptsUsed {
			attemptsUsed = final.AttemptsUsed
		}
		if final.Candidate != nil {
			mergeCandidate(merged, final.Candidate)
		}
		if !final.OK {
			exhausted = true
			lastViolations = final.Violations
			p.logger.Error("Repair attempts exhausted for chunk",
				logger.Int("chunk", i),
				logger.Int("attemptsUsed", final.AttemptsUsed),
			)
		}
	}

	res.AttemptsUsed = attemptsUsed
	res.Data = merged

	if exhausted {
		res.Status = models.StateFailed
		res.Stage = StageValidate
		res.Error = fmt.Sprintf("%v after %d attempts", models.ErrRepairExhausted, attemptsUsed)
		res.Violations = lastViolations
		return
	}

	if len(chunks) > 1 {
		if result := target.Validate(merged); !result.Valid {
			p.logger.Error("Merged document failed validation",
				logger.Int("chunks", len(chunks)),
				logger.Int("violations", len(result.Violations)),
			)
			res.Status = models.StateFailed
			res.Stage = StageValidate
			res.Error = "merged document failed validation"
			res.Violations = result.Violations
			return
		}
	}

	res.Status = models.StateDone
}

// mergeCandidate folds one chunk's candidate into the accumulated
// document: arrays concatenate, nested objects merge, scalars keep the
// first non-empty value seen.
func mergeCandidate(dst, src map[string]any) {
	for key, val := range src {
		existing, ok := dst[key]
		if !ok {
			dst[key] = val
			continue
		}
		switch ev := existing.(type) {
		case []any:
			if sv, ok := val.([]any); ok {
				dst[key] = append(ev, sv...)
			}
		case map[string]any:
			if sv, ok := val.(map[string]any); ok {
				mergeCandidate(ev, sv)
			}
		case string:
			if ev == "" {
				dst[key] = val
			}
		}
	}
}
