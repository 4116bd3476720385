package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/yifanzh/structpdf/internal/models"
	"github.com/yifanzh/structpdf/internal/ocr"
	"github.com/yifanzh/structpdf/internal/raster"
	"github.com/yifanzh/structpdf/pkg/logger"
)

// PageSource yields rendered pages in page order. Satisfied by
// raster.PageStream; tests substitute fabricated sources.
type PageSource interface {
	TotalPages() int
	Next() (raster.PageImage, bool)
	Close() error
}

// Config controls batching.
type Config struct {
	BatchSize   int // pages per batch, default 5
	Concurrency int // concurrent OCR calls within a batch, default BatchSize

	// MaxExhaustedStreak is the number of consecutive pages whose OCR
	// retries all fail before the remaining batches are abandoned. An
	// isolated exhausted page degrades to a placeholder; an unbroken run of
	// them means the capability is down, not the pages. Default 3.
	MaxExhaustedStreak int
}

// ProgressFunc receives one event per completed batch.
type ProgressFunc func(models.Progress)

// Orchestrator drives rasterization and OCR over one document in fixed-size
// batches, releasing per-batch image buffers before moving on. One
// orchestrator instance owns one document run; no state is shared across
// documents.
type Orchestrator struct {
	gateway    ocr.Gateway
	logger     logger.Logger
	cfg        Config
	onProgress ProgressFunc

	mu    sync.Mutex
	state models.DocumentState
}

type Option func(*Orchestrator)

// WithProgress registers a progress observer.
func WithProgress(fn ProgressFunc) Option {
	return func(o *Orchestrator) {
		o.onProgress = fn
	}
}

func New(gateway ocr.Gateway, log logger.Logger, cfg Config, opts ...Option) *Orchestrator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}
	if cfg.Concurrency <= 0 || cfg.Concurrency > cfg.BatchSize {
		cfg.Concurrency = cfg.BatchSize
	}
	if cfg.MaxExhaustedStreak <= 0 {
		cfg.MaxExhaustedStreak = 3
	}
	o := &Orchestrator{
		gateway: gateway,
		logger:  log,
		cfg:     cfg,
		state:   models.StatePending,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State reports the current position in the document state machine.
func (o *Orchestrator) State() models.DocumentState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(s models.DocumentState) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// Run processes every page of src and returns ordered per-page sections.
// Page-level render and OCR-input failures degrade that page to a
// placeholder section and processing continues; so does an isolated page
// whose OCR retries are exhausted. Once MaxExhaustedStreak consecutive
// pages exhaust their retries the remaining batches are abandoned and the
// sections assembled so far are returned alongside the error, so callers
// can decide whether partial output is acceptable. Section order always
// equals page order, regardless of OCR completion order within a batch.
func (o *Orchestrator) Run(ctx context.Context, src PageSource) ([]models.PageSection, error) {
	defer src.Close()

	o.setState(models.StateRasterizing)

	total := src.TotalPages()
	batches := models.Partition(total, o.cfg.BatchSize)
	sections := make([]models.PageSection, 0, total)
	pagesCompleted := 0
	streak := 0

	o.logger.Info("Document processing started",
		logger.Int("totalPages", total),
		logger.Int("batchSize", o.cfg.BatchSize),
		logger.Int("totalBatches", len(batches)),
	)

	for _, batch := range batches {
		o.setState(models.StateBatchInProgress)

		// Rasterization happens inside Next; pulling the batch up front
		// bounds memory to one batch of images.
		pages := make([]raster.PageImage, 0, batch.Pages())
		for i := 0; i < batch.Pages(); i++ {
			page, ok := src.Next()
			if !ok {
				break
			}
			pages = append(pages, page)
		}

		results := make([]models.PageSection, len(pages))
		exhausted := make([]bool, len(pages))
		g, gctx := errgroup.WithContext(ctx)
		sem := make(chan struct{}, o.cfg.Concurrency)

		for i := range pages {
			i := i
			g.Go(func() error {
				select {
				case sem <- struct{}{}:
					defer func() { <-sem }()
				case <-gctx.Done():
					return gctx.Err()
				}

				sec, exh, err := o.processPage(gctx, pages[i])
				if err != nil {
					return err
				}
				results[i] = sec
				exhausted[i] = exh
				return nil
			})
		}

		err := g.Wait()

		// Image buffers for this batch are not needed once text is
		// extracted; dropping them here bounds memory for long documents.
		for i := range pages {
			pages[i].Image = nil
		}

		if err != nil {
			sections = append(sections, completedPrefix(results)...)
			state := models.StateFailed
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				state = models.StateCancelled
			}
			o.setState(state)
			o.logger.Error("Batch aborted",
				logger.Int("batchIndex", batch.Index),
				logger.Error(err),
			)
			return sections, err
		}

		sections = append(sections, results...)
		pagesCompleted += len(pages)

		// Exhaustion streaks run across batch boundaries.
		tripped := 0
		for i := range results {
			if exhausted[i] {
				streak++
				if streak >= o.cfg.MaxExhaustedStreak && streak > tripped {
					tripped = streak
				}
			} else {
				streak = 0
			}
		}
		if tripped > 0 {
			o.setState(models.StateFailed)
			o.logger.Error("OCR exhausted on consecutive pages, abandoning remaining batches",
				logger.Int("batchIndex", batch.Index),
				logger.Int("streak", tripped),
			)
			return sections, fmt.Errorf("%w: %d consecutive pages exhausted retries", models.ErrOCRUnavailable, tripped)
		}

		progress := models.Progress{
			PagesCompleted: pagesCompleted,
			TotalPages:     total,
			BatchIndex:     batch.Index,
			TotalBatches:   len(batches),
		}
		o.logger.Info("Batch completed",
			logger.Int("batchIndex", batch.Index),
			logger.Int("pagesCompleted", pagesCompleted),
			logger.Int("totalPages", total),
		)
		if o.onProgress != nil {
			o.onProgress(progress)
		}
	}

	o.setState(models.StateAssembling)
	o.setState(models.StateDone)
	return sections, nil
}

// processPage turns one rendered page into a section. Page-level failures
// come back as degraded sections, not errors; retry exhaustion additionally
// reports true so the caller can track streaks. Only cancellation and
// unexpected gateway errors propagate.
func (o *Orchestrator) processPage(ctx context.Context, page raster.PageImage) (models.PageSection, bool, error) {
	sec := models.PageSection{Page: page.Number}

	if page.Err != nil {
		sec.Err = page.Err.Error()
		return sec, false, nil
	}
	if page.NativeText != "" {
		sec.Body = page.NativeText
		sec.Native = true
		return sec, false, nil
	}
	if page.Image == nil {
		sec.Err = fmt.Sprintf("page %d produced no render", page.Number)
		return sec, false, nil
	}

	text, err := o.gateway.ExtractText(ctx, page.Image)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrOCRInput):
			o.logger.Warn("OCR rejected page, degrading to placeholder",
				logger.Int("page", page.Number),
				logger.Error(err),
			)
			sec.Err = err.Error()
			return sec, false, nil
		case errors.Is(err, models.ErrOCRUnavailable):
			o.logger.Warn("OCR retries exhausted for page, degrading to placeholder",
				logger.Int("page", page.Number),
				logger.Error(err),
			)
			sec.Err = err.Error()
			return sec, true, nil
		default:
			return sec, false, err
		}
	}

	sec.Body = text
	return sec, false, nil
}

// completedPrefix keeps the in-order run of sections that finished before
// an abort, stopping at the first gap so the partial output has no holes.
func completedPrefix(results []models.PageSection) []models.PageSection {
	var done []models.PageSection
	for _, r := range results {
		if r.Page == 0 {
			break
		}
		done = append(done, r)
	}
	return done
}
