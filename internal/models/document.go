package models

import (
	"time"
)

// DocumentState tracks a document's position in the pipeline state machine.
type DocumentState string

const (
	StatePending         DocumentState = "pending"
	StateRasterizing     DocumentState = "rasterizing"
	StateBatchInProgress DocumentState = "batch_in_progress"
	StateAssembling      DocumentState = "assembling"
	StateExtracting      DocumentState = "extracting"
	StateDone            DocumentState = "done"
	StateFailed          DocumentState = "failed"
	StateCancelled       DocumentState = "cancelled"
)

// Document identifies one source PDF. Immutable once loaded.
type Document struct {
	Filename string `json:"filename"`
	Pages    int    `json:"pages"`
	Size     int64  `json:"size"`
	Hash     string `json:"hash,omitempty"`
}

// Batch is a contiguous window of 1-indexed page numbers, inclusive on both
// ends. Batches partition a document exactly once, in order.
type Batch struct {
	Index     int `json:"index"`
	StartPage int `json:"startPage"`
	EndPage   int `json:"endPage"`
}

// Pages returns the number of pages covered by the batch.
func (b Batch) Pages() int {
	return b.EndPage - b.StartPage + 1
}

// Partition splits totalPages into ceil(totalPages/batchSize) contiguous
// batches with no gaps or overlaps.
func Partition(totalPages, batchSize int) []Batch {
	if totalPages <= 0 || batchSize <= 0 {
		return nil
	}
	batches := make([]Batch, 0, (totalPages+batchSize-1)/batchSize)
	for start := 1; start <= totalPages; start += batchSize {
		end := start + batchSize - 1
		if end > totalPages {
			end = totalPages
		}
		batches = append(batches, Batch{
			Index:     len(batches),
			StartPage: start,
			EndPage:   end,
		})
	}
	return batches
}

// Progress is emitted after every completed batch.
type Progress struct {
	PagesCompleted int `json:"pagesCompleted"`
	TotalPages     int `json:"totalPages"`
	BatchIndex     int `json:"batchIndex"`
	TotalBatches   int `json:"totalBatches"`
}

// PageSection is one page's contribution to the assembled markdown.
// Degraded pages carry an error marker instead of text.
type PageSection struct {
	Page   int    `json:"page"`
	Body   string `json:"body"`
	Err    string `json:"error,omitempty"`
	Native bool   `json:"native,omitempty"` // text came from the PDF text layer, no OCR call
}

// MarkdownDocument is the ordered per-page markdown produced once all
// batches complete. Immutable once produced.
type MarkdownDocument struct {
	Title    string        `json:"title"`
	Sections []PageSection `json:"sections"`
	Content  string        `json:"content"`
}

// SchemaViolation is one (path, message) failure from schema validation.
type SchemaViolation struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// ValidationResult drives the repair loop. Never persisted past the
// current attempt.
type ValidationResult struct {
	Valid      bool              `json:"valid"`
	Violations []SchemaViolation `json:"violations,omitempty"`
}

// ExtractionAttempt is one candidate structured document plus the
// validation outcome that superseded it.
type ExtractionAttempt struct {
	Attempt    int               `json:"attempt"`
	Candidate  map[string]any    `json:"candidate,omitempty"`
	Raw        string            `json:"raw,omitempty"`
	Violations []SchemaViolation `json:"violations,omitempty"`
}

// ProcessingTask mirrors the queue-side view of a pipeline run.
type ProcessingTask struct {
	ID        string            `json:"id"`
	Status    ProcessingStatus  `json:"status"`
	Type      string            `json:"type"`
	Priority  int               `json:"priority"`
	Progress  float64           `json:"progress"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt,omitempty"`
}

type ProcessingStatus string

const (
	StatusPending   ProcessingStatus = "pending"
	StatusRunning   ProcessingStatus = "running"
	StatusCompleted ProcessingStatus = "completed"
	StatusFailed    ProcessingStatus = "failed"
	StatusCancelled ProcessingStatus = "cancelled"
)
