package models

import (
	"errors"
	"fmt"
)

// Error kinds recognized across the pipeline. Page-level kinds degrade a
// single page to a placeholder section; the others abort the enclosing stage.
var (
	// ErrUnsupportedFormat rejects non-PDF input before any work starts.
	ErrUnsupportedFormat = errors.New("unsupported document format")

	// ErrRender marks a page that could not be rasterized.
	ErrRender = errors.New("page render failed")

	// ErrOCRInput marks input the OCR capability rejected outright. Never retried.
	ErrOCRInput = errors.New("ocr input rejected")

	// ErrOCRUnavailable is surfaced after retry exhaustion and aborts the
	// remaining batches.
	ErrOCRUnavailable = errors.New("ocr service unavailable")

	// ErrParse marks extractor output that was not parseable as JSON.
	ErrParse = errors.New("candidate not parseable as json")

	// ErrRepairExhausted is terminal for the repair loop.
	ErrRepairExhausted = errors.New("repair attempts exhausted")
)

// PageError annotates a page-level failure with its page number.
type PageError struct {
	Page int
	Err  error
}

func (e *PageError) Error() string {
	return fmt.Sprintf("page %d: %v", e.Page, e.Err)
}

func (e *PageError) Unwrap() error {
	return e.Err
}
