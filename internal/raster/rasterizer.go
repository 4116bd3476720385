package raster

import (
	"bytes"
	"fmt"
	"image"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/go-fitz"
	"github.com/ledongthuc/pdf"

	"github.com/yifanzh/structpdf/internal/models"
	"github.com/yifanzh/structpdf/pkg/logger"
)

// Options control page rendering.
type Options struct {
	DPI          float64 // rendering resolution
	MaxDimension int     // renders above this dimension are downscaled; 0 disables
}

// PageImage is one rendered page. When rendering fails Err is set, Image is
// nil, and the stream continues with the next page.
type PageImage struct {
	Number     int // 1-indexed
	Image      image.Image
	NativeText string // text layer content, set when the PDF carries one
	Err        error
}

// Rasterizer converts a PDF's pages into per-page raster images in page
// order. Stateless; each Open returns an independent stream.
type Rasterizer struct {
	logger logger.Logger
	opts   Options
}

func New(log logger.Logger, opts Options) *Rasterizer {
	if opts.DPI <= 0 {
		opts.DPI = 300
	}
	return &Rasterizer{
		logger: log,
		opts:   opts,
	}
}

// Open validates the input and returns a single-use page stream. The stream
// is finite and not restartable; re-rasterization re-reads from the source
// bytes via a new Open call.
func (r *Rasterizer) Open(data []byte) (*PageStream, error) {
	if !looksLikePDF(data) {
		return nil, fmt.Errorf("input is not a pdf: %w", models.ErrUnsupportedFormat)
	}

	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("failed to open document: %w: %v", models.ErrUnsupportedFormat, err)
	}

	// Scanned PDFs often have no text layer at all; a probe failure just
	// means every page goes through OCR.
	native := probeTextLayer(data)

	return &PageStream{
		doc:    doc,
		native: native,
		total:  doc.NumPage(),
		opts:   r.opts,
		logger: r.logger,
	}, nil
}

// PageStream yields pages lazily in page order. Single-use.
type PageStream struct {
	doc    *fitz.Document
	native []string
	total  int
	next   int // 0-indexed cursor
	opts   Options
	logger logger.Logger
}

// TotalPages reports the document's page count.
func (s *PageStream) TotalPages() int {
	return s.total
}

// Next renders the next page. The second return value is false once the
// stream is exhausted. A failed page comes back with Err set; rendering
// continues with subsequent pages.
func (s *PageStream) Next() (PageImage, bool) {
	if s.next >= s.total {
		return PageImage{}, false
	}

	idx := s.next
	s.next++
	page := PageImage{Number: idx + 1}

	if idx < len(s.native) {
		page.NativeText = s.native[idx]
	}
	if page.NativeText != "" {
		// Text layer wins; no render needed for OCR.
		return page, true
	}

	img, err := s.doc.ImageDPI(idx, s.opts.DPI)
	if err != nil {
		page.Err = &models.PageError{
			Page: page.Number,
			Err:  fmt.Errorf("%w: %v", models.ErrRender, err),
		}
		s.logger.Warn("Page render failed",
			logger.Int("page", page.Number),
			logger.Error(err),
		)
		return page, true
	}

	page.Image = clamp(img, s.opts.MaxDimension)
	return page, true
}

// Close releases the underlying document.
func (s *PageStream) Close() error {
	return s.doc.Close()
}

// clamp downscales an image whose largest dimension exceeds max.
func clamp(img image.Image, max int) image.Image {
	if max <= 0 {
		return img
	}
	b := img.Bounds()
	if b.Dx() <= max && b.Dy() <= max {
		return img
	}
	return imaging.Fit(img, max, max, imaging.Lanczos)
}

func looksLikePDF(data []byte) bool {
	// The header may be preceded by a small amount of junk per the PDF spec.
	n := 1024
	if len(data) < n {
		n = len(data)
	}
	return bytes.Contains(data[:n], []byte("%PDF-"))
}

// probeTextLayer extracts per-page native text where the PDF has one,
// letting those pages skip the OCR call entirely. Returns nil when the text
// layer is absent or unreadable.
func probeTextLayer(data []byte) []string {
	defer func() {
		// The pdf package panics on some malformed cross-reference tables.
		_ = recover()
	}()

	reader := bytes.NewReader(data)
	pdfReader, err := pdf.NewReader(reader, reader.Size())
	if err != nil {
		return nil
	}

	texts := make([]string, pdfReader.NumPage())
	for i := 1; i <= pdfReader.NumPage(); i++ {
		page := pdfReader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		texts[i-1] = strings.TrimSpace(text)
	}
	return texts
}

// Metadata reads page count and document info without rendering.
func Metadata(data []byte, filename string) (models.Document, error) {
	if !looksLikePDF(data) {
		return models.Document{}, fmt.Errorf("input is not a pdf: %w", models.ErrUnsupportedFormat)
	}

	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return models.Document{}, fmt.Errorf("failed to open document: %w: %v", models.ErrUnsupportedFormat, err)
	}
	defer doc.Close()

	return models.Document{
		Filename: filename,
		Pages:    doc.NumPage(),
		Size:     int64(len(data)),
	}, nil
}
