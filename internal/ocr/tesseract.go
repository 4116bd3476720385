package ocr

import (
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/otiai10/gosseract/v2"

	"github.com/yifanzh/structpdf/internal/models"
	"github.com/yifanzh/structpdf/pkg/logger"
)

// TesseractGateway runs OCR locally. Useful when no hosted endpoint is
// configured; no network, so nothing is ever "unavailable" transiently.
type TesseractGateway struct {
	mu     sync.Mutex // gosseract clients are not safe for concurrent use
	client *gosseract.Client
	maxDim int
	logger logger.Logger
}

func NewTesseractGateway(languages []string, maxDim int, log logger.Logger) (*TesseractGateway, error) {
	client := gosseract.NewClient()
	if len(languages) == 0 {
		languages = []string{"eng"}
	}
	if err := client.SetLanguage(languages...); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to set tesseract language: %w", err)
	}
	if maxDim <= 0 {
		maxDim = 2000
	}
	return &TesseractGateway{
		client: client,
		maxDim: maxDim,
		logger: log,
	}, nil
}

func (g *TesseractGateway) ExtractText(ctx context.Context, img image.Image) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	data, err := encodePNG(preprocess(img, g.maxDim))
	if err != nil {
		return "", fmt.Errorf("%w: encode image: %v", models.ErrOCRInput, err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.client.SetImageFromBytes(data); err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrOCRInput, err)
	}

	text, err := g.client.Text()
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrOCRInput, err)
	}
	return text, nil
}

func (g *TesseractGateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.client.Close()
}

// preprocess grayscales and clamps the render before recognition; tesseract
// does markedly better on grayscale input.
func preprocess(img image.Image, maxDim int) image.Image {
	out := imaging.Grayscale(img)
	b := out.Bounds()
	if maxDim > 0 && (b.Dx() > maxDim || b.Dy() > maxDim) {
		return imaging.Fit(out, maxDim, maxDim, imaging.Lanczos)
	}
	return out
}
