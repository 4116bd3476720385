package ocr

import (
	"bytes"
	"context"
	"image"
	"image/png"

	"github.com/yifanzh/structpdf/pkg/logger"
)

// Gateway is the narrow interface to an external OCR capability: one raster
// image in, extracted text out. Implementations own timeout and retry
// semantics and classify failures as ErrOCRInput (semantic, never retried)
// or ErrOCRUnavailable (after retry exhaustion).
type Gateway interface {
	ExtractText(ctx context.Context, img image.Image) (string, error)
	Close() error
}

// Backend names accepted by NewGateway.
const (
	BackendHTTP      = "http"
	BackendTextract  = "textract"
	BackendTesseract = "tesseract"
)

// GatewayConfig selects and configures a backend.
type GatewayConfig struct {
	Backend  string
	HTTP     HTTPConfig
	Textract TextractConfig
	Language []string // tesseract languages
	MaxDim   int      // tesseract preprocessing clamp
}

// NewGateway builds the configured OCR backend.
func NewGateway(ctx context.Context, cfg GatewayConfig, log logger.Logger) (Gateway, error) {
	switch cfg.Backend {
	case BackendTextract:
		return NewTextractGateway(ctx, cfg.Textract, log)
	case BackendTesseract:
		return NewTesseractGateway(cfg.Language, cfg.MaxDim, log)
	default:
		return NewHTTPGateway(cfg.HTTP, log), nil
	}
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
