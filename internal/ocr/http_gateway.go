package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/yifanzh/structpdf/internal/models"
	"github.com/yifanzh/structpdf/pkg/logger"
)

// HTTPConfig configures the hosted-inference backend.
type HTTPConfig struct {
	Endpoint    string
	Token       string
	Timeout     time.Duration // per call; cold starts on the first call can be slow
	MaxAttempts int           // total attempts before ErrOCRUnavailable
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// inferenceResponse covers both the object and single-element-array shapes
// the inference endpoint returns.
type inferenceResponse struct {
	GeneratedText string `json:"generated_text"`
	Error         string `json:"error,omitempty"`
}

// HTTPGateway posts raw image bytes to a hosted OCR model endpoint.
type HTTPGateway struct {
	cfg        HTTPConfig
	httpClient *http.Client
	logger     logger.Logger
}

func NewHTTPGateway(cfg HTTPConfig, log logger.Logger) *HTTPGateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	return &HTTPGateway{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: log,
	}
}

// ExtractText sends one image and returns the extracted text. Transient
// failures (rate limiting, 5xx, timeouts) are retried with exponential
// backoff up to MaxAttempts; semantic failures surface immediately.
func (g *HTTPGateway) ExtractText(ctx context.Context, img image.Image) (string, error) {
	data, err := encodePNG(img)
	if err != nil {
		return "", fmt.Errorf("%w: encode image: %v", models.ErrOCRInput, err)
	}

	var lastErr error
	for attempt := 1; attempt <= g.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := g.backoff(attempt - 1)
			g.logger.Warn("Retrying OCR call",
				logger.Int("attempt", attempt),
				logger.Duration("delay", delay),
				logger.Error(lastErr),
			)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		text, err := g.call(ctx, data)
		if err == nil {
			return text, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if !isTransient(err) {
			return "", err
		}
		lastErr = err
	}

	return "", fmt.Errorf("%w: %d attempts failed: %v", models.ErrOCRUnavailable, g.cfg.MaxAttempts, lastErr)
}

func (g *HTTPGateway) call(ctx context.Context, data []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.Endpoint, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	if g.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+g.cfg.Token)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", &transientError{fmt.Errorf("request failed: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &transientError{fmt.Errorf("failed to read response: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return decodeGeneratedText(body)
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", &transientError{fmt.Errorf("rate limited: %s", body)}
	case resp.StatusCode == http.StatusRequestTimeout:
		return "", &transientError{fmt.Errorf("request timeout: %s", body)}
	case resp.StatusCode >= 500:
		return "", &transientError{fmt.Errorf("server error %d: %s", resp.StatusCode, body)}
	default:
		// 4xx other than 408/429: the input itself was rejected.
		return "", fmt.Errorf("%w: status %d: %s", models.ErrOCRInput, resp.StatusCode, body)
	}
}

func decodeGeneratedText(body []byte) (string, error) {
	var single inferenceResponse
	if err := json.Unmarshal(body, &single); err == nil {
		if single.Error != "" {
			return "", fmt.Errorf("%w: %s", models.ErrOCRInput, single.Error)
		}
		return single.GeneratedText, nil
	}

	var multi []inferenceResponse
	if err := json.Unmarshal(body, &multi); err == nil && len(multi) > 0 {
		return multi[0].GeneratedText, nil
	}

	return "", &transientError{fmt.Errorf("unexpected response shape: %.200s", body)}
}

func (g *HTTPGateway) backoff(n int) time.Duration {
	d := time.Duration(float64(g.cfg.BaseBackoff) * math.Pow(2, float64(n-1)))
	if d > g.cfg.MaxBackoff {
		d = g.cfg.MaxBackoff
	}
	return d
}

func (g *HTTPGateway) Close() error {
	g.httpClient.CloseIdleConnections()
	return nil
}

// transientError marks failures worth retrying.
type transientError struct {
	err error
}

func (e *transientError) Error() string {
	return e.err.Error()
}

func (e *transientError) Unwrap() error {
	return e.err
}

func isTransient(err error) bool {
	var t *transientError
	return errors.As(err, &t)
}
