package ocr

import (
	"context"
	"image"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yifanzh/structpdf/internal/models"
	"github.com/yifanzh/structpdf/pkg/logger"
)

func testImage() image.Image {
	return image.NewGray(image.Rect(0, 0, 4, 4))
}

func newTestGateway(endpoint string, maxAttempts int) *HTTPGateway {
	return NewHTTPGateway(HTTPConfig{
		Endpoint:    endpoint,
		Token:       "test-token",
		Timeout:     2 * time.Second,
		MaxAttempts: maxAttempts,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  5 * time.Millisecond,
	}, logger.NewTestLogger())
}

func TestExtractTextSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "application/octet-stream", r.Header.Get("Content-Type"))
		w.Write([]byte(`{"generated_text": "Hello from OCR"}`))
	}))
	defer srv.Close()

	g := newTestGateway(srv.URL, 3)
	defer g.Close()

	text, err := g.ExtractText(context.Background(), testImage())
	require.NoError(t, err)
	assert.Equal(t, "Hello from OCR", text)
}

func TestExtractTextArrayResponseShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"generated_text": "array shape"}]`))
	}))
	defer srv.Close()

	g := newTestGateway(srv.URL, 3)
	defer g.Close()

	text, err := g.ExtractText(context.Background(), testImage())
	require.NoError(t, err)
	assert.Equal(t, "array shape", text)
}

func TestExtractTextRetriesRateLimiting(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"generated_text": "finally"}`))
	}))
	defer srv.Close()

	g := newTestGateway(srv.URL, 3)
	defer g.Close()

	text, err := g.ExtractText(context.Background(), testImage())
	require.NoError(t, err)
	assert.Equal(t, "finally", text)
	assert.Equal(t, int32(3), calls.Load())
}

func TestExtractTextDoesNotRetryBadInput(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`unsupported image`))
	}))
	defer srv.Close()

	g := newTestGateway(srv.URL, 3)
	defer g.Close()

	_, err := g.ExtractText(context.Background(), testImage())
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrOCRInput)
	assert.Equal(t, int32(1), calls.Load())
}

func TestExtractTextExhaustsRetriesOnServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	g := newTestGateway(srv.URL, 3)
	defer g.Close()

	_, err := g.ExtractText(context.Background(), testImage())
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrOCRUnavailable)
	assert.Equal(t, int32(3), calls.Load())
}

func TestExtractTextInlineErrorField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error": "image too large"}`))
	}))
	defer srv.Close()

	g := newTestGateway(srv.URL, 3)
	defer g.Close()

	_, err := g.ExtractText(context.Background(), testImage())
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrOCRInput)
}

func TestExtractTextHonorsContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	g := newTestGateway(srv.URL, 3)
	defer g.Close()

	_, err := g.ExtractText(ctx, testImage())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
