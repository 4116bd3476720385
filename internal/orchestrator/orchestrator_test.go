package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yifanzh/structpdf/internal/models"
	"github.com/yifanzh/structpdf/internal/raster"
	"github.com/yifanzh/structpdf/pkg/logger"
)

// fakeSource yields fabricated pages; the page number is encoded in the
// image width so the gateway stub can tell pages apart.
type fakeSource struct {
	pages  []raster.PageImage
	cursor int
	closed bool
}

func pageImage(n int) image.Image {
	return image.NewGray(image.Rect(0, 0, n, 1))
}

func newFakeSource(total int) *fakeSource {
	src := &fakeSource{}
	for i := 1; i <= total; i++ {
		src.pages = append(src.pages, raster.PageImage{
			Number: i,
			Image:  pageImage(i),
		})
	}
	return src
}

func (s *fakeSource) TotalPages() int { return len(s.pages) }

func (s *fakeSource) Next() (raster.PageImage, bool) {
	if s.cursor >= len(s.pages) {
		return raster.PageImage{}, false
	}
	p := s.pages[s.cursor]
	s.cursor++
	return p, true
}

func (s *fakeSource) Close() error {
	s.closed = true
	return nil
}

// stubGateway routes each call through fn keyed on the encoded page number.
type stubGateway struct {
	mu    sync.Mutex
	calls int
	fn    func(page int) (string, error)
}

func (g *stubGateway) ExtractText(ctx context.Context, img image.Image) (string, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	return g.fn(img.Bounds().Dx())
}

func (g *stubGateway) Close() error { return nil }

func (g *stubGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func TestRunProcessesAllBatchesInOrder(t *testing.T) {
	src := newFakeSource(7)
	gw := &stubGateway{fn: func(page int) (string, error) {
		return fmt.Sprintf("text of page %d", page), nil
	}}

	var events []models.Progress
	o := New(gw, logger.NewTestLogger(), Config{BatchSize: 5},
		WithProgress(func(p models.Progress) { events = append(events, p) }))

	sections, err := o.Run(context.Background(), src)
	require.NoError(t, err)
	require.Len(t, sections, 7)

	for i, sec := range sections {
		assert.Equal(t, i+1, sec.Page)
		assert.Equal(t, fmt.Sprintf("text of page %d", i+1), sec.Body)
		assert.Empty(t, sec.Err)
	}

	require.Len(t, events, 2)
	assert.Equal(t, models.Progress{PagesCompleted: 5, TotalPages: 7, BatchIndex: 0, TotalBatches: 2}, events[0])
	assert.Equal(t, models.Progress{PagesCompleted: 7, TotalPages: 7, BatchIndex: 1, TotalBatches: 2}, events[1])

	assert.Equal(t, models.StateDone, o.State())
	assert.True(t, src.closed)
}

func TestRunPreservesPageOrderUnderConcurrency(t *testing.T) {
	src := newFakeSource(5)
	gw := &stubGateway{fn: func(page int) (string, error) {
		// Later pages finish first.
		time.Sleep(time.Duration(6-page) * 5 * time.Millisecond)
		return fmt.Sprintf("p%d", page), nil
	}}

	o := New(gw, logger.NewTestLogger(), Config{BatchSize: 5, Concurrency: 5})

	sections, err := o.Run(context.Background(), src)
	require.NoError(t, err)
	require.Len(t, sections, 5)
	for i, sec := range sections {
		assert.Equal(t, i+1, sec.Page)
		assert.Equal(t, fmt.Sprintf("p%d", i+1), sec.Body)
	}
}

func TestRunDegradesOcrInputFailures(t *testing.T) {
	src := newFakeSource(7)
	gw := &stubGateway{fn: func(page int) (string, error) {
		if page == 4 {
			return "", fmt.Errorf("%w: unreadable image", models.ErrOCRInput)
		}
		return "ok", nil
	}}

	o := New(gw, logger.NewTestLogger(), Config{BatchSize: 5})

	sections, err := o.Run(context.Background(), src)
	require.NoError(t, err)
	require.Len(t, sections, 7)

	assert.NotEmpty(t, sections[3].Err)
	assert.Empty(t, sections[3].Body)
	for i, sec := range sections {
		if i == 3 {
			continue
		}
		assert.Equal(t, "ok", sec.Body, "page %d", i+1)
	}
	assert.Equal(t, models.StateDone, o.State())
}

func TestRunDegradesRenderFailures(t *testing.T) {
	src := newFakeSource(3)
	src.pages[1] = raster.PageImage{
		Number: 2,
		Err:    errors.New("render failed: corrupt object stream"),
	}
	gw := &stubGateway{fn: func(page int) (string, error) {
		return "ok", nil
	}}

	o := New(gw, logger.NewTestLogger(), Config{BatchSize: 5})

	sections, err := o.Run(context.Background(), src)
	require.NoError(t, err)
	require.Len(t, sections, 3)
	assert.Contains(t, sections[1].Err, "render failed")
	assert.Equal(t, 2, gw.callCount())
}

func TestRunSkipsOCRForNativeTextPages(t *testing.T) {
	src := newFakeSource(2)
	src.pages[0] = raster.PageImage{Number: 1, NativeText: "embedded text layer"}
	gw := &stubGateway{fn: func(page int) (string, error) {
		return "ocr text", nil
	}}

	o := New(gw, logger.NewTestLogger(), Config{BatchSize: 5})

	sections, err := o.Run(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, "embedded text layer", sections[0].Body)
	assert.True(t, sections[0].Native)
	assert.Equal(t, "ocr text", sections[1].Body)
	assert.Equal(t, 1, gw.callCount())
}

func TestRunDegradesIsolatedOCRExhaustion(t *testing.T) {
	// A single page whose retries are all spent becomes a placeholder; the
	// remaining pages still get processed.
	src := newFakeSource(7)
	gw := &stubGateway{fn: func(page int) (string, error) {
		if page == 4 {
			return "", fmt.Errorf("%w: 3 attempts failed", models.ErrOCRUnavailable)
		}
		return "ok", nil
	}}

	var events []models.Progress
	o := New(gw, logger.NewTestLogger(), Config{BatchSize: 5},
		WithProgress(func(p models.Progress) { events = append(events, p) }))

	sections, err := o.Run(context.Background(), src)
	require.NoError(t, err)
	require.Len(t, sections, 7)

	assert.NotEmpty(t, sections[3].Err)
	assert.Empty(t, sections[3].Body)
	for i, sec := range sections {
		assert.Equal(t, i+1, sec.Page)
		if i != 3 {
			assert.Equal(t, "ok", sec.Body, "page %d", i+1)
		}
	}

	require.Len(t, events, 2)
	assert.Equal(t, 7, events[1].PagesCompleted)
	assert.Equal(t, models.StateDone, o.State())
}

func TestRunAbortsWhenOCRUnavailable(t *testing.T) {
	// Every page from 6 on exhausts its retries; once the streak limit is
	// hit the remaining batches are abandoned.
	src := newFakeSource(12)
	gw := &stubGateway{fn: func(page int) (string, error) {
		if page >= 6 {
			return "", fmt.Errorf("%w: endpoint down", models.ErrOCRUnavailable)
		}
		return "ok", nil
	}}

	var events []models.Progress
	o := New(gw, logger.NewTestLogger(), Config{BatchSize: 5, Concurrency: 1},
		WithProgress(func(p models.Progress) { events = append(events, p) }))

	sections, err := o.Run(context.Background(), src)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrOCRUnavailable)
	assert.Equal(t, models.StateFailed, o.State())

	// Both processed batches contribute sections, the exhausted pages as
	// placeholders; pages 11-12 are never touched.
	require.Len(t, sections, 10)
	for i, sec := range sections {
		assert.Equal(t, i+1, sec.Page)
		if sec.Page >= 6 {
			assert.NotEmpty(t, sec.Err)
		}
	}
	require.Len(t, events, 1)
	assert.Equal(t, 5, events[0].PagesCompleted)
}

func TestRunTracksExhaustionStreakAcrossBatches(t *testing.T) {
	// Pages 4-6 exhaust their retries: two at the end of batch one, one at
	// the start of batch two. The streak crosses the boundary and trips the
	// limit of 3.
	src := newFakeSource(7)
	gw := &stubGateway{fn: func(page int) (string, error) {
		if page >= 4 && page <= 6 {
			return "", fmt.Errorf("%w: endpoint down", models.ErrOCRUnavailable)
		}
		return "ok", nil
	}}

	o := New(gw, logger.NewTestLogger(), Config{BatchSize: 5, Concurrency: 1})

	sections, err := o.Run(context.Background(), src)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrOCRUnavailable)
	require.Len(t, sections, 7)
	assert.Equal(t, models.StateFailed, o.State())
}

func TestRunReportsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	src := newFakeSource(5)
	gw := &stubGateway{fn: func(page int) (string, error) {
		cancel()
		return "", ctx.Err()
	}}

	o := New(gw, logger.NewTestLogger(), Config{BatchSize: 5, Concurrency: 1})

	_, err := o.Run(ctx, src)
	require.Error(t, err)
	assert.Equal(t, models.StateCancelled, o.State())
}
