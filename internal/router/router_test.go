package router

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/doc-ingest/internal/domain"
	"github.com/spherical/doc-ingest/internal/observability"
	"github.com/spherical/doc-ingest/internal/workpool"
)

type stubEngine struct {
	name  string
	calls int32
	fn    func(ctx context.Context, page domain.PageImage) (domain.Extraction, error)
}

func (s *stubEngine) Name() string { return s.name }

func (s *stubEngine) Extract(ctx context.Context, page domain.PageImage) (domain.Extraction, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.fn != nil {
		return s.fn(ctx, page)
	}
	return domain.Extraction{Success: true, Text: fmt.Sprintf("%s %d", s.name, page.Number), Confidence: 0.9}, nil
}

func pagesN(n int) ([]domain.PageImage, []domain.ClassificationResult) {
	pages := make([]domain.PageImage, n)
	cls := make([]domain.ClassificationResult, n)
	for i := range pages {
		pages[i] = domain.PageImage{Number: i + 1, SourcePage: i + 1}
		cls[i] = domain.ClassificationResult{Page: i + 1, Label: domain.LabelProse}
	}
	return pages, cls
}

func TestRoute_ByLabel(t *testing.T) {
	prose := &stubEngine{name: "prose"}
	diagram := &stubEngine{name: "diagram"}
	r := New(prose, diagram, workpool.New(2), time.Second, observability.Nop())

	p := r.Route(context.Background(), domain.PageImage{Number: 1}, domain.ClassificationResult{Label: domain.LabelDiagram, Score: 0.4})
	assert.True(t, p.Success)
	assert.Equal(t, "diagram 1", p.Text)
	assert.Equal(t, domain.LabelDiagram, p.Label)
	assert.Equal(t, 0.4, p.Score)

	p = r.Route(context.Background(), domain.PageImage{Number: 2}, domain.ClassificationResult{Label: domain.LabelProse})
	assert.Equal(t, "prose 2", p.Text)

	assert.Equal(t, int32(1), prose.calls)
	assert.Equal(t, int32(1), diagram.calls)
}

func TestRoute_FailureRecordedOnPage(t *testing.T) {
	failing := &stubEngine{name: "prose", fn: func(ctx context.Context, page domain.PageImage) (domain.Extraction, error) {
		return domain.Extraction{}, errors.New("HTTP 500")
	}}
	r := New(failing, failing, workpool.New(1), time.Second, observability.Nop())

	p := r.Route(context.Background(), domain.PageImage{Number: 7}, domain.ClassificationResult{Label: domain.LabelProse})
	assert.False(t, p.Success)
	assert.Empty(t, p.Text)
	assert.Zero(t, p.Confidence)
	assert.Equal(t, 7, p.Number)
	assert.Equal(t, "HTTP 500", p.Error)
}

func TestRoute_UnsuccessfulExtraction(t *testing.T) {
	eng := &stubEngine{name: "prose", fn: func(ctx context.Context, page domain.PageImage) (domain.Extraction, error) {
		return domain.Extraction{Success: false, Error: "malformed output"}, nil
	}}
	r := New(eng, eng, workpool.New(1), 0, observability.Nop())

	p := r.Route(context.Background(), domain.PageImage{Number: 1}, domain.ClassificationResult{})
	assert.False(t, p.Success)
	assert.Contains(t, p.Error, "malformed output")
}

func TestRoute_Timeout(t *testing.T) {
	slow := &stubEngine{name: "prose", fn: func(ctx context.Context, page domain.PageImage) (domain.Extraction, error) {
		<-ctx.Done()
		return domain.Extraction{}, ctx.Err()
	}}
	r := New(slow, slow, workpool.New(1), 20*time.Millisecond, observability.Nop())

	start := time.Now()
	p := r.Route(context.Background(), domain.PageImage{Number: 3}, domain.ClassificationResult{})
	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, p.Success)
	assert.Contains(t, p.Error, "deadline exceeded")
}

func TestRouteAll_OnePageFailsOthersSucceed(t *testing.T) {
	eng := &stubEngine{name: "prose", fn: func(ctx context.Context, page domain.PageImage) (domain.Extraction, error) {
		if page.Number == 3 {
			<-ctx.Done()
			return domain.Extraction{}, ctx.Err()
		}
		return domain.Extraction{Success: true, Text: fmt.Sprintf("text %d", page.Number)}, nil
	}}
	r := New(eng, eng, workpool.New(3), 30*time.Millisecond, observability.Nop())
	pages, cls := pagesN(5)

	var calls []int
	out, err := r.RouteAll(context.Background(), eng, pages, cls, func(done, total int) {
		assert.Equal(t, 5, total)
		calls = append(calls, done)
	})
	require.NoError(t, err)
	require.Len(t, out, 5)

	for i, p := range out {
		assert.Equal(t, i+1, p.Number)
		if p.Number == 3 {
			assert.False(t, p.Success)
			continue
		}
		assert.True(t, p.Success)
		assert.Equal(t, fmt.Sprintf("text %d", p.Number), p.Text)
	}
	assert.Equal(t, []int{1, 2, 3, 4, 5}, calls)
}

func TestRouteAll_RespectsPoolSize(t *testing.T) {
	var inFlight, peak int32
	eng := &stubEngine{name: "prose", fn: func(ctx context.Context, page domain.PageImage) (domain.Extraction, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return domain.Extraction{Success: true}, nil
	}}
	r := New(eng, eng, workpool.New(2), 0, observability.Nop())
	pages, cls := pagesN(8)

	_, err := r.RouteAll(context.Background(), eng, pages, cls, nil)
	require.NoError(t, err)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestRouteAll_Cancelled(t *testing.T) {
	eng := &stubEngine{name: "prose"}
	r := New(eng, eng, workpool.New(1), 0, observability.Nop())
	pages, cls := pagesN(3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.RouteAll(ctx, eng, pages, cls, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
