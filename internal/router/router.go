// Package router dispatches classified pages to the matching extraction
// engine.
package router

import (
	"context"
	"sync"
	"time"

	"github.com/spherical/doc-ingest/internal/domain"
	"github.com/spherical/doc-ingest/internal/observability"
	"github.com/spherical/doc-ingest/internal/workpool"
)

// Router routes pages by label. It holds no per-job state and may be shared.
type Router struct {
	prose   domain.Engine
	diagram domain.Engine
	timeout time.Duration
	pool    *workpool.Pool
	logger  *observability.Logger
}

// New creates a router. timeout bounds each engine call; zero disables it.
func New(prose, diagram domain.Engine, pool *workpool.Pool, timeout time.Duration, logger *observability.Logger) *Router {
	return &Router{
		prose:   prose,
		diagram: diagram,
		timeout: timeout,
		pool:    pool,
		logger:  logger.WithComponent("router"),
	}
}

// EngineFor returns the engine responsible for label.
func (r *Router) EngineFor(label domain.Label) domain.Engine {
	if label == domain.LabelDiagram {
		return r.diagram
	}
	return r.prose
}

// Route extracts one page with the engine for cls.Label. Engine failures
// are recorded on the returned page and never returned as errors.
func (r *Router) Route(ctx context.Context, page domain.PageImage, cls domain.ClassificationResult) domain.Page {
	return r.extract(ctx, r.EngineFor(cls.Label), page, cls)
}

// RouteAll extracts pages concurrently through the shared pool using eng
// for every page. Results are in input order. The only error returned is
// the parent context's.
func (r *Router) RouteAll(ctx context.Context, eng domain.Engine, pages []domain.PageImage, cls []domain.ClassificationResult, progress func(done, total int)) ([]domain.Page, error) {
	out := make([]domain.Page, len(pages))

	var mu sync.Mutex
	done := 0

	err := r.pool.ForEach(ctx, len(pages), func(ctx context.Context, i int) error {
		out[i] = r.extract(ctx, eng, pages[i], cls[i])

		mu.Lock()
		done++
		if progress != nil {
			progress(done, len(pages))
		}
		mu.Unlock()
		return ctx.Err()
	})
	if err != nil {
		return out, err
	}
	return out, nil
}

func (r *Router) extract(ctx context.Context, eng domain.Engine, page domain.PageImage, cls domain.ClassificationResult) domain.Page {
	result := domain.Page{
		Number:     page.Number,
		SourcePage: page.SourcePage,
		Label:      cls.Label,
		Score:      cls.Score,
		Reference:  cls.Reference,
		Blank:      cls.Blank,
		Method:     eng.Name(),
	}

	callCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	ext, err := eng.Extract(callCtx, page)
	result.Duration = time.Since(start)

	if err == nil && !ext.Success {
		err = domain.ExtractionError(ext.Error, nil)
	}
	if err != nil {
		result.Error = err.Error()

		r.logger.Warn().
			Int("page", page.Number).
			Str("engine", eng.Name()).
			Dur("duration", result.Duration).
			Err(domain.PageExtractionError(page.Number, err)).
			Msg("Page extraction failed")
		return result
	}

	result.Success = true
	result.Text = ext.Text
	result.Confidence = ext.Confidence
	result.Usage = ext.Usage
	if ext.Method != "" {
		result.Method = ext.Method
	}

	r.logger.Debug().
		Int("page", page.Number).
		Str("engine", eng.Name()).
		Float64("confidence", ext.Confidence).
		Int("chars", len(ext.Text)).
		Dur("duration", result.Duration).
		Msg("Page extracted")
	return result
}
