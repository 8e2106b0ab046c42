// Package pipeline drives a document from submission to a combined result.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spherical/doc-ingest/internal/combine"
	"github.com/spherical/doc-ingest/internal/domain"
	"github.com/spherical/doc-ingest/internal/fallback"
	"github.com/spherical/doc-ingest/internal/jobs"
	"github.com/spherical/doc-ingest/internal/observability"
	"github.com/spherical/doc-ingest/internal/workpool"
)

const maxErrorDetail = 160

// Extractor classifies and extracts rendered pages. *fallback.Controller
// implements it.
type Extractor interface {
	Run(ctx context.Context, pages []domain.PageImage, report fallback.Reporter) (*fallback.Routed, error)
}

// Options configures the orchestrator.
type Options struct {
	// PagesDir, when set, receives one text file per extracted page under a
	// directory named after the job id.
	PagesDir string
}

// Orchestrator owns the lifecycle of every job it starts. Each job is
// written only by the goroutine processing it.
type Orchestrator struct {
	store      jobs.Store
	rasterizer domain.Rasterizer
	extractor  Extractor
	combiner   *combine.Combiner
	pool       *workpool.Pool
	opts       Options
	logger     *observability.Logger

	wg      sync.WaitGroup
	baseCtx context.Context
	cancel  context.CancelFunc
}

// New creates an orchestrator.
func New(store jobs.Store, rasterizer domain.Rasterizer, extractor Extractor, combiner *combine.Combiner, pool *workpool.Pool, opts Options, logger *observability.Logger) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		store:      store,
		rasterizer: rasterizer,
		extractor:  extractor,
		combiner:   combiner,
		pool:       pool,
		opts:       opts,
		logger:     logger.WithComponent("pipeline"),
		baseCtx:    ctx,
		cancel:     cancel,
	}
}

// Store returns the job store.
func (o *Orchestrator) Store() jobs.Store {
	return o.store
}

// Submit registers a job for pdfPath and processes it in the background.
// It returns the job id as soon as the job is stored.
func (o *Orchestrator) Submit(ctx context.Context, pdfPath string) (string, error) {
	job, err := o.create(ctx)
	if err != nil {
		return "", err
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.process(o.baseCtx, job.ID, pdfPath)
	}()
	return job.ID, nil
}

// Run processes pdfPath synchronously and returns the final job.
func (o *Orchestrator) Run(ctx context.Context, pdfPath string) (*jobs.Job, error) {
	job, err := o.create(ctx)
	if err != nil {
		return nil, err
	}

	o.wg.Add(1)
	o.process(ctx, job.ID, pdfPath)
	o.wg.Done()

	return o.store.Get(context.WithoutCancel(ctx), job.ID)
}

// Status returns the poller view of a job.
func (o *Orchestrator) Status(ctx context.Context, id string) (jobs.StatusView, error) {
	job, err := o.store.Get(ctx, id)
	if err != nil {
		return jobs.StatusView{}, err
	}
	return job.View(), nil
}

// Job returns the full job record.
func (o *Orchestrator) Job(ctx context.Context, id string) (*jobs.Job, error) {
	return o.store.Get(ctx, id)
}

// Wait blocks until every in-flight job has finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Shutdown waits for in-flight jobs. If ctx ends first the jobs are
// cancelled, recorded as failed, and Shutdown returns ctx.Err().
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		o.cancel()
		return nil
	case <-ctx.Done():
		o.cancel()
		<-done
		return ctx.Err()
	}
}

func (o *Orchestrator) create(ctx context.Context) (*jobs.Job, error) {
	job := jobs.NewJob(time.Now().UTC())
	if err := o.store.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	return job, nil
}

// process runs every stage for one job. All job writes go through the
// tracker, which outlives ctx cancellation so failures are recorded.
func (o *Orchestrator) process(ctx context.Context, id, pdfPath string) {
	ctx = observability.ContextWithJobID(ctx, id)
	writeCtx := context.WithoutCancel(ctx)
	logger := o.logger.WithJob(id)
	tracker := jobs.NewTracker(o.store, id, o.logger)
	start := time.Now()

	advance := func(stage jobs.Stage, sub float64, msg string) {
		if err := tracker.Advance(writeCtx, stage, sub, msg); err != nil {
			logger.Warn().Err(err).Str("stage", string(stage)).Msg("Failed to record progress")
		}
	}
	fail := func(cause error, diags []domain.PageDiagnostic) {
		if err := tracker.Fail(writeCtx, cause, diags); err != nil {
			logger.Error().Err(err).Msg("Failed to record job failure")
		}
	}

	if err := tracker.Start(writeCtx, fileInfo(pdfPath)); err != nil {
		logger.Error().Err(err).Msg("Failed to start job")
		return
	}
	logger.Info().Str("file", pdfPath).Msg("Processing document")

	// analyze
	advance(jobs.StageAnalyze, 0, "Rendering pages")
	var doc *domain.Document
	err := o.pool.Do(ctx, func(ctx context.Context) error {
		var rerr error
		doc, rerr = o.rasterizer.Rasterize(ctx, pdfPath, func(done, total int) {
			advance(jobs.StageAnalyze, jobs.Fraction(done, total), fmt.Sprintf("Rendered %d/%d pages", done, total))
		})
		return rerr
	})
	if err != nil {
		fail(err, nil)
		return
	}
	if err := tracker.SetPageCount(writeCtx, doc.PageCount); err != nil {
		logger.Warn().Err(err).Msg("Failed to record page count")
	}
	if len(doc.Skipped) > 0 {
		logger.Warn().Ints("source_pages", doc.Skipped).Msg("Pages skipped during rendering")
	}
	advance(jobs.StageAnalyze, 1, fmt.Sprintf("Rendered %d pages", len(doc.Pages)))

	// separate + extract
	routed, err := o.extractor.Run(ctx, doc.Pages, advance)
	if err != nil {
		fail(err, nil)
		return
	}

	diags := make([]domain.PageDiagnostic, len(routed.Pages))
	for i, p := range routed.Pages {
		diags[i] = p.Diagnostic()
	}

	if err := zeroYield(routed.Pages); err != nil {
		fail(err, diags)
		return
	}

	// combine
	advance(jobs.StageCombine, 0, "Combining results")
	outcome := o.combiner.Combine(routed.Pages, routed.Workflow)
	advance(jobs.StageCombine, 1, "Results combined")

	// finalize
	advance(jobs.StageFinalize, 0, "Finalizing")
	if o.opts.PagesDir != "" {
		if err := writePages(filepath.Join(o.opts.PagesDir, id), routed.Pages); err != nil {
			logger.Warn().Err(err).Str("dir", o.opts.PagesDir).Msg("Failed to write page texts")
		}
	}

	if err := tracker.Complete(writeCtx, outcome, diags); err != nil {
		logger.Error().Err(err).Msg("Failed to record job result")
		return
	}
	logger.Info().Dur("duration", time.Since(start)).Msg("Document processed")
}

func fileInfo(path string) *domain.FileInfo {
	info := &domain.FileInfo{Name: filepath.Base(path), Path: path}
	if st, err := os.Stat(path); err == nil {
		info.SizeBytes = st.Size()
	}
	return info
}

// zeroYield returns ErrZeroYield when no attempted page produced text.
func zeroYield(pages []domain.Page) error {
	var attempted, failed []domain.Page
	for _, p := range pages {
		if p.Skipped {
			continue
		}
		attempted = append(attempted, p)
		if p.Success {
			return nil
		}
		failed = append(failed, p)
	}

	if len(attempted) == 0 {
		return domain.ZeroYieldError(fmt.Sprintf("all %d pages were blank", len(pages)))
	}

	details := make([]string, len(failed))
	for i, p := range failed {
		details[i] = fmt.Sprintf("page %d: %s", p.Number, clip(p.Error, maxErrorDetail))
	}
	return domain.ZeroYieldError(fmt.Sprintf("all %d pages failed extraction: %s", len(attempted), strings.Join(details, "; ")))
}

func writePages(dir string, pages []domain.Page) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	var errs []error
	for _, p := range pages {
		if !p.Success {
			continue
		}
		name := filepath.Join(dir, fmt.Sprintf("page_%03d_%s.txt", p.Number, p.Label))
		if err := os.WriteFile(name, []byte(p.Text), 0o644); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
