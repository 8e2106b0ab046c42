// Package fallback decides between classified routing and the all-diagram
// fallback workflow, and drives extraction for a document.
package fallback

import (
	"context"
	"fmt"
	"sort"

	"github.com/spherical/doc-ingest/internal/domain"
	"github.com/spherical/doc-ingest/internal/jobs"
	"github.com/spherical/doc-ingest/internal/observability"
	"github.com/spherical/doc-ingest/internal/router"
	"github.com/spherical/doc-ingest/internal/workpool"
)

// MethodSkipped marks blank pages that were not sent to an engine.
const MethodSkipped = "skipped_blank"

// Classifier labels pages. *classify.Classifier implements it.
type Classifier interface {
	ClassifyAll(ctx context.Context, pages []domain.PageImage, pool *workpool.Pool, progress func(done, total int)) ([]domain.ClassificationResult, error)
}

// Reporter receives progress within a stage.
type Reporter func(stage jobs.Stage, sub float64, msg string)

// Options controls routing behavior.
type Options struct {
	SkipBlankPages bool
}

// Routed is the extraction output of one document.
type Routed struct {
	Pages    []domain.Page // ascending page number
	Workflow domain.WorkflowType
}

// Controller runs classification then extraction for one document at a time.
// It is stateless between calls.
type Controller struct {
	classifier Classifier
	router     *router.Router
	pool       *workpool.Pool
	opts       Options
	logger     *observability.Logger
}

// New creates a controller.
func New(classifier Classifier, r *router.Router, pool *workpool.Pool, opts Options, logger *observability.Logger) *Controller {
	return &Controller{
		classifier: classifier,
		router:     r,
		pool:       pool,
		opts:       opts,
		logger:     logger.WithComponent("fallback"),
	}
}

// Run classifies pages and extracts them. A classifier failure other than
// context cancellation switches to the fallback workflow; only ctx errors
// are returned.
func (c *Controller) Run(ctx context.Context, pages []domain.PageImage, report Reporter) (*Routed, error) {
	if report == nil {
		report = func(jobs.Stage, float64, string) {}
	}
	logger := c.logger.WithContext(ctx)

	report(jobs.StageSeparate, 0, "Classifying pages")
	results, err := c.classifier.ClassifyAll(ctx, pages, c.pool, func(done, total int) {
		report(jobs.StageSeparate, jobs.Fraction(done, total), fmt.Sprintf("Classified %d/%d pages", done, total))
	})
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if err != nil {
		logger.Warn().Err(err).Int("pages", len(pages)).Msg("Classification unavailable, routing all pages to diagram OCR")
		return c.runFallback(ctx, pages, report)
	}
	report(jobs.StageSeparate, 1, "Classification complete")

	return c.runPrimary(ctx, pages, results, report)
}

func (c *Controller) runPrimary(ctx context.Context, pages []domain.PageImage, results []domain.ClassificationResult, report Reporter) (*Routed, error) {
	var (
		prosePages, diagramPages []domain.PageImage
		proseCls, diagramCls     []domain.ClassificationResult
		out                      []domain.Page
	)

	for i, p := range pages {
		cls := results[i]
		if cls.Blank && c.opts.SkipBlankPages {
			out = append(out, skippedPage(p, cls))
			continue
		}
		if cls.Label == domain.LabelDiagram {
			diagramPages = append(diagramPages, p)
			diagramCls = append(diagramCls, cls)
		} else {
			prosePages = append(prosePages, p)
			proseCls = append(proseCls, cls)
		}
	}

	c.logger.WithContext(ctx).Info().
		Int("prose", len(prosePages)).
		Int("diagram", len(diagramPages)).
		Int("skipped", len(out)).
		Msg("Pages routed")

	report(jobs.StageExtractText, 0, fmt.Sprintf("Extracting %d prose pages", len(prosePages)))
	prose, err := c.router.RouteAll(ctx, c.router.EngineFor(domain.LabelProse), prosePages, proseCls, func(done, total int) {
		report(jobs.StageExtractText, jobs.Fraction(done, total), fmt.Sprintf("Extracted %d/%d prose pages", done, total))
	})
	if err != nil {
		return nil, err
	}
	report(jobs.StageExtractText, 1, "Prose extraction complete")
	out = append(out, prose...)

	report(jobs.StageExtractDiagrams, 0, fmt.Sprintf("Extracting %d diagram pages", len(diagramPages)))
	diagrams, err := c.router.RouteAll(ctx, c.router.EngineFor(domain.LabelDiagram), diagramPages, diagramCls, func(done, total int) {
		report(jobs.StageExtractDiagrams, jobs.Fraction(done, total), fmt.Sprintf("Extracted %d/%d diagram pages", done, total))
	})
	if err != nil {
		return nil, err
	}
	report(jobs.StageExtractDiagrams, 1, "Diagram extraction complete")
	out = append(out, diagrams...)

	sortPages(out)
	return &Routed{Pages: out, Workflow: domain.WorkflowPrimary}, nil
}

func (c *Controller) runFallback(ctx context.Context, pages []domain.PageImage, report Reporter) (*Routed, error) {
	cls := make([]domain.ClassificationResult, len(pages))
	for i, p := range pages {
		cls[i] = domain.ClassificationResult{Page: p.Number, Label: domain.LabelDiagram}
	}
	report(jobs.StageSeparate, 1, "Classification unavailable, using fallback workflow")

	report(jobs.StageExtractDiagrams, 0, fmt.Sprintf("Extracting %d pages with diagram OCR", len(pages)))
	out, err := c.router.RouteAll(ctx, c.router.EngineFor(domain.LabelDiagram), pages, cls, func(done, total int) {
		report(jobs.StageExtractDiagrams, jobs.Fraction(done, total), fmt.Sprintf("Extracted %d/%d pages", done, total))
	})
	if err != nil {
		return nil, err
	}
	report(jobs.StageExtractDiagrams, 1, "Fallback extraction complete")

	sortPages(out)
	return &Routed{Pages: out, Workflow: domain.WorkflowFallback}, nil
}

func skippedPage(p domain.PageImage, cls domain.ClassificationResult) domain.Page {
	return domain.Page{
		Number:     p.Number,
		SourcePage: p.SourcePage,
		Label:      cls.Label,
		Score:      cls.Score,
		Reference:  cls.Reference,
		Blank:      true,
		Skipped:    true,
		Method:     MethodSkipped,
	}
}

func sortPages(pages []domain.Page) {
	sort.Slice(pages, func(i, j int) bool { return pages[i].Number < pages[j].Number })
}
