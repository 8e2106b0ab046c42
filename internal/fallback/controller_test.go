package fallback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/doc-ingest/internal/domain"
	"github.com/spherical/doc-ingest/internal/jobs"
	"github.com/spherical/doc-ingest/internal/observability"
	"github.com/spherical/doc-ingest/internal/router"
	"github.com/spherical/doc-ingest/internal/workpool"
)

type fakeClassifier struct {
	labels []domain.Label
	blank  map[int]bool
	err    error
}

func (f *fakeClassifier) ClassifyAll(ctx context.Context, pages []domain.PageImage, pool *workpool.Pool, progress func(done, total int)) ([]domain.ClassificationResult, error) {
	out := make([]domain.ClassificationResult, len(pages))
	for i, p := range pages {
		out[i] = domain.ClassificationResult{Page: p.Number, Label: domain.LabelProse}
	}
	if f.err != nil {
		return out, f.err
	}
	for i, p := range pages {
		out[i].Label = f.labels[i]
		out[i].Blank = f.blank[p.Number]
		if progress != nil {
			progress(i+1, len(pages))
		}
	}
	return out, nil
}

type recordingEngine struct {
	name string
	mu   sync.Mutex
	seen []int
}

func (e *recordingEngine) Name() string { return e.name }

func (e *recordingEngine) Extract(ctx context.Context, page domain.PageImage) (domain.Extraction, error) {
	e.mu.Lock()
	e.seen = append(e.seen, page.Number)
	e.mu.Unlock()
	return domain.Extraction{Success: true, Text: fmt.Sprintf("%s:%d", e.name, page.Number), Confidence: 0.9}, nil
}

func (e *recordingEngine) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.seen)
}

type progressLog struct {
	mu      sync.Mutex
	stages  []jobs.Stage
	highest int
	regress bool
}

func (p *progressLog) report(stage jobs.Stage, sub float64, _ string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v := jobs.ProgressFor(stage, sub)
	if v < p.highest {
		p.regress = true
	}
	p.highest = max(p.highest, v)
	if len(p.stages) == 0 || p.stages[len(p.stages)-1] != stage {
		p.stages = append(p.stages, stage)
	}
}

func setup(cls Classifier, opts Options) (*Controller, *recordingEngine, *recordingEngine) {
	prose := &recordingEngine{name: "prose"}
	diagram := &recordingEngine{name: "diagram"}
	pool := workpool.New(3)
	r := router.New(prose, diagram, pool, time.Second, observability.Nop())
	return New(cls, r, pool, opts, observability.Nop()), prose, diagram
}

func pages(n int) []domain.PageImage {
	out := make([]domain.PageImage, n)
	for i := range out {
		out[i] = domain.PageImage{Number: i + 1, SourcePage: i + 1}
	}
	return out
}

func TestRun_PrimaryRoutesByLabel(t *testing.T) {
	cls := &fakeClassifier{labels: []domain.Label{
		domain.LabelProse, domain.LabelDiagram, domain.LabelProse, domain.LabelProse, domain.LabelDiagram,
	}}
	c, prose, diagram := setup(cls, Options{})
	log := &progressLog{}

	routed, err := c.Run(context.Background(), pages(5), log.report)
	require.NoError(t, err)

	assert.Equal(t, domain.WorkflowPrimary, routed.Workflow)
	assert.Equal(t, 3, prose.count())
	assert.Equal(t, 2, diagram.count())

	require.Len(t, routed.Pages, 5)
	for i, p := range routed.Pages {
		assert.Equal(t, i+1, p.Number)
		assert.True(t, p.Success)
	}
	assert.Equal(t, "diagram:2", routed.Pages[1].Text)
	assert.Equal(t, "prose:3", routed.Pages[2].Text)

	assert.False(t, log.regress)
	assert.Equal(t, []jobs.Stage{jobs.StageSeparate, jobs.StageExtractText, jobs.StageExtractDiagrams}, log.stages)
	assert.Equal(t, 85, log.highest)
}

func TestRun_ClassificationUnavailableFallsBack(t *testing.T) {
	cls := &fakeClassifier{err: domain.ClassificationUnavailableError("no reference exemplars loaded", nil)}
	c, prose, diagram := setup(cls, Options{SkipBlankPages: true})
	log := &progressLog{}

	routed, err := c.Run(context.Background(), pages(5), log.report)
	require.NoError(t, err)

	assert.Equal(t, domain.WorkflowFallback, routed.Workflow)
	assert.Zero(t, prose.count())
	assert.Equal(t, 5, diagram.count())
	for _, p := range routed.Pages {
		assert.Equal(t, domain.LabelDiagram, p.Label)
		assert.True(t, p.Success)
	}
	assert.False(t, log.regress)
}

func TestRun_OtherClassifierErrorAlsoFallsBack(t *testing.T) {
	c, _, diagram := setup(&fakeClassifier{err: errors.New("feature extraction crashed")}, Options{})

	routed, err := c.Run(context.Background(), pages(2), nil)
	require.NoError(t, err)
	assert.Equal(t, domain.WorkflowFallback, routed.Workflow)
	assert.Equal(t, 2, diagram.count())
}

func TestRun_SkipsBlankPages(t *testing.T) {
	cls := &fakeClassifier{
		labels: []domain.Label{domain.LabelProse, domain.LabelProse, domain.LabelDiagram},
		blank:  map[int]bool{2: true},
	}
	c, prose, _ := setup(cls, Options{SkipBlankPages: true})

	routed, err := c.Run(context.Background(), pages(3), nil)
	require.NoError(t, err)

	assert.Equal(t, 1, prose.count())
	require.Len(t, routed.Pages, 3)
	skipped := routed.Pages[1]
	assert.True(t, skipped.Skipped)
	assert.True(t, skipped.Blank)
	assert.False(t, skipped.Success)
	assert.Equal(t, MethodSkipped, skipped.Method)
}

func TestRun_BlankPagesExtractedWhenNotSkipping(t *testing.T) {
	cls := &fakeClassifier{labels: []domain.Label{domain.LabelProse}, blank: map[int]bool{1: true}}
	c, prose, _ := setup(cls, Options{SkipBlankPages: false})

	routed, err := c.Run(context.Background(), pages(1), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, prose.count())
	assert.True(t, routed.Pages[0].Success)
	assert.True(t, routed.Pages[0].Blank)
}

func TestRun_CancelledContext(t *testing.T) {
	c, _, _ := setup(&fakeClassifier{labels: []domain.Label{domain.LabelProse}}, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Run(ctx, pages(1), nil)
	assert.ErrorIs(t, err, context.Canceled)
}
