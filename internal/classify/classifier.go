// Package classify labels pages as diagram or prose by matching their
// features against the reference exemplars.
package classify

import (
	"context"
	"sync"

	"github.com/spherical/doc-ingest/internal/domain"
	"github.com/spherical/doc-ingest/internal/features"
	"github.com/spherical/doc-ingest/internal/observability"
	"github.com/spherical/doc-ingest/internal/reference"
	"github.com/spherical/doc-ingest/internal/workpool"
)

const (
	// DefaultThreshold is the single classification cut-off: a page is a
	// diagram iff its best similarity is strictly greater.
	DefaultThreshold = 0.15

	defaultBlankRatio = 0.99
	defaultBlankLevel = 240
)

// Options tunes classification.
type Options struct {
	Threshold     float64
	MatchDistance int
	BlankRatio    float64 // pages whiter than this are flagged blank
	BlankLevel    uint8   // pixel value above which a pixel counts as white
}

// DefaultOptions returns the calibrated classification settings.
func DefaultOptions() Options {
	return Options{
		Threshold:     DefaultThreshold,
		MatchDistance: features.DefaultMatchDistance,
		BlankRatio:    defaultBlankRatio,
		BlankLevel:    defaultBlankLevel,
	}
}

// Classifier compares page descriptors with the reference store. It is
// stateless per call and safe for concurrent use.
type Classifier struct {
	store    *reference.Store
	detector *features.Detector
	opts     Options
	logger   *observability.Logger
}

// New creates a classifier. A nil or empty store yields a classifier that
// labels everything prose and reports ErrClassificationUnavailable.
func New(store *reference.Store, detector *features.Detector, opts Options, logger *observability.Logger) *Classifier {
	if opts.MatchDistance <= 0 {
		opts.MatchDistance = features.DefaultMatchDistance
	}
	if opts.BlankRatio <= 0 {
		opts.BlankRatio = defaultBlankRatio
	}
	if opts.BlankLevel == 0 {
		opts.BlankLevel = defaultBlankLevel
	}
	return &Classifier{
		store:    store,
		detector: detector,
		opts:     opts,
		logger:   logger.WithComponent("classifier"),
	}
}

// Threshold returns the configured cut-off.
func (c *Classifier) Threshold() float64 {
	return c.opts.Threshold
}

// Available reports whether classification can run.
func (c *Classifier) Available() bool {
	return c.store.Available()
}

// Classify scores one page against every exemplar. A page without
// descriptors is prose with score zero and no error.
func (c *Classifier) Classify(ctx context.Context, page domain.PageImage) (domain.ClassificationResult, error) {
	result := domain.ClassificationResult{Page: page.Number, Label: domain.LabelProse}

	if !c.store.Available() {
		return result, c.store.Err()
	}
	if err := ctx.Err(); err != nil {
		return result, err
	}
	if page.Analysis == nil {
		return result, nil
	}

	result.Blank = features.WhiteRatio(page.Analysis, c.opts.BlankLevel) > c.opts.BlankRatio

	set := c.detector.Detect(page.Analysis)
	result.Keypoints = set.Len()
	if set.Len() == 0 {
		return result, nil
	}

	for _, ex := range c.store.ReferenceSets() {
		score := features.Similarity(set, ex.Set, c.opts.MatchDistance)
		if score > result.Score {
			result.Score = score
			result.Reference = ex.Name
		}
	}

	result.Label = c.Label(result.Score)
	return result, nil
}

// Label applies the threshold rule to a raw similarity score.
func (c *Classifier) Label(score float64) domain.Label {
	if score > c.opts.Threshold {
		return domain.LabelDiagram
	}
	return domain.LabelProse
}

// ClassifyAll classifies pages in parallel on the pool. Results are index
// aligned with pages. progress, if set, is called serially after each page.
//
// When the store is unavailable every page is labelled prose and the
// returned error wraps ErrClassificationUnavailable.
func (c *Classifier) ClassifyAll(ctx context.Context, pages []domain.PageImage, pool *workpool.Pool, progress func(done, total int)) ([]domain.ClassificationResult, error) {
	results := make([]domain.ClassificationResult, len(pages))
	for i, p := range pages {
		results[i] = domain.ClassificationResult{Page: p.Number, Label: domain.LabelProse}
	}

	if !c.store.Available() {
		return results, c.store.Err()
	}

	var mu sync.Mutex
	done := 0

	err := pool.ForEach(ctx, len(pages), func(ctx context.Context, i int) error {
		res, err := c.Classify(ctx, pages[i])
		if err != nil {
			return err
		}
		results[i] = res

		c.logger.Debug().
			Int("page", res.Page).
			Str("label", string(res.Label)).
			Float64("score", res.Score).
			Str("reference", res.Reference).
			Int("keypoints", res.Keypoints).
			Msg("Page classified")

		mu.Lock()
		done++
		if progress != nil {
			progress(done, len(pages))
		}
		mu.Unlock()
		return nil
	})
	if err != nil {
		return results, err
	}

	return results, nil
}
