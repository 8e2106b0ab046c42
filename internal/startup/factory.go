// Package startup wires configured components into a runnable pipeline.
package startup

import (
	"context"
	"errors"
	"fmt"

	"github.com/spherical/doc-ingest/internal/classify"
	"github.com/spherical/doc-ingest/internal/combine"
	"github.com/spherical/doc-ingest/internal/config"
	"github.com/spherical/doc-ingest/internal/domain"
	"github.com/spherical/doc-ingest/internal/engine"
	"github.com/spherical/doc-ingest/internal/engine/diagram"
	"github.com/spherical/doc-ingest/internal/engine/prose"
	"github.com/spherical/doc-ingest/internal/fallback"
	"github.com/spherical/doc-ingest/internal/features"
	"github.com/spherical/doc-ingest/internal/jobs"
	"github.com/spherical/doc-ingest/internal/observability"
	"github.com/spherical/doc-ingest/internal/pdf"
	"github.com/spherical/doc-ingest/internal/pipeline"
	"github.com/spherical/doc-ingest/internal/reference"
	"github.com/spherical/doc-ingest/internal/router"
	"github.com/spherical/doc-ingest/internal/workpool"
)

// App holds the long-lived components of one process.
type App struct {
	Config       *config.Config
	Logger       *observability.Logger
	Pool         *workpool.Pool
	Rasterizer   *pdf.Rasterizer
	Classifier   *classify.Classifier
	References   *reference.Store
	Store        jobs.Store
	Orchestrator *pipeline.Orchestrator
}

// NewLogger builds the process logger. verbose forces debug level.
func NewLogger(cfg *config.Config, verbose bool) *observability.Logger {
	level := cfg.Log.Level
	if verbose {
		level = "debug"
	}
	return observability.NewLogger(observability.LogConfig{
		Level:  level,
		Format: cfg.Log.Format,
	})
}

// NewDetector builds the feature detector from classifier settings.
func NewDetector(cfg *config.Config) *features.Detector {
	opts := features.DefaultOptions()
	if cfg.Classifier.MaxKeypoints > 0 {
		opts.MaxKeypoints = cfg.Classifier.MaxKeypoints
	}
	if cfg.Classifier.FastThreshold > 0 {
		opts.FastThreshold = cfg.Classifier.FastThreshold
	}
	if cfg.Classifier.MaxDimension > 0 {
		opts.MaxDimension = cfg.Classifier.MaxDimension
	}
	return features.NewDetector(opts)
}

// LoadReferences computes exemplar features. An unreadable references
// directory is logged; the store is still returned so classification can
// fall back cleanly.
func LoadReferences(ctx context.Context, cfg *config.Config, detector *features.Detector, logger *observability.Logger) *reference.Store {
	store, err := reference.LoadDir(ctx, cfg.Classifier.ReferencesDir, cfg.Classifier.References, detector, logger)
	if err != nil {
		logger.Warn().Err(err).Str("dir", cfg.Classifier.ReferencesDir).Msg("Reference directory unavailable")
	}
	return store
}

// NewClassifier builds the page classifier over refs.
func NewClassifier(cfg *config.Config, refs *reference.Store, detector *features.Detector, logger *observability.Logger) *classify.Classifier {
	opts := classify.DefaultOptions()
	opts.Threshold = cfg.Classifier.Threshold
	opts.MatchDistance = cfg.Classifier.MatchDistance
	opts.BlankRatio = cfg.Classifier.BlankRatio
	return classify.New(refs, detector, opts, logger)
}

// NewRasterizer builds the PDF rasterizer.
func NewRasterizer(cfg *config.Config, logger *observability.Logger) *pdf.Rasterizer {
	return pdf.NewRasterizer(pdf.Options{
		DPI:              cfg.PDF.DPI,
		ExtractionDPI:    cfg.PDF.ExtractionDPI,
		JPEGQuality:      cfg.PDF.JPEGQuality,
		StrictValidation: cfg.PDF.StrictValidation,
	}, logger)
}

// NewStore opens the configured job store.
func NewStore(ctx context.Context, cfg *config.Config) (jobs.Store, error) {
	switch cfg.Store.Driver {
	case "memory":
		return jobs.NewMemoryStore(), nil
	case "redis":
		r := cfg.Store.Redis
		store, err := jobs.NewRedisStore(ctx, jobs.RedisConfig{
			Addr:     r.Addr,
			URL:      r.URL,
			Password: r.Password,
			DB:       r.DB,
			PoolSize: r.PoolSize,
			Prefix:   r.Prefix,
			TTL:      cfg.Store.TTL,
		})
		if err != nil {
			return nil, domain.ConfigError("job store", err)
		}
		return store, nil
	default:
		return nil, domain.ConfigError(fmt.Sprintf("unsupported store driver: %s", cfg.Store.Driver), nil)
	}
}

func retryConfig(cfg *config.Config) engine.RetryConfig {
	r := cfg.Engines.Retry
	return engine.RetryConfig{
		MaxRetries:     r.MaxRetries,
		InitialBackoff: r.InitialBackoff,
		MaxBackoff:     r.MaxBackoff,
	}
}

// NewEngines builds the prose and diagram engines.
func NewEngines(ctx context.Context, cfg *config.Config, logger *observability.Logger) (domain.Engine, domain.Engine, error) {
	p := cfg.Engines.Prose
	if p.APIKey == "" {
		return nil, nil, domain.ConfigError("MISTRAL_API_KEY is not set", nil)
	}
	proseEngine := prose.NewClient(prose.Config{
		APIKey:      p.APIKey,
		Model:       p.Model,
		BaseURL:     p.BaseURL,
		MaxTokens:   p.MaxTokens,
		Temperature: p.Temperature,
		Timeout:     cfg.Engines.Timeout,
		RateLimit:   p.RateLimit,
		Burst:       p.Burst,
		Retry:       retryConfig(cfg),
	}, logger)

	d := cfg.Engines.Diagram
	var diagramEngine domain.Engine
	switch d.Provider {
	case "tesseract":
		local, err := diagram.NewLocalEngine(ctx, diagram.LocalConfig{Languages: d.Languages}, logger)
		if err != nil {
			return nil, nil, err
		}
		diagramEngine = local
	default:
		if d.APIKey == "" {
			return nil, nil, domain.ConfigError("GOOGLE_VISION_API_KEY is not set", nil)
		}
		vision, err := diagram.NewVisionEngine(ctx, diagram.Config{
			APIKey:        d.APIKey,
			Endpoint:      d.Endpoint,
			LanguageHints: d.LanguageHints,
			RateLimit:     d.RateLimit,
			Burst:         d.Burst,
			Retry:         retryConfig(cfg),
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		diagramEngine = vision
	}

	return proseEngine, diagramEngine, nil
}

// Build wires every component needed to process documents.
func Build(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*App, error) {
	detector := NewDetector(cfg)
	refs := LoadReferences(ctx, cfg, detector, logger)
	return BuildWithReferences(ctx, cfg, refs, detector, logger)
}

// BuildWithReferences is Build with an already loaded reference store.
func BuildWithReferences(ctx context.Context, cfg *config.Config, refs *reference.Store, detector *features.Detector, logger *observability.Logger) (*App, error) {
	combineMode, err := combine.ParseMode(cfg.Pipeline.CombineMode)
	if err != nil {
		return nil, err
	}

	proseEngine, diagramEngine, err := NewEngines(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	store, err := NewStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	pool := workpool.New(cfg.Pipeline.Workers)
	rasterizer := NewRasterizer(cfg, logger)
	classifier := NewClassifier(cfg, refs, detector, logger)
	r := router.New(proseEngine, diagramEngine, pool, cfg.Engines.Timeout, logger)
	ctrl := fallback.New(classifier, r, pool, fallback.Options{SkipBlankPages: cfg.Pipeline.SkipBlankPages}, logger)
	orch := pipeline.New(store, rasterizer, ctrl, combine.New(combineMode), pool, pipeline.Options{PagesDir: cfg.Pipeline.PagesDir}, logger)

	logger.Debug().
		Int("workers", pool.Size()).
		Float64("threshold", classifier.Threshold()).
		Bool("classification", classifier.Available()).
		Str("prose_engine", proseEngine.Name()).
		Str("diagram_engine", diagramEngine.Name()).
		Str("store", cfg.Store.Driver).
		Msg("Pipeline ready")

	return &App{
		Config:       cfg,
		Logger:       logger,
		Pool:         pool,
		Rasterizer:   rasterizer,
		Classifier:   classifier,
		References:   refs,
		Store:        store,
		Orchestrator: orch,
	}, nil
}

// Close waits for in-flight jobs and releases the store.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Orchestrator != nil {
		if err := a.Orchestrator.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
