// Package diagram implements the OCR engine used for diagram-heavy pages
// and for the fallback workflow.
package diagram

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/time/rate"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	vision "google.golang.org/api/vision/v1"

	"github.com/spherical/doc-ingest/internal/domain"
	"github.com/spherical/doc-ingest/internal/engine"
	"github.com/spherical/doc-ingest/internal/observability"
)

const (
	// Method identifies text produced by the cloud OCR engine.
	Method = "cloud_ocr"

	featureTextDetection = "TEXT_DETECTION"

	// reported when the service returns text without confidence values
	defaultConfidence = 0.8
)

// Config configures the Vision client.
type Config struct {
	APIKey        string
	Endpoint      string // overrides the service base URL, e.g. for tests
	LanguageHints []string
	RateLimit     float64
	Burst         int
	Retry         engine.RetryConfig
}

// VisionEngine extracts text with the Cloud Vision TEXT_DETECTION feature.
type VisionEngine struct {
	svc     *vision.Service
	cfg     Config
	limiter *rate.Limiter
	logger  *observability.Logger
}

// NewVisionEngine creates the Vision service client.
func NewVisionEngine(ctx context.Context, cfg Config, logger *observability.Logger) (*VisionEngine, error) {
	if cfg.APIKey == "" {
		return nil, domain.ConfigError("diagram engine requires an API key", nil)
	}
	if cfg.Retry == (engine.RetryConfig{}) {
		cfg.Retry = engine.DefaultRetryConfig()
	}

	opts := []option.ClientOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	svc, err := vision.NewService(ctx, opts...)
	if err != nil {
		return nil, domain.ConfigError("failed to create vision client", err)
	}

	return &VisionEngine{
		svc:     svc,
		cfg:     cfg,
		limiter: engine.NewLimiter(cfg.RateLimit, cfg.Burst),
		logger:  logger.WithComponent("diagram-engine"),
	}, nil
}

// Name implements domain.Engine
func (v *VisionEngine) Name() string {
	return "diagram:vision"
}

// Extract implements domain.Engine
func (v *VisionEngine) Extract(ctx context.Context, page domain.PageImage) (domain.Extraction, error) {
	if len(page.JPEG) == 0 {
		return domain.Extraction{}, domain.ValidationError(fmt.Sprintf("page %d has no image data", page.Number), nil)
	}

	req := &vision.BatchAnnotateImagesRequest{
		Requests: []*vision.AnnotateImageRequest{{
			Image:    &vision.Image{Content: base64.StdEncoding.EncodeToString(page.JPEG)},
			Features: []*vision.Feature{{Type: featureTextDetection}},
		}},
	}
	if len(v.cfg.LanguageHints) > 0 {
		req.Requests[0].ImageContext = &vision.ImageContext{LanguageHints: v.cfg.LanguageHints}
	}

	var resp *vision.BatchAnnotateImagesResponse
	err := engine.Retry(ctx, v.cfg.Retry, v.logger, func(ctx context.Context) error {
		if err := engine.Pace(ctx, v.limiter); err != nil {
			return err
		}
		r, err := v.svc.Images.Annotate(req).Context(ctx).Do()
		if err != nil {
			return statusError(err)
		}
		resp = r
		return nil
	})
	if err != nil {
		return domain.Extraction{}, domain.APIError("text detection failed", err)
	}

	if resp == nil || len(resp.Responses) == 0 {
		return domain.Extraction{}, domain.APIError("text detection returned no responses", nil)
	}
	return toExtraction(resp.Responses[0])
}

// statusError maps HTTP failures onto engine.StatusError so Retry can
// classify them.
func statusError(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return &engine.StatusError{Code: gerr.Code, Body: gerr.Message}
	}
	return err
}

func toExtraction(r *vision.AnnotateImageResponse) (domain.Extraction, error) {
	if r.Error != nil && r.Error.Code != 0 {
		return domain.Extraction{}, domain.APIError(fmt.Sprintf("image annotation error %d: %s", r.Error.Code, r.Error.Message), nil)
	}

	var text string
	switch {
	case r.FullTextAnnotation != nil:
		text = r.FullTextAnnotation.Text
	case len(r.TextAnnotations) > 0:
		text = r.TextAnnotations[0].Description
	}
	text = strings.TrimSpace(text)

	return domain.Extraction{
		Success:    true,
		Text:       text,
		Confidence: confidence(r.FullTextAnnotation, text),
		Method:     Method,
	}, nil
}

// confidence averages page confidences, then block confidences.
func confidence(full *vision.TextAnnotation, text string) float64 {
	if text == "" {
		return 0
	}
	if full != nil {
		var sum float64
		var n int
		for _, p := range full.Pages {
			if p.Confidence > 0 {
				sum += p.Confidence
				n++
			}
		}
		if n == 0 {
			for _, p := range full.Pages {
				for _, b := range p.Blocks {
					if b.Confidence > 0 {
						sum += b.Confidence
						n++
					}
				}
			}
		}
		if n > 0 {
			return sum / float64(n)
		}
	}
	return defaultConfidence
}
