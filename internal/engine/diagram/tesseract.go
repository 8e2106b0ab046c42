//go:build tesseract

package diagram

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/spherical/doc-ingest/internal/domain"
	"github.com/spherical/doc-ingest/internal/observability"
)

func init() {
	newLocal = func(cfg LocalConfig, logger *observability.Logger) domain.Engine {
		return &tesseractEngine{cfg: cfg, logger: logger.WithComponent("diagram-engine")}
	}
}

type tesseractEngine struct {
	cfg    LocalConfig
	logger *observability.Logger
}

func (t *tesseractEngine) Name() string {
	return "diagram:tesseract"
}

// Extract runs Tesseract on the page. A gosseract client is not safe for
// concurrent use, so each call gets its own.
func (t *tesseractEngine) Extract(ctx context.Context, page domain.PageImage) (domain.Extraction, error) {
	if err := ctx.Err(); err != nil {
		return domain.Extraction{}, err
	}
	if len(page.JPEG) == 0 {
		return domain.Extraction{}, domain.ValidationError(fmt.Sprintf("page %d has no image data", page.Number), nil)
	}

	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(t.cfg.Languages...); err != nil {
		return domain.Extraction{}, domain.ConfigError("tesseract languages", err)
	}
	if err := client.SetImageFromBytes(page.JPEG); err != nil {
		return domain.Extraction{}, domain.ExtractionError("tesseract image", err)
	}

	text, err := client.Text()
	if err != nil {
		return domain.Extraction{}, domain.ExtractionError("tesseract recognition", err)
	}
	text = strings.TrimSpace(text)

	conf := 0.0
	if text != "" {
		conf = defaultConfidence
		if boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD); err == nil && len(boxes) > 0 {
			var sum float64
			for _, b := range boxes {
				sum += b.Confidence
			}
			conf = sum / float64(len(boxes)) / 100
		}
	}

	if err := ctx.Err(); err != nil {
		return domain.Extraction{}, err
	}

	return domain.Extraction{
		Success:    true,
		Text:       text,
		Confidence: conf,
		Method:     MethodLocal,
	}, nil
}
