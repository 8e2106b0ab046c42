package diagram

import (
	"context"
	"errors"

	"github.com/spherical/doc-ingest/internal/domain"
	"github.com/spherical/doc-ingest/internal/observability"
)

// MethodLocal identifies text produced by the local Tesseract engine.
const MethodLocal = "local_ocr"

// ErrLocalUnavailable is returned when the binary was built without the
// tesseract tag.
var ErrLocalUnavailable = errors.New("local OCR engine not compiled in (build with -tags tesseract)")

// LocalConfig configures the local Tesseract engine.
type LocalConfig struct {
	Languages []string
}

// newLocal is set by tesseract.go when the tesseract build tag is present.
var newLocal func(cfg LocalConfig, logger *observability.Logger) domain.Engine

// NewLocalEngine returns the Tesseract-backed engine.
func NewLocalEngine(_ context.Context, cfg LocalConfig, logger *observability.Logger) (domain.Engine, error) {
	if newLocal == nil {
		return nil, domain.ConfigError("diagram provider tesseract", ErrLocalUnavailable)
	}
	if len(cfg.Languages) == 0 {
		cfg.Languages = []string{"eng"}
	}
	return newLocal(cfg, logger), nil
}
