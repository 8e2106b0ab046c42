package pdf

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/spherical/doc-ingest/internal/domain"
	"github.com/spherical/doc-ingest/internal/observability"
)

const (
	maxRecommendedSize = 100 * 1024 * 1024 // 100MB
	minDPI             = 36
	maxDPI             = 600
)

// Validator provides input validation for PDF files
type Validator struct {
	logger *observability.Logger
}

// NewValidator creates a new validator instance
func NewValidator(logger *observability.Logger) *Validator {
	return &Validator{logger: logger}
}

// ValidatePDFPath validates that a file path is valid and points to a PDF.
// It returns the file size on success.
func (v *Validator) ValidatePDFPath(path string) (int64, error) {
	if strings.TrimSpace(path) == "" {
		return 0, domain.ValidationError("file path cannot be empty", nil)
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, domain.ValidationError(fmt.Sprintf("file does not exist: %s", path), err)
		}
		return 0, domain.ValidationError(fmt.Sprintf("cannot access file: %s", path), err)
	}

	if info.IsDir() {
		return 0, domain.ValidationError(fmt.Sprintf("path is a directory, not a file: %s", path), nil)
	}

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".pdf" {
		return 0, domain.ValidationError(fmt.Sprintf("file is not a PDF (has extension %s)", ext), nil)
	}

	// Large files are processed, just slowly.
	if info.Size() > maxRecommendedSize {
		v.logger.Warn().Int("size_mb", int(info.Size()/(1024*1024))).Msg("PDF file is very large, processing may take a while")
	}

	file, err := os.Open(path)
	if err != nil {
		return 0, domain.ValidationError(fmt.Sprintf("cannot open file: %s", path), err)
	}
	file.Close()

	return info.Size(), nil
}

// ValidateQuality validates image quality parameter
func (v *Validator) ValidateQuality(quality int) error {
	if quality < 1 || quality > 100 {
		return domain.ValidationError(fmt.Sprintf("quality must be between 1 and 100, got %d", quality), nil)
	}
	return nil
}

// ValidateDPI validates a rendering resolution
func (v *Validator) ValidateDPI(dpi int) error {
	if dpi < minDPI || dpi > maxDPI {
		return domain.ValidationError(fmt.Sprintf("dpi must be between %d and %d, got %d", minDPI, maxDPI, dpi), nil)
	}
	return nil
}

var disableConfigDir sync.Once

// CountPages reads the PDF structure with pdfcpu and returns its page count.
func CountPages(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, domain.IOError("cannot open file", err)
	}
	defer f.Close()

	// pdfcpu would otherwise create a config directory under the user's home.
	disableConfigDir.Do(api.DisableConfigDir)

	n, err := api.PageCount(f, nil)
	if err != nil {
		return 0, domain.ValidationError("invalid PDF structure", err)
	}
	return n, nil
}
