// Package pdf renders PDF pages into images for classification and
// extraction.
package pdf

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/gen2brain/go-fitz"
	"golang.org/x/image/draw"

	"github.com/spherical/doc-ingest/internal/domain"
	"github.com/spherical/doc-ingest/internal/observability"
)

// Options configures rendering.
type Options struct {
	DPI              int  // classification resolution
	ExtractionDPI    int  // resolution of the JPEG handed to engines
	JPEGQuality      int  // 1-100
	StrictValidation bool // treat pdfcpu structure errors as fatal
}

// DefaultOptions returns the default rendering settings.
func DefaultOptions() Options {
	return Options{
		DPI:           200,
		ExtractionDPI: 300,
		JPEGQuality:   85,
	}
}

// pageSource is the subset of *fitz.Document the rasterizer needs.
type pageSource interface {
	NumPage() int
	ImageDPI(pageNumber int, dpi float64) (*image.RGBA, error)
	Close() error
}

func openFitz(path string) (pageSource, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// Rasterizer implements domain.Rasterizer using go-fitz (MuPDF).
type Rasterizer struct {
	opts      Options
	validator *Validator
	open      func(path string) (pageSource, error)
	logger    *observability.Logger
}

// NewRasterizer creates a new PDF rasterizer
func NewRasterizer(opts Options, logger *observability.Logger) *Rasterizer {
	def := DefaultOptions()
	if opts.DPI == 0 {
		opts.DPI = def.DPI
	}
	if opts.ExtractionDPI == 0 {
		opts.ExtractionDPI = def.ExtractionDPI
	}
	if opts.JPEGQuality == 0 {
		opts.JPEGQuality = def.JPEGQuality
	}

	log := logger.WithComponent("rasterizer")
	return &Rasterizer{
		opts:      opts,
		validator: NewValidator(log),
		open:      openFitz,
		logger:    log,
	}
}

// Rasterize renders every page of the PDF. Pages that fail to render are
// skipped and listed in Document.Skipped; surviving pages are numbered
// 1..N. Failing to open the document, or rendering no page at all, returns
// an error matching domain.ErrFatalDocument.
func (r *Rasterizer) Rasterize(ctx context.Context, pdfPath string, progress func(done, total int)) (*domain.Document, error) {
	if _, err := r.validator.ValidatePDFPath(pdfPath); err != nil {
		return nil, domain.FatalDocumentError("invalid document", err)
	}
	if err := r.validator.ValidateQuality(r.opts.JPEGQuality); err != nil {
		return nil, err
	}
	for _, dpi := range []int{r.opts.DPI, r.opts.ExtractionDPI} {
		if err := r.validator.ValidateDPI(dpi); err != nil {
			return nil, err
		}
	}

	declared, err := CountPages(pdfPath)
	if err != nil {
		if r.opts.StrictValidation {
			return nil, domain.FatalDocumentError("PDF failed structural validation", err)
		}
		r.logger.Warn().Str("path", pdfPath).Err(err).Msg("PDF structure check failed, trying renderer anyway")
	}

	src, err := r.open(pdfPath)
	if err != nil {
		return nil, domain.FatalDocumentError("Failed to open PDF", err)
	}
	defer src.Close()

	total := src.NumPage()
	if total == 0 {
		return nil, domain.FatalDocumentError("PDF has no pages", nil)
	}
	if declared == 0 {
		declared = total
	}

	renderDPI := max(r.opts.DPI, r.opts.ExtractionDPI)
	doc := &domain.Document{
		Path:      pdfPath,
		PageCount: declared,
		Pages:     make([]domain.PageImage, 0, total),
	}

	for i := 0; i < total; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page, err := r.renderPage(src, i, renderDPI)
		if err != nil {
			r.logger.Warn().Int("page", i+1).Err(err).Msg("Skipping page that failed to render")
			doc.Skipped = append(doc.Skipped, i+1)
		} else {
			page.Number = len(doc.Pages) + 1
			doc.Pages = append(doc.Pages, page)
		}

		if progress != nil {
			progress(i+1, total)
		}
	}

	if len(doc.Pages) == 0 {
		return nil, domain.FatalDocumentError(fmt.Sprintf("none of %d pages could be rendered", total), nil)
	}

	r.logger.Info().
		Str("path", pdfPath).
		Int("pages", len(doc.Pages)).
		Ints("skipped", doc.Skipped).
		Msg("Rasterized document")

	return doc, nil
}

func (r *Rasterizer) renderPage(src pageSource, index, renderDPI int) (domain.PageImage, error) {
	img, err := src.ImageDPI(index, float64(renderDPI))
	if err != nil {
		return domain.PageImage{}, domain.ConversionError(fmt.Sprintf("Failed to convert page %d", index+1), err)
	}

	extraction := scaleRGBA(img, float64(r.opts.ExtractionDPI)/float64(renderDPI))

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, extraction, &jpeg.Options{Quality: r.opts.JPEGQuality}); err != nil {
		return domain.PageImage{}, domain.ConversionError(fmt.Sprintf("Failed to encode page %d as JPG", index+1), err)
	}

	b := extraction.Bounds()
	return domain.PageImage{
		SourcePage: index + 1,
		Width:      b.Dx(),
		Height:     b.Dy(),
		JPEG:       buf.Bytes(),
		Analysis:   scaleGray(img, float64(r.opts.DPI)/float64(renderDPI)),
	}, nil
}

// scaleRGBA returns src resized by factor; a factor of 1 returns src.
func scaleRGBA(src *image.RGBA, factor float64) image.Image {
	if factor >= 1 {
		return src
	}
	dst := image.NewRGBA(scaledRect(src.Bounds(), factor))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}

// scaleGray converts src to grayscale resized by factor.
func scaleGray(src *image.RGBA, factor float64) *image.Gray {
	if factor >= 1 {
		dst := image.NewGray(image.Rect(0, 0, src.Bounds().Dx(), src.Bounds().Dy()))
		draw.Draw(dst, dst.Bounds(), src, src.Bounds().Min, draw.Src)
		return dst
	}
	dst := image.NewGray(scaledRect(src.Bounds(), factor))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}

func scaledRect(b image.Rectangle, factor float64) image.Rectangle {
	w := max(1, int(float64(b.Dx())*factor+0.5))
	h := max(1, int(float64(b.Dy())*factor+0.5))
	return image.Rect(0, 0, w, h)
}
