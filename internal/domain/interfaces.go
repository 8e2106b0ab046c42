package domain

import "context"

// Rasterizer defines the interface for turning a PDF into page images
type Rasterizer interface {
	// Rasterize renders every page it can; pages that fail to render are
	// skipped. A document that cannot be opened returns ErrFatalDocument.
	Rasterize(ctx context.Context, pdfPath string, progress func(done, total int)) (*Document, error)
}

// Engine extracts text from a single page image. Implementations are
// interchangeable: the router depends only on this interface.
type Engine interface {
	// Name identifies the engine in logs and in Extraction.Method
	Name() string

	// Extract returns a populated Extraction on success. Any error is
	// treated by callers as a failure of that page only.
	Extract(ctx context.Context, page PageImage) (Extraction, error)
}
