package domain

import (
	"image"
	"time"
)

// Label is the visual content class assigned to a page
type Label string

const (
	LabelDiagram Label = "diagram"
	LabelProse   Label = "prose"
)

// WorkflowType records which routing path produced a document's text
type WorkflowType string

const (
	// WorkflowPrimary routes each page by its classification.
	WorkflowPrimary WorkflowType = "primary"
	// WorkflowFallback sends every page through the diagram engine.
	WorkflowFallback WorkflowType = "fallback"
)

// Document represents the rasterized source PDF
type Document struct {
	Path      string
	PageCount int         // pages reported by the PDF itself
	Pages     []PageImage // rendered pages, numbered 1..len(Pages)
	Skipped   []int       // source page numbers that failed to render
}

// PageImage represents a single rendered PDF page
type PageImage struct {
	Number     int // 1-based, contiguous within a document
	SourcePage int // page number inside the PDF
	Width      int
	Height     int

	// JPEG holds the page encoded at extraction resolution for engines.
	JPEG []byte

	// Analysis is the grayscale page at classification resolution.
	Analysis *image.Gray
}

// FileInfo describes the submitted file
type FileInfo struct {
	Name      string `json:"name"`
	Path      string `json:"path"`
	SizeBytes int64  `json:"size_bytes"`
	PageCount int    `json:"page_count"`
}

// Usage counts tokens consumed by a remote model
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add returns the sum of two usage counters
func (u Usage) Add(o Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + o.PromptTokens,
		CompletionTokens: u.CompletionTokens + o.CompletionTokens,
		TotalTokens:      u.TotalTokens + o.TotalTokens,
	}
}

// Extraction is the engine boundary result for one page image
type Extraction struct {
	Success    bool    `json:"success"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Method     string  `json:"method"`
	Error      string  `json:"error,omitempty"`
	Usage      Usage   `json:"usage"`
}

// ClassificationResult is the outcome of comparing one page with the
// reference exemplars.
//
// Score is the raw ratio of quality matches to the best exemplar's keypoint
// count. It is not capped at 1: a page can produce more cross-checked matches
// than a sparse exemplar has keypoints only in degenerate cases, and the raw
// value is kept so thresholds stay comparable with historical scores.
type ClassificationResult struct {
	Page      int     `json:"page"`
	Label     Label   `json:"label"`
	Score     float64 `json:"score"`
	Reference string  `json:"reference,omitempty"`
	Keypoints int     `json:"keypoints"`
	Blank     bool    `json:"blank"`
}

// Page is one processed page: its classification and extraction outcome
type Page struct {
	Number     int
	SourcePage int
	Label      Label
	Score      float64
	Reference  string
	Blank      bool

	Text       string
	Confidence float64
	Method     string
	Success    bool
	Skipped    bool
	Error      string
	Duration   time.Duration
	Usage      Usage
}

// PageDiagnostic is the per-page detail exposed to pollers
type PageDiagnostic struct {
	Page       int     `json:"page"`
	SourcePage int     `json:"source_page"`
	Label      Label   `json:"label"`
	Score      float64 `json:"score"`
	Method     string  `json:"method,omitempty"`
	Confidence float64 `json:"confidence"`
	Success    bool    `json:"success"`
	Skipped    bool    `json:"skipped,omitempty"`
	Error      string  `json:"error,omitempty"`
	DurationMs int64   `json:"duration_ms"`
}

// Diagnostic returns the poller-facing view of the page
func (p Page) Diagnostic() PageDiagnostic {
	return PageDiagnostic{
		Page:       p.Number,
		SourcePage: p.SourcePage,
		Label:      p.Label,
		Score:      p.Score,
		Method:     p.Method,
		Confidence: p.Confidence,
		Success:    p.Success,
		Skipped:    p.Skipped,
		Error:      p.Error,
		DurationMs: p.Duration.Milliseconds(),
	}
}

// PipelineOutcome is the combined document-level result
type PipelineOutcome struct {
	CombinedText    string       `json:"combined_text"`
	PageCount       int          `json:"page_count"`
	WorkflowType    WorkflowType `json:"workflow_type"`
	DiagramPages    int          `json:"diagram_pages"`
	ProsePages      int          `json:"prose_pages"`
	SuccessfulPages int          `json:"successful_pages"`
	FailedPages     int          `json:"failed_pages"`
	SkippedPages    int          `json:"skipped_pages"`
	Usage           Usage        `json:"usage"`
}
