// Package combine merges per-page extraction results into one document.
package combine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spherical/doc-ingest/internal/domain"
)

// Mode selects the layout of the combined text.
type Mode string

const (
	// ModeInterleaved keeps global page order.
	ModeInterleaved Mode = "interleaved"
	// ModeGrouped lists all prose pages, then all diagram pages.
	ModeGrouped Mode = "grouped"
)

const (
	proseHeader   = "===== PROSE PAGES ====="
	diagramHeader = "===== DIAGRAM PAGES ====="
)

// ParseMode validates a configured mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeInterleaved:
		return ModeInterleaved, nil
	case ModeGrouped:
		return ModeGrouped, nil
	default:
		return "", domain.ConfigError(fmt.Sprintf("unknown combine mode %q", s), nil)
	}
}

// Combiner is stateless and safe for concurrent use.
type Combiner struct {
	mode Mode
}

// New creates a combiner for mode. An empty mode means interleaved.
func New(mode Mode) *Combiner {
	if mode == "" {
		mode = ModeInterleaved
	}
	return &Combiner{mode: mode}
}

// Mode returns the configured layout.
func (c *Combiner) Mode() Mode {
	return c.mode
}

// Combine builds the outcome. Failed and skipped pages contribute no text
// but are counted.
func (c *Combiner) Combine(pages []domain.Page, workflow domain.WorkflowType) *domain.PipelineOutcome {
	sorted := append([]domain.Page(nil), pages...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Number < sorted[j].Number })

	out := &domain.PipelineOutcome{
		PageCount:    len(sorted),
		WorkflowType: workflow,
	}
	for _, p := range sorted {
		if p.Label == domain.LabelDiagram {
			out.DiagramPages++
		} else {
			out.ProsePages++
		}
		switch {
		case p.Skipped:
			out.SkippedPages++
		case p.Success:
			out.SuccessfulPages++
		default:
			out.FailedPages++
		}
		out.Usage = out.Usage.Add(p.Usage)
	}

	if c.mode == ModeGrouped {
		out.CombinedText = grouped(sorted)
	} else {
		out.CombinedText = interleaved(sorted)
	}
	return out
}

func interleaved(pages []domain.Page) string {
	var parts []string
	for _, p := range pages {
		if !contributes(p) {
			continue
		}
		parts = append(parts, fmt.Sprintf("--- Page %d (%s) ---\n%s", p.Number, p.Label, p.Text))
	}
	return strings.Join(parts, "\n\n")
}

func grouped(pages []domain.Page) string {
	var prose, diagrams []string
	for _, p := range pages {
		if !contributes(p) {
			continue
		}
		body := fmt.Sprintf("--- Page %d ---\n%s", p.Number, p.Text)
		if p.Label == domain.LabelDiagram {
			diagrams = append(diagrams, body)
		} else {
			prose = append(prose, body)
		}
	}

	var sections []string
	if len(prose) > 0 {
		sections = append(sections, proseHeader+"\n\n"+strings.Join(prose, "\n\n"))
	}
	if len(diagrams) > 0 {
		sections = append(sections, diagramHeader+"\n\n"+strings.Join(diagrams, "\n\n"))
	}
	return strings.Join(sections, "\n\n")
}

func contributes(p domain.Page) bool {
	return p.Success && !p.Skipped && strings.TrimSpace(p.Text) != ""
}
