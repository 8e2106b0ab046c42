package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spherical/doc-ingest/cmd/docingest/ui"
	"github.com/spherical/doc-ingest/internal/config"
	"github.com/spherical/doc-ingest/internal/features"
	"github.com/spherical/doc-ingest/internal/jobs"
	"github.com/spherical/doc-ingest/internal/reference"
	"github.com/spherical/doc-ingest/internal/startup"
)

const pollInterval = 250 * time.Millisecond

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// defaultOutputPath derives <name>-combined.txt next to the working directory.
func defaultOutputPath(pdfPath string) string {
	base := strings.TrimSuffix(filepath.Base(pdfPath), filepath.Ext(pdfPath))
	return base + "-combined.txt"
}

// loadReferences loads exemplar features behind a spinner.
func loadReferences(ctx context.Context, cfg *config.Config) (*reference.Store, *features.Detector) {
	s := ui.NewSpinner("Loading reference diagrams...")
	s.Start()
	detector := startup.NewDetector(cfg)
	refs := startup.LoadReferences(ctx, cfg, detector, logger)
	s.Stop()

	if !refs.Available() {
		ui.Warning("No reference diagrams loaded; all pages will use diagram OCR")
	}
	return refs, detector
}

// printSummary shows the headline figures of a finished job.
func printSummary(job *jobs.Job) {
	ui.Section("Job " + job.ID)
	ui.KeyValue("Status", ui.Status(string(job.Status)))
	ui.KeyValue("Progress", fmt.Sprintf("%d%%", job.Progress))
	ui.KeyValue("Stage", string(job.Stage))
	if job.FileInfo != nil {
		ui.KeyValue("File", fmt.Sprintf("%s (%d bytes, %d pages)", job.FileInfo.Name, job.FileInfo.SizeBytes, job.FileInfo.PageCount))
	}
	if job.Error != "" {
		ui.KeyValue("Error", job.Error)
	}

	if r := job.Result; r != nil {
		ui.KeyValue("Workflow", string(r.WorkflowType))
		ui.KeyValue("Pages", fmt.Sprintf("%d (%d prose, %d diagram)", r.PageCount, r.ProsePages, r.DiagramPages))
		ui.KeyValue("Extracted", fmt.Sprintf("%d ok, %d failed, %d skipped", r.SuccessfulPages, r.FailedPages, r.SkippedPages))
		if r.Usage.TotalTokens > 0 {
			ui.KeyValue("Tokens", fmt.Sprintf("%d", r.Usage.TotalTokens))
		}
	}
}

// printDiagnostics renders per-page detail.
func printDiagnostics(job *jobs.Job) {
	if len(job.Diagnostics) == 0 {
		return
	}
	rows := make([][]string, 0, len(job.Diagnostics))
	for _, d := range job.Diagnostics {
		result := "ok"
		switch {
		case d.Skipped:
			result = "skipped"
		case !d.Success:
			result = "failed: " + d.Error
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", d.Page),
			fmt.Sprintf("%d", d.SourcePage),
			string(d.Label),
			fmt.Sprintf("%.3f", d.Score),
			d.Method,
			fmt.Sprintf("%.2f", d.Confidence),
			fmt.Sprintf("%dms", d.DurationMs),
			result,
		})
	}
	ui.Newline()
	ui.Table([]string{"PAGE", "SOURCE", "LABEL", "SCORE", "METHOD", "CONF", "TIME", "RESULT"}, rows)
}
