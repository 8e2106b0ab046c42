package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/spherical/doc-ingest/cmd/docingest/ui"
	"github.com/spherical/doc-ingest/internal/jobs"
	"github.com/spherical/doc-ingest/internal/startup"
)

var (
	runOutputPath string
	runJSON       bool
	runPagesDir   string
)

var runCmd = &cobra.Command{
	Use:   "run <pdf>",
	Short: "Process a PDF and write the combined text",
	Long: `Process a PDF end to end: render pages, classify them against the reference
diagrams, extract text with the matching engine and write the combined result.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVarP(&runOutputPath, "output", "o", "", "output file path (default: <input-name>-combined.txt)")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "print the final job as JSON instead of a summary")
	runCmd.Flags().StringVar(&runPagesDir, "pages-dir", "", "also write one text file per page under this directory")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	pdfPath := args[0]
	if runPagesDir != "" {
		cfg.Pipeline.PagesDir = runPagesDir
	}
	if runOutputPath == "" {
		runOutputPath = defaultOutputPath(pdfPath)
	}

	ctx, cancel := signalContext()
	defer cancel()

	refs, detector := loadReferences(ctx, cfg)
	app, err := startup.BuildWithReferences(ctx, cfg, refs, detector, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, done := context.WithTimeout(context.Background(), 30*time.Second)
		defer done()
		_ = app.Close(closeCtx)
	}()

	id, err := app.Orchestrator.Submit(ctx, pdfPath)
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	logger.Debug().Str("job_id", id).Str("file", pdfPath).Msg("Job submitted")

	job, err := pollUntilDone(ctx, app.Store, id, func() {
		// An expired context makes Shutdown cancel in-flight jobs at once.
		stop, cancelStop := context.WithCancel(context.Background())
		cancelStop()
		_ = app.Orchestrator.Shutdown(stop)
	})
	if err != nil {
		return err
	}

	if runJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(job)
	}

	printSummary(job)
	if verbose {
		printDiagnostics(job)
	}

	if job.Status != jobs.StatusCompleted {
		return fmt.Errorf("job %s failed: %s", job.ID, job.Error)
	}

	if err := os.WriteFile(runOutputPath, []byte(job.Result.CombinedText), 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	ui.Newline()
	ui.Success("Combined text written to %s", runOutputPath)
	return nil
}

// pollUntilDone polls the store and drives the progress bar until the job
// is terminal. On interrupt it calls onInterrupt once and keeps polling so
// the recorded failure is reported.
func pollUntilDone(ctx context.Context, store jobs.Store, id string, onInterrupt func()) (*jobs.Job, error) {
	bar := ui.NewProgressBar("starting")
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	readCtx := context.WithoutCancel(ctx)
	interrupted := false

	for {
		job, err := store.Get(readCtx, id)
		if err != nil {
			return nil, fmt.Errorf("poll job: %w", err)
		}
		bar.Update(job.Progress, string(job.Stage))

		if job.Status.Terminal() {
			if job.Status == jobs.StatusCompleted {
				bar.Finish()
			} else {
				ui.Newline()
			}
			return job, nil
		}

		select {
		case <-ctx.Done():
			if !interrupted {
				interrupted = true
				ui.Newline()
				ui.Warning("Interrupted, waiting for the job to stop...")
				go onInterrupt()
			}
			<-ticker.C
		case <-ticker.C:
		}
	}
}
