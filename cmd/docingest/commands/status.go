package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/spherical/doc-ingest/cmd/docingest/ui"
	"github.com/spherical/doc-ingest/internal/jobs"
	"github.com/spherical/doc-ingest/internal/startup"
)

var (
	statusWatch bool
	statusJSON  bool
)

var statusCmd = &cobra.Command{
	Use:   "status [job-id]",
	Short: "Show a job from the configured store",
	Long: `Show a job, or list all jobs when no id is given. Cross-process lookups need
the redis store (store.driver: redis or REDIS_URL).`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVarP(&statusWatch, "watch", "w", false, "stream updates until the job finishes")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print the status view as JSON")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	store, err := startup.NewStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if len(args) == 0 {
		return listJobs(ctx, store)
	}
	id := args[0]

	if statusWatch {
		w, ok := store.(jobs.Watcher)
		if !ok {
			return fmt.Errorf("store %s does not support --watch", cfg.Store.Driver)
		}
		updates, err := w.Watch(ctx, id)
		if err != nil {
			return lookupError(id, err)
		}
		bar := ui.NewProgressBar("waiting")
		var last *jobs.Job
		for job := range updates {
			bar.Update(job.Progress, string(job.Stage))
			last = job
		}
		if last == nil {
			return ctx.Err()
		}
		if last.Status == jobs.StatusCompleted {
			bar.Finish()
		}
		return showJob(last)
	}

	job, err := store.Get(ctx, id)
	if err != nil {
		return lookupError(id, err)
	}
	return showJob(job)
}

func showJob(job *jobs.Job) error {
	if statusJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(job.View())
	}
	printSummary(job)
	if job.Message != "" {
		ui.KeyValue("Message", job.Message)
	}
	printDiagnostics(job)
	return nil
}

func listJobs(ctx context.Context, store jobs.Store) error {
	all, err := store.List(ctx)
	if err != nil {
		return err
	}
	if len(all) == 0 {
		ui.Info("No jobs in %s store", cfg.Store.Driver)
		return nil
	}

	rows := make([][]string, 0, len(all))
	for _, j := range all {
		name := ""
		if j.FileInfo != nil {
			name = j.FileInfo.Name
		}
		rows = append(rows, []string{j.ID, string(j.Status), fmt.Sprintf("%d%%", j.Progress), string(j.Stage), name, j.CreatedAt.Format("2006-01-02 15:04:05")})
	}
	ui.Table([]string{"JOB", "STATUS", "PROGRESS", "STAGE", "FILE", "CREATED"}, rows)
	return nil
}

func lookupError(id string, err error) error {
	if errors.Is(err, jobs.ErrNotFound) {
		return fmt.Errorf("job %s not found in %s store", id, cfg.Store.Driver)
	}
	return err
}
