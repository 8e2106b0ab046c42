package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/spherical/doc-ingest/internal/domain"
	"github.com/spherical/doc-ingest/internal/observability"
)

// Tracker is the only writer of one job's state. Calls are serialized;
// progress never decreases and a terminal state is written at most once.
type Tracker struct {
	mu     sync.Mutex
	store  Store
	id     string
	logger *observability.Logger
	now    func() time.Time
}

// NewTracker creates a tracker for the job id.
func NewTracker(store Store, id string, logger *observability.Logger) *Tracker {
	return &Tracker{
		store:  store,
		id:     id,
		logger: logger.WithJob(id),
		now:    time.Now,
	}
}

// ID returns the tracked job id.
func (t *Tracker) ID() string {
	return t.id
}

// Start moves the job to processing.
func (t *Tracker) Start(ctx context.Context, info *domain.FileInfo) error {
	return t.update(ctx, func(j *Job) {
		j.Status = StatusProcessing
		j.Stage = StagePersist
		j.Message = "Processing started"
		if info != nil {
			f := *info
			j.FileInfo = &f
		}
		raise(j, ProgressFor(StagePersist, 1))
	})
}

// SetPageCount records the number of pages rendered.
func (t *Tracker) SetPageCount(ctx context.Context, pages int) error {
	return t.update(ctx, func(j *Job) {
		if j.FileInfo == nil {
			j.FileInfo = &domain.FileInfo{}
		}
		j.FileInfo.PageCount = pages
	})
}

// Advance reports sub in [0, 1] of work done within stage.
func (t *Tracker) Advance(ctx context.Context, stage Stage, sub float64, msg string) error {
	return t.update(ctx, func(j *Job) {
		j.Stage = stage
		if msg != "" {
			j.Message = msg
		}
		raise(j, ProgressFor(stage, sub))
	})
}

// Complete stores the outcome and sets progress to 100.
func (t *Tracker) Complete(ctx context.Context, outcome *domain.PipelineOutcome, diags []domain.PageDiagnostic) error {
	err := t.update(ctx, func(j *Job) {
		o := *outcome
		j.Result = &o
		j.Diagnostics = append([]domain.PageDiagnostic(nil), diags...)
		j.Status = StatusCompleted
		j.Stage = StageFinalize
		j.Message = "Processing complete"
		j.Progress = 100
	})
	if err == nil {
		t.logger.Info().
			Int("pages", outcome.PageCount).
			Int("successful", outcome.SuccessfulPages).
			Int("failed", outcome.FailedPages).
			Str("workflow", string(outcome.WorkflowType)).
			Msg("Job completed")
	}
	return err
}

// Fail records cause. Progress is left where it was.
func (t *Tracker) Fail(ctx context.Context, cause error, diags []domain.PageDiagnostic) error {
	err := t.update(ctx, func(j *Job) {
		j.Status = StatusFailed
		j.Error = cause.Error()
		j.Message = "Processing failed"
		if diags != nil {
			j.Diagnostics = append([]domain.PageDiagnostic(nil), diags...)
		}
	})
	if err == nil {
		t.logger.Error().Err(cause).Str("stage", string(t.stage(ctx))).Msg("Job failed")
	}
	return err
}

func (t *Tracker) stage(ctx context.Context) Stage {
	j, err := t.store.Get(ctx, t.id)
	if err != nil {
		return ""
	}
	return j.Stage
}

func (t *Tracker) update(ctx context.Context, fn func(*Job)) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, err := t.store.Update(ctx, t.id, func(j *Job) error {
		if j.Status.Terminal() {
			return ErrTerminal
		}
		fn(j)
		j.UpdatedAt = t.now()
		return nil
	})
	return err
}

func raise(j *Job, progress int) {
	if progress > j.Progress {
		j.Progress = progress
	}
}
