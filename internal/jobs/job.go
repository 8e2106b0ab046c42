// Package jobs holds job state, its stores and the single-writer progress
// tracker.
package jobs

import (
	"time"

	"github.com/spherical/doc-ingest/internal/domain"
)

// Status is the lifecycle state of a job
type Status string

const (
	StatusUploaded   Status = "uploaded"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job is the persisted record of one document submission.
type Job struct {
	ID          string                  `json:"job_id"`
	Status      Status                  `json:"status"`
	Progress    int                     `json:"progress"`
	Stage       Stage                   `json:"stage"`
	Message     string                  `json:"message"`
	Result      *domain.PipelineOutcome `json:"result,omitempty"`
	Error       string                  `json:"error,omitempty"`
	CreatedAt   time.Time               `json:"created_at"`
	UpdatedAt   time.Time               `json:"updated_at"`
	FileInfo    *domain.FileInfo        `json:"file_info,omitempty"`
	Diagnostics []domain.PageDiagnostic `json:"diagnostics,omitempty"`
}

// Clone returns a deep copy safe to hand to another goroutine.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	if j.Result != nil {
		r := *j.Result
		c.Result = &r
	}
	if j.FileInfo != nil {
		f := *j.FileInfo
		c.FileInfo = &f
	}
	if j.Diagnostics != nil {
		c.Diagnostics = append([]domain.PageDiagnostic(nil), j.Diagnostics...)
	}
	return &c
}

// StatusView is the poller-facing summary of a job.
type StatusView struct {
	JobID    string         `json:"job_id"`
	Status   Status         `json:"status"`
	Progress int            `json:"progress"`
	Stage    Stage          `json:"stage"`
	Message  string         `json:"message"`
	Result   *ResultSummary `json:"result,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// ResultSummary is the subset of PipelineOutcome exposed in status polls.
type ResultSummary struct {
	CombinedText string              `json:"combined_text"`
	PageCount    int                 `json:"page_count"`
	WorkflowType domain.WorkflowType `json:"workflow_type"`
}

// View builds the status summary.
func (j *Job) View() StatusView {
	v := StatusView{
		JobID:    j.ID,
		Status:   j.Status,
		Progress: j.Progress,
		Stage:    j.Stage,
		Message:  j.Message,
		Error:    j.Error,
	}
	if j.Result != nil {
		v.Result = &ResultSummary{
			CombinedText: j.Result.CombinedText,
			PageCount:    j.Result.PageCount,
			WorkflowType: j.Result.WorkflowType,
		}
	}
	return v
}
