package engine

import (
	"time"

	dagerrors "github.com/stevehiehn/stepwise/internal/errors"
)

// Status is the outcome of a single step.
type Status string

const (
	StatusOK      Status = "ok"
	StatusSkipped Status = "skipped"
	StatusError   Status = "error"
	// StatusInit marks the sentinel record that opens every audit list.
	StatusInit Status = "init"
)

const initOp = "__init__"

// StepRecord is one entry of the audit trail.
type StepRecord struct {
	ID        string              `json:"id"`
	Index     int                 `json:"index"`
	Name      string              `json:"name"`
	Op        string              `json:"op"`
	Status    Status              `json:"status"`
	StartedAt time.Time           `json:"started_at"`
	Elapsed   time.Duration       `json:"elapsed_ns"`
	Args      Args                `json:"args,omitempty"`
	Error     *dagerrors.RunError `json:"error,omitempty"`
}

func initRecord(at time.Time) StepRecord {
	return StepRecord{ID: "init", Index: -1, Name: "init", Op: initOp, Status: StatusInit, StartedAt: at}
}

// Report summarises one Run or Validate call.
type Report struct {
	RunID        string                `json:"run_id"`
	ValidateOnly bool                  `json:"validate_only"`
	OK           bool                  `json:"ok"`
	Errors       []*dagerrors.RunError `json:"errors,omitempty"`
	NSteps       int                   `json:"n_steps"`
	Total        time.Duration         `json:"-"`
	TotalSec     float64               `json:"total_sec"`
	StartedAt    time.Time             `json:"started_at"`
	FinishedAt   time.Time             `json:"finished_at"`
}

func (r *Report) fail(err *dagerrors.RunError) {
	r.OK = false
	r.Errors = append(r.Errors, err)
}
