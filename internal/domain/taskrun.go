package domain

import (
	"errors"
	"time"

	"github.com/ordinaut/ordinaut/internal/value"
)

var ErrTaskRunNotFound = errors.New("task run not found")

// TaskRun is an append-only execution record (spec.md §3). It is
// created at the start of a claim and written exactly once more, at
// the terminal outcome.
type TaskRun struct {
	ID         string      `json:"id"`
	TaskID     string      `json:"task_id"`
	LeaseOwner string      `json:"lease_owner"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
	Success    *bool       `json:"success,omitempty"`
	Attempt    int         `json:"attempt"`
	Output     value.Value `json:"output,omitempty"`
	Error      *string     `json:"error,omitempty"`
}

// Terminal reports whether this run has reached a final outcome.
func (r TaskRun) Terminal() bool {
	return r.FinishedAt != nil && r.Success != nil
}
