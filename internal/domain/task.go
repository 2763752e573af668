package domain

import (
	"errors"
	"time"

	"github.com/ordinaut/ordinaut/internal/value"
)

var (
	ErrTaskNotFound        = errors.New("task not found")
	ErrInvalidScheduleExpr = errors.New("schedule_expr is invalid for schedule_kind")
	ErrUnknownTimezone     = errors.New("timezone is not a valid IANA name")
	ErrDuplicateStepID     = errors.New("pipeline step ids must be unique")
	ErrEmptyPipeline       = errors.New("pipeline must have at least one step")
)

// ScheduleKind enumerates the trigger kinds a Task can use. Note that
// "condition" is deliberately not a member — see spec.md §9 and
// DESIGN.md's Open Question decisions.
type ScheduleKind string

const (
	ScheduleCron  ScheduleKind = "cron"
	ScheduleRRule ScheduleKind = "rrule"
	ScheduleOnce  ScheduleKind = "once"
	ScheduleEvent ScheduleKind = "event"
)

type TaskStatus string

const (
	TaskActive TaskStatus = "active"
	TaskPaused TaskStatus = "paused"
)

type Backoff string

const (
	BackoffExponential Backoff = "exponential"
	BackoffLinear      Backoff = "linear"
)

// BackoffPolicy controls retry delay growth for task-level retries
// (re-leasing of a due_work row), per spec.md §3/§4.5.
type BackoffPolicy struct {
	Kind        Backoff `json:"kind"`
	BaseSeconds float64 `json:"base_seconds"`
	MaxSeconds  float64 `json:"max_seconds"`
	Jitter      bool    `json:"jitter"`
}

// Step is one pipeline entry (spec.md §6.1).
type Step struct {
	ID             string       `json:"id"`
	Uses           string       `json:"uses"`
	With           value.Value  `json:"with,omitempty"`
	SaveAs         string       `json:"save_as,omitempty"`
	If             string       `json:"if,omitempty"`
	TimeoutSeconds int          `json:"timeout_seconds,omitempty"`
	MaxRetries     int          `json:"max_retries,omitempty"`
}

// Pipeline is the ordered, linear sequence of steps a Task executes.
// There is no fan-out/fan-in — see spec.md §1 Non-goals.
type Pipeline struct {
	Params value.Value `json:"params"`
	Steps  []Step      `json:"pipeline"`
}

// Validate checks the structural invariants of §4.3 step 1: unique
// step ids, non-empty `uses`.
func (p Pipeline) Validate() error {
	if len(p.Steps) == 0 {
		return ErrEmptyPipeline
	}
	seen := make(map[string]struct{}, len(p.Steps))
	for _, s := range p.Steps {
		if s.ID == "" || s.Uses == "" {
			return ErrEmptyPipeline
		}
		if _, dup := seen[s.ID]; dup {
			return ErrDuplicateStepID
		}
		seen[s.ID] = struct{}{}
	}
	return nil
}

// Task is the declarative definition of a schedule + pipeline
// (spec.md §3).
type Task struct {
	ID             string       `json:"id"`
	Title          string       `json:"title"`
	Description    string       `json:"description,omitempty"`
	CreatedBy      string       `json:"created_by"`
	ScheduleKind   ScheduleKind `json:"schedule_kind"`
	ScheduleExpr   string       `json:"schedule_expr"`
	Timezone       string       `json:"timezone"`
	Pipeline       Pipeline     `json:"payload"`
	Status         TaskStatus   `json:"status"`
	Priority       int          `json:"priority"`
	MaxRetries     int          `json:"max_retries"`
	Backoff        BackoffPolicy `json:"backoff"`
	ConcurrencyKey string       `json:"concurrency_key,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

func (t *Task) IsRecurring() bool {
	return t.ScheduleKind == ScheduleCron || t.ScheduleKind == ScheduleRRule
}
