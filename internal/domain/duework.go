package domain

import (
	"errors"
	"time"

	"github.com/ordinaut/ordinaut/internal/value"
)

var (
	ErrDueWorkNotFound = errors.New("due_work row not found")
	ErrDueWorkNotOwned = errors.New("due_work row is not owned by this lease holder")
)

// DueWork is a single materialized occurrence of a Task waiting to be
// claimed and executed (spec.md §3).
type DueWork struct {
	ID          int64       `json:"id"`
	TaskID      string      `json:"task_id"`
	RunAt       time.Time   `json:"run_at"`
	LockedUntil *time.Time  `json:"locked_until,omitempty"`
	LockedBy    *string     `json:"locked_by,omitempty"`
	Attempt     int         `json:"attempt"`
	// EventPayload carries the originating event's payload for rows
	// enqueued by Event Ingress (spec.md §4.7); Null for time-triggered
	// occurrences. The executor seeds ctx.event.payload from it.
	EventPayload value.Value `json:"event_payload,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
}

// Claimable reports the §3 claimability predicate:
// run_at ≤ now AND (locked_until IS NULL OR locked_until < now).
func (d DueWork) Claimable(now time.Time) bool {
	if d.RunAt.After(now) {
		return false
	}
	return d.LockedUntil == nil || d.LockedUntil.Before(now)
}
