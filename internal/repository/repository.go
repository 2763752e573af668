// Package repository defines the Durable Store contracts of spec.md
// §4.2/§3. Use-case and daemon code depends on these interfaces, not
// on the concrete Postgres implementation — the same split the
// teacher uses (internal/repository vs internal/infrastructure/postgres),
// so a fake can stand in under test (internal/infrastructure/memrepo).
package repository

import (
	"context"
	"time"

	"github.com/ordinaut/ordinaut/internal/domain"
	"github.com/ordinaut/ordinaut/internal/value"
)

type AgentRepository interface {
	Create(ctx context.Context, a *domain.Agent) (*domain.Agent, error)
	GetByID(ctx context.Context, id string) (*domain.Agent, error)
	GetByName(ctx context.Context, name string) (*domain.Agent, error)
	Delete(ctx context.Context, id string) error
}

type TaskRepository interface {
	Create(ctx context.Context, t *domain.Task) (*domain.Task, error)
	GetByID(ctx context.Context, id string) (*domain.Task, error)
	Update(ctx context.Context, t *domain.Task) (*domain.Task, error)
	SetStatus(ctx context.Context, id string, status domain.TaskStatus) error
	Delete(ctx context.Context, id string) error
	// ListActive returns every active task of the given kinds, used by
	// the Scheduler tick (cron/rrule/once) or Event Ingress (event).
	ListActive(ctx context.Context, kinds []domain.ScheduleKind) ([]*domain.Task, error)
	ListActiveEventTasks(ctx context.Context) ([]*domain.Task, error)
}

// DueWorkRepository is the atomic claim/enqueue primitive of spec.md
// §4.2.
type DueWorkRepository interface {
	// Enqueue performs the idempotent insert of (task_id, run_at); a
	// repeat insert of an identical row is a no-op (spec.md §8
	// "idempotent enqueue"). eventPayload is value.Null() for
	// time-triggered occurrences.
	Enqueue(ctx context.Context, taskID string, runAt time.Time, eventPayload value.Value) error
	// CancelUnlocked deletes any unlocked due_work row for taskID —
	// used on task edit/pause (spec.md §4.4 steps 4-5).
	CancelUnlocked(ctx context.Context, taskID string) error
	// Claim atomically claims up to one row per call: SELECT ... FOR
	// UPDATE SKIP LOCKED, then UPDATE locked_until/locked_by/attempt —
	// returns ok=false when no claimable row exists. If the task's
	// concurrency_key is set, the claim also takes a transaction-scoped
	// Postgres advisory lock on that key, released when the claim
	// transaction ends; while holding it, the claim declines the row if
	// another row sharing the key holds a live lease.
	Claim(ctx context.Context, workerID string, leaseFor time.Duration) (*domain.DueWork, *domain.Task, bool, error)
	RenewLease(ctx context.Context, id int64, workerID string, leaseFor time.Duration) error
	Delete(ctx context.Context, id int64) error
	// Reschedule returns a failed-but-retryable row to pending state at
	// a new run_at, clearing its lease.
	Reschedule(ctx context.Context, id int64, runAt time.Time) error
	// ReclaimExpired clears locked_until for rows whose lease expired
	// more than `grace` ago AND whose lease holder has not heartbeated
	// within `heartbeatDeadAfter` — a live worker's lease must never be
	// reclaimed out from under it even if renewal is temporarily stuck
	// (spec.md §4.6, Testable Property 1). locked_by is left in place
	// so a later claim can tell a genuinely first claim (locked_by IS
	// NULL) from a reclaimed one (spec.md §4.2's attempt formula).
	ReclaimExpired(ctx context.Context, grace, heartbeatDeadAfter time.Duration, limit int) (int, error)
	Stats(ctx context.Context) (QueueStats, error)
	// LatestRunAt returns the run_at of the most recently materialized
	// due_work row for taskID (pending or leased), used by the
	// Scheduler to decide whether an occurrence is still outstanding
	// (spec.md §4.4). ok is false if no row exists for the task.
	LatestRunAt(ctx context.Context, taskID string) (runAt time.Time, ok bool, err error)
}

type QueueStats struct {
	Pending        int64
	Ready          int64
	Leased         int64
	OldestAgeSecs  float64
	ProcessedLastH int64
}

type TaskRunRepository interface {
	Start(ctx context.Context, run *domain.TaskRun) (*domain.TaskRun, error)
	Complete(ctx context.Context, id string, success bool, output []byte, errMsg *string) error
	// ExistsForTask reports whether any run has ever been recorded for
	// taskID — used by the Scheduler to recognize a `once` task that
	// already fired, so it is never re-enqueued (spec.md §4.4).
	ExistsForTask(ctx context.Context, taskID string) (bool, error)
}

type HeartbeatRepository interface {
	Upsert(ctx context.Context, hb *domain.WorkerHeartbeat) error
	IsAlive(ctx context.Context, workerID string, deadAfter time.Duration) (bool, error)
	PruneDead(ctx context.Context, deadAfter time.Duration) (int, error)
}

type AuditRepository interface {
	Append(ctx context.Context, entry domain.AuditLog) error
}

// EventIdempotencyRepository backs Event Ingress's "exactly-once
// across restarts" guarantee (spec.md §4.7): it records
// (task_id, event_id) pairs so a redelivered event does not enqueue a
// duplicate due_work row.
type EventIdempotencyRepository interface {
	// MarkIngested returns false if (taskID, eventID) was already
	// recorded — the caller must then skip the enqueue.
	MarkIngested(ctx context.Context, taskID, eventID string) (bool, error)
}
