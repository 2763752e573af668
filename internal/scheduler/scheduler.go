// Package scheduler implements the Scheduler Daemon of spec.md §4.4:
// it translates task definitions into due_work rows. Grounded on the
// teacher's scheduler.Dispatcher (ticker loop, "advance past stale
// next" misfire handling), generalized to the four schedule kinds and
// to single-leader election via a Postgres advisory lock since the
// teacher runs only one scheduler replica.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ordinaut/ordinaut/internal/domain"
	"github.com/ordinaut/ordinaut/internal/leader"
	"github.com/ordinaut/ordinaut/internal/repository"
	"github.com/ordinaut/ordinaut/internal/trigger"
	"github.com/ordinaut/ordinaut/internal/value"
)

// temporalKinds are the schedule kinds the Scheduler materializes
// occurrences for; "event" tasks are the Event Ingress's concern.
var temporalKinds = []domain.ScheduleKind{
	domain.ScheduleCron, domain.ScheduleRRule, domain.ScheduleOnce,
}

// maxMisfireAdvances bounds the coalescing loop in nextFire so a task
// whose schedule fires faster than the daemon's downtime cannot spin
// forever trying to catch up one occurrence at a time.
const maxMisfireAdvances = 10000

// LeaderLock is the subset of leader.PostgresLock the Scheduler needs
// — narrowed to an interface so tests can substitute a fake.
type LeaderLock interface {
	TryAcquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
	Held() bool
}

var _ LeaderLock = (*leader.PostgresLock)(nil)

type Scheduler struct {
	tasks    repository.TaskRepository
	work     repository.DueWorkRepository
	taskRuns repository.TaskRunRepository
	lock     LeaderLock
	logger   *slog.Logger

	interval     time.Duration
	misfireGrace time.Duration
}

func New(
	tasks repository.TaskRepository,
	work repository.DueWorkRepository,
	taskRuns repository.TaskRunRepository,
	lock LeaderLock,
	logger *slog.Logger,
	interval, misfireGrace time.Duration,
) *Scheduler {
	return &Scheduler{
		tasks: tasks, work: work, taskRuns: taskRuns, lock: lock,
		logger:       logger.With("component", "scheduler"),
		interval:     interval,
		misfireGrace: misfireGrace,
	}
}

// Start runs the tick loop until ctx is canceled, releasing leadership
// on exit if held.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("scheduler started", "interval", s.interval, "misfire_grace", s.misfireGrace)

	for {
		select {
		case <-ctx.Done():
			if s.lock.Held() {
				relCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				if err := s.lock.Release(relCtx); err != nil {
					s.logger.Error("release leader lock", "error", err)
				}
				cancel()
			}
			s.logger.Info("scheduler shut down")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if !s.lock.Held() {
		acquired, err := s.lock.TryAcquire(ctx)
		if err != nil {
			s.logger.Error("acquire leader lock", "error", err)
			return
		}
		if !acquired {
			return
		}
		s.logger.Info("acquired scheduler leadership")
	}

	active, err := s.tasks.ListActive(ctx, temporalKinds)
	if err != nil {
		s.logger.Error("list active tasks", "error", err)
		return
	}

	now := time.Now().UTC()
	for _, t := range active {
		if err := s.scheduleOne(ctx, t, now); err != nil {
			s.logger.Error("schedule task", "task_id", t.ID, "error", err)
		}
	}
}

// scheduleOne materializes the next due_work row for t, if none is
// outstanding, per the tick algorithm of spec.md §4.4 steps 1-2. At
// most one occurrence of a recurring task is ever outstanding at a
// time: while a due_work row for t still exists (pending or leased),
// the next occurrence is not computed — only once a worker deletes
// that row on completion does the following tick materialize the next
// one, computed from the current time.
func (s *Scheduler) scheduleOne(ctx context.Context, t *domain.Task, now time.Time) error {
	_, exists, err := s.work.LatestRunAt(ctx, t.ID)
	if err != nil {
		return fmt.Errorf("latest run_at: %w", err)
	}

	if exists {
		return nil
	}

	if t.ScheduleKind == domain.ScheduleOnce {
		fired, err := s.taskRuns.ExistsForTask(ctx, t.ID)
		if err != nil {
			return fmt.Errorf("check prior runs: %w", err)
		}
		if fired {
			return nil
		}
		next, ok, err := s.nextFire(t, time.Time{})
		if err != nil {
			return fmt.Errorf("compute next occurrence: %w", err)
		}
		if !ok {
			return nil
		}
		return s.enqueue(ctx, t, next)
	}

	next, ok, err := s.nextFire(t, now)
	if err != nil {
		return fmt.Errorf("compute next occurrence: %w", err)
	}
	if !ok {
		return nil
	}
	return s.enqueue(ctx, t, next)
}

func (s *Scheduler) enqueue(ctx context.Context, t *domain.Task, runAt time.Time) error {
	if err := s.work.Enqueue(ctx, t.ID, runAt, value.Null()); err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	s.logger.Info("enqueued occurrence", "task_id", t.ID, "run_at", runAt)
	return nil
}

// nextFire computes t's next occurrence after `after`, coalescing a
// run of missed occurrences older than misfireGrace into the single
// occurrence nearest the grace cutoff (spec.md §4.4 "Accuracy").
// `once` tasks are never coalesced — they fire exactly once, whenever
// their instant is first observed to be due.
func (s *Scheduler) nextFire(t *domain.Task, after time.Time) (time.Time, bool, error) {
	next, ok, err := trigger.NextAfterDTStart(t.ScheduleKind, t.ScheduleExpr, t.Timezone, t.CreatedAt, after)
	if err != nil || !ok || t.ScheduleKind == domain.ScheduleOnce {
		return next, ok, err
	}

	cutoff := time.Now().UTC().Add(-s.misfireGrace)
	for i := 0; i < maxMisfireAdvances && next.Before(cutoff); i++ {
		advanced, advancedOK, advErr := trigger.NextAfterDTStart(t.ScheduleKind, t.ScheduleExpr, t.Timezone, t.CreatedAt, next.Add(time.Nanosecond))
		if advErr != nil || !advancedOK || !advanced.After(next) {
			break
		}
		next = advanced
	}
	return next, true, nil
}

// RunNow inserts due_work(task_id, run_at=now), bypassing the
// schedule entirely (spec.md §4.4 "Manual triggers").
func (s *Scheduler) RunNow(ctx context.Context, taskID string) error {
	if err := s.work.Enqueue(ctx, taskID, time.Now().UTC(), value.Null()); err != nil {
		return fmt.Errorf("run now: %w", err)
	}
	return nil
}
