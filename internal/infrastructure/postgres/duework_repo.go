package postgres

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ordinaut/ordinaut/internal/domain"
	"github.com/ordinaut/ordinaut/internal/repository"
	"github.com/ordinaut/ordinaut/internal/value"
)

type DueWorkRepository struct {
	pool *pgxpool.Pool
}

func NewDueWorkRepository(pool *pgxpool.Pool) *DueWorkRepository {
	return &DueWorkRepository{pool: pool}
}

func (r *DueWorkRepository) Enqueue(ctx context.Context, taskID string, runAt time.Time, eventPayload value.Value) error {
	var payload *value.Value
	if !eventPayload.IsNull() {
		payload = &eventPayload
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO due_work (task_id, run_at, event_payload)
		VALUES ($1, $2, $3)
		ON CONFLICT (task_id, run_at) DO NOTHING`, taskID, runAt, payload)
	if err != nil {
		return fmt.Errorf("enqueue due_work: %w", err)
	}
	return nil
}

func (r *DueWorkRepository) CancelUnlocked(ctx context.Context, taskID string) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM due_work WHERE task_id = $1 AND locked_until IS NULL`, taskID)
	if err != nil {
		return fmt.Errorf("cancel due_work: %w", err)
	}
	return nil
}

// Claim implements the atomic claim primitive of spec.md §4.2: select
// the single earliest claimable row under FOR UPDATE SKIP LOCKED, mark
// it leased, and load its owning Task in the same transaction. If the
// task declares a concurrency_key, the transaction holds a
// transaction-scoped Postgres advisory lock on that key long enough to
// check an explicit running marker — another due_work row sharing the
// same key with locked_until still in the future — and serialize that
// check against a concurrent claimant racing for a different row under
// the same key; a candidate whose key is already running is left
// unclaimed for a later tick, not claimed and blocked on.
func (r *DueWorkRepository) Claim(ctx context.Context, workerID string, leaseFor time.Duration) (*domain.DueWork, *domain.Task, bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, nil, false, fmt.Errorf("begin claim tx: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		SELECT dw.id, dw.task_id, dw.run_at, dw.attempt, dw.locked_by, t.concurrency_key
		FROM due_work dw
		JOIN tasks t ON t.id = dw.task_id
		WHERE dw.run_at <= now()
		  AND (dw.locked_until IS NULL OR dw.locked_until < now())
		ORDER BY dw.run_at ASC, t.priority DESC
		LIMIT 1
		FOR UPDATE OF dw SKIP LOCKED`)

	var id int64
	var taskID string
	var runAt time.Time
	var attempt int
	var priorOwner *string
	var concurrencyKey *string
	if err := row.Scan(&id, &taskID, &runAt, &attempt, &priorOwner, &concurrencyKey); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, false, nil
		}
		return nil, nil, false, fmt.Errorf("claim candidate: %w", err)
	}

	if concurrencyKey != nil && *concurrencyKey != "" {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, concurrencyKeyHash(*concurrencyKey)); err != nil {
			return nil, nil, false, fmt.Errorf("acquire concurrency lock: %w", err)
		}
		var running bool
		if err := tx.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM due_work dw2
				JOIN tasks t2 ON t2.id = dw2.task_id
				WHERE dw2.id <> $1
				  AND t2.concurrency_key = $2
				  AND dw2.locked_until IS NOT NULL AND dw2.locked_until > now()
			)`, id, *concurrencyKey).Scan(&running); err != nil {
			return nil, nil, false, fmt.Errorf("check concurrency key in-flight: %w", err)
		}
		if running {
			return nil, nil, false, nil
		}
	}

	lockedUntil := time.Now().UTC().Add(leaseFor)
	row = tx.QueryRow(ctx, `
		UPDATE due_work
		SET locked_until = $2, locked_by = $3,
		    attempt = CASE WHEN locked_by IS NULL THEN attempt ELSE attempt + 1 END
		WHERE id = $1
		RETURNING id, task_id, run_at, locked_until, locked_by, attempt, event_payload, created_at`,
		id, lockedUntil, workerID)

	var dw domain.DueWork
	if err := row.Scan(&dw.ID, &dw.TaskID, &dw.RunAt, &dw.LockedUntil, &dw.LockedBy, &dw.Attempt, &dw.EventPayload, &dw.CreatedAt); err != nil {
		return nil, nil, false, fmt.Errorf("lease due_work row: %w", err)
	}

	taskRow := tx.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, taskID)
	task, err := scanTask(taskRow)
	if err != nil {
		return nil, nil, false, fmt.Errorf("load claimed task: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, false, fmt.Errorf("commit claim tx: %w", err)
	}
	return &dw, task, true, nil
}

func (r *DueWorkRepository) RenewLease(ctx context.Context, id int64, workerID string, leaseFor time.Duration) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE due_work SET locked_until = $3
		WHERE id = $1 AND locked_by = $2`,
		id, workerID, time.Now().UTC().Add(leaseFor))
	if err != nil {
		return fmt.Errorf("renew lease: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrDueWorkNotOwned
	}
	return nil
}

func (r *DueWorkRepository) Delete(ctx context.Context, id int64) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM due_work WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete due_work: %w", err)
	}
	return nil
}

func (r *DueWorkRepository) Reschedule(ctx context.Context, id int64, runAt time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE due_work
		SET run_at = $2, locked_until = NULL, locked_by = NULL
		WHERE id = $1`, id, runAt)
	if err != nil {
		return fmt.Errorf("reschedule due_work: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrDueWorkNotFound
	}
	return nil
}

// ReclaimExpired is the Coordinator's lease-reclamation pass (spec.md
// §4.6): a row is returned to pending state only when its lease
// expired more than `grace` ago AND its lease holder has not
// heartbeated within `heartbeatDeadAfter` — a live worker merely stuck
// renewing one lease must never have it stolen out from under it.
// locked_by is left untouched: a subsequent claim needs it to tell a
// genuinely first claim from a reclaimed one (spec.md §4.2).
func (r *DueWorkRepository) ReclaimExpired(ctx context.Context, grace, heartbeatDeadAfter time.Duration, limit int) (int, error) {
	leaseCutoff := time.Now().UTC().Add(-grace)
	aliveSince := time.Now().UTC().Add(-heartbeatDeadAfter)
	tag, err := r.pool.Exec(ctx, `
		UPDATE due_work
		SET locked_until = NULL
		WHERE id IN (
			SELECT dw.id FROM due_work dw
			WHERE dw.locked_until IS NOT NULL AND dw.locked_until < $1
			  AND NOT EXISTS (
				SELECT 1 FROM worker_heartbeats wh
				WHERE wh.worker_id = dw.locked_by AND wh.last_seen >= $2
			  )
			ORDER BY dw.locked_until ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)`, leaseCutoff, aliveSince, limit)
	if err != nil {
		return 0, fmt.Errorf("reclaim expired leases: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *DueWorkRepository) Stats(ctx context.Context) (repository.QueueStats, error) {
	var s repository.QueueStats
	row := r.pool.QueryRow(ctx, `
		SELECT
			count(*) FILTER (WHERE locked_until IS NULL AND run_at > now()),
			count(*) FILTER (WHERE locked_until IS NULL AND run_at <= now()),
			count(*) FILTER (WHERE locked_until IS NOT NULL AND locked_until >= now()),
			coalesce(extract(epoch FROM now() - min(run_at)) FILTER (WHERE locked_until IS NULL AND run_at <= now()), 0)
		FROM due_work`)
	if err := row.Scan(&s.Pending, &s.Ready, &s.Leased, &s.OldestAgeSecs); err != nil {
		return s, fmt.Errorf("queue stats: %w", err)
	}

	processedRow := r.pool.QueryRow(ctx, `
		SELECT count(*) FROM task_runs WHERE finished_at >= now() - interval '1 hour'`)
	if err := processedRow.Scan(&s.ProcessedLastH); err != nil {
		return s, fmt.Errorf("processed count: %w", err)
	}
	return s, nil
}

func (r *DueWorkRepository) LatestRunAt(ctx context.Context, taskID string) (time.Time, bool, error) {
	var runAt time.Time
	row := r.pool.QueryRow(ctx, `
		SELECT run_at FROM due_work
		WHERE task_id = $1
		ORDER BY run_at DESC
		LIMIT 1`, taskID)
	if err := row.Scan(&runAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("latest run_at: %w", err)
	}
	return runAt, true, nil
}

// concurrencyKeyHash maps a concurrency_key string onto the int64
// space pg_advisory_xact_lock expects.
func concurrencyKeyHash(key string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return int64(h.Sum64())
}
