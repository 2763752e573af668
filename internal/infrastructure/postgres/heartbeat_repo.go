package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ordinaut/ordinaut/internal/domain"
)

type HeartbeatRepository struct {
	pool *pgxpool.Pool
}

func NewHeartbeatRepository(pool *pgxpool.Pool) *HeartbeatRepository {
	return &HeartbeatRepository{pool: pool}
}

func (r *HeartbeatRepository) Upsert(ctx context.Context, hb *domain.WorkerHeartbeat) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO worker_heartbeats (worker_id, last_seen, processed_count, pid, hostname)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (worker_id) DO UPDATE SET
			last_seen = EXCLUDED.last_seen,
			processed_count = EXCLUDED.processed_count,
			pid = EXCLUDED.pid,
			hostname = EXCLUDED.hostname`,
		hb.WorkerID, hb.LastSeen, hb.ProcessedCount, hb.PID, hb.Hostname)
	if err != nil {
		return fmt.Errorf("upsert heartbeat: %w", err)
	}
	return nil
}

func (r *HeartbeatRepository) IsAlive(ctx context.Context, workerID string, deadAfter time.Duration) (bool, error) {
	var alive bool
	row := r.pool.QueryRow(ctx, `
		SELECT last_seen >= $2 FROM worker_heartbeats WHERE worker_id = $1`,
		workerID, time.Now().UTC().Add(-deadAfter))
	if err := row.Scan(&alive); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check heartbeat: %w", err)
	}
	return alive, nil
}

// PruneDead removes heartbeat rows that have not been refreshed in
// over deadAfter — the Coordinator's "worker presumed dead" sweep
// (spec.md §4.6).
func (r *HeartbeatRepository) PruneDead(ctx context.Context, deadAfter time.Duration) (int, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM worker_heartbeats WHERE last_seen < $1`,
		time.Now().UTC().Add(-deadAfter))
	if err != nil {
		return 0, fmt.Errorf("prune dead heartbeats: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
