package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type EventIdempotencyRepository struct {
	pool *pgxpool.Pool
}

func NewEventIdempotencyRepository(pool *pgxpool.Pool) *EventIdempotencyRepository {
	return &EventIdempotencyRepository{pool: pool}
}

// MarkIngested backs the Event Ingress exactly-once guarantee (spec.md
// §4.7): a duplicate (task_id, event_id) pair hits the primary key
// conflict and reports false rather than erroring, so the caller can
// silently skip the redelivered event.
func (r *EventIdempotencyRepository) MarkIngested(ctx context.Context, taskID, eventID string) (bool, error) {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO ingested_events (task_id, event_id) VALUES ($1, $2)`, taskID, eventID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return false, nil
		}
		return false, fmt.Errorf("mark event ingested: %w", err)
	}
	return true, nil
}
