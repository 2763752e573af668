package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ordinaut/ordinaut/internal/domain"
)

type TaskRunRepository struct {
	pool *pgxpool.Pool
}

func NewTaskRunRepository(pool *pgxpool.Pool) *TaskRunRepository {
	return &TaskRunRepository{pool: pool}
}

func (r *TaskRunRepository) Start(ctx context.Context, run *domain.TaskRun) (*domain.TaskRun, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO task_runs (task_id, lease_owner, attempt)
		VALUES ($1, $2, $3)
		RETURNING id, task_id, lease_owner, started_at, finished_at, success, attempt, output, error`,
		run.TaskID, run.LeaseOwner, run.Attempt)

	var created domain.TaskRun
	if err := row.Scan(
		&created.ID, &created.TaskID, &created.LeaseOwner, &created.StartedAt,
		&created.FinishedAt, &created.Success, &created.Attempt, &created.Output, &created.Error,
	); err != nil {
		return nil, fmt.Errorf("start task run: %w", err)
	}
	return &created, nil
}

func (r *TaskRunRepository) Complete(ctx context.Context, id string, success bool, output []byte, errMsg *string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE task_runs
		SET finished_at = now(), success = $2, output = $3, error = $4
		WHERE id = $1`, id, success, output, errMsg)
	if err != nil {
		return fmt.Errorf("complete task run: %w", err)
	}
	return nil
}

func (r *TaskRunRepository) ExistsForTask(ctx context.Context, taskID string) (bool, error) {
	var exists bool
	row := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM task_runs WHERE task_id = $1)`, taskID)
	if err := row.Scan(&exists); err != nil {
		return false, fmt.Errorf("task run exists for task: %w", err)
	}
	return exists, nil
}
