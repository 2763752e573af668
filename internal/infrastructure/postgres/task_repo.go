package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ordinaut/ordinaut/internal/domain"
)

type TaskRepository struct {
	pool *pgxpool.Pool
}

func NewTaskRepository(pool *pgxpool.Pool) *TaskRepository {
	return &TaskRepository{pool: pool}
}

const taskColumns = `id, title, description, created_by, schedule_kind, schedule_expr,
	timezone, payload, status, priority, max_retries, backoff_kind, backoff_base,
	backoff_max, backoff_jitter, concurrency_key, created_at, updated_at`

func (r *TaskRepository) Create(ctx context.Context, t *domain.Task) (*domain.Task, error) {
	query := `
		INSERT INTO tasks (
			title, description, created_by, schedule_kind, schedule_expr,
			timezone, payload, status, priority, max_retries, backoff_kind,
			backoff_base, backoff_max, backoff_jitter, concurrency_key
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		RETURNING ` + taskColumns

	row := r.pool.QueryRow(ctx, query,
		t.Title, t.Description, t.CreatedBy, t.ScheduleKind, t.ScheduleExpr,
		t.Timezone, t.Pipeline, t.Status, t.Priority, t.MaxRetries, t.Backoff.Kind,
		t.Backoff.BaseSeconds, t.Backoff.MaxSeconds, t.Backoff.Jitter, nullableString(t.ConcurrencyKey),
	)

	created, err := scanTask(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return nil, domain.ErrAgentNotFound
		}
		return nil, err
	}
	return created, nil
}

func (r *TaskRepository) GetByID(ctx context.Context, id string) (*domain.Task, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
	return scanTask(row)
}

func (r *TaskRepository) Update(ctx context.Context, t *domain.Task) (*domain.Task, error) {
	query := `
		UPDATE tasks SET
			title = $2, description = $3, schedule_kind = $4, schedule_expr = $5,
			timezone = $6, payload = $7, priority = $8, max_retries = $9,
			backoff_kind = $10, backoff_base = $11, backoff_max = $12,
			backoff_jitter = $13, concurrency_key = $14, updated_at = now()
		WHERE id = $1
		RETURNING ` + taskColumns

	row := r.pool.QueryRow(ctx, query,
		t.ID, t.Title, t.Description, t.ScheduleKind, t.ScheduleExpr, t.Timezone,
		t.Pipeline, t.Priority, t.MaxRetries, t.Backoff.Kind, t.Backoff.BaseSeconds,
		t.Backoff.MaxSeconds, t.Backoff.Jitter, nullableString(t.ConcurrencyKey),
	)
	return scanTask(row)
}

func (r *TaskRepository) SetStatus(ctx context.Context, id string, status domain.TaskStatus) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE tasks SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("set task status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrTaskNotFound
	}
	return nil
}

func (r *TaskRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrTaskNotFound
	}
	return nil
}

func (r *TaskRepository) ListActive(ctx context.Context, kinds []domain.ScheduleKind) ([]*domain.Task, error) {
	if len(kinds) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(kinds))
	args := make([]any, len(kinds))
	for i, k := range kinds {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = k
	}
	query := fmt.Sprintf(`SELECT %s FROM tasks WHERE status = 'active' AND schedule_kind IN (%s)`,
		taskColumns, strings.Join(placeholders, ","))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list active tasks: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

func (r *TaskRepository) ListActiveEventTasks(ctx context.Context) ([]*domain.Task, error) {
	return r.ListActive(ctx, []domain.ScheduleKind{domain.ScheduleEvent})
}

func collectTasks(rows pgx.Rows) ([]*domain.Task, error) {
	var tasks []*domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var t domain.Task
	var concurrencyKey *string
	err := row.Scan(
		&t.ID, &t.Title, &t.Description, &t.CreatedBy, &t.ScheduleKind, &t.ScheduleExpr,
		&t.Timezone, &t.Pipeline, &t.Status, &t.Priority, &t.MaxRetries, &t.Backoff.Kind,
		&t.Backoff.BaseSeconds, &t.Backoff.MaxSeconds, &t.Backoff.Jitter, &concurrencyKey,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, mapNoRows(err, domain.ErrTaskNotFound)
	}
	if concurrencyKey != nil {
		t.ConcurrencyKey = *concurrencyKey
	}
	return &t, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
