package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ordinaut/ordinaut/internal/domain"
)

type AgentRepository struct {
	pool *pgxpool.Pool
}

func NewAgentRepository(pool *pgxpool.Pool) *AgentRepository {
	return &AgentRepository{pool: pool}
}

func (r *AgentRepository) Create(ctx context.Context, a *domain.Agent) (*domain.Agent, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO agents (name, scopes) VALUES ($1, $2)
		RETURNING id, name, scopes, created_at`, a.Name, a.Scopes)

	created, err := scanAgent(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, domain.ErrAgentNameConflict
		}
		return nil, err
	}
	return created, nil
}

func (r *AgentRepository) GetByID(ctx context.Context, id string) (*domain.Agent, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, name, scopes, created_at FROM agents WHERE id = $1`, id)
	return scanAgent(row)
}

func (r *AgentRepository) GetByName(ctx context.Context, name string) (*domain.Agent, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, name, scopes, created_at FROM agents WHERE name = $1`, name)
	return scanAgent(row)
}

func (r *AgentRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM agents WHERE id = $1`, id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return domain.ErrAgentHasReferences
		}
		return fmt.Errorf("delete agent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAgentNotFound
	}
	return nil
}

func scanAgent(row rowScanner) (*domain.Agent, error) {
	var a domain.Agent
	if err := row.Scan(&a.ID, &a.Name, &a.Scopes, &a.CreatedAt); err != nil {
		return nil, mapNoRows(err, domain.ErrAgentNotFound)
	}
	return &a, nil
}
