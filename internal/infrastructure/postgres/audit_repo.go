package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ordinaut/ordinaut/internal/domain"
)

type AuditRepository struct {
	pool *pgxpool.Pool
}

func NewAuditRepository(pool *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{pool: pool}
}

func (r *AuditRepository) Append(ctx context.Context, entry domain.AuditLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO audit_log (at, actor_agent_id, action, subject_id, details)
		VALUES ($1, $2, $3, $4, $5)`,
		entry.At, entry.ActorAgentID, entry.Action, entry.SubjectID, entry.Details)
	if err != nil {
		return fmt.Errorf("append audit log: %w", err)
	}
	return nil
}
