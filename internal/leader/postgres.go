// Package leader implements the single-leader election the Scheduler
// Daemon needs (spec.md §4.4): only one scheduler tick loop may be
// materializing due_work rows at a time, or two replicas racing would
// double-enqueue the same occurrence.
package leader

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresLock is a session-scoped advisory lock: it is held on one
// pinned pool connection for as long as that connection stays open,
// so it survives across the Scheduler's many short-lived queries
// within a tick. It is the authoritative lock — if Postgres is
// reachable, exactly one scheduler replica holds it.
type PostgresLock struct {
	pool *pgxpool.Pool
	key  int64
	conn *pgxpool.Conn
}

func NewPostgresLock(pool *pgxpool.Pool, key int64) *PostgresLock {
	return &PostgresLock{pool: pool, key: key}
}

// TryAcquire attempts to take the lock without blocking. false means
// another replica currently holds it.
func (l *PostgresLock) TryAcquire(ctx context.Context) (bool, error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("acquire connection for leader lock: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, l.key).Scan(&acquired); err != nil {
		conn.Release()
		return false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return false, nil
	}

	l.conn = conn
	return true, nil
}

// Release gives up the lock on the same connection it was acquired on
// — advisory locks are session-scoped, so unlocking from a different
// connection would be a no-op — and returns that connection to the pool.
func (l *PostgresLock) Release(ctx context.Context) error {
	if l.conn == nil {
		return nil
	}
	conn := l.conn
	l.conn = nil
	defer conn.Release()

	_, err := conn.Exec(ctx, `SELECT pg_advisory_unlock($1)`, l.key)
	return err
}

// Held reports whether this instance currently believes it holds the lock.
func (l *PostgresLock) Held() bool {
	return l.conn != nil
}
