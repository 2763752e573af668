package leader

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLock gives the Coordinator its own mutual-exclusion primitive,
// adapted from minisource-scheduler's DistributedLocker. The
// Coordinator has no natural SQL row to claim the way a due_work row
// gives the Worker one, so it leases a plain key instead; the
// Postgres advisory lock in this package remains the authoritative
// lock for the Scheduler (spec.md §4.4).
type RedisLock struct {
	client *redis.Client
	id     string
}

func NewRedisLock(client *redis.Client, holderID string) *RedisLock {
	return &RedisLock{client: client, id: holderID}
}

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

var renewScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("pexpire", KEYS[1], ARGV[2])
	else
		return 0
	end
`)

func (l *RedisLock) key(name string) string {
	return "ordinaut:lock:" + name
}

// TryAcquire sets the lock key with NX, succeeding only if unheld.
func (l *RedisLock) TryAcquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key(name), l.id, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire redis lock %s: %w", name, err)
	}
	return ok, nil
}

// Renew extends the TTL of a lock this holder still owns.
func (l *RedisLock) Renew(ctx context.Context, name string, ttl time.Duration) error {
	_, err := renewScript.Run(ctx, l.client, []string{l.key(name)}, l.id, ttl.Milliseconds()).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("renew redis lock %s: %w", name, err)
	}
	return nil
}

// Release gives up the lock, only if still held by this holder.
func (l *RedisLock) Release(ctx context.Context, name string) error {
	_, err := releaseScript.Run(ctx, l.client, []string{l.key(name)}, l.id).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("release redis lock %s: %w", name, err)
	}
	return nil
}
