// Package coordinator implements the Coordinator of spec.md §4.6: the
// process that keeps every claimable row eventually processed even if
// workers crash. Grounded on the teacher's scheduler.Reaper
// (ticker loop, reap pass split into independent sub-tasks), extended
// with dead-heartbeat pruning and queue statistics, and with its own
// mutual-exclusion lock (spec.md §4.4's Postgres advisory lock remains
// the Scheduler's alone, so the Coordinator leases a Redis key instead
// — see internal/leader.RedisLock).
package coordinator

import (
	"context"
	"log/slog"
	"time"

	"github.com/ordinaut/ordinaut/internal/leader"
	"github.com/ordinaut/ordinaut/internal/metrics"
	"github.com/ordinaut/ordinaut/internal/repository"
)

const lockName = "coordinator"

// Locker is the subset of leader.RedisLock the Coordinator needs.
type Locker interface {
	TryAcquire(ctx context.Context, name string, ttl time.Duration) (bool, error)
	Renew(ctx context.Context, name string, ttl time.Duration) error
	Release(ctx context.Context, name string) error
}

var _ Locker = (*leader.RedisLock)(nil)

type Coordinator struct {
	work       repository.DueWorkRepository
	heartbeats repository.HeartbeatRepository
	lock       Locker
	logger     *slog.Logger

	interval           time.Duration
	staleLeaseGrace    time.Duration
	deadHeartbeatGrace time.Duration

	reclaimBatchLimit int
}

func New(
	work repository.DueWorkRepository,
	heartbeats repository.HeartbeatRepository,
	lock Locker,
	logger *slog.Logger,
	interval, staleLeaseGrace, deadHeartbeatGrace time.Duration,
) *Coordinator {
	return &Coordinator{
		work: work, heartbeats: heartbeats, lock: lock,
		logger:             logger.With("component", "coordinator"),
		interval:           interval,
		staleLeaseGrace:    staleLeaseGrace,
		deadHeartbeatGrace: deadHeartbeatGrace,
		reclaimBatchLimit:  500,
	}
}

func (c *Coordinator) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.logger.Info("coordinator started", "interval", c.interval,
		"stale_lease_grace", c.staleLeaseGrace, "dead_heartbeat_grace", c.deadHeartbeatGrace)

	for {
		select {
		case <-ctx.Done():
			relCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := c.lock.Release(relCtx, lockName); err != nil {
				c.logger.Error("release coordinator lock", "error", err)
			}
			cancel()
			c.logger.Info("coordinator shut down")
			return
		case <-ticker.C:
			c.tick(ctx)
		}
	}
}

func (c *Coordinator) tick(ctx context.Context) {
	acquired, err := c.lock.TryAcquire(ctx, lockName, c.interval*2)
	if err != nil {
		c.logger.Error("acquire coordinator lock", "error", err)
		return
	}
	if !acquired {
		// Renew in case this replica already held it last tick and the
		// TTL is approaching expiry; TryAcquire on an already-expired
		// key this replica once held will simply re-acquire next tick.
		if err := c.lock.Renew(ctx, lockName, c.interval*2); err != nil {
			c.logger.Error("renew coordinator lock", "error", err)
		}
		return
	}

	c.reapLeases(ctx)
	c.pruneHeartbeats(ctx)
	c.reportStats(ctx)
}

// reapLeases reclaims expired leases (spec.md §4.6 bullet 1). A lease
// is only reclaimed once it is both past its grace window AND its
// holder has gone quiet for deadHeartbeatGrace — a worker merely stuck
// renewing one lease, but still heartbeating, keeps it.
func (c *Coordinator) reapLeases(ctx context.Context) {
	n, err := c.work.ReclaimExpired(ctx, c.staleLeaseGrace, c.deadHeartbeatGrace, c.reclaimBatchLimit)
	if err != nil {
		c.logger.Error("reclaim expired leases", "error", err)
		return
	}
	if n > 0 {
		metrics.LeasesReclaimedTotal.Add(float64(n))
		c.logger.Info("reclaimed expired leases", "count", n)
	}
}

// pruneHeartbeats deletes worker_heartbeat rows for workers that have
// not checked in within deadHeartbeatGrace (spec.md §4.6 bullet 2).
func (c *Coordinator) pruneHeartbeats(ctx context.Context) {
	n, err := c.heartbeats.PruneDead(ctx, c.deadHeartbeatGrace)
	if err != nil {
		c.logger.Error("prune dead heartbeats", "error", err)
		return
	}
	if n > 0 {
		metrics.DeadWorkersPrunedTotal.Add(float64(n))
		c.logger.Info("pruned dead worker heartbeats", "count", n)
	}
}

// reportStats computes and exposes queue statistics (spec.md §4.6
// bullet 3) via the internal Prometheus registry.
func (c *Coordinator) reportStats(ctx context.Context) {
	stats, err := c.work.Stats(ctx)
	if err != nil {
		c.logger.Error("queue stats", "error", err)
		return
	}
	metrics.QueueDepth.WithLabelValues("pending").Set(float64(stats.Pending))
	metrics.QueueDepth.WithLabelValues("ready").Set(float64(stats.Ready))
	metrics.QueueDepth.WithLabelValues("leased").Set(float64(stats.Leased))
	c.logger.Debug("queue stats",
		"pending", stats.Pending, "ready", stats.Ready, "leased", stats.Leased,
		"oldest_age_secs", stats.OldestAgeSecs, "processed_last_hour", stats.ProcessedLastH)
}

// Stats exposes the current queue statistics directly, for a CLI
// subcommand or health check to report without waiting for a tick.
func (c *Coordinator) Stats(ctx context.Context) (repository.QueueStats, error) {
	return c.work.Stats(ctx)
}
