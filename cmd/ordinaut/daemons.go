package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ordinaut/ordinaut/internal/coordinator"
	"github.com/ordinaut/ordinaut/internal/events"
	"github.com/ordinaut/ordinaut/internal/executor"
	"github.com/ordinaut/ordinaut/internal/infrastructure/postgres"
	"github.com/ordinaut/ordinaut/internal/ingress"
	"github.com/ordinaut/ordinaut/internal/invoker"
	"github.com/ordinaut/ordinaut/internal/leader"
	"github.com/ordinaut/ordinaut/internal/scheduler"
	"github.com/ordinaut/ordinaut/internal/worker"
)

// schedulerLockKey is the fixed Postgres advisory lock key the
// Scheduler daemon contends for leadership under. Arbitrary but stable
// across the fleet — every replica must agree on the same key.
const schedulerLockKey int64 = 847_261_003

func notifyCtx() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Run the scheduler daemon, materializing due_work rows from task schedules.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := mustConfig()
		logger := newLogger(cfg)
		ctx, cancel := notifyCtx()
		defer cancel()

		pool := mustPool(ctx, cfg, logger)
		defer pool.Close()

		lock := leader.NewPostgresLock(pool, schedulerLockKey)
		s := scheduler.New(
			postgres.NewTaskRepository(pool),
			postgres.NewDueWorkRepository(pool),
			postgres.NewTaskRunRepository(pool),
			lock,
			logger,
			cfg.CoordinatorInterval(),
			cfg.SchedulerMisfireGrace(),
		)
		s.Start(ctx)
		return nil
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run a worker process, claiming and executing due pipelines.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := mustConfig()
		logger := newLogger(cfg)
		ctx, cancel := notifyCtx()
		defer cancel()

		pool := mustPool(ctx, cfg, logger)
		defer pool.Close()

		id := cfg.WorkerID
		if id == "" {
			id = uuid.NewString()
		}

		exec := executor.New(invoker.NewSimulating(), logger)
		w := worker.New(
			id,
			postgres.NewDueWorkRepository(pool),
			postgres.NewTaskRunRepository(pool),
			postgres.NewHeartbeatRepository(pool),
			exec,
			logger,
			cfg.WorkerLease(),
			cfg.WorkerPollInterval(),
			cfg.WorkerHeartbeatInterval(),
		)
		w.Start(ctx)
		return nil
	},
}

var coordinatorCmd = &cobra.Command{
	Use:   "coordinator",
	Short: "Run the coordinator daemon, reaping expired leases and dead workers.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := mustConfig()
		logger := newLogger(cfg)
		ctx, cancel := notifyCtx()
		defer cancel()

		pool := mustPool(ctx, cfg, logger)
		defer pool.Close()
		redisClient := mustRedis(cfg)
		defer redisClient.Close()

		lock := leader.NewRedisLock(redisClient, uuid.NewString())
		c := coordinator.New(
			postgres.NewDueWorkRepository(pool),
			postgres.NewHeartbeatRepository(pool),
			lock,
			logger,
			cfg.CoordinatorInterval(),
			cfg.CoordinatorStaleLeaseGrace(),
			cfg.CoordinatorDeadHeartbeat(),
		)
		c.Start(ctx)
		return nil
	},
}

var ingressCmd = &cobra.Command{
	Use:   "ingress",
	Short: "Run the event ingress daemon, enqueueing occurrences for event-triggered tasks.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := mustConfig()
		logger := newLogger(cfg)
		ctx, cancel := notifyCtx()
		defer cancel()

		pool := mustPool(ctx, cfg, logger)
		defer pool.Close()
		redisClient := mustRedis(cfg)
		defer redisClient.Close()

		stream := events.NewStream(redisClient, "ordinaut:events", "ordinaut-ingress")
		i := ingress.New(
			stream,
			postgres.NewTaskRepository(pool),
			postgres.NewEventIdempotencyRepository(pool),
			postgres.NewDueWorkRepository(pool),
			logger,
			uuid.NewString(),
		)
		i.Start(ctx)
		return nil
	},
}
