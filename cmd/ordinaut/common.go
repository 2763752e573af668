package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/ordinaut/ordinaut/config"
	"github.com/ordinaut/ordinaut/internal/infrastructure/postgres"
	ctxlog "github.com/ordinaut/ordinaut/internal/log"
)

// Exit codes, spec.md §6.3: 0 normal, 2 configuration error, 3
// database unreachable at startup.
const (
	exitConfigError         = 2
	exitDatabaseUnreachable = 3
)

func mustConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(exitConfigError)
	}
	return cfg
}

func newLogger(cfg *config.Config) *slog.Logger {
	return ctxlog.New(cfg.Env, cfg.SlogLevel())
}

func mustPool(ctx context.Context, cfg *config.Config, logger *slog.Logger) *pgxpool.Pool {
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("database unreachable at startup", "error", err)
		os.Exit(exitDatabaseUnreachable)
	}
	return pool
}

func mustRedis(cfg *config.Config) *redis.Client {
	if cfg.EventStreamURL == "" {
		fmt.Fprintln(os.Stderr, "config: EVENT_STREAM_URL is required for this command")
		os.Exit(exitConfigError)
	}
	opts, err := redis.ParseURL(cfg.EventStreamURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: invalid EVENT_STREAM_URL: %v\n", err)
		os.Exit(exitConfigError)
	}
	return redis.NewClient(opts)
}
