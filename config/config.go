// Package config loads Ordinaut's environment configuration, in the
// teacher's own shape: caarlos0/env struct tags plus a validator pass.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

type Config struct {
	Env string `env:"ENV" envDefault:"local" validate:"required,oneof=local staging production"`

	DatabaseURL    string `env:"DATABASE_URL,required" validate:"required"`
	EventStreamURL string `env:"EVENT_STREAM_URL"`
	Timezone       string `env:"TZ" envDefault:"UTC" validate:"required"`

	WorkerID               string `env:"WORKER_ID"`
	WorkerLeaseSeconds     int    `env:"WORKER_LEASE_SECONDS" envDefault:"60" validate:"min=1"`
	WorkerPollIntervalMS   int    `env:"WORKER_POLL_INTERVAL_MS" envDefault:"500" validate:"min=10"`
	WorkerHeartbeatSeconds int    `env:"WORKER_HEARTBEAT_SECONDS" envDefault:"30" validate:"min=1"`

	CoordinatorIntervalSeconds        int `env:"COORDINATOR_INTERVAL_SECONDS" envDefault:"60" validate:"min=1"`
	CoordinatorStaleLeaseGraceSeconds int `env:"COORDINATOR_STALE_LEASE_GRACE_SECONDS" envDefault:"60" validate:"min=0"`
	CoordinatorDeadHeartbeatSeconds   int `env:"COORDINATOR_DEAD_HEARTBEAT_SECONDS" envDefault:"600" validate:"min=1"`

	SchedulerMisfireGraceSeconds int `env:"SCHEDULER_MISFIRE_GRACE_SECONDS" envDefault:"30" validate:"min=0"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info" validate:"required,oneof=debug info warn error"`
}

func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SlogLevel converts the LOG_LEVEL string to a slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (c *Config) WorkerLease() time.Duration {
	return time.Duration(c.WorkerLeaseSeconds) * time.Second
}

func (c *Config) WorkerPollInterval() time.Duration {
	return time.Duration(c.WorkerPollIntervalMS) * time.Millisecond
}

func (c *Config) WorkerHeartbeatInterval() time.Duration {
	return time.Duration(c.WorkerHeartbeatSeconds) * time.Second
}

func (c *Config) CoordinatorInterval() time.Duration {
	return time.Duration(c.CoordinatorIntervalSeconds) * time.Second
}

func (c *Config) CoordinatorStaleLeaseGrace() time.Duration {
	return time.Duration(c.CoordinatorStaleLeaseGraceSeconds) * time.Second
}

func (c *Config) CoordinatorDeadHeartbeat() time.Duration {
	return time.Duration(c.CoordinatorDeadHeartbeatSeconds) * time.Second
}

func (c *Config) SchedulerMisfireGrace() time.Duration {
	return time.Duration(c.SchedulerMisfireGraceSeconds) * time.Second
}
