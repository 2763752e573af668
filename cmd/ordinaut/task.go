package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ordinaut/ordinaut/internal/domain"
	"github.com/ordinaut/ordinaut/internal/infrastructure/postgres"
	"github.com/ordinaut/ordinaut/internal/trigger"
	"github.com/ordinaut/ordinaut/internal/value"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage task definitions (create, pause, resume, run-now, validate, seed).",
}

func init() {
	taskCmd.AddCommand(taskCreateCmd)
	taskCmd.AddCommand(taskPauseCmd)
	taskCmd.AddCommand(taskResumeCmd)
	taskCmd.AddCommand(taskRunNowCmd)
	taskCmd.AddCommand(taskValidateCmd)
	taskCmd.AddCommand(taskSeedCmd)
}

var taskCreateCmd = &cobra.Command{
	Use:   "create <file.json>",
	Short: "Create a task from a JSON payload file (spec.md §6.1).",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := readTaskFile(args[0])
		if err != nil {
			return err
		}
		if err := t.Pipeline.Validate(); err != nil {
			return fmt.Errorf("invalid pipeline: %w", err)
		}
		report := trigger.Validate(t.ScheduleKind, t.ScheduleExpr, t.Timezone)
		if !report.Valid {
			return fmt.Errorf("invalid schedule: %v", report.Errors)
		}
		if t.Status == "" {
			t.Status = domain.TaskActive
		}

		cfg := mustConfig()
		logger := newLogger(cfg)
		ctx, cancel := notifyCtx()
		defer cancel()
		pool := mustPool(ctx, cfg, logger)
		defer pool.Close()

		created, err := postgres.NewTaskRepository(pool).Create(ctx, t)
		if err != nil {
			return fmt.Errorf("create task: %w", err)
		}
		fmt.Println(created.ID)
		return nil
	},
}

var taskPauseCmd = &cobra.Command{
	Use:   "pause <task-id>",
	Short: "Pause a task and cancel its outstanding unlocked occurrence (spec.md §4.4 steps 4-5).",
	Args:  cobra.ExactArgs(1),
	RunE:  setTaskStatus(domain.TaskPaused),
}

var taskResumeCmd = &cobra.Command{
	Use:   "resume <task-id>",
	Short: "Resume a paused task.",
	Args:  cobra.ExactArgs(1),
	RunE:  setTaskStatus(domain.TaskActive),
}

func setTaskStatus(status domain.TaskStatus) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		id := args[0]
		cfg := mustConfig()
		logger := newLogger(cfg)
		ctx, cancel := notifyCtx()
		defer cancel()
		pool := mustPool(ctx, cfg, logger)
		defer pool.Close()

		tasks := postgres.NewTaskRepository(pool)
		if err := tasks.SetStatus(ctx, id, status); err != nil {
			return fmt.Errorf("set status: %w", err)
		}
		if status == domain.TaskPaused {
			if err := postgres.NewDueWorkRepository(pool).CancelUnlocked(ctx, id); err != nil {
				return fmt.Errorf("cancel unlocked occurrence: %w", err)
			}
		}
		return nil
	}
}

var taskRunNowCmd = &cobra.Command{
	Use:   "run-now <task-id>",
	Short: "Enqueue an immediate occurrence, bypassing the schedule entirely.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]
		cfg := mustConfig()
		logger := newLogger(cfg)
		ctx, cancel := notifyCtx()
		defer cancel()
		pool := mustPool(ctx, cfg, logger)
		defer pool.Close()

		work := postgres.NewDueWorkRepository(pool)
		return work.Enqueue(ctx, id, time.Now().UTC(), value.Null())
	},
}

var taskValidateCmd = &cobra.Command{
	Use:   "validate <file.json>",
	Short: "Validate a task payload's pipeline structure and schedule expression without creating it.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := readTaskFile(args[0])
		if err != nil {
			return err
		}
		if err := t.Pipeline.Validate(); err != nil {
			fmt.Printf("pipeline: %v\n", err)
			os.Exit(1)
		}
		report := trigger.Validate(t.ScheduleKind, t.ScheduleExpr, t.Timezone)
		for _, w := range report.Warnings {
			fmt.Printf("warning: %s\n", w)
		}
		if !report.Valid {
			for _, e := range report.Errors {
				fmt.Printf("error: %s\n", e)
			}
			os.Exit(1)
		}
		fmt.Println("ok")
		return nil
	},
}

var taskSeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Insert a handful of sample tasks into the local dev database.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := mustConfig()
		logger := newLogger(cfg)
		ctx, cancel := notifyCtx()
		defer cancel()
		pool := mustPool(ctx, cfg, logger)
		defer pool.Close()

		tasks := postgres.NewTaskRepository(pool)
		for _, t := range seedTasks() {
			created, err := tasks.Create(ctx, t)
			if err != nil {
				return fmt.Errorf("seed task %q: %w", t.Title, err)
			}
			logger.Info("seeded task", "id", created.ID, "title", created.Title)
		}
		return nil
	},
}

func readTaskFile(path string) (*domain.Task, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var t domain.Task
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &t, nil
}

// seedTasks mirrors the teacher's dev seed set, translated from single
// HTTP-call jobs to pipeline tasks: one cron task and one one-shot
// task, each a single builtin.noop step.
func seedTasks() []*domain.Task {
	return []*domain.Task{
		{
			Title:        "seed-cron-heartbeat",
			CreatedBy:    seedCreator,
			ScheduleKind: domain.ScheduleCron,
			ScheduleExpr: "*/5 * * * *",
			Timezone:     "UTC",
			Status:       domain.TaskActive,
			MaxRetries:   3,
			Backoff:      domain.BackoffPolicy{Kind: domain.BackoffExponential, BaseSeconds: 5, MaxSeconds: 300, Jitter: true},
			Pipeline: domain.Pipeline{
				Steps: []domain.Step{
					{ID: "ping", Uses: "builtin.noop"},
				},
			},
		},
		{
			Title:        "seed-once-migration",
			CreatedBy:    seedCreator,
			ScheduleKind: domain.ScheduleOnce,
			ScheduleExpr: time.Now().UTC().Add(time.Minute).Format(time.RFC3339),
			Timezone:     "UTC",
			Status:       domain.TaskActive,
			MaxRetries:   1,
			Backoff:      domain.BackoffPolicy{Kind: domain.BackoffLinear, BaseSeconds: 10, MaxSeconds: 60},
			Pipeline: domain.Pipeline{
				Steps: []domain.Step{
					{ID: "run", Uses: "builtin.noop"},
				},
			},
		},
	}
}

const seedCreator = "seed-dev-local"
