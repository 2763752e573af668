// Package worker implements the Worker Runtime of spec.md §4.5: claim
// a due_work row, execute its pipeline, and write the terminal outcome
// with retry/crash-recovery semantics. Grounded on the teacher's
// scheduler.Worker (claim/execute/heartbeat loop, retryDelay) and
// generalized from an HTTP-call job to a multi-step Pipeline run
// through the executor, and from worker-level concurrency to one
// claim at a time per process — spec.md §4.5 step 2 claims a single
// row per attempt; run N worker processes for more throughput.
package worker

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"time"

	"github.com/ordinaut/ordinaut/internal/domain"
	"github.com/ordinaut/ordinaut/internal/executor"
	"github.com/ordinaut/ordinaut/internal/metrics"
	"github.com/ordinaut/ordinaut/internal/repository"
	"github.com/ordinaut/ordinaut/internal/runid"
	"github.com/ordinaut/ordinaut/internal/value"
)

type Worker struct {
	id         string
	work       repository.DueWorkRepository
	taskRuns   repository.TaskRunRepository
	heartbeats repository.HeartbeatRepository
	exec       *executor.Executor
	logger     *slog.Logger

	leaseFor          time.Duration
	pollInterval      time.Duration
	heartbeatInterval time.Duration

	hostname       string
	pid            int
	processedCount int64
}

func New(
	id string,
	work repository.DueWorkRepository,
	taskRuns repository.TaskRunRepository,
	heartbeats repository.HeartbeatRepository,
	exec *executor.Executor,
	logger *slog.Logger,
	leaseFor, pollInterval, heartbeatInterval time.Duration,
) *Worker {
	hostname, _ := os.Hostname()
	return &Worker{
		id: id, work: work, taskRuns: taskRuns, heartbeats: heartbeats, exec: exec,
		logger:            logger.With("component", "worker", "worker_id", id),
		leaseFor:          leaseFor,
		pollInterval:      pollInterval,
		heartbeatInterval: heartbeatInterval,
		hostname:          hostname,
		pid:               os.Getpid(),
	}
}

// Start runs STARTING → READY ⇄ PROCESSING until ctx is canceled, then
// STOPPING → STOPPED: stop claiming new work, let the in-flight claim
// finish or abort per its own elapsed-time policy, upsert a final
// heartbeat, and return.
func (w *Worker) Start(ctx context.Context) {
	pollTicker := time.NewTicker(w.pollInterval)
	defer pollTicker.Stop()
	hbTicker := time.NewTicker(w.heartbeatInterval)
	defer hbTicker.Stop()

	w.logger.Info("worker started", "lease", w.leaseFor, "poll_interval", w.pollInterval)
	w.heartbeat(context.Background())

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker stopping")
			hbCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			w.heartbeat(hbCtx)
			cancel()
			w.logger.Info("worker shut down", "processed", w.processedCount)
			return
		case <-hbTicker.C:
			w.heartbeat(ctx)
		case <-pollTicker.C:
			select {
			case <-ctx.Done():
				// stopping: do not claim new work
			default:
				w.claimAndRun(ctx)
			}
		}
	}
}

func (w *Worker) heartbeat(ctx context.Context) {
	hb := &domain.WorkerHeartbeat{
		WorkerID:       w.id,
		LastSeen:       time.Now().UTC(),
		ProcessedCount: w.processedCount,
		PID:            w.pid,
		Hostname:       w.hostname,
	}
	if err := w.heartbeats.Upsert(ctx, hb); err != nil {
		w.logger.Error("heartbeat upsert", "error", err)
	}
}

func (w *Worker) claimAndRun(shutdownCtx context.Context) {
	ctx := runid.With(context.Background(), runid.New())
	dw, task, ok, err := w.work.Claim(ctx, w.id, w.leaseFor)
	if err != nil {
		w.logger.ErrorContext(ctx, "claim", "error", err)
		return
	}
	if !ok {
		return
	}

	logger := w.logger.With("task_id", task.ID, "due_work_id", dw.ID, "attempt", dw.Attempt)
	metrics.ClaimLatency.Observe(time.Since(dw.RunAt).Seconds())
	logger.InfoContext(ctx, "claimed occurrence")

	run, err := w.taskRuns.Start(ctx, &domain.TaskRun{
		TaskID:     task.ID,
		LeaseOwner: w.id,
		Attempt:    dw.Attempt,
	})
	if err != nil {
		logger.ErrorContext(ctx, "start task run", "error", err)
		return
	}

	w.execute(shutdownCtx, ctx, logger, task, dw, run)
	w.processedCount++
}

// execute runs the pipeline, renewing the due_work lease past L/2 for
// as long as it runs, and writes the terminal outcome (spec.md §4.5
// steps 3-6).
func (w *Worker) execute(shutdownCtx, ctx context.Context, logger *slog.Logger, task *domain.Task, dw *domain.DueWork, run *domain.TaskRun) {
	started := time.Now()

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	renewTicker := time.NewTicker(w.leaseFor / 2)
	defer renewTicker.Stop()
	var aborted bool
	monitorDone := make(chan struct{})
	go func() {
		defer close(monitorDone)
		shutdownDone := shutdownCtx.Done()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-renewTicker.C:
				if err := w.work.RenewLease(ctx, dw.ID, w.id, w.leaseFor); err != nil {
					logger.WarnContext(ctx, "renew lease", "error", err)
				} else {
					metrics.LeaseRenewalsTotal.Inc()
				}
			case <-shutdownDone:
				if time.Since(started) >= w.leaseFor/2 {
					logger.WarnContext(ctx, "aborting in-flight step for shutdown")
					aborted = true
					cancelRun()
					return
				}
				// finishing policy: under half the lease elapsed, let the
				// step run to completion uninterrupted; stop re-selecting
				// this already-closed channel on every loop iteration.
				shutdownDone = nil
			}
		}
	}()

	result, verdict := w.exec.Run(runCtx, task.Pipeline, started, dw.EventPayload)
	cancelRun()
	<-monitorDone

	if aborted {
		if err := w.work.Reschedule(ctx, dw.ID, time.Now().UTC()); err != nil {
			logger.ErrorContext(ctx, "release lease after shutdown abort", "error", err)
		}
		logger.WarnContext(ctx, "released lease for immediate reclaim after shutdown abort")
		return
	}

	if verdict.Success {
		w.complete(ctx, logger, task, dw, run, result, nil)
		return
	}

	switch domain.Classify(verdict.Err) {
	case domain.KindLeaseLost:
		logger.WarnContext(ctx, "lease lost mid-execution, not writing terminal run", "error", verdict.Err)
		return
	case domain.KindRetryable:
		if dw.Attempt < task.MaxRetries+1 {
			w.retry(ctx, logger, task, dw, run, verdict.Err)
			return
		}
		errMsg := verdict.Err.Error()
		w.complete(ctx, logger, task, dw, run, result, &errMsg)
	default: // KindPermanent
		errMsg := verdict.Err.Error()
		w.complete(ctx, logger, task, dw, run, result, &errMsg)
	}
}

// complete writes the TaskRun terminal and deletes the due_work row —
// the success path of step 5, and the "max retries exceeded" branch
// of step 6. Both are terminal: the row never runs again.
func (w *Worker) complete(ctx context.Context, logger *slog.Logger, task *domain.Task, dw *domain.DueWork, run *domain.TaskRun, output value.Value, errMsg *string) {
	success := errMsg == nil
	outputJSON, err := output.MarshalJSON()
	if err != nil {
		outputJSON = nil
	}
	if err := w.taskRuns.Complete(ctx, run.ID, success, outputJSON, errMsg); err != nil {
		logger.ErrorContext(ctx, "complete task run", "error", err)
	}
	if err := w.work.Delete(ctx, dw.ID); err != nil {
		logger.ErrorContext(ctx, "delete due_work", "error", err)
	}

	outcome := "success"
	if !success {
		outcome = "failure"
	}
	metrics.TaskRunsTotal.WithLabelValues(outcome).Inc()

	if success {
		logger.InfoContext(ctx, "task run succeeded")
	} else {
		logger.InfoContext(ctx, "task run failed terminally", "error", *errMsg)
	}
}

// retry writes the terminal failure record for this attempt, then
// returns the due_work row to pending state at a backed-off run_at
// (spec.md §4.5 step 6, retryable branch).
func (w *Worker) retry(ctx context.Context, logger *slog.Logger, task *domain.Task, dw *domain.DueWork, run *domain.TaskRun, cause error) {
	errMsg := cause.Error()
	if err := w.taskRuns.Complete(ctx, run.ID, false, nil, &errMsg); err != nil {
		logger.ErrorContext(ctx, "complete task run", "error", err)
	}

	delay := backoffDelay(task.Backoff, dw.Attempt)
	runAt := time.Now().UTC().Add(delay)
	if err := w.work.Reschedule(ctx, dw.ID, runAt); err != nil {
		logger.ErrorContext(ctx, "reschedule due_work", "error", err)
	}

	metrics.TaskRunsTotal.WithLabelValues("retry").Inc()
	logger.InfoContext(ctx, "task run failed, scheduled retry", "attempt", dw.Attempt, "max_retries", task.MaxRetries, "retry_at", runAt, "error", errMsg)
}

// backoffDelay implements spec.md §4.5's backoff formula:
// delay = min(base * 2^(attempt-1), max), jittered by a factor in
// [0.5, 1.0] when the policy asks for it.
func backoffDelay(b domain.BackoffPolicy, attempt int) time.Duration {
	base := time.Duration(b.BaseSeconds * float64(time.Second))
	if base <= 0 {
		base = 30 * time.Second
	}
	var delay time.Duration
	switch b.Kind {
	case domain.BackoffLinear:
		delay = base * time.Duration(attempt)
	default:
		delay = time.Duration(float64(base) * math.Pow(2, float64(attempt-1)))
	}
	if max := time.Duration(b.MaxSeconds * float64(time.Second)); max > 0 && delay > max {
		delay = max
	}
	if b.Jitter {
		factor := 0.5 + rand.Float64()*0.5
		delay = time.Duration(float64(delay) * factor)
	}
	return delay
}
