package worker

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ordinaut/ordinaut/internal/domain"
	"github.com/ordinaut/ordinaut/internal/executor"
	"github.com/ordinaut/ordinaut/internal/infrastructure/memrepo"
	"github.com/ordinaut/ordinaut/internal/invoker"
	"github.com/ordinaut/ordinaut/internal/value"
)

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTask(t *testing.T, store *memrepo.Store, mutate func(*domain.Task)) *domain.Task {
	t.Helper()
	agent, err := store.Agents().Create(context.Background(), &domain.Agent{Name: "seed", Scopes: []string{"tasks:write"}})
	require.NoError(t, err)

	task := &domain.Task{
		Title:        "worker task",
		CreatedBy:    agent.ID,
		ScheduleKind: domain.ScheduleCron,
		ScheduleExpr: "* * * * *",
		Timezone:     "UTC",
		Status:       domain.TaskActive,
		MaxRetries:   2,
		Backoff:      domain.BackoffPolicy{Kind: domain.BackoffExponential, BaseSeconds: 1, MaxSeconds: 10},
		Pipeline: domain.Pipeline{
			Steps: []domain.Step{{ID: "a", Uses: "builtin.noop"}},
		},
	}
	if mutate != nil {
		mutate(task)
	}
	created, err := store.Tasks().Create(context.Background(), task)
	require.NoError(t, err)
	return created
}

type failingInvoker struct{ retryable bool }

func (f *failingInvoker) Invoke(ctx context.Context, address string, args value.Value, timeout time.Duration) (value.Value, error) {
	return value.Null(), &invoker.InvocationError{Address: address, Retryable: f.retryable, Cause: context.DeadlineExceeded}
}

func TestClaimAndRun_SuccessDeletesRowAndWritesTerminalRun(t *testing.T) {
	store := memrepo.New()
	task := newTask(t, store, nil)
	require.NoError(t, store.DueWork().Enqueue(context.Background(), task.ID, time.Now().UTC(), value.Null()))

	exec := executor.New(invoker.NewSimulating(), silentLogger())
	w := New("w1", store.DueWork(), store.TaskRuns(), store.Heartbeats(), exec, silentLogger(),
		time.Minute, 10*time.Millisecond, time.Minute)

	w.claimAndRun(context.Background())

	_, exists, err := store.DueWork().LatestRunAt(context.Background(), task.ID)
	require.NoError(t, err)
	require.False(t, exists, "completed occurrence must be deleted")
}

func TestClaimAndRun_RetryableFailureReschedulesUnderMaxRetries(t *testing.T) {
	store := memrepo.New()
	task := newTask(t, store, func(ta *domain.Task) { ta.MaxRetries = 2 })
	require.NoError(t, store.DueWork().Enqueue(context.Background(), task.ID, time.Now().UTC(), value.Null()))

	exec := executor.New(&failingInvoker{retryable: true}, silentLogger())
	w := New("w1", store.DueWork(), store.TaskRuns(), store.Heartbeats(), exec, silentLogger(),
		time.Minute, 10*time.Millisecond, time.Minute)

	w.claimAndRun(context.Background())

	runAt, exists, err := store.DueWork().LatestRunAt(context.Background(), task.ID)
	require.NoError(t, err)
	require.True(t, exists, "a retryable failure under max_retries must leave the row in place")
	require.True(t, runAt.After(time.Now().UTC()), "the retried occurrence must be rescheduled into the future")
}

func TestClaimAndRun_PermanentFailureDeletesRow(t *testing.T) {
	store := memrepo.New()
	task := newTask(t, store, nil)
	require.NoError(t, store.DueWork().Enqueue(context.Background(), task.ID, time.Now().UTC(), value.Null()))

	exec := executor.New(&failingInvoker{retryable: false}, silentLogger())
	w := New("w1", store.DueWork(), store.TaskRuns(), store.Heartbeats(), exec, silentLogger(),
		time.Minute, 10*time.Millisecond, time.Minute)

	w.claimAndRun(context.Background())

	_, exists, err := store.DueWork().LatestRunAt(context.Background(), task.ID)
	require.NoError(t, err)
	require.False(t, exists, "a permanent failure must delete the occurrence, not retry it")
}

func TestBackoffDelay_ExponentialGrowsAndCapsAtMax(t *testing.T) {
	b := domain.BackoffPolicy{Kind: domain.BackoffExponential, BaseSeconds: 1, MaxSeconds: 4}
	require.Equal(t, time.Second, backoffDelay(b, 1))
	require.Equal(t, 2*time.Second, backoffDelay(b, 2))
	require.Equal(t, 4*time.Second, backoffDelay(b, 3)) // would be 4s anyway
	require.Equal(t, 4*time.Second, backoffDelay(b, 4)) // capped from 8s
}
