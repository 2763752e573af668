package scheduler

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ordinaut/ordinaut/internal/domain"
	"github.com/ordinaut/ordinaut/internal/infrastructure/memrepo"
)

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// alwaysLock is a LeaderLock fake that is always held, for tests that
// don't care about leader election.
type alwaysLock struct{ held bool }

func (l *alwaysLock) TryAcquire(ctx context.Context) (bool, error) { l.held = true; return true, nil }
func (l *alwaysLock) Release(ctx context.Context) error            { l.held = false; return nil }
func (l *alwaysLock) Held() bool                                   { return l.held }

func newFixture(t *testing.T) (*memrepo.Store, *Scheduler) {
	t.Helper()
	store := memrepo.New()
	agent, err := store.Agents().Create(context.Background(), &domain.Agent{Name: "seed", Scopes: []string{"tasks:write"}})
	require.NoError(t, err)
	_ = agent
	s := New(store.Tasks(), store.DueWork(), store.TaskRuns(), &alwaysLock{}, silentLogger(), time.Second, 30*time.Second)
	return store, s
}

func createTask(t *testing.T, store *memrepo.Store, mutate func(*domain.Task)) *domain.Task {
	t.Helper()
	agents, err := store.Agents().GetByName(context.Background(), "seed")
	require.NoError(t, err)

	task := &domain.Task{
		Title:        "cron task",
		CreatedBy:    agents.ID,
		ScheduleKind: domain.ScheduleCron,
		ScheduleExpr: "* * * * *",
		Timezone:     "UTC",
		Status:       domain.TaskActive,
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

func TestTick_EnqueuesFirstOccurrenceForNewRecurringTask(t *testing.T) {
	store, s := newFixture(t)
	task := createTask(t, store, nil)

	s.tick(context.Background())

	_, exists, err := store.DueWork().LatestRunAt(context.Background(), task.ID)
	require.NoError(t, err)
	require.True(t, exists, "expected an occurrence to be materialized for a freshly active recurring task")
}

// TestTick_DoesNotEnqueueWhileOccurrenceOutstanding guards against the
// unbounded due_work growth bug: a recurring task with an outstanding
// (pending or leased) row must not accumulate a second one on the next
// tick, regardless of how that row's run_at compares to now.
func TestTick_DoesNotEnqueueWhileOccurrenceOutstanding(t *testing.T) {
	store, s := newFixture(t)
	task := createTask(t, store, nil)

	s.tick(context.Background())
	first, exists, err := store.DueWork().LatestRunAt(context.Background(), task.ID)
	require.NoError(t, err)
	require.True(t, exists)

	for i := 0; i < 5; i++ {
		s.tick(context.Background())
	}

	second, exists, err := store.DueWork().LatestRunAt(context.Background(), task.ID)
	require.NoError(t, err)
	require.True(t, exists)
	require.True(t, second.Equal(first), "a second tick must not materialize a new occurrence while one is outstanding")
}

// TestTick_EnqueuesNextOccurrenceAfterCompletion verifies the
// occurrence is recomputed once the worker has deleted the prior row.
func TestTick_EnqueuesNextOccurrenceAfterCompletion(t *testing.T) {
	store, s := newFixture(t)
	task := createTask(t, store, nil)

	require.NoError(t, s.RunNow(context.Background(), task.ID))
	dw, _, ok, err := store.DueWork().Claim(context.Background(), "w1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, store.DueWork().Delete(context.Background(), dw.ID))

	s.tick(context.Background())
	_, exists, err := store.DueWork().LatestRunAt(context.Background(), task.ID)
	require.NoError(t, err)
	require.True(t, exists, "expected the next occurrence to be materialized once the prior row was completed")
}

func TestTick_OnceTaskFiresExactlyOnce(t *testing.T) {
	store, s := newFixture(t)
	task := createTask(t, store, func(ta *domain.Task) {
		ta.ScheduleKind = domain.ScheduleOnce
		ta.ScheduleExpr = time.Now().UTC().Add(-time.Minute).Format(time.RFC3339)
	})

	s.tick(context.Background())
	dw, _, ok, err := store.DueWork().Claim(context.Background(), "w1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = store.TaskRuns().Start(context.Background(), &domain.TaskRun{TaskID: task.ID, LeaseOwner: "w1", Attempt: dw.Attempt})
	require.NoError(t, err)
	require.NoError(t, store.DueWork().Delete(context.Background(), dw.ID))

	s.tick(context.Background())
	_, exists, err := store.DueWork().LatestRunAt(context.Background(), task.ID)
	require.NoError(t, err)
	require.False(t, exists, "a once task that has already run must never be re-enqueued")
}

func TestRunNow_BypassesSchedule(t *testing.T) {
	store, s := newFixture(t)
	task := createTask(t, store, func(ta *domain.Task) {
		ta.ScheduleExpr = "0 0 1 1 *" // once a year — would not fire on its own for a long time
	})

	require.NoError(t, s.RunNow(context.Background(), task.ID))

	_, exists, err := store.DueWork().LatestRunAt(context.Background(), task.ID)
	require.NoError(t, err)
	require.True(t, exists)
}
