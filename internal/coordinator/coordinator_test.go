package coordinator

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ordinaut/ordinaut/internal/domain"
	"github.com/ordinaut/ordinaut/internal/infrastructure/memrepo"
	"github.com/ordinaut/ordinaut/internal/value"
)

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeLocker is an always-available Locker fake; the Coordinator's own
// mutual exclusion is not under test here.
type fakeLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func newFakeLocker() *fakeLocker { return &fakeLocker{held: make(map[string]bool)} }

func (l *fakeLocker) TryAcquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[name] {
		return false, nil
	}
	l.held[name] = true
	return true, nil
}

func (l *fakeLocker) Renew(ctx context.Context, name string, ttl time.Duration) error { return nil }

func (l *fakeLocker) Release(ctx context.Context, name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, name)
	return nil
}

func newTask(t *testing.T, store *memrepo.Store) *domain.Task {
	t.Helper()
	agent, err := store.Agents().Create(context.Background(), &domain.Agent{Name: "seed", Scopes: []string{"tasks:write"}})
	require.NoError(t, err)
	task := &domain.Task{
		Title: "coordinator task", CreatedBy: agent.ID,
		ScheduleKind: domain.ScheduleCron, ScheduleExpr: "* * * * *", Timezone: "UTC",
		Status: domain.TaskActive,
		Pipeline: domain.Pipeline{Steps: []domain.Step{{ID: "a", Uses: "builtin.noop"}}},
	}
	created, err := store.Tasks().Create(context.Background(), task)
	require.NoError(t, err)
	return created
}

// TestReapLeases_LeavesLeaseOfLiveHeartbeatingWorker guards Testable
// Property 1 (no double processing): a lease past its grace window
// must not be reclaimed while its holder is still heartbeating.
func TestReapLeases_LeavesLeaseOfLiveHeartbeatingWorker(t *testing.T) {
	store := memrepo.New()
	task := newTask(t, store)
	require.NoError(t, store.DueWork().Enqueue(context.Background(), task.ID, time.Now().UTC().Add(-time.Hour), value.Null()))
	dw, _, ok, err := store.DueWork().Claim(context.Background(), "w1", time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)
	_ = dw

	// w1's lease has long since expired, but it is still heartbeating.
	require.NoError(t, store.Heartbeats().Upsert(context.Background(), &domain.WorkerHeartbeat{
		WorkerID: "w1", LastSeen: time.Now().UTC(), PID: 1, Hostname: "h",
	}))

	c := New(store.DueWork(), store.Heartbeats(), newFakeLocker(), silentLogger(),
		time.Second, time.Millisecond, time.Minute)
	c.reapLeases(context.Background())

	_, _, ok2, err := store.DueWork().Claim(context.Background(), "w2", time.Minute)
	require.NoError(t, err)
	require.False(t, ok2, "a live worker's lease must not have been reclaimed")
}

// TestReapLeases_ReclaimsLeaseOfDeadWorker verifies the row becomes
// claimable again once the holder's heartbeat has also gone stale.
func TestReapLeases_ReclaimsLeaseOfDeadWorker(t *testing.T) {
	store := memrepo.New()
	task := newTask(t, store)
	require.NoError(t, store.DueWork().Enqueue(context.Background(), task.ID, time.Now().UTC().Add(-time.Hour), value.Null()))
	_, _, ok, err := store.DueWork().Claim(context.Background(), "w1", time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, store.Heartbeats().Upsert(context.Background(), &domain.WorkerHeartbeat{
		WorkerID: "w1", LastSeen: time.Now().UTC().Add(-time.Hour), PID: 1, Hostname: "h",
	}))
	// Let w1's 1ms lease run out past the 1ms grace.
	time.Sleep(5 * time.Millisecond)

	c := New(store.DueWork(), store.Heartbeats(), newFakeLocker(), silentLogger(),
		time.Second, time.Millisecond, time.Minute)
	c.reapLeases(context.Background())

	dw2, _, ok2, err := store.DueWork().Claim(context.Background(), "w2", time.Minute)
	require.NoError(t, err)
	require.True(t, ok2, "a dead worker's lease must be reclaimable")
	require.Equal(t, 2, dw2.Attempt, "the reclaim must be recorded as a second attempt")
}

func TestPruneHeartbeats_RemovesStaleWorkers(t *testing.T) {
	store := memrepo.New()
	require.NoError(t, store.Heartbeats().Upsert(context.Background(), &domain.WorkerHeartbeat{
		WorkerID: "dead", LastSeen: time.Now().UTC().Add(-time.Hour), PID: 1, Hostname: "h",
	}))

	c := New(store.DueWork(), store.Heartbeats(), newFakeLocker(), silentLogger(),
		time.Second, time.Minute, time.Minute)
	c.pruneHeartbeats(context.Background())

	alive, err := store.Heartbeats().IsAlive(context.Background(), "dead", time.Minute)
	require.NoError(t, err)
	require.False(t, alive)
}
