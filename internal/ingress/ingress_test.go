package ingress

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ordinaut/ordinaut/internal/domain"
	"github.com/ordinaut/ordinaut/internal/events"
	"github.com/ordinaut/ordinaut/internal/infrastructure/memrepo"
)

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTask(t *testing.T, store *memrepo.Store, topic string) *domain.Task {
	t.Helper()
	agent, err := store.Agents().Create(context.Background(), &domain.Agent{Name: "seed", Scopes: []string{"tasks:write"}})
	require.NoError(t, err)
	task := &domain.Task{
		Title: "event task", CreatedBy: agent.ID,
		ScheduleKind: domain.ScheduleEvent, ScheduleExpr: topic, Timezone: "UTC",
		Status:   domain.TaskActive,
		Pipeline: domain.Pipeline{Steps: []domain.Step{{ID: "a", Uses: "builtin.noop"}}},
	}
	created, err := store.Tasks().Create(context.Background(), task)
	require.NoError(t, err)
	return created
}

func newIngress(store *memrepo.Store) *Ingress {
	return &Ingress{
		tasks:    store.Tasks(),
		dedupe:   store.Events(),
		work:     store.DueWork(),
		logger:   silentLogger(),
		consumer: "test",
	}
}

func TestEnqueueMatches_MatchingTopicEnqueuesOccurrence(t *testing.T) {
	store := memrepo.New()
	task := newTask(t, store, "orders.*.created")
	i := newIngress(store)

	n, err := i.enqueueMatches(context.Background(), silentLogger(), events.Event{
		ID: "1-0", Topic: "orders.123.created", Payload: []byte(`{"order_id":"123"}`),
	})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, exists, err := store.DueWork().LatestRunAt(context.Background(), task.ID)
	require.NoError(t, err)
	require.True(t, exists)
}

func TestEnqueueMatches_NonMatchingTopicSkips(t *testing.T) {
	store := memrepo.New()
	task := newTask(t, store, "orders.*.created")
	i := newIngress(store)

	n, err := i.enqueueMatches(context.Background(), silentLogger(), events.Event{
		ID: "1-0", Topic: "orders.123.cancelled",
	})
	require.NoError(t, err)
	require.Equal(t, 0, n)

	_, exists, err := store.DueWork().LatestRunAt(context.Background(), task.ID)
	require.NoError(t, err)
	require.False(t, exists)
}

func TestEnqueueMatches_DuplicateEventIDIsIdempotent(t *testing.T) {
	store := memrepo.New()
	newTask(t, store, "orders.*.created")
	i := newIngress(store)

	evt := events.Event{ID: "1-0", Topic: "orders.1.created"}
	n1, err := i.enqueueMatches(context.Background(), silentLogger(), evt)
	require.NoError(t, err)
	require.Equal(t, 1, n1)

	n2, err := i.enqueueMatches(context.Background(), silentLogger(), evt)
	require.NoError(t, err)
	require.Equal(t, 0, n2, "a redelivered event must not enqueue a duplicate occurrence")
}
