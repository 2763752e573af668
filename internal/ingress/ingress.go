// Package ingress implements the Event Ingress of spec.md §4.7: it
// converts external event notifications into immediate due_work
// enqueues for matching tasks. There is no teacher analogue for this
// component — the teacher is a pure cron scheduler — so its loop shape
// (ticker-free, blocking consume) is grounded instead on
// minisource-scheduler's consumer-group usage and the Coordinator's
// own periodic-task texture for logging conventions.
package ingress

import (
	"context"
	"log/slog"
	"time"

	"github.com/ordinaut/ordinaut/internal/events"
	"github.com/ordinaut/ordinaut/internal/metrics"
	"github.com/ordinaut/ordinaut/internal/repository"
	"github.com/ordinaut/ordinaut/internal/runid"
	"github.com/ordinaut/ordinaut/internal/value"
)

const (
	consumeBatch = 50
	consumeBlock = 5 * time.Second
)

type Ingress struct {
	stream   *events.Stream
	tasks    repository.TaskRepository
	dedupe   repository.EventIdempotencyRepository
	work     repository.DueWorkRepository
	logger   *slog.Logger
	consumer string
}

func New(
	stream *events.Stream,
	tasks repository.TaskRepository,
	dedupe repository.EventIdempotencyRepository,
	work repository.DueWorkRepository,
	logger *slog.Logger,
	consumerID string,
) *Ingress {
	return &Ingress{
		stream: stream, tasks: tasks, dedupe: dedupe, work: work,
		logger:   logger.With("component", "ingress", "consumer", consumerID),
		consumer: consumerID,
	}
}

// Start ensures the consumer group exists, then loops reading batches
// until ctx is canceled. Each event is matched against every active
// event task and, for every match, idempotently enqueued before being
// acknowledged — so a crash between enqueue and ack simply redelivers
// the event and MarkIngested's dedupe table absorbs the repeat
// (spec.md §4.7 "exactly-once semantics across restarts").
func (i *Ingress) Start(ctx context.Context) {
	if err := i.stream.EnsureGroup(ctx); err != nil {
		i.logger.Error("ensure consumer group", "error", err)
		return
	}
	i.logger.Info("event ingress started")

	for {
		select {
		case <-ctx.Done():
			i.logger.Info("event ingress shut down")
			return
		default:
		}

		batch, err := i.stream.Consume(ctx, i.consumer, consumeBatch, consumeBlock)
		if err != nil {
			i.logger.Error("consume events", "error", err)
			time.Sleep(time.Second)
			continue
		}
		for _, evt := range batch {
			i.handle(ctx, evt)
		}
	}
}

func (i *Ingress) handle(ctx context.Context, evt events.Event) {
	ctx = runid.With(ctx, runid.New())
	logger := i.logger.With("event_id", evt.ID, "topic", evt.Topic)

	matched, err := i.enqueueMatches(ctx, logger, evt)
	if err != nil {
		logger.Error("match and enqueue", "error", err)
		metrics.EventsIngestedTotal.WithLabelValues("error").Inc()
		return // leave unacked; redelivered on the next consume
	}

	if err := i.stream.Ack(ctx, evt.ID); err != nil {
		logger.Error("ack event", "error", err)
		return
	}
	if matched > 0 {
		metrics.EventsIngestedTotal.WithLabelValues("matched").Inc()
	} else {
		metrics.EventsIngestedTotal.WithLabelValues("unmatched").Inc()
	}
}

func (i *Ingress) enqueueMatches(ctx context.Context, logger *slog.Logger, evt events.Event) (int, error) {
	candidates, err := i.tasks.ListActiveEventTasks(ctx)
	if err != nil {
		return 0, err
	}

	var payload value.Value
	if len(evt.Payload) > 0 {
		if err := payload.UnmarshalJSON(evt.Payload); err != nil {
			logger.Warn("event payload is not valid JSON, ingesting as null", "error", err)
			payload = value.Null()
		}
	} else {
		payload = value.Null()
	}

	matched := 0
	for _, t := range candidates {
		if !matchTopic(t.ScheduleExpr, evt.Topic) {
			continue
		}
		fresh, err := i.dedupe.MarkIngested(ctx, t.ID, evt.ID)
		if err != nil {
			return matched, err
		}
		if !fresh {
			logger.Debug("duplicate delivery, skipping enqueue", "task_id", t.ID)
			continue
		}
		if err := i.work.Enqueue(ctx, t.ID, time.Now().UTC(), payload); err != nil {
			return matched, err
		}
		logger.Info("enqueued event-triggered occurrence", "task_id", t.ID)
		matched++
	}
	return matched, nil
}
