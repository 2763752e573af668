// Package events implements the durable, group-consumable event
// stream the Event Ingress reads from (spec.md §6.4), on Redis
// Streams — the same client library minisource-scheduler wires in for
// its distributed lock, extended here to its other natural use.
package events

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Event is one delivered stream entry.
type Event struct {
	ID      string // stream entry id, used for XACK
	Topic   string
	Payload []byte // raw JSON
}

const payloadField = "payload"
const topicField = "topic"

type Stream struct {
	client *redis.Client
	key    string
	group  string
}

// NewStream wires a stream keyed by `key`, consumed by the single
// consumer group `group` — spec.md §4.7 requires exactly one consumer
// group for task matching.
func NewStream(client *redis.Client, key, group string) *Stream {
	return &Stream{client: client, key: key, group: group}
}

// EnsureGroup creates the consumer group if absent, starting from the
// beginning of the stream ("0") so no backlog is skipped on first run.
func (s *Stream) EnsureGroup(ctx context.Context) error {
	err := s.client.XGroupCreateMkStream(ctx, s.key, s.group, "0").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return fmt.Errorf("ensure consumer group: %w", err)
	}
	return nil
}

// Publish appends one event to the stream.
func (s *Stream) Publish(ctx context.Context, topic string, payload []byte) (string, error) {
	id, err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.key,
		Values: map[string]any{
			topicField:   topic,
			payloadField: payload,
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("publish event: %w", err)
	}
	return id, nil
}

// Consume blocks for up to `block` waiting for new entries delivered
// to `consumer`, returning whatever batch arrives (possibly empty on
// timeout, which is not an error).
func (s *Stream) Consume(ctx context.Context, consumer string, count int64, block time.Duration) ([]Event, error) {
	res, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.group,
		Consumer: consumer,
		Streams:  []string{s.key, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("consume events: %w", err)
	}

	var out []Event
	for _, stream := range res {
		for _, msg := range stream.Messages {
			topic, _ := msg.Values[topicField].(string)
			payload, _ := msg.Values[payloadField].(string)
			out = append(out, Event{ID: msg.ID, Topic: topic, Payload: []byte(payload)})
		}
	}
	return out, nil
}

// Ack acknowledges a processed event so it is not redelivered to this
// consumer group.
func (s *Stream) Ack(ctx context.Context, id string) error {
	if err := s.client.XAck(ctx, s.key, s.group, id).Err(); err != nil {
		return fmt.Errorf("ack event %s: %w", id, err)
	}
	return nil
}
