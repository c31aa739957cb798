// Package events publishes lifecycle transitions to downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/shiva/ridebroker/internal/lifecycle"
)

// EventTypeTransition is the type tag carried by every transition event.
const EventTypeTransition = "lifecycle.transition"

// Publisher delivers transitions produced by a sweep.
type Publisher interface {
	Publish(ctx context.Context, transitions ...lifecycle.Transition) error
	Close() error
}

// TransitionEvent is the JSON envelope written to the topic.
type TransitionEvent struct {
	EventID string `json:"event_id"`
	Type    string `json:"type"`
	lifecycle.Transition
}

// NewTransitionEvent wraps t in an envelope with a fresh event ID.
func NewTransitionEvent(t lifecycle.Transition) TransitionEvent {
	return TransitionEvent{EventID: uuid.NewString(), Type: EventTypeTransition, Transition: t}
}

// Key partitions events by subject so one ride's history stays ordered.
func Key(t lifecycle.Transition) []byte {
	return []byte(fmt.Sprintf("%s:%d", t.Kind, t.ID))
}

// ─── Kafka ──────────────────────────────────────────────────

// messageWriter is the subset of *kafka.Writer the publisher needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes transition events to a Kafka topic.
type KafkaPublisher struct {
	writer  messageWriter
	timeout time.Duration
}

// NewKafkaPublisher creates a publisher for topic on the given brokers.
// Messages are hashed on their key so a subject always lands on the same
// partition.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}
	return &KafkaPublisher{writer: w, timeout: 5 * time.Second}
}

// Publish writes all transitions in one batch.
func (k *KafkaPublisher) Publish(ctx context.Context, transitions ...lifecycle.Transition) error {
	if len(transitions) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(transitions))
	for _, t := range transitions {
		b, err := json.Marshal(NewTransitionEvent(t))
		if err != nil {
			return fmt.Errorf("events: encode %s %d: %w", t.Kind, t.ID, err)
		}
		msgs = append(msgs, kafka.Message{Key: Key(t), Value: b, Time: t.At})
	}

	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()
	if err := k.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("events: write %d messages: %w", len(msgs), err)
	}
	return nil
}

func (k *KafkaPublisher) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}

// ─── No-op ──────────────────────────────────────────────────

// NopPublisher drops every event. It is used when no brokers are configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, ...lifecycle.Transition) error { return nil }
func (NopPublisher) Close() error { return nil }
