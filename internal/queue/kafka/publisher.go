// Package kafka publishes executor events to a Kafka topic.
package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/alanyoungcy/arbexecutor/internal/domain"
)

// messageWriter is the subset of *kafka.Writer the publisher needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Config holds the writer settings.
type Config struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
}

// Publisher implements domain.EventSink. Messages are keyed by attempt id so
// the records of one attempt land on one partition in order.
type Publisher struct {
	writer messageWriter
	topic  string
}

// NewPublisher creates a Publisher writing to cfg.Topic.
func NewPublisher(cfg Config) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: no brokers configured")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka: topic must not be empty")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: cfg.BatchTimeout,
		RequiredAcks: kafka.RequireAll,
	}
	return &Publisher{writer: w, topic: cfg.Topic}, nil
}

// Publish writes every event as one message batch.
func (p *Publisher) Publish(ctx context.Context, events ...domain.Event) error {
	if len(events) == 0 {
		return nil
	}
	msgs, err := buildMessages(events)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("kafka: write %d message(s) to %s: %w", len(msgs), p.topic, err)
	}
	return nil
}

func buildMessages(events []domain.Event) ([]kafka.Message, error) {
	msgs := make([]kafka.Message, 0, len(events))
	for _, ev := range events {
		payload, err := domain.EncodeEvent(ev)
		if err != nil {
			return nil, fmt.Errorf("kafka: %w", err)
		}
		msgs = append(msgs, kafka.Message{
			Key:     []byte(domain.EventKey(ev)),
			Value:   payload,
			Headers: []kafka.Header{{Key: "type", Value: []byte(ev.EventName())}},
		})
	}
	return msgs, nil
}

// Close flushes pending writes and closes the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

// Compile-time interface check.
var _ domain.EventSink = (*Publisher)(nil)
