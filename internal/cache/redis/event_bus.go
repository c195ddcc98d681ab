package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/arbexecutor/internal/domain"
)

// EventBusConfig names where events go. Either name may be empty to skip
// that path.
type EventBusConfig struct {
	Channel      string
	Stream       string
	StreamMaxLen int64
}

// EventBus implements domain.EventSink using Redis Pub/Sub for live observers
// and a capped Redis Stream for consumers that need replay.
type EventBus struct {
	rdb *redis.Client
	cfg EventBusConfig
}

// NewEventBus creates an EventBus backed by the given Client.
func NewEventBus(c *Client, cfg EventBusConfig) *EventBus {
	if cfg.StreamMaxLen <= 0 {
		cfg.StreamMaxLen = 10000
	}
	return &EventBus{rdb: c.rdb, cfg: cfg}
}

// Publish sends every event, as an envelope, to the channel and the stream.
func (b *EventBus) Publish(ctx context.Context, events ...domain.Event) error {
	var errs []error
	for _, ev := range events {
		payload, err := domain.EncodeEvent(ev)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if b.cfg.Channel != "" {
			if err := b.rdb.Publish(ctx, b.cfg.Channel, payload).Err(); err != nil {
				errs = append(errs, fmt.Errorf("redis: publish %s: %w", b.cfg.Channel, err))
			}
		}
		if b.cfg.Stream != "" {
			if err := b.rdb.XAdd(ctx, streamArgs(b.cfg, ev, payload)).Err(); err != nil {
				errs = append(errs, fmt.Errorf("redis: stream append %s: %w", b.cfg.Stream, err))
			}
		}
	}
	return errors.Join(errs...)
}

func streamArgs(cfg EventBusConfig, ev domain.Event, payload []byte) *redis.XAddArgs {
	return &redis.XAddArgs{
		Stream: cfg.Stream,
		MaxLen: cfg.StreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"type":    ev.EventName(),
			"key":     domain.EventKey(ev),
			"payload": payload,
		},
	}
}

// Subscribe returns a channel of raw envelopes published on the bus channel.
// The subscription and the returned channel are closed when ctx is done.
func (b *EventBus) Subscribe(ctx context.Context) (<-chan []byte, error) {
	if b.cfg.Channel == "" {
		return nil, errors.New("redis: event bus has no channel")
	}
	pubsub := b.rdb.Subscribe(ctx, b.cfg.Channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", b.cfg.Channel, err)
	}

	out := make(chan []byte, 128)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Compile-time interface check.
var _ domain.EventSink = (*EventBus)(nil)
