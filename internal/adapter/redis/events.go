package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pscheid92/jobpulse/internal/domain"
	"github.com/pscheid92/jobpulse/internal/platform/correlation"
)

// EventHandler consumes a decoded producer event.
type EventHandler interface {
	Handle(ctx context.Context, ev domain.ProducerEvent) error
}

// EventSubscriber feeds producer events published on a Redis channel into a handler.
type EventSubscriber struct {
	rdb     *goredis.Client
	channel string
	handler EventHandler
	ready   chan struct{}
}

func NewEventSubscriber(rdb *goredis.Client, channel string, handler EventHandler) *EventSubscriber {
	return &EventSubscriber{
		rdb:     rdb,
		channel: channel,
		handler: handler,
		ready:   make(chan struct{}),
	}
}

// Ready is closed once the subscription is confirmed by the server.
func (s *EventSubscriber) Ready() <-chan struct{} {
	return s.ready
}

// Start subscribes and blocks until ctx is canceled or the subscription closes.
func (s *EventSubscriber) Start(ctx context.Context) error {
	pubsub := s.rdb.Subscribe(ctx, s.channel)
	defer func() { _ = pubsub.Close() }()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", s.channel, err)
	}
	close(s.ready)
	slog.Info("Subscribed to producer events", "channel", s.channel)

	ch := pubsub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			s.handleMessage(ctx, msg.Payload)
		case <-ctx.Done():
			return nil
		}
	}
}

func (s *EventSubscriber) handleMessage(ctx context.Context, payload string) {
	ctx, _ = correlation.Ensure(ctx)

	ev, err := domain.DecodeProducerEvent([]byte(payload))
	if err != nil {
		slog.WarnContext(ctx, "Dropping undecodable producer event", "channel", s.channel, "error", err)
		return
	}

	if err := s.handler.Handle(ctx, ev); err != nil {
		slog.WarnContext(ctx, "Producer event handling failed", "topic", ev.Topic, "error", err)
		return
	}

	slog.DebugContext(ctx, "Producer event handled", "topic", ev.Topic)
}

// Publisher hands producer events to the delivery service over Redis.
type Publisher struct {
	rdb     goredis.Cmdable
	channel string
}

func NewPublisher(rdb goredis.Cmdable, channel string) *Publisher {
	return &Publisher{rdb: rdb, channel: channel}
}

func (p *Publisher) Publish(ctx context.Context, ev domain.ProducerEvent) error {
	if !ev.Topic.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrUnknownTopic, ev.Topic)
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal producer event: %w", err)
	}

	if err := p.rdb.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish producer event: %w", err)
	}
	return nil
}
