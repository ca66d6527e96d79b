package realtime

import (
	"context"
	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/pscheid92/jobpulse/internal/adapter/metrics"
	"github.com/pscheid92/jobpulse/internal/domain"
)

const defaultFanoutConcurrency = 32

// Dispatcher routes outbound envelopes to registered connections.
// A failure to reach one recipient never affects another.
type Dispatcher struct {
	registry          *Registry
	codec             *Codec
	clock             clockwork.Clock
	metrics           *metrics.RealtimeMetrics
	fanoutConcurrency int
}

var _ domain.Deliverer = (*Dispatcher)(nil)

func NewDispatcher(registry *Registry, codec *Codec, clock clockwork.Clock, m *metrics.RealtimeMetrics, fanoutConcurrency int) *Dispatcher {
	if fanoutConcurrency <= 0 {
		fanoutConcurrency = defaultFanoutConcurrency
	}
	return &Dispatcher{
		registry:          registry,
		codec:             codec,
		clock:             clock,
		metrics:           m,
		fanoutConcurrency: fanoutConcurrency,
	}
}

// SendToUser delivers env to userID if they are online. Offline users are skipped silently.
func (d *Dispatcher) SendToUser(ctx context.Context, userID domain.UserID, env domain.Envelope) {
	data, err := d.codec.Encode(env)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to encode envelope", "kind", env.Kind(), "error", err)
		return
	}
	d.sendEncoded(ctx, userID, env.Kind(), data)
}

// BroadcastToRoom delivers env to every member except exclude. Members listed twice receive it once.
func (d *Dispatcher) BroadcastToRoom(ctx context.Context, members []domain.UserID, env domain.Envelope, exclude domain.UserID) {
	start := d.clock.Now()
	defer func() { d.metrics.ObserveFanout("room", d.clock.Since(start).Seconds()) }()

	data, err := d.codec.Encode(env)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to encode envelope", "kind", env.Kind(), "error", err)
		return
	}

	seen := make(map[domain.UserID]struct{}, len(members))
	for _, member := range members {
		if member == "" || (exclude != "" && member == exclude) {
			continue
		}
		if _, dup := seen[member]; dup {
			continue
		}
		seen[member] = struct{}{}
		d.sendEncoded(ctx, member, env.Kind(), data)
	}
}

// BroadcastAll delivers env to every connection registered at call time.
// With a non-nil augment each recipient gets the envelope augment builds for them;
// if augment fails the plain envelope is sent instead.
func (d *Dispatcher) BroadcastAll(ctx context.Context, env domain.Envelope, augment domain.AugmentFunc) {
	start := d.clock.Now()
	defer func() { d.metrics.ObserveFanout("all", d.clock.Since(start).Seconds()) }()

	entries := d.registry.Snapshot()
	if len(entries) == 0 {
		return
	}

	plain, err := d.codec.Encode(env)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to encode envelope", "kind", env.Kind(), "error", err)
		return
	}

	if augment == nil {
		for _, e := range entries {
			d.deliver(ctx, e.Conn, env.Kind(), plain)
		}
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.fanoutConcurrency)
	for _, e := range entries {
		e := e
		g.Go(func() error {
			data := plain
			personal, err := augment(gctx, e.UserID, env)
			if err != nil {
				slog.WarnContext(ctx, "Augment failed, sending plain envelope", "user_id", e.UserID, "kind", env.Kind(), "error", err)
			} else if encoded, err := d.codec.Encode(personal); err != nil {
				slog.WarnContext(ctx, "Failed to encode augmented envelope", "user_id", e.UserID, "error", err)
			} else {
				data = encoded
			}
			d.deliver(ctx, e.Conn, env.Kind(), data)
			return nil
		})
	}
	_ = g.Wait()

	slog.DebugContext(ctx, "Broadcast complete", "kind", env.Kind(), "recipients", len(entries), "duration", d.clock.Since(start))
}

func (d *Dispatcher) sendEncoded(ctx context.Context, userID domain.UserID, kind domain.EventKind, data []byte) {
	conn, ok := d.registry.Lookup(userID)
	if !ok {
		d.metrics.EnvelopeDropped(string(kind), "offline")
		slog.DebugContext(ctx, "Recipient offline, dropping envelope", "user_id", userID, "kind", kind)
		return
	}
	d.deliver(ctx, conn, kind, data)
}

func (d *Dispatcher) deliver(ctx context.Context, conn *Conn, kind domain.EventKind, data []byte) {
	switch conn.send(data) {
	case sendQueued:
		d.metrics.EnvelopeDelivered(string(kind))
	case sendClosed:
		d.metrics.EnvelopeDropped(string(kind), "closed")
	case sendFull:
		d.metrics.EnvelopeDropped(string(kind), "slow_consumer")
		d.evict(ctx, conn)
	}
}

// evict closes a connection whose buffer is full. Runs in the background since the
// close frame may wait up to the write deadline.
func (d *Dispatcher) evict(ctx context.Context, conn *Conn) {
	if conn.closed() || !conn.evicting.CompareAndSwap(false, true) {
		return
	}
	slog.WarnContext(ctx, "Disconnecting slow client", "user_id", conn.UserID, "conn_id", conn.ID)
	d.metrics.SlowConsumerEvicted()

	go func() {
		conn.abort(websocket.ClosePolicyViolation, "slow consumer")
		d.registry.Release(conn.UserID, conn)
	}()
}
