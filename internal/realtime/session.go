package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/pscheid92/jobpulse/internal/adapter/metrics"
	"github.com/pscheid92/jobpulse/internal/domain"
)

type SessionState int32

const (
	StateConnecting SessionState = iota
	StateOpen
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var ErrSessionNotConnecting = errors.New("session is not connecting")

// Session drives one authenticated connection from open to close.
type Session struct {
	conn      *Conn
	transport transport
	registry  *Registry
	codec     *Codec
	metrics   *metrics.RealtimeMetrics
	state     atomic.Int32
}

func newSession(userID domain.UserID, remoteAddr string, t transport, registry *Registry, codec *Codec, clock clockwork.Clock, m *metrics.RealtimeMetrics) *Session {
	return &Session{
		conn:      newConn(userID, remoteAddr, t, clock),
		transport: t,
		registry:  registry,
		codec:     codec,
		metrics:   m,
	}
}

func (s *Session) State() SessionState { return SessionState(s.state.Load()) }

func (s *Session) Conn() *Conn { return s.conn }

// Open acknowledges the handshake and registers the connection. The acknowledgement is
// queued before registration so it is always the first frame the client sees.
// A connection previously registered for the same user is closed as replaced.
func (s *Session) Open(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen)) {
		return fmt.Errorf("open session: %w (state %s)", ErrSessionNotConnecting, s.State())
	}

	ack, err := json.Marshal(domain.NewConnectionAck(s.conn.UserID))
	if err != nil {
		s.Close(websocket.CloseInternalServerErr, "internal error")
		return fmt.Errorf("marshal connection ack: %w", err)
	}
	s.conn.send(ack)

	previous, err := s.registry.Register(s.conn.UserID, s.conn)
	if err != nil {
		s.Close(websocket.CloseGoingAway, "server shutting down")
		return fmt.Errorf("register connection: %w", err)
	}
	if previous != nil {
		go previous.closeWith(CloseReplaced, "replaced by a newer connection")
	}

	slog.InfoContext(ctx, "Session opened", "user_id", s.conn.UserID, "conn_id", s.conn.ID, "remote_addr", s.conn.RemoteAddr)
	return nil
}

// Close releases the registry entry and closes the socket. Only the first call has any effect.
func (s *Session) Close(code int, reason string) {
	for {
		current := s.state.Load()
		if SessionState(current) == StateClosed {
			return
		}
		if s.state.CompareAndSwap(current, int32(StateClosed)) {
			break
		}
	}

	s.registry.Release(s.conn.UserID, s.conn)
	s.conn.closeWith(code, reason)
}

// Serve reads client frames until the connection ends or ctx is cancelled, then closes the session.
func (s *Session) Serve(ctx context.Context) {
	stop := context.AfterFunc(ctx, func() {
		s.Close(websocket.CloseGoingAway, "server shutting down")
	})
	defer stop()
	defer s.Close(websocket.CloseNormalClosure, "")

	for {
		messageType, data, err := s.transport.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				slog.DebugContext(ctx, "Connection read ended", "user_id", s.conn.UserID, "error", err)
			}
			slog.InfoContext(ctx, "Session closed", "user_id", s.conn.UserID, "conn_id", s.conn.ID, "duration", s.conn.writer.clock.Since(s.conn.OpenedAt))
			return
		}

		s.conn.writer.refreshReadDeadline()

		if messageType != websocket.TextMessage {
			s.metrics.MalformedFrame()
			slog.DebugContext(ctx, "Dropping non-text frame", "user_id", s.conn.UserID, "message_type", messageType)
			continue
		}

		if err := s.codec.Dispatch(ctx, s.conn, data); err != nil {
			s.metrics.MalformedFrame()
			slog.DebugContext(ctx, "Dropping inbound frame", "user_id", s.conn.UserID, "error", err)
		}
	}
}
