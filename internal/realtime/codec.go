package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pscheid92/jobpulse/internal/domain"
)

// InboundHandler reacts to one kind of client frame.
type InboundHandler interface {
	Kind() domain.EventKind
	Handle(ctx context.Context, conn *Conn, frame domain.InboundFrame) error
}

// Codec translates between wire frames and envelopes, and routes decoded
// inbound frames to their registered handler.
type Codec struct {
	mu       sync.RWMutex
	handlers map[domain.EventKind]InboundHandler
}

func NewCodec() *Codec {
	return &Codec{handlers: make(map[domain.EventKind]InboundHandler)}
}

// Register installs h for h.Kind(), replacing any previous handler of that kind.
func (c *Codec) Register(h InboundHandler) error {
	kind := h.Kind()
	if kind.Direction() != domain.Inbound {
		return fmt.Errorf("register handler: %q is not an inbound kind", kind)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[kind] = h
	return nil
}

func (c *Codec) Encode(env domain.Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", env.Kind(), err)
	}
	return data, nil
}

type wireFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Decode parses a client frame. Frames that are not a JSON object with a known
// inbound type are rejected.
func (c *Codec) Decode(frame []byte) (domain.InboundFrame, error) {
	trimmed := bytes.TrimSpace(frame)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return domain.InboundFrame{}, fmt.Errorf("%w: not a JSON object", domain.ErrMalformedFrame)
	}

	var wf wireFrame
	if err := json.Unmarshal(trimmed, &wf); err != nil {
		return domain.InboundFrame{}, fmt.Errorf("%w: %w", domain.ErrMalformedFrame, err)
	}

	kind, err := domain.ParseEventKind(wf.Type)
	if err != nil {
		return domain.InboundFrame{}, err
	}
	if kind.Direction() != domain.Inbound {
		return domain.InboundFrame{}, fmt.Errorf("%w: %q is not accepted from clients", domain.ErrUnknownEventKind, kind)
	}

	return domain.InboundFrame{Kind: kind, Payload: wf.Payload}, nil
}

// Dispatch decodes frame and hands it to the matching handler.
func (c *Codec) Dispatch(ctx context.Context, conn *Conn, frame []byte) error {
	decoded, err := c.Decode(frame)
	if err != nil {
		return err
	}

	c.mu.RLock()
	h, ok := c.handlers[decoded.Kind]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: no handler for %q", domain.ErrUnknownEventKind, decoded.Kind)
	}

	if err := h.Handle(ctx, conn, decoded); err != nil {
		return fmt.Errorf("handle %s: %w", decoded.Kind, err)
	}
	return nil
}

// pingHandler answers an application-level ping with a pong to the same connection.
type pingHandler struct {
	codec *Codec
}

func NewPingHandler(codec *Codec) InboundHandler {
	return &pingHandler{codec: codec}
}

func (h *pingHandler) Kind() domain.EventKind { return domain.KindPing }

func (h *pingHandler) Handle(ctx context.Context, conn *Conn, _ domain.InboundFrame) error {
	env, err := domain.NewEnvelope(domain.KindPong, nil)
	if err != nil {
		return err
	}
	data, err := h.codec.Encode(env)
	if err != nil {
		return err
	}
	if status := conn.send(data); status != sendQueued {
		slog.DebugContext(ctx, "Pong not delivered", "user_id", conn.UserID, "status", status)
	}
	return nil
}
