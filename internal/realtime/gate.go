package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/pscheid92/jobpulse/internal/adapter/metrics"
	"github.com/pscheid92/jobpulse/internal/domain"
	"github.com/pscheid92/jobpulse/internal/platform/correlation"
)

const verifyTimeout = 5 * time.Second

// Gate authenticates WebSocket upgrade requests and hands admitted connections to a Session.
// Rejected handshakes are upgraded and immediately closed with code 4401 so that
// browser clients can read the reason.
type Gate struct {
	verifier domain.TokenVerifier
	registry *Registry
	codec    *Codec
	clock    clockwork.Clock
	metrics  *metrics.RealtimeMetrics
	upgrader websocket.Upgrader
}

func NewGate(verifier domain.TokenVerifier, registry *Registry, codec *Codec, clock clockwork.Clock, m *metrics.RealtimeMetrics, checkOrigin func(*http.Request) bool) *Gate {
	return &Gate{
		verifier: verifier,
		registry: registry,
		codec:    codec,
		clock:    clock,
		metrics:  m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
	}
}

func (g *Gate) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(r.URL.Query().Get("token"))

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error response.
		slog.WarnContext(r.Context(), "WebSocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	// The connection outlives the request context.
	ctx := correlation.Detached(r.Context())

	userID, err := g.authenticate(ctx, token)
	if err != nil {
		g.reject(ctx, ws, r.RemoteAddr, err)
		return
	}

	session := newSession(userID, r.RemoteAddr, ws, g.registry, g.codec, g.clock, g.metrics)
	if err := session.Open(ctx); err != nil {
		slog.WarnContext(ctx, "Session open failed", "user_id", userID, "error", err)
		return
	}
	session.Serve(ctx)
}

func (g *Gate) authenticate(ctx context.Context, token string) (domain.UserID, error) {
	if token == "" {
		return "", domain.ErrMissingToken
	}

	ctx, cancel := context.WithTimeout(ctx, verifyTimeout)
	defer cancel()

	userID, err := g.verifier.Verify(ctx, token)
	if err != nil {
		return "", err
	}
	if userID == "" {
		return "", fmt.Errorf("%w: token carries no identity", domain.ErrInvalidToken)
	}
	return userID, nil
}

func (g *Gate) reject(ctx context.Context, ws *websocket.Conn, remoteAddr string, cause error) {
	reason := "invalid_token"
	if errors.Is(cause, domain.ErrMissingToken) {
		reason = "missing_token"
	}
	g.metrics.HandshakeRejected(reason)
	slog.InfoContext(ctx, "Handshake rejected", "remote_addr", remoteAddr, "reason", reason, "error", cause)

	msg := websocket.FormatCloseMessage(CloseUnauthorized, truncateReason("unauthorized: "+cause.Error()))
	_ = ws.WriteControl(websocket.CloseMessage, msg, g.clock.Now().Add(writeDeadline))
	_ = ws.Close()
}
