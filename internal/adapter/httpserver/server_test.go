package httpserver

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pscheid92/jobpulse/internal/adapter/metrics"
	"github.com/pscheid92/jobpulse/internal/platform/config"
)

type testServerOption func(*config.Config, *Options)

func withHealthChecks(checks ...HealthCheck) testServerOption {
	return func(_ *config.Config, o *Options) { o.HealthChecks = checks }
}

func withLimits(global, perIP int, rate float64, burst int) testServerOption {
	return func(cfg *config.Config, _ *Options) {
		cfg.MaxWebSocketConnections = global
		cfg.MaxConnectionsPerIP = perIP
		cfg.ConnectionRatePerSecond = rate
		cfg.ConnectionRateBurst = burst
	}
}

func withWebSocket(h http.Handler) testServerOption {
	return func(_ *config.Config, o *Options) { o.WebSocket = h }
}

func newTestServer(t *testing.T, opts ...testServerOption) *Server {
	t.Helper()

	cfg := &config.Config{
		AppEnv:                  "test",
		Port:                    "0",
		MaxWebSocketConnections: 100,
		MaxConnectionsPerIP:     100,
		ConnectionRatePerSecond: 100,
		ConnectionRateBurst:     100,
	}
	options := Options{
		WebSocket: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}),
		Clock: clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(cfg, &options)
	}

	return NewServer(cfg, options)
}

// holdingWebSocket upgrades and keeps the connection until the client goes away.
func holdingWebSocket() http.Handler {
	upgrader := websocket.Upgrader{}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
}

func dialWS(t *testing.T, ts *httptest.Server) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := strings.Replace(ts.URL, "http://", "ws://", 1) + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if conn != nil {
		t.Cleanup(func() { _ = conn.Close() })
	}
	return conn, resp, err
}

func TestServer_WebSocketGlobalLimit(t *testing.T) {
	reg := prometheus.NewRegistry()
	rm := metrics.NewRealtimeMetrics(reg)

	srv := newTestServer(t, withLimits(2, 100, 100, 100), withWebSocket(holdingWebSocket()),
		func(_ *config.Config, o *Options) { o.Realtime = rm })
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	for i := 0; i < 2; i++ {
		_, _, err := dialWS(t, ts)
		require.NoError(t, err, "connection %d should succeed", i+1)
	}

	_, resp, err := dialWS(t, ts)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, 1.0, testutil.ToFloat64(rm.HandshakeRejections.WithLabelValues("global_limit")))
}

func TestServer_WebSocketPerIPLimit(t *testing.T) {
	srv := newTestServer(t, withLimits(100, 1, 100, 100), withWebSocket(holdingWebSocket()))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	_, _, err := dialWS(t, ts)
	require.NoError(t, err)

	_, resp, err := dialWS(t, ts)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestServer_WebSocketSlotReleasedOnDisconnect(t *testing.T) {
	srv := newTestServer(t, withLimits(1, 1, 100, 100), withWebSocket(holdingWebSocket()))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	conn, _, err := dialWS(t, ts)
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		return srv.limits.global.Current() == 0
	}, 2*time.Second, 10*time.Millisecond)

	_, _, err = dialWS(t, ts)
	require.NoError(t, err)
}

func TestServer_MetricsRoute(t *testing.T) {
	reg := metrics.NewRegistry()
	httpMetrics := metrics.NewHTTPMetrics(reg)
	srv := newTestServer(t, func(_ *config.Config, o *Options) {
		o.MetricsHandler = metrics.Handler(reg)
		o.HTTPMetrics = httpMetrics
	})

	ws := httptest.NewRecorder()
	srv.Handler().ServeHTTP(ws, httptest.NewRequest(http.MethodGet, "/ws", nil))
	require.Equal(t, http.StatusNoContent, ws.Code)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
	assert.Contains(t, rec.Body.String(), `jobpulse_http_requests_total{method="GET",route="/ws",status_code="204"} 1`)
	assert.Equal(t, 1.0, testutil.ToFloat64(httpMetrics.RequestsTotal.WithLabelValues(http.MethodGet, "/ws", "204")))
}

func TestServer_MetricsCountUpgradesAndRejections(t *testing.T) {
	reg := metrics.NewRegistry()
	httpMetrics := metrics.NewHTTPMetrics(reg)
	srv := newTestServer(t, withLimits(1, 100, 100, 100), withWebSocket(holdingWebSocket()),
		func(_ *config.Config, o *Options) { o.HTTPMetrics = httpMetrics })
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	_, _, err := dialWS(t, ts)
	require.NoError(t, err)
	_, resp, err := dialWS(t, ts)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(httpMetrics.RequestsTotal.WithLabelValues(http.MethodGet, "/ws", "101")) == 1 &&
			testutil.ToFloat64(httpMetrics.RequestsTotal.WithLabelValues(http.MethodGet, "/ws", "503")) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServer_UnknownRoute(t *testing.T) {
	srv := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
