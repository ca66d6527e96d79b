package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"

	apperrors "github.com/pscheid92/jobpulse/internal/platform/errors"
)

// HTTPMetrics tracks the service's HTTP surface: WebSocket handshakes on /ws and the
// version endpoint. Health checks and the scrape endpoint are left out.
type HTTPMetrics struct {
	RequestDuration *prometheus.HistogramVec
	RequestsTotal   *prometheus.CounterVec
	InFlightGauge   prometheus.Gauge
}

// NewHTTPMetrics creates and registers HTTP metrics on the given registry.
func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	m := &HTTPMetrics{
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Time until a response was written or the connection was upgraded.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"method", "route", "status_code"}),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by outcome; upgraded WebSocket handshakes count as 101.",
		}, []string{"method", "route", "status_code"}),
		InFlightGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Requests not yet answered or upgraded.",
		}),
	}

	reg.MustRegister(m.RequestDuration, m.RequestsTotal, m.InFlightGauge)
	return m
}

func skipRoute(route string) bool {
	return route == "/metrics" || strings.HasPrefix(route, "/health/")
}

// Middleware records one observation per request. For /ws the observation is taken
// when the connection is hijacked, so session lifetime never leaks into the latency.
func (m *HTTPMetrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			route := c.Path()
			if m == nil || skipRoute(route) {
				return next(c)
			}

			method := c.Request().Method
			start := time.Now()
			recorded := false
			record := func(status int) {
				if recorded {
					return
				}
				recorded = true
				m.InFlightGauge.Dec()
				code := strconv.Itoa(status)
				m.RequestDuration.WithLabelValues(method, route, code).Observe(time.Since(start).Seconds())
				m.RequestsTotal.WithLabelValues(method, route, code).Inc()
			}

			m.InFlightGauge.Inc()
			res := c.Response()
			res.Writer = &upgradeWatcher{
				ResponseWriter: res.Writer,
				onUpgrade:      func() { record(http.StatusSwitchingProtocols) },
			}

			err := next(c)
			record(responseStatus(res, err))
			return err
		}
	}
}

// responseStatus is the status the client sees. Errors not yet written are rendered
// later by the error middleware, so their status is derived from the error itself.
func responseStatus(res *echo.Response, err error) int {
	if err == nil || res.Committed {
		return res.Status
	}
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Code
	}
	return apperrors.AsStructuredError(err).HTTPStatus()
}

// upgradeWatcher reports a successful hijack, which is how a WebSocket upgrade
// takes over the connection.
type upgradeWatcher struct {
	http.ResponseWriter
	onUpgrade func()
}

func (w *upgradeWatcher) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	conn, rw, err := http.NewResponseController(w.ResponseWriter).Hijack()
	if err == nil {
		w.onUpgrade()
	}
	return conn, rw, err
}

func (w *upgradeWatcher) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
