package httpserver

import (
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Ops routes are cheap but public; they share a per-IP request budget.
const (
	opsRatePerSecond = 20
	opsBurst         = 40
)

func (s *Server) registerRoutes() {
	s.echo.Use(correlationMiddleware)
	s.echo.Use(s.setupRequestLoggerMiddleware())
	s.echo.Use(middleware.Recover())
	s.echo.Use(ErrorHandlingMiddleware())

	// Metrics wrap the limiter so rejected handshakes are counted with their status.
	var measured []echo.MiddlewareFunc
	if s.httpMetrics != nil {
		measured = append(measured, s.httpMetrics.Middleware())
	}

	s.echo.GET("/ws", echo.WrapHandler(s.websocketHandler), append(measured, s.connectionLimitMiddleware())...)

	ops := append([]echo.MiddlewareFunc{newRateLimiter(opsRatePerSecond, opsBurst)}, measured...)
	s.registerHealthRoutes(ops...)
	if s.metricsHandler != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.metricsHandler), ops...)
	}
}

func (s *Server) setupRequestLoggerMiddleware() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:   true,
		LogURIPath:  true,
		LogMethod:   true,
		LogLatency:  true,
		LogRemoteIP: true,
		LogError:    true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"path", v.URIPath,
				"status", v.Status,
				"latency", v.Latency,
				"remote_ip", v.RemoteIP,
			}
			if v.Error != nil {
				attrs = append(attrs, "error", v.Error)
			}
			slog.InfoContext(c.Request().Context(), "Request", attrs...)
			return nil
		},
	})
}
