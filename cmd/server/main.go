package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"

	"github.com/pscheid92/jobpulse/internal/adapter/auth"
	"github.com/pscheid92/jobpulse/internal/adapter/httpserver"
	"github.com/pscheid92/jobpulse/internal/adapter/metrics"
	"github.com/pscheid92/jobpulse/internal/adapter/postgres"
	"github.com/pscheid92/jobpulse/internal/adapter/redis"
	"github.com/pscheid92/jobpulse/internal/app"
	"github.com/pscheid92/jobpulse/internal/platform/config"
	"github.com/pscheid92/jobpulse/internal/platform/logging"
	"github.com/pscheid92/jobpulse/internal/platform/retry"
	"github.com/pscheid92/jobpulse/internal/platform/version"
	"github.com/pscheid92/jobpulse/internal/realtime"
)

const (
	startupTimeout      = 60 * time.Second
	shutdownTimeout     = 10 * time.Second
	cacheEvictInterval  = time.Minute
	subscriberStopGrace = 5 * time.Second
)

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func logRetry(dependency string) func(attempt int, err error, backoff time.Duration) {
	return func(attempt int, err error, backoff time.Duration) {
		slog.Warn("Dependency not ready, retrying", "dependency", dependency, "attempt", attempt, "backoff", backoff, "error", err)
	}
}

func setupDB(ctx context.Context, cfg *config.Config, m *metrics.PostgresMetrics) *pgxpool.Pool {
	pool, err := retry.Do(ctx, retry.StartupPolicy(logRetry("postgres")), retry.RetryUnlessCanceled,
		func(ctx context.Context) (*pgxpool.Pool, error) {
			return postgres.Connect(ctx, cfg.DatabaseURL, m)
		})
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	if err := postgres.RunMigrationsWithLock(ctx, pool); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	return pool
}

func setupRedis(ctx context.Context, cfg *config.Config, m *metrics.RedisMetrics) *goredis.Client {
	client, err := redis.NewClient(cfg.RedisURL, m)
	if err != nil {
		slog.Error("Invalid Redis configuration", "error", err)
		os.Exit(1)
	}

	err = retry.DoVoid(ctx, retry.StartupPolicy(logRetry("redis")), retry.RetryUnlessCanceled,
		func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}

	slog.Info("Redis connected")
	return client
}

func runGracefulShutdown(srv *httpserver.Server, stopSubscriber func(), registry *realtime.Registry) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		// Stop producing before closing the sockets the events would go to.
		stopSubscriber()
		registry.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port, "version", version.Get().String())

	reg := metrics.NewRegistry()
	realtimeMetrics := metrics.NewRealtimeMetrics(reg)
	cacheMetrics := metrics.NewCacheMetrics(reg)
	redisMetrics := metrics.NewRedisMetrics(reg)
	httpMetrics := metrics.NewHTTPMetrics(reg)
	postgresMetrics := metrics.NewPostgresMetrics(reg)

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), startupTimeout)
	pool := setupDB(startupCtx, cfg, postgresMetrics)
	defer pool.Close()

	redisClient := setupRedis(startupCtx, cfg, redisMetrics)
	defer func() { _ = redisClient.Close() }()
	cancelStartup()

	profiles := redis.NewProfileCache(redisClient, postgres.NewProfileRepo(pool), cfg.ProfileCacheTTL, clock, cacheMetrics)
	stopEviction := profiles.StartEvictionTimer(cacheEvictInterval)
	defer stopEviction()

	matcher := realtime.NewJobMatcher(profiles)

	registry := realtime.NewRegistry(clock, realtimeMetrics)

	codec := realtime.NewCodec()
	if err := codec.Register(realtime.NewPingHandler(codec)); err != nil {
		slog.Error("Failed to register inbound handler", "error", err)
		os.Exit(1)
	}

	dispatcher := realtime.NewDispatcher(registry, codec, clock, realtimeMetrics, cfg.FanoutConcurrency)
	notifier := app.NewNotifier(dispatcher, matcher, profiles)

	subscriberCtx, cancelSubscriber := context.WithCancel(context.Background())
	subscriber := redis.NewEventSubscriber(redisClient, cfg.EventsChannel, notifier)
	subscriberDone := make(chan struct{})
	go func() {
		defer close(subscriberDone)
		if err := subscriber.Start(subscriberCtx); err != nil {
			slog.Error("Producer event subscriber stopped", "error", err)
		}
	}()
	stopSubscriber := func() {
		cancelSubscriber()
		select {
		case <-subscriberDone:
		case <-time.After(subscriberStopGrace):
			slog.Warn("Producer event subscriber did not stop in time")
		}
	}

	verifier := auth.NewJWTVerifier([]byte(cfg.JWTSecret), cfg.JWTIssuer, clock)
	checkOrigin := realtime.NewCheckOrigin(cfg.AppURL, cfg.AppEnv == "development")
	gate := realtime.NewGate(verifier, registry, codec, clock, realtimeMetrics, checkOrigin)

	srv := httpserver.NewServer(cfg, httpserver.Options{
		WebSocket:      gate,
		MetricsHandler: metrics.Handler(reg),
		HTTPMetrics:    httpMetrics,
		Realtime:       realtimeMetrics,
		Clock:          clock,
		HealthChecks: []httpserver.HealthCheck{
			{Name: "postgres", Check: func(ctx context.Context) error { return postgres.Ping(ctx, pool) }},
			{Name: "redis", Check: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }},
		},
	})

	done := runGracefulShutdown(srv, stopSubscriber, registry)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
