// Package redis holds the Redis-backed adapters: the profile-skills cache and the
// producer event channel.
package redis

import (
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pscheid92/jobpulse/internal/adapter/metrics"
)

// NewClient creates a go-redis client from a URL (e.g. "redis://localhost:6379/0")
// with metrics and circuit breaker hooks installed. m may be nil.
func NewClient(redisURL string, m *metrics.RedisMetrics) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	rdb := goredis.NewClient(opts)
	rdb.AddHook(&metricsHook{metrics: m})
	rdb.AddHook(newBreakerHook(m))
	return rdb, nil
}
