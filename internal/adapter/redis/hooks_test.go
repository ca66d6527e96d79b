package redis

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pscheid92/jobpulse/internal/adapter/metrics"
)

func TestNewClient_InvalidURL(t *testing.T) {
	_, err := NewClient("not a url", nil)
	require.Error(t, err)
}

func TestMetricsHook_RecordsCommands(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewRedisMetrics(reg)

	_, rdb := setupBareRedis(t)
	rdb.AddHook(&metricsHook{metrics: m})

	require.NoError(t, rdb.Set(context.Background(), "k", "v", 0).Err())
	require.ErrorIs(t, rdb.Get(context.Background(), "missing").Err(), goredis.Nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.OpsTotal.WithLabelValues("set", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OpsTotal.WithLabelValues("get", "success")), "redis.Nil is not a failure")
}

func TestBreakerHook_OpensAfterRepeatedFailures(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewRedisMetrics(reg)

	mr, rdb := setupBareRedis(t)
	hook := newBreakerHook(m)
	rdb.AddHook(hook)

	require.NoError(t, rdb.Ping(context.Background()).Err())
	mr.Close()

	var err error
	for j := 0; j < 10; j++ {
		err = rdb.Get(context.Background(), "k").Err()
		if errors.Is(err, circuitbreaker.ErrOpen) {
			break
		}
	}

	require.ErrorIs(t, err, circuitbreaker.ErrOpen)
	assert.True(t, hook.cb.IsOpen())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.BreakerState))
}

// setupBareRedis returns a client without the hooks NewClient installs.
func setupBareRedis(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}
