package httpserver

import (
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGlobalConnectionLimiter(t *testing.T) {
	l := NewGlobalConnectionLimiter(2)

	assert.True(t, l.Acquire())
	assert.True(t, l.Acquire())
	assert.False(t, l.Acquire())
	assert.Equal(t, int64(2), l.Current())

	l.Release()
	assert.True(t, l.Acquire())
}

func TestGlobalConnectionLimiter_Concurrent(t *testing.T) {
	l := NewGlobalConnectionLimiter(50)

	var wg sync.WaitGroup
	var mu sync.Mutex
	acquired := 0
	for j := 0; j < 200; j++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Acquire() {
				mu.Lock()
				acquired++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, acquired)
	assert.Equal(t, int64(50), l.Current())
}

func TestIPConnectionLimiter(t *testing.T) {
	l := NewIPConnectionLimiter(2)

	assert.True(t, l.Acquire("1.1.1.1"))
	assert.True(t, l.Acquire("1.1.1.1"))
	assert.False(t, l.Acquire("1.1.1.1"))
	assert.True(t, l.Acquire("2.2.2.2"), "IPs are counted independently")

	l.Release("1.1.1.1")
	assert.Equal(t, 1, l.Count("1.1.1.1"))
	l.Release("1.1.1.1")
	l.Release("1.1.1.1")
	assert.Equal(t, 0, l.Count("1.1.1.1"), "Release below zero is a no-op")
}

func TestConnectionRateLimiter_BurstAndRefill(t *testing.T) {
	clock := clockwork.NewFakeClock()
	l := NewConnectionRateLimiter(1, 2, clock)

	assert.True(t, l.Allow("1.1.1.1"))
	assert.True(t, l.Allow("1.1.1.1"))
	assert.False(t, l.Allow("1.1.1.1"))

	clock.Advance(time.Second)
	assert.True(t, l.Allow("1.1.1.1"))
}

func TestConnectionRateLimiter_Cleanup(t *testing.T) {
	clock := clockwork.NewFakeClock()
	l := NewConnectionRateLimiter(1, 1, clock)

	l.Allow("1.1.1.1")
	clock.Advance(11 * time.Minute)
	l.Allow("2.2.2.2")

	assert.Equal(t, 1, l.ActiveLimiters())
}

func TestConnectionLimits_RollsBackGlobalOnPerIPLimit(t *testing.T) {
	l := NewConnectionLimits(10, 1, 100, 100, clockwork.NewFakeClock())

	ok, _ := l.Acquire("1.1.1.1")
	require.True(t, ok)

	ok, reason := l.Acquire("1.1.1.1")
	assert.False(t, ok)
	assert.Equal(t, LimitReasonPerIP, reason)
	assert.Equal(t, int64(1), l.global.Current())
}

func TestConnectionLimits_Reasons(t *testing.T) {
	clock := clockwork.NewFakeClock()

	l := NewConnectionLimits(1, 10, 100, 100, clock)
	ok, _ := l.Acquire("1.1.1.1")
	require.True(t, ok)
	ok, reason := l.Acquire("2.2.2.2")
	assert.False(t, ok)
	assert.Equal(t, LimitReasonGlobal, reason)

	l = NewConnectionLimits(10, 10, 1, 1, clock)
	ok, _ = l.Acquire("1.1.1.1")
	require.True(t, ok)
	ok, reason = l.Acquire("1.1.1.1")
	assert.False(t, ok)
	assert.Equal(t, LimitReasonRate, reason)

	l.Release("1.1.1.1")
	assert.Equal(t, int64(0), l.global.Current())
}
