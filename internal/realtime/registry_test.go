package realtime

import (
	"bytes"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pscheid92/jobpulse/internal/domain"
)

func TestRegistry_RegisterLookupUnregister(t *testing.T) {
	registry := testRegistry(t)
	conn := testConn(t, clockwork.NewRealClock(), "alice", newFakeTransport())

	previous, err := registry.Register("alice", conn)
	require.NoError(t, err)
	assert.Nil(t, previous)

	got, ok := registry.Lookup("alice")
	require.True(t, ok)
	assert.Same(t, conn, got)
	assert.Equal(t, 1, registry.Count())

	registry.Unregister("alice")

	_, ok = registry.Lookup("alice")
	assert.False(t, ok)
	assert.Equal(t, 0, registry.Count())
}

func TestRegistry_UnregisterAbsentIsNoop(t *testing.T) {
	registry := testRegistry(t)
	registry.Unregister("nobody")
	assert.Equal(t, 0, registry.Count())
}

func TestRegistry_RegisterReplacesAndReturnsPrevious(t *testing.T) {
	registry := testRegistry(t)
	clock := clockwork.NewRealClock()
	first := testConn(t, clock, "alice", newFakeTransport())
	second := testConn(t, clock, "alice", newFakeTransport())

	_, err := registry.Register("alice", first)
	require.NoError(t, err)
	previous, err := registry.Register("alice", second)
	require.NoError(t, err)

	assert.Same(t, first, previous)
	got, _ := registry.Lookup("alice")
	assert.Same(t, second, got)
	assert.Equal(t, 1, registry.Count())
}

func TestRegistry_ReRegisterSameConnReturnsNil(t *testing.T) {
	registry := testRegistry(t)
	conn := testConn(t, clockwork.NewRealClock(), "alice", newFakeTransport())

	_, err := registry.Register("alice", conn)
	require.NoError(t, err)
	previous, err := registry.Register("alice", conn)
	require.NoError(t, err)
	assert.Nil(t, previous)
}

func TestRegistry_ReleaseOnlyRemovesMatchingConn(t *testing.T) {
	registry := testRegistry(t)
	clock := clockwork.NewRealClock()
	stale := testConn(t, clock, "alice", newFakeTransport())
	current := testConn(t, clock, "alice", newFakeTransport())

	_, _ = registry.Register("alice", stale)
	_, _ = registry.Register("alice", current)

	assert.False(t, registry.Release("alice", stale))
	got, ok := registry.Lookup("alice")
	require.True(t, ok)
	assert.Same(t, current, got)

	assert.True(t, registry.Release("alice", current))
	_, ok = registry.Lookup("alice")
	assert.False(t, ok)
}

func TestRegistry_SnapshotIsACopy(t *testing.T) {
	registry := testRegistry(t)
	clock := clockwork.NewRealClock()
	for _, id := range []domain.UserID{"a", "b", "c"} {
		_, err := registry.Register(id, testConn(t, clock, id, newFakeTransport()))
		require.NoError(t, err)
	}

	snapshot := registry.Snapshot()
	require.Len(t, snapshot, 3)

	registry.Unregister("a")
	assert.Len(t, snapshot, 3, "snapshot must not change after the registry does")
	assert.Len(t, registry.Snapshot(), 2)

	ids := make([]domain.UserID, 0, len(snapshot))
	for _, e := range snapshot {
		assert.Equal(t, e.UserID, e.Conn.UserID)
		ids = append(ids, e.UserID)
	}
	assert.ElementsMatch(t, []domain.UserID{"a", "b", "c"}, ids)
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	registry := testRegistry(t)
	clock := clockwork.NewRealClock()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := domain.UserID(string(rune('A' + i%26)))
			conn := testConn(t, clock, id, newFakeTransport())
			_, _ = registry.Register(id, conn)
			registry.Lookup(id)
			registry.Snapshot()
			registry.Release(id, conn)
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, registry.Count())
}

func TestRegistry_StopClosesConnectionsAndRejectsLaterCommands(t *testing.T) {
	registry := NewRegistry(clockwork.NewRealClock(), nil)
	clock := clockwork.NewRealClock()

	transports := []*fakeTransport{newFakeTransport(), newFakeTransport()}
	_, _ = registry.Register("a", testConn(t, clock, "a", transports[0]))
	_, _ = registry.Register("b", testConn(t, clock, "b", transports[1]))

	registry.Stop()

	for _, ft := range transports {
		frame := waitForClose(t, ft)
		assert.Equal(t, websocket.CloseGoingAway, frame.code)
		assert.Equal(t, "server shutting down", frame.reason)
	}

	_, err := registry.Register("c", testConn(t, clock, "c", newFakeTransport()))
	assert.ErrorIs(t, err, ErrRegistryStopped)
	_, ok := registry.Lookup("a")
	assert.False(t, ok)
	assert.Equal(t, 0, registry.Count())
	assert.NotPanics(t, registry.Stop)
}

// captureWarnings routes the default logger into a buffer at warn level.
func captureWarnings(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn})))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestRegistry_CleanupAfterStopIsQuiet(t *testing.T) {
	registry := NewRegistry(clockwork.NewRealClock(), nil)
	conn := testConn(t, clockwork.NewRealClock(), "a", newFakeTransport())
	_, err := registry.Register("a", conn)
	require.NoError(t, err)

	registry.Stop()
	logs := captureWarnings(t)

	start := time.Now()
	assert.False(t, registry.Release("a", conn))
	registry.Unregister("a")
	assert.Less(t, time.Since(start), commandTimeout)
	assert.Empty(t, logs.String())
}

func TestLogIncomplete(t *testing.T) {
	logs := captureWarnings(t)

	logIncomplete("Release", "a", ErrRegistryStopped)
	assert.Empty(t, logs.String())

	logIncomplete("Release", "a", errors.New("release command timed out after 5s"))
	assert.Contains(t, logs.String(), "Release did not complete")
	assert.Contains(t, logs.String(), "user_id=a")
}
