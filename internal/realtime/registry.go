package realtime

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/pscheid92/jobpulse/internal/adapter/metrics"
	"github.com/pscheid92/jobpulse/internal/domain"
)

const (
	commandTimeout    = 5 * time.Second
	stopTimeout       = 10 * time.Second
	commandQueueSize  = 256
	queueWarningDepth = 200
)

var ErrRegistryStopped = errors.New("registry stopped")

// Entry is one (user, connection) pair from a registry snapshot.
type Entry struct {
	UserID domain.UserID
	Conn   *Conn
}

type registryCmd interface{ isRegistryCmd() }

type baseRegistryCmd struct{}

func (baseRegistryCmd) isRegistryCmd() {}

type registerCmd struct {
	baseRegistryCmd
	userID domain.UserID
	conn   *Conn
	reply  chan *Conn
}

type unregisterCmd struct {
	baseRegistryCmd
	userID domain.UserID
	reply  chan bool
}

type releaseCmd struct {
	baseRegistryCmd
	userID domain.UserID
	conn   *Conn
	reply  chan bool
}

type lookupCmd struct {
	baseRegistryCmd
	userID domain.UserID
	reply  chan *Conn
}

type snapshotCmd struct {
	baseRegistryCmd
	reply chan []Entry
}

type countCmd struct {
	baseRegistryCmd
	reply chan int
}

type stopCmd struct {
	baseRegistryCmd
}

// Registry maps each online user to their live connection.
// A single goroutine owns the map; every method is a command sent to it.
type Registry struct {
	cmdCh       chan registryCmd
	clock       clockwork.Clock
	conns       map[domain.UserID]*Conn
	metrics     *metrics.RealtimeMetrics
	done        chan struct{}
	stopOnce    sync.Once
	stopTimeout time.Duration
}

func NewRegistry(clock clockwork.Clock, m *metrics.RealtimeMetrics) *Registry {
	r := &Registry{
		cmdCh:       make(chan registryCmd, commandQueueSize),
		clock:       clock,
		conns:       make(map[domain.UserID]*Conn),
		metrics:     m,
		done:        make(chan struct{}),
		stopTimeout: stopTimeout,
	}
	go r.run()
	return r
}

// Register installs conn for userID, replacing any earlier connection.
// The replaced connection, if any, is returned; the caller decides how to close it.
func (r *Registry) Register(userID domain.UserID, conn *Conn) (*Conn, error) {
	reply := make(chan *Conn, 1)
	if err := r.submit(registerCmd{userID: userID, conn: conn, reply: reply}); err != nil {
		return nil, err
	}
	return await(r, reply, "register")
}

// Unregister removes whatever connection is registered for userID.
func (r *Registry) Unregister(userID domain.UserID) {
	reply := make(chan bool, 1)
	if err := r.submit(unregisterCmd{userID: userID, reply: reply}); err != nil {
		return
	}
	if _, err := await(r, reply, "unregister"); err != nil {
		logIncomplete("Unregister", userID, err)
	}
}

// Release removes the entry for userID only if it still points at conn.
// Reports whether an entry was removed.
func (r *Registry) Release(userID domain.UserID, conn *Conn) bool {
	reply := make(chan bool, 1)
	if err := r.submit(releaseCmd{userID: userID, conn: conn, reply: reply}); err != nil {
		return false
	}
	removed, err := await(r, reply, "release")
	if err != nil {
		logIncomplete("Release", userID, err)
	}
	return removed
}

// logIncomplete reports a cleanup command that got no answer. A stopped registry
// has already dropped every entry, so that case is expected during shutdown.
func logIncomplete(op string, userID domain.UserID, err error) {
	if errors.Is(err, ErrRegistryStopped) {
		slog.Debug(op+" skipped, registry stopped", "user_id", userID)
		return
	}
	slog.Warn(op+" did not complete", "user_id", userID, "error", err)
}

func (r *Registry) Lookup(userID domain.UserID) (*Conn, bool) {
	reply := make(chan *Conn, 1)
	if err := r.submit(lookupCmd{userID: userID, reply: reply}); err != nil {
		return nil, false
	}
	conn, err := await(r, reply, "lookup")
	if err != nil || conn == nil {
		return nil, false
	}
	return conn, true
}

// Snapshot returns a copy of every registered pair. Order is not significant.
func (r *Registry) Snapshot() []Entry {
	reply := make(chan []Entry, 1)
	if err := r.submit(snapshotCmd{reply: reply}); err != nil {
		return nil
	}
	entries, err := await(r, reply, "snapshot")
	if err != nil {
		slog.Warn("Snapshot timed out", "timeout", commandTimeout)
		return nil
	}
	return entries
}

// Count returns the number of registered users, or -1 if the command times out.
func (r *Registry) Count() int {
	reply := make(chan int, 1)
	if err := r.submit(countCmd{reply: reply}); err != nil {
		return 0
	}
	n, err := await(r, reply, "count")
	if err != nil {
		slog.Warn("Count timed out", "timeout", commandTimeout)
		return -1
	}
	return n
}

// Stop closes every registered connection and ends the actor.
// Blocks until the actor has exited or the stop timeout is reached. Later calls are no-ops.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() {
		if err := r.submit(stopCmd{}); err != nil {
			return
		}

		timeout := r.clock.NewTimer(r.stopTimeout)
		defer timeout.Stop()

		select {
		case <-r.done:
			slog.Info("Registry stopped gracefully")
		case <-timeout.Chan():
			slog.Warn("Registry stop timeout exceeded", "timeout", r.stopTimeout)
		}
	})
}

func (r *Registry) submit(cmd registryCmd) error {
	select {
	case <-r.done:
		return ErrRegistryStopped
	default:
	}

	select {
	case r.cmdCh <- cmd:
		return nil
	case <-r.done:
		return ErrRegistryStopped
	}
}

func await[T any](r *Registry, reply <-chan T, op string) (T, error) {
	timer := r.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	var zero T
	select {
	case v := <-reply:
		return v, nil
	case <-r.done:
		return zero, ErrRegistryStopped
	case <-timer.Chan():
		return zero, fmt.Errorf("%s command timed out after %v", op, commandTimeout)
	}
}

func (r *Registry) run() {
	defer close(r.done)
	defer func() {
		if p := recover(); p != nil {
			slog.Error("Registry panic recovered", "panic", p)
			r.closeAll(websocket.CloseInternalServerErr, "internal error")
		}
	}()

	depthTicker := r.clock.NewTicker(time.Second)
	defer depthTicker.Stop()

	for {
		select {
		case <-depthTicker.Chan():
			depth := len(r.cmdCh)
			r.metrics.SetRegistryQueueDepth(depth)
			if depth > queueWarningDepth {
				slog.Warn("Registry command queue near capacity", "depth", depth, "capacity", cap(r.cmdCh))
			}

		case cmd := <-r.cmdCh:
			switch c := cmd.(type) {
			case registerCmd:
				c.reply <- r.handleRegister(c)
			case unregisterCmd:
				c.reply <- r.remove(c.userID)
			case releaseCmd:
				removed := false
				if current, ok := r.conns[c.userID]; ok && current == c.conn {
					removed = r.remove(c.userID)
				}
				c.reply <- removed
			case lookupCmd:
				c.reply <- r.conns[c.userID]
			case snapshotCmd:
				c.reply <- r.snapshot()
			case countCmd:
				c.reply <- len(r.conns)
			case stopCmd:
				r.handleStop()
				return
			default:
				slog.Warn("Registry received unknown command type", "command_type", fmt.Sprintf("%T", cmd))
			}
		}
	}
}

func (r *Registry) handleRegister(c registerCmd) *Conn {
	previous := r.conns[c.userID]
	r.conns[c.userID] = c.conn
	r.metrics.SetActiveConnections(len(r.conns))

	if previous == c.conn {
		return nil
	}
	if previous != nil {
		r.metrics.ConnectionReplaced()
		slog.Info("Connection replaced", "user_id", c.userID, "old_conn_id", previous.ID, "new_conn_id", c.conn.ID)
	} else {
		slog.Debug("Connection registered", "user_id", c.userID, "conn_id", c.conn.ID, "total", len(r.conns))
	}
	return previous
}

func (r *Registry) remove(userID domain.UserID) bool {
	if _, ok := r.conns[userID]; !ok {
		return false
	}
	delete(r.conns, userID)
	r.metrics.SetActiveConnections(len(r.conns))
	slog.Debug("Connection unregistered", "user_id", userID, "remaining", len(r.conns))
	return true
}

func (r *Registry) snapshot() []Entry {
	entries := make([]Entry, 0, len(r.conns))
	for id, conn := range r.conns {
		conn := conn
		entries = append(entries, Entry{UserID: id, Conn: conn})
	}
	return entries
}

func (r *Registry) handleStop() {
	total := len(r.conns)
	slog.Info("Registry shutting down", "connections", total)
	r.closeAll(websocket.CloseGoingAway, "server shutting down")
	slog.Info("Registry shutdown complete", "disconnected_clients", total)
}

// closeAll closes connections in parallel; each close may wait on a write deadline.
func (r *Registry) closeAll(code int, reason string) {
	var wg sync.WaitGroup
	for id, conn := range r.conns {
		conn := conn
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn.closeWith(code, reason)
		}()
		delete(r.conns, id)
	}
	wg.Wait()
	r.metrics.SetActiveConnections(0)
}
