package realtime

import (
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/pscheid92/jobpulse/internal/domain"
)

const (
	writeDeadline     = 5 * time.Second
	pingInterval      = 30 * time.Second
	pongDeadline      = 60 * time.Second
	maxInboundBytes   = 64 << 10
	messageBufferSize = 64

	// Application close codes (4000-4999 range).
	CloseUnauthorized = 4401
	CloseReplaced     = 4409

	// Control frame payload is 125 bytes, two of which carry the code.
	maxCloseReasonBytes = 123
)

// transport is the subset of *websocket.Conn a connection needs.
type transport interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	ReadMessage() (messageType int, p []byte, err error)
	SetWriteDeadline(t time.Time) error
	SetReadDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(appData string) error)
	Close() error
}

type sendStatus int

const (
	sendQueued sendStatus = iota
	sendClosed
	sendFull
)

func (s sendStatus) String() string {
	switch s {
	case sendQueued:
		return "queued"
	case sendClosed:
		return "closed"
	default:
		return "full"
	}
}

// Conn is one authenticated live connection. It belongs to exactly one user.
type Conn struct {
	ID         uuid.UUID
	UserID     domain.UserID
	RemoteAddr string
	OpenedAt   time.Time

	writer   *clientWriter
	evicting atomic.Bool
}

func newConn(userID domain.UserID, remoteAddr string, t transport, clock clockwork.Clock) *Conn {
	return &Conn{
		ID:         uuid.New(),
		UserID:     userID,
		RemoteAddr: remoteAddr,
		OpenedAt:   clock.Now(),
		writer:     newClientWriter(t, clock),
	}
}

// send enqueues an encoded frame without blocking.
func (c *Conn) send(msg []byte) sendStatus {
	return c.writer.enqueue(msg)
}

// closeWith sends a close frame after pending writes and closes the socket. Safe to call repeatedly.
func (c *Conn) closeWith(code int, reason string) {
	c.writer.stopGraceful(code, reason)
}

// abort closes the connection without waiting for an in-flight write to finish.
// The close frame goes out as a control message, which may interleave with a blocked write.
func (c *Conn) abort(code int, reason string) {
	c.writer.abort(code, reason)
}

// Done is closed once the connection's writer has stopped, whether it was closed
// by the server or a write to the peer failed.
func (c *Conn) Done() <-chan struct{} {
	return c.writer.stoppedChannel
}

func (c *Conn) closed() bool {
	return c.writer.stopped()
}

type clientWriter struct {
	connection  transport
	clock       clockwork.Clock
	sendChannel chan []byte
	doneChannel chan struct{}

	// stoppedChannel is closed when run exits, including after a failed write.
	stoppedChannel chan struct{}
	stopOnce       sync.Once
	wg             sync.WaitGroup
}

func newClientWriter(connection transport, clock clockwork.Clock) *clientWriter {
	cw := &clientWriter{
		connection:     connection,
		clock:          clock,
		sendChannel:    make(chan []byte, messageBufferSize),
		doneChannel:    make(chan struct{}),
		stoppedChannel: make(chan struct{}),
	}
	cw.configureReader()
	cw.wg.Add(1)
	go cw.run()
	return cw
}

func (cw *clientWriter) run() {
	ticker := cw.clock.NewTicker(pingInterval)
	defer ticker.Stop()
	defer cw.wg.Done()
	defer close(cw.stoppedChannel)

	for {
		select {
		case msg := <-cw.sendChannel:
			cw.updateWriteDeadline()
			if err := cw.connection.WriteMessage(websocket.TextMessage, msg); err != nil {
				// Unblock the reader; the session notices and closes.
				_ = cw.connection.Close()
				return
			}
		case <-ticker.Chan():
			cw.updateWriteDeadline()
			if err := cw.connection.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = cw.connection.Close()
				return
			}
		case <-cw.doneChannel:
			return
		}
	}
}

func (cw *clientWriter) enqueue(msg []byte) sendStatus {
	if cw.stopped() {
		return sendClosed
	}

	select {
	case cw.sendChannel <- msg:
		return sendQueued
	default:
		return sendFull
	}
}

// stopGraceful writes a close frame once the run goroutine has exited, so the
// socket never has two concurrent writers. Queued frames not yet written are discarded.
func (cw *clientWriter) stopGraceful(code int, reason string) {
	cw.stopOnce.Do(func() {
		close(cw.doneChannel)
		cw.wg.Wait()

		closeMsg := websocket.FormatCloseMessage(code, truncateReason(reason))
		cw.updateWriteDeadline()
		_ = cw.connection.WriteMessage(websocket.CloseMessage, closeMsg)
		_ = cw.connection.Close()
	})
	cw.wg.Wait()
}

func (cw *clientWriter) abort(code int, reason string) {
	cw.stopOnce.Do(func() {
		close(cw.doneChannel)

		closeMsg := websocket.FormatCloseMessage(code, truncateReason(reason))
		_ = cw.connection.WriteControl(websocket.CloseMessage, closeMsg, cw.clock.Now().Add(writeDeadline))
		_ = cw.connection.Close()
	})
	cw.wg.Wait()
}

// stopped reports whether the writer was told to stop or gave up after a write error.
func (cw *clientWriter) stopped() bool {
	select {
	case <-cw.doneChannel:
		return true
	case <-cw.stoppedChannel:
		return true
	default:
		return false
	}
}

func (cw *clientWriter) configureReader() {
	cw.connection.SetReadLimit(maxInboundBytes)
	cw.refreshReadDeadline()
	cw.connection.SetPongHandler(func(string) error {
		cw.refreshReadDeadline()
		return nil
	})
}

func (cw *clientWriter) updateWriteDeadline() {
	_ = cw.connection.SetWriteDeadline(cw.clock.Now().Add(writeDeadline))
}

func (cw *clientWriter) refreshReadDeadline() {
	_ = cw.connection.SetReadDeadline(cw.clock.Now().Add(pongDeadline))
}

func truncateReason(reason string) string {
	if len(reason) <= maxCloseReasonBytes {
		return reason
	}
	cut := maxCloseReasonBytes
	for cut > 0 && !utf8.RuneStart(reason[cut]) {
		cut--
	}
	return reason[:cut]
}
