// Package realtime delivers envelopes to live WebSocket connections.
//
// The Registry maps each online user to one connection and is owned by a single actor goroutine.
// Every connection has its own writer goroutine draining a buffered channel, so fan-out never
// blocks on a slow socket; a connection whose buffer is full is evicted. A Session drives one
// connection from handshake to close, and the Dispatcher routes outbound envelopes.
package realtime
