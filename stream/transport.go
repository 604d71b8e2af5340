// Package stream manages the server-push connection for an analysis job.
//
// A Transport opens a connection and reconnects on its own after drops.
// The Manager owns at most one connection at a time, parses payloads into
// events, and bounds the transport's retries with two counters: consecutive
// transport errors and consecutive parse failures.
package stream

import (
	"context"
	"io"
)

// Handler receives connection callbacks. A Transport invokes them from a
// single goroutine per connection, in order.
type Handler struct {
	// OnOpen is called each time the connection is (re)established.
	OnOpen func()
	// OnMessage is called with each raw payload.
	OnMessage func(payload []byte)
	// OnError is called on every transport-level failure, including a
	// failed reconnect attempt.
	OnError func(err error)
}

func (h Handler) open() {
	if h.OnOpen != nil {
		h.OnOpen()
	}
}

func (h Handler) message(payload []byte) {
	if h.OnMessage != nil {
		h.OnMessage(payload)
	}
}

func (h Handler) fail(err error) {
	if h.OnError != nil {
		h.OnError(err)
	}
}

// Conn is a live connection. Close stops delivery and reconnection; it may
// be called from inside a Handler callback and must not block on it.
type Conn interface {
	io.Closer
}

// Transport opens server-push connections.
type Transport interface {
	// Connect starts a connection for jobID. It returns once the connection
	// attempt is under way; outcomes are reported through h. The
	// connection ends when ctx is cancelled or the Conn is closed.
	Connect(ctx context.Context, jobID string, h Handler) (Conn, error)
}
