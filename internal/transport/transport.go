// Package transport provides the per-protocol clients that deliver raw
// frames from the remote session server: a push socket, a server-push event
// stream, and a poll snapshot client. Each transport dials one session and
// yields frames until the connection breaks; reconnection policy lives in
// the supervisor, not here.
package transport

import (
	"context"
	"errors"
)

// Kind identifies which transport a frame arrived on.
type Kind string

const (
	KindSocket Kind = "socket"
	KindStream Kind = "stream"
	KindPoll   Kind = "poll"
)

// Frame is one raw payload as delivered by a transport. Name is the
// transport-level message or event name; Payload is the undecoded JSON body.
type Frame struct {
	Kind    Kind
	Name    string
	Payload []byte
}

// Conn is one established connection to a session feed.
type Conn interface {
	// Recv blocks until the next frame arrives or the connection fails.
	// Returns ErrStreamClosed after Close.
	Recv() (Frame, error)

	// Close tears the connection down. Safe to call more than once.
	Close() error
}

// Transport dials session feeds of one kind.
type Transport interface {
	Kind() Kind
	Dial(ctx context.Context, sessionID string) (Conn, error)
}

// ErrStreamClosed is returned by Recv after the connection was closed
// locally or the remote ended the stream cleanly.
var ErrStreamClosed = errors.New("transport: stream closed")
