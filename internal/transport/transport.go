// Package transport implements the two wire transports the signaling
// client can use — a gorilla/websocket full-duplex connection and an
// SSE (Server-Sent Events) fallback with a companion HTTP POST channel
// for outbound messages — behind one Transport interface (spec §4.1/§9).
// Grounded on the teacher's websocket dial pattern (internal/viewer
// routes) and its rendezvous SSE client's subscribe-with-backoff loop.
package transport

import (
	"context"
	"errors"
)

// Kind names which concrete transport is active, surfaced in UiState's
// activeTransport field (spec §3).
type Kind string

const (
	KindWebSocket Kind = "websocket"
	KindSSE       Kind = "sse"
)

// ErrClosed is returned by Send/Connect once Close has been called.
var ErrClosed = errors.New("transport: closed")

// ErrUnsupported signals the transport cannot be used in this runtime
// (spec §9: some hosts unconditionally skip WebSocket, e.g. no
// window.WebSocket equivalent) so the caller should fall back immediately.
var ErrUnsupported = errors.New("transport: unsupported in this runtime")

// Handler receives raw inbound frames and terminal errors. OnClose fires
// at most once, whether the closure was requested or came from the peer.
type Handler struct {
	OnMessage func(data []byte)
	OnClose   func(err error)
}

// Transport is the minimal bidirectional byte-frame channel the
// signaling client drives. Implementations are not safe for concurrent
// Connect calls, but Send/Close may be called concurrently with the
// read loop.
type Transport interface {
	Kind() Kind

	// Connect dials the transport. It returns once the transport is
	// usable (WS: open event; SSE: first successful subscribe), or
	// ctx's deadline/cancellation fires, or the dial fails.
	Connect(ctx context.Context, url string, handler Handler) error

	// Send writes one outbound frame.
	Send(ctx context.Context, data []byte) error

	// Close tears the transport down and is idempotent.
	Close() error
}
