package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/petervdpas/callcore/internal/logger"
)

// WsTransport is the primary transport: a single gorilla/websocket
// connection carrying JSON envelopes in both directions.
type WsTransport struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

// NewWsTransport returns an unconnected WsTransport.
func NewWsTransport() *WsTransport {
	return &WsTransport{}
}

func (t *WsTransport) Kind() Kind { return KindWebSocket }

// Connect dials url and starts a background read loop that invokes
// handler.OnMessage per frame and handler.OnClose exactly once when the
// connection ends, for any reason.
func (t *WsTransport) Connect(ctx context.Context, url string, handler Handler) error {
	dialer := websocket.Dialer{}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = conn.Close()
		return ErrClosed
	}
	t.conn = conn
	t.mu.Unlock()

	go t.readLoop(conn, handler)
	return nil
}

func (t *WsTransport) readLoop(conn *websocket.Conn, handler Handler) {
	var closeErr error
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			closeErr = err
			break
		}
		if handler.OnMessage != nil {
			handler.OnMessage(data)
		}
	}

	t.mu.Lock()
	alreadyClosed := t.conn == nil
	t.conn = nil
	t.mu.Unlock()

	if alreadyClosed {
		closeErr = nil
	}
	if handler.OnClose != nil {
		handler.OnClose(closeErr)
	}
}

// Send writes one text frame. ctx is honored only insofar as a
// cancellation check before the write; gorilla/websocket has no native
// per-write context support.
func (t *WsTransport) Send(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		return ErrClosed
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

// Close sends a close frame (best effort) and tears down the connection.
func (t *WsTransport) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.closed = true
	t.mu.Unlock()

	if conn == nil {
		return nil
	}

	deadline := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := conn.WriteMessage(websocket.CloseMessage, deadline); err != nil {
		logger.Get().Debug("websocket close frame write failed", zap.Error(err))
	}
	return conn.Close()
}
