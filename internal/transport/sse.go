package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/petervdpas/callcore/internal/logger"
)

// SseTransport is the fallback transport: an HTTP GET stream of
// text/event-stream frames for inbound messages, paired with individual
// HTTP POSTs for outbound messages. Grounded on the teacher's rendezvous
// client's SSE-subscribe-with-reconnect loop, simplified to a single
// subscribe attempt — reconnection is owned by the signaling client.
type SseTransport struct {
	mu         sync.Mutex
	client     *http.Client
	cancelRead context.CancelFunc
	sendURL    string
	closed     bool
}

// NewSseTransport returns an unconnected SseTransport. sendURL is the
// endpoint outbound POSTs are delivered to; it may differ from the
// stream URL passed to Connect.
func NewSseTransport(sendURL string) *SseTransport {
	return &SseTransport{
		client:  &http.Client{},
		sendURL: sendURL,
	}
}

func (t *SseTransport) Kind() Kind { return KindSSE }

// Connect opens the event stream and blocks until the first byte of the
// response arrives (proof the server accepted the subscription) or ctx
// expires. The remainder of the stream is consumed on a background
// goroutine.
func (t *SseTransport) Connect(ctx context.Context, url string, handler Handler) error {
	readCtx, cancel := context.WithCancel(context.Background())

	req, err := http.NewRequestWithContext(readCtx, http.MethodGet, url, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("sse request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	// ctx bounds only the subscribe; the stream itself lives until Close.
	stopGuard := context.AfterFunc(ctx, cancel)
	resp, err := t.client.Do(req)
	if !stopGuard() {
		if err == nil {
			resp.Body.Close()
		}
		cancel()
		return fmt.Errorf("sse connect: %w", ctx.Err())
	}
	if err != nil {
		cancel()
		return fmt.Errorf("sse connect: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return fmt.Errorf("sse connect: unexpected status %d", resp.StatusCode)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		resp.Body.Close()
		cancel()
		return ErrClosed
	}
	t.cancelRead = cancel
	t.mu.Unlock()

	go t.readLoop(readCtx, resp.Body, handler)
	return nil
}

func (t *SseTransport) readLoop(ctx context.Context, body io.ReadCloser, handler Handler) {
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var dataLines []string
	var closeErr error

	for scanner.Scan() {
		if ctx.Err() != nil {
			closeErr = ctx.Err()
			break
		}
		line := scanner.Text()
		switch {
		case line == "":
			if len(dataLines) > 0 {
				payload := strings.Join(dataLines, "\n")
				dataLines = dataLines[:0]
				if handler.OnMessage != nil {
					handler.OnMessage([]byte(payload))
				}
			}
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		default:
			// ignore event:/id:/retry:/comment lines; this client has no
			// use for named events or server-suggested retry intervals.
		}
	}
	if closeErr == nil {
		closeErr = scanner.Err()
	}

	if handler.OnClose != nil {
		handler.OnClose(closeErr)
	}
}

// Send delivers an outbound frame via HTTP POST to sendURL.
func (t *SseTransport) Send(ctx context.Context, data []byte) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return ErrClosed
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.sendURL, strings.NewReader(string(data)))
	if err != nil {
		return fmt.Errorf("sse send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("sse send: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("sse send: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Close stops the background read loop. Idempotent.
func (t *SseTransport) Close() error {
	t.mu.Lock()
	cancel := t.cancelRead
	t.cancelRead = nil
	already := t.closed
	t.closed = true
	t.mu.Unlock()

	if already {
		return nil
	}
	if cancel != nil {
		cancel()
	}
	logger.Get().Debug("sse transport closed", zap.String("kind", string(KindSSE)))
	return nil
}
