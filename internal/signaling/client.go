// Package signaling implements SignalingClient (spec §4.1/§9): transport
// selection between WebSocket and SSE, connect-timeout/fallback policy,
// ping/pong liveness, and exponential-backoff reconnection. Modeled on
// the teacher's single-consumer dispatch loop, generalized from one
// fixed transport to the WS-then-SSE fallback chain.
package signaling

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/petervdpas/callcore/internal/clockwork"
	"github.com/petervdpas/callcore/internal/constants"
	"github.com/petervdpas/callcore/internal/logger"
	"github.com/petervdpas/callcore/internal/proto"
	"github.com/petervdpas/callcore/internal/transport"
)

// Endpoints is the set of URLs the client dials. SSESendURL may equal
// SSEStreamURL if the server accepts POSTs on the same path.
type Endpoints struct {
	WSURL        string
	SSEStreamURL string
	SSESendURL   string
}

// endpointsForHost derives the standard WS/SSE URLs for a bare-authority
// host (spec §6 "Transport URLs": `wss://<host>/ws`, `https://<host>/sse`
// GET with a paired POST back-channel on the same path).
func endpointsForHost(host string) Endpoints {
	host = strings.TrimSuffix(host, "/")
	return Endpoints{
		WSURL:        fmt.Sprintf("wss://%s/ws", host),
		SSEStreamURL: fmt.Sprintf("https://%s/sse", host),
		SSESendURL:   fmt.Sprintf("https://%s/sse", host),
	}
}

// connState is the client's coarse connection lifecycle, tracked
// separately from the per-attempt bookkeeping so Connect can be made
// idempotent (spec §4.1: "no-op if connecting or connected").
type connState int

const (
	stateIdle connState = iota
	stateConnecting
	stateConnected
)

// Events is the callback set the owner (CallController) registers.
type Events struct {
	// OnMessage fires for every decoded inbound envelope.
	OnMessage func(env proto.Envelope)
	// OnConnected fires once the active transport is usable.
	OnConnected func(kind transport.Kind)
	// OnDisconnected fires when the active transport drops, before any
	// reconnect attempt is scheduled.
	OnDisconnected func(err error)
	// OnReconnecting fires when a backoff-delayed reconnect is scheduled.
	OnReconnecting func(attempt int, delay time.Duration)
}

// TransportFactory builds a fresh, unconnected transport instance. The
// client calls this once per connection attempt since transports are
// single-use.
type TransportFactory func() transport.Transport

// Client is the signaling transport owner: it is not a transport
// itself, but picks one, redials it on failure, and feeds decoded
// envelopes to Events.OnMessage.
type Client struct {
	endpoints  Endpoints
	newWS      TransportFactory
	newSSE     TransportFactory
	clock      clockwork.Clock
	events     Events
	wsFailThreshold int

	mu               sync.Mutex
	attemptID        uint64
	active           transport.Transport
	activeKind       transport.Kind
	state            connState
	host             string
	consecutiveWSFail int
	currentRoomID    *string
	watchedRoomIDs   map[string]bool
	pingTimer        clockwork.Timer
	pongTimer        clockwork.Timer
	reconnectTimer   clockwork.Timer
	reconnectAttempt int
	stopped          bool
}

// New builds a Client. clock is normally clockwork.System{}; tests pass
// clockwork.NewFake().
func New(endpoints Endpoints, newWS, newSSE TransportFactory, clock clockwork.Clock, events Events) *Client {
	return &Client{
		endpoints:       endpoints,
		newWS:           newWS,
		newSSE:          newSSE,
		clock:           clock,
		events:          events,
		wsFailThreshold: 3,
		watchedRoomIDs:  make(map[string]bool),
	}
}

// SetCurrentRoom tells the client a call is in progress, gating
// reconnect-on-drop (spec §9: backoff is only active while a room is
// joined or rooms are watched).
func (c *Client) SetCurrentRoom(roomID *string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.currentRoomID = roomID
}

// SetEvents replaces the callback set. Safe to call before the first
// Connect so an owner (e.g. CallController) that must exist before the
// Client can be wired can still register its handlers up front, and
// safe to call again later to re-point the callbacks.
func (c *Client) SetEvents(events Events) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = events
}

// SetWatchedRooms replaces the watched-room-id set used for the same gate.
func (c *Client) SetWatchedRooms(ids []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watchedRoomIDs = make(map[string]bool, len(ids))
	for _, id := range ids {
		c.watchedRoomIDs[id] = true
	}
}

// Connect starts (or restarts) the selection-and-dial sequence: it
// attempts WebSocket first under a connect timeout, then falls back to
// SSE on timeout, dial error, or ErrUnsupported, or after three
// consecutive WebSocket failures across reconnects (spec §9 fallback
// policy). Idempotent: a no-op if already connecting or connected (spec
// §4.1 "connect(host): idempotent; no-op if connecting or connected").
// host is a bare authority with optional port and no scheme; an empty
// host keeps whatever Endpoints were last in effect (used by tests that
// construct a Client with fixed endpoints).
func (c *Client) Connect(ctx context.Context, host string) {
	c.mu.Lock()
	if c.state == stateConnecting || c.state == stateConnected {
		c.mu.Unlock()
		return
	}
	c.state = stateConnecting
	c.stopped = false
	if host != "" {
		host = strings.TrimSuffix(host, "/")
		c.host = host
		c.endpoints = endpointsForHost(host)
	}
	c.attemptID++
	attemptID := c.attemptID
	c.mu.Unlock()

	c.dial(ctx, attemptID)
}

func (c *Client) dial(ctx context.Context, attemptID uint64) {
	c.mu.Lock()
	useWS := c.consecutiveWSFail < c.wsFailThreshold
	c.mu.Unlock()

	if useWS {
		if c.tryTransport(ctx, attemptID, transport.KindWebSocket) {
			return
		}
		c.mu.Lock()
		c.consecutiveWSFail++
		c.mu.Unlock()
	}

	if c.tryTransport(ctx, attemptID, transport.KindSSE) {
		return
	}

	if !c.scheduleReconnect(ctx, attemptID, fmt.Errorf("both transports failed to connect")) {
		c.mu.Lock()
		if c.attemptID == attemptID {
			c.state = stateIdle
		}
		c.mu.Unlock()
	}
}

func (c *Client) tryTransport(ctx context.Context, attemptID uint64, kind transport.Kind) bool {
	var tr transport.Transport
	var url string
	switch kind {
	case transport.KindWebSocket:
		tr = c.newWS()
		url = c.endpoints.WSURL
	case transport.KindSSE:
		tr = c.newSSE()
		url = c.endpoints.SSEStreamURL
	}

	dialCtx, cancel := context.WithTimeout(ctx, constants.ConnectTimeout)
	defer cancel()

	err := tr.Connect(dialCtx, url, transport.Handler{
		OnMessage: func(data []byte) { c.handleInbound(attemptID, data) },
		OnClose:   func(closeErr error) { c.handleClosed(ctx, attemptID, closeErr) },
	})
	if err != nil {
		logger.Get().Debug("transport connect failed", zap.String("kind", string(kind)), zap.Error(err))
		return false
	}

	c.mu.Lock()
	if c.attemptID != attemptID || c.stopped {
		c.mu.Unlock()
		_ = tr.Close()
		return true
	}
	c.active = tr
	c.activeKind = kind
	c.state = stateConnected
	if kind == transport.KindWebSocket {
		c.consecutiveWSFail = 0
	}
	c.reconnectAttempt = 0
	c.mu.Unlock()

	c.armLiveness(attemptID)

	if c.events.OnConnected != nil {
		c.events.OnConnected(kind)
	}
	return true
}

func (c *Client) handleInbound(attemptID uint64, data []byte) {
	c.mu.Lock()
	if c.attemptID != attemptID {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.resetPongTimer(attemptID)

	env, err := proto.Decode(data)
	if err != nil {
		logger.Get().Warn("dropping malformed signaling frame", zap.Error(err))
		return
	}
	if env.Type == proto.TypePong {
		return
	}
	if c.events.OnMessage != nil {
		c.events.OnMessage(env)
	}
}

func (c *Client) armLiveness(attemptID uint64) {
	c.mu.Lock()
	if c.pingTimer != nil {
		c.pingTimer.Stop()
	}
	c.pingTimer = c.clock.AfterFunc(constants.PingInterval, func() { c.sendPing(attemptID) })
	c.mu.Unlock()
	c.resetPongTimer(attemptID)
}

func (c *Client) sendPing(attemptID uint64) {
	c.mu.Lock()
	if c.attemptID != attemptID || c.stopped {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	data, err := proto.Encode(proto.Envelope{V: proto.ProtocolVersion, Type: proto.TypePing})
	if err == nil {
		_ = c.sendRaw(context.Background(), data)
	}

	c.mu.Lock()
	if c.pingTimer != nil {
		c.pingTimer.Stop()
	}
	c.pingTimer = c.clock.AfterFunc(constants.PingInterval, func() { c.sendPing(attemptID) })
	c.mu.Unlock()
}

func (c *Client) resetPongTimer(attemptID uint64) {
	c.mu.Lock()
	if c.pongTimer != nil {
		c.pongTimer.Stop()
	}
	c.pongTimer = c.clock.AfterFunc(constants.PongMissWindow, func() { c.onLivenessTimeout(attemptID) })
	c.mu.Unlock()
}

func (c *Client) onLivenessTimeout(attemptID uint64) {
	c.mu.Lock()
	if c.attemptID != attemptID || c.stopped {
		c.mu.Unlock()
		return
	}
	tr := c.active
	c.mu.Unlock()

	if tr != nil {
		_ = tr.Close()
	}
}

func (c *Client) handleClosed(ctx context.Context, attemptID uint64, closeErr error) {
	c.mu.Lock()
	if c.attemptID != attemptID {
		c.mu.Unlock()
		return
	}
	wasConnected := c.state == stateConnected
	c.state = stateConnecting
	c.active = nil
	if c.pingTimer != nil {
		c.pingTimer.Stop()
		c.pingTimer = nil
	}
	if c.pongTimer != nil {
		c.pongTimer.Stop()
		c.pongTimer = nil
	}
	stopped := c.stopped
	c.mu.Unlock()

	if stopped {
		c.mu.Lock()
		c.state = stateIdle
		c.mu.Unlock()
		return
	}
	if wasConnected && c.events.OnDisconnected != nil {
		c.events.OnDisconnected(closeErr)
	}

	if !c.scheduleReconnect(ctx, attemptID, closeErr) {
		c.mu.Lock()
		if c.attemptID == attemptID {
			c.state = stateIdle
		}
		c.mu.Unlock()
	}
}

// scheduleReconnect arms a backoff-delayed redial and reports whether it
// did so; the caller drops the client back to stateIdle when it didn't,
// so a later Connect() isn't blocked by a stale stateConnecting.
func (c *Client) scheduleReconnect(ctx context.Context, attemptID uint64, cause error) bool {
	c.mu.Lock()
	hasRoom := c.currentRoomID != nil
	hasWatch := len(c.watchedRoomIDs) > 0
	if !hasRoom && !hasWatch {
		c.mu.Unlock()
		return false
	}
	c.reconnectAttempt++
	attempt := c.reconnectAttempt
	delay := constants.ReconnectBackoff(attempt)
	c.mu.Unlock()

	if c.events.OnReconnecting != nil {
		c.events.OnReconnecting(attempt, delay)
	}
	logger.Get().Debug("scheduling signaling reconnect", zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(cause))

	c.mu.Lock()
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
	}
	c.reconnectTimer = c.clock.AfterFunc(delay, func() { c.dial(ctx, attemptID) })
	c.mu.Unlock()
	return true
}

// Send encodes and writes env over the active transport.
func (c *Client) Send(ctx context.Context, env proto.Envelope) error {
	data, err := proto.Encode(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	return c.sendRaw(ctx, data)
}

func (c *Client) sendRaw(ctx context.Context, data []byte) error {
	c.mu.Lock()
	tr := c.active
	c.mu.Unlock()
	if tr == nil {
		return transport.ErrClosed
	}
	return tr.Send(ctx, data)
}

// IsConnected reports whether a transport is currently usable.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stateConnected
}

// ActiveKind returns the currently active transport kind, if connected.
func (c *Client) ActiveKind() (transport.Kind, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeKind, c.state == stateConnected
}

// Close tears the client down: no further reconnects are scheduled until
// the next Connect.
func (c *Client) Close() error {
	c.mu.Lock()
	c.stopped = true
	c.attemptID++
	tr := c.active
	c.active = nil
	c.state = stateIdle
	if c.pingTimer != nil {
		c.pingTimer.Stop()
	}
	if c.pongTimer != nil {
		c.pongTimer.Stop()
	}
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
	}
	c.mu.Unlock()

	if tr != nil {
		return tr.Close()
	}
	return nil
}
