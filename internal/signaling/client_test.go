package signaling

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petervdpas/callcore/internal/clockwork"
	"github.com/petervdpas/callcore/internal/constants"
	"github.com/petervdpas/callcore/internal/proto"
	"github.com/petervdpas/callcore/internal/transport"
)

func newHarness(t *testing.T) (*Client, *transport.Fake, *transport.Fake, *clockwork.Fake) {
	t.Helper()
	ws := transport.NewFake(transport.KindWebSocket)
	sse := transport.NewFake(transport.KindSSE)
	clock := clockwork.NewFake()

	c := New(
		Endpoints{WSURL: "ws://example/ws", SSEStreamURL: "http://example/sse", SSESendURL: "http://example/send"},
		func() transport.Transport { return ws },
		func() transport.Transport { return sse },
		clock,
		Events{},
	)
	return c, ws, sse, clock
}

func TestConnectPrefersWebSocket(t *testing.T) {
	c, ws, sse, _ := newHarness(t)
	c.Connect(context.Background(), "")

	assert.Equal(t, 1, ws.ConnectCalls)
	assert.Equal(t, 0, sse.ConnectCalls)
	assert.True(t, c.IsConnected())
	kind, connected := c.ActiveKind()
	assert.True(t, connected)
	assert.Equal(t, transport.KindWebSocket, kind)
}

func TestConnectFallsBackToSseOnWsError(t *testing.T) {
	c, ws, sse, _ := newHarness(t)
	ws.ConnectErr = assertErr
	c.Connect(context.Background(), "")

	assert.Equal(t, 1, ws.ConnectCalls)
	assert.Equal(t, 1, sse.ConnectCalls)
	kind, connected := c.ActiveKind()
	assert.True(t, connected)
	assert.Equal(t, transport.KindSSE, kind)
}

func TestThreeConsecutiveWsFailuresStopsTryingWs(t *testing.T) {
	c, ws, sse, clock := newHarness(t)
	ws.ConnectErr = assertErr
	sse.ConnectErr = assertErr

	for i := 0; i < constants.WsFallbackConsecFailures; i++ {
		c.Connect(context.Background(), "")
		clock.Advance(constants.ReconnectBackoffCap)
	}

	assert.GreaterOrEqual(t, ws.ConnectCalls, constants.WsFallbackConsecFailures)
	wsCallsBefore := ws.ConnectCalls

	sse.ConnectErr = nil
	c.SetCurrentRoom(strPtr("room-1"))
	c.Connect(context.Background(), "")

	assert.Equal(t, wsCallsBefore, ws.ConnectCalls, "ws should not be retried once the failure threshold is hit")
	kind, connected := c.ActiveKind()
	assert.True(t, connected)
	assert.Equal(t, transport.KindSSE, kind)
}

func TestInboundMessageDispatchedToOnMessage(t *testing.T) {
	ws := transport.NewFake(transport.KindWebSocket)
	sse := transport.NewFake(transport.KindSSE)
	clock := clockwork.NewFake()

	var got proto.Envelope
	received := make(chan struct{}, 1)

	c := New(
		Endpoints{WSURL: "ws://x"},
		func() transport.Transport { return ws },
		func() transport.Transport { return sse },
		clock,
		Events{OnMessage: func(env proto.Envelope) {
			got = env
			received <- struct{}{}
		}},
	)
	c.Connect(context.Background(), "")

	env := proto.Envelope{V: proto.ProtocolVersion, Type: proto.TypeRoomEnded}
	data, err := proto.Encode(env)
	require.NoError(t, err)
	ws.InjectMessage(data)

	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("expected dispatch")
	}
	assert.Equal(t, proto.TypeRoomEnded, got.Type)
}

func TestPongKeepsLivenessTimerAlive(t *testing.T) {
	c, ws, _, clock := newHarness(t)
	c.Connect(context.Background(), "")
	require.True(t, c.IsConnected())

	clock.Advance(constants.PongMissWindow / 2)
	pong, err := proto.Encode(proto.Envelope{V: proto.ProtocolVersion, Type: proto.TypePong})
	require.NoError(t, err)
	ws.InjectMessage(pong)

	clock.Advance(constants.PongMissWindow / 2)
	assert.True(t, c.IsConnected(), "a pong before the deadline should reset the liveness timer")
}

func TestDisconnectReconnectsWithBackoffWhenRoomActive(t *testing.T) {
	c, ws, _, clock := newHarness(t)
	c.SetCurrentRoom(strPtr("room-1"))
	c.Connect(context.Background(), "")
	require.True(t, c.IsConnected())

	ws.InjectClose(assertErr)
	assert.False(t, c.IsConnected())

	clock.Advance(constants.ReconnectBackoffBase)
	assert.True(t, c.IsConnected(), "reconnect should have redialed after the backoff delay")
}

func TestDisconnectDoesNotReconnectWithoutRoomOrWatch(t *testing.T) {
	c, ws, _, clock := newHarness(t)
	c.Connect(context.Background(), "")
	require.True(t, c.IsConnected())

	ws.InjectClose(assertErr)
	clock.Advance(constants.ReconnectBackoffCap * 10)
	assert.False(t, c.IsConnected(), "no room/watch means no reconnect attempt")
}

var assertErr = &testErr{"boom"}

type testErr struct{ msg string }

func (e *testErr) Error() string { return e.msg }

func strPtr(s string) *string { return &s }
