package callcontrol

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petervdpas/callcore/internal/apiclient"
	"github.com/petervdpas/callcore/internal/clockwork"
	"github.com/petervdpas/callcore/internal/constants"
	"github.com/petervdpas/callcore/internal/media"
	"github.com/petervdpas/callcore/internal/proto"
	"github.com/petervdpas/callcore/internal/signaling"
	"github.com/petervdpas/callcore/internal/store"
	"github.com/petervdpas/callcore/internal/transport"
	"github.com/petervdpas/callcore/internal/uistate"
)

type harness struct {
	controller *Controller
	ws         *transport.Fake
	engine     *media.FakeEngine
	ui         *uistate.Store
	clock      *clockwork.Fake
	persisted  *store.Store
	api        *apiclient.FakeApiClient
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ws := transport.NewFake(transport.KindWebSocket)
	sse := transport.NewFake(transport.KindSSE)
	clock := clockwork.NewFake()

	sig := signaling.New(
		signaling.Endpoints{WSURL: "ws://x", SSEStreamURL: "http://x", SSESendURL: "http://x"},
		func() transport.Transport { return ws },
		func() transport.Transport { return sse },
		clock,
		signaling.Events{},
	)

	ui := uistate.NewStore()
	persisted, err := store.Open(filepath.Join(t.TempDir(), "store.json"))
	require.NoError(t, err)
	api := &apiclient.FakeApiClient{}

	var engine *media.FakeEngine
	ctrl := New(sig, func() media.Engine {
		engine = media.NewFakeEngine()
		return engine
	}, api, ui, persisted, clock, []media.IceServer{{URLs: []string{"stun:stun.example.com"}}})

	ctrl.JoinRoom(context.Background(), "rendezvous.example.com", "room-1")

	return &harness{controller: ctrl, ws: ws, engine: engine, ui: ui, clock: clock, persisted: persisted, api: api}
}

func sendEnvelope(t *testing.T, h *harness, env proto.Envelope) {
	t.Helper()
	data, err := proto.Encode(env)
	require.NoError(t, err)
	h.ws.InjectMessage(data)
}

func joinedEnvelope(hostCid, selfCid string, participants ...string) proto.Envelope {
	parts := []proto.Participant{{Cid: hostCid}}
	for _, p := range participants {
		parts = append(parts, proto.Participant{Cid: p})
	}
	env := proto.Envelope{Type: proto.TypeJoined, Cid: &selfCid}
	payload := proto.JoinedPayload{RoomState: proto.RoomState{HostCid: hostCid, Participants: parts}}
	_ = proto.EncodePayload(&env, payload)
	return env
}

func TestHappyJoinAsHostSendsOfferOnceTwoParticipants(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, 1, h.ws.ConnectCalls)

	selfCid := h.controller.cid
	sendEnvelope(t, h, joinedEnvelope(selfCid, selfCid))

	assert.Equal(t, uistate.PhaseWaiting, h.ui.Snapshot().Phase)
	assert.True(t, h.ui.Snapshot().IsHost)

	sendEnvelope(t, h, func() proto.Envelope {
		env := proto.Envelope{Type: proto.TypeRoomState}
		payload := proto.RoomState{HostCid: selfCid, Participants: []proto.Participant{{Cid: selfCid}, {Cid: "peer-1"}}}
		_ = proto.EncodePayload(&env, payload)
		return env
	}())

	assert.Equal(t, uistate.PhaseInCall, h.ui.Snapshot().Phase)
	assert.Equal(t, 1, h.engine.OfferCalls)
	require.NotEmpty(t, h.ws.Sent)

	sentEnv, err := proto.Decode(h.ws.Sent[len(h.ws.Sent)-1])
	require.NoError(t, err)
	assert.Equal(t, proto.TypeOffer, sentEnv.Type)
}

func TestJoinHardTimeoutFailsAndCleansUp(t *testing.T) {
	h := newHarness(t)
	h.clock.Advance(constants.JoinHardTimeout)

	assert.Equal(t, uistate.PhaseIdle, h.ui.Snapshot().Phase)
	assert.True(t, h.engine.Closed)
}

func TestNonHostSendsFallbackOfferAfterDelay(t *testing.T) {
	h := newHarness(t)
	selfCid := h.controller.cid

	sendEnvelope(t, h, func() proto.Envelope {
		env := proto.Envelope{Type: proto.TypeJoined, Cid: &selfCid}
		payload := proto.JoinedPayload{RoomState: proto.RoomState{
			HostCid:      "host-cid",
			Participants: []proto.Participant{{Cid: "host-cid"}, {Cid: selfCid}},
		}}
		_ = proto.EncodePayload(&env, payload)
		return env
	}())

	assert.False(t, h.ui.Snapshot().IsHost)
	assert.Equal(t, 0, h.engine.OfferCalls)

	h.clock.Advance(constants.NonHostFallbackDelay)
	assert.Equal(t, 1, h.engine.OfferCalls)
}

func TestOfferTimeoutRollsBackAndAttemptsIceRestart(t *testing.T) {
	h := newHarness(t)
	selfCid := h.controller.cid

	sendEnvelope(t, h, func() proto.Envelope {
		env := proto.Envelope{Type: proto.TypeJoined, Cid: &selfCid}
		payload := proto.JoinedPayload{RoomState: proto.RoomState{
			HostCid:      selfCid,
			Participants: []proto.Participant{{Cid: selfCid}, {Cid: "peer-1"}},
		}}
		_ = proto.EncodePayload(&env, payload)
		return env
	}())
	require.Equal(t, 1, h.engine.OfferCalls)

	h.clock.Advance(constants.OfferTimeout)
	assert.Equal(t, 1, h.engine.Rollbacks)
	assert.Equal(t, 2, h.engine.OfferCalls, "ice restart should have created a second offer")
}

func TestRemoteOfferProducesAnswer(t *testing.T) {
	h := newHarness(t)
	selfCid := h.controller.cid
	sendEnvelope(t, h, joinedEnvelope("host-cid", selfCid, "host-cid"))

	env := proto.Envelope{Type: proto.TypeOffer}
	_ = proto.EncodePayload(&env, proto.SdpPayload{Sdp: "remote-offer-sdp"})
	sendEnvelope(t, h, env)

	assert.Equal(t, 1, h.engine.AnswerCalls)
	require.NotEmpty(t, h.ws.Sent)
	sentEnv, err := proto.Decode(h.ws.Sent[len(h.ws.Sent)-1])
	require.NoError(t, err)
	assert.Equal(t, proto.TypeAnswer, sentEnv.Type)
}

func TestLeaveRoomSendsLeaveAndResetsState(t *testing.T) {
	h := newHarness(t)
	h.controller.LeaveRoom()

	require.NotEmpty(t, h.ws.Sent)
	lastEnv, err := proto.Decode(h.ws.Sent[len(h.ws.Sent)-1])
	require.NoError(t, err)
	assert.Equal(t, proto.TypeLeave, lastEnv.Type)
	assert.Equal(t, uistate.PhaseIdle, h.ui.Snapshot().Phase)
}

func TestRoomEndedTriggersCleanup(t *testing.T) {
	h := newHarness(t)
	sendEnvelope(t, h, proto.Envelope{Type: proto.TypeRoomEnded})
	assert.Equal(t, uistate.PhaseIdle, h.ui.Snapshot().Phase)
	assert.True(t, h.engine.Closed)
}

func TestJoinedTurnTokenFetchesCredentialsAndAppliesThem(t *testing.T) {
	h := newHarness(t)
	h.api.TurnCreds = apiclient.TurnCredentials{
		Uris:     []string{"turn:turn.example.com:3478"},
		Username: "u1",
		Password: "p1",
		TTLMs:    1000,
	}
	selfCid := h.controller.cid

	env := proto.Envelope{Type: proto.TypeJoined, Cid: &selfCid}
	payload := proto.JoinedPayload{
		RoomState:      proto.RoomState{HostCid: selfCid, Participants: []proto.Participant{{Cid: selfCid}}},
		TurnToken:      "tok-1",
		TurnTokenTTLMs: 1000,
	}
	_ = proto.EncodePayload(&env, payload)
	sendEnvelope(t, h, env)

	assert.Equal(t, 1, h.api.TurnCalls)
	assert.Equal(t, "tok-1", h.api.LastTurnToken)
	require.NotEmpty(t, h.engine.IceServersSet)
	last := h.engine.IceServersSet[len(h.engine.IceServersSet)-1]
	require.NotEmpty(t, last)
	turnServer := last[len(last)-1]
	assert.Equal(t, []string{"turn:turn.example.com:3478"}, turnServer.URLs)
	assert.Equal(t, "u1", turnServer.Username)
	assert.Equal(t, "p1", turnServer.Credential)
}

func TestJoinedTurnFetchFailureFallsBackToStunOnly(t *testing.T) {
	h := newHarness(t)
	h.api.TurnErr = assertErr
	selfCid := h.controller.cid

	env := proto.Envelope{Type: proto.TypeJoined, Cid: &selfCid}
	payload := proto.JoinedPayload{
		RoomState: proto.RoomState{HostCid: selfCid, Participants: []proto.Participant{{Cid: selfCid}}},
		TurnToken: "tok-1",
	}
	_ = proto.EncodePayload(&env, payload)
	sendEnvelope(t, h, env)

	assert.Equal(t, 1, h.api.TurnCalls)
	require.NotEmpty(t, h.engine.IceServersSet)
	last := h.engine.IceServersSet[len(h.engine.IceServersSet)-1]
	require.Len(t, last, 1, "a failed turn fetch must leave only the stun server installed")
	assert.Equal(t, "stun:stun.example.com", last[0].URLs[0])
}

func TestRemoteIceBeforeRemoteDescriptionIsBufferedThenFlushed(t *testing.T) {
	h := newHarness(t)
	selfCid := h.controller.cid
	sendEnvelope(t, h, joinedEnvelope("host-cid", selfCid, "host-cid"))

	iceEnv := proto.Envelope{Type: proto.TypeIce}
	_ = proto.EncodePayload(&iceEnv, proto.IcePayload{Candidate: proto.IceCandidate{Candidate: "cand-1"}})
	sendEnvelope(t, h, iceEnv)

	assert.Equal(t, 0, len(h.engine.IceCandidates), "a candidate before the remote description must be buffered, not applied")

	offerEnv := proto.Envelope{Type: proto.TypeOffer}
	_ = proto.EncodePayload(&offerEnv, proto.SdpPayload{Sdp: "remote-offer-sdp"})
	sendEnvelope(t, h, offerEnv)

	assert.Equal(t, 1, len(h.engine.IceCandidates), "the buffered candidate should flush once the remote description is set")
}

func TestParticipantCountDropToOneResetsOfferAndEngineState(t *testing.T) {
	h := newHarness(t)
	selfCid := h.controller.cid

	sendEnvelope(t, h, joinedEnvelope(selfCid, selfCid, "peer-1"))
	require.Equal(t, 1, h.engine.OfferCalls)
	firstEngine := h.engine

	sendEnvelope(t, h, func() proto.Envelope {
		env := proto.Envelope{Type: proto.TypeRoomState}
		payload := proto.RoomState{HostCid: selfCid, Participants: []proto.Participant{{Cid: selfCid}}}
		_ = proto.EncodePayload(&env, payload)
		return env
	}())

	assert.True(t, firstEngine.Closed, "the prior call's engine must be closed when the peer count drops back to 1")
	assert.NotSame(t, firstEngine, h.controller.engine, "a fresh engine should back the next offer attempt")
	assert.Equal(t, uistate.PhaseWaiting, h.ui.Snapshot().Phase)
}

func TestParticipantCountFloorsAtOneWithEmptyParticipants(t *testing.T) {
	h := newHarness(t)
	sendEnvelope(t, h, func() proto.Envelope {
		env := proto.Envelope{Type: proto.TypeRoomState}
		payload := proto.RoomState{Participants: nil}
		_ = proto.EncodePayload(&env, payload)
		return env
	}())
	assert.Equal(t, 1, h.ui.Snapshot().ParticipantCount)
}

func TestJoinRoomChecksHealthForUnfamiliarHostAndFailsOnError(t *testing.T) {
	ws := transport.NewFake(transport.KindWebSocket)
	sse := transport.NewFake(transport.KindSSE)
	clock := clockwork.NewFake()
	sig := signaling.New(
		signaling.Endpoints{WSURL: "ws://x", SSEStreamURL: "http://x", SSESendURL: "http://x"},
		func() transport.Transport { return ws },
		func() transport.Transport { return sse },
		clock,
		signaling.Events{},
	)
	ui := uistate.NewStore()
	persisted, err := store.Open(filepath.Join(t.TempDir(), "store.json"))
	require.NoError(t, err)
	api := &apiclient.FakeApiClient{HealthErr: assertErr}

	ctrl := New(sig, func() media.Engine { return media.NewFakeEngine() }, api, ui, persisted, clock, nil)
	ctrl.JoinRoom(context.Background(), "untrusted.example.com", "room-1")

	assert.Equal(t, 1, api.HealthCalls)
	assert.Equal(t, uistate.PhaseError, ui.Snapshot().Phase)
	assert.Equal(t, 0, ws.ConnectCalls, "a failed health check must not attempt to connect")
}

var assertErr = &testErr{"boom"}

type testErr struct{ msg string }

func (e *testErr) Error() string { return e.msg }
