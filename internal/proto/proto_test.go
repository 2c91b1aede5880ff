package proto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func strp(s string) *string { return &s }
func u16p(v uint16) *uint16 { return &v }

func TestEnvelopeRoundTrip(t *testing.T) {
	sdpMid := "0"
	cases := []Envelope{
		{Type: TypePing},
		{Type: TypePong},
		{Type: TypeJoin, Rid: strp("r"), Cid: strp("c")},
		{Type: TypeLeave, Rid: strp("r")},
		{Type: TypeWatchRooms, To: strp("server")},
	}
	for _, env := range cases {
		b, err := Encode(env)
		require.NoError(t, err)
		got, err := Decode(b)
		require.NoError(t, err)
		require.Equal(t, ProtocolVersion, got.V)
		require.Equal(t, env.Type, got.Type)
		require.Equal(t, env.Rid, got.Rid)
		require.Equal(t, env.Cid, got.Cid)
		require.Equal(t, env.To, got.To)
	}

	// Payload round trip across every optional-field combination.
	payloads := []JoinedPayload{
		{RoomState: RoomState{HostCid: "A", Participants: []Participant{{Cid: "A"}}}},
		{RoomState: RoomState{HostCid: "A", Participants: []Participant{{Cid: "A"}, {Cid: "B"}}}, ReconnectToken: "tok"},
		{RoomState: RoomState{HostCid: "A"}, TurnToken: "tt", TurnTokenTTLMs: 60000},
		{RoomState: RoomState{HostCid: "A"}, ReconnectToken: "tok", TurnToken: "tt", TurnTokenTTLMs: 60000},
	}
	for _, p := range payloads {
		env := Envelope{Type: TypeJoined}
		require.NoError(t, EncodePayload(&env, p))
		b, err := Encode(env)
		require.NoError(t, err)
		got, err := Decode(b)
		require.NoError(t, err)
		var out JoinedPayload
		require.NoError(t, DecodePayload(got, &out))
		require.Equal(t, p, out)
	}

	ice := IcePayload{Candidate: IceCandidate{Candidate: "candidate:1 ...", SdpMid: &sdpMid, SdpMLineIndex: u16p(0)}}
	env := Envelope{Type: TypeIce}
	require.NoError(t, EncodePayload(&env, ice))
	b, err := Encode(env)
	require.NoError(t, err)
	got, err := Decode(b)
	require.NoError(t, err)
	var outIce IcePayload
	require.NoError(t, DecodePayload(got, &outIce))
	require.Equal(t, ice, outIce)
}

func TestRoomStateResolveHostFallback(t *testing.T) {
	rs := RoomState{HostCid: "ghost", Participants: []Participant{{Cid: "A"}, {Cid: "B"}}}
	require.Equal(t, "A", rs.ResolveHost())

	rs2 := RoomState{HostCid: "A", Participants: []Participant{{Cid: "A"}, {Cid: "B"}}}
	require.Equal(t, "A", rs2.ResolveHost())

	rs3 := RoomState{HostCid: "ghost"}
	require.Equal(t, "ghost", rs3.ResolveHost())
}

func TestDecodePayloadNoop(t *testing.T) {
	var out JoinedPayload
	require.NoError(t, DecodePayload(Envelope{Type: TypePing}, &out))
	require.Equal(t, JoinedPayload{}, out)
}
