// Package proto defines the signaling wire envelope (spec §3/§6): a framed
// JSON message with a versioned envelope and a type-specific payload.
package proto

import (
	"encoding/json"
	"fmt"
)

// ProtocolVersion is the envelope's "v" field. Bumped only on a breaking
// wire change; this module speaks exactly one version.
const ProtocolVersion = 1

// MessageType enumerates every envelope "type" value (spec §3).
type MessageType string

const (
	TypeJoin             MessageType = "join"
	TypeJoined           MessageType = "joined"
	TypeRoomState        MessageType = "room_state"
	TypeRoomEnded        MessageType = "room_ended"
	TypeRoomStatuses     MessageType = "room_statuses"
	TypeRoomStatusUpdate MessageType = "room_status_update"
	TypePing             MessageType = "ping"
	TypePong             MessageType = "pong"
	TypeTurnRefresh      MessageType = "turn-refresh"
	TypeTurnRefreshed    MessageType = "turn-refreshed"
	TypeOffer            MessageType = "offer"
	TypeAnswer           MessageType = "answer"
	TypeIce              MessageType = "ice"
	TypeLeave            MessageType = "leave"
	TypeEndRoom          MessageType = "end_room"
	TypeWatchRooms       MessageType = "watch_rooms"
	TypeError            MessageType = "error"
)

// Envelope is the wire frame every signaling message is carried in.
// Payload is kept as json.RawMessage so the codec doesn't need to know
// every payload shape up front; callers decode it into the concrete
// payload type for msg.Type via the Decode*/Encode* helpers below.
type Envelope struct {
	V       int             `json:"v"`
	Type    MessageType     `json:"type"`
	Rid     *string         `json:"rid,omitempty"`
	Sid     *string         `json:"sid,omitempty"`
	Cid     *string         `json:"cid,omitempty"`
	To      *string         `json:"to,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Encode marshals an Envelope to its wire form, filling in V if unset.
func Encode(env Envelope) ([]byte, error) {
	if env.V == 0 {
		env.V = ProtocolVersion
	}
	b, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return b, nil
}

// Decode unmarshals a wire frame into an Envelope.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	return env, nil
}

// DecodePayload unmarshals env.Payload into v. Leaves v untouched if the
// payload is absent (ping/pong carry no payload).
func DecodePayload(env Envelope, v any) error {
	if len(env.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return fmt.Errorf("decode payload for %s: %w", env.Type, err)
	}
	return nil
}

// EncodePayload marshals v and assigns it to the envelope's Payload field.
func EncodePayload(env *Envelope, v any) error {
	if v == nil {
		env.Payload = nil
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode payload for %s: %w", env.Type, err)
	}
	env.Payload = b
	return nil
}

// --- Typed payloads ---

// Participant is one entry of RoomState.Participants.
type Participant struct {
	Cid      string `json:"cid"`
	JoinedAt *int64 `json:"joinedAt,omitempty"`
}

// RoomState is the payload shape carried by `joined` and `room_state`.
type RoomState struct {
	HostCid      string        `json:"hostCid"`
	Participants []Participant `json:"participants"`
}

// ResolveHost returns the hostCid to use, falling back to the first
// participant's cid if the carried hostCid is absent from the
// participant list (spec §3 RoomState invariant).
func (rs RoomState) ResolveHost() string {
	for _, p := range rs.Participants {
		if p.Cid == rs.HostCid {
			return rs.HostCid
		}
	}
	if len(rs.Participants) > 0 {
		return rs.Participants[0].Cid
	}
	return rs.HostCid
}

// JoinPayload is sent by the client with type=join.
type JoinPayload struct {
	Device         string         `json:"device,omitempty"`
	Capabilities   JoinCapability `json:"capabilities"`
	ReconnectCid   string         `json:"reconnectCid,omitempty"`
	ReconnectToken string         `json:"reconnectToken,omitempty"`
}

// JoinCapability advertises client capabilities in the join payload.
type JoinCapability struct {
	TrickleIce bool `json:"trickleIce"`
}

// JoinedPayload is the payload of a `joined` response. It embeds RoomState
// plus join-specific fields (reconnect token, TURN token/ttl).
type JoinedPayload struct {
	RoomState
	ReconnectToken string `json:"reconnectToken,omitempty"`
	TurnToken      string `json:"turnToken,omitempty"`
	TurnTokenTTLMs int64  `json:"turnTokenTTLMs,omitempty"`
}

// TurnRefreshedPayload is the payload of `turn-refreshed`.
type TurnRefreshedPayload struct {
	TurnToken      string `json:"turnToken,omitempty"`
	TurnTokenTTLMs int64  `json:"turnTokenTTLMs,omitempty"`
}

// SdpPayload carries an SDP body for offer/answer messages.
type SdpPayload struct {
	Sdp string `json:"sdp"`
}

// IceCandidate is the ICE candidate payload shape (spec §3/§6).
type IceCandidate struct {
	Candidate     string  `json:"candidate"`
	SdpMid        *string `json:"sdpMid,omitempty"`
	SdpMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

// IcePayload wraps an IceCandidate as sent over the wire: {candidate:{...}}.
type IcePayload struct {
	Candidate IceCandidate `json:"candidate"`
}

// ErrorPayload is the payload of an `error` envelope.
type ErrorPayload struct {
	Reason string `json:"reason"`
}

// RoomStatusesPayload is the payload of `room_statuses`: a full snapshot of
// watched-room participant counts.
type RoomStatusesPayload struct {
	Statuses map[string]int `json:"statuses"`
}

// RoomStatusUpdatePayload is the payload of `room_status_update`: a single
// room's participant count, merged into the existing map. The source
// clamps negative counts to 0 (spec §9 unclear-behavior (a)); this module
// adopts that invariant explicitly in occupancy.Tracker.
type RoomStatusUpdatePayload struct {
	RoomId string `json:"roomId"`
	Count  int    `json:"count"`
}

// WatchRoomsPayload is sent by the client to subscribe to occupancy
// updates for a set of rooms it is not currently inside.
type WatchRoomsPayload struct {
	RoomIds []string `json:"roomIds"`
}
