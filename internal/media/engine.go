// Package media defines the MediaEngine abstraction the call-control plane
// drives: an opaque peer-connection plus local media capture (spec §1,
// "out of scope, treated as external collaborator"). The interface here is
// the contract CallController programs against; PionEngine is a concrete
// implementation grounded in pion/webrtc/v4, in the style of the teacher's
// internal/call/session.go ExternalPC.
package media

import "context"

// SignalingState mirrors the subset of RTCSignalingState the controller
// reasons about (spec §4.2.4).
type SignalingState string

const (
	SignalingStateStable          SignalingState = "stable"
	SignalingStateHaveLocalOffer  SignalingState = "have-local-offer"
	SignalingStateHaveRemoteOffer SignalingState = "have-remote-offer"
	SignalingStateClosed          SignalingState = "closed"
)

// ConnectionState mirrors RTCPeerConnectionState (spec §3 UiState.connectionState).
type ConnectionState string

const (
	ConnectionStateNew          ConnectionState = "new"
	ConnectionStateConnecting   ConnectionState = "connecting"
	ConnectionStateConnected    ConnectionState = "connected"
	ConnectionStateDisconnected ConnectionState = "disconnected"
	ConnectionStateFailed       ConnectionState = "failed"
	ConnectionStateClosed       ConnectionState = "closed"
)

// IceConnectionState mirrors RTCIceConnectionState.
type IceConnectionState string

const (
	IceConnectionStateNew          IceConnectionState = "new"
	IceConnectionStateChecking     IceConnectionState = "checking"
	IceConnectionStateConnected    IceConnectionState = "connected"
	IceConnectionStateCompleted    IceConnectionState = "completed"
	IceConnectionStateDisconnected IceConnectionState = "disconnected"
	IceConnectionStateFailed       IceConnectionState = "failed"
	IceConnectionStateClosed       IceConnectionState = "closed"
)

// SdpType distinguishes an offer from an answer.
type SdpType string

const (
	SdpTypeOffer  SdpType = "offer"
	SdpTypeAnswer SdpType = "answer"
)

// SessionDescription is an SDP body tagged with its type.
type SessionDescription struct {
	Type SdpType
	Sdp  string
}

// IceCandidate is the candidate shape the controller exchanges with peers.
type IceCandidate struct {
	Candidate     string
	SdpMid        *string
	SdpMLineIndex *uint16
}

// IceServer is one STUN/TURN server entry.
type IceServer struct {
	URLs       []string
	Username   string
	Credential string
}

// Stats is the realtime connection-quality snapshot surfaced as
// UiState.realtimeStats (spec §9 supplemented feature).
type Stats struct {
	RttMs          float64
	PacketsLost    int64
	JitterMs       float64
	BitrateKbps    float64
}

// Events is the set of callbacks the controller registers before the
// engine does anything. Per spec §9 ("Engine callbacks as cycles"), the
// engine must deliver these as posted events onto the controller's loop,
// never by synchronously mutating controller state from inside the
// engine's own goroutines — callers of a MediaEngine implementation must
// preserve that property.
type Events struct {
	OnConnectionStateChange func(ConnectionState)
	OnIceConnectionStateChange func(IceConnectionState)
	OnSignalingStateChange  func(SignalingState)
	OnIceCandidate          func(IceCandidate)
	OnRenegotiationNeeded   func()
	OnRemoteTrack           func(added bool) // video track added/removed
}

// Engine is the opaque peer-connection + local media abstraction the
// CallController drives. One Engine instance backs exactly one call
// attempt; CallController reconstructs it on every joinRoom (spec §3
// "Lifecycle & ownership").
type Engine interface {
	// SetEvents registers the event callbacks. Must be called before any
	// other method.
	SetEvents(Events)

	// SetIceServers (re)configures the ICE server list used for future
	// offers/answers. Called once with a STUN-only default, and again
	// once TURN credentials are fetched (spec §4.2.6).
	SetIceServers(servers []IceServer)

	// StartLocalMedia acquires camera/mic per current preferences. Returns
	// callerr.ErrPermissionDenied (wrapped) if permission is denied for a
	// track; the engine should still function recv-only in that case.
	StartLocalMedia(ctx context.Context, audioEnabled, videoEnabled bool) error

	// SignalingState returns the engine's current RTCSignalingState.
	SignalingState() SignalingState

	// CreateOffer creates and applies a local offer. If iceRestart is true,
	// the offer is created with fresh ICE credentials.
	CreateOffer(ctx context.Context, iceRestart bool) (SessionDescription, error)

	// CreateAnswer creates and applies a local answer to a previously-set
	// remote offer.
	CreateAnswer(ctx context.Context) (SessionDescription, error)

	// SetRemoteDescription applies a remote offer or answer.
	SetRemoteDescription(ctx context.Context, desc SessionDescription) error

	// RollbackLocalDescription reverts a local offer that never received
	// an answer (spec §4.2.4 offer-timeout handling).
	RollbackLocalDescription(ctx context.Context) error

	// AddIceCandidate adds one remote ICE candidate. Implementations may
	// assume the caller has already handled the has-remote-description /
	// buffering decision (spec §4.2.4); the engine just applies it.
	AddIceCandidate(ctx context.Context, c IceCandidate) error

	// GetStats returns the current connection-quality snapshot.
	GetStats(ctx context.Context) (Stats, error)

	// SetAudioEnabled/SetVideoEnabled toggle local track enablement.
	SetAudioEnabled(enabled bool)
	SetVideoEnabled(enabled bool)

	// Close releases the peer connection, capturers, and any other
	// engine-owned resources. Must be idempotent (spec §5 "Resource
	// policy").
	Close()
}
