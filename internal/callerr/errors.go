// Package callerr defines the error kinds the call-control plane
// distinguishes (spec §7), as errors.Is-compatible sentinels that
// collaborators wrap with context via fmt.Errorf("...: %w", ...).
package callerr

import "errors"

var (
	// ErrTransient covers connection refused, timeouts, and pong loss.
	// Never surfaced to the user directly; the caller retries/falls back.
	ErrTransient = errors.New("transient transport error")

	// ErrServerRejected wraps an `error` envelope from the signaling server.
	// Terminal: the controller tears the call down.
	ErrServerRejected = errors.New("server rejected request")

	// ErrJoinTimeout fires when a join attempt has not completed its
	// handshake within JoinHardTimeout.
	ErrJoinTimeout = errors.New("connection_failed")

	// ErrTurnFetch is non-fatal: the caller falls back to STUN-only ICE.
	ErrTurnFetch = errors.New("turn credential fetch failed")

	// ErrPeerFailed marks a MediaEngine PeerConnectionStateFailed event.
	// Non-terminal on its own; it triggers an ICE restart attempt.
	ErrPeerFailed = errors.New("peer connection failed")

	// ErrInvalidInput covers a malformed room id, deep link, or empty
	// room input. Always terminal and never touches signaling or media.
	ErrInvalidInput = errors.New("invalid input")

	// ErrPermissionDenied covers camera/mic permission denial. The
	// affected track is disabled and the call continues.
	ErrPermissionDenied = errors.New("permission denied")
)
