// Package constants holds the shared resilience timing values that every
// signaling/call-control implementation of this protocol must agree on
// bit-exactly, so that a Go client's behavior matches any other client
// talking to the same rendezvous server.
package constants

import "time"

const (
	PingInterval             = 12 * time.Second
	ConnectTimeout           = 2 * time.Second
	WsFallbackConsecFailures = 3
	PongMissThreshold        = 2
	PongMissWindow           = PongMissThreshold * PingInterval // 24s

	JoinConnectKickstart = 1200 * time.Millisecond
	JoinRecovery         = 4 * time.Second
	JoinHardTimeout      = 15 * time.Second

	OfferTimeout       = 8 * time.Second
	IceRestartCooldown = 10 * time.Second

	NonHostFallbackDelay       = 4 * time.Second
	NonHostFallbackMaxAttempts = 2

	IceCandidateBufferMax = 50

	TurnFetchTimeout     = 2 * time.Second
	TurnRefreshTriggerRatio = 0.8

	ReconnectBackoffBase = 500 * time.Millisecond
	ReconnectBackoffCap  = 5 * time.Second

	// IceDisconnectedRestartDelay is the §4.2.7 "Disconnected → schedule ICE
	// restart after 2s" delay. Not separately named in spec.md's shared
	// constants table, but it is a bit-exact value used by the engine bridge.
	IceDisconnectedRestartDelay = 2 * time.Second
)

// ReconnectBackoff returns the exponential backoff delay for the given
// 1-indexed reconnect attempt: min(cap, base*2^(attempt-1)).
func ReconnectBackoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := ReconnectBackoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= ReconnectBackoffCap {
			return ReconnectBackoffCap
		}
	}
	if d > ReconnectBackoffCap {
		return ReconnectBackoffCap
	}
	return d
}
