// Package uistate implements the observable UiState snapshot (spec §3/§9):
// a single-writer value slot with change notifications, adapted from the
// teacher's internal/state.PeerTable subscribe/notify pattern but holding
// one value instead of a map.
package uistate

import "sync"

// CallPhase is the finite call-lifecycle phase (spec §3).
type CallPhase string

const (
	PhaseIdle        CallPhase = "idle"
	PhaseCreatingRoom CallPhase = "creating_room"
	PhaseJoining     CallPhase = "joining"
	PhaseWaiting     CallPhase = "waiting"
	PhaseInCall      CallPhase = "in_call"
	PhaseEnding      CallPhase = "ending"
	PhaseError       CallPhase = "error"
)

// CameraMode mirrors UiState.localCameraMode.
type CameraMode string

const (
	CameraModeUser        CameraMode = "user"
	CameraModeEnvironment CameraMode = "environment"
)

// RealtimeStats is the optional connection-quality snapshot (spec §3,
// supplemented by SPEC_FULL §7).
type RealtimeStats struct {
	RttMs       float64
	PacketsLost int64
	JitterMs    float64
	BitrateKbps float64
}

// State is the full observable snapshot presentation layers render from
// (spec §3 UiState). All fields are plain values — consumers never hold a
// mutable reference into the store.
type State struct {
	Phase                 CallPhase
	RoomID                string
	ParticipantCount      int
	IsHost                bool
	IsSignalingConnected  bool
	ActiveTransport       string
	IsReconnecting        bool
	IceConnectionState    string
	ConnectionState       string
	SignalingState        string
	LocalAudioEnabled     bool
	LocalVideoEnabled     bool
	RemoteVideoEnabled    bool
	LocalCameraMode       CameraMode
	IsFrontCamera         bool
	IsScreenSharing       bool
	IsFlashAvailable      bool
	IsFlashEnabled        bool
	StatusMessage         string
	ErrorMessage          string
	RealtimeStats         *RealtimeStats
}

// Idle returns the zero-value starting snapshot.
func Idle() State {
	return State{
		Phase:           PhaseIdle,
		LocalCameraMode: CameraModeUser,
		IsFrontCamera:   true,
	}
}

// Store holds the current State behind a mutex and fans out every update
// to subscribed listener channels, mirroring PeerTable.Subscribe /
// notifyListeners in the teacher's internal/state/peers.go.
type Store struct {
	mu        sync.Mutex
	current   State
	listeners []chan State
}

// NewStore creates a Store seeded with the idle snapshot.
func NewStore() *Store {
	return &Store{current: Idle()}
}

// Snapshot returns the current state value.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Set replaces the current state and notifies subscribers. The entire
// value is replaced atomically — callers build the next State from the
// previous snapshot rather than mutating in place.
func (s *Store) Set(next State) {
	s.mu.Lock()
	s.current = next
	listeners := make([]chan State, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	for _, ch := range listeners {
		select {
		case ch <- next:
		default:
		}
	}
}

// Update applies fn to a copy of the current state and stores the result,
// returning the new snapshot. This is the normal way CallController
// mutates UiState: read-modify-write under the store's own lock so
// concurrent Set/Update calls never interleave.
func (s *Store) Update(fn func(State) State) State {
	s.mu.Lock()
	next := fn(s.current)
	s.current = next
	listeners := make([]chan State, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	for _, ch := range listeners {
		select {
		case ch <- next:
		default:
		}
	}
	return next
}

// Subscribe returns a buffered channel of future state snapshots. Slow
// consumers drop updates rather than block the writer (see Set/Update).
func (s *Store) Subscribe() chan State {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan State, 16)
	s.listeners = append(s.listeners, ch)
	return ch
}

// Unsubscribe removes and closes a listener channel previously returned
// by Subscribe.
func (s *Store) Unsubscribe(ch chan State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, l := range s.listeners {
		if l == ch {
			close(l)
			s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
			return
		}
	}
}
