// Package store persists the client's small pieces of durable state —
// recent calls, saved rooms, the last reconnect client id, and the
// default host — as one JSON file, following the same load-validate-save
// shape as internal/config. The 3-entry recent-calls bound is enforced
// with internal/util.RingBuffer the way the teacher bounds its own
// recent-peers list; the 50-entry saved-rooms bound is enforced by
// trimming the oldest entries of the slice.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/petervdpas/callcore/internal/util"
)

const (
	maxRecentCalls = 3
	maxSavedRooms  = 50
)

// RecentCall is one entry in the bounded recent-calls list (spec §6).
type RecentCall struct {
	RoomID   string `json:"room_id"`
	JoinedAt int64  `json:"joined_at_unix_ms"`
}

// SavedRoom is one entry in the bounded saved-rooms list (spec §6).
type SavedRoom struct {
	RoomID string `json:"room_id"`
	Name   string `json:"name"`
	Host   string `json:"host,omitempty"`
}

// document is the on-disk shape. It is versionless: new fields default
// to their zero value when reading an older file, matching the
// teacher's storage format.
type document struct {
	RecentCalls  []RecentCall `json:"recent_calls"`
	SavedRooms   []SavedRoom  `json:"saved_rooms"`
	ReconnectCid string       `json:"reconnect_cid,omitempty"`
	DefaultHost  string       `json:"default_host,omitempty"`
}

// Store is the in-memory, mutex-guarded view of document, flushed to
// disk after every mutation. Recent calls live in a RingBuffer — the
// document's RecentCalls slice is just its serialized snapshot.
type Store struct {
	mu          sync.Mutex
	path        string
	doc         document
	recentCalls *util.RingBuffer[RecentCall]
}

// Open loads path if it exists, or starts from an empty document.
func Open(path string) (*Store, error) {
	s := &Store{path: path, recentCalls: util.NewRingBuffer[RecentCall](maxRecentCalls)}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read store: %w", err)
	}
	if err := json.Unmarshal(b, &s.doc); err != nil {
		return nil, fmt.Errorf("parse store: %w", err)
	}
	for _, c := range dedupRecentCalls(s.doc.RecentCalls) {
		s.recentCalls.Push(c)
	}
	s.doc.RecentCalls = s.recentCalls.Snapshot()
	s.doc.SavedRooms = dedupSavedRooms(s.doc.SavedRooms)
	return s, nil
}

func (s *Store) flushLocked() error {
	s.doc.RecentCalls = s.recentCalls.Snapshot()
	b, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal store: %w", err)
	}
	if err := os.WriteFile(s.path, b, 0o644); err != nil {
		return fmt.Errorf("write store: %w", err)
	}
	return nil
}

// RecentCalls returns the bounded recent-calls list, oldest first.
func (s *Store) RecentCalls() []RecentCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recentCalls.Snapshot()
}

// AddRecentCall records a join, moving an existing entry for the same
// room to the most-recent slot instead of duplicating it, then pushes
// into the bounded ring buffer (oldest entry falls off past
// maxRecentCalls).
func (s *Store) AddRecentCall(call RecentCall) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := make([]RecentCall, 0, s.recentCalls.Len())
	for _, c := range s.recentCalls.Snapshot() {
		if c.RoomID != call.RoomID {
			kept = append(kept, c)
		}
	}
	s.recentCalls.Reset()
	for _, c := range kept {
		s.recentCalls.Push(c)
	}
	s.recentCalls.Push(call)
	return s.flushLocked()
}

// SavedRooms returns a copy of the saved-rooms list.
func (s *Store) SavedRooms() []SavedRoom {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SavedRoom, len(s.doc.SavedRooms))
	copy(out, s.doc.SavedRooms)
	return out
}

// AddSavedRoom upserts room by RoomID, trimming the oldest entries past
// maxSavedRooms.
func (s *Store) AddSavedRoom(room SavedRoom) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	filtered := s.doc.SavedRooms[:0:0]
	for _, r := range s.doc.SavedRooms {
		if r.RoomID != room.RoomID {
			filtered = append(filtered, r)
		}
	}
	filtered = append(filtered, room)
	if len(filtered) > maxSavedRooms {
		filtered = filtered[len(filtered)-maxSavedRooms:]
	}
	s.doc.SavedRooms = filtered
	return s.flushLocked()
}

// RemoveSavedRoom deletes the entry for roomID, if present.
func (s *Store) RemoveSavedRoom(roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	filtered := s.doc.SavedRooms[:0:0]
	for _, r := range s.doc.SavedRooms {
		if r.RoomID != roomID {
			filtered = append(filtered, r)
		}
	}
	s.doc.SavedRooms = filtered
	return s.flushLocked()
}

// ReconnectCid returns the last persisted reconnect client id.
func (s *Store) ReconnectCid() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.ReconnectCid
}

// SetReconnectCid persists the client id to present on the next
// reconnect-to-same-room attempt (spec §4.2.1).
func (s *Store) SetReconnectCid(cid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.ReconnectCid = cid
	return s.flushLocked()
}

// DefaultHost returns the persisted default signaling host.
func (s *Store) DefaultHost() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.DefaultHost
}

// SetDefaultHost persists host as the new default (spec §4.4 host
// policy: callers must only pass a host that IsTrustedHost approved).
func (s *Store) SetDefaultHost(host string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.DefaultHost = host
	return s.flushLocked()
}

func dedupRecentCalls(calls []RecentCall) []RecentCall {
	seen := make(map[string]bool, len(calls))
	out := make([]RecentCall, 0, len(calls))
	for i := len(calls) - 1; i >= 0; i-- {
		c := calls[i]
		if seen[c.RoomID] {
			continue
		}
		seen[c.RoomID] = true
		out = append(out, c)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	if len(out) > maxRecentCalls {
		out = out[len(out)-maxRecentCalls:]
	}
	return out
}

func dedupSavedRooms(rooms []SavedRoom) []SavedRoom {
	seen := make(map[string]bool, len(rooms))
	out := make([]SavedRoom, 0, len(rooms))
	for i := len(rooms) - 1; i >= 0; i-- {
		r := rooms[i]
		if seen[r.RoomID] {
			continue
		}
		seen[r.RoomID] = true
		out = append(out, r)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	if len(out) > maxSavedRooms {
		out = out[len(out)-maxSavedRooms:]
	}
	return out
}
