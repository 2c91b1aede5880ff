package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddRecentCallBoundsAndDedups(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "store.json"))
	require.NoError(t, err)

	require.NoError(t, s.AddRecentCall(RecentCall{RoomID: "a", JoinedAt: 1}))
	require.NoError(t, s.AddRecentCall(RecentCall{RoomID: "b", JoinedAt: 2}))
	require.NoError(t, s.AddRecentCall(RecentCall{RoomID: "c", JoinedAt: 3}))
	require.NoError(t, s.AddRecentCall(RecentCall{RoomID: "a", JoinedAt: 4}))

	calls := s.RecentCalls()
	require.Len(t, calls, 3)
	assert.Equal(t, "a", calls[len(calls)-1].RoomID)
	assert.Equal(t, int64(4), calls[len(calls)-1].JoinedAt)
}

func TestAddSavedRoomUpsertsAndBounds(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "store.json"))
	require.NoError(t, err)

	for i := 0; i < maxSavedRooms+5; i++ {
		require.NoError(t, s.AddSavedRoom(SavedRoom{RoomID: string(rune('a' + i%26)) + string(rune(i))}))
	}
	assert.Len(t, s.SavedRooms(), maxSavedRooms)
}

func TestRemoveSavedRoom(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "store.json"))
	require.NoError(t, err)

	require.NoError(t, s.AddSavedRoom(SavedRoom{RoomID: "x", Name: "Team"}))
	require.NoError(t, s.RemoveSavedRoom("x"))
	assert.Empty(t, s.SavedRooms())
}

func TestPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "store.json")

	s1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.SetDefaultHost("rendezvous.example.com"))
	require.NoError(t, s1.SetReconnectCid("cid-1"))

	s2, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, "rendezvous.example.com", s2.DefaultHost())
	assert.Equal(t, "cid-1", s2.ReconnectCid())
}
