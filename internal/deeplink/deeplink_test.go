package deeplink

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petervdpas/callcore/internal/config"
)

func TestResolveJoinLink(t *testing.T) {
	cfg := config.Default()
	roomID := strings.Repeat("a", 27)

	r, err := Resolve("callcore://join?room="+roomID+"&host=rendezvous.example.com", cfg)
	require.NoError(t, err)
	assert.Equal(t, ActionJoin, r.Action)
	assert.Equal(t, roomID, r.RoomID)
	assert.True(t, r.IsTrustedHost)
}

func TestResolveUntrustedHostIsOneOff(t *testing.T) {
	cfg := config.Default()
	roomID := strings.Repeat("b", 27)

	r, err := Resolve("callcore://join?room="+roomID+"&host=evil.example.net", cfg)
	require.NoError(t, err)
	assert.False(t, r.IsTrustedHost)

	host, err := ApplyHostPolicy(r)
	assert.ErrorIs(t, err, ErrUntrustedHost)
	assert.Empty(t, host)
}

func TestResolveSaveRoomWithName(t *testing.T) {
	cfg := config.Default()
	roomID := strings.Repeat("c", 27)

	r, err := Resolve("callcore://save?room="+roomID+"&name=Family+Call", cfg)
	require.NoError(t, err)
	assert.Equal(t, ActionSaveRoom, r.Action)
	assert.Equal(t, "Family Call", r.SavedRoomName)
}

func TestResolveRejectsInvalidRoomID(t *testing.T) {
	cfg := config.Default()
	_, err := Resolve("callcore://join?room=short", cfg)
	assert.Error(t, err)
}

func TestResolveRejectsUnknownAction(t *testing.T) {
	cfg := config.Default()
	roomID := strings.Repeat("d", 27)
	_, err := Resolve("callcore://delete?room="+roomID, cfg)
	assert.Error(t, err)
}
