package apiclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateRoomDecodesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/rooms", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		json.NewEncoder(w).Encode(RoomInfo{RoomID: "abc"})
	}))
	defer srv.Close()

	c := NewHTTPClient("http")
	info, err := c.CreateRoom(context.Background(), srv.Listener.Addr().String())
	require.NoError(t, err)
	assert.Equal(t, "abc", info.RoomID)
}

func TestFetchTurnSendsTokenInQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/turn", r.URL.Path)
		assert.Equal(t, "tok-1", r.URL.Query().Get("token"))
		json.NewEncoder(w).Encode(TurnCredentials{Uris: []string{"turn:turn.example.com:3478"}, Username: "u", Password: "p", TTLMs: 1000})
	}))
	defer srv.Close()

	c := NewHTTPClient("http")
	creds, err := c.FetchTurn(context.Background(), srv.Listener.Addr().String(), "tok-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"turn:turn.example.com:3478"}, creds.Uris)
	assert.Equal(t, "u", creds.Username)
	assert.Equal(t, "p", creds.Password)
}

func TestCheckHealthNonOKIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewHTTPClient("http")
	err := c.CheckHealth(context.Background(), srv.Listener.Addr().String())
	assert.Error(t, err)
}

func TestNotifyInviteSendsBody(t *testing.T) {
	var gotRoom, gotTarget string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			RoomID string `json:"roomId"`
			Target string `json:"targetCid"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		gotRoom = body.RoomID
		gotTarget = body.Target
	}))
	defer srv.Close()

	c := NewHTTPClient("http")
	err := c.NotifyInvite(context.Background(), srv.Listener.Addr().String(), "room-1", "cid-2")
	require.NoError(t, err)
	assert.Equal(t, "room-1", gotRoom)
	assert.Equal(t, "cid-2", gotTarget)
}
