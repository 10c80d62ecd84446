package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/memorytap/pkg/types"
)

func addTestClient(h *WebSocketHub, owner string) *client {
	c := &client{ownerID: owner, send: make(chan []byte, 4)}
	h.register(c)
	return c
}

func receive(t *testing.T, c *client) Event {
	t.Helper()
	select {
	case data, ok := <-c.send:
		require.True(t, ok, "client channel closed")
		var ev Event
		require.NoError(t, json.Unmarshal(data, &ev))
		return ev
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
		return Event{}
	}
}

func TestHubDeliversToOwnerOnly(t *testing.T) {
	hub := NewWebSocketHub(nil, nil)
	go hub.Run()
	defer hub.Stop()

	alice := addTestClient(hub, "alice")
	bob := addTestClient(hub, "bob")

	fav := true
	hub.For("alice").MemoryUpdated("m-1", types.Patch{IsFavorite: &fav})
	hub.For("alice").IngestionFailed(types.ReasonTooShort, errors.New("recording too short"))

	ev := receive(t, alice)
	assert.Equal(t, EventMemoryUpdated, ev.Type)
	assert.Equal(t, "m-1", ev.MemoryID)
	require.NotNil(t, ev.IsFavorite)
	assert.True(t, *ev.IsFavorite)
	assert.Nil(t, ev.IsCompleted)

	ev = receive(t, alice)
	assert.Equal(t, EventIngestionFailed, ev.Type)
	assert.Equal(t, types.ReasonTooShort, ev.Reason)

	select {
	case <-bob.send:
		t.Fatal("bob received alice's event")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubDropsSlowClient(t *testing.T) {
	hub := NewWebSocketHub(nil, nil)
	c := &client{ownerID: "alice", send: make(chan []byte)} // unbuffered, never read
	hub.register(c)

	hub.deliver("alice", []byte(`{}`))
	assert.Equal(t, 0, hub.Len())
	_, open := <-c.send
	assert.False(t, open)
}

func TestHubCloseOwner(t *testing.T) {
	hub := NewWebSocketHub(nil, nil)
	addTestClient(hub, "alice")
	addTestClient(hub, "alice")
	addTestClient(hub, "bob")

	hub.CloseOwner("alice")
	assert.Equal(t, 1, hub.Len())

	hub.Stop()
	assert.Equal(t, 0, hub.Len())
}

func TestHubRejectsForeignOrigin(t *testing.T) {
	hub := NewWebSocketHub([]string{"app.example.com"}, nil)
	defer hub.Stop()

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Origin", "http://evil.com")
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Sec-WebSocket-Version", "13")
	req.Header.Set("Sec-WebSocket-Key", "dGhlIHNhbXBsZSBub25jZQ==")

	w := httptest.NewRecorder()
	hub.Serve(w, req, "alice")
	assert.Equal(t, http.StatusForbidden, w.Code)

	req.Header.Set("Origin", "https://app.example.com")
	assert.True(t, hub.originAllowed(req))
	req.Header.Del("Origin")
	assert.True(t, hub.originAllowed(req))
}
