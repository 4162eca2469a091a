package services

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialHub(t *testing.T, hub *WSHub, eventID int64) *websocket.Conn {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		client := hub.Register(eventID, conn)
		go client.WritePump()
	}))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHubBroadcastsToEventViewers(t *testing.T) {
	hub := NewWSHub()
	defer hub.Close()

	watcher := dialHub(t, hub, 10)
	other := dialHub(t, hub, 20)
	require.Eventually(t, func() bool { return hub.Count(10) == 1 && hub.Count(20) == 1 }, time.Second, 5*time.Millisecond)

	hub.Broadcast(10, WSMessage{Type: MsgPhotosAdded, PhotoIDs: []int64{1, 2}})

	watcher.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := watcher.ReadMessage()
	require.NoError(t, err)
	var msg WSMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, MsgPhotosAdded, msg.Type)
	assert.Equal(t, int64(10), msg.EventID)
	assert.Equal(t, []int64{1, 2}, msg.PhotoIDs)
	assert.NotZero(t, msg.Timestamp)

	other.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err = other.ReadMessage()
	assert.Error(t, err)
}

func TestHubUnregister(t *testing.T) {
	hub := NewWSHub()
	client := &WSClient{send: make(chan []byte, 1)}
	hub.clients[5] = map[*WSClient]struct{}{client: {}}

	hub.Unregister(5, client)
	assert.Zero(t, hub.Count(5))
	_, open := <-client.send
	assert.False(t, open)

	hub.Unregister(5, client)
	hub.Broadcast(5, WSMessage{Type: MsgPhotoDeleted})
}

func TestHubDropsSlowClients(t *testing.T) {
	hub := NewWSHub()
	client := &WSClient{send: make(chan []byte, 1)}
	hub.clients[5] = map[*WSClient]struct{}{client: {}}

	hub.Broadcast(5, WSMessage{Type: MsgPhotosAdded})
	assert.Equal(t, 1, hub.Count(5))
	hub.Broadcast(5, WSMessage{Type: MsgPhotosAdded})
	assert.Zero(t, hub.Count(5))
}
