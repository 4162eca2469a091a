package services

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// WebSocket message types
const (
	MsgPhotosAdded   = "photos_added"
	MsgPhotoApproved = "photo_approved"
	MsgPhotoDeleted  = "photo_deleted"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 50 * time.Second
	wsSendBuffer = 16
)

// WSMessage represents a WebSocket message
type WSMessage struct {
	Type      string  `json:"type"`
	EventID   int64   `json:"event_id"`
	PhotoIDs  []int64 `json:"photo_ids,omitempty"`
	Timestamp int64   `json:"timestamp"`
}

// WSClient is one live gallery viewer.
type WSClient struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *WSClient) stop() {
	c.once.Do(func() { close(c.send) })
}

// WritePump delivers queued messages until the client is unregistered or a
// write fails. It closes the connection on return.
func (c *WSClient) WritePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// WSHub manages WebSocket connections grouped by event
type WSHub struct {
	mu      sync.RWMutex
	clients map[int64]map[*WSClient]struct{}
}

// NewWSHub creates a new WebSocket hub
func NewWSHub() *WSHub {
	return &WSHub{
		clients: make(map[int64]map[*WSClient]struct{}),
	}
}

// Register adds a connection watching eventID
func (h *WSHub) Register(eventID int64, conn *websocket.Conn) *WSClient {
	client := &WSClient{conn: conn, send: make(chan []byte, wsSendBuffer)}

	h.mu.Lock()
	set, ok := h.clients[eventID]
	if !ok {
		set = make(map[*WSClient]struct{})
		h.clients[eventID] = set
	}
	set[client] = struct{}{}
	h.mu.Unlock()

	log.Debug().Int64("event_id", eventID).Msg("WebSocket connection registered")
	return client
}

// Unregister removes a connection
func (h *WSHub) Unregister(eventID int64, client *WSClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.clients[eventID]
	if !ok {
		return
	}
	if _, ok := set[client]; !ok {
		return
	}
	delete(set, client)
	if len(set) == 0 {
		delete(h.clients, eventID)
	}
	client.stop()
	log.Debug().Int64("event_id", eventID).Msg("WebSocket connection unregistered")
}

// Broadcast queues msg for every viewer of eventID. Viewers that cannot keep
// up are dropped.
func (h *WSHub) Broadcast(eventID int64, msg WSMessage) {
	msg.EventID = eventID
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("type", msg.Type).Msg("Failed to marshal message")
		return
	}

	var slow []*WSClient
	h.mu.RLock()
	for client := range h.clients[eventID] {
		select {
		case client.send <- data:
		default:
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range slow {
		log.Warn().Int64("event_id", eventID).Msg("Dropping slow WebSocket client")
		h.Unregister(eventID, client)
	}
}

// Count returns the number of viewers of eventID
func (h *WSHub) Count(eventID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[eventID])
}

// Close disconnects every viewer
func (h *WSHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for eventID, set := range h.clients {
		for client := range set {
			client.stop()
		}
		delete(h.clients, eventID)
	}
}
