package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"event-photo-backend/internal/middleware"
	"event-photo-backend/internal/services"
)

const (
	wsPongWait    = 60 * time.Second
	wsMaxReadSize = 512
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Access is checked per event before upgrading
	},
}

// WebSocketHandler handles live gallery connections
type WebSocketHandler struct {
	hub    *services.WSHub
	events *services.EventService
	auth   middleware.TokenValidator
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(hub *services.WSHub, events *services.EventService, auth middleware.TokenValidator) *WebSocketHandler {
	return &WebSocketHandler{
		hub:    hub,
		events: events,
		auth:   auth,
	}
}

// HandleWebSocket handles GET /ws/events/{eventID}
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	eventID, ok := pathID(w, r, "eventID")
	if !ok {
		return
	}

	// Browsers cannot set headers on the upgrade request
	if token := r.URL.Query().Get("token"); token != "" {
		claims, err := middleware.ValidateWebSocketToken(token, h.auth)
		if err != nil {
			respondError(w, "invalid token", http.StatusUnauthorized)
			return
		}
		r = r.WithContext(middleware.WithClaims(r.Context(), claims))
	}

	if _, err := h.events.ViewableEvent(r.Context(), eventID, callerFrom(r, queryCode(r))); err != nil {
		writeServiceError(w, r, err, "Failed to authorize live gallery")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	client := h.hub.Register(eventID, conn)
	go client.WritePump()
	defer h.hub.Unregister(eventID, client)

	// Viewers only listen. Reading drives pong handling and close detection.
	conn.SetReadLimit(wsMaxReadSize)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Int64("event_id", eventID).Msg("WebSocket closed unexpectedly")
			}
			return
		}
	}
}
