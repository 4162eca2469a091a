package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"event-photo-backend/internal/middleware"
	"event-photo-backend/internal/models"
	"event-photo-backend/internal/services"
)

// EventHandler handles event and gallery requests
type EventHandler struct {
	events  *services.EventService
	gallery *services.GalleryService
}

// NewEventHandler creates a new event handler
func NewEventHandler(events *services.EventService, gallery *services.GalleryService) *EventHandler {
	return &EventHandler{
		events:  events,
		gallery: gallery,
	}
}

type createEventRequest struct {
	Name              string `json:"name"`
	Date              string `json:"date"`
	IsPublic          bool   `json:"is_public"`
	AllowGuestUploads bool   `json:"allow_guest_uploads"`
	RequireApproval   bool   `json:"require_approval"`
}

// parseDate accepts a calendar date or an RFC 3339 timestamp.
func parseDate(s string) (time.Time, bool) {
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	return time.Time{}, false
}

// CreateEvent handles POST /api/v1/events
func (h *EventHandler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r.Context())

	var req createEventRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	date, ok := parseDate(req.Date)
	if !ok {
		respondError(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	event, created, err := h.events.CreateEvent(r.Context(), userID, services.CreateEventInput{
		Name:              req.Name,
		Date:              date,
		IsPublic:          req.IsPublic,
		AllowGuestUploads: req.AllowGuestUploads,
		RequireApproval:   req.RequireApproval,
	})
	if err != nil {
		writeServiceError(w, r, err, "Failed to create event")
		return
	}

	status := http.StatusCreated
	if !created {
		log.Info().Int64("event_id", event.ID).Int64("user_id", userID).Msg("Duplicate event submission collapsed")
		status = http.StatusOK
	}
	respondJSON(w, status, event)
}

// ListEvents handles GET /api/v1/events
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r.Context())

	events, err := h.events.ListOwnedEvents(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, err, "Failed to list events")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"events": events})
}

// UpdateEvent handles PATCH /api/v1/events/{eventID}
func (h *EventHandler) UpdateEvent(w http.ResponseWriter, r *http.Request) {
	eventID, ok := pathID(w, r, "eventID")
	if !ok {
		return
	}
	var req services.UpdateEventInput
	if !decodeJSON(w, r, &req) {
		return
	}

	event, err := h.events.UpdateSettings(r.Context(), eventID, callerFrom(r, ""), req)
	if err != nil {
		writeServiceError(w, r, err, "Failed to update event")
		return
	}
	respondJSON(w, http.StatusOK, event)
}

// DeleteEvent handles DELETE /api/v1/events/{eventID}
func (h *EventHandler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	eventID, ok := pathID(w, r, "eventID")
	if !ok {
		return
	}
	if err := h.events.DeleteEvent(r.Context(), eventID, callerFrom(r, "")); err != nil {
		writeServiceError(w, r, err, "Failed to delete event")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetEventByCode handles GET /api/v1/events/code/{code}
func (h *EventHandler) GetEventByCode(w http.ResponseWriter, r *http.Request) {
	event, err := h.events.GetEventByCode(r.Context(), chi.URLParam(r, "code"), callerFrom(r, ""))
	if err != nil {
		writeServiceError(w, r, err, "Failed to look up event")
		return
	}
	respondJSON(w, http.StatusOK, event)
}

// Gallery handles GET /api/v1/events/{eventID}/photos
func (h *EventHandler) Gallery(w http.ResponseWriter, r *http.Request) {
	eventID, ok := pathID(w, r, "eventID")
	if !ok {
		return
	}
	includePending, _ := strconv.ParseBool(r.URL.Query().Get("pending"))

	g, err := h.gallery.ListGallery(r.Context(), eventID, callerFrom(r, queryCode(r)), includePending)
	if err != nil {
		writeServiceError(w, r, err, "Failed to list gallery")
		return
	}
	respondJSON(w, http.StatusOK, g)
}

type memberRequest struct {
	Role models.Role `json:"role"`
}

// SetMember handles PUT /api/v1/events/{eventID}/members/{userID}
func (h *EventHandler) SetMember(w http.ResponseWriter, r *http.Request) {
	eventID, ok := pathID(w, r, "eventID")
	if !ok {
		return
	}
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	var req memberRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.events.SetMemberRole(r.Context(), eventID, callerFrom(r, ""), userID, req.Role); err != nil {
		writeServiceError(w, r, err, "Failed to set member role")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RemoveMember handles DELETE /api/v1/events/{eventID}/members/{userID}
func (h *EventHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	eventID, ok := pathID(w, r, "eventID")
	if !ok {
		return
	}
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	if err := h.events.RemoveMember(r.Context(), eventID, callerFrom(r, ""), userID); err != nil {
		writeServiceError(w, r, err, "Failed to remove member")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
