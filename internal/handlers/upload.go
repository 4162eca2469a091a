package handlers

import (
	"net/http"

	"github.com/rs/zerolog/log"

	"event-photo-backend/internal/services"
)

// UploadHandler handles upload grant and finalize requests
type UploadHandler struct {
	uploads *services.UploadService
}

// NewUploadHandler creates a new upload handler
func NewUploadHandler(uploads *services.UploadService) *UploadHandler {
	return &UploadHandler{uploads: uploads}
}

type presignRequest struct {
	EventID    int64                    `json:"eventId"`
	Files      []services.FileCandidate `json:"files"`
	AccessCode string                   `json:"accessCode"`
}

type finalizeRequest struct {
	EventID    int64                   `json:"eventId"`
	GuestName  string                  `json:"guestName"`
	GuestEmail string                  `json:"guestEmail"`
	AccessCode string                  `json:"accessCode"`
	Items      []services.FinalizeItem `json:"items"`
}

// Presign handles POST /api/v1/presign and /api/v1/guest/presign
func (h *UploadHandler) Presign(w http.ResponseWriter, r *http.Request) {
	var req presignRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.EventID <= 0 {
		respondError(w, "invalid eventId", http.StatusBadRequest)
		return
	}

	res, err := h.uploads.IssueGrants(r.Context(), services.GrantRequest{
		EventID: req.EventID,
		Files:   req.Files,
		Caller:  callerFrom(r, req.AccessCode),
	})
	if err != nil {
		writeServiceError(w, r, err, "Failed to issue upload grants")
		return
	}

	log.Info().
		Int64("event_id", req.EventID).
		Int("requested", len(req.Files)).
		Int("granted", len(res.Uploads)).
		Msg("Upload grants issued")

	respondJSON(w, http.StatusOK, res)
}

// Finalize handles POST /api/v1/finalize
func (h *UploadHandler) Finalize(w http.ResponseWriter, r *http.Request) {
	var req finalizeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.EventID <= 0 {
		respondError(w, "invalid eventId", http.StatusBadRequest)
		return
	}

	res, err := h.uploads.Finalize(r.Context(), services.FinalizeRequest{
		EventID:    req.EventID,
		GuestName:  req.GuestName,
		GuestEmail: req.GuestEmail,
		Items:      req.Items,
		Caller:     callerFrom(r, req.AccessCode),
	})
	if err != nil {
		writeServiceError(w, r, err, "Failed to finalize uploads")
		return
	}

	respondJSON(w, http.StatusOK, res)
}
