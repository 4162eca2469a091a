package handlers

import (
	"net/http"

	"github.com/rs/zerolog/log"

	"event-photo-backend/internal/middleware"
	"event-photo-backend/internal/services"
)

// UserHandler handles user-related HTTP requests
type UserHandler struct {
	userService *services.UserService
}

// NewUserHandler creates a new user handler
func NewUserHandler(userService *services.UserService) *UserHandler {
	return &UserHandler{
		userService: userService,
	}
}

// GetMe handles GET /api/v1/users/me
func (h *UserHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r.Context())

	user, err := h.userService.GetUser(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, err, "Failed to get user")
		return
	}
	respondJSON(w, http.StatusOK, user)
}

type pushTokenRequest struct {
	Token string `json:"token"`
}

// RegisterPushToken handles PUT /api/v1/users/me/push-token
func (h *UserHandler) RegisterPushToken(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r.Context())

	var req pushTokenRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.userService.RegisterPushToken(r.Context(), userID, req.Token); err != nil {
		writeServiceError(w, r, err, "Failed to register push token")
		return
	}

	log.Info().Int64("user_id", userID).Msg("Push token registered")
	w.WriteHeader(http.StatusNoContent)
}
