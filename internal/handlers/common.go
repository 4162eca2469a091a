package handlers

import (
	"encoding/json"
	"errors"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"event-photo-backend/internal/access"
	"event-photo-backend/internal/middleware"
	"event-photo-backend/internal/services"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// respondError sends an error response
func respondError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message})
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

// writeServiceError maps a service error onto a status code. Unexpected
// errors are logged and hidden from the client.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	var limited *services.RateLimitedError
	switch {
	case errors.As(err, &limited):
		secs := int(math.Ceil(limited.RetryAfter.Seconds()))
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		respondError(w, err.Error(), http.StatusTooManyRequests)
	case errors.Is(err, services.ErrNotFound):
		respondError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, services.ErrForbidden):
		respondError(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, services.ErrInvalidInput), errors.Is(err, services.ErrCapacityExceeded):
		respondError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, services.ErrConflict):
		respondError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, services.ErrUpstream):
		log.Error().Err(err).Str("path", r.URL.Path).Msg(msg)
		respondError(w, "storage is unavailable, try again later", http.StatusBadGateway)
	default:
		log.Error().Err(err).Str("path", r.URL.Path).Msg(msg)
		respondError(w, "internal server error", http.StatusInternalServerError)
	}
}

// decodeJSON reads a JSON body, answering 400 itself on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, "Request body too large", http.StatusRequestEntityTooLarge)
			return false
		}
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// pathID parses a positive int64 URL parameter.
func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, "invalid "+name, http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// callerFrom builds the service caller from request claims and the access
// code transports. explicit wins over the header, which wins over the cookie.
func callerFrom(r *http.Request, explicit string) services.Caller {
	caller := services.Caller{
		CodeFor: func(eventCode string) string {
			return access.CodeFromRequest(r, explicit, eventCode)
		},
	}
	if claims, ok := middleware.GetClaims(r.Context()); ok {
		id := claims.UserID
		caller.UserID = &id
		caller.IsAdmin = claims.IsAdmin
	}
	return caller
}

// queryCode returns the accessCode query parameter.
func queryCode(r *http.Request) string {
	return r.URL.Query().Get("accessCode")
}

// clientIP strips the port chi's RealIP leaves on direct connections.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return strings.TrimSpace(r.RemoteAddr)
}
