package handlers

import (
	"github.com/go-chi/chi/v5"

	"event-photo-backend/internal/middleware"
)

// API bundles the HTTP handlers behind /api/v1 and /ws
type API struct {
	Users     *UserHandler
	Events    *EventHandler
	Uploads   *UploadHandler
	Photos    *PhotoHandler
	WebSocket *WebSocketHandler
	Auth      middleware.TokenValidator
}

// Mount registers every route on r
func (a *API) Mount(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		// Guests and hosts alike
		r.Group(func(r chi.Router) {
			r.Use(middleware.OptionalAuth(a.Auth))
			r.Get("/events/code/{code}", a.Events.GetEventByCode)
			r.Get("/events/{eventID}/photos", a.Events.Gallery)
			r.Post("/guest/presign", a.Uploads.Presign)
			r.Post("/finalize", a.Uploads.Finalize)
			r.Get("/photos/{photoID}/thumb", a.Photos.Thumbnail)
			r.Get("/photos/{photoID}/original", a.Photos.Original)
			r.Post("/photos/bulk-download", a.Photos.BulkDownload)
		})

		// Hosts only
		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(a.Auth))
			r.Get("/users/me", a.Users.GetMe)
			r.Put("/users/me/push-token", a.Users.RegisterPushToken)
			r.Post("/events", a.Events.CreateEvent)
			r.Get("/events", a.Events.ListEvents)
			r.Patch("/events/{eventID}", a.Events.UpdateEvent)
			r.Delete("/events/{eventID}", a.Events.DeleteEvent)
			r.Put("/events/{eventID}/members/{userID}", a.Events.SetMember)
			r.Delete("/events/{eventID}/members/{userID}", a.Events.RemoveMember)
			r.Post("/presign", a.Uploads.Presign)
			r.Post("/photos/{photoID}/approve", a.Photos.Approve)
			r.Delete("/photos/{photoID}", a.Photos.Delete)
		})
	})

	r.With(middleware.OptionalAuth(a.Auth)).Get("/ws/events/{eventID}", a.WebSocket.HandleWebSocket)
}
