package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"event-photo-backend/internal/access"
	"event-photo-backend/internal/cache"
	"event-photo-backend/internal/middleware"
	"event-photo-backend/internal/models"
	"event-photo-backend/internal/plans"
	"event-photo-backend/internal/services"
	"event-photo-backend/internal/storage"
	"event-photo-backend/internal/testutil"
)

const hostID int64 = 1

type testEnv struct {
	srv    *httptest.Server
	events *testutil.Events
	photos *testutil.Photos
	store  *testutil.RecordingStore
	redis  *miniredis.Miniredis
	hub    *services.WSHub
	users  *services.UserService
}

func newTestEnv(t *testing.T, archiveLimit cache.RateLimit, trustedProxies ...netip.Prefix) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := testutil.NewRecordingStore("")
	blob := httptest.NewServer(store.Handler())
	t.Cleanup(blob.Close)
	store.SetBaseURL(blob.URL)

	events := testutil.NewEvents(
		&models.Event{ID: 10, Name: "Wedding", EventDate: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC), EventCode: "WED123", AccessCode: "SECRET12", AllowGuestUploads: true, OwnerID: hostID},
		&models.Event{ID: 20, Name: "Open day", EventDate: time.Date(2026, 6, 2, 0, 0, 0, 0, time.UTC), EventCode: "OPEN01", AccessCode: "PUBLIC99", IsPublic: true, AllowGuestUploads: true, OwnerID: hostID},
	)
	photos := testutil.NewPhotos()
	userRepo := testutil.NewUsers(&models.User{ID: hostID, Email: "host@example.com", Plan: plans.Free})
	members := testutil.NewMembers()
	evaluator := access.NewEvaluator(members)
	versioned := cache.NewVersioned(rdb)
	hub := services.NewWSHub()
	t.Cleanup(hub.Close)

	userService := services.NewUserService(userRepo, "test-secret")
	uploads := services.NewUploadService(events, photos, userRepo, store, evaluator, plans.Default(), versioned, services.UploadConfig{})
	uploads.SetBroadcaster(hub)
	gallery := services.NewGalleryService(events, photos, store, evaluator, versioned, services.GalleryConfig{})
	gallery.SetBroadcaster(hub)
	eventService := services.NewEventService(events, members, store, evaluator, cache.NewGuard(rdb), versioned, services.EventConfig{})
	thumbs := services.NewThumbnailService(events, photos, store, evaluator, services.ThumbnailConfig{})
	archive := services.NewArchiveService(events, photos, store, evaluator, cache.NewRateLimiter(rdb), services.ArchiveConfig{RateLimit: archiveLimit})

	api := &API{
		Users:     NewUserHandler(userService),
		Events:    NewEventHandler(eventService, gallery),
		Uploads:   NewUploadHandler(uploads),
		Photos:    NewPhotoHandler(thumbs, gallery, archive),
		WebSocket: NewWebSocketHandler(hub, eventService, userService),
		Auth:      userService,
	}
	r := chi.NewRouter()
	r.Use(middleware.TrustedRealIP(trustedProxies))
	api.Mount(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv, events: events, photos: photos, store: store, redis: mr, hub: hub, users: userService}
}

func (e *testEnv) token(t *testing.T, userID int64) string {
	t.Helper()
	token, err := e.users.GenerateJWT(userID, false, time.Hour)
	require.NoError(t, err)
	return token
}

// seedPhoto stores bytes under a fresh key of eventID and records it.
func (e *testEnv) seedPhoto(t *testing.T, eventID int64, name string, data []byte, approved bool) *models.Photo {
	t.Helper()
	ctx := context.Background()
	key := storage.PhotoKey(eventID, name, "image/jpeg", time.Now())
	require.NoError(t, e.store.Store.Put(ctx, key, bytes.NewReader(data), int64(len(data)), "image/jpeg"))
	photo := &models.Photo{
		EventID:          eventID,
		FilePath:         storage.Locator(key),
		OriginalFilename: name,
		MimeType:         "image/jpeg",
		FileSize:         int64(len(data)),
		IsApproved:       approved,
	}
	_, err := e.photos.CreateIfAbsent(ctx, photo)
	require.NoError(t, err)
	return photo
}

type reqOpt func(*http.Request)

func bearer(token string) reqOpt {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

func header(k, v string) reqOpt {
	return func(r *http.Request) { r.Header.Set(k, v) }
}

func (e *testEnv) do(t *testing.T, method, path string, body any, opts ...reqOpt) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, opt := range opts {
		opt(req)
	}
	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}
	resp, err := client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(dst))
}
