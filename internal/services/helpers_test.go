package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"event-photo-backend/internal/access"
	"event-photo-backend/internal/cache"
	"event-photo-backend/internal/models"
	"event-photo-backend/internal/plans"
	"event-photo-backend/internal/testutil"
)

const (
	ownerID int64 = 1
	guestID int64 = 99
)

type fixture struct {
	events  *testutil.Events
	photos  *testutil.Photos
	users   *testutil.Users
	members *testutil.Members
	store   *testutil.RecordingStore
	access  *access.Evaluator
	redis   *miniredis.Miniredis
	rdb     *redis.Client
	cache   *cache.Versioned
	hub     *recordingHub
}

func newFixture(t *testing.T, events ...*models.Event) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	members := testutil.NewMembers()
	return &fixture{
		events: testutil.NewEvents(events...),
		photos: testutil.NewPhotos(),
		users: testutil.NewUsers(
			&models.User{ID: ownerID, Email: "host@example.com", Plan: plans.Free},
			&models.User{ID: guestID, Email: "guest@example.com", Plan: plans.Business},
		),
		members: members,
		store:   testutil.NewRecordingStore("http://blob.test"),
		access:  access.NewEvaluator(members),
		redis:   mr,
		rdb:     rdb,
		cache:   cache.NewVersioned(rdb),
		hub:     &recordingHub{},
	}
}

func (f *fixture) uploads(cfg UploadConfig) *UploadService {
	s := NewUploadService(f.events, f.photos, f.users, f.store, f.access, plans.Default(), f.cache, cfg)
	s.SetBroadcaster(f.hub)
	return s
}

func (f *fixture) gallery() *GalleryService {
	s := NewGalleryService(f.events, f.photos, f.store, f.access, f.cache, GalleryConfig{})
	s.SetBroadcaster(f.hub)
	return s
}

func privateEvent() *models.Event {
	return &models.Event{
		ID:                10,
		Name:              "Wedding",
		EventDate:         time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
		EventCode:         "WED123",
		AccessCode:        "SECRET12",
		AllowGuestUploads: true,
		OwnerID:           ownerID,
	}
}

func publicEvent() *models.Event {
	return &models.Event{
		ID:                20,
		Name:              "Open day",
		EventDate:         time.Date(2026, 6, 2, 0, 0, 0, 0, time.UTC),
		EventCode:         "OPEN01",
		AccessCode:        "PUBLIC99",
		IsPublic:          true,
		AllowGuestUploads: true,
		OwnerID:           ownerID,
	}
}

func host(id int64) Caller {
	return Caller{UserID: &id}
}

type recordingHub struct {
	mu       sync.Mutex
	messages []WSMessage
}

func (h *recordingHub) Broadcast(eventID int64, msg WSMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	msg.EventID = eventID
	h.messages = append(h.messages, msg)
}

func (h *recordingHub) Messages() []WSMessage {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]WSMessage(nil), h.messages...)
}

type pendingNotice struct {
	token, event string
	count        int
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []pendingNotice
}

func (n *recordingNotifier) NotifyPending(_ context.Context, token, eventName string, count int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, pendingNotice{token, eventName, count})
	return nil
}

func (n *recordingNotifier) Notices() []pendingNotice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]pendingNotice(nil), n.notices...)
}
