package services

import (
	"context"
	"strconv"
	"time"

	"event-photo-backend/internal/cache"
	"event-photo-backend/internal/models"
)

// EventRepository persists events.
// Satisfied by *repository.EventRepository.
type EventRepository interface {
	Create(ctx context.Context, event *models.Event) error
	GetByID(ctx context.Context, id int64) (*models.Event, error)
	GetByCode(ctx context.Context, code string) (*models.Event, error)
	FindRecentDuplicate(ctx context.Context, ownerID int64, normalizedName string, date, since time.Time) (*models.Event, error)
	ListByOwner(ctx context.Context, ownerID int64) ([]*models.Event, error)
	UpdateSettings(ctx context.Context, event *models.Event) error
	Delete(ctx context.Context, id int64) error
}

// PhotoRepository persists photo records.
// Satisfied by *repository.PhotoRepository.
type PhotoRepository interface {
	CreateIfAbsent(ctx context.Context, photo *models.Photo) (bool, error)
	GetByID(ctx context.Context, id int64) (*models.Photo, error)
	ListByEvent(ctx context.Context, eventID int64, includePending bool) ([]*models.Photo, error)
	CountByEvent(ctx context.Context, eventID int64) (int, error)
	Approve(ctx context.Context, id int64) error
	Delete(ctx context.Context, id int64) error
}

// UserRepository reads host accounts.
// Satisfied by *repository.UserRepository.
type UserRepository interface {
	GetByID(ctx context.Context, id int64) (*models.User, error)
	GetPlan(ctx context.Context, id int64) (string, error)
	UpdatePushToken(ctx context.Context, id int64, token string) error
}

// MemberRepository manages event-scoped roles.
// Satisfied by *repository.MemberRepository.
type MemberRepository interface {
	Upsert(ctx context.Context, m *models.EventMember) error
	Remove(ctx context.Context, eventID, userID int64) error
}

// RateLimiter admits or rejects calls per key.
// Satisfied by *cache.RateLimiter.
type RateLimiter interface {
	Allow(ctx context.Context, key string, policy cache.RateLimit) error
}

// Guard hands out exclusive short-lived leases.
// Satisfied by *cache.Guard. A nil lease is safe to release.
type Guard interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (*cache.Lease, bool, error)
}

// Broadcaster fans gallery changes out to live viewers.
// Satisfied by *WSHub.
type Broadcaster interface {
	Broadcast(eventID int64, msg WSMessage)
}

// Notifier pushes host alerts.
// Satisfied by *notify.APNs.
type Notifier interface {
	NotifyPending(ctx context.Context, deviceToken, eventName string, count int) error
}

func eventPhotosScope(eventID int64) string {
	return "event:" + strconv.FormatInt(eventID, 10) + ":photos"
}

func accountEventsScope(ownerID int64) string {
	return "account:" + strconv.FormatInt(ownerID, 10) + ":events"
}
