package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"event-photo-backend/internal/access"
	"event-photo-backend/internal/cache"
	"event-photo-backend/internal/models"
	"event-photo-backend/internal/repository"
	"event-photo-backend/internal/storage"
)

const maxEventNameLength = 120

// EventConfig tunes event creation and listing.
type EventConfig struct {
	GuardTTL     time.Duration
	ListTTL      time.Duration
	WaitAttempts int
	WaitInterval time.Duration
}

// EventService handles event lifecycle and membership
type EventService struct {
	events  EventRepository
	members MemberRepository
	store   storage.Store
	access  *access.Evaluator
	guard   Guard
	cache   *cache.Versioned
	cfg     EventConfig
	now     func() time.Time
}

// NewEventService creates a new event service
func NewEventService(events EventRepository, members MemberRepository, store storage.Store, evaluator *access.Evaluator, guard Guard, versioned *cache.Versioned, cfg EventConfig) *EventService {
	if cfg.GuardTTL <= 0 {
		cfg.GuardTTL = 10 * time.Second
	}
	if cfg.ListTTL <= 0 {
		cfg.ListTTL = 5 * time.Minute
	}
	if cfg.WaitAttempts <= 0 {
		cfg.WaitAttempts = 5
	}
	if cfg.WaitInterval <= 0 {
		cfg.WaitInterval = 100 * time.Millisecond
	}
	return &EventService{
		events:  events,
		members: members,
		store:   store,
		access:  evaluator,
		guard:   guard,
		cache:   versioned,
		cfg:     cfg,
		now:     time.Now,
	}
}

// CreateEventInput holds the fields of a new event
type CreateEventInput struct {
	Name              string    `json:"name"`
	Date              time.Time `json:"date"`
	IsPublic          bool      `json:"is_public"`
	AllowGuestUploads bool      `json:"allow_guest_uploads"`
	RequireApproval   bool      `json:"require_approval"`
}

// CreateEvent creates an event owned by ownerID. Repeated submissions of the
// same name and date while the creation guard is held return the event
// created by the first one; created is false in that case.
func (s *EventService) CreateEvent(ctx context.Context, ownerID int64, in CreateEventInput) (event *models.Event, created bool, err error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, false, invalid("event name is required")
	}
	if len(name) > maxEventNameLength {
		return nil, false, invalid("event name is too long")
	}
	if in.Date.IsZero() {
		return nil, false, invalid("event date is required")
	}
	day := eventDay(in.Date)
	normalized := models.NormalizeEventName(name)

	lease, acquired, err := s.acquire(ctx, creationKey(ownerID, normalized, day))
	if err != nil {
		return nil, false, err
	}
	if !acquired {
		existing, err := s.awaitDuplicate(ctx, ownerID, normalized, day)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	defer lease.Release(context.WithoutCancel(ctx))

	since := s.now().Add(-s.cfg.GuardTTL)
	existing, err := s.events.FindRecentDuplicate(ctx, ownerID, normalized, day, since)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, false, fmt.Errorf("failed to check for duplicate event: %w", err)
	}

	event = &models.Event{
		Name:              name,
		EventDate:         day,
		IsPublic:          in.IsPublic,
		AllowGuestUploads: in.AllowGuestUploads,
		RequireApproval:   in.RequireApproval,
		OwnerID:           ownerID,
	}
	for attempt := 0; ; attempt++ {
		event.EventCode = generateCode(eventCodeLength)
		event.AccessCode = generateCode(accessCodeLength)
		err = s.events.Create(ctx, event)
		if err == nil {
			break
		}
		if !errors.Is(err, repository.ErrConflict) || attempt+1 >= maxCodeAttempts {
			return nil, false, fmt.Errorf("failed to create event: %w", err)
		}
	}

	bumpScopes(ctx, s.cache, accountEventsScope(ownerID))
	log.Info().Int64("event_id", event.ID).Int64("owner_id", ownerID).Str("event_code", event.EventCode).Msg("Event created")
	return event, true, nil
}

// acquire takes the creation guard. A guard outage degrades to the duplicate
// lookup alone.
func (s *EventService) acquire(ctx context.Context, key string) (*cache.Lease, bool, error) {
	if s.guard == nil {
		return nil, true, nil
	}
	lease, ok, err := s.guard.Acquire(ctx, key, s.cfg.GuardTTL)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Creation guard unavailable")
		return nil, true, nil
	}
	return lease, ok, nil
}

// awaitDuplicate polls for the event being created by the guard holder.
func (s *EventService) awaitDuplicate(ctx context.Context, ownerID int64, normalized string, day time.Time) (*models.Event, error) {
	for attempt := 0; attempt < s.cfg.WaitAttempts; attempt++ {
		since := s.now().Add(-s.cfg.GuardTTL)
		existing, err := s.events.FindRecentDuplicate(ctx, ownerID, normalized, day, since)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("failed to look up duplicate event: %w", err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.cfg.WaitInterval):
		}
	}
	return nil, fmt.Errorf("%w: an identical event is already being created", ErrConflict)
}

func creationKey(ownerID int64, normalized string, day time.Time) string {
	return "event:create:" + strconv.FormatInt(ownerID, 10) + ":" + normalized + ":" + day.Format("2006-01-02")
}

func eventDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// UpdateEventInput holds optional settings changes
type UpdateEventInput struct {
	Name              *string `json:"name,omitempty"`
	IsPublic          *bool   `json:"is_public,omitempty"`
	AllowGuestUploads *bool   `json:"allow_guest_uploads,omitempty"`
	RequireApproval   *bool   `json:"require_approval,omitempty"`
}

// UpdateSettings changes visibility and upload policy
func (s *EventService) UpdateSettings(ctx context.Context, eventID int64, caller Caller, in UpdateEventInput) (*models.Event, error) {
	event, err := s.events.GetByID(ctx, eventID)
	if err != nil {
		return nil, lookupErr(err, "event")
	}
	if !s.access.CanManage(ctx, event, caller.requester(event)) {
		return nil, forbidden("only event managers can change settings")
	}

	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" || len(name) > maxEventNameLength {
			return nil, invalid("invalid event name")
		}
		event.Name = name
	}
	visibilityChanged := false
	if in.IsPublic != nil {
		visibilityChanged = event.IsPublic != *in.IsPublic
		event.IsPublic = *in.IsPublic
	}
	if in.AllowGuestUploads != nil {
		event.AllowGuestUploads = *in.AllowGuestUploads
	}
	if in.RequireApproval != nil {
		event.RequireApproval = *in.RequireApproval
	}

	if err := s.events.UpdateSettings(ctx, event); err != nil {
		return nil, lookupErr(err, "event")
	}

	scopes := []string{accountEventsScope(event.OwnerID)}
	if visibilityChanged {
		scopes = append(scopes, eventPhotosScope(event.ID))
	}
	bumpScopes(ctx, s.cache, scopes...)
	return event, nil
}

// DeleteEvent removes an event, its records and its objects
func (s *EventService) DeleteEvent(ctx context.Context, eventID int64, caller Caller) error {
	event, err := s.events.GetByID(ctx, eventID)
	if err != nil {
		return lookupErr(err, "event")
	}
	if !s.access.CanDelete(event, caller.requester(event)) {
		return forbidden("only the event creator can delete it")
	}
	if err := s.events.Delete(ctx, event.ID); err != nil {
		return lookupErr(err, "event")
	}
	bumpScopes(ctx, s.cache, accountEventsScope(event.OwnerID), eventPhotosScope(event.ID))

	s.purgeObjects(context.WithoutCancel(ctx), event.ID)
	log.Info().Int64("event_id", event.ID).Msg("Event deleted")
	return nil
}

// purgeObjects deletes every object under the event prefix. Failures are
// logged and skipped.
func (s *EventService) purgeObjects(ctx context.Context, eventID int64) {
	objects, err := s.store.List(ctx, storage.EventPrefix(eventID))
	if err != nil {
		log.Warn().Err(err).Int64("event_id", eventID).Msg("Failed to list event objects")
		return
	}
	for _, obj := range objects {
		if err := s.store.Delete(ctx, obj.Key); err != nil {
			log.Warn().Err(err).Str("key", obj.Key).Msg("Failed to delete event object")
		}
	}
}

// ListOwnedEvents returns the events owned by ownerID, newest first
func (s *EventService) ListOwnedEvents(ctx context.Context, ownerID int64) ([]*models.Event, error) {
	return cached(ctx, s.cache, accountEventsScope(ownerID), "list", "owned", s.cfg.ListTTL,
		func(ctx context.Context) ([]*models.Event, error) {
			return s.events.ListByOwner(ctx, ownerID)
		})
}

// GetEventByCode looks an event up by its public code. The access code is
// only included for managers.
func (s *EventService) GetEventByCode(ctx context.Context, code string, caller Caller) (*models.Event, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, invalid("event code is required")
	}
	event, err := s.events.GetByCode(ctx, code)
	if err != nil {
		return nil, lookupErr(err, "event")
	}
	if s.access.CanManage(ctx, event, caller.requester(event)) {
		return event, nil
	}
	return event.PublicView(), nil
}

// ViewableEvent returns the event when the caller may see its gallery
func (s *EventService) ViewableEvent(ctx context.Context, eventID int64, caller Caller) (*models.Event, error) {
	event, err := s.events.GetByID(ctx, eventID)
	if err != nil {
		return nil, lookupErr(err, "event")
	}
	if !s.access.CanAccess(ctx, event, caller.requester(event)) {
		return nil, forbidden("access denied")
	}
	return event, nil
}

// SetMemberRole grants userID a role on the event
func (s *EventService) SetMemberRole(ctx context.Context, eventID int64, caller Caller, userID int64, role models.Role) error {
	if !role.CanRead() {
		return invalid("unknown role")
	}
	event, err := s.events.GetByID(ctx, eventID)
	if err != nil {
		return lookupErr(err, "event")
	}
	if !s.access.CanManage(ctx, event, caller.requester(event)) {
		return forbidden("only event managers can change members")
	}
	if userID == event.OwnerID {
		return invalid("the event owner cannot be given a role")
	}
	if err := s.members.Upsert(ctx, &models.EventMember{EventID: event.ID, UserID: userID, Role: role}); err != nil {
		return err
	}
	return nil
}

// RemoveMember revokes userID's role on the event
func (s *EventService) RemoveMember(ctx context.Context, eventID int64, caller Caller, userID int64) error {
	event, err := s.events.GetByID(ctx, eventID)
	if err != nil {
		return lookupErr(err, "event")
	}
	if !s.access.CanManage(ctx, event, caller.requester(event)) {
		return forbidden("only event managers can change members")
	}
	if err := s.members.Remove(ctx, event.ID, userID); err != nil {
		return lookupErr(err, "member")
	}
	return nil
}
