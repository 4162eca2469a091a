package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"event-photo-backend/internal/models"
	"event-photo-backend/internal/plans"
	"event-photo-backend/internal/storage"
)

const notifyTimeout = 10 * time.Second

// FinalizeItem describes an object the client has already PUT.
type FinalizeItem struct {
	Key              string `json:"key"`
	OriginalFilename string `json:"originalFilename"`
	MimeType         string `json:"mimeType"`
	FileSize         int64  `json:"fileSize"`
}

// FinalizeRequest turns uploaded objects into photo records.
type FinalizeRequest struct {
	EventID    int64
	GuestName  string
	GuestEmail string
	Items      []FinalizeItem
	Caller     Caller
}

// FinalizeResult summarizes a finalize call. Duplicates are items whose key
// already had a record.
type FinalizeResult struct {
	Created         int     `json:"created"`
	Duplicates      int     `json:"duplicates"`
	PhotoIDs        []int64 `json:"photoIds"`
	PendingApproval bool    `json:"pendingApproval"`
}

// Finalize inserts one photo record per uploaded item. Individual failures
// are skipped; the call fails only when nothing was saved.
func (s *UploadService) Finalize(ctx context.Context, req FinalizeRequest) (*FinalizeResult, error) {
	if req.EventID <= 0 {
		return nil, invalid("invalid event id")
	}
	if len(req.Items) == 0 {
		return nil, invalid("no items provided")
	}

	event, err := s.events.GetByID(ctx, req.EventID)
	if err != nil {
		return nil, lookupErr(err, "event")
	}

	uploaderID, guestName, guestEmail, err := s.finalizeIdentity(ctx, event, req)
	if err != nil {
		return nil, err
	}

	limits, err := ownerLimits(ctx, s.users, s.plans, event)
	if err != nil {
		return nil, err
	}

	budget, err := s.finalizeBudget(ctx, event, limits)
	if err != nil {
		return nil, err
	}

	result := &FinalizeResult{PhotoIDs: []int64{}, PendingApproval: event.RequireApproval}
	var firstErr error
	overCap := 0
	for _, item := range req.Items {
		if reason := checkItem(item, event.ID, limits.MaxFileSizeBytes); reason != "" {
			log.Warn().Int64("event_id", event.ID).Str("key", item.Key).Str("reason", reason).Msg("Skipping finalize item")
			continue
		}
		size := item.FileSize
		if s.cfg.VerifyOnFinalize {
			info, err := s.store.Head(ctx, item.Key)
			if err != nil {
				if !errors.Is(err, storage.ErrNotFound) {
					log.Warn().Err(err).Str("key", item.Key).Msg("Failed to verify uploaded object")
				}
				continue
			}
			if info.Size > 0 {
				size = info.Size
			}
		}

		photo := &models.Photo{
			EventID:          event.ID,
			FilePath:         storage.Locator(item.Key),
			OriginalFilename: displayName(item.OriginalFilename, item.Key),
			MimeType:         item.MimeType,
			FileSize:         size,
			UploaderID:       uploaderID,
			GuestName:        guestName,
			GuestEmail:       guestEmail,
			IsApproved:       !event.RequireApproval,
		}
		if budget.exhausted() {
			dup, err := budget.recorded(ctx, photo.FilePath)
			switch {
			case err != nil:
				log.Error().Err(err).Int64("event_id", event.ID).Msg("Failed to list event photos")
				if firstErr == nil {
					firstErr = err
				}
			case dup:
				result.Duplicates++
			default:
				overCap++
				log.Warn().Int64("event_id", event.ID).Str("key", item.Key).Str("reason", "photo limit reached").Msg("Skipping finalize item")
			}
			continue
		}
		created, err := s.photos.CreateIfAbsent(ctx, photo)
		if err != nil {
			log.Error().Err(err).Int64("event_id", event.ID).Str("key", item.Key).Msg("Failed to create photo record")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if !created {
			result.Duplicates++
			continue
		}
		budget.consume()
		result.Created++
		result.PhotoIDs = append(result.PhotoIDs, photo.ID)
	}

	if result.Created+result.Duplicates == 0 {
		if overCap > 0 {
			return nil, fmt.Errorf("%w: this event has reached its photo limit", ErrCapacityExceeded)
		}
		if firstErr != nil {
			return nil, fmt.Errorf("failed to save photos: %w", firstErr)
		}
		return nil, invalid("no photos were saved")
	}

	if result.Created > 0 {
		metrics.add(ctx, metrics.finalized, result.Created)
		bumpScopes(ctx, s.cache, eventPhotosScope(event.ID))
		if event.RequireApproval {
			s.notifyOwner(ctx, event, result.Created)
		} else if s.hub != nil {
			s.hub.Broadcast(event.ID, WSMessage{Type: MsgPhotosAdded, PhotoIDs: result.PhotoIDs})
		}
	}

	log.Info().
		Int64("event_id", event.ID).
		Int("created", result.Created).
		Int("duplicates", result.Duplicates).
		Msg("Uploads finalized")

	return result, nil
}

// finalizeIdentity picks the authenticated path when the caller may upload
// as a member, else the guest path, which requires a name and guest uploads.
func (s *UploadService) finalizeIdentity(ctx context.Context, event *models.Event, req FinalizeRequest) (*int64, *string, *string, error) {
	who := req.Caller.requester(event)
	if req.Caller.Authenticated() && s.access.CanUpload(ctx, event, who) {
		id := *req.Caller.UserID
		return &id, nil, nil, nil
	}

	name := strings.TrimSpace(req.GuestName)
	if name == "" {
		return nil, nil, nil, invalid("guest name is required")
	}
	if !event.AllowGuestUploads {
		return nil, nil, nil, forbidden("guest uploads are disabled for this event")
	}
	if !s.access.CanAccess(ctx, event, who) {
		return nil, nil, nil, forbidden("access denied")
	}

	var email *string
	if e := strings.TrimSpace(req.GuestEmail); e != "" {
		email = &e
	}
	return nil, &name, email, nil
}

// finalizeBudget counts the event's photos so a finalize never creates more
// records than the owner's plan has room for at the time of the call.
func (s *UploadService) finalizeBudget(ctx context.Context, event *models.Event, limits plans.Limits) (*photoBudget, error) {
	b := &photoBudget{photos: s.photos, eventID: event.ID, remaining: -1}
	if limits.Unlimited() {
		return b, nil
	}
	count, err := s.photos.CountByEvent(ctx, event.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to count photos: %w", err)
	}
	b.remaining, _ = limits.Remaining(count)
	return b, nil
}

// photoBudget tracks how many more records an event may take. remaining is
// negative for unlimited plans. Once exhausted, items are only matched
// against existing records so retries still report duplicates.
type photoBudget struct {
	photos    PhotoRepository
	eventID   int64
	remaining int
	paths     map[string]struct{}
}

func (b *photoBudget) exhausted() bool {
	return b.remaining == 0
}

func (b *photoBudget) consume() {
	if b.remaining > 0 {
		b.remaining--
	}
}

func (b *photoBudget) recorded(ctx context.Context, filePath string) (bool, error) {
	if b.paths == nil {
		photos, err := b.photos.ListByEvent(ctx, b.eventID, true)
		if err != nil {
			return false, err
		}
		b.paths = make(map[string]struct{}, len(photos))
		for _, p := range photos {
			b.paths[p.FilePath] = struct{}{}
		}
	}
	_, ok := b.paths[filePath]
	return ok, nil
}

func checkItem(item FinalizeItem, eventID int64, maxSize int64) string {
	switch {
	case !storage.BelongsToEvent(item.Key, eventID):
		return "key outside event"
	case !isImage(item.MimeType):
		return "not an image"
	case item.FileSize <= 0:
		return "empty file"
	case item.FileSize > maxSize:
		return "file too large"
	}
	return ""
}

func displayName(name, key string) string {
	name = strings.TrimSpace(name)
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	if name == "" || name == "." || name == ".." {
		_, base, _ := strings.Cut(key, "/photos/")
		return base
	}
	return name
}

// notifyOwner pushes a pending-approval alert to the event owner without
// blocking the caller.
func (s *UploadService) notifyOwner(ctx context.Context, event *models.Event, count int) {
	if s.notifier == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	go func() {
		ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
		defer cancel()

		owner, err := s.users.GetByID(ctx, event.OwnerID)
		if err != nil {
			log.Warn().Err(err).Int64("owner_id", event.OwnerID).Msg("Failed to load event owner for notification")
			return
		}
		if owner.PushToken == nil || *owner.PushToken == "" {
			return
		}
		if err := s.notifier.NotifyPending(ctx, *owner.PushToken, event.Name, count); err != nil {
			log.Warn().Err(err).Int64("event_id", event.ID).Msg("Failed to send approval notification")
		}
	}()
}
