package services

import (
	"context"
	"fmt"
	"mime"
	"time"

	"github.com/rs/zerolog/log"

	"event-photo-backend/internal/access"
	"event-photo-backend/internal/cache"
	"event-photo-backend/internal/models"
	"event-photo-backend/internal/storage"
)

// GalleryConfig tunes gallery reads.
type GalleryConfig struct {
	ListTTL     time.Duration
	OriginalTTL time.Duration
	LocalDir    string
}

// GalleryService lists and moderates event photos
type GalleryService struct {
	events EventRepository
	photos PhotoRepository
	store  storage.Store
	access *access.Evaluator
	cache  *cache.Versioned
	hub    Broadcaster
	cfg    GalleryConfig
}

// NewGalleryService creates a new gallery service
func NewGalleryService(events EventRepository, photos PhotoRepository, store storage.Store, evaluator *access.Evaluator, versioned *cache.Versioned, cfg GalleryConfig) *GalleryService {
	if cfg.ListTTL <= 0 {
		cfg.ListTTL = 5 * time.Minute
	}
	if cfg.OriginalTTL <= 0 {
		cfg.OriginalTTL = 15 * time.Minute
	}
	return &GalleryService{
		events: events,
		photos: photos,
		store:  store,
		access: evaluator,
		cache:  versioned,
		cfg:    cfg,
	}
}

// SetBroadcaster attaches the live gallery hub.
func (s *GalleryService) SetBroadcaster(hub Broadcaster) {
	s.hub = hub
}

// Gallery is the photo listing of one event
type Gallery struct {
	Event  *models.Event   `json:"event"`
	Photos []*models.Photo `json:"photos"`
}

// ListGallery returns the approved photos of an event. Managers asking for
// pending photos get those too.
func (s *GalleryService) ListGallery(ctx context.Context, eventID int64, caller Caller, includePending bool) (*Gallery, error) {
	event, err := s.events.GetByID(ctx, eventID)
	if err != nil {
		return nil, lookupErr(err, "event")
	}
	who := caller.requester(event)
	if !s.access.CanAccess(ctx, event, who) {
		return nil, forbidden("access denied")
	}
	manager := s.access.CanManage(ctx, event, who)
	if includePending && !manager {
		includePending = false
	}

	op := "approved"
	if includePending {
		op = "all"
	}
	photos, err := cached(ctx, s.cache, eventPhotosScope(event.ID), "list", op, s.cfg.ListTTL,
		func(ctx context.Context) ([]*models.Photo, error) {
			return s.photos.ListByEvent(ctx, event.ID, includePending)
		})
	if err != nil {
		return nil, err
	}

	if !manager {
		event = event.PublicView()
	}
	return &Gallery{Event: event, Photos: photos}, nil
}

// photoForManager loads a photo and checks the caller may moderate its event.
func (s *GalleryService) photoForManager(ctx context.Context, photoID int64, caller Caller) (*models.Photo, *models.Event, error) {
	photo, err := s.photos.GetByID(ctx, photoID)
	if err != nil {
		return nil, nil, lookupErr(err, "photo")
	}
	event, err := s.events.GetByID(ctx, photo.EventID)
	if err != nil {
		return nil, nil, lookupErr(err, "event")
	}
	if !s.access.CanManage(ctx, event, caller.requester(event)) {
		return nil, nil, forbidden("only event managers can moderate photos")
	}
	return photo, event, nil
}

// ApprovePhoto makes a pending photo visible in the gallery
func (s *GalleryService) ApprovePhoto(ctx context.Context, photoID int64, caller Caller) error {
	photo, event, err := s.photoForManager(ctx, photoID, caller)
	if err != nil {
		return err
	}
	if photo.IsApproved {
		return nil
	}
	if err := s.photos.Approve(ctx, photo.ID); err != nil {
		return lookupErr(err, "photo")
	}
	bumpScopes(ctx, s.cache, eventPhotosScope(event.ID))
	if s.hub != nil {
		s.hub.Broadcast(event.ID, WSMessage{Type: MsgPhotoApproved, PhotoIDs: []int64{photo.ID}})
	}
	return nil
}

// DeletePhoto removes the record, then best-effort the original and its
// derivatives.
func (s *GalleryService) DeletePhoto(ctx context.Context, photoID int64, caller Caller) error {
	photo, event, err := s.photoForManager(ctx, photoID, caller)
	if err != nil {
		return err
	}
	if err := s.photos.Delete(ctx, photo.ID); err != nil {
		return lookupErr(err, "photo")
	}
	bumpScopes(ctx, s.cache, eventPhotosScope(event.ID))
	if s.hub != nil {
		s.hub.Broadcast(event.ID, WSMessage{Type: MsgPhotoDeleted, PhotoIDs: []int64{photo.ID}})
	}

	if key, isObject := storage.ParseLocator(photo.FilePath); isObject {
		s.deleteObjects(context.WithoutCancel(ctx), key)
	}
	log.Info().Int64("photo_id", photo.ID).Int64("event_id", event.ID).Msg("Photo deleted")
	return nil
}

func (s *GalleryService) deleteObjects(ctx context.Context, key string) {
	if err := s.store.Delete(ctx, key); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Failed to delete original")
	}
	thumbs, err := s.store.List(ctx, storage.ThumbPrefix(key))
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Failed to list thumbnails")
		return
	}
	for _, obj := range thumbs {
		if !storage.IsThumbOf(obj.Key, key) {
			continue
		}
		if err := s.store.Delete(ctx, obj.Key); err != nil {
			log.Warn().Err(err).Str("key", obj.Key).Msg("Failed to delete thumbnail")
		}
	}
}

// Original tells the caller where to read the full-size image. Exactly one
// of URL and LocalPath is set.
type Original struct {
	URL       string
	LocalPath string
	MimeType  string
}

// OriginalURL authorizes the caller and locates the original image
func (s *GalleryService) OriginalURL(ctx context.Context, photoID int64, caller Caller) (*Original, error) {
	if photoID <= 0 {
		return nil, invalid("invalid photo id")
	}
	photo, err := s.photos.GetByID(ctx, photoID)
	if err != nil {
		return nil, lookupErr(err, "photo")
	}
	event, err := s.events.GetByID(ctx, photo.EventID)
	if err != nil {
		return nil, lookupErr(err, "event")
	}
	who := caller.requester(event)
	if !s.access.CanAccess(ctx, event, who) {
		return nil, forbidden("access denied")
	}
	if !photo.IsApproved && !s.access.CanManage(ctx, event, who) {
		return nil, fmt.Errorf("%w: photo not found", ErrNotFound)
	}

	key, isObject := storage.ParseLocator(photo.FilePath)
	if !isObject {
		local, err := localPath(s.cfg.LocalDir, key)
		if err != nil {
			return nil, err
		}
		return &Original{LocalPath: local, MimeType: photo.MimeType}, nil
	}
	disposition := mime.FormatMediaType("inline", map[string]string{"filename": archiveName(photo)})
	url, err := s.store.SignGet(ctx, key, s.cfg.OriginalTTL, storage.SignGetOptions{ContentDisposition: disposition})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to sign original: %v", ErrUpstream, err)
	}
	return &Original{URL: url, MimeType: photo.MimeType}, nil
}
