package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"event-photo-backend/internal/access"
	"event-photo-backend/internal/cache"
	"event-photo-backend/internal/plans"
	"event-photo-backend/internal/storage"
	"event-photo-backend/internal/workpool"
)

// UploadConfig tunes grant issuance and finalize.
type UploadConfig struct {
	HostConcurrency  int
	GuestConcurrency int
	GrantTTL         time.Duration
	VerifyOnFinalize bool
}

// UploadService issues direct-to-storage upload grants and turns finished
// uploads into photo records.
type UploadService struct {
	events   EventRepository
	photos   PhotoRepository
	users    UserRepository
	store    storage.Store
	access   *access.Evaluator
	plans    *plans.Resolver
	cache    *cache.Versioned
	hub      Broadcaster
	notifier Notifier
	cfg      UploadConfig
	now      func() time.Time
}

// NewUploadService creates a new upload service
func NewUploadService(
	events EventRepository,
	photos PhotoRepository,
	users UserRepository,
	store storage.Store,
	evaluator *access.Evaluator,
	resolver *plans.Resolver,
	versioned *cache.Versioned,
	cfg UploadConfig,
) *UploadService {
	if cfg.HostConcurrency <= 0 {
		cfg.HostConcurrency = 10
	}
	if cfg.GuestConcurrency <= 0 {
		cfg.GuestConcurrency = 2
	}
	if cfg.GrantTTL <= 0 {
		cfg.GrantTTL = time.Hour
	}
	return &UploadService{
		events: events,
		photos: photos,
		users:  users,
		store:  store,
		access: evaluator,
		plans:  resolver,
		cache:  versioned,
		cfg:    cfg,
		now:    time.Now,
	}
}

// SetBroadcaster attaches the live gallery hub.
func (s *UploadService) SetBroadcaster(hub Broadcaster) {
	s.hub = hub
}

// SetNotifier attaches host push notifications.
func (s *UploadService) SetNotifier(n Notifier) {
	s.notifier = n
}

// FileCandidate describes a file the client wants to upload.
type FileCandidate struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Size     int64  `json:"size"`
	ClientID string `json:"clientId"`
}

// UploadGrant is a signed permission to PUT one object.
type UploadGrant struct {
	Key              string `json:"key"`
	URL              string `json:"url"`
	OriginalFilename string `json:"originalFilename"`
	MimeType         string `json:"mimeType"`
	FileSize         int64  `json:"fileSize"`
	ClientID         string `json:"clientId"`
}

// GrantRequest asks for upload grants on an event.
type GrantRequest struct {
	EventID int64
	Files   []FileCandidate
	Caller  Caller
}

// GrantResult lists the issued grants and the plan's file size ceiling.
type GrantResult struct {
	Uploads     []UploadGrant `json:"uploads"`
	MaxFileSize int64         `json:"maxFileSize"`
}

// IssueGrants validates candidates against the owning account's plan and
// signs one PUT URL per admitted file.
func (s *UploadService) IssueGrants(ctx context.Context, req GrantRequest) (*GrantResult, error) {
	ctx, span := tracer.Start(ctx, "upload.IssueGrants", trace.WithAttributes(
		attribute.Int64("event.id", req.EventID),
		attribute.Int("files.requested", len(req.Files)),
	))
	defer span.End()

	if req.EventID <= 0 {
		return nil, invalid("invalid event id")
	}
	if len(req.Files) == 0 {
		return nil, invalid("no files provided")
	}

	event, err := s.events.GetByID(ctx, req.EventID)
	if err != nil {
		return nil, lookupErr(err, "event")
	}
	who := req.Caller.requester(event)
	if !s.access.CanAccess(ctx, event, who) {
		return nil, forbidden("access denied")
	}
	if !s.access.CanUpload(ctx, event, who) {
		return nil, forbidden("uploads are disabled for this event")
	}

	limits, err := ownerLimits(ctx, s.users, s.plans, event)
	if err != nil {
		return nil, err
	}
	remaining := -1
	if !limits.Unlimited() {
		count, err := s.photos.CountByEvent(ctx, event.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to count photos: %w", err)
		}
		remaining, _ = limits.Remaining(count)
		if remaining == 0 {
			return nil, fmt.Errorf("%w: this event has reached its photo limit", ErrCapacityExceeded)
		}
	}

	admitted := admit(req.Files, limits.MaxFileSizeBytes, remaining)
	if len(admitted) == 0 {
		return nil, invalid("no valid image files to upload")
	}

	width := s.cfg.GuestConcurrency
	if req.Caller.Authenticated() {
		width = s.cfg.HostConcurrency
	}

	slots := make([]*UploadGrant, len(admitted))
	now := s.now()
	err = workpool.Run(ctx, len(admitted), width, func(ctx context.Context, i int) error {
		f := admitted[i]
		key := storage.PhotoKey(event.ID, f.Name, f.Type, now)
		url, err := s.store.SignPut(ctx, key, f.Type, s.cfg.GrantTTL)
		if err != nil {
			log.Warn().Err(err).Int64("event_id", event.ID).Str("key", key).Msg("Failed to sign upload URL")
			return nil
		}
		slots[i] = &UploadGrant{
			Key:              key,
			URL:              url,
			OriginalFilename: f.Name,
			MimeType:         f.Type,
			FileSize:         f.Size,
			ClientID:         f.ClientID,
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to issue upload grants: %w", err)
	}

	grants := make([]UploadGrant, 0, len(slots))
	for _, g := range slots {
		if g != nil {
			grants = append(grants, *g)
		}
	}
	if len(grants) == 0 {
		return nil, fmt.Errorf("%w: could not sign any upload URL", ErrUpstream)
	}

	span.SetAttributes(attribute.Int("files.granted", len(grants)))
	metrics.add(ctx, metrics.grants, len(grants))
	log.Debug().Int64("event_id", event.ID).Int("granted", len(grants)).Int("requested", len(req.Files)).Msg("Upload grants issued")

	return &GrantResult{Uploads: grants, MaxFileSize: limits.MaxFileSizeBytes}, nil
}

// admit keeps images of positive size within maxSize, in input order, up to
// remaining items. A negative remaining means no cap.
func admit(files []FileCandidate, maxSize int64, remaining int) []FileCandidate {
	out := make([]FileCandidate, 0, len(files))
	for _, f := range files {
		if remaining >= 0 && len(out) >= remaining {
			break
		}
		if !isImage(f.Type) || f.Size <= 0 || f.Size > maxSize {
			continue
		}
		out = append(out, f)
	}
	return out
}

func isImage(mimeType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(mimeType)), "image/")
}

