package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"event-photo-backend/internal/access"
	"event-photo-backend/internal/storage"
	"event-photo-backend/internal/thumbnail"
)

// Thumbnail outcomes
const (
	ThumbHit       = "hit"
	ThumbGenerated = "generated"
	ThumbFallback  = "fallback"
)

// ThumbnailConfig tunes derivative generation.
type ThumbnailConfig struct {
	SizeTag string
	Options thumbnail.Options
	Timeout time.Duration
}

// Thumbnail is a resolved derivative. When Fallback is set Body is nil and
// the caller should redirect to the original image.
type Thumbnail struct {
	Body        io.ReadCloser
	ContentType string
	Size        int64
	Source      string
	Fallback    bool
}

// ThumbnailService serves size-bounded derivatives of photos.
type ThumbnailService struct {
	events EventRepository
	photos PhotoRepository
	access *access.Evaluator
	cache  *derivativeCache
}

// NewThumbnailService creates a new thumbnail service
func NewThumbnailService(events EventRepository, photos PhotoRepository, store storage.Store, evaluator *access.Evaluator, cfg ThumbnailConfig) *ThumbnailService {
	if cfg.SizeTag == "" {
		cfg.SizeTag = "sm"
	}
	if cfg.Options.MaxWidth <= 0 || cfg.Options.MaxHeight <= 0 {
		cfg.Options = thumbnail.Small
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	return &ThumbnailService{
		events: events,
		photos: photos,
		access: evaluator,
		cache: &derivativeCache{
			store:   store,
			tag:     cfg.SizeTag,
			opts:    cfg.Options,
			timeout: cfg.Timeout,
			render:  thumbnail.Render,
		},
	}
}

// Resolve authorizes the caller and returns the photo's derivative. Storage
// and transform failures degrade to a fallback rather than an error.
func (s *ThumbnailService) Resolve(ctx context.Context, photoID int64, caller Caller) (*Thumbnail, error) {
	ctx, span := tracer.Start(ctx, "thumbnail.Resolve", trace.WithAttributes(attribute.Int64("photo.id", photoID)))
	defer span.End()

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
		metrics.thumbnail(ctx, ThumbFallback)
		return &Thumbnail{Fallback: true, Source: ThumbFallback}, nil
	}

	thumb, err := s.cache.get(ctx, key)
	if err != nil {
		log.Warn().Err(err).Int64("photo_id", photo.ID).Str("key", key).Msg("Failed to resolve thumbnail, falling back to original")
		metrics.thumbnail(ctx, ThumbFallback)
		return &Thumbnail{Fallback: true, Source: ThumbFallback}, nil
	}
	span.SetAttributes(attribute.String("thumbnail.source", thumb.Source))
	metrics.thumbnail(ctx, thumb.Source)
	return thumb, nil
}

// derivativeCache is a read-through cache over the object store where the
// existence of the derivative key is the hit signal. Concurrent misses may
// render the same derivative twice; the writes are identical.
type derivativeCache struct {
	store   storage.Store
	tag     string
	opts    thumbnail.Options
	timeout time.Duration
	render  func(io.Reader, thumbnail.Options) ([]byte, error)
}

func (d *derivativeCache) get(ctx context.Context, original string) (*Thumbnail, error) {
	key := storage.ThumbKey(original, d.tag)

	thumb, err := d.lookup(ctx, key)
	if err == nil {
		return thumb, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		log.Warn().Err(err).Str("key", key).Msg("Failed to look up thumbnail, regenerating")
	}

	out, err := d.generate(ctx, original)
	if err != nil {
		return nil, err
	}
	if err := d.persist(ctx, key, out); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Failed to persist thumbnail")
	}
	return &Thumbnail{
		Body:        io.NopCloser(bytes.NewReader(out)),
		ContentType: thumbnail.ContentType,
		Size:        int64(len(out)),
		Source:      ThumbGenerated,
	}, nil
}

func (d *derivativeCache) lookup(ctx context.Context, key string) (*Thumbnail, error) {
	if _, err := d.store.Head(ctx, key); err != nil {
		return nil, err
	}
	obj, err := d.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	contentType := obj.Info.ContentType
	if contentType == "" {
		contentType = thumbnail.ContentType
	}
	return &Thumbnail{
		Body:        obj.Body,
		ContentType: contentType,
		Size:        obj.Info.Size,
		Source:      ThumbHit,
	}, nil
}

func (d *derivativeCache) generate(ctx context.Context, original string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	obj, err := d.store.Get(ctx, original)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch original: %w", err)
	}
	defer obj.Body.Close()

	type rendered struct {
		out []byte
		err error
	}
	done := make(chan rendered, 1)
	go func() {
		out, err := d.render(obj.Body, d.opts)
		done <- rendered{out: out, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("failed to render thumbnail: %w", r.err)
		}
		return r.out, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("thumbnail generation timed out: %w", ctx.Err())
	}
}

// persist stores the derivative even when the request has gone away, but
// never for longer than the generation timeout.
func (d *derivativeCache) persist(ctx context.Context, key string, out []byte) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()
	return d.store.Put(ctx, key, bytes.NewReader(out), int64(len(out)), thumbnail.ContentType)
}
