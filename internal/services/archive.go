package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"event-photo-backend/internal/access"
	"event-photo-backend/internal/cache"
	"event-photo-backend/internal/models"
	"event-photo-backend/internal/storage"
	"event-photo-backend/internal/workpool"
)

// ArchiveConfig tunes bulk downloads.
type ArchiveConfig struct {
	Workers      int
	MaxItems     int
	FetchTimeout time.Duration
	SignTTL      time.Duration
	RateLimit    cache.RateLimit
	LocalDir     string
	HTTPClient   *http.Client
}

// ArchiveRequest asks for a zip of photos.
type ArchiveRequest struct {
	PhotoIDs []int64
	Caller   Caller
	ClientIP string
}

// ArchiveEntry is one authorized archive member. Exactly one of URL and
// LocalPath is set.
type ArchiveEntry struct {
	PhotoID   int64
	Name      string
	Size      int64
	Modified  time.Time
	URL       string
	LocalPath string
}

// ArchivePlan lists the members of an archive in request order.
type ArchivePlan struct {
	Entries    []ArchiveEntry
	TotalBytes int64
}

var (
	// ErrMemberStalled reports an archive member whose upstream stopped
	// sending for longer than FetchTimeout.
	ErrMemberStalled = errors.New("archive member stalled")
	// ErrMemberFailed reports a member that failed after its zip header was
	// written. The archive cannot be completed.
	ErrMemberFailed = errors.New("archive member failed mid-stream")
)

// ArchiveService authorizes and streams bulk photo downloads.
type ArchiveService struct {
	events  EventRepository
	photos  PhotoRepository
	store   storage.Store
	access  *access.Evaluator
	limiter RateLimiter
	client  *http.Client
	cfg     ArchiveConfig
}

// NewArchiveService creates a new archive service
func NewArchiveService(events EventRepository, photos PhotoRepository, store storage.Store, evaluator *access.Evaluator, limiter RateLimiter, cfg ArchiveConfig) *ArchiveService {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = 500
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 60 * time.Second
	}
	if cfg.SignTTL <= 0 {
		cfg.SignTTL = 10 * time.Minute
	}
	if cfg.RateLimit.Max <= 0 {
		cfg.RateLimit = cache.RateLimit{Max: 10, Window: 10 * time.Minute}
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	return &ArchiveService{
		events:  events,
		photos:  photos,
		store:   store,
		access:  evaluator,
		limiter: limiter,
		client:  client,
		cfg:     cfg,
	}
}

func bulkDownloadKey(ip string) string {
	return "bulkdl:photos:" + ip
}

// Plan rate-limits the caller, authorizes every photo on its own and returns
// the members the caller may download. Unauthorized or unresolvable photos
// are skipped.
func (s *ArchiveService) Plan(ctx context.Context, req ArchiveRequest) (*ArchivePlan, error) {
	ctx, span := tracer.Start(ctx, "archive.Plan", trace.WithAttributes(attribute.Int("photos.requested", len(req.PhotoIDs))))
	defer span.End()

	if err := s.allow(ctx, req.ClientIP); err != nil {
		return nil, err
	}

	ids := uniqueIDs(req.PhotoIDs)
	if len(ids) == 0 {
		return nil, invalid("no photo ids provided")
	}
	if len(ids) > s.cfg.MaxItems {
		return nil, invalid(fmt.Sprintf("at most %d photos per download", s.cfg.MaxItems))
	}

	decisions := newEventDecisions(s.events, s.access, req.Caller)
	slots, err := workpool.Map(ctx, ids, s.cfg.Workers, func(ctx context.Context, id int64) (*ArchiveEntry, error) {
		entry, err := s.resolve(ctx, id, decisions)
		if err != nil {
			log.Debug().Err(err).Int64("photo_id", id).Msg("Skipping photo in bulk download")
			return nil, nil
		}
		return entry, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to resolve photos: %w", err)
	}

	plan := &ArchivePlan{}
	for _, e := range slots {
		if e == nil {
			continue
		}
		plan.Entries = append(plan.Entries, *e)
		plan.TotalBytes += e.Size
	}
	if len(plan.Entries) == 0 {
		return nil, forbidden("no photos available for download")
	}
	span.SetAttributes(attribute.Int("photos.authorized", len(plan.Entries)))
	return plan, nil
}

func (s *ArchiveService) allow(ctx context.Context, ip string) error {
	if s.limiter == nil {
		return nil
	}
	if ip == "" {
		ip = "unknown"
	}
	err := s.limiter.Allow(ctx, bulkDownloadKey(ip), s.cfg.RateLimit)
	if err == nil {
		return nil
	}
	var limitErr *cache.LimitError
	if errors.As(err, &limitErr) {
		metrics.add(ctx, metrics.rateLimitDenied, 1)
		return &RateLimitedError{RetryAfter: limitErr.RetryAfter}
	}
	log.Warn().Err(err).Str("ip", ip).Msg("Rate limiter unavailable, allowing bulk download")
	return nil
}

func (s *ArchiveService) resolve(ctx context.Context, photoID int64, decisions *eventDecisions) (*ArchiveEntry, error) {
	photo, err := s.photos.GetByID(ctx, photoID)
	if err != nil {
		return nil, err
	}
	event, allowed, err := decisions.get(ctx, photo.EventID)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, ErrForbidden
	}
	if !photo.IsApproved && !s.access.CanManage(ctx, event, decisions.caller.requester(event)) {
		return nil, ErrForbidden
	}

	entry := &ArchiveEntry{
		PhotoID:  photo.ID,
		Name:     archiveName(photo),
		Size:     photo.FileSize,
		Modified: photo.UploadedAt,
	}
	key, isObject := storage.ParseLocator(photo.FilePath)
	if !isObject {
		local, err := localPath(s.cfg.LocalDir, key)
		if err != nil {
			return nil, err
		}
		entry.LocalPath = local
		return entry, nil
	}
	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": entry.Name})
	if disposition == "" {
		disposition = "attachment"
	}
	url, err := s.store.SignGet(ctx, key, s.cfg.SignTTL, storage.SignGetOptions{ContentDisposition: disposition})
	if err != nil {
		return nil, fmt.Errorf("failed to sign download URL: %w", err)
	}
	entry.URL = url
	return entry, nil
}

// Stream writes plan as a store-only zip to w. Members are fetched ahead of
// the writer by up to Workers requests and written in plan order. A member
// that cannot be opened is skipped. A member whose body fails after its
// header was written aborts the archive with ErrMemberFailed, leaving it
// without a central directory.
func (s *ArchiveService) Stream(ctx context.Context, w io.Writer, plan *ArchivePlan) error {
	ctx, span := tracer.Start(ctx, "archive.Stream", trace.WithAttributes(attribute.Int("archive.entries", len(plan.Entries))))
	defer span.End()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]chan fetchResult, len(plan.Entries))
	for i := range results {
		results[i] = make(chan fetchResult, 1)
	}
	sem := make(chan struct{}, s.cfg.Workers)
	go func() {
		for i, entry := range plan.Entries {
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				for j := i; j < len(results); j++ {
					results[j] <- fetchResult{err: ctx.Err()}
				}
				return
			}
			go func() {
				res := s.open(ctx, entry)
				res.held = true
				results[i] <- res
			}()
		}
	}()

	release := func(res fetchResult) {
		if res.held {
			<-sem
		}
	}

	zw := zip.NewWriter(w)
	names := make(map[string]struct{})
	written := 0
	for i, entry := range plan.Entries {
		if err := ctx.Err(); err != nil {
			drain(results[i:])
			return err
		}
		res := <-results[i]
		if res.err != nil {
			release(res)
			log.Warn().Err(res.err).Int64("photo_id", entry.PhotoID).Msg("Skipping archive member")
			continue
		}

		dst, err := zw.CreateHeader(&zip.FileHeader{
			Name:     uniqueName(names, entry.Name),
			Method:   zip.Store,
			Modified: entry.Modified,
		})
		if err != nil {
			res.body.Close()
			drain(results[i+1:])
			return fmt.Errorf("failed to write archive header: %w", err)
		}
		out := &trackingWriter{w: dst}
		_, err = io.Copy(out, res.body)
		res.body.Close()
		release(res)
		if out.err != nil {
			drain(results[i+1:])
			return fmt.Errorf("failed to write archive: %w", out.err)
		}
		if err != nil {
			drain(results[i+1:])
			return fmt.Errorf("%w: photo %d: %w", ErrMemberFailed, entry.PhotoID, err)
		}
		written++
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finish archive: %w", err)
	}
	metrics.add(ctx, metrics.archiveEntries, written)
	span.SetAttributes(attribute.Int("archive.written", written))
	return nil
}

// fetchResult is a member being fetched. held marks results that occupy a
// prefetch slot.
type fetchResult struct {
	body io.ReadCloser
	err  error
	held bool
}

// open starts fetching entry. FetchTimeout bounds the wait for response
// headers and then each individual body read, so time spent queued behind
// earlier members or blocked on a slow client does not count against it.
func (s *ArchiveService) open(ctx context.Context, entry ArchiveEntry) fetchResult {
	if entry.LocalPath != "" {
		f, err := os.Open(entry.LocalPath)
		if err != nil {
			return fetchResult{err: fmt.Errorf("failed to open local file: %w", err)}
		}
		return fetchResult{body: f}
	}

	ctx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, entry.URL, nil)
	if err != nil {
		cancel()
		return fetchResult{err: err}
	}
	headers := time.AfterFunc(s.cfg.FetchTimeout, cancel)
	resp, err := s.client.Do(req)
	if !headers.Stop() {
		if err == nil {
			resp.Body.Close()
		}
		cancel()
		return fetchResult{err: fmt.Errorf("%w: no response within %s", ErrMemberStalled, s.cfg.FetchTimeout)}
	}
	if err != nil {
		cancel()
		return fetchResult{err: fmt.Errorf("failed to fetch object: %w", err)}
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return fetchResult{err: fmt.Errorf("failed to fetch object: status %d", resp.StatusCode)}
	}
	return fetchResult{body: &stallBody{ReadCloser: resp.Body, cancel: cancel, timeout: s.cfg.FetchTimeout}}
}

// drain closes bodies that were fetched but will never be written.
func drain(pending []chan fetchResult) {
	for _, ch := range pending {
		go func() {
			if res := <-ch; res.body != nil {
				res.body.Close()
			}
		}()
	}
}

// stallBody cancels its fetch when a single Read waits longer than timeout.
type stallBody struct {
	io.ReadCloser
	cancel  context.CancelFunc
	timeout time.Duration
	stalled atomic.Bool
}

func (b *stallBody) Read(p []byte) (int, error) {
	t := time.AfterFunc(b.timeout, func() {
		b.stalled.Store(true)
		b.cancel()
	})
	n, err := b.ReadCloser.Read(p)
	t.Stop()
	if err != nil && err != io.EOF && b.stalled.Load() {
		err = fmt.Errorf("%w: no data for %s", ErrMemberStalled, b.timeout)
	}
	return n, err
}

func (b *stallBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

type trackingWriter struct {
	w   io.Writer
	err error
}

func (t *trackingWriter) Write(p []byte) (int, error) {
	n, err := t.w.Write(p)
	if err != nil {
		t.err = err
	}
	return n, err
}

// eventDecisions memoizes the access decision per event for one caller.
type eventDecisions struct {
	events EventRepository
	access *access.Evaluator
	caller Caller

	mu      sync.Mutex
	entries map[int64]*eventDecision
}

type eventDecision struct {
	once    sync.Once
	event   *models.Event
	allowed bool
	err     error
}

func newEventDecisions(events EventRepository, evaluator *access.Evaluator, caller Caller) *eventDecisions {
	return &eventDecisions{
		events:  events,
		access:  evaluator,
		caller:  caller,
		entries: make(map[int64]*eventDecision),
	}
}

func (d *eventDecisions) get(ctx context.Context, eventID int64) (*models.Event, bool, error) {
	d.mu.Lock()
	entry, ok := d.entries[eventID]
	if !ok {
		entry = &eventDecision{}
		d.entries[eventID] = entry
	}
	d.mu.Unlock()

	entry.once.Do(func() {
		event, err := d.events.GetByID(ctx, eventID)
		if err != nil {
			entry.err = err
			return
		}
		entry.event = event
		entry.allowed = d.access.CanAccess(ctx, event, d.caller.requester(event))
	})
	return entry.event, entry.allowed, entry.err
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id <= 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func archiveName(photo *models.Photo) string {
	name := path.Base(strings.ReplaceAll(strings.TrimSpace(photo.OriginalFilename), `\`, "/"))
	if name == "" || name == "." || name == "/" || name == ".." {
		return "photo-" + strconv.FormatInt(photo.ID, 10) + ".jpg"
	}
	return name
}

// uniqueName returns name, or name with a " (n)" suffix when already used.
func uniqueName(used map[string]struct{}, name string) string {
	if _, ok := used[name]; !ok {
		used[name] = struct{}{}
		return name
	}
	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s (%d)%s", stem, n, ext)
		if _, ok := used[candidate]; !ok {
			used[candidate] = struct{}{}
			return candidate
		}
	}
}

// localPath resolves a legacy file path inside dir.
func localPath(dir, rel string) (string, error) {
	if dir == "" {
		return "", fmt.Errorf("%w: local storage is not configured", ErrNotFound)
	}
	clean := filepath.Clean("/" + filepath.FromSlash(rel))
	return filepath.Join(dir, clean), nil
}
