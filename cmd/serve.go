package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"event-photo-backend/internal/access"
	"event-photo-backend/internal/cache"
	"event-photo-backend/internal/config"
	"event-photo-backend/internal/handlers"
	"event-photo-backend/internal/middleware"
	"event-photo-backend/internal/notify"
	"event-photo-backend/internal/plans"
	"event-photo-backend/internal/repository"
	"event-photo-backend/internal/services"
	"event-photo-backend/internal/telemetry"
	"event-photo-backend/internal/thumbnail"
)

const shutdownTimeout = 15 * time.Second

func runServe(ctx context.Context, opts *rootOptions) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	maxBody, err := cfg.Server.MaxBodyBytes()
	if err != nil {
		return err
	}
	cfg.WatchLogLevel(setLogLevel)

	tel, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:   "eventpix",
		OTLPEndpoint:  cfg.Telemetry.OTLPEndpoint,
		MetricsListen: cfg.Telemetry.MetricsListen,
	})
	if err != nil {
		return fmt.Errorf("failed to set up telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			log.Error().Err(err).Msg("Failed to flush telemetry")
		}
	}()
	if addr := tel.MetricsAddr(); addr != "" {
		log.Info().Str("addr", addr).Msg("Serving Prometheus metrics")
	}

	// Connect to database
	db, err := repository.Connect(ctx, cfg.Database.DSN(), cfg.Database.MaxConns)
	if err != nil {
		return err
	}
	defer db.Close()
	log.Info().Msg("Database connection established")

	rdb, err := cache.Connect(ctx, cfg.Redis.URL)
	if err != nil {
		return err
	}
	defer rdb.Close()
	log.Info().Msg("Redis connection established")

	store, blob, err := openObjectStore(ctx, cfg)
	if err != nil {
		return err
	}
	log.Info().Str("driver", cfg.Storage.Driver).Str("bucket", cfg.Storage.Bucket).Msg("Object store ready")

	// Initialize repositories
	userRepo := repository.NewUserRepository(db)
	eventRepo := repository.NewEventRepository(db)
	photoRepo := repository.NewPhotoRepository(db)
	memberRepo := repository.NewMemberRepository(db)

	evaluator := access.NewEvaluator(memberRepo)
	versioned := cache.NewVersioned(rdb)
	hub := services.NewWSHub()
	defer hub.Close()

	// Initialize services
	userService := services.NewUserService(userRepo, cfg.JWT.Secret)
	uploadService := services.NewUploadService(eventRepo, photoRepo, userRepo, store, evaluator, plans.Default(), versioned, services.UploadConfig{
		HostConcurrency:  cfg.Uploads.HostConcurrency,
		GuestConcurrency: cfg.Uploads.GuestConcurrency,
		GrantTTL:         cfg.Storage.PresignTTL,
		VerifyOnFinalize: cfg.Uploads.VerifyOnFinalize,
	})
	uploadService.SetBroadcaster(hub)
	notifier, err := newNotifier(cfg.APNs)
	if err != nil {
		return err
	}
	if notifier != nil {
		uploadService.SetNotifier(notifier)
		log.Info().Str("topic", cfg.APNs.Topic).Bool("production", cfg.APNs.Production).Msg("Push notifications enabled")
	}

	galleryService := services.NewGalleryService(eventRepo, photoRepo, store, evaluator, versioned, services.GalleryConfig{
		ListTTL:     cfg.Cache.ListTTL,
		OriginalTTL: cfg.Storage.PresignTTL,
		LocalDir:    cfg.Storage.LocalDir,
	})
	galleryService.SetBroadcaster(hub)

	eventService := services.NewEventService(eventRepo, memberRepo, store, evaluator, cache.NewGuard(rdb), versioned, services.EventConfig{
		GuardTTL: cfg.Events.CreateGuardTTL,
		ListTTL:  cfg.Cache.ListTTL,
	})
	thumbService := services.NewThumbnailService(eventRepo, photoRepo, store, evaluator, services.ThumbnailConfig{
		Options: thumbnail.Options{
			MaxWidth:  cfg.Thumbnails.Width,
			MaxHeight: cfg.Thumbnails.Height,
			Quality:   cfg.Thumbnails.Quality,
		},
		Timeout: cfg.Thumbnails.Timeout,
	})
	archiveService := services.NewArchiveService(eventRepo, photoRepo, store, evaluator, cache.NewRateLimiter(rdb), services.ArchiveConfig{
		Workers:      cfg.Archive.Workers,
		MaxItems:     cfg.Archive.MaxItems,
		FetchTimeout: cfg.Archive.FetchTimeout,
		SignTTL:      cfg.Storage.PresignTTL,
		RateLimit:    cache.RateLimit{Max: int(cfg.Archive.RateLimitMax), Window: cfg.Archive.RateLimitWindow},
		LocalDir:     cfg.Storage.LocalDir,
	})

	api := &handlers.API{
		Users:     handlers.NewUserHandler(userService),
		Events:    handlers.NewEventHandler(eventService, galleryService),
		Uploads:   handlers.NewUploadHandler(uploadService),
		Photos:    handlers.NewPhotoHandler(thumbService, galleryService, archiveService),
		WebSocket: handlers.NewWebSocketHandler(hub, eventService, userService),
		Auth:      userService,
	}

	// Setup router
	trustedProxies, err := cfg.Server.TrustedProxyPrefixes()
	if err != nil {
		return err
	}
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(middleware.TrustedRealIP(trustedProxies))
	r.Use(middleware.RequestLogger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(corsMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		if err := rdb.Ping(r.Context()).Err(); err != nil {
			http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	if blob != nil {
		r.Mount(blobPrefix, http.StripPrefix(blobPrefix, blob))
	}
	// The body cap applies to API calls only; blob PUTs carry whole photos
	r.Group(func(r chi.Router) {
		r.Use(chiMiddleware.RequestSize(maxBody))
		api.Mount(r)
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      otelhttp.NewHandler(r, "eventpix"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("host", cfg.Server.Host).
			Int("port", cfg.Server.Port).
			Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down server...")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Viewers first, so hijacked connections do not hold up Shutdown
	hub.Close()
	if err := srv.Shutdown(sctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited")
	return nil
}

// newNotifier returns nil when push notifications are not configured
func newNotifier(cfg config.APNsConfig) (services.Notifier, error) {
	nc := notify.Config{
		CertPath:     cfg.CertPath,
		CertPassword: cfg.CertPassword,
		KeyPath:      cfg.KeyPath,
		KeyID:        cfg.KeyID,
		TeamID:       cfg.TeamID,
		Topic:        cfg.Topic,
		Production:   cfg.Production,
	}
	if !nc.Enabled() {
		return nil, nil
	}
	n, err := notify.NewAPNs(nc)
	if err != nil {
		return nil, fmt.Errorf("failed to set up push notifications: %w", err)
	}
	return n, nil
}
