package cmd

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"event-photo-backend/internal/config"
	"event-photo-backend/internal/storage"
	"event-photo-backend/internal/storage/aws"
	"event-photo-backend/internal/storage/azure"
	"event-photo-backend/internal/storage/memory"
	"event-photo-backend/internal/storage/minio"
)

// blobPrefix is where the memory driver serves its signed URLs
const blobPrefix = "/blob"

// openObjectStore builds the configured driver. The returned handler is
// non-nil only for the memory driver and must be mounted at blobPrefix.
func openObjectStore(ctx context.Context, cfg *config.Config) (storage.Store, http.Handler, error) {
	sc := cfg.Storage
	switch sc.Driver {
	case "aws":
		s, err := aws.New(ctx, aws.Config{
			Bucket:          sc.Bucket,
			Region:          sc.Region,
			Endpoint:        sc.Endpoint,
			AccessKeyID:     sc.AccessKey,
			SecretAccessKey: sc.SecretKey,
			ForcePathStyle:  sc.PathStyle,
			Insecure:        sc.DisableSSL,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open s3 store: %w", err)
		}
		return s, nil, nil
	case "minio":
		s, err := minio.New(minio.Config{
			Endpoint:        sc.Endpoint,
			Bucket:          sc.Bucket,
			Region:          sc.Region,
			AccessKeyID:     sc.AccessKey,
			SecretAccessKey: sc.SecretKey,
			ForcePathStyle:  sc.PathStyle,
			Insecure:        sc.DisableSSL,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open minio store: %w", err)
		}
		return s, nil, nil
	case "azure":
		// access_key is the storage account name, secret_key its shared key
		s, err := azure.New(azure.Config{
			Account:    sc.AccessKey,
			AccountKey: sc.SecretKey,
			Endpoint:   sc.Endpoint,
			Container:  sc.Bucket,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open azure store: %w", err)
		}
		return s, nil, nil
	case "memory":
		secret := sc.MemorySecret
		if secret == "" {
			secret = uuid.NewString()
			log.Warn().Msg("storage.memory_secret is empty, signed URLs will not survive a restart")
		}
		base := strings.TrimSuffix(cfg.Server.PublicBaseURL, "/") + blobPrefix
		s := memory.New(base, []byte(secret))
		return s, s.Handler(), nil
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", sc.Driver)
	}
}
