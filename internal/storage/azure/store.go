// Package azure implements storage.Store on Azure Blob Storage.
package azure

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/sas"

	"event-photo-backend/internal/storage"
)

// Config controls connectivity to Azure Blob Storage.
type Config struct {
	Account    string
	AccountKey string
	Endpoint   string
	Container  string
}

// Store implements storage.Store backed by a blob container.
type Store struct {
	client    *azblob.Client
	cred      *azblob.SharedKeyCredential
	container string
}

var _ storage.Store = (*Store)(nil)

// New constructs a Store. No network calls are made.
func New(cfg Config) (*Store, error) {
	if cfg.Account == "" {
		return nil, fmt.Errorf("azure: account is required")
	}
	if cfg.Container == "" {
		return nil, fmt.Errorf("azure: container is required")
	}
	if cfg.AccountKey == "" {
		return nil, fmt.Errorf("azure: account key is required")
	}
	endpoint := strings.TrimSuffix(cfg.Endpoint, "/")
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://%s.blob.core.windows.net", cfg.Account)
	}
	cred, err := azblob.NewSharedKeyCredential(cfg.Account, cfg.AccountKey)
	if err != nil {
		return nil, fmt.Errorf("azure: build credentials: %w", err)
	}
	client, err := azblob.NewClientWithSharedKeyCredential(endpoint, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("azure: create client: %w", err)
	}
	return &Store{client: client, cred: cred, container: cfg.Container}, nil
}

// EnsureContainer creates the container when it does not exist yet.
func (s *Store) EnsureContainer(ctx context.Context) error {
	_, err := s.client.CreateContainer(ctx, s.container, nil)
	if err != nil && !isContainerExists(err) {
		return fmt.Errorf("azure: create container: %w", err)
	}
	return nil
}

func (s *Store) blobClient(key string) *blob.Client {
	return s.client.ServiceClient().NewContainerClient(s.container).NewBlobClient(key)
}

// Put uploads body under key.
func (s *Store) Put(ctx context.Context, key string, body io.Reader, _ int64, contentType string) error {
	_, err := s.client.UploadStream(ctx, s.container, key, body, &azblob.UploadStreamOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: to.Ptr(contentType)},
	})
	if err != nil {
		return fmt.Errorf("azure: put %s: %w", key, err)
	}
	return nil
}

// Get streams the blob stored under key.
func (s *Store) Get(ctx context.Context, key string) (*storage.Object, error) {
	resp, err := s.client.DownloadStream(ctx, s.container, key, nil)
	if err != nil {
		if isNotFound(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("azure: get %s: %w", key, err)
	}
	info := storage.ObjectInfo{Key: key}
	if resp.ContentLength != nil {
		info.Size = *resp.ContentLength
	}
	if resp.ContentType != nil {
		info.ContentType = *resp.ContentType
	}
	if resp.LastModified != nil {
		info.LastModified = *resp.LastModified
	}
	return &storage.Object{Body: resp.Body, Info: info}, nil
}

// Head returns blob properties for key.
func (s *Store) Head(ctx context.Context, key string) (storage.ObjectInfo, error) {
	props, err := s.blobClient(key).GetProperties(ctx, nil)
	if err != nil {
		if isNotFound(err) {
			return storage.ObjectInfo{}, storage.ErrNotFound
		}
		return storage.ObjectInfo{}, fmt.Errorf("azure: head %s: %w", key, err)
	}
	info := storage.ObjectInfo{Key: key}
	if props.ContentLength != nil {
		info.Size = *props.ContentLength
	}
	if props.ContentType != nil {
		info.ContentType = *props.ContentType
	}
	if props.LastModified != nil {
		info.LastModified = *props.LastModified
	}
	return info, nil
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteBlob(ctx, s.container, key, nil)
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("azure: delete %s: %w", key, err)
	}
	return nil
}

// List enumerates blobs under prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	pager := s.client.NewListBlobsFlatPager(s.container, &azblob.ListBlobsFlatOptions{Prefix: &prefix})
	var out []storage.ObjectInfo
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("azure: list %s: %w", prefix, err)
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name == nil {
				continue
			}
			info := storage.ObjectInfo{Key: *item.Name}
			if item.Properties != nil {
				if item.Properties.ContentLength != nil {
					info.Size = *item.Properties.ContentLength
				}
				if item.Properties.ContentType != nil {
					info.ContentType = *item.Properties.ContentType
				}
				if item.Properties.LastModified != nil {
					info.LastModified = *item.Properties.LastModified
				}
			}
			out = append(out, info)
		}
	}
	return out, nil
}

// SignPut issues a blob SAS allowing a single create of key.
func (s *Store) SignPut(_ context.Context, key, contentType string, ttl time.Duration) (string, error) {
	perms := sas.BlobPermissions{Create: true, Write: true}
	return s.sign(key, ttl, sas.BlobSignatureValues{
		Permissions: perms.String(),
		ContentType: contentType,
	})
}

// SignGet issues a read-only blob SAS for key.
func (s *Store) SignGet(_ context.Context, key string, ttl time.Duration, opts storage.SignGetOptions) (string, error) {
	perms := sas.BlobPermissions{Read: true}
	return s.sign(key, ttl, sas.BlobSignatureValues{
		Permissions:        perms.String(),
		ContentDisposition: opts.ContentDisposition,
	})
}

func (s *Store) sign(key string, ttl time.Duration, values sas.BlobSignatureValues) (string, error) {
	values.Protocol = sas.ProtocolHTTPSandHTTP
	values.ExpiryTime = time.Now().UTC().Add(ttl)
	values.ContainerName = s.container
	values.BlobName = key
	params, err := values.SignWithSharedKey(s.cred)
	if err != nil {
		return "", fmt.Errorf("azure: sign %s: %w", key, err)
	}
	return s.blobClient(key).URL() + "?" + params.Encode(), nil
}

func isNotFound(err error) bool {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode == http.StatusNotFound
	}
	return false
}

func isContainerExists(err error) bool {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode == http.StatusConflict && strings.EqualFold(respErr.ErrorCode, "ContainerAlreadyExists")
	}
	return false
}
