// Package storage defines the object store capability shared by every driver
// together with the key and locator conventions for photos and derivatives.
package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound indicates the requested object is missing.
var ErrNotFound = errors.New("storage: not found")

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// Object is a streamed object body with its metadata. Callers must close Body.
type Object struct {
	Body io.ReadCloser
	Info ObjectInfo
}

// SignGetOptions carries response overrides baked into a signed GET URL.
type SignGetOptions struct {
	ContentDisposition string
}

// Store is the uniform capability over a remote bucket.
type Store interface {
	// Put uploads body under key. size may be -1 when unknown.
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	// Get streams the object stored under key.
	Get(ctx context.Context, key string) (*Object, error)
	// Head returns object metadata or ErrNotFound.
	Head(ctx context.Context, key string) (ObjectInfo, error)
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// List enumerates every object whose key starts with prefix.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	// SignPut returns a URL allowing a single direct PUT of key until ttl elapses.
	SignPut(ctx context.Context, key, contentType string, ttl time.Duration) (string, error)
	// SignGet returns a URL allowing direct GETs of key until ttl elapses.
	SignGet(ctx context.Context, key string, ttl time.Duration, opts SignGetOptions) (string, error)
}

