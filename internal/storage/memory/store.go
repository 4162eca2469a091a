// Package memory provides an in-process storage.Store whose signed URLs are
// served by the store's own HTTP handler. Used for development and tests.
package memory

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"event-photo-backend/internal/storage"
)

type object struct {
	data        []byte
	contentType string
	modified    time.Time
}

// Store keeps objects in a map guarded by a mutex.
type Store struct {
	mu      sync.RWMutex
	objects map[string]object
	secret  []byte
	baseURL string
	now     func() time.Time
}

var _ storage.Store = (*Store)(nil)

// New returns an empty store that signs URLs rooted at baseURL with secret.
func New(baseURL string, secret []byte) *Store {
	return &Store{
		objects: make(map[string]object),
		secret:  secret,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		now:     time.Now,
	}
}

// SetBaseURL changes the root of signed URLs.
func (s *Store) SetBaseURL(baseURL string) {
	s.mu.Lock()
	s.baseURL = strings.TrimSuffix(baseURL, "/")
	s.mu.Unlock()
}

// Put stores a copy of body under key.
func (s *Store) Put(ctx context.Context, key string, body io.Reader, _ int64, contentType string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("memory: read body: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.objects[key] = object{data: data, contentType: contentType, modified: s.now()}
	s.mu.Unlock()
	return nil
}

// Get returns a reader over the object stored under key.
func (s *Store) Get(_ context.Context, key string) (*storage.Object, error) {
	s.mu.RLock()
	obj, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &storage.Object{
		Body: io.NopCloser(bytes.NewReader(obj.data)),
		Info: info(key, obj),
	}, nil
}

// Head returns metadata for key.
func (s *Store) Head(_ context.Context, key string) (storage.ObjectInfo, error) {
	s.mu.RLock()
	obj, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return storage.ObjectInfo{}, storage.ErrNotFound
	}
	return info(key, obj), nil
}

// Delete removes key.
func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.objects, key)
	s.mu.Unlock()
	return nil
}

// List returns objects under prefix ordered by key.
func (s *Store) List(_ context.Context, prefix string) ([]storage.ObjectInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []storage.ObjectInfo
	for key, obj := range s.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, info(key, obj))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// SignPut returns a URL accepted by Handler for one PUT of key.
func (s *Store) SignPut(_ context.Context, key, contentType string, ttl time.Duration) (string, error) {
	return s.signedURL(http.MethodPut, key, ttl, url.Values{"ct": []string{contentType}}), nil
}

// SignGet returns a URL accepted by Handler for GETs of key.
func (s *Store) SignGet(_ context.Context, key string, ttl time.Duration, opts storage.SignGetOptions) (string, error) {
	extra := url.Values{}
	if opts.ContentDisposition != "" {
		extra.Set("rscd", opts.ContentDisposition)
	}
	return s.signedURL(http.MethodGet, key, ttl, extra), nil
}

func (s *Store) signedURL(method, key string, ttl time.Duration, params url.Values) string {
	params.Set("exp", strconv.FormatInt(s.now().Add(ttl).Unix(), 10))
	params.Set("sig", s.signature(method, key, params))
	s.mu.RLock()
	base := s.baseURL
	s.mu.RUnlock()
	return base + "/" + key + "?" + params.Encode()
}

func (s *Store) signature(method, key string, params url.Values) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s\n%s\n%s\n%s\n%s", method, key, params.Get("exp"), params.Get("ct"), params.Get("rscd"))
	return hex.EncodeToString(mac.Sum(nil))
}

// Handler serves signed URLs. Mount it with the base URL path stripped.
func (s *Store) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimPrefix(r.URL.Path, "/")
		q := r.URL.Query()
		exp, err := strconv.ParseInt(q.Get("exp"), 10, 64)
		if err != nil || s.now().Unix() > exp {
			http.Error(w, "expired", http.StatusForbidden)
			return
		}
		if !hmac.Equal([]byte(q.Get("sig")), []byte(s.signature(r.Method, key, q))) {
			http.Error(w, "bad signature", http.StatusForbidden)
			return
		}
		switch r.Method {
		case http.MethodPut:
			if ct := q.Get("ct"); ct != "" && r.Header.Get("Content-Type") != ct {
				http.Error(w, "content type mismatch", http.StatusForbidden)
				return
			}
			if err := s.Put(r.Context(), key, r.Body, r.ContentLength, q.Get("ct")); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			w.WriteHeader(http.StatusOK)
		case http.MethodGet:
			obj, err := s.Get(r.Context(), key)
			if err != nil {
				http.Error(w, "not found", http.StatusNotFound)
				return
			}
			defer obj.Body.Close()
			w.Header().Set("Content-Type", obj.Info.ContentType)
			w.Header().Set("Content-Length", strconv.FormatInt(obj.Info.Size, 10))
			if d := q.Get("rscd"); d != "" {
				w.Header().Set("Content-Disposition", d)
			}
			_, _ = io.Copy(w, obj.Body)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
}

func info(key string, obj object) storage.ObjectInfo {
	return storage.ObjectInfo{
		Key:          key,
		Size:         int64(len(obj.data)),
		ContentType:  obj.contentType,
		LastModified: obj.modified,
	}
}
