package testutil

import (
	"context"
	"io"
	"sync"
	"time"

	"event-photo-backend/internal/storage"
	"event-photo-backend/internal/storage/memory"
)

// RecordingStore wraps a memory store, counts calls per operation and can
// fail chosen operations.
type RecordingStore struct {
	*memory.Store

	// Fail maps an operation name (Put, Get, Head, Delete, List, SignPut,
	// SignGet) to the error it returns.
	Fail map[string]error

	mu     sync.Mutex
	calls  map[string]int
	keys   map[string][]string
	delays map[string]time.Duration
}

var _ storage.Store = (*RecordingStore)(nil)

// NewRecordingStore returns a RecordingStore over a fresh memory store whose
// signed URLs are rooted at baseURL.
func NewRecordingStore(baseURL string) *RecordingStore {
	return &RecordingStore{
		Store: memory.New(baseURL, []byte("test-secret")),
		Fail:  make(map[string]error),
		calls:  make(map[string]int),
		keys:   make(map[string][]string),
		delays: make(map[string]time.Duration),
	}
}

// record counts the call, then waits out any delay set for op. A delayed
// call gives up with ctx's error when ctx ends first.
func (s *RecordingStore) record(ctx context.Context, op, key string) error {
	s.mu.Lock()
	s.calls[op]++
	s.keys[op] = append(s.keys[op], key)
	fail, delay := s.Fail[op], s.delays[op]
	s.mu.Unlock()

	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fail
}

// Calls returns how often op was invoked.
func (s *RecordingStore) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// Keys returns the keys op was invoked with, in call order.
func (s *RecordingStore) Keys(op string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.keys[op]...)
}

// Reset clears the call counters.
func (s *RecordingStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = make(map[string]int)
	s.keys = make(map[string][]string)
}

// SetDelay makes op block for d before running. Zero clears the delay.
func (s *RecordingStore) SetDelay(op string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d <= 0 {
		delete(s.delays, op)
		return
	}
	s.delays[op] = d
}

// SetFail makes op return err. A nil err clears the failure.
func (s *RecordingStore) SetFail(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.Fail, op)
		return
	}
	s.Fail[op] = err
}

func (s *RecordingStore) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	if err := s.record(ctx, "Put", key); err != nil {
		return err
	}
	return s.Store.Put(ctx, key, body, size, contentType)
}

func (s *RecordingStore) Get(ctx context.Context, key string) (*storage.Object, error) {
	if err := s.record(ctx, "Get", key); err != nil {
		return nil, err
	}
	return s.Store.Get(ctx, key)
}

func (s *RecordingStore) Head(ctx context.Context, key string) (storage.ObjectInfo, error) {
	if err := s.record(ctx, "Head", key); err != nil {
		return storage.ObjectInfo{}, err
	}
	return s.Store.Head(ctx, key)
}

func (s *RecordingStore) Delete(ctx context.Context, key string) error {
	if err := s.record(ctx, "Delete", key); err != nil {
		return err
	}
	return s.Store.Delete(ctx, key)
}

func (s *RecordingStore) List(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	if err := s.record(ctx, "List", prefix); err != nil {
		return nil, err
	}
	return s.Store.List(ctx, prefix)
}

func (s *RecordingStore) SignPut(ctx context.Context, key, contentType string, ttl time.Duration) (string, error) {
	if err := s.record(ctx, "SignPut", key); err != nil {
		return "", err
	}
	return s.Store.SignPut(ctx, key, contentType, ttl)
}

func (s *RecordingStore) SignGet(ctx context.Context, key string, ttl time.Duration, opts storage.SignGetOptions) (string, error) {
	if err := s.record(ctx, "SignGet", key); err != nil {
		return "", err
	}
	return s.Store.SignGet(ctx, key, ttl, opts)
}
