package memory

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"event-photo-backend/internal/storage"
)

func newServedStore(t *testing.T) *Store {
	t.Helper()
	store := New("", []byte("secret"))
	server := httptest.NewServer(http.StripPrefix("/blob", store.Handler()))
	t.Cleanup(server.Close)
	store.SetBaseURL(server.URL + "/blob")
	return store
}

func TestPutGetListDelete(t *testing.T) {
	store := New("http://localhost/blob", []byte("secret"))
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "events/1/photos/b.jpg", strings.NewReader("bb"), 2, "image/jpeg"))
	require.NoError(t, store.Put(ctx, "events/1/photos/a.jpg", strings.NewReader("a"), 1, "image/jpeg"))
	require.NoError(t, store.Put(ctx, "events/2/photos/c.jpg", strings.NewReader("c"), 1, "image/jpeg"))

	listed, err := store.List(ctx, "events/1/")
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, "events/1/photos/a.jpg", listed[0].Key)

	obj, err := store.Get(ctx, "events/1/photos/b.jpg")
	require.NoError(t, err)
	data, _ := io.ReadAll(obj.Body)
	assert.Equal(t, "bb", string(data))
	assert.Equal(t, int64(2), obj.Info.Size)

	require.NoError(t, store.Delete(ctx, "events/1/photos/b.jpg"))
	_, err = store.Head(ctx, "events/1/photos/b.jpg")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	require.NoError(t, store.Delete(ctx, "events/1/photos/b.jpg"))
}

func TestSignedPutThenGet(t *testing.T) {
	store := newServedStore(t)
	ctx := context.Background()
	key := "events/5/photos/1-x.jpg"

	putURL, err := store.SignPut(ctx, key, "image/jpeg", time.Minute)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPut, putURL, bytes.NewReader([]byte("pixels")))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "image/jpeg")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	getURL, err := store.SignGet(ctx, key, time.Minute, storage.SignGetOptions{ContentDisposition: `attachment; filename="x.jpg"`})
	require.NoError(t, err)
	resp, err = http.Get(getURL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "pixels", string(body))
	assert.Equal(t, `attachment; filename="x.jpg"`, resp.Header.Get("Content-Disposition"))
}

func TestSignedURLRejectsTamperingAndExpiry(t *testing.T) {
	store := newServedStore(t)
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "events/1/photos/a.jpg", strings.NewReader("a"), 1, "image/jpeg"))

	getURL, err := store.SignGet(ctx, "events/1/photos/a.jpg", time.Minute, storage.SignGetOptions{})
	require.NoError(t, err)

	resp, err := http.Get(strings.Replace(getURL, "a.jpg", "b.jpg", 1))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	putURL, err := store.SignPut(ctx, "events/1/photos/c.jpg", "image/png", time.Minute)
	require.NoError(t, err)
	req, _ := http.NewRequest(http.MethodPut, putURL, strings.NewReader("c"))
	req.Header.Set("Content-Type", "image/jpeg")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	store.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	resp, err = http.Get(getURL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
