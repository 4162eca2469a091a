package azure

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"event-photo-backend/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(Config{
		Account:    "devaccount",
		AccountKey: base64.StdEncoding.EncodeToString([]byte("not-a-real-key")),
		Container:  "photos",
	})
	require.NoError(t, err)
	return store
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{Container: "photos", AccountKey: "a2V5"})
	require.Error(t, err)
	_, err = New(Config{Account: "dev", AccountKey: "a2V5"})
	require.Error(t, err)
	_, err = New(Config{Account: "dev", Container: "photos"})
	require.Error(t, err)
}

func TestSignGetIncludesDisposition(t *testing.T) {
	store := newTestStore(t)

	raw, err := store.SignGet(context.Background(), "events/3/photos/a.jpg", time.Hour, storage.SignGetOptions{
		ContentDisposition: `attachment; filename="a.jpg"`,
	})
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "devaccount.blob.core.windows.net", u.Host)
	assert.Equal(t, "/photos/events/3/photos/a.jpg", u.Path)
	assert.Equal(t, "r", u.Query().Get("sp"))
	assert.Equal(t, `attachment; filename="a.jpg"`, u.Query().Get("rscd"))
	assert.NotEmpty(t, u.Query().Get("sig"))
}

func TestSignPutGrantsCreate(t *testing.T) {
	store := newTestStore(t)

	raw, err := store.SignPut(context.Background(), "events/3/photos/b.jpg", "image/jpeg", 15*time.Minute)
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "cw", u.Query().Get("sp"))
	assert.Equal(t, "image/jpeg", u.Query().Get("rsct"))
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, isNotFound(&azcore.ResponseError{StatusCode: http.StatusNotFound}))
	assert.False(t, isNotFound(&azcore.ResponseError{StatusCode: http.StatusForbidden}))
	assert.False(t, isNotFound(errors.New("boom")))
	assert.True(t, isContainerExists(&azcore.ResponseError{StatusCode: http.StatusConflict, ErrorCode: "ContainerAlreadyExists"}))
}
