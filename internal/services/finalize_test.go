package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"event-photo-backend/internal/models"
)

func items(keys ...string) []FinalizeItem {
	out := make([]FinalizeItem, len(keys))
	for i, k := range keys {
		out[i] = FinalizeItem{Key: k, OriginalFilename: "IMG_" + k[len(k)-5:], MimeType: "image/jpeg", FileSize: 2048}
	}
	return out
}

func TestFinalizeCreatesApprovedPhotos(t *testing.T) {
	f := newFixture(t, privateEvent())
	s := f.uploads(UploadConfig{})

	res, err := s.Finalize(context.Background(), FinalizeRequest{
		EventID: 10,
		Caller:  host(ownerID),
		Items:   items("events/10/photos/1-a.jpg", "events/10/photos/2-b.jpg"),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Created)
	assert.Zero(t, res.Duplicates)
	assert.False(t, res.PendingApproval)
	assert.Len(t, res.PhotoIDs, 2)

	photos := f.photos.All()
	require.Len(t, photos, 2)
	for _, p := range photos {
		assert.True(t, p.IsApproved)
		require.NotNil(t, p.UploaderID)
		assert.Equal(t, ownerID, *p.UploaderID)
		assert.Nil(t, p.GuestName)
		assert.Contains(t, p.FilePath, "s3:events/10/photos/")
	}

	msgs := f.hub.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, MsgPhotosAdded, msgs[0].Type)
	assert.ElementsMatch(t, res.PhotoIDs, msgs[0].PhotoIDs)
}

func TestFinalizeRetryDoesNotDuplicate(t *testing.T) {
	f := newFixture(t, privateEvent())
	s := f.uploads(UploadConfig{})
	req := FinalizeRequest{
		EventID:   10,
		GuestName: "Ann",
		Caller:    Guest("SECRET12"),
		Items:     items("events/10/photos/1-a.jpg", "events/10/photos/2-b.jpg"),
	}

	first, err := s.Finalize(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Created)

	second, err := s.Finalize(context.Background(), req)
	require.NoError(t, err)
	assert.Zero(t, second.Created)
	assert.Equal(t, 2, second.Duplicates)

	paths := map[string]int{}
	for _, p := range f.photos.All() {
		paths[p.FilePath]++
		require.NotNil(t, p.GuestName)
		assert.Equal(t, "Ann", *p.GuestName)
		assert.Nil(t, p.UploaderID)
	}
	assert.Len(t, paths, 2)
	for path, n := range paths {
		assert.Equal(t, 1, n, path)
	}
}

func TestFinalizeGuestRules(t *testing.T) {
	closed := privateEvent()
	closed.ID = 11
	closed.AllowGuestUploads = false
	f := newFixture(t, privateEvent(), closed)
	s := f.uploads(UploadConfig{})
	ctx := context.Background()

	_, err := s.Finalize(ctx, FinalizeRequest{EventID: 10, Caller: Guest("SECRET12"), Items: items("events/10/photos/1-a.jpg")})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = s.Finalize(ctx, FinalizeRequest{EventID: 11, GuestName: "Ann", Caller: Guest("SECRET12"), Items: items("events/11/photos/1-a.jpg")})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = s.Finalize(ctx, FinalizeRequest{EventID: 10, GuestName: "Ann", Caller: Guest("nope"), Items: items("events/10/photos/1-a.jpg")})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = s.Finalize(ctx, FinalizeRequest{EventID: 404, GuestName: "Ann", Items: items("events/404/photos/1-a.jpg")})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Finalize(ctx, FinalizeRequest{EventID: 10, GuestName: "Ann", Caller: Guest("SECRET12")})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestFinalizeSkipsInvalidItems(t *testing.T) {
	f := newFixture(t, privateEvent())
	s := f.uploads(UploadConfig{})

	list := items("events/10/photos/1-a.jpg", "events/99/photos/2-b.jpg", "events/10/photos/thumbs/sm-a.jpg")
	list = append(list, FinalizeItem{Key: "events/10/photos/3-c.txt", MimeType: "text/plain", FileSize: 5})

	res, err := s.Finalize(context.Background(), FinalizeRequest{EventID: 10, Caller: host(ownerID), Items: list})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)

	_, err = s.Finalize(context.Background(), FinalizeRequest{EventID: 10, Caller: host(ownerID), Items: list[1:]})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestFinalizeFailsWhenNothingSaved(t *testing.T) {
	f := newFixture(t, privateEvent())
	f.photos.CreateErr = errors.New("db down")
	s := f.uploads(UploadConfig{})

	_, err := s.Finalize(context.Background(), FinalizeRequest{EventID: 10, Caller: host(ownerID), Items: items("events/10/photos/1-a.jpg")})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidInput)
	assert.Empty(t, f.hub.Messages())
}

func TestFinalizeRequireApprovalNotifiesOwner(t *testing.T) {
	event := privateEvent()
	event.RequireApproval = true
	f := newFixture(t, event)
	require.NoError(t, f.users.UpdatePushToken(context.Background(), ownerID, "device-token"))
	notifier := &recordingNotifier{}
	s := f.uploads(UploadConfig{})
	s.SetNotifier(notifier)

	res, err := s.Finalize(context.Background(), FinalizeRequest{
		EventID:   10,
		GuestName: "Ann",
		Caller:    Guest("SECRET12"),
		Items:     items("events/10/photos/1-a.jpg", "events/10/photos/2-b.jpg"),
	})
	require.NoError(t, err)
	assert.True(t, res.PendingApproval)
	for _, p := range f.photos.All() {
		assert.False(t, p.IsApproved)
	}
	assert.Empty(t, f.hub.Messages())

	assert.Eventually(t, func() bool { return len(notifier.Notices()) == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, pendingNotice{token: "device-token", event: "Wedding", count: 2}, notifier.Notices()[0])
}

func TestFinalizeVerifyOnFinalize(t *testing.T) {
	f := newFixture(t, privateEvent())
	s := f.uploads(UploadConfig{VerifyOnFinalize: true})
	ctx := context.Background()
	require.NoError(t, f.store.Put(ctx, "events/10/photos/1-a.jpg", bytes.NewReader([]byte("jpeg-bytes")), 10, "image/jpeg"))

	res, err := s.Finalize(ctx, FinalizeRequest{
		EventID: 10,
		Caller:  host(ownerID),
		Items:   items("events/10/photos/1-a.jpg", "events/10/photos/2-b.jpg"),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 2, f.store.Calls("Head"))

	photos := f.photos.All()
	require.Len(t, photos, 1)
	assert.Equal(t, int64(10), photos[0].FileSize)
}

func TestFinalizeInvalidatesGallery(t *testing.T) {
	f := newFixture(t, publicEvent())
	uploads := f.uploads(UploadConfig{})
	gallery := f.gallery()
	ctx := context.Background()

	g, err := gallery.ListGallery(ctx, 20, Caller{}, false)
	require.NoError(t, err)
	assert.Empty(t, g.Photos)

	_, err = uploads.Finalize(ctx, FinalizeRequest{EventID: 20, Caller: host(ownerID), Items: items("events/20/photos/1-a.jpg")})
	require.NoError(t, err)

	g, err = gallery.ListGallery(ctx, 20, Caller{}, false)
	require.NoError(t, err)
	require.Len(t, g.Photos, 1)
	assert.Equal(t, "IMG_a.jpg", g.Photos[0].OriginalFilename)
	assert.Equal(t, 2, f.photos.ListCalls)
}

func TestFinalizeContributorUsesAuthenticatedPath(t *testing.T) {
	event := privateEvent()
	event.AllowGuestUploads = false
	f := newFixture(t, event)
	f.members.Grant(10, 5, models.RoleContributor)
	s := f.uploads(UploadConfig{})

	res, err := s.Finalize(context.Background(), FinalizeRequest{EventID: 10, Caller: host(5), Items: items("events/10/photos/1-a.jpg")})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)

	_, err = s.Finalize(context.Background(), FinalizeRequest{EventID: 10, Caller: host(6), Items: items("events/10/photos/2-b.jpg")})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestFinalizeRechecksPhotoLimit(t *testing.T) {
	f := newFixture(t, privateEvent())
	s := f.uploads(UploadConfig{})
	ctx := context.Background()

	for i := 0; i < 99; i++ {
		_, err := f.photos.CreateIfAbsent(ctx, &models.Photo{
			EventID:    10,
			FilePath:   fmt.Sprintf("s3:events/10/photos/seed-%03d.jpg", i),
			IsApproved: true,
		})
		require.NoError(t, err)
	}

	req := FinalizeRequest{
		EventID: 10,
		Caller:  host(ownerID),
		Items:   items("events/10/photos/1-a.jpg", "events/10/photos/2-b.jpg", "events/10/photos/3-c.jpg"),
	}
	res, err := s.Finalize(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	assert.Zero(t, res.Duplicates)
	n, err := f.photos.CountByEvent(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 100, n)

	retry, err := s.Finalize(ctx, req)
	require.NoError(t, err)
	assert.Zero(t, retry.Created)
	assert.Equal(t, 1, retry.Duplicates)

	_, err = s.Finalize(ctx, FinalizeRequest{
		EventID: 10,
		Caller:  host(ownerID),
		Items:   items("events/10/photos/4-d.jpg"),
	})
	assert.ErrorIs(t, err, ErrCapacityExceeded)
	n, err = f.photos.CountByEvent(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 100, n)
}
