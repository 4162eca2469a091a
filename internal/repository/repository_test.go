package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"event-photo-backend/internal/models"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		mock.Close()
	})
	return mock
}

var eventCols = []string{"id", "name", "event_date", "event_code", "access_code", "is_public",
	"allow_guest_uploads", "require_approval", "owner_id", "created_at"}

func TestEventCreate(t *testing.T) {
	mock := newMock(t)
	repo := NewEventRepository(mock)
	now := time.Now()

	mock.ExpectQuery("INSERT INTO events").
		WithArgs("Wedding", pgxmock.AnyArg(), "ABC123", "SECRET12", false, true, false, int64(7)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow(int64(11), now))

	event := &models.Event{Name: "Wedding", EventCode: "ABC123", AccessCode: "SECRET12", AllowGuestUploads: true, OwnerID: 7}
	require.NoError(t, repo.Create(context.Background(), event))
	assert.Equal(t, int64(11), event.ID)
	assert.Equal(t, now, event.CreatedAt)
}

func TestEventCreateConflict(t *testing.T) {
	mock := newMock(t)
	repo := NewEventRepository(mock)

	mock.ExpectQuery("INSERT INTO events").
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err := repo.Create(context.Background(), &models.Event{Name: "x"})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestEventGetByID(t *testing.T) {
	mock := newMock(t)
	repo := NewEventRepository(mock)
	now := time.Now()

	mock.ExpectQuery("FROM events WHERE id = \\$1").
		WithArgs(int64(3)).
		WillReturnRows(pgxmock.NewRows(eventCols).
			AddRow(int64(3), "Party", now, "PARTY1", "CODE1234", true, false, true, int64(9), now))

	event, err := repo.GetByID(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, "Party", event.Name)
	assert.True(t, event.IsPublic)
	assert.True(t, event.RequireApproval)
	assert.Equal(t, int64(9), event.OwnerID)

	mock.ExpectQuery("FROM events WHERE id = \\$1").
		WithArgs(int64(4)).
		WillReturnError(pgx.ErrNoRows)
	_, err = repo.GetByID(context.Background(), 4)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEventListByOwner(t *testing.T) {
	mock := newMock(t)
	repo := NewEventRepository(mock)
	now := time.Now()

	mock.ExpectQuery("FROM events WHERE owner_id = \\$1").
		WithArgs(int64(9)).
		WillReturnRows(pgxmock.NewRows(eventCols).
			AddRow(int64(2), "B", now, "BBBBBB", "B1234567", false, true, false, int64(9), now).
			AddRow(int64(1), "A", now, "AAAAAA", "A1234567", false, true, false, int64(9), now))

	events, err := repo.ListByOwner(context.Background(), 9)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, int64(2), events[0].ID)
}

func TestEventFindRecentDuplicateCollapsesWhitespace(t *testing.T) {
	mock := newMock(t)
	repo := NewEventRepository(mock)
	now := time.Now()
	day := time.Date(2026, 7, 4, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`lower\(btrim\(regexp_replace\(name, '\\s\+', ' ', 'g'\)\)\) = \$2`).
		WithArgs(int64(9), "summer party", day, pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(eventCols).
			AddRow(int64(4), "Summer   Party", day, "SUMMER", "S1234567", false, true, false, int64(9), now))

	event, err := repo.FindRecentDuplicate(context.Background(), 9, models.NormalizeEventName("Summer \t Party"), day, now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(4), event.ID)
}

func TestEventDeleteMissing(t *testing.T) {
	mock := newMock(t)
	repo := NewEventRepository(mock)

	mock.ExpectExec("DELETE FROM events").
		WithArgs(int64(5)).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	assert.ErrorIs(t, repo.Delete(context.Background(), 5), ErrNotFound)
}

func TestPhotoCreateIfAbsent(t *testing.T) {
	mock := newMock(t)
	repo := NewPhotoRepository(mock)
	now := time.Now()

	mock.ExpectQuery("ON CONFLICT \\(file_path\\) DO NOTHING").
		WillReturnRows(pgxmock.NewRows([]string{"id", "uploaded_at"}).AddRow(int64(21), now))
	mock.ExpectQuery("ON CONFLICT \\(file_path\\) DO NOTHING").
		WillReturnRows(pgxmock.NewRows([]string{"id", "uploaded_at"}))

	photo := &models.Photo{EventID: 1, FilePath: "s3:events/1/photos/a.jpg", OriginalFilename: "a.jpg", MimeType: "image/jpeg", FileSize: 10}
	inserted, err := repo.CreateIfAbsent(context.Background(), photo)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Equal(t, int64(21), photo.ID)

	retry := *photo
	retry.ID = 0
	inserted, err = repo.CreateIfAbsent(context.Background(), &retry)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Zero(t, retry.ID)
}

func TestPhotoCountAndApprove(t *testing.T) {
	mock := newMock(t)
	repo := NewPhotoRepository(mock)

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM photos").
		WithArgs(int64(1)).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(42))
	count, err := repo.CountByEvent(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 42, count)

	mock.ExpectExec("UPDATE photos SET is_approved = TRUE").
		WithArgs(int64(8)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, repo.Approve(context.Background(), 8))

	mock.ExpectExec("UPDATE photos SET is_approved = TRUE").
		WithArgs(int64(9)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	assert.ErrorIs(t, repo.Approve(context.Background(), 9), ErrNotFound)
}

func TestPhotoGetByID(t *testing.T) {
	mock := newMock(t)
	repo := NewPhotoRepository(mock)
	now := time.Now()
	guest := "Ann"

	mock.ExpectQuery("FROM photos WHERE id = \\$1").
		WithArgs(int64(4)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "event_id", "file_path", "original_filename", "mime_type",
			"file_size", "uploader_id", "guest_name", "guest_email", "is_approved", "uploaded_at"}).
			AddRow(int64(4), int64(1), "s3:events/1/photos/a.jpg", "a.jpg", "image/jpeg",
				int64(100), (*int64)(nil), &guest, (*string)(nil), true, now))

	photo, err := repo.GetByID(context.Background(), 4)
	require.NoError(t, err)
	assert.Nil(t, photo.UploaderID)
	require.NotNil(t, photo.GuestName)
	assert.Equal(t, "Ann", *photo.GuestName)
}

func TestMemberGetRole(t *testing.T) {
	mock := newMock(t)
	repo := NewMemberRepository(mock)

	mock.ExpectQuery("SELECT role FROM event_members").
		WithArgs(int64(1), int64(2)).
		WillReturnRows(pgxmock.NewRows([]string{"role"}).AddRow("contributor"))
	role, err := repo.GetRole(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.Equal(t, models.RoleContributor, role)

	mock.ExpectQuery("SELECT role FROM event_members").
		WithArgs(int64(1), int64(3)).
		WillReturnError(pgx.ErrNoRows)
	_, err = repo.GetRole(context.Background(), 1, 3)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUserGetPlanFailure(t *testing.T) {
	mock := newMock(t)
	repo := NewUserRepository(mock)

	mock.ExpectQuery("SELECT plan FROM users").
		WithArgs(int64(1)).
		WillReturnError(errors.New("conn reset"))
	_, err := repo.GetPlan(context.Background(), 1)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}
