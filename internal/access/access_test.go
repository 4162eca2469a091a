package access

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"event-photo-backend/internal/models"
	"event-photo-backend/internal/repository"
)

type roleMap map[[2]int64]models.Role

func (m roleMap) GetRole(_ context.Context, eventID, userID int64) (models.Role, error) {
	if userID == 666 {
		return "", errors.New("db down")
	}
	role, ok := m[[2]int64{eventID, userID}]
	if !ok {
		return "", repository.ErrNotFound
	}
	return role, nil
}

func ptr(v int64) *int64 { return &v }

func privateEvent() *models.Event {
	return &models.Event{ID: 1, OwnerID: 10, AccessCode: "SECRET12", EventCode: "ABC123"}
}

func TestCanAccessRules(t *testing.T) {
	e := NewEvaluator(roleMap{{1, 20}: models.RoleViewer, {1, 30}: models.RoleContributor})
	ctx := context.Background()
	event := privateEvent()

	assert.False(t, e.CanAccess(ctx, event, Requester{}))
	assert.True(t, e.CanAccess(ctx, event, Requester{UserID: ptr(10)}), "owner")
	assert.True(t, e.CanAccess(ctx, event, Requester{UserID: ptr(20)}), "viewer role")
	assert.False(t, e.CanAccess(ctx, event, Requester{UserID: ptr(99)}), "stranger")
	assert.True(t, e.CanAccess(ctx, event, Anonymous("  secret12 ")), "code is trimmed and case-insensitive")
	assert.False(t, e.CanAccess(ctx, event, Anonymous("SECRET13")))
	assert.False(t, e.CanAccess(ctx, event, Requester{UserID: ptr(666)}), "lookup failure denies")
	assert.True(t, e.CanAccess(ctx, event, Requester{UserID: ptr(666), AccessCode: "SECRET12"}))

	event.IsPublic = true
	assert.True(t, e.CanAccess(ctx, event, Requester{}))
	assert.False(t, e.CanAccess(ctx, nil, Requester{}))
}

func TestCanAccessIsMonotonic(t *testing.T) {
	e := NewEvaluator(roleMap{{1, 20}: models.RoleViewer})
	ctx := context.Background()
	users := []*int64{nil, ptr(10), ptr(20), ptr(99), ptr(666)}
	codes := []string{"", "SECRET12", "wrong"}

	for _, public := range []bool{false, true} {
		event := privateEvent()
		event.IsPublic = public
		for _, u := range users {
			for _, c := range codes {
				base := e.CanAccess(ctx, event, Requester{UserID: u, AccessCode: c})
				if !base {
					continue
				}
				if u == nil {
					for _, extra := range users {
						assert.True(t, e.CanAccess(ctx, event, Requester{UserID: extra, AccessCode: c}))
					}
				}
				if c == "" {
					assert.True(t, e.CanAccess(ctx, event, Requester{UserID: u, AccessCode: "SECRET12"}))
				}
			}
		}
	}
}

func TestCanUpload(t *testing.T) {
	e := NewEvaluator(roleMap{{1, 20}: models.RoleViewer, {1, 30}: models.RoleContributor})
	ctx := context.Background()
	event := privateEvent()

	assert.True(t, e.CanUpload(ctx, event, Requester{UserID: ptr(10)}))
	assert.True(t, e.CanUpload(ctx, event, Requester{UserID: ptr(30)}))
	assert.False(t, e.CanUpload(ctx, event, Requester{UserID: ptr(20)}))
	assert.False(t, e.CanUpload(ctx, event, Anonymous("SECRET12")), "guest uploads disabled")

	event.AllowGuestUploads = true
	assert.True(t, e.CanUpload(ctx, event, Anonymous("SECRET12")))
	assert.True(t, e.CanUpload(ctx, event, Requester{UserID: ptr(20)}))
	assert.False(t, e.CanUpload(ctx, event, Anonymous("nope")))
}

func TestCanManageAndDelete(t *testing.T) {
	e := NewEvaluator(roleMap{{1, 40}: models.RoleModerator, {1, 30}: models.RoleContributor})
	ctx := context.Background()
	event := privateEvent()

	assert.True(t, e.CanManage(ctx, event, Requester{UserID: ptr(10)}))
	assert.True(t, e.CanManage(ctx, event, Requester{UserID: ptr(40)}))
	assert.True(t, e.CanManage(ctx, event, Requester{UserID: ptr(50), IsAdmin: true}))
	assert.False(t, e.CanManage(ctx, event, Requester{UserID: ptr(30)}))
	assert.False(t, e.CanManage(ctx, event, Requester{IsAdmin: true}), "admin flag without identity")

	assert.True(t, e.CanDelete(event, Requester{UserID: ptr(10)}))
	assert.True(t, e.CanDelete(event, Requester{UserID: ptr(50), IsAdmin: true}))
	assert.False(t, e.CanDelete(event, Requester{UserID: ptr(40)}), "moderators cannot delete events")
}

func TestCodeFromRequestPrecedence(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Cookie", "theme=dark; evt:ABC123:access=FROMCOOKIE")
	assert.Equal(t, "FROMCOOKIE", CodeFromRequest(r, "", "ABC123"))
	assert.Equal(t, "", CodeFromRequest(r, "", "OTHER1"))

	r.Header.Set(HeaderAccessCode, "FROMHEADER")
	assert.Equal(t, "FROMHEADER", CodeFromRequest(r, "", "ABC123"))
	assert.Equal(t, "FROMBODY", CodeFromRequest(r, " FROMBODY ", "ABC123"))
	assert.Equal(t, "FROMBODY", CodeFromRequest(nil, "FROMBODY", ""))
}
