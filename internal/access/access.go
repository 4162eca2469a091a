// Package access decides who may view, upload to, or manage an event.
package access

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog/log"

	"event-photo-backend/internal/models"
	"event-photo-backend/internal/repository"
)

// RoleLookup resolves event-scoped membership roles.
// Satisfied by *repository.MemberRepository. A missing membership is
// reported as repository.ErrNotFound.
type RoleLookup interface {
	GetRole(ctx context.Context, eventID, userID int64) (models.Role, error)
}

// Requester carries every signal an access decision may use.
type Requester struct {
	UserID     *int64
	IsAdmin    bool
	AccessCode string
}

// Anonymous returns a requester with no identity and the given code.
func Anonymous(code string) Requester {
	return Requester{AccessCode: code}
}

// Authenticated reports whether the requester carries a user id.
func (r Requester) Authenticated() bool {
	return r.UserID != nil
}

// Evaluator applies the access rules. Lookup failures deny.
type Evaluator struct {
	roles RoleLookup
}

// NewEvaluator creates a new access evaluator
func NewEvaluator(roles RoleLookup) *Evaluator {
	return &Evaluator{roles: roles}
}

// CanAccess reports whether req may view the event's photos.
func (e *Evaluator) CanAccess(ctx context.Context, event *models.Event, req Requester) bool {
	if event == nil {
		return false
	}
	if event.IsPublic {
		return true
	}
	if e.isOwner(event, req) {
		return true
	}
	if role, ok := e.role(ctx, event, req); ok && role.CanRead() {
		return true
	}
	return codeMatches(req.AccessCode, event.AccessCode)
}

// CanUpload reports whether req may add photos to the event.
func (e *Evaluator) CanUpload(ctx context.Context, event *models.Event, req Requester) bool {
	if event == nil {
		return false
	}
	if e.isOwner(event, req) {
		return true
	}
	if role, ok := e.role(ctx, event, req); ok && role.CanUpload() {
		return true
	}
	return event.AllowGuestUploads && e.CanAccess(ctx, event, req)
}

// CanManage reports whether req may change settings and moderate photos.
func (e *Evaluator) CanManage(ctx context.Context, event *models.Event, req Requester) bool {
	if event == nil {
		return false
	}
	if e.isOwner(event, req) || (req.Authenticated() && req.IsAdmin) {
		return true
	}
	role, ok := e.role(ctx, event, req)
	return ok && role.CanModerate()
}

// CanDelete reports whether req may delete the event itself.
func (e *Evaluator) CanDelete(event *models.Event, req Requester) bool {
	if event == nil {
		return false
	}
	return e.isOwner(event, req) || (req.Authenticated() && req.IsAdmin)
}

func (e *Evaluator) isOwner(event *models.Event, req Requester) bool {
	return req.UserID != nil && *req.UserID == event.OwnerID
}

func (e *Evaluator) role(ctx context.Context, event *models.Event, req Requester) (models.Role, bool) {
	if req.UserID == nil || e.roles == nil {
		return "", false
	}
	role, err := e.roles.GetRole(ctx, event.ID, *req.UserID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			log.Warn().Err(err).Int64("event_id", event.ID).Int64("user_id", *req.UserID).Msg("Failed to look up event role")
		}
		return "", false
	}
	return role, true
}

func codeMatches(presented, stored string) bool {
	presented = strings.TrimSpace(presented)
	stored = strings.TrimSpace(stored)
	if presented == "" || stored == "" {
		return false
	}
	return strings.EqualFold(presented, stored)
}
