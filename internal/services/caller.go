package services

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"event-photo-backend/internal/access"
	"event-photo-backend/internal/models"
	"event-photo-backend/internal/plans"
	"event-photo-backend/internal/repository"
)

// Caller identifies who is asking. CodeFor returns the access code the
// caller presented for an event code, or "" when none.
type Caller struct {
	UserID  *int64
	IsAdmin bool
	CodeFor func(eventCode string) string
}

// Guest returns an anonymous caller presenting code for every event.
func Guest(code string) Caller {
	return Caller{CodeFor: func(string) string { return code }}
}

// Authenticated reports whether the caller carries a user id.
func (c Caller) Authenticated() bool {
	return c.UserID != nil
}

// requester builds the access requester for event. Codes are only resolved
// for private events.
func (c Caller) requester(event *models.Event) access.Requester {
	req := access.Requester{UserID: c.UserID, IsAdmin: c.IsAdmin}
	if c.CodeFor != nil && event != nil && !event.IsPublic {
		req.AccessCode = c.CodeFor(event.EventCode)
	}
	return req
}

// ownerLimits resolves the limits of the account owning event.
func ownerLimits(ctx context.Context, users UserRepository, resolver *plans.Resolver, event *models.Event) (plans.Limits, error) {
	plan, err := users.GetPlan(ctx, event.OwnerID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return plans.Limits{}, lookupErr(err, "plan")
		}
		log.Warn().Int64("owner_id", event.OwnerID).Msg("Event owner not found, using free plan")
		plan = plans.Free
	}
	return resolver.LimitsFor(plan), nil
}
