package services

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"event-photo-backend/internal/cache"
)

// cached reads through the version-tagged cache when one is configured.
func cached[T any](ctx context.Context, c *cache.Versioned, scope, op, params string, ttl time.Duration, compute func(context.Context) (T, error)) (T, error) {
	if c == nil {
		return compute(ctx)
	}
	return cache.GetOrCompute(ctx, c, scope, op, params, ttl, compute)
}

// bumpScopes invalidates every list cached under scopes. It must run after
// each committed write that changes those lists.
func bumpScopes(ctx context.Context, c *cache.Versioned, scopes ...string) {
	if c == nil {
		return
	}
	if err := c.Bump(context.WithoutCancel(ctx), scopes...); err != nil {
		log.Error().Err(err).Strs("scopes", scopes).Msg("Failed to bump cache version")
	}
}
