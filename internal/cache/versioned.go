package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Versioned is a read-through cache whose entries embed the current version
// of their scope. Bumping a scope makes every older entry unreachable.
type Versioned struct {
	rdb redis.Cmdable
}

// NewVersioned creates a version-tagged cache over rdb
func NewVersioned(rdb redis.Cmdable) *Versioned {
	return &Versioned{rdb: rdb}
}

func versionKey(scope string) string {
	return scope + ":version"
}

// EntryKey builds the key of an entry under a given scope version.
func EntryKey(scope string, version int64, op, params string) string {
	return fmt.Sprintf("%s:v%d:%s:%s", scope, version, op, params)
}

// Version returns the current version of scope. A never-bumped scope is 0.
func (v *Versioned) Version(ctx context.Context, scope string) (int64, error) {
	raw, err := v.rdb.Get(ctx, versionKey(scope)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read cache version: %w", err)
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid cache version %q: %w", raw, err)
	}
	return n, nil
}

// Bump atomically advances the version of every scope given.
func (v *Versioned) Bump(ctx context.Context, scopes ...string) error {
	if len(scopes) == 0 {
		return nil
	}
	pipe := v.rdb.TxPipeline()
	for _, scope := range scopes {
		pipe.Incr(ctx, versionKey(scope))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to bump cache version: %w", err)
	}
	return nil
}

// GetOrCompute returns the cached value for (scope, op, params) under the
// scope's current version, computing and storing it on a miss. Redis
// failures degrade to calling compute directly.
func GetOrCompute[T any](ctx context.Context, v *Versioned, scope, op, params string, ttl time.Duration, compute func(context.Context) (T, error)) (T, error) {
	version, err := v.Version(ctx, scope)
	if err != nil {
		log.Warn().Err(err).Str("scope", scope).Msg("Cache unavailable, computing directly")
		return compute(ctx)
	}
	key := EntryKey(scope, version, op, params)

	raw, err := v.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var out T
		if jsonErr := json.Unmarshal(raw, &out); jsonErr == nil {
			return out, nil
		}
		log.Warn().Str("key", key).Msg("Discarding undecodable cache entry")
	} else if !errors.Is(err, redis.Nil) {
		log.Warn().Err(err).Str("key", key).Msg("Failed to read cache entry")
	}

	out, err := compute(ctx)
	if err != nil {
		return out, err
	}
	data, err := json.Marshal(out)
	if err != nil {
		return out, nil
	}
	if err := v.rdb.Set(ctx, key, data, ttl).Err(); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Failed to write cache entry")
	}
	return out, nil
}
