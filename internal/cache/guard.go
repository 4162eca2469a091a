package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

var releaseIfOwner = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// GuardClient is the subset of go-redis used by Guard.
type GuardClient interface {
	redis.Scripter
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

// Guard hands out short-lived exclusive flags keyed by string.
type Guard struct {
	rdb GuardClient
}

// NewGuard creates a new guard
func NewGuard(rdb GuardClient) *Guard {
	return &Guard{rdb: rdb}
}

// Lease is a held guard. Release is safe to call more than once.
type Lease struct {
	guard *Guard
	key   string
	token string
}

// Acquire sets key if absent for ttl. ok is false when another holder owns it.
func (g *Guard) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, bool, error) {
	token := uuid.NewString()
	ok, err := g.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire guard: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	return &Lease{guard: g, key: key, token: token}, true, nil
}

// Release deletes the key only while it still holds this lease's token.
func (l *Lease) Release(ctx context.Context) {
	if l == nil {
		return
	}
	if err := releaseIfOwner.Run(ctx, l.guard.rdb, []string{l.key}, l.token).Err(); err != nil {
		log.Warn().Err(err).Str("key", l.key).Msg("Failed to release guard")
	}
}
