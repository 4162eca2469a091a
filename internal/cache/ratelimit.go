package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRateLimitExceeded is returned by Allow when the window is exhausted.
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// RateLimit is a fixed-window policy: at most Max calls per Window.
type RateLimit struct {
	Max    int
	Window time.Duration
}

// LimitError carries how long until the current window closes.
type LimitError struct {
	RetryAfter time.Duration
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %s", e.RetryAfter)
}

func (e *LimitError) Is(target error) bool {
	return target == ErrRateLimitExceeded
}

// INCR and start the window on the first hit in one round trip.
var incrWindow = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// RateLimiter counts calls per key in Redis.
type RateLimiter struct {
	rdb redis.Scripter
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(rdb redis.Scripter) *RateLimiter {
	return &RateLimiter{rdb: rdb}
}

// Allow records one call against key. Once more than policy.Max calls land
// in the window it returns a *LimitError until the window expires.
func (l *RateLimiter) Allow(ctx context.Context, key string, policy RateLimit) error {
	res, err := incrWindow.Run(ctx, l.rdb, []string{key}, policy.Window.Milliseconds()).Int64Slice()
	if err != nil {
		return fmt.Errorf("failed to record rate limit hit: %w", err)
	}
	if len(res) != 2 {
		return fmt.Errorf("unexpected rate limit reply %v", res)
	}
	if res[0] > int64(policy.Max) {
		retry := time.Duration(res[1]) * time.Millisecond
		if retry <= 0 || retry > policy.Window {
			retry = policy.Window
		}
		return &LimitError{RetryAfter: retry}
	}
	return nil
}
