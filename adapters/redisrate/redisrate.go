// Package redisrate adapts ports.RateLimiter onto Redis, for rate limiting
// shared across a fleet rather than per-process (internal/inprocrate's
// scope). Grounded on adapters/leaderelect's Lua-script idiom (itself
// grounded on internal/common/leader/redis_election.go's check-and-extend
// script): a single atomic INCR+PEXPIRE script implements a fixed-window
// counter, avoiding the race between the two commands that a non-scripted
// INCR-then-EXPIRE would have.
package redisrate

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/heromessaging/hero-messaging/ports"
)

var incrementScript = redis.NewScript(`
local count = redis.call("incr", KEYS[1])
if count == 1 then
	redis.call("pexpire", KEYS[1], ARGV[1])
end
local ttl = redis.call("pttl", KEYS[1])
return {count, ttl}
`)

// Limiter implements ports.RateLimiter as a fixed-window counter keyed by
// Acquire's key, windowed over Window and capped at MaxPerWindow.
type Limiter struct {
	client       *redis.Client
	prefix       string
	maxPerWindow int
	window       time.Duration
}

func New(client *redis.Client, keyPrefix string, maxPerWindow int, window time.Duration) *Limiter {
	return &Limiter{client: client, prefix: keyPrefix, maxPerWindow: maxPerWindow, window: window}
}

var _ ports.RateLimiter = (*Limiter)(nil)

func (l *Limiter) redisKey(key string) string { return l.prefix + ":" + key }

func (l *Limiter) Acquire(ctx context.Context, key string, permits int) (ports.RateLimitDecision, error) {
	redisKey := l.redisKey(key)
	result, err := incrementScript.Run(ctx, l.client, []string{redisKey}, l.window.Milliseconds()).Result()
	if err != nil {
		return ports.RateLimitDecision{}, err
	}

	values, ok := result.([]any)
	if !ok || len(values) != 2 {
		return ports.RateLimitDecision{}, nil
	}
	count, _ := values[0].(int64)
	ttlMs, _ := values[1].(int64)

	remaining := l.maxPerWindow - int(count)
	if remaining < 0 {
		remaining = 0
	}
	if int(count)+permits-1 > l.maxPerWindow {
		return ports.RateLimitDecision{
			Allowed:    false,
			Remaining:  remaining,
			RetryAfter: time.Duration(ttlMs) * time.Millisecond,
			Reason:     "fleet-wide rate limit exceeded",
		}, nil
	}
	return ports.RateLimitDecision{Allowed: true, Remaining: remaining}, nil
}
