// Package inprocrate adapts ports.RateLimiter onto golang.org/x/time/rate,
// grounded on internal/router/pool/pool.go's per-pool rate.Limiter (rate
// expressed as a per-minute budget converted to rate.Limit via /60, burst
// equal to the per-minute budget). Generalized from the teacher's single
// pool-wide limiter to one limiter per RateLimiter.Acquire key, since
// RateLimitingDecorator (spec §4.2.5) keys by message-type name rather than
// by a fixed pool code.
package inprocrate

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/heromessaging/hero-messaging/ports"
)

// Limiter implements ports.RateLimiter with one token-bucket per key.
type Limiter struct {
	permitsPerMinute int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New returns a Limiter granting permitsPerMinute to each distinct key,
// burst equal to the per-minute budget (the teacher's
// rate.NewLimiter(rate.Limit(perMinute/60), perMinute) convention).
func New(permitsPerMinute int) *Limiter {
	return &Limiter{permitsPerMinute: permitsPerMinute, limiters: make(map[string]*rate.Limiter)}
}

var _ ports.RateLimiter = (*Limiter)(nil)

func (l *Limiter) limiterFor(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[key]
	if !ok {
		perSecond := float64(l.permitsPerMinute) / 60.0
		lim = rate.NewLimiter(rate.Limit(perSecond), l.permitsPerMinute)
		l.limiters[key] = lim
	}
	return lim
}

func (l *Limiter) Acquire(ctx context.Context, key string, permits int) (ports.RateLimitDecision, error) {
	lim := l.limiterFor(key)
	reservation := lim.ReserveN(time.Now(), permits)
	if !reservation.OK() {
		return ports.RateLimitDecision{Allowed: false, Reason: "requested permits exceed burst"}, nil
	}
	delay := reservation.Delay()
	if delay > 0 {
		reservation.Cancel()
		return ports.RateLimitDecision{Allowed: false, RetryAfter: delay, Reason: "rate limit exceeded"}, nil
	}
	return ports.RateLimitDecision{Allowed: true, Remaining: int(lim.Tokens())}, nil
}
