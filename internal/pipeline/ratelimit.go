package pipeline

import (
	"context"

	heromessaging "github.com/heromessaging/hero-messaging"
	"github.com/heromessaging/hero-messaging/internal/errs"
	"github.com/heromessaging/hero-messaging/ports"
)

// RateLimitingDecorator calls the external rate limiter keyed by message-type
// name requesting one permit. If denied, returns a failure carrying the
// retry-after hint and reason; it never suspends the caller (spec §4.2.5).
// Grounded on internal/router/pool/pool.go's golang.org/x/time/rate.Limiter
// usage via adapters/inprocrate implementing ports.RateLimiter.
type RateLimitingDecorator struct {
	Inner   Processor
	Limiter ports.RateLimiter
}

func NewRateLimitingDecorator(inner Processor, limiter ports.RateLimiter) Processor {
	return &RateLimitingDecorator{Inner: inner, Limiter: limiter}
}

func (d *RateLimitingDecorator) Process(ctx context.Context, message heromessaging.Message, pc heromessaging.ProcessingContext) heromessaging.ProcessingResult {
	key := messageTypeName(message)
	decision, err := d.Limiter.Acquire(ctx, key, 1)
	if err != nil {
		return heromessaging.Failed(errs.NewInfrastructure("RATE_LIMITER_ERROR", err.Error(), err), "rate limiter unavailable")
	}
	if !decision.Allowed {
		info := errs.NewPolicyDenied("RATE_LIMITED", decision.Reason, decision.RetryAfter.Milliseconds())
		return heromessaging.Failed(info, "rate limit exceeded")
	}
	return d.Inner.Process(ctx, message, pc)
}
