package pipeline

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	heromessaging "github.com/heromessaging/hero-messaging"
	"github.com/heromessaging/hero-messaging/internal/clock"
	"github.com/heromessaging/hero-messaging/internal/errs"
)

// RetryPolicy decides whether and how long to wait before the next attempt.
type RetryPolicy interface {
	ShouldRetry(attempt int, maxRetries int, result heromessaging.ProcessingResult) bool
	Delay(attempt int) time.Duration
}

// ExponentialBackoffPolicy implements spec §4.2.8's default policy:
// delay(n) = min(baseDelay * 2^n * (1 + random[0,jitterFactor]), maxDelay).
// shouldRetry is false when the error is nil or Critical, true for Transient
// and InfrastructureError classes.
type ExponentialBackoffPolicy struct {
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64
}

func (p ExponentialBackoffPolicy) ShouldRetry(attempt int, maxRetries int, result heromessaging.ProcessingResult) bool {
	if attempt >= maxRetries || result.Success {
		return false
	}
	if result.Exception == nil {
		return false
	}
	switch result.Exception.Kind {
	case errs.Critical, errs.Validation:
		return false
	default:
		return true
	}
}

func (p ExponentialBackoffPolicy) Delay(attempt int) time.Duration {
	base := float64(p.BaseDelay) * math.Pow(2, float64(attempt))
	jitter := 1 + rand.Float64()*p.JitterFactor
	d := time.Duration(base * jitter)
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// RetryDecorator loops with bounded attempts 0..maxRetries: invoke inner; on
// success or a non-retryable outcome, return it; otherwise wait the policy's
// delay via the TimeProvider and retry, deriving context with
// withRetry(n+1, firstFailureTime ?? now) before each retry. Exhaustion
// returns a failure carrying the last captured error (spec §4.2.8).
type RetryDecorator struct {
	Inner      Processor
	Clock      clock.Provider
	Policy     RetryPolicy
	MaxRetries int
}

func NewRetryDecorator(inner Processor, c clock.Provider, policy RetryPolicy, maxRetries int) Processor {
	return &RetryDecorator{Inner: inner, Clock: c, Policy: policy, MaxRetries: maxRetries}
}

func (d *RetryDecorator) Process(ctx context.Context, message heromessaging.Message, pc heromessaging.ProcessingContext) heromessaging.ProcessingResult {
	attempt := 0
	current := pc
	var last heromessaging.ProcessingResult

	for {
		if err := ctx.Err(); err != nil {
			return heromessaging.Failed(errs.NewTransient("CANCELLED", "cancelled before attempt", err), "cancelled")
		}

		last = d.Inner.Process(ctx, message, current)
		if !d.Policy.ShouldRetry(attempt, d.MaxRetries, last) {
			return last
		}

		delay := d.Policy.Delay(attempt)
		firstFailure := d.Clock.Now()
		if current.FirstFailureTime != nil {
			firstFailure = *current.FirstFailureTime
		}

		if err := d.Clock.Sleep(ctx, delay); err != nil {
			return last
		}

		attempt++
		current = current.WithRetry(attempt, firstFailure)
	}
}
