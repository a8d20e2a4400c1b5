package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	heromessaging "github.com/heromessaging/hero-messaging"
	"github.com/heromessaging/hero-messaging/ports"
)

type stubRateLimiter struct {
	decision ports.RateLimitDecision
	err      error
}

func (l stubRateLimiter) Acquire(ctx context.Context, key string, permits int) (ports.RateLimitDecision, error) {
	return l.decision, l.err
}

// TestRateLimitingDecoratorAllowsThroughOnPermit verifies inner is invoked
// when the limiter grants the permit.
func TestRateLimitingDecoratorAllowsThroughOnPermit(t *testing.T) {
	called := false
	terminal := ProcessorFunc(func(ctx context.Context, message heromessaging.Message, pc heromessaging.ProcessingContext) heromessaging.ProcessingResult {
		called = true
		return heromessaging.Successful(nil)
	})

	d := NewRateLimitingDecorator(terminal, stubRateLimiter{decision: ports.RateLimitDecision{Allowed: true}})
	result := d.Process(context.Background(), heromessaging.NewCommand(time.Now(), "p"), heromessaging.NewProcessingContext("test"))

	if !called {
		t.Fatal("expected inner to be invoked")
	}
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
}

// TestRateLimitingDecoratorDeniesWithPolicyDenied verifies a denied permit
// short-circuits with a PolicyDenied failure carrying the retry-after hint.
func TestRateLimitingDecoratorDeniesWithPolicyDenied(t *testing.T) {
	called := false
	terminal := ProcessorFunc(func(ctx context.Context, message heromessaging.Message, pc heromessaging.ProcessingContext) heromessaging.ProcessingResult {
		called = true
		return heromessaging.Successful(nil)
	})

	decision := ports.RateLimitDecision{Allowed: false, RetryAfter: 2 * time.Second, Reason: "too many requests"}
	d := NewRateLimitingDecorator(terminal, stubRateLimiter{decision: decision})
	result := d.Process(context.Background(), heromessaging.NewCommand(time.Now(), "p"), heromessaging.NewProcessingContext("test"))

	if called {
		t.Fatal("expected inner not to be invoked when rate limited")
	}
	if result.Success {
		t.Fatal("expected failure")
	}
	if result.Exception.RetryAfter == nil || *result.Exception.RetryAfter != 2000 {
		t.Errorf("expected RetryAfter 2000ms, got %v", result.Exception.RetryAfter)
	}
}

// TestRateLimitingDecoratorSurfacesLimiterErrorAsInfrastructure verifies a
// limiter error (e.g. Redis unavailable) is classified InfrastructureError.
func TestRateLimitingDecoratorSurfacesLimiterErrorAsInfrastructure(t *testing.T) {
	terminal := ProcessorFunc(func(ctx context.Context, message heromessaging.Message, pc heromessaging.ProcessingContext) heromessaging.ProcessingResult {
		return heromessaging.Successful(nil)
	})

	d := NewRateLimitingDecorator(terminal, stubRateLimiter{err: errors.New("connection refused")})
	result := d.Process(context.Background(), heromessaging.NewCommand(time.Now(), "p"), heromessaging.NewProcessingContext("test"))

	if result.Success {
		t.Fatal("expected failure")
	}
	if result.Exception.Code != "RATE_LIMITER_ERROR" {
		t.Errorf("expected RATE_LIMITER_ERROR code, got %v", result.Exception.Code)
	}
}
