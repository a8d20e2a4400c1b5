package pipeline

import (
	"context"
	"testing"
	"time"

	heromessaging "github.com/heromessaging/hero-messaging"
	"github.com/heromessaging/hero-messaging/internal/errs"
	"github.com/heromessaging/hero-messaging/ports"
)

type stubValidator struct {
	errs []ports.ValidationError
}

func (v stubValidator) Validate(ctx context.Context, message any) []ports.ValidationError {
	return v.errs
}

// TestValidationDecoratorPassesThroughWhenNoErrors verifies inner is invoked
// when every validator returns no errors.
func TestValidationDecoratorPassesThroughWhenNoErrors(t *testing.T) {
	called := false
	terminal := ProcessorFunc(func(ctx context.Context, message heromessaging.Message, pc heromessaging.ProcessingContext) heromessaging.ProcessingResult {
		called = true
		return heromessaging.Successful(nil)
	})

	d := NewValidationDecorator(terminal, stubValidator{})
	result := d.Process(context.Background(), heromessaging.NewCommand(time.Now(), "p"), heromessaging.NewProcessingContext("test"))

	if !called {
		t.Fatal("expected inner to be invoked")
	}
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
}

// TestValidationDecoratorShortCircuitsOnFailure verifies inner is never
// invoked when a validator reports errors, and the aggregated message is
// surfaced as a Validation-kind failure.
func TestValidationDecoratorShortCircuitsOnFailure(t *testing.T) {
	called := false
	terminal := ProcessorFunc(func(ctx context.Context, message heromessaging.Message, pc heromessaging.ProcessingContext) heromessaging.ProcessingResult {
		called = true
		return heromessaging.Successful(nil)
	})

	v1 := stubValidator{errs: []ports.ValidationError{{Field: "name", Code: "required", Message: "name is required"}}}
	v2 := stubValidator{errs: []ports.ValidationError{{Field: "age", Code: "range", Message: "age out of range"}}}

	d := NewValidationDecorator(terminal, v1, v2)
	result := d.Process(context.Background(), heromessaging.NewCommand(time.Now(), "p"), heromessaging.NewProcessingContext("test"))

	if called {
		t.Fatal("expected inner not to be invoked on validation failure")
	}
	if result.Success {
		t.Fatal("expected failure result")
	}
	if result.Exception.Kind != errs.Validation {
		t.Errorf("expected Validation kind, got %v", result.Exception.Kind)
	}
	if details, ok := result.Exception.Details["errors"].([]ports.ValidationError); !ok || len(details) != 2 {
		t.Errorf("expected both validators' errors aggregated, got %+v", result.Exception.Details["errors"])
	}
}
