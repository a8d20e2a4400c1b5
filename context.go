package heromessaging

import (
	"time"

	"github.com/heromessaging/hero-messaging/internal/errs"
)

// ProcessingContext is an immutable value threaded through the pipeline; each
// decorator derives a new one rather than mutating an ambient one (spec §9's
// re-architecture note on the source's thread-local correlation scope).
type ProcessingContext struct {
	Component        string
	RetryCount        int
	FirstFailureTime *time.Time
	Metadata          map[string]any
}

// NewProcessingContext returns the root context a pipeline invocation starts
// with.
func NewProcessingContext(component string) ProcessingContext {
	return ProcessingContext{Component: component, Metadata: make(map[string]any)}
}

// WithRetry derives a context recording a new retry attempt. firstFailureTime
// is preserved once set; pass it unchanged on every call after the first.
func (c ProcessingContext) WithRetry(n int, firstFailureTime time.Time) ProcessingContext {
	next := c.clone()
	next.RetryCount = n
	if next.FirstFailureTime == nil {
		next.FirstFailureTime = &firstFailureTime
	}
	return next
}

// WithMetadata derives a context with one additional metadata entry.
func (c ProcessingContext) WithMetadata(key string, value any) ProcessingContext {
	next := c.clone()
	next.Metadata[key] = value
	return next
}

func (c ProcessingContext) clone() ProcessingContext {
	md := make(map[string]any, len(c.Metadata)+1)
	for k, v := range c.Metadata {
		md[k] = v
	}
	return ProcessingContext{
		Component:        c.Component,
		RetryCount:       c.RetryCount,
		FirstFailureTime: c.FirstFailureTime,
		Metadata:         md,
	}
}

// ProcessingResult is the outcome of a pipeline invocation (spec §3).
type ProcessingResult struct {
	Success   bool
	Value     any
	Exception *errs.Info
	Message   string
}

// Successful constructs a success result carrying value.
func Successful(value any) ProcessingResult {
	return ProcessingResult{Success: true, Value: value}
}

// Failed constructs a failure result.
func Failed(err *errs.Info, message string) ProcessingResult {
	return ProcessingResult{Success: false, Exception: err, Message: message}
}
