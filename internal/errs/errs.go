// Package errs implements the six-kind error taxonomy the pipeline classifies
// every failure into, adapted from the teacher's ErrorKind/UseCaseError shape
// with the HTTP-facing bits dropped (no HTTP surface in this core).
package errs

import "fmt"

// Kind is a classification, not a Go type: every ErrorInfo carries exactly
// one Kind and decorators branch on it (retry eligibility, DLQ routing, ...).
type Kind int

const (
	// Validation — input fails a declared rule; never retried.
	Validation Kind = iota
	// Transient — timeout, cancellation-from-peer, transport hiccup; retryable.
	Transient
	// PolicyDenied — circuit open, rate limit exceeded, idempotency replay.
	PolicyDenied
	// HandlerError — handler-thrown errors not classified as transient.
	HandlerError
	// Critical — out-of-memory, stack-overflow class; never retried.
	Critical
	// InfrastructureError — storage/transport failure; outbox/inbox retry.
	InfrastructureError
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "VALIDATION"
	case Transient:
		return "TRANSIENT"
	case PolicyDenied:
		return "POLICY_DENIED"
	case HandlerError:
		return "HANDLER_ERROR"
	case Critical:
		return "CRITICAL"
	case InfrastructureError:
		return "INFRASTRUCTURE_ERROR"
	default:
		return "UNKNOWN"
	}
}

// Info is the ErrorInfo value carried by a failed ProcessingResult.
type Info struct {
	Kind       Kind
	Code       string
	Message    string
	Details    map[string]any
	RetryAfter *int64 // milliseconds; set by PolicyDenied failures when known
	cause      error
}

func (e *Info) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Kind, e.Code, e.Message)
}

func (e *Info) Unwrap() error { return e.cause }

// WithDetail adds a detail and returns the receiver for chaining.
func (e *Info) WithDetail(key string, value any) *Info {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func new_(kind Kind, code, message string, cause error) *Info {
	return &Info{Kind: kind, Code: code, Message: message, cause: cause}
}

func NewValidation(code, message string) *Info { return new_(Validation, code, message, nil) }

func NewTransient(code, message string, cause error) *Info {
	return new_(Transient, code, message, cause)
}

func NewPolicyDenied(code, message string, retryAfterMs int64) *Info {
	i := new_(PolicyDenied, code, message, nil)
	i.RetryAfter = &retryAfterMs
	return i
}

func NewHandlerError(code, message string, cause error) *Info {
	return new_(HandlerError, code, message, cause)
}

func NewCritical(code, message string, cause error) *Info {
	return new_(Critical, code, message, cause)
}

func NewInfrastructure(code, message string, cause error) *Info {
	return new_(InfrastructureError, code, message, cause)
}

// FromError classifies a plain error returned by a handler into an Info,
// defaulting to HandlerError when the cause carries no better classification.
func FromError(err error) *Info {
	if err == nil {
		return nil
	}
	var info *Info
	if asInfo(err, &info) {
		return info
	}
	return NewHandlerError("HANDLER_ERROR", err.Error(), err)
}

func asInfo(err error, target **Info) bool {
	for err != nil {
		if i, ok := err.(*Info); ok {
			*target = i
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
