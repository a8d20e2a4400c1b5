package pipeline

import (
	"context"
	"time"

	heromessaging "github.com/heromessaging/hero-messaging"
	"github.com/heromessaging/hero-messaging/internal/clock"
	"github.com/heromessaging/hero-messaging/internal/errs"
	"github.com/heromessaging/hero-messaging/ports"
)

// ErrorHandlingDecorator wraps the pipeline with a terminal error policy: on
// failure it builds an ErrorContext and consults the external error handler,
// which returns Retry (loop continues), SendToDeadLetter, Discard, or
// Escalate (rethrow). Max-retries exhaustion returns failure with the last
// error (spec §4.2.9). Grounded on the teacher's mediator/http.go status
// classification, generalized from HTTP codes to the errs.Kind taxonomy.
type ErrorHandlingDecorator struct {
	Inner      Processor
	Clock      clock.Provider
	Handler    ports.ErrorHandler
	MaxRetries int
}

func NewErrorHandlingDecorator(inner Processor, c clock.Provider, handler ports.ErrorHandler, maxRetries int) Processor {
	return &ErrorHandlingDecorator{Inner: inner, Clock: c, Handler: handler, MaxRetries: maxRetries}
}

func (d *ErrorHandlingDecorator) Process(ctx context.Context, message heromessaging.Message, pc heromessaging.ProcessingContext) heromessaging.ProcessingResult {
	current := pc
	var first *time.Time

	for {
		result := d.Inner.Process(ctx, message, current)
		if result.Success || d.Handler == nil {
			return result
		}

		now := d.Clock.Now()
		if first == nil {
			first = &now
		}

		ec := ports.ErrorContext{
			RetryCount:       current.RetryCount,
			MaxRetries:       d.MaxRetries,
			Component:        current.Component,
			FirstFailureTime: *first,
			LastFailureTime:  now,
			Metadata:         current.Metadata,
		}

		var cause error = result.Exception
		decision := d.Handler.Handle(ctx, message, cause, ec)

		switch decision.Action {
		case ports.ActionRetry:
			if current.RetryCount >= d.MaxRetries {
				return result
			}
			if decision.RetryDelay > 0 {
				if err := d.Clock.Sleep(ctx, decision.RetryDelay); err != nil {
					return result
				}
			}
			current = current.WithRetry(current.RetryCount+1, *first)
		case ports.ActionSendToDeadLetter:
			info := errs.NewInfrastructure("SENT_TO_DLQ", decision.Reason, cause)
			return heromessaging.Failed(info, "sent to dead letter")
		case ports.ActionDiscard:
			info := errs.NewHandlerError("DISCARDED", decision.Reason, cause)
			return heromessaging.Failed(info, "discarded")
		default: // ActionEscalate
			return result
		}
	}
}
