// Package pipeline implements the decorator chain (spec §4.2): a Processor
// holds one inner Processor and exposes the same contract, composed
// outer-to-inner on entry and inner-to-outer on return. Grounded on
// other_examples' shellvon-go-sender ProviderDecorator middleware chain,
// generalized from a fixed send/retry/breaker/limit chain to a fully
// reorderable one matching spec §4.2's eleven-decorator list.
package pipeline

import (
	"context"

	heromessaging "github.com/heromessaging/hero-messaging"
)

// Processor is the contract every decorator and the terminal handler
// invocation implement. A decorator MUST pass ctx unchanged, MAY derive a new
// ProcessingContext, and MUST NOT mutate message.
type Processor interface {
	Process(ctx context.Context, message heromessaging.Message, pc heromessaging.ProcessingContext) heromessaging.ProcessingResult
}

// ProcessorFunc adapts a function to Processor, used for the terminal
// handler-invocation stage.
type ProcessorFunc func(ctx context.Context, message heromessaging.Message, pc heromessaging.ProcessingContext) heromessaging.ProcessingResult

func (f ProcessorFunc) Process(ctx context.Context, message heromessaging.Message, pc heromessaging.ProcessingContext) heromessaging.ProcessingResult {
	return f(ctx, message, pc)
}

// Chain composes decorators around an inner terminal processor in the order
// given: the first decorator in the slice is outermost. Spec §4.2's canonical
// order is CorrelationContext, Logging, Metrics, Validation, RateLimiting,
// Batch, Idempotency, CircuitBreaker, Retry, ErrorHandling, Transaction, then
// the terminal handler invocation.
func Chain(terminal Processor, decorators ...func(inner Processor) Processor) Processor {
	p := terminal
	for i := len(decorators) - 1; i >= 0; i-- {
		p = decorators[i](p)
	}
	return p
}
