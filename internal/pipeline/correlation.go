package pipeline

import (
	"context"

	heromessaging "github.com/heromessaging/hero-messaging"
)

// CorrelationContextDecorator establishes a scoped correlation frame for the
// call: enriches the derived context's metadata with correlationId
// (defaulting to messageId when absent), causationId and messageId (spec
// §4.2.1). The teacher's equivalent is an ambient thread-local scope; here the
// frame is an explicit derived ProcessingContext per spec §9's mandate.
type CorrelationContextDecorator struct {
	Inner Processor
}

func NewCorrelationContextDecorator(inner Processor) Processor {
	return &CorrelationContextDecorator{Inner: inner}
}

func (d *CorrelationContextDecorator) Process(ctx context.Context, message heromessaging.Message, pc heromessaging.ProcessingContext) heromessaging.ProcessingResult {
	env := message.Envelope()
	correlationID := env.CorrelationID
	if correlationID == "" {
		correlationID = env.MessageID
	}

	next := pc.
		WithMetadata("correlationId", correlationID).
		WithMetadata("causationId", env.CausationID).
		WithMetadata("messageId", env.MessageID)

	return d.Inner.Process(ctx, message, next)
}
