package pipeline

import (
	"context"
	"fmt"
	"time"

	heromessaging "github.com/heromessaging/hero-messaging"
	"github.com/heromessaging/hero-messaging/ports"
	"golang.org/x/sync/singleflight"
)

// IdempotencyDecorator computes a fingerprint (metadata["idempotencyKey"] if
// present, else type+messageId — the precedence fixed by SPEC_FULL.md
// §FULL-9.1), looks up the cache, and on miss invokes inner under a
// per-fingerprint exclusion guarantee before storing the result with the
// configured TTL (spec §4.2.6). The at-most-one-concurrent-build guarantee is
// enforced with golang.org/x/sync/singleflight, present as an indirect
// dependency in the teacher's go.mod and promoted to direct here.
type IdempotencyDecorator struct {
	Inner Processor
	Store ports.IdempotencyStore
	TTL   time.Duration

	group singleflight.Group
}

func NewIdempotencyDecorator(inner Processor, store ports.IdempotencyStore, ttl time.Duration) Processor {
	return &IdempotencyDecorator{Inner: inner, Store: store, TTL: ttl}
}

func (d *IdempotencyDecorator) Process(ctx context.Context, message heromessaging.Message, pc heromessaging.ProcessingContext) heromessaging.ProcessingResult {
	fp := fingerprint(message)

	if cached, found, err := d.Store.Get(ctx, fp); err == nil && found {
		if result, ok := cached.(heromessaging.ProcessingResult); ok {
			return result
		}
	}

	v, err, _ := d.group.Do(fp, func() (any, error) {
		result := d.Inner.Process(ctx, message, pc)
		if result.Success {
			_ = d.Store.Put(ctx, fp, result, d.TTL)
		}
		return result, nil
	})
	if err != nil {
		// singleflight.Do's fn never returns an error here; this branch exists
		// to satisfy the three-value return contract.
		return heromessaging.Failed(nil, err.Error())
	}
	return v.(heromessaging.ProcessingResult)
}

func fingerprint(message heromessaging.Message) string {
	env := message.Envelope()
	if key, ok := env.Metadata["idempotencyKey"]; ok {
		if s, ok := key.(string); ok && s != "" {
			return s
		}
	}
	return fmt.Sprintf("%s:%s", messageTypeName(message), env.MessageID)
}
