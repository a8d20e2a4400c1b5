package pipeline

import (
	"context"
	"fmt"
	"strings"

	heromessaging "github.com/heromessaging/hero-messaging"
	"github.com/heromessaging/hero-messaging/internal/errs"
	"github.com/heromessaging/hero-messaging/ports"
)

// ValidationDecorator runs the composed validator(s); on failure it returns a
// failure carrying the aggregated error list and short-circuits without
// invoking inner (spec §4.2.4). Grounded on the teacher's operations package
// convention (regexp/required-field checks in create_client.go) generalized
// behind ports.Validator.
type ValidationDecorator struct {
	Inner      Processor
	Validators []ports.Validator
}

func NewValidationDecorator(inner Processor, validators ...ports.Validator) Processor {
	return &ValidationDecorator{Inner: inner, Validators: validators}
}

func (d *ValidationDecorator) Process(ctx context.Context, message heromessaging.Message, pc heromessaging.ProcessingContext) heromessaging.ProcessingResult {
	var all []ports.ValidationError
	for _, v := range d.Validators {
		all = append(all, v.Validate(ctx, message)...)
	}
	if len(all) == 0 {
		return d.Inner.Process(ctx, message, pc)
	}

	msgs := make([]string, len(all))
	for i, ve := range all {
		msgs[i] = fmt.Sprintf("%s: %s", ve.Field, ve.Message)
	}
	info := errs.NewValidation("VALIDATION_FAILED", strings.Join(msgs, "; "))
	info.WithDetail("errors", all)
	return heromessaging.Failed(info, "validation failed")
}
