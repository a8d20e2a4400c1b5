package pipeline

import (
	"context"
	"log/slog"

	heromessaging "github.com/heromessaging/hero-messaging"
	"github.com/heromessaging/hero-messaging/internal/clock"
)

// LoggingDecorator captures the start timestamp via TimeProvider, logs
// pre-processing, awaits inner, logs success at the configured level with
// elapsed time, and logs failures with the associated error info before
// returning (spec §4.2.2). Grounded on the teacher's log/slog usage
// throughout internal/outbox/processor.go and internal/router/pool/pool.go.
type LoggingDecorator struct {
	Inner      Processor
	Clock      clock.Provider
	Log        *slog.Logger
	SuccessLvl slog.Level
}

func NewLoggingDecorator(inner Processor, c clock.Provider, log *slog.Logger) Processor {
	if log == nil {
		log = slog.Default()
	}
	return &LoggingDecorator{Inner: inner, Clock: c, Log: log, SuccessLvl: slog.LevelInfo}
}

func (d *LoggingDecorator) Process(ctx context.Context, message heromessaging.Message, pc heromessaging.ProcessingContext) heromessaging.ProcessingResult {
	typeName := messageTypeName(message)
	start := d.Clock.Now()

	d.Log.Debug("processing message", slog.String("messageType", typeName), slog.String("messageId", message.Envelope().MessageID))

	result := d.Inner.Process(ctx, message, pc)

	elapsed := d.Clock.Elapsed(start)
	if result.Success {
		d.Log.Log(ctx, d.SuccessLvl, "processed message",
			slog.String("messageType", typeName),
			slog.Duration("elapsed", elapsed))
	} else {
		attrs := []any{
			slog.String("messageType", typeName),
			slog.Duration("elapsed", elapsed),
		}
		if result.Exception != nil {
			attrs = append(attrs, slog.String("errorKind", result.Exception.Kind.String()), slog.String("error", result.Exception.Error()))
		}
		d.Log.Error("message processing failed", attrs...)
	}
	return result
}

func messageTypeName(message heromessaging.Message) string {
	switch message.Kind() {
	case heromessaging.KindCommand:
		return "command"
	case heromessaging.KindQuery:
		return "query"
	default:
		return "event"
	}
}
