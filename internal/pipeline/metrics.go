package pipeline

import (
	"context"

	heromessaging "github.com/heromessaging/hero-messaging"
	"github.com/heromessaging/hero-messaging/internal/clock"
	"github.com/heromessaging/hero-messaging/ports"
)

// MetricsDecorator increments a started counter, records elapsed duration on
// completion, increments succeeded/failed/exceptions counters, and records
// retry count on failure when nonzero (spec §4.2.3). Grounded on
// internal/common/metrics/metrics.go's promauto CounterVec/HistogramVec
// pattern; the decorator itself depends only on ports.MetricsSink, keeping
// prometheus out of core (see adapters/prometheusmetrics).
type MetricsDecorator struct {
	Inner Processor
	Clock clock.Provider
	Sink  ports.MetricsSink
}

func NewMetricsDecorator(inner Processor, c clock.Provider, sink ports.MetricsSink) Processor {
	return &MetricsDecorator{Inner: inner, Clock: c, Sink: sink}
}

func (d *MetricsDecorator) Process(ctx context.Context, message heromessaging.Message, pc heromessaging.ProcessingContext) heromessaging.ProcessingResult {
	typeName := messageTypeName(message)
	labels := map[string]string{"type": typeName}

	d.Sink.IncrementCounter("messages.started", 1, labels)
	start := d.Clock.Now()

	result := d.Inner.Process(ctx, message, pc)

	d.Sink.RecordDuration("messages."+typeName+".duration", d.Clock.Elapsed(start), labels)

	if result.Success {
		d.Sink.IncrementCounter("messages.succeeded", 1, labels)
	} else {
		d.Sink.IncrementCounter("messages.failed", 1, labels)
		if result.Exception != nil {
			d.Sink.IncrementCounter("messages.exceptions", 1, labels)
		}
		if pc.RetryCount > 0 {
			d.Sink.RecordValue("messages.retryCount", float64(pc.RetryCount), labels)
		}
	}
	return result
}
