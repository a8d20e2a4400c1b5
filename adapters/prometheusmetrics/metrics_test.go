package prometheusmetrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSinkIncrementCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink := New("heromessaging_test", reg)

	sink.IncrementCounter("messages_processed", 1, map[string]string{"type": "command"})
	sink.IncrementCounter("messages_processed", 1, map[string]string{"type": "command"})
	sink.IncrementCounter("messages_processed", 1, map[string]string{"type": "query"})

	vec := sink.counters["messages_processed{type}"]
	if vec == nil {
		t.Fatal("expected a registered counter vector")
	}
	if got := testutil.ToFloat64(vec.With(prometheus.Labels{"type": "command"})); got != 2 {
		t.Errorf("expected 2 for type=command, got %v", got)
	}
	if got := testutil.ToFloat64(vec.With(prometheus.Labels{"type": "query"})); got != 1 {
		t.Errorf("expected 1 for type=query, got %v", got)
	}
}

func TestSinkRecordDurationReusesVector(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink := New("heromessaging_test", reg)

	sink.RecordDuration("pipeline_latency", 10*time.Millisecond, map[string]string{"component": "retry"})
	sink.RecordDuration("pipeline_latency", 20*time.Millisecond, map[string]string{"component": "retry"})

	if len(sink.histograms) != 1 {
		t.Errorf("expected exactly one histogram vector registered, got %d", len(sink.histograms))
	}
}

func TestSinkRecordValueGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink := New("heromessaging_test", reg)

	sink.RecordValue("circuit_breaker_state", 1, map[string]string{"breaker": "downstream"})

	vec := sink.gauges["circuit_breaker_state{breaker}"]
	if got := testutil.ToFloat64(vec.With(prometheus.Labels{"breaker": "downstream"})); got != 1 {
		t.Errorf("expected gauge value 1, got %v", got)
	}
}
