// Package prometheusmetrics adapts ports.MetricsSink onto
// github.com/prometheus/client_golang, grounded on
// internal/common/metrics/metrics.go's package-level promauto vectors.
// That file declares one fixed CounterVec/HistogramVec/GaugeVec per named
// metric up front; ports.MetricsSink instead hands the sink an arbitrary
// name and label set at call time (decorators don't know the metric
// catalogue ahead of time), so this adapter lazily promauto.registers one
// vector per (name, sorted label keys) the first time it is seen and reuses
// it afterward.
package prometheusmetrics

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/heromessaging/hero-messaging/ports"
)

// Sink implements ports.MetricsSink.
type Sink struct {
	namespace string
	registry  prometheus.Registerer

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
	gauges     map[string]*prometheus.GaugeVec
}

// New returns a Sink registering every vector against registry (typically
// prometheus.DefaultRegisterer) under the given namespace.
func New(namespace string, registry prometheus.Registerer) *Sink {
	return &Sink{
		namespace:  namespace,
		registry:   registry,
		counters:   make(map[string]*prometheus.CounterVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
	}
}

var _ ports.MetricsSink = (*Sink)(nil)

func vecKey(name string, labels map[string]string) (string, []string) {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return name + "{" + strings.Join(keys, ",") + "}", keys
}

func labelValues(labels map[string]string, keys []string) prometheus.Labels {
	out := make(prometheus.Labels, len(keys))
	for _, k := range keys {
		out[k] = labels[k]
	}
	return out
}

func (s *Sink) IncrementCounter(name string, delta float64, labels map[string]string) {
	key, keys := vecKey(name, labels)
	s.mu.Lock()
	vec, ok := s.counters[key]
	if !ok {
		vec = promauto.With(s.registry).NewCounterVec(prometheus.CounterOpts{
			Namespace: s.namespace,
			Name:      name,
			Help:      "heromessaging counter " + name,
		}, keys)
		s.counters[key] = vec
	}
	s.mu.Unlock()
	vec.With(labelValues(labels, keys)).Add(delta)
}

func (s *Sink) RecordDuration(name string, d time.Duration, labels map[string]string) {
	key, keys := vecKey(name, labels)
	s.mu.Lock()
	vec, ok := s.histograms[key]
	if !ok {
		vec = promauto.With(s.registry).NewHistogramVec(prometheus.HistogramOpts{
			Namespace: s.namespace,
			Name:      name,
			Help:      "heromessaging duration " + name,
			Buckets:   prometheus.DefBuckets,
		}, keys)
		s.histograms[key] = vec
	}
	s.mu.Unlock()
	vec.With(labelValues(labels, keys)).Observe(d.Seconds())
}

func (s *Sink) RecordValue(name string, value float64, labels map[string]string) {
	key, keys := vecKey(name, labels)
	s.mu.Lock()
	vec, ok := s.gauges[key]
	if !ok {
		vec = promauto.With(s.registry).NewGaugeVec(prometheus.GaugeOpts{
			Namespace: s.namespace,
			Name:      name,
			Help:      "heromessaging value " + name,
		}, keys)
		s.gauges[key] = vec
	}
	s.mu.Unlock()
	vec.With(labelValues(labels, keys)).Set(value)
}
