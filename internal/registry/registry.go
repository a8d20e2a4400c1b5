// Package registry implements the dispatch registry (spec §4.1): type-keyed
// maps from message type to handler(s), resolved and invoked by the facade,
// with lock-free per-type counters and a rolling duration window. Grounded on
// the teacher's startup-phase handler registration convention (handlers wired
// once in cmd/*/main.go) and on internal/router/pool/pool.go's atomic gauge
// idiom for the counters/ring buffer.
package registry

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	heromessaging "github.com/heromessaging/hero-messaging"
)

// ErrNoHandler is returned when send(command) finds no registered handler.
var ErrNoHandler = errors.New("no handler registered for message type")

// CommandHandler handles exactly one command type.
type CommandHandler func(ctx context.Context, cmd *heromessaging.Command) heromessaging.ProcessingResult

// QueryHandler handles exactly one query type.
type QueryHandler func(ctx context.Context, q *heromessaging.Query) heromessaging.ProcessingResult

// EventHandler handles one event type; multiple may be registered per type.
type EventHandler func(ctx context.Context, e *heromessaging.Event) heromessaging.ProcessingResult

const durationWindowSize = 100

type typeStats struct {
	processedCount atomic.Int64
	failedCount    atomic.Int64

	mu         sync.Mutex
	durations  [durationWindowSize]time.Duration
	writeIndex uint64 // monotonic
	filled     int
}

func (s *typeStats) record(d time.Duration, failed bool) {
	s.processedCount.Add(1)
	if failed {
		s.failedCount.Add(1)
	}
	s.mu.Lock()
	idx := s.writeIndex % durationWindowSize
	s.durations[idx] = d
	s.writeIndex++
	if s.filled < durationWindowSize {
		s.filled++
	}
	s.mu.Unlock()
}

// Stats is a snapshot of a message type's counters.
type Stats struct {
	ProcessedCount int64
	FailedCount    int64
	AverageLatency time.Duration
}

func (s *typeStats) snapshot() Stats {
	s.mu.Lock()
	var sum time.Duration
	for i := 0; i < s.filled; i++ {
		sum += s.durations[i]
	}
	avg := time.Duration(0)
	if s.filled > 0 {
		avg = sum / time.Duration(s.filled)
	}
	s.mu.Unlock()
	return Stats{
		ProcessedCount: s.processedCount.Load(),
		FailedCount:    s.failedCount.Load(),
		AverageLatency: avg,
	}
}

// Registry maintains the three type-keyed mappings (spec §4.1). Registration
// is a one-time setup step; the maps are read-only during normal operation —
// Register* must not be called concurrently with Send/Publish.
type Registry struct {
	commands map[reflect.Type]CommandHandler
	queries  map[reflect.Type]QueryHandler
	events   map[reflect.Type][]EventHandler

	stats sync.Map // reflect.Type -> *typeStats

	eventConcurrency atomic.Int64
}

func New() *Registry {
	r := &Registry{
		commands: make(map[reflect.Type]CommandHandler),
		queries:  make(map[reflect.Type]QueryHandler),
		events:   make(map[reflect.Type][]EventHandler),
	}
	r.eventConcurrency.Store(1)
	return r
}

func (r *Registry) RegisterCommand(payloadType reflect.Type, h CommandHandler) {
	r.commands[payloadType] = h
}

func (r *Registry) RegisterQuery(payloadType reflect.Type, h QueryHandler) {
	r.queries[payloadType] = h
}

func (r *Registry) RegisterEvent(payloadType reflect.Type, h EventHandler) {
	r.events[payloadType] = append(r.events[payloadType], h)
}

// SetEventConcurrency bounds how many event handlers for a single Publish may
// run concurrently. Default is 1 (sequential, registration order), matching
// spec §4.1's registration-order invocation default while allowing an
// override — adapted from internal/router/pool/pool.go's UpdateConcurrency.
func (r *Registry) SetEventConcurrency(n int) {
	if n < 1 {
		n = 1
	}
	r.eventConcurrency.Store(int64(n))
}

func (r *Registry) statsFor(t reflect.Type) *typeStats {
	v, _ := r.stats.LoadOrStore(t, &typeStats{})
	return v.(*typeStats)
}

// StatsFor returns a snapshot of a payload type's counters.
func (r *Registry) StatsFor(payloadType reflect.Type) Stats {
	if v, ok := r.stats.Load(payloadType); ok {
		return v.(*typeStats).snapshot()
	}
	return Stats{}
}

// Send invokes the single registered command handler, or ErrNoHandler if
// none is registered. Handler errors propagate verbatim; a cancelled ctx
// short-circuits before handler entry (spec §4.1).
func (r *Registry) Send(ctx context.Context, cmd *heromessaging.Command, now func() time.Time) heromessaging.ProcessingResult {
	t := reflect.TypeOf(cmd.Payload)
	h, ok := r.commands[t]
	if !ok {
		return heromessaging.Failed(nil, ErrNoHandler.Error())
	}
	if err := ctx.Err(); err != nil {
		return heromessaging.Failed(nil, "cancelled before handler entry")
	}

	stats := r.statsFor(t)
	start := now()
	result := h(ctx, cmd)
	stats.record(now().Sub(start), !result.Success)
	return result
}

// SendQuery invokes the single registered query handler.
func (r *Registry) SendQuery(ctx context.Context, q *heromessaging.Query, now func() time.Time) heromessaging.ProcessingResult {
	t := reflect.TypeOf(q.Payload)
	h, ok := r.queries[t]
	if !ok {
		return heromessaging.Failed(nil, ErrNoHandler.Error())
	}
	if err := ctx.Err(); err != nil {
		return heromessaging.Failed(nil, "cancelled before handler entry")
	}

	stats := r.statsFor(t)
	start := now()
	result := h(ctx, q)
	stats.record(now().Sub(start), !result.Success)
	return result
}

// Publish invokes every handler registered for the event's type in
// registration order. Failures of one handler do not cancel siblings unless
// continueOnFailure is false (spec §5). With SetEventConcurrency above 1 the
// handlers run concurrently instead: every handler runs, continueOnFailure is
// not applied, and results stay indexed by registration position.
func (r *Registry) Publish(ctx context.Context, e *heromessaging.Event, continueOnFailure bool, now func() time.Time) []heromessaging.ProcessingResult {
	t := reflect.TypeOf(e.Payload)
	handlers := r.events[t]
	if len(handlers) == 0 {
		return nil
	}

	stats := r.statsFor(t)
	concurrency := int(r.eventConcurrency.Load())

	results := make([]heromessaging.ProcessingResult, len(handlers))
	if concurrency <= 1 {
		for i, h := range handlers {
			if err := ctx.Err(); err != nil {
				results[i] = heromessaging.Failed(nil, "cancelled before handler entry")
				continue
			}
			start := now()
			results[i] = h(ctx, e)
			stats.record(now().Sub(start), !results[i].Success)
			if !results[i].Success && !continueOnFailure {
				for j := i + 1; j < len(handlers); j++ {
					results[j] = heromessaging.Failed(nil, "skipped after earlier handler failure")
				}
				break
			}
		}
		return results
	}

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	for i, h := range handlers {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, h EventHandler) {
			defer wg.Done()
			defer func() { <-sem }()
			start := now()
			results[i] = h(ctx, e)
			stats.record(now().Sub(start), !results[i].Success)
		}(i, h)
	}
	wg.Wait()
	return results
}
