package pipeline

import (
	"context"
	"sync"
	"time"

	heromessaging "github.com/heromessaging/hero-messaging"
	"github.com/heromessaging/hero-messaging/internal/clock"
	"github.com/heromessaging/hero-messaging/internal/errs"
)

// CircuitState is the three-state machine spec §4.2.7/GLOSSARY names.
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

type sample struct {
	at      time.Time
	success bool
}

// CircuitBreakerConfig configures a CircuitBreakerDecorator.
type CircuitBreakerConfig struct {
	FailureThreshold    int
	MinimumThroughput   int
	FailureRateThreshold float64 // 0..1
	SamplingDuration    time.Duration
	BreakDuration       time.Duration
}

// CircuitBreakerDecorator holds a CircuitBreakerState: before invoking inner
// it acquires the state lock and checks Closed (allow), Open (transition to
// HalfOpen and allow once breakDuration has elapsed, else reject), HalfOpen
// (allow). After completion it records success/failure into a continuously
// pruned sliding sample queue then evaluates the state transition (spec
// §4.2.7). Grounded on vaidashi-fault-tolerant-api's atomic/CAS breaker,
// extended with the sliding window sony/gobreaker's periodic-Counts-reset
// model cannot express — see DESIGN.md for why gobreaker is not used here.
type CircuitBreakerDecorator struct {
	Inner  Processor
	Clock  clock.Provider
	Config CircuitBreakerConfig

	mu                sync.Mutex
	state             CircuitState
	lastStateChange   time.Time
	halfOpenSuccesses int
	samples           []sample
}

func NewCircuitBreakerDecorator(inner Processor, c clock.Provider, cfg CircuitBreakerConfig) *CircuitBreakerDecorator {
	return &CircuitBreakerDecorator{
		Inner:           inner,
		Clock:           c,
		Config:          cfg,
		state:           StateClosed,
		lastStateChange: c.Now(),
	}
}

func (d *CircuitBreakerDecorator) State() CircuitState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *CircuitBreakerDecorator) Process(ctx context.Context, message heromessaging.Message, pc heromessaging.ProcessingContext) heromessaging.ProcessingResult {
	if !d.allow() {
		info := errs.NewPolicyDenied("CIRCUIT_OPEN", "circuit breaker is open", d.Config.BreakDuration.Milliseconds())
		return heromessaging.Failed(info, "circuit open")
	}

	var result heromessaging.ProcessingResult
	func() {
		defer func() {
			if r := recover(); r != nil {
				d.record(false, result)
				panic(r)
			}
		}()
		result = d.Inner.Process(ctx, message, pc)
		d.record(!d.isFailure(result), result)
	}()
	return result
}

func (d *CircuitBreakerDecorator) isFailure(result heromessaging.ProcessingResult) bool {
	return !result.Success
}

func (d *CircuitBreakerDecorator) allow() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.Clock.Now()
	switch d.state {
	case StateClosed:
		return true
	case StateOpen:
		if now.Sub(d.lastStateChange) >= d.Config.BreakDuration {
			d.transition(StateHalfOpen, now)
			return true
		}
		return false
	default: // StateHalfOpen
		return true
	}
}

func (d *CircuitBreakerDecorator) record(success bool, _ heromessaging.ProcessingResult) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.Clock.Now()
	d.samples = append(d.samples, sample{at: now, success: success})
	d.prune(now)

	switch d.state {
	case StateClosed:
		count, failures := len(d.samples), 0
		for _, s := range d.samples {
			if !s.success {
				failures++
			}
		}
		if count >= d.Config.MinimumThroughput {
			rate := float64(failures) / float64(count)
			if failures >= d.Config.FailureThreshold || rate >= d.Config.FailureRateThreshold {
				d.transition(StateOpen, now)
			}
		}
	case StateHalfOpen:
		if success {
			d.halfOpenSuccesses++
			if d.halfOpenSuccesses >= 3 {
				d.transition(StateClosed, now)
			}
		} else {
			d.transition(StateOpen, now)
		}
	}
}

func (d *CircuitBreakerDecorator) prune(now time.Time) {
	cutoff := now.Add(-d.Config.SamplingDuration)
	i := 0
	for i < len(d.samples) && d.samples[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		d.samples = append(d.samples[:0], d.samples[i:]...)
	}
}

func (d *CircuitBreakerDecorator) transition(to CircuitState, at time.Time) {
	d.state = to
	d.lastStateChange = at
	if to != StateHalfOpen {
		d.halfOpenSuccesses = 0
	}
	if to == StateClosed {
		d.samples = nil
	}
}
