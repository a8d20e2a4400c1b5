// Package outbox implements the Outbox Pattern (spec §4.3): publish-then-
// commit with a background flush that publishes persisted entries at least
// once. Entries that a crash leaves in Processing are not returned to Pending
// and are not published again: the poller only claims Pending entries.
//
// Grounded on the teacher's internal/outbox/processor.go: single-poller,
// status-based claim semantics with NO row locking (safety comes from the
// conditional Pending→Processing transition plus, optionally, a single
// leader across a fleet) and adaptive-cadence polling. The teacher's per-message-group FIFO fan-out
// (MessageGroupProcessor) is dropped — spec's Outbox has no message-group
// ordering requirement, only per-entry claim/retry (spec §5) — replaced with
// a flat bounded worker pool over claimed batches.
package outbox

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/heromessaging/hero-messaging/internal/clock"
	"github.com/heromessaging/hero-messaging/ports"
)

// Config configures the Outbox processor.
type Config struct {
	BatchSize            int
	MaxAttempts          int
	FastPollInterval     time.Duration // 100ms per spec §4.3
	SlowPollInterval     time.Duration // 5s per spec §4.3
	RecoveryInterval     time.Duration
	StuckThreshold       time.Duration
	RetentionWindow      time.Duration
	Concurrency          int
}

// DefaultConfig mirrors spec §4.3's cadence.
func DefaultConfig() Config {
	return Config{
		BatchSize:        50,
		MaxAttempts:      5,
		FastPollInterval: 100 * time.Millisecond,
		SlowPollInterval: 5 * time.Second,
		RecoveryInterval: time.Minute,
		StuckThreshold:   5 * time.Minute,
		RetentionWindow:  7 * 24 * time.Hour,
		Concurrency:      4,
	}
}

// Processor runs the background publish loop. Multiple worker goroutines may
// claim entries; correctness against double-claim races relies entirely on
// Storage.MarkProcessing's atomic conditional transition (spec §4.3).
type Processor struct {
	Storage   ports.Storage
	Publisher ports.TransportPublisher
	Leader    ports.LeaderElector
	Clock     clock.Provider
	Config    Config
	Log       *slog.Logger

	deadLetter func(ctx context.Context, entry *ports.Entry)

	stop    chan struct{}
	stopped chan struct{}
}

func New(storage ports.Storage, publisher ports.TransportPublisher, cfg Config) *Processor {
	return &Processor{
		Storage:   storage,
		Publisher: publisher,
		Leader:    ports.AlwaysLeader{},
		Clock:     clock.Real{},
		Config:    cfg,
		Log:       slog.Default(),
		stop:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
}

// OnDeadLetter registers the sink entries route to after exhausting
// MaxAttempts (spec §4.3: "Entries reaching Failed are routed to a dead-letter
// sink").
func (p *Processor) OnDeadLetter(fn func(ctx context.Context, entry *ports.Entry)) {
	p.deadLetter = fn
}

// Publish inserts a Pending entry (spec §4.3's publishToOutbox).
func (p *Processor) Publish(ctx context.Context, message any, opts ports.EntryOptions) (*ports.Entry, error) {
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = p.Config.MaxAttempts
	}
	return p.Storage.Add(ctx, message, opts)
}

// Start calls recoverStuck (which resets nothing) then launches the poller
// and the periodic loop, which only removes entries older than
// RetentionWindow. It returns once both background goroutines have started.
func (p *Processor) Start(ctx context.Context) error {
	if err := p.recoverStuck(ctx); err != nil {
		p.Log.Warn("outbox crash recovery failed", slog.String("error", err.Error()))
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); p.runPoller(ctx) }()
	go func() { defer wg.Done(); p.runPeriodicRecovery(ctx) }()

	go func() {
		wg.Wait()
		close(p.stopped)
	}()
	return nil
}

// Stop signals the background loops to exit and waits for them.
func (p *Processor) Stop(ctx context.Context) error {
	close(p.stop)
	select {
	case <-p.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Processor) recoverStuck(ctx context.Context) error {
	cutoff := p.Config.StuckThreshold
	_ = cutoff // no-op: ports.Storage has no query for entries stuck in Processing
	return nil
}

// runPoller implements the adaptive-cadence polling loop: 100ms when the
// last poll returned work, 5s when it returned none (spec §4.3).
func (p *Processor) runPoller(ctx context.Context) {
	interval := p.Config.SlowPollInterval
	for {
		select {
		case <-p.stop:
			return
		case <-ctx.Done():
			return
		case <-p.Clock.After(interval):
		}

		if !p.Leader.IsLeader() {
			interval = p.Config.SlowPollInterval
			continue
		}

		found, err := p.doPoll(ctx)
		if err != nil {
			p.Log.Error("outbox poll failed", slog.String("error", err.Error()))
			interval = p.Config.SlowPollInterval
			continue
		}
		if found {
			interval = p.Config.FastPollInterval
		} else {
			interval = p.Config.SlowPollInterval
		}
	}
}

// doPoll fetches one batch of pending entries, claims them, and dispatches
// them to a bounded worker pool. Returns true if any entries were found.
func (p *Processor) doPoll(ctx context.Context) (bool, error) {
	entries, err := p.Storage.GetUnprocessed(ctx, p.Config.BatchSize)
	if err != nil {
		return false, err
	}
	if len(entries) == 0 {
		return false, nil
	}

	var claimed []*ports.Entry
	for _, e := range entries {
		ok, err := p.Storage.MarkProcessing(ctx, e.ID)
		if err != nil {
			p.Log.Error("failed to claim outbox entry", slog.String("id", e.ID), slog.String("error", err.Error()))
			continue
		}
		if ok {
			claimed = append(claimed, e)
		}
		// !ok means another worker already claimed it (or it is no longer
		// pending) — a no-op, not a double publish (spec §4.3).
	}

	p.processBatch(ctx, claimed)
	return true, nil
}

func (p *Processor) processBatch(ctx context.Context, entries []*ports.Entry) {
	concurrency := p.Config.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	for _, e := range entries {
		wg.Add(1)
		sem <- struct{}{}
		go func(e *ports.Entry) {
			defer wg.Done()
			defer func() { <-sem }()
			p.processOne(ctx, e)
		}(e)
	}
	wg.Wait()
}

func (p *Processor) processOne(ctx context.Context, e *ports.Entry) {
	result := p.Publisher.Publish(ctx, e)
	if result.Success {
		if err := p.Storage.MarkProcessed(ctx, e.ID); err != nil {
			p.Log.Error("failed to mark outbox entry processed", slog.String("id", e.ID), slog.String("error", err.Error()))
		}
		return
	}

	maxAttempts := e.Options.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = p.Config.MaxAttempts
	}

	errMsg := "publish failed"
	if result.Err != nil {
		errMsg = result.Err.Error()
	}

	if !result.Retryable || e.AttemptCount+1 >= maxAttempts {
		if err := p.Storage.MarkFailed(ctx, e.ID, time.Time{}, errMsg); err != nil {
			p.Log.Error("failed to mark outbox entry failed", slog.String("id", e.ID), slog.String("error", err.Error()))
		}
		if p.deadLetter != nil {
			p.deadLetter(ctx, e)
		}
		return
	}

	next := p.Clock.Now().Add(retryDelay(e.AttemptCount))
	if err := p.Storage.MarkFailed(ctx, e.ID, next, errMsg); err != nil {
		p.Log.Error("failed to record outbox retry", slog.String("id", e.ID), slog.String("error", err.Error()))
	}
}

func retryDelay(attempt int) time.Duration {
	d := time.Second
	for i := 0; i < attempt && d < time.Minute; i++ {
		d *= 2
	}
	if d > time.Minute {
		d = time.Minute
	}
	return d
}

func (p *Processor) runPeriodicRecovery(ctx context.Context) {
	for {
		select {
		case <-p.stop:
			return
		case <-ctx.Done():
			return
		case <-p.Clock.After(p.Config.RecoveryInterval):
		}
		if !p.Leader.IsLeader() {
			continue
		}
		if _, err := p.Storage.CleanupOldEntries(ctx, p.Config.RetentionWindow); err != nil {
			p.Log.Error("outbox cleanup failed", slog.String("error", err.Error()))
		}
	}
}
