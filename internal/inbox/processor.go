// Package inbox implements the Inbox Pattern (spec §4.4): deduplicates
// incoming messages and dispatches them into the in-process pipeline exactly
// once. Grounded on internal/outbox/processor.go's architecture (same
// single-poller, status-based claim shape), specialized to receive-
// deduplicate-dispatch semantics; the teacher has no direct Inbox equivalent
// — its closest analog, ReceiptHandleUpdatable in internal/queue/queue.go,
// only models SQS receipt-handle redelivery, generalized here into a full
// dedup+dispatch processor.
package inbox

import (
	"context"
	"log/slog"
	"time"

	heromessaging "github.com/heromessaging/hero-messaging"
	"github.com/heromessaging/hero-messaging/internal/clock"
	"github.com/heromessaging/hero-messaging/ports"
)

// Dispatcher routes a decoded message into the in-process pipeline. The
// root package's facadeDispatcher satisfies this by running the Facade's
// command and event pipelines.
type Dispatcher interface {
	DispatchCommand(ctx context.Context, cmd *heromessaging.Command) heromessaging.ProcessingResult
	DispatchEvent(ctx context.Context, e *heromessaging.Event) heromessaging.ProcessingResult
}

// Config configures the Inbox processor; cadence matches Outbox (spec §4.4).
type Config struct {
	BatchSize        int
	FastPollInterval time.Duration
	SlowPollInterval time.Duration
	RetentionWindow  time.Duration
}

func DefaultConfig() Config {
	return Config{
		BatchSize:        50,
		FastPollInterval: 100 * time.Millisecond,
		SlowPollInterval: 5 * time.Second,
		RetentionWindow:  7 * 24 * time.Hour,
	}
}

type Processor struct {
	Storage    ports.Storage
	Dispatcher Dispatcher
	Leader     ports.LeaderElector
	Clock      clock.Provider
	Config     Config
	Log        *slog.Logger

	stop    chan struct{}
	stopped chan struct{}
}

func New(storage ports.Storage, dispatcher Dispatcher, cfg Config) *Processor {
	return &Processor{
		Storage:    storage,
		Dispatcher: dispatcher,
		Leader:     ports.AlwaysLeader{},
		Clock:      clock.Real{},
		Config:     cfg,
		Log:        slog.Default(),
		stop:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
}

// ProcessIncoming implements spec §4.4's processIncoming: if
// RequireIdempotency, consult the duplicate check using messageId and the
// configured window; on duplicate return false without invoking handlers.
// Otherwise insert a Pending entry; a nil/errored insert (race) also returns
// false. Returns true to acknowledge acceptance.
func (p *Processor) ProcessIncoming(ctx context.Context, message heromessaging.Message, opts ports.EntryOptions) (bool, error) {
	if opts.RequireIdempotency {
		dup, err := p.Storage.IsDuplicate(ctx, message.Envelope().MessageID, opts.DeduplicationWindow)
		if err != nil {
			return false, err
		}
		if dup {
			return false, nil
		}
	}

	entry, err := p.Storage.Add(ctx, message, opts)
	if err != nil {
		return false, err
	}
	if entry == nil {
		return false, nil
	}
	return true, nil
}

func (p *Processor) Start(ctx context.Context) {
	go p.runPoller(ctx)
}

func (p *Processor) Stop(ctx context.Context) error {
	close(p.stop)
	select {
	case <-p.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Processor) runPoller(ctx context.Context) {
	defer close(p.stopped)
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
			p.Log.Error("inbox poll failed", slog.String("error", err.Error()))
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

func (p *Processor) doPoll(ctx context.Context) (bool, error) {
	entries, err := p.Storage.GetUnprocessed(ctx, p.Config.BatchSize)
	if err != nil {
		return false, err
	}
	if len(entries) == 0 {
		return false, nil
	}

	for _, e := range entries {
		ok, err := p.Storage.MarkProcessing(ctx, e.ID)
		if err != nil || !ok {
			continue
		}
		p.dispatchOne(ctx, e)
	}
	return true, nil
}

func (p *Processor) dispatchOne(ctx context.Context, e *ports.Entry) {
	var result heromessaging.ProcessingResult

	switch msg := e.Message.(type) {
	case *heromessaging.Command:
		result = p.Dispatcher.DispatchCommand(ctx, msg)
	case *heromessaging.Event:
		result = p.Dispatcher.DispatchEvent(ctx, msg)
	default:
		p.Log.Warn("inbox entry has unroutable message variant, marking processed with no side effect", slog.String("id", e.ID))
		_ = p.Storage.MarkProcessed(ctx, e.ID)
		return
	}

	if result.Success {
		_ = p.Storage.MarkProcessed(ctx, e.ID)
		return
	}

	msg := "handler failed"
	if result.Exception != nil {
		msg = result.Exception.Error()
	}
	_ = p.Storage.MarkFailed(ctx, e.ID, time.Time{}, msg)
}
