package heromessaging

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/heromessaging/hero-messaging/internal/clock"
	"github.com/heromessaging/hero-messaging/internal/errs"
	"github.com/heromessaging/hero-messaging/internal/inbox"
	"github.com/heromessaging/hero-messaging/internal/outbox"
	"github.com/heromessaging/hero-messaging/internal/pipeline"
	"github.com/heromessaging/hero-messaging/internal/registry"
	"github.com/heromessaging/hero-messaging/ports"
)

// ShutdownPhase orders the groups of hooks Facade.Stop runs, grounded on
// internal/common/lifecycle/manager.go's ShutdownPhase enum, renamed from the
// teacher's HTTP/Queue/Workers/Leader/Database phases to the intake gate plus
// the four processor families this core owns.
type ShutdownPhase int

const (
	PhasePipeline ShutdownPhase = iota // stop accepting new sends/queries/publishes
	PhaseBatch                         // dispose batch accumulators (spec §4.5.4)
	PhaseOutbox
	PhaseInbox
	PhaseFinal
)

func (p ShutdownPhase) String() string {
	switch p {
	case PhasePipeline:
		return "pipeline"
	case PhaseBatch:
		return "batch"
	case PhaseOutbox:
		return "outbox"
	case PhaseInbox:
		return "inbox"
	case PhaseFinal:
		return "final"
	default:
		return "unknown"
	}
}

var shutdownPhaseOrder = []ShutdownPhase{PhasePipeline, PhaseBatch, PhaseOutbox, PhaseInbox, PhaseFinal}

// ShutdownHook is one named unit of shutdown work within a phase, grounded on
// lifecycle.Manager's ShutdownHook{Name,Phase,Timeout,Shutdown}. Every hook
// within a phase runs concurrently; phases run in shutdownPhaseOrder.
type ShutdownHook struct {
	Name     string
	Phase    ShutdownPhase
	Timeout  time.Duration
	Shutdown func(ctx context.Context) error
}

// Facade exposes send/publish/enqueue/batch entry points and owns the
// lifecycle of the background Outbox/Inbox/Batch processors (spec §4.6).
// Grounded on internal/common/lifecycle/manager.go's phased, parallel-per-
// phase graceful shutdown, adapted from the teacher's HTTP/Queue/Workers/
// Leader/Database phases to the four processor families this core owns.
type Facade struct {
	registry *registry.Registry
	commands pipeline.Processor
	queries  pipeline.Processor
	events   pipeline.Processor

	batch *pipeline.BatchDecorator // always set; passes straight through when batching is disabled

	outboxProc *outbox.Processor
	inboxProc  *inbox.Processor

	clock clock.Provider
	log   *slog.Logger

	shutdownTimeout time.Duration
	hooks           []ShutdownHook
	stopped         atomic.Bool
}

// RegisterShutdownHook adds a hook to the named phase; Builder.Build already
// registers the pipeline-intake, batch-dispose and outbox/inbox stop hooks —
// this is for hosts adding their own (closing a transport connection,
// flushing a cache) without overriding Stop.
func (f *Facade) RegisterShutdownHook(h ShutdownHook) {
	f.hooks = append(f.hooks, h)
}

// facadeDispatcher adapts the Facade to inbox.Dispatcher without creating an
// import cycle (inbox depends only on the root package's types).
type facadeDispatcher struct{ f *Facade }

func (d facadeDispatcher) DispatchCommand(ctx context.Context, cmd *Command) ProcessingResult {
	return d.f.commands.Process(ctx, cmd, NewProcessingContext("inbox"))
}

func (d facadeDispatcher) DispatchEvent(ctx context.Context, e *Event) ProcessingResult {
	return d.f.events.Process(ctx, e, NewProcessingContext("inbox"))
}

// Start starts the background Outbox and Inbox processors (if configured).
func (f *Facade) Start(ctx context.Context) error {
	if f.outboxProc != nil {
		if err := f.outboxProc.Start(ctx); err != nil {
			return fmt.Errorf("starting outbox processor: %w", err)
		}
	}
	if f.inboxProc != nil {
		f.inboxProc.Start(ctx)
	}
	return nil
}

// Stop runs shutdownPhaseOrder's phases in sequence, each phase's hooks in
// parallel, honoring both the overall shutdownTimeout and each hook's own
// Timeout (spec [FULL-4.7]). Builder.Build registers the default hooks
// (pipeline intake gate, batch dispose, outbox stop, inbox stop); hosts may
// add more via RegisterShutdownHook.
func (f *Facade) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, f.shutdownTimeout)
	defer cancel()

	byPhase := make(map[ShutdownPhase][]ShutdownHook, len(shutdownPhaseOrder))
	for _, h := range f.hooks {
		byPhase[h.Phase] = append(byPhase[h.Phase], h)
	}

	for _, phase := range shutdownPhaseOrder {
		hooks := byPhase[phase]
		if len(hooks) == 0 {
			continue
		}
		if err := f.runPhase(ctx, hooks); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("shutdown timed out: %w", err)
	}
	return nil
}

func (f *Facade) runPhase(ctx context.Context, hooks []ShutdownHook) error {
	var wg sync.WaitGroup
	errCh := make(chan error, len(hooks))
	for _, h := range hooks {
		wg.Add(1)
		go func(h ShutdownHook) {
			defer wg.Done()
			errCh <- f.runHook(ctx, h)
		}(h)
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return nil
}

func (f *Facade) runHook(ctx context.Context, h ShutdownHook) error {
	hookCtx := ctx
	if h.Timeout > 0 {
		var cancel context.CancelFunc
		hookCtx, cancel = context.WithTimeout(ctx, h.Timeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() { done <- h.Shutdown(hookCtx) }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("shutdown hook %q: %w", h.Name, err)
		}
		return nil
	case <-hookCtx.Done():
		return fmt.Errorf("shutdown hook %q: %w", h.Name, hookCtx.Err())
	}
}

// errStopped is returned once PhasePipeline's intake-gate hook has run, so
// calls racing the start of Stop fail fast instead of entering a pipeline
// that's about to dispose its batch accumulator out from under them.
var errStopped = errs.NewPolicyDenied("FACADE_STOPPED", "facade is shutting down, no longer accepting new work", 0)

// Send dispatches a command through the pipeline and returns its result
// (spec §4.6).
func (f *Facade) Send(ctx context.Context, cmd *Command) ProcessingResult {
	if f.stopped.Load() {
		return Failed(errStopped, errStopped.Message)
	}
	return f.commands.Process(ctx, cmd, NewProcessingContext("facade.send"))
}

// Query dispatches a query through the pipeline.
func (f *Facade) Query(ctx context.Context, q *Query) ProcessingResult {
	if f.stopped.Load() {
		return Failed(errStopped, errStopped.Message)
	}
	return f.queries.Process(ctx, q, NewProcessingContext("facade.query"))
}

// Publish invokes every handler registered for the event's type.
func (f *Facade) Publish(ctx context.Context, e *Event) ProcessingResult {
	if f.stopped.Load() {
		return Failed(errStopped, errStopped.Message)
	}
	return f.events.Process(ctx, e, NewProcessingContext("facade.publish"))
}

// SendBatch dispatches each command through the pipeline and returns one
// result per input in order (spec §4.6).
func (f *Facade) SendBatch(ctx context.Context, cmds []*Command) []ProcessingResult {
	results := make([]ProcessingResult, len(cmds))
	for i, c := range cmds {
		results[i] = f.Send(ctx, c)
	}
	return results
}

// PublishBatch publishes each event and returns one result per input in
// order.
func (f *Facade) PublishBatch(ctx context.Context, events []*Event) []ProcessingResult {
	results := make([]ProcessingResult, len(events))
	for i, e := range events {
		results[i] = f.Publish(ctx, e)
	}
	return results
}

// Enqueue hands a message to the outbox for reliable background publication.
func (f *Facade) Enqueue(ctx context.Context, message any, queueName string, opts EnqueueOptions) (*OutboxReceipt, error) {
	if f.outboxProc == nil {
		return nil, fmt.Errorf("heromessaging: no outbox configured")
	}
	entry, err := f.outboxProc.Publish(ctx, message, ports.EntryOptions{
		Destination: queueName,
		MaxAttempts: opts.MaxAttempts,
		Delay:       opts.Delay,
	})
	if err != nil {
		return nil, err
	}
	return &OutboxReceipt{ID: entry.ID}, nil
}

// EnqueueOptions configures an Enqueue call.
type EnqueueOptions struct {
	MaxAttempts int
	Delay       time.Duration
}

// OutboxReceipt is returned by Enqueue.
type OutboxReceipt struct{ ID string }

// RegisterCommandHandler registers the single handler for command payload
// type P, keyed the same way Registry.Send looks a handler up —
// reflect.TypeOf(cmd.Payload) — so P must match the concrete type passed to
// NewCommand. The response is wrapped as R via ProcessingResult.Value.
func RegisterCommandHandler[P, R any](f *Facade, handler func(ctx context.Context, cmd *Command, payload P) (R, error)) {
	var zero P
	t := reflect.TypeOf(zero)
	f.registry.RegisterCommand(t, func(ctx context.Context, cmd *Command) ProcessingResult {
		payload, ok := cmd.Payload.(P)
		if !ok {
			return Failed(errs.NewValidation("PAYLOAD_TYPE_MISMATCH", fmt.Sprintf("expected payload %T, got %T", zero, cmd.Payload)), "payload type mismatch")
		}
		v, err := handler(ctx, cmd, payload)
		if err != nil {
			return Failed(errs.FromError(err), err.Error())
		}
		return Successful(v)
	})
}

// RegisterQueryHandler is RegisterCommandHandler's query-side counterpart.
func RegisterQueryHandler[P, R any](f *Facade, handler func(ctx context.Context, q *Query, payload P) (R, error)) {
	var zero P
	t := reflect.TypeOf(zero)
	f.registry.RegisterQuery(t, func(ctx context.Context, q *Query) ProcessingResult {
		payload, ok := q.Payload.(P)
		if !ok {
			return Failed(errs.NewValidation("PAYLOAD_TYPE_MISMATCH", fmt.Sprintf("expected payload %T, got %T", zero, q.Payload)), "payload type mismatch")
		}
		v, err := handler(ctx, q, payload)
		if err != nil {
			return Failed(errs.FromError(err), err.Error())
		}
		return Successful(v)
	})
}

// RegisterEventHandler registers one more handler for event payload type P
// (in addition to any already registered); handlers fire in registration
// order (spec §4.1).
func RegisterEventHandler[P any](f *Facade, handler func(ctx context.Context, e *Event, payload P) error) {
	var zero P
	t := reflect.TypeOf(zero)
	f.registry.RegisterEvent(t, func(ctx context.Context, e *Event) ProcessingResult {
		payload, ok := e.Payload.(P)
		if !ok {
			return Failed(errs.NewValidation("PAYLOAD_TYPE_MISMATCH", fmt.Sprintf("expected payload %T, got %T", zero, e.Payload)), "payload type mismatch")
		}
		if err := handler(ctx, e, payload); err != nil {
			return Failed(errs.FromError(err), err.Error())
		}
		return Successful(nil)
	})
}

// Send is the generic facade entry point: it delegates to the non-generic
// pipeline (internal state stays any-typed) and type-asserts the response at
// the boundary, the adaptation of internal/platform/common/result.go's
// Result[T] pattern to a dynamic decorator chain rather than a single static
// call site.
func Send[R any](ctx context.Context, f *Facade, cmd *Command) (R, error) {
	result := f.Send(ctx, cmd)
	return assertResult[R](result)
}

// SendQuery is Send's query-side counterpart.
func SendQuery[R any](ctx context.Context, f *Facade, q *Query) (R, error) {
	result := f.Query(ctx, q)
	return assertResult[R](result)
}

func assertResult[R any](result ProcessingResult) (R, error) {
	var zero R
	if !result.Success {
		if result.Exception != nil {
			return zero, result.Exception
		}
		return zero, fmt.Errorf("%s", result.Message)
	}
	if result.Value == nil {
		return zero, nil
	}
	v, ok := result.Value.(R)
	if !ok {
		return zero, fmt.Errorf("heromessaging: handler returned %T, expected %T", result.Value, zero)
	}
	return v, nil
}

