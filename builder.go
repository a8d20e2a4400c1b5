package heromessaging

import (
	"context"
	"log/slog"
	"time"

	"github.com/heromessaging/hero-messaging/internal/clock"
	"github.com/heromessaging/hero-messaging/internal/inbox"
	"github.com/heromessaging/hero-messaging/internal/outbox"
	"github.com/heromessaging/hero-messaging/internal/pipeline"
	"github.com/heromessaging/hero-messaging/internal/registry"
	"github.com/heromessaging/hero-messaging/ports"
)

// PipelineConfig configures every decorator in the chain (spec §4.2). Zero
// values disable the corresponding decorator where that makes sense (e.g.
// Validators == nil skips ValidationDecorator's aggregation work, since an
// empty validator set always succeeds; RateLimiter == nil omits
// RateLimitingDecorator entirely).
type PipelineConfig struct {
	Validators   []ports.Validator
	RateLimiter  ports.RateLimiter
	Idempotency  IdempotencyConfig
	CircuitBreaker pipeline.CircuitBreakerConfig
	Retry        RetryConfig
	ErrorHandler ports.ErrorHandler
	Transaction  TransactionConfig
	Batch        pipeline.BatchConfig
	MetricsSink  ports.MetricsSink
	Logger       *slog.Logger
}

type IdempotencyConfig struct {
	Enabled bool
	Store   ports.IdempotencyStore
	TTL     time.Duration
}

type RetryConfig struct {
	MaxRetries   int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64
}

type TransactionConfig struct {
	Factory          func(ctx context.Context) (ports.UnitOfWork, error)
	Level            ports.IsolationLevel
	CommitEvenOnRead bool
}

// DefaultPipelineConfig returns a pipeline with every optional decorator
// using an in-process, dependency-light default (no-op metrics sink, always-
// escalate error handler, in-memory idempotency store, no rate limiting, no
// circuit breaking, retry disabled). Hosts override individual fields or
// swap in adapters/* implementations.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		Idempotency: IdempotencyConfig{Enabled: false},
		Retry:       RetryConfig{MaxRetries: 0, BaseDelay: 50 * time.Millisecond, MaxDelay: 5 * time.Second, JitterFactor: 0.2},
		Batch:       pipeline.BatchConfig{Enabled: false, MaxBatchSize: 10, MinBatchSize: 1, BatchTimeout: time.Second, MaxDegreeOfParallelism: 1, ContinueOnFailure: true},
		MetricsSink: noopMetricsSink{},
		Logger:      slog.Default(),
	}
}

type noopMetricsSink struct{}

func (noopMetricsSink) IncrementCounter(string, float64, map[string]string) {}
func (noopMetricsSink) RecordDuration(string, time.Duration, map[string]string) {}
func (noopMetricsSink) RecordValue(string, float64, map[string]string) {}

type inMemoryIdempotencyStore struct {
	store map[string]idempotencyEntry
}

type idempotencyEntry struct {
	value    any
	expiresAt time.Time
}

func newInMemoryIdempotencyStore() *inMemoryIdempotencyStore {
	return &inMemoryIdempotencyStore{store: make(map[string]idempotencyEntry)}
}

func (s *inMemoryIdempotencyStore) Get(ctx context.Context, fingerprint string) (any, bool, error) {
	e, ok := s.store[fingerprint]
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false, nil
	}
	return e.value, true, nil
}

func (s *inMemoryIdempotencyStore) Put(ctx context.Context, fingerprint string, response any, ttl time.Duration) error {
	s.store[fingerprint] = idempotencyEntry{value: response, expiresAt: time.Now().Add(ttl)}
	return nil
}

type escalateErrorHandler struct{}

func (escalateErrorHandler) Handle(ctx context.Context, message any, cause error, ec ports.ErrorContext) ports.ErrorDecision {
	return ports.ErrorDecision{Action: ports.ActionEscalate}
}

// Builder assembles a Facade from a PipelineConfig, handler registrations and
// optional Outbox/Inbox storage (spec §4.6: "constructs the pipeline from the
// configured builder").
type Builder struct {
	reg             *registry.Registry
	pipelineConfig  PipelineConfig
	clock           clock.Provider
	outboxStorage   ports.Storage
	outboxPublisher ports.TransportPublisher
	outboxConfig    outbox.Config
	inboxStorage    ports.Storage
	inboxConfig     inbox.Config
	leader          ports.LeaderElector
	shutdownTimeout time.Duration
}

func NewBuilder() *Builder {
	return &Builder{
		reg:             registry.New(),
		pipelineConfig:  DefaultPipelineConfig(),
		clock:           clock.Real{},
		outboxConfig:    outbox.DefaultConfig(),
		inboxConfig:     inbox.DefaultConfig(),
		leader:          ports.AlwaysLeader{},
		shutdownTimeout: 30 * time.Second,
	}
}

func (b *Builder) WithPipelineConfig(cfg PipelineConfig) *Builder { b.pipelineConfig = cfg; return b }
func (b *Builder) WithClock(c clock.Provider) *Builder            { b.clock = c; return b }
func (b *Builder) WithLeaderElector(l ports.LeaderElector) *Builder { b.leader = l; return b }
func (b *Builder) WithShutdownTimeout(d time.Duration) *Builder   { b.shutdownTimeout = d; return b }

func (b *Builder) WithOutbox(storage ports.Storage, publisher ports.TransportPublisher, cfg outbox.Config) *Builder {
	b.outboxStorage, b.outboxPublisher, b.outboxConfig = storage, publisher, cfg
	return b
}

func (b *Builder) WithInbox(storage ports.Storage, cfg inbox.Config) *Builder {
	b.inboxStorage, b.inboxConfig = storage, cfg
	return b
}

// Registry exposes the underlying dispatch registry for
// RegisterCommandHandler/RegisterQueryHandler/RegisterEventHandler.
func (b *Builder) Registry() *registry.Registry { return b.reg }

// Build constructs the decorator chain in spec §4.2's canonical order —
// CorrelationContext, Logging, Metrics, Validation, RateLimiting, Batch,
// Idempotency, CircuitBreaker, Retry, ErrorHandling, Transaction, Handler
// Invocation — and wires the Facade.
func (b *Builder) Build() *Facade {
	cfg := b.pipelineConfig
	if cfg.MetricsSink == nil {
		cfg.MetricsSink = noopMetricsSink{}
	}
	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = escalateErrorHandler{}
	}
	if cfg.Idempotency.Enabled && cfg.Idempotency.Store == nil {
		cfg.Idempotency.Store = newInMemoryIdempotencyStore()
	}

	f := &Facade{
		registry:        b.reg,
		clock:           b.clock,
		log:             cfg.Logger,
		shutdownTimeout: b.shutdownTimeout,
	}
	if f.log == nil {
		f.log = slog.Default()
	}

	terminal := pipeline.ProcessorFunc(func(ctx context.Context, message Message, pc ProcessingContext) ProcessingResult {
		switch m := message.(type) {
		case *Command:
			return b.reg.Send(ctx, m, b.clock.Now)
		case *Query:
			return b.reg.SendQuery(ctx, m, b.clock.Now)
		case *Event:
			results := b.reg.Publish(ctx, m, cfg.Batch.ContinueOnFailure, b.clock.Now)
			for _, r := range results {
				if !r.Success {
					return r
				}
			}
			return Successful(nil)
		default:
			return Failed(nil, "unsupported message variant")
		}
	})

	var batchDecorator *pipeline.BatchDecorator
	build := func() pipeline.Processor {
		p := terminal
		p = withTransaction(p, cfg)
		p = withErrorHandling(p, b.clock, cfg)
		p = withRetry(p, b.clock, cfg)
		p = withCircuitBreaker(p, b.clock, cfg)
		p = withIdempotency(p, cfg)
		bp, wrapped := withBatch(p, b.clock, cfg)
		if bp != nil {
			batchDecorator = bp
		}
		p = wrapped
		p = withRateLimiting(p, cfg)
		p = withValidation(p, cfg)
		p = pipeline.NewMetricsDecorator(p, b.clock, cfg.MetricsSink)
		p = pipeline.NewLoggingDecorator(p, b.clock, cfg.Logger)
		p = pipeline.NewCorrelationContextDecorator(p)
		return p
	}

	chain := build()
	f.commands, f.queries, f.events = chain, chain, chain
	f.batch = batchDecorator

	if b.outboxStorage != nil && b.outboxPublisher != nil {
		op := outbox.New(b.outboxStorage, b.outboxPublisher, b.outboxConfig)
		op.Clock = b.clock
		op.Leader = b.leader
		op.Log = f.log
		f.outboxProc = op
	}
	if b.inboxStorage != nil {
		ip := inbox.New(b.inboxStorage, facadeDispatcher{f: f}, b.inboxConfig)
		ip.Clock = b.clock
		ip.Leader = b.leader
		ip.Log = f.log
		f.inboxProc = ip
	}

	f.RegisterShutdownHook(ShutdownHook{
		Name:  "pipeline-intake",
		Phase: PhasePipeline,
		Shutdown: func(ctx context.Context) error {
			f.stopped.Store(true)
			return nil
		},
	})
	if f.batch != nil {
		f.RegisterShutdownHook(ShutdownHook{
			Name:  "batch-dispose",
			Phase: PhaseBatch,
			Shutdown: func(ctx context.Context) error {
				f.batch.Dispose()
				return nil
			},
		})
	}
	if f.outboxProc != nil {
		f.RegisterShutdownHook(ShutdownHook{
			Name:     "outbox-stop",
			Phase:    PhaseOutbox,
			Timeout:  b.shutdownTimeout,
			Shutdown: f.outboxProc.Stop,
		})
	}
	if f.inboxProc != nil {
		f.RegisterShutdownHook(ShutdownHook{
			Name:     "inbox-stop",
			Phase:    PhaseInbox,
			Timeout:  b.shutdownTimeout,
			Shutdown: f.inboxProc.Stop,
		})
	}

	return f
}

func withValidation(inner pipeline.Processor, cfg PipelineConfig) pipeline.Processor {
	return pipeline.NewValidationDecorator(inner, cfg.Validators...)
}

func withRateLimiting(inner pipeline.Processor, cfg PipelineConfig) pipeline.Processor {
	if cfg.RateLimiter == nil {
		return inner
	}
	return pipeline.NewRateLimitingDecorator(inner, cfg.RateLimiter)
}

func withBatch(inner pipeline.Processor, c clock.Provider, cfg PipelineConfig) (*pipeline.BatchDecorator, pipeline.Processor) {
	bd := pipeline.NewBatchDecorator(inner, c, cfg.Batch)
	return bd, bd
}

func withIdempotency(inner pipeline.Processor, cfg PipelineConfig) pipeline.Processor {
	if !cfg.Idempotency.Enabled {
		return inner
	}
	return pipeline.NewIdempotencyDecorator(inner, cfg.Idempotency.Store, cfg.Idempotency.TTL)
}

func withCircuitBreaker(inner pipeline.Processor, c clock.Provider, cfg PipelineConfig) pipeline.Processor {
	if cfg.CircuitBreaker.SamplingDuration == 0 {
		return inner
	}
	return pipeline.NewCircuitBreakerDecorator(inner, c, cfg.CircuitBreaker)
}

func withRetry(inner pipeline.Processor, c clock.Provider, cfg PipelineConfig) pipeline.Processor {
	if cfg.Retry.MaxRetries <= 0 {
		return inner
	}
	policy := pipeline.ExponentialBackoffPolicy{BaseDelay: cfg.Retry.BaseDelay, MaxDelay: cfg.Retry.MaxDelay, JitterFactor: cfg.Retry.JitterFactor}
	return pipeline.NewRetryDecorator(inner, c, policy, cfg.Retry.MaxRetries)
}

func withErrorHandling(inner pipeline.Processor, c clock.Provider, cfg PipelineConfig) pipeline.Processor {
	return pipeline.NewErrorHandlingDecorator(inner, c, cfg.ErrorHandler, cfg.Retry.MaxRetries)
}

func withTransaction(inner pipeline.Processor, cfg PipelineConfig) pipeline.Processor {
	if cfg.Transaction.Factory == nil {
		return inner
	}
	return pipeline.NewTransactionDecorator(inner, cfg.Transaction.Factory, cfg.Transaction.Level, cfg.Transaction.CommitEvenOnRead)
}
