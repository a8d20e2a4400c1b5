package pipeline

import (
	"context"
	"sync"

	heromessaging "github.com/heromessaging/hero-messaging"
	"github.com/heromessaging/hero-messaging/internal/clock"
	"github.com/heromessaging/hero-messaging/internal/errs"
	"time"
)

// BatchConfig holds the recognized options from spec §4.5.
type BatchConfig struct {
	Enabled                        bool
	MaxBatchSize                   int
	MinBatchSize                   int
	BatchTimeout                   time.Duration
	MaxDegreeOfParallelism         int
	ContinueOnFailure              bool
	FallbackToIndividualProcessing bool
}

// batchItem is spec §3's BatchItem: a queued message awaiting its own
// completion result, delivered through done exactly once.
type batchItem struct {
	ctx     context.Context
	message heromessaging.Message
	pc      heromessaging.ProcessingContext
	done    chan heromessaging.ProcessingResult
}

// BatchDecorator accumulates messages into a queue and flushes on size or
// timeout, preserving the full per-message decorator chain beneath it and
// delivering each caller's exact result (spec §4.5). There is no teacher
// equivalent — internal/router/notification/batching.go is a bare
// mutex-protected snapshot-and-clear with no timeout-driven loop or
// test-synchronization protocol — this component follows spec §4.5 directly.
type BatchDecorator struct {
	Inner  Processor
	Clock  clock.Provider
	Config BatchConfig

	mu      sync.Mutex
	queue   []*batchItem
	count   int

	flushTrigger chan struct{} // signal semaphore, non-blocking send, capacity 1

	readyToWait     chan struct{} // producer-consumer counter, capacity 1
	iterationDone   chan struct{} // producer-consumer counter, capacity 1
	initializedOnce sync.Once
	initialized     chan struct{} // one-time latch

	stop    chan struct{}
	stopped chan struct{}
}

// NewBatchDecorator constructs the decorator and starts its flush loop,
// blocking until loop-initialized fires so callers are guaranteed the first
// timer exists before they advance virtual time (spec §4.5.3).
func NewBatchDecorator(inner Processor, c clock.Provider, cfg BatchConfig) *BatchDecorator {
	d := &BatchDecorator{
		Inner:         inner,
		Clock:         c,
		Config:        cfg,
		flushTrigger:  make(chan struct{}, 1),
		readyToWait:   make(chan struct{}, 1),
		iterationDone: make(chan struct{}, 1),
		initialized:   make(chan struct{}),
		stop:          make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	if cfg.Enabled {
		go d.flushLoop()
		<-d.initialized
	}
	return d
}

// LoopReadyToWait returns the producer-consumer signal emitted immediately
// before the loop arms its timeout/trigger wait. Each emit is consumed by at
// most one waiter — callers must not rely on it as a broadcast latch.
func (d *BatchDecorator) LoopReadyToWait() <-chan struct{} { return d.readyToWait }

// IterationComplete returns the producer-consumer signal emitted at the end
// of every loop iteration, including zero-item timeouts.
func (d *BatchDecorator) IterationComplete() <-chan struct{} { return d.iterationDone }

func (d *BatchDecorator) emit(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Process implements the enqueue protocol (spec §4.5.1). When disabled,
// bypasses the queue and calls inner synchronously.
func (d *BatchDecorator) Process(ctx context.Context, message heromessaging.Message, pc heromessaging.ProcessingContext) heromessaging.ProcessingResult {
	if !d.Config.Enabled {
		return d.Inner.Process(ctx, message, pc)
	}

	item := &batchItem{ctx: ctx, message: message, pc: pc, done: make(chan heromessaging.ProcessingResult, 1)}

	d.mu.Lock()
	d.queue = append(d.queue, item)
	d.count++
	reachedMax := d.count >= d.Config.MaxBatchSize
	d.mu.Unlock()

	if reachedMax {
		d.emit(d.flushTrigger)
	}

	select {
	case result := <-item.done:
		return result
	case <-ctx.Done():
		return heromessaging.Failed(errs.NewTransient("CANCELLED", "cancelled awaiting batch completion", ctx.Err()), "cancelled")
	}
}

func (d *BatchDecorator) flushLoop() {
	defer close(d.stopped)

	for {
		timeoutCh := d.Clock.After(d.Config.BatchTimeout)
		d.initializedOnce.Do(func() { close(d.initialized) })
		d.emit(d.readyToWait)

		select {
		case <-d.stop:
			d.drainAndFinish()
			return
		case <-d.flushTrigger:
		case <-timeoutCh:
		}

		d.mu.Lock()
		queuedCount := d.count
		d.count = 0
		var drained []*batchItem
		if queuedCount > 0 {
			n := queuedCount
			if n > d.Config.MaxBatchSize {
				n = d.Config.MaxBatchSize
			}
			if n > len(d.queue) {
				n = len(d.queue)
			}
			drained = d.queue[:n]
			d.queue = d.queue[n:]
		}
		d.mu.Unlock()

		if len(drained) == 0 {
			d.emit(d.iterationDone)
			continue
		}

		d.processDrained(drained)
		d.emit(d.iterationDone)
	}
}

func (d *BatchDecorator) processDrained(items []*batchItem) {
	if len(items) < d.Config.MinBatchSize {
		for _, it := range items {
			d.completeOne(it)
		}
		return
	}

	func() {
		defer func() {
			if r := recover(); r != nil {
				d.recoverCatastrophic(items, r)
			}
		}()

		if d.Config.MaxDegreeOfParallelism <= 1 {
			for _, it := range items {
				result := d.runOne(it)
				it.done <- result
				if !result.Success && !d.Config.ContinueOnFailure {
					d.haltRemaining(items, it)
					return
				}
			}
			return
		}

		sem := make(chan struct{}, d.Config.MaxDegreeOfParallelism)
		var wg sync.WaitGroup
		for _, it := range items {
			wg.Add(1)
			sem <- struct{}{}
			go func(it *batchItem) {
				defer wg.Done()
				defer func() { <-sem }()
				it.done <- d.runOne(it)
			}(it)
		}
		wg.Wait()
	}()
}

func (d *BatchDecorator) haltRemaining(all []*batchItem, stoppedAt *batchItem) {
	halting := false
	info := errs.NewHandlerError("BATCH_HALTED", "processing halted after earlier batch item failure", nil)
	for _, it := range all {
		if it == stoppedAt {
			halting = true
			continue
		}
		if halting {
			it.done <- heromessaging.Failed(info, "processing halted")
		}
	}
}

func (d *BatchDecorator) recoverCatastrophic(items []*batchItem, r any) {
	if d.Config.FallbackToIndividualProcessing {
		for _, it := range items {
			select {
			case it.done <- d.runOne(it):
			default:
			}
		}
		return
	}
	info := errs.NewCritical("BATCH_PANIC", "catastrophic batch processing failure", nil)
	info.WithDetail("panic", r)
	for _, it := range items {
		select {
		case it.done <- heromessaging.Failed(info, "batch processing failed"):
		default:
		}
	}
}

func (d *BatchDecorator) completeOne(it *batchItem) {
	it.done <- d.runOne(it)
}

func (d *BatchDecorator) runOne(it *batchItem) heromessaging.ProcessingResult {
	if err := it.ctx.Err(); err != nil {
		return heromessaging.Failed(errs.NewTransient("CANCELLED", "cancelled", err), "cancelled")
	}
	return d.Inner.Process(it.ctx, it.message, it.pc)
}

// Dispose cancels the background flush loop, awaits its exit, drains
// remaining items, and processes them individually through inner to honor
// every outstanding future (spec §4.5.4).
func (d *BatchDecorator) Dispose() {
	if !d.Config.Enabled {
		return
	}
	close(d.stop)
	<-d.stopped
}

func (d *BatchDecorator) drainAndFinish() {
	d.mu.Lock()
	remaining := d.queue
	d.queue = nil
	d.count = 0
	d.mu.Unlock()

	for _, it := range remaining {
		d.completeOne(it)
	}
}
