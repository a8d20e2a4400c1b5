package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	heromessaging "github.com/heromessaging/hero-messaging"
	"github.com/heromessaging/hero-messaging/internal/clock"
	"github.com/heromessaging/hero-messaging/internal/errs"
)

func defaultBatchConfig() BatchConfig {
	return BatchConfig{
		Enabled:                true,
		MaxBatchSize:           10,
		MinBatchSize:           1,
		BatchTimeout:           time.Second,
		MaxDegreeOfParallelism: 1,
		ContinueOnFailure:      true,
	}
}

// TestBatchDecoratorBypassesQueueWhenDisabled verifies a disabled config
// calls inner synchronously with no background loop involved.
func TestBatchDecoratorBypassesQueueWhenDisabled(t *testing.T) {
	mc := clock.NewManual(time.Unix(0, 0))
	inner := ProcessorFunc(func(ctx context.Context, message heromessaging.Message, pc heromessaging.ProcessingContext) heromessaging.ProcessingResult {
		return heromessaging.Successful("direct")
	})

	d := NewBatchDecorator(inner, mc, BatchConfig{Enabled: false})
	result := d.Process(context.Background(), heromessaging.NewCommand(time.Now(), "p"), heromessaging.NewProcessingContext("test"))

	if !result.Success || result.Value != "direct" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

// TestBatchDecoratorFlushesOnTimeout verifies a single enqueued item is
// flushed once the configured timeout elapses, without reaching MaxBatchSize.
// Exercises the mandated synchronization protocol directly (spec §4.5.3, §8
// Scenario 6): wait for loop-ready-to-wait, advance virtual time, await
// iteration-complete. The item is enqueued directly (under d.mu, same
// ordering the halt test below uses) so its arrival strictly happens-before
// the readyToWait read and the Advance call that follows it, in the same
// goroutine — this is what guards against the loop's timer racing ahead of
// (or behind) the signal a consumer synchronizes on.
func TestBatchDecoratorFlushesOnTimeout(t *testing.T) {
	mc := clock.NewManual(time.Unix(0, 0))
	var processedCount int32
	inner := ProcessorFunc(func(ctx context.Context, message heromessaging.Message, pc heromessaging.ProcessingContext) heromessaging.ProcessingResult {
		atomic.AddInt32(&processedCount, 1)
		return heromessaging.Successful("ok")
	})

	d := NewBatchDecorator(inner, mc, defaultBatchConfig())
	defer d.Dispose()

	item := &batchItem{
		ctx:     context.Background(),
		message: heromessaging.NewCommand(time.Now(), "p"),
		pc:      heromessaging.NewProcessingContext("test"),
		done:    make(chan heromessaging.ProcessingResult, 1),
	}
	d.mu.Lock()
	d.queue = append(d.queue, item)
	d.count = 1
	d.mu.Unlock()

	<-d.LoopReadyToWait()
	mc.Advance(time.Second)
	<-d.IterationComplete()

	select {
	case result := <-item.done:
		if !result.Success {
			t.Fatalf("expected success, got %+v", result)
		}
	default:
		t.Fatal("expected the item to be completed by the end of the flush iteration")
	}
	if atomic.LoadInt32(&processedCount) != 1 {
		t.Fatalf("expected inner invoked once, got %d", processedCount)
	}
}

// TestBatchDecoratorFlushesImmediatelyAtMaxBatchSize verifies reaching
// MaxBatchSize triggers a flush without waiting for the timeout.
func TestBatchDecoratorFlushesImmediatelyAtMaxBatchSize(t *testing.T) {
	mc := clock.NewManual(time.Unix(0, 0))
	var processedCount int32
	inner := ProcessorFunc(func(ctx context.Context, message heromessaging.Message, pc heromessaging.ProcessingContext) heromessaging.ProcessingResult {
		atomic.AddInt32(&processedCount, 1)
		return heromessaging.Successful("ok")
	})

	cfg := defaultBatchConfig()
	cfg.MaxBatchSize = 3
	cfg.BatchTimeout = time.Hour // effectively disabled for this test
	d := NewBatchDecorator(inner, mc, cfg)
	defer d.Dispose()

	var wg sync.WaitGroup
	results := make([]heromessaging.ProcessingResult, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = d.Process(context.Background(), heromessaging.NewCommand(time.Now(), "p"), heromessaging.NewProcessingContext("test"))
		}(i)
	}

	waitDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitDone)
	}()

	select {
	case <-waitDone:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for max-batch-size flush")
	}

	for _, r := range results {
		if !r.Success {
			t.Fatalf("unexpected result: %+v", r)
		}
	}
	if atomic.LoadInt32(&processedCount) != 3 {
		t.Fatalf("expected 3 items processed, got %d", processedCount)
	}
}

// TestBatchDecoratorHaltsOnFailureWhenContinueOnFailureFalse verifies the
// sequential-processing path halts remaining items in the batch after the
// first failure when ContinueOnFailure is false. Items are enqueued directly
// in a known order (rather than via concurrent Process calls, whose queue
// arrival order is not guaranteed) so the halt boundary is deterministic.
func TestBatchDecoratorHaltsOnFailureWhenContinueOnFailureFalse(t *testing.T) {
	mc := clock.NewManual(time.Unix(0, 0))
	inner := ProcessorFunc(func(ctx context.Context, message heromessaging.Message, pc heromessaging.ProcessingContext) heromessaging.ProcessingResult {
		cmd := message.(*heromessaging.Command)
		idx := cmd.Payload.(int)
		if idx == 1 {
			return heromessaging.Failed(errs.NewHandlerError("E", "fail", nil), "fail")
		}
		return heromessaging.Successful("ok")
	})

	cfg := defaultBatchConfig()
	cfg.MaxBatchSize = 100
	cfg.BatchTimeout = time.Hour
	cfg.ContinueOnFailure = false
	d := NewBatchDecorator(inner, mc, cfg)
	defer d.Dispose()

	items := make([]*batchItem, 3)
	for i := 0; i < 3; i++ {
		items[i] = &batchItem{
			ctx:     context.Background(),
			message: heromessaging.NewCommand(time.Now(), i),
			pc:      heromessaging.NewProcessingContext("test"),
			done:    make(chan heromessaging.ProcessingResult, 1),
		}
	}

	d.mu.Lock()
	d.queue = append(d.queue, items...)
	d.count = len(items)
	d.mu.Unlock()
	d.emit(d.flushTrigger)

	results := make([]heromessaging.ProcessingResult, 3)
	for i, it := range items {
		select {
		case results[i] = <-it.done:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for item %d's result", i)
		}
	}

	if !results[0].Success {
		t.Errorf("expected item 0 to succeed before the halt, got %+v", results[0])
	}
	if results[1].Success {
		t.Error("expected item 1 (the failing item) to fail")
	}
	if results[2].Success {
		t.Error("expected item 2 to be halted after item 1's failure")
	}
}

// TestBatchDecoratorDisposeDrainsRemainingItems verifies Dispose processes
// any items still queued, individually, rather than dropping them. Enqueues
// directly and synchronizes on LoopReadyToWait for the same reason
// TestBatchDecoratorFlushesOnTimeout does: the enqueue must happen-before
// Dispose is called, in program order, so Dispose can't race the loop's
// still-arming timer.
func TestBatchDecoratorDisposeDrainsRemainingItems(t *testing.T) {
	mc := clock.NewManual(time.Unix(0, 0))
	var processedCount int32
	inner := ProcessorFunc(func(ctx context.Context, message heromessaging.Message, pc heromessaging.ProcessingContext) heromessaging.ProcessingResult {
		atomic.AddInt32(&processedCount, 1)
		return heromessaging.Successful("ok")
	})

	cfg := defaultBatchConfig()
	cfg.MaxBatchSize = 100
	cfg.BatchTimeout = time.Hour
	d := NewBatchDecorator(inner, mc, cfg)

	item := &batchItem{
		ctx:     context.Background(),
		message: heromessaging.NewCommand(time.Now(), "p"),
		pc:      heromessaging.NewProcessingContext("test"),
		done:    make(chan heromessaging.ProcessingResult, 1),
	}
	d.mu.Lock()
	d.queue = append(d.queue, item)
	d.count = 1
	d.mu.Unlock()

	<-d.LoopReadyToWait()
	d.Dispose()

	select {
	case result := <-item.done:
		if !result.Success {
			t.Fatalf("expected the queued item to be drained on dispose, got %+v", result)
		}
	default:
		t.Fatal("expected dispose to drain the queue synchronously")
	}
	if atomic.LoadInt32(&processedCount) != 1 {
		t.Fatalf("expected 1 item processed via drain, got %d", processedCount)
	}
}
