package heromessaging

import (
	"context"
	"sync"
	"testing"
	"time"
)

// TestFacadeStopRunsPhasesInOrder verifies hooks registered across multiple
// phases run in shutdownPhaseOrder, with hooks inside a single phase running
// concurrently (no ordering guarantee between them).
func TestFacadeStopRunsPhasesInOrder(t *testing.T) {
	f := &Facade{shutdownTimeout: time.Second}

	var mu sync.Mutex
	var order []ShutdownPhase
	record := func(p ShutdownPhase) func(ctx context.Context) error {
		return func(ctx context.Context) error {
			mu.Lock()
			order = append(order, p)
			mu.Unlock()
			return nil
		}
	}

	f.RegisterShutdownHook(ShutdownHook{Name: "inbox", Phase: PhaseInbox, Shutdown: record(PhaseInbox)})
	f.RegisterShutdownHook(ShutdownHook{Name: "pipeline", Phase: PhasePipeline, Shutdown: record(PhasePipeline)})
	f.RegisterShutdownHook(ShutdownHook{Name: "outbox", Phase: PhaseOutbox, Shutdown: record(PhaseOutbox)})
	f.RegisterShutdownHook(ShutdownHook{Name: "batch", Phase: PhaseBatch, Shutdown: record(PhaseBatch)})
	f.RegisterShutdownHook(ShutdownHook{Name: "final", Phase: PhaseFinal, Shutdown: record(PhaseFinal)})

	if err := f.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	want := []ShutdownPhase{PhasePipeline, PhaseBatch, PhaseOutbox, PhaseInbox, PhaseFinal}
	if len(order) != len(want) {
		t.Fatalf("expected %d phases run, got %v", len(want), order)
	}
	for i, p := range want {
		if order[i] != p {
			t.Errorf("phase %d: expected %v, got %v (full order %v)", i, p, order[i], order)
		}
	}
}

// TestFacadeStopRunsHooksWithinAPhaseConcurrently verifies two hooks in the
// same phase both run without one blocking on the other.
func TestFacadeStopRunsHooksWithinAPhaseConcurrently(t *testing.T) {
	f := &Facade{shutdownTimeout: time.Second}

	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)
	f.RegisterShutdownHook(ShutdownHook{Name: "a", Phase: PhaseOutbox, Shutdown: func(ctx context.Context) error {
		wg.Done()
		<-release
		return nil
	}})
	f.RegisterShutdownHook(ShutdownHook{Name: "b", Phase: PhaseOutbox, Shutdown: func(ctx context.Context) error {
		wg.Done()
		<-release
		return nil
	}})

	done := make(chan error, 1)
	go func() { done <- f.Stop(context.Background()) }()

	waitDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitDone)
	}()

	select {
	case <-waitDone:
		close(release)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for both same-phase hooks to start concurrently")
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Stop: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Stop to return")
	}
}

// TestFacadeStopSurfacesHookError verifies a failing hook's error stops the
// remaining phases from running.
func TestFacadeStopSurfacesHookError(t *testing.T) {
	f := &Facade{shutdownTimeout: time.Second}

	laterRan := false
	f.RegisterShutdownHook(ShutdownHook{Name: "failing", Phase: PhasePipeline, Shutdown: func(ctx context.Context) error {
		return errStopped
	}})
	f.RegisterShutdownHook(ShutdownHook{Name: "later", Phase: PhaseFinal, Shutdown: func(ctx context.Context) error {
		laterRan = true
		return nil
	}})

	if err := f.Stop(context.Background()); err == nil {
		t.Fatal("expected Stop to surface the failing hook's error")
	}
	if laterRan {
		t.Error("expected the later phase not to run after an earlier phase failed")
	}
}

// TestFacadeStopRespectsPerHookTimeout verifies a hook exceeding its own
// Timeout fails Stop even though the overall shutdownTimeout has not elapsed.
func TestFacadeStopRespectsPerHookTimeout(t *testing.T) {
	f := &Facade{shutdownTimeout: time.Minute}
	f.RegisterShutdownHook(ShutdownHook{
		Name:    "slow",
		Phase:   PhasePipeline,
		Timeout: 10 * time.Millisecond,
		Shutdown: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	})

	err := f.Stop(context.Background())
	if err == nil {
		t.Fatal("expected Stop to fail once the hook's own timeout elapsed")
	}
}

// TestFacadeSendRejectsAfterPipelinePhase verifies Send fails fast once the
// pipeline-intake hook (registered by Builder.Build) has flipped the stopped
// flag, rather than entering a pipeline mid-teardown.
func TestFacadeSendRejectsAfterPipelinePhase(t *testing.T) {
	f := NewBuilder().Build()
	RegisterCommandHandler(f, func(ctx context.Context, cmd *Command, payload string) (string, error) {
		return payload, nil
	})

	if err := f.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	result := f.Send(context.Background(), NewCommand(time.Now(), "hello"))
	if result.Success {
		t.Fatal("expected Send to fail after Stop")
	}
	if result.Exception != errStopped {
		t.Errorf("expected the errStopped sentinel, got %+v", result.Exception)
	}
}
