package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	heromessaging "github.com/heromessaging/hero-messaging"
	"github.com/heromessaging/hero-messaging/internal/errs"
	"github.com/heromessaging/hero-messaging/ports"
)

type stubUnitOfWork struct {
	committed  bool
	rolledBack bool
	released   bool
	commitErr  error
}

func (u *stubUnitOfWork) Commit(ctx context.Context) error {
	u.committed = true
	return u.commitErr
}

func (u *stubUnitOfWork) Rollback(ctx context.Context) error {
	u.rolledBack = true
	return nil
}

func (u *stubUnitOfWork) Release(ctx context.Context) error {
	u.released = true
	return nil
}

// TestTransactionDecoratorCommitsOnSuccess verifies a successful inner result
// commits the unit of work.
func TestTransactionDecoratorCommitsOnSuccess(t *testing.T) {
	uow := &stubUnitOfWork{}
	factory := func(ctx context.Context) (ports.UnitOfWork, error) { return uow, nil }
	inner := ProcessorFunc(func(ctx context.Context, message heromessaging.Message, pc heromessaging.ProcessingContext) heromessaging.ProcessingResult {
		return heromessaging.Successful("ok")
	})

	d := NewTransactionDecorator(inner, factory, ports.IsolationReadCommitted, false)
	result := d.Process(context.Background(), heromessaging.NewCommand(time.Now(), "p"), heromessaging.NewProcessingContext("test"))

	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if !uow.committed {
		t.Error("expected commit on success")
	}
	if uow.rolledBack {
		t.Error("expected no rollback on success")
	}
}

// TestTransactionDecoratorRollsBackOnFailure verifies a failed inner result
// rolls back rather than committing.
func TestTransactionDecoratorRollsBackOnFailure(t *testing.T) {
	uow := &stubUnitOfWork{}
	factory := func(ctx context.Context) (ports.UnitOfWork, error) { return uow, nil }
	inner := ProcessorFunc(func(ctx context.Context, message heromessaging.Message, pc heromessaging.ProcessingContext) heromessaging.ProcessingResult {
		return heromessaging.Failed(errs.NewHandlerError("E", "boom", nil), "boom")
	})

	d := NewTransactionDecorator(inner, factory, ports.IsolationReadCommitted, false)
	result := d.Process(context.Background(), heromessaging.NewCommand(time.Now(), "p"), heromessaging.NewProcessingContext("test"))

	if result.Success {
		t.Fatal("expected failure result to propagate")
	}
	if uow.committed {
		t.Error("expected no commit on failure")
	}
	if !uow.rolledBack {
		t.Error("expected rollback on failure")
	}
}

// TestTransactionDecoratorCommitsReadOnFailureWhenCommitEvenOnRead verifies a
// query that "fails" (no handler error, just read-miss semantics) still
// commits when CommitEvenOnRead is set, to release read locks consistently.
func TestTransactionDecoratorCommitsReadOnFailureWhenCommitEvenOnRead(t *testing.T) {
	uow := &stubUnitOfWork{}
	factory := func(ctx context.Context) (ports.UnitOfWork, error) { return uow, nil }
	inner := ProcessorFunc(func(ctx context.Context, message heromessaging.Message, pc heromessaging.ProcessingContext) heromessaging.ProcessingResult {
		return heromessaging.Failed(errs.NewHandlerError("NOT_FOUND", "no rows", nil), "not found")
	})

	d := NewTransactionDecorator(inner, factory, ports.IsolationReadCommitted, true)
	query := heromessaging.NewQuery(time.Now(), "p")
	d.Process(context.Background(), query, heromessaging.NewProcessingContext("test"))

	if !uow.committed {
		t.Error("expected commit even on a failed read when CommitEvenOnRead is set")
	}
	if uow.rolledBack {
		t.Error("expected no rollback when CommitEvenOnRead commits instead")
	}
}

// TestTransactionDecoratorSkipsWhenFactoryNil verifies a nil Factory bypasses
// transactional wrapping entirely.
func TestTransactionDecoratorSkipsWhenFactoryNil(t *testing.T) {
	called := false
	inner := ProcessorFunc(func(ctx context.Context, message heromessaging.Message, pc heromessaging.ProcessingContext) heromessaging.ProcessingResult {
		called = true
		return heromessaging.Successful("ok")
	})

	d := NewTransactionDecorator(inner, nil, ports.IsolationReadCommitted, false)
	result := d.Process(context.Background(), heromessaging.NewCommand(time.Now(), "p"), heromessaging.NewProcessingContext("test"))

	if !called || !result.Success {
		t.Fatalf("expected inner invoked directly, got called=%v result=%+v", called, result)
	}
}

// TestTransactionDecoratorSurfacesFactoryError verifies a failing Factory
// returns an InfrastructureError failure without invoking inner.
func TestTransactionDecoratorSurfacesFactoryError(t *testing.T) {
	called := false
	factory := func(ctx context.Context) (ports.UnitOfWork, error) { return nil, errors.New("db unavailable") }
	inner := ProcessorFunc(func(ctx context.Context, message heromessaging.Message, pc heromessaging.ProcessingContext) heromessaging.ProcessingResult {
		called = true
		return heromessaging.Successful("ok")
	})

	d := NewTransactionDecorator(inner, factory, ports.IsolationReadCommitted, false)
	result := d.Process(context.Background(), heromessaging.NewCommand(time.Now(), "p"), heromessaging.NewProcessingContext("test"))

	if called {
		t.Error("expected inner not invoked when factory fails")
	}
	if result.Success || result.Exception.Kind != errs.InfrastructureError {
		t.Fatalf("expected InfrastructureError failure, got %+v", result)
	}
}

// TestTransactionDecoratorSurfacesCommitError verifies a commit error is
// surfaced as an InfrastructureError failure even though inner succeeded.
func TestTransactionDecoratorSurfacesCommitError(t *testing.T) {
	uow := &stubUnitOfWork{commitErr: errors.New("commit failed")}
	factory := func(ctx context.Context) (ports.UnitOfWork, error) { return uow, nil }
	inner := ProcessorFunc(func(ctx context.Context, message heromessaging.Message, pc heromessaging.ProcessingContext) heromessaging.ProcessingResult {
		return heromessaging.Successful("ok")
	})

	d := NewTransactionDecorator(inner, factory, ports.IsolationReadCommitted, false)
	result := d.Process(context.Background(), heromessaging.NewCommand(time.Now(), "p"), heromessaging.NewProcessingContext("test"))

	if result.Success {
		t.Fatal("expected commit failure to surface as a failed result")
	}
	if result.Exception.Kind != errs.InfrastructureError {
		t.Errorf("expected InfrastructureError kind, got %v", result.Exception.Kind)
	}
}

// TestTransactionDecoratorReleasesOnEveryOutcome verifies Release runs
// regardless of whether the path committed, rolled back, or the commit
// itself failed — it must not depend on Commit/Rollback having already run.
func TestTransactionDecoratorReleasesOnEveryOutcome(t *testing.T) {
	cases := []struct {
		name  string
		inner Processor
	}{
		{"commit", ProcessorFunc(func(ctx context.Context, message heromessaging.Message, pc heromessaging.ProcessingContext) heromessaging.ProcessingResult {
			return heromessaging.Successful("ok")
		})},
		{"rollback", ProcessorFunc(func(ctx context.Context, message heromessaging.Message, pc heromessaging.ProcessingContext) heromessaging.ProcessingResult {
			return heromessaging.Failed(errs.NewHandlerError("E", "boom", nil), "boom")
		})},
	}
	for _, c := range cases {
		uow := &stubUnitOfWork{}
		factory := func(ctx context.Context) (ports.UnitOfWork, error) { return uow, nil }
		d := NewTransactionDecorator(c.inner, factory, ports.IsolationReadCommitted, false)
		d.Process(context.Background(), heromessaging.NewCommand(time.Now(), "p"), heromessaging.NewProcessingContext("test"))
		if !uow.released {
			t.Errorf("%s: expected Release to be called", c.name)
		}
	}
}

// TestTransactionDecoratorReleasesOnInnerPanic verifies the unit of work is
// released even when Inner panics, since Release runs via defer right after
// the unit of work opens — never reachable only through the Commit/Rollback
// branches.
func TestTransactionDecoratorReleasesOnInnerPanic(t *testing.T) {
	uow := &stubUnitOfWork{}
	factory := func(ctx context.Context) (ports.UnitOfWork, error) { return uow, nil }
	inner := ProcessorFunc(func(ctx context.Context, message heromessaging.Message, pc heromessaging.ProcessingContext) heromessaging.ProcessingResult {
		panic("handler exploded")
	})
	d := NewTransactionDecorator(inner, factory, ports.IsolationReadCommitted, false)

	func() {
		defer func() { recover() }()
		d.Process(context.Background(), heromessaging.NewCommand(time.Now(), "p"), heromessaging.NewProcessingContext("test"))
	}()

	if !uow.released {
		t.Error("expected Release to be called even though Inner panicked")
	}
}
