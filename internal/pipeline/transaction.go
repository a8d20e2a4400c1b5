package pipeline

import (
	"context"

	heromessaging "github.com/heromessaging/hero-messaging"
	"github.com/heromessaging/hero-messaging/internal/errs"
	"github.com/heromessaging/hero-messaging/ports"
)

// TransactionDecorator opens a unit-of-work at a configurable isolation
// level, invokes inner, commits on success, rolls back on any thrown error or
// a returned failure result, then returns the result. The query variant
// (CommitEvenOnRead) commits even for read operations to release locks
// consistently (spec §4.2.10). Release is deferred immediately after the
// unit of work opens so the underlying session is always ended — even if
// Inner panics — regardless of which of Commit/Rollback, if either, already
// ran. Narrowed from the teacher's internal/platform/common/unit_of_work.go
// UnitOfWork interface (Commit/CommitDelete/CommitAll) to the
// single-aggregate commit/rollback/release shape this core needs; concrete
// transactional stores are out of core scope (spec §1).
type TransactionDecorator struct {
	Inner           Processor
	Factory         func(ctx context.Context) (ports.UnitOfWork, error)
	Level           ports.IsolationLevel
	CommitEvenOnRead bool
}

func NewTransactionDecorator(inner Processor, factory func(ctx context.Context) (ports.UnitOfWork, error), level ports.IsolationLevel, commitEvenOnRead bool) Processor {
	return &TransactionDecorator{Inner: inner, Factory: factory, Level: level, CommitEvenOnRead: commitEvenOnRead}
}

func (d *TransactionDecorator) Process(ctx context.Context, message heromessaging.Message, pc heromessaging.ProcessingContext) heromessaging.ProcessingResult {
	if d.Factory == nil {
		return d.Inner.Process(ctx, message, pc)
	}

	uow, err := d.Factory(ctx)
	if err != nil {
		return heromessaging.Failed(errs.NewInfrastructure("UOW_OPEN_FAILED", err.Error(), err), "failed to open unit of work")
	}
	defer uow.Release(ctx)

	result := d.Inner.Process(ctx, message, pc)

	isRead := message.Kind() == heromessaging.KindQuery
	shouldCommit := result.Success || (isRead && d.CommitEvenOnRead)

	if shouldCommit {
		if cerr := uow.Commit(ctx); cerr != nil {
			return heromessaging.Failed(errs.NewInfrastructure("COMMIT_FAILED", cerr.Error(), cerr), "commit failed")
		}
		return result
	}

	_ = uow.Rollback(ctx)
	return result
}
