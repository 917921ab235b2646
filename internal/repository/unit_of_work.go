package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/openpubs/publications-api/internal/outbox"
)

// ErrConcurrentUpdate is returned when a compare-and-swap status update
// matched zero rows: the persisted status no longer equals the status
// observed when the transition began.
var ErrConcurrentUpdate = errors.New("concurrent status update")

// UnitOfWork runs a function inside one transaction with an attached effect
// queue. Effects scheduled during the function run only after a successful
// commit; a rollback discards them.
type UnitOfWork struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewUnitOfWork constructs the wrapper.
func NewUnitOfWork(db *sqlx.DB, logger *zap.Logger) *UnitOfWork {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UnitOfWork{db: db, logger: logger}
}

// Do begins a transaction, invokes fn, and commits. The outbox is flushed
// after commit; any error before commit rolls back and discards the outbox.
func (u *UnitOfWork) Do(ctx context.Context, fn func(ctx context.Context, tx *sqlx.Tx, fx *outbox.Queue) error) error {
	tx, err := u.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	fx := outbox.NewQueue(u.logger)

	if err := fn(ctx, tx, fx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			u.logger.Error("rollback failed", zap.Error(rbErr))
		}
		fx.Discard()
		return err
	}

	if err := tx.Commit(); err != nil {
		fx.Discard()
		return fmt.Errorf("commit transaction: %w", err)
	}

	fx.Flush(ctx)
	return nil
}
