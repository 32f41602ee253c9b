package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

const advisoryLockSQL = `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`

// Beginner starts transactions. *pgxpool.Pool satisfies it.
type Beginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// WithTx runs fn inside a RepeatableRead transaction. The transaction is
// rolled back when fn fails.
func WithTx(ctx context.Context, db Beginner, fn func(pgx.Tx) error) error {
	tx, err := db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("costing/db: begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("costing/db: commit tx: %w", err)
	}

	return nil
}

// WithLockedTx runs fn in WithTx after taking a transaction-scoped advisory
// lock on key. Writers sharing a key run one at a time.
func WithLockedTx(ctx context.Context, db Beginner, key string, fn func(pgx.Tx) error) error {
	return WithTx(ctx, db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, advisoryLockSQL, key); err != nil {
			return fmt.Errorf("costing/db: lock %s: %w", key, err)
		}
		return fn(tx)
	})
}
