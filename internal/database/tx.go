package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

type txKey struct{}

// InTx reports whether ctx already carries an open transaction.
func InTx(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{}).(*sql.Tx)
	return ok
}

// WithinTx runs fn inside one transaction. Repositories called with the
// context passed to fn join it through Conn. Nested calls reuse the outer
// transaction. Serialization failures and deadlocks replay fn from scratch.
func (db *DB) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if InTx(ctx) {
		return fn(ctx)
	}

	var err error
	for attempt := 1; attempt <= db.txRetries; attempt++ {
		err = db.runTx(ctx, fn)
		if err == nil || !isRetryableError(err) {
			return err
		}
		if attempt < db.txRetries {
			slog.Warn("Transaction aborted, retrying",
				"attempt", attempt, "max_retries", db.txRetries, "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * 50 * time.Millisecond):
			}
		}
	}
	return fmt.Errorf("transaction failed after %d attempts: %w", db.txRetries, err)
}

func (db *DB) runTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	tx, err := db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.Error("Failed to rollback transaction", "error", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
