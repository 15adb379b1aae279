package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrTxRetriesExhausted is returned when a contended transaction still fails
// after the bounded retries. The operation is safe to retry end to end.
var ErrTxRetriesExhausted = errors.New("transaction retries exhausted")

const (
	maxTxAttempts  = 3
	txRetryBackoff = 50 * time.Millisecond
)

// runSerializableTx runs fn inside a serializable transaction, retrying a
// bounded number of times on serialization or deadlock failures with a
// linear backoff. Exhaustion surfaces as ErrTxRetriesExhausted, never as a
// partial update.
func runSerializableTx(ctx context.Context, pool *pgxpool.Pool, fn func(ctx context.Context, tx pgx.Tx) error) error {
	var lastErr error

	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err := pgx.BeginTxFunc(ctx, pool, pgx.TxOptions{IsoLevel: pgx.Serializable}, func(tx pgx.Tx) error {
			return fn(ctx, tx)
		})
		if err == nil {
			return nil
		}
		if !isRetryableTxError(err) {
			return err
		}

		lastErr = err
		if attempt < maxTxAttempts {
			select {
			case <-time.After(time.Duration(attempt) * txRetryBackoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	return fmt.Errorf("%w: %w", ErrTxRetriesExhausted, lastErr)
}

// Postgres SQLSTATEs worth retrying: serialization_failure and
// deadlock_detected.
func isRetryableTxError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}
