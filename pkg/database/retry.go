package database

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ridepulse/dispatch/pkg/resilience"
)

// StoreRetryConfig is the retry policy for store operations: one retry
// with backoff, transient failures only. Constraint violations and other
// permanent errors surface immediately.
func StoreRetryConfig() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:       2,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        2 * time.Second,
		BackoffMultiplier: 2.0,
		EnableJitter:      true,
		RetryableChecker:  IsPostgresRetryable,
	}
}

// RetryableExec executes a statement with the store retry policy.
func RetryableExec(ctx context.Context, pool interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
}, query string, args ...interface{}) (pgconn.CommandTag, error) {
	result, err := resilience.RetryWithName(ctx, StoreRetryConfig(), func(ctx context.Context) (interface{}, error) {
		return pool.Exec(ctx, query, args...)
	}, "database.exec")
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	return result.(pgconn.CommandTag), nil
}

// RetryableTransaction runs fn inside a transaction with the store retry
// policy. The transaction is rolled back on error and retried only when
// the failure is transient.
func RetryableTransaction(ctx context.Context, pool interface {
	Begin(context.Context) (pgx.Tx, error)
}, fn func(pgx.Tx) error) error {
	_, err := resilience.RetryWithName(ctx, StoreRetryConfig(), func(ctx context.Context) (interface{}, error) {
		tx, err := pool.Begin(ctx)
		if err != nil {
			return nil, err
		}

		if err := fn(tx); err != nil {
			_ = tx.Rollback(ctx)
			return nil, err
		}

		if err := tx.Commit(ctx); err != nil {
			return nil, err
		}
		return nil, nil
	}, "database.transaction")

	return err
}

// IsPostgresRetryable reports whether a store error is transient.
func IsPostgresRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", // serialization_failure
			"40P01", // deadlock_detected
			"55P03", // lock_not_available
			"53300", // too_many_connections
			"57P01", // admin_shutdown
			"57P03", // cannot_connect_now
			"08000", "08003", "08006": // connection_exception
			return true
		}
		// Constraint violations, data exceptions, and syntax errors are
		// permanent.
		if strings.HasPrefix(pgErr.Code, "23") ||
			strings.HasPrefix(pgErr.Code, "22") ||
			strings.HasPrefix(pgErr.Code, "42") {
			return false
		}
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, fragment := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"network is unreachable",
		"timeout",
		"server closed",
		"unexpected eof",
	} {
		if strings.Contains(msg, fragment) {
			return true
		}
	}

	return false
}

// IsUniqueViolation reports whether err is a unique constraint violation,
// used to detect duplicate ride identifiers on insert.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
