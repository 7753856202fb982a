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

// Postgres error codes surfaced to repositories.
const (
	CodeUniqueViolation      = "23505"
	CodeForeignKeyViolation  = "23503"
	CodeSerializationFailure = "40001"
	CodeDeadlockDetected     = "40P01"
)

// DefaultSerializableAttempts bounds retries of serialization failures.
const DefaultSerializableAttempts = 5

// Beginner is satisfied by *pgxpool.Pool and pgx.Conn.
type Beginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

var _ Beginner = (*pgxpool.Pool)(nil)

// WithTx executes a function within a transaction using the RepeatableRead isolation level.
func WithTx(ctx context.Context, pool Beginner, fn func(pgx.Tx) error) error {
	return run(ctx, pool, pgx.TxOptions{IsoLevel: pgx.RepeatableRead}, fn)
}

// Conn is a dedicated connection that can hold session level advisory locks.
type Conn interface {
	Beginner
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	// Release returns the connection to its pool. A connection that may still hold a
	// session lock is released with healthy false and closed instead of reused.
	Release(healthy bool)
}

// Acquirer hands out dedicated connections.
type Acquirer interface {
	AcquireConn(ctx context.Context) (Conn, error)
}

// Dedicated adapts a pool so callers can pin one connection for a locked transaction.
func Dedicated(pool *pgxpool.Pool) Acquirer {
	return poolAcquirer{pool: pool}
}

type poolAcquirer struct {
	pool *pgxpool.Pool
}

func (a poolAcquirer) AcquireConn(ctx context.Context) (Conn, error) {
	conn, err := a.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return pooledConn{conn: conn}, nil
}

type pooledConn struct {
	conn *pgxpool.Conn
}

func (c pooledConn) BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error) {
	return c.conn.BeginTx(ctx, opts)
}

func (c pooledConn) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return c.conn.Exec(ctx, sql, args...)
}

func (c pooledConn) Release(healthy bool) {
	if !healthy {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = c.conn.Conn().Close(ctx)
		cancel()
	}
	c.conn.Release()
}

// WithSerializableTx executes fn in a SERIALIZABLE transaction while holding the session
// advisory lock lockKey on a dedicated connection. The lock is taken before BEGIN so the
// transaction snapshot already sees every commit made by the previous lock holder.
// Serialization failures and deadlocks are retried up to attempts times with a short
// linear backoff, without giving the lock up in between.
func WithSerializableTx(ctx context.Context, src Acquirer, lockKey int64, attempts int, fn func(pgx.Tx) error) error {
	if attempts <= 0 {
		attempts = DefaultSerializableAttempts
	}
	conn, err := src.AcquireConn(ctx)
	if err != nil {
		return fmt.Errorf("platform/db: acquire conn: %w", err)
	}
	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock($1)`, lockKey); err != nil {
		conn.Release(false)
		return fmt.Errorf("platform/db: advisory lock: %w", err)
	}
	defer func() {
		unlockCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_, unlockErr := conn.Exec(unlockCtx, `SELECT pg_advisory_unlock($1)`, lockKey)
		conn.Release(unlockErr == nil)
	}()

	opts := pgx.TxOptions{IsoLevel: pgx.Serializable}
	for attempt := 1; attempt <= attempts; attempt++ {
		err = run(ctx, conn, opts, fn)
		if err == nil || !IsRetryable(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * 10 * time.Millisecond):
		}
	}
	return fmt.Errorf("platform/db: serializable tx gave up after %d attempts: %w", attempts, err)
}

func run(ctx context.Context, pool Beginner, opts pgx.TxOptions, fn func(pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("platform/db: commit tx: %w", err)
	}

	return nil
}

// IsRetryable reports whether err is a serialization failure or deadlock.
func IsRetryable(err error) bool {
	code := ErrorCode(err)
	return code == CodeSerializationFailure || code == CodeDeadlockDetected
}

// ErrorCode extracts the SQLSTATE from a wrapped *pgconn.PgError.
func ErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// ConstraintName extracts the violated constraint from a wrapped *pgconn.PgError.
func ConstraintName(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.ConstraintName
	}
	return ""
}
