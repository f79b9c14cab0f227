// Package database is the PostgreSQL implementation of core.Store.
//
// Connections come from a pgxpool. Acquire retries on a fixed interval for
// a bounded number of attempts, so a cold database at startup delays the
// first run instead of failing it.
package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/dsvpipe/internal/config"
	"github.com/JonMunkholm/dsvpipe/internal/core"
)

// RetryPolicy bounds connection attempts.
type RetryPolicy struct {
	Attempts int           // total tries, at least 1
	Interval time.Duration // fixed wait between tries
}

// Store is a core.Store over a pgx pool.
type Store struct {
	pool  *pgxpool.Pool
	retry RetryPolicy
}

var _ core.Store = (*Store)(nil)

// Open builds the pool. It does not connect; the first Acquire or Ping does.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	return &Store{
		pool: pool,
		retry: RetryPolicy{
			Attempts: cfg.ConnectRetries,
			Interval: cfg.ConnectRetryInterval,
		},
	}, nil
}

// Close closes every pooled connection.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping checks connectivity once, without retry.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// WaitReady pings with the retry policy. It fails with
// core.ErrConnectionUnavailable once attempts are exhausted.
func (s *Store) WaitReady(ctx context.Context) error {
	err := withRetry(ctx, s.retry, "ping", func() error {
		return s.pool.Ping(ctx)
	})
	if err != nil {
		return core.NewError(core.ErrConnectionUnavailable, "wait for database", err)
	}
	return nil
}

// Acquire checks out a connection, retrying per the store's RetryPolicy.
func (s *Store) Acquire(ctx context.Context) (core.Session, error) {
	var conn *pgxpool.Conn
	err := withRetry(ctx, s.retry, "acquire", func() error {
		c, err := s.pool.Acquire(ctx)
		if err != nil {
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, core.NewError(core.ErrConnectionUnavailable, "acquire connection", err)
	}
	return &session{conn: conn}, nil
}

// withRetry runs op until it succeeds, attempts run out or ctx is done.
func withRetry(ctx context.Context, p RetryPolicy, what string, op func() error) error {
	attempts := max(p.Attempts, 1)

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.Interval), uint64(attempts-1)),
		ctx,
	)

	try := 0
	return backoff.RetryNotify(
		func() error {
			try++
			err := op()
			if err != nil && !retryable(err) {
				return backoff.Permanent(err)
			}
			return err
		},
		b,
		func(err error, wait time.Duration) {
			slog.Warn("database not ready, retrying",
				"op", what,
				"attempt", try,
				"max_attempts", attempts,
				"retry_in", wait,
				"error", err,
			)
		},
	)
}

// retryable reports whether err may clear up by waiting. Server-side errors
// such as bad credentials or a missing database are not retried.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 57: operator intervention (shutdown, starting up).
		return strings.HasPrefix(pgErr.Code, "57")
	}
	return true
}

type session struct {
	conn *pgxpool.Conn
}

func (s *session) Release() {
	s.conn.Release()
}

const tableColumnsSQL = `SELECT column_name
FROM information_schema.columns
WHERE table_schema = current_schema() AND table_name = $1
ORDER BY ordinal_position`

func (s *session) TableColumns(ctx context.Context, table string) ([]string, bool, error) {
	rows, err := s.conn.Query(ctx, tableColumnsSQL, table)
	if err != nil {
		return nil, false, err
	}
	cols, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, false, err
	}
	return cols, len(cols) > 0, nil
}

func (s *session) Begin(ctx context.Context) (core.Tx, error) {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &txn{tx: tx}, nil
}

func (s *session) StreamRows(ctx context.Context, table string, columns []string, fn func([]pgtype.Text) error) error {
	rows, err := s.conn.Query(ctx, selectSQL(table, columns))
	if err != nil {
		return err
	}
	defer rows.Close()

	vals := make([]pgtype.Text, len(columns))
	dest := make([]any, len(columns))
	for i := range vals {
		dest[i] = &vals[i]
	}

	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return err
		}
		if err := fn(vals); err != nil {
			return err
		}
	}
	return rows.Err()
}

type txn struct {
	tx pgx.Tx
}

func (t *txn) CreateTable(ctx context.Context, schema core.TableSchema) error {
	_, err := t.tx.Exec(ctx, createTableSQL(schema))
	return err
}

func (t *txn) DropTable(ctx context.Context, table string) error {
	_, err := t.tx.Exec(ctx, "DROP TABLE IF EXISTS "+core.QuoteIdentifier(table))
	return err
}

func (t *txn) Truncate(ctx context.Context, table string) error {
	_, err := t.tx.Exec(ctx, "TRUNCATE TABLE "+core.QuoteIdentifier(table))
	return err
}

func (t *txn) CopyRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	return t.tx.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(rows))
}

func (t *txn) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

// Rollback is safe to call after Commit.
func (t *txn) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

func createTableSQL(schema core.TableSchema) string {
	defs := make([]string, len(schema.Columns))
	for i, c := range schema.Columns {
		defs[i] = core.QuoteIdentifier(c) + " TEXT"
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", core.QuoteIdentifier(schema.Table), strings.Join(defs, ", "))
}

func selectSQL(table string, columns []string) string {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = core.QuoteIdentifier(c)
	}
	return fmt.Sprintf("SELECT %s FROM %s", strings.Join(quoted, ", "), core.QuoteIdentifier(table))
}
