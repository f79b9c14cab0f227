package core

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
)

// TableSchema is the target table definition derived from a sanitized header.
// Every column is nullable text.
type TableSchema struct {
	Table   string
	Columns []string
}

// NewTableSchema validates table and columns.
func NewTableSchema(table string, columns []string) (TableSchema, error) {
	if strings.TrimSpace(table) == "" {
		return TableSchema{}, errors.New("table name is empty")
	}
	if len(columns) == 0 {
		return TableSchema{}, errors.New("no columns")
	}
	seen := make(map[string]bool, len(columns))
	for _, c := range columns {
		if c == "" {
			return TableSchema{}, errors.New("empty column name")
		}
		if seen[c] {
			return TableSchema{}, fmt.Errorf("duplicate column %q", c)
		}
		seen[c] = true
	}
	return TableSchema{Table: table, Columns: slices.Clone(columns)}, nil
}

// Matches reports whether existing has the same columns in the same order.
func (s TableSchema) Matches(existing []string) bool {
	return slices.Equal(s.Columns, existing)
}

// QuoteIdentifier quotes a table or column name for SQL.
func QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// Store is the relational store the pipeline loads into and exports from.
// internal/database provides the PostgreSQL implementation.
type Store interface {
	// Acquire returns a dedicated session. It retries for a bounded time and
	// fails with ErrConnectionUnavailable when the store cannot be reached.
	Acquire(ctx context.Context) (Session, error)
	Ping(ctx context.Context) error
}

// Session is one checked-out connection. Release must be called exactly once.
type Session interface {
	// TableColumns returns the table's columns in ordinal order and whether
	// the table exists.
	TableColumns(ctx context.Context, table string) ([]string, bool, error)
	Begin(ctx context.Context) (Tx, error)
	// StreamRows reads every row of table, calling fn once per row in the
	// order the store returns them.
	StreamRows(ctx context.Context, table string, columns []string, fn func([]pgtype.Text) error) error
	Release()
}

// Tx is a store transaction. Rollback after Commit is a no-op.
type Tx interface {
	CreateTable(ctx context.Context, schema TableSchema) error
	DropTable(ctx context.Context, table string) error
	Truncate(ctx context.Context, table string) error
	CopyRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
