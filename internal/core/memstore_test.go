package core

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/jackc/pgx/v5/pgtype"
)

// memTable is one table held by memStore.
type memTable struct {
	columns []string
	rows    [][]pgtype.Text
}

func (t *memTable) clone() *memTable {
	c := &memTable{columns: slices.Clone(t.columns)}
	for _, r := range t.rows {
		c.rows = append(c.rows, slices.Clone(r))
	}
	return c
}

// memStore is an in-memory Store. A transaction works on a copy of the
// tables and swaps it in on Commit.
type memStore struct {
	mu     sync.Mutex
	tables map[string]*memTable

	acquireErr error
	inspectErr error
	streamErr  error
	createErr  error
	copyErr    error
	failCopyAt int // 1-based batch number whose CopyRows fails; 0 = never

	acquired int
	released int
	copies   int
}

func newMemStore() *memStore {
	return &memStore{tables: make(map[string]*memTable)}
}

// seed installs a committed table.
func (m *memStore) seed(table string, columns []string, rows ...[]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &memTable{columns: slices.Clone(columns)}
	for _, r := range rows {
		t.rows = append(t.rows, textRow(r...))
	}
	m.tables[table] = t
}

// contents returns the committed rows of table as strings, NULL as "<nil>".
func (m *memStore) contents(table string) ([]string, [][]string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tables[table]
	if !ok {
		return nil, nil, false
	}
	var rows [][]string
	for _, r := range t.rows {
		out := make([]string, len(r))
		for i, v := range r {
			if v.Valid {
				out[i] = v.String
			} else {
				out[i] = "<nil>"
			}
		}
		rows = append(rows, out)
	}
	return slices.Clone(t.columns), rows, true
}

func (m *memStore) Ping(ctx context.Context) error { return m.acquireErr }

func (m *memStore) Acquire(ctx context.Context) (Session, error) {
	if m.acquireErr != nil {
		return nil, NewError(ErrConnectionUnavailable, "acquire", m.acquireErr)
	}
	m.mu.Lock()
	m.acquired++
	m.mu.Unlock()
	return &memSession{store: m}, nil
}

type memSession struct {
	store    *memStore
	released bool
}

func (s *memSession) Release() {
	if s.released {
		panic("session released twice")
	}
	s.released = true
	s.store.mu.Lock()
	s.store.released++
	s.store.mu.Unlock()
}

func (s *memSession) TableColumns(ctx context.Context, table string) ([]string, bool, error) {
	m := s.store
	if m.inspectErr != nil {
		return nil, false, m.inspectErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tables[table]
	if !ok {
		return nil, false, nil
	}
	return slices.Clone(t.columns), true, nil
}

func (s *memSession) Begin(ctx context.Context) (Tx, error) {
	m := s.store
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := make(map[string]*memTable, len(m.tables))
	for k, v := range m.tables {
		snap[k] = v.clone()
	}
	return &memTx{store: m, tables: snap}, nil
}

func (s *memSession) StreamRows(ctx context.Context, table string, columns []string, fn func([]pgtype.Text) error) error {
	m := s.store
	m.mu.Lock()
	t, ok := m.tables[table]
	var rows [][]pgtype.Text
	if ok {
		rows = t.clone().rows
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("relation %q does not exist", table)
	}
	for _, r := range rows {
		if err := fn(r); err != nil {
			return err
		}
	}
	// Fail after the rows were handed out, like a broken connection mid-read.
	return m.streamErr
}

type memTx struct {
	store  *memStore
	tables map[string]*memTable
	done   bool
}

func (tx *memTx) CreateTable(ctx context.Context, schema TableSchema) error {
	if tx.store.createErr != nil {
		return tx.store.createErr
	}
	if _, ok := tx.tables[schema.Table]; ok {
		return fmt.Errorf("relation %q already exists", schema.Table)
	}
	tx.tables[schema.Table] = &memTable{columns: slices.Clone(schema.Columns)}
	return nil
}

func (tx *memTx) DropTable(ctx context.Context, table string) error {
	delete(tx.tables, table)
	return nil
}

func (tx *memTx) Truncate(ctx context.Context, table string) error {
	t, ok := tx.tables[table]
	if !ok {
		return fmt.Errorf("relation %q does not exist", table)
	}
	t.rows = nil
	return nil
}

func (tx *memTx) CopyRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	tx.store.mu.Lock()
	tx.store.copies++
	n := tx.store.copies
	tx.store.mu.Unlock()

	if tx.store.copyErr != nil && n == tx.store.failCopyAt {
		return 0, tx.store.copyErr
	}
	t, ok := tx.tables[table]
	if !ok {
		return 0, fmt.Errorf("relation %q does not exist", table)
	}
	if !slices.Equal(t.columns, columns) {
		return 0, errors.New("column mismatch")
	}
	for _, r := range rows {
		vals := make([]pgtype.Text, len(r))
		for i, v := range r {
			vals[i] = v.(pgtype.Text)
		}
		t.rows = append(t.rows, vals)
	}
	return int64(len(rows)), nil
}

func (tx *memTx) Commit(ctx context.Context) error {
	if tx.done {
		return errors.New("tx closed")
	}
	tx.done = true
	tx.store.mu.Lock()
	tx.store.tables = tx.tables
	tx.store.mu.Unlock()
	return nil
}

func (tx *memTx) Rollback(ctx context.Context) error {
	tx.done = true
	return nil
}

func textRow(vals ...string) []pgtype.Text {
	out := make([]pgtype.Text, len(vals))
	for i, v := range vals {
		out[i] = toText(v)
	}
	return out
}
