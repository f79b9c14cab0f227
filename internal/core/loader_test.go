package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeInput(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "RAW DATA.dsv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newTestLoader(store Store, path string, batch int) *Loader {
	return NewLoader(store, LoaderConfig{InputPath: path, Table: "C_DUNS_V", BatchSize: batch})
}

func TestLoader_Ingest(t *testing.T) {
	store := newMemStore()
	path := writeInput(t, "NAME|CITY\nAcme|NY\nBeta|LA\n")

	res, err := newTestLoader(store, path, 0).Ingest(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(2), res.Rows)
	assert.Equal(t, 0, res.Rejected)
	assert.Equal(t, 1, res.Batches)
	assert.False(t, res.Recreated)

	cols, rows, ok := store.contents("C_DUNS_V")
	require.True(t, ok)
	assert.Equal(t, []string{"NAME", "CITY"}, cols)
	assert.Equal(t, [][]string{{"Acme", "NY"}, {"Beta", "LA"}}, rows)
	assert.Equal(t, store.acquired, store.released)
}

func TestLoader_MalformedRowSkipped(t *testing.T) {
	store := newMemStore()
	path := writeInput(t, "A|B\n1|2\nBadRow\n3|4\n")

	res, err := newTestLoader(store, path, 0).Ingest(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(2), res.Rows)
	assert.Equal(t, 1, res.Rejected)
	require.Len(t, res.Rejections, 1)

	_, rows, _ := store.contents("C_DUNS_V")
	assert.Len(t, rows, 2)
}

func TestLoader_StrayQuoteKeepsRemainingRows(t *testing.T) {
	store := newMemStore()
	store.seed("C_DUNS_V", []string{"NAME", "CITY"}, []string{"Old", "XX"})
	path := writeInput(t, "NAME|CITY\n\"Acme|NY\nBeta|LA\nGamma|SF\nDelta|TX\n")

	res, err := newTestLoader(store, path, 0).Ingest(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(3), res.Rows)
	assert.Equal(t, 1, res.Rejected)

	_, rows, _ := store.contents("C_DUNS_V")
	assert.Equal(t, [][]string{{"Beta", "LA"}, {"Gamma", "SF"}, {"Delta", "TX"}}, rows)
}

func TestLoader_ReingestIsIdempotent(t *testing.T) {
	store := newMemStore()
	path := writeInput(t, "NAME|CITY\nAcme|NY\nBeta|LA\nGamma|\n")
	l := newTestLoader(store, path, 2)

	first, err := l.Ingest(context.Background())
	require.NoError(t, err)
	_, rowsAfterFirst, _ := store.contents("C_DUNS_V")

	second, err := l.Ingest(context.Background())
	require.NoError(t, err)
	_, rowsAfterSecond, _ := store.contents("C_DUNS_V")

	assert.Equal(t, first.Rows, second.Rows)
	assert.Equal(t, rowsAfterFirst, rowsAfterSecond)
	assert.Equal(t, [][]string{{"Acme", "NY"}, {"Beta", "LA"}, {"Gamma", "<nil>"}}, rowsAfterSecond)
}

func TestLoader_ReplacesPriorContents(t *testing.T) {
	store := newMemStore()
	store.seed("C_DUNS_V", []string{"NAME", "CITY"}, []string{"Old", "Row"}, []string{"Older", "Row"})

	res, err := newTestLoader(store, writeInput(t, "NAME|CITY\nNew|Row\n"), 0).Ingest(context.Background())
	require.NoError(t, err)

	assert.False(t, res.Recreated)
	_, rows, _ := store.contents("C_DUNS_V")
	assert.Equal(t, [][]string{{"New", "Row"}}, rows)
}

func TestLoader_RecreatesOnHeaderChange(t *testing.T) {
	tests := []struct {
		name     string
		existing []string
	}{
		{name: "different names", existing: []string{"FOO", "BAR"}},
		{name: "different order", existing: []string{"CITY", "NAME"}},
		{name: "extra column", existing: []string{"NAME", "CITY", "ZIP"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			store.seed("C_DUNS_V", tt.existing, make([]string, len(tt.existing)))

			res, err := newTestLoader(store, writeInput(t, "NAME|CITY\nAcme|NY\n"), 0).Ingest(context.Background())
			require.NoError(t, err)

			assert.True(t, res.Recreated)
			cols, rows, _ := store.contents("C_DUNS_V")
			assert.Equal(t, []string{"NAME", "CITY"}, cols)
			assert.Equal(t, [][]string{{"Acme", "NY"}}, rows)
		})
	}
}

func TestLoader_BatchCount(t *testing.T) {
	var b strings.Builder
	b.WriteString("ID|VAL\n")
	for i := 0; i < 25; i++ {
		fmt.Fprintf(&b, "%d|v%d\n", i, i)
	}

	tests := []struct {
		batch       int
		wantBatches int
	}{
		{batch: 10, wantBatches: 3},
		{batch: 25, wantBatches: 1},
		{batch: 1, wantBatches: 25},
		{batch: 0, wantBatches: 1},
	}

	path := writeInput(t, b.String())
	for _, tt := range tests {
		t.Run(fmt.Sprintf("batch_%d", tt.batch), func(t *testing.T) {
			store := newMemStore()
			res, err := newTestLoader(store, path, tt.batch).Ingest(context.Background())
			require.NoError(t, err)

			assert.Equal(t, int64(25), res.Rows)
			assert.Equal(t, tt.wantBatches, res.Batches)
			assert.Equal(t, tt.wantBatches, store.copies)
		})
	}
}

func TestLoader_BatchFailureRollsBack(t *testing.T) {
	store := newMemStore()
	store.seed("C_DUNS_V", []string{"ID", "VAL"}, []string{"prior", "row"})
	store.copyErr = errors.New("disk full")
	store.failCopyAt = 2

	path := writeInput(t, "ID|VAL\n1|a\n2|b\n3|c\n")
	_, err := newTestLoader(store, path, 2).Ingest(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLoadAborted)
	assert.Contains(t, err.Error(), "copy batch 2")

	_, rows, _ := store.contents("C_DUNS_V")
	assert.Equal(t, [][]string{{"prior", "row"}}, rows, "table must keep its prior contents")
	assert.Equal(t, 1, store.released)
}

func TestLoader_ConnectionUnavailable(t *testing.T) {
	store := newMemStore()
	store.seed("C_DUNS_V", []string{"NAME"}, []string{"kept"})
	store.acquireErr = errors.New("dial tcp: connection refused")

	_, err := newTestLoader(store, writeInput(t, "NAME\nnew\n"), 0).Ingest(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnectionUnavailable)
	_, rows, _ := store.contents("C_DUNS_V")
	assert.Equal(t, [][]string{{"kept"}}, rows)
}

func TestLoader_SchemaConflict(t *testing.T) {
	t.Run("inspect fails", func(t *testing.T) {
		store := newMemStore()
		store.inspectErr = errors.New("permission denied for schema public")

		_, err := newTestLoader(store, writeInput(t, "A\n1\n"), 0).Ingest(context.Background())
		assert.ErrorIs(t, err, ErrSchemaConflict)
		assert.Equal(t, store.acquired, store.released)
	})

	t.Run("create fails", func(t *testing.T) {
		store := newMemStore()
		store.createErr = errors.New("permission denied for schema public")

		_, err := newTestLoader(store, writeInput(t, "A\n1\n"), 0).Ingest(context.Background())
		assert.ErrorIs(t, err, ErrSchemaConflict)
		_, _, ok := store.contents("C_DUNS_V")
		assert.False(t, ok)
	})
}

func TestLoader_AbortPolicyLeavesTableUnchanged(t *testing.T) {
	store := newMemStore()
	store.seed("C_DUNS_V", []string{"A", "B"}, []string{"old", "row"})

	l := NewLoader(store, LoaderConfig{
		InputPath: writeInput(t, "A|B\n1|2\nbad\n"),
		Table:     "C_DUNS_V",
		Parser:    ParserOptions{Policy: PolicyAbort},
	})
	_, err := l.Ingest(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedRow)
	_, rows, _ := store.contents("C_DUNS_V")
	assert.Equal(t, [][]string{{"old", "row"}}, rows)
}

func TestLoader_HeaderOnlyEmptiesTable(t *testing.T) {
	store := newMemStore()
	store.seed("C_DUNS_V", []string{"NAME"}, []string{"old"})

	res, err := newTestLoader(store, writeInput(t, "NAME\n"), 0).Ingest(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(0), res.Rows)
	assert.Equal(t, 0, res.Batches)
	_, rows, ok := store.contents("C_DUNS_V")
	assert.True(t, ok)
	assert.Empty(t, rows)
}

func TestLoader_InputErrorsDoNotTouchStore(t *testing.T) {
	tests := []struct {
		name    string
		path    func(t *testing.T) string
		wantErr error
	}{
		{
			name:    "missing file",
			path:    func(t *testing.T) string { return filepath.Join(t.TempDir(), "missing.dsv") },
			wantErr: ErrInputNotFound,
		},
		{
			name:    "empty file",
			path:    func(t *testing.T) string { return writeInput(t, "") },
			wantErr: ErrEmptyInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			_, err := newTestLoader(store, tt.path(t), 0).Ingest(context.Background())

			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, 0, store.acquired)
		})
	}
}

func TestTableSchema(t *testing.T) {
	_, err := NewTableSchema("", []string{"A"})
	assert.Error(t, err)
	_, err = NewTableSchema("T", nil)
	assert.Error(t, err)
	_, err = NewTableSchema("T", []string{"A", "A"})
	assert.Error(t, err)

	s, err := NewTableSchema("T", []string{"A", "B"})
	require.NoError(t, err)
	assert.True(t, s.Matches([]string{"A", "B"}))
	assert.False(t, s.Matches([]string{"B", "A"}))
	assert.False(t, s.Matches([]string{"A"}))
}

func TestQuoteIdentifier(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"C_DUNS_V", `"C_DUNS_V"`},
		{"select", `"select"`},
		{`user"name`, `"user""name"`},
		{`users"; DROP TABLE users; --`, `"users""; DROP TABLE users; --"`},
	}
	for _, tt := range tests {
		if got := QuoteIdentifier(tt.input); got != tt.want {
			t.Errorf("QuoteIdentifier(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
