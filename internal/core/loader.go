package core

// loader.go performs the replace-load of one input file into one table.
//
// Everything after Acquire happens inside a single transaction: schema
// (create, or drop and recreate when the header changed), TRUNCATE, one COPY
// per batch, then a row-count check and COMMIT. Any failure rolls the whole
// unit back, so readers see either the previous contents or the new ones.

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/JonMunkholm/dsvpipe/internal/logging"
)

// DefaultBatchSize is the number of rows sent per COPY.
const DefaultBatchSize = 1000

// LoaderConfig configures a Loader.
type LoaderConfig struct {
	InputPath string
	Table     string
	BatchSize int
	Parser    ParserOptions
}

// LoadResult reports a committed load.
type LoadResult struct {
	Table      string        `json:"table"`
	Columns    []string      `json:"columns"`
	Rows       int64         `json:"rows"`
	Rejected   int           `json:"rejected"`
	Batches    int           `json:"batches"`
	Recreated  bool          `json:"recreated"`
	Duration   time.Duration `json:"duration"`
	Rejections []Rejection   `json:"rejections,omitempty"`
}

// Loader replaces a table's contents with the rows of an input file.
type Loader struct {
	store Store
	cfg   LoaderConfig
}

// NewLoader returns a Loader for cfg. A zero BatchSize uses DefaultBatchSize.
func NewLoader(store Store, cfg LoaderConfig) *Loader {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	return &Loader{store: store, cfg: cfg}
}

// Ingest parses the configured input file and loads it.
func (l *Loader) Ingest(ctx context.Context) (*LoadResult, error) {
	p, err := OpenParser(l.cfg.InputPath, l.cfg.Parser)
	if err != nil {
		return nil, err
	}
	defer p.Close()

	return l.Load(ctx, p)
}

// Load replaces the target table with the rows of src.
func (l *Loader) Load(ctx context.Context, src RowSource) (*LoadResult, error) {
	start := time.Now()
	log := logging.FromContext(ctx)

	schema, err := NewTableSchema(l.cfg.Table, src.Columns())
	if err != nil {
		return nil, NewError(ErrSchemaConflict, "build schema", err)
	}

	sess, err := l.store.Acquire(ctx)
	if err != nil {
		return nil, NewError(ErrConnectionUnavailable, "acquire session", err)
	}
	defer sess.Release()

	existing, exists, err := sess.TableColumns(ctx, schema.Table)
	if err != nil {
		return nil, NewError(ErrSchemaConflict, "inspect table "+schema.Table, err)
	}

	tx, err := sess.Begin(ctx)
	if err != nil {
		return nil, NewError(ErrLoadAborted, "begin transaction", err)
	}
	defer tx.Rollback(ctx)

	result := &LoadResult{Table: schema.Table, Columns: schema.Columns}

	switch {
	case !exists:
		if err := tx.CreateTable(ctx, schema); err != nil {
			return nil, NewError(ErrSchemaConflict, "create table "+schema.Table, err)
		}
		log.Info("table created", "table", schema.Table, "columns", len(schema.Columns))
	case !schema.Matches(existing):
		if err := tx.DropTable(ctx, schema.Table); err != nil {
			return nil, NewError(ErrSchemaConflict, "drop table "+schema.Table, err)
		}
		if err := tx.CreateTable(ctx, schema); err != nil {
			return nil, NewError(ErrSchemaConflict, "recreate table "+schema.Table, err)
		}
		result.Recreated = true
		log.Info("table recreated for new header",
			"table", schema.Table,
			"old_columns", len(existing),
			"new_columns", len(schema.Columns),
		)
	}

	if err := tx.Truncate(ctx, schema.Table); err != nil {
		return nil, NewError(ErrLoadAborted, "truncate "+schema.Table, err)
	}

	batch := make([][]any, 0, l.cfg.BatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		result.Batches++
		batchesCopied.Inc()
		n, err := tx.CopyRows(ctx, schema.Table, schema.Columns, batch)
		if err != nil {
			return NewError(ErrLoadAborted, fmt.Sprintf("copy batch %d", result.Batches), err)
		}
		result.Rows += n
		log.Debug("batch copied", "batch", result.Batches, "rows", n)
		batch = batch[:0]
		return nil
	}

	for {
		row, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		batch = append(batch, row.Values())
		if len(batch) >= l.cfg.BatchSize {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}

	stats := src.Stats()
	if result.Rows != int64(stats.Accepted) {
		return nil, NewError(ErrLoadAborted, "verify row count",
			fmt.Errorf("copied %d rows, parsed %d", result.Rows, stats.Accepted))
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, NewError(ErrLoadAborted, "commit", err)
	}

	result.Rejected = stats.Rejected
	result.Rejections = stats.Rejections
	result.Duration = time.Since(start)

	rowsLoaded.Add(float64(result.Rows))
	rowsRejected.Add(float64(result.Rejected))

	log.Info("load committed",
		"table", result.Table,
		"rows", result.Rows,
		"rejected", result.Rejected,
		"batches", result.Batches,
		"duration_ms", result.Duration.Milliseconds(),
	)
	return result, nil
}
