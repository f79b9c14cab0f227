package core

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/dsvpipe/internal/logging"
)

// SnapshotDateLayout is the date stamp prefixed to snapshot file names.
const SnapshotDateLayout = "20060102"

// ExporterConfig configures an Exporter.
type ExporterConfig struct {
	Table     string
	OutputDir string
	Name      string // logical name in the file name; defaults to Table
}

// ExportResult reports a written snapshot.
type ExportResult struct {
	Table    string        `json:"table"`
	File     string        `json:"file"`
	Path     string        `json:"path"`
	Columns  []string      `json:"columns"`
	Rows     int64         `json:"rows"`
	Duration time.Duration `json:"duration"`
}

// Exporter writes the full contents of a table to a dated TSV snapshot.
type Exporter struct {
	store Store
	cfg   ExporterConfig
	now   func() time.Time
	link  func(oldname, newname string) error
}

// NewExporter returns an Exporter for cfg.
func NewExporter(store Store, cfg ExporterConfig) *Exporter {
	if cfg.Name == "" {
		cfg.Name = cfg.Table
	}
	return &Exporter{store: store, cfg: cfg, now: time.Now, link: os.Link}
}

// SnapshotFileName returns "<YYYYMMDD>_<name>.tsv" for the day of t.
func SnapshotFileName(t time.Time, name string) string {
	return t.Format(SnapshotDateLayout) + "_" + name + ".tsv"
}

// Export streams the table into a new snapshot file. An empty table yields a
// header-only file. The snapshot appears under its final name only once it
// is completely written.
func (e *Exporter) Export(ctx context.Context) (*ExportResult, error) {
	start := e.now()
	log := logging.FromContext(ctx)

	sess, err := e.store.Acquire(ctx)
	if err != nil {
		return nil, NewError(ErrConnectionUnavailable, "acquire session", err)
	}
	defer sess.Release()

	columns, exists, err := sess.TableColumns(ctx, e.cfg.Table)
	if err != nil {
		return nil, NewError(ErrQueryFailed, "inspect table "+e.cfg.Table, err)
	}
	if !exists {
		return nil, NewError(ErrTableMissing, "export "+e.cfg.Table, nil)
	}

	if err := os.MkdirAll(e.cfg.OutputDir, 0o755); err != nil {
		return nil, NewError(ErrWriteFailed, "create output dir", err)
	}

	tmp, err := os.CreateTemp(e.cfg.OutputDir, ".export-*.tmp")
	if err != nil {
		return nil, NewError(ErrWriteFailed, "create temp file", err)
	}
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	bw := bufio.NewWriterSize(tmp, 64*1024)
	w := csv.NewWriter(bw)
	w.Comma = '\t'

	if err := w.Write(columns); err != nil {
		return nil, NewError(ErrWriteFailed, "write header", err)
	}

	var rows int64
	record := make([]string, len(columns))
	var writeErr error
	err = sess.StreamRows(ctx, e.cfg.Table, columns, func(vals []pgtype.Text) error {
		for i := range record {
			record[i] = ""
			if i < len(vals) && vals[i].Valid {
				record[i] = vals[i].String
			}
		}
		if err := w.Write(record); err != nil {
			writeErr = err
			return err
		}
		rows++
		return nil
	})
	if writeErr != nil {
		return nil, NewError(ErrWriteFailed, fmt.Sprintf("write row %d", rows+1), writeErr)
	}
	if err != nil {
		return nil, NewError(ErrQueryFailed, "read "+e.cfg.Table, err)
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, NewError(ErrWriteFailed, "flush", err)
	}
	if err := bw.Flush(); err != nil {
		return nil, NewError(ErrWriteFailed, "flush", err)
	}
	if err := tmp.Sync(); err != nil {
		return nil, NewError(ErrWriteFailed, "sync", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, NewError(ErrWriteFailed, "close", err)
	}

	path, err := e.publish(log, tmp.Name(), start)
	if err != nil {
		return nil, err
	}
	committed = true

	result := &ExportResult{
		Table:    e.cfg.Table,
		File:     filepath.Base(path),
		Path:     path,
		Columns:  columns,
		Rows:     rows,
		Duration: e.now().Sub(start),
	}
	rowsExported.Add(float64(rows))

	log.Info("snapshot written",
		"table", result.Table,
		"file", result.Path,
		"rows", result.Rows,
		"duration_ms", result.Duration.Milliseconds(),
	)
	return result, nil
}

// publish moves the finished temp file to the first free snapshot name for
// the day: name.tsv, then name_2.tsv, name_3.tsv and so on. A hard link
// fails when the target exists, so a snapshot is never replaced. Volumes
// without hard links fall back to claiming the name with an exclusive
// create and renaming over the placeholder.
func (e *Exporter) publish(log *slog.Logger, tmpPath string, day time.Time) (string, error) {
	useLink := true
	for n := 1; ; n++ {
		name := e.cfg.Name
		if n > 1 {
			name = fmt.Sprintf("%s_%d", e.cfg.Name, n)
		}
		target := filepath.Join(e.cfg.OutputDir, SnapshotFileName(day, name))

		var err error
		if useLink {
			err = e.link(tmpPath, target)
			if err != nil && !errors.Is(err, os.ErrExist) {
				log.Warn("hard link unavailable, falling back to rename",
					"target", target, "error", err)
				useLink = false
				err = claimAndRename(tmpPath, target)
			} else if err == nil {
				os.Remove(tmpPath)
			}
		} else {
			err = claimAndRename(tmpPath, target)
		}

		if err == nil {
			return target, nil
		}
		if errors.Is(err, os.ErrExist) {
			continue
		}
		return "", NewError(ErrWriteFailed, "publish "+target, err)
	}
}

// claimAndRename reserves target with O_EXCL, then renames tmpPath over it.
func claimAndRename(tmpPath, target string) error {
	f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	f.Close()

	if err := os.Rename(tmpPath, target); err != nil {
		os.Remove(target)
		return err
	}
	return nil
}
