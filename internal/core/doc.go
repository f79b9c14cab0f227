// Package core implements the DSV → PostgreSQL → TSV pipeline.
//
// It has no HTTP or driver dependencies of its own: the store is reached
// through the [Store] interface (implemented by internal/database) and the
// web layer drives everything through an [Orchestrator].
//
// # Ingest
//
// A [Parser] reads the pipe-delimited input once, forward-only. The header
// line is sanitized into unique column identifiers (see [SanitizeHeader]);
// every following line becomes a [Row] or is rejected and counted when its
// field count does not match the header. The [Loader] then replaces the
// target table inside one transaction:
//
//  1. create the table, or drop and recreate it when the header changed
//  2. TRUNCATE
//  3. COPY the rows in batches of [LoaderConfig.BatchSize]
//  4. commit, or roll back on any failure so readers never see a partial load
//
// # Export
//
// The [Exporter] streams the whole table into
// <YYYYMMDD>_<name>.tsv in the output directory. Files are written to a
// temporary name and hard-linked into place, or renamed over an exclusive
// placeholder where links are unsupported; an existing snapshot is never
// overwritten.
//
// # Orchestration
//
// The [Orchestrator] owns one [RunRecord] per operation kind and rejects a
// second start of a kind that is already running with
// [ErrConcurrentRunRejected]. The nightly [Scheduler] runs ingest followed
// by export and skips the export when the ingest fails.
//
// # Errors
//
// Every failure carries one of the sentinel kinds declared in errors.go.
// Use errors.Is to test for a kind and [MapError] to turn it into a
// user-facing message with a support code.
package core
