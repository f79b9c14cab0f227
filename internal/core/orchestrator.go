package core

// orchestrator.go owns run state and the at-most-one-run-per-kind rule.
//
// Every trigger (HTTP, the daily schedule, the startup run) goes through
// tryStart, which flips the kind's running flag under o.mu. A second start
// of a running kind fails fast with ErrConcurrentRunRejected; it is never
// queued. Ingest and export are independent kinds and may overlap.

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/dsvpipe/internal/logging"
)

// OpKind names an operation.
type OpKind string

const (
	OpIngest OpKind = "ingest"
	OpExport OpKind = "export"
)

// RunStatus is the terminal or current state of a RunRecord.
type RunStatus string

const (
	StatusIdle      RunStatus = "idle"
	StatusRunning   RunStatus = "running"
	StatusSucceeded RunStatus = "succeeded"
	StatusFailed    RunStatus = "failed"
)

// Trigger says what started a run.
type Trigger string

const (
	TriggerManual    Trigger = "manual"
	TriggerScheduled Trigger = "scheduled"
	TriggerStartup   Trigger = "startup"
)

// RunRecord is the process-lifetime state of one operation kind.
type RunRecord struct {
	Kind          OpKind     `json:"kind"`
	Status        RunStatus  `json:"status"`
	Running       bool       `json:"running"`
	RunID         string     `json:"run_id,omitempty"`
	Trigger       Trigger    `json:"trigger,omitempty"`
	LastStart     *time.Time `json:"last_start,omitempty"`
	LastEnd       *time.Time `json:"last_end,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
	LastErrorKind string     `json:"last_error_kind,omitempty"`
	Rows          int64      `json:"rows"`
	Rejected      int        `json:"rejected,omitempty"`
	File          string     `json:"file,omitempty"`
	Runs          int        `json:"runs"`
	Failures      int        `json:"failures"`
}

func (r RunRecord) clone() RunRecord {
	if r.LastStart != nil {
		t := *r.LastStart
		r.LastStart = &t
	}
	if r.LastEnd != nil {
		t := *r.LastEnd
		r.LastEnd = &t
	}
	return r
}

// Ingester runs one ingest. *Loader implements it.
type Ingester interface {
	Ingest(ctx context.Context) (*LoadResult, error)
}

// Snapshotter runs one export. *Exporter implements it.
type Snapshotter interface {
	Export(ctx context.Context) (*ExportResult, error)
}

// PipelineResult reports a RunPipeline call. Export is nil when the ingest
// failed and the export was skipped.
type PipelineResult struct {
	Ingest *LoadResult   `json:"ingest,omitempty"`
	Export *ExportResult `json:"export,omitempty"`
}

// Status is a point-in-time copy of both run records.
type Status struct {
	Ingest RunRecord `json:"ingest"`
	Export RunRecord `json:"export"`
}

// Orchestrator sequences runs and records their outcome.
type Orchestrator struct {
	ingester    Ingester
	snapshotter Snapshotter
	now         func() time.Time

	mu      sync.Mutex
	records map[OpKind]*RunRecord
}

// NewOrchestrator returns an idle orchestrator.
func NewOrchestrator(ingester Ingester, snapshotter Snapshotter) *Orchestrator {
	return &Orchestrator{
		ingester:    ingester,
		snapshotter: snapshotter,
		now:         time.Now,
		records: map[OpKind]*RunRecord{
			OpIngest: {Kind: OpIngest, Status: StatusIdle},
			OpExport: {Kind: OpExport, Status: StatusIdle},
		},
	}
}

// RunIngest runs one ingest to completion. It fails with
// ErrConcurrentRunRejected when an ingest is already running.
func (o *Orchestrator) RunIngest(ctx context.Context, trigger Trigger) (*LoadResult, error) {
	var result *LoadResult
	err := o.run(ctx, OpIngest, trigger, func(ctx context.Context, rec *RunRecord) error {
		res, err := o.ingester.Ingest(ctx)
		if err != nil {
			return err
		}
		result = res
		rec.Rows = res.Rows
		rec.Rejected = res.Rejected
		return nil
	})
	return result, err
}

// RunExport runs one export to completion. It fails with
// ErrConcurrentRunRejected when an export is already running.
func (o *Orchestrator) RunExport(ctx context.Context, trigger Trigger) (*ExportResult, error) {
	var result *ExportResult
	err := o.run(ctx, OpExport, trigger, func(ctx context.Context, rec *RunRecord) error {
		res, err := o.snapshotter.Export(ctx)
		if err != nil {
			return err
		}
		result = res
		rec.Rows = res.Rows
		rec.File = res.Path
		return nil
	})
	return result, err
}

// RunPipeline runs ingest, then export. The export is skipped when the
// ingest fails.
func (o *Orchestrator) RunPipeline(ctx context.Context, trigger Trigger) (*PipelineResult, error) {
	out := &PipelineResult{}

	ingest, err := o.RunIngest(ctx, trigger)
	if err != nil {
		logging.FromContext(ctx).Warn("export skipped, ingest failed", "trigger", trigger, "error", err)
		return out, err
	}
	out.Ingest = ingest

	export, err := o.RunExport(ctx, trigger)
	if err != nil {
		return out, err
	}
	out.Export = export
	return out, nil
}

// Status returns copies of both run records.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return Status{
		Ingest: o.records[OpIngest].clone(),
		Export: o.records[OpExport].clone(),
	}
}

// Busy reports whether any run is in progress.
func (o *Orchestrator) Busy() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, r := range o.records {
		if r.Running {
			return true
		}
	}
	return false
}

// WaitIdle blocks until no run is in progress or ctx is done.
func (o *Orchestrator) WaitIdle(ctx context.Context) error {
	if !o.Busy() {
		return nil
	}

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if !o.Busy() {
				return nil
			}
		}
	}
}

// run executes fn as one run of kind. The run is detached from ctx's
// cancellation: once started it completes or fails.
func (o *Orchestrator) run(ctx context.Context, kind OpKind, trigger Trigger, fn func(context.Context, *RunRecord) error) (err error) {
	runID, err := o.tryStart(kind, trigger)
	if err != nil {
		runsRejected.WithLabelValues(string(kind)).Inc()
		logging.FromContext(ctx).Warn("run rejected", "op", kind, "trigger", trigger)
		return err
	}

	runCtx, log := logging.ForRun(context.WithoutCancel(ctx), string(kind), runID, "trigger", trigger)
	log.Info("run started")
	runsInProgress.WithLabelValues(string(kind)).Set(1)
	start := o.now()

	var outcome RunRecord
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic in run", "panic", r)
			err = fmt.Errorf("%s run panicked: %v", kind, r)
		}
		o.finish(kind, outcome, err)

		elapsed := o.now().Sub(start)
		status := StatusSucceeded
		if err != nil {
			status = StatusFailed
			log.Error("run failed", "error", err, "kind", KindOf(err), "duration_ms", elapsed.Milliseconds())
		} else {
			lastSuccess.WithLabelValues(string(kind)).SetToCurrentTime()
			log.Info("run succeeded", "rows", outcome.Rows, "duration_ms", elapsed.Milliseconds())
		}
		runsInProgress.WithLabelValues(string(kind)).Set(0)
		runsTotal.WithLabelValues(string(kind), string(status)).Inc()
		runDuration.WithLabelValues(string(kind)).Observe(elapsed.Seconds())
	}()

	return fn(runCtx, &outcome)
}

// tryStart is the only place a run is admitted.
func (o *Orchestrator) tryStart(kind OpKind, trigger Trigger) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	rec := o.records[kind]
	if rec.Running {
		return "", NewError(ErrConcurrentRunRejected, string(kind),
			fmt.Errorf("run %s in progress since %s", rec.RunID, rec.LastStart.Format(time.RFC3339)))
	}

	now := o.now()
	rec.Running = true
	rec.Status = StatusRunning
	rec.RunID = uuid.NewString()
	rec.Trigger = trigger
	rec.LastStart = &now
	rec.LastEnd = nil
	return rec.RunID, nil
}

func (o *Orchestrator) finish(kind OpKind, outcome RunRecord, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	rec := o.records[kind]
	now := o.now()
	rec.Running = false
	rec.LastEnd = &now
	rec.Runs++
	rec.Rows = outcome.Rows
	rec.Rejected = outcome.Rejected
	rec.File = outcome.File

	if err != nil {
		rec.Status = StatusFailed
		rec.Failures++
		rec.LastError = err.Error()
		rec.LastErrorKind = KindOf(err)
		return
	}
	rec.Status = StatusSucceeded
	rec.LastError = ""
	rec.LastErrorKind = ""
}
