package core

// scheduler.go fires the nightly pipeline (ingest, then export).
//
// The schedule is a single cron entry at hour:minute in the configured
// location. Overlapping fires are skipped by the cron chain; a fire that
// lands while a manual run of the same kind is in progress is rejected by
// the Orchestrator and only logged.

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DailySpec returns the cron expression for hour:minute every day.
func DailySpec(hour, minute int) string {
	return fmt.Sprintf("%d %d * * *", minute, hour)
}

// Pipeline runs ingest followed by export. *Orchestrator implements it.
type Pipeline interface {
	RunPipeline(ctx context.Context, trigger Trigger) (*PipelineResult, error)
}

// Scheduler triggers a Pipeline once a day.
type Scheduler struct {
	pipeline Pipeline
	cron     *cron.Cron
	entry    cron.EntryID
	spec     string
	ctx      context.Context
	cancel   context.CancelFunc
	adhoc    sync.WaitGroup
}

// NewScheduler registers the daily run. loc nil means time.Local.
func NewScheduler(pipeline Pipeline, hour, minute int, loc *time.Location) (*Scheduler, error) {
	if loc == nil {
		loc = time.Local
	}

	logger := cronLogger{slog.Default().With("component", "scheduler")}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		pipeline: pipeline,
		cron:     c,
		spec:     DailySpec(hour, minute),
		ctx:      ctx,
		cancel:   cancel,
	}

	id, err := c.AddFunc(s.spec, func() { s.fire(TriggerScheduled) })
	if err != nil {
		cancel()
		return nil, fmt.Errorf("schedule %q: %w", s.spec, err)
	}
	s.entry = id
	return s, nil
}

// Start begins firing in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	slog.Info("scheduler started", "spec", s.spec, "next_run", s.NextRun())
}

// Stop halts future fires and returns a context that is done once every
// fire in progress, scheduled or started by RunNow, has returned.
func (s *Scheduler) Stop() context.Context {
	s.cancel()
	cronDone := s.cron.Stop()

	ctx, done := context.WithCancel(context.Background())
	go func() {
		<-cronDone.Done()
		s.adhoc.Wait()
		done()
	}()
	return ctx
}

// NextRun is the time of the next scheduled fire, zero before Start.
func (s *Scheduler) NextRun() time.Time {
	return s.cron.Entry(s.entry).Next
}

// Spec returns the cron expression in use.
func (s *Scheduler) Spec() string { return s.spec }

// RunNow fires the pipeline once in the background, outside the schedule.
// The returned channel is closed when that run returns.
func (s *Scheduler) RunNow(trigger Trigger) <-chan struct{} {
	done := make(chan struct{})
	s.adhoc.Add(1)
	go func() {
		defer s.adhoc.Done()
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic in pipeline run", "trigger", trigger, "panic", r)
			}
		}()
		s.fire(trigger)
	}()
	return done
}

func (s *Scheduler) fire(trigger Trigger) {
	start := time.Now()
	res, err := s.pipeline.RunPipeline(s.ctx, trigger)
	if err != nil {
		slog.Error("pipeline run failed",
			"trigger", trigger,
			"kind", KindOf(err),
			"error", err,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return
	}
	slog.Info("pipeline run completed",
		"trigger", trigger,
		"rows_loaded", res.Ingest.Rows,
		"rows_exported", res.Export.Rows,
		"file", res.Export.Path,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error(msg, append([]any{"error", err}, keysAndValues...)...)
}
