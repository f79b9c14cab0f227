package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/dsvpipe/internal/config"
	"github.com/JonMunkholm/dsvpipe/internal/core"
	"github.com/JonMunkholm/dsvpipe/internal/database"
	"github.com/JonMunkholm/dsvpipe/internal/logging"
	"github.com/JonMunkholm/dsvpipe/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"input", cfg.Pipeline.InputPath(),
		"output_dir", cfg.Pipeline.OutputDir,
		"table", cfg.Pipeline.TableName,
		"batch_size", cfg.Pipeline.BatchSize,
		"malformed_policy", cfg.Pipeline.MalformedPolicy,
		"scheduler_enabled", cfg.Scheduler.Enabled,
	)
	slog.Debug("effective configuration", "config", cfg.String())

	ctx := context.Background()
	store, err := database.Open(ctx, cfg.Database)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	loader := core.NewLoader(store, core.LoaderConfig{
		InputPath: cfg.Pipeline.InputPath(),
		Table:     cfg.Pipeline.TableName,
		BatchSize: cfg.Pipeline.BatchSize,
		Parser: core.ParserOptions{
			Delimiter: cfg.Pipeline.DelimiterRune(),
			Policy:    core.ParsePolicy(cfg.Pipeline.MalformedPolicy),
		},
	})
	exporter := core.NewExporter(store, core.ExporterConfig{
		Table:     cfg.Pipeline.TableName,
		OutputDir: cfg.Pipeline.OutputDir,
		Name:      cfg.Pipeline.SnapshotName(),
	})
	orch := core.NewOrchestrator(loader, exporter)

	var sched *core.Scheduler
	if cfg.Scheduler.Enabled || cfg.Scheduler.RunOnStartup {
		loc, err := cfg.Scheduler.Location()
		if err != nil {
			slog.Error("invalid scheduler timezone", "error", err)
			os.Exit(1)
		}
		sched, err = core.NewScheduler(orch, cfg.Scheduler.Hour, cfg.Scheduler.Minute, loc)
		if err != nil {
			slog.Error("failed to create scheduler", "error", err)
			os.Exit(1)
		}
		if cfg.Scheduler.Enabled {
			sched.Start()
		}
	}

	var startupRun <-chan struct{}
	if cfg.Scheduler.RunOnStartup {
		// The run waits on the database's retry policy, so a cold database
		// delays it without blocking the HTTP server.
		startupRun = sched.RunNow(core.TriggerStartup)
	}

	var schedule web.Schedule
	if sched != nil && cfg.Scheduler.Enabled {
		schedule = sched
	}
	server := web.NewServer(cfg, orch, store, schedule)

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Stop also waits for the startup run, which spans the gap between
		// its ingest and export where the orchestrator reports idle.
		if sched != nil {
			select {
			case <-sched.Stop().Done():
			case <-shutdownCtx.Done():
			}
		}
		if startupRun != nil {
			select {
			case <-startupRun:
			case <-shutdownCtx.Done():
				slog.Warn("startup run did not finish in time")
			}
		}

		if orch.Busy() {
			slog.Info("waiting for running pipeline operations to finish")
			if err := orch.WaitIdle(shutdownCtx); err != nil {
				slog.Warn("runs did not finish in time", "error", err)
			}
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}
