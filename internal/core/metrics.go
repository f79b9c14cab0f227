package core

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline metrics, registered on the default registry and served by the
// web layer at /metrics.
var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dsvpipe",
		Name:      "runs_total",
		Help:      "Completed runs by operation and terminal status.",
	}, []string{"op", "status"})

	runsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dsvpipe",
		Name:      "runs_rejected_total",
		Help:      "Run requests rejected because the operation was already running.",
	}, []string{"op"})

	runDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "dsvpipe",
		Name:      "run_duration_seconds",
		Help:      "Wall time of completed runs.",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
	}, []string{"op"})

	runsInProgress = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "dsvpipe",
		Name:      "runs_in_progress",
		Help:      "1 while a run of the operation is executing.",
	}, []string{"op"})

	lastSuccess = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "dsvpipe",
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix time of the last successful run.",
	}, []string{"op"})

	rowsLoaded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dsvpipe",
		Name:      "rows_loaded_total",
		Help:      "Rows committed by ingest runs.",
	})

	rowsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dsvpipe",
		Name:      "rows_rejected_total",
		Help:      "Input rows rejected by the parser.",
	})

	rowsExported = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dsvpipe",
		Name:      "rows_exported_total",
		Help:      "Rows written to snapshot files.",
	})

	batchesCopied = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dsvpipe",
		Name:      "batches_copied_total",
		Help:      "COPY batches sent to the store, including batches of rolled-back loads.",
	})
)
