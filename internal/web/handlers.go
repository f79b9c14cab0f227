package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/JonMunkholm/dsvpipe/internal/core"
	"github.com/JonMunkholm/dsvpipe/internal/logging"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status   string         `json:"status"`
	Service  string         `json:"service"`
	Database string         `json:"database"`
	Ingest   core.RunRecord `json:"ingest"`
	Export   core.RunRecord `json:"export"`
	NextRun  *time.Time     `json:"next_run,omitempty"`
}

// IngestResponse is the body of a successful POST /ingest.
type IngestResponse struct {
	Status     string           `json:"status"`
	Message    string           `json:"message"`
	Table      string           `json:"table"`
	Rows       int64            `json:"rows"`
	Rejected   int              `json:"rejected"`
	Recreated  bool             `json:"recreated"`
	DurationMS int64            `json:"duration_ms"`
	Rejections []core.Rejection `json:"rejections,omitempty"`
}

// ExportResponse is the body of a successful POST /export.
type ExportResponse struct {
	Status     string `json:"status"`
	Message    string `json:"message"`
	Rows       int64  `json:"rows"`
	File       string `json:"file"`
	DurationMS int64  `json:"duration_ms"`
}

// handleHealth always answers 200; a store outage shows as "degraded" with
// database "disconnected".
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:   "healthy",
		Service:  s.cfg.Server.ServiceName,
		Database: "connected",
	}

	ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
	defer cancel()
	if err := s.db.Ping(ctx); err != nil {
		logging.FromContext(r.Context()).Warn("health: database ping failed", "error", err)
		resp.Status = "degraded"
		resp.Database = "disconnected"
	}

	st := s.runner.Status()
	resp.Ingest, resp.Export = st.Ingest, st.Export

	if s.schedule != nil {
		if next := s.schedule.NextRun(); !next.IsZero() {
			resp.NextRun = &next
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.runner.Status())
}

// handleIngest runs an ingest synchronously and reports the committed count.
// It answers 409 when an ingest is already running; see statusFor.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	res, err := s.runner.RunIngest(r.Context(), core.TriggerManual)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, IngestResponse{
		Status:     "success",
		Message:    fmt.Sprintf("Successfully ingested %d rows into %s", res.Rows, res.Table),
		Table:      res.Table,
		Rows:       res.Rows,
		Rejected:   res.Rejected,
		Recreated:  res.Recreated,
		DurationMS: res.Duration.Milliseconds(),
		Rejections: res.Rejections,
	})
}

// handleExport runs an export synchronously and reports the snapshot path.
// It answers 409 when an export is already running; see statusFor.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	res, err := s.runner.RunExport(r.Context(), core.TriggerManual)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, ExportResponse{
		Status:     "success",
		Message:    fmt.Sprintf("Exported %d rows to %s", res.Rows, res.Path),
		Rows:       res.Rows,
		File:       res.Path,
		DurationMS: res.Duration.Milliseconds(),
	})
}
