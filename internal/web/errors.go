package web

// errors.go turns pipeline errors into JSON responses.
//
// The full error is logged with the request ID; the client gets the mapped
// user message, the error kind and its support code, never the raw cause.

import (
	"errors"
	"net/http"

	"github.com/JonMunkholm/dsvpipe/internal/core"
	"github.com/JonMunkholm/dsvpipe/internal/logging"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Kind    string `json:"kind,omitempty"`
	Code    string `json:"code"`
	Action  string `json:"action,omitempty"`
}

// statusFor picks the HTTP status for err's kind. A trigger rejected because
// the same operation is already running gets 409, not a 5xx, and may be
// retried once that run ends. An unreachable store is 503, anything else 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrConcurrentRunRejected):
		return http.StatusConflict
	case errors.Is(err, core.ErrConnectionUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := core.MapError(err)

	logger := logging.FromContext(r.Context())
	args := []any{
		"method", r.Method,
		"path", r.URL.Path,
		"status", status,
		"kind", core.KindOf(err),
		"code", msg.Code,
		"error", err,
	}
	if status == http.StatusConflict {
		logger.Warn("request rejected", args...)
	} else {
		logger.Error("request failed", args...)
	}

	writeJSON(w, status, ErrorResponse{
		Status:  "error",
		Message: msg.Message,
		Kind:    core.KindOf(err),
		Code:    msg.Code,
		Action:  msg.Action,
	})
}
