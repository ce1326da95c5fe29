package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"propman/internal/apperr"
)

type errorResponse struct {
	Timestamp time.Time   `json:"timestamp"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details"`
}

var statusByKind = []struct {
	kind   error
	status int
}{
	{apperr.ErrNotFound, http.StatusNotFound},
	{apperr.ErrBadRequest, http.StatusBadRequest},
	{apperr.ErrConflict, http.StatusConflict},
	{apperr.ErrIllegalState, http.StatusBadRequest},
	{apperr.ErrUnauthenticated, http.StatusUnauthorized},
	{apperr.ErrBadCredentials, http.StatusUnauthorized},
	{apperr.ErrAccessDenied, http.StatusForbidden},
	{apperr.ErrTooManyRequests, http.StatusTooManyRequests},
}

func statusFor(err error) int {
	for _, m := range statusByKind {
		if errors.Is(err, m.kind) {
			return m.status
		}
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{
		Timestamp: time.Now().UTC(),
		Message:   message,
		Details:   http.StatusText(status),
	})
}

// writeAppError is the only place service errors become HTTP responses.
// Anything that is not an apperr kind is logged and hidden behind a 500.
func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	appErr, ok := apperr.As(err)
	if status == http.StatusInternalServerError || !ok {
		s.Log.WithError(err).WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"request_id": middleware.GetReqID(r.Context()),
		}).Error("request failed")
		writeError(w, http.StatusInternalServerError, "An unexpected error occurred")
		return
	}

	resp := errorResponse{
		Timestamp: time.Now().UTC(),
		Message:   appErr.Message,
		Details:   "uri=" + r.URL.Path,
	}
	if len(appErr.Fields) > 0 {
		resp.Details = appErr.Fields
	}
	writeJSON(w, status, resp)
}
