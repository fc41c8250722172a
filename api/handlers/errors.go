package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/getsentry/sentry-go"
	"github.com/malbeclabs/escrow/ledger/pkg/failure"
	"github.com/malbeclabs/escrow/ledger/pkg/runtime"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	Class      string `json:"class,omitempty"`
	RetryAfter int    `json:"retry_after,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
}

// StatusForClass maps a failure class to its HTTP status.
func StatusForClass(c failure.Class) int {
	switch c {
	case failure.ClassValidation:
		return http.StatusBadRequest
	case failure.ClassAuthorization:
		return http.StatusForbidden
	case failure.ClassState, failure.ClassBalance:
		return http.StatusConflict
	case failure.ClassTemporal:
		return http.StatusTooManyRequests
	case failure.ClassArithmetic:
		return http.StatusUnprocessableEntity
	case failure.ClassNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeBadRequest(w http.ResponseWriter, r *http.Request, message string) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{
		Error:     "invalid_request",
		Message:   message,
		Class:     failure.ClassValidation.String(),
		RequestID: RequestIDFromContext(r.Context()),
	})
}

// writeError renders err. Domain failures keep their code and class; anything
// else is logged, reported and hidden behind a generic 500.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	requestID := RequestIDFromContext(r.Context())

	if errors.Is(err, runtime.ErrConflict) {
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{
			Error:     "conflict",
			Message:   "the operation raced with another writer, retry later",
			RequestID: requestID,
		})
		return
	}
	if errors.Is(err, runtime.ErrUnavailable) {
		a.log.Warn("api: runtime unavailable", "path", r.URL.Path, "error", err, "request_id", requestID)
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{
			Error:     "unavailable",
			Message:   "the operation was not applied, retry later",
			RequestID: requestID,
		})
		return
	}

	if f, ok := failure.As(err); ok {
		writeJSON(w, StatusForClass(f.Class), ErrorResponse{
			Error:     f.Code,
			Message:   f.Message,
			Class:     f.Class.String(),
			RequestID: requestID,
		})
		return
	}

	a.log.Error("api: unexpected error", "method", r.Method, "path", r.URL.Path, "error", err, "request_id", requestID)
	if hub := sentry.GetHubFromContext(r.Context()); hub != nil {
		hub.CaptureException(err)
	} else {
		sentry.CaptureException(err)
	}
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{
		Error:     "internal_error",
		Message:   "internal server error",
		RequestID: requestID,
	})
}
