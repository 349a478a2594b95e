package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/stefando/imageHostAWS/internal/upload"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// statusFor maps the lifecycle error taxonomy to HTTP status codes.
func statusFor(err error) int {
	var (
		verr *upload.ValidationError
		nerr *upload.NotFoundError
	)
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.As(err, &nerr):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// writeError writes err as {"error": msg}. Internal errors keep their cause
// in the message so it is visible to the caller.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "error", err)
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}
