package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/contentflow/wfm/internal/artifact"
	"github.com/contentflow/wfm/internal/service"
)

// maxBody bounds request bodies, uploads included.
const maxBody = 10 << 20

type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

type SuccessResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message,omitempty"`
	Filename string `json:"filename,omitempty"`
}

func respondJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode JSON response", "error", err)
	}
}

func respondError(w http.ResponseWriter, r *http.Request, status int, message string) {
	slog.DebugContext(r.Context(), "sending error response",
		"status_code", status,
		"message", message,
		"path", r.URL.Path,
		"method", r.Method)
	respondJSON(w, r, status, ErrorResponse{
		Error:     message,
		RequestID: middleware.GetReqID(r.Context()),
	})
}

// respondErrorAndLog sends message to the client and logs err. Server errors
// are logged at error level, everything else at debug.
func respondErrorAndLog(w http.ResponseWriter, r *http.Request, status int, message string, err error) {
	level := slog.LevelDebug
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	slog.Log(r.Context(), level, "API error response",
		"path", r.URL.Path,
		"method", r.Method,
		"status_code", status,
		"user_message", message,
		"error", err)
	respondJSON(w, r, status, ErrorResponse{
		Error:     message,
		RequestID: middleware.GetReqID(r.Context()),
	})
}

// statusOf maps package errors to HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, service.ErrJobNotFound),
		errors.Is(err, artifact.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, artifact.ErrInvalidName):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// respondStoreError answers a failed store call. fallback is the client
// message of unexpected errors.
func respondStoreError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	status := statusOf(err)
	msg := fallback
	switch status {
	case http.StatusNotFound:
		msg = "File not found"
	case http.StatusBadRequest:
		msg = "Invalid file name"
	}
	respondErrorAndLog(w, r, status, msg, err)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	return dec.Decode(v)
}
