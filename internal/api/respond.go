package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hookrelay/hookrelay/internal/ingest"
	"github.com/hookrelay/hookrelay/internal/store"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps sentinel errors onto HTTP statuses. Unrecognized errors
// become opaque 500s so internals never leak to callers.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error("request failed", "error", err)
		writeJSON(w, status, errorResponse{Error: "internal server error"})
		return
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ingest.ErrUnknownWebhook),
		errors.Is(err, store.ErrConfigNotFound),
		errors.Is(err, store.ErrMessageNotFound):
		return http.StatusNotFound
	case errors.Is(err, ingest.ErrDuplicate),
		errors.Is(err, store.ErrDuplicateName),
		errors.Is(err, store.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, ingest.ErrPayloadRejected),
		errors.Is(err, store.ErrInvalidConfig):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
