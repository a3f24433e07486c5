package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hookrelay/hookrelay/internal/health"
	"github.com/hookrelay/hookrelay/internal/ingest"
	"github.com/hookrelay/hookrelay/internal/observability"
	"github.com/hookrelay/hookrelay/internal/store"
)

// Pinger reports backing store liveness for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds the HTTP handlers for ingest and admin operations.
type Handler struct {
	ingest   *ingest.Service
	configs  *store.ConfigRepository
	messages *store.MessageRepository
	attempts *store.AttemptRepository
	health   *health.Aggregator
	pinger   Pinger
	logger   *slog.Logger
}

// NewHandler creates the API handler set.
func NewHandler(
	ingestSvc *ingest.Service,
	configs *store.ConfigRepository,
	messages *store.MessageRepository,
	attempts *store.AttemptRepository,
	healthAgg *health.Aggregator,
	pinger Pinger,
	logger *slog.Logger,
) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		ingest:   ingestSvc,
		configs:  configs,
		messages: messages,
		attempts: attempts,
		health:   healthAgg,
		pinger:   pinger,
		logger:   logger.With("component", "api"),
	}
}

// RegisterRoutes registers all routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/webhooks/{name}/messages", h.Ingest)

	mux.HandleFunc("GET /v1/messages/{id}", h.GetMessage)
	mux.HandleFunc("GET /v1/messages/{id}/attempts", h.ListAttempts)
	mux.HandleFunc("POST /v1/messages/{id}/cancel", h.CancelMessage)
	mux.HandleFunc("POST /v1/messages/{id}/retry", h.RetryMessage)
	mux.HandleFunc("POST /v1/messages/bulk-retry", h.BulkRetry)
	mux.HandleFunc("GET /v1/stats", h.Stats)

	mux.HandleFunc("POST /v1/webhooks", h.CreateConfig)
	mux.HandleFunc("GET /v1/webhooks", h.ListConfigs)
	mux.HandleFunc("GET /v1/webhooks/{name}", h.GetConfig)
	mux.HandleFunc("POST /v1/webhooks/{name}/active", h.SetActive)
	mux.HandleFunc("GET /v1/webhooks/{name}/health", h.WebhookHealth)

	mux.HandleFunc("GET /healthz", h.Healthz)
}

// ingestRequest is the submission envelope.
type ingestRequest struct {
	Payload        json.RawMessage   `json:"payload"`
	Headers        map[string]string `json:"headers,omitempty"`
	TargetOverride string            `json:"target_override,omitempty"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
}

// Ingest accepts a payload for the named webhook configuration.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = r.Header.Get("X-Idempotency-Key")
	}

	receipt, err := h.ingest.Receive(r.Context(), ingest.Submission{
		WebhookName:    r.PathValue("name"),
		Payload:        req.Payload,
		Headers:        req.Headers,
		TargetOverride: req.TargetOverride,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusAccepted, receipt)
}

// GetMessage returns one message by id.
func (h *Handler) GetMessage(w http.ResponseWriter, r *http.Request) {
	msg, err := h.messages.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

// ListAttempts returns all delivery attempts for a message, oldest first.
func (h *Handler) ListAttempts(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := h.messages.GetByID(r.Context(), id); err != nil {
		writeError(w, h.logger, err)
		return
	}
	attempts, err := h.attempts.ListByMessage(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if attempts == nil {
		attempts = []*store.DeliveryAttempt{}
	}
	writeJSON(w, http.StatusOK, attempts)
}

// CancelMessage cancels a message that has not reached a terminal state.
func (h *Handler) CancelMessage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ok, err := h.messages.Cancel(r.Context(), id, time.Now().UTC())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusConflict, errorResponse{Error: "message is not cancellable"})
		return
	}
	h.logger.Info("message cancelled", "message_id", id)
	writeJSON(w, http.StatusOK, map[string]string{"message_id": id, "status": string(store.StatusCancelled)})
}

type retryRequest struct {
	TargetOverride string `json:"target_override,omitempty"`
}

// RetryMessage requeues a terminally failed message for another delivery.
func (h *Handler) RetryMessage(w http.ResponseWriter, r *http.Request) {
	var req retryRequest
	if r.ContentLength != 0 {
		if err := decodeBody(r, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
	}

	id := r.PathValue("id")
	if _, err := h.messages.GetByID(r.Context(), id); err != nil {
		writeError(w, h.logger, err)
		return
	}

	var override *string
	if req.TargetOverride != "" {
		override = &req.TargetOverride
	}
	ok, err := h.messages.Requeue(r.Context(), id, override, time.Now().UTC())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusConflict, errorResponse{Error: "message is not in a retryable state"})
		return
	}
	h.logger.Info("message requeued", "message_id", id)
	writeJSON(w, http.StatusOK, map[string]string{"message_id": id, "status": string(store.StatusPending)})
}

type bulkRetryRequest struct {
	Hours          int    `json:"hours"`
	Limit          int    `json:"limit,omitempty"`
	TargetOverride string `json:"target_override,omitempty"`
}

type bulkRetryResponse struct {
	Requeued   int      `json:"requeued"`
	MessageIDs []string `json:"message_ids"`
}

// BulkRetry requeues terminally failed messages from the last N hours.
func (h *Handler) BulkRetry(w http.ResponseWriter, r *http.Request) {
	var req bulkRetryRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if req.Hours <= 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "hours must be positive"})
		return
	}
	if req.Limit <= 0 {
		req.Limit = 100
	}

	var override *string
	if req.TargetOverride != "" {
		override = &req.TargetOverride
	}
	now := time.Now().UTC()
	since := now.Add(-time.Duration(req.Hours) * time.Hour)
	ids, err := h.messages.RequeueFailedSince(r.Context(), since, req.Limit, override, now)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}

	h.logger.Info("bulk retry complete", "requeued", len(ids), "window_hours", req.Hours)
	writeJSON(w, http.StatusOK, bulkRetryResponse{Requeued: len(ids), MessageIDs: ids})
}

// Stats returns message counts grouped by status.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.messages.Stats(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// CreateConfig registers a new webhook configuration.
func (h *Handler) CreateConfig(w http.ResponseWriter, r *http.Request) {
	var cfg store.WebhookConfig
	if err := decodeBody(r, &cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	if err := h.configs.Create(r.Context(), &cfg); err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.logger.Info("webhook config created", "name", cfg.Name, "config_id", cfg.ID)
	writeJSON(w, http.StatusCreated, redactConfig(&cfg))
}

// ListConfigs returns all configurations, secrets redacted.
func (h *Handler) ListConfigs(w http.ResponseWriter, r *http.Request) {
	configs, err := h.configs.List(r.Context(), 1000, 0)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	redacted := make([]*store.WebhookConfig, len(configs))
	for i, cfg := range configs {
		redacted[i] = redactConfig(cfg)
	}
	writeJSON(w, http.StatusOK, redacted)
}

// GetConfig returns one configuration by name, secret redacted.
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.configs.GetByName(r.Context(), r.PathValue("name"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, redactConfig(cfg))
}

type setActiveRequest struct {
	Active bool `json:"active"`
}

// SetActive flips a configuration's active flag.
func (h *Handler) SetActive(w http.ResponseWriter, r *http.Request) {
	var req setActiveRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	cfg, err := h.configs.GetByName(r.Context(), r.PathValue("name"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := h.configs.SetActive(r.Context(), cfg.ID, req.Active); err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.logger.Info("webhook config active flag set", "name", cfg.Name, "active", req.Active)
	writeJSON(w, http.StatusOK, map[string]any{"name": cfg.Name, "active": req.Active})
}

type healthResponse struct {
	Status string `json:"status"`
	*store.WebhookHealthStats
}

// WebhookHealth returns the aggregated delivery health for one configuration.
func (h *Handler) WebhookHealth(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.configs.GetByName(r.Context(), r.PathValue("name"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	stats, err := h.health.Snapshot(r.Context(), cfg.ID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:             string(stats.Status()),
		WebhookHealthStats: stats,
	})
}

// Healthz reports process liveness and store reachability.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if h.pinger != nil {
		if err := h.pinger.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  "store unreachable",
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HTTPMetricsMiddleware exposes the observability middleware under the api
// package's Middleware type.
func HTTPMetricsMiddleware(metrics *observability.Metrics) Middleware {
	return Middleware(observability.HTTPMetrics(metrics))
}

func decodeBody(r *http.Request, v any) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return fmt.Errorf("failed to read request body: %w", err)
	}
	if len(body) == 0 {
		return errors.New("request body is required")
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// redactConfig copies a config with its secret blanked for API responses.
func redactConfig(cfg *store.WebhookConfig) *store.WebhookConfig {
	c := *cfg
	c.Secret = ""
	return &c
}
