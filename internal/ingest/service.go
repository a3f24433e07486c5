package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hookrelay/hookrelay/internal/bus"
	"github.com/hookrelay/hookrelay/internal/dedup"
	"github.com/hookrelay/hookrelay/internal/observability"
	"github.com/hookrelay/hookrelay/internal/signer"
	"github.com/hookrelay/hookrelay/internal/store"
)

// TaskPublisher publishes delivery tasks to the bus.
type TaskPublisher interface {
	PublishTask(ctx context.Context, task bus.DeliveryTask) error
}

// Dispatcher performs one delivery attempt for a message.
type Dispatcher interface {
	Dispatch(ctx context.Context, messageID string) error
}

// Submission is one incoming payload addressed to a named configuration.
type Submission struct {
	WebhookName    string
	Payload        json.RawMessage
	Headers        map[string]string
	TargetOverride string
	IdempotencyKey string
}

// Receipt is returned to the submitter once the message is durable.
type Receipt struct {
	MessageID string              `json:"message_id"`
	Status    store.MessageStatus `json:"status"`
}

// Service validates submissions and turns them into pending messages.
// Intake does no destination I/O: in bus mode the message is durable once
// the row commits, and a failed publish is recovered by the scheduler.
type Service struct {
	configs    *store.ConfigRepository
	messages   *store.MessageRepository
	publisher  TaskPublisher
	dispatcher Dispatcher
	filter     *dedup.Filter
	metrics    *observability.Metrics
	logger     *slog.Logger
	directMode bool
}

// NewService creates the ingest service. In direct mode the dispatcher is
// invoked synchronously and the publisher is unused; otherwise tasks go to
// the bus. filter and metrics are optional.
func NewService(
	configs *store.ConfigRepository,
	messages *store.MessageRepository,
	publisher TaskPublisher,
	dispatcher Dispatcher,
	filter *dedup.Filter,
	metrics *observability.Metrics,
	directMode bool,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		configs:    configs,
		messages:   messages,
		publisher:  publisher,
		dispatcher: dispatcher,
		filter:     filter,
		metrics:    metrics,
		logger:     logger.With("component", "ingest"),
		directMode: directMode,
	}
}

// Receive validates the submission, signs the canonical payload, persists
// the message as pending, and enqueues it for delivery.
func (s *Service) Receive(ctx context.Context, sub Submission) (*Receipt, error) {
	cfg, err := s.configs.GetByName(ctx, sub.WebhookName)
	if err != nil {
		if errors.Is(err, store.ErrConfigNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownWebhook, sub.WebhookName)
		}
		return nil, err
	}
	if !cfg.Active {
		return nil, fmt.Errorf("%w: %s is inactive", ErrUnknownWebhook, sub.WebhookName)
	}

	if s.filter != nil && s.filter.Seen(cfg.ID, sub.IdempotencyKey) {
		return nil, fmt.Errorf("%w: key %q", ErrDuplicate, sub.IdempotencyKey)
	}

	payload, err := CanonicalJSON(sub.Payload)
	if err != nil {
		return nil, err
	}

	targetURL := cfg.TargetURL
	if sub.TargetOverride != "" {
		targetURL = sub.TargetOverride
	}

	msg := &store.Message{
		WebhookConfigID: cfg.ID,
		Payload:         payload,
		TargetURL:       targetURL,
		Signature:       signer.Sign(cfg.Secret, payload),
		Headers:         mergeHeaders(cfg.Headers, sub.Headers),
		Status:          store.StatusPending,
	}

	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to persist message: %w", err)
	}

	if s.metrics != nil {
		s.metrics.MessagesAccepted.Add(ctx, 1)
	}
	s.logger.Info("message accepted",
		"message_id", msg.ID,
		"webhook", cfg.Name,
		"bytes", len(payload),
	)

	if s.directMode {
		if err := s.dispatcher.Dispatch(ctx, msg.ID); err != nil {
			s.logger.Error("direct dispatch failed",
				"message_id", msg.ID,
				"error", err,
			)
		}
		return &Receipt{MessageID: msg.ID, Status: store.StatusPending}, nil
	}

	task := bus.DeliveryTask{MessageID: msg.ID}
	if err := s.publisher.PublishTask(ctx, task); err != nil {
		// The row is already pending; the scheduler re-enqueues it.
		s.logger.Error("failed to publish task, leaving message pending",
			"message_id", msg.ID,
			"error", err,
		)
	} else if s.metrics != nil {
		s.metrics.BusTasksPublished.Add(ctx, 1)
	}

	return &Receipt{MessageID: msg.ID, Status: store.StatusPending}, nil
}

// mergeHeaders overlays submission headers on the configuration's defaults.
func mergeHeaders(base, override map[string]string) map[string]string {
	if len(base) == 0 && len(override) == 0 {
		return nil
	}
	merged := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range override {
		merged[k] = v
	}
	return merged
}
