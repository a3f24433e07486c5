package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/hookrelay/hookrelay/internal/backoff"
	"github.com/hookrelay/hookrelay/internal/observability"
	"github.com/hookrelay/hookrelay/internal/store"
)

// PayloadSender performs one outbound request for a message.
type PayloadSender interface {
	Send(ctx context.Context, msg *store.Message, attemptNumber int) Outcome
	Node() string
}

// HealthRecorder accumulates per-configuration delivery health.
type HealthRecorder interface {
	RecordSuccess(configID string, durationMs float64, at time.Time)
	RecordFailure(configID string, errMsg string, at time.Time)
}

// Dispatcher owns the message state machine between claim and terminal or
// retryable outcome. Both the bus consumer and the retry scheduler funnel
// into Dispatch.
type Dispatcher struct {
	messages *store.MessageRepository
	configs  *store.ConfigRepository
	sender   PayloadSender
	health   HealthRecorder
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// NewDispatcher creates a dispatcher. health and metrics are optional.
func NewDispatcher(
	messages *store.MessageRepository,
	configs *store.ConfigRepository,
	sender PayloadSender,
	health HealthRecorder,
	metrics *observability.Metrics,
	logger *slog.Logger,
) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		messages: messages,
		configs:  configs,
		sender:   sender,
		health:   health,
		metrics:  metrics,
		logger:   logger.With("component", "dispatcher"),
	}
}

// Dispatch performs at most one delivery attempt for the message. Losing
// the claim is not an error: another worker owns the message or it already
// reached a terminal state, and redelivered bus tasks land here constantly.
func (d *Dispatcher) Dispatch(ctx context.Context, messageID string) error {
	now := time.Now().UTC()

	claimed, err := d.messages.ClaimForProcessing(ctx, messageID, now)
	if err != nil {
		return fmt.Errorf("failed to claim message: %w", err)
	}
	if !claimed {
		d.logger.Debug("claim lost, skipping", "message_id", messageID)
		return nil
	}

	msg, err := d.messages.GetByID(ctx, messageID)
	if err != nil {
		// The row stays in processing; zombie recovery will revert it.
		return fmt.Errorf("failed to load claimed message: %w", err)
	}

	cfg, err := d.configs.GetByID(ctx, msg.WebhookConfigID)
	if err != nil {
		if errors.Is(err, store.ErrConfigNotFound) {
			d.logger.Error("config missing, failing message terminally",
				"message_id", messageID,
				"webhook_config_id", msg.WebhookConfigID,
			)
			return d.messages.FinishFailed(ctx, messageID, nil, "webhook config missing", nil, now)
		}
		return fmt.Errorf("failed to load config: %w", err)
	}

	if now.Sub(msg.CreatedAt) > cfg.MaxAge() {
		d.logger.Warn("message expired before delivery",
			"message_id", messageID,
			"age", now.Sub(msg.CreatedAt),
		)
		if d.metrics != nil {
			d.metrics.MessagesExpired.Add(ctx, 1)
		}
		return d.messages.FinishFailed(ctx, messageID, nil, "expired: exceeded max age", nil, now)
	}

	attemptNumber := msg.RetryCount + 1
	outcome := d.sender.Send(ctx, msg, attemptNumber)

	attempt := &store.DeliveryAttempt{
		MessageID:         messageID,
		AttemptNumber:     attemptNumber,
		AttemptedAt:       now,
		StatusCode:        outcome.StatusCode,
		ResponseBody:      outcome.Body,
		RequestDurationMs: outcome.Duration.Milliseconds(),
		TargetURL:         msg.TargetURL,
		ResponseHeaders:   outcome.ResponseHeaders,
		ProcessingNode:    d.sender.Node(),
	}
	if outcome.Err != nil {
		errText := outcome.Err.Error()
		attempt.Error = &errText
	}

	d.observeAttempt(ctx, outcome)

	switch outcome.Class() {
	case ClassSuccess:
		if err := d.messages.FinishDelivered(ctx, messageID, attempt, time.Now().UTC()); err != nil {
			return fmt.Errorf("failed to finish delivered: %w", err)
		}
		if d.health != nil {
			d.health.RecordSuccess(cfg.ID, float64(outcome.Duration.Milliseconds()), now)
		}
		d.logger.Info("delivered",
			"message_id", messageID,
			"attempt", attemptNumber,
			"duration_ms", outcome.Duration.Milliseconds(),
		)
		return nil

	case ClassRetryable:
		return d.finishRetryable(ctx, msg, cfg, attempt, outcome, now)

	default:
		lastError := outcomeError(outcome)
		if err := d.messages.FinishFailed(ctx, messageID, attempt, lastError, nil, time.Now().UTC()); err != nil {
			return fmt.Errorf("failed to finish permanent failure: %w", err)
		}
		if d.health != nil {
			d.health.RecordFailure(cfg.ID, lastError, now)
		}
		d.logger.Warn("permanent delivery failure",
			"message_id", messageID,
			"attempt", attemptNumber,
			"error", lastError,
		)
		return nil
	}
}

// finishRetryable schedules the next attempt or exhausts the budget. The
// retry budget is spent when either max_retries is reached or the computed
// next attempt would land past the message's max age.
func (d *Dispatcher) finishRetryable(
	ctx context.Context,
	msg *store.Message,
	cfg *store.WebhookConfig,
	attempt *store.DeliveryAttempt,
	outcome Outcome,
	now time.Time,
) error {
	lastError := outcomeError(outcome)

	policy := backoff.Policy{
		Strategy: backoff.Strategy(cfg.BackoffStrategy),
		Initial:  time.Duration(cfg.InitialIntervalS) * time.Second,
		Factor:   cfg.BackoffFactor,
		Max:      time.Duration(cfg.MaxIntervalS) * time.Second,
	}
	delay := policy.ScaledDelay(msg.RetryCount, outcome.RetryDelayFactor())

	exhausted := attempt.AttemptNumber >= cfg.MaxRetries ||
		now.Add(delay).After(msg.CreatedAt.Add(cfg.MaxAge()))

	var nextRetry *time.Time
	if exhausted {
		lastError = "retry budget exhausted: " + lastError
	} else {
		t := now.Add(delay)
		nextRetry = &t
	}

	if err := d.messages.FinishFailed(ctx, msg.ID, attempt, lastError, nextRetry, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to finish retryable failure: %w", err)
	}
	if d.health != nil {
		d.health.RecordFailure(cfg.ID, lastError, now)
	}

	if exhausted {
		d.logger.Warn("retry budget exhausted",
			"message_id", msg.ID,
			"attempt", attempt.AttemptNumber,
			"error", lastError,
		)
	} else {
		d.logger.Info("delivery failed, retry scheduled",
			"message_id", msg.ID,
			"attempt", attempt.AttemptNumber,
			"next_retry", nextRetry,
			"error", lastError,
		)
	}
	return nil
}

func (d *Dispatcher) observeAttempt(ctx context.Context, outcome Outcome) {
	if d.metrics == nil {
		return
	}
	d.metrics.DeliveryAttempts.Add(ctx, 1)
	d.metrics.DeliveryDuration.Record(ctx, float64(outcome.Duration.Milliseconds()))
	switch outcome.Class() {
	case ClassSuccess:
		d.metrics.DeliverySuccess.Add(ctx, 1)
	default:
		attrs := otelmetric.WithAttributes(
			attribute.Bool("retryable", outcome.Class() == ClassRetryable),
		)
		d.metrics.DeliveryFailure.Add(ctx, 1, attrs)
	}
}

// outcomeError renders the failure for last_error and health records.
func outcomeError(o Outcome) string {
	if o.StatusCode != nil {
		return fmt.Sprintf("HTTP %d", *o.StatusCode)
	}
	if o.Err != nil {
		return o.Err.Error()
	}
	return "unknown delivery error"
}
