package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// DeliveryTask is the wire envelope for one dispatch. It intentionally
// carries no payload: workers reload the message from the database, so a
// stale or duplicate task is resolved by the claim there.
type DeliveryTask struct {
	MessageID  string    `json:"message_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	Retry      bool      `json:"retry,omitempty"`
}

// Publisher publishes delivery tasks to JetStream.
type Publisher struct {
	js     jetstream.JetStream
	logger *slog.Logger
}

// NewPublisher creates a new task publisher.
func NewPublisher(js jetstream.JetStream, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		js:     js,
		logger: logger.With("component", "publisher"),
	}
}

// PublishTask publishes a delivery task. New messages go to the events
// subject, scheduler re-enqueues to the retries subject.
func (p *Publisher) PublishTask(ctx context.Context, task DeliveryTask) error {
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = time.Now().UTC()
	}

	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	subject := SubjectEvents
	if task.Retry {
		subject = SubjectRetries
	}

	ack, err := p.js.Publish(ctx, subject, data)
	if err != nil {
		return fmt.Errorf("failed to publish task: %w", err)
	}

	p.logger.Debug("task published",
		"message_id", task.MessageID,
		"subject", subject,
		"stream", ack.Stream,
		"sequence", ack.Sequence,
	)

	return nil
}

// PublishBatch publishes multiple tasks, continuing past individual
// failures. Returns the number published and ErrPartialPublish when any
// task failed.
func (p *Publisher) PublishBatch(ctx context.Context, tasks []DeliveryTask) (int, error) {
	published := 0

	for _, task := range tasks {
		if err := p.PublishTask(ctx, task); err != nil {
			p.logger.Error("failed to publish task in batch",
				"message_id", task.MessageID,
				"error", err,
			)
			continue
		}
		published++
	}

	if published < len(tasks) {
		return published, fmt.Errorf("%w: %d of %d failed", ErrPartialPublish, len(tasks)-published, len(tasks))
	}

	return published, nil
}
