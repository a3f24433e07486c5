package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// TaskHandler processes one delivery task. A nil return means the outcome
// was durably recorded and the bus message can be acked, even when the
// delivery itself failed. An error means the handler could not reach a
// recorded outcome (database down, for example) and the task should be
// redelivered.
type TaskHandler func(ctx context.Context, task DeliveryTask) error

// Consumer pulls delivery tasks from JetStream and hands them to a handler.
type Consumer struct {
	js           jetstream.JetStream
	handler      TaskHandler
	logger       *slog.Logger
	consumerName string
	streamName   string
	batchSize    int

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewConsumer creates a new task consumer.
func NewConsumer(
	js jetstream.JetStream,
	streamName string,
	consumerName string,
	handler TaskHandler,
	logger *slog.Logger,
) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}

	return &Consumer{
		js:           js,
		handler:      handler,
		logger:       logger.With("component", "task-consumer"),
		consumerName: consumerName,
		streamName:   streamName,
		batchSize:    100,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
}

// Start begins consuming tasks. It returns after the fetch loop is running;
// the loop exits when ctx is cancelled or Stop is called.
func (c *Consumer) Start(ctx context.Context) error {
	stream, err := c.js.Stream(ctx, c.streamName)
	if err != nil {
		return fmt.Errorf("failed to get stream: %w", err)
	}

	consumer, err := stream.Consumer(ctx, c.consumerName)
	if err != nil {
		return fmt.Errorf("failed to get consumer: %w", err)
	}

	c.logger.Info("starting task consumer",
		"consumer", c.consumerName,
		"stream", c.streamName,
	)

	go func() {
		defer close(c.doneCh)

		for {
			select {
			case <-ctx.Done():
				c.logger.Info("context cancelled, stopping consumer")
				return
			case <-c.stopCh:
				c.logger.Info("stop signal received, stopping consumer")
				return
			default:
				msgs, err := consumer.Fetch(c.batchSize, jetstream.FetchMaxWait(5*time.Second))
				if err != nil {
					if !errors.Is(err, context.DeadlineExceeded) {
						c.logger.Error("failed to fetch tasks", "error", err)
					}
					continue
				}

				for msg := range msgs.Messages() {
					c.processMessage(ctx, msg)
				}

				if err := msgs.Error(); err != nil {
					c.logger.Error("messages error", "error", err)
				}
			}
		}
	}()

	return nil
}

// processMessage decodes and handles one bus message. A malformed envelope
// is acked and dropped since redelivery cannot fix it.
func (c *Consumer) processMessage(ctx context.Context, msg jetstream.Msg) {
	var task DeliveryTask
	if err := json.Unmarshal(msg.Data(), &task); err != nil {
		c.logger.Error("dropping malformed task",
			"subject", msg.Subject(),
			"error", err,
		)
		if ackErr := msg.Ack(); ackErr != nil {
			c.logger.Error("failed to ACK message", "error", ackErr)
		}
		return
	}

	if err := c.handle(ctx, task); err != nil {
		c.logger.Error("failed to process task",
			"message_id", task.MessageID,
			"error", err,
		)
		if nakErr := msg.Nak(); nakErr != nil {
			c.logger.Error("failed to NAK message", "error", nakErr)
		}
		return
	}

	if err := msg.Ack(); err != nil {
		c.logger.Error("failed to ACK message", "error", err)
	}
}

// handle invokes the handler with panic isolation so one bad task cannot
// take the fetch loop down.
func (c *Consumer) handle(ctx context.Context, task DeliveryTask) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return c.handler(ctx, task)
}

// Stop stops the consumer gracefully.
func (c *Consumer) Stop(ctx context.Context) error {
	c.logger.Info("stopping task consumer")
	close(c.stopCh)

	select {
	case <-c.doneCh:
	case <-ctx.Done():
		return ctx.Err()
	}

	return nil
}
