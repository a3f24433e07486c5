package scheduler

import (
	"context"

	"github.com/hookrelay/hookrelay/internal/bus"
)

// TaskPublisher publishes delivery tasks to the bus.
type TaskPublisher interface {
	PublishTask(ctx context.Context, task bus.DeliveryTask) error
}

// Dispatcher performs one delivery attempt for a message.
type Dispatcher interface {
	Dispatch(ctx context.Context, messageID string) error
}

// BusEnqueuer re-enqueues messages through the bus.
type BusEnqueuer struct {
	publisher TaskPublisher
}

// NewBusEnqueuer wraps a task publisher as an Enqueuer.
func NewBusEnqueuer(publisher TaskPublisher) *BusEnqueuer {
	return &BusEnqueuer{publisher: publisher}
}

func (e *BusEnqueuer) Enqueue(ctx context.Context, task bus.DeliveryTask) error {
	return e.publisher.PublishTask(ctx, task)
}

// DirectEnqueuer dispatches synchronously, for direct mode deployments
// where no bus is configured.
type DirectEnqueuer struct {
	dispatcher Dispatcher
}

// NewDirectEnqueuer wraps a dispatcher as an Enqueuer.
func NewDirectEnqueuer(dispatcher Dispatcher) *DirectEnqueuer {
	return &DirectEnqueuer{dispatcher: dispatcher}
}

func (e *DirectEnqueuer) Enqueue(ctx context.Context, task bus.DeliveryTask) error {
	return e.dispatcher.Dispatch(ctx, task.MessageID)
}
