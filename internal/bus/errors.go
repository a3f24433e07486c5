package bus

import "errors"

// Sentinel errors for the bus package.
var (
	ErrNotConnected   = errors.New("NATS is not connected")
	ErrPartialPublish = errors.New("failed to publish some tasks")
)
