// Package bus provides the NATS JetStream hop between message intake and the
// dispatch workers. The stream carries only message ids; the database remains
// the source of truth for payloads and state.
package bus

import (
	"time"
)

// Subjects used by the delivery pipeline.
const (
	SubjectEvents  = "webhooks.events"
	SubjectRetries = "webhooks.retries"
)

// Config holds NATS connection and stream configuration.
type Config struct {
	// URL is the NATS server URL (e.g., "nats://localhost:4222")
	URL string `env:"NATS_URL" envDefault:"nats://localhost:4222"`

	// Name is the client connection name for monitoring
	Name string `env:"NATS_CLIENT_NAME" envDefault:"hookrelay"`

	// MaxReconnects is the maximum number of reconnection attempts
	MaxReconnects int `env:"NATS_MAX_RECONNECTS" envDefault:"60"`

	// ReconnectWait is the time to wait between reconnection attempts
	ReconnectWait time.Duration `env:"NATS_RECONNECT_WAIT" envDefault:"2s"`

	// Timeout is the connection timeout
	Timeout time.Duration `env:"NATS_TIMEOUT" envDefault:"5s"`

	// Stream configuration
	Stream StreamConfig `envPrefix:"NATS_STREAM_"`
}

// StreamConfig holds JetStream stream configuration.
type StreamConfig struct {
	// Name is the stream name
	Name string `env:"NAME" envDefault:"HOOKRELAY_DELIVERIES"`

	// Subjects are the subjects to capture
	Subjects []string `env:"SUBJECTS" envDefault:"webhooks.>"`

	// MaxAge is the maximum age of messages in the stream
	MaxAge time.Duration `env:"MAX_AGE" envDefault:"72h"`

	// MaxBytes is the maximum size of the stream in bytes
	MaxBytes int64 `env:"MAX_BYTES" envDefault:"268435456"` // 256MB

	// Replicas is the number of replicas for the stream
	Replicas int `env:"REPLICAS" envDefault:"1"`

	// Storage is the storage type (file or memory)
	Storage string `env:"STORAGE" envDefault:"file"`
}

// ConsumerConfig holds JetStream consumer configuration.
type ConsumerConfig struct {
	// Name is the consumer durable name
	Name string

	// FilterSubject is the subject filter for the consumer
	FilterSubject string

	// AckWait is the time to wait for acknowledgment
	AckWait time.Duration

	// MaxAckPending is the maximum number of pending acknowledgments
	MaxAckPending int

	// MaxDeliver is the maximum number of delivery attempts
	MaxDeliver int
}

// DispatcherConsumerConfig returns the consumer configuration for the
// dispatch workers. AckWait must exceed the worst-case HTTP round trip so a
// slow destination does not trigger redelivery mid-attempt; redeliveries are
// harmless anyway since the claim CAS makes dispatch idempotent.
func DispatcherConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		Name:          "webhook-dispatcher",
		FilterSubject: "webhooks.>",
		AckWait:       2 * time.Minute,
		MaxAckPending: 1000,
		MaxDeliver:    5,
	}
}
