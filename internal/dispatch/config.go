// Package dispatch performs delivery attempts: it claims a message, sends
// the signed payload to its destination, and records the outcome.
package dispatch

import (
	"time"
)

// Config holds dispatcher and sender settings.
type Config struct {
	// Workers is the number of concurrent delivery workers per consumer.
	Workers int `env:"WORKERS" envDefault:"3"`

	// ConnectTimeout bounds connection establishment to the destination.
	ConnectTimeout time.Duration `env:"CONNECT_TIMEOUT" envDefault:"10s"`

	// ReadTimeout bounds the full request/response round trip.
	ReadTimeout time.Duration `env:"READ_TIMEOUT" envDefault:"30s"`

	// SignatureHeader is the outbound signature header name.
	SignatureHeader string `env:"SIGNATURE_HEADER" envDefault:"X-Webhook-Signature"`

	// MaxCaptureBytes is the response body truncation limit.
	MaxCaptureBytes int `env:"MAX_CAPTURE_BYTES" envDefault:"4096"`

	// MaxConnsPerHost bounds the outbound connection pool per destination.
	MaxConnsPerHost int `env:"MAX_CONNS_PER_HOST" envDefault:"20"`

	// RateLimit is the global outbound request rate in requests per second.
	// Zero disables rate limiting.
	RateLimit float64 `env:"RATE_LIMIT" envDefault:"0"`

	// RateBurst is the rate limiter burst size.
	RateBurst int `env:"RATE_BURST" envDefault:"50"`

	// Node identifies this worker in delivery attempt records. Defaults to
	// the hostname when empty.
	Node string `env:"NODE"`
}
