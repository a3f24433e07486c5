// Package api provides the HTTP surface: the ingest endpoint plus the admin
// operations for messages, attempts, configs, and health.
package api

import (
	"time"
)

// Config holds HTTP server configuration.
type Config struct {
	// Addr is the address to listen on (e.g., ":8080")
	Addr string `env:"HTTP_ADDR" envDefault:":8080"`

	// ReadTimeout is the maximum duration for reading the entire request
	ReadTimeout time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"10s"`

	// WriteTimeout is the maximum duration before timing out writes of the response
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`

	// IdleTimeout is the maximum amount of time to wait for the next request
	IdleTimeout time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`

	// MaxHeaderBytes is the maximum size of request headers
	MaxHeaderBytes int `env:"HTTP_MAX_HEADER_BYTES" envDefault:"1048576"` // 1MB

	// MaxBodyBytes caps request body size. Slightly above the 1 MiB payload
	// limit to leave room for the submission envelope.
	MaxBodyBytes int64 `env:"HTTP_MAX_BODY_BYTES" envDefault:"1310720"`

	// Rate limiting configuration
	RateLimit RateLimitConfig `envPrefix:"RATE_LIMIT_"`

	// Shutdown timeout for graceful shutdown
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	// Enabled indicates whether rate limiting is enabled
	Enabled bool `env:"ENABLED" envDefault:"true"`

	// RequestsPerSecond is the number of requests allowed per second
	RequestsPerSecond float64 `env:"REQUESTS_PER_SECOND" envDefault:"1000"`

	// BurstSize is the maximum burst size
	BurstSize int `env:"BURST_SIZE" envDefault:"2000"`
}
