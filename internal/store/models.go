package store

import (
	"fmt"
	"net/url"
	"regexp"
	"time"
)

// MessageStatus represents the lifecycle state of a message.
type MessageStatus string

const (
	StatusPending    MessageStatus = "pending"
	StatusProcessing MessageStatus = "processing"
	StatusDelivered  MessageStatus = "delivered"
	StatusFailed     MessageStatus = "failed"
	StatusCancelled  MessageStatus = "cancelled"
)

// WebhookConfig describes where and how to deliver events for one logical
// channel. The dispatcher reads it as an immutable snapshot per message.
type WebhookConfig struct {
	ID               string            `json:"id"`
	Name             string            `json:"name"`
	TargetURL        string            `json:"target_url"`
	Secret           string            `json:"secret"`
	MaxRetries       int               `json:"max_retries"`
	BackoffStrategy  string            `json:"backoff_strategy"` // linear, exponential, fixed
	InitialIntervalS int               `json:"initial_interval_s"`
	BackoffFactor    float64           `json:"backoff_factor"`
	MaxIntervalS     int               `json:"max_interval_s"`
	MaxAgeS          int               `json:"max_age_s"`
	Headers          map[string]string `json:"headers,omitempty"`
	Active           bool              `json:"active"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

var nameRe = regexp.MustCompile(`^[A-Za-z0-9_-]{3,50}$`)

// Validate checks the configuration bounds. It is called on create/update;
// stored rows are assumed valid.
func (c *WebhookConfig) Validate() error {
	if !nameRe.MatchString(c.Name) {
		return fmt.Errorf("%w: name must be 3-50 chars of [A-Za-z0-9_-]", ErrInvalidConfig)
	}
	u, err := url.Parse(c.TargetURL)
	if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: target_url must be an absolute http(s) URL", ErrInvalidConfig)
	}
	if len(c.Secret) < 8 {
		return fmt.Errorf("%w: secret must be at least 8 characters", ErrInvalidConfig)
	}
	if c.MaxRetries < 0 || c.MaxRetries > 10 {
		return fmt.Errorf("%w: max_retries must be in 0..10", ErrInvalidConfig)
	}
	switch c.BackoffStrategy {
	case "linear", "exponential", "fixed":
	default:
		return fmt.Errorf("%w: backoff_strategy must be linear, exponential, or fixed", ErrInvalidConfig)
	}
	if c.InitialIntervalS < 5 {
		return fmt.Errorf("%w: initial_interval_s must be at least 5", ErrInvalidConfig)
	}
	if c.BackoffFactor < 1.0 || c.BackoffFactor > 5.0 {
		return fmt.Errorf("%w: backoff_factor must be in 1.0..5.0", ErrInvalidConfig)
	}
	if c.MaxIntervalS < 60 {
		return fmt.Errorf("%w: max_interval_s must be at least 60", ErrInvalidConfig)
	}
	if c.MaxAgeS < 3600 {
		return fmt.Errorf("%w: max_age_s must be at least 3600", ErrInvalidConfig)
	}
	return nil
}

// MaxAge returns the message expiry window as a duration.
func (c *WebhookConfig) MaxAge() time.Duration {
	return time.Duration(c.MaxAgeS) * time.Second
}

// Message is one delivery unit bound to one configuration. Payload holds the
// exact bytes that were signed; Signature is immutable once set.
type Message struct {
	ID              string            `json:"id"`
	WebhookConfigID string            `json:"webhook_config_id"`
	Payload         []byte            `json:"payload"`
	TargetURL       string            `json:"target_url"`
	Signature       string            `json:"signature"`
	Headers         map[string]string `json:"headers,omitempty"`
	Status          MessageStatus     `json:"status"`
	RetryCount      int               `json:"retry_count"`
	NextRetry       *time.Time        `json:"next_retry,omitempty"`
	LastError       *string           `json:"last_error,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// Terminal reports whether the message can never transition again.
func (m *Message) Terminal() bool {
	switch m.Status {
	case StatusDelivered, StatusCancelled:
		return true
	case StatusFailed:
		return m.NextRetry == nil
	default:
		return false
	}
}

// DeliveryAttempt records one HTTP request to the destination, regardless of
// outcome. Attempts are append-only.
type DeliveryAttempt struct {
	ID                string            `json:"id"`
	MessageID         string            `json:"message_id"`
	AttemptNumber     int               `json:"attempt_number"`
	AttemptedAt       time.Time         `json:"attempted_at"`
	StatusCode        *int              `json:"status_code,omitempty"`
	ResponseBody      string            `json:"response_body,omitempty"`
	Error             *string           `json:"error,omitempty"`
	RequestDurationMs int64             `json:"request_duration_ms"`
	TargetURL         string            `json:"target_url"`
	ResponseHeaders   map[string]string `json:"response_headers,omitempty"`
	ProcessingNode    string            `json:"processing_node"`
}

// HealthStatus classifies a configuration's recent delivery success.
type HealthStatus string

const (
	HealthUnknown   HealthStatus = "UNKNOWN"
	HealthHealthy   HealthStatus = "HEALTHY"
	HealthDegraded  HealthStatus = "DEGRADED"
	HealthUnhealthy HealthStatus = "UNHEALTHY"
)

// WebhookHealthStats holds per-configuration delivery counters and a rolling
// response time average.
type WebhookHealthStats struct {
	WebhookConfigID   string     `json:"webhook_config_id"`
	TotalSent         int64      `json:"total_sent"`
	TotalDelivered    int64      `json:"total_delivered"`
	TotalFailed       int64      `json:"total_failed"`
	AvgResponseTimeMs float64    `json:"avg_response_time_ms"`
	LastSuccessTime   *time.Time `json:"last_success_time,omitempty"`
	LastErrorTime     *time.Time `json:"last_error_time,omitempty"`
	LastError         *string    `json:"last_error,omitempty"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// SuccessRate returns delivered/sent in [0,1], or 0 when nothing was sent.
func (s *WebhookHealthStats) SuccessRate() float64 {
	if s.TotalSent == 0 {
		return 0
	}
	return float64(s.TotalDelivered) / float64(s.TotalSent)
}

// Status derives the health classification from the counters.
func (s *WebhookHealthStats) Status() HealthStatus {
	if s.TotalSent < 5 {
		return HealthUnknown
	}
	switch rate := s.SuccessRate(); {
	case rate >= 0.95:
		return HealthHealthy
	case rate >= 0.75:
		return HealthDegraded
	default:
		return HealthUnhealthy
	}
}
