package dispatch

import (
	"time"
)

// Class partitions outcomes by what the pipeline does next.
type Class int

const (
	// ClassSuccess means the destination acknowledged with 2xx.
	ClassSuccess Class = iota

	// ClassRetryable means the failure may resolve on its own: 408, 429,
	// 5xx, or a transport error.
	ClassRetryable

	// ClassPermanent means retrying cannot help: 3xx (redirects are not
	// followed) and the remaining 4xx.
	ClassPermanent
)

// Outcome is the result of one delivery attempt. StatusCode is nil when the
// request never produced an HTTP response; Err is set in exactly that case.
type Outcome struct {
	StatusCode      *int
	Body            string
	ResponseHeaders map[string]string
	Err             error
	Duration        time.Duration
}

// Class classifies the outcome.
func (o Outcome) Class() Class {
	if o.StatusCode == nil {
		return ClassRetryable
	}
	code := *o.StatusCode
	switch {
	case code >= 200 && code < 300:
		return ClassSuccess
	case code == 408 || code == 429 || code >= 500:
		return ClassRetryable
	default:
		return ClassPermanent
	}
}

// RetryDelayFactor scales the backoff delay for specific failure modes:
// 2.0 when the destination is rate limiting, 1.2 for connection errors.
func (o Outcome) RetryDelayFactor() float64 {
	if o.StatusCode == nil {
		return 1.2
	}
	if *o.StatusCode == 429 {
		return 2.0
	}
	return 1.0
}
