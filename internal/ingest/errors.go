package ingest

import "errors"

// Sentinel errors for the ingest package.
var (
	// ErrUnknownWebhook indicates the named configuration is absent or inactive.
	ErrUnknownWebhook = errors.New("unknown or inactive webhook")

	// ErrPayloadRejected indicates the payload failed validation.
	ErrPayloadRejected = errors.New("payload rejected")

	// ErrDuplicate indicates the idempotency key was seen within the dedup window.
	ErrDuplicate = errors.New("duplicate submission")
)
