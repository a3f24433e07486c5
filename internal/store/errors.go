package store

import "errors"

// Sentinel errors for the store package.
var (
	// ErrConfigNotFound indicates a webhook configuration was not found.
	ErrConfigNotFound = errors.New("webhook config not found")

	// ErrMessageNotFound indicates a message was not found.
	ErrMessageNotFound = errors.New("message not found")

	// ErrInvalidConfig indicates a webhook configuration failed validation.
	ErrInvalidConfig = errors.New("invalid webhook config")

	// ErrInvalidTransition indicates a forbidden message state transition,
	// e.g. finishing a message that is not in processing.
	ErrInvalidTransition = errors.New("invalid message state transition")

	// ErrDuplicateName indicates a webhook config name is already taken.
	ErrDuplicateName = errors.New("webhook config name already exists")
)
