// Package ingest validates incoming submissions, canonicalizes and signs
// their payloads, and enqueues the resulting messages for delivery.
package ingest

import (
	"encoding/json"
	"fmt"
)

// MaxPayloadBytes bounds the canonical payload size.
const MaxPayloadBytes = 1 << 20 // 1 MiB

// CanonicalJSON converts raw JSON into its canonical byte form: object keys
// sorted, UTF-8, no insignificant whitespace. These are the exact bytes that
// get signed and persisted, so the transform must be deterministic.
func CanonicalJSON(raw []byte) ([]byte, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrPayloadRejected)
	}
	if len(raw) > MaxPayloadBytes {
		return nil, fmt.Errorf("%w: payload exceeds %d bytes", ErrPayloadRejected, MaxPayloadBytes)
	}

	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON: %v", ErrPayloadRejected, err)
	}

	// encoding/json marshals map keys in sorted order, which yields the
	// canonical form for any nesting depth.
	canonical, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPayloadRejected, err)
	}
	if len(canonical) > MaxPayloadBytes {
		return nil, fmt.Errorf("%w: canonical payload exceeds %d bytes", ErrPayloadRejected, MaxPayloadBytes)
	}

	return canonical, nil
}
