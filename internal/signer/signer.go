// Package signer computes and verifies the HMAC-SHA256 payload signatures
// sent to webhook destinations. The signature is always computed over the
// exact payload bytes that are persisted and later posted, so a receiver can
// recompute it from the request body alone.
package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Prefix is prepended to the hex digest in the wire format.
const Prefix = "sha256="

// Sign returns the signature for payload under secret in the wire format
// "sha256=<64 lowercase hex chars>".
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return Prefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches the payload under secret.
// Comparison is constant time.
func Verify(secret string, payload []byte, signature string) bool {
	expected := Sign(secret, payload)
	return hmac.Equal([]byte(expected), []byte(signature))
}
