package signer

import (
	"strings"
	"testing"
)

func TestSignFormat(t *testing.T) {
	sig := Sign("s3cretXX", []byte(`{"k":1}`))

	if !strings.HasPrefix(sig, "sha256=") {
		t.Fatalf("signature %q missing sha256= prefix", sig)
	}
	if len(sig) != len("sha256=")+64 {
		t.Errorf("signature length = %d, want %d", len(sig), len("sha256=")+64)
	}
	if sig != strings.ToLower(sig) {
		t.Errorf("signature %q is not lowercase hex", sig)
	}
}

func TestSignDeterministic(t *testing.T) {
	payload := []byte(`{"a":1,"b":"two"}`)

	first := Sign("secret-key", payload)
	second := Sign("secret-key", payload)

	if first != second {
		t.Errorf("Sign is not deterministic: %q != %q", first, second)
	}
}

func TestSignKnownVector(t *testing.T) {
	// HMAC-SHA256("key", "The quick brown fox jumps over the lazy dog")
	got := Sign("key", []byte("The quick brown fox jumps over the lazy dog"))
	want := "sha256=f7bc83f430538424b13298e6aa6fb143ef4d59a14946175997479dbc2d1a3cd8"

	if got != want {
		t.Errorf("Sign() = %q, want %q", got, want)
	}
}

func TestVerifyRoundTrip(t *testing.T) {
	secret := "s3cretXX"
	payload := []byte(`{"order_id":"o-1","amount_cents":4200}`)

	sig := Sign(secret, payload)
	if !Verify(secret, payload, sig) {
		t.Fatal("Verify rejected a signature produced by Sign")
	}
}

func TestVerifyRejectsTampering(t *testing.T) {
	secret := "s3cretXX"
	payload := []byte(`{"k":1}`)
	sig := Sign(secret, payload)

	t.Run("flipped payload byte", func(t *testing.T) {
		tampered := append([]byte(nil), payload...)
		tampered[0] ^= 0x01
		if Verify(secret, tampered, sig) {
			t.Error("Verify accepted a tampered payload")
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		if Verify("s3cretXY", payload, sig) {
			t.Error("Verify accepted a signature under the wrong secret")
		}
	})

	t.Run("truncated signature", func(t *testing.T) {
		if Verify(secret, payload, sig[:len(sig)-2]) {
			t.Error("Verify accepted a truncated signature")
		}
	})

	t.Run("empty signature", func(t *testing.T) {
		if Verify(secret, payload, "") {
			t.Error("Verify accepted an empty signature")
		}
	})
}
