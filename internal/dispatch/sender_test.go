package dispatch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hookrelay/hookrelay/internal/store"
)

func newTestSender(t *testing.T) *Sender {
	t.Helper()
	return NewSender(Config{
		ConnectTimeout:  2 * time.Second,
		ReadTimeout:     5 * time.Second,
		SignatureHeader: "X-Webhook-Signature",
		MaxCaptureBytes: 4096,
		MaxConnsPerHost: 10,
		Node:            "test-node",
	}, nil)
}

func TestSendReservedHeadersNotOverridable(t *testing.T) {
	var got http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	msg := &store.Message{
		ID:        "msg-1",
		Payload:   []byte(`{"k":1}`),
		TargetURL: server.URL,
		Signature: "sha256=real",
		Headers: map[string]string{
			"X-Webhook-Signature": "sha256=forged",
			"X-Webhook-Id":        "spoofed-id",
			"X-Webhook-Attempt":   "99",
			"X-Custom":            "kept",
		},
	}

	outcome := newTestSender(t).Send(context.Background(), msg, 1)
	if outcome.Class() != ClassSuccess {
		t.Fatalf("outcome class = %v, want success", outcome.Class())
	}

	tests := []struct {
		header string
		want   string
	}{
		{header: "X-Webhook-Signature", want: "sha256=real"},
		{header: "X-Webhook-Id", want: "msg-1"},
		{header: "X-Webhook-Attempt", want: "1"},
		{header: "X-Custom", want: "kept"},
	}
	for _, tt := range tests {
		if v := got.Get(tt.header); v != tt.want {
			t.Errorf("%s = %q, want %q", tt.header, v, tt.want)
		}
	}
}

func TestSendCapturesTruncatedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		for range 100 {
			_, _ = w.Write([]byte("0123456789"))
		}
	}))
	t.Cleanup(server.Close)

	sender := NewSender(Config{
		ConnectTimeout:  2 * time.Second,
		ReadTimeout:     5 * time.Second,
		SignatureHeader: "X-Webhook-Signature",
		MaxCaptureBytes: 16,
		MaxConnsPerHost: 10,
		Node:            "test-node",
	}, nil)

	msg := &store.Message{
		ID:        "msg-2",
		Payload:   []byte(`{}`),
		TargetURL: server.URL,
		Signature: "sha256=x",
	}
	outcome := sender.Send(context.Background(), msg, 1)

	if outcome.StatusCode == nil || *outcome.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %v, want 502", outcome.StatusCode)
	}
	want := "0123456789012345..."
	if outcome.Body != want {
		t.Errorf("captured body = %q, want %q", outcome.Body, want)
	}
}
