package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/hookrelay/hookrelay/internal/store"
)

// Sender builds and performs the signed outbound request.
type Sender struct {
	client    *http.Client
	limiter   *rate.Limiter
	sigHeader string
	maxBytes  int
	node      string
	logger    *slog.Logger
}

// NewSender creates a sender with a bounded connection pool and timeouts
// from cfg. Redirects are never followed; a 3xx is returned as-is and
// classified permanent.
func NewSender(cfg Config, logger *slog.Logger) *Sender {
	if logger == nil {
		logger = slog.Default()
	}

	node := cfg.Node
	if node == "" {
		node, _ = os.Hostname()
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: cfg.ConnectTimeout,
		}).DialContext,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		MaxIdleConnsPerHost: cfg.MaxConnsPerHost,
		IdleConnTimeout:     90 * time.Second,
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)
	}

	return &Sender{
		client: &http.Client{
			Timeout:   cfg.ReadTimeout,
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		limiter:   limiter,
		sigHeader: cfg.SignatureHeader,
		maxBytes:  cfg.MaxCaptureBytes,
		node:      node,
		logger:    logger.With("component", "sender"),
	}
}

// Node returns the worker identifier recorded on delivery attempts.
func (s *Sender) Node() string {
	return s.node
}

// Send posts the persisted payload bytes to the message's destination and
// classifies the response. It never returns an error: every failure mode is
// expressed in the Outcome.
func (s *Sender) Send(ctx context.Context, msg *store.Message, attemptNumber int) Outcome {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return Outcome{Err: fmt.Errorf("rate limiter: %w", err)}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, msg.TargetURL, bytes.NewReader(msg.Payload))
	if err != nil {
		return Outcome{Err: fmt.Errorf("failed to build request: %w", err)}
	}

	req.Header.Set("Content-Type", "application/json")
	for key, value := range msg.Headers {
		req.Header.Set(key, value)
	}
	// Reserved headers win over any submission header carrying the same
	// name; the signature and delivery identity must never be spoofable.
	req.Header.Set(s.sigHeader, msg.Signature)
	req.Header.Set("X-Webhook-Id", msg.ID)
	req.Header.Set("X-Webhook-Attempt", strconv.Itoa(attemptNumber))

	start := time.Now()
	resp, err := s.client.Do(req)
	duration := time.Since(start)

	if err != nil {
		s.logger.Debug("request failed",
			"message_id", msg.ID,
			"target", msg.TargetURL,
			"error", err,
		)
		return Outcome{Err: err, Duration: duration}
	}
	defer func() { _ = resp.Body.Close() }()

	body := s.captureBody(resp.Body)
	code := resp.StatusCode

	headers := make(map[string]string, len(resp.Header))
	for key := range resp.Header {
		headers[key] = resp.Header.Get(key)
	}

	return Outcome{
		StatusCode:      &code,
		Body:            body,
		ResponseHeaders: headers,
		Duration:        duration,
	}
}

// captureBody reads up to maxBytes of the response; excess is discarded and
// marked with an ellipsis.
func (s *Sender) captureBody(r io.Reader) string {
	limited, err := io.ReadAll(io.LimitReader(r, int64(s.maxBytes)+1))
	if err != nil {
		return string(limited)
	}
	if len(limited) > s.maxBytes {
		return string(limited[:s.maxBytes]) + "..."
	}
	return string(limited)
}
