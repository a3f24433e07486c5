package dedup

import (
	"context"
	"log/slog"
	"time"

	"github.com/hookrelay/hookrelay/internal/observability"
)

// Config holds the dedup filter configuration.
type Config struct {
	// Window is the sliding dedup window duration.
	Window time.Duration `env:"DEDUP_WINDOW" envDefault:"10m"`

	// Capacity is the expected number of messages per window.
	Capacity uint `env:"DEDUP_CAPACITY" envDefault:"1000000"`

	// FPRate is the bloom filter false positive rate.
	FPRate float64 `env:"DEDUP_FP_RATE" envDefault:"0.0001"`
}

// DefaultConfig returns the default dedup configuration with a 10 minute
// sliding window, 1M message capacity, and 0.01% false positive rate.
func DefaultConfig() Config {
	return Config{
		Window:   10 * time.Minute,
		Capacity: 1_000_000,
		FPRate:   0.0001,
	}
}

// Filter manages the bloom filter lifecycle including periodic rotation and
// exposes the Seen check with metrics instrumentation.
type Filter struct {
	set     *filterSet
	metrics *observability.Metrics
	logger  *slog.Logger
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New creates a new dedup Filter with the given configuration. The metrics
// parameter is optional (pass nil to disable metric instrumentation).
func New(cfg Config, metrics *observability.Metrics, logger *slog.Logger) *Filter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Filter{
		set:     newFilterSet(cfg.Window, cfg.Capacity, cfg.FPRate),
		metrics: metrics,
		logger:  logger.With("component", "dedup"),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Seen checks whether the (configID, idempotencyKey) pair was submitted
// within the dedup window, recording it when new. An empty idempotency key
// always returns false: submissions without keys pass through unchanged.
func (f *Filter) Seen(configID, idempotencyKey string) bool {
	if idempotencyKey == "" {
		return false
	}

	key := configID + "\x00" + idempotencyKey
	if f.set.testAndAdd(key) {
		if f.metrics != nil {
			f.metrics.MessagesDeduped.Add(context.Background(), 1)
		}
		f.logger.Debug("duplicate submission dropped",
			"webhook_config_id", configID,
			"idempotency_key", idempotencyKey,
		)
		return true
	}

	return false
}

// Start launches the background goroutine that rotates the bloom filter
// every window/2 to maintain the sliding window. The goroutine stops when
// ctx is cancelled or Stop is called.
func (f *Filter) Start(ctx context.Context) {
	rotateInterval := f.set.window / 2
	f.logger.Info("dedup filter started",
		"window", f.set.window,
		"rotate_interval", rotateInterval,
	)

	go func() {
		defer close(f.doneCh)
		ticker := time.NewTicker(rotateInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				f.set.rotate()
				f.logger.Debug("bloom filter rotated")
			case <-ctx.Done():
				f.logger.Info("dedup filter stopping (context cancelled)")
				return
			case <-f.stopCh:
				f.logger.Info("dedup filter stopping (stop requested)")
				return
			}
		}
	}()
}

// Stop signals the rotation goroutine to stop and waits for it to finish.
func (f *Filter) Stop() {
	close(f.stopCh)
	<-f.doneCh
}
