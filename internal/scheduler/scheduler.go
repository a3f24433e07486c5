// Package scheduler is the authoritative retry timer. It sweeps the store on
// a fixed tick for due retries, recovers messages stuck in processing, and
// rescues pending rows whose bus publish never happened.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/hookrelay/hookrelay/internal/bus"
	"github.com/hookrelay/hookrelay/internal/observability"
	"github.com/hookrelay/hookrelay/internal/store"
)

// Config holds retry scheduler settings.
type Config struct {
	// Interval is the sweep tick period.
	Interval time.Duration `env:"INTERVAL" envDefault:"30s"`

	// BatchSize is the maximum number of messages re-dispatched per tick
	// and per sweep kind.
	BatchSize int `env:"BATCH_SIZE" envDefault:"100"`

	// ZombieTimeout is the age at which a processing message counts as
	// stuck. When zero it is derived from the sender read timeout.
	ZombieTimeout time.Duration `env:"ZOMBIE_TIMEOUT" envDefault:"0"`

	// PendingGrace is how old a pending message must be before the rescue
	// sweep re-enqueues it, leaving room for the normal publish to land.
	PendingGrace time.Duration `env:"PENDING_GRACE" envDefault:"1m"`
}

// ZombieTimeoutFor derives the stuck threshold from the sender read timeout:
// a worker holding a claim longer than two full round trips plus margin is
// presumed dead.
func ZombieTimeoutFor(readTimeout time.Duration) time.Duration {
	if t := 2 * readTimeout; t > 5*time.Minute {
		return t
	}
	return 5 * time.Minute
}

// Enqueuer hands a message back into the dispatch path: a bus publish in
// queued deployments, a synchronous dispatch in direct mode.
type Enqueuer interface {
	Enqueue(ctx context.Context, task bus.DeliveryTask) error
}

// Scheduler runs the periodic sweeps. Multiple instances may run at once;
// the dispatch claim keeps duplicate enqueues harmless.
type Scheduler struct {
	cfg      Config
	messages *store.MessageRepository
	enqueuer Enqueuer
	metrics  *observability.Metrics
	logger   *slog.Logger

	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates a scheduler. metrics is optional.
func New(cfg Config, messages *store.MessageRepository, enqueuer Enqueuer, metrics *observability.Metrics, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.ZombieTimeout <= 0 {
		cfg.ZombieTimeout = 5 * time.Minute
	}
	return &Scheduler{
		cfg:      cfg,
		messages: messages,
		enqueuer: enqueuer,
		metrics:  metrics,
		logger:   logger.With("component", "scheduler"),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the tick loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("scheduler started",
		"interval", s.cfg.Interval,
		"batch_size", s.cfg.BatchSize,
		"zombie_timeout", s.cfg.ZombieTimeout,
	)

	go func() {
		defer close(s.doneCh)
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.Tick(ctx)
			case <-ctx.Done():
				s.logger.Info("scheduler stopping (context cancelled)")
				return
			case <-s.stopCh:
				s.logger.Info("scheduler stopping (stop requested)")
				return
			}
		}
	}()
}

// Stop stops the tick loop and waits for it to finish.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

// Tick runs one full sweep: zombie recovery first so freshly recovered
// messages are picked up by the retry sweep in the same pass.
func (s *Scheduler) Tick(ctx context.Context) {
	now := time.Now().UTC()

	s.recoverZombies(ctx, now)
	s.sweepRetries(ctx, now)
	s.rescuePending(ctx, now)
}

func (s *Scheduler) recoverZombies(ctx context.Context, now time.Time) {
	threshold := now.Add(-s.cfg.ZombieTimeout)
	recovered, err := s.messages.RecoverStuck(ctx, threshold, now)
	if err != nil {
		s.logger.Error("zombie recovery failed", "error", err)
		return
	}
	if recovered > 0 {
		s.logger.Warn("recovered stuck messages", "count", recovered)
		if s.metrics != nil {
			s.metrics.ZombiesRecovered.Add(ctx, recovered)
		}
	}
}

func (s *Scheduler) sweepRetries(ctx context.Context, now time.Time) {
	ids, err := s.messages.FindReadyForRetry(ctx, now, s.cfg.BatchSize)
	if err != nil {
		s.logger.Error("retry sweep failed", "error", err)
		return
	}

	for _, id := range ids {
		if err := s.enqueuer.Enqueue(ctx, bus.DeliveryTask{MessageID: id, Retry: true}); err != nil {
			s.logger.Error("failed to enqueue retry",
				"message_id", id,
				"error", err,
			)
			continue
		}
		if s.metrics != nil {
			s.metrics.RetriesEnqueued.Add(ctx, 1)
		}
	}

	if len(ids) > 0 {
		s.logger.Info("retry sweep complete", "enqueued", len(ids))
	}
}

func (s *Scheduler) rescuePending(ctx context.Context, now time.Time) {
	olderThan := now.Add(-s.cfg.PendingGrace)
	ids, err := s.messages.FindPending(ctx, olderThan, s.cfg.BatchSize)
	if err != nil {
		s.logger.Error("pending rescue failed", "error", err)
		return
	}

	for _, id := range ids {
		if err := s.enqueuer.Enqueue(ctx, bus.DeliveryTask{MessageID: id}); err != nil {
			s.logger.Error("failed to re-enqueue pending message",
				"message_id", id,
				"error", err,
			)
			continue
		}
		if s.metrics != nil {
			s.metrics.PendingRescued.Add(ctx, 1)
		}
	}

	if len(ids) > 0 {
		s.logger.Info("pending rescue complete", "enqueued", len(ids))
	}
}
