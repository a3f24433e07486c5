// Package janitor purges terminal messages past the retention window,
// optionally archiving them to object storage first.
package janitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/hookrelay/hookrelay/internal/observability"
	"github.com/hookrelay/hookrelay/internal/store"
)

// Config holds janitor settings.
type Config struct {
	// Interval is the sweep period.
	Interval time.Duration `env:"INTERVAL" envDefault:"1h"`

	// RetentionDays is how long terminal messages are kept.
	RetentionDays int `env:"RETENTION_DAYS" envDefault:"30"`

	// BatchSize bounds how many messages one archive-and-delete batch holds.
	BatchSize int `env:"BATCH_SIZE" envDefault:"500"`
}

// Archiver persists a batch of messages to external storage before deletion.
type Archiver interface {
	Archive(ctx context.Context, messages []*store.Message) error
}

// Janitor runs the periodic retention sweep.
type Janitor struct {
	cfg      Config
	messages *store.MessageRepository
	archiver Archiver
	metrics  *observability.Metrics
	logger   *slog.Logger

	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates a janitor. archiver and metrics are optional; with a nil
// archiver expired messages are deleted without an external copy.
func New(cfg Config, messages *store.MessageRepository, archiver Archiver, metrics *observability.Metrics, logger *slog.Logger) *Janitor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 30
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	return &Janitor{
		cfg:      cfg,
		messages: messages,
		archiver: archiver,
		metrics:  metrics,
		logger:   logger.With("component", "janitor"),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the sweep loop.
func (j *Janitor) Start(ctx context.Context) {
	j.logger.Info("janitor started",
		"interval", j.cfg.Interval,
		"retention_days", j.cfg.RetentionDays,
		"archiving", j.archiver != nil,
	)

	go func() {
		defer close(j.doneCh)
		ticker := time.NewTicker(j.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				j.Run(ctx)
			case <-ctx.Done():
				j.logger.Info("janitor stopping (context cancelled)")
				return
			case <-j.stopCh:
				j.logger.Info("janitor stopping (stop requested)")
				return
			}
		}
	}()
}

// Stop stops the sweep loop and waits for it to finish.
func (j *Janitor) Stop() {
	close(j.stopCh)
	<-j.doneCh
}

// Run executes one retention sweep and returns the number of purged
// messages.
func (j *Janitor) Run(ctx context.Context) int64 {
	start := time.Now()
	cutoff := start.UTC().AddDate(0, 0, -j.cfg.RetentionDays)

	var purged int64
	var err error
	if j.archiver == nil {
		purged, err = j.messages.DeleteOld(ctx, cutoff)
		if err != nil {
			j.logger.Error("retention sweep failed", "error", err)
			return 0
		}
	} else {
		purged, err = j.archiveAndDelete(ctx, cutoff)
		if err != nil {
			j.logger.Error("retention sweep failed", "error", err, "purged_before_failure", purged)
		}
	}

	elapsed := time.Since(start)
	if purged > 0 {
		j.logger.Info("retention sweep complete",
			"purged", purged,
			"cutoff", cutoff,
			"duration", elapsed,
		)
	}
	if j.metrics != nil {
		j.metrics.MessagesPurged.Add(ctx, purged)
		j.metrics.JanitorRunDuration.Record(ctx, float64(elapsed.Milliseconds()))
	}
	return purged
}

// archiveAndDelete drains terminal messages in batches, deleting each batch
// only after its archive upload succeeded.
func (j *Janitor) archiveAndDelete(ctx context.Context, cutoff time.Time) (int64, error) {
	var purged int64
	for {
		batch, err := j.messages.FindTerminalBefore(ctx, cutoff, j.cfg.BatchSize)
		if err != nil {
			return purged, err
		}
		if len(batch) == 0 {
			return purged, nil
		}

		if err := j.archiver.Archive(ctx, batch); err != nil {
			return purged, err
		}

		ids := make([]string, len(batch))
		for i, msg := range batch {
			ids[i] = msg.ID
		}
		n, err := j.messages.DeleteByIDs(ctx, ids)
		if err != nil {
			return purged, err
		}
		purged += n
	}
}
