// Package health aggregates per-configuration delivery statistics in memory
// and periodically flushes them to the store. Accounting is intentionally
// lossy: a crash between flushes loses recent counter increments, never
// message state.
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hookrelay/hookrelay/internal/observability"
	"github.com/hookrelay/hookrelay/internal/store"
)

// ewmaAlpha is the smoothing factor for the rolling response time average.
const ewmaAlpha = 0.3

// Config holds health aggregator settings.
type Config struct {
	// FlushInterval is how often dirty stats are written to the store.
	FlushInterval time.Duration `env:"FLUSH_INTERVAL" envDefault:"15s"`
}

type entry struct {
	stats store.WebhookHealthStats
	dirty bool
}

// Aggregator accumulates counters per webhook configuration. All updates go
// through a single mutex; contention is negligible next to the HTTP round
// trips that precede every update.
type Aggregator struct {
	repo    *store.HealthRepository
	metrics *observability.Metrics
	logger  *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry

	flushInterval time.Duration
	stopCh        chan struct{}
	doneCh        chan struct{}
}

// NewAggregator creates a health aggregator. metrics is optional.
func NewAggregator(cfg Config, repo *store.HealthRepository, metrics *observability.Metrics, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 15 * time.Second
	}
	return &Aggregator{
		repo:          repo,
		metrics:       metrics,
		logger:        logger.With("component", "health"),
		entries:       make(map[string]*entry),
		flushInterval: cfg.FlushInterval,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
}

// RecordSuccess counts a delivered attempt and folds its duration into the
// rolling average.
func (a *Aggregator) RecordSuccess(configID string, durationMs float64, at time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	e := a.load(configID)
	e.stats.TotalSent++
	e.stats.TotalDelivered++
	if e.stats.AvgResponseTimeMs == 0 {
		e.stats.AvgResponseTimeMs = durationMs
	} else {
		e.stats.AvgResponseTimeMs = ewmaAlpha*durationMs + (1-ewmaAlpha)*e.stats.AvgResponseTimeMs
	}
	t := at.UTC()
	e.stats.LastSuccessTime = &t
	e.dirty = true
}

// RecordFailure counts a failed attempt.
func (a *Aggregator) RecordFailure(configID string, errMsg string, at time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	e := a.load(configID)
	e.stats.TotalSent++
	e.stats.TotalFailed++
	t := at.UTC()
	e.stats.LastErrorTime = &t
	e.stats.LastError = &errMsg
	e.dirty = true
}

// Snapshot returns a copy of the current stats for one configuration,
// falling back to the store when nothing is cached yet.
func (a *Aggregator) Snapshot(ctx context.Context, configID string) (*store.WebhookHealthStats, error) {
	a.mu.Lock()
	if e, ok := a.entries[configID]; ok {
		stats := e.stats
		a.mu.Unlock()
		return &stats, nil
	}
	a.mu.Unlock()

	return a.repo.GetByConfigID(ctx, configID)
}

// load returns the cached entry for configID, seeding it from the store on
// first touch so counters continue across restarts. Called with mu held.
func (a *Aggregator) load(configID string) *entry {
	if e, ok := a.entries[configID]; ok {
		return e
	}

	e := &entry{stats: store.WebhookHealthStats{WebhookConfigID: configID}}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if persisted, err := a.repo.GetByConfigID(ctx, configID); err == nil {
		e.stats = *persisted
	} else {
		a.logger.Warn("failed to seed health stats, starting fresh",
			"webhook_config_id", configID,
			"error", err,
		)
	}

	a.entries[configID] = e
	return e
}

// Start launches the periodic flush loop.
func (a *Aggregator) Start(ctx context.Context) {
	a.logger.Info("health aggregator started", "flush_interval", a.flushInterval)

	go func() {
		defer close(a.doneCh)
		ticker := time.NewTicker(a.flushInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				a.Flush(ctx)
			case <-ctx.Done():
				a.Flush(context.Background())
				return
			case <-a.stopCh:
				a.Flush(context.Background())
				return
			}
		}
	}()
}

// Stop flushes once more and stops the loop.
func (a *Aggregator) Stop() {
	close(a.stopCh)
	<-a.doneCh
}

// Flush writes all dirty entries to the store. Entries that fail to write
// stay dirty for the next flush.
func (a *Aggregator) Flush(ctx context.Context) {
	a.mu.Lock()
	dirty := make([]*store.WebhookHealthStats, 0, len(a.entries))
	for _, e := range a.entries {
		if e.dirty {
			stats := e.stats
			dirty = append(dirty, &stats)
			e.dirty = false
		}
	}
	a.mu.Unlock()

	for _, stats := range dirty {
		if err := a.repo.Upsert(ctx, stats); err != nil {
			a.logger.Error("failed to flush health stats",
				"webhook_config_id", stats.WebhookConfigID,
				"error", err,
			)
			a.mu.Lock()
			if e, ok := a.entries[stats.WebhookConfigID]; ok {
				e.dirty = true
			}
			a.mu.Unlock()
			continue
		}
		if a.metrics != nil {
			a.metrics.HealthFlushesApplied.Add(ctx, 1)
		}
	}
}
