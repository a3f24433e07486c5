package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// HealthRepository persists per-configuration delivery health counters.
type HealthRepository struct {
	db *sql.DB
}

// NewHealthRepository creates a new health stats repository.
func NewHealthRepository(client *Client) *HealthRepository {
	return &HealthRepository{db: client.DB()}
}

const healthColumns = `webhook_config_id, total_sent, total_delivered, total_failed,
	avg_response_time_ms, last_success_time, last_error_time, last_error, updated_at`

// Upsert writes the full stats row for a configuration. Both PostgreSQL and
// SQLite support ON CONFLICT DO UPDATE with excluded references.
func (r *HealthRepository) Upsert(ctx context.Context, stats *WebhookHealthStats) error {
	stats.UpdatedAt = time.Now().UTC()

	query := `
		INSERT INTO webhook_health_stats (webhook_config_id, total_sent, total_delivered, total_failed,
			avg_response_time_ms, last_success_time, last_error_time, last_error, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (webhook_config_id) DO UPDATE SET
			total_sent = excluded.total_sent,
			total_delivered = excluded.total_delivered,
			total_failed = excluded.total_failed,
			avg_response_time_ms = excluded.avg_response_time_ms,
			last_success_time = excluded.last_success_time,
			last_error_time = excluded.last_error_time,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, query,
		stats.WebhookConfigID,
		stats.TotalSent,
		stats.TotalDelivered,
		stats.TotalFailed,
		stats.AvgResponseTimeMs,
		nullTime(stats.LastSuccessTime),
		nullTime(stats.LastErrorTime),
		stats.LastError,
		stats.UpdatedAt,
	)
	return err
}

// GetByConfigID retrieves the stats row for one configuration. A missing row
// yields zero-valued stats rather than an error: no deliveries yet.
func (r *HealthRepository) GetByConfigID(ctx context.Context, configID string) (*WebhookHealthStats, error) {
	query := `SELECT ` + healthColumns + ` FROM webhook_health_stats WHERE webhook_config_id = $1`

	stats, err := r.scan(r.db.QueryRowContext(ctx, query, configID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &WebhookHealthStats{WebhookConfigID: configID}, nil
		}
		return nil, err
	}
	return stats, nil
}

// ListAll returns stats for every configuration that has any.
func (r *HealthRepository) ListAll(ctx context.Context) ([]*WebhookHealthStats, error) {
	query := `SELECT ` + healthColumns + ` FROM webhook_health_stats ORDER BY webhook_config_id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var all []*WebhookHealthStats
	for rows.Next() {
		stats, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		all = append(all, stats)
	}

	return all, rows.Err()
}

func (r *HealthRepository) scan(row rowScanner) (*WebhookHealthStats, error) {
	stats := &WebhookHealthStats{}
	var lastSuccess, lastError sql.NullTime

	if err := row.Scan(
		&stats.WebhookConfigID,
		&stats.TotalSent,
		&stats.TotalDelivered,
		&stats.TotalFailed,
		&stats.AvgResponseTimeMs,
		&lastSuccess,
		&lastError,
		&stats.LastError,
		&stats.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if lastSuccess.Valid {
		t := lastSuccess.Time.UTC()
		stats.LastSuccessTime = &t
	}
	if lastError.Valid {
		t := lastError.Time.UTC()
		stats.LastErrorTime = &t
	}

	return stats, nil
}
