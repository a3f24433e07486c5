package store

import (
	"context"
	"fmt"
)

// schema is the portable DDL for the delivery pipeline. Column types are
// chosen so the same statements run on PostgreSQL and SQLite.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS webhook_configs (
		id                 TEXT PRIMARY KEY,
		name               TEXT NOT NULL UNIQUE,
		target_url         TEXT NOT NULL,
		secret             TEXT NOT NULL,
		max_retries        INTEGER NOT NULL DEFAULT 3,
		backoff_strategy   TEXT NOT NULL DEFAULT 'exponential',
		initial_interval_s INTEGER NOT NULL DEFAULT 30,
		backoff_factor     DOUBLE PRECISION NOT NULL DEFAULT 2.0,
		max_interval_s     INTEGER NOT NULL DEFAULT 3600,
		max_age_s          INTEGER NOT NULL DEFAULT 86400,
		headers            TEXT NOT NULL DEFAULT '{}',
		active             BOOLEAN NOT NULL DEFAULT TRUE,
		created_at         TIMESTAMP NOT NULL,
		updated_at         TIMESTAMP NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS messages (
		id                TEXT PRIMARY KEY,
		webhook_config_id TEXT NOT NULL REFERENCES webhook_configs(id),
		payload           BYTEA NOT NULL,
		target_url        TEXT NOT NULL,
		signature         TEXT NOT NULL,
		headers           TEXT NOT NULL DEFAULT '{}',
		status            TEXT NOT NULL DEFAULT 'pending',
		retry_count       INTEGER NOT NULL DEFAULT 0,
		next_retry        TIMESTAMP,
		last_error        TEXT,
		created_at        TIMESTAMP NOT NULL,
		updated_at        TIMESTAMP NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS delivery_attempts (
		id                  TEXT PRIMARY KEY,
		message_id          TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
		attempt_number      INTEGER NOT NULL,
		attempted_at        TIMESTAMP NOT NULL,
		status_code         INTEGER,
		response_body       TEXT,
		error               TEXT,
		request_duration_ms BIGINT NOT NULL DEFAULT 0,
		target_url          TEXT NOT NULL,
		response_headers    TEXT NOT NULL DEFAULT '{}',
		processing_node     TEXT NOT NULL DEFAULT '',
		UNIQUE (message_id, attempt_number)
	)`,

	`CREATE TABLE IF NOT EXISTS webhook_health_stats (
		webhook_config_id    TEXT PRIMARY KEY REFERENCES webhook_configs(id) ON DELETE CASCADE,
		total_sent           BIGINT NOT NULL DEFAULT 0,
		total_delivered      BIGINT NOT NULL DEFAULT 0,
		total_failed         BIGINT NOT NULL DEFAULT 0,
		avg_response_time_ms DOUBLE PRECISION NOT NULL DEFAULT 0,
		last_success_time    TIMESTAMP,
		last_error_time      TIMESTAMP,
		last_error           TEXT,
		updated_at           TIMESTAMP NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_messages_status_next_retry ON messages (status, next_retry)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_status_updated_at ON messages (status, updated_at)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_status_created_at ON messages (status, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_attempts_message_id ON delivery_attempts (message_id)`,
}

// Migrate applies the schema. Statements are idempotent so Migrate can run
// on every startup.
func (c *Client) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	c.logger.Info("schema applied", "statements", len(schema))
	return nil
}
