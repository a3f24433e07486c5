package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ConfigRepository provides access to webhook configurations.
type ConfigRepository struct {
	db *sql.DB
}

// NewConfigRepository creates a new config repository.
func NewConfigRepository(client *Client) *ConfigRepository {
	return &ConfigRepository{db: client.DB()}
}

const configColumns = `id, name, target_url, secret, max_retries, backoff_strategy,
	initial_interval_s, backoff_factor, max_interval_s, max_age_s, headers, active,
	created_at, updated_at`

// Create validates and inserts a new webhook configuration.
func (r *ConfigRepository) Create(ctx context.Context, cfg *WebhookConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	headersJSON, err := json.Marshal(cfg.Headers)
	if err != nil {
		return err
	}

	if cfg.ID == "" {
		cfg.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	cfg.CreatedAt = now
	cfg.UpdatedAt = now

	query := `
		INSERT INTO webhook_configs (id, name, target_url, secret, max_retries, backoff_strategy,
			initial_interval_s, backoff_factor, max_interval_s, max_age_s, headers, active,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err = r.db.ExecContext(ctx, query,
		cfg.ID,
		cfg.Name,
		cfg.TargetURL,
		cfg.Secret,
		cfg.MaxRetries,
		cfg.BackoffStrategy,
		cfg.InitialIntervalS,
		cfg.BackoffFactor,
		cfg.MaxIntervalS,
		cfg.MaxAgeS,
		string(headersJSON),
		cfg.Active,
		cfg.CreatedAt,
		cfg.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unique") {
			return ErrDuplicateName
		}
		return err
	}

	return nil
}

// GetByID retrieves a configuration by id.
func (r *ConfigRepository) GetByID(ctx context.Context, id string) (*WebhookConfig, error) {
	query := `SELECT ` + configColumns + ` FROM webhook_configs WHERE id = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

// GetByName retrieves a configuration by its unique name.
func (r *ConfigRepository) GetByName(ctx context.Context, name string) (*WebhookConfig, error) {
	query := `SELECT ` + configColumns + ` FROM webhook_configs WHERE name = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, name))
}

// List retrieves configurations ordered by name.
func (r *ConfigRepository) List(ctx context.Context, limit, offset int) ([]*WebhookConfig, error) {
	query := `SELECT ` + configColumns + ` FROM webhook_configs ORDER BY name LIMIT $1 OFFSET $2`

	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var configs []*WebhookConfig
	for rows.Next() {
		cfg, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}

	return configs, rows.Err()
}

// SetActive enables or disables a configuration.
func (r *ConfigRepository) SetActive(ctx context.Context, id string, active bool) error {
	query := `UPDATE webhook_configs SET active = $1, updated_at = $2 WHERE id = $3`

	result, err := r.db.ExecContext(ctx, query, active, time.Now().UTC(), id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrConfigNotFound
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *ConfigRepository) scanOne(row rowScanner) (*WebhookConfig, error) {
	cfg, err := r.scan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrConfigNotFound
		}
		return nil, err
	}
	return cfg, nil
}

func (r *ConfigRepository) scan(row rowScanner) (*WebhookConfig, error) {
	cfg := &WebhookConfig{}
	var headersJSON string

	if err := row.Scan(
		&cfg.ID,
		&cfg.Name,
		&cfg.TargetURL,
		&cfg.Secret,
		&cfg.MaxRetries,
		&cfg.BackoffStrategy,
		&cfg.InitialIntervalS,
		&cfg.BackoffFactor,
		&cfg.MaxIntervalS,
		&cfg.MaxAgeS,
		&headersJSON,
		&cfg.Active,
		&cfg.CreatedAt,
		&cfg.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(headersJSON), &cfg.Headers); err != nil {
		return nil, err
	}

	return cfg, nil
}
