// Package store provides the transactional persistence layer for webhook
// configurations, messages, delivery attempts, and health statistics.
//
// Two drivers are supported: PostgreSQL (production) and the embedded
// pure-Go SQLite driver (tests and single-node deployments). All queries are
// written with $1..$n placeholders appearing in strictly increasing textual
// order, each exactly once, so the same SQL binds identically on both
// drivers.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"  // PostgreSQL driver
	_ "modernc.org/sqlite" // embedded SQLite driver
)

// ErrDatabaseConnection indicates a database connection error.
var ErrDatabaseConnection = errors.New("database connection error")

// Config holds database connection settings.
type Config struct {
	// Driver selects the database driver ("postgres" or "sqlite").
	Driver string `env:"DRIVER" envDefault:"postgres"`

	// Host is the PostgreSQL host.
	Host string `env:"HOST" envDefault:"localhost"`

	// Port is the PostgreSQL port.
	Port int `env:"PORT" envDefault:"5432"`

	// User is the database user.
	User string `env:"USER" envDefault:"hookrelay"`

	// Password is the database password.
	Password string `env:"PASSWORD" envDefault:"hookrelay"`

	// Name is the database name.
	Name string `env:"NAME" envDefault:"hookrelay"`

	// SSLMode is the SSL mode (disable, require, verify-ca, verify-full).
	SSLMode string `env:"SSL_MODE" envDefault:"disable"`

	// Path is the SQLite database file path (sqlite driver only).
	Path string `env:"PATH" envDefault:"hookrelay.db"`

	// MaxOpenConns is the maximum number of open connections.
	MaxOpenConns int `env:"MAX_OPEN_CONNS" envDefault:"25"`

	// MaxIdleConns is the maximum number of idle connections.
	MaxIdleConns int `env:"MAX_IDLE_CONNS" envDefault:"5"`

	// ConnMaxLifetime is the maximum connection lifetime.
	ConnMaxLifetime time.Duration `env:"CONN_MAX_LIFETIME" envDefault:"5m"`
}

// Client provides database access for the delivery pipeline.
type Client struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewClient opens a database connection, configures the pool, and verifies
// connectivity.
func NewClient(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "store")

	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", cfg.Path)
		db, err = sql.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		// SQLite serializes writers; a single connection avoids lock churn.
		db.SetMaxOpenConns(1)
	default:
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name, cfg.SSLMode,
		)
		db, err = sql.Open("postgres", dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %w", ErrDatabaseConnection, err)
	}

	logger.Info("connected to database",
		"driver", cfg.Driver,
		"database", cfg.Name,
	)

	return &Client{
		db:     db,
		logger: logger,
	}, nil
}

// Close closes the database connection.
func (c *Client) Close() error {
	return c.db.Close()
}

// DB returns the underlying database handle for use by repository structs.
func (c *Client) DB() *sql.DB {
	return c.db
}

// Ping checks whether the database connection is still alive.
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}
