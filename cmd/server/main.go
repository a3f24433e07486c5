// Command server runs the HTTP ingest API for webhook delivery.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/caarlos0/env/v10"

	"github.com/hookrelay/hookrelay/internal/api"
	"github.com/hookrelay/hookrelay/internal/bus"
	"github.com/hookrelay/hookrelay/internal/dedup"
	"github.com/hookrelay/hookrelay/internal/dispatch"
	"github.com/hookrelay/hookrelay/internal/health"
	"github.com/hookrelay/hookrelay/internal/ingest"
	"github.com/hookrelay/hookrelay/internal/janitor"
	"github.com/hookrelay/hookrelay/internal/observability"
	"github.com/hookrelay/hookrelay/internal/scheduler"
	"github.com/hookrelay/hookrelay/internal/store"
)

// Config holds all server configuration.
type Config struct {
	// LogLevel is the log level (debug, info, warn, error)
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// LogFormat is the log format (json, text)
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// DirectMode dispatches deliveries synchronously in-process instead of
	// publishing tasks to the bus. Single-node deployments only.
	DirectMode bool `env:"DIRECT_MODE" envDefault:"false"`

	// HTTP server configuration
	HTTP api.Config `envPrefix:""`

	// Database configuration
	DB store.Config `envPrefix:"DB_"`

	// NATS configuration (unused in direct mode)
	NATS bus.Config `envPrefix:""`

	// Dedup filter configuration
	Dedup dedup.Config `envPrefix:""`

	// Dispatch configuration (direct mode only)
	Dispatch dispatch.Config `envPrefix:"DISPATCH_"`

	// Retry scheduler configuration (direct mode only; the worker runs it otherwise)
	Scheduler scheduler.Config `envPrefix:"SCHEDULER_"`

	// Janitor configuration (direct mode only)
	Janitor janitor.Config `envPrefix:"JANITOR_"`

	// Health aggregator configuration
	Health health.Config `envPrefix:"HEALTH_"`
}

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration from environment
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return err
	}

	// Setup logger
	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	logger.Info("starting hookrelay server",
		"log_level", cfg.LogLevel,
		"http_addr", cfg.HTTP.Addr,
		"direct_mode", cfg.DirectMode,
		"db_driver", cfg.DB.Driver,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Initialize observability (OTel + Prometheus)
	obs, err := observability.New("hookrelay-server")
	if err != nil {
		return err
	}
	defer func() {
		if shutErr := obs.Shutdown(context.Background()); shutErr != nil {
			logger.Error("observability shutdown error", "error", shutErr)
		}
	}()

	metrics, err := observability.NewMetrics(obs.Meter())
	if err != nil {
		return err
	}

	// Connect to the database and apply the schema
	dbClient, err := store.NewClient(ctx, cfg.DB, logger)
	if err != nil {
		return err
	}
	defer func() { _ = dbClient.Close() }()
	if err := dbClient.Migrate(ctx); err != nil {
		return err
	}

	configs := store.NewConfigRepository(dbClient)
	messages := store.NewMessageRepository(dbClient)
	attempts := store.NewAttemptRepository(dbClient)
	healthRepo := store.NewHealthRepository(dbClient)

	// Dedup filter with sliding-window rotation
	filter := dedup.New(cfg.Dedup, metrics, logger)
	filter.Start(ctx)

	// Health aggregator backs the health endpoint; in direct mode it also
	// receives dispatch outcomes.
	aggregator := health.NewAggregator(cfg.Health, healthRepo, metrics, logger)
	aggregator.Start(ctx)

	var publisher ingest.TaskPublisher
	var dispatcher ingest.Dispatcher
	var natsClient *bus.Client
	var sched *scheduler.Scheduler
	var jan *janitor.Janitor

	if cfg.DirectMode {
		sender := dispatch.NewSender(cfg.Dispatch, logger)
		directDispatcher := dispatch.NewDispatcher(messages, configs, sender, aggregator, metrics, logger)
		dispatcher = directDispatcher

		// With no worker process, this binary owns the retry timer, zombie
		// recovery, and retention.
		schedCfg := cfg.Scheduler
		if schedCfg.ZombieTimeout <= 0 {
			schedCfg.ZombieTimeout = scheduler.ZombieTimeoutFor(cfg.Dispatch.ReadTimeout)
		}
		sched = scheduler.New(schedCfg, messages, scheduler.NewDirectEnqueuer(directDispatcher), metrics, logger)
		sched.Start(ctx)

		jan = janitor.New(cfg.Janitor, messages, nil, metrics, logger)
		jan.Start(ctx)
	} else {
		natsClient, err = bus.NewClient(ctx, cfg.NATS, logger)
		if err != nil {
			return err
		}
		defer natsClient.Close()

		streamMgr := bus.NewStreamManager(natsClient.JetStream(), cfg.NATS.Stream, logger)
		if _, err := streamMgr.EnsureStream(ctx); err != nil {
			return err
		}
		publisher = bus.NewPublisher(natsClient.JetStream(), logger)
	}

	svc := ingest.NewService(configs, messages, publisher, dispatcher, filter, metrics, cfg.DirectMode, logger)

	handler := api.NewHandler(svc, configs, messages, attempts, aggregator, dbClient, logger)
	server := api.NewServer(cfg.HTTP, handler, metrics, obs.MetricsHandler(), logger)

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	// Wait for shutdown signal or error
	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		if err != nil {
			logger.Error("server error", "error", err)
		}
	}

	// Graceful shutdown
	logger.Info("initiating graceful shutdown")

	if err := server.Shutdown(context.Background()); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	cancel()
	if sched != nil {
		sched.Stop()
	}
	if jan != nil {
		jan.Stop()
	}
	filter.Stop()
	aggregator.Stop()

	if natsClient != nil {
		if err := natsClient.Drain(); err != nil {
			logger.Error("NATS drain error", "error", err)
		}
	}

	logger.Info("server stopped")
	return nil
}

// setupLogger creates a logger based on configuration.
func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
