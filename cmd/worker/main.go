// Command worker runs the delivery pipeline: bus consumers, dispatcher,
// retry scheduler, health aggregation, and the retention janitor.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/caarlos0/env/v10"

	"github.com/hookrelay/hookrelay/internal/archive"
	"github.com/hookrelay/hookrelay/internal/bus"
	"github.com/hookrelay/hookrelay/internal/dispatch"
	"github.com/hookrelay/hookrelay/internal/health"
	"github.com/hookrelay/hookrelay/internal/janitor"
	"github.com/hookrelay/hookrelay/internal/observability"
	"github.com/hookrelay/hookrelay/internal/scheduler"
	"github.com/hookrelay/hookrelay/internal/store"
)

// Config holds all worker configuration.
type Config struct {
	// LogLevel is the log level (debug, info, warn, error)
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// LogFormat is the log format (json, text)
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// MetricsAddr is the address for the Prometheus metrics endpoint.
	MetricsAddr string `env:"METRICS_ADDR" envDefault:":9091"`

	// Database configuration
	DB store.Config `envPrefix:"DB_"`

	// NATS configuration
	NATS bus.Config `envPrefix:""`

	// Dispatch configuration
	Dispatch dispatch.Config `envPrefix:"DISPATCH_"`

	// Retry scheduler configuration
	Scheduler scheduler.Config `envPrefix:"SCHEDULER_"`

	// Health aggregator configuration
	Health health.Config `envPrefix:"HEALTH_"`

	// Janitor configuration
	Janitor janitor.Config `envPrefix:"JANITOR_"`

	// Archive configuration
	Archive archive.Config `envPrefix:"ARCHIVE_"`
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

	logger.Info("starting hookrelay worker",
		"log_level", cfg.LogLevel,
		"nats_url", cfg.NATS.URL,
		"workers", cfg.Dispatch.Workers,
		"metrics_addr", cfg.MetricsAddr,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize observability (OTel + Prometheus)
	obs, err := observability.New("hookrelay-worker")
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

	// Start metrics and health HTTP server
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", obs.MetricsHandler())
	metricsMux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metricsMux,
	}
	go func() {
		logger.Info("starting metrics server", "addr", cfg.MetricsAddr)
		if srvErr := metricsServer.ListenAndServe(); srvErr != nil && srvErr != http.ErrServerClosed {
			logger.Error("metrics server error", "error", srvErr)
		}
	}()

	// Setup signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

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
	healthRepo := store.NewHealthRepository(dbClient)

	// Connect to NATS and ensure the stream and durable consumer exist
	natsClient, err := bus.NewClient(ctx, cfg.NATS, logger)
	if err != nil {
		return err
	}
	defer natsClient.Close()

	streamMgr := bus.NewStreamManager(natsClient.JetStream(), cfg.NATS.Stream, logger)
	stream, err := streamMgr.EnsureStream(ctx)
	if err != nil {
		return err
	}
	consumerCfg := bus.DispatcherConsumerConfig()
	if _, err := streamMgr.EnsureConsumer(ctx, stream, consumerCfg); err != nil {
		return err
	}

	// Health aggregation with periodic store flush
	aggregator := health.NewAggregator(cfg.Health, healthRepo, metrics, logger)
	aggregator.Start(ctx)

	// Dispatcher shared by the consumers and the retry scheduler
	sender := dispatch.NewSender(cfg.Dispatch, logger)
	dispatcher := dispatch.NewDispatcher(messages, configs, sender, aggregator, metrics, logger)

	// A delivery task is acked once its outcome is durably recorded; dispatch
	// errors NAK the task for redelivery, and the claim keeps that idempotent.
	handler := func(ctx context.Context, task bus.DeliveryTask) error {
		if err := dispatcher.Dispatch(ctx, task.MessageID); err != nil {
			return err
		}
		metrics.BusTasksProcessed.Add(ctx, 1)
		return nil
	}

	consumers := make([]*bus.Consumer, 0, cfg.Dispatch.Workers)
	for range cfg.Dispatch.Workers {
		consumer := bus.NewConsumer(natsClient.JetStream(), cfg.NATS.Stream.Name, consumerCfg.Name, handler, logger)
		if err := consumer.Start(ctx); err != nil {
			return err
		}
		consumers = append(consumers, consumer)
	}

	// Retry scheduler: the authoritative retry timer
	schedCfg := cfg.Scheduler
	if schedCfg.ZombieTimeout <= 0 {
		schedCfg.ZombieTimeout = scheduler.ZombieTimeoutFor(cfg.Dispatch.ReadTimeout)
	}
	publisher := bus.NewPublisher(natsClient.JetStream(), logger)
	sched := scheduler.New(schedCfg, messages, scheduler.NewBusEnqueuer(publisher), metrics, logger)
	sched.Start(ctx)

	// Janitor, optionally archiving to S3 before purging
	var archiver janitor.Archiver
	if cfg.Archive.Enabled {
		s3Client, err := archive.NewS3Client(ctx, cfg.Archive.S3, logger)
		if err != nil {
			return err
		}
		if err := s3Client.EnsureBucket(ctx); err != nil {
			return err
		}
		archiver = archive.NewArchiver(archive.NewParquetWriter(cfg.Archive.Parquet), s3Client, metrics, logger)
	}
	jan := janitor.New(cfg.Janitor, messages, archiver, metrics, logger)
	jan.Start(ctx)

	logger.Info("hookrelay worker started")

	// Wait for shutdown signal
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig)

	// Graceful shutdown
	logger.Info("initiating graceful shutdown")
	cancel()

	for _, consumer := range consumers {
		if err := consumer.Stop(context.Background()); err != nil {
			logger.Error("consumer stop error", "error", err)
		}
	}

	sched.Stop()
	jan.Stop()
	aggregator.Stop()

	if err := metricsServer.Shutdown(context.Background()); err != nil {
		logger.Error("metrics server shutdown error", "error", err)
	}

	if err := natsClient.Drain(); err != nil {
		logger.Error("NATS drain error", "error", err)
	}

	logger.Info("hookrelay worker stopped")
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
