package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hookrelay/hookrelay/internal/observability"
)

// Server wraps the stdlib HTTP server with the middleware chain and routes.
type Server struct {
	cfg    Config
	srv    *http.Server
	logger *slog.Logger
}

// NewServer wires the handler, metrics endpoint, and middleware into an HTTP
// server. metrics and metricsHandler are optional.
func NewServer(cfg Config, handler *Handler, metrics *observability.Metrics, metricsHandler http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "http-server")

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	if metricsHandler != nil {
		mux.Handle("GET /metrics", metricsHandler)
	}

	middlewares := []Middleware{RequestID, Recovery(logger)}
	if metrics != nil {
		middlewares = append(middlewares, HTTPMetricsMiddleware(metrics))
	}
	middlewares = append(middlewares, RateLimit(cfg.RateLimit), BodySizeLimit(cfg.MaxBodyBytes))

	srv := &http.Server{
		Addr:           cfg.Addr,
		Handler:        Chain(mux, middlewares...),
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		IdleTimeout:    cfg.IdleTimeout,
		MaxHeaderBytes: cfg.MaxHeaderBytes,
	}

	return &Server{cfg: cfg, srv: srv, logger: logger}
}

// Start blocks serving HTTP until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.cfg.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
