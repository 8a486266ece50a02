// Package server exposes the retrieval engine over HTTP: a search endpoint
// for the external conversational layer, a liveness probe, and prometheus
// metrics. The server is started by the `acervo serve` CLI command.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/acervolabs/acervo/internal/metrics"
	"github.com/acervolabs/acervo/internal/rag"
)

// Config holds the HTTP server settings.
type Config struct {
	// Host is the listen address (default 127.0.0.1).
	Host string

	// Port is the listen port (default 8080).
	Port int

	// APIKey enables Bearer authentication on /api routes when non-empty.
	APIKey string

	// ReadTimeout bounds request reading (default 30s).
	ReadTimeout time.Duration

	// WriteTimeout bounds response writing (default 60s).
	WriteTimeout time.Duration

	// ShutdownTimeout bounds graceful shutdown (default 10s).
	ShutdownTimeout time.Duration
}

// Server wires the retriever behind the HTTP API.
type Server struct {
	retriever *rag.HybridRetriever
	ready     func() bool
	cfg       *Config
	met       *metrics.Metrics
	log       *slog.Logger

	httpServer *http.Server
}

// New constructs a Server. ready gates the search endpoint — it should
// report whether the index has been populated. gatherer backs /metrics; pass
// the registry the metrics handle was built against.
func New(retriever *rag.HybridRetriever, ready func() bool, cfg *Config, met *metrics.Metrics, gatherer prometheus.Gatherer, log *slog.Logger) (*Server, error) {
	if retriever == nil {
		return nil, fmt.Errorf("server: retriever must not be nil")
	}
	if ready == nil {
		ready = func() bool { return true }
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 60 * time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}

	s := &Server{retriever: retriever, ready: ready, cfg: cfg, met: met, log: log}

	mux := http.NewServeMux()
	mux.Handle("POST /api/search", authMiddleware(cfg.APIKey, http.HandlerFunc(s.handleSearch)))
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	if gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	if cfg.APIKey == "" {
		log.Warn("server: ACERVO_API_KEY not set — search API is unauthenticated")
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      requestLogger(log, mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// Handler returns the server's root HTTP handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("server: listening", slog.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}
