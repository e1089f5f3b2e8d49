package daemon

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/deskpilot/deskpilot/internal/config"
	"github.com/deskpilot/deskpilot/internal/observability"
	agentrpc "github.com/deskpilot/deskpilot/internal/rpc/agent"
	toolrpc "github.com/deskpilot/deskpilot/internal/rpc/tools"
	"github.com/deskpilot/deskpilot/internal/session"
	"github.com/deskpilot/deskpilot/internal/tools"
)

// Server hosts the daemon endpoints: health, metrics, tool schemas and the RunTask streams.
type Server struct {
	cfg       *config.Config
	logger    *zap.Logger
	runner    agentrpc.Runner
	metrics   *observability.Metrics
	tools     *tools.Registry
	resources *session.Resources
}

// NewServer constructs a daemon instance. opts override dependencies built from cfg.
func NewServer(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...session.Option) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := observability.NewMetrics()

	resources, err := session.Open(ctx, cfg, logger, append([]session.Option{session.WithMetrics(metrics)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("open session resources: %w", err)
	}

	display := tools.Display{Width: cfg.Desktop.DisplayWidth, Height: cfg.Desktop.DisplayHeight}
	runner := &agentrpc.AgentRunner{Resources: resources, RunsDir: cfg.Runs.Dir, Logger: logger}

	return &Server{
		cfg:       cfg,
		logger:    logger,
		runner:    runner,
		metrics:   metrics,
		tools:     tools.NewRegistry(display, resources.Steps != nil),
		resources: resources,
	}, nil
}

// Handler returns the daemon's HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/metrics", s.metricsHandler)
	mux.Handle("/tools/schemas", toolrpc.SchemaHandler{Registry: s.tools})
	mux.Handle("/agent/run", agentrpc.NewHandler(s.runner, s.metrics))

	if s.transport() == "ndjson" {
		return mux
	}
	path, handler := agentrpc.NewConnectHandler(s.runner, s.metrics)
	mux.Handle(path, handler)
	return h2c.NewHandler(mux, &http2.Server{})
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (s *Server) Run(ctx context.Context) error {
	defer s.resources.Close()

	server := &http.Server{
		Addr:              s.cfg.Server.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting deskpilot daemon", zap.String("addr", s.cfg.Server.Addr), zap.String("transport", s.transport()))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down deskpilot daemon")
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

func (s *Server) transport() string {
	t := strings.ToLower(strings.TrimSpace(s.cfg.Server.Transport))
	if t == "" {
		return "connect"
	}
	return t
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) metricsHandler(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.Server.MetricsEnabled {
		http.NotFound(w, r)
		return
	}

	promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}).ServeHTTP(w, r)
}
