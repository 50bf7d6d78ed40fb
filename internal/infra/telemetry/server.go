package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"mcpagent/internal/domain"
)

const observabilityReadHeaderTimeout = 5 * time.Second

// HTTPServerOptions configures the observability endpoint.
type HTTPServerOptions struct {
	Addr          string
	EnableMetrics bool
	EnableHealthz bool
	Health        *HealthTracker
	Registry      prometheus.Gatherer
}

// ObservabilityServer serves /metrics and /healthz for one run.
type ObservabilityServer struct {
	server   *http.Server
	listener net.Listener
	logger   *zap.Logger
	done     chan struct{}
	serveErr error
}

// ListenObservability binds the listener before returning, so a busy port is
// reported to the caller. It returns a nil server when both endpoints are off.
func ListenObservability(opts HTTPServerOptions, logger *zap.Logger) (*ObservabilityServer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !opts.EnableMetrics && !opts.EnableHealthz {
		return nil, nil
	}
	addr := opts.Addr
	if addr == "" {
		addr = domain.DefaultObservabilityListen
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("observability listen %s: %w", addr, err)
	}

	s := &ObservabilityServer{
		server: &http.Server{
			Handler:           observabilityMux(opts),
			ReadHeaderTimeout: observabilityReadHeaderTimeout,
		},
		listener: listener,
		logger:   logger,
		done:     make(chan struct{}),
	}
	logger.Info("observability server listening",
		zap.String("addr", listener.Addr().String()),
		zap.Bool("metrics", opts.EnableMetrics),
		zap.Bool("healthz", opts.EnableHealthz),
	)
	go s.serve()
	return s, nil
}

func observabilityMux(opts HTTPServerOptions) *http.ServeMux {
	mux := http.NewServeMux()
	if opts.EnableMetrics {
		registry := opts.Registry
		if registry == nil {
			registry = prometheus.DefaultGatherer
		}
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}
	if opts.EnableHealthz {
		mux.Handle("/healthz", healthHandler(opts.Health))
	}
	return mux
}

func (s *ObservabilityServer) serve() {
	defer close(s.done)
	if err := s.server.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.serveErr = err
		s.logger.Warn("observability server stopped with error", zap.Error(err))
	}
}

// Addr is the bound address, which differs from the configured one for ":0".
func (s *ObservabilityServer) Addr() string {
	if s == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown stops the server and waits for the serve loop to exit.
func (s *ObservabilityServer) Shutdown(ctx context.Context) error {
	if s == nil {
		return nil
	}
	err := s.server.Shutdown(ctx)
	<-s.done
	if err != nil {
		return fmt.Errorf("observability shutdown: %w", err)
	}
	s.logger.Info("observability server stopped")
	return s.serveErr
}

// healthHandler answers 503 while any heartbeat is stale. The body carries
// the run status and every heartbeat either way.
func healthHandler(tracker *HealthTracker) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		report := HealthReport{Status: "ok"}
		if tracker != nil {
			report = tracker.Report()
		}
		code := http.StatusOK
		if report.Status != "ok" {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(report)
	})
}
