package app

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"mcpagent/internal/app/orchestrator"
	"mcpagent/internal/domain"
	"mcpagent/internal/infra/automation"
	"mcpagent/internal/infra/catalog"
	"mcpagent/internal/infra/history"
	"mcpagent/internal/infra/ranking"
	"mcpagent/internal/infra/telemetry"
	"mcpagent/internal/infra/transport"
)

const (
	loopHeartbeatName = "orchestrator"
	// A single step can span a whole server turn.
	loopHeartbeatCallFactor = 10
)

// NewAgentConfig loads the config file and applies the run overrides.
func NewAgentConfig(ctx context.Context, cfg RunConfig, logger *zap.Logger) (domain.AgentConfig, error) {
	agent, err := catalog.NewLoader(logger).Load(ctx, cfg.ConfigPath)
	if err != nil {
		return domain.AgentConfig{}, err
	}
	if targets := trimmedNonEmpty(cfg.Targets); len(targets) > 0 {
		agent.Targets = targets
	}
	if addr := strings.TrimSpace(cfg.MetricsAddr); addr != "" {
		agent.Observability.ListenAddress = addr
	}
	if err := requireRunnable(agent); err != nil {
		return domain.AgentConfig{}, err
	}
	return agent, nil
}

func requireRunnable(cfg domain.AgentConfig) error {
	var errs []error
	if len(cfg.Servers) == 0 {
		errs = append(errs, errors.New("at least one server is required"))
	}
	if len(cfg.Targets) == 0 {
		errs = append(errs, errors.New("at least one target is required (config targets or --target)"))
	}
	if len(errs) == 0 {
		return nil
	}
	return domain.E(domain.CodeInvalidArgument, "run", errors.Join(errs...).Error(), domain.ErrInvalidConfig)
}

func NewMetricsRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	registry.MustRegister(prometheus.NewGoCollector())
	return registry
}

func NewMetrics(registry *prometheus.Registry) domain.Metrics {
	return telemetry.NewPrometheusMetrics(registry)
}

func NewHealthTracker() *telemetry.HealthTracker {
	return telemetry.NewHealthTracker()
}

func NewScorer(ctx context.Context, cfg domain.AgentConfig, metrics domain.Metrics, logger *zap.Logger) (domain.Scorer, error) {
	return ranking.NewScorer(ctx, cfg.Ranking, metrics, logger)
}

func NewSessionFactory(cfg domain.AgentConfig, metrics domain.Metrics, logger *zap.Logger) *transport.Dialer {
	return transport.NewDialer(transportOptions(cfg.Runtime, metrics, logger))
}

func transportOptions(runtime domain.RuntimeConfig, metrics domain.Metrics, logger *zap.Logger) transport.Options {
	return transport.Options{
		ProtocolVersions: runtime.ProtocolVersions,
		CallTimeout:      runtime.CallTimeout(),
		GreetingTimeout:  runtime.GreetingTimeout(),
		Logger:           logger,
		Metrics:          metrics,
	}
}

func NewExecutor(cfg domain.AgentConfig, metrics domain.Metrics, logger *zap.Logger) *automation.Executor {
	return automation.NewExecutor(automation.Options{
		Interaction: cfg.Interaction,
		Runtime:     cfg.Runtime,
		Logger:      logger,
		Metrics:     metrics,
	})
}

func NewLoop(
	cfg domain.AgentConfig,
	scorer domain.Scorer,
	sessions domain.SessionFactory,
	executor orchestrator.Executor,
	metrics domain.Metrics,
	health *telemetry.HealthTracker,
	logger *zap.Logger,
) *orchestrator.Loop {
	stale := cfg.Runtime.CallTimeout() * loopHeartbeatCallFactor
	if stale <= 0 {
		stale = time.Duration(domain.DefaultCallTimeoutSeconds*loopHeartbeatCallFactor) * time.Second
	}
	return orchestrator.NewLoop(orchestrator.Options{
		Scorer:          scorer,
		Sessions:        sessions,
		Executor:        executor,
		Runtime:         cfg.Runtime,
		PreferredRegion: cfg.Ranking.PreferredRegion,
		Logger:          logger,
		Metrics:         metrics,
		Heartbeat:       health.Register(loopHeartbeatName, stale),
	})
}

// NewHistoryStore opens the run history. A disabled history yields a nil
// store, which the runner skips.
func NewHistoryStore(run RunConfig, cfg domain.AgentConfig, logger *zap.Logger) (*history.Store, func(), error) {
	if run.DisableHistory {
		return nil, func() {}, nil
	}
	store, err := history.OpenStore(cfg.History.Path)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if err := store.Close(); err != nil {
			logger.Warn("history store close failed", zap.Error(err))
		}
	}
	return store, cleanup, nil
}

func trimmedNonEmpty(values []string) []string {
	var out []string
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
