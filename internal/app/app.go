package app

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"mcpagent/internal/domain"
	"mcpagent/internal/infra/catalog"
	"mcpagent/internal/infra/history"
	"mcpagent/internal/infra/telemetry"
	"mcpagent/internal/infra/transport"
)

// App exposes the CLI operations.
type App struct {
	logger *zap.Logger
}

func New(logger *zap.Logger) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{logger: logger}
}

// Run performs one orchestration run.
func (a *App) Run(ctx context.Context, cfg RunConfig) (RunReport, error) {
	runner, cleanup, err := InitializeRunner(ctx, cfg, LoggingConfig{Logger: a.logger})
	if err != nil {
		return RunReport{}, err
	}
	defer cleanup()
	return runner.Run(ctx, cfg.RunID)
}

// ValidateConfig loads and validates the config without contacting servers.
func (a *App) ValidateConfig(ctx context.Context, cfg ValidateConfig) (domain.AgentConfig, error) {
	agent, err := catalog.NewLoader(a.logger).Load(ctx, cfg.ConfigPath)
	if err != nil {
		return domain.AgentConfig{}, err
	}
	a.logger.Info("configuration validated",
		zap.String("config", cfg.ConfigPath),
		zap.Int("servers", len(agent.Servers)),
		zap.Int("targets", len(agent.Targets)),
	)
	return agent, nil
}

// ToolsReport is the discovered catalog of one server.
type ToolsReport struct {
	ServerID string                  `json:"server" yaml:"server"`
	Tools    []domain.ToolDescriptor `json:"tools" yaml:"tools"`
}

// ListTools opens a session with one configured server and returns its
// tool catalog.
func (a *App) ListTools(ctx context.Context, cfg ToolsConfig) (ToolsReport, error) {
	agent, err := catalog.NewLoader(a.logger).Load(ctx, cfg.ConfigPath)
	if err != nil {
		return ToolsReport{}, err
	}
	server, err := selectServer(agent, cfg.ServerID)
	if err != nil {
		return ToolsReport{}, err
	}

	dialer := transport.NewDialer(transportOptions(agent.Runtime, telemetry.NewNoopMetrics(), a.logger))
	session, err := dialer.Open(ctx, server)
	if err != nil {
		return ToolsReport{}, fmt.Errorf("open %s: %w", server.ID, err)
	}
	defer func() {
		if closeErr := session.Close(); closeErr != nil {
			a.logger.Debug("session close failed", telemetry.ServerIDField(server.ID), zap.Error(closeErr))
		}
	}()
	return ToolsReport{ServerID: server.ID, Tools: session.Tools()}, nil
}

func selectServer(cfg domain.AgentConfig, id string) (domain.ServerDescriptor, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		if len(cfg.Servers) == 0 {
			return domain.ServerDescriptor{}, domain.E(domain.CodeInvalidArgument, "tools", "no servers configured", domain.ErrInvalidConfig)
		}
		return cfg.Servers[0], nil
	}
	server, ok := cfg.Server(id)
	if !ok {
		return domain.ServerDescriptor{}, domain.E(domain.CodeNotFound, "tools", fmt.Sprintf("server %q is not configured", id), domain.ErrServerNotFound)
	}
	return server, nil
}

// HistoryReport lists recent runs with the aggregate counters.
type HistoryReport struct {
	Path    string          `json:"path" yaml:"path"`
	Entries []history.Entry `json:"entries" yaml:"entries"`
	Stats   history.Stats   `json:"stats" yaml:"stats"`
}

func (a *App) History(ctx context.Context, query HistoryQuery) (HistoryReport, error) {
	path := domain.DefaultHistoryPath
	if strings.TrimSpace(query.ConfigPath) != "" {
		agent, err := catalog.NewLoader(a.logger).Load(ctx, query.ConfigPath)
		if err != nil {
			return HistoryReport{}, err
		}
		path = agent.History.Path
	}
	store, err := history.OpenStore(path)
	if err != nil {
		return HistoryReport{}, err
	}
	defer func() {
		if err := store.Close(); err != nil {
			a.logger.Warn("history store close failed", zap.Error(err))
		}
	}()

	entries, err := store.List(query.Limit)
	if err != nil {
		return HistoryReport{}, err
	}
	stats, err := store.Stats()
	if err != nil {
		return HistoryReport{}, err
	}
	return HistoryReport{Path: store.Path(), Entries: entries, Stats: stats}, nil
}
