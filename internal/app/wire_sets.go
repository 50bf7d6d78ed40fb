//go:build wireinject
// +build wireinject

package app

import (
	"github.com/google/wire"

	"mcpagent/internal/app/orchestrator"
	"mcpagent/internal/domain"
	"mcpagent/internal/infra/automation"
	"mcpagent/internal/infra/transport"
)

var CoreInfraSet = wire.NewSet(
	NewLogging,
	NewLogger,
	NewAgentConfig,
	NewMetricsRegistry,
	NewMetrics,
	NewHealthTracker,
	NewHistoryStore,
)

var OrchestrationSet = wire.NewSet(
	NewScorer,
	NewSessionFactory,
	wire.Bind(new(domain.SessionFactory), new(*transport.Dialer)),
	NewExecutor,
	wire.Bind(new(orchestrator.Executor), new(*automation.Executor)),
	NewLoop,
)

var RunnerSet = wire.NewSet(
	CoreInfraSet,
	OrchestrationSet,
	wire.Struct(new(RunnerOptions), "*"),
	NewRunner,
)
