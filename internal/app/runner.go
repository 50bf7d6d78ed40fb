package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"mcpagent/internal/app/orchestrator"
	"mcpagent/internal/domain"
	"mcpagent/internal/infra/history"
	"mcpagent/internal/infra/telemetry"
)

const observabilityShutdownGrace = 5 * time.Second

// RunReport is the outcome of one run as shown to the user.
type RunReport struct {
	RunID      string             `json:"runId" yaml:"runId"`
	Task       string             `json:"task" yaml:"task"`
	Targets    []string           `json:"targets" yaml:"targets"`
	Shortlist  []domain.Candidate `json:"shortlist" yaml:"shortlist"`
	Attempts   int                `json:"attempts" yaml:"attempts"`
	Result     *domain.RunResult  `json:"result,omitempty" yaml:"result,omitempty"`
	LastError  string             `json:"lastError,omitempty" yaml:"lastError,omitempty"`
	StartedAt  time.Time          `json:"startedAt" yaml:"startedAt"`
	FinishedAt time.Time          `json:"finishedAt" yaml:"finishedAt"`
}

// Succeeded reports whether a server produced a result.
func (r RunReport) Succeeded() bool {
	return r.Result != nil
}

// Runner executes one orchestration run with its supporting services.
type Runner struct {
	cfg      domain.AgentConfig
	loop     *orchestrator.Loop
	history  *history.Store
	registry *prometheus.Registry
	health   *telemetry.HealthTracker
	logger   *zap.Logger
	now      func() time.Time
}

// RunnerOptions captures dependencies for Runner.
type RunnerOptions struct {
	Config   domain.AgentConfig
	Loop     *orchestrator.Loop
	History  *history.Store
	Registry *prometheus.Registry
	Health   *telemetry.HealthTracker
	Logger   *zap.Logger
}

func NewRunner(opts RunnerOptions) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		cfg:      opts.Config,
		loop:     opts.Loop,
		history:  opts.History,
		registry: opts.Registry,
		health:   opts.Health,
		logger:   logger,
		now:      time.Now,
	}
}

// Run drives the orchestration loop to completion. A run that ends without
// a result is reported through RunReport, not as an error.
func (r *Runner) Run(ctx context.Context, runID string) (RunReport, error) {
	if r.loop == nil {
		return RunReport{}, errors.New("runner has no orchestration loop")
	}
	ctx, meta := telemetry.EnsureRunMeta(ctx, runID)
	logger := telemetry.LoggerWithRun(ctx, r.logger)

	started := r.now()
	stopObservability, err := r.startObservability(logger)
	if err != nil {
		return RunReport{}, err
	}
	defer stopObservability()
	r.health.SetRun(telemetry.RunStatus{RunID: meta.RunID, Phase: telemetry.RunPhaseRunning, StartedAt: started})

	logger.Info("run started",
		zap.String("task", r.cfg.Task),
		zap.Strings("targets", r.cfg.Targets),
		zap.Int("servers", len(r.cfg.Servers)),
	)
	state := domain.NewAgentState(meta.RunID, r.cfg.Task, r.cfg.Targets, r.cfg.Servers)
	state = r.loop.Run(ctx, state)
	finished := r.now()
	r.health.SetRun(telemetry.RunStatus{RunID: meta.RunID, Phase: telemetry.RunPhaseFinished, Attempts: state.Attempts, StartedAt: started})

	if r.history != nil {
		if _, err := r.history.Record(history.NewEntry(state, started, finished)); err != nil {
			logger.Warn("record run history failed", zap.Error(err))
		}
	}

	return RunReport{
		RunID:      state.RunID,
		Task:       state.Task,
		Targets:    state.Targets,
		Shortlist:  state.Shortlist,
		Attempts:   state.Attempts,
		Result:     state.Result,
		LastError:  state.LastError,
		StartedAt:  started,
		FinishedAt: finished,
	}, nil
}

// startObservability serves /metrics and /healthz for the duration of the
// run. The returned func stops the server.
func (r *Runner) startObservability(logger *zap.Logger) (func(), error) {
	addr := strings.TrimSpace(r.cfg.Observability.ListenAddress)
	if addr == "" || strings.EqualFold(addr, metricsAddrOff) || r.registry == nil {
		return func() {}, nil
	}
	server, err := telemetry.ListenObservability(telemetry.HTTPServerOptions{
		Addr:          addr,
		EnableMetrics: true,
		EnableHealthz: r.health != nil,
		Health:        r.health,
		Registry:      r.registry,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("start observability: %w", err)
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), observabilityShutdownGrace)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Warn("observability server shutdown failed", zap.Error(err))
		}
	}, nil
}
