package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"mcpagent/internal/domain"
	"mcpagent/internal/infra/telemetry"
)

// Executor runs the per-target sequence against one open session.
type Executor interface {
	Run(ctx context.Context, session domain.ToolSession, serverID string, targets []string) (map[string]domain.TargetOutput, error)
}

// Options configures a Loop.
type Options struct {
	Scorer          domain.Scorer
	Sessions        domain.SessionFactory
	Executor        Executor
	Runtime         domain.RuntimeConfig
	PreferredRegion string
	Clock           domain.Clock
	// Rand returns a uniform sample in [0, 1).
	Rand      func() float64
	Logger    *zap.Logger
	Metrics   domain.Metrics
	Heartbeat *telemetry.Heartbeat
}

// Loop tries ranked candidate servers one at a time until one produces a
// result or the candidates or attempt budget run out.
type Loop struct {
	scorer          domain.Scorer
	sessions        domain.SessionFactory
	executor        Executor
	minAttempts     int
	backoffBase     time.Duration
	backoffJitter   float64
	preferredRegion string
	clock           domain.Clock
	rand            func() float64
	logger          *zap.Logger
	metrics         domain.Metrics
	heartbeat       *telemetry.Heartbeat
}

func NewLoop(opts Options) *Loop {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	clock := opts.Clock
	if clock == nil {
		clock = domain.SystemClock{}
	}
	random := opts.Rand
	if random == nil {
		random = rand.Float64
	}
	minAttempts := opts.Runtime.MinAttempts
	if minAttempts <= 0 {
		minAttempts = domain.DefaultMinAttempts
	}
	base := opts.Runtime.BackoffBase()
	if base <= 0 {
		base = time.Duration(domain.DefaultBackoffBaseSeconds) * time.Second
	}
	jitter := opts.Runtime.BackoffJitter
	if jitter < 0 {
		jitter = 0
	}
	return &Loop{
		scorer:          opts.Scorer,
		sessions:        opts.Sessions,
		executor:        opts.Executor,
		minAttempts:     minAttempts,
		backoffBase:     base,
		backoffJitter:   jitter,
		preferredRegion: opts.PreferredRegion,
		clock:           clock,
		rand:            random,
		logger:          logger.Named("orchestrator"),
		metrics:         metrics,
		heartbeat:       opts.Heartbeat,
	}
}

// Run drives state to PhaseDone and returns it. On return state carries
// either a result or a non-empty last error.
func (l *Loop) Run(ctx context.Context, state *domain.AgentState) *domain.AgentState {
	if state.BackoffUntil == nil {
		state.BackoffUntil = make(map[string]time.Time)
	}
	if state.Phase == "" {
		state.Phase = domain.PhaseSelect
	}
	logger := telemetry.LoggerWithRun(ctx, l.logger)
	if state.RunID != "" {
		if _, ok := telemetry.RunIDFromContext(ctx); !ok {
			logger = logger.With(telemetry.RunIDField(state.RunID))
		}
	}
	started := l.clock.Now()

	for !state.Done() {
		l.heartbeat.Beat()
		l.step(ctx, state, logger)
	}

	if state.Result == nil && state.LastError == "" {
		state.LastError = "no candidate produced a result"
	}
	l.metrics.ObserveRun(state.Result != nil, state.Attempts, l.clock.Now().Sub(started))
	fields := []zap.Field{
		telemetry.EventField(telemetry.EventRunDone),
		telemetry.AttemptField(state.Attempts),
		telemetry.DurationField(l.clock.Now().Sub(started)),
	}
	if state.Result != nil {
		logger.Info("run finished", append(fields, telemetry.ServerIDField(state.Result.ServerID))...)
	} else {
		logger.Warn("run finished without result", append(fields, zap.String("last_error", state.LastError))...)
	}
	return state
}

// step performs exactly one phase transition.
func (l *Loop) step(ctx context.Context, state *domain.AgentState, logger *zap.Logger) {
	switch state.Phase {
	case domain.PhaseSelect:
		l.selectCandidates(ctx, state, logger)
	case domain.PhaseInvoke:
		l.invoke(ctx, state)
	case domain.PhaseBackoffSkip:
		l.skip(state, logger)
	case domain.PhaseExecute:
		l.execute(ctx, state, logger)
	case domain.PhaseAdvance:
		state.Cursor++
		state.Attempts++
		state.Phase = domain.PhaseInvoke
	case domain.PhaseDone:
	default:
		state.LastError = fmt.Sprintf("unknown phase %q", state.Phase)
		state.Phase = domain.PhaseDone
	}
}

func (l *Loop) selectCandidates(ctx context.Context, state *domain.AgentState, logger *zap.Logger) {
	now := l.clock.Now()
	var ranked []domain.Candidate
	if l.scorer != nil {
		candidates, err := l.scorer.Rank(ctx, domain.RankRequest{
			Task:            state.Task,
			Targets:         state.Targets,
			Servers:         state.Servers,
			PreferredRegion: l.preferredRegion,
		})
		if err != nil {
			logger.Warn("ranking failed, using every healthy server", zap.Error(err))
		}
		ranked = candidates
	}

	seen := make(map[string]struct{}, len(ranked))
	shortlist := make([]domain.Candidate, 0, len(ranked))
	for _, candidate := range ranked {
		if _, dup := seen[candidate.ServerID]; dup {
			continue
		}
		server, ok := state.Server(candidate.ServerID)
		if !ok || !server.Healthy || state.BackedOff(server.ID, now) {
			continue
		}
		seen[candidate.ServerID] = struct{}{}
		shortlist = append(shortlist, candidate)
	}

	if len(shortlist) == 0 {
		for _, server := range state.Servers {
			if !server.Healthy {
				continue
			}
			shortlist = append(shortlist, domain.Candidate{
				ServerID: server.ID,
				Score:    domain.DefaultUniformScore,
				Reason:   "fallback: uniform score",
			})
		}
	}

	state.Shortlist = shortlist
	state.Cursor = 0
	state.Attempts = 0
	state.MaxAttempts = domain.AttemptBudget(l.minAttempts, len(shortlist))
	state.Phase = domain.PhaseInvoke

	ids := make([]string, 0, len(shortlist))
	for _, candidate := range shortlist {
		ids = append(ids, candidate.ServerID)
	}
	logger.Info("shortlist selected",
		telemetry.PhaseField(string(domain.PhaseSelect)),
		zap.Strings("shortlist", ids),
		zap.Int("max_attempts", state.MaxAttempts),
	)
}

func (l *Loop) invoke(ctx context.Context, state *domain.AgentState) {
	if err := ctx.Err(); err != nil {
		state.LastError = fmt.Sprintf("run canceled: %v", err)
		state.Phase = domain.PhaseDone
		return
	}
	if state.Cursor >= len(state.Shortlist) {
		if state.LastError == "" {
			state.LastError = "no more candidates"
		}
		state.Phase = domain.PhaseDone
		return
	}
	if state.Attempts >= state.MaxAttempts {
		if state.LastError == "" {
			state.LastError = "attempt budget exhausted"
		}
		state.Phase = domain.PhaseDone
		return
	}
	candidate := state.Shortlist[state.Cursor]
	server, ok := state.Server(candidate.ServerID)
	if !ok {
		state.LastError = fmt.Sprintf("%s: %v", candidate.ServerID, domain.ErrServerNotFound)
		state.Phase = domain.PhaseAdvance
		return
	}
	if state.BackedOff(server.ID, l.clock.Now()) {
		state.Phase = domain.PhaseBackoffSkip
		return
	}
	state.Phase = domain.PhaseExecute
}

func (l *Loop) skip(state *domain.AgentState, logger *zap.Logger) {
	id := state.Shortlist[state.Cursor].ServerID
	until := state.BackoffUntil[id]
	state.LastError = fmt.Sprintf("%s skipped: in backoff until %s", id, until.Format(time.RFC3339Nano))
	l.metrics.ObserveAttempt(id, domain.AttemptOutcomeSkipped, 0)
	logger.Info("server in backoff",
		telemetry.EventField(telemetry.EventBackoffSkip),
		telemetry.ServerIDField(id),
		telemetry.AttemptField(state.Attempts),
	)
	state.Phase = domain.PhaseAdvance
}

func (l *Loop) execute(ctx context.Context, state *domain.AgentState, logger *zap.Logger) {
	server, _ := state.Server(state.Shortlist[state.Cursor].ServerID)
	logger = logger.With(telemetry.ServerIDField(server.ID), telemetry.AttemptField(state.Attempts))
	logger.Info("attempting server", telemetry.EventField(telemetry.EventAttemptStart))
	started := l.clock.Now()

	outputs, err := l.runServer(ctx, server, state.Targets)
	elapsed := l.clock.Now().Sub(started)
	if err == nil {
		delete(state.BackoffUntil, server.ID)
		state.Result = &domain.RunResult{ServerID: server.ID, Outputs: outputs}
		state.Phase = domain.PhaseDone
		l.metrics.ObserveAttempt(server.ID, domain.AttemptOutcomeSuccess, elapsed)
		logger.Info("server succeeded", telemetry.EventField(telemetry.EventAttemptSuccess), telemetry.DurationField(elapsed))
		return
	}

	state.LastError = fmt.Sprintf("%s failed: %v", server.ID, err)
	switch {
	case ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
		l.metrics.ObserveAttempt(server.ID, domain.AttemptOutcomeCanceled, elapsed)
		state.Phase = domain.PhaseDone
		return
	case !domain.PenalizeWithBackoff(err):
		l.metrics.ObserveAttempt(server.ID, domain.AttemptOutcomeNoTools, elapsed)
		logger.Warn("server misconfigured, not penalized",
			telemetry.EventField(telemetry.EventAttemptFailure),
			telemetry.DurationField(elapsed),
			zap.Error(err),
		)
	default:
		delay := domain.BackoffDelay(l.backoffBase, l.backoffJitter, l.rand())
		state.BackoffUntil[server.ID] = l.clock.Now().Add(delay)
		l.metrics.ObserveAttempt(server.ID, domain.AttemptOutcomeFailure, elapsed)
		l.metrics.ObserveBackoff(server.ID, delay)
		logger.Warn("server failed",
			telemetry.EventField(telemetry.EventAttemptFailure),
			telemetry.DurationField(elapsed),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
	}
	state.Phase = domain.PhaseAdvance
}

// runServer opens a fresh session and runs every target through it. The
// discovered catalog is attached to the server descriptor.
func (l *Loop) runServer(ctx context.Context, server *domain.ServerDescriptor, targets []string) (outputs map[string]domain.TargetOutput, err error) {
	if l.sessions == nil || l.executor == nil {
		return nil, fmt.Errorf("%w: loop has no session factory or executor", domain.ErrInvalidConfig)
	}
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("%w: panic: %v", domain.ErrServerFailure, recovered)
		}
	}()

	session, err := l.sessions.Open(ctx, *server)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := session.Close(); closeErr != nil {
			l.logger.Debug("session close failed", telemetry.ServerIDField(server.ID), zap.Error(closeErr))
		}
	}()
	server.Tools = append([]domain.ToolDescriptor(nil), session.Tools()...)

	return l.executor.Run(ctx, session, server.ID, targets)
}
