package automation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"mcpagent/internal/domain"
	"mcpagent/internal/infra/snapshot"
	"mcpagent/internal/infra/telemetry"
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Options configures an Executor.
type Options struct {
	Interaction domain.Interaction
	Runtime     domain.RuntimeConfig
	Logger      *zap.Logger
	Metrics     domain.Metrics
	Sleep       SleepFunc
}

// Executor runs the interaction sequence for each target against one
// session. It issues one call at a time.
type Executor struct {
	interaction domain.Interaction
	runtime     domain.RuntimeConfig
	prefs       domain.ToolPreferences
	logger      *zap.Logger
	metrics     domain.Metrics
	sleep       SleepFunc
}

func NewExecutor(opts Options) *Executor {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = Sleep
	}
	cfg := opts.Runtime
	if cfg.SnapshotAttempts <= 0 {
		cfg.SnapshotAttempts = domain.DefaultSnapshotAttempts
	}
	if cfg.VerdictAttempts <= 0 {
		cfg.VerdictAttempts = domain.DefaultVerdictAttempts
	}
	prefs := cfg.ToolPreferences
	if len(prefs) == 0 {
		prefs = domain.DefaultToolPreferences()
	}
	interaction := opts.Interaction
	if strings.TrimSpace(interaction.Key) == "" {
		interaction.Key = domain.DefaultKey
	}
	return &Executor{
		interaction: interaction,
		runtime:     cfg,
		prefs:       prefs,
		logger:      logger.Named("executor"),
		metrics:     metrics,
		sleep:       sleep,
	}
}

// Sleep blocks for d unless ctx ends first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Run processes every target in order and returns the outputs keyed by
// target URL. The first failing target aborts the run.
func (e *Executor) Run(ctx context.Context, session domain.ToolSession, serverID string, targets []string) (map[string]domain.TargetOutput, error) {
	tools, err := bindTools(session.Tools(), e.prefs)
	if err != nil {
		return nil, err
	}
	outputs := make(map[string]domain.TargetOutput, len(targets))
	for _, target := range targets {
		output, err := e.runTarget(ctx, session, tools, serverID, target)
		if err != nil {
			return nil, fmt.Errorf("target %s: %w", target, err)
		}
		outputs[target] = output
	}
	return outputs, nil
}

func (e *Executor) runTarget(ctx context.Context, session domain.ToolSession, tools *toolset, serverID, target string) (domain.TargetOutput, error) {
	logger := e.logger.With(telemetry.ServerIDField(serverID), telemetry.TargetField(target))
	output := domain.TargetOutput{URL: target}

	if _, err := e.invoke(ctx, session, tools, domain.CapabilityNavigate, map[string]any{"url": target}); err != nil {
		return output, fmt.Errorf("navigate: %w", err)
	}
	if err := e.sleep(ctx, e.runtime.Settle()); err != nil {
		return output, err
	}

	snap, err := e.captureSnapshot(ctx, session, tools)
	if err != nil {
		return output, err
	}
	output.Ref = e.resolveControl(snap)

	method, err := e.click(ctx, session, tools, output.Ref, logger)
	if err != nil {
		return output, err
	}
	output.ClickMethod = method

	if err := e.settleDOM(ctx, session, tools); err != nil {
		return output, err
	}

	text, err := e.readVerdict(ctx, session, tools)
	if err != nil {
		return output, err
	}
	output.VerdictText = text
	output.Verdict = snapshot.ClassifyVerdict(text)
	output.Success = output.Verdict.Success()
	e.metrics.ObserveVerdict(output.Verdict)
	logger.Info("verdict read",
		telemetry.EventField(telemetry.EventVerdict),
		zap.String("verdict", string(output.Verdict)),
		zap.String("click_method", string(method)),
	)
	return output, nil
}

// captureSnapshot retries while the result cannot be decoded.
func (e *Executor) captureSnapshot(ctx context.Context, session domain.ToolSession, tools *toolset) (*snapshot.Snapshot, error) {
	var lastErr error
	for attempt := 1; attempt <= e.runtime.SnapshotAttempts; attempt++ {
		if attempt > 1 {
			if err := e.sleep(ctx, e.runtime.VerdictInterval()); err != nil {
				return nil, err
			}
		}
		result, err := e.invoke(ctx, session, tools, domain.CapabilitySnapshot, map[string]any{})
		if err != nil {
			return nil, fmt.Errorf("snapshot: %w", err)
		}
		snap, err := snapshot.Parse(result)
		if err == nil {
			return snap, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("snapshot after %d attempts: %w", e.runtime.SnapshotAttempts, lastErr)
}

func (e *Executor) resolveControl(snap *snapshot.Snapshot) string {
	control := e.interaction.Control
	if ref, ok := snap.FindRefByDomainID(control.DomID); ok {
		return ref
	}
	if ref, ok := snap.FindRefByNameRole(control.Name, control.Role); ok {
		return ref
	}
	if snap.Encoding != snapshot.EncodingTree {
		if ref, ok := snap.FindRefByLabel(control.Name); ok {
			return ref
		}
	}
	return ""
}

// click tries the ref, then the selector, then the key press. A step whose
// defining argument the bound tool does not declare is skipped.
func (e *Executor) click(ctx context.Context, session domain.ToolSession, tools *toolset, ref string, logger *zap.Logger) (domain.ClickMethod, error) {
	control := e.interaction.Control
	element := control.Name
	if element == "" {
		element = control.DomID
	}

	steps := []struct {
		method     domain.ClickMethod
		label      string
		capability domain.Capability
		arg        string
		args       map[string]any
	}{
		{domain.ClickByRef, "ref click", domain.CapabilityClick, "ref", map[string]any{"element": element, "ref": ref}},
		{domain.ClickBySelector, "selector click", domain.CapabilityClick, "selector", map[string]any{"element": element, "selector": control.Selector()}},
		{domain.ClickByKey, "key press", domain.CapabilityPressKey, "key", map[string]any{"key": e.interaction.Key}},
	}

	var errs []error
	for i, step := range steps {
		if value, _ := step.args[step.arg].(string); value == "" {
			continue
		}
		if tool, ok := tools.get(step.capability); ok && !tool.accepts(step.arg) {
			err := fmt.Errorf("%s: tool %s does not accept %q", step.label, tool.name, step.arg)
			errs = append(errs, err)
			logger.Info("click step skipped",
				telemetry.EventField(telemetry.EventClickFallback),
				telemetry.ToolField(tool.name),
				zap.String("reason", err.Error()),
			)
			continue
		}
		_, err := e.invoke(ctx, session, tools, step.capability, step.args)
		if err == nil {
			return step.method, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		errs = append(errs, fmt.Errorf("%s: %w", step.label, err))
		if i < len(steps)-1 {
			logger.Warn(step.label+" failed", telemetry.EventField(telemetry.EventClickFallback), zap.Error(err))
		}
	}
	if len(errs) == 0 {
		return "", fmt.Errorf("click: %w: no ref, selector or key configured", domain.ErrCapabilityUnavailable)
	}
	return "", fmt.Errorf("click: %w", errors.Join(errs...))
}

// settleDOM prefers the remote wait tool and falls back to a local timer.
func (e *Executor) settleDOM(ctx context.Context, session domain.ToolSession, tools *toolset) error {
	delay := e.runtime.DOMSettle()
	if delay <= 0 {
		return nil
	}
	if _, ok := tools.get(domain.CapabilityWait); ok {
		_, err := e.invoke(ctx, session, tools, domain.CapabilityWait, map[string]any{"time": delay.Seconds()})
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		e.logger.Debug("wait tool failed, settling locally", zap.Error(err))
	}
	return e.sleep(ctx, delay)
}

// readVerdict polls snapshots until the verdict element has text. An empty
// string after every attempt is not an error.
func (e *Executor) readVerdict(ctx context.Context, session domain.ToolSession, tools *toolset) (string, error) {
	verdict := e.interaction.Verdict
	for attempt := 1; attempt <= e.runtime.VerdictAttempts; attempt++ {
		if attempt > 1 {
			if err := e.sleep(ctx, e.runtime.VerdictInterval()); err != nil {
				return "", err
			}
		}
		result, err := e.invoke(ctx, session, tools, domain.CapabilitySnapshot, map[string]any{})
		if err != nil {
			return "", fmt.Errorf("verdict snapshot: %w", err)
		}
		snap, err := snapshot.Parse(result)
		if err != nil {
			continue
		}
		text, found := snap.ExtractTextByDomainID(verdict.DomID)
		if !found {
			text, _ = snap.ExtractTextByName(verdict.Name)
		}
		if text != "" {
			return text, nil
		}
	}
	return "", nil
}

type callToolResult struct {
	IsError bool `json:"isError"`
}

// invoke calls the tool bound to capability with shaped arguments.
func (e *Executor) invoke(ctx context.Context, session domain.ToolSession, tools *toolset, capability domain.Capability, args map[string]any) (json.RawMessage, error) {
	tool, ok := tools.get(capability)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrCapabilityUnavailable, capability)
	}
	shaped, err := tool.shape(args)
	if err != nil {
		return nil, err
	}
	result, err := session.CallTool(ctx, tool.name, shaped)
	if err != nil {
		return nil, err
	}
	var status callToolResult
	if err := json.Unmarshal(result, &status); err == nil && status.IsError {
		message := strings.Join(snapshot.Texts(result), " ")
		return nil, fmt.Errorf("%w: %s: %s", domain.ErrToolFailed, tool.name, strings.TrimSpace(message))
	}
	return result, nil
}
