package telemetry

import (
	"time"

	"mcpagent/internal/domain"
)

type NoopMetrics struct{}

func NewNoopMetrics() *NoopMetrics {
	return &NoopMetrics{}
}

func (n *NoopMetrics) ObserveCall(_ domain.CallMetric) {}

func (n *NoopMetrics) ObserveNegotiation(_ string, _ string, _ time.Duration, _ error) {}

func (n *NoopMetrics) ObserveAttempt(_ string, _ domain.AttemptOutcome, _ time.Duration) {}

func (n *NoopMetrics) ObserveBackoff(_ string, _ time.Duration) {}

func (n *NoopMetrics) ObserveVerdict(_ domain.Verdict) {}

func (n *NoopMetrics) ObserveRun(_ bool, _ int, _ time.Duration) {}

func (n *NoopMetrics) ObserveRankingTokens(_ string, _ string, _ int) {}

func (n *NoopMetrics) ObserveRankingLatency(_ string, _ string, _ time.Duration) {}

var _ domain.Metrics = (*NoopMetrics)(nil)
