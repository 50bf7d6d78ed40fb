package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcpagent/internal/domain"
)

func TestNewPrometheusMetrics(t *testing.T) {
	m := NewPrometheusMetrics(prometheus.NewRegistry())
	assert.NotNil(t, m)
	assert.NotNil(t, m.callDuration)
	assert.NotNil(t, m.negotiationDuration)
	assert.NotNil(t, m.attempts)
	assert.NotNil(t, m.backoffDelay)
	assert.NotNil(t, m.verdicts)
	assert.NotNil(t, m.runs)
	assert.NotNil(t, m.rankingTokens)
	assert.NotNil(t, m.rankingLatency)
}

func TestNewPrometheusMetrics_UsesProvidedRegistry(t *testing.T) {
	registry := prometheus.NewRegistry()

	m := NewPrometheusMetrics(registry)
	m.ObserveCall(domain.CallMetric{
		ServerID: "alpha",
		Method:   "tools/call",
		Status:   domain.CallStatusSuccess,
		Duration: 10 * time.Millisecond,
	})
	m.ObserveNegotiation("alpha", "2025-03-26", 20*time.Millisecond, nil)
	m.ObserveAttempt("alpha", domain.AttemptOutcomeFailure, time.Second)
	m.ObserveBackoff("alpha", 3*time.Second)
	m.ObserveVerdict(domain.VerdictSuccess)
	m.ObserveRun(true, 2, 5*time.Second)
	m.ObserveRankingTokens("openai", "gpt-4o-mini", 128)
	m.ObserveRankingLatency("openai", "gpt-4o-mini", 500*time.Millisecond)

	metrics, err := registry.Gather()
	require.NoError(t, err)

	names := make([]string, 0, len(metrics))
	for _, m := range metrics {
		names = append(names, m.GetName())
	}

	assert.Contains(t, names, "mcpagent_call_duration_seconds")
	assert.Contains(t, names, "mcpagent_negotiation_duration_seconds")
	assert.Contains(t, names, "mcpagent_attempts_total")
	assert.Contains(t, names, "mcpagent_attempt_duration_seconds")
	assert.Contains(t, names, "mcpagent_backoff_delay_seconds")
	assert.Contains(t, names, "mcpagent_verdicts_total")
	assert.Contains(t, names, "mcpagent_runs_total")
	assert.Contains(t, names, "mcpagent_run_attempts")
	assert.Contains(t, names, "mcpagent_run_duration_seconds")
	assert.Contains(t, names, "mcpagent_ranking_tokens_total")
	assert.Contains(t, names, "mcpagent_ranking_latency_seconds")
}

func TestPrometheusMetrics_ImplementsInterface(t *testing.T) {
	var _ domain.Metrics = (*PrometheusMetrics)(nil)
	var _ domain.Metrics = (*NoopMetrics)(nil)
}

func TestPrometheusMetrics_Counters(t *testing.T) {
	m := NewPrometheusMetrics(prometheus.NewRegistry())

	m.ObserveAttempt("alpha", domain.AttemptOutcomeFailure, time.Second)
	m.ObserveAttempt("alpha", domain.AttemptOutcomeFailure, time.Second)
	m.ObserveAttempt("beta", domain.AttemptOutcomeSuccess, time.Second)
	m.ObserveVerdict(domain.VerdictFailure)
	m.ObserveRun(false, 4, time.Minute)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.attempts.WithLabelValues("alpha", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.attempts.WithLabelValues("beta", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.verdicts.WithLabelValues("failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("failure")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.runs.WithLabelValues("success")))
}

func TestPrometheusMetrics_ObserveCall(t *testing.T) {
	m := NewPrometheusMetrics(prometheus.NewRegistry())

	tests := []struct {
		name   string
		metric domain.CallMetric
	}{
		{
			name: "success",
			metric: domain.CallMetric{
				ServerID: "alpha",
				Method:   "initialize",
				Status:   domain.CallStatusSuccess,
				Duration: 100 * time.Millisecond,
			},
		},
		{
			name: "error",
			metric: domain.CallMetric{
				ServerID: "alpha",
				Method:   "tools/call",
				Status:   domain.CallStatusError,
				Code:     domain.CodeDeadlineExceeded,
				Duration: 50 * time.Millisecond,
			},
		},
		{
			name:   "empty status",
			metric: domain.CallMetric{ServerID: "alpha", Method: "tools/list"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				m.ObserveCall(tt.metric)
			})
		})
	}
	assert.Equal(t, 3, testutil.CollectAndCount(m.callDuration))
}

func TestNoopMetrics(t *testing.T) {
	m := NewNoopMetrics()
	assert.NotPanics(t, func() {
		m.ObserveCall(domain.CallMetric{})
		m.ObserveNegotiation("", "", 0, assert.AnError)
		m.ObserveAttempt("", domain.AttemptOutcomeCanceled, 0)
		m.ObserveBackoff("", 0)
		m.ObserveVerdict(domain.VerdictUndetermined)
		m.ObserveRun(false, 0, 0)
		m.ObserveRankingTokens("", "", 0)
		m.ObserveRankingLatency("", "", 0)
	})
}
