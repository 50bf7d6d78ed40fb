package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"mcpagent/internal/domain"
)

type PrometheusMetrics struct {
	callDuration        *prometheus.HistogramVec
	negotiationDuration *prometheus.HistogramVec
	attempts            *prometheus.CounterVec
	attemptDuration     *prometheus.HistogramVec
	backoffDelay        *prometheus.HistogramVec
	verdicts            *prometheus.CounterVec
	runs                *prometheus.CounterVec
	runAttempts         prometheus.Histogram
	runDuration         prometheus.Histogram
	rankingTokens       *prometheus.CounterVec
	rankingLatency      *prometheus.HistogramVec
}

func NewPrometheusMetrics(registerer prometheus.Registerer) *PrometheusMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registerer)

	return &PrometheusMetrics{
		callDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mcpagent_call_duration_seconds",
				Help:    "Duration of JSON-RPC calls to tool servers in seconds",
				Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"server", "method", "status", "code"},
		),
		negotiationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mcpagent_negotiation_duration_seconds",
				Help:    "Duration of protocol negotiation in seconds",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"server", "version", "status"},
		),
		attempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mcpagent_attempts_total",
				Help: "Total number of server turns by outcome",
			},
			[]string{"server", "outcome"},
		),
		attemptDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mcpagent_attempt_duration_seconds",
				Help:    "Duration of server turns in seconds",
				Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"server", "outcome"},
		),
		backoffDelay: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mcpagent_backoff_delay_seconds",
				Help:    "Backoff delays assigned to failing servers in seconds",
				Buckets: []float64{.5, 1, 2, 3, 4, 6, 10, 30},
			},
			[]string{"server"},
		),
		verdicts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mcpagent_verdicts_total",
				Help: "Total number of classified verdicts",
			},
			[]string{"verdict"},
		),
		runs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mcpagent_runs_total",
				Help: "Total number of finished runs",
			},
			[]string{"status"},
		),
		runAttempts: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mcpagent_run_attempts",
				Help:    "Number of server turns used per run",
				Buckets: []float64{1, 2, 3, 4, 5, 8, 12, 20},
			},
		),
		runDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mcpagent_run_duration_seconds",
				Help:    "Duration of runs in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
			},
		),
		rankingTokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mcpagent_ranking_tokens_total",
				Help: "Total number of tokens consumed by LLM ranking calls",
			},
			[]string{"provider", "model"},
		),
		rankingLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mcpagent_ranking_latency_seconds",
				Help:    "Latency of ranking calls in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"provider", "model"},
		),
	}
}

func (p *PrometheusMetrics) ObserveCall(metric domain.CallMetric) {
	status := metric.Status
	if status == "" {
		status = domain.CallStatusSuccess
	}
	p.callDuration.WithLabelValues(metric.ServerID, metric.Method, string(status), string(metric.Code)).Observe(metric.Duration.Seconds())
}

func (p *PrometheusMetrics) ObserveNegotiation(serverID string, version string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	p.negotiationDuration.WithLabelValues(serverID, version, status).Observe(duration.Seconds())
}

func (p *PrometheusMetrics) ObserveAttempt(serverID string, outcome domain.AttemptOutcome, duration time.Duration) {
	p.attempts.WithLabelValues(serverID, string(outcome)).Inc()
	p.attemptDuration.WithLabelValues(serverID, string(outcome)).Observe(duration.Seconds())
}

func (p *PrometheusMetrics) ObserveBackoff(serverID string, delay time.Duration) {
	p.backoffDelay.WithLabelValues(serverID).Observe(delay.Seconds())
}

func (p *PrometheusMetrics) ObserveVerdict(verdict domain.Verdict) {
	p.verdicts.WithLabelValues(string(verdict)).Inc()
}

func (p *PrometheusMetrics) ObserveRun(success bool, attempts int, duration time.Duration) {
	status := "failure"
	if success {
		status = "success"
	}
	p.runs.WithLabelValues(status).Inc()
	p.runAttempts.Observe(float64(attempts))
	p.runDuration.Observe(duration.Seconds())
}

func (p *PrometheusMetrics) ObserveRankingTokens(provider string, model string, tokens int) {
	p.rankingTokens.WithLabelValues(provider, model).Add(float64(tokens))
}

func (p *PrometheusMetrics) ObserveRankingLatency(provider string, model string, duration time.Duration) {
	p.rankingLatency.WithLabelValues(provider, model).Observe(duration.Seconds())
}

var _ domain.Metrics = (*PrometheusMetrics)(nil)
