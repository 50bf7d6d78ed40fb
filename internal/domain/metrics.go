package domain

import "time"

// CallStatus labels the outcome of a remote call.
type CallStatus string

const (
	// CallStatusSuccess indicates the call returned a result.
	CallStatusSuccess CallStatus = "success"
	// CallStatusError indicates the call failed.
	CallStatusError CallStatus = "error"
)

// CallMetric captures metrics for one JSON-RPC call.
type CallMetric struct {
	ServerID string
	Method   string
	Status   CallStatus
	Code     ErrorCode
	Duration time.Duration
}

// AttemptOutcome describes how one loop turn ended.
type AttemptOutcome string

const (
	AttemptOutcomeSuccess  AttemptOutcome = "success"
	AttemptOutcomeFailure  AttemptOutcome = "failure"
	AttemptOutcomeSkipped  AttemptOutcome = "backoff_skip"
	AttemptOutcomeNoTools  AttemptOutcome = "no_tools"
	AttemptOutcomeCanceled AttemptOutcome = "canceled"
)

// Metrics records operational metrics for sessions and runs.
type Metrics interface {
	ObserveCall(metric CallMetric)
	ObserveNegotiation(serverID string, version string, duration time.Duration, err error)
	ObserveAttempt(serverID string, outcome AttemptOutcome, duration time.Duration)
	ObserveBackoff(serverID string, delay time.Duration)
	ObserveVerdict(verdict Verdict)
	ObserveRun(success bool, attempts int, duration time.Duration)
	ObserveRankingTokens(provider string, model string, tokens int)
	ObserveRankingLatency(provider string, model string, duration time.Duration)
}
