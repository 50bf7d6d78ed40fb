package domain

import (
	"context"
	"time"
)

// RankingProvider selects the scorer implementation.
type RankingProvider string

const (
	RankingProviderHeuristic RankingProvider = "heuristic"
	RankingProviderHTTP      RankingProvider = "http"
	RankingProviderLLM       RankingProvider = "llm"
)

// AgentConfig is the fully normalized configuration of one agent.
type AgentConfig struct {
	Task          string
	Targets       []string
	Servers       []ServerDescriptor
	Interaction   Interaction
	Runtime       RuntimeConfig
	Ranking       RankingConfig
	History       HistoryConfig
	Observability ObservabilityConfig
}

// Server returns the descriptor with the given id.
func (c AgentConfig) Server(id string) (ServerDescriptor, bool) {
	for _, server := range c.Servers {
		if server.ID == id {
			return server, true
		}
	}
	return ServerDescriptor{}, false
}

// RuntimeConfig holds timing and retry settings.
type RuntimeConfig struct {
	ProtocolVersions      []string
	CallTimeoutSeconds    int
	GreetingTimeoutMillis int
	BackoffBaseSeconds    float64
	BackoffJitter         float64
	MinAttempts           int
	SettleMillis          int
	DOMSettleMillis       int
	SnapshotAttempts      int
	VerdictAttempts       int
	VerdictIntervalMillis int
	ToolPreferences       ToolPreferences
}

func (r RuntimeConfig) CallTimeout() time.Duration {
	return time.Duration(r.CallTimeoutSeconds) * time.Second
}

func (r RuntimeConfig) GreetingTimeout() time.Duration {
	return time.Duration(r.GreetingTimeoutMillis) * time.Millisecond
}

func (r RuntimeConfig) BackoffBase() time.Duration {
	return time.Duration(r.BackoffBaseSeconds * float64(time.Second))
}

func (r RuntimeConfig) Settle() time.Duration {
	return time.Duration(r.SettleMillis) * time.Millisecond
}

func (r RuntimeConfig) DOMSettle() time.Duration {
	return time.Duration(r.DOMSettleMillis) * time.Millisecond
}

func (r RuntimeConfig) VerdictInterval() time.Duration {
	return time.Duration(r.VerdictIntervalMillis) * time.Millisecond
}

// DefaultRuntimeConfig returns runtime settings with every default applied.
func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		ProtocolVersions:      append([]string(nil), DefaultProtocolVersions...),
		CallTimeoutSeconds:    DefaultCallTimeoutSeconds,
		GreetingTimeoutMillis: DefaultGreetingTimeoutMillis,
		BackoffBaseSeconds:    DefaultBackoffBaseSeconds,
		BackoffJitter:         DefaultBackoffJitter,
		MinAttempts:           DefaultMinAttempts,
		SettleMillis:          DefaultSettleMillis,
		DOMSettleMillis:       DefaultDOMSettleMillis,
		SnapshotAttempts:      DefaultSnapshotAttempts,
		VerdictAttempts:       DefaultVerdictAttempts,
		VerdictIntervalMillis: DefaultVerdictIntervalMillis,
		ToolPreferences:       DefaultToolPreferences(),
	}
}

// RankingConfig configures the scorer.
type RankingConfig struct {
	Provider        RankingProvider
	Endpoint        string
	Model           string
	APIKey          string
	APIKeyEnvVar    string
	BaseURL         string
	PreferredRegion string
	MaxCandidates   int
	TimeoutSeconds  int
}

// HistoryConfig configures the run history store.
type HistoryConfig struct {
	Path string
}

// ObservabilityConfig configures the metrics endpoint.
type ObservabilityConfig struct {
	ListenAddress string
}

// Scorer ranks candidate servers for a task. The result order is the
// selection priority.
type Scorer interface {
	Rank(ctx context.Context, req RankRequest) ([]Candidate, error)
}
