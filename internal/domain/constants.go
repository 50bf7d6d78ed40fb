package domain

const (
	ClientName    = "mcpagent"
	ClientVersion = "0.1.0"

	DefaultCallTimeoutSeconds     = 45
	DefaultGreetingTimeoutMillis  = 2000
	DefaultBackoffBaseSeconds     = 2
	DefaultBackoffJitter          = 1.0
	DefaultMinAttempts            = 5
	DefaultSettleMillis           = 1000
	DefaultDOMSettleMillis        = 1500
	DefaultSnapshotAttempts       = 3
	DefaultVerdictAttempts        = 5
	DefaultVerdictIntervalMillis  = 1000
	DefaultUniformScore           = 0.7
	DefaultMaxCandidates          = 5
	DefaultRankingProvider        = RankingProviderHeuristic
	DefaultPreferredRegion        = "auto"
	DefaultKey                    = "Enter"
	DefaultControlDomID           = "verifyBtn"
	DefaultControlName            = "Verify"
	DefaultControlRole            = "button"
	DefaultVerdictDomID           = "verdict"
	DefaultObservabilityListen    = "127.0.0.1:9464"
	DefaultHistoryPath            = "~/.mcpagent/history.db"
	DefaultToolsPageLimit         = 20
	DefaultRankingTimeoutSeconds  = 20
	DefaultTransportMode          = TransportAuto
	DefaultBearerAuthType         = "bearer"
	DefaultPrimaryEndpointSuffix  = "/mcp"
	DefaultLegacyEndpointSuffix   = "/sse"
	DefaultSessionQueryParameter  = "sessionId"
	DefaultMaxErrorBodyPreviewLen = 300
)

// DefaultProtocolVersions is the ordered list offered during negotiation.
var DefaultProtocolVersions = []string{"2024-11-05", "2025-03-26", "2025-06-18"}
