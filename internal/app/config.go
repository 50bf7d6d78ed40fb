package app

// RunConfig selects the config file and per-invocation overrides for a run.
type RunConfig struct {
	ConfigPath string
	// Targets replaces the configured targets when non-empty.
	Targets []string
	// MetricsAddr replaces observability.listenAddress. "off" disables the
	// endpoint.
	MetricsAddr    string
	RunID          string
	DisableHistory bool
}

type ValidateConfig struct {
	ConfigPath string
}

type ToolsConfig struct {
	ConfigPath string
	// ServerID selects the server; empty picks the first configured one.
	ServerID string
}

type HistoryQuery struct {
	ConfigPath string
	Limit      int
}

const metricsAddrOff = "off"
