package catalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"mcpagent/internal/domain"
)

func TestLoader_FullConfig(t *testing.T) {
	t.Setenv("MCP_TOKEN", "secret-token")
	file := writeTempConfig(t, `
task: "Invisible reCAPTCHA: click the verify button"
targets: ["https://example.test/page"]
servers:
  - id: playwright-local
    baseURL: http://localhost:8931/mcp/
    transport: auto
    auth:
      type: bearer
      token: ${MCP_TOKEN}
    tags: ["browser", "region:us"]
    healthy: true
    headers:
      x-team: qa
  - id: remote
    baseURL: https://browser.example.test/mcp
    transport: legacy
    healthy: false
interaction:
  control: {domId: verifyBtn, name: Verify, role: button}
  verdict: {domId: verdict, name: ""}
  key: Enter
runtime:
  protocolVersions: ["2024-11-05", "2025-03-26"]
  callTimeoutSeconds: 30
  greetingTimeoutMillis: 500
  backoffBaseSeconds: 1.5
  backoffJitter: 0.5
  minAttempts: 3
  settleMillis: 200
  domSettleMillis: 300
  snapshotAttempts: 2
  verdictAttempts: 4
  verdictIntervalMillis: 250
  toolPreferences: {click: [browser_click, click]}
ranking:
  provider: HTTP
  endpoint: http://scorer.test/rank
  preferredRegion: eu
  maxCandidates: 3
history:
  path: /tmp/mcpagent/history.db
observability:
  listenAddress: 127.0.0.1:9999
`)

	cfg, err := NewLoader(zap.NewNop()).Load(context.Background(), file)
	require.NoError(t, err)

	prefs := domain.DefaultToolPreferences()
	prefs[domain.CapabilityClick] = []string{"browser_click", "click"}
	expect := domain.AgentConfig{
		Task:    "Invisible reCAPTCHA: click the verify button",
		Targets: []string{"https://example.test/page"},
		Servers: []domain.ServerDescriptor{
			{
				ID:        "playwright-local",
				BaseURL:   "http://localhost:8931/mcp",
				Transport: domain.TransportAuto,
				Auth:      &domain.AuthConfig{Type: "bearer", Token: "secret-token"},
				Tags:      []string{"browser", "region:us"},
				Healthy:   true,
				Headers:   map[string]string{"X-Team": "qa"},
			},
			{
				ID:        "remote",
				BaseURL:   "https://browser.example.test/mcp",
				Transport: domain.TransportSSE,
				Healthy:   false,
			},
		},
		Interaction: domain.Interaction{
			Control: domain.Locator{DomID: "verifyBtn", Name: "Verify", Role: "button"},
			Verdict: domain.Locator{DomID: "verdict"},
			Key:     "Enter",
		},
		Runtime: domain.RuntimeConfig{
			ProtocolVersions:      []string{"2024-11-05", "2025-03-26"},
			CallTimeoutSeconds:    30,
			GreetingTimeoutMillis: 500,
			BackoffBaseSeconds:    1.5,
			BackoffJitter:         0.5,
			MinAttempts:           3,
			SettleMillis:          200,
			DOMSettleMillis:       300,
			SnapshotAttempts:      2,
			VerdictAttempts:       4,
			VerdictIntervalMillis: 250,
			ToolPreferences:       prefs,
		},
		Ranking: domain.RankingConfig{
			Provider:        domain.RankingProviderHTTP,
			Endpoint:        "http://scorer.test/rank",
			PreferredRegion: "eu",
			MaxCandidates:   3,
			TimeoutSeconds:  domain.DefaultRankingTimeoutSeconds,
		},
		History:       domain.HistoryConfig{Path: "/tmp/mcpagent/history.db"},
		Observability: domain.ObservabilityConfig{ListenAddress: "127.0.0.1:9999"},
	}
	if diff := cmp.Diff(expect, cfg); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoader_Defaults(t *testing.T) {
	file := writeTempConfig(t, `
servers:
  - id: alpha
    baseURL: http://localhost:8931/mcp
`)

	cfg, err := NewLoader(nil).Load(context.Background(), file)
	require.NoError(t, err)
	require.Len(t, cfg.Servers, 1)
	require.True(t, cfg.Servers[0].Healthy)
	require.Equal(t, domain.TransportAuto, cfg.Servers[0].Transport)
	require.Nil(t, cfg.Servers[0].Auth)

	if diff := cmp.Diff(domain.DefaultRuntimeConfig(), cfg.Runtime); diff != "" {
		t.Fatalf("runtime mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, domain.Interaction{
		Control: domain.Locator{DomID: domain.DefaultControlDomID, Name: domain.DefaultControlName, Role: domain.DefaultControlRole},
		Verdict: domain.Locator{DomID: domain.DefaultVerdictDomID},
		Key:     domain.DefaultKey,
	}, cfg.Interaction)
	require.Equal(t, domain.RankingProviderHeuristic, cfg.Ranking.Provider)
	require.Equal(t, domain.DefaultPreferredRegion, cfg.Ranking.PreferredRegion)
	require.Equal(t, domain.DefaultMaxCandidates, cfg.Ranking.MaxCandidates)
	require.Equal(t, domain.DefaultHistoryPath, cfg.History.Path)
	require.Equal(t, domain.DefaultObservabilityListen, cfg.Observability.ListenAddress)
	require.Empty(t, cfg.Targets)
}

func TestLoader_NameOnlyVerdict(t *testing.T) {
	file := writeTempConfig(t, `
interaction:
  verdict: {name: Result}
  key: Space
`)

	cfg, err := NewLoader(nil).Load(context.Background(), file)
	require.NoError(t, err)
	require.Equal(t, domain.Locator{Name: "Result"}, cfg.Interaction.Verdict)
	require.Equal(t, domain.DefaultControlDomID, cfg.Interaction.Control.DomID)
	require.Equal(t, "Space", cfg.Interaction.Key)
}

func TestLoader_EnvFallbackAndMissing(t *testing.T) {
	t.Setenv("AGENT_SERVER_URL", "http://from-env.test/mcp")
	core, logs := observer.New(zapcore.WarnLevel)
	file := writeTempConfig(t, `
servers:
  - id: alpha
    baseURL: ${AGENT_SERVER_URL}
    tags: ["region:${AGENT_REGION_UNSET:-eu}"]
runtime:
  minAttempts: ${AGENT_MIN_ATTEMPTS_UNSET:-7}
ranking:
  apiKey: "${AGENT_KEY_UNSET}"
`)

	cfg, err := NewLoader(zap.New(core)).Load(context.Background(), file)
	require.NoError(t, err)
	require.Equal(t, "http://from-env.test/mcp", cfg.Servers[0].BaseURL)
	require.Equal(t, []string{"region:eu"}, cfg.Servers[0].Tags)
	require.Equal(t, 7, cfg.Runtime.MinAttempts)
	require.Empty(t, cfg.Ranking.APIKey)

	entries := logs.FilterMessage("missing environment variables in config").All()
	require.Len(t, entries, 1)
	require.Equal(t, []any{"AGENT_KEY_UNSET"}, entries[0].ContextMap()["missing"])
}

func TestLoader_AggregatesValidationErrors(t *testing.T) {
	file := writeTempConfig(t, `
targets: ["ftp://example.test"]
servers:
  - id: alpha
    baseURL: http://localhost:1/mcp
  - id: alpha
    baseURL: localhost:2
    transport: grpc
    auth: {type: bearer}
runtime:
  minAttempts: 0
ranking:
  provider: llm
`)

	_, err := NewLoader(nil).Load(context.Background(), file)
	require.Error(t, err)
	require.True(t, errors.Is(err, domain.ErrInvalidConfig))
	code, ok := domain.CodeFrom(err)
	require.True(t, ok)
	require.Equal(t, domain.CodeInvalidArgument, code)

	for _, fragment := range []string{
		"targets[0]: must use http or https",
		`servers[1]: duplicate id "alpha"`,
		"servers[1]: baseURL",
		"servers[1]: transport must be auto, streamable_http or sse",
		"servers[1]: auth.token is required",
		"runtime.minAttempts must be >= 1",
		"ranking.model is required for the llm provider",
		"ranking.apiKey or ranking.apiKeyEnvVar is required",
	} {
		require.Contains(t, err.Error(), fragment)
	}
}

func TestLoader_SchemaRejects(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{name: "unknown top-level key", content: "serverz: []\n"},
		{name: "unknown server key", content: "servers:\n  - id: a\n    baseURL: http://a.test\n    cmd: [x]\n"},
		{name: "missing baseURL", content: "servers:\n  - id: a\n"},
		{name: "wrong type", content: "runtime:\n  minAttempts: many\n"},
		{name: "reserved header", content: "servers:\n  - id: a\n    baseURL: http://a.test\n    headers: {authorization: x}\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewLoader(nil).Load(context.Background(), writeTempConfig(t, tc.content))
			require.Error(t, err)
		})
	}
}

func TestLoader_PathErrors(t *testing.T) {
	_, err := NewLoader(nil).Load(context.Background(), "")
	require.ErrorContains(t, err, "config path is required")

	_, err = NewLoader(nil).Load(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "read config")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewLoader(nil).Load(ctx, writeTempConfig(t, "task: x\n"))
	require.ErrorIs(t, err, context.Canceled)
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("EXPAND_SET", "value")
	t.Setenv("EXPAND_EMPTY", "")

	cases := []struct {
		input   string
		want    string
		missing []string
	}{
		{input: "${EXPAND_SET}", want: "value"},
		{input: "$EXPAND_SET-suffix", want: "value-suffix"},
		{input: "${EXPAND_EMPTY}", want: ""},
		{input: "${EXPAND_EMPTY:-fallback}", want: "fallback"},
		{input: "${EXPAND_UNSET:-fallback}", want: "fallback"},
		{input: "a${EXPAND_UNSET}b", want: "ab", missing: []string{"EXPAND_UNSET"}},
	}
	for _, tc := range cases {
		t.Run(tc.input, func(t *testing.T) {
			missing := make(map[string]struct{})
			require.Equal(t, tc.want, expandEnv(tc.input, missing))
			require.Equal(t, tc.missing, missingList(missing))
		})
	}
}

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "agent.yaml")
	normalized := strings.ReplaceAll(content, "\t", "  ")
	if err := os.WriteFile(path, []byte(normalized), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}
