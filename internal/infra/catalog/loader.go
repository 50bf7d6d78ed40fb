package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"mcpagent/internal/domain"
)

// Loader reads and normalizes agent configuration files.
type Loader struct {
	logger *zap.Logger
}

func NewLoader(logger *zap.Logger) *Loader {
	if logger == nil {
		return &Loader{logger: zap.NewNop()}
	}
	return &Loader{logger: logger.Named("catalog")}
}

func newConfigViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	setConfigDefaults(v)
	return v
}

func setConfigDefaults(v *viper.Viper) {
	v.SetDefault("interaction.key", domain.DefaultKey)
	v.SetDefault("runtime.protocolVersions", domain.DefaultProtocolVersions)
	v.SetDefault("runtime.callTimeoutSeconds", domain.DefaultCallTimeoutSeconds)
	v.SetDefault("runtime.greetingTimeoutMillis", domain.DefaultGreetingTimeoutMillis)
	v.SetDefault("runtime.backoffBaseSeconds", domain.DefaultBackoffBaseSeconds)
	v.SetDefault("runtime.backoffJitter", domain.DefaultBackoffJitter)
	v.SetDefault("runtime.minAttempts", domain.DefaultMinAttempts)
	v.SetDefault("runtime.settleMillis", domain.DefaultSettleMillis)
	v.SetDefault("runtime.domSettleMillis", domain.DefaultDOMSettleMillis)
	v.SetDefault("runtime.snapshotAttempts", domain.DefaultSnapshotAttempts)
	v.SetDefault("runtime.verdictAttempts", domain.DefaultVerdictAttempts)
	v.SetDefault("runtime.verdictIntervalMillis", domain.DefaultVerdictIntervalMillis)
	v.SetDefault("ranking.provider", string(domain.DefaultRankingProvider))
	v.SetDefault("ranking.preferredRegion", domain.DefaultPreferredRegion)
	v.SetDefault("ranking.maxCandidates", domain.DefaultMaxCandidates)
	v.SetDefault("ranking.timeoutSeconds", domain.DefaultRankingTimeoutSeconds)
	v.SetDefault("history.path", domain.DefaultHistoryPath)
	v.SetDefault("observability.listenAddress", domain.DefaultObservabilityListen)
}

type rawConfig struct {
	Task          string                 `mapstructure:"task"`
	Targets       []string               `mapstructure:"targets"`
	Servers       []rawServer            `mapstructure:"servers"`
	Interaction   rawInteraction         `mapstructure:"interaction"`
	Runtime       rawRuntimeConfig       `mapstructure:"runtime"`
	Ranking       rawRankingConfig       `mapstructure:"ranking"`
	History       rawHistoryConfig       `mapstructure:"history"`
	Observability rawObservabilityConfig `mapstructure:"observability"`
}

type rawServer struct {
	ID        string            `mapstructure:"id"`
	BaseURL   string            `mapstructure:"baseURL"`
	Transport string            `mapstructure:"transport"`
	Auth      *rawAuth          `mapstructure:"auth"`
	Tags      []string          `mapstructure:"tags"`
	Healthy   *bool             `mapstructure:"healthy"`
	Headers   map[string]string `mapstructure:"headers"`
}

type rawAuth struct {
	Type  string `mapstructure:"type"`
	Token string `mapstructure:"token"`
}

type rawLocator struct {
	DomID string `mapstructure:"domId"`
	Name  string `mapstructure:"name"`
	Role  string `mapstructure:"role"`
}

type rawInteraction struct {
	Control rawLocator `mapstructure:"control"`
	Verdict rawLocator `mapstructure:"verdict"`
	Key     string     `mapstructure:"key"`
}

type rawRuntimeConfig struct {
	ProtocolVersions      []string            `mapstructure:"protocolVersions"`
	CallTimeoutSeconds    int                 `mapstructure:"callTimeoutSeconds"`
	GreetingTimeoutMillis int                 `mapstructure:"greetingTimeoutMillis"`
	BackoffBaseSeconds    float64             `mapstructure:"backoffBaseSeconds"`
	BackoffJitter         float64             `mapstructure:"backoffJitter"`
	MinAttempts           int                 `mapstructure:"minAttempts"`
	SettleMillis          int                 `mapstructure:"settleMillis"`
	DOMSettleMillis       int                 `mapstructure:"domSettleMillis"`
	SnapshotAttempts      int                 `mapstructure:"snapshotAttempts"`
	VerdictAttempts       int                 `mapstructure:"verdictAttempts"`
	VerdictIntervalMillis int                 `mapstructure:"verdictIntervalMillis"`
	ToolPreferences       map[string][]string `mapstructure:"toolPreferences"`
}

type rawRankingConfig struct {
	Provider        string `mapstructure:"provider"`
	Endpoint        string `mapstructure:"endpoint"`
	Model           string `mapstructure:"model"`
	APIKey          string `mapstructure:"apiKey"`
	APIKeyEnvVar    string `mapstructure:"apiKeyEnvVar"`
	BaseURL         string `mapstructure:"baseURL"`
	PreferredRegion string `mapstructure:"preferredRegion"`
	MaxCandidates   int    `mapstructure:"maxCandidates"`
	TimeoutSeconds  int    `mapstructure:"timeoutSeconds"`
}

type rawHistoryConfig struct {
	Path string `mapstructure:"path"`
}

type rawObservabilityConfig struct {
	ListenAddress string `mapstructure:"listenAddress"`
}

// Load reads the config file at path, expands environment references,
// applies defaults and validates the result. Validation problems are
// reported together.
func (l *Loader) Load(ctx context.Context, path string) (domain.AgentConfig, error) {
	if path == "" {
		return domain.AgentConfig{}, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.AgentConfig{}, fmt.Errorf("read config: %w", err)
	}
	cfg, err := l.Parse(ctx, data)
	if err != nil {
		return domain.AgentConfig{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a config document held in memory.
func (l *Loader) Parse(ctx context.Context, data []byte) (domain.AgentConfig, error) {
	expanded, missing, err := expandConfigEnv(data)
	if err != nil {
		return domain.AgentConfig{}, err
	}
	if len(missing) > 0 {
		l.logger.Warn("missing environment variables in config", zap.Strings("missing", missing))
	}

	if err := validateConfigSchema(expanded); err != nil {
		return domain.AgentConfig{}, err
	}

	v := newConfigViper()
	if err := v.ReadConfig(bytes.NewBufferString(expanded)); err != nil {
		return domain.AgentConfig{}, fmt.Errorf("parse config: %w", err)
	}
	var raw rawConfig
	if err := v.Unmarshal(&raw); err != nil {
		return domain.AgentConfig{}, fmt.Errorf("decode config: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return domain.AgentConfig{}, err
	}

	cfg, errs := normalizeConfig(raw)
	if len(errs) > 0 {
		return domain.AgentConfig{}, domain.E(domain.CodeInvalidArgument, "load config", strings.Join(errs, "; "), domain.ErrInvalidConfig)
	}
	return cfg, nil
}

func normalizeConfig(raw rawConfig) (domain.AgentConfig, []string) {
	var errs []string

	cfg := domain.AgentConfig{
		Task: strings.TrimSpace(raw.Task),
	}

	for i, target := range raw.Targets {
		trimmed := strings.TrimSpace(target)
		if err := validateHTTPURL(trimmed); err != nil {
			errs = append(errs, fmt.Sprintf("targets[%d]: %v", i, err))
			continue
		}
		cfg.Targets = append(cfg.Targets, trimmed)
	}

	seen := make(map[string]struct{}, len(raw.Servers))
	for i, rawSrv := range raw.Servers {
		server := normalizeServer(rawSrv)
		if _, dup := seen[server.ID]; dup {
			errs = append(errs, fmt.Sprintf("servers[%d]: duplicate id %q", i, server.ID))
		} else if server.ID != "" {
			seen[server.ID] = struct{}{}
		}
		if serverErrs := validateServer(server, i); len(serverErrs) > 0 {
			errs = append(errs, serverErrs...)
			continue
		}
		cfg.Servers = append(cfg.Servers, server)
	}

	cfg.Interaction = domain.Interaction{
		Control: normalizeLocator(raw.Interaction.Control, domain.Locator{
			DomID: domain.DefaultControlDomID,
			Name:  domain.DefaultControlName,
			Role:  domain.DefaultControlRole,
		}),
		Verdict: normalizeLocator(raw.Interaction.Verdict, domain.Locator{DomID: domain.DefaultVerdictDomID}),
		Key:     strings.TrimSpace(raw.Interaction.Key),
	}
	if cfg.Interaction.Control.DomID == "" && cfg.Interaction.Control.Name == "" {
		errs = append(errs, "interaction.control: domId or name is required")
	}
	if cfg.Interaction.Verdict.DomID == "" && cfg.Interaction.Verdict.Name == "" {
		errs = append(errs, "interaction.verdict: domId or name is required")
	}
	if cfg.Interaction.Key == "" {
		cfg.Interaction.Key = domain.DefaultKey
	}

	runtime, runtimeErrs := normalizeRuntimeConfig(raw.Runtime)
	cfg.Runtime = runtime
	errs = append(errs, runtimeErrs...)

	ranking, rankingErrs := normalizeRankingConfig(raw.Ranking)
	cfg.Ranking = ranking
	errs = append(errs, rankingErrs...)

	cfg.History = domain.HistoryConfig{Path: strings.TrimSpace(raw.History.Path)}
	cfg.Observability = domain.ObservabilityConfig{ListenAddress: strings.TrimSpace(raw.Observability.ListenAddress)}

	return cfg, errs
}

func normalizeServer(raw rawServer) domain.ServerDescriptor {
	server := domain.ServerDescriptor{
		ID:        strings.TrimSpace(raw.ID),
		BaseURL:   strings.TrimRight(strings.TrimSpace(raw.BaseURL), "/"),
		Transport: domain.NormalizeTransport(domain.TransportMode(raw.Transport)),
		Healthy:   true,
		Headers:   normalizeHTTPHeaders(raw.Headers),
	}
	if raw.Healthy != nil {
		server.Healthy = *raw.Healthy
	}
	for _, tag := range raw.Tags {
		if trimmed := strings.TrimSpace(tag); trimmed != "" {
			server.Tags = append(server.Tags, trimmed)
		}
	}
	if raw.Auth != nil {
		authType := strings.ToLower(strings.TrimSpace(raw.Auth.Type))
		if authType == "" {
			authType = domain.DefaultBearerAuthType
		}
		server.Auth = &domain.AuthConfig{Type: authType, Token: strings.TrimSpace(raw.Auth.Token)}
	}
	return server
}

func validateServer(server domain.ServerDescriptor, index int) []string {
	var errs []string
	if server.ID == "" {
		errs = append(errs, fmt.Sprintf("servers[%d]: id is required", index))
	}
	if err := validateHTTPURL(server.BaseURL); err != nil {
		errs = append(errs, fmt.Sprintf("servers[%d]: baseURL %v", index, err))
	}
	if !domain.IsKnownTransport(server.Transport) {
		errs = append(errs, fmt.Sprintf("servers[%d]: transport must be auto, streamable_http or sse", index))
	}
	if server.Auth != nil {
		if server.Auth.Type != domain.DefaultBearerAuthType {
			errs = append(errs, fmt.Sprintf("servers[%d]: auth.type must be bearer", index))
		} else if server.Auth.Token == "" {
			errs = append(errs, fmt.Sprintf("servers[%d]: auth.token is required", index))
		}
	}
	for key := range server.Headers {
		if key == "" {
			errs = append(errs, fmt.Sprintf("servers[%d]: header name must not be empty", index))
			continue
		}
		if isReservedHTTPHeader(key) {
			errs = append(errs, fmt.Sprintf("servers[%d]: header %s is managed by the client", index, key))
		}
	}
	return errs
}

func validateHTTPURL(raw string) error {
	if raw == "" {
		return errors.New("is required")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("is invalid: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("must use http or https: %q", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("must include a host: %q", raw)
	}
	return nil
}

func normalizeHTTPHeaders(headers map[string]string) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	keys := make([]string, 0, len(headers))
	for key := range headers {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	normalized := make(map[string]string, len(headers))
	for _, key := range keys {
		trimmedKey := strings.TrimSpace(key)
		value := strings.TrimSpace(headers[key])
		if trimmedKey == "" {
			normalized[""] = value
			continue
		}
		normalized[http.CanonicalHeaderKey(trimmedKey)] = value
	}
	return normalized
}

func isReservedHTTPHeader(header string) bool {
	switch http.CanonicalHeaderKey(header) {
	case "Authorization", "Content-Type", "Accept", "Mcp-Session-Id", "Mcp-Protocol-Version":
		return true
	default:
		return false
	}
}

// normalizeLocator returns fallback only when raw is entirely empty, so a
// name-only locator does not inherit the default domain id.
func normalizeLocator(raw rawLocator, fallback domain.Locator) domain.Locator {
	locator := domain.Locator{
		DomID: strings.TrimSpace(raw.DomID),
		Name:  strings.TrimSpace(raw.Name),
		Role:  strings.TrimSpace(raw.Role),
	}
	if locator == (domain.Locator{}) {
		return fallback
	}
	return locator
}

func normalizeRuntimeConfig(raw rawRuntimeConfig) (domain.RuntimeConfig, []string) {
	var errs []string

	versions := make([]string, 0, len(raw.ProtocolVersions))
	for _, version := range raw.ProtocolVersions {
		if trimmed := strings.TrimSpace(version); trimmed != "" {
			versions = append(versions, trimmed)
		}
	}
	if len(versions) == 0 {
		errs = append(errs, "runtime.protocolVersions must list at least one version")
	}

	cfg := domain.RuntimeConfig{
		ProtocolVersions:      versions,
		CallTimeoutSeconds:    raw.CallTimeoutSeconds,
		GreetingTimeoutMillis: raw.GreetingTimeoutMillis,
		BackoffBaseSeconds:    raw.BackoffBaseSeconds,
		BackoffJitter:         raw.BackoffJitter,
		MinAttempts:           raw.MinAttempts,
		SettleMillis:          raw.SettleMillis,
		DOMSettleMillis:       raw.DOMSettleMillis,
		SnapshotAttempts:      raw.SnapshotAttempts,
		VerdictAttempts:       raw.VerdictAttempts,
		VerdictIntervalMillis: raw.VerdictIntervalMillis,
		ToolPreferences:       domain.DefaultToolPreferences().Merge(raw.ToolPreferences),
	}

	if cfg.CallTimeoutSeconds <= 0 {
		errs = append(errs, "runtime.callTimeoutSeconds must be > 0")
	}
	if cfg.GreetingTimeoutMillis < 0 {
		errs = append(errs, "runtime.greetingTimeoutMillis must be >= 0")
	}
	if cfg.BackoffBaseSeconds <= 0 {
		errs = append(errs, "runtime.backoffBaseSeconds must be > 0")
	}
	if cfg.BackoffJitter < 0 {
		errs = append(errs, "runtime.backoffJitter must be >= 0")
	}
	if cfg.MinAttempts < 1 {
		errs = append(errs, "runtime.minAttempts must be >= 1")
	}
	if cfg.SettleMillis < 0 {
		errs = append(errs, "runtime.settleMillis must be >= 0")
	}
	if cfg.DOMSettleMillis < 0 {
		errs = append(errs, "runtime.domSettleMillis must be >= 0")
	}
	if cfg.SnapshotAttempts < 1 {
		errs = append(errs, "runtime.snapshotAttempts must be >= 1")
	}
	if cfg.VerdictAttempts < 1 {
		errs = append(errs, "runtime.verdictAttempts must be >= 1")
	}
	if cfg.VerdictIntervalMillis < 0 {
		errs = append(errs, "runtime.verdictIntervalMillis must be >= 0")
	}
	return cfg, errs
}

func normalizeRankingConfig(raw rawRankingConfig) (domain.RankingConfig, []string) {
	var errs []string

	cfg := domain.RankingConfig{
		Provider:        domain.RankingProvider(strings.ToLower(strings.TrimSpace(raw.Provider))),
		Endpoint:        strings.TrimSpace(raw.Endpoint),
		Model:           strings.TrimSpace(raw.Model),
		APIKey:          strings.TrimSpace(raw.APIKey),
		APIKeyEnvVar:    strings.TrimSpace(raw.APIKeyEnvVar),
		BaseURL:         strings.TrimSpace(raw.BaseURL),
		PreferredRegion: strings.TrimSpace(raw.PreferredRegion),
		MaxCandidates:   raw.MaxCandidates,
		TimeoutSeconds:  raw.TimeoutSeconds,
	}
	if cfg.Provider == "" {
		cfg.Provider = domain.DefaultRankingProvider
	}
	if cfg.PreferredRegion == "" {
		cfg.PreferredRegion = domain.DefaultPreferredRegion
	}

	switch cfg.Provider {
	case domain.RankingProviderHeuristic:
	case domain.RankingProviderHTTP:
		if err := validateHTTPURL(cfg.Endpoint); err != nil {
			errs = append(errs, fmt.Sprintf("ranking.endpoint %v", err))
		}
	case domain.RankingProviderLLM:
		if cfg.Model == "" {
			errs = append(errs, "ranking.model is required for the llm provider")
		}
		if cfg.APIKey == "" && cfg.APIKeyEnvVar == "" {
			errs = append(errs, "ranking.apiKey or ranking.apiKeyEnvVar is required for the llm provider")
		}
	default:
		errs = append(errs, "ranking.provider must be heuristic, http or llm")
	}
	if cfg.MaxCandidates < 1 {
		errs = append(errs, "ranking.maxCandidates must be >= 1")
	}
	if cfg.TimeoutSeconds <= 0 {
		errs = append(errs, "ranking.timeoutSeconds must be > 0")
	}
	return cfg, errs
}
