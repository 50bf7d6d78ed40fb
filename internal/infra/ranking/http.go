package ranking

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"mcpagent/internal/domain"
)

const (
	providerHTTP         = "http"
	maxScoringBodyBytes  = 1 << 20
	maxScoringErrPreview = 200
)

// HTTPScorer asks a remote scoring service for the shortlist.
type HTTPScorer struct {
	endpoint      string
	client        *http.Client
	maxCandidates int
	metrics       domain.Metrics
	logger        *zap.Logger
}

type scoringRequest struct {
	Task            string        `json:"task"`
	Targets         []string      `json:"targets"`
	Servers         []serverBrief `json:"servers"`
	PreferredRegion string        `json:"preferred_region,omitempty"`
}

func NewHTTPScorer(cfg domain.RankingConfig, client *http.Client, metrics domain.Metrics, logger *zap.Logger) (*HTTPScorer, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, domain.E(domain.CodeInvalidArgument, "ranking", "ranking.endpoint is required for the http provider", nil)
	}
	if client == nil {
		timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
		if timeout <= 0 {
			timeout = time.Duration(domain.DefaultRankingTimeoutSeconds) * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	maxCandidates := cfg.MaxCandidates
	if maxCandidates <= 0 {
		maxCandidates = domain.DefaultMaxCandidates
	}
	return &HTTPScorer{
		endpoint:      endpoint,
		client:        client,
		maxCandidates: maxCandidates,
		metrics:       metrics,
		logger:        logger.Named("ranking"),
	}, nil
}

func (s *HTTPScorer) Rank(ctx context.Context, req domain.RankRequest) ([]domain.Candidate, error) {
	body, err := json.Marshal(scoringRequest{
		Task:            req.Task,
		Targets:         req.Targets,
		Servers:         briefServers(req.Servers),
		PreferredRegion: ResolveRegion(req.PreferredRegion, req.Servers),
	})
	if err != nil {
		return nil, fmt.Errorf("encode scoring request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build scoring request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	started := time.Now()
	resp, err := s.client.Do(httpReq)
	if s.metrics != nil {
		s.metrics.ObserveRankingLatency(providerHTTP, "", time.Since(started))
	}
	if err != nil {
		return nil, fmt.Errorf("scoring request: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxScoringBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read scoring response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		preview := strings.TrimSpace(string(payload))
		if len(preview) > maxScoringErrPreview {
			preview = preview[:maxScoringErrPreview]
		}
		return nil, fmt.Errorf("scoring service returned %d: %s", resp.StatusCode, preview)
	}

	candidates, err := parseCandidates(string(payload))
	if err != nil {
		return nil, err
	}
	// The service's order is authoritative.
	ranked := filterKnown(candidates, req.Servers, s.maxCandidates)
	s.logger.Debug("scoring service ranked servers", zap.Int("candidates", len(ranked)))
	return ranked, nil
}

// parseCandidates accepts a bare JSON array, an object with a "candidates"
// array, or either one inside a fenced block.
func parseCandidates(raw string) ([]domain.Candidate, error) {
	text := strings.TrimSpace(raw)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if newline := strings.IndexByte(text, '\n'); newline >= 0 {
			text = text[newline+1:]
		}
		text = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(text), "```"))
	}
	if strings.HasPrefix(text, "{") {
		var wrapped struct {
			Candidates []domain.Candidate `json:"candidates"`
		}
		if err := json.Unmarshal([]byte(text), &wrapped); err != nil {
			return nil, fmt.Errorf("invalid ranking response: %w", err)
		}
		return wrapped.Candidates, nil
	}
	var candidates []domain.Candidate
	if err := json.Unmarshal([]byte(text), &candidates); err != nil {
		return nil, fmt.Errorf("invalid ranking response: %w", err)
	}
	return candidates, nil
}

var _ domain.Scorer = (*HTTPScorer)(nil)
