package ranking

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"mcpagent/internal/domain"
)

// NewScorer builds the scorer selected by cfg.Provider.
func NewScorer(ctx context.Context, cfg domain.RankingConfig, metrics domain.Metrics, logger *zap.Logger) (domain.Scorer, error) {
	provider := domain.RankingProvider(strings.ToLower(strings.TrimSpace(string(cfg.Provider))))
	switch provider {
	case "", domain.RankingProviderHeuristic:
		return NewTagScorer(cfg.MaxCandidates), nil
	case domain.RankingProviderHTTP:
		scorer, err := NewHTTPScorer(cfg, nil, metrics, logger)
		if err != nil {
			return nil, err
		}
		return scorer, nil
	case domain.RankingProviderLLM:
		scorer, err := NewLLMScorer(ctx, cfg, metrics, logger)
		if err != nil {
			return nil, err
		}
		return scorer, nil
	default:
		return nil, fmt.Errorf("unsupported ranking provider: %s", cfg.Provider)
	}
}
