package ranking

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"mcpagent/internal/domain"
)

const providerLLM = "openai"

// LLMScorer ranks servers with a chat model.
type LLMScorer struct {
	model         model.BaseChatModel
	modelName     string
	maxCandidates int
	metrics       domain.Metrics
	logger        *zap.Logger
}

// NewLLMScorer builds the chat model from cfg.
func NewLLMScorer(ctx context.Context, cfg domain.RankingConfig, metrics domain.Metrics, logger *zap.Logger) (*LLMScorer, error) {
	chatModel, err := newChatModel(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("initialize model: %w", err)
	}
	return newLLMScorer(chatModel, cfg, metrics, logger), nil
}

func newLLMScorer(chatModel model.BaseChatModel, cfg domain.RankingConfig, metrics domain.Metrics, logger *zap.Logger) *LLMScorer {
	if logger == nil {
		logger = zap.NewNop()
	}
	maxCandidates := cfg.MaxCandidates
	if maxCandidates <= 0 {
		maxCandidates = domain.DefaultMaxCandidates
	}
	return &LLMScorer{
		model:         chatModel,
		modelName:     cfg.Model,
		maxCandidates: maxCandidates,
		metrics:       metrics,
		logger:        logger.Named("ranking"),
	}
}

func (s *LLMScorer) Rank(ctx context.Context, req domain.RankRequest) ([]domain.Candidate, error) {
	prompt, err := buildRankingPrompt(req)
	if err != nil {
		return nil, err
	}
	messages := []*schema.Message{
		schema.SystemMessage(rankingSystemPrompt),
		schema.UserMessage(prompt),
	}

	started := time.Now()
	response, err := s.model.Generate(ctx, messages)
	if s.metrics != nil {
		s.metrics.ObserveRankingLatency(providerLLM, s.modelName, time.Since(started))
	}
	if err != nil {
		return nil, fmt.Errorf("LLM generate: %w", err)
	}
	s.observeTokenUsage(response)

	candidates, err := parseCandidates(response.Content)
	if err != nil {
		return nil, err
	}
	ranked := finalize(candidates, req.Servers, s.maxCandidates)
	s.logger.Debug("model ranked servers", zap.Int("candidates", len(ranked)))
	return ranked, nil
}

func (s *LLMScorer) observeTokenUsage(response *schema.Message) {
	if s.metrics == nil || response == nil || response.ResponseMeta == nil || response.ResponseMeta.Usage == nil {
		return
	}
	tokens := response.ResponseMeta.Usage.TotalTokens
	if tokens <= 0 {
		return
	}
	s.metrics.ObserveRankingTokens(providerLLM, s.modelName, tokens)
}

func buildRankingPrompt(req domain.RankRequest) (string, error) {
	servers, err := json.Marshal(briefServers(req.Servers))
	if err != nil {
		return "", fmt.Errorf("encode servers: %w", err)
	}
	targets, err := json.Marshal(req.Targets)
	if err != nil {
		return "", fmt.Errorf("encode targets: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("Task: ")
	sb.WriteString(req.Task)
	sb.WriteString("\nTargets: ")
	sb.Write(targets)
	sb.WriteString("\n\nServers (id, tools, tags, healthy):\n")
	sb.Write(servers)
	sb.WriteString("\n\nSelection rules:\n")
	sb.WriteString("- Strongly prefer servers that can drive a real browser: navigate, snapshot and click tools, or a browser tag.\n")
	sb.WriteString("- Then prefer healthy servers, then lower latency, then region ")
	sb.WriteString(ResolveRegion(req.PreferredRegion, req.Servers))
	sb.WriteString(".\n")
	sb.WriteString("- If information is missing, treat it as neutral.\n\n")
	sb.WriteString(`Return JSON only: [{"server_id": "<id>", "score": <0..1>, "reason": "<brief>"}]`)
	return sb.String(), nil
}

const rankingSystemPrompt = `You select MCP servers for a browser automation task. Return JSON only.

Output a JSON array of objects with server_id, score between 0 and 1, and a brief reason, best candidate first. Do not include any extra text or formatting.`

var _ domain.Scorer = (*LLMScorer)(nil)
