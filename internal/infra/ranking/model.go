package ranking

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"

	"mcpagent/internal/domain"
)

// newChatModel creates the OpenAI-compatible chat model used for ranking.
func newChatModel(ctx context.Context, cfg domain.RankingConfig) (model.ToolCallingChatModel, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		envVar := strings.TrimSpace(cfg.APIKeyEnvVar)
		if envVar == "" {
			return nil, fmt.Errorf("API key is required: set ranking.apiKey or ranking.apiKeyEnvVar")
		}
		apiKey = os.Getenv(envVar)
		if apiKey == "" {
			return nil, fmt.Errorf("API key not found in env var %s", envVar)
		}
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("ranking.model is required for the llm provider")
	}

	modelCfg := &openai.ChatModelConfig{
		Model:  cfg.Model,
		APIKey: apiKey,
	}
	if cfg.BaseURL != "" {
		modelCfg.BaseURL = cfg.BaseURL
	}
	return openai.NewChatModel(ctx, modelCfg)
}
