package llmclient

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/KASPER94/browser-use-llm/api/schemas"
	"github.com/KASPER94/browser-use-llm/internal/config"
)

// NewClient builds the tier router from the agent's model map. Both default
// models must be present; they may name the same entry, in which case one
// client serves both tiers.
func NewClient(ctx context.Context, cfg config.AgentConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	routerCfg := cfg.LLM
	if routerCfg.DefaultFastModel == "" {
		return nil, fmt.Errorf("configuration error: DefaultFastModel is not specified in LLMRouterConfig")
	}
	if routerCfg.DefaultPowerfulModel == "" {
		return nil, fmt.Errorf("configuration error: DefaultPowerfulModel is not specified in LLMRouterConfig")
	}
	fastCfg, ok := routerCfg.Models[routerCfg.DefaultFastModel]
	if !ok {
		return nil, fmt.Errorf("configuration error: DefaultFastModel '%s' not found in the models map", routerCfg.DefaultFastModel)
	}
	powerfulCfg, ok := routerCfg.Models[routerCfg.DefaultPowerfulModel]
	if !ok {
		return nil, fmt.Errorf("configuration error: DefaultPowerfulModel '%s' not found in the models map", routerCfg.DefaultPowerfulModel)
	}

	fast, err := newProviderClient(ctx, fastCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Fast tier LLM client (Model: %s): %w", routerCfg.DefaultFastModel, err)
	}

	powerful := fast
	if routerCfg.DefaultPowerfulModel != routerCfg.DefaultFastModel {
		powerful, err = newProviderClient(ctx, powerfulCfg, logger)
		if err != nil {
			fast.Close()
			return nil, fmt.Errorf("failed to initialize Powerful tier LLM client (Model: %s): %w", routerCfg.DefaultPowerfulModel, err)
		}
	}

	router, err := NewLLMRouter(logger, fast, powerful, WithRequestLimit(routerCfg.RequestsPerMinute))
	if err != nil {
		return nil, err
	}
	return router, nil
}

func newProviderClient(ctx context.Context, cfg config.LLMModelConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	switch cfg.Provider {
	case config.ProviderGemini:
		return NewGeminiClient(ctx, cfg, logger)
	case config.ProviderOpenAI:
		return NewOpenAIClient(cfg, logger)
	case "":
		return nil, fmt.Errorf("LLM provider is not specified in the model configuration")
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider configured: '%s'. Supported: [%s, %s]",
			cfg.Provider, config.ProviderGemini, config.ProviderOpenAI)
	}
}
