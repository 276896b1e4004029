// File: internal/service/initializers.go
package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/KASPER94/browser-use-llm/api/schemas"
	"github.com/KASPER94/browser-use-llm/internal/config"
	"github.com/KASPER94/browser-use-llm/internal/llmclient"
	"github.com/KASPER94/browser-use-llm/internal/metrics"
	"github.com/KASPER94/browser-use-llm/internal/store"
)

// InitializeLLMClient creates the tier router used by the planning service.
func InitializeLLMClient(ctx context.Context, cfg config.AgentConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	llmClient, err := llmclient.NewClient(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize LLM client. The agent cannot plan without it.", zap.Error(err))
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}
	return llmClient, nil
}

// InitializeGrounder builds the vision grounder when the player's vision
// fallback is on and a provider is configured. A nil grounder with a nil
// error means the cascade simply ends one step earlier. A remote provider
// without an API key is treated as unconfigured.
func InitializeGrounder(ctx context.Context, cfg config.Interface, logger *zap.Logger, m *metrics.Collector) (schemas.Grounder, error) {
	if !cfg.Player().VisionFallback {
		logger.Debug("Vision fallback disabled.")
		return nil, nil
	}
	if v := cfg.Vision(); v.Provider == config.ProviderGemini && v.APIKey == "" {
		logger.Warn("Vision fallback is on but no vision API key is set (BROWSERUSE_VLM_API_KEY); continuing without it.")
		return nil, nil
	}
	g, err := llmclient.NewGrounder(ctx, cfg.Vision(), logger, m)
	if err != nil {
		return nil, err
	}
	if g == nil {
		logger.Info("No vision provider configured; element resolution will not use screenshots.")
		return nil, nil
	}
	return g, nil
}

// InitializeWorkflowStore opens the configured workflow store. Commands that
// only manage workflows use this without launching a browser.
func InitializeWorkflowStore(ctx context.Context, cfg config.Interface, logger *zap.Logger) (schemas.WorkflowStore, error) {
	ws, err := store.OpenWorkflowStore(ctx, cfg.Storage(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open workflow store: %w", err)
	}
	return ws, nil
}
