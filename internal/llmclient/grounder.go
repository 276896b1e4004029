package llmclient

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/KASPER94/browser-use-llm/api/schemas"
	"github.com/KASPER94/browser-use-llm/internal/config"
	"github.com/KASPER94/browser-use-llm/internal/llmutil"
	"github.com/KASPER94/browser-use-llm/internal/metrics"
)

const (
	groundingMaxTokens   = 300
	groundingTemperature = 0.1
)

// Grounder asks a vision model where an element is on a screenshot.
type Grounder struct {
	client  schemas.LLMClient
	logger  *zap.Logger
	metrics *metrics.Collector
}

var _ schemas.Grounder = (*Grounder)(nil)

// NewVisionGrounder wraps any LLM client that accepts images. m may be nil.
func NewVisionGrounder(client schemas.LLMClient, logger *zap.Logger, m *metrics.Collector) *Grounder {
	return &Grounder{client: client, logger: logger.Named("grounder"), metrics: m}
}

// NewGrounder builds the grounder named by cfg. It returns nil, nil when
// vision is disabled.
func NewGrounder(ctx context.Context, cfg config.VisionConfig, logger *zap.Logger, m *metrics.Collector) (*Grounder, error) {
	modelCfg := config.LLMModelConfig{
		Provider:   cfg.Provider,
		Model:      cfg.Model,
		APIKey:     cfg.APIKey,
		Endpoint:   cfg.Endpoint,
		APITimeout: cfg.Timeout,
		MaxTokens:  groundingMaxTokens,
	}

	var client schemas.LLMClient
	var err error
	switch cfg.Provider {
	case config.ProviderNone, "":
		return nil, nil
	case config.ProviderGemini:
		client, err = NewGeminiClient(ctx, modelCfg, logger)
	case config.ProviderOpenAI:
		client, err = NewOpenAIClient(modelCfg, logger)
	default:
		return nil, fmt.Errorf("unsupported vision provider: %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create vision client: %w", err)
	}
	return NewVisionGrounder(client, logger, m), nil
}

type locateAnswer struct {
	X     *float64 `json:"x"`
	Y     *float64 `json:"y"`
	Error string   `json:"error"`
}

// Locate returns the center of the described element in screenshot pixels.
func (g *Grounder) Locate(ctx context.Context, screenshot []byte, description string) (schemas.Point, bool, error) {
	start := time.Now()
	raw, err := g.ask(ctx, screenshot, fmt.Sprintf(locatePrompt, description), true)
	if err != nil {
		g.metrics.RecordLLMRequest("locate", err, time.Since(start))
		return schemas.Point{}, false, fmt.Errorf("%w: vision locate: %v", schemas.ErrServiceUnavailable, err)
	}

	ans, err := llmutil.ParseJSONResponse[locateAnswer](raw)
	g.metrics.RecordLLMRequest("locate", err, time.Since(start))
	if err != nil {
		return schemas.Point{}, false, fmt.Errorf("%w: vision locate returned unusable output: %v", schemas.ErrServiceUnavailable, err)
	}
	if ans.Error != "" || ans.X == nil || ans.Y == nil {
		g.logger.Info("Vision model could not find element.", zap.String("description", description), zap.String("reason", ans.Error))
		return schemas.Point{}, false, nil
	}

	p := schemas.Point{X: *ans.X, Y: *ans.Y}
	g.logger.Debug("Vision model located element.", zap.String("description", description), zap.Float64("x", p.X), zap.Float64("y", p.Y))
	return p, true, nil
}

// Verify asks a yes/no question about the screenshot. Service trouble is
// reported as satisfied so a flaky model never blocks a replay.
func (g *Grounder) Verify(ctx context.Context, screenshot []byte, expectation string) (bool, error) {
	start := time.Now()
	raw, err := g.ask(ctx, screenshot, fmt.Sprintf(verifyPrompt, expectation), false)
	g.metrics.RecordLLMRequest("verify", err, time.Since(start))
	if err != nil {
		g.logger.Warn("Vision verification failed, assuming satisfied.", zap.Error(err))
		return true, nil
	}
	return strings.Contains(strings.ToUpper(raw), "YES"), nil
}

// Close releases the underlying client.
func (g *Grounder) Close() error { return g.client.Close() }

func (g *Grounder) ask(ctx context.Context, screenshot []byte, prompt string, forceJSON bool) (string, error) {
	return g.client.Generate(ctx, schemas.GenerationRequest{
		UserPrompt: prompt,
		Images:     []schemas.ImagePart{{MIMEType: "image/png", Data: screenshot}},
		Tier:       schemas.TierFast,
		Options: schemas.GenerationOptions{
			Temperature:     groundingTemperature,
			ForceJSONFormat: forceJSON,
			MaxTokens:       groundingMaxTokens,
		},
	})
}
