// File: internal/service/factory.go
package service

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/KASPER94/browser-use-llm/api/schemas"
	"github.com/KASPER94/browser-use-llm/internal/agent"
	"github.com/KASPER94/browser-use-llm/internal/browser/session"
	"github.com/KASPER94/browser-use-llm/internal/config"
	"github.com/KASPER94/browser-use-llm/internal/llmclient"
	"github.com/KASPER94/browser-use-llm/internal/metrics"
	"github.com/KASPER94/browser-use-llm/internal/player"
	"github.com/KASPER94/browser-use-llm/internal/recorder"
	"github.com/KASPER94/browser-use-llm/internal/store"
)

// Needs selects which components Create builds.
type Needs uint8

const (
	// NeedBrowser launches a browser and builds the recorder and player.
	NeedBrowser Needs = 1 << iota
	// NeedAgent additionally builds the LLM client, checkpoint store and
	// agent. It implies NeedBrowser.
	NeedAgent
)

// ComponentFactory creates the set of components a command needs. The
// workflow store is always opened.
type ComponentFactory interface {
	Create(ctx context.Context, cfg config.Interface, needs Needs, logger *zap.Logger) (*Components, error)
}

// BrowserLauncher starts the browser a session drives.
type BrowserLauncher func(ctx context.Context, cfg config.Interface, logger *zap.Logger) (schemas.RecordingSurface, error)

// LLMFactory builds the planning model client.
type LLMFactory func(ctx context.Context, cfg config.AgentConfig, logger *zap.Logger) (schemas.LLMClient, error)

// concreteFactory is the production implementation of the ComponentFactory.
type concreteFactory struct {
	launch   BrowserLauncher
	newLLM   LLMFactory
	registry *prometheus.Registry
}

// FactoryOption customizes the factory.
type FactoryOption func(*concreteFactory)

// WithBrowserLauncher replaces the chromedp launcher.
func WithBrowserLauncher(l BrowserLauncher) FactoryOption {
	return func(f *concreteFactory) { f.launch = l }
}

// WithLLMFactory replaces the provider-backed LLM client.
func WithLLMFactory(fn LLMFactory) FactoryOption {
	return func(f *concreteFactory) { f.newLLM = fn }
}

// WithRegistry registers metrics on reg instead of a fresh registry.
func WithRegistry(reg *prometheus.Registry) FactoryOption {
	return func(f *concreteFactory) { f.registry = reg }
}

// NewComponentFactory creates a new production-ready component factory.
func NewComponentFactory(opts ...FactoryOption) ComponentFactory {
	f := &concreteFactory{
		launch: func(ctx context.Context, cfg config.Interface, logger *zap.Logger) (schemas.RecordingSurface, error) {
			s, err := session.Launch(ctx, cfg, logger)
			if err != nil {
				return nil, err
			}
			return s, nil
		},
		newLLM: InitializeLLMClient,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Create handles dependency injection for the requested components.
func (f *concreteFactory) Create(ctx context.Context, cfg config.Interface, needs Needs, logger *zap.Logger) (*Components, error) {
	if needs&NeedAgent != 0 {
		needs |= NeedBrowser
	}

	reg := f.registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := metrics.NewCollector(reg, logger)
	components := &Components{Registry: reg, Metrics: m, logger: logger}

	// Clean up whatever was built if a later step fails.
	var initializationErr error
	defer func() {
		if initializationErr != nil {
			logger.Warn("Initialization failed, shutting down partially created components.", zap.Error(initializationErr))
			components.Shutdown()
		}
	}()

	// 1. Workflow store
	ws, err := InitializeWorkflowStore(ctx, cfg, logger)
	if err != nil {
		initializationErr = err
		return nil, initializationErr
	}
	components.Workflows = ws
	logger.Debug("Workflow store initialized.", zap.String("backend", string(cfg.Storage().Backend)))

	if needs&NeedBrowser == 0 {
		return components, nil
	}

	// 2. Browser. It lives until Shutdown, not until ctx is cancelled, so an
	// interrupted recording can still be read back and saved.
	browser, err := f.launch(session.Detach(ctx), cfg, logger)
	if err != nil {
		initializationErr = fmt.Errorf("failed to launch browser: %w", err)
		return nil, initializationErr
	}
	components.Browser = browser
	logger.Debug("Browser session started.")

	// 3. Vision grounder (optional)
	grounder, err := InitializeGrounder(ctx, cfg, logger, m)
	if err != nil {
		initializationErr = fmt.Errorf("failed to initialize vision grounder: %w", err)
		return nil, initializationErr
	}
	components.Grounder = grounder

	// 4. Recorder and player
	components.Recorder = recorder.New(browser, cfg.Recorder(), logger, m)
	components.Player = player.New(browser, grounder, cfg, logger, m)
	logger.Debug("Recorder and player initialized.")

	if needs&NeedAgent == 0 {
		logger.Info("Session components initialized.")
		return components, nil
	}

	// 5. Checkpoints
	checkpoints, err := store.OpenCheckpointStore(ctx, cfg.Storage(), logger)
	if err != nil {
		initializationErr = fmt.Errorf("failed to open checkpoint store: %w", err)
		return nil, initializationErr
	}
	components.Checkpoints = checkpoints

	// 6. LLM and planner
	llm, err := f.newLLM(ctx, cfg.Agent(), logger)
	if err != nil {
		initializationErr = err
		return nil, initializationErr
	}
	components.LLM = llm
	planner := llmclient.NewPlanningService(llm, logger, m)

	// 7. Agent
	opts := []agent.Option{agent.WithCheckpointStore(checkpoints), agent.WithMetrics(m)}
	if grounder != nil {
		opts = append(opts, agent.WithGrounder(grounder))
	}
	components.Agent = agent.New(browser, planner, cfg, logger, opts...)

	logger.Info("All agent components initialized successfully.")
	return components, nil
}
