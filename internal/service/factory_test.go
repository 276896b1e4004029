package service

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/KASPER94/browser-use-llm/api/schemas"
	"github.com/KASPER94/browser-use-llm/internal/config"
	"github.com/KASPER94/browser-use-llm/internal/mocks"
)

func fakeLauncher(page schemas.RecordingSurface, err error, launches *int) BrowserLauncher {
	return func(context.Context, config.Interface, *zap.Logger) (schemas.RecordingSurface, error) {
		if launches != nil {
			*launches++
		}
		if err != nil {
			return nil, err
		}
		return page, nil
	}
}

func TestCreate_StoreOnly(t *testing.T) {
	launches := 0
	f := NewComponentFactory(WithBrowserLauncher(fakeLauncher(shopPage(), nil, &launches)))

	c, err := f.Create(context.Background(), testConfig(t), 0, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer c.Shutdown()

	assert.NotNil(t, c.Workflows)
	assert.NotNil(t, c.Metrics)
	assert.Nil(t, c.Browser)
	assert.Nil(t, c.Recorder)
	assert.Nil(t, c.Agent)
	assert.Zero(t, launches)
}

func TestCreate_Browser(t *testing.T) {
	log := &closeLog{}
	page := &closingPage{FakePage: shopPage(), log: log}
	reg := prometheus.NewRegistry()
	f := NewComponentFactory(WithBrowserLauncher(fakeLauncher(page, nil, nil)), WithRegistry(reg))

	c, err := f.Create(context.Background(), testConfig(t), NeedBrowser, zaptest.NewLogger(t))
	require.NoError(t, err)

	assert.Same(t, reg, c.Registry)
	assert.NotNil(t, c.Recorder)
	assert.NotNil(t, c.Player)
	assert.Nil(t, c.Grounder, "vision fallback is off")
	assert.Nil(t, c.Agent)
	assert.Nil(t, c.LLM)

	c.Shutdown()
	assert.Equal(t, []string{"browser"}, log.names())
}

func TestCreate_Agent(t *testing.T) {
	llm := new(mocks.MockLLMClient)
	llm.On("Close").Return(nil).Once()
	f := NewComponentFactory(
		WithBrowserLauncher(fakeLauncher(shopPage(), nil, nil)),
		WithLLMFactory(func(context.Context, config.AgentConfig, *zap.Logger) (schemas.LLMClient, error) { return llm, nil }),
	)

	c, err := f.Create(context.Background(), testConfig(t), NeedAgent, zaptest.NewLogger(t))
	require.NoError(t, err)

	assert.NotNil(t, c.Recorder, "agent implies browser")
	assert.NotNil(t, c.Agent)
	assert.NotNil(t, c.Checkpoints)
	assert.Same(t, llm, c.LLM)

	c.Shutdown()
	llm.AssertExpectations(t)
}

func TestCreate_VisionWithoutProvider(t *testing.T) {
	cfg := testConfig(t)
	cfg.PlayerCfg.VisionFallback = true
	cfg.VisionCfg.Provider = config.ProviderNone
	f := NewComponentFactory(WithBrowserLauncher(fakeLauncher(shopPage(), nil, nil)))

	c, err := f.Create(context.Background(), cfg, NeedBrowser, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer c.Shutdown()
	assert.Nil(t, c.Grounder)
}

func TestCreate_VisionWithoutKey(t *testing.T) {
	cfg := testConfig(t)
	cfg.PlayerCfg.VisionFallback = true
	cfg.VisionCfg.Provider = config.ProviderGemini
	cfg.VisionCfg.APIKey = ""
	f := NewComponentFactory(WithBrowserLauncher(fakeLauncher(shopPage(), nil, nil)))

	c, err := f.Create(context.Background(), cfg, NeedBrowser, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer c.Shutdown()
	assert.Nil(t, c.Grounder)
	assert.NotNil(t, c.Player)
}

func TestCreate_Failures(t *testing.T) {
	t.Run("BrowserLaunch", func(t *testing.T) {
		f := NewComponentFactory(WithBrowserLauncher(fakeLauncher(nil, errors.New("no chrome"), nil)))
		c, err := f.Create(context.Background(), testConfig(t), NeedBrowser, zaptest.NewLogger(t))
		assert.Nil(t, c)
		assert.ErrorContains(t, err, "failed to launch browser: no chrome")
	})

	t.Run("LLMClosesBrowser", func(t *testing.T) {
		log := &closeLog{}
		page := &closingPage{FakePage: shopPage(), log: log}
		f := NewComponentFactory(
			WithBrowserLauncher(fakeLauncher(page, nil, nil)),
			WithLLMFactory(func(context.Context, config.AgentConfig, *zap.Logger) (schemas.LLMClient, error) {
				return nil, errors.New("no api key")
			}),
		)
		c, err := f.Create(context.Background(), testConfig(t), NeedAgent, zaptest.NewLogger(t))
		assert.Nil(t, c)
		assert.ErrorContains(t, err, "no api key")
		assert.Equal(t, []string{"browser"}, log.names(), "partially built components are shut down")
	})

	t.Run("UnsupportedStorage", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.StorageCfg.Backend = "s3"
		f := NewComponentFactory(WithBrowserLauncher(fakeLauncher(shopPage(), nil, nil)))
		_, err := f.Create(context.Background(), cfg, NeedBrowser, zaptest.NewLogger(t))
		assert.ErrorContains(t, err, "unsupported storage backend")
	})

	t.Run("UnsupportedCheckpoints", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.StorageCfg.CheckpointBackend = "etcd"
		llm := new(mocks.MockLLMClient)
		f := NewComponentFactory(
			WithBrowserLauncher(fakeLauncher(shopPage(), nil, nil)),
			WithLLMFactory(func(context.Context, config.AgentConfig, *zap.Logger) (schemas.LLMClient, error) { return llm, nil }),
		)
		_, err := f.Create(context.Background(), cfg, NeedAgent, zaptest.NewLogger(t))
		assert.ErrorContains(t, err, "unsupported checkpoint backend")
		llm.AssertNotCalled(t, "Close")
	})
}

func TestInitializeLLMClient_ConfigError(t *testing.T) {
	_, err := InitializeLLMClient(context.Background(), config.AgentConfig{}, zap.NewNop())
	assert.ErrorContains(t, err, "DefaultFastModel is not specified")
}
