// File: internal/config/config_test.go
package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Constructor and Defaults Tests --

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	// Verify a few key defaults to ensure the mechanism works.
	assert.Equal(t, "info", cfg.Logger().Level)
	assert.True(t, cfg.Browser().Headless)
	assert.Equal(t, 30*time.Second, cfg.Network().NavigationTimeout)
	assert.Equal(t, 5*time.Second, cfg.Network().QuiescenceTimeout)
	assert.Equal(t, 5*time.Second, cfg.Player().ActionTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.Player().ActionDelay)
	assert.Equal(t, 3, cfg.Player().MaxFailures)
	assert.Equal(t, 50, cfg.Player().SmartLinkThreshold)
	assert.Equal(t, 30, cfg.Player().TextPrefixLength)
	assert.Equal(t, 50, cfg.Recorder().ClickTextLimit)
	assert.Equal(t, 4, cfg.Recorder().MaxPathDepth)
	assert.Equal(t, 10, cfg.Agent().MaxActionsPerTurn)
	assert.Equal(t, 5, cfg.Agent().ReplanInterval)
	assert.Equal(t, 3, cfg.Agent().ValidateInterval)
	assert.Equal(t, FailOpen, cfg.Agent().ValidationFailurePolicy)
	assert.Equal(t, "gemini-2.5-pro", cfg.Agent().LLM.DefaultPowerfulModel)
	assert.Equal(t, StorageFile, cfg.Storage().Backend)
	assert.Equal(t, 24*time.Hour, cfg.Storage().CheckpointTTL)
	assert.Equal(t, "127.0.0.1:8765", cfg.Server().ListenAddr)

	require.Contains(t, cfg.Agent().LLM.Models, "gemini-2.5-flash")
	flash := cfg.Agent().LLM.Models["gemini-2.5-flash"]
	assert.Equal(t, ProviderGemini, flash.Provider)
	assert.Equal(t, 60*time.Second, flash.APITimeout)

	assert.NoError(t, cfg.Validate(), "defaults must validate")
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	t.Run("Core Validation", func(t *testing.T) {
		cfg := NewDefaultConfig()
		assert.NoError(t, cfg.Validate())

		cfgInvalidNav := *cfg
		cfgInvalidNav.NetworkCfg.NavigationTimeout = 0
		err := cfgInvalidNav.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "network.navigation_timeout must be positive")

		cfgInvalidVision := *cfg
		cfgInvalidVision.VisionCfg.Provider = "anthropic"
		assert.Error(t, cfgInvalidVision.Validate())
	})

	t.Run("Player Validation", func(t *testing.T) {
		valid := NewDefaultConfig().PlayerCfg
		assert.NoError(t, valid.Validate())

		noFailures := valid
		noFailures.MaxFailures = 0
		err := noFailures.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "max_failures must be a positive integer")

		negative := valid
		negative.SmartLinkThreshold = -1
		assert.Error(t, negative.Validate())
	})

	t.Run("Agent Validation", func(t *testing.T) {
		valid := NewDefaultConfig().AgentCfg
		assert.NoError(t, valid.Validate())

		closed := valid
		closed.ValidationFailurePolicy = FailClosed
		assert.NoError(t, closed.Validate())

		bogus := valid
		bogus.ValidationFailurePolicy = "maybe"
		err := bogus.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "validation_failure_policy")

		tiny := valid
		tiny.LoopThreshold = 1
		assert.Error(t, tiny.Validate())
	})

	t.Run("Storage Validation", func(t *testing.T) {
		pg := StorageConfig{Backend: StoragePostgres}
		err := pg.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "BROWSERUSE_DATABASE_URL")

		pg.DatabaseURL = "postgres://localhost/wf"
		assert.NoError(t, pg.Validate())

		pg.CheckpointBackend = "etcd"
		assert.Error(t, pg.Validate())

		unknown := StorageConfig{Backend: "s3"}
		assert.Error(t, unknown.Validate())
	})
}

// -- Factory Function Tests --

func TestNewConfigFromViper(t *testing.T) {
	t.Run("Successful Load from YAML", func(t *testing.T) {
		yamlBytes := []byte(`
player:
  max_failures: 5
  vision_fallback: false
agent:
  validation_failure_policy: fail_closed
`)
		v := viper.New()
		SetDefaults(v)
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlBytes)))

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, 5, cfg.Player().MaxFailures)
		assert.False(t, cfg.Player().VisionFallback)
		assert.Equal(t, FailClosed, cfg.Agent().ValidationFailurePolicy)
		// Check a default value was also loaded
		assert.Equal(t, "info", cfg.Logger().Level)
	})

	t.Run("Validation Failure", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("agent.max_actions_per_turn", 0) // Intentionally invalid

		cfg, err := NewConfigFromViper(v)
		assert.Error(t, err)
		assert.Nil(t, cfg)
		assert.Contains(t, err.Error(), "invalid configuration")
		assert.Contains(t, err.Error(), "max_actions_per_turn must be a positive integer")
	})

	t.Run("Environment Variable Binding", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("storage.backend", "postgres")

		yamlConfig := []byte(`
storage:
  database_url: "postgres://configfile/db"
`)
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlConfig)))

		t.Setenv("BROWSERUSE_DATABASE_URL", "postgres://envvar/db")
		t.Setenv("BROWSERUSE_GEMINI_API_KEY", "gemini-key")
		t.Setenv("BROWSERUSE_REDIS_PASSWORD", "hunter2")

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		require.NotNil(t, cfg)

		// The env var overrides the value from the config buffer.
		assert.Equal(t, "postgres://envvar/db", cfg.Storage().DatabaseURL)
		assert.Equal(t, "hunter2", cfg.Storage().RedisPassword)
		for name, m := range cfg.Agent().LLM.Models {
			assert.Equal(t, "gemini-key", m.APIKey, "model %s should inherit the shared key", name)
		}
		assert.Equal(t, "gemini-key", cfg.Vision().APIKey)
	})
}

// -- Struct and Mapping Tests --

func TestConfigStructureMapping(t *testing.T) {
	yamlInput := `
logger:
  level: debug
  log_file: /var/log/app.log
network:
  quiescence_timeout: 2s
agent:
  llm:
    models:
      local:
        provider: openai
        model: qwen2.5-vl
        endpoint: http://localhost:8000
server:
  allowed_origins: ["http://localhost:3000"]
`
	v := viper.New()
	SetDefaults(v)
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(bytes.NewBufferString(yamlInput)))

	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg))

	assert.Equal(t, "debug", cfg.Logger().Level)
	assert.Equal(t, "/var/log/app.log", cfg.Logger().LogFile)
	assert.Equal(t, 2*time.Second, cfg.Network().QuiescenceTimeout)
	require.Contains(t, cfg.Agent().LLM.Models, "local")
	assert.Equal(t, ProviderOpenAI, cfg.Agent().LLM.Models["local"].Provider)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.Server().AllowedOrigins)
}

func TestSetters(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.SetBrowserHeadless(false)
	cfg.SetPlayerVisionFallback(false)
	cfg.SetStorageDir("/tmp/wf")

	assert.False(t, cfg.Browser().Headless)
	assert.False(t, cfg.Player().VisionFallback)
	assert.Equal(t, "/tmp/wf", cfg.Storage().Dir)
}
