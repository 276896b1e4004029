// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Browser() BrowserConfig
	Network() NetworkConfig
	Player() PlayerConfig
	Recorder() RecorderConfig
	Agent() AgentConfig
	Storage() StorageConfig
	Server() ServerConfig
	Vision() VisionConfig

	// Browser Setters
	SetBrowserHeadless(bool)

	// Player Setters
	SetPlayerVisionFallback(bool)

	// Storage Setters
	SetStorageDir(string)
}

// Config holds the entire application configuration. Sections are exported so
// viper can populate them; callers should go through Interface.
type Config struct {
	LoggerCfg   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	BrowserCfg  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	NetworkCfg  NetworkConfig  `mapstructure:"network" yaml:"network"`
	PlayerCfg   PlayerConfig   `mapstructure:"player" yaml:"player"`
	RecorderCfg RecorderConfig `mapstructure:"recorder" yaml:"recorder"`
	AgentCfg    AgentConfig    `mapstructure:"agent" yaml:"agent"`
	StorageCfg  StorageConfig  `mapstructure:"storage" yaml:"storage"`
	ServerCfg   ServerConfig   `mapstructure:"server" yaml:"server"`
	VisionCfg   VisionConfig   `mapstructure:"vision" yaml:"vision"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig     { return c.LoggerCfg }
func (c *Config) Browser() BrowserConfig   { return c.BrowserCfg }
func (c *Config) Network() NetworkConfig   { return c.NetworkCfg }
func (c *Config) Player() PlayerConfig     { return c.PlayerCfg }
func (c *Config) Recorder() RecorderConfig { return c.RecorderCfg }
func (c *Config) Agent() AgentConfig       { return c.AgentCfg }
func (c *Config) Storage() StorageConfig   { return c.StorageCfg }
func (c *Config) Server() ServerConfig     { return c.ServerCfg }
func (c *Config) Vision() VisionConfig     { return c.VisionCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetBrowserHeadless(b bool)      { c.BrowserCfg.Headless = b }
func (c *Config) SetPlayerVisionFallback(b bool) { c.PlayerCfg.VisionFallback = b }
func (c *Config) SetStorageDir(dir string)       { c.StorageCfg.Dir = dir }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig configures the Chrome instance the session drives.
type BrowserConfig struct {
	Headless        bool           `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors bool           `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	ExecPath        string         `mapstructure:"exec_path" yaml:"exec_path"`
	RemoteURL       string         `mapstructure:"remote_url" yaml:"remote_url"` // Attach to an existing DevTools endpoint instead of launching.
	UserAgent       string         `mapstructure:"user_agent" yaml:"user_agent"`
	Debug           bool           `mapstructure:"debug" yaml:"debug"`
	Args            []string       `mapstructure:"args" yaml:"args"`
	Viewport        map[string]int `mapstructure:"viewport" yaml:"viewport"`
}

// NetworkConfig bounds the waits performed around page loads.
type NetworkConfig struct {
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	QuiescenceTimeout time.Duration `mapstructure:"quiescence_timeout" yaml:"quiescence_timeout"`
	QuietPeriod       time.Duration `mapstructure:"quiet_period" yaml:"quiet_period"`
}

// PlayerConfig tunes workflow replay.
type PlayerConfig struct {
	ActionTimeout      time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
	ActionDelay        time.Duration `mapstructure:"action_delay" yaml:"action_delay"`
	MaxFailures        int           `mapstructure:"max_failures" yaml:"max_failures"`
	SmartLinkThreshold int           `mapstructure:"smart_link_threshold" yaml:"smart_link_threshold"`
	TextPrefixLength   int           `mapstructure:"text_prefix_length" yaml:"text_prefix_length"`
	VisionFallback     bool          `mapstructure:"vision_fallback" yaml:"vision_fallback"`
}

// RecorderConfig tunes what the page-side capture records.
type RecorderConfig struct {
	ClickTextLimit     int  `mapstructure:"click_text_limit" yaml:"click_text_limit"`
	ContextTextLimit   int  `mapstructure:"context_text_limit" yaml:"context_text_limit"`
	ClassSelectorLimit int  `mapstructure:"class_selector_limit" yaml:"class_selector_limit"`
	MaxPathDepth       int  `mapstructure:"max_path_depth" yaml:"max_path_depth"`
	CaptureScroll      bool `mapstructure:"capture_scroll" yaml:"capture_scroll"`
}

// ValidationPolicy decides what a degraded validation lookup means.
type ValidationPolicy string

const (
	// FailOpen treats an unreachable validation service as "task complete".
	FailOpen ValidationPolicy = "fail_open"
	// FailClosed treats it as "keep going".
	FailClosed ValidationPolicy = "fail_closed"
)

// AgentConfig tunes the plan/execute/validate loop.
type AgentConfig struct {
	MaxActionsPerTurn       int              `mapstructure:"max_actions_per_turn" yaml:"max_actions_per_turn"`
	ReplanInterval          int              `mapstructure:"replan_interval" yaml:"replan_interval"`
	ValidateInterval        int              `mapstructure:"validate_interval" yaml:"validate_interval"`
	HistoryWindow           int              `mapstructure:"history_window" yaml:"history_window"`
	CheckpointHistory       int              `mapstructure:"checkpoint_history" yaml:"checkpoint_history"`
	LoopThreshold           int              `mapstructure:"loop_threshold" yaml:"loop_threshold"`
	IterationWarning        int              `mapstructure:"iteration_warning" yaml:"iteration_warning"`
	ValidationFailurePolicy ValidationPolicy `mapstructure:"validation_failure_policy" yaml:"validation_failure_policy"`
	StructuredActions       bool             `mapstructure:"structured_actions" yaml:"structured_actions"`
	ActionDelay             time.Duration    `mapstructure:"action_delay" yaml:"action_delay"`
	PageSummaryLimit        int              `mapstructure:"page_summary_limit" yaml:"page_summary_limit"`
	LLM                     LLMRouterConfig  `mapstructure:"llm" yaml:"llm"`
}

// LLMProvider defines the supported LLM providers.
type LLMProvider string

const (
	ProviderGemini LLMProvider = "gemini"
	ProviderOpenAI LLMProvider = "openai"
	ProviderNone   LLMProvider = "none"
)

// LLMRouterConfig configures the model routing logic.
type LLMRouterConfig struct {
	DefaultFastModel     string                    `mapstructure:"default_fast_model" yaml:"default_fast_model"`
	DefaultPowerfulModel string                    `mapstructure:"default_powerful_model" yaml:"default_powerful_model"`
	Models               map[string]LLMModelConfig `mapstructure:"models" yaml:"models"`
	// RequestsPerMinute caps calls across both tiers. Zero means no cap.
	RequestsPerMinute int `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
}

// LLMModelConfig defines the configuration for a single LLM.
type LLMModelConfig struct {
	Provider    LLMProvider   `mapstructure:"provider" yaml:"provider"`
	Model       string        `mapstructure:"model" yaml:"model"`
	APIKey      string        `mapstructure:"api_key" yaml:"api_key"`
	Endpoint    string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout  time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature float32       `mapstructure:"temperature" yaml:"temperature"`
	TopP        float32       `mapstructure:"top_p" yaml:"top_p"`
	TopK        int           `mapstructure:"top_k" yaml:"top_k"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// StorageBackend selects where workflows live.
type StorageBackend string

const (
	StorageFile     StorageBackend = "file"
	StoragePostgres StorageBackend = "postgres"
)

// StorageConfig configures workflow and checkpoint persistence.
type StorageConfig struct {
	Backend           StorageBackend `mapstructure:"backend" yaml:"backend"`
	Dir               string         `mapstructure:"dir" yaml:"dir"`
	DatabaseURL       string         `mapstructure:"database_url" yaml:"database_url"`
	CheckpointBackend string         `mapstructure:"checkpoint_backend" yaml:"checkpoint_backend"` // "memory" or "redis"
	RedisAddr         string         `mapstructure:"redis_addr" yaml:"redis_addr"`
	RedisPassword     string         `mapstructure:"redis_password" yaml:"redis_password"`
	RedisDB           int            `mapstructure:"redis_db" yaml:"redis_db"`
	CheckpointTTL     time.Duration  `mapstructure:"checkpoint_ttl" yaml:"checkpoint_ttl"`
}

// ServerConfig configures the `serve` command.
type ServerConfig struct {
	ListenAddr     string   `mapstructure:"listen_addr" yaml:"listen_addr"`
	MetricsPath    string   `mapstructure:"metrics_path" yaml:"metrics_path"`
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

// VisionConfig configures the grounding model used as the last cascade step.
type VisionConfig struct {
	Provider LLMProvider   `mapstructure:"provider" yaml:"provider"`
	Model    string        `mapstructure:"model" yaml:"model"`
	Endpoint string        `mapstructure:"endpoint" yaml:"endpoint"`
	APIKey   string        `mapstructure:"api_key" yaml:"api_key"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "browser-use-llm")
	v.SetDefault("logger.log_file", "browser-use-llm.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.debug", false)
	v.SetDefault("browser.viewport", map[string]int{"width": 1280, "height": 800})

	// -- Network --
	v.SetDefault("network.navigation_timeout", "30s")
	v.SetDefault("network.quiescence_timeout", "5s")
	v.SetDefault("network.quiet_period", "500ms")

	// -- Player --
	v.SetDefault("player.action_timeout", "5s")
	v.SetDefault("player.action_delay", "500ms")
	v.SetDefault("player.max_failures", 3)
	v.SetDefault("player.smart_link_threshold", 50)
	v.SetDefault("player.text_prefix_length", 30)
	v.SetDefault("player.vision_fallback", true)

	// -- Recorder --
	v.SetDefault("recorder.click_text_limit", 50)
	v.SetDefault("recorder.context_text_limit", 100)
	v.SetDefault("recorder.class_selector_limit", 50)
	v.SetDefault("recorder.max_path_depth", 4)
	v.SetDefault("recorder.capture_scroll", true)

	// -- Agent --
	v.SetDefault("agent.max_actions_per_turn", 10)
	v.SetDefault("agent.replan_interval", 5)
	v.SetDefault("agent.validate_interval", 3)
	v.SetDefault("agent.history_window", 10)
	v.SetDefault("agent.checkpoint_history", 5)
	v.SetDefault("agent.loop_threshold", 3)
	v.SetDefault("agent.iteration_warning", 10)
	v.SetDefault("agent.validation_failure_policy", string(FailOpen))
	v.SetDefault("agent.structured_actions", true)
	v.SetDefault("agent.action_delay", "500ms")
	v.SetDefault("agent.page_summary_limit", 4000)
	v.SetDefault("agent.llm.default_fast_model", "gemini-2.5-flash")
	v.SetDefault("agent.llm.default_powerful_model", "gemini-2.5-pro")
	v.SetDefault("agent.llm.requests_per_minute", 0)
	v.SetDefault("agent.llm.models", map[string]interface{}{
		"gemini-2.5-flash": map[string]interface{}{
			"provider": "gemini", "model": "gemini-2.5-flash", "api_timeout": "60s", "temperature": 0.3,
		},
		"gemini-2.5-pro": map[string]interface{}{
			"provider": "gemini", "model": "gemini-2.5-pro", "api_timeout": "120s", "temperature": 0.3,
		},
	})

	// -- Storage --
	v.SetDefault("storage.backend", string(StorageFile))
	v.SetDefault("storage.dir", "~/.browser-use-llm/workflows")
	v.SetDefault("storage.checkpoint_backend", "memory")
	v.SetDefault("storage.redis_addr", "localhost:6379")
	v.SetDefault("storage.redis_db", 0)
	v.SetDefault("storage.checkpoint_ttl", "24h")

	// -- Server --
	v.SetDefault("server.listen_addr", "127.0.0.1:8765")
	v.SetDefault("server.metrics_path", "/metrics")

	// -- Vision --
	v.SetDefault("vision.provider", string(ProviderGemini))
	v.SetDefault("vision.model", "gemini-2.5-flash")
	v.SetDefault("vision.timeout", "30s")
}

// NewConfigFromViper unmarshals and validates a configuration, binding the
// secrets that should only ever come from the environment.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	v.BindEnv("vision.api_key", "BROWSERUSE_VLM_API_KEY")
	v.BindEnv("storage.database_url", "BROWSERUSE_DATABASE_URL")
	v.BindEnv("storage.redis_password", "BROWSERUSE_REDIS_PASSWORD")
	v.BindEnv("gemini_api_key", "BROWSERUSE_GEMINI_API_KEY")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// A single Gemini key fills every Gemini model (and the Gemini grounder)
	// that doesn't carry its own.
	if key := v.GetString("gemini_api_key"); key != "" {
		for name, m := range cfg.AgentCfg.LLM.Models {
			if m.Provider == ProviderGemini && m.APIKey == "" {
				m.APIKey = key
				cfg.AgentCfg.LLM.Models[name] = m
			}
		}
		if cfg.VisionCfg.Provider == ProviderGemini && cfg.VisionCfg.APIKey == "" {
			cfg.VisionCfg.APIKey = key
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.NetworkCfg.NavigationTimeout <= 0 {
		return fmt.Errorf("network.navigation_timeout must be positive")
	}
	if err := c.PlayerCfg.Validate(); err != nil {
		return fmt.Errorf("player configuration invalid: %w", err)
	}
	if err := c.RecorderCfg.Validate(); err != nil {
		return fmt.Errorf("recorder configuration invalid: %w", err)
	}
	if err := c.AgentCfg.Validate(); err != nil {
		return fmt.Errorf("agent configuration invalid: %w", err)
	}
	if err := c.StorageCfg.Validate(); err != nil {
		return fmt.Errorf("storage configuration invalid: %w", err)
	}
	switch c.VisionCfg.Provider {
	case ProviderGemini, ProviderOpenAI, ProviderNone, "":
	default:
		return fmt.Errorf("vision.provider %q is not supported", c.VisionCfg.Provider)
	}
	return nil
}

// Validate checks the player settings.
func (p *PlayerConfig) Validate() error {
	if p.MaxFailures <= 0 {
		return fmt.Errorf("max_failures must be a positive integer")
	}
	if p.ActionTimeout <= 0 {
		return fmt.Errorf("action_timeout must be positive")
	}
	if p.SmartLinkThreshold < 0 {
		return fmt.Errorf("smart_link_threshold must not be negative")
	}
	return nil
}

// Validate checks the recorder settings.
func (r *RecorderConfig) Validate() error {
	if r.ClassSelectorLimit <= 0 || r.ClickTextLimit <= 0 {
		return fmt.Errorf("click_text_limit and class_selector_limit must be positive")
	}
	if r.MaxPathDepth < 1 {
		return fmt.Errorf("max_path_depth must be at least 1")
	}
	return nil
}

// Validate checks the agent loop settings.
func (a *AgentConfig) Validate() error {
	if a.MaxActionsPerTurn <= 0 {
		return fmt.Errorf("max_actions_per_turn must be a positive integer")
	}
	if a.ReplanInterval <= 0 || a.ValidateInterval <= 0 {
		return fmt.Errorf("replan_interval and validate_interval must be positive")
	}
	if a.LoopThreshold < 2 {
		return fmt.Errorf("loop_threshold must be at least 2")
	}
	switch a.ValidationFailurePolicy {
	case FailOpen, FailClosed:
	default:
		return fmt.Errorf("validation_failure_policy must be %q or %q", FailOpen, FailClosed)
	}
	return nil
}

// Validate checks the storage settings.
func (s *StorageConfig) Validate() error {
	switch s.Backend {
	case StorageFile:
		if s.Dir == "" {
			return fmt.Errorf("storage.dir is required for the file backend")
		}
	case StoragePostgres:
		if s.DatabaseURL == "" {
			return fmt.Errorf("storage.database_url is required for the postgres backend. Ensure BROWSERUSE_DATABASE_URL is set")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", s.Backend)
	}
	switch s.CheckpointBackend {
	case "memory", "":
	case "redis":
		if s.RedisAddr == "" {
			return fmt.Errorf("storage.redis_addr is required for redis checkpoints")
		}
	default:
		return fmt.Errorf("unknown checkpoint backend %q", s.CheckpointBackend)
	}
	return nil
}
