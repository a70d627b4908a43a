// Package config holds the process configuration. It is constructed once at
// startup and passed by reference; request-handling code never reads the
// environment on its own.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration.
type Config struct {
	Server     ServerConfig    `yaml:"server"`
	LLM        LLMConfig       `yaml:"llm"`
	Prompt     PromptConfig    `yaml:"prompt"`
	Loop       LoopConfig      `yaml:"loop"`
	RateLimits RateLimitConfig `yaml:"rate_limits"`
	Tools      ToolsConfig     `yaml:"tools"`
	Logging    LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	HTTPPort        int           `yaml:"http_port"`
	MetricsPort     int           `yaml:"metrics_port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LLMConfig struct {
	DefaultProvider string                    `yaml:"default_provider"`
	DefaultModel    string                    `yaml:"default_model"`
	Providers       map[string]ProviderConfig `yaml:"providers"`
}

type ProviderConfig struct {
	APIKey            string  `yaml:"api_key"`
	BaseURL           string  `yaml:"base_url"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

type PromptConfig struct {
	MaxTokens       int     `yaml:"max_tokens"`
	MaxHistoryItems int     `yaml:"max_history_items"`
	MaxChunks       int     `yaml:"max_chunks"`
	TrimRatio       float64 `yaml:"trim_ratio"`
}

type LoopConfig struct {
	MaxRoundTrips    int           `yaml:"max_round_trips"`
	MaxTokens        int           `yaml:"max_tokens"`
	ToolTimeout      time.Duration `yaml:"tool_timeout"`
	RetrievalTimeout time.Duration `yaml:"retrieval_timeout"`
	RetrievalLimit   int           `yaml:"retrieval_limit"`
}

type RateLimitConfig struct {
	// Window is the rolling usage window.
	Window time.Duration `yaml:"window"`

	// Default is the token limit per window applied to models without an
	// override. Zero disables limiting.
	Default int64 `yaml:"default"`

	// PerModel overrides the default limit per model ID.
	PerModel map[string]int64 `yaml:"per_model"`
}

type ToolsConfig struct {
	// Builtins toggles the bundled tools (current_time, calculate).
	Builtins bool `yaml:"builtins"`

	// OpenAPI lists documents whose operations register as remote tools.
	OpenAPI []OpenAPISourceConfig `yaml:"openapi"`
}

type OpenAPISourceConfig struct {
	// Path to the OpenAPI 3 document (YAML or JSON).
	Path string `yaml:"path"`

	// BaseURL overrides the document's server URL when set.
	BaseURL string `yaml:"base_url"`

	// Timeout bounds each remote call.
	Timeout time.Duration `yaml:"timeout"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and parses the configuration file. Environment variables in the
// file expand before parsing; provider API keys additionally fall back to the
// conventional environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)
	applyEnvKeys(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	applyEnvKeys(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8080
	}
	if cfg.Server.MetricsPort == 0 {
		cfg.Server.MetricsPort = 9090
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	if cfg.LLM.DefaultProvider == "" {
		cfg.LLM.DefaultProvider = "openai"
	}
	if cfg.LLM.DefaultModel == "" {
		cfg.LLM.DefaultModel = "gpt-4o-mini"
	}
	if cfg.LLM.Providers == nil {
		cfg.LLM.Providers = map[string]ProviderConfig{}
	}

	if cfg.Prompt.MaxTokens == 0 {
		cfg.Prompt.MaxTokens = 8000
	}
	if cfg.Prompt.MaxHistoryItems == 0 {
		cfg.Prompt.MaxHistoryItems = 50
	}
	if cfg.Prompt.MaxChunks == 0 {
		cfg.Prompt.MaxChunks = 5
	}
	if cfg.Prompt.TrimRatio == 0 {
		cfg.Prompt.TrimRatio = 0.5
	}

	if cfg.Loop.MaxRoundTrips == 0 {
		cfg.Loop.MaxRoundTrips = 5
	}
	if cfg.Loop.MaxTokens == 0 {
		cfg.Loop.MaxTokens = 4096
	}
	if cfg.Loop.ToolTimeout == 0 {
		cfg.Loop.ToolTimeout = 30 * time.Second
	}
	if cfg.Loop.RetrievalTimeout == 0 {
		cfg.Loop.RetrievalTimeout = 3 * time.Second
	}
	if cfg.Loop.RetrievalLimit == 0 {
		cfg.Loop.RetrievalLimit = 8
	}

	if cfg.RateLimits.Window == 0 {
		cfg.RateLimits.Window = time.Minute
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// applyEnvKeys fills missing provider API keys from the conventional
// environment variables.
func applyEnvKeys(cfg *Config) {
	envKeys := map[string]string{
		"openai":    "OPENAI_API_KEY",
		"anthropic": "ANTHROPIC_API_KEY",
	}
	for name, envVar := range envKeys {
		pc := cfg.LLM.Providers[name]
		if pc.APIKey == "" {
			if key := os.Getenv(envVar); key != "" {
				pc.APIKey = key
				cfg.LLM.Providers[name] = pc
			}
		}
	}
}

// Validate rejects configurations the process cannot run with.
func (c *Config) Validate() error {
	switch c.LLM.DefaultProvider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("unknown default provider %q", c.LLM.DefaultProvider)
	}

	if c.Prompt.TrimRatio < 0 || c.Prompt.TrimRatio > 1 {
		return fmt.Errorf("prompt.trim_ratio must be within [0, 1], got %v", c.Prompt.TrimRatio)
	}
	if c.Loop.MaxRoundTrips < 1 {
		return fmt.Errorf("loop.max_round_trips must be at least 1")
	}

	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format must be json or text, got %q", c.Logging.Format)
	}

	for i, src := range c.Tools.OpenAPI {
		if src.Path == "" {
			return fmt.Errorf("tools.openapi[%d]: path is required", i)
		}
	}
	return nil
}
