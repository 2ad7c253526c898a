// Package config loads and validates the gateway configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root gateway configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`
	Storage StorageConfig `yaml:"storage"`
	Search  SearchConfig  `yaml:"search"`
	LLM     LLMConfig     `yaml:"llm"`
	TTS     TTSConfig     `yaml:"tts"`
	PubSub  PubSubConfig  `yaml:"pubsub"`
	Bridge  BridgeConfig  `yaml:"bridge"`
	Workers WorkersConfig `yaml:"workers"`
	Agents  AgentsConfig  `yaml:"agents"`
	Modules ModulesConfig `yaml:"modules"`
}

// ServerConfig configures the HTTP/websocket listener.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// StorageConfig configures the sqlite document store.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// AgentsConfig points at the persona roster file.
type AgentsConfig struct {
	Path string `yaml:"path"`
}

// ModulesConfig points at the API module definitions file.
type ModulesConfig struct {
	Path string `yaml:"path"`
}

// SearchConfig configures the federated web search gateway.
type SearchConfig struct {
	URL             string   `yaml:"url"`
	MaxResults      int      `yaml:"max_results"`
	TimeoutSeconds  int      `yaml:"timeout_seconds"`
	MaxAttempts     int      `yaml:"max_attempts"`
	BackoffSeconds  int      `yaml:"backoff_seconds"`
	CacheTTLSeconds int      `yaml:"cache_ttl_seconds"`
	Engines         []string `yaml:"engines"`
	FallbackEngines []string `yaml:"fallback_engines"`
	Categories      []string `yaml:"categories"`
}

// LLMConfig configures the text generation backend.
type LLMConfig struct {
	URL            string  `yaml:"url"`
	Model          string  `yaml:"model"`
	Temperature    float64 `yaml:"temperature"`
	TopP           float64 `yaml:"top_p"`
	MaxTokens      int     `yaml:"max_tokens"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
}

// TTSConfig configures the speech synthesis backend.
type TTSConfig struct {
	URL            string `yaml:"url"`
	OutputDir      string `yaml:"output_dir"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// PubSubConfig configures the in-process hub.
type PubSubConfig struct {
	ReplayBufferSize int `yaml:"replay_buffer_size"`
}

// BridgeConfig configures the optional Redis event mirror.
type BridgeConfig struct {
	Enabled   bool   `yaml:"enabled"`
	RedisAddr string `yaml:"redis_addr"`
	Stream    string `yaml:"stream"`
}

// WorkersConfig configures the orchestration queues.
type WorkersConfig struct {
	QueueDepth int `yaml:"queue_depth"`
}

// Load reads a YAML config file and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

// Default returns a configuration with all defaults applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "localhost"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 18700
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "mirai.db"
	}
	if c.Search.URL == "" {
		c.Search.URL = "http://localhost:8080"
	}
	if c.Search.MaxResults == 0 {
		c.Search.MaxResults = 5
	}
	if c.Search.TimeoutSeconds == 0 {
		c.Search.TimeoutSeconds = 15
	}
	if c.Search.MaxAttempts == 0 {
		c.Search.MaxAttempts = 3
	}
	if c.Search.BackoffSeconds == 0 {
		c.Search.BackoffSeconds = 1
	}
	if c.Search.CacheTTLSeconds == 0 {
		c.Search.CacheTTLSeconds = 3600
	}
	if len(c.Search.Engines) == 0 {
		c.Search.Engines = []string{"brave", "google", "bing", "duckduckgo", "yahoo", "qwant"}
	}
	if len(c.Search.FallbackEngines) == 0 {
		c.Search.FallbackEngines = []string{"wikipedia", "qwant", "brave", "duckduckgo"}
	}
	if len(c.Search.Categories) == 0 {
		c.Search.Categories = []string{"general", "news"}
	}
	if c.LLM.URL == "" {
		c.LLM.URL = "http://localhost:11434"
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "llama3"
	}
	if c.LLM.Temperature == 0 {
		c.LLM.Temperature = 0.7
	}
	if c.LLM.TopP == 0 {
		c.LLM.TopP = 0.9
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = 2048
	}
	if c.LLM.TimeoutSeconds == 0 {
		c.LLM.TimeoutSeconds = 120
	}
	if c.TTS.URL == "" {
		c.TTS.URL = "http://localhost:8020"
	}
	if c.TTS.OutputDir == "" {
		c.TTS.OutputDir = "voicelines"
	}
	if c.TTS.TimeoutSeconds == 0 {
		c.TTS.TimeoutSeconds = 120
	}
	if c.PubSub.ReplayBufferSize == 0 {
		c.PubSub.ReplayBufferSize = 20
	}
	if c.Bridge.Stream == "" {
		c.Bridge.Stream = "mirai:events"
	}
	if c.Workers.QueueDepth == 0 {
		c.Workers.QueueDepth = 16
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Search.URL == "" {
		return fmt.Errorf("search url is required")
	}
	if c.Search.MaxResults < 1 {
		return fmt.Errorf("search max_results must be positive")
	}
	if c.Search.MaxAttempts < 1 {
		return fmt.Errorf("search max_attempts must be positive")
	}
	if c.LLM.URL == "" {
		return fmt.Errorf("llm url is required")
	}
	if c.PubSub.ReplayBufferSize < 1 {
		return fmt.Errorf("pubsub replay_buffer_size must be positive")
	}
	if c.Bridge.Enabled && c.Bridge.RedisAddr == "" {
		return fmt.Errorf("bridge redis_addr is required when bridge is enabled")
	}
	return nil
}

// SearchTimeout returns the per-attempt search timeout.
func (c *SearchConfig) SearchTimeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Backoff returns the base retry backoff delay.
func (c *SearchConfig) Backoff() time.Duration {
	return time.Duration(c.BackoffSeconds) * time.Second
}

// CacheTTL returns the search cache entry lifetime.
func (c *SearchConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// Timeout returns the LLM request timeout.
func (c *LLMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Timeout returns the TTS request timeout.
func (c *TTSConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}
