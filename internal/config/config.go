// Package config loads server configuration from a YAML file with
// environment-variable expansion and AGENT_WORLD_* overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment overrides. Each takes precedence over the file value.
const (
	EnvAddr        = "AGENT_WORLD_ADDR"
	EnvStorageType = "AGENT_WORLD_STORAGE_TYPE"
	EnvStoragePath = "AGENT_WORLD_STORAGE_PATH"
	EnvLogLevel    = "AGENT_WORLD_LOG_LEVEL"
	EnvLogFormat   = "AGENT_WORLD_LOG_FORMAT"
	EnvStreaming   = "AGENT_WORLD_STREAMING"
)

// Config is the top-level server configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	LLM     LLMConfig     `yaml:"llm"`
	Agents  AgentsConfig  `yaml:"agents"`
	Skills  SkillsConfig  `yaml:"skills"`
	Logging LoggingConfig `yaml:"logging"`
}

type ServerConfig struct {
	// Addr is the HTTP listen address, host:port.
	Addr string `yaml:"addr"`

	// IdleTimeout and IdleGrace tune SSE idle detection.
	IdleTimeout time.Duration `yaml:"idle_timeout"`
	IdleGrace   time.Duration `yaml:"idle_grace"`
}

type StorageConfig struct {
	// Type selects the backend: file | sqlite | memory.
	Type string `yaml:"type"`

	// Path is the data directory (file) or database file (sqlite).
	Path string `yaml:"path"`
}

type LLMConfig struct {
	// Streaming toggles streamed completions; non-streaming providers
	// still deliver results through the same channel interface.
	Streaming *bool `yaml:"streaming"`

	// AnthropicAPIKey and OpenAIAPIKey override the provider SDK
	// environment variables when set.
	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	OpenAIAPIKey    string `yaml:"openai_api_key"`
}

type AgentsConfig struct {
	// HITLTimeout bounds how long a human-in-the-loop request waits
	// before its default option is chosen.
	HITLTimeout time.Duration `yaml:"hitl_timeout"`

	// ShellTimeout is the default shell command timeout. Worlds can
	// override it per-world with the shell_timeout_ms variable.
	ShellTimeout time.Duration `yaml:"shell_timeout"`
}

type SkillsConfig struct {
	// ProjectRoot anchors project-scoped skill discovery; empty uses
	// the process working directory.
	ProjectRoot string `yaml:"project_root"`

	// Watch enables filesystem watching so skill edits are picked up
	// without a restart.
	Watch bool `yaml:"watch"`
}

type LoggingConfig struct {
	// Level: debug | info | warn | error.
	Level string `yaml:"level"`

	// Format: text | json.
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads a YAML config file, expands ${VAR} references, applies
// defaults, and then applies AGENT_WORLD_* environment overrides.
// An empty path returns the default configuration with overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	applyDefaults(cfg)
	applyEnv(cfg)
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = "127.0.0.1:8787"
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = 30 * time.Second
	}
	if cfg.Server.IdleGrace == 0 {
		cfg.Server.IdleGrace = 2 * time.Second
	}
	if cfg.Storage.Type == "" {
		cfg.Storage.Type = "file"
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = defaultStoragePath(cfg.Storage.Type)
	}
	if cfg.Agents.HITLTimeout == 0 {
		cfg.Agents.HITLTimeout = 5 * time.Minute
	}
	if cfg.Agents.ShellTimeout == 0 {
		cfg.Agents.ShellTimeout = 10 * time.Minute
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

func defaultStoragePath(storageType string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	if storageType == "sqlite" {
		return home + "/.agent-world/agent-world.db"
	}
	return home + "/.agent-world/data"
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvAddr); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv(EnvStorageType); v != "" {
		cfg.Storage.Type = v
	}
	if v := os.Getenv(EnvStoragePath); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv(EnvLogFormat); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv(EnvStreaming); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.LLM.Streaming = &b
		}
	}
}

func validate(cfg *Config) error {
	switch cfg.Storage.Type {
	case "file", "sqlite", "memory":
	default:
		return fmt.Errorf("unknown storage type %q", cfg.Storage.Type)
	}
	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", cfg.Logging.Level)
	}
	switch cfg.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", cfg.Logging.Format)
	}
	return nil
}

// StreamingEnabled reports the streaming toggle, defaulting to on.
func (c *Config) StreamingEnabled() bool {
	if c.LLM.Streaming == nil {
		return true
	}
	return *c.LLM.Streaming
}
