package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Server.Addr != "127.0.0.1:8787" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Storage.Type != "file" {
		t.Errorf("storage type = %q", cfg.Storage.Type)
	}
	if cfg.Agents.HITLTimeout != 5*time.Minute {
		t.Errorf("hitl timeout = %s", cfg.Agents.HITLTimeout)
	}
	if cfg.Agents.ShellTimeout != 10*time.Minute {
		t.Errorf("shell timeout = %s", cfg.Agents.ShellTimeout)
	}
	if !cfg.StreamingEnabled() {
		t.Error("streaming should default to on")
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: "0.0.0.0:9000"
  idle_timeout: 45s
storage:
  type: sqlite
  path: /tmp/aw.db
llm:
  streaming: false
agents:
  hitl_timeout: 1m
logging:
  level: debug
  format: json
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr != "0.0.0.0:9000" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Server.IdleTimeout != 45*time.Second {
		t.Errorf("idle timeout = %s", cfg.Server.IdleTimeout)
	}
	if cfg.Server.IdleGrace != 2*time.Second {
		t.Errorf("idle grace default not applied: %s", cfg.Server.IdleGrace)
	}
	if cfg.Storage.Type != "sqlite" || cfg.Storage.Path != "/tmp/aw.db" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if cfg.StreamingEnabled() {
		t.Error("streaming should be off")
	}
	if cfg.Agents.HITLTimeout != time.Minute {
		t.Errorf("hitl timeout = %s", cfg.Agents.HITLTimeout)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("logging = %+v", cfg.Logging)
	}
}

func TestEnvExpansionInFile(t *testing.T) {
	t.Setenv("CONFIG_TEST_KEY", "sk-test-123")
	path := writeConfig(t, `
llm:
  anthropic_api_key: "${CONFIG_TEST_KEY}"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LLM.AnthropicAPIKey != "sk-test-123" {
		t.Errorf("api key = %q", cfg.LLM.AnthropicAPIKey)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvAddr, "127.0.0.1:7777")
	t.Setenv(EnvStorageType, "memory")
	t.Setenv(EnvLogLevel, "warn")
	t.Setenv(EnvStreaming, "false")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr != "127.0.0.1:7777" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Storage.Type != "memory" {
		t.Errorf("storage type = %q", cfg.Storage.Type)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("level = %q", cfg.Logging.Level)
	}
	if cfg.StreamingEnabled() {
		t.Error("streaming override ignored")
	}
}

func TestValidation(t *testing.T) {
	t.Setenv(EnvStorageType, "postgres")
	if _, err := Load(""); err == nil || !strings.Contains(err.Error(), "storage type") {
		t.Errorf("err = %v", err)
	}
	t.Setenv(EnvStorageType, "file")
	t.Setenv(EnvLogLevel, "verbose")
	if _, err := Load(""); err == nil || !strings.Contains(err.Error(), "log level") {
		t.Errorf("err = %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
