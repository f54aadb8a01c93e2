package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			MaxBodyBytes: 1 << 20,
			OllamaHost:   "",
			OllamaModel:  "llama3.2:3b",
		},
		Data: DataConfig{
			BaseDir:  ExpandHome("~/.memex/data"),
			PagesDir: ExpandHome("~/.memex/pages"),
			LogDir:   ExpandHome("~/.memex/logs"),
		},
		Chroma: ChromaConfig{
			Host: "localhost",
			Port: 8000,
		},
		Audit: AuditConfig{
			MetricsWindowLines: 5000,
		},
		Capture: CaptureConfig{
			IntervalSeconds: 60,
			MaxLongEdge:     1280,
			JPEGQuality:     70,
			OCRWorkers:      4,
			ScreenName:      "screen",
		},
		Sync: SyncConfig{
			BatchSize:   100,
			MaxAttempts: 3,
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars. A missing
// file is not an error; env vars still apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				*dst = n
			}
		}
	}

	envStr("SERVER_HOST", &c.Server.Host)
	envInt("SERVER_PORT", &c.Server.Port)
	envStr("API_KEYS_PATH", &c.Server.APIKeysPath)
	envStr("SECURITY_POLICY_PATH", &c.Server.SecurityPolicyPath)
	envStr("OLLAMA_HOST", &c.Server.OllamaHost)
	envStr("OLLAMA_MODEL", &c.Server.OllamaModel)

	envStr("DATA_BASE_DIR", &c.Data.BaseDir)
	envStr("PAGES_DIR", &c.Data.PagesDir)
	envStr("LOG_DIR", &c.Data.LogDir)
	envStr("INSTANCES", &c.Data.Instances)

	envStr("CHROMA_HOST", &c.Chroma.Host)
	envInt("CHROMA_PORT", &c.Chroma.Port)

	envStr("ANTHROPIC_API_KEY", &c.Chat.AnthropicAPIKey)
	envStr("ANTHROPIC_MODEL", &c.Chat.Model)

	envStr("MEMEX_PROMETHEUS_TOKEN", &c.Sync.Token)
}

// ExpandHome replaces leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
