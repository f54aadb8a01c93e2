// Package config holds the server configuration and the per-edge instance
// config file.
package config

import (
	"strings"
	"time"
)

// Config is the root configuration for the memex server.
type Config struct {
	Server  ServerConfig  `json:"server"`
	Data    DataConfig    `json:"data"`
	Chroma  ChromaConfig  `json:"chroma"`
	Chat    ChatConfig    `json:"chat"`
	Audit   AuditConfig   `json:"audit"`
	Capture CaptureConfig `json:"capture"`
	Sync    SyncConfig    `json:"sync"`
}

// ServerConfig configures the HTTP listener and its security layers.
type ServerConfig struct {
	Host               string `json:"host"`
	Port               int    `json:"port"`
	APIKeysPath        string `json:"api_keys_path"`
	SecurityPolicyPath string `json:"security_policy_path"`
	MaxBodyBytes       int64  `json:"max_body_bytes"`

	// Ollama endpoint used by the tool-call validator. Empty disables
	// validation entirely.
	OllamaHost  string `json:"ollama_host"`
	OllamaModel string `json:"ollama_model"`
}

// DataConfig locates on-disk state.
type DataConfig struct {
	BaseDir   string `json:"base_dir"`
	PagesDir  string `json:"pages_dir"`
	LogDir    string `json:"log_dir"`
	Instances string `json:"instances"` // comma-separated names
}

// InstanceNames splits the comma list, dropping empties.
func (d DataConfig) InstanceNames() []string {
	var out []string
	for _, n := range strings.Split(d.Instances, ",") {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// ChromaConfig locates the vector store service.
type ChromaConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// ChatConfig configures the LLM-backed chat surface. The API key comes from
// env only and is never persisted.
type ChatConfig struct {
	AnthropicAPIKey string `json:"-"`
	Model           string `json:"model,omitempty"`
}

// AuditConfig configures request and usage logging.
type AuditConfig struct {
	// Lines of usage.jsonl consulted by the metrics endpoints.
	MetricsWindowLines int `json:"metrics_window_lines"`
}

// CaptureConfig configures the edge capture loop.
type CaptureConfig struct {
	IntervalSeconds int    `json:"interval_seconds"`
	MaxLongEdge     int    `json:"max_long_edge"`
	JPEGQuality     int    `json:"jpeg_quality"`
	OCRWorkers      int    `json:"ocr_workers"`
	ScreenName      string `json:"screen_name,omitempty"` // prefix, suffixed with the display index
}

// Interval returns the capture period as a duration.
func (c CaptureConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// SyncConfig configures the edge sync client.
type SyncConfig struct {
	BatchSize   int    `json:"batch_size"`
	MaxAttempts int    `json:"max_attempts"`
	Token       string `json:"-"` // MEMEX_PROMETHEUS_TOKEN, env only
}
