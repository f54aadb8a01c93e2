package config

import (
	"fmt"
	"os"

	"github.com/titanous/json5"
)

// EdgeConfig is the per-machine instance.json on an edge agent. The hosting
// mode selects which of the per-mode endpoint fields apply.
type EdgeConfig struct {
	InstanceName string `json:"instance_name"`
	HostingMode  string `json:"hosting_mode"` // "local", "jetson" or "remote"

	LocalHost       string `json:"local_host,omitempty"`
	LocalChromaPort int    `json:"local_chroma_port,omitempty"`
	LocalMCPPort    int    `json:"local_mcp_port,omitempty"`
	LocalTunnelURL  string `json:"local_tunnel_url,omitempty"`

	JetsonHost       string `json:"jetson_host,omitempty"`
	JetsonChromaPort int    `json:"jetson_chroma_port,omitempty"`
	JetsonMCPPort    int    `json:"jetson_mcp_port,omitempty"`
	JetsonTunnelURL  string `json:"jetson_tunnel_url,omitempty"`

	RemoteHost       string `json:"remote_host,omitempty"`
	RemoteChromaPort int    `json:"remote_chroma_port,omitempty"`
	RemoteMCPPort    int    `json:"remote_mcp_port,omitempty"`
	RemoteTunnelURL  string `json:"remote_tunnel_url,omitempty"`
}

// Endpoint is the resolved sync target for the active hosting mode.
type Endpoint struct {
	Host       string
	ChromaPort int
	MCPPort    int
	TunnelURL  string
}

// Tunneled reports whether sync should go through the HTTP tunnel instead
// of talking to the vector store directly.
func (e Endpoint) Tunneled() bool { return e.TunnelURL != "" }

// LoadEdge reads an edge instance config file.
func LoadEdge(path string) (*EdgeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read instance config: %w", err)
	}
	var cfg EdgeConfig
	if err := json5.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse instance config: %w", err)
	}
	if cfg.InstanceName == "" {
		return nil, fmt.Errorf("instance config %s: instance_name is required", path)
	}
	if _, err := cfg.Resolve(); err != nil {
		return nil, fmt.Errorf("instance config %s: %w", path, err)
	}
	return &cfg, nil
}

// Resolve maps the hosting mode to its endpoint, applying defaults.
func (c *EdgeConfig) Resolve() (Endpoint, error) {
	var e Endpoint
	switch c.HostingMode {
	case "local", "":
		e = Endpoint{Host: c.LocalHost, ChromaPort: c.LocalChromaPort, MCPPort: c.LocalMCPPort, TunnelURL: c.LocalTunnelURL}
		if e.Host == "" {
			e.Host = "localhost"
		}
	case "jetson":
		e = Endpoint{Host: c.JetsonHost, ChromaPort: c.JetsonChromaPort, MCPPort: c.JetsonMCPPort, TunnelURL: c.JetsonTunnelURL}
	case "remote":
		e = Endpoint{Host: c.RemoteHost, ChromaPort: c.RemoteChromaPort, MCPPort: c.RemoteMCPPort, TunnelURL: c.RemoteTunnelURL}
	default:
		return Endpoint{}, fmt.Errorf("unknown hosting_mode %q", c.HostingMode)
	}

	if e.Host == "" && e.TunnelURL == "" {
		return Endpoint{}, fmt.Errorf("hosting_mode %q has neither host nor tunnel url", c.HostingMode)
	}
	if e.ChromaPort == 0 {
		e.ChromaPort = 8000
	}
	if e.MCPPort == 0 {
		e.MCPPort = 8080
	}
	return e, nil
}
