package config

import (
	"time"

	"github.com/bobmcallan/openapi-mcp/internal/common"
)

const (
	DefaultProtocolVersion = "2024-11-05"
	DefaultServerName      = "OpenAPI MCP Server"
)

// NewDefaultConfig returns a Config with sensible defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 5000,
			Host: "0.0.0.0",
		},
		API: APIConfig{
			BaseURL: "http://localhost:8000",
			Timeout: Duration{30 * time.Second},
		},
		Spec: SpecConfig{
			Source: "file",
			Path:   "openapi.yaml",
			Name:   "default",
		},
		MCP: MCPConfig{
			Name:              DefaultServerName,
			Version:           common.GetVersion(),
			ProtocolVersion:   DefaultProtocolVersion,
			KeepaliveInterval: Duration{30 * time.Second},
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Logging: common.LoggingConfig{
			Level:   "info",
			Outputs: []string{"console"},
		},
	}
}
