package config

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cast"

	"github.com/bobmcallan/openapi-mcp/internal/common"
)

// Config is the process configuration, built once at startup and passed by
// reference to everything that needs it.
type Config struct {
	Server  ServerConfig         `toml:"server"`
	API     APIConfig            `toml:"api"`
	Spec    SpecConfig           `toml:"spec"`
	MCP     MCPConfig            `toml:"mcp"`
	Storage StorageConfig        `toml:"storage"`
	Metrics MetricsConfig        `toml:"metrics"`
	Logging common.LoggingConfig `toml:"logging"`
}

// ServerConfig contains HTTP transport listener settings.
type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

// APIConfig describes the downstream REST API the tools call.
type APIConfig struct {
	BaseURL  string   `toml:"base_url"`
	Username string   `toml:"username"`
	Password string   `toml:"password"`
	Timeout  Duration `toml:"timeout"`
}

// SpecConfig selects where the OpenAPI document is loaded from.
type SpecConfig struct {
	Source string `toml:"source"` // file or postgres
	Path   string `toml:"path"`   // file path or http(s) URL
	Name   string `toml:"name"`   // row name when Source is postgres
}

// MCPConfig holds protocol-level settings.
type MCPConfig struct {
	Name              string   `toml:"name"`
	Version           string   `toml:"version"`
	Token             string   `toml:"token"`
	ProtocolVersion   string   `toml:"protocol_version"`
	KeepaliveInterval Duration `toml:"keepalive_interval"`
	ValidateArguments bool     `toml:"validate_arguments"`
}

// StorageConfig contains storage backends.
type StorageConfig struct {
	Postgres PostgresConfig `toml:"postgres"`
}

// PostgresConfig contains the spec store connection.
type PostgresConfig struct {
	DSN string `toml:"dsn"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Duration is a time.Duration that reads "30s" style strings from TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// HasCredentials reports whether both downstream credentials are set.
func (c *Config) HasCredentials() bool {
	return c.API.Username != "" && c.API.Password != ""
}

// Addr returns the host:port the HTTP transport listens on.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// EnsureToken generates a random bearer token when none is configured.
// It reports whether a token was generated.
func (c *Config) EnsureToken() (bool, error) {
	if c.MCP.Token != "" {
		return false, nil
	}
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return false, fmt.Errorf("failed to generate token: %w", err)
	}
	c.MCP.Token = base64.RawURLEncoding.EncodeToString(b)
	return true, nil
}

// LoadFromFile loads configuration with priority: defaults -> file -> env.
func LoadFromFile(path string) (*Config, error) {
	if path == "" {
		return LoadFromFiles()
	}
	return LoadFromFiles(path)
}

// LoadFromFiles loads configuration from multiple TOML files with priority:
// defaults -> file1 -> file2 -> ... -> env. Later files override earlier ones.
// A missing file is an error; callers that treat the file as optional check first.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config.
// Unparseable numeric, boolean and duration values are ignored.
func applyEnvOverrides(config *Config) {
	if host := os.Getenv("OPENAPI_MCP_HOST"); host != "" {
		config.Server.Host = host
	}
	for _, key := range []string{"PORT", "OPENAPI_MCP_PORT"} {
		if v := os.Getenv(key); v != "" {
			if p, err := cast.ToIntE(v); err == nil && p > 0 {
				config.Server.Port = p
			}
		}
	}

	if v := os.Getenv("API_BASE_URL"); v != "" {
		config.API.BaseURL = v
	}
	if v := os.Getenv("API_USERNAME"); v != "" {
		config.API.Username = v
	}
	if v := os.Getenv("API_PASSWORD"); v != "" {
		config.API.Password = v
	}
	if v := os.Getenv("API_TIMEOUT"); v != "" {
		if d, err := cast.ToDurationE(v); err == nil && d > 0 {
			config.API.Timeout.Duration = d
		}
	}

	if v := os.Getenv("OPENAPI_SPEC_SOURCE"); v != "" {
		config.Spec.Source = v
	}
	if v := os.Getenv("OPENAPI_SPEC"); v != "" {
		config.Spec.Path = v
	}
	if v := os.Getenv("OPENAPI_SPEC_NAME"); v != "" {
		config.Spec.Name = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		config.Storage.Postgres.DSN = v
	}

	if v := os.Getenv("MCP_SERVER_NAME"); v != "" {
		config.MCP.Name = v
	}
	if v := os.Getenv("MCP_TOKEN"); v != "" {
		config.MCP.Token = v
	}
	if v := os.Getenv("MCP_KEEPALIVE_INTERVAL"); v != "" {
		if d, err := cast.ToDurationE(v); err == nil && d > 0 {
			config.MCP.KeepaliveInterval.Duration = d
		}
	}
	if v := os.Getenv("MCP_VALIDATE_ARGUMENTS"); v != "" {
		if b, err := cast.ToBoolE(v); err == nil {
			config.MCP.ValidateArguments = b
		}
	}

	if v := os.Getenv("METRICS_ENABLED"); v != "" {
		if b, err := cast.ToBoolE(v); err == nil {
			config.Metrics.Enabled = b
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config.
func ApplyFlagOverrides(config *Config, port int, specPath string) {
	if port > 0 {
		config.Server.Port = port
	}
	if specPath != "" {
		config.Spec.Path = specPath
	}
}
