// Package config holds the serving configuration: HTTP listener settings,
// request limits, socket policies, metrics exposure, and the optional NATS
// backplane for cross-instance socket fan-out. Configuration loads from a
// YAML or JSON file and is validated before use.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ricsam/richie-rpc-sub000/errors"
)

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string   `json:"addr" yaml:"addr"`
	ReadTimeout     Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    Duration `json:"write_timeout" yaml:"write_timeout"`
	IdleTimeout     Duration `json:"idle_timeout" yaml:"idle_timeout"`
	ShutdownTimeout Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
	// MaxBodyBytes caps request body reads. Zero keeps the router default.
	MaxBodyBytes int64 `json:"max_body_bytes" yaml:"max_body_bytes"`
}

// SocketConfig configures WebSocket serving policy.
type SocketConfig struct {
	// AllowedOrigins restricts upgrade requests by Origin header. Empty
	// allows any origin.
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins"`
	// MessagesPerSecond caps inbound messages per connection. Zero disables
	// the limit.
	MessagesPerSecond float64 `json:"messages_per_second" yaml:"messages_per_second"`
	MessageBurst      int     `json:"message_burst" yaml:"message_burst"`
	// ReadLimitBytes caps one inbound frame. Zero keeps the transport
	// default.
	ReadLimitBytes int64 `json:"read_limit_bytes" yaml:"read_limit_bytes"`
}

// MetricsConfig configures the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
	Path    string `json:"path" yaml:"path"`
}

// NATSConfig configures the optional cross-instance socket backplane.
type NATSConfig struct {
	Enabled       bool     `json:"enabled" yaml:"enabled"`
	URL           string   `json:"url" yaml:"url"`
	SubjectPrefix string   `json:"subject_prefix" yaml:"subject_prefix"`
	MaxReconnects int      `json:"max_reconnects" yaml:"max_reconnects"`
	ReconnectWait Duration `json:"reconnect_wait" yaml:"reconnect_wait"`
}

// Config is the complete serving configuration.
type Config struct {
	Server  ServerConfig  `json:"server" yaml:"server"`
	Socket  SocketConfig  `json:"socket" yaml:"socket"`
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`
	NATS    NATSConfig    `json:"nats" yaml:"nats"`
}

// Default returns a configuration suitable for local development.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    0, // streaming responses outlive fixed write deadlines
			IdleTimeout:     Duration(120 * time.Second),
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    ":9090",
			Path:    "/metrics",
		},
		NATS: NATSConfig{
			Enabled:       false,
			URL:           "nats://localhost:4222",
			SubjectPrefix: "socket.topics",
			MaxReconnects: -1,
			ReconnectWait: Duration(2 * time.Second),
		},
	}
}

// Load reads a config file, layering it over Default. The format follows
// the file extension: .yaml/.yml or .json.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapInvalid(err, "config", "Load", path)
	}

	cfg := Default()
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, errors.WrapInvalid(err, "config", "Load", "yaml parse")
		}
	case ".json":
		if err := json.Unmarshal(raw, cfg); err != nil {
			return nil, errors.WrapInvalid(err, "config", "Load", "json parse")
		}
	default:
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Load",
			fmt.Sprintf("unsupported config extension %q", ext))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values that cannot serve.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate",
			"server.addr is required")
	}
	if c.Server.MaxBodyBytes < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate",
			"server.max_body_bytes must not be negative")
	}
	if c.Socket.MessagesPerSecond < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate",
			"socket.messages_per_second must not be negative")
	}
	if c.Socket.MessagesPerSecond > 0 && c.Socket.MessageBurst < 1 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate",
			"socket.message_burst must be at least 1 when rate limiting is enabled")
	}
	if c.Metrics.Enabled {
		if c.Metrics.Addr == "" {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate",
				"metrics.addr is required when metrics are enabled")
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate",
				"metrics.path must start with /")
		}
	}
	if c.NATS.Enabled {
		if c.NATS.URL == "" {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate",
				"nats.url is required when the backplane is enabled")
		}
		if c.NATS.SubjectPrefix == "" {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate",
				"nats.subject_prefix is required when the backplane is enabled")
		}
	}
	return nil
}

// OriginAllowed reports whether an Origin header value passes the socket
// origin policy. An empty allow list accepts everything.
func (c *SocketConfig) OriginAllowed(origin string) bool {
	if len(c.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range c.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}
