// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/shield-proxy/config.toml",
	"configs/config.toml",
}

// CLI holds command-line arguments parsed by Kong. Every flag doubles as an
// environment variable, so the proxy can run from a .env file alone with no
// config file on disk.
type CLI struct {
	Config           string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host             string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port             int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	Endpoint         string `kong:"help='Upstream chat-completion endpoint URL (overrides config).',env='UPSTREAM_ENDPOINT'"`
	APIKey           string `kong:"help='Upstream API key (overrides config).',env='UPSTREAM_API_KEY'"`
	ForcedModel      string `kong:"help='Model identifier forced onto every request (overrides config).',env='FORCED_MODEL'"`
	RetryAttempts    int    `kong:"help='Maximum delivery attempts per request (overrides config).',env='RETRY_ATTEMPTS'"`
	RetryWaitSeconds int    `kong:"help='Base seconds for progressive retry backoff (overrides config).',env='RETRY_WAIT_SECONDS'"`
	LogLevel         string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration. It is immutable after
// Load and passed into constructors; core logic never reads ambient state.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Upstream UpstreamConfig `toml:"upstream"`
	Retry    RetryConfig    `toml:"retry"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port"` // 0 means "use default" (8888); TOML cannot distinguish 0 from unset
	BodyMaxBytes int64           `toml:"body_max_bytes"`
	RateLimit    RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// UpstreamConfig holds the target endpoint and credential.
type UpstreamConfig struct {
	Endpoint        string `toml:"endpoint"`
	APIKey          string `toml:"api_key"`
	AuthHeader      string `toml:"auth_header"` // credential header name, default "api-key"
	ForcedModel     string `toml:"forced_model"`
	TimeoutSeconds  int    `toml:"timeout_seconds"` // 0 disables the overall client timeout
	IdleConnections int    `toml:"idle_connections"`
}

// RetryConfig bounds the delivery loop.
type RetryConfig struct {
	MaxAttempts     int `toml:"max_attempts"`
	BaseWaitSeconds int `toml:"base_wait_seconds"`
}

// LogConfig holds logging settings. When File is set, output goes to a
// size-rotated log file instead of stdout.
type LogConfig struct {
	Level      string `toml:"level"`
	Format     string `toml:"format"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Load reads the TOML config file (if any) and applies CLI overrides.
// A missing config file is not an error: the proxy can be configured
// entirely through flags and environment variables. An explicitly given
// path that cannot be read is still fatal.
func Load(cli *CLI) (*Config, error) {
	var cfg Config

	path := cli.Config
	explicit := path != ""
	if path == "" {
		path = findConfig()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if explicit {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else {
			if err := toml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
			cfg.filePath = path
		}
	}

	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.Endpoint != "" {
		c.Upstream.Endpoint = cli.Endpoint
	}
	if cli.APIKey != "" {
		c.Upstream.APIKey = cli.APIKey
	}
	if cli.ForcedModel != "" {
		c.Upstream.ForcedModel = cli.ForcedModel
	}
	if cli.RetryAttempts != 0 {
		c.Retry.MaxAttempts = cli.RetryAttempts
	}
	if cli.RetryWaitSeconds != 0 {
		c.Retry.BaseWaitSeconds = cli.RetryWaitSeconds
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	// Endpoint and credential are both required; the process refuses to
	// start without them.
	if c.Upstream.Endpoint == "" {
		return fmt.Errorf("upstream.endpoint is required (set UPSTREAM_ENDPOINT or upstream.endpoint)")
	}
	u, err := url.Parse(c.Upstream.Endpoint)
	if err != nil {
		return fmt.Errorf("upstream.endpoint is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("upstream.endpoint must use http or https; got %q", c.Upstream.Endpoint)
	}
	if c.Upstream.APIKey == "" {
		return fmt.Errorf("upstream.api_key is required (set UPSTREAM_API_KEY or upstream.api_key)")
	}

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Upstream.TimeoutSeconds < 0 {
		return fmt.Errorf("upstream.timeout_seconds must be non-negative; got %d", c.Upstream.TimeoutSeconds)
	}
	if c.Upstream.IdleConnections < 0 {
		return fmt.Errorf("upstream.idle_connections must be non-negative; got %d", c.Upstream.IdleConnections)
	}
	if c.Retry.MaxAttempts < 0 {
		return fmt.Errorf("retry.max_attempts must be non-negative; got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.BaseWaitSeconds < 0 {
		return fmt.Errorf("retry.base_wait_seconds must be non-negative; got %d", c.Retry.BaseWaitSeconds)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}

	// Log fields.
	level := strings.ToLower(c.Log.Level)
	switch level {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	format := strings.ToLower(c.Log.Format)
	switch format {
	case "json", "text", "":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		for _, reserved := range []string{"/healthz", "/proxy/status"} {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields, zero means "unset" because TOML cannot distinguish
// between an explicit 0 and an omitted key. The one exception is
// upstream.timeout_seconds, where 0 keeps the overall client timeout
// disabled so long-running streamed responses are never cut off.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8888
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 10 * 1024 * 1024 // 10 MB
	}
	if c.Upstream.AuthHeader == "" {
		c.Upstream.AuthHeader = "api-key"
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 10
	}
	if c.Retry.BaseWaitSeconds == 0 {
		c.Retry.BaseWaitSeconds = 15
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = 50
	}
	if c.Log.MaxBackups == 0 {
		c.Log.MaxBackups = 5
	}
	if c.Log.MaxAgeDays == 0 {
		c.Log.MaxAgeDays = 14
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// TruncatedEndpoint returns the endpoint URL shortened for log output, so
// long deployment URLs do not flood the startup banner.
func (c *UpstreamConfig) TruncatedEndpoint() string {
	const max = 50
	if len(c.Endpoint) <= max {
		return c.Endpoint
	}
	return c.Endpoint[:max] + "..."
}

// WarnPermissions logs a warning if the config file is readable by group or others.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
