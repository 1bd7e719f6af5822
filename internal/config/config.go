// Package config handles configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/api-gateway/config.toml",
	"configs/config.toml",
}

// Defaults used when neither the config file nor the CLI sets a value.
const (
	DefaultPort        = 8080
	DefaultBackendURL  = "http://localhost:3000"
	DefaultHealthPath  = "/health"
	DefaultProxyPrefix = "/api"
	DefaultStatusPath  = "/status"
)

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config     string `kong:"short='c',help='Path to TOML or YAML config file.',env='CONFIG_PATH'"`
	Host       string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port       int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	BackendURL string `kong:"name='backend-url',help='Upstream base URL (overrides config).',env='BACKEND_URL'"`
	LogLevel   string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `toml:"server" yaml:"server"`
	Upstream UpstreamConfig `toml:"upstream" yaml:"upstream"`
	Routes   RoutesConfig   `toml:"routes" yaml:"routes"`
	CORS     CORSConfig     `toml:"cors" yaml:"cors"`
	Breaker  BreakerConfig  `toml:"breaker" yaml:"breaker"`
	Log      LogConfig      `toml:"log" yaml:"log"`
	Metrics  MetricsConfig  `toml:"metrics" yaml:"metrics"`
	Tracing  TracingConfig  `toml:"tracing" yaml:"tracing"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host                 string `toml:"host" yaml:"host"`
	Port                 int    `toml:"port" yaml:"port"` // 0 means "use default" (8080)
	BodyMaxBytes         int64  `toml:"body_max_bytes" yaml:"body_max_bytes"`
	ReadTimeoutSeconds   int    `toml:"read_timeout_seconds" yaml:"read_timeout_seconds"`
	IdleTimeoutSeconds   int    `toml:"idle_timeout_seconds" yaml:"idle_timeout_seconds"`
	ShutdownGraceSeconds int    `toml:"shutdown_grace_seconds" yaml:"shutdown_grace_seconds"`
}

// UpstreamConfig holds upstream connection settings.
//
// TimeoutSeconds bounds the whole upstream exchange. Zero leaves it unbounded,
// so a silent upstream only fails once the transport gives up.
type UpstreamConfig struct {
	BaseURL         string `toml:"base_url" yaml:"base_url"`
	TimeoutSeconds  int    `toml:"timeout_seconds" yaml:"timeout_seconds"`
	IdleConnections int    `toml:"idle_connections" yaml:"idle_connections"`
}

// RoutesConfig holds the liveness path and the proxied prefix.
type RoutesConfig struct {
	HealthPath  string `toml:"health_path" yaml:"health_path"`
	ProxyPrefix string `toml:"proxy_prefix" yaml:"proxy_prefix"`
}

// CORSConfig controls the cross-origin headers added to every response.
type CORSConfig struct {
	AllowOrigins []string `toml:"allow_origins" yaml:"allow_origins"`
}

// BreakerConfig controls the optional circuit breaker in front of the upstream.
type BreakerConfig struct {
	Enabled          bool   `toml:"enabled" yaml:"enabled"`
	FailureThreshold uint32 `toml:"failure_threshold" yaml:"failure_threshold"`
	OpenSeconds      int    `toml:"open_seconds" yaml:"open_seconds"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled" yaml:"enabled"`
	Path    string `toml:"path" yaml:"path"`
}

// TracingConfig holds OpenTelemetry export settings.
type TracingConfig struct {
	Enabled    bool    `toml:"enabled" yaml:"enabled"`
	Endpoint   string  `toml:"endpoint" yaml:"endpoint"`
	Insecure   bool    `toml:"insecure" yaml:"insecure"`
	SampleRate float64 `toml:"sample_rate" yaml:"sample_rate"`
}

// Load reads the config file, if any, and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/api-gateway/config.toml then configs/config.toml. Running without a
// config file is allowed; defaults and CLI/env values are used instead.
func Load(cli *CLI) (*Config, error) {
	path := cli.Config
	if path == "" {
		path = findConfig()
	}

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := decode(path, data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.filePath = path
	}

	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// decode picks the parser from the file extension; TOML is the default.
func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	default:
		return toml.Unmarshal(data, cfg)
	}
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.BackendURL != "" {
		c.Upstream.BaseURL = cli.BackendURL
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	// Upstream URL: optional (defaults to localhost), must be http(s) with a host.
	if c.Upstream.BaseURL != "" {
		u, err := url.Parse(c.Upstream.BaseURL)
		if err != nil {
			return fmt.Errorf("upstream.base_url is not a valid URL: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("upstream.base_url must use http or https; got %q", c.Upstream.BaseURL)
		}
		if u.Host == "" {
			return fmt.Errorf("upstream.base_url must include a host; got %q", c.Upstream.BaseURL)
		}
		if u.RawQuery != "" || u.Fragment != "" {
			return fmt.Errorf("upstream.base_url must not carry a query or fragment; got %q", c.Upstream.BaseURL)
		}
	}

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Server.ReadTimeoutSeconds < 0 || c.Server.IdleTimeoutSeconds < 0 || c.Server.ShutdownGraceSeconds < 0 {
		return fmt.Errorf("server timeouts must be non-negative")
	}
	if c.Upstream.TimeoutSeconds < 0 {
		return fmt.Errorf("upstream.timeout_seconds must be non-negative; got %d", c.Upstream.TimeoutSeconds)
	}
	if c.Upstream.IdleConnections < 0 {
		return fmt.Errorf("upstream.idle_connections must be non-negative; got %d", c.Upstream.IdleConnections)
	}
	if c.Breaker.OpenSeconds < 0 {
		return fmt.Errorf("breaker.open_seconds must be non-negative; got %d", c.Breaker.OpenSeconds)
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return fmt.Errorf("tracing.sample_rate must be within 0–1; got %v", c.Tracing.SampleRate)
	}

	// Log fields.
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text", "":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Route paths.
	health := orDefault(c.Routes.HealthPath, DefaultHealthPath)
	prefix := orDefault(c.Routes.ProxyPrefix, DefaultProxyPrefix)
	if err := checkPath("routes.health_path", health); err != nil {
		return err
	}
	if err := checkPath("routes.proxy_prefix", prefix); err != nil {
		return err
	}
	if prefix == "/" || strings.HasSuffix(prefix, "/") {
		return fmt.Errorf("routes.proxy_prefix must not end with '/'; got %q", prefix)
	}
	if overlaps(health, prefix) {
		return fmt.Errorf("routes.health_path %q conflicts with proxy prefix %q", health, prefix)
	}
	if overlaps(health, DefaultStatusPath) || overlaps(prefix, DefaultStatusPath) {
		return fmt.Errorf("routes must not use the status path %q", DefaultStatusPath)
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if err := checkPath("metrics.path", p); err != nil {
			return err
		}
		for _, reserved := range []string{prefix, health, DefaultStatusPath} {
			if overlaps(p, reserved) {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields zero means "unset" because TOML cannot distinguish between
// an explicit 0 and an omitted key. Upstream.TimeoutSeconds is the exception:
// zero keeps the upstream exchange unbounded.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 10 * 1024 * 1024 // 10 MB
	}
	if c.Server.ReadTimeoutSeconds == 0 {
		c.Server.ReadTimeoutSeconds = 30
	}
	if c.Server.IdleTimeoutSeconds == 0 {
		c.Server.IdleTimeoutSeconds = 120
	}
	if c.Server.ShutdownGraceSeconds == 0 {
		c.Server.ShutdownGraceSeconds = 10
	}
	if c.Upstream.BaseURL == "" {
		c.Upstream.BaseURL = DefaultBackendURL
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if c.Routes.HealthPath == "" {
		c.Routes.HealthPath = DefaultHealthPath
	}
	if c.Routes.ProxyPrefix == "" {
		c.Routes.ProxyPrefix = DefaultProxyPrefix
	}
	if len(c.CORS.AllowOrigins) == 0 {
		c.CORS.AllowOrigins = []string{"*"}
	}
	if c.Breaker.FailureThreshold == 0 {
		c.Breaker.FailureThreshold = 5
	}
	if c.Breaker.OpenSeconds == 0 {
		c.Breaker.OpenSeconds = 30
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Tracing.Endpoint == "" {
		c.Tracing.Endpoint = "localhost:4317"
	}
	if c.Tracing.SampleRate == 0 {
		c.Tracing.SampleRate = 1
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func checkPath(field, p string) error {
	if p == "" || p[0] != '/' {
		return fmt.Errorf("%s must start with '/'; got %q", field, p)
	}
	return nil
}

// overlaps reports whether a and b name the same route or one is mounted under the other.
func overlaps(a, b string) bool {
	return a == b || strings.HasPrefix(a, b+"/") || strings.HasPrefix(b, a+"/")
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

// FilePath returns the config file that was loaded, or empty when running on defaults.
func (c *Config) FilePath() string {
	return c.filePath
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
