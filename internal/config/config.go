// ABOUTME: Configuration loading and parsing for mcp-runtime
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config represents the complete mcp-runtime configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Sessions  SessionsConfig  `yaml:"sessions" toml:"sessions"`
	SSE       SSEConfig       `yaml:"sse" toml:"sse"`
	Buffers   BuffersConfig   `yaml:"buffers" toml:"buffers"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth"`
	OAuth2    OAuth2Config    `yaml:"oauth2" toml:"oauth2"`
	Authz     AuthzConfig     `yaml:"authz" toml:"authz"`
	Providers ProvidersConfig `yaml:"providers" toml:"providers"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
}

// Transports
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

// ServerConfig holds the transport and request handling settings
type ServerConfig struct {
	Name         string `yaml:"name" toml:"name"`
	Instructions string `yaml:"instructions,omitempty" toml:"instructions,omitempty"`
	Transport    string `yaml:"transport" toml:"transport"`
	HTTPAddr     string `yaml:"http_addr" toml:"http_addr"`
	MaxBodySize  int64  `yaml:"max_body_size" toml:"max_body_size"`

	RequestTimeout time.Duration `yaml:"-" toml:"-"`
	ShutdownGrace  time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	RequestTimeoutRaw string `yaml:"request_timeout" toml:"request_timeout"`
	ShutdownGraceRaw  string `yaml:"shutdown_grace" toml:"shutdown_grace"`
}

// SessionsConfig holds connection limits and health check settings
type SessionsConfig struct {
	MaxConnections    int     `yaml:"max_connections" toml:"max_connections"`
	MaxRequests       uint64  `yaml:"max_requests" toml:"max_requests"`
	RequestsPerSecond float64 `yaml:"requests_per_second" toml:"requests_per_second"`
	Burst             int     `yaml:"burst" toml:"burst"`

	IdleTimeout   time.Duration `yaml:"-" toml:"-"`
	CheckInterval time.Duration `yaml:"-" toml:"-"`

	IdleTimeoutRaw   string `yaml:"idle_timeout" toml:"idle_timeout"`
	CheckIntervalRaw string `yaml:"check_interval" toml:"check_interval"`
}

// SSEConfig holds event stream settings
type SSEConfig struct {
	BufferSize int  `yaml:"buffer_size" toml:"buffer_size"`
	Legacy     bool `yaml:"legacy" toml:"legacy"`

	HeartbeatInterval time.Duration `yaml:"-" toml:"-"`
	Retry             time.Duration `yaml:"-" toml:"-"`

	HeartbeatIntervalRaw string `yaml:"heartbeat_interval" toml:"heartbeat_interval"`
	RetryRaw             string `yaml:"retry" toml:"retry"`
}

// BuffersConfig selects the request body buffer strategy
type BuffersConfig struct {
	Strategy   string `yaml:"strategy" toml:"strategy"` // pooled or per_request
	MaxBuffers int    `yaml:"max_buffers" toml:"max_buffers"`
	BufferSize int    `yaml:"buffer_size" toml:"buffer_size"`
}

// Authentication strategies
const (
	AuthNone   = "none"
	AuthAPIKey = "apikey"
	AuthOAuth2 = "oauth2"
)

// AuthConfig holds authentication configuration
type AuthConfig struct {
	Strategy     string      `yaml:"strategy" toml:"strategy"`
	Realm        string      `yaml:"realm" toml:"realm"`
	SkipPaths    []string    `yaml:"skip_paths" toml:"skip_paths"`
	APIKeyHeader string      `yaml:"api_key_header" toml:"api_key_header"`
	KeysDB       string      `yaml:"keys_db" toml:"keys_db"`
	StaticKeys   []StaticKey `yaml:"static_keys,omitempty" toml:"static_keys,omitempty"`
}

// StaticKey is an API key configured inline, usually via ${ENV}
type StaticKey struct {
	Name   string   `yaml:"name" toml:"name"`
	Key    string   `yaml:"key" toml:"key"`
	Scopes []string `yaml:"scopes" toml:"scopes"`
}

// OAuth2Config holds token validation and discovery settings
type OAuth2Config struct {
	Issuer                string         `yaml:"issuer" toml:"issuer"`
	Audience              string         `yaml:"audience" toml:"audience"`
	JWKSURL               string         `yaml:"jwks_url" toml:"jwks_url"`
	Secret                string         `yaml:"secret" toml:"secret"`
	Algorithms            []string       `yaml:"algorithms,omitempty" toml:"algorithms,omitempty"`
	CacheSize             int            `yaml:"cache_size" toml:"cache_size"`
	AuthorizationEndpoint string         `yaml:"authorization_endpoint" toml:"authorization_endpoint"`
	TokenEndpoint         string         `yaml:"token_endpoint" toml:"token_endpoint"`
	Resource              string         `yaml:"resource" toml:"resource"`
	ScopeMappings         []ScopeMapping `yaml:"scope_mappings,omitempty" toml:"scope_mappings,omitempty"`

	Leeway           time.Duration `yaml:"-" toml:"-"`
	JWKSRefresh      time.Duration `yaml:"-" toml:"-"`
	CacheTTL         time.Duration `yaml:"-" toml:"-"`
	RefreshThreshold time.Duration `yaml:"-" toml:"-"`

	LeewayRaw           string `yaml:"leeway" toml:"leeway"`
	JWKSRefreshRaw      string `yaml:"jwks_refresh" toml:"jwks_refresh"`
	CacheTTLRaw         string `yaml:"cache_ttl" toml:"cache_ttl"`
	RefreshThresholdRaw string `yaml:"refresh_threshold" toml:"refresh_threshold"`
}

// ScopeMapping overrides the scope required for one method
type ScopeMapping struct {
	Method string `yaml:"method" toml:"method"`
	Scope  string `yaml:"scope" toml:"scope"`
}

// Authorization policies
const (
	PolicyNone  = "none"
	PolicyScope = "scope"
)

// AuthzConfig holds the authorization policy
type AuthzConfig struct {
	Policy        string   `yaml:"policy" toml:"policy"`
	PublicMethods []string `yaml:"public_methods,omitempty" toml:"public_methods,omitempty"`
}

// ProvidersConfig enables the built-in providers
type ProvidersConfig struct {
	FilesystemRoot    string   `yaml:"filesystem_root" toml:"filesystem_root"`
	AllowedExtensions []string `yaml:"allowed_extensions,omitempty" toml:"allowed_extensions,omitempty"`
	MaxFileSize       int64    `yaml:"max_file_size" toml:"max_file_size"`
	Math              bool     `yaml:"math" toml:"math"`
	MathPrecision     int      `yaml:"math_precision" toml:"math_precision"`
	AdvancedMath      bool     `yaml:"advanced_math" toml:"advanced_math"`
	Prompts           bool     `yaml:"prompts" toml:"prompts"`
	ConfigResources   bool     `yaml:"config_resources" toml:"config_resources"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `yaml:"level" toml:"level"`
	Format    string `yaml:"format" toml:"format"` // json, text or console
	File      string `yaml:"file" toml:"file"`
	MaxSizeMB int    `yaml:"max_size_mb" toml:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files" toml:"max_files"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	HTTPS     bool   `yaml:"https" toml:"https"`
	Funnel    bool   `yaml:"funnel" toml:"funnel"` // Enable public Funnel (implies HTTPS)
}

// Default returns a configuration that serves stdio with no authentication.
func Default() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Name:              "mcp-runtime",
			Transport:         TransportStdio,
			HTTPAddr:          "127.0.0.1:8080",
			MaxBodySize:       10 << 20,
			RequestTimeoutRaw: "30s",
			ShutdownGraceRaw:  "5s",
		},
		Sessions: SessionsConfig{
			MaxConnections:   100,
			MaxRequests:      10000,
			IdleTimeoutRaw:   "5m",
			CheckIntervalRaw: "30s",
		},
		SSE: SSEConfig{
			BufferSize:           64,
			HeartbeatIntervalRaw: "30s",
			RetryRaw:             "3s",
		},
		Buffers: BuffersConfig{
			Strategy:   "pooled",
			MaxBuffers: 64,
			BufferSize: 64 << 10,
		},
		Auth: AuthConfig{
			Strategy:     AuthNone,
			Realm:        "mcp",
			SkipPaths:    []string{"/health"},
			APIKeyHeader: "X-API-Key",
			KeysDB:       filepath.Join(DataDir(), "keys.db"),
		},
		OAuth2: OAuth2Config{
			CacheSize:           1000,
			LeewayRaw:           "30s",
			JWKSRefreshRaw:      "1h",
			CacheTTLRaw:         "5m",
			RefreshThresholdRaw: "5m",
		},
		Authz: AuthzConfig{
			Policy: PolicyNone,
		},
		Providers: ProvidersConfig{
			MaxFileSize:   10 << 20,
			Math:          true,
			MathPrecision: 10,
			Prompts:       true,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Format:    "console",
			MaxSizeMB: 10,
			MaxFiles:  5,
		},
	}
	// Defaults are known-good duration strings.
	_ = parseDurations(cfg)
	return cfg
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are parsed as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Keys absent from the file keep their Default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg, err := Parse(expandEnvVars(string(data)), formatOf(path))
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Parse decodes already-expanded configuration text in the given format
// ("yaml" or "toml") on top of Default.
func Parse(text, format string) (*Config, error) {
	cfg := Default()
	switch format {
	case "toml":
		if _, err := toml.Decode(text, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	case "yaml", "":
		if err := yaml.Unmarshal([]byte(text), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q", format)
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}
	return cfg, nil
}

func formatOf(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return "toml"
	}
	return "yaml"
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Marshal renders the configuration as "yaml" or "toml" for config generation.
func (c *Config) Marshal(format string) ([]byte, error) {
	switch format {
	case "yaml", "":
		return yaml.Marshal(c)
	case "toml":
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(c); err != nil {
			return nil, fmt.Errorf("encoding toml: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unsupported config format %q", format)
	}
}

var (
	validFormats    = map[string]bool{"json": true, "text": true, "console": true}
	validLevels     = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validStrategies = map[string]bool{"pooled": true, "per_request": true}
)

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	switch c.Server.Transport {
	case TransportStdio:
	case TransportHTTP:
		if c.Server.HTTPAddr == "" && !c.Tailscale.Enabled {
			return fmt.Errorf("server.http_addr is required (or enable tailscale)")
		}
	default:
		return fmt.Errorf("server.transport must be %q or %q, got %q", TransportStdio, TransportHTTP, c.Server.Transport)
	}
	if c.Server.MaxBodySize <= 0 {
		return fmt.Errorf("server.max_body_size must be positive")
	}

	if c.Sessions.MaxConnections <= 0 {
		return fmt.Errorf("sessions.max_connections must be positive")
	}
	if c.Sessions.RequestsPerSecond < 0 {
		return fmt.Errorf("sessions.requests_per_second must not be negative")
	}

	if !validStrategies[c.Buffers.Strategy] {
		return fmt.Errorf("buffers.strategy must be pooled or per_request, got %q", c.Buffers.Strategy)
	}

	switch c.Auth.Strategy {
	case AuthNone:
	case AuthAPIKey:
		if c.Auth.KeysDB == "" && len(c.Auth.StaticKeys) == 0 {
			return fmt.Errorf("auth.keys_db or auth.static_keys is required for the apikey strategy")
		}
		for i, k := range c.Auth.StaticKeys {
			if k.Key == "" {
				return fmt.Errorf("auth.static_keys[%d].key is empty", i)
			}
		}
	case AuthOAuth2:
		if c.OAuth2.Secret == "" && c.OAuth2.JWKSURL == "" {
			return fmt.Errorf("oauth2.secret or oauth2.jwks_url is required for the oauth2 strategy")
		}
	default:
		return fmt.Errorf("auth.strategy must be none, apikey or oauth2, got %q", c.Auth.Strategy)
	}

	switch c.Authz.Policy {
	case PolicyNone:
	case PolicyScope:
		if c.Auth.Strategy == AuthNone {
			return fmt.Errorf("authz.policy scope requires an auth strategy")
		}
	default:
		return fmt.Errorf("authz.policy must be none or scope, got %q", c.Authz.Policy)
	}
	for i, m := range c.OAuth2.ScopeMappings {
		if m.Method == "" || m.Scope == "" {
			return fmt.Errorf("oauth2.scope_mappings[%d] needs both method and scope", i)
		}
	}

	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be json, text or console, got %q", c.Logging.Format)
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	return nil
}

type durationField struct {
	name string
	raw  *string
	dst  *time.Duration
}

func (c *Config) durationFields() []durationField {
	return []durationField{
		{"server.request_timeout", &c.Server.RequestTimeoutRaw, &c.Server.RequestTimeout},
		{"server.shutdown_grace", &c.Server.ShutdownGraceRaw, &c.Server.ShutdownGrace},
		{"sessions.idle_timeout", &c.Sessions.IdleTimeoutRaw, &c.Sessions.IdleTimeout},
		{"sessions.check_interval", &c.Sessions.CheckIntervalRaw, &c.Sessions.CheckInterval},
		{"sse.heartbeat_interval", &c.SSE.HeartbeatIntervalRaw, &c.SSE.HeartbeatInterval},
		{"sse.retry", &c.SSE.RetryRaw, &c.SSE.Retry},
		{"oauth2.leeway", &c.OAuth2.LeewayRaw, &c.OAuth2.Leeway},
		{"oauth2.jwks_refresh", &c.OAuth2.JWKSRefreshRaw, &c.OAuth2.JWKSRefresh},
		{"oauth2.cache_ttl", &c.OAuth2.CacheTTLRaw, &c.OAuth2.CacheTTL},
		{"oauth2.refresh_threshold", &c.OAuth2.RefreshThresholdRaw, &c.OAuth2.RefreshThreshold},
	}
}

// parseDurations converts the raw duration strings into time.Duration values.
// An empty raw string leaves the duration at zero.
func parseDurations(cfg *Config) error {
	for _, f := range cfg.durationFields() {
		if *f.raw == "" {
			*f.dst = 0
			continue
		}
		d, err := time.ParseDuration(*f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, *f.raw, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must not be negative", f.name)
		}
		*f.dst = d
	}
	return nil
}

const appName = "mcp-runtime"

// ConfigDir returns the configuration directory.
// Priority: MCP_RUNTIME_CONFIG_DIR > XDG_CONFIG_HOME/mcp-runtime > ~/.config/mcp-runtime
func ConfigDir() string {
	if dir := os.Getenv("MCP_RUNTIME_CONFIG_DIR"); dir != "" {
		return dir
	}
	return xdgDir("XDG_CONFIG_HOME", ".config")
}

// LogDir returns the log directory.
// Priority: MCP_RUNTIME_LOG_DIR > XDG_STATE_HOME/mcp-runtime/logs > ~/.local/state/mcp-runtime/logs
func LogDir() string {
	if dir := os.Getenv("MCP_RUNTIME_LOG_DIR"); dir != "" {
		return dir
	}
	return filepath.Join(xdgDir("XDG_STATE_HOME", filepath.Join(".local", "state")), "logs")
}

// DataDir returns the data directory holding the API key database.
// Priority: XDG_DATA_HOME/mcp-runtime > ~/.local/share/mcp-runtime
func DataDir() string {
	return xdgDir("XDG_DATA_HOME", filepath.Join(".local", "share"))
}

// DefaultPath is the config file used when none is given.
func DefaultPath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

func xdgDir(env, homeRel string) string {
	base := os.Getenv(env)
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return appName // fallback
		}
		base = filepath.Join(home, homeRel)
	}
	return filepath.Join(base, appName)
}
