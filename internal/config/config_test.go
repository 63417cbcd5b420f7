// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, env var expansion, durations, validation and paths

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, TransportStdio, cfg.Server.Transport)
	assert.Equal(t, 30*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, 5*time.Second, cfg.Server.ShutdownGrace)
	assert.Equal(t, 30*time.Second, cfg.SSE.HeartbeatInterval)
	assert.Equal(t, 5*time.Minute, cfg.OAuth2.CacheTTL)
}

func TestLoad_YAML(t *testing.T) {
	t.Setenv("TEST_JWT_SECRET", "s3cret")
	path := writeConfig(t, "config.yaml", `
server:
  transport: http
  http_addr: "0.0.0.0:9090"
  request_timeout: "10s"

sessions:
  max_connections: 2
  idle_timeout: "1m"

auth:
  strategy: oauth2

oauth2:
  secret: "${TEST_JWT_SECRET}"
  leeway: "5s"
  scope_mappings:
    - method: "tools/call"
      scope: "mcp:tools:run"

authz:
  policy: scope

logging:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, TransportHTTP, cfg.Server.Transport)
	assert.Equal(t, "0.0.0.0:9090", cfg.Server.HTTPAddr)
	assert.Equal(t, 10*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, 5*time.Second, cfg.Server.ShutdownGrace, "unset keys keep defaults")
	assert.Equal(t, 2, cfg.Sessions.MaxConnections)
	assert.Equal(t, time.Minute, cfg.Sessions.IdleTimeout)
	assert.Equal(t, "s3cret", cfg.OAuth2.Secret)
	assert.Equal(t, 5*time.Second, cfg.OAuth2.Leeway)
	assert.Equal(t, []ScopeMapping{{Method: "tools/call", Scope: "mcp:tools:run"}}, cfg.OAuth2.ScopeMappings)
	assert.Equal(t, PolicyScope, cfg.Authz.Policy)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_TOML(t *testing.T) {
	path := writeConfig(t, "config.toml", `
[server]
transport = "http"
http_addr = "127.0.0.1:7070"

[sse]
heartbeat_interval = "15s"
legacy = true

[auth]
strategy = "apikey"

[[auth.static_keys]]
name = "ci"
key = "k-123"
scopes = ["mcp:tools:*"]
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7070", cfg.Server.HTTPAddr)
	assert.Equal(t, 15*time.Second, cfg.SSE.HeartbeatInterval)
	assert.True(t, cfg.SSE.Legacy)
	require.Len(t, cfg.Auth.StaticKeys, 1)
	assert.Equal(t, StaticKey{Name: "ci", Key: "k-123", Scopes: []string{"mcp:tools:*"}}, cfg.Auth.StaticKeys[0])
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"bad yaml", "c.yaml", "server: [unclosed"},
		{"bad toml", "c.toml", "[server\n"},
		{"bad duration", "c.yaml", "server:\n  request_timeout: soon\n"},
		{"negative duration", "c.yaml", "sse:\n  retry: -1s\n"},
		{"bad transport", "c.yaml", "server:\n  transport: grpc\n"},
		{"oauth2 without keys", "c.yaml", "auth:\n  strategy: oauth2\n"},
		{"scope policy without auth", "c.yaml", "authz:\n  policy: scope\n"},
		{"bad level", "c.yaml", "logging:\n  level: loud\n"},
		{"tailscale without hostname", "c.yaml", "tailscale:\n  enabled: true\n"},
		{"empty static key", "c.yaml", "auth:\n  strategy: apikey\n  static_keys:\n    - name: x\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.file, tt.content))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("CFG_A", "alpha")
	os.Unsetenv("CFG_UNSET")
	assert.Equal(t, "x=alpha y= z=$CFG_A", expandEnvVars("x=${CFG_A} y=${CFG_UNSET} z=$CFG_A"))
}

func TestMarshalRoundTrip(t *testing.T) {
	for _, format := range []string{"yaml", "toml"} {
		t.Run(format, func(t *testing.T) {
			orig := Default()
			orig.Server.Transport = TransportHTTP
			orig.Sessions.RequestsPerSecond = 2.5

			data, err := orig.Marshal(format)
			require.NoError(t, err)

			got, err := Parse(string(data), format)
			require.NoError(t, err)
			assert.Equal(t, orig, got)
		})
	}

	_, err := Default().Marshal("ini")
	assert.Error(t, err)
}

func TestDirs(t *testing.T) {
	t.Setenv("MCP_RUNTIME_CONFIG_DIR", "/etc/mcp")
	t.Setenv("MCP_RUNTIME_LOG_DIR", "/var/log/mcp")
	assert.Equal(t, "/etc/mcp", ConfigDir())
	assert.Equal(t, "/var/log/mcp", LogDir())
	assert.Equal(t, "/etc/mcp/config.yaml", DefaultPath())

	t.Setenv("MCP_RUNTIME_CONFIG_DIR", "")
	t.Setenv("MCP_RUNTIME_LOG_DIR", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg/config")
	t.Setenv("XDG_STATE_HOME", "/xdg/state")
	t.Setenv("XDG_DATA_HOME", "/xdg/data")
	assert.Equal(t, "/xdg/config/mcp-runtime", ConfigDir())
	assert.Equal(t, "/xdg/state/mcp-runtime/logs", LogDir())
	assert.Equal(t, "/xdg/data/mcp-runtime", DataDir())
}
