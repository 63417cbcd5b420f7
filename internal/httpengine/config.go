// ABOUTME: Engine configuration with defaults for timeouts, SSE and body limits
// ABOUTME: Security holds the authentication and authorization stages

package httpengine

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/2389/mcp-runtime/internal/auth"
	"github.com/2389/mcp-runtime/internal/authz"
	"github.com/2389/mcp-runtime/internal/bufpool"
	"github.com/2389/mcp-runtime/internal/oauth2"
	"github.com/2389/mcp-runtime/internal/session"
)

// Defaults
const (
	DefaultAddr              = "127.0.0.1:8080"
	DefaultRequestTimeout    = 30 * time.Second
	DefaultShutdownGrace     = 5 * time.Second
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultRetry             = 3 * time.Second
	DefaultReadHeaderTimeout = 10 * time.Second
)

// Middleware wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

// Security is the pair of stages around body parsing. Either may be nil.
type Security struct {
	Authenticate Middleware
	Authorize    Middleware
}

// NewSecurity builds both stages for one auth data type. The generic
// parameters are resolved at the call site, so each wiring is its own
// concrete middleware pair.
func NewSecurity[D any, S auth.HTTPStrategy[D], P authz.Policy[D]](s S, p P, authOpts auth.MiddlewareOptions, authzOpts authz.MiddlewareOptions) Security {
	return Security{
		Authenticate: auth.Middleware[D](s, authOpts),
		Authorize:    authz.Middleware[D](p, authzOpts),
	}
}

// SSEConfig controls server-sent event streams.
type SSEConfig struct {
	HeartbeatInterval time.Duration
	Retry             time.Duration
	// BufferSize is the per-subscriber message buffer.
	BufferSize int
	// MaxDrops is how many consecutive missed messages drop a subscriber.
	MaxDrops int
	// Legacy mounts GET /sse and POST /messages.
	Legacy bool
}

// Discovery holds the optional OAuth discovery documents.
type Discovery struct {
	AuthorizationServer *oauth2.AuthorizationServerMetadata
	ProtectedResource   *oauth2.ProtectedResourceMetadata
}

// TailscaleConfig serves the engine on a tailnet instead of a TCP address.
type TailscaleConfig struct {
	Enabled   bool
	Hostname  string
	StateDir  string
	AuthKey   string
	Ephemeral bool
	HTTPS     bool
	Funnel    bool
}

// Config configures an Engine.
type Config struct {
	Addr           string
	MaxBodySize    int64
	RequestTimeout time.Duration
	ShutdownGrace  time.Duration

	Buffers  bufpool.Strategy
	Sessions *session.Manager
	Security Security
	// Middleware wraps the whole mux, outermost first.
	Middleware []Middleware
	SSE        SSEConfig
	Discovery  Discovery
	Tailscale  TailscaleConfig

	// SessionClosed is called after a session is terminated by DELETE or
	// reaped by the session manager.
	SessionClosed func(sessionID string)
	Logger        *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.MaxBodySize <= 0 {
		c.MaxBodySize = DefaultMaxBodySize
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = DefaultShutdownGrace
	}
	if c.SSE.HeartbeatInterval <= 0 {
		c.SSE.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.SSE.Retry <= 0 {
		c.SSE.Retry = DefaultRetry
	}
	if c.Buffers == nil {
		c.Buffers = bufpool.Pooled{Pool: bufpool.New(bufpool.Config{})}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
