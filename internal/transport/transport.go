// ABOUTME: Transport, Client and MessageHandler interfaces shared by all transports
// ABOUTME: MessageContext carries per-envelope session and request metadata

package transport

import (
	"context"
	"net/http"
	"time"

	"github.com/2389/mcp-runtime/internal/jsonrpc"
)

// Type names a transport implementation.
type Type string

const (
	TypeStdio Type = "stdio"
	TypeHTTP  Type = "http"
	TypeSSE   Type = "sse"
)

// MessageContext describes where an envelope came from.
type MessageContext struct {
	SessionID  string
	RemoteAddr string
	Method     string
	Path       string
	Headers    http.Header
	ReceivedAt time.Time
	Metadata   map[string]string
}

// NewMessageContext returns a context stamped with the current time.
func NewMessageContext(sessionID string) *MessageContext {
	return &MessageContext{
		SessionID:  sessionID,
		ReceivedAt: time.Now(),
		Metadata:   make(map[string]string),
	}
}

// MessageHandler consumes envelopes produced by a transport.
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg *jsonrpc.Message, mc *MessageContext)
	HandleError(err error)
	HandleClose()
}

// Transport is the server side of a wire transport.
type Transport interface {
	// Start begins delivering envelopes to the handler. It fails with
	// ErrNoHandler when no handler is set and ErrAlreadyRunning on a second call.
	Start(ctx context.Context) error
	// Close stops the transport. Calling it more than once is a no-op.
	Close() error
	// Send writes an outbound envelope. Responses are routed by id to the
	// session that issued the request; other messages go to the current
	// session context.
	Send(ctx context.Context, msg *jsonrpc.Message) error
	SetMessageHandler(h MessageHandler)
	SessionID() string
	SetSessionContext(sessionID string)
	IsConnected() bool
	Type() Type
}

// Client performs request/response exchanges against a remote server.
type Client interface {
	Call(ctx context.Context, req *jsonrpc.Message) (*jsonrpc.Message, error)
	IsReady() bool
	Type() Type
	Close() error
}

// HandlerFuncs adapts plain functions to MessageHandler. Nil fields are ignored.
type HandlerFuncs struct {
	OnMessage func(ctx context.Context, msg *jsonrpc.Message, mc *MessageContext)
	OnError   func(err error)
	OnClose   func()
}

func (h HandlerFuncs) HandleMessage(ctx context.Context, msg *jsonrpc.Message, mc *MessageContext) {
	if h.OnMessage != nil {
		h.OnMessage(ctx, msg, mc)
	}
}

func (h HandlerFuncs) HandleError(err error) {
	if h.OnError != nil {
		h.OnError(err)
	}
}

func (h HandlerFuncs) HandleClose() {
	if h.OnClose != nil {
		h.OnClose()
	}
}

type sessionKey struct{}

// WithSessionID attaches the originating session id to ctx so replies sent
// through Send can be routed without shared mutable state.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionKey{}, sessionID)
}

// SessionIDFromContext returns the session id set by WithSessionID.
func SessionIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(sessionKey{}).(string)
	return id, ok && id != ""
}
