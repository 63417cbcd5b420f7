// ABOUTME: HTTP engine serving MCP POST and SSE routes behind the security stages
// ABOUTME: Implements transport.Transport by correlating handler replies to waiting POSTs

package httpengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"tailscale.com/tsnet"

	"github.com/2389/mcp-runtime/internal/jsonrpc"
	"github.com/2389/mcp-runtime/internal/oauth2"
	"github.com/2389/mcp-runtime/internal/session"
	"github.com/2389/mcp-runtime/internal/transport"
)

// ErrNoStream is returned by Send when a message has no waiting request and
// the session has no SSE subscriber.
var ErrNoStream = errors.New("httpengine: no stream for session")

// Engine is the HTTP transport.
type Engine struct {
	cfg      Config
	mux      http.Handler
	server   *http.Server
	stream   *Broadcaster
	sessions *session.Manager
	logger   *slog.Logger

	mu       sync.RWMutex
	handler  transport.MessageHandler
	current  string
	running  bool
	listener net.Listener
	ts       *tsnet.Server
	pending  map[string]chan *jsonrpc.Message
	cancel   context.CancelFunc
	errCh    chan error

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

var _ transport.Transport = (*Engine)(nil)

// New creates an engine. Nothing listens until Start or Run.
func New(cfg Config) *Engine {
	cfg.applyDefaults()
	e := &Engine{
		cfg:      cfg,
		stream:   NewBroadcaster(cfg.SSE.BufferSize, cfg.SSE.MaxDrops, cfg.Logger),
		sessions: cfg.Sessions,
		logger:   cfg.Logger.With("component", "httpengine"),
		pending:  make(map[string]chan *jsonrpc.Message),
		errCh:    make(chan error, 1),
		done:     make(chan struct{}),
	}
	e.mux = e.routes()
	e.server = &http.Server{
		Handler:           e.mux,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
	}
	if e.sessions != nil {
		e.sessions.OnClose(func(info session.ConnectionInfo) {
			if info.SessionID != "" {
				e.sessionEnded(info.SessionID)
			}
		})
	}
	return e
}

func (e *Engine) routes() http.Handler {
	mcp := http.NewServeMux()
	mcp.HandleFunc("/mcp", e.handleMCP)
	mcp.HandleFunc("/mcp/", e.handleMCP)
	if e.cfg.SSE.Legacy {
		mcp.HandleFunc("GET /sse", e.handleLegacyStream)
		mcp.HandleFunc("POST /messages", e.handleLegacyMessage)
	}

	var secured http.Handler = mcp
	if e.cfg.Security.Authorize != nil {
		secured = e.cfg.Security.Authorize(secured)
	}
	secured = ParseMiddleware(ParseOptions{
		Strategy:    e.cfg.Buffers,
		MaxBodySize: e.cfg.MaxBodySize,
		Logger:      e.cfg.Logger,
	})(secured)
	if e.cfg.Security.Authenticate != nil {
		secured = e.cfg.Security.Authenticate(secured)
	}

	root := http.NewServeMux()
	root.HandleFunc("GET /health", e.handleHealth)
	if md := e.cfg.Discovery.AuthorizationServer; md != nil {
		root.Handle("GET /.well-known/oauth-authorization-server", oauth2.MetadataHandler(md))
	}
	if md := e.cfg.Discovery.ProtectedResource; md != nil {
		root.Handle("GET /.well-known/oauth-protected-resource", oauth2.MetadataHandler(md))
	}
	root.Handle("/", secured)

	var h http.Handler = root
	for i := len(e.cfg.Middleware) - 1; i >= 0; i-- {
		h = e.cfg.Middleware[i](h)
	}
	return h
}

// ServeHTTP lets the engine be mounted directly, as tests do with httptest.
func (e *Engine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	e.mux.ServeHTTP(w, r)
}

// Broadcaster exposes the SSE fan-out.
func (e *Engine) Broadcaster() *Broadcaster { return e.stream }

// SetMessageHandler installs the handler receiving inbound envelopes.
func (e *Engine) SetMessageHandler(h transport.MessageHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handler = h
}

func (e *Engine) messageHandler() transport.MessageHandler {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.handler
}

// Start binds the listener and serves in the background. Serve errors are
// reported by Run and to the handler's HandleError.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.handler == nil {
		e.mu.Unlock()
		return transport.ErrNoHandler
	}
	if e.running {
		e.mu.Unlock()
		return transport.ErrAlreadyRunning
	}
	select {
	case <-e.done:
		e.mu.Unlock()
		return transport.ErrClosed
	default:
	}
	e.running = true
	e.mu.Unlock()

	ln, err := e.listen(ctx)
	if err != nil {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
		return err
	}

	bg, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	e.listener = ln
	e.cancel = cancel
	e.mu.Unlock()

	if e.sessions != nil {
		go e.sessions.Run(bg)
	}
	go func() {
		e.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := e.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			err = transport.NewError(transport.KindIO, "http server", err)
			if h := e.messageHandler(); h != nil {
				h.HandleError(err)
			}
			select {
			case e.errCh <- err:
			default:
			}
		}
	}()
	return nil
}

// Run starts the engine and blocks until ctx is cancelled or the server
// fails, then shuts down within the configured grace window.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Start(ctx); err != nil {
		return err
	}

	var serveErr error
	select {
	case <-ctx.Done():
		e.logger.Info("context canceled, initiating shutdown")
	case serveErr = <-e.errCh:
		e.logger.Error("server error", "error", serveErr)
	case <-e.done:
	}

	closeErr := e.Close()
	if serveErr != nil {
		return serveErr
	}
	return closeErr
}

// Addr returns the bound address once started.
func (e *Engine) Addr() net.Addr {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.listener == nil {
		return nil
	}
	return e.listener.Addr()
}

// Close shuts down with a fresh context bounded by the shutdown grace.
func (e *Engine) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.ShutdownGrace)
	defer cancel()
	return e.Shutdown(ctx)
}

// Shutdown stops accepting requests, ends SSE streams and waits for in-flight
// requests until ctx expires. Only the first call does any work.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.closeOnce.Do(func() {
		e.logger.Info("shutting down HTTP engine")
		close(e.done)

		e.mu.Lock()
		wasRunning := e.running
		e.running = false
		cancel := e.cancel
		ts := e.ts
		h := e.handler
		e.mu.Unlock()

		var errs []error
		if wasRunning {
			if err := e.server.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
				_ = e.server.Close()
			}
		}
		if cancel != nil {
			cancel()
		}
		if ts != nil {
			if err := ts.Close(); err != nil {
				errs = append(errs, fmt.Errorf("tailscale shutdown: %w", err))
			}
		}
		e.stream.Close()
		if h != nil {
			h.HandleClose()
		}
		e.closeErr = errors.Join(errs...)
	})
	return e.closeErr
}

// Send routes an outbound envelope. A response goes to the POST waiting for
// its session and id; anything else goes to the session's SSE streams, or to
// every stream when the context carries no session.
func (e *Engine) Send(ctx context.Context, msg *jsonrpc.Message) error {
	sid, ok := transport.SessionIDFromContext(ctx)
	if !ok {
		sid = e.SessionID()
	}

	if msg.IsResponse() && msg.ID != nil {
		e.mu.RLock()
		slot, waiting := e.pending[replyKey(sid, *msg.ID)]
		e.mu.RUnlock()
		if waiting {
			select {
			case slot <- msg:
				return nil
			default:
				return transport.NewError(transport.KindProtocol, "duplicate response for "+msg.ID.String(), nil)
			}
		}
	}

	if sid == "" {
		if e.stream.PublishAll(msg) == 0 {
			return transport.NewError(transport.KindSession, "no open streams", ErrNoStream)
		}
		return nil
	}
	if e.stream.Publish(sid, msg) == 0 {
		return transport.NewError(transport.KindSession, "session "+sid, ErrNoStream)
	}
	return nil
}

// SessionID returns the session set by SetSessionContext.
func (e *Engine) SessionID() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.current
}

// SetSessionContext sets the session used by Send when the context has none.
func (e *Engine) SetSessionContext(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.current = sessionID
}

// IsConnected reports whether the server is accepting requests.
func (e *Engine) IsConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

func (e *Engine) Type() transport.Type { return transport.TypeHTTP }

func replyKey(sessionID string, id jsonrpc.ID) string {
	return sessionID + "\x00" + id.Key()
}

func (e *Engine) expect(key string) (chan *jsonrpc.Message, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, dup := e.pending[key]; dup {
		return nil, false
	}
	ch := make(chan *jsonrpc.Message, 1)
	e.pending[key] = ch
	return ch, true
}

func (e *Engine) forget(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.pending, key)
}

// admit binds the session to a connection record, enforcing capacity.
func (e *Engine) admit(w http.ResponseWriter, id *jsonrpc.ID, sessionID, peer string) bool {
	if e.sessions == nil {
		return true
	}
	_, err := e.sessions.Bind(sessionID, peer)
	switch {
	case err == nil:
		return true
	case errors.Is(err, session.ErrConnectionLimit):
		writeMessage(w, http.StatusServiceUnavailable, jsonrpc.NewError(id,
			jsonrpc.NewErrorObject(jsonrpc.CodeConnectionLimit, "Connection limit reached", nil)))
	case errors.Is(err, session.ErrRateLimited):
		writeMessage(w, http.StatusTooManyRequests, jsonrpc.NewError(id,
			jsonrpc.NewErrorObject(jsonrpc.CodeServerBusy, "Server busy", "request rate limit exceeded")))
	default:
		e.logger.Error("session bind failed", "session_id", sessionID, "error", err)
		writeMessage(w, http.StatusInternalServerError, jsonrpc.NewError(id, jsonrpc.InternalError(nil)))
	}
	return false
}

func (e *Engine) handleMCP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		e.handlePost(w, r)
	case http.MethodGet:
		if r.URL.Path != "/mcp" {
			http.Error(w, "Bad Request: unsupported path", http.StatusBadRequest)
			return
		}
		e.handleStream(w, r)
	case http.MethodDelete:
		e.handleDelete(w, r)
	default:
		w.Header().Set("Allow", "POST, GET, DELETE")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	}
}

func (e *Engine) messageContext(r *http.Request, sessionID string) *transport.MessageContext {
	mc := transport.NewMessageContext(sessionID)
	mc.RemoteAddr = r.RemoteAddr
	mc.Method = r.Method
	mc.Path = r.URL.Path
	mc.Headers = r.Header.Clone()
	return mc
}

// handlePost delivers one envelope and, for requests, waits for the reply.
func (e *Engine) handlePost(w http.ResponseWriter, r *http.Request) {
	msg, ok := jsonrpc.MessageFromContext(r.Context())
	if !ok {
		writeMessage(w, http.StatusBadRequest, jsonrpc.NewError(nil, jsonrpc.InvalidRequest("missing body")))
		return
	}

	sid, src := ExtractSessionID(r)
	w.Header().Set(SessionHeader, sid)
	if !e.admit(w, msg.ID, sid, r.RemoteAddr) {
		return
	}

	h := e.messageHandler()
	if h == nil {
		writeMessage(w, http.StatusServiceUnavailable, jsonrpc.NewError(msg.ID,
			jsonrpc.NewErrorObject(jsonrpc.CodeServerError, "Server not ready", nil)))
		return
	}

	e.logger.Debug("MCP request",
		"method", msg.Method,
		"kind", msg.Kind().String(),
		"session_id", sid,
		"session_source", string(src),
	)

	ctx := transport.WithSessionID(r.Context(), sid)
	mc := e.messageContext(r, sid)
	if !msg.IsRequest() {
		h.HandleMessage(ctx, msg, mc)
		w.WriteHeader(http.StatusAccepted)
		return
	}

	key := replyKey(sid, *msg.ID)
	slot, ok := e.expect(key)
	if !ok {
		writeMessage(w, http.StatusBadRequest, jsonrpc.NewError(msg.ID,
			jsonrpc.InvalidRequest("request id already in flight for this session")))
		return
	}
	defer e.forget(key)

	h.HandleMessage(ctx, msg, mc)

	timer := time.NewTimer(e.cfg.RequestTimeout)
	defer timer.Stop()
	select {
	case resp := <-slot:
		writeMessage(w, http.StatusOK, resp)
	case <-timer.C:
		e.logger.Warn("request timed out", "method", msg.Method, "session_id", sid, "timeout", e.cfg.RequestTimeout)
		writeMessage(w, http.StatusOK, jsonrpc.NewError(msg.ID,
			jsonrpc.NewErrorObject(jsonrpc.CodeRequestTimeout, "Request timeout", nil)))
	case <-r.Context().Done():
	case <-e.done:
		writeMessage(w, http.StatusServiceUnavailable, jsonrpc.NewError(msg.ID,
			jsonrpc.NewErrorObject(jsonrpc.CodeServerError, "Server shutting down", nil)))
	}
}

// handleDelete terminates a session.
func (e *Engine) handleDelete(w http.ResponseWriter, r *http.Request) {
	sid := r.Header.Get(SessionHeader)
	if sid == "" {
		http.Error(w, "Bad Request: missing Mcp-Session-Id", http.StatusBadRequest)
		return
	}
	// Release runs the OnClose hook, which ends the session itself.
	if e.sessions == nil || !e.sessions.Release(sid) {
		e.sessionEnded(sid)
	}
	e.logger.Info("MCP session terminated", "session_id", sid)
	w.WriteHeader(http.StatusNoContent)
}

func (e *Engine) sessionEnded(sessionID string) {
	e.stream.CloseSession(sessionID)
	if e.cfg.SessionClosed != nil {
		e.cfg.SessionClosed(sessionID)
	}
}

type healthBody struct {
	Status string `json:"status"`
}

func (e *Engine) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(healthBody{Status: "healthy"})
}

func acceptsEventStream(r *http.Request) bool {
	for _, v := range r.Header.Values("Accept") {
		for _, part := range strings.Split(v, ",") {
			mt, _, _ := strings.Cut(strings.TrimSpace(part), ";")
			if mt == "text/event-stream" {
				return true
			}
		}
	}
	return false
}
