// ABOUTME: MCP server: per-session handshake state machine and method router
// ABOUTME: Implements transport.MessageHandler and replies through the attached transport

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/2389/mcp-runtime/internal/jsonrpc"
	"github.com/2389/mcp-runtime/internal/protocol"
	"github.com/2389/mcp-runtime/internal/providers"
	"github.com/2389/mcp-runtime/internal/transport"
)

// ErrNoSender is returned by outbound operations before a transport is attached.
var ErrNoSender = errors.New("mcp: no transport attached")

// Sender is the outbound half of a transport.
type Sender interface {
	Send(ctx context.Context, msg *jsonrpc.Message) error
}

// Config holds configuration for the MCP server. Nil providers disable the
// matching methods and capability sections. listChanged and subscribe are
// advertised only for providers that implement providers.ChangeNotifier.
type Config struct {
	Info         protocol.Implementation
	Instructions string

	Resources providers.ResourceProvider
	Tools     providers.ToolProvider
	Prompts   providers.PromptProvider
	Logging   providers.LoggingHandler

	// RequestTimeout bounds each request handler. Zero disables the bound.
	RequestTimeout time.Duration
	// MaxPending bounds queued requests per session.
	MaxPending int
	Logger     *slog.Logger
}

type handlerFunc func(ctx context.Context, sess *session, params json.RawMessage) (any, error)

// Server routes MCP methods to providers.
type Server struct {
	info         protocol.Implementation
	instructions string
	resources    providers.ResourceProvider
	tools        providers.ToolProvider
	prompts      providers.PromptProvider
	logging      providers.LoggingHandler
	timeout      time.Duration
	caps         protocol.ServerCapabilities
	routes       map[string]handlerFunc
	dispatch     *transport.Dispatcher
	logger       *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*session
	sender   Sender
}

var _ transport.MessageHandler = (*Server)(nil)

// NewServer builds the router for the configured providers.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Info.Name == "" {
		cfg.Info = protocol.Implementation{Name: "mcp-runtime", Version: "dev"}
	}

	s := &Server{
		info:         cfg.Info,
		instructions: cfg.Instructions,
		resources:    cfg.Resources,
		tools:        cfg.Tools,
		prompts:      cfg.Prompts,
		logging:      cfg.Logging,
		timeout:      cfg.RequestTimeout,
		dispatch:     transport.NewDispatcher(cfg.MaxPending),
		logger:       logger.With("component", "mcp"),
		sessions:     make(map[string]*session),
	}

	s.routes = map[string]handlerFunc{
		protocol.MethodInitialize:  s.handleInitialize,
		protocol.MethodInitialized: s.handleInitialized,
		protocol.MethodPing:        s.handlePing,
	}
	if s.resources != nil {
		notifies := s.watch(s.resources, protocol.NotificationResourceListChanged)
		s.caps.Resources = &protocol.ResourcesCapability{Subscribe: notifies, ListChanged: notifies}
		s.routes[protocol.MethodResourcesList] = s.handleResourcesList
		s.routes[protocol.MethodResourcesRead] = s.handleResourcesRead
		s.routes[protocol.MethodResourcesTemplatesList] = s.handleResourceTemplatesList
		if notifies {
			s.routes[protocol.MethodResourcesSubscribe] = s.handleSubscribe
			s.routes[protocol.MethodResourcesUnsubscribe] = s.handleUnsubscribe
		}
	}
	if s.tools != nil {
		s.caps.Tools = &protocol.ToolsCapability{
			ListChanged: s.watch(s.tools, protocol.NotificationToolListChanged),
		}
		s.routes[protocol.MethodToolsList] = s.handleToolsList
		s.routes[protocol.MethodToolsCall] = s.handleToolsCall
	}
	if s.prompts != nil {
		s.caps.Prompts = &protocol.PromptsCapability{
			ListChanged: s.watch(s.prompts, protocol.NotificationPromptListChanged),
		}
		s.routes[protocol.MethodPromptsList] = s.handlePromptsList
		s.routes[protocol.MethodPromptsGet] = s.handlePromptsGet
	}
	if s.logging != nil {
		s.caps.Logging = &protocol.LoggingCapability{}
		s.routes[protocol.MethodLoggingSetLevel] = s.handleSetLevel
		if pub, ok := s.logging.(providers.LogPublisher); ok {
			pub.OnEntry(s.publishLog)
		}
	}
	return s
}

// Capabilities returns what initialize advertises.
func (s *Server) Capabilities() protocol.ServerCapabilities { return s.caps }

// Methods lists the routed method names.
func (s *Server) Methods() []string {
	out := make([]string, 0, len(s.routes))
	for m := range s.routes {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// Attach sets the transport used for replies and notifications.
func (s *Server) Attach(sender Sender) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sender = sender
}

// Serve attaches t, installs the server as its handler and starts it.
func (s *Server) Serve(ctx context.Context, t transport.Transport) error {
	s.Attach(t)
	t.SetMessageHandler(s)
	return t.Start(ctx)
}

// Close waits for queued requests to finish and rejects new ones.
func (s *Server) Close() {
	s.dispatch.Close()
}

func (s *Server) session(id string) *session {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if ok {
		return sess
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		return sess
	}
	sess = newSession(id)
	s.sessions[id] = sess
	return sess
}

// Session returns a snapshot of one session.
func (s *Server) Session(id string) (SessionInfo, bool) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return SessionInfo{}, false
	}
	return sess.info(), true
}

// Sessions returns snapshots of every known session.
func (s *Server) Sessions() []SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]SessionInfo, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.info())
	}
	return out
}

// CloseSession moves a session to Terminal and forgets it. A later message
// with the same id starts a new handshake.
func (s *Server) CloseSession(id string) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if ok {
		sess.setState(StateTerminal)
		s.logger.Debug("session closed", "session_id", id)
	}
}

// HandleMessage queues the envelope behind earlier work for the same session
// and returns immediately.
func (s *Server) HandleMessage(ctx context.Context, msg *jsonrpc.Message, mc *transport.MessageContext) {
	sessionID := ""
	if mc != nil {
		sessionID = mc.SessionID
	}
	if sessionID == "" {
		sessionID, _ = transport.SessionIDFromContext(ctx)
	}
	if msg.IsResponse() {
		s.logger.Debug("ignoring response envelope", "session_id", sessionID)
		return
	}

	err := s.dispatch.Submit(sessionID, func() {
		resp := s.Handle(ctx, sessionID, msg)
		if resp == nil {
			return
		}
		if err := s.send(ctx, sessionID, resp); err != nil {
			s.logger.Warn("failed to send response", "session_id", sessionID, "error", err)
		}
	})
	if err != nil && msg.ID != nil {
		e := &Error{Kind: KindBusy, Message: err.Error()}
		if sendErr := s.send(ctx, sessionID, jsonrpc.NewError(msg.ID, e.ErrorObject())); sendErr != nil {
			s.logger.Warn("failed to send busy response", "session_id", sessionID, "error", sendErr)
		}
	}
}

// HandleError logs transport failures. The transport decides whether to continue.
func (s *Server) HandleError(err error) {
	s.logger.Warn("transport error", "error", err, "recoverable", transport.IsRecoverable(err))
}

// HandleClose moves every session to Terminal.
func (s *Server) HandleClose() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sess := range s.sessions {
		sess.setState(StateTerminal)
	}
	s.logger.Info("transport closed", "sessions", len(s.sessions))
}

func (s *Server) send(ctx context.Context, sessionID string, msg *jsonrpc.Message) error {
	s.mu.RLock()
	sender := s.sender
	s.mu.RUnlock()
	if sender == nil {
		return ErrNoSender
	}
	return sender.Send(transport.WithSessionID(ctx, sessionID), msg)
}

// Handle processes one envelope synchronously and returns the reply, or nil
// for notifications and responses.
func (s *Server) Handle(ctx context.Context, sessionID string, msg *jsonrpc.Message) *jsonrpc.Message {
	if eo := jsonrpc.Validate(msg); eo != nil {
		var id *jsonrpc.ID
		if msg != nil {
			id = msg.ID
		}
		return jsonrpc.NewError(id, eo)
	}
	if msg.IsResponse() {
		return nil
	}

	sess := s.session(sessionID)
	if msg.IsNotification() {
		s.handleNotification(sess, msg)
		return nil
	}

	start := time.Now()
	result, err := s.call(ctx, sess, msg)
	if err != nil {
		me := classify(err)
		s.logger.Warn("request failed",
			"session_id", sessionID,
			"method", msg.Method,
			"id", msg.ID.String(),
			"kind", me.Kind,
			"error", me.Message,
		)
		return jsonrpc.NewError(msg.ID, me.ErrorObject())
	}

	resp, err := jsonrpc.NewResult(msg.ID, result)
	if err != nil {
		s.logger.Error("failed to encode result", "method", msg.Method, "error", err)
		return jsonrpc.NewError(msg.ID, jsonrpc.InternalError("failed to encode result"))
	}
	s.logger.Debug("request served",
		"session_id", sessionID,
		"method", msg.Method,
		"id", msg.ID.String(),
		"duration", time.Since(start),
	)
	return resp
}

func (s *Server) call(ctx context.Context, sess *session, msg *jsonrpc.Message) (any, error) {
	h, ok := s.routes[msg.Method]
	if !ok {
		return nil, methodNotFound(msg.Method)
	}

	state := sess.State()
	switch msg.Method {
	case protocol.MethodInitialize, protocol.MethodInitialized:
		// these check and move the state themselves
	case protocol.MethodPing:
		if state == StateTerminal {
			return nil, invalidState(state, msg.Method)
		}
	default:
		if state != StateOperational {
			return nil, invalidState(state, msg.Method)
		}
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	return h(ctx, sess, msg.Params)
}

func invalidState(state State, method string) *Error {
	return newError(KindInvalidState, "%s not allowed in state %s", method, state)
}

func (s *Server) handleNotification(sess *session, msg *jsonrpc.Message) {
	switch msg.Method {
	case protocol.MethodInitialized, protocol.NotificationInitialized:
		if err := s.markInitialized(sess); err != nil {
			s.logger.Warn("unexpected initialized notification", "session_id", sess.id, "error", err)
		}
	case protocol.NotificationCancelled:
		s.logger.Debug("client cancelled request", "session_id", sess.id, "params", string(msg.Params))
	default:
		s.logger.Debug("ignoring notification", "session_id", sess.id, "method", msg.Method)
	}
}

func (s *Server) markInitialized(sess *session) error {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	switch sess.state {
	case StateAwaitingInitialized:
		sess.state = StateOperational
		s.logger.Info("session operational",
			"session_id", sess.id,
			"protocol_version", sess.version,
			"client", sess.client.Name,
		)
		return nil
	case StateOperational:
		return nil
	default:
		return invalidState(sess.state, protocol.MethodInitialized)
	}
}

// decodeParams unmarshals params into v. Absent params leave v untouched.
func decodeParams(params json.RawMessage, v any) error {
	if len(params) == 0 || string(params) == "null" {
		return nil
	}
	if err := json.Unmarshal(params, v); err != nil {
		return newError(KindInvalidParams, "malformed params: %v", err)
	}
	return nil
}

func (s *Server) handleInitialize(ctx context.Context, sess *session, params json.RawMessage) (any, error) {
	var p protocol.InitializeParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	requested, err := protocol.ParseProtocolVersion(p.ProtocolVersion)
	if err != nil {
		return nil, newError(KindInvalidParams, "%v", err)
	}

	sess.mu.Lock()
	if sess.state != StateUninitialized {
		state := sess.state
		sess.mu.Unlock()
		return nil, invalidState(state, protocol.MethodInitialize)
	}
	sess.version = protocol.Negotiate(requested)
	sess.client = p.ClientInfo
	sess.state = StateAwaitingInitialized
	version := sess.version
	sess.mu.Unlock()

	s.logger.Info("session initialized",
		"session_id", sess.id,
		"requested_version", requested,
		"protocol_version", version,
		"client", p.ClientInfo.Name,
		"client_version", p.ClientInfo.Version,
	)

	return protocol.InitializeResult{
		ProtocolVersion: version,
		Capabilities:    s.caps,
		ServerInfo:      s.info,
		Instructions:    s.instructions,
	}, nil
}

func (s *Server) handleInitialized(ctx context.Context, sess *session, _ json.RawMessage) (any, error) {
	if err := s.markInitialized(sess); err != nil {
		return nil, err
	}
	return protocol.EmptyResult{}, nil
}

func (s *Server) handlePing(ctx context.Context, sess *session, _ json.RawMessage) (any, error) {
	return protocol.EmptyResult{}, nil
}

func (s *Server) handleResourcesList(ctx context.Context, sess *session, params json.RawMessage) (any, error) {
	var p protocol.PaginatedParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	res, err := s.resources.ListResources(ctx)
	if err != nil {
		return nil, err
	}
	if res == nil {
		res = []protocol.Resource{}
	}
	return protocol.ListResourcesResult{Resources: res}, nil
}

func (s *Server) handleResourcesRead(ctx context.Context, sess *session, params json.RawMessage) (any, error) {
	var p protocol.ReadResourceParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if _, err := protocol.ParseURI(p.URI); err != nil {
		return nil, newError(KindInvalidParams, "%v", err)
	}
	contents, err := s.resources.ReadResource(ctx, p.URI)
	if err != nil {
		return nil, err
	}
	if contents == nil {
		contents = []protocol.ResourceContents{}
	}
	return protocol.ReadResourceResult{Contents: contents}, nil
}

func (s *Server) handleResourceTemplatesList(ctx context.Context, sess *session, _ json.RawMessage) (any, error) {
	out := []protocol.ResourceTemplate{}
	if tp, ok := s.resources.(providers.ResourceTemplateProvider); ok {
		ts, err := tp.ListResourceTemplates(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, ts...)
	}
	return protocol.ListResourceTemplatesResult{ResourceTemplates: out}, nil
}

func (s *Server) handleSubscribe(ctx context.Context, sess *session, params json.RawMessage) (any, error) {
	var p protocol.SubscribeParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if _, err := protocol.ParseURI(p.URI); err != nil {
		return nil, newError(KindInvalidParams, "%v", err)
	}
	sess.subscribe(p.URI)
	s.logger.Debug("resource subscribed", "session_id", sess.id, "uri", p.URI)
	return protocol.EmptyResult{}, nil
}

func (s *Server) handleUnsubscribe(ctx context.Context, sess *session, params json.RawMessage) (any, error) {
	var p protocol.SubscribeParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.URI == "" {
		return nil, newError(KindInvalidParams, "uri is required")
	}
	sess.unsubscribe(p.URI)
	return protocol.EmptyResult{}, nil
}

func (s *Server) handleToolsList(ctx context.Context, sess *session, params json.RawMessage) (any, error) {
	var p protocol.PaginatedParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	tools, err := s.tools.ListTools(ctx)
	if err != nil {
		return nil, err
	}
	if tools == nil {
		tools = []protocol.Tool{}
	}
	return protocol.ListToolsResult{Tools: tools}, nil
}

func (s *Server) handleToolsCall(ctx context.Context, sess *session, params json.RawMessage) (any, error) {
	var p protocol.CallToolParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Name == "" {
		return nil, newError(KindInvalidParams, "tool name is required")
	}
	args := p.Arguments
	if len(args) == 0 || string(args) == "null" {
		args = json.RawMessage("{}")
	}

	content, err := s.tools.CallTool(ctx, p.Name, args)
	if err != nil {
		return nil, err
	}
	if content == nil {
		content = []protocol.Content{}
	}
	return protocol.CallToolResult{Content: content}, nil
}

func (s *Server) handlePromptsList(ctx context.Context, sess *session, params json.RawMessage) (any, error) {
	var p protocol.PaginatedParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	prompts, err := s.prompts.ListPrompts(ctx)
	if err != nil {
		return nil, err
	}
	if prompts == nil {
		prompts = []protocol.Prompt{}
	}
	return protocol.ListPromptsResult{Prompts: prompts}, nil
}

func (s *Server) handlePromptsGet(ctx context.Context, sess *session, params json.RawMessage) (any, error) {
	var p protocol.GetPromptParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Name == "" {
		return nil, newError(KindInvalidParams, "prompt name is required")
	}
	if p.Arguments == nil {
		p.Arguments = map[string]string{}
	}
	desc, msgs, err := s.prompts.GetPrompt(ctx, p.Name, p.Arguments)
	if err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []protocol.PromptMessage{}
	}
	return protocol.GetPromptResult{Description: desc, Messages: msgs}, nil
}

func (s *Server) handleSetLevel(ctx context.Context, sess *session, params json.RawMessage) (any, error) {
	var p struct {
		Level string `json:"level"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	level, err := protocol.ParseLoggingLevel(p.Level)
	if err != nil {
		return nil, newError(KindInvalidParams, "%v", err)
	}
	if err := s.logging.SetLogging(ctx, providers.LoggingConfig{Level: level}); err != nil {
		return nil, err
	}
	sess.mu.Lock()
	sess.logLevel = level
	sess.mu.Unlock()
	return protocol.EmptyResult{}, nil
}
