// ABOUTME: SSE streams for server-initiated messages, plus the legacy /sse + /messages pair
// ABOUTME: Streams send a retry hint, periodic heartbeats and end when a write fails

package httpengine

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/tmaxmax/go-sse"

	"github.com/2389/mcp-runtime/internal/jsonrpc"
	"github.com/2389/mcp-runtime/internal/transport"
)

// SSE event types
const (
	EventMessage   = "message"
	EventHeartbeat = "heartbeat"
	EventEndpoint  = "endpoint"
)

// LegacyMessagesPath is announced by the legacy endpoint event.
const LegacyMessagesPath = "/messages"

// handleStream serves GET /mcp.
func (e *Engine) handleStream(w http.ResponseWriter, r *http.Request) {
	if !acceptsEventStream(r) {
		http.Error(w, "Not Acceptable: Accept must include text/event-stream", http.StatusNotAcceptable)
		return
	}
	sid, _ := ExtractSessionID(r)
	w.Header().Set(SessionHeader, sid)
	if !e.admit(w, nil, sid, r.RemoteAddr) {
		return
	}
	e.serveStream(w, r, sid, heartbeat())
}

// handleLegacyStream serves GET /sse. The first event names the endpoint the
// client must POST to; the session is the one in that URL.
func (e *Engine) handleLegacyStream(w http.ResponseWriter, r *http.Request) {
	sid := r.URL.Query().Get(SessionQuery)
	if sid == "" {
		sid = uuid.New().String()
	}
	w.Header().Set(SessionHeader, sid)
	if !e.admit(w, nil, sid, r.RemoteAddr) {
		return
	}

	endpoint := &sse.Message{Type: sse.Type(EventEndpoint)}
	endpoint.AppendData(LegacyMessagesPath + "?" + SessionQuery + "=" + sid)
	e.serveStream(w, r, sid, endpoint)
}

// handleLegacyMessage serves POST /messages. The reply is delivered on the
// session's stream, so the POST itself is only acknowledged.
func (e *Engine) handleLegacyMessage(w http.ResponseWriter, r *http.Request) {
	msg, ok := jsonrpc.MessageFromContext(r.Context())
	if !ok {
		writeMessage(w, http.StatusBadRequest, jsonrpc.NewError(nil, jsonrpc.InvalidRequest("missing body")))
		return
	}
	sid := r.URL.Query().Get(SessionQuery)
	if sid == "" {
		http.Error(w, "Bad Request: missing sessionId query parameter", http.StatusBadRequest)
		return
	}
	if e.stream.Subscribers(sid) == 0 {
		http.Error(w, "Not Found: no stream for session", http.StatusNotFound)
		return
	}
	if !e.admit(w, msg.ID, sid, r.RemoteAddr) {
		return
	}
	h := e.messageHandler()
	if h == nil {
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	}

	// The reply outlives this request, so it must not inherit its cancellation.
	ctx := transport.WithSessionID(context.WithoutCancel(r.Context()), sid)
	h.HandleMessage(ctx, msg, e.messageContext(r, sid))
	w.WriteHeader(http.StatusAccepted)
}

func heartbeat() *sse.Message {
	m := &sse.Message{Type: sse.Type(EventHeartbeat)}
	m.AppendData(time.Now().UTC().Format(time.RFC3339))
	return m
}

// serveStream upgrades the response and pumps the session's messages until
// the client leaves, the subscriber is dropped, a write fails or the engine
// shuts down.
func (e *Engine) serveStream(w http.ResponseWriter, r *http.Request, sessionID string, first *sse.Message) {
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sess, err := sse.Upgrade(w, r)
	if err != nil {
		e.logger.Error("failed to upgrade session", "session_id", sessionID, "error", err)
		http.Error(w, "failed to open event stream", http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	msgs, subID := e.stream.Subscribe(ctx, sessionID)
	logger := e.logger.With("session_id", sessionID, "sub_id", subID)
	logger.Info("SSE stream opened", "remote", r.RemoteAddr)
	defer logger.Info("SSE stream closed")

	first.Retry = e.cfg.SSE.Retry
	if err := send(sess, first); err != nil {
		logger.Warn("failed to write first event", "error", err)
		return
	}

	ticker := time.NewTicker(e.cfg.SSE.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.done:
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				logger.Error("failed to encode message", "error", err)
				continue
			}
			ev := &sse.Message{Type: sse.Type(EventMessage)}
			ev.AppendData(string(data))
			if err := send(sess, ev); err != nil {
				logger.Warn("SSE write failed", "error", err)
				return
			}
		case <-ticker.C:
			if err := send(sess, heartbeat()); err != nil {
				logger.Debug("heartbeat failed, closing stream", "error", err)
				return
			}
		}
	}
}

func send(sess *sse.Session, m *sse.Message) error {
	if err := sess.Send(m); err != nil {
		return err
	}
	return sess.Flush()
}
