// ABOUTME: Tests for the HTTP client transport against the real engine and stub servers
// ABOUTME: Covers session persistence, credentials, status errors, id matching and streams

package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/mcp-runtime/internal/auth"
	"github.com/2389/mcp-runtime/internal/authz"
	"github.com/2389/mcp-runtime/internal/httpengine"
	"github.com/2389/mcp-runtime/internal/jsonrpc"
	"github.com/2389/mcp-runtime/internal/mcp"
	"github.com/2389/mcp-runtime/internal/protocol"
	"github.com/2389/mcp-runtime/internal/providers"
	"github.com/2389/mcp-runtime/internal/transport"
)

// newEngine serves an MCP server with math tools behind API key auth.
func newEngine(t *testing.T) (*httptest.Server, *httpengine.Engine, *mcp.Server) {
	t.Helper()
	tools := providers.NewToolRegistry(nil)
	require.NoError(t, tools.Register(providers.MathTools(providers.MathOptions{Precision: 1})))
	srv := mcp.NewServer(mcp.Config{
		Info:  protocol.Implementation{Name: "engine", Version: "1"},
		Tools: tools,
	})

	keys := auth.NewStaticKeyValidator([]auth.StaticKey{
		{Key: "full", Name: "full", Scopes: []string{"mcp:*"}},
		{Key: "read", Name: "read", Scopes: []string{"mcp:tools:read"}},
	})
	e := httpengine.New(httpengine.Config{
		Security: httpengine.NewSecurity[*auth.APIKeyData](
			auth.NewAPIKeyStrategy(keys, "", nil),
			authz.NewScopePolicy[*auth.APIKeyData](nil, nil),
			auth.MiddlewareOptions{},
			authz.MiddlewareOptions{},
		),
		SSE:           httpengine.SSEConfig{HeartbeatInterval: time.Hour},
		SessionClosed: srv.CloseSession,
	})
	e.SetMessageHandler(srv)
	srv.Attach(e)

	ts := httptest.NewServer(e)
	t.Cleanup(func() {
		ts.Close()
		srv.Close()
		_ = e.Close()
	})
	return ts, e, srv
}

func TestMCPClientOverHTTP(t *testing.T) {
	ts, _, srv := newEngine(t)
	c, err := New(Options{URL: ts.URL + "/mcp", APIKey: "full"})
	require.NoError(t, err)

	mc := mcp.NewClient(c, protocol.Implementation{Name: "test", Version: "0"})
	ctx := context.Background()
	res, err := mc.Initialize(ctx)
	require.NoError(t, err)
	assert.Equal(t, "engine", res.ServerInfo.Name)

	sid := c.SessionID()
	require.NotEmpty(t, sid)
	require.Eventually(t, func() bool {
		info, ok := srv.Session(sid)
		return ok && info.State == mcp.StateOperational
	}, time.Second, 5*time.Millisecond)

	tools, err := mc.ListTools(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, tools)

	out, err := mc.CallTool(ctx, "add", map[string]any{"a": 1, "b": 2})
	require.NoError(t, err)
	require.Len(t, out.Content, 1)
	assert.Contains(t, out.Content[0].Text, `"result": "3.0"`)
	assert.Equal(t, sid, c.SessionID(), "session id is stable across calls")

	require.NoError(t, c.Close())
	_, ok := srv.Session(sid)
	assert.False(t, ok, "Close ends the server session")
	assert.False(t, c.IsReady())
	require.NoError(t, c.Close())

	_, err = c.Call(ctx, mustRequest(t, 9, "ping"))
	assert.True(t, transport.IsKind(err, transport.KindClosed))
}

func mustRequest(t *testing.T, id int64, method string) *jsonrpc.Message {
	t.Helper()
	m, err := jsonrpc.NewRequest(jsonrpc.IntID(id), method, nil)
	require.NoError(t, err)
	return m
}

func TestStatusErrorsKeepRPCError(t *testing.T) {
	ts, _, _ := newEngine(t)
	ctx := context.Background()

	c, err := New(Options{URL: ts.URL + "/mcp", APIKey: "read"})
	require.NoError(t, err)
	req, err := jsonrpc.NewRequest(jsonrpc.IntID(2), "tools/call", map[string]any{"name": "add"})
	require.NoError(t, err)

	_, err = c.Call(ctx, req)
	var te *transport.Error
	require.ErrorAs(t, err, &te)
	assert.Equal(t, transport.KindProtocol, te.Kind)
	assert.Equal(t, http.StatusForbidden, te.Status)
	var eo *jsonrpc.ErrorObject
	require.ErrorAs(t, err, &eo)
	assert.Equal(t, jsonrpc.CodeInsufficientScope, eo.Code)

	anon, err := New(Options{URL: ts.URL + "/mcp"})
	require.NoError(t, err)
	_, err = anon.Call(ctx, mustRequest(t, 1, "ping"))
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusUnauthorized, te.Status)
}

func TestCredentialsAndSessionHeaders(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "k", r.Header.Get("X-Custom-Key"))
		if n == 1 {
			assert.Empty(t, r.Header.Get(SessionHeader))
			w.Header().Set(SessionHeader, "assigned")
		} else {
			assert.Equal(t, "assigned", r.Header.Get(SessionHeader))
		}
		var msg jsonrpc.Message
		require.NoError(t, json.NewDecoder(r.Body).Decode(&msg))
		resp, _ := jsonrpc.NewResult(msg.ID, map[string]any{})
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer ts.Close()

	c, err := New(Options{URL: ts.URL, BearerToken: "tok", APIKey: "k", APIKeyHeader: "X-Custom-Key"})
	require.NoError(t, err)
	for i := int64(1); i <= 2; i++ {
		resp, err := c.Call(context.Background(), mustRequest(t, i, "ping"))
		require.NoError(t, err)
		assert.JSONEq(t, `{}`, string(resp.Result))
	}
	assert.Equal(t, "assigned", c.SessionID())
}

func TestResponseValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"mismatched id", `{"jsonrpc":"2.0","id":99,"result":{}}`},
		{"request instead of response", `{"jsonrpc":"2.0","id":1,"method":"ping"}`},
		{"empty body", ``},
		{"not json", `<html>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			}))
			defer ts.Close()

			c, err := New(Options{URL: ts.URL})
			require.NoError(t, err)
			_, err = c.Call(context.Background(), mustRequest(t, 1, "ping"))
			assert.Error(t, err)
		})
	}

	c, err := New(Options{URL: "http://unused"})
	require.NoError(t, err)
	n, err := jsonrpc.NewNotification("ping", nil)
	require.NoError(t, err)
	_, err = c.Call(context.Background(), n)
	assert.True(t, transport.IsKind(err, transport.KindProtocol))
}

func TestCallTimeout(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer ts.Close()
	defer close(release)

	c, err := New(Options{URL: ts.URL, Timeout: 20 * time.Millisecond})
	require.NoError(t, err)
	_, err = c.Call(context.Background(), mustRequest(t, 1, "slow"))
	assert.True(t, transport.IsKind(err, transport.KindTimeout), "got %v", err)
}

func TestStream(t *testing.T) {
	ts, e, _ := newEngine(t)
	c, err := New(Options{URL: ts.URL + "/mcp", APIKey: "full", SessionID: "watcher"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := make(chan *jsonrpc.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- c.Stream(ctx, func(m *jsonrpc.Message) { got <- m })
	}()

	n, err := jsonrpc.NewNotification(protocol.NotificationToolListChanged, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return e.Send(transport.WithSessionID(context.Background(), "watcher"), n) == nil
	}, 2*time.Second, 10*time.Millisecond)

	select {
	case m := <-got:
		assert.Equal(t, protocol.NotificationToolListChanged, m.Method)
	case <-time.After(2 * time.Second):
		t.Fatal("no message on stream")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Stream did not return after cancel")
	}
}

func TestStreamRejected(t *testing.T) {
	ts, _, _ := newEngine(t)
	c, err := New(Options{URL: ts.URL + "/mcp"})
	require.NoError(t, err)
	err = c.Stream(context.Background(), func(*jsonrpc.Message) {})
	var te *transport.Error
	require.True(t, errors.As(err, &te))
	assert.Equal(t, http.StatusUnauthorized, te.Status)
}

func TestNewRequiresURL(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}
