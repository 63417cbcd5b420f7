// ABOUTME: HTTP client transport: POST JSON-RPC requests and notifications to /mcp
// ABOUTME: Persists Mcp-Session-Id, injects credentials and reads the SSE stream

package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tmaxmax/go-sse"

	"github.com/2389/mcp-runtime/internal/jsonrpc"
	"github.com/2389/mcp-runtime/internal/transport"
)

const (
	// DefaultTimeout bounds each Call and Notify.
	DefaultTimeout = 30 * time.Second
	// SessionHeader carries the server-assigned session id.
	SessionHeader = "Mcp-Session-Id"
	// maxResponseSize caps how much of a response body is read.
	maxResponseSize = 10 << 20
)

// Options configures a Client.
type Options struct {
	// URL is the MCP endpoint, for example http://127.0.0.1:8080/mcp.
	URL string
	// BearerToken is sent as Authorization: Bearer.
	BearerToken string
	// APIKey is sent in APIKeyHeader (X-API-Key when empty).
	APIKey       string
	APIKeyHeader string
	// SessionID preselects a session instead of waiting for the server's.
	SessionID  string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client is a transport.Client over HTTP.
type Client struct {
	url     string
	opts    Options
	hc      *http.Client
	timeout time.Duration
	logger  *slog.Logger

	mu        sync.RWMutex
	sessionID string

	closed atomic.Bool
}

var _ transport.Client = (*Client)(nil)

// New creates a client for opts.URL.
func New(opts Options) (*Client, error) {
	if opts.URL == "" {
		return nil, errors.New("httpclient: url is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.APIKeyHeader == "" {
		opts.APIKeyHeader = "X-API-Key"
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		url:       opts.URL,
		opts:      opts,
		hc:        hc,
		timeout:   opts.Timeout,
		logger:    logger.With("component", "http-client"),
		sessionID: opts.SessionID,
	}, nil
}

// SessionID returns the session the client is bound to, if any.
func (c *Client) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

func (c *Client) rememberSession(resp *http.Response) {
	sid := resp.Header.Get(SessionHeader)
	if sid == "" {
		return
	}
	c.mu.Lock()
	if c.sessionID != sid {
		c.logger.Debug("session assigned", "session_id", sid)
		c.sessionID = sid
	}
	c.mu.Unlock()
}

func (c *Client) newRequest(ctx context.Context, method string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.url, body)
	if err != nil {
		return nil, transport.NewError(transport.KindIO, "creating request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.opts.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.BearerToken)
	}
	if c.opts.APIKey != "" {
		req.Header.Set(c.opts.APIKeyHeader, c.opts.APIKey)
	}
	if sid := c.SessionID(); sid != "" {
		req.Header.Set(SessionHeader, sid)
	}
	return req, nil
}

// post sends msg and returns the response with its body fully read.
func (c *Client) post(ctx context.Context, msg *jsonrpc.Message) (*http.Response, []byte, error) {
	if c.closed.Load() {
		return nil, nil, transport.NewError(transport.KindClosed, "client closed", transport.ErrClosed)
	}
	data, err := jsonrpc.Encode(msg)
	if err != nil {
		return nil, nil, transport.NewError(transport.KindSerialization, "encoding message", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, bytes.NewReader(data))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, transport.NewError(transport.KindTimeout, "request to "+c.url, err)
		}
		return nil, nil, transport.NewError(transport.KindIO, "request to "+c.url, err)
	}
	defer resp.Body.Close()
	c.rememberSession(resp)

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize+1))
	if err != nil {
		return nil, nil, transport.NewError(transport.KindIO, "reading response", err)
	}
	if len(body) > maxResponseSize {
		return nil, nil, transport.TooLarge(int64(len(body)), maxResponseSize)
	}
	return resp, body, nil
}

// statusError turns a non-2xx reply into a protocol error. A JSON-RPC error
// in the body is kept as the cause so callers can inspect its code.
func statusError(resp *http.Response, body []byte) error {
	te := &transport.Error{
		Kind:    transport.KindProtocol,
		Message: fmt.Sprintf("unexpected status %d", resp.StatusCode),
		Status:  resp.StatusCode,
	}
	if msg, err := jsonrpc.Decode(body); err == nil && msg.Error != nil {
		te.Err = msg.Error
	}
	return te
}

// Call POSTs a request and returns the matching response. JSON-RPC error
// responses delivered with a 2xx status are returned as messages, not errors.
func (c *Client) Call(ctx context.Context, req *jsonrpc.Message) (*jsonrpc.Message, error) {
	if req == nil || req.ID == nil || req.Method == "" {
		return nil, transport.NewError(transport.KindProtocol, "call requires a request with an id", nil)
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, body, err := c.post(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusError(resp, body)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, transport.NewError(transport.KindProtocol, "empty response to "+req.Method, nil)
	}

	msg, err := jsonrpc.Decode(body)
	if err != nil {
		return nil, transport.NewError(transport.KindSerialization, "decoding response", err)
	}
	if !msg.IsResponse() {
		return nil, transport.NewError(transport.KindProtocol, "reply is not a response", nil)
	}
	if msg.ID == nil || msg.ID.Key() != req.ID.Key() {
		got := "null"
		if msg.ID != nil {
			got = msg.ID.String()
		}
		return nil, transport.NewError(transport.KindProtocol,
			fmt.Sprintf("response id %s does not match request id %s", got, req.ID.String()), nil)
	}
	return msg, nil
}

// Notify POSTs a notification. The server acknowledges with 202.
func (c *Client) Notify(msg *jsonrpc.Message) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	resp, body, err := c.post(ctx, msg)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp, body)
	}
	return nil
}

// Stream opens the session's event stream and calls fn for every message
// event until ctx ends or the server closes the stream. Heartbeats are
// skipped.
func (c *Client) Stream(ctx context.Context, fn func(*jsonrpc.Message)) error {
	if c.closed.Load() {
		return transport.NewError(transport.KindClosed, "client closed", transport.ErrClosed)
	}
	req, err := c.newRequest(ctx, http.MethodGet, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.hc.Do(req)
	if err != nil {
		return transport.NewError(transport.KindIO, "opening stream", err)
	}
	defer resp.Body.Close()
	c.rememberSession(resp)

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return statusError(resp, body)
	}

	for ev, err := range sse.Read(resp.Body, &sse.ReadConfig{MaxEventSize: maxResponseSize}) {
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return transport.NewError(transport.KindIO, "reading stream", err)
		}
		if ev.Type != "" && ev.Type != "message" {
			continue
		}
		msg, err := jsonrpc.Decode([]byte(ev.Data))
		if err != nil {
			c.logger.Warn("dropping undecodable stream event", "error", err)
			continue
		}
		fn(msg)
	}
	return nil
}

// IsReady reports whether the client has not been closed.
func (c *Client) IsReady() bool { return !c.closed.Load() }

// Type returns transport.TypeHTTP.
func (c *Client) Type() transport.Type { return transport.TypeHTTP }

// Close ends the server session with DELETE when one was assigned. Safe to
// call more than once.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	if c.SessionID() == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	req, err := c.newRequest(ctx, http.MethodDelete, nil)
	if err != nil {
		return err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return transport.NewError(transport.KindIO, "ending session", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return &transport.Error{
			Kind:    transport.KindProtocol,
			Message: fmt.Sprintf("unexpected status %d ending session", resp.StatusCode),
			Status:  resp.StatusCode,
		}
	}
	return nil
}
