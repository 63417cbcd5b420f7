// ABOUTME: Typed MCP client over any transport.Client
// ABOUTME: Performs the initialize handshake and maps error responses to *Error

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/2389/mcp-runtime/internal/jsonrpc"
	"github.com/2389/mcp-runtime/internal/protocol"
	"github.com/2389/mcp-runtime/internal/transport"
)

// ErrNotInitialized is returned by Client calls made before Initialize.
var ErrNotInitialized = errors.New("mcp: client not initialized")

// Notifier is implemented by client transports that can send notifications.
type Notifier interface {
	Notify(msg *jsonrpc.Message) error
}

// Client speaks MCP to a remote server.
type Client struct {
	t      transport.Client
	info   protocol.Implementation
	nextID atomic.Int64

	mu     sync.RWMutex
	server *protocol.InitializeResult
}

// NewClient wraps a client transport.
func NewClient(t transport.Client, info protocol.Implementation) *Client {
	return &Client{t: t, info: info}
}

// Transport returns the underlying transport.
func (c *Client) Transport() transport.Client { return c.t }

func (c *Client) call(ctx context.Context, method string, params, out any) error {
	req, err := jsonrpc.NewRequest(jsonrpc.IntID(c.nextID.Add(1)), method, params)
	if err != nil {
		return err
	}
	resp, err := c.t.Call(ctx, req)
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return FromErrorObject(resp.Error)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("decoding %s result: %w", method, err)
	}
	return nil
}

// Initialize performs the handshake: initialize followed by the initialized
// notification.
func (c *Client) Initialize(ctx context.Context) (*protocol.InitializeResult, error) {
	var res protocol.InitializeResult
	err := c.call(ctx, protocol.MethodInitialize, protocol.InitializeParams{
		ProtocolVersion: string(protocol.LatestProtocolVersion),
		Capabilities:    protocol.ClientCapabilities{},
		ClientInfo:      c.info,
	}, &res)
	if err != nil {
		return nil, err
	}

	if n, ok := c.t.(Notifier); ok {
		msg, err := jsonrpc.NewNotification(protocol.NotificationInitialized, nil)
		if err != nil {
			return nil, err
		}
		if err := n.Notify(msg); err != nil {
			return nil, err
		}
	} else if err := c.call(ctx, protocol.MethodInitialized, nil, nil); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.server = &res
	c.mu.Unlock()
	return &res, nil
}

// ServerInfo returns the initialize result, or nil before Initialize.
func (c *Client) ServerInfo() *protocol.InitializeResult {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.server
}

func (c *Client) ready() error {
	if c.ServerInfo() == nil {
		return ErrNotInitialized
	}
	return nil
}

// Ping checks liveness.
func (c *Client) Ping(ctx context.Context) error {
	return c.call(ctx, protocol.MethodPing, nil, nil)
}

func (c *Client) ListResources(ctx context.Context) ([]protocol.Resource, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	var res protocol.ListResourcesResult
	if err := c.call(ctx, protocol.MethodResourcesList, nil, &res); err != nil {
		return nil, err
	}
	return res.Resources, nil
}

func (c *Client) ReadResource(ctx context.Context, uri string) ([]protocol.ResourceContents, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	var res protocol.ReadResourceResult
	if err := c.call(ctx, protocol.MethodResourcesRead, protocol.ReadResourceParams{URI: uri}, &res); err != nil {
		return nil, err
	}
	return res.Contents, nil
}

func (c *Client) Subscribe(ctx context.Context, uri string) error {
	if err := c.ready(); err != nil {
		return err
	}
	return c.call(ctx, protocol.MethodResourcesSubscribe, protocol.SubscribeParams{URI: uri}, nil)
}

func (c *Client) ListTools(ctx context.Context) ([]protocol.Tool, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	var res protocol.ListToolsResult
	if err := c.call(ctx, protocol.MethodToolsList, nil, &res); err != nil {
		return nil, err
	}
	return res.Tools, nil
}

// CallTool marshals args and invokes the named tool.
func (c *Client) CallTool(ctx context.Context, name string, args any) (*protocol.CallToolResult, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encoding tool arguments: %w", err)
	}
	var res protocol.CallToolResult
	if err := c.call(ctx, protocol.MethodToolsCall, protocol.CallToolParams{Name: name, Arguments: raw}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) ListPrompts(ctx context.Context) ([]protocol.Prompt, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	var res protocol.ListPromptsResult
	if err := c.call(ctx, protocol.MethodPromptsList, nil, &res); err != nil {
		return nil, err
	}
	return res.Prompts, nil
}

func (c *Client) GetPrompt(ctx context.Context, name string, args map[string]string) (*protocol.GetPromptResult, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	var res protocol.GetPromptResult
	if err := c.call(ctx, protocol.MethodPromptsGet, protocol.GetPromptParams{Name: name, Arguments: args}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) SetLogLevel(ctx context.Context, level protocol.LoggingLevel) error {
	if err := c.ready(); err != nil {
		return err
	}
	return c.call(ctx, protocol.MethodLoggingSetLevel, protocol.SetLevelParams{Level: level}, nil)
}

// Close closes the transport.
func (c *Client) Close() error {
	return c.t.Close()
}
