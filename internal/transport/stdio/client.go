// ABOUTME: STDIO client transport that spawns an MCP server as a child process
// ABOUTME: A single reader goroutine routes responses to pending calls by request id

package stdio

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/2389/mcp-runtime/internal/jsonrpc"
	"github.com/2389/mcp-runtime/internal/transport"
)

// DefaultCallTimeout bounds a Call when the context has no deadline.
const DefaultCallTimeout = 30 * time.Second

// ClientOptions configures a Client.
type ClientOptions struct {
	Command string
	Args    []string
	Env     []string
	Dir     string
	// Timeout applies per call. Zero selects DefaultCallTimeout.
	Timeout time.Duration
	// OnMessage receives notifications and requests sent by the server.
	OnMessage func(msg *jsonrpc.Message)
	Logger    *slog.Logger
}

// Client is a transport.Client over a child process's stdio.
type Client struct {
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	stdout    io.Reader
	timeout   time.Duration
	onMessage func(msg *jsonrpc.Message)
	logger    *slog.Logger

	writeMu sync.Mutex
	mu      sync.Mutex
	pending map[string]chan *jsonrpc.Message

	ready     atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

var _ transport.Client = (*Client)(nil)

// StartClient spawns the configured command and begins reading its stdout.
func StartClient(ctx context.Context, opts ClientOptions) (*Client, error) {
	if opts.Command == "" {
		return nil, errors.New("stdio client: command is required")
	}
	cmd := exec.CommandContext(ctx, opts.Command, opts.Args...)
	cmd.Env = opts.Env
	cmd.Dir = opts.Dir

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", opts.Command, err)
	}

	c := newClient(stdin, stdout, opts)
	c.cmd = cmd
	return c, nil
}

// NewClient wraps an existing pipe pair, for in-process servers and tests.
func NewClient(w io.WriteCloser, r io.Reader, opts ClientOptions) *Client {
	return newClient(w, r, opts)
}

func newClient(w io.WriteCloser, r io.Reader, opts ClientOptions) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultCallTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		stdin:     w,
		stdout:    r,
		timeout:   opts.Timeout,
		onMessage: opts.OnMessage,
		logger:    logger.With("component", "stdio-client"),
		pending:   make(map[string]chan *jsonrpc.Message),
		done:      make(chan struct{}),
	}
	c.ready.Store(true)
	go c.readLoop()
	return c
}

func (c *Client) readLoop() {
	defer c.shutdownPending()

	scanner := bufio.NewScanner(c.stdout)
	scanner.Buffer(make([]byte, 64*1024), DefaultMaxLineSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		msg, err := jsonrpc.Decode(line)
		if err != nil {
			c.logger.Warn("discarding undecodable line from server", "error", err)
			continue
		}
		if msg.IsResponse() {
			c.route(msg)
			continue
		}
		if c.onMessage != nil {
			c.onMessage(msg)
		}
	}
	if err := scanner.Err(); err != nil {
		c.logger.Debug("server output closed", "error", err)
	}
}

func (c *Client) route(msg *jsonrpc.Message) {
	if msg.ID == nil {
		c.logger.Warn("received response with null id", "error", msg.Error)
		return
	}
	key := msg.ID.Key()

	c.mu.Lock()
	ch, ok := c.pending[key]
	if ok {
		delete(c.pending, key)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Warn("received response for unknown request", "id", msg.ID.String())
		return
	}
	ch <- msg
}

// shutdownPending marks the client not ready and wakes every waiting call.
func (c *Client) shutdownPending() {
	c.ready.Store(false)
	c.mu.Lock()
	for key, ch := range c.pending {
		close(ch)
		delete(c.pending, key)
	}
	c.mu.Unlock()
	close(c.done)
}

// Call sends a request and waits for the response with the same id.
func (c *Client) Call(ctx context.Context, req *jsonrpc.Message) (*jsonrpc.Message, error) {
	if req == nil || req.ID == nil || req.Method == "" {
		return nil, transport.NewError(transport.KindProtocol, "call requires a request with an id", nil)
	}
	if !c.ready.Load() {
		return nil, transport.NewError(transport.KindNotReady, "server process is not running", nil)
	}

	data, err := jsonrpc.Encode(req)
	if err != nil {
		return nil, transport.NewError(transport.KindSerialization, "encoding request", err)
	}
	data = append(data, '\n')

	key := req.ID.Key()
	ch := make(chan *jsonrpc.Message, 1)
	c.mu.Lock()
	if _, dup := c.pending[key]; dup {
		c.mu.Unlock()
		return nil, transport.NewError(transport.KindProtocol, "duplicate request id "+req.ID.String(), nil)
	}
	c.pending[key] = ch
	c.mu.Unlock()

	c.writeMu.Lock()
	_, err = c.stdin.Write(data)
	c.writeMu.Unlock()
	if err != nil {
		c.forget(key)
		return nil, transport.NewError(transport.KindNotReady, "writing request", err)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, transport.NewError(transport.KindNotReady, "server exited before responding", nil)
		}
		return resp, nil
	case <-c.done:
		// The reader may have drained pending before this slot was added.
		select {
		case resp, ok := <-ch:
			if ok {
				return resp, nil
			}
		default:
		}
		c.forget(key)
		return nil, transport.NewError(transport.KindNotReady, "server exited before responding", nil)
	case <-timer.C:
		c.forget(key)
		return nil, transport.NewError(transport.KindTimeout, fmt.Sprintf("no response to %s within %s", req.Method, c.timeout), nil)
	case <-ctx.Done():
		c.forget(key)
		return nil, transport.NewError(transport.KindTimeout, "call cancelled", ctx.Err())
	}
}

// Notify sends a notification without waiting.
func (c *Client) Notify(msg *jsonrpc.Message) error {
	if !c.ready.Load() {
		return transport.NewError(transport.KindNotReady, "server process is not running", nil)
	}
	data, err := jsonrpc.Encode(msg)
	if err != nil {
		return transport.NewError(transport.KindSerialization, "encoding notification", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.stdin.Write(append(data, '\n')); err != nil {
		return transport.NewError(transport.KindIO, "writing notification", err)
	}
	return nil
}

func (c *Client) forget(key string) {
	c.mu.Lock()
	delete(c.pending, key)
	c.mu.Unlock()
}

// IsReady reports whether the server's output is still open.
func (c *Client) IsReady() bool { return c.ready.Load() }

// Type returns transport.TypeStdio.
func (c *Client) Type() transport.Type { return transport.TypeStdio }

// Close closes the child's stdin, waits briefly for it to exit and kills it
// otherwise. Safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.ready.Store(false)
		if cerr := c.stdin.Close(); cerr != nil {
			err = fmt.Errorf("closing stdin: %w", cerr)
		}
		if c.cmd == nil {
			return
		}
		exited := make(chan error, 1)
		go func() { exited <- c.cmd.Wait() }()
		select {
		case <-exited:
		case <-time.After(5 * time.Second):
			if kerr := c.cmd.Process.Kill(); kerr != nil && err == nil {
				err = fmt.Errorf("killing server process: %w", kerr)
			}
			<-exited
		}
	})
	return err
}
