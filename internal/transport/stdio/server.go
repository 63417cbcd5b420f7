// ABOUTME: STDIO server transport: one envelope per line in, one per line out
// ABOUTME: Oversized and malformed lines are reported to the handler and skipped

package stdio

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/2389/mcp-runtime/internal/jsonrpc"
	"github.com/2389/mcp-runtime/internal/transport"
)

// DefaultMaxLineSize caps a single inbound envelope.
const DefaultMaxLineSize = 10 * 1024 * 1024

// ServerOptions configures a Server.
type ServerOptions struct {
	// SessionID overrides the generated per-process session id.
	SessionID   string
	MaxLineSize int
	Logger      *slog.Logger
}

// Server is the STDIO transport.Transport.
type Server struct {
	in          io.Reader
	out         io.Writer
	maxLineSize int
	logger      *slog.Logger

	mu        sync.RWMutex
	handler   transport.MessageHandler
	sessionID string

	writeMu   sync.Mutex
	running   atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once
	closeHook sync.Once
	doneOnce  sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

var _ transport.Transport = (*Server)(nil)

// NewServer creates a STDIO transport over in and out.
func NewServer(in io.Reader, out io.Writer, opts ServerOptions) *Server {
	if opts.MaxLineSize <= 0 {
		opts.MaxLineSize = DefaultMaxLineSize
	}
	if opts.SessionID == "" {
		opts.SessionID = uuid.New().String()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		in:          in,
		out:         out,
		maxLineSize: opts.MaxLineSize,
		logger:      logger.With("component", "stdio"),
		sessionID:   opts.SessionID,
		done:        make(chan struct{}),
	}
}

// SetMessageHandler sets the envelope consumer. Must be called before Start.
func (s *Server) SetMessageHandler(h transport.MessageHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

// Start launches the read loop and returns immediately. Done is closed when
// the loop ends.
func (s *Server) Start(ctx context.Context) error {
	s.mu.RLock()
	h := s.handler
	s.mu.RUnlock()
	if h == nil {
		return transport.ErrNoHandler
	}
	if s.closed.Load() {
		return transport.ErrClosed
	}
	if !s.running.CompareAndSwap(false, true) {
		return transport.ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	go s.readLoop(ctx, h)
	return nil
}

// Done is closed once the read loop has exited.
func (s *Server) Done() <-chan struct{} { return s.done }

func (s *Server) readLoop(ctx context.Context, h transport.MessageHandler) {
	defer s.finish()
	defer s.notifyClose(h)

	br := bufio.NewReaderSize(s.in, 64*1024)
	for {
		if ctx.Err() != nil {
			return
		}
		line, err := s.readLine(br)
		if err != nil {
			if transport.IsKind(err, transport.KindTooLarge) {
				s.logger.Warn("dropping oversized line", "error", err)
				h.HandleError(err)
				continue
			}
			if errors.Is(err, io.EOF) || s.closed.Load() {
				s.logger.Debug("input closed")
				return
			}
			h.HandleError(transport.NewError(transport.KindIO, "reading input", err))
			return
		}
		if len(line) == 0 {
			continue
		}

		msg, err := jsonrpc.Decode(line)
		if err != nil {
			h.HandleError(transport.NewError(transport.KindSerialization, "decoding line", err))
			// A parse error still gets a null-id reply so the peer is not left waiting.
			var eo *jsonrpc.ErrorObject
			if errors.As(err, &eo) {
				if sendErr := s.Send(ctx, jsonrpc.NewError(nil, eo)); sendErr != nil {
					s.logger.Debug("failed to report parse error", "error", sendErr)
				}
			}
			continue
		}

		mc := transport.NewMessageContext(s.SessionID())
		mc.Method = msg.Method
		h.HandleMessage(transport.WithSessionID(ctx, mc.SessionID), msg, mc)
	}
}

// readLine returns one line without its terminator. Lines longer than
// maxLineSize are consumed entirely and reported as TooLarge.
func (s *Server) readLine(br *bufio.Reader) ([]byte, error) {
	var (
		line     []byte
		size     int64
		tooLarge bool
	)
	for {
		chunk, isPrefix, err := br.ReadLine()
		if err != nil {
			return nil, err
		}
		size += int64(len(chunk))
		if !tooLarge {
			if size > int64(s.maxLineSize) {
				tooLarge = true
				line = nil
			} else {
				line = append(line, chunk...)
			}
		}
		if !isPrefix {
			break
		}
	}
	if tooLarge {
		return nil, transport.TooLarge(size, int64(s.maxLineSize))
	}
	return line, nil
}

// Send writes msg followed by a newline. Writes are serialized.
func (s *Server) Send(_ context.Context, msg *jsonrpc.Message) error {
	if s.closed.Load() {
		return transport.NewError(transport.KindClosed, "send on closed transport", transport.ErrClosed)
	}
	data, err := jsonrpc.Encode(msg)
	if err != nil {
		return transport.NewError(transport.KindSerialization, "encoding message", err)
	}
	data = append(data, '\n')

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.out.Write(data); err != nil {
		return transport.NewError(transport.KindIO, "writing message", err)
	}
	if f, ok := s.out.(interface{ Flush() error }); ok {
		if err := f.Flush(); err != nil {
			return transport.NewError(transport.KindIO, "flushing output", err)
		}
	}
	return nil
}

// Close stops the transport. The input is closed when it implements
// io.Closer so a blocked read returns.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.mu.RLock()
		cancel := s.cancel
		s.mu.RUnlock()
		if cancel != nil {
			cancel()
		}
		if c, ok := s.in.(io.Closer); ok {
			if cerr := c.Close(); cerr != nil {
				err = fmt.Errorf("closing input: %w", cerr)
			}
		}
		if !s.running.Load() {
			s.finish()
		}
	})
	return err
}

func (s *Server) finish() {
	s.doneOnce.Do(func() { close(s.done) })
}

func (s *Server) notifyClose(h transport.MessageHandler) {
	s.closeHook.Do(h.HandleClose)
}

// SessionID returns the fixed per-process session id.
func (s *Server) SessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionID
}

// SetSessionContext replaces the session id used for subsequent envelopes.
func (s *Server) SetSessionContext(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionID = sessionID
}

// IsConnected reports whether the read loop is active.
func (s *Server) IsConnected() bool {
	if !s.running.Load() || s.closed.Load() {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// Type returns transport.TypeStdio.
func (s *Server) Type() transport.Type { return transport.TypeStdio }
