// ABOUTME: Request body parser reading through a buffer strategy with a size cap
// ABOUTME: The parse stage attaches the decoded envelope to the request context

package httpengine

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/2389/mcp-runtime/internal/bufpool"
	"github.com/2389/mcp-runtime/internal/jsonrpc"
	"github.com/2389/mcp-runtime/internal/transport"
)

// DefaultMaxBodySize caps request bodies at 10 MiB.
const DefaultMaxBodySize int64 = 10 << 20

const maxDrain int64 = 1 << 20

// Parser decodes one request body. A Parser is created per request and is
// not shared between goroutines.
type Parser struct {
	strategy bufpool.Strategy
	maxSize  int64
}

// NewParser returns a parser reading through strategy and rejecting bodies
// larger than maxSize bytes.
func NewParser(strategy bufpool.Strategy, maxSize int64) *Parser {
	if strategy == nil {
		strategy = bufpool.PerRequest{}
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxBodySize
	}
	return &Parser{strategy: strategy, maxSize: maxSize}
}

// Parse reads and decodes the body. Oversized bodies fail with a
// transport.Error of KindTooLarge before anything is decoded; malformed ones
// fail with a *jsonrpc.ErrorObject. The buffer is returned to the strategy
// before Parse returns.
func (p *Parser) Parse(r *http.Request) (*jsonrpc.Message, error) {
	if r.ContentLength > p.maxSize {
		return nil, transport.TooLarge(r.ContentLength, p.maxSize)
	}

	h := p.strategy.Acquire()
	defer h.Release()

	n, err := io.Copy(h, io.LimitReader(r.Body, p.maxSize+1))
	if err != nil {
		return nil, transport.NewError(transport.KindIO, "reading request body", err)
	}
	if n > p.maxSize {
		// Drain a bounded amount so the reported size is useful.
		rest, _ := io.Copy(io.Discard, io.LimitReader(r.Body, max(p.maxSize, maxDrain)))
		return nil, transport.TooLarge(n+rest, p.maxSize)
	}

	// Decode copies everything it keeps, so the buffer can be reused.
	return jsonrpc.Decode(h.Bytes())
}

// ParseOptions configures ParseMiddleware.
type ParseOptions struct {
	Strategy    bufpool.Strategy
	MaxBodySize int64
	Logger      *slog.Logger
}

// tooLargeData is the data member of a payload-too-large error.
type tooLargeData struct {
	Size    int64 `json:"size"`
	MaxSize int64 `json:"max_size"`
}

// ParseMiddleware decodes POST bodies and attaches the envelope with
// jsonrpc.WithMessage. Failures are answered here so later stages never see
// a partial or invalid envelope.
func ParseMiddleware(opts ParseOptions) func(http.Handler) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "parser")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}

			msg, err := NewParser(opts.Strategy, opts.MaxBodySize).Parse(r)
			if err != nil {
				status, eo := parseFailure(err)
				logger.Debug("rejecting request body", "path", r.URL.Path, "status", status, "error", err)
				writeMessage(w, status, jsonrpc.NewError(nil, eo))
				return
			}
			if eo := jsonrpc.Validate(msg); eo != nil {
				writeMessage(w, http.StatusBadRequest, jsonrpc.NewError(msg.ID, eo))
				return
			}
			next.ServeHTTP(w, r.WithContext(jsonrpc.WithMessage(r.Context(), msg)))
		})
	}
}

func parseFailure(err error) (int, *jsonrpc.ErrorObject) {
	var te *transport.Error
	if errors.As(err, &te) {
		if te.Kind == transport.KindTooLarge {
			return http.StatusRequestEntityTooLarge, jsonrpc.NewErrorObject(
				jsonrpc.CodePayloadTooLarge, "Payload too large",
				tooLargeData{Size: te.Size, MaxSize: te.MaxSize},
			)
		}
		return http.StatusBadRequest, jsonrpc.ParseError("failed to read request body")
	}
	var eo *jsonrpc.ErrorObject
	if errors.As(err, &eo) {
		return http.StatusBadRequest, eo
	}
	return http.StatusBadRequest, jsonrpc.ParseError(fmt.Sprint(err))
}

func writeMessage(w http.ResponseWriter, status int, msg *jsonrpc.Message) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(msg)
}
