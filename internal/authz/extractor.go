// ABOUTME: Method extraction from the decoded JSON-RPC body attached to the request
// ABOUTME: URL paths are ignored so /mcp/<anything> cannot change the authorized method

package authz

import (
	"errors"
	"net/http"

	"github.com/2389/mcp-runtime/internal/jsonrpc"
)

// Extraction errors
var (
	ErrNoMessage = errors.New("authz: request has no decoded JSON-RPC message")
	ErrNoMethod  = errors.New("authz: message has no method")
)

// MethodExtractor returns the method to authorize for a request.
type MethodExtractor interface {
	ExtractMethod(r *http.Request) (string, error)
}

// JSONRPCExtractor reads the method of the envelope placed in the request
// context by the body parser.
type JSONRPCExtractor struct{}

func (JSONRPCExtractor) ExtractMethod(r *http.Request) (string, error) {
	msg, ok := jsonrpc.MessageFromContext(r.Context())
	if !ok {
		return "", ErrNoMessage
	}
	if msg.Method == "" {
		return "", ErrNoMethod
	}
	return msg.Method, nil
}

// StaticExtractor always returns Method. Useful for endpoints dedicated to
// a single operation.
type StaticExtractor struct {
	Method string
}

func (s StaticExtractor) ExtractMethod(*http.Request) (string, error) {
	return s.Method, nil
}
