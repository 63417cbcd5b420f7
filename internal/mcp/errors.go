// ABOUTME: MCP-tier error type with JSON-RPC code mapping and a recoverable flag
// ABOUTME: Converts provider and context errors at the router boundary

package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/2389/mcp-runtime/internal/jsonrpc"
	"github.com/2389/mcp-runtime/internal/providers"
)

// ErrorKind classifies protocol-level failures.
type ErrorKind string

const (
	KindParse          ErrorKind = "parse"
	KindInvalidRequest ErrorKind = "invalid_request"
	KindMethodNotFound ErrorKind = "method_not_found"
	KindInvalidParams  ErrorKind = "invalid_params"
	KindNotFound       ErrorKind = "not_found"
	KindExecution      ErrorKind = "execution"
	KindInvalidState   ErrorKind = "invalid_state"
	KindUnsupported    ErrorKind = "unsupported"
	KindTimeout        ErrorKind = "timeout"
	KindBusy           ErrorKind = "busy"
	KindSubscription   ErrorKind = "subscription"
	KindInternal       ErrorKind = "internal"
)

var kindCodes = map[ErrorKind]int{
	KindParse:          jsonrpc.CodeParseError,
	KindInvalidRequest: jsonrpc.CodeInvalidRequest,
	KindMethodNotFound: jsonrpc.CodeMethodNotFound,
	KindInvalidParams:  jsonrpc.CodeInvalidParams,
	KindNotFound:       jsonrpc.CodeInvalidParams,
	KindExecution:      jsonrpc.CodeInternalError,
	KindInvalidState:   jsonrpc.CodeInvalidState,
	KindUnsupported:    jsonrpc.CodeMethodNotFound,
	KindTimeout:        jsonrpc.CodeRequestTimeout,
	KindBusy:           jsonrpc.CodeServerBusy,
	KindSubscription:   jsonrpc.CodeInternalError,
	KindInternal:       jsonrpc.CodeInternalError,
}

var kindMessages = map[ErrorKind]string{
	KindParse:          "Parse error",
	KindInvalidRequest: "Invalid Request",
	KindMethodNotFound: "Method not found",
	KindInvalidParams:  "Invalid params",
	KindNotFound:       "Invalid params",
	KindExecution:      "Internal error",
	KindInvalidState:   "Invalid state",
	KindUnsupported:    "Method not found",
	KindTimeout:        "Request timeout",
	KindBusy:           "Server busy",
	KindSubscription:   "Subscription failed",
	KindInternal:       "Internal error",
}

// Error is an MCP-level failure.
type Error struct {
	Kind    ErrorKind
	Message string
	// Name is the missing tool, resource or prompt for KindNotFound, and the
	// method for KindMethodNotFound.
	Name string
	Err  error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("mcp %s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("mcp %s", e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Code returns the JSON-RPC error code for the kind.
func (e *Error) Code() int {
	if c, ok := kindCodes[e.Kind]; ok {
		return c
	}
	return jsonrpc.CodeInternalError
}

// Recoverable reports whether retrying the same call may succeed.
func (e *Error) Recoverable() bool {
	switch e.Kind {
	case KindTimeout, KindExecution, KindSubscription, KindBusy, KindInternal:
		return true
	}
	return false
}

// ErrorData is the structured data member of an MCP error response.
type ErrorData struct {
	Details     string `json:"details,omitempty"`
	Name        string `json:"name,omitempty"`
	Recoverable bool   `json:"recoverable"`
}

// ErrorObject renders the wire error. Method-not-found keeps the bare method
// name as data.
func (e *Error) ErrorObject() *jsonrpc.ErrorObject {
	if e.Kind == KindMethodNotFound || e.Kind == KindUnsupported {
		return jsonrpc.NewErrorObject(e.Code(), kindMessages[e.Kind], e.Name)
	}
	return jsonrpc.NewErrorObject(e.Code(), kindMessages[e.Kind], ErrorData{
		Details:     e.Message,
		Name:        e.Name,
		Recoverable: e.Recoverable(),
	})
}

func newError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func methodNotFound(method string) *Error {
	return &Error{Kind: KindMethodNotFound, Name: method}
}

// classify converts any handler error into an *Error.
func classify(err error) *Error {
	var me *Error
	if errors.As(err, &me) {
		return me
	}
	var nf *providers.NotFoundError
	switch {
	case errors.As(err, &nf):
		return &Error{Kind: KindNotFound, Message: nf.Error(), Name: nf.Name, Err: err}
	case errors.Is(err, providers.ErrNotFound):
		return &Error{Kind: KindNotFound, Message: err.Error(), Err: err}
	case errors.Is(err, providers.ErrInvalidParams):
		return &Error{Kind: KindInvalidParams, Message: err.Error(), Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: KindTimeout, Message: "request timed out", Err: err}
	case errors.Is(err, context.Canceled):
		return &Error{Kind: KindExecution, Message: "request cancelled", Err: err}
	case errors.Is(err, providers.ErrExecution):
		return &Error{Kind: KindExecution, Message: err.Error(), Err: err}
	default:
		return &Error{Kind: KindInternal, Message: err.Error(), Err: err}
	}
}

var codeKinds = map[int]ErrorKind{
	jsonrpc.CodeParseError:     KindParse,
	jsonrpc.CodeInvalidRequest: KindInvalidRequest,
	jsonrpc.CodeMethodNotFound: KindMethodNotFound,
	jsonrpc.CodeInvalidParams:  KindInvalidParams,
	jsonrpc.CodeInternalError:  KindExecution,
	jsonrpc.CodeInvalidState:   KindInvalidState,
	jsonrpc.CodeRequestTimeout: KindTimeout,
	jsonrpc.CodeServerBusy:     KindBusy,
}

// FromErrorObject rebuilds an *Error from a wire error, as seen by clients.
func FromErrorObject(eo *jsonrpc.ErrorObject) *Error {
	kind, ok := codeKinds[eo.Code]
	if !ok {
		kind = KindInternal
	}
	e := &Error{Kind: kind, Message: eo.Message, Err: eo}
	switch d := eo.Data.(type) {
	case string:
		e.Name = d
	case map[string]any:
		if s, ok := d["details"].(string); ok && s != "" {
			e.Message = s
		}
		if s, ok := d["name"].(string); ok {
			e.Name = s
			if kind == KindInvalidParams {
				e.Kind = KindNotFound
			}
		}
	}
	return e
}
