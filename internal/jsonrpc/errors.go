// ABOUTME: JSON-RPC error object, standard and server-range error codes
// ABOUTME: Constructors mirror the codes clients see on the wire

package jsonrpc

import "fmt"

// Standard JSON-RPC error codes
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Implementation-defined server error codes (-32000 to -32099).
const (
	CodeServerError       = -32000
	CodeSessionRequired   = -32001
	CodeInvalidSession    = -32002
	CodeConnectionLimit   = -32003
	CodeRequestTimeout    = -32004
	CodeServerBusy        = -32005
	CodeInsufficientScope = -32010
	CodeUnauthorized      = -32011
	CodePayloadTooLarge   = -32013
	CodeInvalidState      = -32020
)

// ErrorObject is the error member of a JSON-RPC response.
type ErrorObject struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *ErrorObject) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("jsonrpc error %d: %s (data: %v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// NewErrorObject builds an error object.
func NewErrorObject(code int, message string, data any) *ErrorObject {
	return &ErrorObject{Code: code, Message: message, Data: data}
}

// ParseError is returned for undecodable payloads.
func ParseError(data any) *ErrorObject {
	return &ErrorObject{Code: CodeParseError, Message: "Parse error", Data: data}
}

// InvalidRequest is returned for envelopes that are valid JSON but not valid JSON-RPC.
func InvalidRequest(data any) *ErrorObject {
	return &ErrorObject{Code: CodeInvalidRequest, Message: "Invalid Request", Data: data}
}

// MethodNotFound echoes the unknown method name in data.
func MethodNotFound(method string) *ErrorObject {
	return &ErrorObject{Code: CodeMethodNotFound, Message: "Method not found", Data: method}
}

// InvalidParams is returned for bad or missing arguments.
func InvalidParams(data any) *ErrorObject {
	return &ErrorObject{Code: CodeInvalidParams, Message: "Invalid params", Data: data}
}

// InternalError is returned for execution failures.
func InternalError(data any) *ErrorObject {
	return &ErrorObject{Code: CodeInternalError, Message: "Internal error", Data: data}
}
