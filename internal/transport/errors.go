// ABOUTME: Transport-tier error type with kind classification and recoverability
// ABOUTME: TooLarge errors carry the offending size and the configured maximum

package transport

import (
	"errors"
	"fmt"
)

// Sentinel errors for lifecycle misuse.
var (
	ErrNoHandler      = errors.New("transport: message handler not set")
	ErrAlreadyRunning = errors.New("transport: already running")
	ErrClosed         = errors.New("transport: closed")
)

// ErrorKind classifies transport failures.
type ErrorKind int

const (
	KindClosed ErrorKind = iota + 1
	KindIO
	KindTimeout
	KindSerialization
	KindProtocol
	KindConnectionLimit
	KindInvalidConnection
	KindSession
	KindTooLarge
	KindNotReady
)

var kindNames = map[ErrorKind]string{
	KindClosed:            "closed",
	KindIO:                "io",
	KindTimeout:           "timeout",
	KindSerialization:     "serialization",
	KindProtocol:          "protocol",
	KindConnectionLimit:   "connection_limit",
	KindInvalidConnection: "invalid_connection",
	KindSession:           "session",
	KindTooLarge:          "too_large",
	KindNotReady:          "not_ready",
}

func (k ErrorKind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "unknown"
}

// Error is a transport-tier failure.
type Error struct {
	Kind    ErrorKind
	Message string
	// Size and MaxSize are set for KindTooLarge.
	Size    int64
	MaxSize int64
	// Status is the HTTP status for KindProtocol errors raised by HTTP clients.
	Status int
	Err    error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Kind == KindTooLarge {
		msg = fmt.Sprintf("message size %d exceeds limit %d", e.Size, e.MaxSize)
	}
	if e.Err != nil {
		return fmt.Sprintf("transport %s: %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("transport %s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Recoverable reports whether the transport can keep serving after this error.
func (e *Error) Recoverable() bool {
	switch e.Kind {
	case KindTimeout, KindSerialization, KindTooLarge, KindConnectionLimit, KindSession:
		return true
	default:
		return false
	}
}

// NewError builds an error of the given kind.
func NewError(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// TooLarge builds a size-limit error.
func TooLarge(size, maxSize int64) *Error {
	return &Error{Kind: KindTooLarge, Size: size, MaxSize: maxSize}
}

// IsKind reports whether err is a transport Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var te *Error
	return errors.As(err, &te) && te.Kind == kind
}

// IsRecoverable reports whether err is a recoverable transport Error.
func IsRecoverable(err error) bool {
	var te *Error
	return errors.As(err, &te) && te.Recoverable()
}
