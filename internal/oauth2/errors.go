// ABOUTME: OAuth2 error taxonomy with HTTP status and WWW-Authenticate mapping
// ABOUTME: InsufficientScopeError carries the required and provided scopes

package oauth2

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorKind classifies OAuth2 failures.
type ErrorKind string

const (
	KindMissingToken      ErrorKind = "missing_token"
	KindMalformedHeader   ErrorKind = "malformed_header"
	KindInvalidToken      ErrorKind = "invalid_token"
	KindExpiredToken      ErrorKind = "expired_token"
	KindInsufficientScope ErrorKind = "insufficient_scope"
	KindJWKSUnavailable   ErrorKind = "jwks_unavailable"
	KindConfig            ErrorKind = "config"
)

// Sentinel errors, matched with errors.Is against *Error values.
var (
	ErrMissingToken    = &Error{Kind: KindMissingToken, Message: "missing bearer token"}
	ErrMalformedHeader = &Error{Kind: KindMalformedHeader, Message: "malformed authorization header"}
	ErrInvalidToken    = &Error{Kind: KindInvalidToken, Message: "invalid token"}
	ErrExpiredToken    = &Error{Kind: KindExpiredToken, Message: "token expired"}
	ErrJWKSUnavailable = &Error{Kind: KindJWKSUnavailable, Message: "signing keys unavailable"}
)

// Error is an OAuth2 validation failure.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("oauth2 %s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("oauth2 %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind so wrapped errors compare equal to the sentinels.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// StatusCode maps the error to an HTTP status.
func (e *Error) StatusCode() int {
	switch e.Kind {
	case KindInsufficientScope:
		return http.StatusForbidden
	case KindJWKSUnavailable:
		return http.StatusServiceUnavailable
	case KindConfig:
		return http.StatusInternalServerError
	default:
		return http.StatusUnauthorized
	}
}

// Description is the client-facing message, without wrapped causes.
func (e *Error) Description() string { return e.Message }

// OAuthCode is the RFC 6750 error code.
func (e *Error) OAuthCode() string {
	switch e.Kind {
	case KindInsufficientScope:
		return "insufficient_scope"
	case KindMalformedHeader:
		return "invalid_request"
	case KindJWKSUnavailable, KindConfig:
		return "server_error"
	default:
		return "invalid_token"
	}
}

// WWWAuthenticate renders the challenge header value for realm.
func (e *Error) WWWAuthenticate(realm string) string {
	var b strings.Builder
	fmt.Fprintf(&b, `Bearer realm=%q`, realm)
	if e.Kind != KindMissingToken {
		fmt.Fprintf(&b, `, error=%q, error_description=%q`, e.OAuthCode(), e.Message)
	}
	return b.String()
}

func newError(kind ErrorKind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// InsufficientScopeError reports a method call the token's scopes do not cover.
type InsufficientScopeError struct {
	Method   string
	Required string
	Provided []string
}

func (e *InsufficientScopeError) Error() string {
	return fmt.Sprintf("insufficient scope for %s: requires %s, have [%s]", e.Method, e.Required, strings.Join(e.Provided, " "))
}

// Is lets errors.Is(err, ErrInsufficientScope) match.
func (e *InsufficientScopeError) Is(target error) bool {
	return target == ErrInsufficientScope
}

// ErrInsufficientScope matches any *InsufficientScopeError.
var ErrInsufficientScope = errors.New("insufficient scope")
