// ABOUTME: Generic authentication strategy contracts and the HTTP request view
// ABOUTME: Errors carry an HTTP status and RFC 6750 challenge for the middleware

package auth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
)

// Strategy authenticates a request of type Req, producing data of type D.
type Strategy[Req, D any] interface {
	Method() Method
	Authenticate(ctx context.Context, req Req) (*Context[D], error)
}

// HTTPRequest is the transport-neutral view of an HTTP request given to
// strategies.
type HTTPRequest struct {
	Headers    http.Header
	Path       string
	Query      url.Values
	ClientID   string
	RemoteAddr string
	Metadata   map[string]string
}

// NewHTTPRequest extracts the fields strategies need from r.
func NewHTTPRequest(r *http.Request) HTTPRequest {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return HTTPRequest{
		Headers:    r.Header,
		Path:       r.URL.Path,
		Query:      r.URL.Query(),
		ClientID:   r.Header.Get("X-Client-Id"),
		RemoteAddr: host,
		Metadata:   make(map[string]string),
	}
}

// HTTPStrategy is a Strategy over HTTPRequest that can exempt paths.
type HTTPStrategy[D any] interface {
	Strategy[HTTPRequest, D]
	ShouldSkipPath(path string) bool
}

// ErrorKind classifies authentication failures.
type ErrorKind string

const (
	KindMissingCredentials ErrorKind = "missing_credentials"
	KindInvalidCredentials ErrorKind = "invalid_credentials"
	KindExpired            ErrorKind = "expired"
	KindInternal           ErrorKind = "internal"
)

// Sentinel errors, matched by kind.
var (
	ErrMissingCredentials = &Error{Kind: KindMissingCredentials, Message: "missing credentials"}
	ErrInvalidCredentials = &Error{Kind: KindInvalidCredentials, Message: "invalid credentials"}
)

// Error is an authentication failure.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth %s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("auth %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	var t *Error
	return errors.As(target, &t) && t.Kind == e.Kind
}

// StatusCode maps the error to an HTTP status.
func (e *Error) StatusCode() int {
	if e.Kind == KindInternal {
		return http.StatusInternalServerError
	}
	return http.StatusUnauthorized
}

// Description is the client-facing message, without wrapped causes.
func (e *Error) Description() string { return e.Message }

// OAuthCode is the RFC 6750 error code.
func (e *Error) OAuthCode() string {
	switch e.Kind {
	case KindMissingCredentials:
		return "invalid_request"
	case KindInternal:
		return "server_error"
	default:
		return "invalid_token"
	}
}

// WWWAuthenticate renders the challenge header value for realm.
func (e *Error) WWWAuthenticate(realm string) string {
	if e.Kind == KindMissingCredentials {
		return fmt.Sprintf("Bearer realm=%q", realm)
	}
	return fmt.Sprintf("Bearer realm=%q, error=%q, error_description=%q", realm, e.OAuthCode(), e.Message)
}

// Challenge is implemented by errors that know how to answer over HTTP.
// Both *Error and *oauth2.Error satisfy it.
type Challenge interface {
	error
	StatusCode() int
	OAuthCode() string
	Description() string
	WWWAuthenticate(realm string) string
}

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	scheme, token, ok := strings.Cut(authHeader, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", "invalid authorization header format"
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

func pathSkipped(path string, skip []string) bool {
	for _, p := range skip {
		if p == path {
			return true
		}
		if strings.HasSuffix(p, "/*") && strings.HasPrefix(path, strings.TrimSuffix(p, "*")) {
			return true
		}
	}
	return false
}
