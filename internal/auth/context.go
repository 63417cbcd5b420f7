// ABOUTME: Authentication context for tracking identity through request handlers
// ABOUTME: Provides WithContext/FromContext keyed by the strategy's data type

package auth

import (
	"context"
	"time"
)

// Method identifies how a request was authenticated.
type Method string

const (
	MethodNone   Method = "none"
	MethodAPIKey Method = "apikey"
	MethodOAuth2 Method = "oauth2"
	MethodBasic  Method = "basic"
)

// CustomMethod names an application-defined strategy.
func CustomMethod(name string) Method { return Method("custom:" + name) }

// Context holds the authenticated identity produced by a Strategy.
type Context[D any] struct {
	Method          Method
	Data            D
	Metadata        map[string]string
	AuthenticatedAt time.Time
}

// NewContext stamps a context with the current time.
func NewContext[D any](method Method, data D) *Context[D] {
	return &Context[D]{
		Method:          method,
		Data:            data,
		Metadata:        make(map[string]string),
		AuthenticatedAt: time.Now(),
	}
}

// contextKey is distinct per data type so strategies cannot collide.
type contextKey[D any] struct{}

// WithContext returns a new context with the auth Context attached.
func WithContext[D any](ctx context.Context, ac *Context[D]) context.Context {
	return context.WithValue(ctx, contextKey[D]{}, ac)
}

// FromContext retrieves the auth Context for data type D, returning nil if
// not present.
func FromContext[D any](ctx context.Context) *Context[D] {
	ac, _ := ctx.Value(contextKey[D]{}).(*Context[D])
	return ac
}

// ScopeHolder is implemented by auth data that carries OAuth-style scopes.
type ScopeHolder interface {
	GrantedScopes() []string
}

// Subject is implemented by auth data that names a principal.
type Subject interface {
	SubjectID() string
}
