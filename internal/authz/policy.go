// ABOUTME: Authorization policies parameterized on the auth data type
// ABOUTME: NoAuthPolicy allows all; ScopePolicy enforces MCP scope mappings

package authz

import (
	"context"
	"errors"
	"fmt"

	"github.com/2389/mcp-runtime/internal/auth"
	"github.com/2389/mcp-runtime/internal/oauth2"
)

// ErrDenied is the generic denial for policies without scope detail.
var ErrDenied = errors.New("access denied")

// Policy decides whether data may call method.
type Policy[C any] interface {
	Authorize(ctx context.Context, data C, method string) error
}

// PolicyFunc adapts a function to Policy.
type PolicyFunc[C any] func(ctx context.Context, data C, method string) error

func (f PolicyFunc[C]) Authorize(ctx context.Context, data C, method string) error {
	return f(ctx, data, method)
}

// NoAuthPolicy allows every method.
type NoAuthPolicy[C any] struct{}

func (NoAuthPolicy[C]) Authorize(context.Context, C, string) error { return nil }

// DefaultPublicMethods may be called without any scope so clients can
// complete the handshake and probe liveness.
var DefaultPublicMethods = []string{
	"initialize",
	"initialized",
	"notifications/initialized",
	"ping",
}

// ScopePolicy checks the caller's scopes against method mappings.
type ScopePolicy[C auth.ScopeHolder] struct {
	validator *oauth2.ScopeValidator
	public    map[string]bool
}

// NewScopePolicy creates a policy. A nil validator uses the default mappings;
// nil publicMethods uses DefaultPublicMethods.
func NewScopePolicy[C auth.ScopeHolder](v *oauth2.ScopeValidator, publicMethods []string) *ScopePolicy[C] {
	if v == nil {
		v = oauth2.NewDefaultScopeValidator()
	}
	if publicMethods == nil {
		publicMethods = DefaultPublicMethods
	}
	pub := make(map[string]bool, len(publicMethods))
	for _, m := range publicMethods {
		pub[m] = true
	}
	return &ScopePolicy[C]{validator: v, public: pub}
}

func (p *ScopePolicy[C]) Authorize(_ context.Context, data C, method string) error {
	if p.public[method] {
		return nil
	}
	if err := p.validator.ValidateMethodAccess(method, data.GrantedScopes()); err != nil {
		return fmt.Errorf("authorizing %s: %w", method, err)
	}
	return nil
}
