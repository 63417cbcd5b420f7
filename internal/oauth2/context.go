// ABOUTME: Authenticated OAuth2 identity derived from validated token claims
// ABOUTME: Carried in request contexts and checked by scope policies

package oauth2

import (
	"slices"
	"time"
)

// AuthContext is the identity a validated token establishes.
type AuthContext struct {
	Subject   string
	ClientID  string
	Scopes    []string
	ExpiresAt time.Time
	Claims    *Claims
}

// NewAuthContext builds a context from validated claims.
func NewAuthContext(c *Claims) *AuthContext {
	ac := &AuthContext{
		Subject:  c.Subject,
		ClientID: c.Client(),
		Scopes:   c.Scopes(),
		Claims:   c,
	}
	if c.ExpiresAt != nil {
		ac.ExpiresAt = c.ExpiresAt.Time
	}
	return ac
}

// HasScope reports whether scope is granted, honoring wildcards.
func (a *AuthContext) HasScope(scope string) bool {
	return Grants(a.Scopes, scope)
}

// HasExactScope reports whether scope is literally present.
func (a *AuthContext) HasExactScope(scope string) bool {
	return slices.Contains(a.Scopes, scope)
}

// Expired reports whether the token has passed its expiry.
func (a *AuthContext) Expired(now time.Time) bool {
	return !a.ExpiresAt.IsZero() && now.After(a.ExpiresAt)
}

// GrantedScopes returns the token's scopes.
func (a *AuthContext) GrantedScopes() []string {
	if a == nil {
		return nil
	}
	return a.Scopes
}

// SubjectID returns the token subject.
func (a *AuthContext) SubjectID() string {
	if a == nil {
		return ""
	}
	return a.Subject
}
