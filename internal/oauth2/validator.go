// ABOUTME: Combined OAuth2 validator: token verification, scope extraction, method checks
// ABOUTME: Consults the token cache before verifying signatures

package oauth2

import (
	"context"
	"time"
)

// TokenVerifier verifies a raw token and returns its claims.
type TokenVerifier interface {
	Validate(ctx context.Context, token string) (*Claims, error)
}

// Validator ties token verification to MCP scope rules.
type Validator struct {
	tokens  TokenVerifier
	scopes  *ScopeValidator
	cache   *TokenCache
	refresh time.Duration
}

// NewValidator creates a validator. cache may be nil.
func NewValidator(tokens TokenVerifier, scopes *ScopeValidator, cache *TokenCache) *Validator {
	if scopes == nil {
		scopes = NewDefaultScopeValidator()
	}
	return &Validator{tokens: tokens, scopes: scopes, cache: cache}
}

// SetRefreshThreshold makes cached tokens expiring within d be verified
// again instead of served from the cache.
func (v *Validator) SetRefreshThreshold(d time.Duration) { v.refresh = d }

// Scopes returns the scope validator.
func (v *Validator) Scopes() *ScopeValidator { return v.scopes }

// ValidateToken verifies token and returns its claims.
func (v *Validator) ValidateToken(ctx context.Context, token string) (*Claims, error) {
	if token == "" {
		return nil, ErrMissingToken
	}
	return v.tokens.Validate(ctx, token)
}

// ExtractScopes returns the scopes granted by claims.
func (v *Validator) ExtractScopes(c *Claims) []string {
	return c.Scopes()
}

// Authenticate returns the identity for token, served from cache when possible.
func (v *Validator) Authenticate(ctx context.Context, token string) (*AuthContext, error) {
	if v.cache != nil {
		if e, ok := v.cache.Get(token); ok && !e.ShouldRefresh(time.Now(), v.refresh) {
			return e.Auth, nil
		}
	}
	claims, err := v.ValidateToken(ctx, token)
	if err != nil {
		return nil, err
	}
	ac := NewAuthContext(claims)
	if ac.Expired(time.Now()) {
		return nil, ErrExpiredToken
	}
	if v.cache != nil {
		v.cache.Store(token, ac, "")
	}
	return ac, nil
}

// ValidateRequest authenticates token and checks it may call method.
func (v *Validator) ValidateRequest(ctx context.Context, token, method string) (*AuthContext, error) {
	ac, err := v.Authenticate(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := v.scopes.ValidateMethodAccess(method, ac.Scopes); err != nil {
		return ac, err
	}
	return ac, nil
}
