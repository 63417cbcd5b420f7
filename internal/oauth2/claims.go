// ABOUTME: JWT claims accepted by the runtime, including the scope claim variants
// ABOUTME: Scopes merges the space-delimited "scope" string and the "scopes" array

package oauth2

import (
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the JWT claims the runtime reads.
type Claims struct {
	jwt.RegisteredClaims

	// Scope is the RFC 8693 space-delimited scope string.
	Scope string `json:"scope,omitempty"`
	// ScopeList is the array form some issuers emit.
	ScopeList []string `json:"scopes,omitempty"`
	ClientID  string   `json:"client_id,omitempty"`
	// AuthorizedParty is the azp claim, used as client id when client_id is absent.
	AuthorizedParty string `json:"azp,omitempty"`
}

// Scopes returns the de-duplicated union of both scope claims.
func (c *Claims) Scopes() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(s string) {
		if s == "" || seen[s] {
			return
		}
		seen[s] = true
		out = append(out, s)
	}
	for _, s := range strings.Fields(c.Scope) {
		add(s)
	}
	for _, s := range c.ScopeList {
		add(strings.TrimSpace(s))
	}
	return out
}

// Client returns client_id, falling back to azp.
func (c *Claims) Client() string {
	if c.ClientID != "" {
		return c.ClientID
	}
	return c.AuthorizedParty
}
