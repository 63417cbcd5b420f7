// ABOUTME: OAuth discovery documents for authorization servers and protected resources
// ABOUTME: Served from the /.well-known endpoints of the HTTP engine

package oauth2

import (
	"encoding/json"
	"net/http"
)

// AuthorizationServerMetadata is the RFC 8414 document.
type AuthorizationServerMetadata struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint,omitempty"`
	TokenEndpoint                     string   `json:"token_endpoint,omitempty"`
	JWKSURI                           string   `json:"jwks_uri,omitempty"`
	ScopesSupported                   []string `json:"scopes_supported,omitempty"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported,omitempty"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported,omitempty"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported,omitempty"`
}

// ProtectedResourceMetadata is the RFC 9728 document.
type ProtectedResourceMetadata struct {
	Resource               string   `json:"resource"`
	AuthorizationServers   []string `json:"authorization_servers,omitempty"`
	ScopesSupported        []string `json:"scopes_supported,omitempty"`
	BearerMethodsSupported []string `json:"bearer_methods_supported,omitempty"`
}

// MetadataConfig collects the values advertised in discovery documents.
type MetadataConfig struct {
	Issuer                string
	AuthorizationEndpoint string
	TokenEndpoint         string
	JWKSURI               string
	Resource              string
}

// NewAuthorizationServerMetadata fills defaults for an authorization code
// + PKCE deployment.
func NewAuthorizationServerMetadata(cfg MetadataConfig, scopes []string) AuthorizationServerMetadata {
	return AuthorizationServerMetadata{
		Issuer:                            cfg.Issuer,
		AuthorizationEndpoint:             cfg.AuthorizationEndpoint,
		TokenEndpoint:                     cfg.TokenEndpoint,
		JWKSURI:                           cfg.JWKSURI,
		ScopesSupported:                   scopes,
		ResponseTypesSupported:            []string{"code"},
		GrantTypesSupported:               []string{"authorization_code", "refresh_token", "client_credentials"},
		TokenEndpointAuthMethodsSupported: []string{"client_secret_basic", "client_secret_post", "none"},
		CodeChallengeMethodsSupported:     []string{"S256"},
	}
}

// NewProtectedResourceMetadata advertises the issuer as the authorization server.
func NewProtectedResourceMetadata(cfg MetadataConfig, scopes []string) ProtectedResourceMetadata {
	md := ProtectedResourceMetadata{
		Resource:               cfg.Resource,
		ScopesSupported:        scopes,
		BearerMethodsSupported: []string{"header"},
	}
	if cfg.Issuer != "" {
		md.AuthorizationServers = []string{cfg.Issuer}
	}
	return md
}

// MetadataHandler serves doc as JSON.
func MetadataHandler(doc any) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		_ = json.NewEncoder(w).Encode(doc)
	})
}
