// ABOUTME: HTTP middleware authenticating requests with a single compiled-in strategy
// ABOUTME: Attaches the auth Context on success and answers 401 with a Bearer challenge

package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
)

// DefaultSkipPaths are never authenticated.
var DefaultSkipPaths = []string{"/health"}

// MiddlewareOptions configures Middleware.
type MiddlewareOptions struct {
	// SkipPaths replaces DefaultSkipPaths when non-nil. Entries ending in /*
	// match a prefix.
	SkipPaths []string
	Realm     string
	Logger    *slog.Logger
}

type errorBody struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

// Middleware creates an HTTP middleware that authenticates with strategy s
// and adds the resulting Context to the request context.
func Middleware[D any, S HTTPStrategy[D]](s S, opts MiddlewareOptions) func(http.Handler) http.Handler {
	skip := opts.SkipPaths
	if skip == nil {
		skip = DefaultSkipPaths
	}
	realm := opts.Realm
	if realm == "" {
		realm = "mcp"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "auth", "method", string(s.Method()))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if pathSkipped(r.URL.Path, skip) || s.ShouldSkipPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			ac, err := s.Authenticate(r.Context(), NewHTTPRequest(r))
			if err != nil {
				logger.Debug("authentication failed", "path", r.URL.Path, "remote", r.RemoteAddr, "error", err)
				WriteError(w, err, realm)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), ac)))
		})
	}
}

// WriteError answers an authentication failure with the error's status,
// WWW-Authenticate challenge and an RFC 6750 JSON body.
func WriteError(w http.ResponseWriter, err error, realm string) {
	status := http.StatusUnauthorized
	body := errorBody{Error: "invalid_token", Description: "authentication failed"}
	challenge := ""

	var ch Challenge
	if errors.As(err, &ch) {
		status = ch.StatusCode()
		body.Error = ch.OAuthCode()
		body.Description = ch.Description()
		challenge = ch.WWWAuthenticate(realm)
	}
	if challenge == "" {
		challenge = `Bearer realm="` + realm + `"`
	}
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", challenge)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
