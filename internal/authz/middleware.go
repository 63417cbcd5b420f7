// ABOUTME: HTTP authorization stage: body method + auth context + policy decision
// ABOUTME: Denials are JSON-RPC error envelopes with the request id and HTTP 403

package authz

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/2389/mcp-runtime/internal/auth"
	"github.com/2389/mcp-runtime/internal/jsonrpc"
	"github.com/2389/mcp-runtime/internal/oauth2"
)

// MiddlewareOptions configures Middleware.
type MiddlewareOptions struct {
	Extractor MethodExtractor
	Logger    *slog.Logger
}

// DeniedData is the data member of an insufficient-scope error envelope.
type DeniedData struct {
	Method   string   `json:"method"`
	Required string   `json:"required,omitempty"`
	Provided []string `json:"provided"`
	Reason   string   `json:"reason,omitempty"`
}

// Middleware authorizes POSTed JSON-RPC requests with policy p against the
// auth Context of type C attached by the authentication stage. Requests
// without a decoded envelope (GET streams, health) pass through.
func Middleware[C any, P Policy[C]](p P, opts MiddlewareOptions) func(http.Handler) http.Handler {
	ext := opts.Extractor
	if ext == nil {
		ext = JSONRPCExtractor{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "authz")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			msg, ok := jsonrpc.MessageFromContext(r.Context())
			if !ok || msg.IsResponse() {
				next.ServeHTTP(w, r)
				return
			}

			method, err := ext.ExtractMethod(r)
			if err != nil {
				writeEnvelope(w, http.StatusBadRequest, jsonrpc.NewError(msg.ID, jsonrpc.InvalidRequest(err.Error())))
				return
			}

			var data C
			if ac := auth.FromContext[C](r.Context()); ac != nil {
				data = ac.Data
			}

			if err := p.Authorize(r.Context(), data, method); err != nil {
				logger.Info("request denied", "method", method, "path", r.URL.Path, "error", err)
				writeEnvelope(w, http.StatusForbidden, jsonrpc.NewError(msg.ID, deniedError(method, data, err)))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func deniedError(method string, data any, err error) *jsonrpc.ErrorObject {
	dd := DeniedData{Method: method, Provided: []string{}}
	if sh, ok := data.(auth.ScopeHolder); ok {
		if scopes := sh.GrantedScopes(); scopes != nil {
			dd.Provided = scopes
		}
	}
	var ise *oauth2.InsufficientScopeError
	if errors.As(err, &ise) {
		dd.Required = ise.Required
		if ise.Provided != nil {
			dd.Provided = ise.Provided
		}
	} else {
		dd.Reason = err.Error()
	}
	return jsonrpc.NewErrorObject(jsonrpc.CodeInsufficientScope, "Insufficient scope", dd)
}

func writeEnvelope(w http.ResponseWriter, status int, msg *jsonrpc.Message) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(msg)
}
