// ABOUTME: Tests for method extraction, scope policies and the authorization stage
// ABOUTME: Confirms decisions depend on the body method and never the URL path

package authz

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/mcp-runtime/internal/auth"
	"github.com/2389/mcp-runtime/internal/jsonrpc"
	"github.com/2389/mcp-runtime/internal/oauth2"
)

// decodeBody stands in for the engine's parser stage.
func decodeBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if msg, err := jsonrpc.Decode(body); err == nil {
			r = r.WithContext(jsonrpc.WithMessage(r.Context(), msg))
		}
		next.ServeHTTP(w, r)
	})
}

func withScopes(scopes []string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ac := auth.NewContext(auth.MethodOAuth2, &oauth2.AuthContext{Subject: "u", Scopes: scopes})
		next.ServeHTTP(w, r.WithContext(auth.WithContext(r.Context(), ac)))
	})
}

func scopeChain(scopes []string, reached *bool) http.Handler {
	policy := NewScopePolicy[*oauth2.AuthContext](nil, nil)
	mw := Middleware[*oauth2.AuthContext](policy, MiddlewareOptions{})
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*reached = true
		w.WriteHeader(http.StatusOK)
	})
	return withScopes(scopes, decodeBody(mw(final)))
}

func post(h http.Handler, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, strings.NewReader(body)))
	return rec
}

const toolsCallBody = `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"add","arguments":{"a":1,"b":2}}}`

func TestInsufficientScopeForToolCall(t *testing.T) {
	reached := false
	rec := post(scopeChain([]string{"mcp:resources:read"}, &reached), "/mcp", toolsCallBody)

	assert.False(t, reached)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	var resp struct {
		ID    int `json:"id"`
		Error struct {
			Code int        `json:"code"`
			Data DeniedData `json:"data"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.ID)
	assert.Equal(t, jsonrpc.CodeInsufficientScope, resp.Error.Code)
	assert.Equal(t, "mcp:tools:execute", resp.Error.Data.Required)
	assert.Equal(t, []string{"mcp:resources:read"}, resp.Error.Data.Provided)
	assert.Equal(t, "tools/call", resp.Error.Data.Method)
}

func TestURLPathDoesNotChangeDecision(t *testing.T) {
	for _, path := range []string{"/mcp", "/mcp/resources/read", "/mcp/tools/call", "/mcp/anything/else"} {
		t.Run(path, func(t *testing.T) {
			reached := false
			rec := post(scopeChain([]string{"mcp:resources:read"}, &reached), path, toolsCallBody)
			assert.Equal(t, http.StatusForbidden, rec.Code)
			assert.False(t, reached)
		})
	}

	readBody := `{"jsonrpc":"2.0","id":3,"method":"resources/read","params":{"uri":"file:///a"}}`
	for _, path := range []string{"/mcp", "/mcp/tools/call"} {
		t.Run("allowed "+path, func(t *testing.T) {
			reached := false
			rec := post(scopeChain([]string{"mcp:resources:read"}, &reached), path, readBody)
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.True(t, reached)
		})
	}
}

func TestPublicMethodsAndWildcards(t *testing.T) {
	reached := false
	rec := post(scopeChain(nil, &reached), "/mcp", `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	reached = false
	rec = post(scopeChain([]string{"mcp:*"}, &reached), "/mcp", toolsCallBody)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, reached)

	reached = false
	rec = post(scopeChain([]string{"mcp:tools:*"}, &reached), "/mcp", toolsCallBody)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestResponsesAndBodylessRequestsPassThrough(t *testing.T) {
	reached := false
	rec := post(scopeChain(nil, &reached), "/mcp", `{"jsonrpc":"2.0","id":1,"result":{}}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, reached)

	reached = false
	h := scopeChain(nil, &reached)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/mcp", nil))
	assert.True(t, reached)
}

func TestNoAuthPolicyAndPolicyFunc(t *testing.T) {
	assert.NoError(t, NoAuthPolicy[auth.NoAuthData]{}.Authorize(context.Background(), auth.NoAuthData{}, "tools/call"))

	deny := PolicyFunc[*auth.APIKeyData](func(_ context.Context, d *auth.APIKeyData, method string) error {
		if d.Name != "admin" {
			return ErrDenied
		}
		return nil
	})
	mw := Middleware[*auth.APIKeyData](deny, MiddlewareOptions{})
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ac := auth.NewContext(auth.MethodAPIKey, &auth.APIKeyData{Name: "ci", Scopes: []string{"mcp:*"}})
		decodeBody(mw(http.NotFoundHandler())).ServeHTTP(w, r.WithContext(auth.WithContext(r.Context(), ac)))
	})
	rec := post(h, "/mcp", toolsCallBody)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), `"reason":"access denied"`)
}

func TestExtractors(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/mcp/tools/call", nil)
	_, err := JSONRPCExtractor{}.ExtractMethod(r)
	assert.ErrorIs(t, err, ErrNoMessage)

	msg, err := jsonrpc.Decode([]byte(`{"jsonrpc":"2.0","id":1,"method":"resources/read"}`))
	require.NoError(t, err)
	m, err := JSONRPCExtractor{}.ExtractMethod(r.WithContext(jsonrpc.WithMessage(r.Context(), msg)))
	require.NoError(t, err)
	assert.Equal(t, "resources/read", m)

	m, _ = StaticExtractor{Method: "ping"}.ExtractMethod(r)
	assert.Equal(t, "ping", m)
}
