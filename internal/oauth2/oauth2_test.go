// ABOUTME: Tests for JWT validation, JWKS key resolution, scope rules and the token cache
// ABOUTME: Tokens are minted in-test with golang-jwt against HMAC and RSA keys

package oauth2

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret-key-that-is-long-enough")

func mintHS256(t *testing.T, claims Claims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	require.NoError(t, err)
	return tok
}

func validClaims(scopes string) Claims {
	now := time.Now()
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			Issuer:    "https://issuer.test",
			Audience:  jwt.ClaimStrings{"mcp-runtime"},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
		Scope:    scopes,
		ClientID: "client-1",
	}
}

func newHMACValidator(t *testing.T) *JWTValidator {
	t.Helper()
	v, err := NewJWTValidator(JWTConfig{
		Issuer:   "https://issuer.test",
		Audience: "mcp-runtime",
		Secret:   testSecret,
	}, nil)
	require.NoError(t, err)
	return v
}

func TestJWTValidatorHMAC(t *testing.T) {
	v := newHMACValidator(t)

	claims, err := v.Validate(context.Background(), mintHS256(t, validClaims("mcp:tools:read mcp:resources:read")))
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, []string{"mcp:tools:read", "mcp:resources:read"}, claims.Scopes())
	assert.Equal(t, "client-1", claims.Client())
}

func TestJWTValidatorRejections(t *testing.T) {
	v := newHMACValidator(t)

	expired := validClaims("")
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
	_, err := v.Validate(context.Background(), mintHS256(t, expired))
	assert.ErrorIs(t, err, ErrExpiredToken)

	wrongAud := validClaims("")
	wrongAud.Audience = jwt.ClaimStrings{"someone-else"}
	_, err = v.Validate(context.Background(), mintHS256(t, wrongAud))
	assert.ErrorIs(t, err, ErrInvalidToken)

	noSub := validClaims("")
	noSub.Subject = ""
	_, err = v.Validate(context.Background(), mintHS256(t, noSub))
	assert.ErrorIs(t, err, ErrInvalidToken)

	noExp := validClaims("")
	noExp.ExpiresAt = nil
	_, err = v.Validate(context.Background(), mintHS256(t, noExp))
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = v.Validate(context.Background(), "not.a.jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)

	other, err := jwt.NewWithClaims(jwt.SigningMethodHS256, validClaims("")).SignedString([]byte("other-secret"))
	require.NoError(t, err)
	_, err = v.Validate(context.Background(), other)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewJWTValidatorConfigErrors(t *testing.T) {
	_, err := NewJWTValidator(JWTConfig{}, nil)
	var oe *Error
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, KindConfig, oe.Kind)

	_, err = NewJWTValidator(JWTConfig{Secret: testSecret, Algorithms: []string{"none"}}, nil)
	assert.Error(t, err)
}

func jwksServer(t *testing.T, kid string, pub *rsa.PublicKey, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		set := jsonWebKeySet{Keys: []jsonWebKey{{
			Kty: "RSA",
			Kid: kid,
			Use: "sig",
			Alg: "RS256",
			N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}}}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(set)
	}))
}

func TestJWTValidatorRSAWithJWKS(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	var hits atomic.Int32
	srv := jwksServer(t, "key-1", &key.PublicKey, &hits)
	defer srv.Close()

	cache := NewJWKSCache(srv.URL, srv.Client(), time.Hour, nil)
	v, err := NewJWTValidator(JWTConfig{Audience: "mcp-runtime"}, cache)
	require.NoError(t, err)

	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, validClaims("mcp:*"))
	tok.Header["kid"] = "key-1"
	signed, err := tok.SignedString(key)
	require.NoError(t, err)

	claims, err := v.Validate(context.Background(), signed)
	require.NoError(t, err)
	assert.Equal(t, []string{"mcp:*"}, claims.Scopes())

	_, err = v.Validate(context.Background(), signed)
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load(), "known key ids must not refetch")

	hmac := mintHS256(t, validClaims(""))
	_, err = v.Validate(context.Background(), hmac)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWKSUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	cache := NewJWKSCache(srv.URL, srv.Client(), time.Hour, nil)
	_, err := cache.Key(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJWKSUnavailable)

	var oe *Error
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, http.StatusServiceUnavailable, oe.StatusCode())
}

func TestScopeValidatorDefaults(t *testing.T) {
	v := NewDefaultScopeValidator()

	tests := []struct {
		method  string
		scopes  []string
		allowed bool
	}{
		{"tools/call", []string{"mcp:tools:execute"}, true},
		{"tools/call", []string{"mcp:resources:read"}, false},
		{"tools/call", []string{"mcp:tools:*"}, true},
		{"tools/call", []string{"mcp:*"}, true},
		{"tools/list", []string{"mcp:tools:read"}, true},
		{"resources/read", []string{"mcp:resources:read"}, true},
		{"resources/list", []string{"mcp:resources:read"}, false},
		{"resources/subscribe", []string{"mcp:resources:subscribe"}, true},
		{"resources/unsubscribe", []string{"mcp:resources:subscribe"}, true},
		{"prompts/get", []string{"mcp:prompts:read"}, true},
		{"prompts/list", []string{"mcp:prompts:list"}, true},
		{"logging/setLevel", []string{"mcp:logging:configure"}, true},
		{"logging/setLevel", []string{"mcp:tools:*"}, false},
		{"custom/thing", []string{"mcp:custom:*"}, true},
		{"custom/thing", []string{"mcp:custom:read"}, false},
		{"custom/thing", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			first := v.ValidateMethodAccess(tt.method, tt.scopes)
			second := v.ValidateMethodAccess(tt.method, tt.scopes)
			assert.Equal(t, first == nil, second == nil, "validation must be idempotent")
			if tt.allowed {
				assert.NoError(t, first)
			} else {
				assert.ErrorIs(t, first, ErrInsufficientScope)
			}
		})
	}
}

func TestInsufficientScopeDetails(t *testing.T) {
	v := NewDefaultScopeValidator()
	err := v.ValidateMethodAccess("tools/call", []string{"mcp:resources:read"})

	var ise *InsufficientScopeError
	require.ErrorAs(t, err, &ise)
	assert.Equal(t, "mcp:tools:execute", ise.Required)
	assert.Equal(t, []string{"mcp:resources:read"}, ise.Provided)

	assert.Equal(t, "mcp:foo:*", v.RequiredScope("foo/bar"))
	assert.False(t, v.IsMethodConfigured("foo/bar"))
}

func TestScopeValidatorMappingChanges(t *testing.T) {
	v := NewDefaultScopeValidator()
	v.AddMapping(ScopeMapping{Method: "sampling/createMessage", Scope: "mcp:sampling:create"})
	assert.True(t, v.IsMethodConfigured("sampling/createMessage"))
	assert.NoError(t, v.ValidateMethodAccess("sampling/createMessage", []string{"mcp:sampling:create"}))

	v.AddMapping(ScopeMapping{Method: "tools/list", Scope: "mcp:tools:read", Optional: true})
	assert.NoError(t, v.ValidateMethodAccess("tools/list", nil))

	assert.True(t, v.RemoveMapping("tools/call"))
	assert.False(t, v.RemoveMapping("tools/call"))
	assert.Equal(t, "mcp:tools:*", v.RequiredScope("tools/call"))
	assert.Contains(t, v.RequiredScopes(), "mcp:sampling:create")
}

func TestTokenCacheTTLAndLRU(t *testing.T) {
	c := NewTokenCache(time.Minute, 2)
	defer c.Close()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	ac := &AuthContext{Subject: "a", ExpiresAt: now.Add(time.Hour)}
	c.Store("tok-a", ac, "refresh-a")
	c.Store("tok-b", &AuthContext{Subject: "b"}, "")

	e, ok := c.Get("tok-a")
	require.True(t, ok)
	assert.Equal(t, uint64(1), e.AccessCount)
	assert.Equal(t, "refresh-a", e.RefreshToken)

	c.Store("tok-c", &AuthContext{Subject: "c"}, "")
	_, ok = c.Get("tok-b")
	assert.False(t, ok, "least recently used entry is evicted")
	_, ok = c.Get("tok-a")
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 2, c.ClearExpired())
	m := c.Metrics()
	assert.Equal(t, 0, m.Size)
	assert.Equal(t, uint64(1), m.Evictions)

	assert.True(t, e.ShouldRefresh(now, time.Hour))
	assert.False(t, e.ShouldRefresh(now.Add(-2*time.Minute), 30*time.Minute))

	c.Close()
	c.Close()
}

type countingVerifier struct {
	inner TokenVerifier
	calls atomic.Int32
}

func (c *countingVerifier) Validate(ctx context.Context, token string) (*Claims, error) {
	c.calls.Add(1)
	return c.inner.Validate(ctx, token)
}

func TestValidatorRequestUsesCache(t *testing.T) {
	counting := &countingVerifier{inner: newHMACValidator(t)}
	cache := NewTokenCache(time.Minute, 10)
	defer cache.Close()
	v := NewValidator(counting, nil, cache)

	tok := mintHS256(t, validClaims("mcp:resources:read"))
	ac, err := v.ValidateRequest(context.Background(), tok, "resources/read")
	require.NoError(t, err)
	assert.Equal(t, "user-1", ac.Subject)

	_, err = v.ValidateRequest(context.Background(), tok, "tools/call")
	var ise *InsufficientScopeError
	require.True(t, errors.As(err, &ise))
	assert.Equal(t, "mcp:tools:execute", ise.Required)
	assert.Equal(t, int32(1), counting.calls.Load())

	_, err = v.ValidateToken(context.Background(), "")
	assert.ErrorIs(t, err, ErrMissingToken)
}

func TestValidatorRefreshThresholdBypassesCache(t *testing.T) {
	counting := &countingVerifier{inner: newHMACValidator(t)}
	cache := NewTokenCache(time.Minute, 10)
	defer cache.Close()
	v := NewValidator(counting, nil, cache)
	v.SetRefreshThreshold(2 * time.Hour)

	tok := mintHS256(t, validClaims("mcp:*"))
	for range 3 {
		_, err := v.Authenticate(context.Background(), tok)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(3), counting.calls.Load(), "tokens near expiry are verified every time")
}

func TestErrorHTTPMapping(t *testing.T) {
	assert.Equal(t, http.StatusUnauthorized, ErrInvalidToken.StatusCode())
	assert.Equal(t, `Bearer realm="mcp"`, ErrMissingToken.WWWAuthenticate("mcp"))
	assert.Equal(t, `Bearer realm="mcp", error="invalid_token", error_description="token expired"`, ErrExpiredToken.WWWAuthenticate("mcp"))
	assert.Equal(t, "invalid_request", ErrMalformedHeader.OAuthCode())
}

func TestMetadataHandler(t *testing.T) {
	md := NewProtectedResourceMetadata(MetadataConfig{Issuer: "https://issuer.test", Resource: "https://mcp.test/mcp"}, []string{"mcp:tools:read"})
	rec := httptest.NewRecorder()
	MetadataHandler(md).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/.well-known/oauth-protected-resource", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"resource":"https://mcp.test/mcp","authorization_servers":["https://issuer.test"],"scopes_supported":["mcp:tools:read"],"bearer_methods_supported":["header"]}`, rec.Body.String())

	rec = httptest.NewRecorder()
	MetadataHandler(md).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
