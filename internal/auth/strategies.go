// ABOUTME: Built-in HTTP strategies: none, API key and OAuth2 bearer tokens
// ABOUTME: API keys are checked by a pluggable KeyValidator (static or stored)

package auth

import (
	"context"
	"crypto/subtle"
	"errors"

	"github.com/2389/mcp-runtime/internal/oauth2"
)

// NoAuthData is the data type produced by NoneStrategy.
type NoAuthData struct{}

// GrantedScopes grants everything to unauthenticated deployments.
func (NoAuthData) GrantedScopes() []string { return []string{"mcp:*"} }

// NoneStrategy accepts every request.
type NoneStrategy struct{}

var _ HTTPStrategy[NoAuthData] = NoneStrategy{}

func (NoneStrategy) Method() Method { return MethodNone }

func (NoneStrategy) Authenticate(context.Context, HTTPRequest) (*Context[NoAuthData], error) {
	return NewContext(MethodNone, NoAuthData{}), nil
}

// ShouldSkipPath skips every path; the middleware then attaches nothing.
func (NoneStrategy) ShouldSkipPath(string) bool { return true }

// APIKeyData identifies the key a request presented.
type APIKeyData struct {
	KeyID  string
	Name   string
	Scopes []string
}

func (d *APIKeyData) GrantedScopes() []string {
	if d == nil {
		return nil
	}
	return d.Scopes
}

func (d *APIKeyData) SubjectID() string {
	if d == nil {
		return ""
	}
	return d.KeyID
}

// KeyValidator resolves a presented API key.
type KeyValidator interface {
	ValidateKey(ctx context.Context, key string) (*APIKeyData, error)
}

// KeyValidatorFunc adapts a function to KeyValidator.
type KeyValidatorFunc func(ctx context.Context, key string) (*APIKeyData, error)

func (f KeyValidatorFunc) ValidateKey(ctx context.Context, key string) (*APIKeyData, error) {
	return f(ctx, key)
}

// StaticKey is one configured API key.
type StaticKey struct {
	Key    string
	Name   string
	Scopes []string
}

// StaticKeyValidator checks keys against a fixed list in constant time.
type StaticKeyValidator struct {
	keys []StaticKey
}

// NewStaticKeyValidator creates a validator over keys.
func NewStaticKeyValidator(keys []StaticKey) *StaticKeyValidator {
	return &StaticKeyValidator{keys: append([]StaticKey(nil), keys...)}
}

func (v *StaticKeyValidator) ValidateKey(_ context.Context, key string) (*APIKeyData, error) {
	var match *StaticKey
	for i := range v.keys {
		if subtle.ConstantTimeCompare([]byte(v.keys[i].Key), []byte(key)) == 1 {
			match = &v.keys[i]
		}
	}
	if match == nil {
		return nil, ErrInvalidCredentials
	}
	return &APIKeyData{KeyID: match.Name, Name: match.Name, Scopes: match.Scopes}, nil
}

// DefaultAPIKeyHeader is checked before Authorization.
const DefaultAPIKeyHeader = "X-API-Key"

// APIKeyStrategy authenticates with an API key.
type APIKeyStrategy struct {
	validator KeyValidator
	header    string
	skip      []string
}

var _ HTTPStrategy[*APIKeyData] = (*APIKeyStrategy)(nil)

// NewAPIKeyStrategy reads the key from header (DefaultAPIKeyHeader when
// empty) or from an Authorization: Bearer header.
func NewAPIKeyStrategy(v KeyValidator, header string, skipPaths []string) *APIKeyStrategy {
	if header == "" {
		header = DefaultAPIKeyHeader
	}
	return &APIKeyStrategy{validator: v, header: header, skip: skipPaths}
}

func (s *APIKeyStrategy) Method() Method { return MethodAPIKey }

func (s *APIKeyStrategy) Authenticate(ctx context.Context, req HTTPRequest) (*Context[*APIKeyData], error) {
	key := req.Headers.Get(s.header)
	if key == "" {
		token, errMsg := extractBearerToken(req.Headers.Get("Authorization"))
		if errMsg != "" {
			return nil, &Error{Kind: KindMissingCredentials, Message: "missing api key"}
		}
		key = token
	}

	data, err := s.validator.ValidateKey(ctx, key)
	if err != nil {
		var ae *Error
		if errors.As(err, &ae) {
			return nil, ae
		}
		return nil, &Error{Kind: KindInvalidCredentials, Message: "invalid api key", Err: err}
	}

	ac := NewContext(MethodAPIKey, data)
	ac.Metadata["key_id"] = data.KeyID
	ac.Metadata["remote_addr"] = req.RemoteAddr
	return ac, nil
}

func (s *APIKeyStrategy) ShouldSkipPath(path string) bool { return pathSkipped(path, s.skip) }

// OAuth2Strategy authenticates bearer JWTs.
type OAuth2Strategy struct {
	validator *oauth2.Validator
	skip      []string
}

var _ HTTPStrategy[*oauth2.AuthContext] = (*OAuth2Strategy)(nil)

// NewOAuth2Strategy creates a strategy using v.
func NewOAuth2Strategy(v *oauth2.Validator, skipPaths []string) *OAuth2Strategy {
	return &OAuth2Strategy{validator: v, skip: skipPaths}
}

func (s *OAuth2Strategy) Method() Method { return MethodOAuth2 }

func (s *OAuth2Strategy) Authenticate(ctx context.Context, req HTTPRequest) (*Context[*oauth2.AuthContext], error) {
	header := req.Headers.Get("Authorization")
	token, errMsg := extractBearerToken(header)
	switch {
	case header == "":
		return nil, oauth2.ErrMissingToken
	case errMsg != "":
		return nil, &oauth2.Error{Kind: oauth2.KindMalformedHeader, Message: errMsg}
	}

	authCtx, err := s.validator.Authenticate(ctx, token)
	if err != nil {
		return nil, err
	}

	ac := NewContext(MethodOAuth2, authCtx)
	ac.Metadata["subject"] = authCtx.Subject
	if authCtx.ClientID != "" {
		ac.Metadata["client_id"] = authCtx.ClientID
	}
	return ac, nil
}

func (s *OAuth2Strategy) ShouldSkipPath(path string) bool { return pathSkipped(path, s.skip) }
