// ABOUTME: Adapts a KeyStore to the auth package's KeyValidator
// ABOUTME: Store failures other than bad or revoked keys surface as internal errors

package store

import (
	"context"
	"errors"

	"github.com/2389/mcp-runtime/internal/auth"
)

// Validator lets the api_key strategy check keys against s.
func Validator(s KeyStore) auth.KeyValidator {
	return auth.KeyValidatorFunc(func(ctx context.Context, key string) (*auth.APIKeyData, error) {
		k, err := s.ValidateKey(ctx, key)
		switch {
		case errors.Is(err, ErrInvalidKey), errors.Is(err, ErrKeyRevoked):
			return nil, auth.ErrInvalidCredentials
		case err != nil:
			return nil, err
		}
		return &auth.APIKeyData{KeyID: k.ID, Name: k.Name, Scopes: k.Scopes}, nil
	})
}
