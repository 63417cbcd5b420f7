// ABOUTME: JWT validation with HMAC shared secrets or RSA keys resolved by key id
// ABOUTME: Enforces algorithms, audience, issuer, expiry and clock-skew leeway

package oauth2

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultLeeway tolerates small clock differences between issuer and runtime.
const DefaultLeeway = 30 * time.Second

// KeySource resolves RSA verification keys by key id.
type KeySource interface {
	Key(ctx context.Context, kid string) (*rsa.PublicKey, error)
}

// JWTConfig configures a JWTValidator.
type JWTConfig struct {
	Issuer   string
	Audience string
	// Algorithms lists accepted "alg" values. Defaults to HS256 when a secret
	// is configured and RS256 otherwise.
	Algorithms []string
	Leeway     time.Duration
	Secret     []byte
}

// JWTValidator verifies signed access tokens.
type JWTValidator struct {
	cfg  JWTConfig
	keys KeySource
	opts []jwt.ParserOption
}

// NewJWTValidator builds a validator. keys may be nil when only HMAC tokens
// are accepted.
func NewJWTValidator(cfg JWTConfig, keys KeySource) (*JWTValidator, error) {
	if len(cfg.Secret) == 0 && keys == nil {
		return nil, newError(KindConfig, "either a shared secret or a JWKS key source is required", nil)
	}
	if len(cfg.Algorithms) == 0 {
		if len(cfg.Secret) > 0 {
			cfg.Algorithms = []string{"HS256"}
		} else {
			cfg.Algorithms = []string{"RS256"}
		}
	}
	for _, alg := range cfg.Algorithms {
		if jwt.GetSigningMethod(alg) == nil || alg == "none" {
			return nil, newError(KindConfig, fmt.Sprintf("unsupported algorithm %q", alg), nil)
		}
	}
	if cfg.Leeway == 0 {
		cfg.Leeway = DefaultLeeway
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods(cfg.Algorithms),
		jwt.WithLeeway(cfg.Leeway),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	return &JWTValidator{cfg: cfg, keys: keys, opts: opts}, nil
}

// Validate parses and verifies token, returning its claims.
func (v *JWTValidator) Validate(ctx context.Context, token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		switch t.Method.(type) {
		case *jwt.SigningMethodHMAC:
			if len(v.cfg.Secret) == 0 {
				return nil, errors.New("hmac tokens are not accepted")
			}
			return v.cfg.Secret, nil
		case *jwt.SigningMethodRSA, *jwt.SigningMethodRSAPSS:
			if v.keys == nil {
				return nil, errors.New("rsa tokens are not accepted")
			}
			kid, _ := t.Header["kid"].(string)
			return v.keys.Key(ctx, kid)
		default:
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
	}, v.opts...)

	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, newError(KindExpiredToken, "token expired", err)
		case errors.Is(err, ErrJWKSUnavailable):
			return nil, newError(KindJWKSUnavailable, "signing keys unavailable", err)
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, newError(KindInvalidToken, "malformed token", err)
		default:
			return nil, newError(KindInvalidToken, "token rejected", err)
		}
	}
	if !parsed.Valid {
		return nil, newError(KindInvalidToken, "token rejected", nil)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, newError(KindInvalidToken, "missing sub claim", nil)
	}
	return claims, nil
}
