// ABOUTME: KeyStore interface, the APIKey record and the mcpk_<id>_<secret> key format
// ABOUTME: Key generation and parsing are shared by the SQLite and mock stores

package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// KeyPrefix starts every issued API key.
const KeyPrefix = "mcpk_"

// secretBytes is the entropy of the secret half. Hex encoding keeps the
// secret well under bcrypt's 72 byte input limit.
const secretBytes = 24

var (
	// ErrNotFound is returned when a requested key does not exist
	ErrNotFound = errors.New("not found")
	// ErrInvalidKey is returned for malformed keys and wrong secrets
	ErrInvalidKey = errors.New("invalid api key")
	// ErrKeyRevoked is returned when a revoked key is presented
	ErrKeyRevoked = errors.New("api key revoked")
)

// APIKey is a stored key. The secret hash never leaves the store.
type APIKey struct {
	ID         string
	Name       string
	Scopes     []string
	CreatedAt  time.Time
	LastUsedAt *time.Time
	RevokedAt  *time.Time
}

// Revoked reports whether the key has been revoked.
func (k *APIKey) Revoked() bool {
	return k.RevokedAt != nil
}

// KeyStore manages API keys.
type KeyStore interface {
	// CreateKey issues a key and returns its plaintext form, which cannot be
	// recovered later.
	CreateKey(ctx context.Context, name string, scopes []string) (string, *APIKey, error)
	ValidateKey(ctx context.Context, key string) (*APIKey, error)
	ListKeys(ctx context.Context) ([]*APIKey, error)
	RevokeKey(ctx context.Context, id string) error
	Close() error
}

// newKey generates the id, the plaintext key and the hash to persist.
func newKey(cost int) (id, plaintext string, hash []byte, err error) {
	id = strings.ReplaceAll(uuid.New().String(), "-", "")[:12]

	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", nil, fmt.Errorf("generating secret: %w", err)
	}
	secret := hex.EncodeToString(buf)

	hash, err = bcrypt.GenerateFromPassword([]byte(secret), cost)
	if err != nil {
		return "", "", nil, fmt.Errorf("hashing secret: %w", err)
	}
	return id, KeyPrefix + id + "_" + secret, hash, nil
}

// parseKey splits a presented key into id and secret.
func parseKey(key string) (id, secret string, err error) {
	rest, ok := strings.CutPrefix(key, KeyPrefix)
	if !ok {
		return "", "", ErrInvalidKey
	}
	id, secret, ok = strings.Cut(rest, "_")
	if !ok || id == "" || secret == "" {
		return "", "", ErrInvalidKey
	}
	return id, secret, nil
}

// checkSecret compares a presented secret with the stored hash.
func checkSecret(hash []byte, secret string) error {
	if err := bcrypt.CompareHashAndPassword(hash, []byte(secret)); err != nil {
		return ErrInvalidKey
	}
	return nil
}
