// ABOUTME: Mock KeyStore implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// MockStore is an in-memory KeyStore implementation for testing.
type MockStore struct {
	mu     sync.RWMutex
	keys   map[string]*APIKey // keyed by key ID
	hashes map[string][]byte  // keyed by key ID
}

var _ KeyStore = (*MockStore)(nil)

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		keys:   make(map[string]*APIKey),
		hashes: make(map[string][]byte),
	}
}

// CreateKey issues a key hashed at the minimum bcrypt cost.
func (m *MockStore) CreateKey(ctx context.Context, name string, scopes []string) (string, *APIKey, error) {
	if name == "" {
		return "", nil, errors.New("key name is required")
	}
	id, plaintext, hash, err := newKey(bcrypt.MinCost)
	if err != nil {
		return "", nil, err
	}
	k := &APIKey{
		ID:        id,
		Name:      name,
		Scopes:    append([]string{}, scopes...),
		CreatedAt: time.Now().UTC(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[id] = k
	m.hashes[id] = hash

	c := *k
	return plaintext, &c, nil
}

// ValidateKey checks a presented key and records its use.
func (m *MockStore) ValidateKey(ctx context.Context, key string) (*APIKey, error) {
	id, secret, err := parseKey(key)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[id]
	if !ok {
		return nil, ErrInvalidKey
	}
	if k.Revoked() {
		return nil, ErrKeyRevoked
	}
	if err := checkSecret(m.hashes[id], secret); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	k.LastUsedAt = &now

	c := *k
	return &c, nil
}

// ListKeys returns copies of all keys, oldest first.
func (m *MockStore) ListKeys(ctx context.Context) ([]*APIKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]*APIKey, 0, len(m.keys))
	for _, k := range m.keys {
		c := *k
		keys = append(keys, &c)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].CreatedAt.Equal(keys[j].CreatedAt) {
			return keys[i].ID < keys[j].ID
		}
		return keys[i].CreatedAt.Before(keys[j].CreatedAt)
	})
	return keys, nil
}

// RevokeKey marks a key revoked.
func (m *MockStore) RevokeKey(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[id]
	if !ok {
		return ErrNotFound
	}
	if k.RevokedAt == nil {
		now := time.Now().UTC()
		k.RevokedAt = &now
	}
	return nil
}

func (m *MockStore) Close() error { return nil }
