// ABOUTME: Tests for the in-memory key store and the auth validator adapter
// ABOUTME: Verifies both stores agree on key format and error semantics

package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/mcp-runtime/internal/auth"
)

func TestMockStoreLifecycle(t *testing.T) {
	m := NewMockStore()
	ctx := context.Background()

	plaintext, key, err := m.CreateKey(ctx, "dev", []string{"mcp:resources:*"})
	require.NoError(t, err)

	got, err := m.ValidateKey(ctx, plaintext)
	require.NoError(t, err)
	assert.Equal(t, key.ID, got.ID)
	assert.NotNil(t, got.LastUsedAt)

	_, err = m.ValidateKey(ctx, plaintext+"x")
	assert.ErrorIs(t, err, ErrInvalidKey)

	require.NoError(t, m.RevokeKey(ctx, key.ID))
	_, err = m.ValidateKey(ctx, plaintext)
	assert.ErrorIs(t, err, ErrKeyRevoked)
	assert.ErrorIs(t, m.RevokeKey(ctx, "nope"), ErrNotFound)

	keys, err := m.ListKeys(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.True(t, keys[0].Revoked())
}

func TestValidatorAdapter(t *testing.T) {
	m := NewMockStore()
	ctx := context.Background()
	plaintext, key, err := m.CreateKey(ctx, "svc", []string{"mcp:tools:execute"})
	require.NoError(t, err)

	v := Validator(m)
	data, err := v.ValidateKey(ctx, plaintext)
	require.NoError(t, err)
	assert.Equal(t, key.ID, data.KeyID)
	assert.Equal(t, "svc", data.Name)
	assert.Equal(t, []string{"mcp:tools:execute"}, data.GrantedScopes())

	_, err = v.ValidateKey(ctx, "garbage")
	assert.True(t, errors.Is(err, auth.ErrInvalidCredentials))

	require.NoError(t, m.RevokeKey(ctx, key.ID))
	_, err = v.ValidateKey(ctx, plaintext)
	assert.True(t, errors.Is(err, auth.ErrInvalidCredentials))
}

type failingStore struct{ MockStore }

func (*failingStore) ValidateKey(context.Context, string) (*APIKey, error) {
	return nil, errors.New("database is locked")
}

func TestValidatorPassesStoreFailures(t *testing.T) {
	_, err := Validator(&failingStore{}).ValidateKey(context.Background(), "mcpk_a_b")
	require.Error(t, err)
	assert.False(t, errors.Is(err, auth.ErrInvalidCredentials))
}
