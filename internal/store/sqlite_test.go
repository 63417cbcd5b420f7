// ABOUTME: Tests for the SQLite key store
// ABOUTME: Covers key issuance, validation, revocation, listing and persistence across reopen

package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newTestStore(t *testing.T, path string) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	s.cost = bcrypt.MinCost
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "keys.db")
	newTestStore(t, dbPath)

	_, err := os.Stat(dbPath)
	assert.NoError(t, err, "database file was not created in nested directory")
}

func TestCreateAndValidateKey(t *testing.T) {
	s := newTestStore(t, ":memory:")
	ctx := context.Background()

	plaintext, key, err := s.CreateKey(ctx, "ci", []string{"mcp:tools:*"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(plaintext, KeyPrefix+key.ID+"_"))
	assert.Len(t, key.ID, 12)
	assert.Nil(t, key.LastUsedAt)

	got, err := s.ValidateKey(ctx, plaintext)
	require.NoError(t, err)
	assert.Equal(t, key.ID, got.ID)
	assert.Equal(t, "ci", got.Name)
	assert.Equal(t, []string{"mcp:tools:*"}, got.Scopes)
	assert.NotNil(t, got.LastUsedAt)
}

func TestValidateKeyRejects(t *testing.T) {
	s := newTestStore(t, ":memory:")
	ctx := context.Background()
	plaintext, key, err := s.CreateKey(ctx, "ci", nil)
	require.NoError(t, err)

	tests := []struct {
		name string
		key  string
	}{
		{"empty", ""},
		{"no prefix", strings.TrimPrefix(plaintext, KeyPrefix)},
		{"no secret", KeyPrefix + key.ID},
		{"wrong secret", KeyPrefix + key.ID + "_deadbeef"},
		{"unknown id", KeyPrefix + "000000000000_deadbeef"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.ValidateKey(ctx, tt.key)
			assert.ErrorIs(t, err, ErrInvalidKey)
		})
	}
}

func TestRevokeKey(t *testing.T) {
	s := newTestStore(t, ":memory:")
	ctx := context.Background()
	plaintext, key, err := s.CreateKey(ctx, "old", []string{"mcp:*"})
	require.NoError(t, err)

	require.NoError(t, s.RevokeKey(ctx, key.ID))
	require.NoError(t, s.RevokeKey(ctx, key.ID))

	_, err = s.ValidateKey(ctx, plaintext)
	assert.ErrorIs(t, err, ErrKeyRevoked)

	assert.ErrorIs(t, s.RevokeKey(ctx, "missing"), ErrNotFound)
}

func TestListKeys(t *testing.T) {
	s := newTestStore(t, ":memory:")
	ctx := context.Background()

	keys, err := s.ListKeys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)

	_, a, err := s.CreateKey(ctx, "a", []string{"mcp:tools:read"})
	require.NoError(t, err)
	_, b, err := s.CreateKey(ctx, "b", nil)
	require.NoError(t, err)
	require.NoError(t, s.RevokeKey(ctx, b.ID))

	keys, err = s.ListKeys(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, a.ID, keys[0].ID)
	assert.False(t, keys[0].Revoked())
	assert.Equal(t, b.ID, keys[1].ID)
	assert.True(t, keys[1].Revoked())
	assert.Equal(t, []string{}, keys[1].Scopes)
}

func TestKeysSurviveReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "keys.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	s.cost = bcrypt.MinCost
	plaintext, _, err := s.CreateKey(ctx, "persist", []string{"mcp:prompts:*"})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened := newTestStore(t, dbPath)
	got, err := reopened.ValidateKey(ctx, plaintext)
	require.NoError(t, err)
	assert.Equal(t, "persist", got.Name)
}

func TestCreateKeyRequiresName(t *testing.T) {
	s := newTestStore(t, ":memory:")
	_, _, err := s.CreateKey(context.Background(), "", nil)
	assert.Error(t, err)
}
