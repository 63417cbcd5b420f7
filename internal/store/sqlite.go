// ABOUTME: SQLite implementation of KeyStore using modernc.org/sqlite
// ABOUTME: Stores bcrypt hashes of key secrets with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements KeyStore using SQLite
type SQLiteStore struct {
	db     *sql.DB
	cost   int
	logger *slog.Logger
}

var _ KeyStore = (*SQLiteStore)(nil)

// NewSQLiteStore opens or creates the database at path. Parent directories
// are created if needed; ":memory:" opens a private in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if path == ":memory:" {
		// Each connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		cost:   bcrypt.DefaultCost,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS api_keys (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			secret_hash BLOB NOT NULL,
			scopes TEXT NOT NULL DEFAULT '[]',
			created_at TEXT NOT NULL,
			last_used_at TEXT,
			revoked_at TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_api_keys_created
			ON api_keys(created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// CreateKey issues a new key.
func (s *SQLiteStore) CreateKey(ctx context.Context, name string, scopes []string) (string, *APIKey, error) {
	if name == "" {
		return "", nil, errors.New("key name is required")
	}
	if scopes == nil {
		scopes = []string{}
	}
	scopesJSON, err := json.Marshal(scopes)
	if err != nil {
		return "", nil, fmt.Errorf("encoding scopes: %w", err)
	}

	id, plaintext, hash, err := newKey(s.cost)
	if err != nil {
		return "", nil, err
	}
	key := &APIKey{
		ID:        id,
		Name:      name,
		Scopes:    scopes,
		CreatedAt: time.Now().UTC(),
	}

	query := `
		INSERT INTO api_keys (id, name, secret_hash, scopes, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		key.ID,
		key.Name,
		hash,
		string(scopesJSON),
		formatTime(key.CreatedAt),
	)
	if err != nil {
		return "", nil, fmt.Errorf("inserting api key: %w", err)
	}

	s.logger.Info("created api key", "key_id", key.ID, "name", key.Name)
	return plaintext, key, nil
}

// ValidateKey checks a presented key and records its use.
func (s *SQLiteStore) ValidateKey(ctx context.Context, key string) (*APIKey, error) {
	id, secret, err := parseKey(key)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, name, secret_hash, scopes, created_at, last_used_at, revoked_at
		FROM api_keys
		WHERE id = ?
	`
	var hash []byte
	k, err := scanKey(s.db.QueryRowContext(ctx, query, id), &hash)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalidKey
	}
	if err != nil {
		return nil, err
	}
	if k.Revoked() {
		return nil, ErrKeyRevoked
	}
	if err := checkSecret(hash, secret); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx, `UPDATE api_keys SET last_used_at = ? WHERE id = ?`, formatTime(now), k.ID); err != nil {
		// Validation already succeeded; a failed bookkeeping write is not fatal.
		s.logger.Warn("failed to record key use", "key_id", k.ID, "error", err)
	} else {
		k.LastUsedAt = &now
	}
	return k, nil
}

// ListKeys returns all keys, revoked ones included, oldest first.
func (s *SQLiteStore) ListKeys(ctx context.Context) ([]*APIKey, error) {
	query := `
		SELECT id, name, secret_hash, scopes, created_at, last_used_at, revoked_at
		FROM api_keys
		ORDER BY created_at ASC, id ASC
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying api keys: %w", err)
	}
	defer rows.Close()

	var keys []*APIKey
	for rows.Next() {
		var hash []byte
		k, err := scanKey(rows, &hash)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating api keys: %w", err)
	}
	return keys, nil
}

// RevokeKey marks a key revoked. Revoking twice is not an error.
func (s *SQLiteStore) RevokeKey(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET revoked_at = COALESCE(revoked_at, ?) WHERE id = ?`,
		formatTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("revoking api key: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	s.logger.Info("revoked api key", "key_id", id)
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanKey(row rowScanner, hash *[]byte) (*APIKey, error) {
	var (
		k          APIKey
		scopesJSON string
		createdAt  string
		lastUsedAt sql.NullString
		revokedAt  sql.NullString
	)
	err := row.Scan(&k.ID, &k.Name, hash, &scopesJSON, &createdAt, &lastUsedAt, &revokedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning api key: %w", err)
	}

	if err := json.Unmarshal([]byte(scopesJSON), &k.Scopes); err != nil {
		return nil, fmt.Errorf("decoding scopes: %w", err)
	}
	if k.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if lastUsedAt.Valid {
		t, err := parseTime(lastUsedAt.String)
		if err != nil {
			return nil, err
		}
		k.LastUsedAt = &t
	}
	if revokedAt.Valid {
		t, err := parseTime(revokedAt.String)
		if err != nil {
			return nil, err
		}
		k.RevokedAt = &t
	}
	return &k, nil
}

// timeFormat has fixed width so stored timestamps sort lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}
