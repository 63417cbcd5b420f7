// Package store persists API keys for the api_key authentication strategy.
//
// # Key Format
//
// Keys are issued as mcpk_<id>_<secret>. The id is stored in clear and
// indexes the row; only a bcrypt hash of the secret is kept, so a plaintext
// key is shown exactly once, when it is created.
//
// # Implementations
//
//   - SQLiteStore: modernc.org/sqlite, WAL mode, schema created on open
//   - MockStore: in-memory, for tests that do not need SQLite
//
// Both satisfy KeyStore. Validator adapts any KeyStore to auth.KeyValidator:
//
//	s, err := store.NewSQLiteStore(path)
//	strategy := auth.NewAPIKeyStrategy(store.Validator(s), "", nil)
//
// Use NewSQLiteStore(":memory:") for integration tests with real SQLite.
package store
