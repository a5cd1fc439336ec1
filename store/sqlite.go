package store

import (
	"database/sql"
	"fmt"
	"strconv"
	"time"

	_ "modernc.org/sqlite"
)

// Storage keys, shared by the SQL-backed stores. One row per key mirrors
// the flat key-value layout the credentials originally lived in.
const (
	keyToken       = "token"
	keyTokenType   = "token_type"
	keyPrincipal   = "principal"
	keyIssuedAt    = "issued_at"
	keyExpiresAt   = "expires_at"
	keyRefreshDue  = "refresh_due_at"
	keyRefreshLock = "refresh_lock"
)

// Instants are stored as unix milliseconds in text form.
func encodeMillis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func decodeMillis(s string) (time.Time, error) {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}

// SQLiteStore implements Store using SQLite.
// It uses the pure Go modernc.org/sqlite driver. A file-backed database is
// visible to every process that opens the same path, which is what makes
// the advisory refresh lock useful across processes.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite credential store.
// The database file is created if it doesn't exist.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrent read performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to enable WAL mode: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS credentials (
		name  TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Put persists the credentials in a single transaction and clears any
// refresh lock. Readers see either the old set or the new set, never a mix.
func (s *SQLiteStore) Put(c *Credentials) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("sqlite: failed to begin put: %w", err)
	}
	defer tx.Rollback()

	pairs := [][2]string{
		{keyToken, c.Token},
		{keyTokenType, c.TokenType},
		{keyPrincipal, string(c.Principal)},
		{keyIssuedAt, encodeMillis(c.IssuedAt)},
		{keyExpiresAt, encodeMillis(c.ExpiresAt)},
		{keyRefreshDue, encodeMillis(c.RefreshDueAt)},
	}
	for _, p := range pairs {
		if _, err := tx.Exec("INSERT OR REPLACE INTO credentials (name, value) VALUES (?, ?)", p[0], p[1]); err != nil {
			return fmt.Errorf("sqlite: failed to write %s: %w", p[0], err)
		}
	}
	if _, err := tx.Exec("DELETE FROM credentials WHERE name = ?", keyRefreshLock); err != nil {
		return fmt.Errorf("sqlite: failed to clear lock: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: failed to commit put: %w", err)
	}
	return nil
}

// Get returns the stored credentials, or nil if signed out.
func (s *SQLiteStore) Get() (*Credentials, error) {
	rows, err := s.db.Query("SELECT name, value FROM credentials")
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to read credentials: %w", err)
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan credentials: %w", err)
		}
		values[name] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: error iterating credentials: %w", err)
	}

	return credentialsFromValues(values)
}

// PutPrincipal replaces the serialized principal.
func (s *SQLiteStore) PutPrincipal(raw []byte) error {
	_, err := s.db.Exec("INSERT OR REPLACE INTO credentials (name, value) VALUES (?, ?)", keyPrincipal, string(raw))
	if err != nil {
		return fmt.Errorf("sqlite: failed to write principal: %w", err)
	}
	return nil
}

// Principal returns the serialized principal, or nil if absent.
func (s *SQLiteStore) Principal() ([]byte, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM credentials WHERE name = ?", keyPrincipal).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to read principal: %w", err)
	}
	return []byte(value), nil
}

// Clear removes all credential and lock state.
func (s *SQLiteStore) Clear() error {
	if _, err := s.db.Exec("DELETE FROM credentials"); err != nil {
		return fmt.Errorf("sqlite: failed to clear credentials: %w", err)
	}
	return nil
}

// AcquireRefreshLock records a refresh lock expiring after ttl.
func (s *SQLiteStore) AcquireRefreshLock(ttl time.Duration) error {
	until := encodeMillis(time.Now().Add(ttl))
	_, err := s.db.Exec("INSERT OR REPLACE INTO credentials (name, value) VALUES (?, ?)", keyRefreshLock, until)
	if err != nil {
		return fmt.Errorf("sqlite: failed to acquire lock: %w", err)
	}
	return nil
}

// RefreshLockHeld reports whether a fresh refresh lock is present.
func (s *SQLiteStore) RefreshLockHeld() (bool, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM credentials WHERE name = ?", keyRefreshLock).Scan(&value)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("sqlite: failed to read lock: %w", err)
	}

	until, err := decodeMillis(value)
	if err != nil {
		// Unparseable lock is treated as stale.
		return false, nil
	}
	return time.Now().Before(until), nil
}

// ReleaseRefreshLock removes the refresh lock.
func (s *SQLiteStore) ReleaseRefreshLock() error {
	if _, err := s.db.Exec("DELETE FROM credentials WHERE name = ?", keyRefreshLock); err != nil {
		return fmt.Errorf("sqlite: failed to release lock: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// credentialsFromValues assembles Credentials from raw key-value pairs.
// A missing token or expiry means signed out.
func credentialsFromValues(values map[string]string) (*Credentials, error) {
	token, okToken := values[keyToken]
	expiry, okExpiry := values[keyExpiresAt]
	if !okToken || !okExpiry || token == "" {
		return nil, nil
	}

	expiresAt, err := decodeMillis(expiry)
	if err != nil {
		return nil, fmt.Errorf("store: corrupt expiry instant: %w", err)
	}

	c := &Credentials{
		Token:     token,
		TokenType: values[keyTokenType],
		ExpiresAt: expiresAt,
	}
	if raw, ok := values[keyPrincipal]; ok && raw != "" {
		c.Principal = []byte(raw)
	}
	if v, ok := values[keyIssuedAt]; ok {
		if t, err := decodeMillis(v); err == nil {
			c.IssuedAt = t
		}
	}
	if v, ok := values[keyRefreshDue]; ok {
		if t, err := decodeMillis(v); err == nil {
			c.RefreshDueAt = t
		}
	}
	return c, nil
}
