package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore implements Store using MySQL.
// Useful when several services share one credential record through a
// database they already run.
type MySQLStore struct {
	db *sql.DB
}

// NewMySQL creates a new MySQL credential store from an existing
// connection.
func NewMySQL(db *sql.DB) (*MySQLStore, error) {
	schema := `
	CREATE TABLE IF NOT EXISTS credentials (
		name  VARCHAR(64) PRIMARY KEY,
		value TEXT NOT NULL
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("mysql: failed to create schema: %w", err)
	}

	return &MySQLStore{db: db}, nil
}

// NewMySQLFromDSN creates a new MySQL credential store from a DSN.
// The DSN format is: user:password@tcp(host:port)/database
func NewMySQLFromDSN(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn+"?parseTime=true")
	if err != nil {
		return nil, fmt.Errorf("mysql: failed to open database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("mysql: failed to connect: %w", err)
	}

	return NewMySQL(db)
}

// Put persists the credentials in a single transaction and clears any
// refresh lock.
func (s *MySQLStore) Put(c *Credentials) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("mysql: failed to begin put: %w", err)
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
		if _, err := tx.Exec("REPLACE INTO credentials (name, value) VALUES (?, ?)", p[0], p[1]); err != nil {
			return fmt.Errorf("mysql: failed to write %s: %w", p[0], err)
		}
	}
	if _, err := tx.Exec("DELETE FROM credentials WHERE name = ?", keyRefreshLock); err != nil {
		return fmt.Errorf("mysql: failed to clear lock: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("mysql: failed to commit put: %w", err)
	}
	return nil
}

// Get returns the stored credentials, or nil if signed out.
func (s *MySQLStore) Get() (*Credentials, error) {
	rows, err := s.db.Query("SELECT name, value FROM credentials")
	if err != nil {
		return nil, fmt.Errorf("mysql: failed to read credentials: %w", err)
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("mysql: failed to scan credentials: %w", err)
		}
		values[name] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("mysql: error iterating credentials: %w", err)
	}

	return credentialsFromValues(values)
}

// PutPrincipal replaces the serialized principal.
func (s *MySQLStore) PutPrincipal(raw []byte) error {
	_, err := s.db.Exec("REPLACE INTO credentials (name, value) VALUES (?, ?)", keyPrincipal, string(raw))
	if err != nil {
		return fmt.Errorf("mysql: failed to write principal: %w", err)
	}
	return nil
}

// Principal returns the serialized principal, or nil if absent.
func (s *MySQLStore) Principal() ([]byte, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM credentials WHERE name = ?", keyPrincipal).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("mysql: failed to read principal: %w", err)
	}
	return []byte(value), nil
}

// Clear removes all credential and lock state.
func (s *MySQLStore) Clear() error {
	if _, err := s.db.Exec("DELETE FROM credentials"); err != nil {
		return fmt.Errorf("mysql: failed to clear credentials: %w", err)
	}
	return nil
}

// AcquireRefreshLock records a refresh lock expiring after ttl.
func (s *MySQLStore) AcquireRefreshLock(ttl time.Duration) error {
	until := encodeMillis(time.Now().Add(ttl))
	_, err := s.db.Exec("REPLACE INTO credentials (name, value) VALUES (?, ?)", keyRefreshLock, until)
	if err != nil {
		return fmt.Errorf("mysql: failed to acquire lock: %w", err)
	}
	return nil
}

// RefreshLockHeld reports whether a fresh refresh lock is present.
func (s *MySQLStore) RefreshLockHeld() (bool, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM credentials WHERE name = ?", keyRefreshLock).Scan(&value)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("mysql: failed to read lock: %w", err)
	}

	until, err := decodeMillis(value)
	if err != nil {
		return false, nil
	}
	return time.Now().Before(until), nil
}

// ReleaseRefreshLock removes the refresh lock.
func (s *MySQLStore) ReleaseRefreshLock() error {
	if _, err := s.db.Exec("DELETE FROM credentials WHERE name = ?", keyRefreshLock); err != nil {
		return fmt.Errorf("mysql: failed to release lock: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *MySQLStore) Close() error {
	return s.db.Close()
}
