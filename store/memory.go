package store

import (
	"sync"
	"time"
)

// MemoryStore implements Store using in-process memory.
// It is useful for testing and for single-process embedding where
// credentials should not outlive the process.
type MemoryStore struct {
	mu        sync.RWMutex
	creds     *Credentials
	principal []byte
	lockUntil time.Time
}

// NewMemoryStore creates a new in-memory credential store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Put persists the credentials and clears any refresh lock.
func (s *MemoryStore) Put(c *Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *c
	s.creds = &cp
	s.principal = append([]byte(nil), c.Principal...)
	s.lockUntil = time.Time{}
	return nil
}

// Get returns the stored credentials, or nil if signed out.
func (s *MemoryStore) Get() (*Credentials, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.creds == nil {
		return nil, nil
	}

	cp := *s.creds
	cp.Principal = append([]byte(nil), s.principal...)
	return &cp, nil
}

// PutPrincipal replaces the serialized principal.
func (s *MemoryStore) PutPrincipal(raw []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.principal = append([]byte(nil), raw...)
	return nil
}

// Principal returns the serialized principal, or nil if absent.
func (s *MemoryStore) Principal() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.principal == nil {
		return nil, nil
	}
	return append([]byte(nil), s.principal...), nil
}

// Clear removes all credential and lock state.
func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.creds = nil
	s.principal = nil
	s.lockUntil = time.Time{}
	return nil
}

// AcquireRefreshLock records a refresh lock expiring after ttl.
func (s *MemoryStore) AcquireRefreshLock(ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lockUntil = time.Now().Add(ttl)
	return nil
}

// RefreshLockHeld reports whether a fresh refresh lock is present.
func (s *MemoryStore) RefreshLockHeld() (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return time.Now().Before(s.lockUntil), nil
}

// ReleaseRefreshLock removes the refresh lock.
func (s *MemoryStore) ReleaseRefreshLock() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lockUntil = time.Time{}
	return nil
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error {
	return nil
}
