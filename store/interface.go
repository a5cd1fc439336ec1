package store

import "time"

// Credentials is the persisted session state: the bearer token, its expiry
// schedule, and the serialized principal. The principal is opaque to the
// store; the bifrost package owns its encoding.
type Credentials struct {
	Token        string
	TokenType    string
	Principal    []byte
	IssuedAt     time.Time
	ExpiresAt    time.Time
	RefreshDueAt time.Time
}

// Store defines the interface for credential storage backends.
// Implementations must be safe for concurrent use, and Put/Clear must be
// atomic from a reader's perspective: Get never observes a half-written
// set of credentials.
//
// The store is a dumb key-value leaf. Expiry interpretation (treating a
// stale token as signed-out) is the session controller's job.
type Store interface {
	// Put persists the credentials wholesale, replacing whatever was
	// stored before, and clears any refresh lock.
	Put(c *Credentials) error

	// Get returns the stored credentials, or nil if signed out.
	Get() (*Credentials, error)

	// PutPrincipal replaces only the serialized principal, leaving the
	// token fields untouched.
	PutPrincipal(raw []byte) error

	// Principal returns the serialized principal, or nil if absent.
	Principal() ([]byte, error)

	// Clear removes all credential and lock state. Idempotent.
	Clear() error

	// AcquireRefreshLock records that a refresh is in flight. The lock is
	// advisory: it reduces duplicate refreshes across processes sharing
	// the store but does not guarantee mutual exclusion.
	AcquireRefreshLock(ttl time.Duration) error

	// RefreshLockHeld reports whether a refresh lock is present and its
	// TTL has not elapsed. A stale lock is ignored.
	RefreshLockHeld() (bool, error)

	// ReleaseRefreshLock removes the refresh lock. Idempotent.
	ReleaseRefreshLock() error

	// Close releases any resources held by the store.
	Close() error
}
