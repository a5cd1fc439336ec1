package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	creds, err := s.Get()
	require.NoError(t, err)
	require.Nil(t, creds, "fresh store is signed out")

	now := time.Now()
	require.NoError(t, s.Put(&Credentials{
		Token:        "tok",
		TokenType:    "bearer",
		Principal:    []byte(`{"id":"u1"}`),
		IssuedAt:     now,
		ExpiresAt:    now.Add(time.Hour),
		RefreshDueAt: now.Add(55 * time.Minute),
	}))

	creds, err = s.Get()
	require.NoError(t, err)
	require.NotNil(t, creds)
	require.Equal(t, "tok", creds.Token)
	require.JSONEq(t, `{"id":"u1"}`, string(creds.Principal))

	require.NoError(t, s.Clear())
	creds, err = s.Get()
	require.NoError(t, err)
	require.Nil(t, creds)

	// Clear is idempotent.
	require.NoError(t, s.Clear())
}

func TestMemoryStorePrincipalUpdate(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	now := time.Now()
	require.NoError(t, s.Put(&Credentials{Token: "tok", ExpiresAt: now.Add(time.Hour), Principal: []byte(`{"role":"user"}`)}))
	require.NoError(t, s.PutPrincipal([]byte(`{"role":"admin"}`)))

	raw, err := s.Principal()
	require.NoError(t, err)
	require.JSONEq(t, `{"role":"admin"}`, string(raw))

	creds, err := s.Get()
	require.NoError(t, err)
	require.Equal(t, "tok", creds.Token, "token untouched by principal update")
}

func TestMemoryStoreLockTTL(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	held, err := s.RefreshLockHeld()
	require.NoError(t, err)
	require.False(t, held)

	require.NoError(t, s.AcquireRefreshLock(50*time.Millisecond))
	held, err = s.RefreshLockHeld()
	require.NoError(t, err)
	require.True(t, held)

	time.Sleep(80 * time.Millisecond)
	held, err = s.RefreshLockHeld()
	require.NoError(t, err)
	require.False(t, held, "a lock past its TTL is stale")

	require.NoError(t, s.AcquireRefreshLock(time.Minute))
	require.NoError(t, s.ReleaseRefreshLock())
	held, err = s.RefreshLockHeld()
	require.NoError(t, err)
	require.False(t, held)
}

func TestMemoryStorePutClearsLock(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	require.NoError(t, s.AcquireRefreshLock(time.Minute))
	require.NoError(t, s.Put(&Credentials{Token: "tok", ExpiresAt: time.Now().Add(time.Hour)}))

	held, err := s.RefreshLockHeld()
	require.NoError(t, err)
	require.False(t, held, "a successful put supersedes the refresh lock")
}
