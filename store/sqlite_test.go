package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestSQLite(t *testing.T) (*SQLiteStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	s, _ := newTestSQLite(t)

	creds, err := s.Get()
	require.NoError(t, err)
	require.Nil(t, creds)

	now := time.Now()
	require.NoError(t, s.Put(&Credentials{
		Token:        "tok",
		TokenType:    "bearer",
		Principal:    []byte(`{"id":"u1","role":"admin"}`),
		IssuedAt:     now,
		ExpiresAt:    now.Add(time.Hour),
		RefreshDueAt: now.Add(55 * time.Minute),
	}))

	creds, err = s.Get()
	require.NoError(t, err)
	require.NotNil(t, creds)
	require.Equal(t, "tok", creds.Token)
	require.Equal(t, "bearer", creds.TokenType)
	require.JSONEq(t, `{"id":"u1","role":"admin"}`, string(creds.Principal))

	// Instants survive with millisecond precision.
	require.WithinDuration(t, now.Add(time.Hour), creds.ExpiresAt, time.Millisecond)
	require.WithinDuration(t, now, creds.IssuedAt, time.Millisecond)
	require.WithinDuration(t, now.Add(55*time.Minute), creds.RefreshDueAt, time.Millisecond)

	require.NoError(t, s.Clear())
	creds, err = s.Get()
	require.NoError(t, err)
	require.Nil(t, creds)
}

func TestSQLiteStoreSharedAcrossInstances(t *testing.T) {
	s1, path := newTestSQLite(t)

	now := time.Now()
	require.NoError(t, s1.Put(&Credentials{Token: "tok", ExpiresAt: now.Add(time.Hour)}))
	require.NoError(t, s1.AcquireRefreshLock(time.Minute))

	// A second process opening the same database sees the same state.
	s2, err := NewSQLite(path)
	require.NoError(t, err)
	defer s2.Close()

	creds, err := s2.Get()
	require.NoError(t, err)
	require.NotNil(t, creds)
	require.Equal(t, "tok", creds.Token)

	held, err := s2.RefreshLockHeld()
	require.NoError(t, err)
	require.True(t, held)
}

func TestSQLiteStoreLockTTL(t *testing.T) {
	s, _ := newTestSQLite(t)

	require.NoError(t, s.AcquireRefreshLock(50*time.Millisecond))
	held, err := s.RefreshLockHeld()
	require.NoError(t, err)
	require.True(t, held)

	time.Sleep(80 * time.Millisecond)
	held, err = s.RefreshLockHeld()
	require.NoError(t, err)
	require.False(t, held)
}

func TestSQLiteStorePutClearsLock(t *testing.T) {
	s, _ := newTestSQLite(t)

	require.NoError(t, s.AcquireRefreshLock(time.Minute))
	require.NoError(t, s.Put(&Credentials{Token: "tok", ExpiresAt: time.Now().Add(time.Hour)}))

	held, err := s.RefreshLockHeld()
	require.NoError(t, err)
	require.False(t, held)
}

func TestSQLiteStorePrincipalUpdate(t *testing.T) {
	s, _ := newTestSQLite(t)

	raw, err := s.Principal()
	require.NoError(t, err)
	require.Nil(t, raw)

	require.NoError(t, s.Put(&Credentials{Token: "tok", ExpiresAt: time.Now().Add(time.Hour), Principal: []byte(`{"role":"user"}`)}))
	require.NoError(t, s.PutPrincipal([]byte(`{"role":"moderator"}`)))

	raw, err = s.Principal()
	require.NoError(t, err)
	require.JSONEq(t, `{"role":"moderator"}`, string(raw))
}
