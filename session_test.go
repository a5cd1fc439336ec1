package bifrost

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRoleOrdering(t *testing.T) {
	require.True(t, RoleSuperadmin.AtLeast(RoleAdmin))
	require.True(t, RoleAdmin.AtLeast(RoleAdmin))
	require.False(t, RoleModerator.AtLeast(RoleAdmin))
	require.True(t, RoleModerator.AtLeast(RoleUser))
	require.False(t, Role("intern").AtLeast(RoleUser))
	require.Equal(t, -1, Role("intern").Rank())
}

func TestSessionRefreshWindow(t *testing.T) {
	now := time.Now()

	fresh := &Session{
		ExpiresAt:    now.Add(time.Hour),
		RefreshDueAt: now.Add(55 * time.Minute),
	}
	require.False(t, fresh.IsExpired())
	require.False(t, fresh.ShouldRefresh())

	due := &Session{
		ExpiresAt:    now.Add(time.Minute),
		RefreshDueAt: now.Add(-4 * time.Minute),
	}
	require.False(t, due.IsExpired())
	require.True(t, due.ShouldRefresh())

	expired := &Session{
		ExpiresAt:    now.Add(-time.Second),
		RefreshDueAt: now.Add(-5 * time.Minute),
	}
	require.True(t, expired.IsExpired())
	require.False(t, expired.ShouldRefresh())
}
