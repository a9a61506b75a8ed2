package domain_test

import (
	"testing"
	"time"

	"github.com/aussiebroadwan/casedesk/internal/casedesk/domain"
	"github.com/stretchr/testify/require"
)

func TestCredentialValidAt(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		cred domain.Credential
		want bool
	}{
		{"empty", domain.Credential{}, false},
		{"future", domain.Credential{Value: "a", ExpiresAt: now.Add(time.Second)}, true},
		{"exactly now", domain.Credential{Value: "a", ExpiresAt: now}, false},
		{"past", domain.Credential{Value: "a", ExpiresAt: now.Add(-time.Second)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, tt.cred.ValidAt(now))
		})
	}
}

func TestIdentityAccess(t *testing.T) {
	t.Parallel()

	admin := domain.Identity{Username: "ada", Role: domain.RoleAdmin, Status: domain.StatusVerified}
	require.True(t, admin.IsAdmin())
	require.True(t, admin.IsVerified())
	require.True(t, admin.CanUpload())
	require.True(t, admin.CanRename())
	require.False(t, admin.IsViewOnly())

	viewer := domain.Identity{Email: "bob@example.com", Role: "ROLE_USER"}
	require.False(t, viewer.IsAdmin())
	require.False(t, viewer.IsVerified())
	require.False(t, viewer.CanDelete())
	require.False(t, viewer.CanDownload())
	require.True(t, viewer.IsViewOnly())
	require.Equal(t, "bob@example.com", viewer.DisplayName())
}

func TestLoginRoute(t *testing.T) {
	t.Parallel()

	require.True(t, domain.LoginRoute(true).Expired())
	require.Equal(t, "login", domain.LoginRoute(true).Name)

	plain := domain.LoginRoute(false)
	require.False(t, plain.Expired())
	require.Nil(t, plain.Query)
}
