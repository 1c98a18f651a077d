package model

import (
	"testing"

	"github.com/stretchr/testify/require"

	appErr "github.com/xxxsen/notevault/internal/pkg/errors"
)

func TestShareTokenCheckOrder(t *testing.T) {
	now := int64(1000)
	tests := []struct {
		name  string
		token ShareToken
		want  TokenVerdict
	}{
		{name: "usable", token: ShareToken{MaxUses: 3, UsageCount: 2}, want: TokenUsable},
		{name: "unlimited", token: ShareToken{UsageCount: 99}, want: TokenUsable},
		{name: "revoked wins", token: ShareToken{Revoked: true, ExpiresAt: 10, MaxUses: 1, UsageCount: 1}, want: TokenRevoked},
		{name: "expired with quota left", token: ShareToken{ExpiresAt: 999, MaxUses: 3, UsageCount: 0}, want: TokenExpired},
		{name: "expires exactly now", token: ShareToken{ExpiresAt: 1000}, want: TokenExpired},
		{name: "exhausted", token: ShareToken{ExpiresAt: 2000, MaxUses: 3, UsageCount: 3}, want: TokenExhausted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, tt.token.Check(now))
		})
	}
}

func TestTokenVerdictErr(t *testing.T) {
	require.NoError(t, TokenUsable.Err())
	require.ErrorIs(t, TokenRevoked.Err(), appErr.ErrTokenRevoked)
	require.ErrorIs(t, TokenExpired.Err(), appErr.ErrTokenExpired)
	require.ErrorIs(t, TokenExhausted.Err(), appErr.ErrTokenExhausted)
}

func TestRoleRules(t *testing.T) {
	require.True(t, RoleOwner.CanWrite())
	require.True(t, RoleEditor.CanWrite())
	require.False(t, RoleViewer.CanWrite())
	require.False(t, RoleNone.CanWrite())
	require.False(t, RoleNone.CanRead())

	require.True(t, RoleEditor.CanIssue(SharePermissionEdit))
	require.True(t, RoleViewer.CanIssue(SharePermissionView))
	require.False(t, RoleViewer.CanIssue(SharePermissionEdit))
	require.False(t, RoleNone.CanIssue(SharePermissionView))

	require.Equal(t, RoleViewer, SharePermissionView.Role())
	require.Equal(t, RoleEditor, SharePermissionEdit.Role())
}

func TestParseRole(t *testing.T) {
	role, err := ParseRole(" Editor ")
	require.NoError(t, err)
	require.Equal(t, RoleEditor, role)
	_, err = ParseRole("admin")
	require.Error(t, err)

	var decoded Role
	require.NoError(t, decoded.UnmarshalText([]byte("viewer")))
	require.Equal(t, RoleViewer, decoded)
}
