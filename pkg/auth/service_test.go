package auth

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempService(t *testing.T) *Service {
	t.Helper()
	return NewService(filepath.Join(t.TempDir(), "auth.json"), "", "Ana")
}

func TestService_Owner(t *testing.T) {
	s := tempService(t)

	owner := s.Owner()
	assert.Equal(t, "Ana", owner.Name)
	assert.True(t, owner.IsOwner)
	assert.True(t, owner.IsActive)

	users, err := s.Users(context.Background())
	require.NoError(t, err)
	assert.Len(t, users, 1)
}

func TestService_RefreshTokenLifecycle(t *testing.T) {
	s := tempService(t)
	ctx := context.Background()

	tok, err := s.CreateRefreshToken(ctx, s.Owner(), "client", "name", time.Hour)
	require.NoError(t, err)
	assert.NotEmpty(t, tok.ID)
	assert.Nil(t, tok.LastUsedAt)

	got, ok := s.GetRefreshToken(ctx, tok.ID)
	require.True(t, ok)
	assert.Equal(t, "name", got.ClientName)

	require.NoError(t, s.RenameRefreshToken(ctx, tok, "renamed"))
	got, _ = s.GetRefreshToken(ctx, tok.ID)
	assert.Equal(t, "renamed", got.ClientName)

	require.NoError(t, s.RemoveRefreshToken(ctx, tok))
	_, ok = s.GetRefreshToken(ctx, tok.ID)
	assert.False(t, ok)
}

func TestService_InactiveUserRejected(t *testing.T) {
	s := tempService(t)

	_, err := s.CreateRefreshToken(context.Background(), nil, "c", "n", time.Hour)
	assert.Error(t, err)
}

func TestService_AccessTokenValidation(t *testing.T) {
	s := tempService(t)
	ctx := context.Background()

	tok, err := s.CreateRefreshToken(ctx, s.Owner(), "client", "name", time.Hour)
	require.NoError(t, err)

	secret, err := s.CreateAccessToken(ctx, tok)
	require.NoError(t, err)
	assert.NotEmpty(t, secret)
	assert.NotNil(t, tok.LastUsedAt)

	assert.True(t, s.ValidateToken(secret))
	assert.False(t, s.ValidateToken("bogus"))
	assert.False(t, s.ValidateToken(""))
}

func TestService_AccessTokenExpires(t *testing.T) {
	s := tempService(t)
	ctx := context.Background()

	tok, err := s.CreateRefreshToken(ctx, s.Owner(), "client", "name", time.Hour)
	require.NoError(t, err)
	secret, err := s.CreateAccessToken(ctx, tok)
	require.NoError(t, err)

	s.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	assert.False(t, s.ValidateToken(secret))
}

func TestService_RemoveRefreshTokenRevokesAccessTokens(t *testing.T) {
	s := tempService(t)
	ctx := context.Background()

	tok, err := s.CreateRefreshToken(ctx, s.Owner(), "client", "name", time.Hour)
	require.NoError(t, err)
	secret, err := s.CreateAccessToken(ctx, tok)
	require.NoError(t, err)
	require.True(t, s.ValidateToken(secret))

	require.NoError(t, s.RemoveRefreshToken(ctx, tok))

	assert.False(t, s.ValidateToken(secret))
}

func TestService_StaticToken(t *testing.T) {
	s := NewService(filepath.Join(t.TempDir(), "auth.json"), "operator-secret", "")

	assert.True(t, s.ValidateToken("operator-secret"))
	assert.False(t, s.ValidateToken("other"))
}

func TestService_PersistenceRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth.json")
	ctx := context.Background()

	s := NewService(path, "", "")
	tok, err := s.CreateRefreshToken(ctx, s.Owner(), "client", "name", time.Hour)
	require.NoError(t, err)
	secret, err := s.CreateAccessToken(ctx, tok)
	require.NoError(t, err)

	reloaded := NewService(path, "", "")
	require.NoError(t, reloaded.Load())

	_, ok := reloaded.GetRefreshToken(ctx, tok.ID)
	assert.True(t, ok)
	assert.True(t, reloaded.ValidateToken(secret))
}

func TestService_LoadMissingFile(t *testing.T) {
	s := NewService(filepath.Join(t.TempDir(), "absent.json"), "", "")
	assert.NoError(t, s.Load())
}
