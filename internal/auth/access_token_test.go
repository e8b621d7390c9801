package auth

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-1",
		"exp": exp.Unix(),
	})
	signed, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return signed
}

func TestExpiresAt(t *testing.T) {
	t.Parallel()

	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	got, ok := ExpiresAt(signedToken(t, exp))
	require.True(t, ok)
	require.Equal(t, exp.Unix(), got.Unix())
}

func TestExpiresAt_OpaqueToken(t *testing.T) {
	t.Parallel()

	_, ok := ExpiresAt("not-a-jwt")
	require.False(t, ok)
}

func TestExpiringSoon(t *testing.T) {
	t.Parallel()

	fresh := signedToken(t, time.Now().Add(time.Hour))
	stale := signedToken(t, time.Now().Add(time.Minute))

	require.False(t, ExpiringSoon(fresh, TokenRefreshWindow))
	require.True(t, ExpiringSoon(stale, TokenRefreshWindow))
	// Opaque tokens never report as expiring.
	require.False(t, ExpiringSoon("opaque", TokenRefreshWindow))
}

func TestLoadToken(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "access.key")

	_, err := LoadToken(path)
	require.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("  tok-123\n"), 0o600))
	token, err := LoadToken(path)
	require.NoError(t, err)
	require.Equal(t, "tok-123", token)
}
