// Package auth loads the locally stored access token and inspects its
// expiry. The token itself is opaque; only the standard exp claim is read,
// without signature verification, to decide whether a refresh is needed
// before connecting.
package auth

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// TokenRefreshWindow is how soon before expiry a token is considered
	// stale.
	TokenRefreshWindow = 10 * time.Minute
)

// LoadToken reads the access token from path.
func LoadToken(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("missing %s; run `quill auth` first", path)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", fmt.Errorf("empty %s; run `quill auth` first", path)
	}
	return token, nil
}

// ExpiresAt returns the token expiry when the token is a JWT with an exp
// claim. ok is false for non-JWT tokens or tokens without exp.
func ExpiresAt(token string) (time.Time, bool) {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, false
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// ExpiringSoon reports whether the token expires within window. Tokens
// without a readable exp claim never report as expiring.
func ExpiringSoon(token string, window time.Duration) bool {
	exp, ok := ExpiresAt(token)
	if !ok {
		return false
	}
	return time.Until(exp) <= window
}
