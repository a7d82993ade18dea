package remote

import (
	"errors"
	"fmt"
	"sync"

	"github.com/golang-jwt/jwt/v5"
)

// Credentials holds the bearer token of the signed-in user. The zero value is
// signed out.
type Credentials struct {
	mu     sync.RWMutex
	userID string
	token  string
}

// UserID returns the signed-in user, or "" when signed out
func (c *Credentials) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

// Token returns the bearer token
func (c *Credentials) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// SignIn stores token and returns the user id carried in its subject. The
// signature is checked by the server, not here.
func (c *Credentials) SignIn(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", fmt.Errorf("failed to parse token: %w", err)
	}
	if claims.Subject == "" {
		return "", errors.New("token has no subject")
	}

	c.mu.Lock()
	c.userID, c.token = claims.Subject, token
	c.mu.Unlock()
	return claims.Subject, nil
}

// SignOut forgets the token
func (c *Credentials) SignOut() {
	c.mu.Lock()
	c.userID, c.token = "", ""
	c.mu.Unlock()
}
