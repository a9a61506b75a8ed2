// Package jwtx reads claims out of bearer credentials issued by the backend.
//
// The client never verifies signatures: the backend is the only party that
// can, and it does so on every request. Claims are read to learn things the
// envelope may leave out, such as the expiry of a freshly rotated token.
package jwtx

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrNotJWT is returned for opaque credentials that are not compact JWTs.
	ErrNotJWT = errors.New("jwtx: credential is not a jwt")
	// ErrNoExpiry is returned when a JWT carries no exp claim.
	ErrNoExpiry = errors.New("jwtx: token has no exp claim")
)

// Claims are the access-token claims the client cares about.
type Claims struct {
	jwt.RegisteredClaims

	// Username for the authenticated user
	Username string `json:"username,omitempty"`

	// Email is set by backends that key accounts on email addresses.
	Email string `json:"email,omitempty"`

	// Role mirrors the identity role, e.g. ROLE_ADMIN.
	Role string `json:"role,omitempty"`
}

// Parse decodes the claims of a compact JWT without verifying its signature.
func Parse(token string) (*Claims, error) {
	if strings.Count(token, ".") != 2 {
		return nil, ErrNotJWT
	}

	claims := &Claims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return nil, errors.Join(ErrNotJWT, err)
	}
	return claims, nil
}

// ExpiryOf returns the exp claim of token.
func ExpiryOf(token string) (time.Time, error) {
	claims, err := Parse(token)
	if err != nil {
		return time.Time{}, err
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, ErrNoExpiry
	}
	return claims.ExpiresAt.Time, nil
}

// SubjectName returns the most human friendly account name in the claims.
func (c *Claims) SubjectName() string {
	switch {
	case c.Username != "":
		return c.Username
	case c.Email != "":
		return c.Email
	default:
		return c.Subject
	}
}
