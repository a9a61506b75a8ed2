package jwtx_test

import (
	"testing"
	"time"

	"github.com/aussiebroadwan/casedesk/pkg/jwtx"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func signed(t *testing.T, claims jwt.Claims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return tok
}

func TestExpiryOf(t *testing.T) {
	t.Parallel()

	exp := time.Unix(1900000000, 0)

	t.Run("reads exp claim", func(t *testing.T) {
		tok := signed(t, jwtx.Claims{RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(exp),
		}})

		got, err := jwtx.ExpiryOf(tok)
		require.NoError(t, err)
		require.True(t, exp.Equal(got))
	})

	t.Run("expired tokens still parse", func(t *testing.T) {
		past := time.Unix(1000, 0)
		tok := signed(t, jwtx.Claims{RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(past),
		}})

		got, err := jwtx.ExpiryOf(tok)
		require.NoError(t, err)
		require.True(t, past.Equal(got))
	})

	t.Run("missing exp", func(t *testing.T) {
		tok := signed(t, jwtx.Claims{Username: "alice"})
		_, err := jwtx.ExpiryOf(tok)
		require.ErrorIs(t, err, jwtx.ErrNoExpiry)
	})

	t.Run("opaque credential", func(t *testing.T) {
		_, err := jwtx.ExpiryOf("abc")
		require.ErrorIs(t, err, jwtx.ErrNotJWT)

		_, err = jwtx.ExpiryOf("a.b.c")
		require.ErrorIs(t, err, jwtx.ErrNotJWT)
	})
}

func TestSubjectName(t *testing.T) {
	t.Parallel()

	c := &jwtx.Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "01ABC"}}
	require.Equal(t, "01ABC", c.SubjectName())

	c.Email = "alice@example.com"
	require.Equal(t, "alice@example.com", c.SubjectName())

	c.Username = "alice"
	require.Equal(t, "alice", c.SubjectName())
}
