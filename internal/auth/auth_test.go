package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "0123456789abcdef0123456789abcdef"

func TestHashAndVerify(t *testing.T) {
	hash, err := HashPassword("hunter2")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$argon2id$v=19$m=65536,t=3,p=4$"))

	assert.True(t, VerifyPassword("hunter2", hash))
	assert.False(t, VerifyPassword("hunter3", hash))
	assert.False(t, VerifyPassword("hunter2", "$2a$10$notargon"))
	assert.False(t, VerifyPassword("hunter2", "$argon2id$v=19$m=x,t=3,p=4$c2FsdA$aGFzaA"))
}

func TestLoginAndValidate(t *testing.T) {
	hash, err := HashPassword("hunter2")
	require.NoError(t, err)
	svc := NewService(secret, hash)

	_, err = svc.Login("wrong")
	assert.ErrorIs(t, err, ErrInvalidPassword)

	token, err := svc.Login("hunter2")
	require.NoError(t, err)

	claims, err := svc.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, Issuer, claims.Issuer)
	assert.Equal(t, "operator", claims.Subject)
	assert.WithinDuration(t, time.Now().Add(TokenTTL), claims.ExpiresAt.Time, time.Minute)
}

func TestValidate_Rejects(t *testing.T) {
	hash, err := HashPassword("hunter2")
	require.NoError(t, err)
	svc := NewService(secret, hash)

	t.Run("expired", func(t *testing.T) {
		token, err := svc.Login("hunter2")
		require.NoError(t, err)
		later := NewService(secret, hash)
		later.now = func() time.Time { return time.Now().Add(25 * time.Hour) }
		_, err = later.Validate(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("other secret", func(t *testing.T) {
		token, err := NewService("ffffffffffffffffffffffffffffffff", hash).Login("hunter2")
		require.NoError(t, err)
		_, err = svc.Validate(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
			Issuer:    "someone-else",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}).SignedString([]byte(secret))
		require.NoError(t, err)
		_, err = svc.Validate(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("none alg", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Issuer: Issuer}).
			SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = svc.Validate(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("empty hash never logs in", func(t *testing.T) {
		_, err := NewService(secret, "").Login("")
		assert.ErrorIs(t, err, ErrInvalidPassword)
	})
}
