package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthService_RoundTrip(t *testing.T) {
	auth := NewAuthService("secret", time.Minute, "connectsphere")

	token, err := auth.GenerateToken("alice", "Alice")
	require.NoError(t, err)

	claims, err := auth.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", string(claims.UserID))
	assert.Equal(t, "Alice", claims.Username)

	assert.NoError(t, auth.AuthorizeJoin(token, "alice"))
	assert.ErrorIs(t, auth.AuthorizeJoin(token, "bob"), ErrUnauthorized)
	assert.ErrorIs(t, auth.AuthorizeJoin("", "alice"), ErrUnauthorized)
}

func TestAuthService_RejectsForeignAndExpiredTokens(t *testing.T) {
	auth := NewAuthService("secret", time.Minute, "connectsphere")
	other := NewAuthService("other-secret", time.Minute, "connectsphere")
	expired := NewAuthService("secret", -time.Minute, "connectsphere")

	foreign, err := other.GenerateToken("alice", "Alice")
	require.NoError(t, err)
	_, err = auth.ValidateToken(foreign)
	assert.ErrorIs(t, err, ErrInvalidToken)

	old, err := expired.GenerateToken("alice", "Alice")
	require.NoError(t, err)
	_, err = auth.ValidateToken(old)
	assert.ErrorIs(t, err, ErrExpiredToken)

	_, err = auth.ValidateToken("not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
