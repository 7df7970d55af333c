package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifier_RoundTrip(t *testing.T) {
	v, err := NewVerifier("secret", "adledger")
	require.NoError(t, err)

	user := uuid.New()
	token, err := v.Sign(user, time.Minute)
	require.NoError(t, err)

	got, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, user, got)
}

func TestVerifier_Rejects(t *testing.T) {
	v, err := NewVerifier("secret", "adledger")
	require.NoError(t, err)
	user := uuid.New()

	expired, err := v.Sign(user, -time.Minute)
	require.NoError(t, err)
	_, err = v.Verify(expired)
	assert.ErrorIs(t, err, ErrExpiredToken)

	other, _ := NewVerifier("other-secret", "adledger")
	forged, err := other.Sign(user, time.Minute)
	require.NoError(t, err)
	_, err = v.Verify(forged)
	assert.ErrorIs(t, err, ErrInvalidToken)

	wrongIssuer, _ := NewVerifier("secret", "someone-else")
	token, err := wrongIssuer.Sign(user, time.Minute)
	require.NoError(t, err)
	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	notUUID, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "alice",
		Issuer:    "adledger",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = v.Verify(notUUID)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = v.Verify("garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewVerifier_RequiresSecret(t *testing.T) {
	_, err := NewVerifier("", "")
	assert.Error(t, err)
}

func TestUserIDFromContext(t *testing.T) {
	_, err := UserIDFromContext(context.Background())
	assert.ErrorIs(t, err, ErrNoUser)

	user := uuid.New()
	got, err := UserIDFromContext(WithUserID(context.Background(), user))
	require.NoError(t, err)
	assert.Equal(t, user, got)
}
