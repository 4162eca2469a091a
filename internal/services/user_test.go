package services

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"event-photo-backend/internal/models"
	"event-photo-backend/internal/testutil"
)

func TestJWTRoundTrip(t *testing.T) {
	s := NewUserService(testutil.NewUsers(), "secret")

	token, err := s.GenerateJWT(42, true, time.Hour)
	require.NoError(t, err)

	claims, err := s.ValidateJWT(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), claims.UserID)
	assert.True(t, claims.IsAdmin)

	other := NewUserService(testutil.NewUsers(), "other-secret")
	_, err = other.ValidateJWT(token)
	assert.Error(t, err)
}

func TestValidateJWTRejects(t *testing.T) {
	s := NewUserService(testutil.NewUsers(), "secret")

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"user_id": 1, "exp": time.Now().Add(-time.Minute).Unix()})
	signed, err := expired.SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = s.ValidateJWT(signed)
	assert.Error(t, err)

	noUser := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()})
	signed, err = noUser.SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = s.ValidateJWT(signed)
	assert.Error(t, err)

	_, err = s.ValidateJWT("not-a-token")
	assert.Error(t, err)
}

func TestRegisterPushToken(t *testing.T) {
	users := testutil.NewUsers(&models.User{ID: 1, Email: "host@example.com"})
	s := NewUserService(users, "secret")
	ctx := context.Background()

	require.NoError(t, s.RegisterPushToken(ctx, 1, "  abc123 "))
	user, err := s.GetUser(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, user.PushToken)
	assert.Equal(t, "abc123", *user.PushToken)

	assert.ErrorIs(t, s.RegisterPushToken(ctx, 1, " "), ErrInvalidInput)
	assert.ErrorIs(t, s.RegisterPushToken(ctx, 2, "abc"), ErrNotFound)
	_, err = s.GetUser(ctx, 2)
	assert.ErrorIs(t, err, ErrNotFound)
}
