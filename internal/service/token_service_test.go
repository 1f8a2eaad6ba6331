package service

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campus-core/enrollment-api/internal/models"
	appErrors "github.com/campus-core/enrollment-api/pkg/errors"
)

func signToken(t *testing.T, secret string, claims *models.JWTClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestTokenServiceValidatesToken(t *testing.T) {
	svc := NewTokenService("secret")
	signed := signToken(t, "secret", &models.JWTClaims{
		UserID: "s1",
		Role:   models.RoleStudent,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	claims, err := svc.ValidateToken(signed)
	require.NoError(t, err)
	assert.Equal(t, "s1", claims.UserID)
	assert.Equal(t, models.RoleStudent, claims.Role)
}

func TestTokenServiceRejectsWrongSecret(t *testing.T) {
	svc := NewTokenService("secret")
	signed := signToken(t, "other", &models.JWTClaims{UserID: "s1"})

	_, err := svc.ValidateToken(signed)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrUnauthorized))
}

func TestTokenServiceRejectsExpiredToken(t *testing.T) {
	svc := NewTokenService("secret")
	signed := signToken(t, "secret", &models.JWTClaims{
		UserID: "s1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	})

	_, err := svc.ValidateToken(signed)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrUnauthorized))
}
