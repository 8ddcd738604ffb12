package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerlens/backend/internal/models"
)

func testUser() *models.User {
	return &models.User{
		ID:     "u1",
		Email:  "analyst@example.com",
		Tier:   models.TierProfessional,
		Status: models.StatusActive,
	}
}

func TestGenerateAndValidate(t *testing.T) {
	svc := NewJWTService("test-secret", time.Hour)

	token, err := svc.Generate(testUser())
	require.NoError(t, err)

	claims, err := svc.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "analyst@example.com", claims.Email)
	assert.Equal(t, "professional", claims.Tier)
	assert.Equal(t, "ledgerlens", claims.Issuer)
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	token, err := NewJWTService("secret-a", time.Hour).Generate(testUser())
	require.NoError(t, err)

	_, err = NewJWTService("secret-b", time.Hour).Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateRejectsExpired(t *testing.T) {
	svc := NewJWTService("test-secret", -time.Hour)

	token, err := svc.Generate(testUser())
	require.NoError(t, err)

	_, err = svc.Validate(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestValidateRejectsGarbage(t *testing.T) {
	svc := NewJWTService("test-secret", time.Hour)

	_, err := svc.Validate("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRefreshValidToken(t *testing.T) {
	svc := NewJWTService("test-secret", time.Hour)

	token, err := svc.Generate(testUser())
	require.NoError(t, err)

	refreshed, err := svc.Refresh(token)
	require.NoError(t, err)

	claims, err := svc.Validate(refreshed)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
}

func TestRefreshExpiredWithinGrace(t *testing.T) {
	// Expired an hour ago, well inside the 7-day grace period.
	expired := NewJWTService("test-secret", -time.Hour)
	token, err := expired.Generate(testUser())
	require.NoError(t, err)

	svc := NewJWTService("test-secret", time.Hour)
	refreshed, err := svc.Refresh(token)
	require.NoError(t, err)

	_, err = svc.Validate(refreshed)
	assert.NoError(t, err)
}

func TestRefreshExpiredBeyondGrace(t *testing.T) {
	expired := NewJWTService("test-secret", -8*24*time.Hour)
	token, err := expired.Generate(testUser())
	require.NoError(t, err)

	svc := NewJWTService("test-secret", time.Hour)
	_, err = svc.Refresh(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}
