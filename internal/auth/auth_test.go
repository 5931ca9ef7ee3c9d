package auth

import (
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/coinpeak/exchange-api/internal/database"
)

func setupTestService(t *testing.T) (*gorm.DB, *Service) {
	t.Helper()
	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	return db, NewService(db, "test-secret", decimal.RequireFromString("100000"))
}

func TestRegister(t *testing.T) {
	_, svc := setupTestService(t)

	user, token, err := svc.Register("Alice", "alice@example.com", "password123")
	require.NoError(t, err)

	assert.Contains(t, user.UserID, "USR_")
	assert.Equal(t, "alice@example.com", user.Email)
	assert.Equal(t, "100000", user.Balance.String())
	assert.NotEqual(t, "password123", user.PasswordHash)
	require.NotNil(t, token)
	assert.NotEmpty(t, token.Token)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	_, svc := setupTestService(t)

	_, _, err := svc.Register("Alice", "alice@example.com", "password123")
	require.NoError(t, err)

	_, _, err = svc.Register("Other Alice", "alice@example.com", "password456")
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestLogin(t *testing.T) {
	_, svc := setupTestService(t)

	registered, _, err := svc.Register("Alice", "alice@example.com", "password123")
	require.NoError(t, err)

	user, token, err := svc.Login("alice@example.com", "password123")
	require.NoError(t, err)
	assert.Equal(t, registered.UserID, user.UserID)
	assert.NotEmpty(t, token.Token)
}

func TestLoginWrongPassword(t *testing.T) {
	_, svc := setupTestService(t)

	_, _, err := svc.Register("Alice", "alice@example.com", "password123")
	require.NoError(t, err)

	_, _, err = svc.Login("alice@example.com", "wrong-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLoginUnknownEmail(t *testing.T) {
	_, svc := setupTestService(t)

	_, _, err := svc.Login("nobody@example.com", "password123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestValidateToken(t *testing.T) {
	_, svc := setupTestService(t)

	user, token, err := svc.Register("Alice", "alice@example.com", "password123")
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token.Token)
	require.NoError(t, err)
	assert.Equal(t, user.UserID, claims.UserID)
}

func TestValidateTokenWrongSecret(t *testing.T) {
	db, svc := setupTestService(t)

	_, token, err := svc.Register("Alice", "alice@example.com", "password123")
	require.NoError(t, err)

	other := NewService(db, "different-secret", decimal.Zero)
	_, err = other.ValidateToken(token.Token)
	assert.Error(t, err)
}

func TestValidateTokenGarbage(t *testing.T) {
	_, svc := setupTestService(t)

	_, err := svc.ValidateToken("not-a-jwt")
	assert.Error(t, err)
}

func TestGetUser(t *testing.T) {
	_, svc := setupTestService(t)

	registered, _, err := svc.Register("Alice", "alice@example.com", "password123")
	require.NoError(t, err)

	user, err := svc.GetUser(registered.UserID)
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "Alice", user.Name)

	missing, err := svc.GetUser("USR_missing")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
