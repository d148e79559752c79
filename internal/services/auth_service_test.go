// Path: internal/services/auth_service_test.go
package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punit745/Core-Banking-Ledger/internal/ledger"
	"github.com/punit745/Core-Banking-Ledger/internal/models"
)

func ptr[T any](v T) *T { return &v }

func TestValidateRegistration(t *testing.T) {
	valid := RegisterParams{
		Username: "alice",
		Email:    "alice@example.com",
		Password: "supersecret",
		FullName: "Alice Example",
	}

	tests := []struct {
		name    string
		mutate  func(p *RegisterParams)
		wantMsg string
	}{
		{"valid", func(p *RegisterParams) {}, ""},
		{"username too short", func(p *RegisterParams) { p.Username = "ab" }, "Username must be between 3 and 50 characters"},
		{"username too long", func(p *RegisterParams) {
			long := make([]byte, 51)
			for i := range long {
				long[i] = 'a'
			}
			p.Username = string(long)
		}, "Username must be between 3 and 50 characters"},
		{"password too short", func(p *RegisterParams) { p.Password = "short" }, "Password must be at least 8 characters"},
		{"email without at sign", func(p *RegisterParams) { p.Email = "alice.example.com" }, "Invalid email address"},
		{"missing full name", func(p *RegisterParams) { p.FullName = "" }, "Full name is required"},
		{"future date of birth", func(p *RegisterParams) { p.DateOfBirth = ptr(time.Now().Add(24 * time.Hour)) }, "Date of birth must be in the past"},
		{"past date of birth ok", func(p *RegisterParams) { p.DateOfBirth = ptr(time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC)) }, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid
			tt.mutate(&p)
			err := validateRegistration(p)
			if tt.wantMsg == "" {
				assert.NoError(t, err)
				return
			}
			var appErr *ledger.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, ledger.KindInvalidInput, appErr.Kind)
			assert.Equal(t, tt.wantMsg, appErr.Message)
		})
	}
}

func TestTokenRoundTrip(t *testing.T) {
	s := &authService{jwtKey: "test-secret", tokenTTL: time.Hour}

	token, err := s.signToken(&models.Claims{UserID: 42, Username: "alice", Role: models.RoleCustomer})
	require.NoError(t, err)

	claims, err := s.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), claims.UserID)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, models.RoleCustomer, claims.Role)
	assert.False(t, claims.IsEmployee())
	assert.Equal(t, "user:42", claims.Principal())
}

func TestEmployeeTokenRoundTrip(t *testing.T) {
	s := &authService{jwtKey: "test-secret", tokenTTL: time.Hour}

	token, err := s.signToken(&models.Claims{
		Username:   "EMP001",
		Role:       models.RoleEmployee,
		EmployeeID: "EMP001",
		Department: models.DeptOperations,
	})
	require.NoError(t, err)

	claims, err := s.ValidateToken(token)
	require.NoError(t, err)
	assert.True(t, claims.IsEmployee())
	assert.Equal(t, "EMP001", claims.EmployeeID)
	assert.Equal(t, models.DeptOperations, claims.Department)
	assert.Equal(t, "EMP001", claims.Principal())
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	s := &authService{jwtKey: "test-secret", tokenTTL: -time.Minute}

	token, err := s.signToken(&models.Claims{UserID: 1, Username: "alice"})
	require.NoError(t, err)

	_, err = s.ValidateToken(token)
	var appErr *ledger.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, ledger.KindUnauthorized, appErr.Kind)
	assert.Equal(t, "Invalid token", appErr.Message)
	assert.Equal(t, "Token expired or not yet valid", appErr.Details)
}

func TestValidateTokenRejectsGarbage(t *testing.T) {
	s := &authService{jwtKey: "test-secret", tokenTTL: time.Hour}

	_, err := s.ValidateToken("not-a-token")
	var appErr *ledger.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, ledger.KindUnauthorized, appErr.Kind)
	assert.Equal(t, "Malformed token", appErr.Details)
}

func TestValidateTokenRejectsWrongKey(t *testing.T) {
	signer := &authService{jwtKey: "one-secret", tokenTTL: time.Hour}
	verifier := &authService{jwtKey: "another-secret", tokenTTL: time.Hour}

	token, err := signer.signToken(&models.Claims{UserID: 1, Username: "alice"})
	require.NoError(t, err)

	_, err = verifier.ValidateToken(token)
	var appErr *ledger.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, ledger.KindUnauthorized, appErr.Kind)
}
