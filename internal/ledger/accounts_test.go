// Path: internal/ledger/accounts_test.go
package ledger

import (
	"context"
	"strconv"
	"testing"
	"unicode"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punit745/Core-Banking-Ledger/internal/models"
)

func TestCreateAccountValidation(t *testing.T) {
	e := NewEngine(nil, Config{DefaultCurrency: "USD"})
	ctx := context.Background()

	_, err := e.CreateAccount(ctx, CreateAccountParams{UserID: 1, AccountType: "offshore"})
	appErr := appErrFrom(t, err)
	assert.Equal(t, KindInvalidInput, appErr.Kind)
	assert.Equal(t, "Invalid account type", appErr.Message)

	_, err = e.CreateAccount(ctx, CreateAccountParams{UserID: 1, AccountType: models.AccountTypeSavings, Currency: "usd"})
	assert.Equal(t, KindInvalidInput, appErrFrom(t, err).Kind)
}

func TestCreateAccountDefaults(t *testing.T) {
	e, pool := testEngine(t)
	userID := createTestUser(t, pool)

	acc := createTestAccount(t, e, userID)
	assert.Equal(t, userID, acc.UserID)
	assert.Equal(t, models.AccountTypeChecking, acc.AccountType)
	assert.Equal(t, "USD", acc.Currency)
	assert.Equal(t, models.AccountStatusActive, acc.Status)
	assert.True(t, acc.Balance.IsZero())
	require.Len(t, acc.AccountNumber, 10)
	assert.Equal(t, "CH", acc.AccountNumber[:2])
	for _, r := range acc.AccountNumber[2:] {
		assert.True(t, unicode.IsDigit(r), "account number %q", acc.AccountNumber)
	}
}

func TestAccountNumberPrefixes(t *testing.T) {
	e, pool := testEngine(t)
	ctx := context.Background()
	userID := createTestUser(t, pool)

	prefixes := map[string]string{
		models.AccountTypeSavings:  "SB",
		models.AccountTypeChecking: "CH",
		models.AccountTypeWallet:   "WA",
		models.AccountTypeLoan:     "LN",
	}
	for accountType, prefix := range prefixes {
		acc, err := e.CreateAccount(ctx, CreateAccountParams{UserID: userID, AccountType: accountType, PerformedBy: "test"})
		require.NoError(t, err)
		assert.Equal(t, prefix, acc.AccountNumber[:2], "type %s", accountType)
	}
}

func TestCreateAccountUserChecks(t *testing.T) {
	e, pool := testEngine(t)
	ctx := context.Background()

	_, err := e.CreateAccount(ctx, CreateAccountParams{UserID: 999999999, AccountType: models.AccountTypeChecking})
	appErr := appErrFrom(t, err)
	assert.Equal(t, KindNotFound, appErr.Kind)
	assert.Equal(t, "User not found", appErr.Message)

	userID := createTestUser(t, pool)
	_, err = pool.Exec(ctx, `UPDATE users SET is_active = false WHERE user_id = $1`, userID)
	require.NoError(t, err)

	_, err = e.CreateAccount(ctx, CreateAccountParams{UserID: userID, AccountType: models.AccountTypeChecking})
	appErr = appErrFrom(t, err)
	assert.Equal(t, KindForbidden, appErr.Kind)
	assert.Equal(t, "User is deactivated", appErr.Message)
}

func TestMaxAccountsPerUser(t *testing.T) {
	_, pool := testEngine(t)
	ctx := context.Background()
	userID := createTestUser(t, pool)

	limited := NewEngine(pool, Config{DefaultCurrency: "USD", MaxAccountsPerUser: 2})
	first, err := limited.CreateAccount(ctx, CreateAccountParams{UserID: userID, AccountType: models.AccountTypeChecking})
	require.NoError(t, err)
	_, err = limited.CreateAccount(ctx, CreateAccountParams{UserID: userID, AccountType: models.AccountTypeSavings})
	require.NoError(t, err)

	_, err = limited.CreateAccount(ctx, CreateAccountParams{UserID: userID, AccountType: models.AccountTypeWallet})
	appErr := appErrFrom(t, err)
	assert.Equal(t, KindPreconditionFailed, appErr.Kind)
	assert.Equal(t, "Account limit reached", appErr.Message)

	// Closed accounts do not count against the limit.
	_, err = limited.CloseAccount(ctx, StatusParams{AccountID: first.AccountID, PerformedBy: "test"})
	require.NoError(t, err)
	_, err = limited.CreateAccount(ctx, CreateAccountParams{UserID: userID, AccountType: models.AccountTypeWallet})
	require.NoError(t, err)
}

func TestFreezeAuditTrail(t *testing.T) {
	e, pool := testEngine(t)
	ctx := context.Background()
	userID := createTestUser(t, pool)
	acc := createTestAccount(t, e, userID)

	frozen, err := e.FreezeAccount(ctx, StatusParams{AccountID: acc.AccountID, PerformedBy: "EMP001", Reason: "risk review"})
	require.NoError(t, err)
	assert.Equal(t, models.AccountStatusFrozen, frozen.Status)

	_, err = e.FreezeAccount(ctx, StatusParams{AccountID: acc.AccountID, PerformedBy: "EMP001"})
	appErr := appErrFrom(t, err)
	assert.Equal(t, KindPreconditionFailed, appErr.Kind)
	assert.Equal(t, "Account already frozen", appErr.Message)

	var performedBy string
	err = pool.QueryRow(ctx, `
        SELECT performed_by FROM system_audit_logs
        WHERE entity_type = $3 AND entity_id = $1 AND action_type = $2
        ORDER BY log_id DESC LIMIT 1`,
		strconv.FormatInt(frozen.AccountID, 10), models.ActionStatusChange, models.EntityAccount).Scan(&performedBy)
	require.NoError(t, err)
	assert.Equal(t, "EMP001", performedBy)
}
