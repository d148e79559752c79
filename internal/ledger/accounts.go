// Path: internal/ledger/accounts.go
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/punit745/Core-Banking-Ledger/internal/audit"
	"github.com/punit745/Core-Banking-Ledger/internal/models"
	"github.com/punit745/Core-Banking-Ledger/pkg/utils"
)

const maxAccountNumberAttempts = 8

// CreateAccountParams describes a new account. Currency falls back to the
// configured default when empty.
type CreateAccountParams struct {
	UserID      int64
	AccountType string
	Currency    string
	PerformedBy string
}

// StatusParams identifies an account status operation and who performed it.
type StatusParams struct {
	AccountID   int64
	PerformedBy string
	Reason      string
}

// AccountSummary is the engine's view of one account.
type AccountSummary struct {
	AccountID     int64           `json:"account_id"`
	UserID        int64           `json:"user_id"`
	AccountNumber string          `json:"account_number"`
	AccountType   string          `json:"account_type"`
	Currency      string          `json:"currency"`
	Balance       decimal.Decimal `json:"current_balance"`
	Status        string          `json:"status"`
}

// CreateAccount opens a new account for a user with a zero balance. The
// user row is locked so the per-user account limit cannot race with a
// concurrent open. Account numbers are random; on the rare collision a
// fresh number is tried.
func (e *Engine) CreateAccount(ctx context.Context, p CreateAccountParams) (*AccountSummary, error) {
	if !models.ValidAccountType(p.AccountType) {
		return nil, &AppError{Kind: KindInvalidInput, Message: "Invalid account type", Details: fmt.Sprintf("account_type: %q", p.AccountType)}
	}
	currency := p.Currency
	if currency == "" {
		currency = e.cfg.DefaultCurrency
	}
	if aerr := ValidateCurrency(currency); aerr != nil {
		return nil, aerr
	}

	tx, err := e.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return nil, &AppError{Kind: KindInternal, Message: "Failed to start transaction", Details: err.Error(), Err: err}
	}
	defer tx.Rollback(ctx)

	var isActive bool
	err = tx.QueryRow(ctx, `SELECT is_active FROM users WHERE user_id = $1 FOR UPDATE`, p.UserID).Scan(&isActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &AppError{Kind: KindNotFound, Message: "User not found", Details: fmt.Sprintf("user_id: %d", p.UserID)}
	}
	if err != nil {
		return nil, mapPgError("lock user", err)
	}
	if !isActive {
		return nil, &AppError{Kind: KindForbidden, Message: "User is deactivated", Details: fmt.Sprintf("user_id: %d", p.UserID)}
	}

	if e.cfg.MaxAccountsPerUser > 0 {
		var count int
		err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM accounts WHERE user_id = $1 AND status <> $2`,
			p.UserID, models.AccountStatusClosed).Scan(&count)
		if err != nil {
			return nil, mapPgError("count accounts", err)
		}
		if count >= e.cfg.MaxAccountsPerUser {
			return nil, &AppError{Kind: KindPreconditionFailed, Message: "Account limit reached", Details: fmt.Sprintf("user_id: %d, limit: %d", p.UserID, e.cfg.MaxAccountsPerUser)}
		}
	}

	now := time.Now().UTC()
	var (
		accountID int64
		number    string
	)
	for attempt := 0; ; attempt++ {
		if attempt == maxAccountNumberAttempts {
			return nil, &AppError{Kind: KindInternal, Message: "Failed to allocate account number", Details: fmt.Sprintf("attempts: %d", maxAccountNumberAttempts)}
		}
		number = utils.GenerateAccountNumber(p.AccountType)
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE account_number = $1)`, number).Scan(&exists); err != nil {
			return nil, mapPgError("check account number", err)
		}
		if exists {
			continue
		}
		err := tx.QueryRow(ctx, `
            INSERT INTO accounts (user_id, account_number, account_type, currency, current_balance, status, created_at, updated_at)
            VALUES ($1, $2, $3, $4, 0, $5, $6, $6)
            RETURNING account_id`,
			p.UserID, number, p.AccountType, currency, models.AccountStatusActive, now).Scan(&accountID)
		if err != nil {
			return nil, mapPgError("insert account", err)
		}
		break
	}

	err = audit.Record(ctx, tx, audit.Entry{
		EntityType: models.EntityAccount,
		EntityID:   strconv.FormatInt(accountID, 10),
		ActionType: models.ActionCreate,
		New: map[string]any{
			"account_number": number,
			"account_type":   p.AccountType,
			"currency":       currency,
			"status":         models.AccountStatusActive,
		},
		PerformedBy: p.PerformedBy,
	})
	if err != nil {
		return nil, mapPgError("record audit", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, mapPgError("commit account", err)
	}

	return &AccountSummary{
		AccountID:     accountID,
		UserID:        p.UserID,
		AccountNumber: number,
		AccountType:   p.AccountType,
		Currency:      currency,
		Balance:       decimal.Zero,
		Status:        models.AccountStatusActive,
	}, nil
}

// FreezeAccount suspends all movements on an active account.
func (e *Engine) FreezeAccount(ctx context.Context, p StatusParams) (*AccountSummary, error) {
	return e.setAccountStatus(ctx, p, models.AccountStatusFrozen)
}

// UnfreezeAccount lifts a freeze, returning the account to active.
func (e *Engine) UnfreezeAccount(ctx context.Context, p StatusParams) (*AccountSummary, error) {
	return e.setAccountStatus(ctx, p, models.AccountStatusActive)
}

func (e *Engine) setAccountStatus(ctx context.Context, p StatusParams, target string) (*AccountSummary, error) {
	tx, err := e.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return nil, &AppError{Kind: KindInternal, Message: "Failed to start transaction", Details: err.Error(), Err: err}
	}
	defer tx.Rollback(ctx)

	a, aerr := lockAccount(ctx, tx, p.AccountID)
	if aerr != nil {
		return nil, aerr
	}
	if a.Status == models.AccountStatusClosed {
		return nil, &AppError{Kind: KindPreconditionFailed, Message: "Account is closed", Details: fmt.Sprintf("account_id: %d", p.AccountID)}
	}
	if a.Status == target {
		return nil, &AppError{Kind: KindPreconditionFailed, Message: "Account already " + target, Details: fmt.Sprintf("account_id: %d", p.AccountID)}
	}

	if err := e.writeStatus(ctx, tx, a, target, p); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, mapPgError("commit status change", err)
	}
	return a.summaryWithStatus(target), nil
}

// CloseAccount permanently closes an account. The balance must be exactly
// zero; closed accounts never reopen.
func (e *Engine) CloseAccount(ctx context.Context, p StatusParams) (*AccountSummary, error) {
	tx, err := e.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return nil, &AppError{Kind: KindInternal, Message: "Failed to start transaction", Details: err.Error(), Err: err}
	}
	defer tx.Rollback(ctx)

	a, aerr := lockAccount(ctx, tx, p.AccountID)
	if aerr != nil {
		return nil, aerr
	}
	if aerr := CheckClosable(a.ID, a.Status, a.Balance); aerr != nil {
		return nil, aerr
	}

	if err := e.writeStatus(ctx, tx, a, models.AccountStatusClosed, p); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, mapPgError("commit close", err)
	}
	return a.summaryWithStatus(models.AccountStatusClosed), nil
}

// writeStatus flips the status column and records the change in the audit
// trail within the caller's transaction.
func (e *Engine) writeStatus(ctx context.Context, tx pgx.Tx, a *lockedAccount, target string, p StatusParams) error {
	now := time.Now().UTC()
	if _, err := tx.Exec(ctx, `UPDATE accounts SET status = $1, updated_at = $2 WHERE account_id = $3`, target, now, a.ID); err != nil {
		return mapPgError("update account status", err)
	}

	newValue := map[string]any{"status": target}
	if p.Reason != "" {
		newValue["reason"] = p.Reason
	}
	err := audit.Record(ctx, tx, audit.Entry{
		EntityType:  models.EntityAccount,
		EntityID:    strconv.FormatInt(a.ID, 10),
		ActionType:  models.ActionStatusChange,
		Old:         map[string]any{"status": a.Status},
		New:         newValue,
		PerformedBy: p.PerformedBy,
	})
	if err != nil {
		return mapPgError("record audit", err)
	}
	return nil
}

func (a *lockedAccount) summaryWithStatus(status string) *AccountSummary {
	return &AccountSummary{
		AccountID:     a.ID,
		UserID:        a.UserID,
		AccountNumber: a.Number,
		AccountType:   a.Type,
		Currency:      a.Currency,
		Balance:       a.Balance,
		Status:        status,
	}
}
