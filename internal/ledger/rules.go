// Path: internal/ledger/rules.go
package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/punit745/Core-Banking-Ledger/internal/models"
)

// MoneyScale is the number of decimal places stored for money amounts.
const MoneyScale = 4

// Entry direction labels, derived from the sign of the amount.
const (
	EntryDebit  = "DEBIT"
	EntryCredit = "CREDIT"
)

// EntryType labels a signed entry amount: negative is a debit, positive a
// credit.
func EntryType(amount decimal.Decimal) string {
	if amount.IsNegative() {
		return EntryDebit
	}
	return EntryCredit
}

// ValidateAmount rejects amounts that are not strictly positive or carry
// more precision than the ledger stores.
func ValidateAmount(amount decimal.Decimal) *AppError {
	if !amount.IsPositive() {
		return &AppError{Kind: KindInvalidInput, Message: "Invalid amount", Details: "Amount must be positive"}
	}
	if !amount.Equal(amount.Round(MoneyScale)) {
		return &AppError{Kind: KindInvalidInput, Message: "Invalid amount", Details: fmt.Sprintf("Amount must have at most %d decimal places", MoneyScale)}
	}
	return nil
}

// ValidateCurrency rejects anything that is not a three-letter uppercase
// ISO 4217 code.
func ValidateCurrency(code string) *AppError {
	if len(code) != 3 {
		return &AppError{Kind: KindInvalidInput, Message: "Invalid currency", Details: fmt.Sprintf("currency: %q", code)}
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return &AppError{Kind: KindInvalidInput, Message: "Invalid currency", Details: fmt.Sprintf("currency: %q", code)}
		}
	}
	return nil
}

// CheckAccountOperable rejects movements on frozen or closed accounts.
// Every ledger entry, credit or debit, requires an active account.
func CheckAccountOperable(accountID int64, status string) *AppError {
	switch status {
	case models.AccountStatusActive:
		return nil
	case models.AccountStatusFrozen:
		return &AppError{Kind: KindPreconditionFailed, Message: "Account is frozen", Details: fmt.Sprintf("account_id: %d", accountID)}
	case models.AccountStatusClosed:
		return &AppError{Kind: KindPreconditionFailed, Message: "Account is closed", Details: fmt.Sprintf("account_id: %d", accountID)}
	}
	return &AppError{Kind: KindInternal, Message: "Unknown account status", Details: fmt.Sprintf("account_id: %d, status: %s", accountID, status)}
}

// CheckSufficientFunds rejects debits that would overdraw the account.
// Loan accounts are exempt: their balance is allowed to run negative.
func CheckSufficientFunds(accountID int64, accountType string, available, amount decimal.Decimal) *AppError {
	if accountType == models.AccountTypeLoan {
		return nil
	}
	if available.LessThan(amount) {
		return &AppError{
			Kind:    KindPreconditionFailed,
			Message: "Insufficient funds",
			Details: fmt.Sprintf("account_id: %d, balance: %s, requested: %s", accountID, available, amount),
		}
	}
	return nil
}

// CheckCurrencyMatch rejects transfers between accounts in different
// currencies. There is no FX conversion in this ledger.
func CheckCurrencyMatch(from, to string) *AppError {
	if from != to {
		return &AppError{Kind: KindPreconditionFailed, Message: "Currency mismatch", Details: fmt.Sprintf("from: %s, to: %s", from, to)}
	}
	return nil
}

// CheckClosable rejects closing an account that is already closed or still
// holds a balance.
func CheckClosable(accountID int64, status string, balance decimal.Decimal) *AppError {
	if status == models.AccountStatusClosed {
		return &AppError{Kind: KindPreconditionFailed, Message: "Account already closed", Details: fmt.Sprintf("account_id: %d", accountID)}
	}
	if !balance.IsZero() {
		return &AppError{Kind: KindPreconditionFailed, Message: "Account balance must be zero to close", Details: fmt.Sprintf("account_id: %d, balance: %s", accountID, balance)}
	}
	return nil
}
