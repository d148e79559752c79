// Path: internal/views/views.go
package views

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/punit745/Core-Banking-Ledger/internal/ledger"
	"github.com/punit745/Core-Banking-Ledger/internal/models"
)

// Pagination bounds for statement and history listings.
const (
	defaultLimit = 50
	maxLimit     = 500
)

// Store is the read side of the ledger: balances, statements, history and
// the reporting views. It never mutates anything.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// StatementLine is one signed ledger entry on an account, newest first.
type StatementLine struct {
	EntryID       int64           `json:"entry_id"`
	TransactionID int64           `json:"transaction_id"`
	ReferenceID   string          `json:"reference_id"`
	TypeCode      string          `json:"type_code"`
	Description   string          `json:"description,omitempty"`
	EntryType     string          `json:"entry_type"`
	Amount        decimal.Decimal `json:"amount"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	Status        string          `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
}

// HistoryFilter narrows TransactionHistory. Zero values mean "any".
// UserID scopes the listing to transactions touching any account the user
// holds. Amount bounds apply to the absolute amount moved; Search matches
// the description, case-insensitively.
type HistoryFilter struct {
	UserID    int64
	AccountID int64
	TypeCode  string
	Status    string
	From      time.Time
	To        time.Time
	MinAmount decimal.Decimal
	MaxAmount decimal.Decimal
	Search    string
	Limit     int
	Offset    int
}

// HistoryRow is one transaction header with the absolute amount moved.
type HistoryRow struct {
	TransactionID int64           `json:"transaction_id"`
	ReferenceID   string          `json:"reference_id"`
	TypeCode      string          `json:"type_code"`
	Description   string          `json:"description,omitempty"`
	Status        string          `json:"status"`
	Amount        decimal.Decimal `json:"amount"`
	CreatedAt     time.Time       `json:"created_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
}

// EntryDetail is one leg within a transaction detail.
type EntryDetail struct {
	EntryID       int64           `json:"entry_id"`
	AccountID     int64           `json:"account_id"`
	AccountNumber string          `json:"account_number"`
	EntryType     string          `json:"entry_type"`
	Amount        decimal.Decimal `json:"amount"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
}

// RiskInfo mirrors the scoring worker's verdict for API responses.
type RiskInfo struct {
	RiskScore    decimal.Decimal `json:"risk_score"`
	Verdict      string          `json:"verdict"`
	ModelVersion string          `json:"model_version"`
	ScoredAt     time.Time       `json:"scored_at"`
}

// TransactionDetail is a full transaction: header, legs, and the risk
// verdict when the scoring worker has seen it.
type TransactionDetail struct {
	TransactionID           int64         `json:"transaction_id"`
	ReferenceID             string        `json:"reference_id"`
	TypeCode                string        `json:"type_code"`
	Description             string        `json:"description,omitempty"`
	Status                  string        `json:"status"`
	InitiatedByUserID       *int64        `json:"initiated_by_user_id,omitempty"`
	ReversalOfTransactionID *int64        `json:"reversal_of_transaction_id,omitempty"`
	CreatedAt               time.Time     `json:"created_at"`
	CompletedAt             *time.Time    `json:"completed_at,omitempty"`
	Entries                 []EntryDetail `json:"entries"`
	Risk                    *RiskInfo     `json:"risk,omitempty"`
}

// BalanceSheetRow is one currency bucket of vw_balance_sheet.
type BalanceSheetRow struct {
	Category    string          `json:"category"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Currency    string          `json:"currency"`
}

// IntegrityRow is one broken transaction reported by
// vw_ledger_integrity_check. A healthy ledger returns none.
type IntegrityRow struct {
	TransactionID int64           `json:"transaction_id"`
	ReferenceID   string          `json:"reference_id"`
	NetSum        decimal.Decimal `json:"net_sum"`
	EntriesCount  int64           `json:"entries_count"`
}

// CustomerStatementRow is one row of vw_customer_statement.
type CustomerStatementRow struct {
	TransactionDate time.Time       `json:"transaction_date"`
	Type            string          `json:"type"`
	Narrative       string          `json:"narrative,omitempty"`
	Amount          decimal.Decimal `json:"amount"`
	BalanceAfter    decimal.Decimal `json:"balance_after"`
	Status          string          `json:"status"`
	Username        string          `json:"username"`
	AccountNumber   string          `json:"account_number"`
}

// FlaggedRow is one row of vw_flagged_transactions.
type FlaggedRow struct {
	TransactionID int64           `json:"transaction_id"`
	ReferenceID   string          `json:"reference_id"`
	TypeCode      string          `json:"type_code"`
	Amount        decimal.Decimal `json:"amount"`
	RiskScore     decimal.Decimal `json:"risk_score"`
	Verdict       string          `json:"verdict"`
	FeaturesUsed  json.RawMessage `json:"features_used,omitempty"`
	ModelVersion  string          `json:"model_version"`
	ScoredAt      time.Time       `json:"scored_at"`
	CreatedAt     time.Time       `json:"created_at"`
}

// SpendingRow aggregates one transaction type over a trailing window.
type SpendingRow struct {
	TypeCode string          `json:"type_code"`
	Count    int64           `json:"count"`
	Total    decimal.Decimal `json:"total"`
}

// MonthlySpendRow is one month of a user's outgoing total.
type MonthlySpendRow struct {
	Month string          `json:"month"`
	Total decimal.Decimal `json:"total_spent"`
	Count int64           `json:"txn_count"`
}

// Trend directions reported by SpendingForecast.
const (
	TrendIncreasing = "increasing"
	TrendDecreasing = "decreasing"
	TrendStable     = "stable"
)

// SpendingForecast projects next month's outgoing from the monthly
// history, with the fitted trend direction.
type SpendingForecast struct {
	PredictedNextMonth decimal.Decimal   `json:"predicted_next_month"`
	AverageMonthly     decimal.Decimal   `json:"average_monthly"`
	Trend              string            `json:"trend"`
	Monthly            []MonthlySpendRow `json:"monthly_data"`
}

// AccountBalance reads one account's denormalized balance.
func (s *Store) AccountBalance(ctx context.Context, accountID int64) (*ledger.AccountSummary, error) {
	var a ledger.AccountSummary
	err := s.pool.QueryRow(ctx, `
        SELECT account_id, user_id, account_number, account_type, currency, current_balance, status
        FROM accounts
        WHERE account_id = $1`, accountID).
		Scan(&a.AccountID, &a.UserID, &a.AccountNumber, &a.AccountType, &a.Currency, &a.Balance, &a.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ledger.AppError{Kind: ledger.KindNotFound, Message: "Account not found", Details: fmt.Sprintf("account_id: %d", accountID)}
	}
	if err != nil {
		return nil, &ledger.AppError{Kind: ledger.KindInternal, Message: "Failed to query account", Details: err.Error(), Err: err}
	}
	return &a, nil
}

// AccountOwner returns the user id that owns an account.
func (s *Store) AccountOwner(ctx context.Context, accountID int64) (int64, error) {
	var userID int64
	err := s.pool.QueryRow(ctx, `SELECT user_id FROM accounts WHERE account_id = $1`, accountID).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, &ledger.AppError{Kind: ledger.KindNotFound, Message: "Account not found", Details: fmt.Sprintf("account_id: %d", accountID)}
	}
	if err != nil {
		return 0, &ledger.AppError{Kind: ledger.KindInternal, Message: "Failed to query account", Details: err.Error(), Err: err}
	}
	return userID, nil
}

// UserAccounts lists all accounts a user holds, closed ones included.
func (s *Store) UserAccounts(ctx context.Context, userID int64) ([]ledger.AccountSummary, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT account_id, user_id, account_number, account_type, currency, current_balance, status
        FROM accounts
        WHERE user_id = $1
        ORDER BY account_id`, userID)
	if err != nil {
		return nil, &ledger.AppError{Kind: ledger.KindInternal, Message: "Failed to query accounts", Details: err.Error(), Err: err}
	}
	defer rows.Close()

	accounts := []ledger.AccountSummary{}
	for rows.Next() {
		var a ledger.AccountSummary
		if err := rows.Scan(&a.AccountID, &a.UserID, &a.AccountNumber, &a.AccountType, &a.Currency, &a.Balance, &a.Status); err != nil {
			return nil, &ledger.AppError{Kind: ledger.KindInternal, Message: "Failed to scan account row", Details: err.Error(), Err: err}
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, &ledger.AppError{Kind: ledger.KindInternal, Message: "Error iterating account rows", Details: err.Error(), Err: err}
	}
	return accounts, nil
}

// MiniStatement lists the most recent entries on an account with running
// balances, newest first.
func (s *Store) MiniStatement(ctx context.Context, accountID int64, limit int) ([]StatementLine, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT te.entry_id, te.transaction_id, t.reference_id, tt.type_code,
               COALESCE(t.description, ''), te.amount, te.balance_after, t.status, te.created_at
        FROM transaction_entries te
        JOIN transactions t ON t.transaction_id = te.transaction_id
        JOIN transaction_types tt ON tt.type_id = t.type_id
        WHERE te.account_id = $1
        ORDER BY te.created_at DESC, te.entry_id DESC
        LIMIT $2`, accountID, clampLimit(limit))
	if err != nil {
		return nil, &ledger.AppError{Kind: ledger.KindInternal, Message: "Failed to query statement", Details: err.Error(), Err: err}
	}
	defer rows.Close()

	lines := []StatementLine{}
	for rows.Next() {
		var l StatementLine
		if err := rows.Scan(&l.EntryID, &l.TransactionID, &l.ReferenceID, &l.TypeCode, &l.Description, &l.Amount, &l.BalanceAfter, &l.Status, &l.CreatedAt); err != nil {
			return nil, &ledger.AppError{Kind: ledger.KindInternal, Message: "Failed to scan statement row", Details: err.Error(), Err: err}
		}
		l.EntryType = ledger.EntryType(l.Amount)
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, &ledger.AppError{Kind: ledger.KindInternal, Message: "Error iterating statement rows", Details: err.Error(), Err: err}
	}
	return lines, nil
}

// TransactionHistory lists transaction headers matching the filter, newest
// first.
func (s *Store) TransactionHistory(ctx context.Context, f HistoryFilter) ([]HistoryRow, error) {
	sql := `
        SELECT t.transaction_id, t.reference_id, tt.type_code, COALESCE(t.description, ''), t.status,
               COALESCE(MAX(ABS(te.amount)), 0) AS amount, t.created_at, t.completed_at
        FROM transactions t
        JOIN transaction_types tt ON tt.type_id = t.type_id
        LEFT JOIN transaction_entries te ON te.transaction_id = t.transaction_id
        LEFT JOIN accounts a ON a.account_id = te.account_id`

	where := make([]string, 0, 6)
	args := make([]any, 0, 7)
	if f.UserID != 0 {
		args = append(args, f.UserID)
		where = append(where, fmt.Sprintf("a.user_id = $%d", len(args)))
	}
	if f.AccountID != 0 {
		args = append(args, f.AccountID)
		where = append(where, fmt.Sprintf("te.account_id = $%d", len(args)))
	}
	if f.TypeCode != "" {
		args = append(args, f.TypeCode)
		where = append(where, fmt.Sprintf("tt.type_code = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		where = append(where, fmt.Sprintf("t.status = $%d", len(args)))
	}
	if !f.From.IsZero() {
		args = append(args, f.From)
		where = append(where, fmt.Sprintf("t.created_at >= $%d", len(args)))
	}
	if !f.To.IsZero() {
		args = append(args, f.To)
		where = append(where, fmt.Sprintf("t.created_at < $%d", len(args)))
	}
	if f.Search != "" {
		args = append(args, "%"+f.Search+"%")
		where = append(where, fmt.Sprintf("t.description ILIKE $%d", len(args)))
	}
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	sql += ` GROUP BY t.transaction_id, t.reference_id, tt.type_code, t.description, t.status, t.created_at, t.completed_at`

	// Amount bounds apply to the aggregated absolute amount, so they go in
	// HAVING rather than WHERE.
	having := make([]string, 0, 2)
	if f.MinAmount.IsPositive() {
		args = append(args, f.MinAmount)
		having = append(having, fmt.Sprintf("COALESCE(MAX(ABS(te.amount)), 0) >= $%d", len(args)))
	}
	if f.MaxAmount.IsPositive() {
		args = append(args, f.MaxAmount)
		having = append(having, fmt.Sprintf("COALESCE(MAX(ABS(te.amount)), 0) <= $%d", len(args)))
	}
	if len(having) > 0 {
		sql += " HAVING " + strings.Join(having, " AND ")
	}

	args = append(args, clampLimit(f.Limit))
	sql += fmt.Sprintf(" ORDER BY t.created_at DESC, t.transaction_id DESC LIMIT $%d", len(args))
	if f.Offset > 0 {
		args = append(args, f.Offset)
		sql += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, &ledger.AppError{Kind: ledger.KindInternal, Message: "Failed to query history", Details: err.Error(), Err: err}
	}
	defer rows.Close()

	history := []HistoryRow{}
	for rows.Next() {
		var h HistoryRow
		if err := rows.Scan(&h.TransactionID, &h.ReferenceID, &h.TypeCode, &h.Description, &h.Status, &h.Amount, &h.CreatedAt, &h.CompletedAt); err != nil {
			return nil, &ledger.AppError{Kind: ledger.KindInternal, Message: "Failed to scan history row", Details: err.Error(), Err: err}
		}
		history = append(history, h)
	}
	if err := rows.Err(); err != nil {
		return nil, &ledger.AppError{Kind: ledger.KindInternal, Message: "Error iterating history rows", Details: err.Error(), Err: err}
	}
	return history, nil
}

// TransactionDetail loads one transaction with all of its legs and the
// risk verdict, if scored.
func (s *Store) TransactionDetail(ctx context.Context, txnID int64) (*TransactionDetail, error) {
	var d TransactionDetail
	err := s.pool.QueryRow(ctx, `
        SELECT t.transaction_id, t.reference_id, tt.type_code, COALESCE(t.description, ''), t.status,
               t.initiated_by_user_id, t.reversal_of_transaction_id, t.created_at, t.completed_at
        FROM transactions t
        JOIN transaction_types tt ON tt.type_id = t.type_id
        WHERE t.transaction_id = $1`, txnID).
		Scan(&d.TransactionID, &d.ReferenceID, &d.TypeCode, &d.Description, &d.Status,
			&d.InitiatedByUserID, &d.ReversalOfTransactionID, &d.CreatedAt, &d.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ledger.AppError{Kind: ledger.KindNotFound, Message: "Transaction not found", Details: fmt.Sprintf("transaction_id: %d", txnID)}
	}
	if err != nil {
		return nil, &ledger.AppError{Kind: ledger.KindInternal, Message: "Failed to query transaction", Details: err.Error(), Err: err}
	}

	rows, err := s.pool.Query(ctx, `
        SELECT te.entry_id, te.account_id, a.account_number, te.amount, te.balance_after
        FROM transaction_entries te
        JOIN accounts a ON a.account_id = te.account_id
        WHERE te.transaction_id = $1
        ORDER BY te.entry_id`, txnID)
	if err != nil {
		return nil, &ledger.AppError{Kind: ledger.KindInternal, Message: "Failed to query entries", Details: err.Error(), Err: err}
	}
	defer rows.Close()

	d.Entries = []EntryDetail{}
	for rows.Next() {
		var e EntryDetail
		if err := rows.Scan(&e.EntryID, &e.AccountID, &e.AccountNumber, &e.Amount, &e.BalanceAfter); err != nil {
			return nil, &ledger.AppError{Kind: ledger.KindInternal, Message: "Failed to scan entry row", Details: err.Error(), Err: err}
		}
		e.EntryType = ledger.EntryType(e.Amount)
		d.Entries = append(d.Entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, &ledger.AppError{Kind: ledger.KindInternal, Message: "Error iterating entry rows", Details: err.Error(), Err: err}
	}

	var r RiskInfo
	err = s.pool.QueryRow(ctx, `
        SELECT risk_score, verdict, model_version, scored_at
        FROM transaction_risk_scores
        WHERE transaction_id = $1`, txnID).
		Scan(&r.RiskScore, &r.Verdict, &r.ModelVersion, &r.ScoredAt)
	if err == nil {
		d.Risk = &r
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, &ledger.AppError{Kind: ledger.KindInternal, Message: "Failed to query risk score", Details: err.Error(), Err: err}
	}

	return &d, nil
}

// BalanceSheet reads vw_balance_sheet: what the bank owes customers, per
// currency.
func (s *Store) BalanceSheet(ctx context.Context) ([]BalanceSheetRow, error) {
	rows, err := s.pool.Query(ctx, `SELECT category, total_amount, currency FROM vw_balance_sheet ORDER BY currency`)
	if err != nil {
		return nil, &ledger.AppError{Kind: ledger.KindInternal, Message: "Failed to query balance sheet", Details: err.Error(), Err: err}
	}
	defer rows.Close()

	sheet := []BalanceSheetRow{}
	for rows.Next() {
		var r BalanceSheetRow
		if err := rows.Scan(&r.Category, &r.TotalAmount, &r.Currency); err != nil {
			return nil, &ledger.AppError{Kind: ledger.KindInternal, Message: "Failed to scan balance sheet row", Details: err.Error(), Err: err}
		}
		sheet = append(sheet, r)
	}
	if err := rows.Err(); err != nil {
		return nil, &ledger.AppError{Kind: ledger.KindInternal, Message: "Error iterating balance sheet rows", Details: err.Error(), Err: err}
	}
	return sheet, nil
}

// LedgerIntegrity reads vw_ledger_integrity_check. Any row returned is a
// broken transaction that needs investigation.
func (s *Store) LedgerIntegrity(ctx context.Context) ([]IntegrityRow, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT transaction_id, reference_id, net_sum, entries_count
        FROM vw_ledger_integrity_check
        ORDER BY transaction_id`)
	if err != nil {
		return nil, &ledger.AppError{Kind: ledger.KindInternal, Message: "Failed to query integrity view", Details: err.Error(), Err: err}
	}
	defer rows.Close()

	broken := []IntegrityRow{}
	for rows.Next() {
		var r IntegrityRow
		if err := rows.Scan(&r.TransactionID, &r.ReferenceID, &r.NetSum, &r.EntriesCount); err != nil {
			return nil, &ledger.AppError{Kind: ledger.KindInternal, Message: "Failed to scan integrity row", Details: err.Error(), Err: err}
		}
		broken = append(broken, r)
	}
	if err := rows.Err(); err != nil {
		return nil, &ledger.AppError{Kind: ledger.KindInternal, Message: "Error iterating integrity rows", Details: err.Error(), Err: err}
	}
	return broken, nil
}

// CustomerStatement reads vw_customer_statement for one account number,
// optionally bounded by date, newest first.
func (s *Store) CustomerStatement(ctx context.Context, accountNumber string, from, to time.Time, limit int) ([]CustomerStatementRow, error) {
	sql := `
        SELECT transaction_date, type, COALESCE(narrative, ''), amount, balance_after, status, username, account_number
        FROM vw_customer_statement
        WHERE account_number = $1`
	args := []any{accountNumber}
	if !from.IsZero() {
		args = append(args, from)
		sql += fmt.Sprintf(" AND transaction_date >= $%d", len(args))
	}
	if !to.IsZero() {
		args = append(args, to)
		sql += fmt.Sprintf(" AND transaction_date < $%d", len(args))
	}
	args = append(args, clampLimit(limit))
	sql += fmt.Sprintf(" ORDER BY transaction_date DESC LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, &ledger.AppError{Kind: ledger.KindInternal, Message: "Failed to query customer statement", Details: err.Error(), Err: err}
	}
	defer rows.Close()

	statement := []CustomerStatementRow{}
	for rows.Next() {
		var r CustomerStatementRow
		if err := rows.Scan(&r.TransactionDate, &r.Type, &r.Narrative, &r.Amount, &r.BalanceAfter, &r.Status, &r.Username, &r.AccountNumber); err != nil {
			return nil, &ledger.AppError{Kind: ledger.KindInternal, Message: "Failed to scan statement row", Details: err.Error(), Err: err}
		}
		statement = append(statement, r)
	}
	if err := rows.Err(); err != nil {
		return nil, &ledger.AppError{Kind: ledger.KindInternal, Message: "Error iterating statement rows", Details: err.Error(), Err: err}
	}
	return statement, nil
}

// FlaggedTransactions reads vw_flagged_transactions, highest risk first.
func (s *Store) FlaggedTransactions(ctx context.Context, limit int) ([]FlaggedRow, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT transaction_id, reference_id, type_code, COALESCE(amount, 0),
               risk_score, verdict, features_used, model_version, scored_at, created_at
        FROM vw_flagged_transactions
        ORDER BY risk_score DESC, scored_at DESC
        LIMIT $1`, clampLimit(limit))
	if err != nil {
		return nil, &ledger.AppError{Kind: ledger.KindInternal, Message: "Failed to query flagged transactions", Details: err.Error(), Err: err}
	}
	defer rows.Close()

	flagged := []FlaggedRow{}
	for rows.Next() {
		var r FlaggedRow
		if err := rows.Scan(&r.TransactionID, &r.ReferenceID, &r.TypeCode, &r.Amount, &r.RiskScore, &r.Verdict, &r.FeaturesUsed, &r.ModelVersion, &r.ScoredAt, &r.CreatedAt); err != nil {
			return nil, &ledger.AppError{Kind: ledger.KindInternal, Message: "Failed to scan flagged row", Details: err.Error(), Err: err}
		}
		flagged = append(flagged, r)
	}
	if err := rows.Err(); err != nil {
		return nil, &ledger.AppError{Kind: ledger.KindInternal, Message: "Error iterating flagged rows", Details: err.Error(), Err: err}
	}
	return flagged, nil
}

// UserRiskScores lists scoring verdicts for transactions a user initiated,
// newest first. All verdicts are included, not just flagged ones.
func (s *Store) UserRiskScores(ctx context.Context, userID int64, limit int) ([]FlaggedRow, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT t.transaction_id, t.reference_id, tt.type_code,
               COALESCE((SELECT ABS(te.amount) FROM transaction_entries te
                         WHERE te.transaction_id = t.transaction_id AND te.amount < 0
                         ORDER BY te.entry_id LIMIT 1), 0),
               r.risk_score, r.verdict, r.features_used, r.model_version, r.scored_at, t.created_at
        FROM transaction_risk_scores r
        JOIN transactions t ON t.transaction_id = r.transaction_id
        JOIN transaction_types tt ON tt.type_id = t.type_id
        WHERE t.initiated_by_user_id = $1
        ORDER BY r.scored_at DESC
        LIMIT $2`, userID, clampLimit(limit))
	if err != nil {
		return nil, &ledger.AppError{Kind: ledger.KindInternal, Message: "Failed to query risk scores", Details: err.Error(), Err: err}
	}
	defer rows.Close()

	scores := []FlaggedRow{}
	for rows.Next() {
		var r FlaggedRow
		if err := rows.Scan(&r.TransactionID, &r.ReferenceID, &r.TypeCode, &r.Amount, &r.RiskScore, &r.Verdict, &r.FeaturesUsed, &r.ModelVersion, &r.ScoredAt, &r.CreatedAt); err != nil {
			return nil, &ledger.AppError{Kind: ledger.KindInternal, Message: "Failed to scan risk score row", Details: err.Error(), Err: err}
		}
		scores = append(scores, r)
	}
	if err := rows.Err(); err != nil {
		return nil, &ledger.AppError{Kind: ledger.KindInternal, Message: "Error iterating risk score rows", Details: err.Error(), Err: err}
	}
	return scores, nil
}

// SpendingSummary aggregates one account's debits over the trailing number
// of days, grouped by transaction type.
func (s *Store) SpendingSummary(ctx context.Context, accountID int64, days int) ([]SpendingRow, error) {
	if days <= 0 {
		days = 30
	}
	rows, err := s.pool.Query(ctx, `
        SELECT tt.type_code, COUNT(*), COALESCE(SUM(ABS(te.amount)), 0)
        FROM transaction_entries te
        JOIN transactions t ON t.transaction_id = te.transaction_id
        JOIN transaction_types tt ON tt.type_id = t.type_id
        WHERE te.account_id = $1
          AND te.amount < 0
          AND t.status = $2
          AND te.created_at >= now() - make_interval(days => $3)
        GROUP BY tt.type_code
        ORDER BY tt.type_code`, accountID, models.TxnStatusCompleted, days)
	if err != nil {
		return nil, &ledger.AppError{Kind: ledger.KindInternal, Message: "Failed to query spending summary", Details: err.Error(), Err: err}
	}
	defer rows.Close()

	summary := []SpendingRow{}
	for rows.Next() {
		var r SpendingRow
		if err := rows.Scan(&r.TypeCode, &r.Count, &r.Total); err != nil {
			return nil, &ledger.AppError{Kind: ledger.KindInternal, Message: "Failed to scan spending row", Details: err.Error(), Err: err}
		}
		summary = append(summary, r)
	}
	if err := rows.Err(); err != nil {
		return nil, &ledger.AppError{Kind: ledger.KindInternal, Message: "Error iterating spending rows", Details: err.Error(), Err: err}
	}
	return summary, nil
}

// SpendingForecast projects the user's next-month outgoing by fitting a
// least-squares line through their monthly spending totals.
func (s *Store) SpendingForecast(ctx context.Context, userID int64) (*SpendingForecast, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT to_char(t.created_at, 'YYYY-MM') AS month,
               SUM(ABS(te.amount)), COUNT(*)
        FROM transaction_entries te
        JOIN transactions t ON t.transaction_id = te.transaction_id
        JOIN accounts a ON a.account_id = te.account_id
        WHERE a.user_id = $1
          AND te.amount < 0
          AND t.status = $2
        GROUP BY to_char(t.created_at, 'YYYY-MM')
        ORDER BY month`, userID, models.TxnStatusCompleted)
	if err != nil {
		return nil, &ledger.AppError{Kind: ledger.KindInternal, Message: "Failed to query monthly spending", Details: err.Error(), Err: err}
	}
	defer rows.Close()

	monthly := []MonthlySpendRow{}
	for rows.Next() {
		var m MonthlySpendRow
		if err := rows.Scan(&m.Month, &m.Total, &m.Count); err != nil {
			return nil, &ledger.AppError{Kind: ledger.KindInternal, Message: "Failed to scan monthly spending row", Details: err.Error(), Err: err}
		}
		monthly = append(monthly, m)
	}
	if err := rows.Err(); err != nil {
		return nil, &ledger.AppError{Kind: ledger.KindInternal, Message: "Error iterating monthly spending rows", Details: err.Error(), Err: err}
	}
	return forecastSpending(monthly), nil
}

// forecastSpending fits a least-squares line through the monthly totals
// and projects it one month forward, floored at zero. A slope within five
// percent of the monthly average reads as stable; a single month carries
// its total forward unchanged.
func forecastSpending(monthly []MonthlySpendRow) *SpendingForecast {
	f := &SpendingForecast{Trend: TrendStable, Monthly: monthly}
	if len(monthly) == 0 {
		return f
	}

	sum := decimal.Zero
	for _, m := range monthly {
		sum = sum.Add(m.Total)
	}
	n := int64(len(monthly))
	avg := sum.Div(decimal.NewFromInt(n))
	f.AverageMonthly = avg.Round(2)

	if n < 2 {
		f.PredictedNextMonth = monthly[0].Total.Round(2)
		return f
	}

	slope, intercept := fitLine(monthly)
	predicted := slope.Mul(decimal.NewFromInt(n)).Add(intercept)
	if predicted.IsNegative() {
		predicted = decimal.Zero
	}
	f.PredictedNextMonth = predicted.Round(2)

	band := avg.Mul(decimal.NewFromFloat(0.05))
	switch {
	case slope.GreaterThan(band):
		f.Trend = TrendIncreasing
	case slope.LessThan(band.Neg()):
		f.Trend = TrendDecreasing
	}
	return f
}

// fitLine runs an ordinary least-squares fit y = slope*x + intercept over
// the totals with x = 0..n-1. Needs at least two points.
func fitLine(monthly []MonthlySpendRow) (slope, intercept decimal.Decimal) {
	n := decimal.NewFromInt(int64(len(monthly)))
	var sumX, sumY, sumXY, sumXX decimal.Decimal
	for i, m := range monthly {
		x := decimal.NewFromInt(int64(i))
		sumX = sumX.Add(x)
		sumY = sumY.Add(m.Total)
		sumXY = sumXY.Add(x.Mul(m.Total))
		sumXX = sumXX.Add(x.Mul(x))
	}
	den := n.Mul(sumXX).Sub(sumX.Mul(sumX))
	slope = n.Mul(sumXY).Sub(sumX.Mul(sumY)).Div(den)
	intercept = sumY.Sub(slope.Mul(sumX)).Div(n)
	return slope, intercept
}

func clampLimit(n int) int {
	if n <= 0 {
		return defaultLimit
	}
	if n > maxLimit {
		return maxLimit
	}
	return n
}
