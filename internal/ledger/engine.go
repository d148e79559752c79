// Path: internal/ledger/engine.go
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/punit745/Core-Banking-Ledger/internal/audit"
	"github.com/punit745/Core-Banking-Ledger/internal/models"
)

// Config carries the deployment policy the engine enforces.
type Config struct {
	// MaxAccountsPerUser caps non-closed accounts per user. Zero means
	// unlimited.
	MaxAccountsPerUser int
	// DefaultCurrency is assigned to new accounts that do not name one.
	DefaultCurrency string
}

// Engine posts money movements. Every mutation runs in one serializable
// database transaction: guards, entries, balance updates and audit rows
// commit together or not at all.
type Engine struct {
	pool *pgxpool.Pool
	cfg  Config
}

// NewEngine creates a new Engine.
func NewEngine(pool *pgxpool.Pool, cfg Config) *Engine {
	return &Engine{pool: pool, cfg: cfg}
}

// TransferParams describes a transfer between two accounts. ReferenceID is
// the caller's idempotency key; a fresh one is generated when empty.
type TransferParams struct {
	FromAccountID int64
	ToAccountID   int64
	Amount        decimal.Decimal
	ReferenceID   string
	Description   string
	InitiatedBy   *int64
}

// MovementParams describes a single-leg deposit or withdrawal.
type MovementParams struct {
	AccountID   int64
	Amount      decimal.Decimal
	ReferenceID string
	Description string
	InitiatedBy *int64
}

// ReverseParams identifies the transaction to compensate. PerformedBy is
// the back-office principal recorded in the audit trail.
type ReverseParams struct {
	TransactionID int64
	Description   string
	PerformedBy   string
}

// TransferResult reports a posted transfer with both closing balances.
type TransferResult struct {
	TransactionID int64           `json:"transaction_id"`
	ReferenceID   string          `json:"reference_id"`
	Status        string          `json:"status"`
	FromBalance   decimal.Decimal `json:"from_balance"`
	ToBalance     decimal.Decimal `json:"to_balance"`
}

// MovementResult reports a posted deposit or withdrawal.
type MovementResult struct {
	TransactionID int64           `json:"transaction_id"`
	ReferenceID   string          `json:"reference_id"`
	Status        string          `json:"status"`
	Balance       decimal.Decimal `json:"balance"`
}

// ReverseResult reports a posted reversal.
type ReverseResult struct {
	TransactionID         int64  `json:"transaction_id"`
	ReferenceID           string `json:"reference_id"`
	ReversedTransactionID int64  `json:"reversed_transaction_id"`
	Status                string `json:"status"`
}

// Transfer moves money between two accounts as a balanced pair of entries:
// a debit against the source and a credit to the destination. Both accounts
// are locked in ascending account id order so opposing transfers cannot
// deadlock. A repeated reference returns the original outcome instead of
// posting again.
func (e *Engine) Transfer(ctx context.Context, p TransferParams) (*TransferResult, error) {
	if aerr := ValidateAmount(p.Amount); aerr != nil {
		return nil, aerr
	}
	if p.FromAccountID == p.ToAccountID {
		return nil, &AppError{Kind: KindPreconditionFailed, Message: "Same account transfer", Details: fmt.Sprintf("account_id: %d", p.FromAccountID)}
	}
	ref, aerr := normalizeReference(p.ReferenceID)
	if aerr != nil {
		return nil, aerr
	}

	tx, err := e.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return nil, &AppError{Kind: KindInternal, Message: "Failed to start transaction", Details: err.Error(), Err: err}
	}
	defer tx.Rollback(ctx)

	txnID, status, found, err := lookupReference(ctx, tx, ref)
	if err != nil {
		return nil, mapPgError("check reference", err)
	}
	if found {
		if status != models.TxnStatusCompleted {
			return nil, &AppError{Kind: KindDuplicate, Message: "Duplicate reference", Details: fmt.Sprintf("reference_id: %s, status: %s", ref, status)}
		}
		fromAmt, fromBal, fromOK, err := entryForAccount(ctx, tx, txnID, p.FromAccountID)
		if err != nil {
			return nil, mapPgError("load original transfer", err)
		}
		toAmt, toBal, toOK, err := entryForAccount(ctx, tx, txnID, p.ToAccountID)
		if err != nil {
			return nil, mapPgError("load original transfer", err)
		}
		if !fromOK || !toOK || !fromAmt.Equal(p.Amount.Neg()) || !toAmt.Equal(p.Amount) {
			return nil, &AppError{Kind: KindDuplicate, Message: "Duplicate reference", Details: fmt.Sprintf("reference_id: %s was used by a different transaction", ref)}
		}
		return &TransferResult{TransactionID: txnID, ReferenceID: ref, Status: status, FromBalance: fromBal, ToBalance: toBal}, nil
	}

	// Lock in ascending id order regardless of transfer direction.
	first, second := p.FromAccountID, p.ToAccountID
	if first > second {
		first, second = second, first
	}
	locked := make(map[int64]*lockedAccount, 2)
	for _, id := range []int64{first, second} {
		a, aerr := lockAccount(ctx, tx, id)
		if aerr != nil {
			return nil, aerr
		}
		locked[id] = a
	}
	from, to := locked[p.FromAccountID], locked[p.ToAccountID]

	if aerr := CheckAccountOperable(from.ID, from.Status); aerr != nil {
		return nil, aerr
	}
	if aerr := CheckAccountOperable(to.ID, to.Status); aerr != nil {
		return nil, aerr
	}
	if aerr := CheckCurrencyMatch(from.Currency, to.Currency); aerr != nil {
		return nil, aerr
	}
	if aerr := CheckSufficientFunds(from.ID, from.Type, from.Balance, p.Amount); aerr != nil {
		return nil, aerr
	}

	newFrom := from.Balance.Sub(p.Amount)
	newTo := to.Balance.Add(p.Amount)
	now := time.Now().UTC()

	typeID, err := transactionTypeID(ctx, tx, models.TypeTransfer)
	if err != nil {
		return nil, mapPgError("resolve transaction type", err)
	}
	newID, err := insertTransaction(ctx, tx, typeID, ref, p.Description, p.InitiatedBy, nil, now)
	if err != nil {
		return nil, mapPgError("insert transaction", err)
	}
	if err := postEntry(ctx, tx, newID, from, p.Amount.Neg(), newFrom, now); err != nil {
		return nil, mapPgError("post debit entry", err)
	}
	if err := postEntry(ctx, tx, newID, to, p.Amount, newTo, now); err != nil {
		return nil, mapPgError("post credit entry", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, mapPgError("commit transfer", err)
	}

	return &TransferResult{
		TransactionID: newID,
		ReferenceID:   ref,
		Status:        models.TxnStatusCompleted,
		FromBalance:   newFrom,
		ToBalance:     newTo,
	}, nil
}

// Single-entry posting types and their direction. TRANSFER is absent on
// purpose: it always posts as a balanced pair.
var (
	movementTypes = map[string]bool{
		models.TypeDeposit:    true,
		models.TypeWithdrawal: true,
		models.TypePayment:    true,
		models.TypeInterest:   true,
		models.TypeFee:        true,
	}
	debitTypes = map[string]bool{
		models.TypeWithdrawal: true,
		models.TypePayment:    true,
		models.TypeFee:        true,
	}
)

// Deposit credits external money into one account as a single entry.
func (e *Engine) Deposit(ctx context.Context, p MovementParams) (*MovementResult, error) {
	return e.postMovement(ctx, p, models.TypeDeposit)
}

// Withdraw debits money out of one account as a single entry.
func (e *Engine) Withdraw(ctx context.Context, p MovementParams) (*MovementResult, error) {
	return e.postMovement(ctx, p, models.TypeWithdrawal)
}

// Post writes a single-entry transaction of any seeded movement type.
// Payments and fees debit the account, interest credits it. This is the
// back-office path for postings that are neither a plain deposit nor a
// customer withdrawal.
func (e *Engine) Post(ctx context.Context, p MovementParams, typeCode string) (*MovementResult, error) {
	if !movementTypes[typeCode] {
		return nil, &AppError{Kind: KindInvalidInput, Message: "Invalid transaction type", Details: fmt.Sprintf("type_code: %q", typeCode)}
	}
	return e.postMovement(ctx, p, typeCode)
}

func (e *Engine) postMovement(ctx context.Context, p MovementParams, typeCode string) (*MovementResult, error) {
	if aerr := ValidateAmount(p.Amount); aerr != nil {
		return nil, aerr
	}
	ref, aerr := normalizeReference(p.ReferenceID)
	if aerr != nil {
		return nil, aerr
	}

	tx, err := e.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return nil, &AppError{Kind: KindInternal, Message: "Failed to start transaction", Details: err.Error(), Err: err}
	}
	defer tx.Rollback(ctx)

	txnID, status, found, err := lookupReference(ctx, tx, ref)
	if err != nil {
		return nil, mapPgError("check reference", err)
	}
	if found {
		if status != models.TxnStatusCompleted {
			return nil, &AppError{Kind: KindDuplicate, Message: "Duplicate reference", Details: fmt.Sprintf("reference_id: %s, status: %s", ref, status)}
		}
		expected := p.Amount
		if debitTypes[typeCode] {
			expected = p.Amount.Neg()
		}
		amt, bal, ok, err := entryForAccount(ctx, tx, txnID, p.AccountID)
		if err != nil {
			return nil, mapPgError("load original movement", err)
		}
		if !ok || !amt.Equal(expected) {
			return nil, &AppError{Kind: KindDuplicate, Message: "Duplicate reference", Details: fmt.Sprintf("reference_id: %s was used by a different transaction", ref)}
		}
		return &MovementResult{TransactionID: txnID, ReferenceID: ref, Status: status, Balance: bal}, nil
	}

	a, aerr := lockAccount(ctx, tx, p.AccountID)
	if aerr != nil {
		return nil, aerr
	}
	if aerr := CheckAccountOperable(a.ID, a.Status); aerr != nil {
		return nil, aerr
	}

	amount := p.Amount
	if debitTypes[typeCode] {
		if aerr := CheckSufficientFunds(a.ID, a.Type, a.Balance, p.Amount); aerr != nil {
			return nil, aerr
		}
		amount = p.Amount.Neg()
	}
	newBalance := a.Balance.Add(amount)
	now := time.Now().UTC()

	typeID, err := transactionTypeID(ctx, tx, typeCode)
	if err != nil {
		return nil, mapPgError("resolve transaction type", err)
	}
	newID, err := insertTransaction(ctx, tx, typeID, ref, p.Description, p.InitiatedBy, nil, now)
	if err != nil {
		return nil, mapPgError("insert transaction", err)
	}
	if err := postEntry(ctx, tx, newID, a, amount, newBalance, now); err != nil {
		return nil, mapPgError("post entry", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, mapPgError("commit movement", err)
	}

	return &MovementResult{
		TransactionID: newID,
		ReferenceID:   ref,
		Status:        models.TxnStatusCompleted,
		Balance:       newBalance,
	}, nil
}

// Reverse posts a compensating transaction that negates every entry of a
// completed transaction, then marks the original as reversed. The original
// rows are never rewritten beyond that status flip, so the trail of what
// happened stays intact.
func (e *Engine) Reverse(ctx context.Context, p ReverseParams) (*ReverseResult, error) {
	tx, err := e.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return nil, &AppError{Kind: KindInternal, Message: "Failed to start transaction", Details: err.Error(), Err: err}
	}
	defer tx.Rollback(ctx)

	// Lock the header row first so two reversals of the same transaction
	// serialize against each other.
	var (
		origRef    string
		origStatus string
		typeID     int32
		reversalOf *int64
	)
	err = tx.QueryRow(ctx, `
        SELECT reference_id, status, type_id, reversal_of_transaction_id
        FROM transactions
        WHERE transaction_id = $1
        FOR UPDATE`, p.TransactionID).
		Scan(&origRef, &origStatus, &typeID, &reversalOf)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &AppError{Kind: KindNotFound, Message: "Transaction not found", Details: fmt.Sprintf("transaction_id: %d", p.TransactionID)}
	}
	if err != nil {
		return nil, mapPgError("load transaction", err)
	}
	if reversalOf != nil {
		return nil, &AppError{Kind: KindPreconditionFailed, Message: "Cannot reverse a reversal", Details: fmt.Sprintf("transaction_id: %d", p.TransactionID)}
	}
	if origStatus != models.TxnStatusCompleted {
		return nil, &AppError{Kind: KindPreconditionFailed, Message: "Only completed transactions can be reversed", Details: fmt.Sprintf("transaction_id: %d, status: %s", p.TransactionID, origStatus)}
	}

	// Ascending account order doubles as the lock order.
	rows, err := tx.Query(ctx, `
        SELECT account_id, amount
        FROM transaction_entries
        WHERE transaction_id = $1
        ORDER BY account_id`, p.TransactionID)
	if err != nil {
		return nil, mapPgError("load entries", err)
	}
	type leg struct {
		accountID int64
		amount    decimal.Decimal
	}
	var legs []leg
	for rows.Next() {
		var l leg
		if err := rows.Scan(&l.accountID, &l.amount); err != nil {
			rows.Close()
			return nil, mapPgError("scan entry", err)
		}
		legs = append(legs, l)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, mapPgError("iterate entries", err)
	}
	if len(legs) == 0 {
		return nil, &AppError{Kind: KindPreconditionFailed, Message: "Transaction has no entries", Details: fmt.Sprintf("transaction_id: %d", p.TransactionID)}
	}

	type revLeg struct {
		account    *lockedAccount
		amount     decimal.Decimal
		newBalance decimal.Decimal
	}
	revLegs := make([]revLeg, 0, len(legs))
	for _, l := range legs {
		a, aerr := lockAccount(ctx, tx, l.accountID)
		if aerr != nil {
			return nil, aerr
		}
		if aerr := CheckAccountOperable(a.ID, a.Status); aerr != nil {
			return nil, aerr
		}
		rev := l.amount.Neg()
		if rev.IsNegative() {
			if aerr := CheckSufficientFunds(a.ID, a.Type, a.Balance, rev.Abs()); aerr != nil {
				return nil, aerr
			}
		}
		revLegs = append(revLegs, revLeg{account: a, amount: rev, newBalance: a.Balance.Add(rev)})
	}

	now := time.Now().UTC()
	desc := p.Description
	if desc == "" {
		desc = "Reversal of " + origRef
	}
	origID := p.TransactionID
	revRef := uuid.NewString()
	revID, err := insertTransaction(ctx, tx, typeID, revRef, desc, nil, &origID, now)
	if err != nil {
		return nil, mapPgError("insert reversal", err)
	}
	for _, l := range revLegs {
		if err := postEntry(ctx, tx, revID, l.account, l.amount, l.newBalance, now); err != nil {
			return nil, mapPgError("post reversal entry", err)
		}
	}
	if _, err := tx.Exec(ctx, `UPDATE transactions SET status = $1 WHERE transaction_id = $2`, models.TxnStatusReversed, origID); err != nil {
		return nil, mapPgError("mark transaction reversed", err)
	}

	err = audit.Record(ctx, tx, audit.Entry{
		EntityType:  models.EntityTransaction,
		EntityID:    strconv.FormatInt(origID, 10),
		ActionType:  models.ActionStatusChange,
		Old:         map[string]any{"status": models.TxnStatusCompleted},
		New:         map[string]any{"status": models.TxnStatusReversed, "reversed_by_transaction_id": revID},
		PerformedBy: p.PerformedBy,
	})
	if err != nil {
		return nil, mapPgError("record audit", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, mapPgError("commit reversal", err)
	}

	return &ReverseResult{
		TransactionID:         revID,
		ReferenceID:           revRef,
		ReversedTransactionID: origID,
		Status:                models.TxnStatusCompleted,
	}, nil
}

type lockedAccount struct {
	ID       int64
	UserID   int64
	Number   string
	Type     string
	Currency string
	Balance  decimal.Decimal
	Status   string
}

// lockAccount reads an account row under FOR UPDATE. Callers locking more
// than one account must lock in ascending account id order.
func lockAccount(ctx context.Context, tx pgx.Tx, id int64) (*lockedAccount, *AppError) {
	var a lockedAccount
	err := tx.QueryRow(ctx, `
        SELECT account_id, user_id, account_number, account_type, currency, current_balance, status
        FROM accounts
        WHERE account_id = $1
        FOR UPDATE`, id).
		Scan(&a.ID, &a.UserID, &a.Number, &a.Type, &a.Currency, &a.Balance, &a.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &AppError{Kind: KindNotFound, Message: "Account not found", Details: fmt.Sprintf("account_id: %d", id)}
	}
	if err != nil {
		return nil, mapPgError("lock account", err)
	}
	return &a, nil
}

func lookupReference(ctx context.Context, tx pgx.Tx, ref string) (int64, string, bool, error) {
	var (
		id     int64
		status string
	)
	err := tx.QueryRow(ctx, `SELECT transaction_id, status FROM transactions WHERE reference_id = $1`, ref).Scan(&id, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, "", false, nil
	}
	if err != nil {
		return 0, "", false, err
	}
	return id, status, true, nil
}

// entryForAccount loads one transaction's leg against an account. Replays
// compare the stored signed amount against the repeated request, so a
// reused reference with different parameters is caught.
func entryForAccount(ctx context.Context, tx pgx.Tx, txnID, accountID int64) (amount, balanceAfter decimal.Decimal, found bool, err error) {
	err = tx.QueryRow(ctx, `
        SELECT amount, balance_after
        FROM transaction_entries
        WHERE transaction_id = $1 AND account_id = $2`, txnID, accountID).Scan(&amount, &balanceAfter)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Decimal{}, decimal.Decimal{}, false, nil
	}
	if err != nil {
		return decimal.Decimal{}, decimal.Decimal{}, false, err
	}
	return amount, balanceAfter, true, nil
}

func transactionTypeID(ctx context.Context, tx pgx.Tx, typeCode string) (int32, error) {
	var id int32
	err := tx.QueryRow(ctx, `SELECT type_id FROM transaction_types WHERE type_code = $1`, typeCode).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("transaction type %s is not seeded", typeCode)
	}
	return id, err
}

func insertTransaction(ctx context.Context, tx pgx.Tx, typeID int32, ref, description string, initiatedBy, reversalOf *int64, now time.Time) (int64, error) {
	var id int64
	err := tx.QueryRow(ctx, `
        INSERT INTO transactions (reference_id, type_id, description, initiated_by_user_id, status, reversal_of_transaction_id, created_at, completed_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
        RETURNING transaction_id`,
		ref, typeID, description, initiatedBy, models.TxnStatusCompleted, reversalOf, now).Scan(&id)
	return id, err
}

// postEntry writes one signed entry and brings the denormalized account
// balance in line with it.
func postEntry(ctx context.Context, tx pgx.Tx, txnID int64, a *lockedAccount, amount, newBalance decimal.Decimal, now time.Time) error {
	if _, err := tx.Exec(ctx, `
        INSERT INTO transaction_entries (transaction_id, account_id, amount, balance_after, created_at)
        VALUES ($1, $2, $3, $4, $5)`,
		txnID, a.ID, amount, newBalance, now); err != nil {
		return err
	}
	_, err := tx.Exec(ctx, `UPDATE accounts SET current_balance = $1, updated_at = $2 WHERE account_id = $3`, newBalance, now, a.ID)
	return err
}

func normalizeReference(ref string) (string, *AppError) {
	if ref == "" {
		return uuid.NewString(), nil
	}
	if len(ref) > 50 {
		return "", &AppError{Kind: KindInvalidInput, Message: "Invalid reference", Details: "reference_id must be at most 50 characters"}
	}
	return ref, nil
}
