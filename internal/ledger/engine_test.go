// Path: internal/ledger/engine_test.go
package ledger

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punit745/Core-Banking-Ledger/internal/config"
	"github.com/punit745/Core-Banking-Ledger/internal/models"
	"github.com/punit745/Core-Banking-Ledger/pkg/database"
)

var (
	testPoolOnce sync.Once
	testPool     *pgxpool.Pool
	testPoolErr  error
)

// testEngine connects to TEST_DATABASE_URL and migrates the schema once.
// Tests are skipped when the variable is unset.
func testEngine(t *testing.T) (*Engine, *pgxpool.Pool) {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	testPoolOnce.Do(func() {
		cfg := config.Config{DatabaseURL: dsn}
		db, pool, err := database.InitDB(context.Background(), cfg)
		if err != nil {
			testPoolErr = err
			return
		}
		if err := database.Migrate(db, cfg); err != nil {
			testPoolErr = err
			return
		}
		testPool = pool
	})
	require.NoError(t, testPoolErr)

	return NewEngine(testPool, Config{DefaultCurrency: "USD"}), testPool
}

func createTestUser(t *testing.T, pool *pgxpool.Pool) int64 {
	t.Helper()
	username := "user_" + uuid.NewString()[:8]
	var id int64
	err := pool.QueryRow(context.Background(), `
        INSERT INTO users (username, password_hash, email, full_name, kyc_status, role, is_active, created_at, updated_at)
        VALUES ($1, 'x', $2, 'Test User', 'verified', 'customer', true, now(), now())
        RETURNING user_id`, username, username+"@test.local").Scan(&id)
	require.NoError(t, err)
	return id
}

func createTestAccount(t *testing.T, e *Engine, userID int64) *AccountSummary {
	t.Helper()
	acc, err := e.CreateAccount(context.Background(), CreateAccountParams{
		UserID:      userID,
		AccountType: models.AccountTypeChecking,
		PerformedBy: "test",
	})
	require.NoError(t, err)
	return acc
}

func mustDeposit(t *testing.T, e *Engine, accountID int64, amount string) *MovementResult {
	t.Helper()
	res, err := e.Deposit(context.Background(), MovementParams{AccountID: accountID, Amount: dec(amount)})
	require.NoError(t, err)
	return res
}

func accountBalance(t *testing.T, pool *pgxpool.Pool, accountID int64) decimal.Decimal {
	t.Helper()
	var b decimal.Decimal
	err := pool.QueryRow(context.Background(), `SELECT current_balance FROM accounts WHERE account_id = $1`, accountID).Scan(&b)
	require.NoError(t, err)
	return b
}

func appErrFrom(t *testing.T, err error) *AppError {
	t.Helper()
	var appErr *AppError
	require.ErrorAs(t, err, &appErr)
	return appErr
}

func TestTransferValidation(t *testing.T) {
	// Validation runs before any database work, so no pool is needed.
	e := NewEngine(nil, Config{})
	ctx := context.Background()

	_, err := e.Transfer(ctx, TransferParams{FromAccountID: 1, ToAccountID: 2, Amount: dec("-5")})
	assert.Equal(t, KindInvalidInput, appErrFrom(t, err).Kind)

	_, err = e.Transfer(ctx, TransferParams{FromAccountID: 7, ToAccountID: 7, Amount: dec("5")})
	appErr := appErrFrom(t, err)
	assert.Equal(t, KindPreconditionFailed, appErr.Kind)
	assert.Equal(t, "Same account transfer", appErr.Message)

	long := make([]byte, 51)
	for i := range long {
		long[i] = 'a'
	}
	_, err = e.Transfer(ctx, TransferParams{FromAccountID: 1, ToAccountID: 2, Amount: dec("5"), ReferenceID: string(long)})
	assert.Equal(t, KindInvalidInput, appErrFrom(t, err).Kind)

	_, err = e.Deposit(ctx, MovementParams{AccountID: 1, Amount: dec("1.23456")})
	assert.Equal(t, KindInvalidInput, appErrFrom(t, err).Kind)
}

func TestDepositWithdrawFlow(t *testing.T) {
	e, pool := testEngine(t)
	ctx := context.Background()
	userID := createTestUser(t, pool)
	acc := createTestAccount(t, e, userID)

	dep := mustDeposit(t, e, acc.AccountID, "1000")
	assert.Equal(t, models.TxnStatusCompleted, dep.Status)
	assert.True(t, dep.Balance.Equal(dec("1000")), "got %s", dep.Balance)

	wd, err := e.Withdraw(ctx, MovementParams{AccountID: acc.AccountID, Amount: dec("150.25")})
	require.NoError(t, err)
	assert.True(t, wd.Balance.Equal(dec("849.75")), "got %s", wd.Balance)
	assert.True(t, accountBalance(t, pool, acc.AccountID).Equal(dec("849.75")))

	// The entry row snapshots the running balance.
	var amount, balanceAfter decimal.Decimal
	err = pool.QueryRow(ctx, `
        SELECT amount, balance_after FROM transaction_entries WHERE transaction_id = $1`, wd.TransactionID).
		Scan(&amount, &balanceAfter)
	require.NoError(t, err)
	assert.True(t, amount.Equal(dec("-150.25")))
	assert.True(t, balanceAfter.Equal(dec("849.75")))
}

func TestWithdrawInsufficientFunds(t *testing.T) {
	e, pool := testEngine(t)
	ctx := context.Background()
	userID := createTestUser(t, pool)
	acc := createTestAccount(t, e, userID)
	mustDeposit(t, e, acc.AccountID, "30")

	_, err := e.Withdraw(ctx, MovementParams{AccountID: acc.AccountID, Amount: dec("30.01")})
	appErr := appErrFrom(t, err)
	assert.Equal(t, KindPreconditionFailed, appErr.Kind)
	assert.Equal(t, "Insufficient funds", appErr.Message)

	// The failed attempt wrote nothing.
	assert.True(t, accountBalance(t, pool, acc.AccountID).Equal(dec("30")))
	var entries int
	err = pool.QueryRow(ctx, `SELECT COUNT(*) FROM transaction_entries WHERE account_id = $1`, acc.AccountID).Scan(&entries)
	require.NoError(t, err)
	assert.Equal(t, 1, entries)
}

func TestTransfer(t *testing.T) {
	e, pool := testEngine(t)
	ctx := context.Background()
	userID := createTestUser(t, pool)
	from := createTestAccount(t, e, userID)
	to := createTestAccount(t, e, userID)
	mustDeposit(t, e, from.AccountID, "1000")

	res, err := e.Transfer(ctx, TransferParams{FromAccountID: from.AccountID, ToAccountID: to.AccountID, Amount: dec("200")})
	require.NoError(t, err)
	assert.True(t, res.FromBalance.Equal(dec("800")), "got %s", res.FromBalance)
	assert.True(t, res.ToBalance.Equal(dec("200")), "got %s", res.ToBalance)

	// Exactly two legs netting to zero.
	var entries int
	var net decimal.Decimal
	err = pool.QueryRow(ctx, `
        SELECT COUNT(*), COALESCE(SUM(amount), 0) FROM transaction_entries WHERE transaction_id = $1`, res.TransactionID).
		Scan(&entries, &net)
	require.NoError(t, err)
	assert.Equal(t, 2, entries)
	assert.True(t, net.IsZero(), "net %s", net)
}

func TestTransferInsufficientFunds(t *testing.T) {
	e, pool := testEngine(t)
	ctx := context.Background()
	userID := createTestUser(t, pool)
	from := createTestAccount(t, e, userID)
	to := createTestAccount(t, e, userID)
	mustDeposit(t, e, from.AccountID, "100")

	_, err := e.Transfer(ctx, TransferParams{FromAccountID: from.AccountID, ToAccountID: to.AccountID, Amount: dec("200")})
	appErr := appErrFrom(t, err)
	assert.Equal(t, KindPreconditionFailed, appErr.Kind)
	assert.Equal(t, "Insufficient funds", appErr.Message)
	assert.True(t, accountBalance(t, pool, from.AccountID).Equal(dec("100")))
	assert.True(t, accountBalance(t, pool, to.AccountID).IsZero())
}

func TestTransferCurrencyMismatch(t *testing.T) {
	e, pool := testEngine(t)
	ctx := context.Background()
	userID := createTestUser(t, pool)
	from := createTestAccount(t, e, userID)
	mustDeposit(t, e, from.AccountID, "100")

	eur, err := e.CreateAccount(ctx, CreateAccountParams{
		UserID:      userID,
		AccountType: models.AccountTypeSavings,
		Currency:    "EUR",
		PerformedBy: "test",
	})
	require.NoError(t, err)

	_, err = e.Transfer(ctx, TransferParams{FromAccountID: from.AccountID, ToAccountID: eur.AccountID, Amount: dec("10")})
	appErr := appErrFrom(t, err)
	assert.Equal(t, KindPreconditionFailed, appErr.Kind)
	assert.Equal(t, "Currency mismatch", appErr.Message)
}

func TestMovementAccountNotFound(t *testing.T) {
	e, _ := testEngine(t)

	_, err := e.Deposit(context.Background(), MovementParams{AccountID: 999999999, Amount: dec("10")})
	assert.Equal(t, KindNotFound, appErrFrom(t, err).Kind)
}

func TestIdempotentReference(t *testing.T) {
	e, pool := testEngine(t)
	ctx := context.Background()
	userID := createTestUser(t, pool)
	acc := createTestAccount(t, e, userID)
	ref := "idem-" + uuid.NewString()[:12]

	first, err := e.Deposit(ctx, MovementParams{AccountID: acc.AccountID, Amount: dec("75"), ReferenceID: ref})
	require.NoError(t, err)

	// Exact repeat replays the original outcome without posting again.
	second, err := e.Deposit(ctx, MovementParams{AccountID: acc.AccountID, Amount: dec("75"), ReferenceID: ref})
	require.NoError(t, err)
	assert.Equal(t, first.TransactionID, second.TransactionID)
	assert.True(t, second.Balance.Equal(first.Balance))
	assert.True(t, accountBalance(t, pool, acc.AccountID).Equal(dec("75")))

	// Same reference with a different amount is rejected.
	_, err = e.Deposit(ctx, MovementParams{AccountID: acc.AccountID, Amount: dec("80"), ReferenceID: ref})
	assert.Equal(t, KindDuplicate, appErrFrom(t, err).Kind)

	// Same reference with a different operation is rejected too.
	_, err = e.Withdraw(ctx, MovementParams{AccountID: acc.AccountID, Amount: dec("75"), ReferenceID: ref})
	assert.Equal(t, KindDuplicate, appErrFrom(t, err).Kind)
}

func TestPostTypedMovements(t *testing.T) {
	e, pool := testEngine(t)
	ctx := context.Background()
	userID := createTestUser(t, pool)
	acc := createTestAccount(t, e, userID)
	mustDeposit(t, e, acc.AccountID, "100")

	// Interest credits, fees debit.
	res, err := e.Post(ctx, MovementParams{AccountID: acc.AccountID, Amount: dec("2.50"), Description: "monthly interest"}, models.TypeInterest)
	require.NoError(t, err)
	assert.True(t, res.Balance.Equal(dec("102.50")), "got %s", res.Balance)

	res, err = e.Post(ctx, MovementParams{AccountID: acc.AccountID, Amount: dec("1.25"), Description: "maintenance fee"}, models.TypeFee)
	require.NoError(t, err)
	assert.True(t, res.Balance.Equal(dec("101.25")), "got %s", res.Balance)

	var typeCode string
	err = pool.QueryRow(ctx, `
        SELECT tt.type_code FROM transactions t
        JOIN transaction_types tt ON tt.type_id = t.type_id
        WHERE t.transaction_id = $1`, res.TransactionID).Scan(&typeCode)
	require.NoError(t, err)
	assert.Equal(t, models.TypeFee, typeCode)

	// Fees respect the overdraft rule like any other debit.
	_, err = e.Post(ctx, MovementParams{AccountID: acc.AccountID, Amount: dec("500")}, models.TypePayment)
	assert.Equal(t, "Insufficient funds", appErrFrom(t, err).Message)

	_, err = e.Post(ctx, MovementParams{AccountID: acc.AccountID, Amount: dec("10")}, "TRANSFER")
	appErr := appErrFrom(t, err)
	assert.Equal(t, KindInvalidInput, appErr.Kind)
	assert.Equal(t, "Invalid transaction type", appErr.Message)
}

func TestDuplicatePendingReference(t *testing.T) {
	e, pool := testEngine(t)
	ctx := context.Background()
	userID := createTestUser(t, pool)
	acc := createTestAccount(t, e, userID)
	ref := "pend-" + uuid.NewString()[:12]

	// A reference stuck in pending must not replay.
	_, err := pool.Exec(ctx, `
        INSERT INTO transactions (reference_id, type_id, description, status, created_at)
        SELECT $1, type_id, '', 'pending', now() FROM transaction_types WHERE type_code = $2`,
		ref, models.TypeDeposit)
	require.NoError(t, err)

	_, err = e.Deposit(ctx, MovementParams{AccountID: acc.AccountID, Amount: dec("10"), ReferenceID: ref})
	appErr := appErrFrom(t, err)
	assert.Equal(t, KindDuplicate, appErr.Kind)
	assert.Contains(t, appErr.Details, "pending")
}

func TestFrozenAccountBlocksMovements(t *testing.T) {
	e, pool := testEngine(t)
	ctx := context.Background()
	userID := createTestUser(t, pool)
	acc := createTestAccount(t, e, userID)
	mustDeposit(t, e, acc.AccountID, "50")

	_, err := e.FreezeAccount(ctx, StatusParams{AccountID: acc.AccountID, PerformedBy: "EMP001", Reason: "suspicious activity"})
	require.NoError(t, err)

	_, err = e.Deposit(ctx, MovementParams{AccountID: acc.AccountID, Amount: dec("10")})
	appErr := appErrFrom(t, err)
	assert.Equal(t, KindPreconditionFailed, appErr.Kind)
	assert.Equal(t, "Account is frozen", appErr.Message)

	_, err = e.Withdraw(ctx, MovementParams{AccountID: acc.AccountID, Amount: dec("10")})
	assert.Equal(t, KindPreconditionFailed, appErrFrom(t, err).Kind)

	_, err = e.UnfreezeAccount(ctx, StatusParams{AccountID: acc.AccountID, PerformedBy: "EMP001"})
	require.NoError(t, err)

	_, err = e.Deposit(ctx, MovementParams{AccountID: acc.AccountID, Amount: dec("10")})
	require.NoError(t, err)
	assert.True(t, accountBalance(t, pool, acc.AccountID).Equal(dec("60")))
}

func TestCloseLifecycle(t *testing.T) {
	e, pool := testEngine(t)
	ctx := context.Background()
	userID := createTestUser(t, pool)
	acc := createTestAccount(t, e, userID)
	mustDeposit(t, e, acc.AccountID, "100")

	_, err := e.CloseAccount(ctx, StatusParams{AccountID: acc.AccountID, PerformedBy: "EMP001"})
	appErr := appErrFrom(t, err)
	assert.Equal(t, KindPreconditionFailed, appErr.Kind)
	assert.Equal(t, "Account balance must be zero to close", appErr.Message)

	_, err = e.Withdraw(ctx, MovementParams{AccountID: acc.AccountID, Amount: dec("100")})
	require.NoError(t, err)

	closed, err := e.CloseAccount(ctx, StatusParams{AccountID: acc.AccountID, PerformedBy: "EMP001"})
	require.NoError(t, err)
	assert.Equal(t, models.AccountStatusClosed, closed.Status)

	// Closed is terminal.
	_, err = e.Deposit(ctx, MovementParams{AccountID: acc.AccountID, Amount: dec("5")})
	assert.Equal(t, "Account is closed", appErrFrom(t, err).Message)

	_, err = e.CloseAccount(ctx, StatusParams{AccountID: acc.AccountID, PerformedBy: "EMP001"})
	assert.Equal(t, "Account already closed", appErrFrom(t, err).Message)

	_, err = e.UnfreezeAccount(ctx, StatusParams{AccountID: acc.AccountID, PerformedBy: "EMP001"})
	assert.Equal(t, "Account is closed", appErrFrom(t, err).Message)

	assert.True(t, accountBalance(t, pool, acc.AccountID).IsZero())
}

func TestReverseTransfer(t *testing.T) {
	e, pool := testEngine(t)
	ctx := context.Background()
	userID := createTestUser(t, pool)
	from := createTestAccount(t, e, userID)
	to := createTestAccount(t, e, userID)
	mustDeposit(t, e, from.AccountID, "500")

	tr, err := e.Transfer(ctx, TransferParams{FromAccountID: from.AccountID, ToAccountID: to.AccountID, Amount: dec("200")})
	require.NoError(t, err)

	rev, err := e.Reverse(ctx, ReverseParams{TransactionID: tr.TransactionID, PerformedBy: "EMP001"})
	require.NoError(t, err)
	assert.Equal(t, tr.TransactionID, rev.ReversedTransactionID)
	assert.Equal(t, models.TxnStatusCompleted, rev.Status)

	assert.True(t, accountBalance(t, pool, from.AccountID).Equal(dec("500")))
	assert.True(t, accountBalance(t, pool, to.AccountID).IsZero())

	var status string
	var reversalOf *int64
	err = pool.QueryRow(ctx, `SELECT status FROM transactions WHERE transaction_id = $1`, tr.TransactionID).Scan(&status)
	require.NoError(t, err)
	assert.Equal(t, models.TxnStatusReversed, status)
	err = pool.QueryRow(ctx, `SELECT reversal_of_transaction_id FROM transactions WHERE transaction_id = $1`, rev.TransactionID).Scan(&reversalOf)
	require.NoError(t, err)
	require.NotNil(t, reversalOf)
	assert.Equal(t, tr.TransactionID, *reversalOf)

	// Neither the reversal nor the original can be reversed again.
	_, err = e.Reverse(ctx, ReverseParams{TransactionID: rev.TransactionID, PerformedBy: "EMP001"})
	assert.Equal(t, "Cannot reverse a reversal", appErrFrom(t, err).Message)
	_, err = e.Reverse(ctx, ReverseParams{TransactionID: tr.TransactionID, PerformedBy: "EMP001"})
	assert.Equal(t, "Only completed transactions can be reversed", appErrFrom(t, err).Message)
}

func TestReverseDepositNeedsFunds(t *testing.T) {
	e, pool := testEngine(t)
	ctx := context.Background()
	userID := createTestUser(t, pool)
	acc := createTestAccount(t, e, userID)

	dep, err := e.Deposit(ctx, MovementParams{AccountID: acc.AccountID, Amount: dec("100")})
	require.NoError(t, err)
	_, err = e.Withdraw(ctx, MovementParams{AccountID: acc.AccountID, Amount: dec("80")})
	require.NoError(t, err)

	// Clawing back the deposit would overdraw the account.
	_, err = e.Reverse(ctx, ReverseParams{TransactionID: dep.TransactionID, PerformedBy: "EMP001"})
	appErr := appErrFrom(t, err)
	assert.Equal(t, KindPreconditionFailed, appErr.Kind)
	assert.Equal(t, "Insufficient funds", appErr.Message)
	assert.True(t, accountBalance(t, pool, acc.AccountID).Equal(dec("20")))
}

func transferWithRetry(t *testing.T, e *Engine, p TransferParams) {
	t.Helper()
	for {
		_, err := e.Transfer(context.Background(), p)
		if err == nil {
			return
		}
		var appErr *AppError
		if errors.As(err, &appErr) && appErr.Retryable() {
			continue
		}
		t.Errorf("transfer failed: %v", err)
		return
	}
}

func TestConcurrentOpposingTransfers(t *testing.T) {
	e, pool := testEngine(t)
	ctx := context.Background()
	userID := createTestUser(t, pool)
	a := createTestAccount(t, e, userID)
	b := createTestAccount(t, e, userID)
	mustDeposit(t, e, a.AccountID, "1000")
	mustDeposit(t, e, b.AccountID, "1000")

	const rounds = 100
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			transferWithRetry(t, e, TransferParams{FromAccountID: a.AccountID, ToAccountID: b.AccountID, Amount: dec("5")})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			transferWithRetry(t, e, TransferParams{FromAccountID: b.AccountID, ToAccountID: a.AccountID, Amount: dec("5")})
		}
	}()
	wg.Wait()

	// Equal opposing volume leaves both balances where they started.
	assert.True(t, accountBalance(t, pool, a.AccountID).Equal(dec("1000")))
	assert.True(t, accountBalance(t, pool, b.AccountID).Equal(dec("1000")))

	// Denormalized balances agree with the entries: two seed deposits plus
	// two legs per transfer.
	var entryCount int
	var entrySum decimal.Decimal
	err := pool.QueryRow(ctx, `
        SELECT COUNT(*), COALESCE(SUM(amount), 0) FROM transaction_entries WHERE account_id IN ($1, $2)`,
		a.AccountID, b.AccountID).Scan(&entryCount, &entrySum)
	require.NoError(t, err)
	assert.Equal(t, 2+4*rounds, entryCount)
	assert.True(t, entrySum.Equal(dec("2000")), "entry sum %s", entrySum)

	// And the integrity view stays empty.
	var broken int
	err = pool.QueryRow(ctx, `SELECT COUNT(*) FROM vw_ledger_integrity_check`).Scan(&broken)
	require.NoError(t, err)
	assert.Equal(t, 0, broken)
}

func TestConcurrentWithdrawalsNeverOverdraw(t *testing.T) {
	e, pool := testEngine(t)
	userID := createTestUser(t, pool)
	acc := createTestAccount(t, e, userID)
	mustDeposit(t, e, acc.AccountID, "100")

	// Ten withdrawals of 30 against a balance of 100: exactly three fit.
	const attempts = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		rejected  int
	)
	wg.Add(attempts)
	for i := 0; i < attempts; i++ {
		go func() {
			defer wg.Done()
			for {
				_, err := e.Withdraw(context.Background(), MovementParams{AccountID: acc.AccountID, Amount: dec("30")})
				var appErr *AppError
				if errors.As(err, &appErr) && appErr.Retryable() {
					continue
				}
				mu.Lock()
				defer mu.Unlock()
				if err == nil {
					succeeded++
				} else if appErr != nil && appErr.Message == "Insufficient funds" {
					rejected++
				} else {
					t.Errorf("unexpected withdraw error: %v", err)
				}
				return
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, succeeded)
	assert.Equal(t, 7, rejected)
	assert.True(t, accountBalance(t, pool, acc.AccountID).Equal(dec("10")))
}
