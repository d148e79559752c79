// Path: pkg/database/database.go
package database

import (
	"context"
	"fmt"

	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/punit745/Core-Banking-Ledger/internal/config"
	"github.com/punit745/Core-Banking-Ledger/internal/models"
)

// InitDB opens both database handles over one DSN: a gorm handle for schema
// management and back-office CRUD, and a pgx pool for the ledger paths that
// need explicit row locking. The pool registers shopspring decimal codecs
// so numeric columns scan into decimal.Decimal.
func InitDB(ctx context.Context, cfg config.Config) (*gorm.DB, *pgxpool.Pool, error) {
	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, pool, nil
}

// Migrate creates the full schema: tables from the models, then the checks,
// foreign keys, reporting views and seed rows that AutoMigrate does not
// cover. Safe to run repeatedly.
func Migrate(db *gorm.DB, cfg config.Config) error {
	err := db.AutoMigrate(
		&models.User{},
		&models.Employee{},
		&models.Account{},
		&models.TransactionType{},
		&models.Transaction{},
		&models.TransactionEntry{},
		&models.AuditLog{},
		&models.RiskScore{},
	)
	if err != nil {
		return fmt.Errorf("failed to auto-migrate tables: %w", err)
	}

	for _, ddl := range schemaDDL {
		if err := db.Exec(ddl).Error; err != nil {
			return fmt.Errorf("failed to apply schema statement: %w", err)
		}
	}
	for _, ddl := range viewDDL {
		if err := db.Exec(ddl).Error; err != nil {
			return fmt.Errorf("failed to apply view statement: %w", err)
		}
	}

	if err := seedTransactionTypes(db); err != nil {
		return err
	}
	return seedBootstrapEmployee(db, cfg)
}

// schemaDDL holds the Postgres constraints AutoMigrate cannot express:
// enum-style checks, the no-overdraft guard and the foreign keys. Each
// constraint is dropped and re-added so the list stays idempotent.
var schemaDDL = []string{
	`ALTER TABLE users DROP CONSTRAINT IF EXISTS chk_users_kyc_status`,
	`ALTER TABLE users ADD CONSTRAINT chk_users_kyc_status CHECK (kyc_status IN ('pending', 'verified', 'rejected'))`,
	`ALTER TABLE users DROP CONSTRAINT IF EXISTS chk_users_role`,
	`ALTER TABLE users ADD CONSTRAINT chk_users_role CHECK (role IN ('customer', 'admin', 'auditor'))`,

	`ALTER TABLE employees DROP CONSTRAINT IF EXISTS chk_employees_department`,
	`ALTER TABLE employees ADD CONSTRAINT chk_employees_department CHECK (department IN ('admin', 'operations', 'support', 'audit'))`,

	`ALTER TABLE accounts DROP CONSTRAINT IF EXISTS chk_accounts_type`,
	`ALTER TABLE accounts ADD CONSTRAINT chk_accounts_type CHECK (account_type IN ('savings', 'checking', 'wallet', 'loan'))`,
	`ALTER TABLE accounts DROP CONSTRAINT IF EXISTS chk_accounts_status`,
	`ALTER TABLE accounts ADD CONSTRAINT chk_accounts_status CHECK (status IN ('active', 'frozen', 'closed'))`,
	`ALTER TABLE accounts DROP CONSTRAINT IF EXISTS chk_accounts_balance`,
	`ALTER TABLE accounts ADD CONSTRAINT chk_accounts_balance CHECK (account_type = 'loan' OR current_balance >= 0)`,
	`ALTER TABLE accounts DROP CONSTRAINT IF EXISTS fk_accounts_user`,
	`ALTER TABLE accounts ADD CONSTRAINT fk_accounts_user FOREIGN KEY (user_id) REFERENCES users (user_id)`,

	`ALTER TABLE transactions DROP CONSTRAINT IF EXISTS chk_transactions_status`,
	`ALTER TABLE transactions ADD CONSTRAINT chk_transactions_status CHECK (status IN ('pending', 'completed', 'failed', 'reversed'))`,
	`ALTER TABLE transactions DROP CONSTRAINT IF EXISTS fk_transactions_type`,
	`ALTER TABLE transactions ADD CONSTRAINT fk_transactions_type FOREIGN KEY (type_id) REFERENCES transaction_types (type_id)`,
	`ALTER TABLE transactions DROP CONSTRAINT IF EXISTS fk_transactions_initiator`,
	`ALTER TABLE transactions ADD CONSTRAINT fk_transactions_initiator FOREIGN KEY (initiated_by_user_id) REFERENCES users (user_id)`,
	`ALTER TABLE transactions DROP CONSTRAINT IF EXISTS fk_transactions_reversal`,
	`ALTER TABLE transactions ADD CONSTRAINT fk_transactions_reversal FOREIGN KEY (reversal_of_transaction_id) REFERENCES transactions (transaction_id)`,

	`ALTER TABLE transaction_entries DROP CONSTRAINT IF EXISTS chk_entries_amount_nonzero`,
	`ALTER TABLE transaction_entries ADD CONSTRAINT chk_entries_amount_nonzero CHECK (amount <> 0)`,
	`ALTER TABLE transaction_entries DROP CONSTRAINT IF EXISTS fk_entries_transaction`,
	`ALTER TABLE transaction_entries ADD CONSTRAINT fk_entries_transaction FOREIGN KEY (transaction_id) REFERENCES transactions (transaction_id)`,
	`ALTER TABLE transaction_entries DROP CONSTRAINT IF EXISTS fk_entries_account`,
	`ALTER TABLE transaction_entries ADD CONSTRAINT fk_entries_account FOREIGN KEY (account_id) REFERENCES accounts (account_id)`,

	`ALTER TABLE transaction_risk_scores DROP CONSTRAINT IF EXISTS chk_risk_score_range`,
	`ALTER TABLE transaction_risk_scores ADD CONSTRAINT chk_risk_score_range CHECK (risk_score >= 0 AND risk_score <= 1)`,
	`ALTER TABLE transaction_risk_scores DROP CONSTRAINT IF EXISTS chk_risk_verdict`,
	`ALTER TABLE transaction_risk_scores ADD CONSTRAINT chk_risk_verdict CHECK (verdict IN ('SAFE', 'SUSPICIOUS', 'CRITICAL'))`,
	`ALTER TABLE transaction_risk_scores DROP CONSTRAINT IF EXISTS fk_risk_transaction`,
	`ALTER TABLE transaction_risk_scores ADD CONSTRAINT fk_risk_transaction FOREIGN KEY (transaction_id) REFERENCES transactions (transaction_id)`,
}

// viewDDL holds the reporting views consumed by the query layer and the
// back-office dashboard.
var viewDDL = []string{
	`DROP VIEW IF EXISTS vw_balance_sheet`,
	`CREATE VIEW vw_balance_sheet AS
        SELECT 'CUSTOMER_LIABILITY' AS category,
               SUM(current_balance) AS total_amount,
               currency
        FROM accounts
        WHERE status <> 'closed'
        GROUP BY currency`,

	// A healthy ledger returns zero rows here: every transfer must have
	// exactly two entries netting to zero, and any multi-entry transaction
	// must net to zero.
	`DROP VIEW IF EXISTS vw_ledger_integrity_check`,
	`CREATE VIEW vw_ledger_integrity_check AS
        SELECT t.transaction_id,
               t.reference_id,
               COALESCE(SUM(te.amount), 0) AS net_sum,
               COUNT(te.entry_id)          AS entries_count
        FROM transactions t
        JOIN transaction_types tt ON tt.type_id = t.type_id
        LEFT JOIN transaction_entries te ON te.transaction_id = t.transaction_id
        WHERE t.status IN ('completed', 'reversed')
        GROUP BY t.transaction_id, t.reference_id, tt.type_code
        HAVING (tt.type_code = 'TRANSFER'
                AND (ABS(COALESCE(SUM(te.amount), 0)) > 0.0001 OR COUNT(te.entry_id) <> 2))
            OR (COUNT(te.entry_id) > 1
                AND ABS(COALESCE(SUM(te.amount), 0)) > 0.0001)`,

	`DROP VIEW IF EXISTS vw_customer_statement`,
	`CREATE VIEW vw_customer_statement AS
        SELECT te.created_at AS transaction_date,
               tt.type_code  AS type,
               t.description AS narrative,
               te.amount,
               te.balance_after,
               t.status,
               u.username,
               a.account_number
        FROM transaction_entries te
        JOIN transactions t ON t.transaction_id = te.transaction_id
        JOIN transaction_types tt ON tt.type_id = t.type_id
        JOIN accounts a ON a.account_id = te.account_id
        JOIN users u ON u.user_id = a.user_id`,

	`DROP VIEW IF EXISTS vw_flagged_transactions`,
	`CREATE VIEW vw_flagged_transactions AS
        SELECT rs.transaction_id,
               t.reference_id,
               tt.type_code,
               (SELECT ABS(SUM(te.amount))
                FROM transaction_entries te
                WHERE te.transaction_id = rs.transaction_id AND te.amount < 0) AS amount,
               rs.risk_score,
               rs.verdict,
               rs.features_used,
               rs.model_version,
               rs.scored_at,
               t.created_at
        FROM transaction_risk_scores rs
        JOIN transactions t ON t.transaction_id = rs.transaction_id
        JOIN transaction_types tt ON tt.type_id = t.type_id
        WHERE rs.verdict IN ('SUSPICIOUS', 'CRITICAL')`,
}

var seedTypes = []models.TransactionType{
	{TypeCode: models.TypeDeposit, Description: "Customer deposit", IsSystemGenerated: false},
	{TypeCode: models.TypeWithdrawal, Description: "Customer withdrawal", IsSystemGenerated: false},
	{TypeCode: models.TypeTransfer, Description: "Transfer between accounts", IsSystemGenerated: false},
	{TypeCode: models.TypePayment, Description: "Bill or merchant payment", IsSystemGenerated: false},
	{TypeCode: models.TypeInterest, Description: "Interest credit", IsSystemGenerated: true},
	{TypeCode: models.TypeFee, Description: "Service fee", IsSystemGenerated: true},
}

func seedTransactionTypes(db *gorm.DB) error {
	for _, t := range seedTypes {
		res := db.Exec(`
            INSERT INTO transaction_types (type_code, description, is_system_generated)
            VALUES (?, ?, ?)
            ON CONFLICT (type_code) DO NOTHING`,
			t.TypeCode, t.Description, t.IsSystemGenerated)
		if res.Error != nil {
			return fmt.Errorf("failed to seed transaction type %s: %w", t.TypeCode, res.Error)
		}
	}
	return nil
}

// seedBootstrapEmployee creates EMP001 when the employees table is empty,
// so a fresh deployment has a way into the back office.
func seedBootstrapEmployee(db *gorm.DB, cfg config.Config) error {
	if cfg.BootstrapAdminPassword == "" {
		return nil
	}
	var count int64
	if err := db.Model(&models.Employee{}).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to count employees: %w", err)
	}
	if count > 0 {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.BootstrapAdminPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash bootstrap password: %w", err)
	}
	emp := models.Employee{
		EmployeeID:   "EMP001",
		PasswordHash: string(hash),
		FullName:     "System Administrator",
		Email:        "admin@corebank.local",
		Department:   models.DeptAdmin,
		IsActive:     true,
	}
	if err := db.Create(&emp).Error; err != nil {
		return fmt.Errorf("failed to seed bootstrap employee: %w", err)
	}
	return nil
}
