// Path: internal/models/models.go
package models

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/shopspring/decimal"
)

// Account types. The two-letter prefixes drive account number generation.
const (
	AccountTypeSavings  = "savings"
	AccountTypeChecking = "checking"
	AccountTypeWallet   = "wallet"
	AccountTypeLoan     = "loan"
)

// Account statuses.
const (
	AccountStatusActive = "active"
	AccountStatusFrozen = "frozen"
	AccountStatusClosed = "closed"
)

// Transaction statuses.
const (
	TxnStatusPending   = "pending"
	TxnStatusCompleted = "completed"
	TxnStatusFailed    = "failed"
	TxnStatusReversed  = "reversed"
)

// Seeded transaction type codes.
const (
	TypeDeposit    = "DEPOSIT"
	TypeWithdrawal = "WITHDRAWAL"
	TypeTransfer   = "TRANSFER"
	TypePayment    = "PAYMENT"
	TypeInterest   = "INTEREST"
	TypeFee        = "FEE"
)

// KYC statuses.
const (
	KYCPending  = "pending"
	KYCVerified = "verified"
	KYCRejected = "rejected"
)

// User roles.
const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
	RoleAuditor  = "auditor"
	// RoleEmployee marks back-office JWTs; it is never stored on a user row.
	RoleEmployee = "employee"
)

// Back-office departments.
const (
	DeptAdmin      = "admin"
	DeptOperations = "operations"
	DeptSupport    = "support"
	DeptAudit      = "audit"
)

// Audit entity types.
const (
	EntityUser        = "USER"
	EntityEmployee    = "EMPLOYEE"
	EntityAccount     = "ACCOUNT"
	EntityTransaction = "TRANSACTION"
)

// Audit action types.
const (
	ActionCreate       = "CREATE"
	ActionUpdate       = "UPDATE"
	ActionStatusChange = "STATUS_CHANGE"
)

// Risk verdicts.
const (
	VerdictSafe       = "SAFE"
	VerdictSuspicious = "SUSPICIOUS"
	VerdictCritical   = "CRITICAL"
)

// ValidAccountType reports whether t is a supported account type.
func ValidAccountType(t string) bool {
	switch t {
	case AccountTypeSavings, AccountTypeChecking, AccountTypeWallet, AccountTypeLoan:
		return true
	}
	return false
}

// ValidKYCStatus reports whether s is a supported KYC status.
func ValidKYCStatus(s string) bool {
	switch s {
	case KYCPending, KYCVerified, KYCRejected:
		return true
	}
	return false
}

// ValidDepartment reports whether d is a supported department.
func ValidDepartment(d string) bool {
	switch d {
	case DeptAdmin, DeptOperations, DeptSupport, DeptAudit:
		return true
	}
	return false
}

// User is a customer identity. Password hashes never leave the API.
type User struct {
	UserID       int64      `gorm:"primaryKey" json:"user_id"`
	Username     string     `gorm:"size:50;not null;uniqueIndex" json:"username"`
	PasswordHash string     `gorm:"size:100;not null" json:"-"`
	Email        string     `gorm:"size:100;not null;uniqueIndex" json:"email"`
	PhoneNumber  *string    `gorm:"size:20;uniqueIndex" json:"phone_number,omitempty"`
	FullName     string     `gorm:"size:100;not null" json:"full_name"`
	DateOfBirth  *time.Time `gorm:"type:date" json:"date_of_birth,omitempty"`
	KYCStatus    string     `gorm:"column:kyc_status;size:10;not null;default:pending" json:"kyc_status"`
	Role         string     `gorm:"size:10;not null;default:customer" json:"role"`
	IsActive     bool       `gorm:"not null;default:true" json:"is_active"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Employee is a back-office principal. IDs are assigned strings like "EMP001".
type Employee struct {
	EmployeeID   string    `gorm:"primaryKey;size:20" json:"employee_id"`
	PasswordHash string    `gorm:"size:100;not null" json:"-"`
	FullName     string    `gorm:"size:100;not null" json:"full_name"`
	Email        string    `gorm:"size:100;not null;uniqueIndex" json:"email"`
	Department   string    `gorm:"size:20;not null" json:"department"`
	IsActive     bool      `gorm:"not null;default:true" json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
}

// Account carries the denormalized current balance; transaction entries are
// the source of truth and the two must always agree.
type Account struct {
	AccountID      int64           `gorm:"primaryKey" json:"account_id"`
	UserID         int64           `gorm:"not null;index" json:"user_id"`
	AccountNumber  string          `gorm:"size:20;not null;uniqueIndex" json:"account_number"`
	AccountType    string          `gorm:"size:10;not null" json:"account_type"`
	Currency       string          `gorm:"size:3;not null;default:USD" json:"currency"`
	CurrentBalance decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"current_balance"`
	Status         string          `gorm:"size:10;not null;default:active" json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// TransactionType is a seeded lookup row (DEPOSIT, TRANSFER, ...).
type TransactionType struct {
	TypeID            int32  `gorm:"primaryKey" json:"type_id"`
	TypeCode          string `gorm:"size:20;not null;uniqueIndex" json:"type_code"`
	Description       string `gorm:"size:100" json:"description"`
	IsSystemGenerated bool   `gorm:"not null;default:false" json:"is_system_generated"`
}

// Transaction is the header row of a ledger movement. Money amounts live in
// the entries, never here.
type Transaction struct {
	TransactionID           int64      `gorm:"primaryKey" json:"transaction_id"`
	ReferenceID             string     `gorm:"size:50;not null;uniqueIndex" json:"reference_id"`
	TypeID                  int32      `gorm:"not null;index" json:"type_id"`
	Description             string     `gorm:"size:255" json:"description,omitempty"`
	InitiatedByUserID       *int64     `gorm:"index" json:"initiated_by_user_id,omitempty"`
	Status                  string     `gorm:"size:10;not null;default:pending" json:"status"`
	ReversalOfTransactionID *int64     `json:"reversal_of_transaction_id,omitempty"`
	CreatedAt               time.Time  `gorm:"index" json:"created_at"`
	CompletedAt             *time.Time `json:"completed_at,omitempty"`
}

// TransactionEntry is one signed leg of a transaction. Negative amounts are
// debits, positive amounts are credits; a transfer's legs sum to zero.
// BalanceAfter snapshots the account balance after this leg was applied.
type TransactionEntry struct {
	EntryID       int64           `gorm:"primaryKey" json:"entry_id"`
	TransactionID int64           `gorm:"not null;index" json:"transaction_id"`
	AccountID     int64           `gorm:"not null;index:idx_entries_account_created,priority:1" json:"account_id"`
	Amount        decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"amount"`
	BalanceAfter  decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"balance_after"`
	CreatedAt     time.Time       `gorm:"index:idx_entries_account_created,priority:2" json:"created_at"`
}

// AuditLog records who changed what. Snapshots are stored as JSON so the
// trail survives schema drift in the entities it describes.
type AuditLog struct {
	LogID       int64           `gorm:"primaryKey" json:"log_id"`
	EntityType  string          `gorm:"size:50;not null;index:idx_audit_entity,priority:1" json:"entity_type"`
	EntityID    string          `gorm:"size:50;not null;index:idx_audit_entity,priority:2" json:"entity_id"`
	ActionType  string          `gorm:"size:20;not null" json:"action_type"`
	OldValue    json.RawMessage `gorm:"type:jsonb" json:"old_value,omitempty"`
	NewValue    json.RawMessage `gorm:"type:jsonb" json:"new_value,omitempty"`
	PerformedBy *string         `gorm:"size:50" json:"performed_by,omitempty"`
	IPAddress   *string         `gorm:"size:45" json:"ip_address,omitempty"`
	CreatedAt   time.Time       `gorm:"index" json:"created_at"`
}

func (AuditLog) TableName() string { return "system_audit_logs" }

// RiskScore is the scoring worker's verdict for one transaction.
type RiskScore struct {
	ScoreID       int64           `gorm:"primaryKey" json:"score_id"`
	TransactionID int64           `gorm:"not null;uniqueIndex" json:"transaction_id"`
	RiskScore     decimal.Decimal `gorm:"type:decimal(5,4);not null" json:"risk_score"`
	Verdict       string          `gorm:"size:10;not null" json:"verdict"`
	FeaturesUsed  json.RawMessage `gorm:"type:jsonb" json:"features_used,omitempty"`
	ModelVersion  string          `gorm:"size:20;not null" json:"model_version"`
	ScoredAt      time.Time       `gorm:"autoCreateTime" json:"scored_at"`
}

func (RiskScore) TableName() string { return "transaction_risk_scores" }

// Claims is the JWT payload. Customer tokens set UserID/Username, employee
// tokens set EmployeeID/Department; Role tells the two apart.
type Claims struct {
	UserID     int64  `json:"user_id,omitempty"`
	Username   string `json:"username,omitempty"`
	Role       string `json:"role"`
	EmployeeID string `json:"employee_id,omitempty"`
	Department string `json:"department,omitempty"`
	jwt.RegisteredClaims
}

// IsEmployee reports whether the token belongs to a back-office principal.
func (c *Claims) IsEmployee() bool { return c.EmployeeID != "" }

// Principal returns the audit identity: the employee ID for back-office
// tokens, otherwise "user:<id>".
func (c *Claims) Principal() string {
	if c.IsEmployee() {
		return c.EmployeeID
	}
	return "user:" + strconv.FormatInt(c.UserID, 10)
}
