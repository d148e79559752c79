// Path: internal/services/admin_service.go
package services

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/punit745/Core-Banking-Ledger/internal/audit"
	"github.com/punit745/Core-Banking-Ledger/internal/ledger"
	"github.com/punit745/Core-Banking-Ledger/internal/models"
)

// Listing page bounds, shared by the admin list endpoints.
const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// UserFilter narrows ListUsers. Zero values mean "any".
type UserFilter struct {
	Search    string
	KYCStatus string
	Role      string
	Limit     int
	Offset    int
}

// AccountFilter narrows ListAccounts. Zero values mean "any".
type AccountFilter struct {
	UserID      int64
	Status      string
	AccountType string
	Limit       int
	Offset      int
}

// AuditFilter narrows AuditTrail. Zero values mean "any".
type AuditFilter struct {
	EntityType string
	EntityID   string
	Limit      int
	Offset     int
}

// CreateEmployeeParams carries a new back-office employee.
type CreateEmployeeParams struct {
	EmployeeID string `json:"employee_id"`
	FullName   string `json:"full_name"`
	Email      string `json:"email"`
	Password   string `json:"password"`
	Department string `json:"department"`
}

// UserDetail is one user with all of their accounts.
type UserDetail struct {
	User     models.User      `json:"user"`
	Accounts []models.Account `json:"accounts"`
}

// CurrencyTotal is a per-currency balance sum.
type CurrencyTotal struct {
	Currency string          `json:"currency"`
	Total    decimal.Decimal `json:"total"`
}

// DashboardStats is the back-office KPI snapshot.
type DashboardStats struct {
	TotalUsers          int64           `json:"total_users"`
	ActiveUsers         int64           `json:"active_users"`
	PendingKYC          int64           `json:"pending_kyc"`
	TotalAccounts       int64           `json:"total_accounts"`
	ActiveAccounts      int64           `json:"active_accounts"`
	FrozenAccounts      int64           `json:"frozen_accounts"`
	TransactionsLast24h int64           `json:"transactions_last_24h"`
	FlaggedTransactions int64           `json:"flagged_transactions"`
	SystemBalance       []CurrencyTotal `json:"system_balance"`
}

// AdminService handles the back-office operations: KYC, user activation,
// employee management, listings and the dashboard. Account freezes and
// transaction reversals live in the ledger engine, not here.
type AdminService interface {
	SetKYCStatus(userID int64, status, performedBy string) (*models.User, error)
	SetUserActive(userID int64, active bool, performedBy string) (*models.User, error)
	CreateEmployee(p CreateEmployeeParams, performedBy string) (*models.Employee, error)
	ListUsers(f UserFilter) ([]models.User, error)
	GetUserDetail(userID int64) (*UserDetail, error)
	ListAccounts(f AccountFilter) ([]models.Account, error)
	AuditTrail(f AuditFilter) ([]models.AuditLog, error)
	Dashboard() (*DashboardStats, error)
}

type adminService struct {
	db *gorm.DB
}

// NewAdminService creates a new AdminService.
func NewAdminService(db *gorm.DB) AdminService {
	return &adminService{db: db}
}

// SetKYCStatus moves a user's KYC status and audits the change. Setting
// the status it already has is a no-op.
func (s *adminService) SetKYCStatus(userID int64, status, performedBy string) (*models.User, error) {
	if !models.ValidKYCStatus(status) {
		return nil, &ledger.AppError{Kind: ledger.KindInvalidInput, Message: "Invalid KYC status", Details: fmt.Sprintf("kyc_status: %s", status)}
	}

	var user models.User
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&user, userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return &ledger.AppError{Kind: ledger.KindNotFound, Message: "User not found", Details: fmt.Sprintf("user_id: %d", userID)}
			}
			return &ledger.AppError{Kind: ledger.KindInternal, Message: "Failed to query user", Details: err.Error(), Err: err}
		}
		if user.KYCStatus == status {
			return nil
		}

		old := user.KYCStatus
		if err := tx.Model(&user).Update("kyc_status", status).Error; err != nil {
			return &ledger.AppError{Kind: ledger.KindInternal, Message: "Failed to update KYC status", Details: err.Error(), Err: err}
		}

		return audit.RecordDB(tx, audit.Entry{
			EntityType:  models.EntityUser,
			EntityID:    strconv.FormatInt(userID, 10),
			ActionType:  models.ActionStatusChange,
			Old:         map[string]any{"kyc_status": old},
			New:         map[string]any{"kyc_status": status},
			PerformedBy: performedBy,
		})
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// SetUserActive toggles a user's active flag and audits the change.
// Deactivated users cannot log in; their accounts keep their balances.
func (s *adminService) SetUserActive(userID int64, active bool, performedBy string) (*models.User, error) {
	var user models.User
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&user, userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return &ledger.AppError{Kind: ledger.KindNotFound, Message: "User not found", Details: fmt.Sprintf("user_id: %d", userID)}
			}
			return &ledger.AppError{Kind: ledger.KindInternal, Message: "Failed to query user", Details: err.Error(), Err: err}
		}
		if user.IsActive == active {
			return nil
		}

		if err := tx.Model(&user).Update("is_active", active).Error; err != nil {
			return &ledger.AppError{Kind: ledger.KindInternal, Message: "Failed to update user", Details: err.Error(), Err: err}
		}

		return audit.RecordDB(tx, audit.Entry{
			EntityType:  models.EntityUser,
			EntityID:    strconv.FormatInt(userID, 10),
			ActionType:  models.ActionStatusChange,
			Old:         map[string]any{"is_active": !active},
			New:         map[string]any{"is_active": active},
			PerformedBy: performedBy,
		})
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// CreateEmployee registers a new back-office employee.
func (s *adminService) CreateEmployee(p CreateEmployeeParams, performedBy string) (*models.Employee, error) {
	if p.EmployeeID == "" || len(p.EmployeeID) > 20 {
		return nil, &ledger.AppError{Kind: ledger.KindInvalidInput, Message: "Employee id must be 1 to 20 characters", Details: fmt.Sprintf("employee_id: %s", p.EmployeeID)}
	}
	if !models.ValidDepartment(p.Department) {
		return nil, &ledger.AppError{Kind: ledger.KindInvalidInput, Message: "Invalid department", Details: fmt.Sprintf("department: %s", p.Department)}
	}
	if len(p.Password) < 8 {
		return nil, &ledger.AppError{Kind: ledger.KindInvalidInput, Message: "Password must be at least 8 characters"}
	}
	if !strings.Contains(p.Email, "@") || len(p.Email) > 100 {
		return nil, &ledger.AppError{Kind: ledger.KindInvalidInput, Message: "Invalid email address", Details: fmt.Sprintf("email: %s", p.Email)}
	}
	if p.FullName == "" {
		return nil, &ledger.AppError{Kind: ledger.KindInvalidInput, Message: "Full name is required"}
	}

	var emp models.Employee
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Employee{}).Where("employee_id = ?", p.EmployeeID).Count(&count).Error; err != nil {
			return &ledger.AppError{Kind: ledger.KindInternal, Message: "Failed to check employee id", Details: err.Error(), Err: err}
		}
		if count > 0 {
			return &ledger.AppError{Kind: ledger.KindConflict, Message: "Employee id already taken", Details: fmt.Sprintf("employee_id: %s", p.EmployeeID)}
		}
		if err := tx.Model(&models.Employee{}).Where("email = ?", p.Email).Count(&count).Error; err != nil {
			return &ledger.AppError{Kind: ledger.KindInternal, Message: "Failed to check email", Details: err.Error(), Err: err}
		}
		if count > 0 {
			return &ledger.AppError{Kind: ledger.KindConflict, Message: "Email already registered", Details: fmt.Sprintf("email: %s", p.Email)}
		}

		hashed, err := bcrypt.GenerateFromPassword([]byte(p.Password), bcrypt.DefaultCost)
		if err != nil {
			return &ledger.AppError{Kind: ledger.KindInternal, Message: "Failed to hash password", Details: err.Error(), Err: err}
		}

		emp = models.Employee{
			EmployeeID:   p.EmployeeID,
			PasswordHash: string(hashed),
			FullName:     p.FullName,
			Email:        p.Email,
			Department:   p.Department,
			IsActive:     true,
		}
		if err := tx.Create(&emp).Error; err != nil {
			return &ledger.AppError{Kind: ledger.KindInternal, Message: "Failed to insert employee", Details: err.Error(), Err: err}
		}

		return audit.RecordDB(tx, audit.Entry{
			EntityType: models.EntityEmployee,
			EntityID:   emp.EmployeeID,
			ActionType: models.ActionCreate,
			New: map[string]any{
				"employee_id": emp.EmployeeID,
				"email":       emp.Email,
				"department":  emp.Department,
			},
			PerformedBy: performedBy,
		})
	})
	if err != nil {
		return nil, err
	}
	return &emp, nil
}

// ListUsers lists users matching the filter, oldest first.
func (s *adminService) ListUsers(f UserFilter) ([]models.User, error) {
	q := s.db.Model(&models.User{})
	if f.Search != "" {
		like := "%" + f.Search + "%"
		q = q.Where("username ILIKE ? OR email ILIKE ? OR full_name ILIKE ?", like, like, like)
	}
	if f.KYCStatus != "" {
		q = q.Where("kyc_status = ?", f.KYCStatus)
	}
	if f.Role != "" {
		q = q.Where("role = ?", f.Role)
	}

	users := []models.User{}
	err := q.Order("user_id").Limit(clampListLimit(f.Limit)).Offset(f.Offset).Find(&users).Error
	if err != nil {
		return nil, &ledger.AppError{Kind: ledger.KindInternal, Message: "Failed to query users", Details: err.Error(), Err: err}
	}
	return users, nil
}

// GetUserDetail loads one user with all of their accounts.
func (s *adminService) GetUserDetail(userID int64) (*UserDetail, error) {
	var user models.User
	err := s.db.First(&user, userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &ledger.AppError{Kind: ledger.KindNotFound, Message: "User not found", Details: fmt.Sprintf("user_id: %d", userID)}
		}
		return nil, &ledger.AppError{Kind: ledger.KindInternal, Message: "Failed to query user", Details: err.Error(), Err: err}
	}

	accounts := []models.Account{}
	if err := s.db.Where("user_id = ?", userID).Order("account_id").Find(&accounts).Error; err != nil {
		return nil, &ledger.AppError{Kind: ledger.KindInternal, Message: "Failed to query accounts", Details: err.Error(), Err: err}
	}

	return &UserDetail{User: user, Accounts: accounts}, nil
}

// ListAccounts lists accounts matching the filter, oldest first.
func (s *adminService) ListAccounts(f AccountFilter) ([]models.Account, error) {
	q := s.db.Model(&models.Account{})
	if f.UserID != 0 {
		q = q.Where("user_id = ?", f.UserID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.AccountType != "" {
		q = q.Where("account_type = ?", f.AccountType)
	}

	accounts := []models.Account{}
	err := q.Order("account_id").Limit(clampListLimit(f.Limit)).Offset(f.Offset).Find(&accounts).Error
	if err != nil {
		return nil, &ledger.AppError{Kind: ledger.KindInternal, Message: "Failed to query accounts", Details: err.Error(), Err: err}
	}
	return accounts, nil
}

// AuditTrail lists audit rows matching the filter, newest first.
func (s *adminService) AuditTrail(f AuditFilter) ([]models.AuditLog, error) {
	q := s.db.Model(&models.AuditLog{})
	if f.EntityType != "" {
		q = q.Where("entity_type = ?", f.EntityType)
	}
	if f.EntityID != "" {
		q = q.Where("entity_id = ?", f.EntityID)
	}

	logs := []models.AuditLog{}
	err := q.Order("log_id DESC").Limit(clampListLimit(f.Limit)).Offset(f.Offset).Find(&logs).Error
	if err != nil {
		return nil, &ledger.AppError{Kind: ledger.KindInternal, Message: "Failed to query audit logs", Details: err.Error(), Err: err}
	}
	return logs, nil
}

// Dashboard collects the back-office KPI counters in one pass.
func (s *adminService) Dashboard() (*DashboardStats, error) {
	stats := &DashboardStats{}

	counts := []struct {
		dest  *int64
		query *gorm.DB
	}{
		{&stats.TotalUsers, s.db.Model(&models.User{})},
		{&stats.ActiveUsers, s.db.Model(&models.User{}).Where("is_active = ?", true)},
		{&stats.PendingKYC, s.db.Model(&models.User{}).Where("kyc_status = ?", models.KYCPending)},
		{&stats.TotalAccounts, s.db.Model(&models.Account{})},
		{&stats.ActiveAccounts, s.db.Model(&models.Account{}).Where("status = ?", models.AccountStatusActive)},
		{&stats.FrozenAccounts, s.db.Model(&models.Account{}).Where("status = ?", models.AccountStatusFrozen)},
		{&stats.TransactionsLast24h, s.db.Model(&models.Transaction{}).Where("created_at >= ?", time.Now().Add(-24*time.Hour))},
		{&stats.FlaggedTransactions, s.db.Model(&models.RiskScore{}).Where("verdict IN ?", []string{models.VerdictSuspicious, models.VerdictCritical})},
	}
	for _, c := range counts {
		if err := c.query.Count(c.dest).Error; err != nil {
			return nil, &ledger.AppError{Kind: ledger.KindInternal, Message: "Failed to count dashboard stats", Details: err.Error(), Err: err}
		}
	}

	stats.SystemBalance = []CurrencyTotal{}
	err := s.db.Raw(`
        SELECT currency, COALESCE(SUM(current_balance), 0) AS total
        FROM accounts
        WHERE status <> ?
        GROUP BY currency
        ORDER BY currency`, models.AccountStatusClosed).Scan(&stats.SystemBalance).Error
	if err != nil {
		return nil, &ledger.AppError{Kind: ledger.KindInternal, Message: "Failed to sum balances", Details: err.Error(), Err: err}
	}

	return stats, nil
}

func clampListLimit(n int) int {
	if n <= 0 {
		return defaultListLimit
	}
	if n > maxListLimit {
		return maxListLimit
	}
	return n
}
