// Path: internal/handlers/admin_handlers.go
package handlers

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/punit745/Core-Banking-Ledger/internal/ledger"
	"github.com/punit745/Core-Banking-Ledger/internal/services"
)

type kycRequest struct {
	KYCStatus string `json:"kyc_status"`
}

type activeRequest struct {
	IsActive *bool `json:"is_active"`
}

type adminCreateAccountRequest struct {
	UserID      int64  `json:"user_id"`
	AccountType string `json:"account_type"`
	Currency    string `json:"currency"`
}

type statusReasonRequest struct {
	Reason string `json:"reason"`
}

type reverseRequest struct {
	Description string `json:"description"`
}

type postMovementRequest struct {
	Type        string          `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	ReferenceID string          `json:"reference_id"`
	Description string          `json:"description"`
}

// GetDashboard returns the back-office KPI snapshot.
func (h *Handler) GetDashboard(c *fiber.Ctx) error {
	stats, err := h.adminService.Dashboard()
	if err != nil {
		return err
	}
	return c.JSON(stats)
}

// ListUsers lists users with optional search and status filters.
func (h *Handler) ListUsers(c *fiber.Ctx) error {
	users, err := h.adminService.ListUsers(services.UserFilter{
		Search:    c.Query("search"),
		KYCStatus: c.Query("kyc_status"),
		Role:      c.Query("role"),
		Limit:     c.QueryInt("limit", 0),
		Offset:    c.QueryInt("offset", 0),
	})
	if err != nil {
		return err
	}
	return c.JSON(users)
}

// GetUser returns one user with all of their accounts.
func (h *Handler) GetUser(c *fiber.Ctx) error {
	userID, err := paramID(c, "id")
	if err != nil {
		return err
	}

	detail, err := h.adminService.GetUserDetail(userID)
	if err != nil {
		return err
	}
	return c.JSON(detail)
}

// SetKYCStatus moves a user's KYC status.
func (h *Handler) SetKYCStatus(c *fiber.Ctx) error {
	claims, err := claimsFromCtx(c)
	if err != nil {
		return err
	}
	userID, err := paramID(c, "id")
	if err != nil {
		return err
	}

	var req kycRequest
	if err := c.BodyParser(&req); err != nil {
		return &ledger.AppError{Kind: ledger.KindInvalidInput, Message: "Invalid request format", Details: err.Error(), Err: err}
	}

	user, err := h.adminService.SetKYCStatus(userID, req.KYCStatus, claims.Principal())
	if err != nil {
		return err
	}
	return c.JSON(user)
}

// SetUserActive toggles a user's active flag.
func (h *Handler) SetUserActive(c *fiber.Ctx) error {
	claims, err := claimsFromCtx(c)
	if err != nil {
		return err
	}
	userID, err := paramID(c, "id")
	if err != nil {
		return err
	}

	var req activeRequest
	if err := c.BodyParser(&req); err != nil {
		return &ledger.AppError{Kind: ledger.KindInvalidInput, Message: "Invalid request format", Details: err.Error(), Err: err}
	}
	if req.IsActive == nil {
		return &ledger.AppError{Kind: ledger.KindInvalidInput, Message: "is_active is required"}
	}

	user, err := h.adminService.SetUserActive(userID, *req.IsActive, claims.Principal())
	if err != nil {
		return err
	}
	return c.JSON(user)
}

// CreateEmployee registers a new back-office employee.
func (h *Handler) CreateEmployee(c *fiber.Ctx) error {
	claims, err := claimsFromCtx(c)
	if err != nil {
		return err
	}

	var req services.CreateEmployeeParams
	if err := c.BodyParser(&req); err != nil {
		return &ledger.AppError{Kind: ledger.KindInvalidInput, Message: "Invalid request format", Details: err.Error(), Err: err}
	}

	emp, err := h.adminService.CreateEmployee(req, claims.Principal())
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(emp)
}

// ListAccounts lists accounts with optional filters.
func (h *Handler) ListAccounts(c *fiber.Ctx) error {
	accounts, err := h.adminService.ListAccounts(services.AccountFilter{
		UserID:      int64(c.QueryInt("user_id", 0)),
		Status:      c.Query("status"),
		AccountType: c.Query("type"),
		Limit:       c.QueryInt("limit", 0),
		Offset:      c.QueryInt("offset", 0),
	})
	if err != nil {
		return err
	}
	return c.JSON(accounts)
}

// AdminCreateAccount opens an account on a customer's behalf.
func (h *Handler) AdminCreateAccount(c *fiber.Ctx) error {
	claims, err := claimsFromCtx(c)
	if err != nil {
		return err
	}

	var req adminCreateAccountRequest
	if err := c.BodyParser(&req); err != nil {
		return &ledger.AppError{Kind: ledger.KindInvalidInput, Message: "Invalid request format", Details: err.Error(), Err: err}
	}
	if req.UserID <= 0 {
		return &ledger.AppError{Kind: ledger.KindInvalidInput, Message: "user_id is required", Details: fmt.Sprintf("user_id: %d", req.UserID)}
	}

	account, err := h.engine.CreateAccount(c.Context(), ledger.CreateAccountParams{
		UserID:      req.UserID,
		AccountType: req.AccountType,
		Currency:    req.Currency,
		PerformedBy: claims.Principal(),
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(account)
}

// PostMovement writes a manual single-entry posting (payment, interest,
// fee, or a correcting deposit/withdrawal) against any account.
func (h *Handler) PostMovement(c *fiber.Ctx) error {
	accountID, err := paramID(c, "id")
	if err != nil {
		return err
	}

	var req postMovementRequest
	if err := c.BodyParser(&req); err != nil {
		return &ledger.AppError{Kind: ledger.KindInvalidInput, Message: "Invalid request format", Details: err.Error(), Err: err}
	}

	res, err := h.engine.Post(c.Context(), ledger.MovementParams{
		AccountID:   accountID,
		Amount:      req.Amount,
		ReferenceID: req.ReferenceID,
		Description: req.Description,
	}, req.Type)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(res)
}

// FreezeAccount blocks all movement on an account.
func (h *Handler) FreezeAccount(c *fiber.Ctx) error {
	return h.setAccountStatus(c, h.engine.FreezeAccount)
}

// UnfreezeAccount lifts a freeze.
func (h *Handler) UnfreezeAccount(c *fiber.Ctx) error {
	return h.setAccountStatus(c, h.engine.UnfreezeAccount)
}

// CloseAccount closes an account; the balance must be zero.
func (h *Handler) CloseAccount(c *fiber.Ctx) error {
	return h.setAccountStatus(c, h.engine.CloseAccount)
}

// ReverseTransaction posts a compensating transaction for a completed one.
func (h *Handler) ReverseTransaction(c *fiber.Ctx) error {
	claims, err := claimsFromCtx(c)
	if err != nil {
		return err
	}
	txnID, err := paramID(c, "id")
	if err != nil {
		return err
	}

	var req reverseRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return &ledger.AppError{Kind: ledger.KindInvalidInput, Message: "Invalid request format", Details: err.Error(), Err: err}
		}
	}

	result, err := h.engine.Reverse(c.Context(), ledger.ReverseParams{
		TransactionID: txnID,
		Description:   req.Description,
		PerformedBy:   claims.Principal(),
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(result)
}

// GetAuditLogs lists audit rows, newest first.
func (h *Handler) GetAuditLogs(c *fiber.Ctx) error {
	logs, err := h.adminService.AuditTrail(services.AuditFilter{
		EntityType: c.Query("entity_type"),
		EntityID:   c.Query("entity_id"),
		Limit:      c.QueryInt("limit", 0),
		Offset:     c.QueryInt("offset", 0),
	})
	if err != nil {
		return err
	}
	return c.JSON(logs)
}

// GetBalanceSheet returns the per-currency liability totals.
func (h *Handler) GetBalanceSheet(c *fiber.Ctx) error {
	sheet, err := h.views.BalanceSheet(c.Context())
	if err != nil {
		return err
	}
	return c.JSON(sheet)
}

// GetLedgerIntegrity returns transactions whose entries do not add up.
// An empty list means the ledger is sound.
func (h *Handler) GetLedgerIntegrity(c *fiber.Ctx) error {
	broken, err := h.views.LedgerIntegrity(c.Context())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"healthy": len(broken) == 0,
		"broken":  broken,
	})
}

// GetFlaggedTransactions lists transactions the scoring worker flagged.
func (h *Handler) GetFlaggedTransactions(c *fiber.Ctx) error {
	flagged, err := h.views.FlaggedTransactions(c.Context(), c.QueryInt("limit", 0))
	if err != nil {
		return err
	}
	return c.JSON(flagged)
}

// GetCustomerStatement returns the statement view for one account number.
func (h *Handler) GetCustomerStatement(c *fiber.Ctx) error {
	accountNumber := c.Params("accountNumber")
	if accountNumber == "" {
		return &ledger.AppError{Kind: ledger.KindInvalidInput, Message: "Account number is required"}
	}

	from, err := queryTime(c, "from")
	if err != nil {
		return err
	}
	to, err := queryTime(c, "to")
	if err != nil {
		return err
	}

	statement, err := h.views.CustomerStatement(c.Context(), accountNumber, from, to, c.QueryInt("limit", 0))
	if err != nil {
		return err
	}
	return c.JSON(statement)
}

func (h *Handler) setAccountStatus(c *fiber.Ctx, op func(ctx context.Context, p ledger.StatusParams) (*ledger.AccountSummary, error)) error {
	claims, err := claimsFromCtx(c)
	if err != nil {
		return err
	}
	accountID, err := paramID(c, "id")
	if err != nil {
		return err
	}

	var req statusReasonRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return &ledger.AppError{Kind: ledger.KindInvalidInput, Message: "Invalid request format", Details: err.Error(), Err: err}
		}
	}

	account, err := op(c.Context(), ledger.StatusParams{
		AccountID:   accountID,
		PerformedBy: claims.Principal(),
		Reason:      req.Reason,
	})
	if err != nil {
		return err
	}
	return c.JSON(account)
}
