// Path: internal/handlers/handlers.go
package handlers

import (
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/punit745/Core-Banking-Ledger/internal/ledger"
	"github.com/punit745/Core-Banking-Ledger/internal/models"
	"github.com/punit745/Core-Banking-Ledger/internal/services"
	"github.com/punit745/Core-Banking-Ledger/internal/views"
)

// Handler glues the HTTP surface to the services and the ledger engine.
// Handlers parse, authorize and render; the business rules live below.
type Handler struct {
	authService  services.AuthService
	adminService services.AdminService
	engine       *ledger.Engine
	views        *views.Store
}

// NewHandler creates a new Handler.
func NewHandler(as services.AuthService, ads services.AdminService, engine *ledger.Engine, store *views.Store) *Handler {
	return &Handler{
		authService:  as,
		adminService: ads,
		engine:       engine,
		views:        store,
	}
}

// ErrorHandler translates errors into JSON responses. Typed errors keep
// their kind and mapped status; everything else becomes a 500.
func (h *Handler) ErrorHandler(c *fiber.Ctx, err error) error {
	log.Printf("Error: %v", err)

	code := fiber.StatusInternalServerError
	message := "Internal Server Error"
	details := ""
	kind := ledger.KindInternal

	var appErr *ledger.AppError
	if errors.As(err, &appErr) {
		code = appErr.Kind.HTTPStatus()
		message = appErr.Message
		details = appErr.Details
		kind = appErr.Kind
	} else if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	} else {
		details = err.Error()
	}

	return c.Status(code).JSON(fiber.Map{
		"error":   message,
		"kind":    kind,
		"details": details,
	})
}

// AuthMiddleware validates the bearer token and stores the claims on the
// request context.
func (h *Handler) AuthMiddleware(c *fiber.Ctx) error {
	if c.Method() == "OPTIONS" {
		return c.Next()
	}

	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return &ledger.AppError{Kind: ledger.KindUnauthorized, Message: "Missing token", Details: "Authorization header is empty"}
	}

	var token string
	if _, err := fmt.Sscanf(authHeader, "Bearer %s", &token); err != nil {
		return &ledger.AppError{Kind: ledger.KindUnauthorized, Message: "Invalid token format", Details: err.Error()}
	}

	claims, err := h.authService.ValidateToken(token)
	if err != nil {
		return err
	}

	c.Locals("user", claims)
	return c.Next()
}

// EmployeeRequired gates a route to back-office tokens.
func (h *Handler) EmployeeRequired(c *fiber.Ctx) error {
	claims, err := claimsFromCtx(c)
	if err != nil {
		return err
	}
	if !claims.IsEmployee() {
		return &ledger.AppError{Kind: ledger.KindForbidden, Message: "Employee access required"}
	}
	return c.Next()
}

// RequireDepartment gates a route to specific back-office departments.
func (h *Handler) RequireDepartment(departments ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims, err := claimsFromCtx(c)
		if err != nil {
			return err
		}
		if !claims.IsEmployee() {
			return &ledger.AppError{Kind: ledger.KindForbidden, Message: "Employee access required"}
		}
		for _, d := range departments {
			if claims.Department == d {
				return c.Next()
			}
		}
		return &ledger.AppError{Kind: ledger.KindForbidden, Message: "Department not allowed", Details: fmt.Sprintf("department: %s", claims.Department)}
	}
}

// Health is the liveness endpoint.
func (h *Handler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok", "time": time.Now().UTC()})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type employeeLoginRequest struct {
	EmployeeID string `json:"employee_id"`
	Password   string `json:"password"`
}

type registerRequest struct {
	Username    string  `json:"username"`
	Email       string  `json:"email"`
	Password    string  `json:"password"`
	FullName    string  `json:"full_name"`
	PhoneNumber *string `json:"phone_number"`
	DateOfBirth string  `json:"date_of_birth"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type createAccountRequest struct {
	AccountType string `json:"account_type"`
	Currency    string `json:"currency"`
}

type transferRequest struct {
	FromAccountID int64           `json:"from_account_id"`
	ToAccountID   int64           `json:"to_account_id"`
	Amount        decimal.Decimal `json:"amount"`
	ReferenceID   string          `json:"reference_id"`
	Description   string          `json:"description"`
}

type movementRequest struct {
	AccountID   int64           `json:"account_id"`
	Amount      decimal.Decimal `json:"amount"`
	ReferenceID string          `json:"reference_id"`
	Description string          `json:"description"`
}

// Register creates a customer and logs them straight in.
func (h *Handler) Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return &ledger.AppError{Kind: ledger.KindInvalidInput, Message: "Invalid request format", Details: err.Error(), Err: err}
	}

	dob, err := parseDate(req.DateOfBirth)
	if err != nil {
		return err
	}

	user, err := h.authService.Register(services.RegisterParams{
		Username:    req.Username,
		Email:       req.Email,
		Password:    req.Password,
		FullName:    req.FullName,
		PhoneNumber: req.PhoneNumber,
		DateOfBirth: dob,
	})
	if err != nil {
		return err
	}

	token, _, err := h.authService.Login(req.Username, req.Password)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "Registration successful",
		"token":   token,
		"user":    user,
	})
}

// Login authenticates a customer.
func (h *Handler) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return &ledger.AppError{Kind: ledger.KindInvalidInput, Message: "Invalid request format", Details: err.Error(), Err: err}
	}

	token, user, err := h.authService.Login(req.Username, req.Password)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{"token": token, "user": user})
}

// EmployeeLogin authenticates a back-office employee.
func (h *Handler) EmployeeLogin(c *fiber.Ctx) error {
	var req employeeLoginRequest
	if err := c.BodyParser(&req); err != nil {
		return &ledger.AppError{Kind: ledger.KindInvalidInput, Message: "Invalid request format", Details: err.Error(), Err: err}
	}

	token, emp, err := h.authService.EmployeeLogin(req.EmployeeID, req.Password)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{"token": token, "employee": emp})
}

// GetProfile returns the calling customer's profile.
func (h *Handler) GetProfile(c *fiber.Ctx) error {
	claims, err := claimsFromCtx(c)
	if err != nil {
		return err
	}

	user, err := h.authService.Profile(claims.UserID)
	if err != nil {
		return err
	}
	return c.JSON(user)
}

// UpdateProfile applies profile changes for the calling customer.
func (h *Handler) UpdateProfile(c *fiber.Ctx) error {
	claims, err := claimsFromCtx(c)
	if err != nil {
		return err
	}

	var req services.UpdateProfileParams
	if err := c.BodyParser(&req); err != nil {
		return &ledger.AppError{Kind: ledger.KindInvalidInput, Message: "Invalid request format", Details: err.Error(), Err: err}
	}

	user, err := h.authService.UpdateProfile(claims.UserID, req)
	if err != nil {
		return err
	}
	return c.JSON(user)
}

// ChangePassword rotates the calling customer's password.
func (h *Handler) ChangePassword(c *fiber.Ctx) error {
	claims, err := claimsFromCtx(c)
	if err != nil {
		return err
	}

	var req changePasswordRequest
	if err := c.BodyParser(&req); err != nil {
		return &ledger.AppError{Kind: ledger.KindInvalidInput, Message: "Invalid request format", Details: err.Error(), Err: err}
	}

	if err := h.authService.ChangePassword(claims.UserID, req.CurrentPassword, req.NewPassword); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"message": "Password changed"})
}

// GetMyRiskScores lists the scoring verdicts on the caller's transactions.
func (h *Handler) GetMyRiskScores(c *fiber.Ctx) error {
	claims, err := claimsFromCtx(c)
	if err != nil {
		return err
	}

	scores, err := h.views.UserRiskScores(c.Context(), claims.UserID, c.QueryInt("limit", 0))
	if err != nil {
		return err
	}
	return c.JSON(scores)
}

// GetSpendingForecast projects the caller's next-month outgoing from
// their monthly spending history.
func (h *Handler) GetSpendingForecast(c *fiber.Ctx) error {
	claims, err := claimsFromCtx(c)
	if err != nil {
		return err
	}

	forecast, err := h.views.SpendingForecast(c.Context(), claims.UserID)
	if err != nil {
		return err
	}
	return c.JSON(forecast)
}

// CreateAccount opens a new account for the calling customer.
func (h *Handler) CreateAccount(c *fiber.Ctx) error {
	claims, err := claimsFromCtx(c)
	if err != nil {
		return err
	}

	var req createAccountRequest
	if err := c.BodyParser(&req); err != nil {
		return &ledger.AppError{Kind: ledger.KindInvalidInput, Message: "Invalid request format", Details: err.Error(), Err: err}
	}

	account, err := h.engine.CreateAccount(c.Context(), ledger.CreateAccountParams{
		UserID:      claims.UserID,
		AccountType: req.AccountType,
		Currency:    req.Currency,
		PerformedBy: claims.Principal(),
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(account)
}

// GetAccounts lists the calling customer's accounts.
func (h *Handler) GetAccounts(c *fiber.Ctx) error {
	claims, err := claimsFromCtx(c)
	if err != nil {
		return err
	}

	accounts, err := h.views.UserAccounts(c.Context(), claims.UserID)
	if err != nil {
		return err
	}
	return c.JSON(accounts)
}

// GetBalance returns one account's balance.
func (h *Handler) GetBalance(c *fiber.Ctx) error {
	claims, err := claimsFromCtx(c)
	if err != nil {
		return err
	}
	accountID, err := paramID(c, "id")
	if err != nil {
		return err
	}
	if err := h.requireAccountOwner(c, claims, accountID); err != nil {
		return err
	}

	account, err := h.views.AccountBalance(c.Context(), accountID)
	if err != nil {
		return err
	}
	return c.JSON(account)
}

// GetStatement returns the most recent entries on one account.
func (h *Handler) GetStatement(c *fiber.Ctx) error {
	claims, err := claimsFromCtx(c)
	if err != nil {
		return err
	}
	accountID, err := paramID(c, "id")
	if err != nil {
		return err
	}
	if err := h.requireAccountOwner(c, claims, accountID); err != nil {
		return err
	}

	lines, err := h.views.MiniStatement(c.Context(), accountID, c.QueryInt("limit", 0))
	if err != nil {
		return err
	}
	return c.JSON(lines)
}

// GetSpendingSummary aggregates an account's debits by type over the
// trailing window.
func (h *Handler) GetSpendingSummary(c *fiber.Ctx) error {
	claims, err := claimsFromCtx(c)
	if err != nil {
		return err
	}
	accountID, err := paramID(c, "id")
	if err != nil {
		return err
	}
	if err := h.requireAccountOwner(c, claims, accountID); err != nil {
		return err
	}

	summary, err := h.views.SpendingSummary(c.Context(), accountID, c.QueryInt("days", 30))
	if err != nil {
		return err
	}
	return c.JSON(summary)
}

// Transfer moves money between two accounts.
func (h *Handler) Transfer(c *fiber.Ctx) error {
	claims, err := claimsFromCtx(c)
	if err != nil {
		return err
	}

	var req transferRequest
	if err := c.BodyParser(&req); err != nil {
		return &ledger.AppError{Kind: ledger.KindInvalidInput, Message: "Invalid request format", Details: err.Error(), Err: err}
	}
	if err := h.requireAccountOwner(c, claims, req.FromAccountID); err != nil {
		return err
	}

	result, err := h.engine.Transfer(c.Context(), ledger.TransferParams{
		FromAccountID: req.FromAccountID,
		ToAccountID:   req.ToAccountID,
		Amount:        req.Amount,
		ReferenceID:   req.ReferenceID,
		Description:   req.Description,
		InitiatedBy:   initiator(claims),
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(result)
}

// Deposit credits an account.
func (h *Handler) Deposit(c *fiber.Ctx) error {
	claims, err := claimsFromCtx(c)
	if err != nil {
		return err
	}

	var req movementRequest
	if err := c.BodyParser(&req); err != nil {
		return &ledger.AppError{Kind: ledger.KindInvalidInput, Message: "Invalid request format", Details: err.Error(), Err: err}
	}
	if err := h.requireAccountOwner(c, claims, req.AccountID); err != nil {
		return err
	}

	result, err := h.engine.Deposit(c.Context(), ledger.MovementParams{
		AccountID:   req.AccountID,
		Amount:      req.Amount,
		ReferenceID: req.ReferenceID,
		Description: req.Description,
		InitiatedBy: initiator(claims),
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(result)
}

// Withdraw debits an account.
func (h *Handler) Withdraw(c *fiber.Ctx) error {
	claims, err := claimsFromCtx(c)
	if err != nil {
		return err
	}

	var req movementRequest
	if err := c.BodyParser(&req); err != nil {
		return &ledger.AppError{Kind: ledger.KindInvalidInput, Message: "Invalid request format", Details: err.Error(), Err: err}
	}
	if err := h.requireAccountOwner(c, claims, req.AccountID); err != nil {
		return err
	}

	result, err := h.engine.Withdraw(c.Context(), ledger.MovementParams{
		AccountID:   req.AccountID,
		Amount:      req.Amount,
		ReferenceID: req.ReferenceID,
		Description: req.Description,
		InitiatedBy: initiator(claims),
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(result)
}

// GetTransactions lists transactions matching the query filters. Customer
// calls are scoped to the caller's own accounts; employees may scope freely.
func (h *Handler) GetTransactions(c *fiber.Ctx) error {
	claims, err := claimsFromCtx(c)
	if err != nil {
		return err
	}

	f := views.HistoryFilter{
		UserID:    int64(c.QueryInt("user_id", 0)),
		AccountID: int64(c.QueryInt("account_id", 0)),
		TypeCode:  c.Query("type"),
		Status:    c.Query("status"),
		Search:    c.Query("q"),
		Limit:     c.QueryInt("limit", 0),
		Offset:    c.QueryInt("offset", 0),
	}
	if f.From, err = queryTime(c, "from"); err != nil {
		return err
	}
	if f.To, err = queryTime(c, "to"); err != nil {
		return err
	}
	if f.MinAmount, err = queryDecimal(c, "min_amount"); err != nil {
		return err
	}
	if f.MaxAmount, err = queryDecimal(c, "max_amount"); err != nil {
		return err
	}

	// Customers see their own accounts only; employees may scope freely.
	if !claims.IsEmployee() {
		f.UserID = claims.UserID
		if f.AccountID != 0 {
			if err := h.requireAccountOwner(c, claims, f.AccountID); err != nil {
				return err
			}
		}
	}

	history, err := h.views.TransactionHistory(c.Context(), f)
	if err != nil {
		return err
	}
	return c.JSON(history)
}

// GetTransaction returns one transaction with its legs and risk verdict.
func (h *Handler) GetTransaction(c *fiber.Ctx) error {
	claims, err := claimsFromCtx(c)
	if err != nil {
		return err
	}
	txnID, err := paramID(c, "id")
	if err != nil {
		return err
	}

	detail, err := h.views.TransactionDetail(c.Context(), txnID)
	if err != nil {
		return err
	}

	if !claims.IsEmployee() {
		allowed := detail.InitiatedByUserID != nil && *detail.InitiatedByUserID == claims.UserID
		if !allowed {
			for _, e := range detail.Entries {
				owner, err := h.views.AccountOwner(c.Context(), e.AccountID)
				if err != nil {
					return err
				}
				if owner == claims.UserID {
					allowed = true
					break
				}
			}
		}
		// A transaction outside the caller's visibility reads the same as
		// a nonexistent one.
		if !allowed {
			return &ledger.AppError{Kind: ledger.KindNotFound, Message: "Transaction not found", Details: fmt.Sprintf("transaction_id: %d", txnID)}
		}
	}

	return c.JSON(detail)
}

func (h *Handler) requireAccountOwner(c *fiber.Ctx, claims *models.Claims, accountID int64) error {
	if claims.IsEmployee() {
		return nil
	}
	ownerID, err := h.views.AccountOwner(c.Context(), accountID)
	if err != nil {
		return err
	}
	if ownerID != claims.UserID {
		return &ledger.AppError{Kind: ledger.KindForbidden, Message: "Account does not belong to you", Details: fmt.Sprintf("account_id: %d", accountID)}
	}
	return nil
}

func claimsFromCtx(c *fiber.Ctx) (*models.Claims, error) {
	claims, ok := c.Locals("user").(*models.Claims)
	if !ok {
		return nil, &ledger.AppError{Kind: ledger.KindInternal, Message: "Failed to retrieve user claims", Details: "User claims were not of the expected type"}
	}
	return claims, nil
}

func initiator(claims *models.Claims) *int64 {
	if claims.IsEmployee() {
		return nil
	}
	id := claims.UserID
	return &id
}

func paramID(c *fiber.Ctx, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Params(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, &ledger.AppError{Kind: ledger.KindInvalidInput, Message: "Invalid id parameter", Details: fmt.Sprintf("%s: %s", name, c.Params(name))}
	}
	return id, nil
}

func parseDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t, nil
		}
	}
	return nil, &ledger.AppError{Kind: ledger.KindInvalidInput, Message: "Invalid date", Details: fmt.Sprintf("date: %s", s)}
}

func queryTime(c *fiber.Ctx, key string) (time.Time, error) {
	s := c.Query(key)
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, &ledger.AppError{Kind: ledger.KindInvalidInput, Message: "Invalid time filter", Details: fmt.Sprintf("%s: %s", key, s)}
}

func queryDecimal(c *fiber.Ctx, key string) (decimal.Decimal, error) {
	s := c.Query(key)
	if s == "" {
		return decimal.Decimal{}, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, &ledger.AppError{Kind: ledger.KindInvalidInput, Message: "Invalid amount filter", Details: fmt.Sprintf("%s: %s", key, s)}
	}
	return d, nil
}
