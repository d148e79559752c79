// Path: cmd/server/main.go
package main

import (
	"context"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"

	"github.com/punit745/Core-Banking-Ledger/internal/config"
	"github.com/punit745/Core-Banking-Ledger/internal/handlers"
	"github.com/punit745/Core-Banking-Ledger/internal/ledger"
	"github.com/punit745/Core-Banking-Ledger/internal/models"
	"github.com/punit745/Core-Banking-Ledger/internal/services"
	"github.com/punit745/Core-Banking-Ledger/internal/views"
	"github.com/punit745/Core-Banking-Ledger/pkg/database"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := config.Load()
	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET is not set")
	}

	db, pool, err := database.InitDB(context.Background(), cfg)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer pool.Close()

	if err := database.Migrate(db, cfg); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	var (
		authService  = services.NewAuthService(db, cfg.JWTSecret, time.Duration(cfg.JWTExpirationHours)*time.Hour)
		adminService = services.NewAdminService(db)
		engine       = ledger.NewEngine(pool, ledger.Config{
			MaxAccountsPerUser: cfg.MaxAccountsPerUser,
			DefaultCurrency:    cfg.DefaultCurrency,
		})
		store = views.NewStore(pool)
	)

	h := handlers.NewHandler(authService, adminService, engine, store)

	app := fiber.New(fiber.Config{
		ErrorHandler: h.ErrorHandler,
	})

	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
	}))
	app.Use(recover.New())
	app.Use(logger.New())

	app.Get("/health", h.Health)

	api := app.Group("/api")

	auth := api.Group("/auth")
	auth.Post("/register", h.Register)
	auth.Post("/login", h.Login)
	auth.Post("/employee/login", h.EmployeeLogin)

	protected := api.Group("/", h.AuthMiddleware)

	users := protected.Group("/users")
	users.Get("/me", h.GetProfile)
	users.Put("/me", h.UpdateProfile)
	users.Put("/me/password", h.ChangePassword)
	users.Get("/me/risk-scores", h.GetMyRiskScores)
	users.Get("/me/spending-forecast", h.GetSpendingForecast)

	accounts := protected.Group("/accounts")
	accounts.Post("/", h.CreateAccount)
	accounts.Get("/", h.GetAccounts)
	accounts.Get("/:id/balance", h.GetBalance)
	accounts.Get("/:id/statement", h.GetStatement)
	accounts.Get("/:id/spending-summary", h.GetSpendingSummary)

	transactions := protected.Group("/transactions")
	transactions.Post("/transfer", h.Transfer)
	transactions.Post("/deposit", h.Deposit)
	transactions.Post("/withdraw", h.Withdraw)
	transactions.Get("/", h.GetTransactions)
	transactions.Get("/:id", h.GetTransaction)

	admin := protected.Group("/admin", h.EmployeeRequired)
	admin.Get("/dashboard", h.GetDashboard)
	admin.Get("/users", h.ListUsers)
	admin.Get("/users/:id", h.GetUser)
	admin.Put("/users/:id/kyc", h.RequireDepartment(models.DeptAdmin, models.DeptOperations), h.SetKYCStatus)
	admin.Put("/users/:id/active", h.RequireDepartment(models.DeptAdmin, models.DeptOperations), h.SetUserActive)
	admin.Post("/employees", h.RequireDepartment(models.DeptAdmin), h.CreateEmployee)
	admin.Get("/accounts", h.ListAccounts)
	admin.Post("/accounts", h.RequireDepartment(models.DeptAdmin, models.DeptOperations), h.AdminCreateAccount)
	admin.Post("/accounts/:id/freeze", h.RequireDepartment(models.DeptAdmin, models.DeptOperations), h.FreezeAccount)
	admin.Post("/accounts/:id/unfreeze", h.RequireDepartment(models.DeptAdmin, models.DeptOperations), h.UnfreezeAccount)
	admin.Post("/accounts/:id/close", h.RequireDepartment(models.DeptAdmin, models.DeptOperations), h.CloseAccount)
	admin.Post("/accounts/:id/post", h.RequireDepartment(models.DeptAdmin, models.DeptOperations), h.PostMovement)
	admin.Post("/transactions/:id/reverse", h.RequireDepartment(models.DeptAdmin, models.DeptOperations), h.ReverseTransaction)
	admin.Get("/audit-logs", h.RequireDepartment(models.DeptAdmin, models.DeptAudit), h.GetAuditLogs)
	admin.Get("/reports/balance-sheet", h.GetBalanceSheet)
	admin.Get("/reports/integrity", h.GetLedgerIntegrity)
	admin.Get("/reports/flagged", h.GetFlaggedTransactions)
	admin.Get("/statement/:accountNumber", h.GetCustomerStatement)

	log.Printf("Server listening on port %s", cfg.Port)
	log.Fatal(app.Listen(":" + cfg.Port))
}
