// Path: cmd/riskworker/main.go
package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/punit745/Core-Banking-Ledger/internal/config"
	"github.com/punit745/Core-Banking-Ledger/internal/risk"
	"github.com/punit745/Core-Banking-Ledger/pkg/database"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_, pool, err := database.InitDB(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer pool.Close()

	worker := risk.NewWorker(pool, cfg.RiskPollInterval, risk.Thresholds{
		Suspicious: cfg.ThresholdSuspicious,
		Critical:   cfg.ThresholdCritical,
	})
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Worker stopped: %v", err)
	}
	log.Println("Worker stopped")
}
