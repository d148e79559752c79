// Path: internal/risk/worker.go
package risk

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/punit745/Core-Banking-Ledger/internal/models"
)

const scanBatchSize = 100

// Worker polls for completed debit transactions without a risk score and
// writes verdicts for them. It is advisory only: it never blocks or
// mutates the ledger.
type Worker struct {
	pool       *pgxpool.Pool
	interval   time.Duration
	thresholds Thresholds
}

// NewWorker creates a new Worker.
func NewWorker(pool *pgxpool.Pool, interval time.Duration, t Thresholds) *Worker {
	return &Worker{
		pool:       pool,
		interval:   interval,
		thresholds: t,
	}
}

// Run scans immediately, then on every tick until the context is
// cancelled.
func (w *Worker) Run(ctx context.Context) error {
	log.Printf("risk worker polling every %s (model %s)", w.interval, ModelVersion)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if n, err := w.scanOnce(ctx); err != nil {
			log.Printf("risk scan failed: %v", err)
		} else if n > 0 {
			log.Printf("risk scan scored %d transaction(s)", n)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

type candidate struct {
	txnID     int64
	userID    *int64
	createdAt time.Time
	features  Features
}

// scanOnce scores one batch of unscored transactions and returns how many
// verdicts it wrote.
func (w *Worker) scanOnce(ctx context.Context) (int, error) {
	rows, err := w.pool.Query(ctx, `
        SELECT t.transaction_id, t.initiated_by_user_id, ABS(te.amount),
               EXTRACT(HOUR FROM t.created_at)::int,
               EXTRACT(ISODOW FROM t.created_at)::int - 1,
               t.created_at
        FROM transactions t
        JOIN transaction_entries te ON te.transaction_id = t.transaction_id AND te.amount < 0
        LEFT JOIN transaction_risk_scores r ON r.transaction_id = t.transaction_id
        WHERE t.status = $1 AND r.score_id IS NULL
        ORDER BY t.transaction_id
        LIMIT $2`, models.TxnStatusCompleted, scanBatchSize)
	if err != nil {
		return 0, fmt.Errorf("query unscored transactions: %w", err)
	}

	candidates := []candidate{}
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.txnID, &c.userID, &c.features.Amount, &c.features.HourOfDay, &c.features.DayOfWeek, &c.createdAt); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan candidate: %w", err)
		}
		candidates = append(candidates, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate candidates: %w", err)
	}

	scored := 0
	for _, c := range candidates {
		if c.userID != nil {
			if err := w.pool.QueryRow(ctx, `
                SELECT COUNT(*) FROM transactions
                WHERE initiated_by_user_id = $1
                  AND created_at >= $2 - interval '1 hour'
                  AND created_at < $2`, *c.userID, c.createdAt).Scan(&c.features.SenderTxFreq); err != nil {
				return scored, fmt.Errorf("count sender frequency: %w", err)
			}
		}

		score := Score(c.features)
		verdict := w.thresholds.Verdict(score)

		featuresJSON, err := json.Marshal(c.features)
		if err != nil {
			return scored, fmt.Errorf("marshal features: %w", err)
		}

		// Concurrent workers may race on the same transaction; the unique
		// index makes the second insert a no-op.
		tag, err := w.pool.Exec(ctx, `
            INSERT INTO transaction_risk_scores (transaction_id, risk_score, verdict, features_used, model_version, scored_at)
            VALUES ($1, $2, $3, $4::jsonb, $5, now())
            ON CONFLICT (transaction_id) DO NOTHING`,
			c.txnID, decimal.NewFromFloat(score).Round(4), verdict, string(featuresJSON), ModelVersion)
		if err != nil {
			return scored, fmt.Errorf("insert risk score: %w", err)
		}
		if tag.RowsAffected() == 0 {
			continue
		}

		scored++
		log.Printf("scored transaction %d: %.2f (%s)", c.txnID, score, verdict)
	}

	return scored, nil
}
