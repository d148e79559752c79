// Path: internal/risk/scorer.go
package risk

import (
	"github.com/shopspring/decimal"

	"github.com/punit745/Core-Banking-Ledger/internal/models"
)

// ModelVersion identifies the scoring rules stored with each verdict.
const ModelVersion = "rules-v1"

var (
	amountHigh   = decimal.NewFromInt(10000)
	amountMedium = decimal.NewFromInt(5000)
	amountLow    = decimal.NewFromInt(1000)
)

// Thresholds map a score to a verdict.
type Thresholds struct {
	Suspicious float64
	Critical   float64
}

// Features is the input vector for one transaction. It is persisted next
// to the score so every verdict can be explained later. DayOfWeek counts
// from Monday = 0.
type Features struct {
	Amount       decimal.Decimal `json:"amount"`
	HourOfDay    int             `json:"hour_of_day"`
	DayOfWeek    int             `json:"day_of_week"`
	SenderTxFreq int             `json:"sender_tx_freq"`
}

// Score rates a transaction in [0, 1]. Large amounts, odd hours and
// bursts of activity from the same sender push the score up.
func Score(f Features) float64 {
	score := 0.0

	switch {
	case f.Amount.GreaterThanOrEqual(amountHigh):
		score += 0.45
	case f.Amount.GreaterThanOrEqual(amountMedium):
		score += 0.30
	case f.Amount.GreaterThanOrEqual(amountLow):
		score += 0.10
	}

	if f.HourOfDay < 5 || f.HourOfDay >= 23 {
		score += 0.20
	}

	switch {
	case f.SenderTxFreq >= 10:
		score += 0.30
	case f.SenderTxFreq >= 5:
		score += 0.15
	}

	if f.DayOfWeek >= 5 {
		score += 0.05
	}

	if score > 1 {
		score = 1
	}
	return score
}

// Verdict maps a score to SAFE, SUSPICIOUS or CRITICAL.
func (t Thresholds) Verdict(score float64) string {
	switch {
	case score >= t.Critical:
		return models.VerdictCritical
	case score >= t.Suspicious:
		return models.VerdictSuspicious
	default:
		return models.VerdictSafe
	}
}
