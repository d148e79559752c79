// Path: internal/risk/scorer_test.go
package risk

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/punit745/Core-Banking-Ledger/internal/models"
)

func TestScore(t *testing.T) {
	quiet := Features{Amount: decimal.NewFromInt(100), HourOfDay: 12, DayOfWeek: 2, SenderTxFreq: 1}

	tests := []struct {
		name string
		f    Features
		want float64
	}{
		{"baseline", quiet, 0},
		{"low amount tier", Features{Amount: decimal.NewFromInt(1000), HourOfDay: 12, DayOfWeek: 2}, 0.10},
		{"medium amount tier", Features{Amount: decimal.NewFromInt(5000), HourOfDay: 12, DayOfWeek: 2}, 0.30},
		{"high amount tier", Features{Amount: decimal.NewFromInt(10000), HourOfDay: 12, DayOfWeek: 2}, 0.45},
		{"just below a tier", Features{Amount: decimal.RequireFromString("4999.99"), HourOfDay: 12, DayOfWeek: 2}, 0.10},
		{"early morning", Features{Amount: decimal.NewFromInt(100), HourOfDay: 4, DayOfWeek: 2}, 0.20},
		{"late night", Features{Amount: decimal.NewFromInt(100), HourOfDay: 23, DayOfWeek: 2}, 0.20},
		{"evening is fine", Features{Amount: decimal.NewFromInt(100), HourOfDay: 22, DayOfWeek: 2}, 0},
		{"burst of five", Features{Amount: decimal.NewFromInt(100), HourOfDay: 12, DayOfWeek: 2, SenderTxFreq: 5}, 0.15},
		{"burst of ten", Features{Amount: decimal.NewFromInt(100), HourOfDay: 12, DayOfWeek: 2, SenderTxFreq: 10}, 0.30},
		{"saturday", Features{Amount: decimal.NewFromInt(100), HourOfDay: 12, DayOfWeek: 5}, 0.05},
		{"sunday", Features{Amount: decimal.NewFromInt(100), HourOfDay: 12, DayOfWeek: 6}, 0.05},
		{"friday is a weekday", Features{Amount: decimal.NewFromInt(100), HourOfDay: 12, DayOfWeek: 4}, 0},
		{"everything at once", Features{Amount: decimal.NewFromInt(50000), HourOfDay: 2, DayOfWeek: 6, SenderTxFreq: 20}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Score(tt.f), 1e-9)
		})
	}
}

func TestScoreStaysInRange(t *testing.T) {
	amounts := []int64{0, 500, 1000, 5000, 10000, 1000000}
	for _, amt := range amounts {
		for hour := 0; hour < 24; hour++ {
			for _, freq := range []int{0, 5, 10, 100} {
				s := Score(Features{Amount: decimal.NewFromInt(amt), HourOfDay: hour, DayOfWeek: 6, SenderTxFreq: freq})
				assert.GreaterOrEqual(t, s, 0.0)
				assert.LessOrEqual(t, s, 1.0)
			}
		}
	}
}

func TestVerdict(t *testing.T) {
	th := Thresholds{Suspicious: 0.5, Critical: 0.8}

	tests := []struct {
		score float64
		want  string
	}{
		{0, models.VerdictSafe},
		{0.49, models.VerdictSafe},
		{0.5, models.VerdictSuspicious},
		{0.79, models.VerdictSuspicious},
		{0.8, models.VerdictCritical},
		{1, models.VerdictCritical},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, th.Verdict(tt.score), "score %v", tt.score)
	}
}
