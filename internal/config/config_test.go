// Path: internal/config/config_test.go
package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"DATABASE_URL", "PORT", "CORS_ORIGINS", "JWT_SECRET", "JWT_EXPIRATION_HOURS",
		"DEFAULT_CURRENCY", "MAX_ACCOUNTS_PER_USER", "POLL_INTERVAL",
		"THRESHOLD_SUSPICIOUS", "THRESHOLD_CRITICAL", "BOOTSTRAP_ADMIN_PASSWORD",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()
	assert.Equal(t, "3000", cfg.Port)
	assert.Equal(t, "*", cfg.CORSOrigins)
	assert.Empty(t, cfg.JWTSecret)
	assert.Equal(t, 24, cfg.JWTExpirationHours)
	assert.Equal(t, "USD", cfg.DefaultCurrency)
	assert.Equal(t, 0, cfg.MaxAccountsPerUser)
	assert.Equal(t, 5*time.Second, cfg.RiskPollInterval)
	assert.Equal(t, 0.5, cfg.ThresholdSuspicious)
	assert.Equal(t, 0.8, cfg.ThresholdCritical)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("JWT_EXPIRATION_HOURS", "72")
	t.Setenv("DEFAULT_CURRENCY", "EUR")
	t.Setenv("MAX_ACCOUNTS_PER_USER", "3")
	t.Setenv("POLL_INTERVAL", "30")
	t.Setenv("THRESHOLD_SUSPICIOUS", "0.4")

	cfg := Load()
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "s3cret", cfg.JWTSecret)
	assert.Equal(t, 72, cfg.JWTExpirationHours)
	assert.Equal(t, "EUR", cfg.DefaultCurrency)
	assert.Equal(t, 3, cfg.MaxAccountsPerUser)
	assert.Equal(t, 30*time.Second, cfg.RiskPollInterval)
	assert.Equal(t, 0.4, cfg.ThresholdSuspicious)
}

func TestLoadIgnoresBadNumbers(t *testing.T) {
	t.Setenv("JWT_EXPIRATION_HOURS", "not-a-number")
	t.Setenv("THRESHOLD_CRITICAL", "very high")

	cfg := Load()
	assert.Equal(t, 24, cfg.JWTExpirationHours)
	assert.Equal(t, 0.8, cfg.ThresholdCritical)
}
