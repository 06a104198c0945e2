package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestLoad_DepositDefaults(t *testing.T) {
	t.Setenv("DEPOSIT_POLL_INTERVAL_MS", "")
	t.Setenv("DEPOSIT_POLL_TIMEOUT_MS", "")
	t.Setenv("DEPOSIT_FETCH_RETRIES", "")

	cfg := Load()

	assert.Equal(t, 10*time.Second, cfg.DepositPollInterval)
	assert.Equal(t, 30*time.Minute, cfg.DepositPollTimeout)
	assert.Equal(t, 1, cfg.DepositFetchRetries)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DEPOSIT_POLL_INTERVAL_MS", "200")
	t.Setenv("DEPOSIT_POLL_TIMEOUT_MS", "2000")
	t.Setenv("INTENT_STORAGE", "REDIS")
	t.Setenv("DEPOSIT_REQUIRED_CONFIRMATIONS", "not-a-number")

	cfg := Load()

	assert.Equal(t, 200*time.Millisecond, cfg.DepositPollInterval)
	assert.Equal(t, 2*time.Second, cfg.DepositPollTimeout)
	assert.Equal(t, "redis", cfg.IntentStorage)
	assert.Equal(t, 3, cfg.RequiredConfirmations)
}

func TestValidate_FixesInvalidValues(t *testing.T) {
	cfg := &Config{
		JWTSecret:             "secret",
		DepositPollInterval:   0,
		DepositPollTimeout:    -time.Second,
		DepositFetchRetries:   -2,
		RequiredConfirmations: 0,
		IntentStorage:         "s3",
	}

	cfg.Validate(zap.NewNop())

	assert.Equal(t, 10*time.Second, cfg.DepositPollInterval)
	assert.Equal(t, 30*time.Minute, cfg.DepositPollTimeout)
	assert.Equal(t, 0, cfg.DepositFetchRetries)
	assert.Equal(t, 1, cfg.RequiredConfirmations)
	assert.Equal(t, "file", cfg.IntentStorage)
}
