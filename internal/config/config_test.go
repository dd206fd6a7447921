package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, defaultAddress, cfg.Address)
	assert.Equal(t, defaultMaxRetries, cfg.MaxRetries)
	assert.Equal(t, defaultRetryBackoff, cfg.RetryBackoff)
	assert.Equal(t, defaultSignedTTL, cfg.SignedURLTTL)
	assert.Equal(t, defaultDailyLimit, cfg.DefaultLimits.DailyLimit)
	assert.NotEmpty(t, cfg.SigningSecret)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("MEDIAVAULT_ADDRESS", ":9999")
	t.Setenv("MEDIAVAULT_MAX_RETRIES", "5")
	t.Setenv("MEDIAVAULT_RETRY_BACKOFF", "2m")
	t.Setenv("MEDIAVAULT_SIGNED_TTL", "15m")
	t.Setenv("MEDIAVAULT_DAILY_LIMIT", "3")
	t.Setenv("MEDIAVAULT_SIGNING_SECRET", "sekrit")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Address)
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, 2*time.Minute, cfg.RetryBackoff)
	assert.Equal(t, 15*time.Minute, cfg.SignedURLTTL)
	assert.Equal(t, 3, cfg.DefaultLimits.DailyLimit)
	assert.Equal(t, []byte("sekrit"), cfg.SigningSecret)
}

func TestLoadIgnoresGarbage(t *testing.T) {
	t.Setenv("MEDIAVAULT_MAX_RETRIES", "not-a-number")
	t.Setenv("MEDIAVAULT_RETRY_BACKOFF", "eventually")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, defaultMaxRetries, cfg.MaxRetries)
	assert.Equal(t, defaultRetryBackoff, cfg.RetryBackoff)
}
