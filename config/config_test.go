package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("PORT", "")

	cfg := Load()

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.True(t, cfg.MemoryMode())
	assert.Equal(t, int64(5*1024*1024), cfg.Business.MaxUploadBytes)
	assert.Equal(t, 10, cfg.Business.LowStockThreshold)
	assert.Equal(t, "isla-market", cfg.Observ.ServiceName)
	assert.Equal(t, 1.0, cfg.Observ.TraceSampleRatio)
}

func TestLoadObservability(t *testing.T) {
	t.Setenv("SERVICE_NAME", "isla-market-staging")
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("TRACE_SAMPLE_RATIO", "0.25")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("AUTH_JWT_SECRET", "secret")

	cfg := Load()

	assert.Equal(t, "isla-market-staging", cfg.Observ.ServiceName)
	assert.Equal(t, "warn", cfg.Observ.LogLevel)
	assert.Equal(t, 0.25, cfg.Observ.TraceSampleRatio)
	require.NoError(t, cfg.Validate())

	cfg.Observ.TraceSampleRatio = 2
	assert.EqualError(t, cfg.Validate(), "TRACE_SAMPLE_RATIO must be between 0 and 1")
}

func TestValidateRequiresSecretsOutsideMemoryMode(t *testing.T) {
	cfg := &Config{
		Database: DatabaseConfig{URL: "postgres://localhost/isla"},
		Auth:     AuthConfig{JWTSecret: "secret"},
	}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STRIPE_SECRET_KEY")
	assert.Contains(t, err.Error(), "STORAGE_ENDPOINT")

	cfg.Database.URL = ""
	assert.NoError(t, cfg.Validate())
}

func TestStatusNeverExposesValues(t *testing.T) {
	cfg := &Config{Payments: PaymentsConfig{StripeWebhookSecret: "whsec_123"}}

	status := cfg.Status()

	assert.True(t, status["stripe_webhook_secret"])
	assert.False(t, status["stripe_secret_key"])
	for key := range status {
		assert.NotContains(t, key, "whsec_123")
	}
}
