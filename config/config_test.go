package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SERVER_ENV", "development")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "https://api.paystack.co", cfg.Paystack.BaseURL)
	assert.Equal(t, 10*time.Second, cfg.Paystack.VerifyTimeout)
	assert.Equal(t, "GHS", cfg.Business.Currency)
	assert.False(t, cfg.Business.EnforceCatalogPrices)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SERVER_ENV", "staging")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("PAYSTACK_VERIFY_TIMEOUT", "3s")
	t.Setenv("BUSINESS_ENFORCE_CATALOG_PRICES", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 3*time.Second, cfg.Paystack.VerifyTimeout)
	assert.True(t, cfg.Business.EnforceCatalogPrices)
	assert.False(t, cfg.IsProduction())
}

func TestLoadProductionRequiresSecrets(t *testing.T) {
	t.Setenv("SERVER_ENV", "production")
	t.Setenv("PAYSTACK_SECRET_KEY", "")
	t.Setenv("AUTH_JWT_SECRET", "")

	_, err := Load()
	assert.Error(t, err)
}
