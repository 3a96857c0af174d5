package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestNewBillingConfigHolderDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	holder, err := NewBillingConfigHolder(zaptest.NewLogger(t))
	require.NoError(t, err)

	cfg := holder.Get()
	assert.Equal(t, 0.17, cfg.TaxRate)
	assert.Equal(t, "ILS", cfg.Currency)
	assert.Equal(t, 3, cfg.MaxConsecutiveFailures)
	assert.Equal(t, 15*time.Second, cfg.GatewayTimeout)
	assert.Equal(t, []string{"active"}, cfg.PayingAccountStatuses)
	assert.Equal(t, "0.17", cfg.TaxRateDecimal().String())
}

func TestNewBillingConfigHolderReadsFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	content := []byte(`billing:
  taxRate: 0.18
  currency: USD
  gatewayTimeout: 5s
  maxConsecutiveFailures: 0
  renewalBatchSize: 10
  renewalConcurrency: 2
  payingAccountStatuses: [active, trial]
  periodMonths: 1
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "billing.yml"), content, 0o600))

	holder, err := NewBillingConfigHolder(zaptest.NewLogger(t))
	require.NoError(t, err)

	cfg := holder.Get()
	assert.Equal(t, "USD", cfg.Currency)
	assert.Equal(t, 5*time.Second, cfg.GatewayTimeout)
	assert.Equal(t, 0, cfg.MaxConsecutiveFailures)
	assert.Equal(t, []string{"active", "trial"}, cfg.PayingAccountStatuses)
}

func TestValidateBillingConfigRejectsBadRate(t *testing.T) {
	cfg := DefaultBillingConfig()
	cfg.TaxRate = 1.5
	assert.Error(t, validateBillingConfig(cfg))

	cfg = DefaultBillingConfig()
	cfg.PayingAccountStatuses = nil
	assert.Error(t, validateBillingConfig(cfg))
}
