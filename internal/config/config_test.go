package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	for _, key := range []string{"LEDGER_STORE", "SENDER_MODE", "QUOTE_ENABLED", "RATE_LIMIT_ENABLED", "HTTP_ADDR"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, LedgerStoreBolt, cfg.LedgerStore)
	assert.Equal(t, SenderModeSimulated, cfg.Sender.Mode)
	assert.False(t, cfg.Quote.Enabled)
	assert.Equal(t, 15*time.Second, cfg.Quote.CacheTTL)
	assert.False(t, cfg.RateLimit.Enabled)
	assert.Equal(t, 5, cfg.RateLimit.QuoteBurst)
}

func TestLoadNormalizesModes(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("LEDGER_STORE", " Redis ")
	t.Setenv("SENDER_MODE", "RPC")
	t.Setenv("QUOTE_ENABLED", "yes")
	t.Setenv("QUOTE_BASE_URL", "https://li.quest/")
	t.Setenv("QUOTE_TIMEOUT", "3s")
	t.Setenv("RATE_LIMIT_QUOTE_RATE", "2.5")

	cfg := Load()
	assert.Equal(t, LedgerStoreRedis, cfg.LedgerStore)
	assert.Equal(t, SenderModeRPC, cfg.Sender.Mode)
	assert.True(t, cfg.Quote.Enabled)
	assert.Equal(t, "https://li.quest", cfg.Quote.BaseURL)
	assert.Equal(t, 3*time.Second, cfg.Quote.Timeout)
	assert.Equal(t, 2.5, cfg.RateLimit.QuoteRate)
}

func TestLoadFallsBackOnGarbage(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("LEDGER_STORE", "cassandra")
	t.Setenv("QUOTE_ENABLED", "maybe")
	t.Setenv("REDIS_DB", "x")
	t.Setenv("QUOTE_TIMEOUT", "soon")

	cfg := Load()
	assert.Equal(t, LedgerStoreBolt, cfg.LedgerStore)
	assert.False(t, cfg.Quote.Enabled)
	assert.Zero(t, cfg.RedisDB)
	assert.Equal(t, 10*time.Second, cfg.Quote.Timeout)
}

func TestDefaultTreasuryConfigIsValid(t *testing.T) {
	cfg := DefaultTreasuryConfig()
	require.NoError(t, ValidateTreasuryConfig(cfg))
	assert.Equal(t, 20.0, cfg.PaymentThreshold)
	assert.Equal(t, 3*time.Second, cfg.AccrualInterval)
	assert.Equal(t, 50, cfg.LedgerCap)
}

func TestValidateTreasuryConfigRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*TreasuryConfig)
	}{
		{"threshold", func(c *TreasuryConfig) { c.PaymentThreshold = 0 }},
		{"duplicate_service", func(c *TreasuryConfig) { c.Services = append(c.Services, c.Services[0]) }},
		{"negative_rate", func(c *TreasuryConfig) { c.Services[0].AccrualRate = -1 }},
		{"billing_cycle", func(c *TreasuryConfig) { c.Services[0].BillingCycle = "weekly" }},
		{"unknown_seed", func(c *TreasuryConfig) {
			c.Scenarios[0].Usage = append(c.Scenarios[0].Usage, UsageConfig{Service: "nope", Quantity: 1})
		}},
		{"duplicate_chain", func(c *TreasuryConfig) {
			c.Routing.Candidates = append(c.Routing.Candidates, c.Routing.Candidates[0])
		}},
		{"no_candidates", func(c *TreasuryConfig) { c.Routing.Candidates = nil }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultTreasuryConfig()
			tc.mutate(&cfg)
			assert.Error(t, ValidateTreasuryConfig(cfg))
		})
	}
}

func TestStaticHolderAppliesDefaults(t *testing.T) {
	holder := NewStaticTreasuryConfigHolder(TreasuryConfig{PaymentThreshold: 42})

	cfg := holder.Get()
	assert.Equal(t, 42.0, cfg.PaymentThreshold)
	assert.Equal(t, 50, cfg.LedgerCap)
	assert.NotEmpty(t, cfg.Services)
	assert.NotZero(t, cfg.Routing.SettlementChain.ID)
}

func TestTreasuryHolderWithoutFileUsesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	holder, err := NewTreasuryConfigHolder(zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, DefaultTreasuryConfig().PaymentThreshold, holder.Get().PaymentThreshold)
}

func TestTreasuryHolderReadsFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	body := []byte("treasury:\n  paymentThreshold: 35\n  ledgerCap: 10\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "treasury.yml"), body, 0o600))

	holder, err := NewTreasuryConfigHolder(zap.NewNop())
	require.NoError(t, err)
	cfg := holder.Get()
	assert.Equal(t, 35.0, cfg.PaymentThreshold)
	assert.Equal(t, 10, cfg.LedgerCap)
	assert.Equal(t, "MEDIUM_DAO", cfg.DefaultScenario)
}

func TestTreasuryHolderRejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	body := []byte("treasury:\n  services:\n    - id: a\n      costPerUnit: 1\n      billingCycle: weekly\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "treasury.yml"), body, 0o600))

	_, err := NewTreasuryConfigHolder(zap.NewNop())
	assert.Error(t, err)
}
