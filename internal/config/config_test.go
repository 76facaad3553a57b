package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t, "ENVIRONMENT", "JOBS_WORKERS", "JOBS_RETRY_MIN", "JOBS_RETRY_MAX",
		"MARKETPLACE_ADAPTER", "PRICING_DEFAULT_FEE_PERCENT", "SERVER_CORS_ORIGINS",
		"AWS_REGION", "FEEDS_BATCH_SIZE", "SEED_MARKETPLACE_CODE")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.False(t, cfg.IsProduction())
	assert.Equal(t, 4, cfg.Jobs.Workers)
	assert.Equal(t, time.Minute, cfg.Jobs.RetryMin)
	assert.Equal(t, 5*time.Minute, cfg.Jobs.RetryMax)
	assert.Equal(t, "mock", cfg.Marketplace.Adapter)
	assert.Equal(t, 15.0, cfg.Pricing.DefaultFeePercent)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "eu-west-1", cfg.AWS.Region)
	assert.Equal(t, 500, cfg.Feeds.BatchSize)
	assert.Equal(t, "A13V1IB3VIYZZH", cfg.Seed.MarketplaceCode)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("JOBS_WORKERS", "8")
	t.Setenv("JOBS_POLL_INTERVAL", "250ms")
	t.Setenv("JOBS_HUNG_AFTER", "600")
	t.Setenv("PRICING_COSINE_THRESHOLD", "0.35")
	t.Setenv("SERVER_CORS_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("SEED_ENABLED", "false")
	t.Setenv("MARKETPLACE_TIMEOUT", "not-a-duration")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Jobs.Workers)
	assert.Equal(t, 250*time.Millisecond, cfg.Jobs.PollInterval)
	assert.Equal(t, 10*time.Minute, cfg.Jobs.HungAfter)
	assert.Equal(t, 0.35, cfg.Pricing.CosineThreshold)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.False(t, cfg.Seed.Enabled)
	assert.Equal(t, 20*time.Second, cfg.Marketplace.Timeout)
}

func TestSeedSellerFallsBackToMarketplaceSeller(t *testing.T) {
	clearEnv(t, "SEED_SELLER_ID")
	t.Setenv("MARKETPLACE_SELLER_ID", "A2SELLER")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "A2SELLER", cfg.Seed.SellerID)
}

func validConfig() *Config {
	return &Config{
		Environment: "development",
		JWT:         JWTConfig{SecretKey: defaultJWTSecret},
		Jobs:        JobsConfig{Workers: 2, RetryMin: time.Minute, RetryMax: 5 * time.Minute},
		Marketplace: MarketplaceConfig{Adapter: "mock"},
		Pricing:     PricingConfig{DefaultFeePercent: 15},
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
		errMsg string
	}{
		{
			name: "default secret in production",
			mutate: func(c *Config) {
				c.Environment = "production"
				c.Database.Password = "pw"
			},
			errMsg: "JWT secret",
		},
		{
			name: "missing db password in production",
			mutate: func(c *Config) {
				c.Environment = "production"
				c.JWT.SecretKey = "s3cret"
			},
			errMsg: "database password",
		},
		{
			name:   "inverted retry window",
			mutate: func(c *Config) { c.Jobs.RetryMin = time.Hour },
			errMsg: "retry window",
		},
		{
			name:   "no workers",
			mutate: func(c *Config) { c.Jobs.Workers = 0 },
			errMsg: "worker count",
		},
		{
			name:   "http adapter without base url",
			mutate: func(c *Config) { c.Marketplace.Adapter = "HTTP" },
			errMsg: "MARKETPLACE_BASE_URL",
		},
		{
			name:   "fee of 100 percent",
			mutate: func(c *Config) { c.Pricing.DefaultFeePercent = 100 },
			errMsg: "fee percent",
		},
		{
			name:   "negative fee",
			mutate: func(c *Config) { c.Pricing.DefaultFeePercent = -1 },
			errMsg: "fee percent",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			err := c.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestProductionConfigPasses(t *testing.T) {
	c := validConfig()
	c.Environment = "production"
	c.JWT.SecretKey = "s3cret"
	c.Database.Password = "pw"
	c.Marketplace = MarketplaceConfig{Adapter: "http", BaseURL: "https://api.example"}
	assert.NoError(t, c.Validate())
	assert.True(t, c.IsProduction())
}

func TestDSN(t *testing.T) {
	d := DatabaseConfig{
		Host: "db", Port: "5432", User: "sync", Password: "pw",
		Database: "marketsync", SSLMode: "require", ConnectTimeout: 5,
	}
	assert.Equal(t,
		"host=db port=5432 user=sync password=pw dbname=marketsync sslmode=require application_name=marketsync connect_timeout=5",
		d.DSN())
	assert.NotContains(t, d.RedactedDSN(), "pw")
	assert.Contains(t, d.RedactedDSN(), "password=xxxxx")

	d.Password = ""
	d.ConnectTimeout = 0
	assert.Equal(t, "host=db port=5432 user=sync dbname=marketsync sslmode=require application_name=marketsync", d.DSN())
}
