// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const defaultJWTSecret = "your-secret-key-change-in-production"

type Config struct {
	Environment string
	LogLevel    string
	Server      ServerConfig
	Database    DatabaseConfig
	JWT         JWTConfig
	AWS         AWSConfig
	Marketplace MarketplaceConfig
	Jobs        JobsConfig
	Pricing     PricingConfig
	Feeds       FeedsConfig
	Seed        SeedConfig
}

type ServerConfig struct {
	Port         string
	Host         string
	ReadTimeout  int
	WriteTimeout int
	IdleTimeout  int
	// RequestsPerSecond limits each client ip on the API.
	RequestsPerSecond float64
	Burst             int
	CORSOrigins       []string
}

type DatabaseConfig struct {
	Host           string
	Port           string
	User           string
	Password       string
	Database       string
	SSLMode        string
	MaxOpenConns   int
	MaxIdleConns   int
	MaxLifetime    int
	ConnectTimeout int // seconds
	LogLevel       string
}

type JWTConfig struct {
	SecretKey      string
	AccessTokenTTL int // in hours
}

type AWSConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SQSQueueURL     string
	SQSWaitSeconds  int
	SQSBatchSize    int
	FeedBucket      string
	FeedPrefix      string
}

type MarketplaceConfig struct {
	Adapter           string
	BaseURL           string
	SellerID          string
	RequestsPerSecond float64
	Burst             int
	MaxRetries        int
	Timeout           time.Duration
}

type JobsConfig struct {
	Workers         int
	PollInterval    time.Duration
	HungAfter       time.Duration
	JanitorInterval time.Duration
	RetryMin        time.Duration
	RetryMax        time.Duration
	MaxAttempts     int
}

type PricingConfig struct {
	DefaultFeePercent float64
	CosineThreshold   float64
	RulesFile         string
}

type FeedsConfig struct {
	ExportInterval time.Duration
	BatchSize      int
}

// SeedConfig describes the account created on an empty database.
type SeedConfig struct {
	Enabled          bool
	AccountName      string
	SellerID         string
	MarketplaceCode  string
	Country          string
	Currency         string
	OperatorUsername string
	OperatorPassword string
}

func Load() (*Config, error) {
	// Load .env file if it exists
	godotenv.Load()

	config := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		Server: ServerConfig{
			Port:              getEnv("SERVER_PORT", "8080"),
			Host:              getEnv("SERVER_HOST", "localhost"),
			ReadTimeout:       getEnvAsInt("SERVER_READ_TIMEOUT", 15),
			WriteTimeout:      getEnvAsInt("SERVER_WRITE_TIMEOUT", 15),
			IdleTimeout:       getEnvAsInt("SERVER_IDLE_TIMEOUT", 60),
			RequestsPerSecond: getEnvAsFloat("SERVER_RATE_LIMIT", 10),
			Burst:             getEnvAsInt("SERVER_RATE_BURST", 20),
			CORSOrigins:       getEnvAsList("SERVER_CORS_ORIGINS", []string{"http://localhost:3000"}),
		},
		Database: DatabaseConfig{
			Host:           getEnv("DB_HOST", "localhost"),
			Port:           getEnv("DB_PORT", "5432"),
			User:           getEnv("DB_USER", "postgres"),
			Password:       getEnv("DB_PASSWORD", ""),
			Database:       getEnv("DB_NAME", "marketsync"),
			SSLMode:        getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns:   getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:   getEnvAsInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:    getEnvAsInt("DB_MAX_LIFETIME", 300),
			ConnectTimeout: getEnvAsInt("DB_CONNECT_TIMEOUT", 10),
			LogLevel:       getEnv("DB_LOG_LEVEL", "warn"),
		},
		JWT: JWTConfig{
			SecretKey:      getEnv("JWT_SECRET", defaultJWTSecret),
			AccessTokenTTL: getEnvAsInt("JWT_ACCESS_TTL", 24), // 24 hours
		},
		AWS: AWSConfig{
			Region:          getEnv("AWS_REGION", "eu-west-1"),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
			SQSQueueURL:     getEnv("AWS_SQS_QUEUE_URL", ""),
			SQSWaitSeconds:  getEnvAsInt("AWS_SQS_WAIT_SECONDS", 20),
			SQSBatchSize:    getEnvAsInt("AWS_SQS_BATCH_SIZE", 10),
			FeedBucket:      getEnv("AWS_FEED_BUCKET", ""),
			FeedPrefix:      getEnv("AWS_FEED_PREFIX", "feeds"),
		},
		Marketplace: MarketplaceConfig{
			Adapter:           getEnv("MARKETPLACE_ADAPTER", "mock"),
			BaseURL:           getEnv("MARKETPLACE_BASE_URL", ""),
			SellerID:          getEnv("MARKETPLACE_SELLER_ID", ""),
			RequestsPerSecond: getEnvAsFloat("MARKETPLACE_RPS", 1),
			Burst:             getEnvAsInt("MARKETPLACE_BURST", 1),
			MaxRetries:        getEnvAsInt("MARKETPLACE_MAX_RETRIES", 3),
			Timeout:           getEnvAsDuration("MARKETPLACE_TIMEOUT", 20*time.Second),
		},
		Jobs: JobsConfig{
			Workers:         getEnvAsInt("JOBS_WORKERS", 4),
			PollInterval:    getEnvAsDuration("JOBS_POLL_INTERVAL", time.Second),
			HungAfter:       getEnvAsDuration("JOBS_HUNG_AFTER", 30*time.Minute),
			JanitorInterval: getEnvAsDuration("JOBS_JANITOR_INTERVAL", 10*time.Minute),
			RetryMin:        getEnvAsDuration("JOBS_RETRY_MIN", time.Minute),
			RetryMax:        getEnvAsDuration("JOBS_RETRY_MAX", 5*time.Minute),
			MaxAttempts:     getEnvAsInt("JOBS_MAX_ATTEMPTS", 5),
		},
		Pricing: PricingConfig{
			DefaultFeePercent: getEnvAsFloat("PRICING_DEFAULT_FEE_PERCENT", 15),
			CosineThreshold:   getEnvAsFloat("PRICING_COSINE_THRESHOLD", 0.2),
			RulesFile:         getEnv("PRICING_RULES_FILE", "./configs/rules.yaml"),
		},
		Feeds: FeedsConfig{
			ExportInterval: getEnvAsDuration("FEEDS_EXPORT_INTERVAL", 5*time.Minute),
			BatchSize:      getEnvAsInt("FEEDS_BATCH_SIZE", 500),
		},
		Seed: SeedConfig{
			Enabled:          getEnvAsBool("SEED_ENABLED", true),
			AccountName:      getEnv("SEED_ACCOUNT_NAME", "default"),
			SellerID:         getEnv("SEED_SELLER_ID", getEnv("MARKETPLACE_SELLER_ID", "")),
			MarketplaceCode:  getEnv("SEED_MARKETPLACE_CODE", "A13V1IB3VIYZZH"),
			Country:          getEnv("SEED_COUNTRY", "FR"),
			Currency:         getEnv("SEED_CURRENCY", "EUR"),
			OperatorUsername: getEnv("SEED_OPERATOR_USERNAME", "admin"),
			OperatorPassword: getEnv("SEED_OPERATOR_PASSWORD", ""),
		},
	}

	return config, config.Validate()
}

func (c *Config) Validate() error {
	if c.JWT.SecretKey == defaultJWTSecret && c.Environment == "production" {
		return fmt.Errorf("JWT secret key must be changed in production")
	}

	if c.Database.Password == "" && c.Environment == "production" {
		return fmt.Errorf("database password is required in production")
	}

	if c.Jobs.RetryMin > c.Jobs.RetryMax {
		return fmt.Errorf("job retry window is inverted: min %s > max %s", c.Jobs.RetryMin, c.Jobs.RetryMax)
	}

	if c.Jobs.Workers <= 0 {
		return fmt.Errorf("job worker count must be positive, got %d", c.Jobs.Workers)
	}

	if strings.EqualFold(c.Marketplace.Adapter, "http") && c.Marketplace.BaseURL == "" {
		return fmt.Errorf("MARKETPLACE_BASE_URL is required with the http adapter")
	}

	if c.Pricing.DefaultFeePercent < 0 || c.Pricing.DefaultFeePercent >= 100 {
		return fmt.Errorf("default fee percent must be in [0, 100), got %v", c.Pricing.DefaultFeePercent)
	}

	return nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(strings.ToLower(value)); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// getEnvAsDuration accepts Go durations ("90s") or a plain number of seconds.
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
