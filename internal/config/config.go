// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/lootlabs/drawpool/internal/token"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Observability
	OTLPEndpoint string // OTLP gRPC endpoint for traces (optional)

	// Flex draw settings. These are the operator-tunable odds; every open
	// flex draw snapshots them, so changing them never affects a draw that
	// was already paid for.
	MinFlexPayment     string // Minimum payment for a flex draw (e.g. "1.00")
	FlexNothingBps     int    // Chance (bps) a flex draw pays nothing
	FlexItemBpsMin     int    // Item chance floor (bps) at minimum payment
	FlexItemBpsMax     int    // Item chance cap (bps), anti-whale bound
	FlexItemBpsPerUnit int    // Extra item bps per whole token paid above minimum
	FlexBasePayout     string // Base fungible payout (e.g. "0.50")
	FlexPayoutRateBps  int    // Extra payout as bps of the payment amount

	// Pool settings
	MaxPoolItems int // Deposit-time ceiling on items per pool (selection is a linear scan)

	// Randomness
	VRFDeliveryDelay time.Duration // Local provider delivery delay (dev mode)

	// Security
	RateLimitRPS int
	AdminSecret  string // Operator API secret
}

const (
	DefaultPort           = "8080"
	DefaultEnv            = "development"
	DefaultLogLevel       = "info"
	DefaultMinFlexPayment = "1.00"
	DefaultNothingBps     = 5000
	DefaultItemBpsMin     = 100
	DefaultItemBpsMax     = 2000
	DefaultItemBpsPerUnit = 50
	DefaultBasePayout     = "0.25"
	DefaultPayoutRateBps  = 5000
	DefaultMaxPoolItems   = 500
	DefaultRateLimit      = 100
)

// Load reads configuration from environment variables.
// It loads .env file if present (for local development).
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", DefaultPort),
		Env:                getEnv("ENV", DefaultEnv),
		LogLevel:           getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:          getEnv("LOG_FORMAT", "text"),
		DatabaseURL:        os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		OTLPEndpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		MinFlexPayment:     getEnv("MIN_FLEX_PAYMENT", DefaultMinFlexPayment),
		FlexNothingBps:     getEnvInt("FLEX_NOTHING_BPS", DefaultNothingBps),
		FlexItemBpsMin:     getEnvInt("FLEX_ITEM_BPS_MIN", DefaultItemBpsMin),
		FlexItemBpsMax:     getEnvInt("FLEX_ITEM_BPS_MAX", DefaultItemBpsMax),
		FlexItemBpsPerUnit: getEnvInt("FLEX_ITEM_BPS_PER_UNIT", DefaultItemBpsPerUnit),
		FlexBasePayout:     getEnv("FLEX_BASE_PAYOUT", DefaultBasePayout),
		FlexPayoutRateBps:  getEnvInt("FLEX_PAYOUT_RATE_BPS", DefaultPayoutRateBps),
		MaxPoolItems:       getEnvInt("MAX_POOL_ITEMS", DefaultMaxPoolItems),
		VRFDeliveryDelay:   getEnvDuration("VRF_DELIVERY_DELAY", 100*time.Millisecond),
		RateLimitRPS:       getEnvInt("RATE_LIMIT_RPS", DefaultRateLimit),
		AdminSecret:        os.Getenv("ADMIN_SECRET"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present and coherent.
func (c *Config) Validate() error {
	if amt, ok := token.Parse(c.MinFlexPayment); !ok || amt.Sign() <= 0 {
		return fmt.Errorf("MIN_FLEX_PAYMENT must be a positive token amount, got %q", c.MinFlexPayment)
	}
	if _, ok := token.Parse(c.FlexBasePayout); !ok {
		return fmt.Errorf("FLEX_BASE_PAYOUT must be a token amount, got %q", c.FlexBasePayout)
	}
	for name, bps := range map[string]int{
		"FLEX_NOTHING_BPS":     c.FlexNothingBps,
		"FLEX_ITEM_BPS_MIN":    c.FlexItemBpsMin,
		"FLEX_ITEM_BPS_MAX":    c.FlexItemBpsMax,
		"FLEX_PAYOUT_RATE_BPS": c.FlexPayoutRateBps,
	} {
		if bps < 0 || bps > 10000 {
			return fmt.Errorf("%s must be between 0 and 10000, got %d", name, bps)
		}
	}
	if c.FlexItemBpsMin > c.FlexItemBpsMax {
		return fmt.Errorf("FLEX_ITEM_BPS_MIN (%d) must not exceed FLEX_ITEM_BPS_MAX (%d)",
			c.FlexItemBpsMin, c.FlexItemBpsMax)
	}
	if c.FlexItemBpsPerUnit < 0 {
		return fmt.Errorf("FLEX_ITEM_BPS_PER_UNIT must not be negative")
	}
	if c.MaxPoolItems <= 0 {
		return fmt.Errorf("MAX_POOL_ITEMS must be positive")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
