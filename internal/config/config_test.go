package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper to set env vars and clean up after
func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old := os.Getenv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if old == "" {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, old)
		}
	})
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultEnv, cfg.Env)
	assert.Equal(t, DefaultMinFlexPayment, cfg.MinFlexPayment)
	assert.Equal(t, DefaultNothingBps, cfg.FlexNothingBps)
	assert.Equal(t, DefaultItemBpsMin, cfg.FlexItemBpsMin)
	assert.Equal(t, DefaultItemBpsMax, cfg.FlexItemBpsMax)
	assert.Equal(t, DefaultMaxPoolItems, cfg.MaxPoolItems)
	assert.Equal(t, 100*time.Millisecond, cfg.VRFDeliveryDelay)
}

func TestLoad_Overrides(t *testing.T) {
	setEnv(t, "PORT", "9090")
	setEnv(t, "MIN_FLEX_PAYMENT", "2.50")
	setEnv(t, "FLEX_NOTHING_BPS", "4000")
	setEnv(t, "VRF_DELIVERY_DELAY", "2s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "2.50", cfg.MinFlexPayment)
	assert.Equal(t, 4000, cfg.FlexNothingBps)
	assert.Equal(t, 2*time.Second, cfg.VRFDeliveryDelay)
}

func TestLoad_InvalidMinPayment(t *testing.T) {
	setEnv(t, "MIN_FLEX_PAYMENT", "not-a-number")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "MIN_FLEX_PAYMENT")
}

func TestConfig_Validate(t *testing.T) {
	valid := Config{
		MinFlexPayment:     "1.00",
		FlexNothingBps:     5000,
		FlexItemBpsMin:     100,
		FlexItemBpsMax:     2000,
		FlexItemBpsPerUnit: 50,
		FlexBasePayout:     "0.25",
		FlexPayoutRateBps:  5000,
		MaxPoolItems:       500,
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: "",
		},
		{
			name:    "zero min payment",
			mutate:  func(c *Config) { c.MinFlexPayment = "0" },
			wantErr: "MIN_FLEX_PAYMENT",
		},
		{
			name:    "bad base payout",
			mutate:  func(c *Config) { c.FlexBasePayout = "abc" },
			wantErr: "FLEX_BASE_PAYOUT",
		},
		{
			name:    "bps out of range",
			mutate:  func(c *Config) { c.FlexNothingBps = 10001 },
			wantErr: "between 0 and 10000",
		},
		{
			name:    "item bps floor above cap",
			mutate:  func(c *Config) { c.FlexItemBpsMin = 3000 },
			wantErr: "must not exceed",
		},
		{
			name:    "negative per-unit growth",
			mutate:  func(c *Config) { c.FlexItemBpsPerUnit = -1 },
			wantErr: "FLEX_ITEM_BPS_PER_UNIT",
		},
		{
			name:    "zero pool cap",
			mutate:  func(c *Config) { c.MaxPoolItems = 0 },
			wantErr: "MAX_POOL_ITEMS",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConfig_IsDevelopment(t *testing.T) {
	cfg := &Config{Env: "development"}
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())

	cfg.Env = "production"
	assert.False(t, cfg.IsDevelopment())
	assert.True(t, cfg.IsProduction())
}

func TestGetEnv(t *testing.T) {
	setEnv(t, "TEST_VAR", "custom_value")

	assert.Equal(t, "custom_value", getEnv("TEST_VAR", "default"))
	assert.Equal(t, "default", getEnv("NONEXISTENT_VAR", "default"))
}

func TestGetEnvInt(t *testing.T) {
	setEnv(t, "TEST_INT", "42")
	setEnv(t, "TEST_INVALID", "not_a_number")

	assert.Equal(t, 42, getEnvInt("TEST_INT", 0))
	assert.Equal(t, 99, getEnvInt("NONEXISTENT_VAR", 99))
	assert.Equal(t, 99, getEnvInt("TEST_INVALID", 99)) // Falls back on parse error
}
