package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all configuration for the accrual engine
type Config struct {
	// Redis configuration
	RedisURL string

	// Database configuration
	DBName     string
	DBHost     string
	DBUser     string
	DBPassword string
	DBPort     string
	DBSSLMode  string

	// Wallet bridge configuration
	WalletBridgeURL      string
	WalletSubmitTimeout  time.Duration
	WalletValidityWindow time.Duration

	// Accrual configuration
	TickInterval    time.Duration
	MaxTickGap      time.Duration
	MaxOfflineGap   time.Duration
	EarningsCeiling decimal.Decimal
	ROITiers        []ROITier
	TimeMultipliers []TimeMultiplier

	// Sync configuration
	SyncInterval   time.Duration
	SyncMinGap     time.Duration
	SyncMaxPerHour int
	SyncFlushAfter int

	// Deposit/withdrawal configuration
	MinDeposit        decimal.Decimal
	StakeDestination  string
	ReferralPercent   decimal.Decimal
	WithdrawCooldown  time.Duration
	ConfirmRetries    int
	ConfirmRetryDelay time.Duration

	// Logging configuration
	LogLevel string

	// Metrics configuration
	MetricsPort string
}

// ROITier maps a minimum stake to a daily ROI percentage.
type ROITier struct {
	MinStake decimal.Decimal
	DailyROI decimal.Decimal // percent per day, e.g. 2.5
}

// TimeMultiplier scales the tier rate once a stake has aged past MinDays.
type TimeMultiplier struct {
	MinDays    int
	Multiplier decimal.Decimal
}

// Load reads configuration from environment variables and validates it
func Load() (Config, error) {
	cfg := Config{
		RedisURL:         getEnv("REDIS_URL", "redis://localhost:6379"),
		DBName:           getEnv("DB_NAME", ""),
		DBHost:           getEnv("DB_HOST", ""),
		DBUser:           getEnv("DB_USER", ""),
		DBPassword:       getEnv("DB_PASSWORD", ""),
		DBPort:           getEnv("DB_PORT", "5432"),
		DBSSLMode:        getEnv("DB_SSL_MODE", "disable"),
		WalletBridgeURL:  getEnv("WALLET_BRIDGE_URL", ""),
		StakeDestination: getEnv("STAKE_DESTINATION", ""),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		MetricsPort:      getEnv("METRICS_PORT", "9100"),
	}

	var err error
	cfg.WalletSubmitTimeout, err = parseDurationEnv("WALLET_SUBMIT_TIMEOUT", 90*time.Second)
	if err != nil {
		return cfg, fmt.Errorf("invalid WALLET_SUBMIT_TIMEOUT: %w", err)
	}

	cfg.WalletValidityWindow, err = parseDurationEnv("WALLET_VALIDITY_WINDOW", 20*time.Minute)
	if err != nil {
		return cfg, fmt.Errorf("invalid WALLET_VALIDITY_WINDOW: %w", err)
	}

	cfg.TickInterval, err = parseDurationEnv("TICK_INTERVAL", time.Second)
	if err != nil {
		return cfg, fmt.Errorf("invalid TICK_INTERVAL: %w", err)
	}

	cfg.MaxTickGap, err = parseDurationEnv("MAX_TICK_GAP", 3*time.Hour)
	if err != nil {
		return cfg, fmt.Errorf("invalid MAX_TICK_GAP: %w", err)
	}

	cfg.MaxOfflineGap, err = parseDurationEnv("MAX_OFFLINE_GAP", 7*24*time.Hour)
	if err != nil {
		return cfg, fmt.Errorf("invalid MAX_OFFLINE_GAP: %w", err)
	}

	cfg.SyncInterval, err = parseDurationEnv("SYNC_INTERVAL", 30*time.Second)
	if err != nil {
		return cfg, fmt.Errorf("invalid SYNC_INTERVAL: %w", err)
	}

	cfg.SyncMinGap, err = parseDurationEnv("SYNC_MIN_GAP", 20*time.Second)
	if err != nil {
		return cfg, fmt.Errorf("invalid SYNC_MIN_GAP: %w", err)
	}

	cfg.SyncMaxPerHour, err = parseIntEnv("SYNC_MAX_PER_HOUR", 40)
	if err != nil {
		return cfg, fmt.Errorf("invalid SYNC_MAX_PER_HOUR: %w", err)
	}

	cfg.SyncFlushAfter, err = parseIntEnv("SYNC_FLUSH_AFTER", 10)
	if err != nil {
		return cfg, fmt.Errorf("invalid SYNC_FLUSH_AFTER: %w", err)
	}

	cfg.WithdrawCooldown, err = parseDurationEnv("WITHDRAW_COOLDOWN", 24*time.Hour)
	if err != nil {
		return cfg, fmt.Errorf("invalid WITHDRAW_COOLDOWN: %w", err)
	}

	cfg.ConfirmRetries, err = parseIntEnv("CONFIRM_RETRIES", 3)
	if err != nil {
		return cfg, fmt.Errorf("invalid CONFIRM_RETRIES: %w", err)
	}

	cfg.ConfirmRetryDelay, err = parseDurationEnv("CONFIRM_RETRY_DELAY", 500*time.Millisecond)
	if err != nil {
		return cfg, fmt.Errorf("invalid CONFIRM_RETRY_DELAY: %w", err)
	}

	cfg.MinDeposit, err = parseDecimalEnv("MIN_DEPOSIT", "1")
	if err != nil {
		return cfg, fmt.Errorf("invalid MIN_DEPOSIT: %w", err)
	}

	cfg.ReferralPercent, err = parseDecimalEnv("REFERRAL_PERCENT", "10")
	if err != nil {
		return cfg, fmt.Errorf("invalid REFERRAL_PERCENT: %w", err)
	}

	cfg.EarningsCeiling, err = parseDecimalEnv("EARNINGS_CEILING", "1000000")
	if err != nil {
		return cfg, fmt.Errorf("invalid EARNINGS_CEILING: %w", err)
	}

	cfg.ROITiers, err = parseROITiers(getEnv("ROI_TIERS", "1000:3,500:2.5,100:2,50:1.5,0:1"))
	if err != nil {
		return cfg, fmt.Errorf("invalid ROI_TIERS: %w", err)
	}

	cfg.TimeMultipliers, err = parseTimeMultipliers(getEnv("TIME_MULTIPLIERS", "31:1.25,8:1.1,0:1"))
	if err != nil {
		return cfg, fmt.Errorf("invalid TIME_MULTIPLIERS: %w", err)
	}

	// Validate configuration
	if err := cfg.validate(); err != nil {
		return cfg, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// validate checks that the configuration is valid
func (c Config) validate() error {
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.DBName == "" {
		return fmt.Errorf("DB_NAME is required")
	}

	if c.WalletBridgeURL == "" {
		return fmt.Errorf("WALLET_BRIDGE_URL is required")
	}

	if c.StakeDestination == "" {
		return fmt.Errorf("STAKE_DESTINATION is required")
	}

	if c.ReferralPercent.Sign() < 0 {
		return fmt.Errorf("REFERRAL_PERCENT must be non-negative")
	}

	if c.TickInterval <= 0 {
		return fmt.Errorf("TICK_INTERVAL must be positive")
	}

	if c.SyncMinGap <= 0 {
		return fmt.Errorf("SYNC_MIN_GAP must be positive")
	}

	if c.SyncMaxPerHour < 1 {
		return fmt.Errorf("SYNC_MAX_PER_HOUR must be at least 1")
	}

	if c.SyncFlushAfter < 1 {
		return fmt.Errorf("SYNC_FLUSH_AFTER must be at least 1")
	}

	if c.MinDeposit.Sign() <= 0 {
		return fmt.Errorf("MIN_DEPOSIT must be positive")
	}

	if c.EarningsCeiling.Sign() <= 0 {
		return fmt.Errorf("EARNINGS_CEILING must be positive")
	}

	if len(c.ROITiers) == 0 {
		return fmt.Errorf("at least one ROI tier is required")
	}

	if len(c.TimeMultipliers) == 0 {
		return fmt.Errorf("at least one time multiplier band is required")
	}

	validLogLevels := map[string]bool{
		"trace": true,
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
		"fatal": true,
		"panic": true,
	}

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("invalid LOG_LEVEL: %s (must be one of: trace, debug, info, warn, error, fatal, panic)", c.LogLevel)
	}

	return nil
}

// parseROITiers parses a "minStake:dailyPercent,..." list, sorted by
// descending minimum stake so lookups take the first matching tier.
func parseROITiers(s string) ([]ROITier, error) {
	entries := strings.Split(s, ",")
	tiers := make([]ROITier, 0, len(entries))

	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		parts := strings.SplitN(entry, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("malformed tier entry %q", entry)
		}

		minStake, err := decimal.NewFromString(strings.TrimSpace(parts[0]))
		if err != nil {
			return nil, fmt.Errorf("malformed tier stake %q: %w", parts[0], err)
		}

		roi, err := decimal.NewFromString(strings.TrimSpace(parts[1]))
		if err != nil {
			return nil, fmt.Errorf("malformed tier ROI %q: %w", parts[1], err)
		}

		if minStake.Sign() < 0 || roi.Sign() < 0 {
			return nil, fmt.Errorf("tier entry %q must be non-negative", entry)
		}

		tiers = append(tiers, ROITier{MinStake: minStake, DailyROI: roi})
	}

	sort.Slice(tiers, func(i, j int) bool {
		return tiers[i].MinStake.GreaterThan(tiers[j].MinStake)
	})

	return tiers, nil
}

// parseTimeMultipliers parses a "minDays:multiplier,..." list, sorted by
// descending minimum days.
func parseTimeMultipliers(s string) ([]TimeMultiplier, error) {
	entries := strings.Split(s, ",")
	bands := make([]TimeMultiplier, 0, len(entries))

	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		parts := strings.SplitN(entry, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("malformed multiplier entry %q", entry)
		}

		minDays, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			return nil, fmt.Errorf("malformed multiplier days %q: %w", parts[0], err)
		}

		mult, err := decimal.NewFromString(strings.TrimSpace(parts[1]))
		if err != nil {
			return nil, fmt.Errorf("malformed multiplier value %q: %w", parts[1], err)
		}

		if minDays < 0 || mult.Sign() <= 0 {
			return nil, fmt.Errorf("multiplier entry %q out of range", entry)
		}

		bands = append(bands, TimeMultiplier{MinDays: minDays, Multiplier: mult})
	}

	sort.Slice(bands, func(i, j int) bool {
		return bands[i].MinDays > bands[j].MinDays
	})

	return bands, nil
}

// getEnv retrieves an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseIntEnv parses an integer environment variable with a default value
func parseIntEnv(key string, defaultValue int) (int, error) {
	str := os.Getenv(key)
	if str == "" {
		return defaultValue, nil
	}
	return strconv.Atoi(str)
}

// parseDurationEnv parses a duration environment variable with a default value
func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	str := os.Getenv(key)
	if str == "" {
		return defaultValue, nil
	}
	return time.ParseDuration(str)
}

// parseDecimalEnv parses a decimal environment variable with a default value
func parseDecimalEnv(key, defaultValue string) (decimal.Decimal, error) {
	str := os.Getenv(key)
	if str == "" {
		str = defaultValue
	}
	return decimal.NewFromString(str)
}
