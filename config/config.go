package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds all application configuration.
type Config struct {
	// Binance API
	APIKey     string
	SecretKey  string
	IsTestnet  bool
	QuoteAsset string

	// Database
	DBPath string

	// Logging
	LogLevel      string
	LogPretty     bool
	LogFile       string // Empty disables file output
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int

	// Metrics
	MetricsEnabled bool

	// Exchange call guards
	ExchangeRateLimit      float64 // Requests per second
	ExchangeMaxRetries     int
	ExchangeBreakerTimeout time.Duration

	// HTTP
	HTTPAddr    string
	CORSOrigins []string

	// Ledger core
	PositionQueryTimeout  time.Duration
	InstrumentCacheTTL    time.Duration
	FallbackDecimals      int32
	ScaleMarker           string
	ScaleFactor           decimal.Decimal
	ScaleRatioThreshold   decimal.Decimal
	MissingPositionPolicy string

	// Snapshots and simulation
	SnapshotSchedule   string // cron spec with seconds; empty disables the scheduler
	SimulationSlippage decimal.Decimal
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string

	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", true) // Default to testnet for safety
	cfg.QuoteAsset = strings.ToUpper(getEnv("QUOTE_ASSET", "USDT"))

	cfg.DBPath = getEnv("DB_PATH", "./data/hyperhook.db")

	cfg.LogLevel = getEnv("LOG_LEVEL", "info")
	switch strings.ToLower(getEnv("LOG_FORMAT", "json")) {
	case "json":
	case "console", "pretty":
		cfg.LogPretty = true
	default:
		errs = append(errs, "LOG_FORMAT must be json or console")
	}

	cfg.LogFile = getEnv("LOG_FILE", "")
	for _, v := range []struct {
		key string
		def int
		dst *int
	}{
		{"LOG_MAX_SIZE_MB", 100, &cfg.LogMaxSizeMB},
		{"LOG_MAX_BACKUPS", 5, &cfg.LogMaxBackups},
		{"LOG_MAX_AGE_DAYS", 30, &cfg.LogMaxAgeDays},
	} {
		n, err := getEnvAsIntRequired(v.key, v.def)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid %s: %v", v.key, err))
		} else if n < 0 {
			errs = append(errs, v.key+" must not be negative")
		}
		*v.dst = n
	}

	cfg.MetricsEnabled = getEnvAsBool("METRICS_ENABLED", true)

	rateLimit, err := getEnvAsDecimalRequired("EXCHANGE_RATE_LIMIT", decimal.NewFromInt(10))
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid EXCHANGE_RATE_LIMIT: %v", err))
	} else if !rateLimit.IsPositive() {
		errs = append(errs, "EXCHANGE_RATE_LIMIT must be positive")
	}
	cfg.ExchangeRateLimit = rateLimit.InexactFloat64()

	cfg.ExchangeMaxRetries, err = getEnvAsIntRequired("EXCHANGE_MAX_RETRIES", 3)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid EXCHANGE_MAX_RETRIES: %v", err))
	} else if cfg.ExchangeMaxRetries < 1 {
		errs = append(errs, "EXCHANGE_MAX_RETRIES must be at least 1")
	}

	breakerSeconds, err := getEnvAsIntRequired("EXCHANGE_BREAKER_TIMEOUT_SECONDS", 30)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid EXCHANGE_BREAKER_TIMEOUT_SECONDS: %v", err))
	} else if breakerSeconds <= 0 {
		errs = append(errs, "EXCHANGE_BREAKER_TIMEOUT_SECONDS must be positive")
	}
	cfg.ExchangeBreakerTimeout = time.Duration(breakerSeconds) * time.Second

	cfg.HTTPAddr = getEnv("HTTP_ADDR", ":8080")
	cfg.CORSOrigins = getEnvAsList("CORS_ORIGINS", []string{"*"})

	timeoutMs, err := getEnvAsIntRequired("POSITION_QUERY_TIMEOUT_MS", 5000)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid POSITION_QUERY_TIMEOUT_MS: %v", err))
	} else if timeoutMs <= 0 {
		errs = append(errs, "POSITION_QUERY_TIMEOUT_MS must be positive")
	}
	cfg.PositionQueryTimeout = time.Duration(timeoutMs) * time.Millisecond

	ttlSeconds, err := getEnvAsIntRequired("INSTRUMENT_CACHE_TTL_SECONDS", 600)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid INSTRUMENT_CACHE_TTL_SECONDS: %v", err))
	} else if ttlSeconds <= 0 {
		errs = append(errs, "INSTRUMENT_CACHE_TTL_SECONDS must be positive")
	}
	cfg.InstrumentCacheTTL = time.Duration(ttlSeconds) * time.Second

	decimals, err := getEnvAsIntRequired("FALLBACK_DECIMALS", 2)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid FALLBACK_DECIMALS: %v", err))
	} else if decimals < 0 || decimals > 18 {
		errs = append(errs, "FALLBACK_DECIMALS must be between 0 and 18")
	}
	cfg.FallbackDecimals = int32(decimals)

	cfg.ScaleMarker = getEnv("SCALE_MARKER", "k")

	cfg.ScaleFactor, err = getEnvAsDecimalRequired("SCALE_FACTOR", decimal.NewFromFloat(0.001))
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid SCALE_FACTOR: %v", err))
	} else if !cfg.ScaleFactor.IsPositive() {
		errs = append(errs, "SCALE_FACTOR must be positive")
	}

	cfg.ScaleRatioThreshold, err = getEnvAsDecimalRequired("SCALE_RATIO_THRESHOLD", decimal.NewFromInt(100))
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid SCALE_RATIO_THRESHOLD: %v", err))
	} else if cfg.ScaleRatioThreshold.LessThanOrEqual(decimal.NewFromInt(1)) {
		errs = append(errs, "SCALE_RATIO_THRESHOLD must be greater than 1")
	}

	cfg.MissingPositionPolicy = strings.ToLower(getEnv("MISSING_POSITION_POLICY", "synthesize"))
	if cfg.MissingPositionPolicy != "synthesize" && cfg.MissingPositionPolicy != "reject" {
		errs = append(errs, "MISSING_POSITION_POLICY must be synthesize or reject")
	}

	cfg.SnapshotSchedule = getEnv("SNAPSHOT_SCHEDULE", "0 0 * * * *") // Hourly

	cfg.SimulationSlippage, err = getEnvAsDecimalRequired("SIMULATION_SLIPPAGE", decimal.NewFromFloat(0.005))
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid SIMULATION_SLIPPAGE: %v", err))
	} else if cfg.SimulationSlippage.IsNegative() || cfg.SimulationSlippage.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		errs = append(errs, "SIMULATION_SLIPPAGE must be between 0.0 and 1.0")
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		// Return error if env var is set but invalid
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsDecimalRequired(key string, defaultValue decimal.Decimal) (decimal.Decimal, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := decimal.NewFromString(strings.TrimSpace(valueStr))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
