package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"tradeledger/internal/adapters/logger" // Import the logger package for LogLevel
)

// Config holds all application configuration.
type Config struct {
	// Binance valuation feed
	APIKey    string
	SecretKey string
	IsTestnet bool

	// Valuation loop
	ValuationInterval time.Duration // How often open positions are marked to market
	ValuationMaxAge   time.Duration // Quotes older than this are discarded

	// Database
	DBPath string

	// Logging
	LogLevel   logger.LogLevel // Use the LogLevel type from the logger adapter
	LogBackend string          // "std" or "zap"
}

// fileConfig mirrors Config for the optional YAML file. Environment variables
// override file values.
type fileConfig struct {
	APIKey            string `yaml:"api_key"`
	SecretKey         string `yaml:"secret_key"`
	IsTestnet         *bool  `yaml:"is_testnet"`
	ValuationInterval string `yaml:"valuation_interval"`
	ValuationMaxAge   string `yaml:"valuation_max_age"`
	DBPath            string `yaml:"db_path"`
	LogLevel          string `yaml:"log_level"`
	LogBackend        string `yaml:"log_backend"`
}

// LoadConfig loads configuration from the YAML file named by LEDGER_CONFIG
// (if set) and environment variables (.env supported), env winning.
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{
		IsTestnet:         true, // Default to testnet for safety
		ValuationInterval: 15 * time.Second,
		ValuationMaxAge:   time.Minute,
		DBPath:            "./data/ledger.db",
		LogLevel:          logger.LevelInfo,
		LogBackend:        "std",
	}

	if path := os.Getenv("LEDGER_CONFIG"); path != "" {
		if err := applyFile(cfg, path); err != nil {
			return nil, err
		}
	}

	var errs []string // Collect validation errors

	cfg.APIKey = getEnv("BINANCE_API_KEY", cfg.APIKey)
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", cfg.SecretKey)
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", cfg.IsTestnet)
	cfg.DBPath = getEnv("DB_PATH", cfg.DBPath)
	cfg.LogBackend = strings.ToLower(getEnv("LOG_BACKEND", cfg.LogBackend))
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		cfg.LogLevel = logger.ParseLevel(lvl)
	}

	var err error
	cfg.ValuationInterval, err = getEnvAsDuration("VALUATION_INTERVAL", cfg.ValuationInterval)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid VALUATION_INTERVAL: %v", err))
	} else if cfg.ValuationInterval <= 0 {
		errs = append(errs, "VALUATION_INTERVAL must be positive")
	}

	cfg.ValuationMaxAge, err = getEnvAsDuration("VALUATION_MAX_AGE", cfg.ValuationMaxAge)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid VALUATION_MAX_AGE: %v", err))
	} else if cfg.ValuationMaxAge <= 0 {
		errs = append(errs, "VALUATION_MAX_AGE must be positive")
	}

	if cfg.LogBackend != "std" && cfg.LogBackend != "zap" {
		errs = append(errs, fmt.Sprintf("LOG_BACKEND must be 'std' or 'zap', got %q", cfg.LogBackend))
	}
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

// applyFile overlays YAML file values onto cfg.
func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if fc.APIKey != "" {
		cfg.APIKey = fc.APIKey
	}
	if fc.SecretKey != "" {
		cfg.SecretKey = fc.SecretKey
	}
	if fc.IsTestnet != nil {
		cfg.IsTestnet = *fc.IsTestnet
	}
	if fc.DBPath != "" {
		cfg.DBPath = fc.DBPath
	}
	if fc.LogLevel != "" {
		cfg.LogLevel = logger.ParseLevel(fc.LogLevel)
	}
	if fc.LogBackend != "" {
		cfg.LogBackend = strings.ToLower(fc.LogBackend)
	}
	if fc.ValuationInterval != "" {
		d, err := time.ParseDuration(fc.ValuationInterval)
		if err != nil {
			return fmt.Errorf("invalid valuation_interval in %s: %w", path, err)
		}
		cfg.ValuationInterval = d
	}
	if fc.ValuationMaxAge != "" {
		d, err := time.ParseDuration(fc.ValuationMaxAge)
		if err != nil {
			return fmt.Errorf("invalid valuation_max_age in %s: %w", path, err)
		}
		cfg.ValuationMaxAge = d
	}
	return nil
}

// --- Env Helpers ---

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) (time.Duration, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback, nil
	}
	return time.ParseDuration(value)
}
