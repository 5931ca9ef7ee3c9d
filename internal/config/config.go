package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Defaults used when the environment does not override them.
const (
	DefaultPort           = "8080"
	DefaultDatabasePath   = "exchange.db"
	DefaultJWTSecret      = "exchange-secret-key"
	DefaultCommissionRate = "0.015"
	DefaultSymbols        = "BTC,ETH"
	DefaultSignupBalance  = "100000"
)

// Config carries all runtime settings. The commission rate and symbol
// allowlist are handed to the services at construction rather than read from
// globals, so tests can vary them freely.
type Config struct {
	Port           string
	DatabasePath   string
	JWTSecret      string
	CommissionRate decimal.Decimal
	Symbols        []string
	SignupBalance  decimal.Decimal
	Debug          bool
}

// Load reads configuration from the environment, after loading a .env file if
// one is present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:         getEnv("PORT", DefaultPort),
		DatabasePath: getEnv("DATABASE_PATH", DefaultDatabasePath),
		JWTSecret:    getEnv("JWT_SECRET", DefaultJWTSecret),
		Debug:        os.Getenv("DEBUG") == "true",
	}

	rate, err := decimal.NewFromString(getEnv("COMMISSION_RATE", DefaultCommissionRate))
	if err != nil {
		return nil, fmt.Errorf("invalid COMMISSION_RATE: %w", err)
	}
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("COMMISSION_RATE must be in [0, 1), got %s", rate)
	}
	cfg.CommissionRate = rate

	balance, err := decimal.NewFromString(getEnv("SIGNUP_BALANCE", DefaultSignupBalance))
	if err != nil {
		return nil, fmt.Errorf("invalid SIGNUP_BALANCE: %w", err)
	}
	cfg.SignupBalance = balance

	for _, s := range strings.Split(getEnv("SYMBOLS", DefaultSymbols), ",") {
		if s = strings.TrimSpace(s); s != "" {
			cfg.Symbols = append(cfg.Symbols, s)
		}
	}
	if len(cfg.Symbols) == 0 {
		return nil, fmt.Errorf("SYMBOLS must list at least one tradable symbol")
	}

	return cfg, nil
}

// ValidSymbol reports whether s is in the configured allowlist.
func (c *Config) ValidSymbol(s string) bool {
	for _, sym := range c.Symbols {
		if sym == s {
			return true
		}
	}
	return false
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
