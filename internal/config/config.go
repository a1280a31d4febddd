package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Config holds all app configuration
type Config struct {
	// Server
	Port           string
	AllowedOrigins []string
	AuthEnabled    bool
	LogLevel       string

	// Database
	DBDriver   string // sqlite or postgres
	DBPath     string
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Price simulator
	PriceTickInterval time.Duration
	MaxTickVariation  decimal.Decimal
	PriceFetchLatency time.Duration

	// Risk thresholds, in percent
	LiquidationPercent decimal.Decimal
	CautionPercent     decimal.Decimal

	// Simulated delays and toast lifetime
	NotificationTTL time.Duration
	WalletDelay     time.Duration
	SupplyDelay     time.Duration
}

// Load reads the environment, after an optional .env file
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logrus.Debug("No .env file found")
	}
	return FromEnv()
}

// FromEnv builds the configuration from environment variables only
func FromEnv() (*Config, error) {
	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		AllowedOrigins: getEnvAsSlice("ALLOWED_ORIGINS", []string{"http://localhost:3000"}, ","),
		AuthEnabled:    getEnvAsBool("AUTH_ENABLED", false),
		LogLevel:       getEnv("LOG_LEVEL", "info"),

		DBDriver:   strings.ToLower(getEnv("DB_DRIVER", "sqlite")),
		DBPath:     getEnv("DB_PATH", "file:nebulalend?mode=memory&cache=shared"),
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", ""),
		DBName:     getEnv("DB_NAME", "nebulalend"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		PriceTickInterval: getEnvAsDuration("PRICE_TICK_INTERVAL", 10*time.Second),
		MaxTickVariation:  getEnvAsDecimal("PRICE_MAX_TICK_VARIATION", decimal.RequireFromString("0.01")),
		PriceFetchLatency: getEnvAsDuration("PRICE_FETCH_LATENCY", 0),

		LiquidationPercent: getEnvAsDecimal("RISK_LIQUIDATION_PERCENT", decimal.NewFromInt(110)),
		CautionPercent:     getEnvAsDecimal("RISK_CAUTION_PERCENT", decimal.NewFromInt(150)),

		NotificationTTL: getEnvAsDuration("NOTIFICATION_TTL", 5*time.Second),
		WalletDelay:     getEnvAsDuration("WALLET_CONNECT_DELAY", 2*time.Second),
		SupplyDelay:     getEnvAsDuration("SUPPLY_DELAY", 2*time.Second),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the services cannot start with
func (c *Config) Validate() error {
	var errs []error
	if c.DBDriver != "sqlite" && c.DBDriver != "postgres" {
		errs = append(errs, fmt.Errorf("DB_DRIVER must be sqlite or postgres, got %q", c.DBDriver))
	}
	if c.PriceTickInterval <= 0 {
		errs = append(errs, errors.New("PRICE_TICK_INTERVAL must be positive"))
	}
	if !c.MaxTickVariation.IsPositive() || c.MaxTickVariation.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		errs = append(errs, fmt.Errorf("PRICE_MAX_TICK_VARIATION must be in (0, 1), got %s", c.MaxTickVariation))
	}
	if !c.LiquidationPercent.LessThan(c.CautionPercent) {
		errs = append(errs, fmt.Errorf("RISK_LIQUIDATION_PERCENT %s must be below RISK_CAUTION_PERCENT %s",
			c.LiquidationPercent, c.CautionPercent))
	}
	if c.NotificationTTL <= 0 {
		errs = append(errs, errors.New("NOTIFICATION_TTL must be positive"))
	}
	return errors.Join(errs...)
}

// PostgresDSN returns the connection string for the postgres driver
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort, c.DBSSLMode)
}

func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return value
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if val, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return val
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if val, err := time.ParseDuration(getEnv(key, "")); err == nil {
		return val
	}
	return defaultVal
}

func getEnvAsDecimal(key string, defaultVal decimal.Decimal) decimal.Decimal {
	if val, err := decimal.NewFromString(getEnv(key, "")); err == nil {
		return val
	}
	return defaultVal
}

func getEnvAsSlice(key string, defaultVal []string, sep string) []string {
	valStr := getEnv(key, "")
	if valStr == "" {
		return defaultVal
	}
	var out []string
	for _, v := range strings.Split(valStr, sep) {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
