package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Storage backend: "memory", "sqlite", or "redis"
	StoreBackend string
	SQLitePath   string
	RedisAddr    string
	RedisPass    string
	RedisDB      int

	// HTTP
	ServerAddr  string
	MetricsAddr string

	// Broker quote API credentials (price oracle)
	BrokerBaseURL    string
	BrokerAPIKey     string
	BrokerClientCode string
	BrokerPassword   string
	BrokerTOTPSecret string

	// Static fallback prices when no broker is configured,
	// e.g. "AAPL:150.5,MSFT:310"
	StaticPrices string

	// Push interval for the WebSocket summary stream
	SummaryInterval time.Duration

	LogLevel string
}

// Load reads configuration from environment variables with sensible defaults.
// Broker credentials are only required when a broker base URL is configured;
// without one the service runs against the static price source.
func Load() *Config {
	return &Config{
		StoreBackend: getEnv("STORE_BACKEND", "memory"),
		SQLitePath:   getEnv("SQLITE_PATH", "data/positions.db"),
		RedisAddr:    getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPass:    getEnv("REDIS_PASSWORD", ""),
		RedisDB:      getEnvInt("REDIS_DB", 0),

		ServerAddr:  getEnv("SERVER_ADDR", ":8080"),
		MetricsAddr: getEnv("METRICS_ADDR", ":9090"),

		BrokerBaseURL:    getEnv("BROKER_BASE_URL", ""),
		BrokerAPIKey:     getEnv("BROKER_API_KEY", ""),
		BrokerClientCode: getEnv("BROKER_CLIENT_CODE", ""),
		BrokerPassword:   getEnv("BROKER_PASSWORD", ""),
		BrokerTOTPSecret: getEnv("BROKER_TOTP_SECRET", ""),

		StaticPrices: getEnv("STATIC_PRICES", ""),

		SummaryInterval: getEnvDuration("SUMMARY_INTERVAL", 5*time.Second),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

// RequireBroker validates that all broker credentials are present.
// Call it only when the live price oracle is enabled.
func (c *Config) RequireBroker() {
	for key, v := range map[string]string{
		"BROKER_BASE_URL":    c.BrokerBaseURL,
		"BROKER_API_KEY":     c.BrokerAPIKey,
		"BROKER_CLIENT_CODE": c.BrokerClientCode,
		"BROKER_PASSWORD":    c.BrokerPassword,
		"BROKER_TOTP_SECRET": c.BrokerTOTPSecret,
	} {
		if v == "" {
			log.Fatalf("[config] required env var %s not set", key)
		}
	}
}

// ParseStaticPrices parses the StaticPrices string ("SYM:price,...") into a
// symbol→price map. Invalid entries are skipped with a warning.
func (c *Config) ParseStaticPrices() map[string]float64 {
	prices := make(map[string]float64)
	for _, part := range strings.Split(c.StaticPrices, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		sym, val, ok := strings.Cut(part, ":")
		if !ok {
			log.Printf("[config] skipping invalid static price entry: %q", part)
			continue
		}
		price, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil || price <= 0 {
			log.Printf("[config] skipping invalid static price entry: %q", part)
			continue
		}
		prices[strings.ToUpper(strings.TrimSpace(sym))] = price
	}
	return prices
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] ignoring invalid %s=%q", key, v)
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		log.Printf("[config] ignoring invalid %s=%q", key, v)
		return fallback
	}
	return d
}
