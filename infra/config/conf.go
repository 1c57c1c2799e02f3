package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

type CKey string

type Config struct {
	Validator *validator.Validate
}

// AppConfig represents the application configuration
type AppConfig struct {
	Port             string
	AppURL           string
	APIKey           string
	IPWhitelist      []string
	Environment      string
	DatabaseURL      string
	DatabaseDriver   string
	OpenSearchURL    string
	OpenSearchUser   string
	OpenSearchPass   string
	EnableLogging    bool
	LoggingLevel     string
	RateLimitPerMin  int
	PaymentProvider  string
	ProviderTimeout  time.Duration
	RegistryCapacity int
	Reconciliation   ReconciliationConfig
}

// ReconciliationConfig holds the pending payment sweep settings
type ReconciliationConfig struct {
	Timeout       time.Duration
	Interval      time.Duration
	SweepInterval time.Duration
	BatchSize     int
	CacheCapacity int
}

var instance *Config

func App() *Config {
	if instance == nil {
		instance = &Config{
			Validator: validator.New(),
		}
	}
	return instance
}

// LoadAppConfig reads the application configuration from the environment
func LoadAppConfig() *AppConfig {
	return &AppConfig{
		Port:             GetEnv("APP_PORT", "9999"),
		AppURL:           GetEnv("APP_URL", "http://localhost:9999"),
		APIKey:           GetEnv("API_KEY", ""),
		IPWhitelist:      GetListEnv("IP_WHITELIST"),
		Environment:      GetEnv("ENVIRONMENT", "development"),
		DatabaseURL:      GetEnv("DATABASE_URL", "donatepay.db"),
		DatabaseDriver:   GetEnv("DB_DRIVER", "sqlite"),
		OpenSearchURL:    GetEnv("OPENSEARCH_URL", "http://localhost:9200"),
		OpenSearchUser:   GetEnv("OPENSEARCH_USER", ""),
		OpenSearchPass:   GetEnv("OPENSEARCH_PASSWORD", ""),
		EnableLogging:    GetBoolEnv("ENABLE_OPENSEARCH_LOGGING", false),
		LoggingLevel:     GetEnv("LOGGING_LEVEL", "info"),
		RateLimitPerMin:  GetIntEnv("RATE_LIMIT_PER_MINUTE", 120),
		PaymentProvider:  GetEnv("PAYMENT_PROVIDER", ""),
		ProviderTimeout:  GetDurationEnv("PROVIDER_HTTP_TIMEOUT", 30*time.Second),
		RegistryCapacity: GetIntEnv("PROVIDER_REGISTRY_CAPACITY", 10),
		Reconciliation: ReconciliationConfig{
			Timeout:       GetDurationEnv("RECONCILIATION_TIMEOUT", 15*time.Minute),
			Interval:      GetDurationEnv("RECONCILIATION_INTERVAL", 3*time.Minute),
			SweepInterval: GetDurationEnv("RECONCILIATION_SWEEP_INTERVAL", 20*time.Minute),
			BatchSize:     GetIntEnv("RECONCILIATION_BATCH_SIZE", 100),
			CacheCapacity: GetIntEnv("RECONCILIATION_CACHE_CAPACITY", 1000),
		},
	}
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetListEnv splits a comma separated variable, dropping empty items
func GetListEnv(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// GetBoolEnv returns the boolean value of an environment variable or a default value
func GetBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// GetIntEnv returns the integer value of an environment variable or a default value
func GetIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// GetDurationEnv accepts Go duration strings ("15m") or plain minutes ("15").
func GetDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if parsed, err := time.ParseDuration(value); err == nil && parsed > 0 {
		return parsed
	}
	if minutes, err := strconv.Atoi(value); err == nil && minutes > 0 {
		return time.Duration(minutes) * time.Minute
	}
	return defaultValue
}
