// Package config handles loading and validating configuration from environment
// variables, an optional .env file and the YAML provider catalog.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/bigdegenenergy/open-cloud-ops/optimizer/pkg/models"
)

// Storage drivers for cost records.
const (
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
)

// Config holds all configuration for the optimizer service.
type Config struct {
	// Server
	Port           string
	AllowedOrigins []string

	// Logging
	LogLevel      string
	LogFormat     string // "text" or "json"
	LogFile       string // empty = stderr only
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int

	// API keys for callers of this service
	AdminAPIKey  string // Required for management endpoints; empty = disabled
	ClientAPIKey string // Required for optimize/recommend when set; empty = open

	// Optimizer
	Enabled         bool
	DefaultProvider models.Provider
	ProviderTimeout time.Duration
	HealthInterval  time.Duration
	ProvidersFile   string // YAML provider catalog; empty = built-in defaults

	// Cost record storage
	StorageDriver string
	SQLitePath    string
	DatabaseURL   string // overrides the POSTGRES_* parts when set
	QueryTimeout  time.Duration

	// Database
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string

	// Redis (budget limit overrides, API rate limiting); empty host = disabled
	RedisHost     string
	RedisPort     int
	RedisPassword string

	// Rate limit for /api/v1/optimize per API caller, requests per minute; 0 = off
	RateLimitPerMinute int

	// Budget limits for organizations without their own; 0 = unlimited
	DefaultDailyLimitUSD   float64
	DefaultMonthlyLimitUSD float64

	// Provider API keys (never written to logs or YAML)
	OpenAIKey    string
	AnthropicKey string
	GeminiKey    string
	QwenKey      string
}

// LoadDotEnv loads variables from the given .env files (default ".env")
// without overriding ones already set. A missing file is not an error.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("loading %s: %w", f, err)
		}
	}
	return nil
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Port:      getEnv("OPTIMIZER_PORT", "8080"),
		LogLevel:  getEnv("OPTIMIZER_LOG_LEVEL", "info"),
		LogFormat: getEnv("OPTIMIZER_LOG_FORMAT", "text"),
		LogFile:   os.Getenv("OPTIMIZER_LOG_FILE"),

		AdminAPIKey:  os.Getenv("OPTIMIZER_ADMIN_API_KEY"),
		ClientAPIKey: os.Getenv("OPTIMIZER_API_KEY"),

		Enabled:         getEnv("OPTIMIZER_ENABLED", "true") == "true",
		DefaultProvider: models.Provider(getEnv("OPTIMIZER_DEFAULT_PROVIDER", string(models.ProviderOpenAI))),
		ProvidersFile:   os.Getenv("OPTIMIZER_PROVIDERS_FILE"),

		StorageDriver: getEnv("OPTIMIZER_STORAGE", StorageSQLite),
		SQLitePath:    getEnv("OPTIMIZER_SQLITE_PATH", "optimizer.db"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),

		DBHost:     getEnv("POSTGRES_HOST", "localhost"),
		DBName:     getEnv("POSTGRES_DB", "opencloudops"),
		DBUser:     getEnv("POSTGRES_USER", "oco_user"),
		DBPassword: getEnv("POSTGRES_PASSWORD", ""),
		DBSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		RedisHost:     os.Getenv("REDIS_HOST"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		OpenAIKey:    os.Getenv("OPENAI_API_KEY"),
		AnthropicKey: os.Getenv("ANTHROPIC_API_KEY"),
		GeminiKey:    os.Getenv("GOOGLE_API_KEY"),
		QwenKey:      os.Getenv("DASHSCOPE_API_KEY"),
	}

	for _, o := range strings.Split(getEnv("OPTIMIZER_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
		}
	}

	var err error
	ints := []struct {
		key, def string
		dst      *int
	}{
		{"POSTGRES_PORT", "5432", &cfg.DBPort},
		{"REDIS_PORT", "6379", &cfg.RedisPort},
		{"OPTIMIZER_RATE_LIMIT_PER_MINUTE", "120", &cfg.RateLimitPerMinute},
		{"OPTIMIZER_LOG_MAX_SIZE_MB", "100", &cfg.LogMaxSizeMB},
		{"OPTIMIZER_LOG_MAX_BACKUPS", "5", &cfg.LogMaxBackups},
		{"OPTIMIZER_LOG_MAX_AGE_DAYS", "28", &cfg.LogMaxAgeDays},
	}
	for _, v := range ints {
		if *v.dst, err = strconv.Atoi(getEnv(v.key, v.def)); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", v.key, err)
		}
	}

	durations := []struct {
		key, def string
		dst      *time.Duration
	}{
		{"OPTIMIZER_PROVIDER_TIMEOUT", "30s", &cfg.ProviderTimeout},
		{"OPTIMIZER_HEALTH_INTERVAL", "1m", &cfg.HealthInterval},
		{"OPTIMIZER_QUERY_TIMEOUT", "5s", &cfg.QueryTimeout},
	}
	for _, v := range durations {
		if *v.dst, err = time.ParseDuration(getEnv(v.key, v.def)); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", v.key, err)
		}
	}

	floats := []struct {
		key string
		dst *float64
	}{
		{"OPTIMIZER_DEFAULT_DAILY_LIMIT_USD", &cfg.DefaultDailyLimitUSD},
		{"OPTIMIZER_DEFAULT_MONTHLY_LIMIT_USD", &cfg.DefaultMonthlyLimitUSD},
	}
	for _, v := range floats {
		if *v.dst, err = strconv.ParseFloat(getEnv(v.key, "0"), 64); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", v.key, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.StorageDriver {
	case StorageSQLite, StoragePostgres:
	default:
		return fmt.Errorf("config: OPTIMIZER_STORAGE must be %q or %q, got %q", StorageSQLite, StoragePostgres, c.StorageDriver)
	}
	if c.DefaultProvider == "" {
		return errors.New("config: OPTIMIZER_DEFAULT_PROVIDER is required")
	}
	if c.ProviderTimeout <= 0 {
		return errors.New("config: OPTIMIZER_PROVIDER_TIMEOUT must be positive")
	}
	if c.DefaultDailyLimitUSD < 0 || c.DefaultMonthlyLimitUSD < 0 {
		return errors.New("config: default budget limits must not be negative")
	}
	return nil
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.sslMode())
}

// RedactedDSN returns the DSN with the password masked for safe logging.
func (c *Config) RedactedDSN() string {
	if c.DatabaseURL != "" {
		return "DATABASE_URL (redacted)"
	}
	return fmt.Sprintf("postgres://%s:***@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBHost, c.DBPort, c.DBName, c.sslMode())
}

func (c *Config) sslMode() string {
	if c.DBSSLMode == "" {
		return "disable"
	}
	return c.DBSSLMode
}

// RedisAddr returns the Redis address in host:port format, or "" when Redis
// is not configured.
func (c *Config) RedisAddr() string {
	if c.RedisHost == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

// DefaultLimits returns the budget limits applied to organizations without
// their own.
func (c *Config) DefaultLimits() models.BudgetLimits {
	return models.BudgetLimits{DailyLimitUSD: c.DefaultDailyLimitUSD, MonthlyLimitUSD: c.DefaultMonthlyLimitUSD}
}

// APIKeys maps providers to their configured API keys.
func (c *Config) APIKeys() map[models.Provider]string {
	return map[models.Provider]string{
		models.ProviderOpenAI:    c.OpenAIKey,
		models.ProviderAnthropic: c.AnthropicKey,
		models.ProviderGemini:    c.GeminiKey,
		models.ProviderQwen:      c.QwenKey,
	}
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
