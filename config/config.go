// Package config loads runtime configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Ingestion IngestionConfig
	Reporting ReportingConfig
	Logger    LoggerConfig
	Security  SecurityConfig
}

type ServerConfig struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	Driver string // sqlite | mysql
	DSN    string
}

type IngestionConfig struct {
	InputDir     string
	ArchiveDir   string
	Interval     time.Duration
	Enabled      bool
	RedisAddress string // empty: in-process lock
	LockTTL      time.Duration
	LockWait     time.Duration // how long a directory pass waits for the lock
}

type ReportingConfig struct {
	FiscalYearStartMonth time.Month
	WhatsappPattern      string
	WhatsappRetroactive  bool
}

type LoggerConfig struct {
	Level  string
	Format string
}

type SecurityConfig struct {
	AllowedOrigins   []string
	IngestRateLimit  float64 // requests per second on ingestion endpoints
	IngestRateBurst  int
	EnableDemoRoutes bool
	TrustProxy       bool // take the client IP from X-Forwarded-For / X-Real-IP
}

// Load reads an optional .env file, then the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:     getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("SERVER_WRITE_TIMEOUT", 60*time.Second),
			IdleTimeout:     getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Driver: strings.ToLower(getEnvString("DB_DRIVER", "sqlite")),
			DSN:    getEnvString("DB_DSN", "dsr.db"),
		},
		Ingestion: IngestionConfig{
			InputDir:     getEnvString("DATA_INPUT_DIR", "data/incoming"),
			ArchiveDir:   getEnvString("DATA_ARCHIVE_DIR", "data/archive"),
			Interval:     getEnvDuration("INGEST_INTERVAL", time.Hour),
			Enabled:      getEnvBool("INGEST_ENABLED", true),
			RedisAddress: getEnvString("REDIS_ADDRESS", ""),
			LockTTL:      getEnvDuration("INGEST_LOCK_TTL", 10*time.Minute),
			LockWait:     getEnvDuration("INGEST_LOCK_WAIT", 30*time.Second),
		},
		Reporting: ReportingConfig{
			FiscalYearStartMonth: time.Month(getEnvInt("FISCAL_YEAR_START_MONTH", int(time.April))),
			WhatsappPattern:      getEnvString("WHATSAPP_PATTERN", "whatsapp"),
			WhatsappRetroactive:  getEnvBool("WHATSAPP_RETROACTIVE", true),
		},
		Logger: LoggerConfig{
			Level:  strings.ToLower(getEnvString("LOG_LEVEL", "info")),
			Format: strings.ToLower(getEnvString("LOG_FORMAT", "json")),
		},
		Security: SecurityConfig{
			AllowedOrigins:   getEnvStringSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173", "http://localhost:8080"}),
			IngestRateLimit:  getEnvFloat("INGEST_RATE_LIMIT_RPS", 1),
			IngestRateBurst:  getEnvInt("INGEST_RATE_LIMIT_BURST", 5),
			EnableDemoRoutes: getEnvBool("DEMO_ROUTES_ENABLED", false),
			TrustProxy:       getEnvBool("TRUST_PROXY_HEADERS", false),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.ReadTimeout <= 0 || c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server timeouts must be positive")
	}

	if c.Database.Driver != "sqlite" && c.Database.Driver != "mysql" {
		return fmt.Errorf("invalid database driver %q, must be sqlite or mysql", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database DSN cannot be empty")
	}

	if c.Ingestion.Enabled && c.Ingestion.InputDir == "" {
		return fmt.Errorf("input directory cannot be empty when ingestion is enabled")
	}
	if c.Ingestion.Interval <= 0 {
		return fmt.Errorf("ingestion interval must be positive")
	}
	if c.Ingestion.LockTTL <= 0 {
		return fmt.Errorf("ingestion lock TTL must be positive")
	}
	if c.Ingestion.LockWait <= 0 {
		return fmt.Errorf("ingestion lock wait must be positive")
	}

	if m := c.Reporting.FiscalYearStartMonth; m < time.January || m > time.December {
		return fmt.Errorf("fiscal year start month must be 1-12, got %d", m)
	}
	if strings.TrimSpace(c.Reporting.WhatsappPattern) == "" {
		return fmt.Errorf("whatsapp pattern cannot be empty")
	}

	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLogLevels, c.Logger.Level) {
		return fmt.Errorf("invalid log level %q, must be one of: %s", c.Logger.Level, strings.Join(validLogLevels, ", "))
	}
	validLogFormats := []string{"json", "text"}
	if !contains(validLogFormats, c.Logger.Format) {
		return fmt.Errorf("invalid log format %q, must be one of: %s", c.Logger.Format, strings.Join(validLogFormats, ", "))
	}

	if c.Security.IngestRateLimit <= 0 || c.Security.IngestRateBurst <= 0 {
		return fmt.Errorf("ingestion rate limit and burst must be positive")
	}
	return nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
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

func getEnvStringSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
