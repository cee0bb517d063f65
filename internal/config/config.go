// Package config loads service configuration from environment variables,
// with an optional YAML file overlay for deployment-managed settings.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	App       AppConfig
	Server    ServerConfig
	Database  DatabaseConfig // primary datastore
	SecDB     DatabaseConfig // secondary datastore
	Redis     RedisConfig
	Log       LogConfig
	Worker    WorkerConfig
	Ingestion IngestionConfig
	Control   ControlConfig
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Name string
	Env  string
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Host         string
	Port         int
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string
	Format string
}

// WorkerConfig holds background worker configuration.
type WorkerConfig struct {
	Concurrency int
}

// IngestionConfig holds tunables for the ingestion core.
type IngestionConfig struct {
	// AutoResolveBudget caps how many vulnerabilities one reconciliation
	// run may close automatically.
	AutoResolveBudget int

	// ReconcileBatchSize is the vulnerability-read batch size used while
	// diffing previously detected vulnerabilities.
	ReconcileBatchSize int

	// SearchIndexingEnabled toggles best-effort index tracking after a
	// slice commits.
	SearchIndexingEnabled bool

	// ContinuousScanSchedule is the cron expression driving SBOM-derived
	// continuous vulnerability scans. Empty disables the scheduler.
	ContinuousScanSchedule string

	// DefaultVulnerabilityQuota applies to projects without an explicit
	// quota row. Zero leaves such projects unenforced.
	DefaultVulnerabilityQuota int
}

// ControlConfig holds external-control webhook configuration.
type ControlConfig struct {
	RequestTimeout time.Duration
	// TimeoutAfter is the delay before a pending external control is
	// considered timed out and the delayed job fires.
	TimeoutAfter time.Duration
	// RatePerSecond limits outbound webhook deliveries.
	RatePerSecond float64
	RateBurst     int
}

// Load loads configuration from environment variables. When INGEST_CONFIG_FILE
// points at a YAML file, its values are applied before the environment so
// env vars always win.
func Load() (*Config, error) {
	cfg := &Config{
		App: AppConfig{
			Name: getEnv("APP_NAME", "report-ingest"),
			Env:  getEnv("APP_ENV", "development"),
		},
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:     getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			User:            getEnv("DB_USER", "ingest"),
			Password:        getEnv("DB_PASSWORD", "secret"),
			Name:            getEnv("DB_NAME", "ingest"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		SecDB: DatabaseConfig{
			Host:            getEnv("SEC_DB_HOST", "localhost"),
			Port:            getEnvInt("SEC_DB_PORT", 5432),
			User:            getEnv("SEC_DB_USER", "ingest"),
			Password:        getEnv("SEC_DB_PASSWORD", "secret"),
			Name:            getEnv("SEC_DB_NAME", "ingest_sec"),
			SSLMode:         getEnv("SEC_DB_SSLMODE", "disable"),
			MaxOpenConns:    getEnvInt("SEC_DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getEnvInt("SEC_DB_MAX_IDLE_CONNS", 2),
			ConnMaxLifetime: getEnvDuration("SEC_DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			Host:         getEnv("REDIS_HOST", "localhost"),
			Port:         getEnvInt("REDIS_PORT", 6379),
			Password:     getEnv("REDIS_PASSWORD", ""),
			DB:           getEnvInt("REDIS_DB", 0),
			PoolSize:     getEnvInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getEnvInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Worker: WorkerConfig{
			Concurrency: getEnvInt("WORKER_CONCURRENCY", 10),
		},
		Ingestion: IngestionConfig{
			AutoResolveBudget:      getEnvInt("INGEST_AUTO_RESOLVE_BUDGET", 1000),
			ReconcileBatchSize:     getEnvInt("INGEST_RECONCILE_BATCH_SIZE", 1000),
			SearchIndexingEnabled:  getEnvBool("INGEST_SEARCH_INDEXING", true),
			ContinuousScanSchedule: getEnv("INGEST_CONTINUOUS_SCAN_SCHEDULE", ""),
			DefaultVulnerabilityQuota: getEnvInt("INGEST_DEFAULT_QUOTA", 0),
		},
		Control: ControlConfig{
			RequestTimeout: getEnvDuration("CONTROL_REQUEST_TIMEOUT", 30*time.Second),
			TimeoutAfter:   getEnvDuration("CONTROL_TIMEOUT_AFTER", 31*time.Minute),
			RatePerSecond:  getEnvFloat("CONTROL_RATE_PER_SECOND", 5),
			RateBurst:      getEnvInt("CONTROL_RATE_BURST", 10),
		},
	}

	if path := os.Getenv("INGEST_CONFIG_FILE"); path != "" {
		if err := applyFile(cfg, path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// fileOverlay mirrors the YAML shape of deployment-managed settings. Only
// a subset of the configuration is file-addressable.
type fileOverlay struct {
	Ingestion struct {
		AutoResolveBudget      *int    `yaml:"auto_resolve_budget"`
		ReconcileBatchSize     *int    `yaml:"reconcile_batch_size"`
		SearchIndexingEnabled  *bool   `yaml:"search_indexing_enabled"`
		ContinuousScanSchedule *string `yaml:"continuous_scan_schedule"`
	} `yaml:"ingestion"`
	Control struct {
		TimeoutAfter  *time.Duration `yaml:"timeout_after"`
		RatePerSecond *float64       `yaml:"rate_per_second"`
	} `yaml:"control"`
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var overlay fileOverlay
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	if v := overlay.Ingestion.AutoResolveBudget; v != nil {
		cfg.Ingestion.AutoResolveBudget = *v
	}
	if v := overlay.Ingestion.ReconcileBatchSize; v != nil {
		cfg.Ingestion.ReconcileBatchSize = *v
	}
	if v := overlay.Ingestion.SearchIndexingEnabled; v != nil {
		cfg.Ingestion.SearchIndexingEnabled = *v
	}
	if v := overlay.Ingestion.ContinuousScanSchedule; v != nil {
		cfg.Ingestion.ContinuousScanSchedule = *v
	}
	if v := overlay.Control.TimeoutAfter; v != nil {
		cfg.Control.TimeoutAfter = *v
	}
	if v := overlay.Control.RatePerSecond; v != nil {
		cfg.Control.RatePerSecond = *v
	}

	return nil
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Ingestion.AutoResolveBudget < 0 {
		return fmt.Errorf("auto resolve budget must be non-negative, got %d", c.Ingestion.AutoResolveBudget)
	}
	if c.Ingestion.ReconcileBatchSize < 1 {
		return fmt.Errorf("reconcile batch size must be positive, got %d", c.Ingestion.ReconcileBatchSize)
	}
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("worker concurrency must be positive, got %d", c.Worker.Concurrency)
	}
	if c.Control.TimeoutAfter <= 0 {
		return fmt.Errorf("control timeout must be positive, got %s", c.Control.TimeoutAfter)
	}
	return nil
}

// DSN returns the database connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// Addr returns the Redis address.
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Addr returns the HTTP server address.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IsProduction returns true if the application is in production mode.
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if dur, err := time.ParseDuration(value); err == nil {
			return dur
		}
	}
	return defaultValue
}
