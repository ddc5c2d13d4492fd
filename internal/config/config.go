// Package config provides configuration for the relay.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// DefaultDatabaseParams are the SQLite connection parameters of the default
// database. WAL with a busy timeout lets concurrent writers wait for the lock;
// shared cache must stay off because its table locks fail immediately.
const DefaultDatabaseParams = "mode=rwc&_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate"

// EnvConfigFile names an optional TOML file whose values override the environment.
const EnvConfigFile = "RELAY_CONFIG"

// Config holds the relay configuration.
type Config struct {
	// Server settings
	HTTPPort int
	RPCAddr  string

	// Database
	DatabaseURL string

	// Device status service used for edge liveness checks
	LivenessURL string

	// Timeouts
	DeliveryTimeout time.Duration
	LivenessTimeout time.Duration

	// Queue
	MaxRetries       int
	BackoffBase      time.Duration
	MaxBackoff       time.Duration
	PendingBatchSize int

	// Background processor
	ProcessInterval time.Duration
	CleanupInterval time.Duration
	Retention       time.Duration

	// Delivery policy (Rego). Empty uses the built-in policy.
	PolicyFile string

	// Logging
	LogLevel  string
	LogFormat string
}

// fileConfig mirrors the TOML layout. Zero values leave the environment value untouched.
type fileConfig struct {
	Server struct {
		HTTPPort int    `toml:"http-port"`
		RPCAddr  string `toml:"rpc-addr"`
	}
	Store struct {
		DatabaseURL string `toml:"database-url"`
	}
	Liveness struct {
		URL       string `toml:"url"`
		TimeoutMs int    `toml:"timeout-ms"`
	}
	Delivery struct {
		TimeoutMs     int    `toml:"timeout-ms"`
		MaxRetries    int    `toml:"max-retries"`
		BackoffBaseMs int    `toml:"backoff-base-ms"`
		MaxBackoffMs  int    `toml:"max-backoff-ms"`
		BatchSize     int    `toml:"batch-size"`
		PolicyFile    string `toml:"policy-file"`
	}
	Processor struct {
		IntervalMs        int `toml:"interval-ms"`
		CleanupIntervalMs int `toml:"cleanup-interval-ms"`
		RetentionHours    int `toml:"retention-hours"`
	}
	Logging struct {
		Level  string
		Format string
	}
}

// Load loads configuration from a .env file (if present), environment variables
// and, when RELAY_CONFIG is set, a TOML file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := FromEnv()
	if path := os.Getenv(EnvConfigFile); path != "" {
		if err := cfg.ApplyFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv builds a Config from environment variables and defaults.
func FromEnv() *Config {
	return &Config{
		HTTPPort:         getEnvInt("HTTP_PORT", 8080),
		RPCAddr:          getEnv("RPC_ADDR", ":8091"),
		DatabaseURL:      getEnv("DATABASE_URL", "file:relay.db?"+DefaultDatabaseParams),
		LivenessURL:      getEnv("LIVENESS_URL", ""),
		DeliveryTimeout:  time.Duration(getEnvInt("DELIVERY_TIMEOUT_MS", 30000)) * time.Millisecond,
		LivenessTimeout:  time.Duration(getEnvInt("LIVENESS_TIMEOUT_MS", 5000)) * time.Millisecond,
		MaxRetries:       getEnvInt("MAX_RETRIES", 3),
		BackoffBase:      time.Duration(getEnvInt("BACKOFF_BASE_MS", 30000)) * time.Millisecond,
		MaxBackoff:       time.Duration(getEnvInt("MAX_BACKOFF_MS", 3600000)) * time.Millisecond,
		PendingBatchSize: getEnvInt("PENDING_BATCH_SIZE", 100),
		ProcessInterval:  time.Duration(getEnvInt("PROCESS_INTERVAL_MS", 10000)) * time.Millisecond,
		CleanupInterval:  time.Duration(getEnvInt("CLEANUP_INTERVAL_MS", 3600000)) * time.Millisecond,
		Retention:        time.Duration(getEnvInt("RETENTION_HOURS", 24)) * time.Hour,
		PolicyFile:       getEnv("POLICY_FILE", ""),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		LogFormat:        getEnv("LOG_FORMAT", "text"),
	}
}

// ApplyFile overlays the values found in a TOML file.
func (c *Config) ApplyFile(path string) error {
	var fc fileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	setInt(&c.HTTPPort, fc.Server.HTTPPort)
	setString(&c.RPCAddr, fc.Server.RPCAddr)
	setString(&c.DatabaseURL, fc.Store.DatabaseURL)
	setString(&c.LivenessURL, fc.Liveness.URL)
	setDuration(&c.LivenessTimeout, fc.Liveness.TimeoutMs, time.Millisecond)
	setDuration(&c.DeliveryTimeout, fc.Delivery.TimeoutMs, time.Millisecond)
	setInt(&c.MaxRetries, fc.Delivery.MaxRetries)
	setDuration(&c.BackoffBase, fc.Delivery.BackoffBaseMs, time.Millisecond)
	setDuration(&c.MaxBackoff, fc.Delivery.MaxBackoffMs, time.Millisecond)
	setInt(&c.PendingBatchSize, fc.Delivery.BatchSize)
	setString(&c.PolicyFile, fc.Delivery.PolicyFile)
	setDuration(&c.ProcessInterval, fc.Processor.IntervalMs, time.Millisecond)
	setDuration(&c.CleanupInterval, fc.Processor.CleanupIntervalMs, time.Millisecond)
	setDuration(&c.Retention, fc.Processor.RetentionHours, time.Hour)
	setString(&c.LogLevel, fc.Logging.Level)
	setString(&c.LogFormat, fc.Logging.Format)
	return nil
}

// Validate rejects values the relay cannot run with.
func (c *Config) Validate() error {
	if c.MaxRetries < 1 {
		return fmt.Errorf("max retries must be at least 1, got %d", c.MaxRetries)
	}
	if c.BackoffBase <= 0 {
		return fmt.Errorf("backoff base must be positive")
	}
	if c.MaxBackoff < c.BackoffBase {
		return fmt.Errorf("max backoff (%s) is smaller than backoff base (%s)", c.MaxBackoff, c.BackoffBase)
	}
	if c.ProcessInterval <= 0 || c.CleanupInterval <= 0 {
		return fmt.Errorf("processor intervals must be positive")
	}
	if c.PendingBatchSize < 1 {
		return fmt.Errorf("pending batch size must be at least 1")
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v int, unit time.Duration) {
	if v != 0 {
		*dst = time.Duration(v) * unit
	}
}
