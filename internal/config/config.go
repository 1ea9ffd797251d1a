// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the full service configuration.
type Config struct {
	Service    ServiceConfig
	Server     ServerConfig
	Store      StoreConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	NATS       NATSConfig
	MasterData MasterDataConfig
	Oracle     OracleConfig
	Approval   ApprovalConfig
	Payment    PaymentConfig
	Validation ValidationConfig
	Pipeline   PipelineConfig
}

type ServiceConfig struct {
	Name        string
	Version     string
	Environment string
	LogLevel    string
}

type ServerConfig struct {
	Port            int
	GRPCPort        int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	RequestTimeout  time.Duration
}

// StoreConfig selects the WorkflowState backend: memory, postgres or redis.
type StoreConfig struct {
	Driver string
}

type DatabaseConfig struct {
	Host        string
	Port        int
	User        string
	Password    string
	Database    string
	SSLMode     string
	MaxConns    int
	MinConns    int
	MaxConnTime time.Duration
	MaxIdleTime time.Duration
	HealthCheck time.Duration
}

type RedisConfig struct {
	Addr           string
	Password       string
	DB             int
	IdempotencyTTL time.Duration
}

// NATSConfig is optional; an empty URL disables event publishing.
type NATSConfig struct {
	URL    string
	Stream string
}

// MasterDataConfig points at the inventory, vendor and purchase-order store.
type MasterDataConfig struct {
	Driver string
	DSN    string
	Seed   bool
}

type OracleConfig struct {
	BaseURL   string
	APIKey    string
	Model     string
	Timeout   time.Duration
	MaxTokens int
}

type ApprovalConfig struct {
	AmountThreshold    float64
	ExecutiveThreshold float64
	CriticalVariance   int
	PendingTTL         time.Duration
	SweepInterval      time.Duration
}

type PaymentConfig struct {
	SingleTransactionLimit float64
	BlockedVendors         []string
}

type ValidationConfig struct {
	POTolerance float64
}

type PipelineConfig struct {
	Concurrency int
}

// Load reads the configuration and validates it.
func Load() (*Config, error) {
	cfg := &Config{
		Service: ServiceConfig{
			Name:        getEnv("SERVICE_NAME", "ap-invoice-pipeline"),
			Version:     getEnv("SERVICE_VERSION", "0.1.0"),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
		},
		Server: ServerConfig{
			Port:            getEnvInt("PORT", 8085),
			GRPCPort:        getEnvInt("GRPC_PORT", 9085),
			ReadTimeout:     getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("SERVER_WRITE_TIMEOUT", 5*time.Minute),
			IdleTimeout:     getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			RequestTimeout:  getEnvDuration("SERVER_REQUEST_TIMEOUT", 2*time.Minute),
		},
		Store: StoreConfig{
			Driver: strings.ToLower(getEnv("STATE_STORE", "memory")),
		},
		Database: DatabaseConfig{
			Host:        getEnv("DB_HOST", "localhost"),
			Port:        getEnvInt("DB_PORT", 5432),
			User:        getEnv("DB_USER", "postgres"),
			Password:    getEnv("DB_PASSWORD", "postgres"),
			Database:    getEnv("DB_NAME", "ap_invoice_pipeline"),
			SSLMode:     getEnv("DB_SSLMODE", "disable"),
			MaxConns:    getEnvInt("DB_MAX_CONNS", 10),
			MinConns:    getEnvInt("DB_MIN_CONNS", 1),
			MaxConnTime: getEnvDuration("DB_MAX_CONN_LIFETIME", time.Hour),
			MaxIdleTime: getEnvDuration("DB_MAX_CONN_IDLE", 30*time.Minute),
			HealthCheck: getEnvDuration("DB_HEALTH_CHECK", time.Minute),
		},
		Redis: RedisConfig{
			Addr:           getEnv("REDIS_ADDR", "localhost:6379"),
			Password:       getEnv("REDIS_PASSWORD", ""),
			DB:             getEnvInt("REDIS_DB", 0),
			IdempotencyTTL: getEnvDuration("IDEMPOTENCY_TTL", 24*time.Hour),
		},
		NATS: NATSConfig{
			URL:    getEnv("NATS_URL", ""),
			Stream: getEnv("NATS_STREAM", "AP_INVOICE_EVENTS"),
		},
		MasterData: MasterDataConfig{
			Driver: strings.ToLower(getEnv("MASTER_DATA_DRIVER", "sqlite")),
			DSN:    getEnv("MASTER_DATA_DSN", "invoice_master.db"),
			Seed:   getEnvBool("MASTER_DATA_SEED", true),
		},
		Oracle: OracleConfig{
			BaseURL:   getEnv("ORACLE_BASE_URL", "https://api.x.ai/v1"),
			APIKey:    getEnv("XAI_API_KEY", ""),
			Model:     getEnv("ORACLE_MODEL", "grok-4-1-fast-reasoning"),
			Timeout:   getEnvDuration("ORACLE_TIMEOUT", 60*time.Second),
			MaxTokens: getEnvInt("ORACLE_MAX_TOKENS", 1500),
		},
		Approval: ApprovalConfig{
			AmountThreshold:    getEnvFloat("APPROVAL_AMOUNT_THRESHOLD", 10000),
			ExecutiveThreshold: getEnvFloat("APPROVAL_EXECUTIVE_THRESHOLD", 50000),
			CriticalVariance:   getEnvInt("CRITICAL_VARIANCE_THRESHOLD", -100),
			PendingTTL:         getEnvDuration("PENDING_APPROVAL_TTL", 0),
			SweepInterval:      getEnvDuration("EXPIRY_SWEEP_INTERVAL", 5*time.Minute),
		},
		Payment: PaymentConfig{
			SingleTransactionLimit: getEnvFloat("PAYMENT_SINGLE_TX_LIMIT", 50000),
			BlockedVendors:         getEnvList("PAYMENT_BLOCKED_VENDORS", []string{"Fraudster"}),
		},
		Validation: ValidationConfig{
			POTolerance: getEnvFloat("PO_MATCH_TOLERANCE", 0.05),
		},
		Pipeline: PipelineConfig{
			Concurrency: getEnvInt("PIPELINE_CONCURRENCY", 4),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "memory", "postgres", "redis":
	default:
		return fmt.Errorf("STATE_STORE must be memory, postgres or redis, got %q", c.Store.Driver)
	}
	switch c.MasterData.Driver {
	case "sqlite", "mysql":
	default:
		return fmt.Errorf("MASTER_DATA_DRIVER must be sqlite or mysql, got %q", c.MasterData.Driver)
	}
	if c.Approval.AmountThreshold <= 0 {
		return fmt.Errorf("APPROVAL_AMOUNT_THRESHOLD must be positive")
	}
	if c.Approval.ExecutiveThreshold < c.Approval.AmountThreshold {
		return fmt.Errorf("APPROVAL_EXECUTIVE_THRESHOLD must be at least APPROVAL_AMOUNT_THRESHOLD")
	}
	if c.Approval.CriticalVariance >= 0 {
		return fmt.Errorf("CRITICAL_VARIANCE_THRESHOLD must be negative")
	}
	if c.Approval.PendingTTL < 0 {
		return fmt.Errorf("PENDING_APPROVAL_TTL must not be negative")
	}
	if c.Approval.PendingTTL > 0 && c.Approval.SweepInterval <= 0 {
		return fmt.Errorf("EXPIRY_SWEEP_INTERVAL must be positive when PENDING_APPROVAL_TTL is set")
	}
	if c.Payment.SingleTransactionLimit <= 0 {
		return fmt.Errorf("PAYMENT_SINGLE_TX_LIMIT must be positive")
	}
	if c.Validation.POTolerance < 0 || c.Validation.POTolerance >= 1 {
		return fmt.Errorf("PO_MATCH_TOLERANCE must be in [0, 1)")
	}
	if c.Pipeline.Concurrency < 1 {
		return fmt.Errorf("PIPELINE_CONCURRENCY must be at least 1")
	}
	return nil
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an environment variable as int or returns a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if result, err := strconv.Atoi(value); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if result, err := strconv.ParseFloat(value, 64); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if result, err := strconv.ParseBool(value); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if result, err := time.ParseDuration(value); err == nil {
			return result
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated variable, dropping empty entries.
func getEnvList(key string, defaultValue []string) []string {
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
