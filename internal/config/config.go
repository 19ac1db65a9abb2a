package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for our application
type Config struct {
	Server    ServerConfig    `mapstructure:",squash"`
	Database  DatabaseConfig  `mapstructure:",squash"`
	Redis     RedisConfig     `mapstructure:",squash"`
	Scheduler SchedulerConfig `mapstructure:",squash"`
	Logging   LoggingConfig   `mapstructure:",squash"`
	Billing   BillingConfig   `mapstructure:",squash"`
	Health    HealthConfig    `mapstructure:",squash"`
}

type ServerConfig struct {
	Port         string        `mapstructure:"SERVER_PORT"`
	Host         string        `mapstructure:"SERVER_HOST"`
	Env          string        `mapstructure:"ENV"`
	ReadTimeout  time.Duration `mapstructure:"SERVER_READ_TIMEOUT"`
	WriteTimeout time.Duration `mapstructure:"SERVER_WRITE_TIMEOUT"`
}

type DatabaseConfig struct {
	URL             string        `mapstructure:"DATABASE_URL"`
	MaxOpenConns    int           `mapstructure:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `mapstructure:"DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `mapstructure:"DATABASE_CONN_MAX_LIFETIME"`
	AutoMigrate     bool          `mapstructure:"DATABASE_AUTO_MIGRATE"`
}

type RedisConfig struct {
	Host     string `mapstructure:"REDIS_HOST"`
	Port     string `mapstructure:"REDIS_PORT"`
	Password string `mapstructure:"REDIS_PASSWORD"`
	DB       int    `mapstructure:"REDIS_DB"`
}

type SchedulerConfig struct {
	SweepInterval  string `mapstructure:"SWEEP_INTERVAL"`
	SweepBatchSize int    `mapstructure:"SWEEP_BATCH_SIZE"`
	Timezone       string `mapstructure:"SCHEDULER_TIMEZONE"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"LOG_LEVEL"`
	Format string `mapstructure:"LOG_FORMAT"`
}

// BillingConfig holds the policy constants of the ledger and the payment request envelope.
type BillingConfig struct {
	PaymentRequestTTL       string `mapstructure:"PAYMENT_REQUEST_TTL"`
	UniqueCodeMin           int    `mapstructure:"UNIQUE_CODE_MIN"`
	UniqueCodeMax           int    `mapstructure:"UNIQUE_CODE_MAX"`
	UniqueCodeAttempts      int    `mapstructure:"UNIQUE_CODE_ATTEMPTS"`
	DefaultReceivingAccount string `mapstructure:"DEFAULT_RECEIVING_ACCOUNT"`
	IdempotencyLease        string `mapstructure:"IDEMPOTENCY_LEASE"`
	IdempotencyTTL          string `mapstructure:"IDEMPOTENCY_TTL"`
	IdempotencyWait         string `mapstructure:"IDEMPOTENCY_WAIT"`
}

type HealthConfig struct {
	Timeout string `mapstructure:"HEALTH_CHECK_TIMEOUT"`
}

// Load reads configuration from environment variables and files
func Load() (*Config, error) {
	// .env is optional; real environment variables win over it
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// Validate configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("ENV", "development")
	v.SetDefault("SERVER_READ_TIMEOUT", "15s")
	v.SetDefault("SERVER_WRITE_TIMEOUT", "15s")

	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("DATABASE_MAX_OPEN_CONNS", 25)
	v.SetDefault("DATABASE_MAX_IDLE_CONNS", 5)
	v.SetDefault("DATABASE_CONN_MAX_LIFETIME", "5m")
	v.SetDefault("DATABASE_AUTO_MIGRATE", true)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("SWEEP_INTERVAL", "1m")
	v.SetDefault("SWEEP_BATCH_SIZE", 200)
	v.SetDefault("SCHEDULER_TIMEZONE", "Asia/Jakarta")

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("PAYMENT_REQUEST_TTL", "15m")
	v.SetDefault("UNIQUE_CODE_MIN", 1)
	v.SetDefault("UNIQUE_CODE_MAX", 999)
	v.SetDefault("UNIQUE_CODE_ATTEMPTS", 25)
	v.SetDefault("DEFAULT_RECEIVING_ACCOUNT", "main")
	v.SetDefault("IDEMPOTENCY_LEASE", "30s")
	v.SetDefault("IDEMPOTENCY_TTL", "24h")
	v.SetDefault("IDEMPOTENCY_WAIT", "3s")

	v.SetDefault("HEALTH_CHECK_TIMEOUT", "5s")
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("SERVER_PORT is required")
	}

	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Billing.UniqueCodeMin <= 0 {
		return fmt.Errorf("UNIQUE_CODE_MIN must be greater than 0")
	}

	if c.Billing.UniqueCodeMax < c.Billing.UniqueCodeMin {
		return fmt.Errorf("UNIQUE_CODE_MAX must not be lower than UNIQUE_CODE_MIN")
	}

	if c.Billing.UniqueCodeAttempts <= 0 {
		return fmt.Errorf("UNIQUE_CODE_ATTEMPTS must be greater than 0")
	}

	if c.Billing.DefaultReceivingAccount == "" {
		return fmt.Errorf("DEFAULT_RECEIVING_ACCOUNT is required")
	}

	if c.Scheduler.SweepBatchSize <= 0 {
		return fmt.Errorf("SWEEP_BATCH_SIZE must be greater than 0")
	}

	durations := map[string]string{
		"PAYMENT_REQUEST_TTL":  c.Billing.PaymentRequestTTL,
		"IDEMPOTENCY_LEASE":    c.Billing.IdempotencyLease,
		"IDEMPOTENCY_TTL":      c.Billing.IdempotencyTTL,
		"IDEMPOTENCY_WAIT":     c.Billing.IdempotencyWait,
		"SWEEP_INTERVAL":       c.Scheduler.SweepInterval,
		"HEALTH_CHECK_TIMEOUT": c.Health.Timeout,
	}
	for key, value := range durations {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("%s must be a valid duration: %w", key, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}

	if c.GetIdempotencyLease() < c.GetIdempotencyWait() {
		return fmt.Errorf("IDEMPOTENCY_LEASE must not be shorter than IDEMPOTENCY_WAIT")
	}

	if c.GetIdempotencyLease() > c.GetIdempotencyTTL() {
		return fmt.Errorf("IDEMPOTENCY_LEASE must not be longer than IDEMPOTENCY_TTL")
	}

	return nil
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development" || c.Server.Env == "dev"
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production" || c.Server.Env == "prod"
}

// GetPaymentRequestTTL returns how long a payment request stays payable
func (c *Config) GetPaymentRequestTTL() time.Duration {
	d, _ := time.ParseDuration(c.Billing.PaymentRequestTTL)
	return d
}

// GetIdempotencyLease returns how long an unfinished reservation blocks its key
func (c *Config) GetIdempotencyLease() time.Duration {
	d, _ := time.ParseDuration(c.Billing.IdempotencyLease)
	return d
}

func (c *Config) GetIdempotencyTTL() time.Duration {
	d, _ := time.ParseDuration(c.Billing.IdempotencyTTL)
	return d
}

func (c *Config) GetIdempotencyWait() time.Duration {
	d, _ := time.ParseDuration(c.Billing.IdempotencyWait)
	return d
}

// GetSweepSpec returns the cron spec for the expiration sweeper
func (c *Config) GetSweepSpec() string {
	return "@every " + c.Scheduler.SweepInterval
}

// GetHealthTimeout returns the health check timeout as duration
func (c *Config) GetHealthTimeout() time.Duration {
	timeout, _ := time.ParseDuration(c.Health.Timeout)
	return timeout
}

// RedisAddr returns host:port for the redis client
func (c *Config) RedisAddr() string {
	return c.Redis.Host + ":" + c.Redis.Port
}
