package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the resilience core configuration
type Config struct {
	Database   DatabaseConfig           `json:"database"`
	Redis      RedisConfig              `json:"redis"`
	Resilience ResilienceConfig         `json:"resilience"`
	Breakers   map[string]BreakerConfig `json:"breakers"`
	Logging    LoggingConfig            `json:"logging"`
	Metrics    MetricsConfig            `json:"metrics"`
}

// DatabaseConfig contains database connection configuration
type DatabaseConfig struct {
	Host            string         `json:"host"`
	Port            int            `json:"port"`
	Name            string         `json:"name"`
	User            string         `json:"user"`
	Password        string         `json:"password"`
	SSLMode         string         `json:"ssl_mode"`
	MaxOpenConns    int            `json:"max_open_conns"`
	MaxIdleConns    int            `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration  `json:"conn_max_lifetime"`
	ConnectTimeout  time.Duration  `json:"connect_timeout"`
	QueryTimeout    time.Duration  `json:"query_timeout"`
	Replica         *ReplicaConfig `json:"replica,omitempty"`
}

// ReplicaConfig contains read-replica connection configuration.
// Name, SSLMode and pool sizing are inherited from the primary.
type ReplicaConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
}

// RedisConfig contains Redis connection configuration
type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// ResilienceConfig contains coordinator and retry configuration
type ResilienceConfig struct {
	WriteQueueMax     int           `json:"write_queue_max"`
	MaxRetries        int           `json:"max_retries"`
	RetryInitialDelay time.Duration `json:"retry_initial_delay"`
	RetryMaxDelay     time.Duration `json:"retry_max_delay"`
	PoolSampleEvery   time.Duration `json:"pool_sample_every"`
}

// BreakerConfig contains per-dependency circuit breaker tuning
type BreakerConfig struct {
	FailureThreshold int           `json:"failure_threshold"`
	SuccessThreshold int           `json:"success_threshold"`
	Timeout          time.Duration `json:"timeout"`
	ResetTimeout     time.Duration `json:"reset_timeout"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	Output string `json:"output"`
}

// MetricsConfig contains metrics configuration
type MetricsConfig struct {
	Enabled   bool   `json:"enabled"`
	Namespace string `json:"namespace"`
	Addr      string `json:"addr"`
}

// Dependency classes with pre-tuned breaker policies. Thresholds and
// timeouts are matched to each dependency's expected latency and failure
// shape; overridable per class via BREAKER_<CLASS>_* env vars.
const (
	BreakerStreaming   = "streaming"
	BreakerExternalAPI = "external-api"
	BreakerDatabase    = "database"
	BreakerRedis       = "redis"
	BreakerChatAPI     = "chat-api"
	BreakerSearchAPI   = "search-api"
)

// DefaultBreakers returns the built-in per-dependency breaker tuning
func DefaultBreakers() map[string]BreakerConfig {
	return map[string]BreakerConfig{
		// Media streaming backends stall for long stretches before failing
		BreakerStreaming:   {FailureThreshold: 3, SuccessThreshold: 2, Timeout: 15 * time.Second, ResetTimeout: 60 * time.Second},
		BreakerExternalAPI: {FailureThreshold: 5, SuccessThreshold: 2, Timeout: 10 * time.Second, ResetTimeout: 30 * time.Second},
		BreakerDatabase:    {FailureThreshold: 5, SuccessThreshold: 3, Timeout: 5 * time.Second, ResetTimeout: 15 * time.Second},
		BreakerRedis:       {FailureThreshold: 5, SuccessThreshold: 2, Timeout: 2 * time.Second, ResetTimeout: 10 * time.Second},
		BreakerChatAPI:     {FailureThreshold: 10, SuccessThreshold: 3, Timeout: 10 * time.Second, ResetTimeout: 30 * time.Second},
		BreakerSearchAPI:   {FailureThreshold: 4, SuccessThreshold: 2, Timeout: 8 * time.Second, ResetTimeout: 45 * time.Second},
	}
}

func envPrefixFor(class string) string {
	switch class {
	case BreakerExternalAPI:
		return "BREAKER_EXTERNAL_API"
	case BreakerChatAPI:
		return "BREAKER_CHAT_API"
	case BreakerSearchAPI:
		return "BREAKER_SEARCH_API"
	case BreakerStreaming:
		return "BREAKER_STREAMING"
	case BreakerRedis:
		return "BREAKER_REDIS"
	case BreakerDatabase:
		return "BREAKER_DATABASE"
	default:
		return ""
	}
}

// Load loads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	config := &Config{
		Database: DatabaseConfig{
			Host:            getEnvString("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			Name:            getEnvString("DB_NAME", "altergolden"),
			User:            getEnvString("DB_USER", "altergolden"),
			Password:        getEnvString("DB_PASSWORD", ""),
			SSLMode:         getEnvString("DB_SSL_MODE", "disable"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 20),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnectTimeout:  getEnvDuration("DB_CONNECT_TIMEOUT", 10*time.Second),
			QueryTimeout:    getEnvDuration("DB_QUERY_TIMEOUT", 30*time.Second),
		},
		Redis: RedisConfig{
			Host:     getEnvString("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnvString("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 10),
		},
		Resilience: ResilienceConfig{
			WriteQueueMax:     getEnvInt("WRITE_QUEUE_MAX", 1000),
			MaxRetries:        getEnvInt("DB_MAX_RETRIES", 3),
			RetryInitialDelay: getEnvDuration("DB_RETRY_INITIAL_DELAY", 100*time.Millisecond),
			RetryMaxDelay:     getEnvDuration("DB_RETRY_MAX_DELAY", 5*time.Second),
			PoolSampleEvery:   getEnvDuration("DB_POOL_SAMPLE_EVERY", 10*time.Second),
		},
		Breakers: loadBreakers(),
		Logging: LoggingConfig{
			Level:  getEnvString("LOG_LEVEL", "info"),
			Format: getEnvString("LOG_FORMAT", "json"),
			Output: getEnvString("LOG_OUTPUT", "stdout"),
		},
		Metrics: MetricsConfig{
			Enabled:   getEnvBool("METRICS_ENABLED", true),
			Namespace: getEnvString("METRICS_NAMESPACE", "altergolden"),
			Addr:      getEnvString("METRICS_ADDR", ":9090"),
		},
	}

	// Replica is optional; enabled only when a host is configured
	if replicaHost := getEnvString("DB_REPLICA_HOST", ""); replicaHost != "" {
		config.Database.Replica = &ReplicaConfig{
			Host:     replicaHost,
			Port:     getEnvInt("DB_REPLICA_PORT", config.Database.Port),
			User:     getEnvString("DB_REPLICA_USER", config.Database.User),
			Password: getEnvString("DB_REPLICA_PASSWORD", config.Database.Password),
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

func loadBreakers() map[string]BreakerConfig {
	breakers := DefaultBreakers()
	for class, def := range breakers {
		prefix := envPrefixFor(class)
		breakers[class] = BreakerConfig{
			FailureThreshold: getEnvInt(prefix+"_FAILURE_THRESHOLD", def.FailureThreshold),
			SuccessThreshold: getEnvInt(prefix+"_SUCCESS_THRESHOLD", def.SuccessThreshold),
			Timeout:          getEnvDuration(prefix+"_TIMEOUT", def.Timeout),
			ResetTimeout:     getEnvDuration(prefix+"_RESET_TIMEOUT", def.ResetTimeout),
		}
	}
	return breakers
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database max open connections must be positive")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database max idle connections cannot exceed max open connections")
	}
	if c.Resilience.WriteQueueMax <= 0 {
		return fmt.Errorf("write queue max must be positive")
	}
	if c.Resilience.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	for class, bc := range c.Breakers {
		if bc.FailureThreshold <= 0 || bc.SuccessThreshold <= 0 {
			return fmt.Errorf("breaker %s: thresholds must be positive", class)
		}
		if bc.ResetTimeout <= 0 {
			return fmt.Errorf("breaker %s: reset timeout must be positive", class)
		}
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
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
