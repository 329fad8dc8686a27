package common

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Queue       QueueConfig
	Pool        PoolConfig
	Supervision SupervisionConfig
	Metrics     MetricsConfig
	Ingest      IngestConfig
}

// QueueConfig holds queue-store configuration. Driver selects the backend:
// "memory" (default), "sqlite" (file-backed), or "postgres".
type QueueConfig struct {
	Driver       string
	DSN          string
	MaxQueueSize int
}

// PoolConfig holds worker-pool configuration. PoolSizes reserves a fixed
// worker budget per job type; workers left over from MaxWorkers pull any type.
type PoolConfig struct {
	MaxWorkers         int
	PoolSizes          map[string]int
	PollInterval       time.Duration
	TaskTimeout        time.Duration
	MaxRetries         int
	RetryBackoffBase   time.Duration
	RetryBackoffCap    time.Duration
	HeartbeatTimeout   time.Duration
	ErrorRateThreshold float64
	MinErrorSample     int
}

// SupervisionConfig holds the orchestrator's supervision-loop configuration.
type SupervisionConfig struct {
	HealthCheckInterval time.Duration
	JobTimeout          time.Duration // zero disables job expiry
	ShutdownTimeout     time.Duration
}

// MetricsConfig holds the Prometheus endpoint configuration.
type MetricsConfig struct {
	Addr string
}

// IngestConfig holds drop-directory ingestion configuration for the daemon.
type IngestConfig struct {
	WatchDir       string
	ScanInterval   time.Duration
	DefaultJobType string
	DefaultPriority int
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Queue: QueueConfig{
			Driver:       getEnv("QUEUE_DRIVER", "memory"),
			DSN:          getEnv("QUEUE_DSN", ""),
			MaxQueueSize: getEnvAsInt("MAX_QUEUE_SIZE", 10000),
		},
		Pool: PoolConfig{
			MaxWorkers:         getEnvAsInt("MAX_WORKERS", 8),
			PoolSizes:          getEnvAsSizeMap("POOL_SIZES"),
			PollInterval:       getEnvAsDuration("POLL_INTERVAL", 100*time.Millisecond),
			TaskTimeout:        getEnvAsDuration("TASK_TIMEOUT", 2*time.Minute),
			MaxRetries:         getEnvAsInt("MAX_RETRIES", 3),
			RetryBackoffBase:   getEnvAsDuration("RETRY_BACKOFF_BASE", time.Second),
			RetryBackoffCap:    getEnvAsDuration("RETRY_BACKOFF_CAP", time.Minute),
			HeartbeatTimeout:   getEnvAsDuration("HEARTBEAT_TIMEOUT", 5*time.Minute),
			ErrorRateThreshold: getEnvAsFloat64("ERROR_RATE_THRESHOLD", 0.9),
			MinErrorSample:     getEnvAsInt("MIN_ERROR_SAMPLE", 10),
		},
		Supervision: SupervisionConfig{
			HealthCheckInterval: getEnvAsDuration("HEALTH_CHECK_INTERVAL", 15*time.Second),
			JobTimeout:          getEnvAsDuration("JOB_TIMEOUT", 0),
			ShutdownTimeout:     getEnvAsDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Metrics: MetricsConfig{
			Addr: getEnv("METRICS_ADDR", ":9090"),
		},
		Ingest: IngestConfig{
			WatchDir:        getEnv("WATCH_DIR", ""),
			ScanInterval:    getEnvAsDuration("SCAN_INTERVAL", 10*time.Second),
			DefaultJobType:  getEnv("DEFAULT_JOB_TYPE", "ocr"),
			DefaultPriority: getEnvAsInt("DEFAULT_PRIORITY", 0),
		},
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvAsSizeMap parses "ocr=4,nlp=2" into {"ocr": 4, "nlp": 2}.
// Malformed entries are skipped.
func getEnvAsSizeMap(key string) map[string]int {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	sizes := make(map[string]int)
	for _, part := range strings.Split(value, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		n, err := strconv.Atoi(kv[1])
		if err != nil || n < 0 || kv[0] == "" {
			continue
		}
		sizes[kv[0]] = n
	}
	return sizes
}

// ValidateConfig validates the loaded configuration
func (c *Config) Validate() error {
	if c.Queue.MaxQueueSize <= 0 {
		return NewAppError("CONFIG_ERROR", "MAX_QUEUE_SIZE must be positive", ErrInvalidInput)
	}
	switch c.Queue.Driver {
	case "memory":
	case "sqlite", "postgres":
		if c.Queue.DSN == "" {
			return NewAppError("CONFIG_ERROR", "QUEUE_DSN is required for driver "+c.Queue.Driver, ErrInvalidInput)
		}
	default:
		return NewAppError("CONFIG_ERROR", "unknown QUEUE_DRIVER "+c.Queue.Driver, ErrInvalidInput)
	}
	if c.Pool.MaxWorkers <= 0 {
		return NewAppError("CONFIG_ERROR", "MAX_WORKERS must be positive", ErrInvalidInput)
	}
	reserved := 0
	for _, n := range c.Pool.PoolSizes {
		reserved += n
	}
	if reserved > c.Pool.MaxWorkers {
		return NewAppError("CONFIG_ERROR", "POOL_SIZES reserves more workers than MAX_WORKERS", ErrInvalidInput)
	}
	if c.Pool.MaxRetries < 0 {
		return NewAppError("CONFIG_ERROR", "MAX_RETRIES must not be negative", ErrInvalidInput)
	}
	if c.Pool.PollInterval <= 0 {
		return NewAppError("CONFIG_ERROR", "POLL_INTERVAL must be positive", ErrInvalidInput)
	}
	if c.Supervision.HealthCheckInterval <= 0 {
		return NewAppError("CONFIG_ERROR", "HEALTH_CHECK_INTERVAL must be positive", ErrInvalidInput)
	}
	return nil
}
