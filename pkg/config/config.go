package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/boringtable/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Table configuration
	Table TableConfig

	// Sources the fetch plugin can read from
	Sources SourcesConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// WaitTimeout bounds GET /table/wait
	WaitTimeout  time.Duration
	MaxBodyBytes int64

	// RateLimitPerMinute caps mutating requests per client; 0 disables it.
	RateLimitPerMinute int
	RateLimitBurst     int

	// CORSOrigins lists the origins allowed to call the API from a browser.
	CORSOrigins []string
}

// TableConfig selects the served table and its rows.
type TableConfig struct {
	// Manifest is the path of a single table manifest.
	Manifest string
	// ManifestDirs are scanned for <dir>/<table>/table.yaml when Manifest is
	// empty. ID picks the table to serve.
	ManifestDirs []string
	ID           string

	// RowsFile seeds the table from a JSON or YAML file and reloads it on
	// change.
	RowsFile string

	SchedulerWorkers int
	RefreshTimeout   time.Duration
	MaxQueuedCycles  int
}

// SourcesConfig holds the backends shared by fetch plugins.
type SourcesConfig struct {
	// Redis
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// Database
	DatabaseDriver string // postgres or sqlite3
	DatabaseURL    string

	// S3
	S3Endpoint     string
	S3Region       string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
	OTelSampleRatio    float64
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Table:         loadTableConfig(),
		Sources:       loadSourcesConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Addr is the listen address.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("BORINGTABLE_HOST", "0.0.0.0"),
		Port:            getEnv("BORINGTABLE_PORT", "8080"),
		ReadTimeout:     getEnvDuration("BORINGTABLE_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("BORINGTABLE_WRITE_TIMEOUT", 60*time.Second),
		IdleTimeout:     getEnvDuration("BORINGTABLE_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("BORINGTABLE_SHUTDOWN_TIMEOUT", 30*time.Second),
		WaitTimeout:     getEnvDuration("BORINGTABLE_WAIT_TIMEOUT", 30*time.Second),
		MaxBodyBytes:    getEnvInt64("BORINGTABLE_MAX_BODY_BYTES", 1<<20),

		RateLimitPerMinute: getEnvInt("BORINGTABLE_RATE_LIMIT_PER_MINUTE", 0),
		RateLimitBurst:     getEnvInt("BORINGTABLE_RATE_LIMIT_BURST", 0),

		CORSOrigins: getEnvList("BORINGTABLE_CORS_ORIGINS"),
	}
}

func loadTableConfig() TableConfig {
	return TableConfig{
		Manifest:         getEnv("BORINGTABLE_MANIFEST", ""),
		ManifestDirs:     getEnvList("BORINGTABLE_MANIFEST_DIRS"),
		ID:               getEnv("BORINGTABLE_TABLE_ID", ""),
		RowsFile:         getEnv("BORINGTABLE_ROWS_FILE", ""),
		SchedulerWorkers: getEnvInt("BORINGTABLE_SCHEDULER_WORKERS", 4),
		RefreshTimeout:   getEnvDuration("BORINGTABLE_REFRESH_TIMEOUT", 30*time.Second),
		MaxQueuedCycles:  getEnvInt("BORINGTABLE_MAX_QUEUED_CYCLES", 0),
	}
}

func loadSourcesConfig() SourcesConfig {
	return SourcesConfig{
		RedisURL:       getEnv("BORINGTABLE_REDIS_URL", ""),
		RedisPassword:  getEnv("BORINGTABLE_REDIS_PASSWORD", ""),
		RedisDB:        getEnvInt("BORINGTABLE_REDIS_DB", 0),
		DatabaseDriver: getEnv("BORINGTABLE_DATABASE_DRIVER", "postgres"),
		DatabaseURL:    getEnv("BORINGTABLE_DATABASE_URL", ""),
		S3Endpoint:     getEnv("BORINGTABLE_S3_ENDPOINT", ""),
		S3Region:       getEnv("BORINGTABLE_S3_REGION", "us-east-1"),
		S3AccessKey:    getEnv("BORINGTABLE_S3_ACCESS_KEY", ""),
		S3SecretKey:    getEnv("BORINGTABLE_S3_SECRET_KEY", ""),
		S3UsePathStyle: getEnvBool("BORINGTABLE_S3_USE_PATH_STYLE", false),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("BORINGTABLE_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("BORINGTABLE_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("BORINGTABLE_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("BORINGTABLE_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("BORINGTABLE_OTEL_SERVICE_NAME", "boringtable"),
		OTelServiceVersion: getEnv("BORINGTABLE_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("BORINGTABLE_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("BORINGTABLE_OTEL_SAMPLE_RATIO", 1),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.WaitTimeout <= 0 {
		return fmt.Errorf("wait timeout must be positive")
	}
	if c.Server.WriteTimeout > 0 && c.Server.WriteTimeout <= c.Server.WaitTimeout {
		return fmt.Errorf("write timeout (%s) must exceed wait timeout (%s)", c.Server.WriteTimeout, c.Server.WaitTimeout)
	}
	if c.Server.RateLimitPerMinute < 0 || c.Server.RateLimitBurst < 0 {
		return fmt.Errorf("rate limit settings must not be negative")
	}

	switch {
	case c.Table.Manifest != "":
	case len(c.Table.ManifestDirs) > 0:
		if c.Table.ID == "" {
			return fmt.Errorf("table ID is required when loading from manifest directories")
		}
	default:
		return fmt.Errorf("a manifest path or manifest directories are required")
	}
	if c.Table.SchedulerWorkers < 1 {
		return fmt.Errorf("scheduler workers must be at least 1")
	}

	if c.Sources.DatabaseURL != "" {
		switch c.Sources.DatabaseDriver {
		case "postgres", "sqlite3":
		default:
			return fmt.Errorf("invalid database driver: %s (must be postgres or sqlite3)", c.Sources.DatabaseDriver)
		}
	}
	if (c.Sources.S3AccessKey == "") != (c.Sources.S3SecretKey == "") {
		return fmt.Errorf("S3 access key and secret key must be set together")
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}
	if c.Observability.OTelSampleRatio < 0 {
		return fmt.Errorf("OpenTelemetry sample ratio must not be negative")
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
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

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated variable, dropping empty entries.
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
